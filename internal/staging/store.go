// Package staging はリクエスト単位の一時ファイル（アーティファクト）を管理する。
// アップロードされた入力画像と処理済み出力画像はここに置かれ、
// リクエスト終了時に必ず削除される。
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Artifact はステージングディレクトリ上の一時ファイルを表す。
type Artifact struct {
	Path string // ファイルのフルパス
	Name string // ディレクトリを除いたファイル名
	Size int64
}

// Store は一時ファイルを置くディレクトリを表す。
// 複数リクエストから同時に使用してよい。
type Store struct {
	dir string
	now func() time.Time
}

// NewStore はStoreを生成する。ディレクトリはEnsureDirで作成する。
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Dir はステージングディレクトリのパスを返す。
func (s *Store) Dir() string {
	return s.dir
}

// EnsureDir はステージングディレクトリが無ければ作成する。何度呼んでもよい。
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	return nil
}

// UniqueName は衝突しにくいファイル名 "<prefix>-<ミリ秒>-<ランダム>.<ext>" を生成する。
// extは先頭のドットの有無を問わない。空の場合は拡張子を付けない。
func (s *Store) UniqueName(prefix, ext string) string {
	name := prefix + "-" + strconv.FormatInt(s.now().UnixMilli(), 10) + "-" + randomSuffix()
	if ext == "" {
		return name
	}
	if ext[0] != '.' {
		ext = "." + ext
	}
	return name + ext
}

// randomSuffix はUUIDv4由来の12桁の16進文字列を返す。
func randomSuffix() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[10:16])
}

// WriteNew はnameで新しいファイルを作成してdataを書き込む。
// 同名ファイルが既に存在する場合は上書きせずエラーを返す。
// 書き込みに失敗した場合は作りかけのファイルを削除する。
func (s *Store) WriteNew(name string, data []byte) (*Artifact, error) {
	if err := s.EnsureDir(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = Remove(path)
		return nil, fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = Remove(path)
		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	return &Artifact{Path: path, Name: filepath.Base(path), Size: int64(len(data))}, nil
}

// Remove はpathを削除する。既に存在しない場合は何もしない。
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
