// Package result は背景除去済み画像をステージングに書き出し、
// ダウンロードとしてレスポンスへ送信する。
package result

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"

	"github.com/hitoshi/bgremover/internal/staging"
)

// ErrEmptyResult はAPIから受け取った画像が0バイトの場合のエラー。
var ErrEmptyResult = errors.New("processed image is empty")

// ContentType は出力画像のContent-Type。
const ContentType = "image/png"

// Artifact はステージングに書き出された処理済み画像。
type Artifact struct {
	Path string
	Name string
	Size int64
}

// Materializer は処理済み画像の書き出しと送信を行う。
type Materializer struct {
	store *staging.Store
}

// NewMaterializer はMaterializerを生成する。
func NewMaterializer(store *staging.Store) *Materializer {
	return &Materializer{store: store}
}

// Write はdataを processed-<ミリ秒>-<ランダム>.png として書き出し、scopeに登録する。
// dataが空の場合は何も書き込まずErrEmptyResultを返す。
func (m *Materializer) Write(scope *staging.Scope, data []byte) (*Artifact, error) {
	if len(data) == 0 {
		return nil, ErrEmptyResult
	}

	a, err := m.store.WriteNew(m.store.UniqueName("processed", ".png"), data)
	if err != nil {
		return nil, err
	}
	scope.Track(a.Path)

	return &Artifact{Path: a.Path, Name: a.Name, Size: a.Size}, nil
}

// Serve はartifactを添付ファイルとしてwに送信し、書き込んだバイト数を返す。
// ヘッダー送信後の失敗（クライアント切断など）はエラーとして返すが、
// レスポンスは既に確定しているため呼び出し元はエラーレスポンスを書いてはならない。
func (m *Materializer) Serve(w http.ResponseWriter, artifact *Artifact, downloadName string) (int64, error) {
	f, err := os.Open(artifact.Path)
	if err != nil {
		return 0, fmt.Errorf("処理済み画像を開けませんでした: %w", err)
	}
	defer f.Close()

	if downloadName == "" {
		downloadName = artifact.Name
	}

	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": downloadName}))
	h.Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("処理済み画像の送信に失敗しました: %w", err)
	}
	return n, nil
}
