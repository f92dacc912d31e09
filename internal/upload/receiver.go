// Package upload はmultipartリクエストから画像ファイルを受け取り、
// ステージングディレクトリへ書き込む。
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/hitoshi/bgremover/internal/model"
	"github.com/hitoshi/bgremover/internal/staging"
)

const (
	// DefaultFieldName は画像ファイルを受け取るフォームフィールド名。
	DefaultFieldName = "image"
	// DefaultMaxSize はアップロードサイズの上限（10MiB）。
	DefaultMaxSize int64 = 10 * 1024 * 1024
	// maxSkippedParts は画像フィールド以外に読み飛ばすパート数の上限。
	maxSkippedParts = 16
	// multipartOverhead は境界行やパートヘッダー、小さなテキストフィールドのために
	// リクエスト全体の上限へ上乗せするバイト数。
	multipartOverhead int64 = 64 * 1024
)

// allowedMIMETypes はアップロードを許可する画像形式と、保存時の拡張子の対応。
var allowedMIMETypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// UploadedFile はステージングに書き込まれたアップロード画像を表す。
type UploadedFile struct {
	Path         string // ステージング上のフルパス
	OriginalName string // クライアントが送信したファイル名
	StorageName  string // ステージング上のファイル名
	MIMEType     string
	Size         int64
}

// Receiver はアップロード画像の検証と書き込みを行う。
type Receiver struct {
	store     *staging.Store
	fieldName string
	maxSize   int64
	logger    *slog.Logger
}

// NewReceiver はReceiverを生成する。
// maxSizeが0以下、またはDefaultMaxSizeを超える場合はDefaultMaxSizeを使う。
func NewReceiver(store *staging.Store, maxSize int64, logger *slog.Logger) *Receiver {
	if maxSize <= 0 || maxSize > DefaultMaxSize {
		maxSize = DefaultMaxSize
	}
	return &Receiver{
		store:     store,
		fieldName: DefaultFieldName,
		maxSize:   maxSize,
		logger:    logger,
	}
}

// IsAllowedMIMEType はmimeTypeがアップロード可能な画像形式かを返す。
func IsAllowedMIMEType(mimeType string) bool {
	_, ok := allowedMIMETypes[mimeType]
	return ok
}

// Receive はリクエストから画像フィールドを1つ読み取り、ステージングに書き込む。
// 書き込んだファイルはscopeに登録されるため、呼び出し元はscope.Releaseで削除する。
//
// 形式不正とサイズ超過はファイルを書き込む前に拒否する。
// リクエストボディ全体もmaxSize+multipartOverheadで打ち切るため、
// 画像以外の大きなパートを送られても上限を超えて読み込まない。
// 返すエラーは*model.APIErrorである。
func (rc *Receiver) Receive(r *http.Request, scope *staging.Scope) (*UploadedFile, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, rc.BodyLimit())

	mr, err := r.MultipartReader()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return nil, model.NewValidationError("multipart/form-data形式で送信してください")
		}
		return nil, model.NewValidationError(err.Error())
	}

	part, err := rc.nextImagePart(mr)
	if err != nil {
		return nil, err
	}
	defer part.Close()

	mimeType := partMIMEType(part)
	ext, ok := allowedMIMETypes[mimeType]
	if !ok {
		rc.logger.Info("対応していない画像形式のアップロードを拒否しました",
			slog.String("mime_type", mimeType),
		)
		return nil, model.NewUnsupportedImageTypeError(mimeType)
	}

	// 上限+1バイトまで読み、超過していれば書き込まずに拒否する
	data, err := io.ReadAll(io.LimitReader(part, rc.maxSize+1))
	if isBodyTooLarge(err) {
		return nil, rc.rejectTooLarge()
	}
	if err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("ファイルの読み取りに失敗しました: %v", err))
	}
	if int64(len(data)) > rc.maxSize {
		return nil, rc.rejectTooLarge()
	}

	originalName := filepath.Base(part.FileName())
	if origExt := strings.ToLower(filepath.Ext(originalName)); origExt != "" && isImageExt(origExt) {
		ext = origExt
	}

	name := rc.store.UniqueName(rc.fieldName, ext)
	artifact, err := rc.store.WriteNew(name, data)
	if err != nil {
		rc.logger.Error("アップロード画像の書き込みに失敗しました",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError()
	}
	scope.Track(artifact.Path)

	return &UploadedFile{
		Path:         artifact.Path,
		OriginalName: originalName,
		StorageName:  artifact.Name,
		MIMEType:     mimeType,
		Size:         artifact.Size,
	}, nil
}

// nextImagePart は画像フィールドのパートまで読み進める。
// 見つからない場合はMissingInputを返す。
func (rc *Receiver) nextImagePart(mr *multipart.Reader) (*multipart.Part, error) {
	for skipped := 0; skipped <= maxSkippedParts; skipped++ {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, model.NewMissingInputError("画像ファイル")
		}
		if isBodyTooLarge(err) {
			return nil, rc.rejectTooLarge()
		}
		if err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("multipartの解析に失敗しました: %v", err))
		}
		if part.FormName() == rc.fieldName && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
	return nil, model.NewMissingInputError("画像ファイル")
}

// BodyLimit はリクエストボディ全体として読み込むバイト数の上限を返す。
func (rc *Receiver) BodyLimit() int64 {
	return rc.maxSize + multipartOverhead
}

func (rc *Receiver) rejectTooLarge() error {
	rc.logger.Info("サイズ上限を超えるアップロードを拒否しました",
		slog.Int64("max_size", rc.maxSize),
	)
	return model.NewPayloadTooLargeError(rc.maxSize)
}

func isBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func partMIMEType(part *multipart.Part) string {
	mediaType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return strings.ToLower(mediaType)
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}
