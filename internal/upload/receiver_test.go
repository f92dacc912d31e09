package upload

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/bgremover/internal/model"
	"github.com/hitoshi/bgremover/internal/staging"
)

type filePart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func newMultipartRequest(t *testing.T, parts ...filePart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		if p.filename != "" {
			h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		} else {
			h.Set("Content-Disposition", `form-data; name="`+p.field+`"`)
		}
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/bg-removal", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newTestReceiver(t *testing.T, maxSize int64) (*Receiver, *staging.Store) {
	t.Helper()
	store := staging.NewStore(filepath.Join(t.TempDir(), "uploads"))
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewReceiver(store, maxSize, logger), store
}

func dirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func requireAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "expected *model.APIError, got %T", err)
	assert.Equal(t, code, apiErr.Code)
}

func TestReceive_ValidPNG(t *testing.T) {
	rc, store := newTestReceiver(t, 0)
	scope := store.NewScope(nil)
	payload := bytes.Repeat([]byte{0x89}, 2048)

	req := newMultipartRequest(t, filePart{field: "image", filename: "cat.png", contentType: "image/png", data: payload})
	f, err := rc.Receive(req, scope)
	require.NoError(t, err)

	assert.Equal(t, "cat.png", f.OriginalName)
	assert.Equal(t, "image/png", f.MIMEType)
	assert.Equal(t, int64(2048), f.Size)
	assert.Regexp(t, `^image-\d+-[0-9a-f]{12}\.png$`, f.StorageName)
	assert.Equal(t, []string{f.Path}, scope.Paths())

	got, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	scope.Release()
	assert.NoFileExists(t, f.Path)
}

func TestReceive_KeepsOriginalImageExtension(t *testing.T) {
	rc, store := newTestReceiver(t, 0)
	scope := store.NewScope(nil)
	defer scope.Release()

	req := newMultipartRequest(t, filePart{field: "image", filename: "photo.JPEG", contentType: "image/jpeg", data: []byte("jpeg")})
	f, err := rc.Receive(req, scope)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(f.StorageName, ".jpeg"))
}

// 拡張子が画像でない場合はMIMEタイプから拡張子を決める。
func TestReceive_ExtensionFromMIMEType(t *testing.T) {
	rc, store := newTestReceiver(t, 0)
	scope := store.NewScope(nil)
	defer scope.Release()

	req := newMultipartRequest(t, filePart{field: "image", filename: "upload.bin", contentType: "image/webp", data: []byte("webp")})
	f, err := rc.Receive(req, scope)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(f.StorageName, ".webp"))
}

func TestReceive_AllowedTypes(t *testing.T) {
	for _, mt := range []string{"image/jpeg", "image/png", "image/gif", "image/webp", "IMAGE/PNG"} {
		t.Run(mt, func(t *testing.T) {
			rc, store := newTestReceiver(t, 0)
			scope := store.NewScope(nil)
			defer scope.Release()

			req := newMultipartRequest(t, filePart{field: "image", filename: "x", contentType: mt, data: []byte("x")})
			_, err := rc.Receive(req, scope)
			assert.NoError(t, err)
		})
	}
}

func TestReceive_UnsupportedType_NoArtifacts(t *testing.T) {
	for _, mt := range []string{"application/pdf", "text/plain", "image/svg+xml", ""} {
		t.Run(mt, func(t *testing.T) {
			rc, store := newTestReceiver(t, 0)
			scope := store.NewScope(nil)

			req := newMultipartRequest(t, filePart{field: "image", filename: "doc.pdf", contentType: mt, data: []byte("%PDF")})
			_, err := rc.Receive(req, scope)
			requireAPIErrorCode(t, err, model.ErrCodeValidation)
			assert.Empty(t, scope.Paths())
			assert.Empty(t, dirEntries(t, store.Dir()))
		})
	}
}

func TestReceive_TooLarge_NoArtifacts(t *testing.T) {
	rc, store := newTestReceiver(t, 0)
	scope := store.NewScope(nil)

	big := make([]byte, 11*1024*1024)
	req := newMultipartRequest(t, filePart{field: "image", filename: "big.png", contentType: "image/png", data: big})
	_, err := rc.Receive(req, scope)
	requireAPIErrorCode(t, err, model.ErrCodePayloadTooLarge)
	assert.Empty(t, scope.Paths())
	assert.Empty(t, dirEntries(t, store.Dir()))
}

func TestReceive_ExactlyMaxSize_Accepted(t *testing.T) {
	rc, store := newTestReceiver(t, 1024)
	scope := store.NewScope(nil)
	defer scope.Release()

	req := newMultipartRequest(t, filePart{field: "image", filename: "a.png", contentType: "image/png", data: make([]byte, 1024)})
	f, err := rc.Receive(req, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), f.Size)
}

func TestNewReceiver_ClampsMaxSize(t *testing.T) {
	for _, maxSize := range []int64{0, -1, DefaultMaxSize + 1, 50 * 1024 * 1024} {
		rc, _ := newTestReceiver(t, maxSize)
		assert.Equal(t, DefaultMaxSize+multipartOverhead, rc.BodyLimit(), "maxSize=%d", maxSize)
	}

	rc, _ := newTestReceiver(t, 1024)
	assert.Equal(t, 1024+multipartOverhead, rc.BodyLimit())
}

// 画像パートより前に大きな非画像パートがある場合も、ボディ全体の上限で打ち切る。
func TestReceive_OversizedNonImagePart_Rejected(t *testing.T) {
	rc, store := newTestReceiver(t, 1024)
	scope := store.NewScope(nil)
	defer scope.Release()

	req := newMultipartRequest(t,
		filePart{field: "note", data: bytes.Repeat([]byte("x"), int(2*multipartOverhead))},
		filePart{field: "image", filename: "a.png", contentType: "image/png", data: []byte("png")},
	)
	_, err := rc.Receive(req, scope)
	requireAPIErrorCode(t, err, model.ErrCodePayloadTooLarge)
	assert.Empty(t, scope.Paths())
	assert.Empty(t, dirEntries(t, store.Dir()))
}

func TestReceive_MissingField(t *testing.T) {
	rc, store := newTestReceiver(t, 0)
	scope := store.NewScope(nil)

	req := newMultipartRequest(t, filePart{field: "note", data: []byte("hello")})
	_, err := rc.Receive(req, scope)
	requireAPIErrorCode(t, err, model.ErrCodeMissingInput)
	assert.Empty(t, dirEntries(t, store.Dir()))
}

// 画像フィールドがファイルでなくテキストの場合も未指定として扱う。
func TestReceive_ImageFieldWithoutFilename(t *testing.T) {
	rc, store := newTestReceiver(t, 0)
	scope := store.NewScope(nil)

	req := newMultipartRequest(t, filePart{field: "image", data: []byte("not a file")})
	_, err := rc.Receive(req, scope)
	requireAPIErrorCode(t, err, model.ErrCodeMissingInput)
}

func TestReceive_SkipsOtherFields(t *testing.T) {
	rc, store := newTestReceiver(t, 0)
	scope := store.NewScope(nil)
	defer scope.Release()

	req := newMultipartRequest(t,
		filePart{field: "title", data: []byte("my photo")},
		filePart{field: "image", filename: "a.gif", contentType: "image/gif", data: []byte("GIF89a")},
	)
	f, err := rc.Receive(req, scope)
	require.NoError(t, err)
	assert.Equal(t, "image/gif", f.MIMEType)
}

func TestReceive_NotMultipart(t *testing.T) {
	rc, store := newTestReceiver(t, 0)
	scope := store.NewScope(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/bg-removal", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	_, err := rc.Receive(req, scope)
	requireAPIErrorCode(t, err, model.ErrCodeValidation)
}

// ファイル名に含まれるディレクトリ成分は除去される。
func TestReceive_SanitizesOriginalName(t *testing.T) {
	rc, store := newTestReceiver(t, 0)
	scope := store.NewScope(nil)
	defer scope.Release()

	req := newMultipartRequest(t, filePart{field: "image", filename: "../../secret.png", contentType: "image/png", data: []byte("x")})
	f, err := rc.Receive(req, scope)
	require.NoError(t, err)
	assert.Equal(t, "secret.png", f.OriginalName)
	assert.Equal(t, store.Dir(), filepath.Dir(f.Path))
}

func TestIsAllowedMIMEType(t *testing.T) {
	assert.True(t, IsAllowedMIMEType("image/png"))
	assert.False(t, IsAllowedMIMEType("image/bmp"))
}
