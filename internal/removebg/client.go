// Package removebg はremove.bg背景除去APIのクライアントを提供する。
package removebg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultEndpoint はremove.bg APIのエンドポイント。
	DefaultEndpoint = "https://api.remove.bg/v1.0/removebg"
	// DefaultSize はAPIに渡す出力サイズ指定。
	DefaultSize = "auto"
	// maxErrorBodySize はエラー時に保持するレスポンス本文の上限。
	maxErrorBodySize = 4 * 1024
	// DefaultMaxResultSize は成功時に受け取る画像サイズの上限。
	DefaultMaxResultSize int64 = 64 * 1024 * 1024
)

var (
	// ErrMissingAPIKey はAPIキーが設定されていない場合のエラー。
	ErrMissingAPIKey = errors.New("remove.bg API key is not configured")
	// ErrEmptyInput は送信する画像が0バイトの場合のエラー。
	ErrEmptyInput = errors.New("input image is empty")
	// ErrResultTooLarge はAPIの返した画像が上限を超えた場合のエラー。
	// 途中で切り詰めた画像を返さないよう、結果全体を破棄する。
	ErrResultTooLarge = errors.New("remove.bg result exceeds size limit")
)

// VendorError はAPIが2xx以外のステータスを返した場合のエラー。
type VendorError struct {
	StatusCode int
	Body       string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("remove.bg returned %d: %s", e.StatusCode, e.Body)
}

// TransportError はAPIへの通信自体が失敗した場合のエラー。
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "remove.bg request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Source は背景除去APIに送信する入力画像。
// ファイルとURLのどちらでも同じClient.Processで処理する。
type Source interface {
	// writeField は入力画像をmultipartフィールドとして書き込む。
	writeField(mw *multipart.Writer) error
	// Describe はログ用の入力の説明を返す。
	Describe() string
}

// FileSource はステージング上のファイルを image_file として送信する。
type FileSource struct {
	Path string
	Name string // multipartに付けるファイル名。空の場合はPathのファイル名
}

func (s FileSource) writeField(mw *multipart.Writer) error {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return fmt.Errorf("入力画像の読み取りに失敗しました: %w", err)
	}
	if len(data) == 0 {
		return ErrEmptyInput
	}

	name := s.Name
	if name == "" {
		name = filepath.Base(s.Path)
	}
	fw, err := mw.CreateFormFile("image_file", name)
	if err != nil {
		return err
	}
	_, err = fw.Write(data)
	return err
}

func (s FileSource) Describe() string {
	return "file:" + filepath.Base(s.Path)
}

// URLSource は画像URLを image_url として送信する。画像の取得はAPI側が行う。
type URLSource struct {
	URL string
}

func (s URLSource) writeField(mw *multipart.Writer) error {
	if strings.TrimSpace(s.URL) == "" {
		return ErrEmptyInput
	}
	return mw.WriteField("image_url", s.URL)
}

func (s URLSource) Describe() string {
	return "url:" + s.URL
}

// Options はClientの任意設定。
type Options struct {
	Endpoint string // 空の場合はDefaultEndpoint
	Size     string // 空の場合はDefaultSize
	// MaxResultSize は受け取る画像サイズの上限。0以下の場合はDefaultMaxResultSize。
	MaxResultSize int64
	// OnResponse はAPI呼び出しごとにステータスコードと所要時間を受け取る。
	// 通信失敗時のステータスコードは0。
	OnResponse func(statusCode int, elapsed time.Duration)
}

// Client はremove.bg APIのクライアント。
// 呼び出しごとに新しいリクエストを送信し、結果のキャッシュやリトライは行わない。
type Client struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	size       string
	maxResult  int64
	onResponse func(int, time.Duration)
}

// NewClient はClientを生成する。apiKeyが空の場合はErrMissingAPIKeyを返す。
// タイムアウトはhttpClient側で設定する。
func NewClient(apiKey string, httpClient *http.Client, logger *slog.Logger, opts Options) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
		endpoint:   opts.Endpoint,
		size:       opts.Size,
		maxResult:  opts.MaxResultSize,
		onResponse: opts.OnResponse,
	}
	if c.maxResult <= 0 {
		c.maxResult = DefaultMaxResultSize
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.size == "" {
		c.size = DefaultSize
	}
	return c, nil
}

// Process はsrcをAPIに送信し、背景除去済みの画像データを返す。
//
// 2xx以外のステータスは*VendorError、通信失敗は*TransportErrorを返す。
// 入力が空の場合はリクエストを送信せずErrEmptyInputを返す。
func (c *Client) Process(ctx context.Context, src Source) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("size", c.size); err != nil {
		return nil, err
	}
	if err := src.writeField(mw); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "image/png")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(0, time.Since(start))
		c.logger.Error("remove.bg APIの呼び出しに失敗しました",
			slog.String("source", src.Describe()),
			slog.String("error", err.Error()),
		)
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()
	c.observe(resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.logger.Warn("remove.bg APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("source", src.Describe()),
		)
		return nil, &VendorError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}
	}

	// 上限+1バイトまで読み、超過していれば切り詰めずにエラーにする
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResult+1))
	if err != nil {
		c.logger.Error("remove.bg APIのレスポンス読み取りに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, &TransportError{Err: err}
	}
	if int64(len(data)) > c.maxResult {
		c.logger.Error("remove.bg APIの結果が上限を超えました",
			slog.String("source", src.Describe()),
			slog.Int64("max_result_size", c.maxResult),
		)
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResultTooLarge, c.maxResult)
	}

	c.logger.Debug("remove.bg APIの呼び出しが完了しました",
		slog.String("source", src.Describe()),
		slog.Int("bytes", len(data)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return data, nil
}

func (c *Client) observe(status int, elapsed time.Duration) {
	if c.onResponse != nil {
		c.onResponse(status, elapsed)
	}
}
