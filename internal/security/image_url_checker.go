package security

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"
)

// ImageURLChecker は背景除去APIに渡す画像URLを検証する。
//
// 静的な検証に加え、SSRF防止付きクライアントでHEADリクエストを送り、
// ホスト名がプライベートIPに解決されないことと画像を返すことを確認する。
type ImageURLChecker struct {
	guard  SSRFGuardService
	client *http.Client
}

// NewImageURLChecker はImageURLCheckerを生成する。
func NewImageURLChecker(guard SSRFGuardService, timeout time.Duration) *ImageURLChecker {
	return &ImageURLChecker{
		guard:  guard,
		client: guard.NewSafeClient(timeout, 0),
	}
}

// ValidateImageURL はrawURLが外部から取得可能な画像を指しているかを検証する。
func (c *ImageURLChecker) ValidateImageURL(ctx context.Context, rawURL string) error {
	if err := c.guard.ValidateURL(rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("image URL is not reachable: %w", err)
	}
	defer resp.Body.Close()

	// HEADに対応しないサーバーもあるため405は許容する
	if resp.StatusCode == http.StatusMethodNotAllowed {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("image URL returned status %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil && !strings.HasPrefix(mediaType, "image/") {
			return fmt.Errorf("URL does not point to an image: %s", mediaType)
		}
	}
	return nil
}
