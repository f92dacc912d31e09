package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newCheckerWithClient はsafeurlを経由しないクライアントでCheckerを生成する。
// httptestサーバーはループバックで動くため、応答内容の検証にはこちらを使う。
func newCheckerWithClient(client *http.Client) *ImageURLChecker {
	return &ImageURLChecker{guard: permissiveGuard{}, client: client}
}

type permissiveGuard struct{}

func (permissiveGuard) NewSafeClient(time.Duration, int64) *http.Client { return http.DefaultClient }
func (permissiveGuard) ValidateURL(string) error                        { return nil }

// TestValidateImageURL_RejectsStaticViolations は静的検証で拒否されるURLをテストする。
func TestValidateImageURL_RejectsStaticViolations(t *testing.T) {
	checker := NewImageURLChecker(NewSSRFGuard(), time.Second)

	for _, u := range []string{"", "file:///etc/passwd", "http://127.0.0.1/a.png", "http://169.254.169.254/latest/meta-data/"} {
		t.Run(u, func(t *testing.T) {
			if err := checker.ValidateImageURL(context.Background(), u); err == nil {
				t.Errorf("ValidateImageURL(%q) should have returned error", u)
			}
		})
	}
}

// TestValidateImageURL_SafeClientBlocksLoopback はDNS解決後のループバックがブロックされることをテストする。
func TestValidateImageURL_SafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
	}))
	defer ts.Close()

	checker := NewImageURLChecker(NewSSRFGuard(), time.Second)
	checker.guard = permissiveGuard{} // 静的検証を通過させ、クライアント側の防御を確認する

	if err := checker.ValidateImageURL(context.Background(), ts.URL+"/a.png"); err == nil {
		t.Fatal("expected safe client to block loopback request")
	}
}

// TestValidateImageURL_ResponseChecks は応答ステータスとContent-Typeの検証をテストする。
func TestValidateImageURL_ResponseChecks(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		wantErr     bool
	}{
		{"png image", http.StatusOK, "image/png", false},
		{"jpeg with params", http.StatusOK, "image/jpeg; charset=binary", false},
		{"no content type", http.StatusOK, "", false},
		{"html page", http.StatusOK, "text/html; charset=utf-8", true},
		{"not found", http.StatusNotFound, "image/png", true},
		{"head not allowed", http.StatusMethodNotAllowed, "text/plain", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodHead {
					t.Errorf("method = %s, want HEAD", r.Method)
				}
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				} else {
					w.Header()["Content-Type"] = nil
				}
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			err := newCheckerWithClient(ts.Client()).ValidateImageURL(context.Background(), ts.URL+"/a.png")
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
