package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/bgremover/internal/auth"
	"github.com/hitoshi/bgremover/internal/middleware"
	"github.com/hitoshi/bgremover/internal/model"
)

// mockAuthenticatorForRouter はRouter統合テスト用のAuthenticatorモック。
type mockAuthenticatorForRouter struct {
	tokens map[string]string // token -> userID
}

func (m *mockAuthenticatorForRouter) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if userID, ok := m.tokens[token]; ok {
		return &model.User{ID: userID}, nil
	}
	return nil, model.NewUnauthorizedError()
}

// createTestRouter はテスト用の完全なルーターを構築するヘルパー。
func createTestRouter(t *testing.T, remover BackgroundRemover) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(120, 2))
	t.Cleanup(rl.Stop)

	if remover == nil {
		remover = &mockRemover{}
	}

	deps := &RouterDeps{
		Authenticator:     &mockAuthenticatorForRouter{tokens: map[string]string{"valid-token": "user-test-1"}},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		AuthService: &mockAuthService{
			registerFn: func(ctx context.Context, email, password, name string) (*auth.Result, error) {
				return &auth.Result{Token: "valid-token", User: &model.User{ID: "user-test-1", Email: email, Name: name}}, nil
			},
			loginFn: func(ctx context.Context, email, password string) (*auth.Result, error) {
				if password != "password123" {
					return nil, model.NewInvalidCredentialsError()
				}
				return &auth.Result{Token: "valid-token", User: &model.User{ID: "user-test-1", Email: email}}, nil
			},
		},
		UserService: &mockUserService{},
		Remover:     remover,
		DB:          &mockPinger{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics\n"))
		}),
	}

	return NewRouter(deps)
}

func serve(router http.Handler, method, path, token, body string) *http.Response {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Result()
}

// TestNewRouter_PublicRoutes は認証不要のルートがトークンなしで利用できることを検証する。
func TestNewRouter_PublicRoutes(t *testing.T) {
	router := createTestRouter(t, nil)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/api/users/register", `{"email":"a@example.com","password":"password123","name":"A"}`, http.StatusCreated},
		{http.MethodPost, "/api/users/login", `{"email":"a@example.com","password":"password123"}`, http.StatusOK},
		{http.MethodPost, "/api/users/login", `{"email":"a@example.com","password":"wrong-password"}`, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := serve(router, tt.method, tt.path, "", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

// TestNewRouter_ProtectedRoutes_NoToken_Returns401 は保護されたルートがトークンなしで401を返すことを検証する。
func TestNewRouter_ProtectedRoutes_NoToken_Returns401(t *testing.T) {
	called := false
	router := createTestRouter(t, &mockRemover{
		runFn: func(w http.ResponseWriter, r *http.Request, userID string) error {
			called = true
			return nil
		},
	})

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/users/profile"},
		{http.MethodGet, "/api/users/activity"},
		{http.MethodDelete, "/api/users/me"},
		{http.MethodPost, "/api/bg-removal"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			for _, token := range []string{"", "forged-token"} {
				resp := serve(router, rt.method, rt.path, token, "")
				if resp.StatusCode != http.StatusUnauthorized {
					t.Errorf("token %q: status = %d, want %d", token, resp.StatusCode, http.StatusUnauthorized)
				}
			}
		})
	}

	if called {
		t.Error("pipeline must not run for unauthenticated requests")
	}
}

// TestNewRouter_ProtectedRoutes_WithToken は有効なトークンで保護されたルートが利用できることを検証する。
func TestNewRouter_ProtectedRoutes_WithToken(t *testing.T) {
	router := createTestRouter(t, nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/users/profile", http.StatusOK},
		{http.MethodGet, "/api/users/activity?limit=5", http.StatusOK},
		{http.MethodDelete, "/api/users/me", http.StatusNoContent},
		{http.MethodPost, "/api/bg-removal", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := serve(router, tt.method, tt.path, "valid-token", "")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

// TestNewRouter_BgRemoval_PassesAuthenticatedUser は認証済みユーザーIDがパイプラインに渡されることを検証する。
func TestNewRouter_BgRemoval_PassesAuthenticatedUser(t *testing.T) {
	var gotUserID string
	router := createTestRouter(t, &mockRemover{
		runFn: func(w http.ResponseWriter, r *http.Request, userID string) error {
			gotUserID = userID
			return model.NewMissingInputError("画像ファイル")
		},
	})

	resp := serve(router, http.MethodPost, "/api/bg-removal", "valid-token", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if gotUserID != "user-test-1" {
		t.Errorf("userID = %q, want %q", gotUserID, "user-test-1")
	}

	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeMissingInput {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeMissingInput)
	}
}

// TestNewRouter_BgRemoval_RateLimited は背景除去が専用のレート制限を受けることを検証する。
func TestNewRouter_BgRemoval_RateLimited(t *testing.T) {
	router := createTestRouter(t, nil)

	// RemovalBurst = 2
	for i := 0; i < 2; i++ {
		if resp := serve(router, http.MethodPost, "/api/bg-removal", "valid-token", ""); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, resp.StatusCode, http.StatusOK)
		}
	}

	resp := serve(router, http.MethodPost, "/api/bg-removal", "valid-token", "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}

	// プロフィールは引き続き利用できる
	if resp := serve(router, http.MethodGet, "/api/users/profile", "valid-token", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("profile: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

// TestNewRouter_CORSPreflight はプリフライトリクエストが認証なしで204を返すことを検証する。
func TestNewRouter_CORSPreflight(t *testing.T) {
	router := createTestRouter(t, nil)

	resp := serve(router, http.MethodOptions, "/api/bg-removal", "", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
		t.Errorf("Access-Control-Allow-Headers = %q, should include Authorization", got)
	}
}

// TestNewRouter_SecurityHeaders は全レスポンスにセキュリティヘッダーが付与されることを検証する。
func TestNewRouter_SecurityHeaders(t *testing.T) {
	router := createTestRouter(t, nil)

	resp := serve(router, http.MethodGet, "/health", "", "")
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := resp.Header.Get("Content-Security-Policy"); !strings.Contains(got, "default-src 'none'") {
		t.Errorf("Content-Security-Policy = %q, should deny all sources", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

// TestNewRouter_NoMetricsHandler は/metricsが未設定の場合に公開されないことを検証する。
func TestNewRouter_NoMetricsHandler(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rl.Stop()

	router := NewRouter(&RouterDeps{
		Authenticator: &mockAuthenticatorForRouter{},
		RateLimiter:   rl,
		AuthService:   &mockAuthService{},
		UserService:   &mockUserService{},
		Remover:       &mockRemover{},
		DB:            &mockPinger{},
	})

	resp := serve(router, http.MethodGet, "/metrics", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
