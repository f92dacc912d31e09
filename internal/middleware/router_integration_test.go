package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// TestRouterIntegration_ProtectedRoute_WithMiddlewareChain は
// Auth -> RateLimit(general) -> RateLimit(removal) のミドルウェアチェーンがchi.Routerで正しく動作することを検証する。
func TestRouterIntegration_ProtectedRoute_WithMiddlewareChain(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    100,
		RemovalRate:     1,
		RemovalBurst:    1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	r := chi.NewRouter()
	r.Use(NewCORSMiddleware("http://localhost:3000"))

	// 認証不要のルート
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// 認証が必要なルートグループ
	r.Group(func(r chi.Router) {
		r.Use(NewAuthMiddleware(tokenAuthenticator("router-token", "user-router-test")))
		r.Use(rl.GeneralMiddleware())

		r.Get("/api/users/profile", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
		})

		r.With(rl.RemovalMiddleware()).Post("/api/bg-removal", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID, "action": "done"})
		})
	})

	do := func(method, path, token string) *http.Response {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Result()
	}

	t.Run("health_no_auth", func(t *testing.T) {
		if resp := do(http.MethodGet, "/health", ""); resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("profile_with_token", func(t *testing.T) {
		resp := do(http.MethodGet, "/api/users/profile", "router-token")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		if body["user_id"] != "user-router-test" {
			t.Errorf("user_id = %q, want %q", body["user_id"], "user-router-test")
		}
	})

	t.Run("profile_no_token", func(t *testing.T) {
		if resp := do(http.MethodGet, "/api/users/profile", ""); resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}
	})

	t.Run("removal_no_token", func(t *testing.T) {
		if resp := do(http.MethodPost, "/api/bg-removal", ""); resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}
	})

	t.Run("removal_limited_separately", func(t *testing.T) {
		if resp := do(http.MethodPost, "/api/bg-removal", "router-token"); resp.StatusCode != http.StatusOK {
			t.Fatalf("first removal: status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		if resp := do(http.MethodPost, "/api/bg-removal", "router-token"); resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("second removal: status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
		}
		// 背景除去の制限はAPI全般には波及しない
		if resp := do(http.MethodGet, "/api/users/profile", "router-token"); resp.StatusCode != http.StatusOK {
			t.Errorf("profile after removal limit: status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})
}
