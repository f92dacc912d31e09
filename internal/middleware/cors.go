package middleware

import (
	"net/http"
	"strings"
)

// NewCORSMiddleware はCORS_ALLOWED_ORIGINに列挙されたオリジン向けのCORSミドルウェアを返す。
// 値はカンマ区切りで複数指定でき、リクエストのOriginが一覧にあればそれを返す。
// 一覧にないOriginやOrigin無しのリクエストには先頭のオリジンを返す。
// 処理結果はContent-Dispositionでファイル名を、429はRetry-Afterを返すためブラウザに公開する。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", matchOrigin(origins, r.Header.Get("Origin")))
			if len(origins) > 1 {
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Expose-Headers", "Content-Disposition, Retry-After")
			h.Set("Access-Control-Max-Age", "86400")

			// プリフライトは画像処理まで進めない
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func parseOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func matchOrigin(origins []string, requested string) string {
	if len(origins) == 0 {
		return ""
	}
	for _, o := range origins {
		if o == requested {
			return o
		}
	}
	return origins[0]
}
