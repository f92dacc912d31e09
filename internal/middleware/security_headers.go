package middleware

import "net/http"

// apiContentSecurityPolicy はJSONと画像ダウンロードのみを返すAPI向けのCSP。
// レスポンスがブラウザで直接開かれてもスクリプトや埋め込みを許可しない。
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; sandbox"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// 処理済み画像はユーザーごとのデータのため、中間キャッシュに残さないようno-storeを付ける。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", apiContentSecurityPolicy)
			h.Set("Cross-Origin-Resource-Policy", "same-site")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
