package handler

import (
	"net/http"
)

// BackgroundRemover は背景除去パイプラインのインターフェース。
// 成功時はレスポンスを書き込み済みでnilを返す。
// エラーを返すのはレスポンス未送信の場合のみ。
type BackgroundRemover interface {
	Run(w http.ResponseWriter, r *http.Request, userID string) error
}

// BgRemovalHandler は背景除去のHTTPハンドラー。
type BgRemovalHandler struct {
	remover BackgroundRemover
}

// NewBgRemovalHandler はBgRemovalHandlerを生成する。
func NewBgRemovalHandler(remover BackgroundRemover) *BgRemovalHandler {
	return &BgRemovalHandler{remover: remover}
}

// Remove は画像を受け取り、背景を除去したPNGを返す。
// POST /api/bg-removal
//
// multipart/form-dataの"image"フィールド、またはJSONの{"imageUrl": "..."}を受け付ける。
func (h *BgRemovalHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.remover.Run(w, r, userID); err != nil {
		handleServiceError(w, err)
	}
}
