package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/bgremover/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Profile(ctx context.Context, userID string) (*model.User, error)
	// Activity はアクティビティを新しい順に返す。limitの丸めはサービス側で行う。
	Activity(ctx context.Context, userID string, limit int) ([]*model.Activity, error)
	// Withdraw はユーザーとそのアクティビティを削除する。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type profileResponse struct {
	Success bool         `json:"success"`
	Data    userResponse `json:"data"`
}

type activityItem struct {
	ID          string    `json:"id"`
	ActionType  string    `json:"actionType"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
}

type activityResponse struct {
	Success bool           `json:"success"`
	Data    []activityItem `json:"data"`
}

// Profile はログインユーザーのプロフィールと利用状況を返す。
// GET /api/users/profile
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{Success: true, Data: toUserResponse(user)})
}

// Activity はログインユーザーのアクティビティ一覧を返す。
// GET /api/users/activity?limit=N
func (h *UserHandler) Activity(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			handleServiceError(w, model.NewValidationError("limitは1以上の整数で指定してください"))
			return
		}
		limit = n
	}

	activities, err := h.service.Activity(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	items := make([]activityItem, 0, len(activities))
	for _, a := range activities {
		items = append(items, activityItem{
			ID:          a.ID,
			ActionType:  string(a.ActionType),
			ImageURL:    a.ResourceRef,
			ProcessedAt: a.ProcessedAt,
		})
	}

	writeJSON(w, http.StatusOK, activityResponse{Success: true, Data: items})
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
