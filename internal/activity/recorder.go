// Package activity はユーザー操作の監査ログ記録と利用状況カウンタの更新を行う。
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/bgremover/internal/model"
	"github.com/hitoshi/bgremover/internal/repository"
)

// UserCounter はRecorderが使用するユーザー操作のインターフェース。
type UserCounter interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	IncrementProcessedImages(ctx context.Context, id string, at time.Time) error
	TouchLastActive(ctx context.Context, id string, at time.Time) error
}

// Recorder はアクティビティの追記とカウンタ更新を行う。
//
// アクティビティの追記とカウンタの更新は別々の書き込みであり、
// 両者の間でプロセスが落ちると不整合が残りうる。
type Recorder struct {
	users      UserCounter
	activities repository.ActivityRepository
	logger     *slog.Logger
	now        func() time.Time
}

// NewRecorder はRecorderを生成する。
func NewRecorder(users UserCounter, activities repository.ActivityRepository, logger *slog.Logger) *Recorder {
	return &Recorder{
		users:      users,
		activities: activities,
		logger:     logger,
		now:        time.Now,
	}
}

// Record はuserIDのアクティビティを1件追記する。
// 背景除去の場合は処理済み画像数を1増やし、それ以外はlast_activeのみ更新する。
//
// kindが列挙値でない場合はValidationError、
// ユーザーが存在しない場合はUserNotFoundを返す。
func (r *Recorder) Record(ctx context.Context, userID string, kind model.ActionKind, resourceRef string) (*model.Activity, error) {
	if !kind.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("不明なアクティビティ種別です: %s", kind))
	}

	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	now := r.now().UTC()
	activity := &model.Activity{
		ID:          uuid.New().String(),
		UserID:      userID,
		ActionType:  kind,
		ResourceRef: resourceRef,
		ProcessedAt: now,
	}

	if err := r.activities.Create(ctx, activity); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 存在確認の後に削除された
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("アクティビティの保存に失敗しました: %w", err)
	}

	if kind == model.ActionBackgroundRemoval {
		err = r.users.IncrementProcessedImages(ctx, userID, now)
	} else {
		err = r.users.TouchLastActive(ctx, userID, now)
	}
	if err != nil {
		r.logger.Error("利用状況カウンタの更新に失敗しました",
			slog.String("user_id", userID),
			slog.String("activity_id", activity.ID),
			slog.String("action_type", string(kind)),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, repository.ErrNotFound) {
			return activity, model.NewUserNotFoundError()
		}
		return activity, fmt.Errorf("利用状況カウンタの更新に失敗しました: %w", err)
	}

	r.logger.Debug("アクティビティを記録しました",
		slog.String("user_id", userID),
		slog.String("activity_id", activity.ID),
		slog.String("action_type", string(kind)),
	)

	return activity, nil
}
