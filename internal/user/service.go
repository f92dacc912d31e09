// Package user はユーザー情報と利用履歴の参照、退会処理を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/bgremover/internal/model"
	"github.com/hitoshi/bgremover/internal/repository"
)

const (
	// DefaultActivityLimit はアクティビティ一覧のデフォルト件数。
	DefaultActivityLimit = 50
	// MaxActivityLimit はアクティビティ一覧の最大件数。
	MaxActivityLimit = 200
)

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo     repository.UserRepository
	activityRepo repository.ActivityRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, activityRepo repository.ActivityRepository) *Service {
	return &Service{
		userRepo:     userRepo,
		activityRepo: activityRepo,
	}
}

// Profile はユーザーのプロフィールと利用状況を取得する。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Activity はユーザーのアクティビティを新しい順に取得する。
// limitが0以下の場合はDefaultActivityLimit、上限はMaxActivityLimitに丸める。
func (s *Service) Activity(ctx context.Context, userID string, limit int) ([]*model.Activity, error) {
	limit = ClampActivityLimit(limit)

	activities, err := s.activityRepo.ListByUserID(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("アクティビティの取得に失敗しました: %w", err)
	}
	if activities == nil {
		activities = []*model.Activity{}
	}
	return activities, nil
}

// ClampActivityLimit はアクティビティ一覧の件数を許容範囲に丸める。
func ClampActivityLimit(limit int) int {
	if limit <= 0 {
		return DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		return MaxActivityLimit
	}
	return limit
}

// Withdraw はユーザーの退会処理を実行する。
// アクティビティはusersからのCASCADEで削除される。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
