// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/bgremover/internal/model"
)

var (
	// ErrNotFound は更新・参照対象のレコードが存在しないことを示す。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail はメールアドレスが既に登録済みであることを示す。
	ErrDuplicateEmail = errors.New("email already registered")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレス重複時はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// IncrementProcessedImages は処理済み画像数を1増やし、last_activeを更新する。
	// 単一のUPDATE文で加算するため、同時実行でも取りこぼしはない。
	// ユーザーが存在しない場合はErrNotFoundを返す。
	IncrementProcessedImages(ctx context.Context, id string, at time.Time) error

	// TouchLastActive はlast_activeのみを更新する。
	// ユーザーが存在しない場合はErrNotFoundを返す。
	TouchLastActive(ctx context.Context, id string, at time.Time) error

	// DeleteByID はユーザーを削除する。アクティビティはCASCADEで削除される。
	// ユーザーが存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// ActivityRepository はアクティビティ（監査ログ）の永続化インターフェース。
// 追記と参照のみを提供し、更新・削除は持たない。
type ActivityRepository interface {
	// Create はアクティビティを追記する。
	// 参照先ユーザーが存在しない場合はErrNotFoundを返す。
	Create(ctx context.Context, activity *model.Activity) error

	// ListByUserID はユーザーのアクティビティをprocessed_at降順で最大limit件返す。
	ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Activity, error)
}
