// Package auth はメールアドレスとパスワードによるユーザー登録・ログインと、
// Bearerトークンの発行・検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/bgremover/internal/model"
	"github.com/hitoshi/bgremover/internal/repository"
)

const (
	minPasswordLength = 8
	// bcryptは72バイトを超える部分を無視する
	maxPasswordBytes = 72
	maxNameLength    = 100
)

// ActivityRecorder はログイン・登録のアクティビティ記録インターフェース。
type ActivityRecorder interface {
	Record(ctx context.Context, userID string, kind model.ActionKind, resourceRef string) (*model.Activity, error)
}

// NameSanitizer は表示名のサニタイズインターフェース。
type NameSanitizer interface {
	SanitizeText(raw string) string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	JWTSecret  []byte
	TokenTTL   time.Duration
	BcryptCost int // 0の場合はbcrypt.DefaultCost
}

// Result は登録・ログイン成功時に返すトークンとユーザー。
type Result struct {
	Token string
	User  *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	recorder  ActivityRecorder
	sanitizer NameSanitizer
	config    ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	recorder ActivityRecorder,
	sanitizer NameSanitizer,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo:  userRepo,
		recorder:  recorder,
		sanitizer: sanitizer,
		config:    config,
	}
}

// Register はユーザーを登録し、トークンを発行する。
// 登録済みのメールアドレスの場合はEmailTakenエラーを返す。
func (s *Service) Register(ctx context.Context, email, password, name string) (*Result, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if s.sanitizer != nil {
		name = s.sanitizer.SanitizeText(name)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewValidationError("名前を入力してください")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, model.NewValidationError(fmt.Sprintf("名前は%d文字以内で入力してください", maxNameLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user registered", slog.String("user_id", user.ID))
	s.recordActivity(ctx, user.ID, model.ActionSignup)

	return s.issue(user)
}

// Login はメールアドレスとパスワードを検証し、トークンを発行する。
// ユーザーが存在しない場合とパスワード不一致は区別せずInvalidCredentialsを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, model.NewValidationError("メールアドレスとパスワードを入力してください")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Info("login failed", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	s.recordActivity(ctx, user.ID, model.ActionLogin)

	return s.issue(user)
}

// Authenticate はBearerトークンを検証し、対応するユーザーを返す。
// トークンが無効、またはユーザーが存在しない場合はUnauthorizedを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, model.NewUnauthorizedError()
	}

	userID, err := GetUserIDFromToken(token, s.config.JWTSecret)
	if err != nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}

	return user, nil
}

func (s *Service) issue(user *model.User) (*Result, error) {
	token, err := GenerateToken(user.ID, s.config.JWTSecret, s.config.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Result{Token: token, User: user}, nil
}

// recordActivity はログイン・登録のアクティビティを記録する。失敗してもログのみ。
func (s *Service) recordActivity(ctx context.Context, userID string, kind model.ActionKind) {
	if s.recorder == nil {
		return
	}
	if _, err := s.recorder.Record(ctx, userID, kind, ""); err != nil {
		slog.Error("failed to record activity",
			slog.String("user_id", userID),
			slog.String("action_type", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", model.NewValidationError("メールアドレスを入力してください")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	return email, nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewValidationError("パスワードが長すぎます")
	}
	return nil
}
