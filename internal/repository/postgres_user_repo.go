package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/bgremover/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const selectUserColumns = `SELECT id, email, name, password_hash, processed_images, last_active, created_at, updated_at FROM users`

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, selectUserColumns+` WHERE id = $1`, id))
	// UUIDとして解釈できないIDは存在しないユーザーとして扱う
	if errors.Is(err, sql.ErrNoRows) || hasPQCode(err, pgInvalidTextRepresentation) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, selectUserColumns+` WHERE email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, processed_images, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if hasPQCode(err, pgUniqueViolation) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// IncrementProcessedImages は処理済み画像数を1増やし、last_activeを更新する。
func (r *PostgresUserRepo) IncrementProcessedImages(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET processed_images = processed_images + 1, last_active = $2, updated_at = $2
		 WHERE id = $1`,
		id, at,
	)
	return checkUserUpdated(result, err, "increment processed images")
}

// TouchLastActive はlast_activeのみを更新する。
func (r *PostgresUserRepo) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_active = $2, updated_at = $2 WHERE id = $1`,
		id, at,
	)
	return checkUserUpdated(result, err, "touch last active")
}

// DeleteByID はユーザーを削除する。activitiesはON DELETE CASCADEで削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return checkUserUpdated(result, err, "delete user")
}

// checkUserUpdated はUPDATE結果を検証し、対象行がなければErrNotFoundを返す。
func checkUserUpdated(result sql.Result, err error, op string) error {
	if hasPQCode(err, pgInvalidTextRepresentation) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanUser は1行をmodel.Userに読み込む。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var lastActive sql.NullTime
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.ProcessedImages, &lastActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastActive.Valid {
		t := lastActive.Time
		user.LastActive = &t
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
