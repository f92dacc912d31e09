package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/bgremover/internal/model"
)

// PostgresActivityRepo はPostgreSQLを使用したアクティビティリポジトリ。
type PostgresActivityRepo struct {
	db *sql.DB
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// Create はアクティビティを追記する。
// user_idの外部キー違反はErrNotFoundとして返す。
func (r *PostgresActivityRepo) Create(ctx context.Context, activity *model.Activity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activities (id, user_id, action_type, resource_ref, processed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		activity.ID, activity.UserID, string(activity.ActionType), activity.ResourceRef, activity.ProcessedAt,
	)
	if hasPQCode(err, pgForeignKeyViolation) || hasPQCode(err, pgInvalidTextRepresentation) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// ListByUserID はユーザーのアクティビティをprocessed_at降順で最大limit件返す。
func (r *PostgresActivityRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Activity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, action_type, resource_ref, processed_at
		 FROM activities
		 WHERE user_id = $1
		 ORDER BY processed_at DESC, id
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*model.Activity, 0)
	for rows.Next() {
		a := &model.Activity{}
		var actionType string
		if err := rows.Scan(&a.ID, &a.UserID, &actionType, &a.ResourceRef, &a.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.ActionType = model.ActionKind(actionType)
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}

	return activities, nil
}

// compile-time interface check
var _ ActivityRepository = (*PostgresActivityRepo)(nil)
