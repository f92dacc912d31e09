// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// ProcessedImages と LastActive は利用状況カウンタで、
// 背景除去の成功時にのみ更新される（値は単調非減少）。
type User struct {
	ID              string
	Email           string
	Name            string
	PasswordHash    string
	ProcessedImages int64
	LastActive      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
