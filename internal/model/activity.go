package model

import "time"

// ActionKind はアクティビティの種別を表す。
type ActionKind string

const (
	// ActionBackgroundRemoval は背景除去の実行を示す。
	ActionBackgroundRemoval ActionKind = "background-removal"
	// ActionLogin はログインを示す。
	ActionLogin ActionKind = "login"
	// ActionSignup はユーザー登録を示す。
	ActionSignup ActionKind = "signup"
	// ActionImageUpload は画像アップロードを示す。
	ActionImageUpload ActionKind = "image-upload"
)

// Valid は列挙された種別のいずれかであればtrueを返す。
func (k ActionKind) Valid() bool {
	switch k {
	case ActionBackgroundRemoval, ActionLogin, ActionSignup, ActionImageUpload:
		return true
	default:
		return false
	}
}

// Activity はユーザー操作の監査ログ1件を表す。
// 作成後に更新・削除されることはない。
type Activity struct {
	ID          string
	UserID      string
	ActionType  ActionKind
	ResourceRef string // 関連する画像のURLやパス。空の場合もある
	ProcessedAt time.Time
}
