package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, vendor, system
	Action   string // ユーザー向け対処方法
	Detail   string // 診断用の詳細（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeMissingInput       = "MISSING_INPUT"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeTransport          = "TRANSPORT_ERROR"
	ErrCodeVendor             = "VENDOR_ERROR"
	ErrCodeEmptyInput         = "EMPTY_INPUT"
	ErrCodeEmptyResult        = "EMPTY_RESULT"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewValidationError は入力形式・種別が不正な場合のエラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnsupportedImageTypeError は許可されていない画像形式のエラーを生成する。
func NewUnsupportedImageTypeError(mimeType string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "対応していないファイル形式です。JPEG、PNG、GIF、WebPのみアップロードできます。",
		Category: "validation",
		Action:   "JPEG、PNG、GIF、WebP形式の画像を選択してください。",
		Detail:   mimeType,
	}
}

// NewPayloadTooLargeError はアップロードサイズ超過のエラーを生成する。
func NewPayloadTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodePayloadTooLarge,
		Message:  fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています。", limit/(1024*1024)),
		Category: "validation",
		Action:   "より小さい画像を選択してください。",
	}
}

// NewMissingInputError はファイルや画像URLが指定されていない場合のエラーを生成する。
func NewMissingInputError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingInput,
		Message:  fmt.Sprintf("%sが指定されていません。", what),
		Category: "validation",
		Action:   "画像ファイルまたは画像URLを指定してください。",
	}
}

// NewUnauthorizedError は認証情報がない、または無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが誤っている場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewEmailTakenError は登録済みメールアドレスで登録しようとした場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewConfigurationError は外部APIの認証情報が未設定などデプロイ構成の不備を表すエラーを生成する。
func NewConfigurationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConfiguration,
		Message:  "サーバーの設定に問題があります。",
		Category: "system",
		Action:   "管理者に連絡してください。",
		Detail:   reason,
	}
}

// NewTransportError は背景除去APIへの通信失敗のエラーを生成する。
func NewTransportError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeTransport,
		Message:  "背景除去サービスに接続できませんでした。",
		Category: "vendor",
		Action:   "しばらく待ってから再度お試しください。",
		Detail:   reason,
	}
}

// NewVendorError は背景除去APIが失敗ステータスを返した場合のエラーを生成する。
// Detailにはステータスコードとレスポンス本文を含める。
func NewVendorError(statusCode int, body string) *APIError {
	return &APIError{
		Code:     ErrCodeVendor,
		Message:  "画像の処理中にエラーが発生しました。",
		Category: "vendor",
		Action:   "画像を確認して再度お試しください。",
		Detail:   fmt.Sprintf("%d: %s", statusCode, body),
	}
}

// NewResultTooLargeError は背景除去APIの返した画像がサイズ上限を超えた場合のエラーを生成する。
func NewResultTooLargeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeVendor,
		Message:  "背景除去サービスから返された画像が大きすぎます。",
		Category: "vendor",
		Action:   "より小さい画像で再度お試しください。",
		Detail:   reason,
	}
}

// NewEmptyInputError は0バイトの画像が送信された場合のエラーを生成する。
func NewEmptyInputError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyInput,
		Message:  "画像ファイルが空です。",
		Category: "validation",
		Action:   "有効な画像ファイルを選択してください。",
	}
}

// NewEmptyResultError は背景除去APIが空のレスポンスを返した場合のエラーを生成する。
func NewEmptyResultError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyResult,
		Message:  "背景除去サービスから画像が返されませんでした。",
		Category: "vendor",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は想定外のエラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
