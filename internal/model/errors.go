// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード（クライアントが分岐に使う安定値）
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, handoff, universe, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeNotFound        = "not_found"
	ErrCodeExpired         = "expired"
	ErrCodeValidation      = "validation"
	ErrCodeUnknownUniverse = "unknown_universe"
	ErrCodeForbidden       = "forbidden"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeInternal        = "internal"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "サインインが必要です。",
		Category: "auth",
		Action:   "サインインしてから再度お試しください。",
	}
}

// NewMissingTokenError はハンドオフトークン未指定エラーを生成する。
func NewMissingTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "ハンドオフトークンが指定されていません。",
		Category: "validation",
		Action:   "リンクを開き直してください。",
	}
}

// NewTokenNotFoundError はハンドオフトークン未検出エラーを生成する。
// 存在しなかったのか削除されたのかは区別しない。
func NewTokenNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "トークンが見つかりません。",
		Category: "handoff",
		Action:   "リンクが正しいか確認してください。",
	}
}

// NewTokenExpiredError はハンドオフトークン期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeExpired,
		Message:  "トークンの有効期限が切れています。",
		Category: "handoff",
		Action:   "最初からやり直してください。",
	}
}

// NewMagicLinkNotFoundError はマジックリンク未検出エラーを生成する。
func NewMagicLinkNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "サインインリンクが見つかりません。",
		Category: "auth",
		Action:   "新しいサインインリンクを請求してください。",
	}
}

// NewMagicLinkExpiredError はマジックリンク期限切れエラーを生成する。
func NewMagicLinkExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeExpired,
		Message:  "サインインリンクの有効期限が切れています。",
		Category: "auth",
		Action:   "新しいサインインリンクを請求してください。",
	}
}

// NewMagicLinkUsedError は使用済みマジックリンクのエラーを生成する。
func NewMagicLinkUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "このサインインリンクは既に使用されています。",
		Category: "auth",
		Action:   "新しいサインインリンクを請求してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致のエラーを生成する。
// どちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "サインインするか、別のメールアドレスを使用してください。",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnknownUniverseError は未定義のuniverseキーのエラーを生成する。
func NewUnknownUniverseError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownUniverse,
		Message:  fmt.Sprintf("未定義のuniverseです: %s", key),
		Category: "universe",
		Action:   "universeのキーを確認してください。",
	}
}

// NewNotSelfServeError は直接ロック解除できないuniverseのエラーを生成する。
func NewNotSelfServeError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("このuniverseは直接ロック解除できません: %s", key),
		Category: "universe",
		Action:   "対応するサービスからハンドオフしてください。",
	}
}

// NewProfileUpdateFailedError はプロフィール保存失敗のエラーを生成する。
// ストアのエラー文字列はクライアントに返さない。
func NewProfileUpdateFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "プロフィールを保存できませんでした。",
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
