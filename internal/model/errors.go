// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, census, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated            = "UNAUTHENTICATED"
	ErrCodeNotReviewer                = "NOT_REVIEWER"
	ErrCodeSubmissionNotFound         = "SUBMISSION_NOT_FOUND"
	ErrCodeSubmissionAlreadyProcessed = "SUBMISSION_ALREADY_PROCESSED"
	ErrCodePlaceNotFound              = "PLACE_NOT_FOUND"
	ErrCodeInvalidSubmission          = "INVALID_SUBMISSION"
	ErrCodeEmailMissing               = "EMAIL_MISSING"
	ErrCodeRateLimited                = "RATE_LIMITED"
	ErrCodeCSRFInvalid                = "CSRF_INVALID"
	ErrCodeInternal                   = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は未ログインエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewNotReviewerError はレビュー権限がない場合のエラーを生成する。
func NewNotReviewerError() *APIError {
	return &APIError{
		Code:     ErrCodeNotReviewer,
		Message:  "Sorry, you are not an authorized reviewer",
		Category: "auth",
		Action:   "レビュー権限が必要な場合は管理者に連絡してください。",
	}
}

// NewSubmissionNotFoundError は投稿が見つからない場合のエラーを生成する。
func NewSubmissionNotFoundError(submissionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubmissionNotFound,
		Message:  fmt.Sprintf("There is no submission with id %s", submissionID),
		Category: "census",
		Action:   "投稿IDを確認してください。",
	}
}

// NewSubmissionAlreadyProcessedError はレビュー済みの投稿を再度処理しようとした場合のエラーを生成する。
func NewSubmissionAlreadyProcessedError(submissionID string, status SubmissionStatus) *APIError {
	return &APIError{
		Code:     ErrCodeSubmissionAlreadyProcessed,
		Message:  fmt.Sprintf("Submission %s has already been %s", submissionID, status),
		Category: "census",
		Action:   "レビュー済みの投稿は再処理できません。新しい投稿を作成してください。",
	}
}

// NewPlaceNotFoundError は参照データに存在しないplaceが指定された場合のエラーを生成する。
func NewPlaceNotFoundError(place string) *APIError {
	return &APIError{
		Code:     ErrCodePlaceNotFound,
		Message:  fmt.Sprintf("There is no place with id %s", place),
		Category: "census",
		Action:   "一覧から対象の地域を選択してください。",
	}
}

// NewInvalidSubmissionError は投稿内容が不正な場合のエラーを生成する。
func NewInvalidSubmissionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSubmission,
		Message:  fmt.Sprintf("投稿内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度投稿してください。",
	}
}

// NewEmailMissingError はIdPのプロフィールにメールアドレスが含まれない場合のエラーを生成する。
func NewEmailMissingError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeEmailMissing,
		Message:  fmt.Sprintf("%s のプロフィールにメールアドレスが含まれていません。", provider),
		Category: "auth",
		Action:   "メールアドレスの提供を許可してから再度ログインしてください。",
	}
}

// NewRateLimitedError はレート制限超過時のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewCSRFError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRF token validation failed",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度送信してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
