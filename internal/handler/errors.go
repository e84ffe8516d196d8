package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/opendatacensus/internal/middleware"
	"github.com/hitoshi/opendatacensus/internal/model"
)

// handleServiceError はサービス層から返されたエラーを統一フォーマットのJSONレスポンスに変換する。
// JSON APIのハンドラーで使用する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// handlePageError はHTMLページのハンドラーでサービス層のエラーをステータスコード付きの
// プレーンテキストレスポンスに変換する。
func handlePageError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		http.Error(w, apiErr.Message, mapAPIErrorToHTTPStatus(apiErr))
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	http.Error(w, "There was an error: "+model.NewInternalError().Message, http.StatusInternalServerError)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated, model.ErrCodeNotReviewer:
		return http.StatusUnauthorized
	case model.ErrCodeSubmissionNotFound, model.ErrCodePlaceNotFound:
		return http.StatusNotFound
	case model.ErrCodeSubmissionAlreadyProcessed:
		return http.StatusConflict
	case model.ErrCodeInvalidSubmission, model.ErrCodeEmailMissing:
		return http.StatusBadRequest
	case model.ErrCodeCSRFInvalid:
		return http.StatusForbidden
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func asAPIError(err error) (*model.APIError, bool) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
