package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/opendatacensus/internal/model"
)

// SubmissionGetter は投稿取得のためのインターフェース。
type SubmissionGetter interface {
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
}

// APIHandler はJSON APIのHTTPハンドラー。
type APIHandler struct {
	submissions SubmissionGetter
}

// NewAPIHandler はAPIHandlerを生成する。
func NewAPIHandler(submissions SubmissionGetter) *APIHandler {
	return &APIHandler{submissions: submissions}
}

// submissionResponse は投稿のAPIレスポンス。
// 投稿者のIDは公開しない。
type submissionResponse struct {
	ID         string            `json:"id"`
	Place      string            `json:"place"`
	Dataset    string            `json:"dataset"`
	Year       int               `json:"year"`
	Status     string            `json:"status"`
	Payload    map[string]string `json:"payload"`
	CreatedAt  time.Time         `json:"created_at"`
	ReviewedAt *time.Time        `json:"reviewed_at,omitempty"`
}

// GetSubmission は投稿をJSONで返す。
// GET /api/submissions/{id}
func (h *APIHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	submission, err := h.submissions.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	payload := submission.Payload
	if payload == nil {
		payload = model.Payload{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(submissionResponse{
		ID:         submission.ID,
		Place:      submission.Place,
		Dataset:    submission.Dataset,
		Year:       submission.Year,
		Status:     string(submission.Status),
		Payload:    payload,
		CreatedAt:  submission.CreatedAt,
		ReviewedAt: submission.ReviewedAt,
	})
}

// HealthChecker はヘルスチェックのためのインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Health はDB接続を確認し、結果を返す。
// GET /health
func Health(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := checker.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
