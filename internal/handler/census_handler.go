package handler

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/opendatacensus/internal/census"
	"github.com/hitoshi/opendatacensus/internal/middleware"
	"github.com/hitoshi/opendatacensus/internal/model"
	"github.com/hitoshi/opendatacensus/internal/refdata"
)

const (
	msgSubmitted = "Thank-you for your submission which has been received. It will now be reviewed by an expert " +
		"before being published. It may take a few minutes for your submission to appear and a few days for it be reviewed."
	msgPublished = "Submission processed and entered into the census."
	msgRejected  = "Submission marked as rejected."
)

// reservedFormFields は回答として扱わないフォーム項目。
var reservedFormFields = map[string]struct{}{
	"place":                  {},
	"dataset":                {},
	"year":                   {},
	"submit":                 {},
	middleware.CSRFFieldName: {},
}

// CensusServiceInterface はセンサスハンドラーが必要とするサービスインターフェース。
type CensusServiceInterface interface {
	ViewContext
	CreateSubmission(ctx context.Context, user *model.User, form census.SubmissionForm) (*model.Submission, error)
	PrefillSubmission(ctx context.Context, query map[string]string) census.Prefill
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	ReviewSubmission(ctx context.Context, user *model.User, id string) (*census.ReviewView, error)
	ProcessReview(ctx context.Context, user *model.User, decision model.ReviewDecision, id string, edited model.Payload) (*model.Submission, error)
	PlaceOverview(ctx context.Context, placeID string) (*census.PlaceOverview, error)
	Overview(ctx context.Context, user *model.User) (*census.Overview, error)
}

// CensusHandler はセンサスのページと投稿・レビューのHTTPハンドラー。
type CensusHandler struct {
	service CensusServiceInterface
	views   *Renderer
	signer  *middleware.CookieSigner
}

// NewCensusHandler はCensusHandlerを生成する。
func NewCensusHandler(service CensusServiceInterface, views *Renderer, signer *middleware.CookieSigner) *CensusHandler {
	return &CensusHandler{
		service: service,
		views:   views,
		signer:  signer,
	}
}

// formContent は投稿フォームとレビューフォームで共有するテンプレートデータ。
type formContent struct {
	Places    []refdata.Place
	Datasets  []refdata.Dataset
	Questions []refdata.Question
	YesNo     []refdata.Question
	Year      int
	Prefill   map[string]string
	View      *census.ReviewView
}

type faqContent struct {
	Body      template.HTML
	Questions []refdata.Question
	Datasets  []refdata.Dataset
}

// requireLoggedIn は未ログインの場合に元のURLをnextに付けて/loginへリダイレクトし、
// 後続のハンドラーを実行しない。
func requireLoggedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if middleware.UserFromContext(r.Context()) == nil {
			http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Overview は全placeの公開状況を表示する。
// GET /, GET /country/overview/
func (h *CensusHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.Overview(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		handlePageError(w, err)
		return
	}
	h.views.Render(w, r, "overview.html", "Overview", overview)
}

// PlaceOverview はplaceの公開エントリを表示する。
// GET /country/overview/{place}
func (h *CensusHandler) PlaceOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.PlaceOverview(r.Context(), chi.URLParam(r, "place"))
	if err != nil {
		handlePageError(w, err)
		return
	}
	h.views.Render(w, r, "place.html", overview.Place.Name, overview)
}

// FAQ はよくある質問と質問・データセットの説明を表示する。
// GET /faq
func (h *CensusHandler) FAQ(w http.ResponseWriter, r *http.Request) {
	catalog := h.service.Catalog()
	h.views.Render(w, r, "faq.html", "FAQ - Frequently Asked Questions", faqContent{
		Body:      h.views.FAQBody(),
		Questions: catalog.Questions,
		Datasets:  catalog.Datasets,
	})
}

// Contribute は投稿対象のplace一覧を表示する。
// GET /contribute
func (h *CensusHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, "contribute.html", "Contribute", h.service.Catalog())
}

// SubmitForm は投稿フォームを表示する。既存エントリがあれば初期値に使う。
// GET /country/submit
func (h *CensusHandler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	prefill := h.service.PrefillSubmission(r.Context(), query)
	catalog := h.service.Catalog()
	h.views.Render(w, r, "submit.html", "Submit", formContent{
		Places:    catalog.Places,
		Datasets:  catalog.Datasets,
		Questions: catalog.Questions,
		YesNo:     catalog.YesNoQuestions(),
		Year:      prefill.Year,
		Prefill:   prefill.Fields,
	})
}

// Submit は投稿を受け付ける。
// 成功時はplaceの概要ページへ、失敗時はエラーをフラッシュして入力フォームへリダイレクトする。
// POST /country/submit
func (h *CensusHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	form := census.SubmissionForm{
		Place:   strings.TrimSpace(r.PostForm.Get("place")),
		Dataset: strings.TrimSpace(r.PostForm.Get("dataset")),
		Answers: answersFromForm(r.PostForm),
	}
	if v := strings.TrimSpace(r.PostForm.Get("year")); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			h.flash(w, r, middleware.FlashError, "There was an error! year must be a number")
			http.Redirect(w, r, submitFormURL(form, v), http.StatusSeeOther)
			return
		}
		form.Year = year
	}

	submission, err := h.service.CreateSubmission(r.Context(), middleware.UserFromContext(r.Context()), form)
	if err != nil {
		h.flash(w, r, middleware.FlashError, "There was an error! "+errorMessage(err))
		http.Redirect(w, r, submitFormURL(form, strconv.Itoa(form.Year)), http.StatusSeeOther)
		return
	}

	h.flash(w, r, middleware.FlashInfo, msgSubmitted)
	http.Redirect(w, r, "/country/overview/"+url.PathEscape(submission.Place), http.StatusSeeOther)
}

// Submission は投稿の存在を確認する。
// GET /country/submission/{id}
func (h *CensusHandler) Submission(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.GetSubmission(r.Context(), chi.URLParam(r, "id")); err != nil {
		handlePageError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Your submission exists"))
}

// Review はレビュー画面を表示する。投稿と現在のエントリを並べて比較する。
// GET /country/review/{submissionid}
func (h *CensusHandler) Review(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.ReviewSubmission(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "submissionid"))
	if err != nil {
		handlePageError(w, err)
		return
	}

	h.views.Render(w, r, "review.html", "Review", formContent{
		Questions: view.Questions,
		YesNo:     view.YesNo,
		Year:      view.Submission.Year,
		Prefill:   view.Submission.Payload,
		View:      view,
	})
}

// ProcessReview はレビュー結果（公開または却下）を反映する。
// submitの値が"Publish"の場合のみ公開し、それ以外はすべて却下として扱う。
// POST /country/review/{submissionid}
func (h *CensusHandler) ProcessReview(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	decision := model.ParseReviewDecision(r.PostForm.Get("submit"))
	_, err := h.service.ProcessReview(
		r.Context(),
		middleware.UserFromContext(r.Context()),
		decision,
		chi.URLParam(r, "submissionid"),
		answersFromForm(r.PostForm),
	)
	if err != nil {
		handlePageError(w, err)
		return
	}

	msg := msgRejected
	if decision == model.DecisionPublish {
		msg = msgPublished
	}
	h.flash(w, r, middleware.FlashInfo, msg)
	http.Redirect(w, r, "/country/overview/", http.StatusSeeOther)
}

func (h *CensusHandler) flash(w http.ResponseWriter, r *http.Request, level middleware.FlashLevel, msg string) {
	if err := h.signer.AddFlash(w, r, level, msg); err != nil {
		slog.Error("failed to add flash", slog.String("error", err.Error()))
	}
}

// answersFromForm は予約項目と空の値を除いた回答を返す。
func answersFromForm(form url.Values) model.Payload {
	answers := make(model.Payload)
	for k, v := range form {
		if _, reserved := reservedFormFields[k]; reserved || len(v) == 0 {
			continue
		}
		if s := strings.TrimSpace(v[0]); s != "" {
			answers[k] = s
		}
	}
	return answers
}

// submitFormURL は入力内容を引き継いだ投稿フォームのURLを返す。
func submitFormURL(form census.SubmissionForm, year string) string {
	q := url.Values{}
	if form.Place != "" {
		q.Set("place", form.Place)
	}
	if form.Dataset != "" {
		q.Set("dataset", form.Dataset)
	}
	if year != "" && year != "0" {
		q.Set("year", year)
	}
	if len(q) == 0 {
		return "/country/submit"
	}
	return "/country/submit?" + q.Encode()
}

// errorMessage はフラッシュに表示するエラーメッセージを返す。
// 内部エラーの詳細はログにのみ記録する。
func errorMessage(err error) string {
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.Message
	}
	slog.Error("submission failed", slog.String("error", err.Error()))
	return model.NewInternalError().Message
}
