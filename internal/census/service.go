// Package census は投稿からレビュー、公開・却下までのワークフローを提供する。
package census

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hitoshi/opendatacensus/internal/metrics"
	"github.com/hitoshi/opendatacensus/internal/model"
	"github.com/hitoshi/opendatacensus/internal/refdata"
	"github.com/hitoshi/opendatacensus/internal/repository"
	"github.com/hitoshi/opendatacensus/internal/security"
)

// urlAnswerFields はURLとして検証する回答項目。
var urlAnswerFields = []string{"url", "licenseurl"}

// Gate はレビュアー権限の判定を行う。
type Gate interface {
	IsReviewer(user *model.User) bool
}

// Catalog は参照データのスナップショットを提供する。
type Catalog interface {
	Snapshot() *refdata.Catalog
	Reload() error
}

// URLValidator は回答URLの静的検証を行う。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// LinkChecker はレビュー画面用に投稿内のリンクを確認する。
type LinkChecker interface {
	CheckPayload(ctx context.Context, p model.Payload) []security.LinkStatus
}

// Config はワークフローの設定。
type Config struct {
	// SubmitYear は年が指定されない投稿・プリフィルで使う既定の年。
	SubmitYear int
	// ReloadOnPublish がtrueの場合、公開後に参照データを再読み込みする。
	ReloadOnPublish bool
}

// SubmissionForm はフォームから受け取った投稿内容。
type SubmissionForm struct {
	Place   string
	Dataset string
	Year    int
	Answers model.Payload
}

// Prefill は投稿フォームの初期値。
type Prefill struct {
	Year   int
	Fields map[string]string
}

// ReviewView はレビュー画面で投稿と現在のエントリを比較するための情報。
type ReviewView struct {
	Submission *model.Submission
	// CurrentEntry は既存エントリがない場合も空のEntryとなり、nilにはならない。
	CurrentEntry *model.Entry
	Country      refdata.Country
	Place        refdata.Place
	Dataset      refdata.Dataset
	Questions    []refdata.Question
	YesNo        []refdata.Question
	LinkChecks   []security.LinkStatus
}

// PlaceOverview はplaceごとの公開エントリ一覧。
type PlaceOverview struct {
	Place   refdata.Place
	Entries []*model.Entry
}

// Overview は全体の公開状況と、レビュアーにはレビュー待ち一覧を含む。
type Overview struct {
	Year    int
	Places  []refdata.Place
	Entries map[string][]*model.Entry
	Pending []*model.Submission
}

// pendingListLimit はOverviewに含めるレビュー待ち投稿の上限。
const pendingListLimit = 50

// Service は投稿ワークフローのサービス層。
type Service struct {
	submissions repository.SubmissionRepository
	entries     repository.EntryRepository
	gate        Gate
	catalog     Catalog
	sanitizer   security.AnswerSanitizer
	urls        URLValidator
	links       LinkChecker
	metrics     metrics.Recorder
	config      Config
}

// NewService はServiceの新しいインスタンスを生成する。
// linksがnilの場合、レビュー画面のリンク確認は行わない。
func NewService(
	submissions repository.SubmissionRepository,
	entries repository.EntryRepository,
	gate Gate,
	catalog Catalog,
	sanitizer security.AnswerSanitizer,
	urls URLValidator,
	links LinkChecker,
	recorder metrics.Recorder,
	config Config,
) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		submissions: submissions,
		entries:     entries,
		gate:        gate,
		catalog:     catalog,
		sanitizer:   sanitizer,
		urls:        urls,
		links:       links,
		metrics:     recorder,
		config:      config,
	}
}

// Catalog は現在の参照データを返す。
func (s *Service) Catalog() *refdata.Catalog {
	return s.catalog.Snapshot()
}

// SubmitYear は既定の投稿年を返す。
func (s *Service) SubmitYear() int {
	return s.config.SubmitYear
}

// IsReviewer はuserがレビュアーかを返す。
func (s *Service) IsReviewer(user *model.User) bool {
	return s.gate.IsReviewer(user)
}

// CreateSubmission は投稿をpending状態で保存する。
// 未ログインの場合は何も保存せずUNAUTHENTICATEDを返す。
// 成功時に返る投稿は必ずpending状態で永続化済み。
func (s *Service) CreateSubmission(ctx context.Context, user *model.User, form SubmissionForm) (*model.Submission, error) {
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}

	if form.Year == 0 {
		form.Year = s.config.SubmitYear
	}
	if err := s.validateForm(form); err != nil {
		s.metrics.RecordSubmissionFailed(model.ErrCodeInvalidSubmission)
		return nil, err
	}

	submission := &model.Submission{
		Place:     form.Place,
		Dataset:   form.Dataset,
		Year:      form.Year,
		Submitter: user.ID,
		Payload:   s.sanitizer.SanitizePayload(form.Answers),
		Status:    model.SubmissionStatusPending,
	}

	start := time.Now()
	err := s.submissions.Create(ctx, submission)
	s.metrics.RecordBackendLatency("insert_submission", time.Since(start))
	if err != nil {
		s.metrics.RecordSubmissionFailed("backend")
		return nil, fmt.Errorf("投稿の保存に失敗しました: %w", err)
	}

	s.metrics.RecordSubmissionCreated(submission.Dataset)
	slog.Info("submission created",
		slog.String("submission_id", submission.ID),
		slog.String("submitter", user.ID),
		slog.String("place", submission.Place),
		slog.String("dataset", submission.Dataset),
		slog.Int("year", submission.Year),
	)
	return submission, nil
}

// validateForm は参照データと回答URLを検証する。
func (s *Service) validateForm(form SubmissionForm) error {
	catalog := s.catalog.Snapshot()

	if form.Place == "" {
		return model.NewInvalidSubmissionError("place is required")
	}
	if _, ok := catalog.Place(form.Place); !ok {
		return model.NewInvalidSubmissionError(fmt.Sprintf("unknown place %q", form.Place))
	}
	if form.Dataset == "" {
		return model.NewInvalidSubmissionError("dataset is required")
	}
	if _, ok := catalog.Dataset(form.Dataset); !ok {
		return model.NewInvalidSubmissionError(fmt.Sprintf("unknown dataset %q", form.Dataset))
	}
	if form.Year < 1 {
		return model.NewInvalidSubmissionError("year must be positive")
	}

	return s.validateAnswerURLs(form.Answers)
}

// validateAnswerURLs はURL項目の回答を検証する。空の項目は検証しない。
func (s *Service) validateAnswerURLs(answers model.Payload) error {
	for _, field := range urlAnswerFields {
		if v := answers[field]; v != "" {
			if err := s.urls.ValidateURL(v); err != nil {
				return model.NewInvalidSubmissionError(fmt.Sprintf("%s: %v", field, err))
			}
		}
	}
	return nil
}

// PrefillSubmission は投稿フォームの初期値を返す。
// placeとdatasetの両方がqueryにある場合のみ既存エントリを参照し、
// エントリの値をqueryの値で項目ごとに上書きする。
// エントリがない場合や取得に失敗した場合はqueryの値だけを返す。
func (s *Service) PrefillSubmission(ctx context.Context, query map[string]string) Prefill {
	year := s.config.SubmitYear
	if v, err := strconv.Atoi(query["year"]); err == nil && v > 0 {
		year = v
	}

	fields := make(map[string]string, len(query))
	place, dataset := query["place"], query["dataset"]
	if place != "" && dataset != "" {
		key := model.EntryKey{Place: place, Dataset: dataset, Year: year}
		entry, err := s.entries.FindByKey(ctx, key)
		if err != nil {
			slog.Warn("prefill entry lookup failed",
				slog.String("place", place),
				slog.String("dataset", dataset),
				slog.Int("year", year),
				slog.String("error", err.Error()),
			)
		}
		if entry != nil {
			for k, v := range entry.Fields() {
				fields[k] = v
			}
		}
	}

	for k, v := range query {
		fields[k] = v
	}

	return Prefill{Year: year, Fields: fields}
}

// GetSubmission は投稿を取得する。存在しない場合はSUBMISSION_NOT_FOUNDを返す。
func (s *Service) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	start := time.Now()
	submission, err := s.submissions.FindByID(ctx, id)
	s.metrics.RecordBackendLatency("get_submission", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if submission == nil {
		return nil, model.NewSubmissionNotFoundError(id)
	}
	return submission, nil
}

// ReviewSubmission はレビュー画面用に投稿と現在のエントリを取得する。
// 投稿が存在しない場合はエントリを参照せずにSUBMISSION_NOT_FOUNDを返す。
func (s *Service) ReviewSubmission(ctx context.Context, user *model.User, id string) (*ReviewView, error) {
	if err := s.requireReviewer(user); err != nil {
		return nil, err
	}

	submission, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	current := &model.Entry{}
	entry, err := s.entries.FindByKey(ctx, submission.Key())
	if err != nil {
		slog.Warn("current entry lookup failed",
			slog.String("submission_id", id),
			slog.String("error", err.Error()),
		)
	}
	if entry != nil {
		current = entry
	}

	catalog := s.catalog.Snapshot()
	place, _ := catalog.Place(submission.Place)
	dataset, _ := catalog.Dataset(submission.Dataset)

	view := &ReviewView{
		Submission:   submission,
		CurrentEntry: current,
		Country:      catalog.Country,
		Place:        place,
		Dataset:      dataset,
		Questions:    catalog.Questions,
		YesNo:        catalog.YesNoQuestions(),
	}
	if s.links != nil {
		view.LinkChecks = s.links.CheckPayload(ctx, submission.Payload)
	}
	return view, nil
}

// ProcessReview はレビュー結果を反映する。
// 公開の場合は投稿をpublishedにし、投稿時のペイロードにeditedの項目を上書きした内容で
// エントリを置き換える。editedのURL項目は投稿時と同じ検証を通す。
// 却下の場合は投稿をrejectedにし、エントリにもeditedにも触れない。
// 投稿自体のペイロードはどちらの場合も変更しない。
// 権限の確認はバックエンド呼び出しより前に行う。
func (s *Service) ProcessReview(
	ctx context.Context,
	user *model.User,
	decision model.ReviewDecision,
	id string,
	edited model.Payload,
) (*model.Submission, error) {
	if err := s.requireReviewer(user); err != nil {
		s.metrics.RecordReviewFailed(codeOf(err))
		return nil, err
	}

	// 却下時の編集は破棄する
	var payload model.Payload
	if decision == model.DecisionPublish && len(edited) > 0 {
		payload = s.sanitizer.SanitizePayload(edited)
		if err := s.validateAnswerURLs(payload); err != nil {
			s.metrics.RecordReviewFailed(codeOf(err))
			return nil, err
		}
	}

	start := time.Now()
	processed, err := s.submissions.Process(ctx, id, decision.Status(), user.ID, payload)
	s.metrics.RecordBackendLatency("process_submission", time.Since(start))
	if err != nil {
		s.metrics.RecordReviewFailed(codeOf(err))
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, fmt.Errorf("レビュー結果の反映に失敗しました: %w", err)
	}

	s.metrics.RecordReview(decision.String())
	slog.Info("submission reviewed",
		slog.String("submission_id", id),
		slog.String("reviewer", user.ID),
		slog.String("decision", decision.String()),
	)

	if decision == model.DecisionPublish && s.config.ReloadOnPublish {
		if err := s.catalog.Reload(); err != nil {
			slog.Error("reference data reload after publish failed",
				slog.String("submission_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	return processed, nil
}

// PlaceOverview はplaceの公開エントリを返す。
func (s *Service) PlaceOverview(ctx context.Context, placeID string) (*PlaceOverview, error) {
	place, ok := s.catalog.Snapshot().Place(placeID)
	if !ok {
		return nil, model.NewPlaceNotFoundError(placeID)
	}

	entries, err := s.entries.ListByPlace(ctx, placeID)
	if err != nil {
		return nil, fmt.Errorf("エントリ一覧の取得に失敗しました: %w", err)
	}
	return &PlaceOverview{Place: place, Entries: entries}, nil
}

// Overview は既定の投稿年の公開エントリをplaceごとにまとめて返す。
// userがレビュアーの場合はレビュー待ちの投稿も含める。
func (s *Service) Overview(ctx context.Context, user *model.User) (*Overview, error) {
	entries, err := s.entries.ListByYear(ctx, s.config.SubmitYear)
	if err != nil {
		return nil, fmt.Errorf("エントリ一覧の取得に失敗しました: %w", err)
	}

	byPlace := make(map[string][]*model.Entry)
	for _, e := range entries {
		byPlace[e.Place] = append(byPlace[e.Place], e)
	}

	overview := &Overview{
		Year:    s.config.SubmitYear,
		Places:  s.catalog.Snapshot().Places,
		Entries: byPlace,
	}

	if s.gate.IsReviewer(user) {
		pending, err := s.submissions.ListPending(ctx, pendingListLimit)
		if err != nil {
			return nil, fmt.Errorf("レビュー待ち投稿の取得に失敗しました: %w", err)
		}
		overview.Pending = pending
	}
	return overview, nil
}

// requireReviewer はログイン済みかつレビュアーであることを確認する。
func (s *Service) requireReviewer(user *model.User) error {
	if user == nil {
		return model.NewUnauthenticatedError()
	}
	if !s.gate.IsReviewer(user) {
		return model.NewNotReviewerError()
	}
	return nil
}

// codeOf はエラーのコードを返す。APIErrorでない場合はINTERNAL_ERROR。
func codeOf(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return model.ErrCodeInternal
}
