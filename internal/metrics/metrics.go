// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス記録のインターフェース。
// サービス層とミドルウェアから利用する。
type Recorder interface {
	RecordSubmissionCreated(dataset string)
	RecordSubmissionFailed(reason string)
	RecordReview(decision string)
	RecordReviewFailed(code string)
	RecordLogin(result string)
	RecordBackendLatency(operation string, duration time.Duration)
	RecordHTTPRequest(route string, statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	submissionsCreated *prometheus.CounterVec
	submissionsFailed  *prometheus.CounterVec
	reviews            *prometheus.CounterVec
	reviewsFailed      *prometheus.CounterVec
	logins             *prometheus.CounterVec
	backendLatency     *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		submissionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "census_submissions_created_total",
			Help: "pending状態で保存された投稿の合計数",
		}, []string{"dataset"}),
		submissionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "census_submissions_failed_total",
			Help: "保存に失敗した投稿の合計数",
		}, []string{"reason"}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "census_reviews_total",
			Help: "レビュー結果別の処理済み投稿数",
		}, []string{"decision"}),
		reviewsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "census_reviews_failed_total",
			Help: "エラーコード別の失敗したレビュー数",
		}, []string{"code"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "census_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "census_backend_latency_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "census_http_requests_total",
			Help: "ルートとステータスコード別のHTTPレスポンス数",
		}, []string{"route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "census_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.submissionsCreated,
		c.submissionsFailed,
		c.reviews,
		c.reviewsFailed,
		c.logins,
		c.backendLatency,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// RecordSubmissionCreated は投稿の保存成功を記録する。
func (c *Collector) RecordSubmissionCreated(dataset string) {
	c.submissionsCreated.WithLabelValues(dataset).Inc()
}

// RecordSubmissionFailed は投稿の保存失敗を記録する。
func (c *Collector) RecordSubmissionFailed(reason string) {
	c.submissionsFailed.WithLabelValues(reason).Inc()
}

// RecordReview はレビューの完了を記録する。
func (c *Collector) RecordReview(decision string) {
	c.reviews.WithLabelValues(decision).Inc()
}

// RecordReviewFailed はレビューの失敗を記録する。
func (c *Collector) RecordReviewFailed(code string) {
	c.reviewsFailed.WithLabelValues(code).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordBackendLatency はバックエンド呼び出しのレイテンシを記録する。
func (c *Collector) RecordBackendLatency(operation string, duration time.Duration) {
	c.backendLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest はHTTPレスポンスのステータスと処理時間を記録する。
// routeにはURLパスではなくルートパターンを渡すこと。
func (c *Collector) RecordHTTPRequest(route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないRecorder。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordSubmissionCreated(string)               {}
func (Nop) RecordSubmissionFailed(string)                {}
func (Nop) RecordReview(string)                          {}
func (Nop) RecordReviewFailed(string)                    {}
func (Nop) RecordLogin(string)                           {}
func (Nop) RecordBackendLatency(string, time.Duration)   {}
func (Nop) RecordHTTPRequest(string, int, time.Duration) {}

// compile-time interface checks
var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
