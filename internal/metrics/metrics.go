// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordSessionStarted()
	RecordSessionStopped()
	RecordPaymentRequest(sessionCount int)
	RecordPayment(amountCents int64)
	RecordInviteGenerated()
	RecordInviteClaimed()
	RecordOutboxDelivery(result string)
	RecordOutboxHTTPStatus(statusCode int)
	RecordOutboxLatency(duration time.Duration)
}

// アウトボックス配信結果のラベル値。
const (
	OutboxResultDelivered = "delivered"
	OutboxResultRetry     = "retry"
	OutboxResultParked    = "parked"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsStarted  prometheus.Counter
	sessionsStopped  prometheus.Counter
	paymentRequests  prometheus.Counter
	paymentsRecorded prometheus.Counter
	paymentAmount    prometheus.Counter
	invitesGenerated prometheus.Counter
	invitesClaimed   prometheus.Counter
	outboxDeliveries *prometheus.CounterVec
	outboxHTTPStatus *prometheus.CounterVec
	outboxLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackpay_sessions_started_total",
			Help: "開始された作業セッションの合計数",
		}),
		sessionsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackpay_sessions_stopped_total",
			Help: "終了した作業セッションの合計数",
		}),
		paymentRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackpay_payment_requests_total",
			Help: "支払い請求の合計数",
		}),
		paymentsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackpay_payments_recorded_total",
			Help: "記録された支払いの合計数",
		}),
		paymentAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackpay_payment_amount_cents_total",
			Help: "記録された支払い金額の合計（セント）",
		}),
		invitesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackpay_invites_generated_total",
			Help: "発行された招待コードの合計数",
		}),
		invitesClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackpay_invites_claimed_total",
			Help: "クレームされた招待コードの合計数",
		}),
		outboxDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackpay_outbox_deliveries_total",
			Help: "アクティビティWebhook配信の結果別件数",
		}, []string{"result"}),
		outboxHTTPStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackpay_outbox_http_status_total",
			Help: "Webhook配信先のHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		outboxLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trackpay_outbox_delivery_latency_seconds",
			Help:    "アクティビティWebhook配信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.sessionsStarted,
		c.sessionsStopped,
		c.paymentRequests,
		c.paymentsRecorded,
		c.paymentAmount,
		c.invitesGenerated,
		c.invitesClaimed,
		c.outboxDeliveries,
		c.outboxHTTPStatus,
		c.outboxLatency,
	)

	return c
}

// RecordSessionStarted はセッション開始を記録する。
func (c *Collector) RecordSessionStarted() {
	c.sessionsStarted.Inc()
}

// RecordSessionStopped はセッション終了を記録する。
func (c *Collector) RecordSessionStopped() {
	c.sessionsStopped.Inc()
}

// RecordPaymentRequest は支払い請求を記録する。
func (c *Collector) RecordPaymentRequest(sessionCount int) {
	c.paymentRequests.Inc()
}

// RecordPayment は支払い記録と金額を記録する。
func (c *Collector) RecordPayment(amountCents int64) {
	c.paymentsRecorded.Inc()
	c.paymentAmount.Add(float64(amountCents))
}

// RecordInviteGenerated は招待コード発行を記録する。
func (c *Collector) RecordInviteGenerated() {
	c.invitesGenerated.Inc()
}

// RecordInviteClaimed は招待コードのクレームを記録する。
func (c *Collector) RecordInviteClaimed() {
	c.invitesClaimed.Inc()
}

// RecordOutboxDelivery はWebhook配信結果を記録する。
func (c *Collector) RecordOutboxDelivery(result string) {
	c.outboxDeliveries.WithLabelValues(result).Inc()
}

// RecordOutboxHTTPStatus は配信先のHTTPステータスコードを記録する。
func (c *Collector) RecordOutboxHTTPStatus(statusCode int) {
	c.outboxHTTPStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordOutboxLatency はWebhook配信のレイテンシを記録する。
func (c *Collector) RecordOutboxLatency(duration time.Duration) {
	c.outboxLatency.Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordSessionStarted() {}
func (NopCollector) RecordSessionStopped() {}
func (NopCollector) RecordPaymentRequest(int) {}
func (NopCollector) RecordPayment(int64) {}
func (NopCollector) RecordInviteGenerated() {}
func (NopCollector) RecordInviteClaimed() {}
func (NopCollector) RecordOutboxDelivery(string) {}
func (NopCollector) RecordOutboxHTTPStatus(int) {}
func (NopCollector) RecordOutboxLatency(time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスの運用ポートで使用する。healthがnilでなければ/healthも公開する。
func SetupMetricsRoute(gatherer prometheus.Gatherer, health http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	if health != nil {
		mux.Handle("/health", health)
	}
	return mux
}
