package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/trackpay/trackpay-api/internal/metrics"
	"github.com/trackpay/trackpay-api/internal/model"
)

// maxErrorBodySize はエラー記録用に読み取るレスポンスボディの上限。
const maxErrorBodySize = 512

// DeliveryStore は配信結果を記録するインターフェース。
type DeliveryStore interface {
	MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, nextAttemptAt *time.Time, lastError string) error
}

// webhookPayload はWebhookに送信するアクティビティのJSON表現。
type webhookPayload struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	ProviderID string          `json:"provider_id"`
	ClientID   string          `json:"client_id"`
	SessionID  *string         `json:"session_id"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
}

func newWebhookPayload(a *model.Activity) webhookPayload {
	data := a.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return webhookPayload{
		ID:         a.ID,
		Type:       string(a.Type),
		ProviderID: a.ProviderID,
		ClientID:   a.ClientID,
		SessionID:  a.SessionID,
		Data:       data,
		CreatedAt:  a.CreatedAt,
	}
}

// Deliverer はアクティビティ1件をWebhookへPOSTし、結果をストアに記録する。
// Idempotency-KeyにアクティビティIDを設定するため、受信側は再送を重複排除できる。
type Deliverer struct {
	store      DeliveryStore
	client     *http.Client
	webhookURL string
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
}

// NewDeliverer はDelivererの新しいインスタンスを生成する。
// clientには内部アドレスへの接続を拒否するクライアントを渡す。
func NewDeliverer(
	store DeliveryStore,
	client *http.Client,
	webhookURL string,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Deliverer {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Deliverer{
		store:      store,
		client:     client,
		webhookURL: webhookURL,
		metrics:    collector,
		logger:     logger,
		now:        time.Now,
	}
}

// Deliver はアクティビティをWebhookへ配信する。
// 配信先の失敗はストアに記録した上でnilを返し、ストアへの記録失敗のみエラーとする。
func (d *Deliverer) Deliver(ctx context.Context, a *model.Activity) error {
	body, err := json.Marshal(newWebhookPayload(a))
	if err != nil {
		return d.fail(ctx, a, fmt.Sprintf("payload encode failed: %s", err), true)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return d.fail(ctx, a, fmt.Sprintf("request build failed: %s", err), true)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "TrackPay-Webhook/1.0")
	req.Header.Set("Idempotency-Key", a.ID)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("Webhookへのリクエストに失敗しました",
			slog.String("activity_id", a.ID),
			slog.String("error", err.Error()),
		)
		return d.fail(ctx, a, fmt.Sprintf("request failed: %s", err), false)
	}
	defer resp.Body.Close()

	duration := time.Since(start)
	d.metrics.RecordOutboxLatency(duration)
	d.metrics.RecordOutboxHTTPStatus(resp.StatusCode)

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case DeliveryResultOK:
		// コネクション再利用のためボディを読み捨てる
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
		if err := d.store.MarkDelivered(ctx, a.ID, d.now()); err != nil {
			return fmt.Errorf("配信完了の記録に失敗: %w", err)
		}
		d.metrics.RecordOutboxDelivery(metrics.OutboxResultDelivered)
		d.logger.Info("アクティビティを配信しました",
			slog.String("activity_id", a.ID),
			slog.String("activity_type", string(a.Type)),
			slog.Int("http_status", resp.StatusCode),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return nil

	case DeliveryResultRetry:
		return d.fail(ctx, a, statusError(resp), false)

	default:
		return d.fail(ctx, a, statusError(resp), true)
	}
}

// fail は配信失敗を記録する。permanentの場合は失敗回数にかかわらず配信を打ち切る。
func (d *Deliverer) fail(ctx context.Context, a *model.Activity, reason string, permanent bool) error {
	attempts := a.DeliveryAttempts + 1
	var next *time.Time
	if !permanent {
		next = NextAttempt(d.now(), attempts)
	}

	if err := d.store.MarkFailed(ctx, a.ID, attempts, next, reason); err != nil {
		return fmt.Errorf("配信失敗の記録に失敗: %w", err)
	}

	if next == nil {
		d.metrics.RecordOutboxDelivery(metrics.OutboxResultParked)
		d.logger.Error("アクティビティの配信を打ち切りました",
			slog.String("activity_id", a.ID),
			slog.Int("attempts", attempts),
			slog.String("reason", reason),
		)
		return nil
	}

	d.metrics.RecordOutboxDelivery(metrics.OutboxResultRetry)
	d.logger.Warn("アクティビティの配信を再試行します",
		slog.String("activity_id", a.ID),
		slog.Int("attempts", attempts),
		slog.Time("next_attempt_at", *next),
		slog.String("reason", reason),
	)
	return nil
}

// statusError はステータスコードとレスポンスボディ先頭からエラー文字列を作る。
func statusError(resp *http.Response) string {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if len(bytes.TrimSpace(snippet)) == 0 {
		return fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
}
