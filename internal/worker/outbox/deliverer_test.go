package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trackpay/trackpay-api/internal/metrics"
	"github.com/trackpay/trackpay-api/internal/model"
)

// --- モック定義 ---

type failedCall struct {
	id       string
	attempts int
	next     *time.Time
	reason   string
}

// mockStore はDeliveryStoreのテスト用モック。
type mockStore struct {
	mu          sync.Mutex
	delivered   []string
	failed      []failedCall
	deliverErr  error
	markFailErr error
}

func (m *mockStore) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deliverErr != nil {
		return m.deliverErr
	}
	m.delivered = append(m.delivered, id)
	return nil
}

func (m *mockStore) MarkFailed(ctx context.Context, id string, attempts int, nextAttemptAt *time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markFailErr != nil {
		return m.markFailErr
	}
	m.failed = append(m.failed, failedCall{id: id, attempts: attempts, next: nextAttemptAt, reason: lastError})
	return nil
}

// recordingCollector はアウトボックス関連のメトリクス呼び出しを記録する。
type recordingCollector struct {
	metrics.NopCollector
	mu       sync.Mutex
	results  []string
	statuses []int
}

func (c *recordingCollector) RecordOutboxDelivery(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

func (c *recordingCollector) RecordOutboxHTTPStatus(statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, statusCode)
}

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func testActivity(attempts int) *model.Activity {
	sessionID := "session-1"
	return &model.Activity{
		ID:               "activity-1",
		Type:             model.ActivitySessionEnd,
		ProviderID:       "provider-1",
		ClientID:         "client-1",
		SessionID:        &sessionID,
		Data:             json.RawMessage(`{"amount_cents":6750}`),
		CreatedAt:        testNow.Add(-time.Minute),
		DeliveryAttempts: attempts,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestDeliverer(store DeliveryStore, url string, collector metrics.MetricsCollector) *Deliverer {
	d := NewDeliverer(store, &http.Client{Timeout: 5 * time.Second}, url, collector, discardLogger())
	d.now = func() time.Time { return testNow }
	return d
}

// --- テスト ---

func TestDeliverer_Deliver_Success(t *testing.T) {
	var gotKey, gotContentType string
	var gotBody webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("ボディのデコードに失敗: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := &mockStore{}
	collector := &recordingCollector{}
	d := newTestDeliverer(store, srv.URL, collector)

	if err := d.Deliver(context.Background(), testActivity(0)); err != nil {
		t.Fatalf("Deliver() がエラーを返した: %v", err)
	}

	if gotKey != "activity-1" {
		t.Errorf("Idempotency-Key = %q, want activity-1", gotKey)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotBody.Type != "session_end" || gotBody.SessionID == nil || *gotBody.SessionID != "session-1" {
		t.Errorf("payload = %+v", gotBody)
	}
	if string(gotBody.Data) != `{"amount_cents":6750}` {
		t.Errorf("data = %s", gotBody.Data)
	}

	if len(store.delivered) != 1 || store.delivered[0] != "activity-1" {
		t.Errorf("delivered = %v", store.delivered)
	}
	if len(store.failed) != 0 {
		t.Errorf("成功時に MarkFailed を呼んではならない: %v", store.failed)
	}
	if len(collector.results) != 1 || collector.results[0] != metrics.OutboxResultDelivered {
		t.Errorf("results = %v", collector.results)
	}
	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusNoContent {
		t.Errorf("statuses = %v", collector.statuses)
	}
}

func TestDeliverer_Deliver_ServerErrorSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := &mockStore{}
	collector := &recordingCollector{}
	d := newTestDeliverer(store, srv.URL, collector)

	// 既に2回失敗している
	if err := d.Deliver(context.Background(), testActivity(2)); err != nil {
		t.Fatalf("配信先の失敗ではエラーを返さない: %v", err)
	}

	if len(store.failed) != 1 {
		t.Fatalf("MarkFailed が1回呼ばれるべき: %v", store.failed)
	}
	call := store.failed[0]
	if call.attempts != 3 {
		t.Errorf("attempts = %d, want 3", call.attempts)
	}
	if call.next == nil {
		t.Fatal("再送時刻が設定されるべき")
	}
	if want := testNow.Add(4 * time.Minute); !call.next.Equal(want) {
		t.Errorf("next = %v, want %v", *call.next, want)
	}
	if !strings.HasPrefix(call.reason, "HTTP 503") || !strings.Contains(call.reason, "upstream unavailable") {
		t.Errorf("reason = %q", call.reason)
	}
	if len(collector.results) != 1 || collector.results[0] != metrics.OutboxResultRetry {
		t.Errorf("results = %v", collector.results)
	}
}

func TestDeliverer_Deliver_ParksAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := &mockStore{}
	collector := &recordingCollector{}
	d := newTestDeliverer(store, srv.URL, collector)

	if err := d.Deliver(context.Background(), testActivity(maxAttempts-1)); err != nil {
		t.Fatalf("Deliver() がエラーを返した: %v", err)
	}

	call := store.failed[0]
	if call.attempts != maxAttempts {
		t.Errorf("attempts = %d, want %d", call.attempts, maxAttempts)
	}
	if call.next != nil {
		t.Errorf("上限到達時は再送時刻を設定しない: %v", *call.next)
	}
	if call.reason != "HTTP 429" {
		t.Errorf("reason = %q, want HTTP 429", call.reason)
	}
	if collector.results[0] != metrics.OutboxResultParked {
		t.Errorf("results = %v", collector.results)
	}
}

// 再送しても成功しない4xxは1回目で打ち切ること。
func TestDeliverer_Deliver_ClientErrorParksImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := &mockStore{}
	d := newTestDeliverer(store, srv.URL, nil)

	if err := d.Deliver(context.Background(), testActivity(0)); err != nil {
		t.Fatalf("Deliver() がエラーを返した: %v", err)
	}

	call := store.failed[0]
	if call.attempts != 1 || call.next != nil {
		t.Errorf("failed = %+v, want attempts=1 and no retry", call)
	}
}

func TestDeliverer_Deliver_TransportErrorSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // 接続できないURLにする

	store := &mockStore{}
	d := newTestDeliverer(store, url, nil)

	if err := d.Deliver(context.Background(), testActivity(0)); err != nil {
		t.Fatalf("Deliver() がエラーを返した: %v", err)
	}

	call := store.failed[0]
	if call.next == nil || !call.next.Equal(testNow.Add(time.Minute)) {
		t.Errorf("next = %v, want +1m", call.next)
	}
	if !strings.HasPrefix(call.reason, "request failed") {
		t.Errorf("reason = %q", call.reason)
	}
}

func TestDeliverer_Deliver_StoreErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	storeErr := errors.New("db down")
	d := newTestDeliverer(&mockStore{deliverErr: storeErr}, srv.URL, nil)

	err := d.Deliver(context.Background(), testActivity(0))
	if !errors.Is(err, storeErr) {
		t.Errorf("ストアのエラーが返されるべき: %v", err)
	}
}

func TestDeliverer_Deliver_LogsDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	d := NewDeliverer(&mockStore{}, srv.Client(), srv.URL, nil, slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := d.Deliver(context.Background(), testActivity(0)); err != nil {
		t.Fatalf("Deliver() がエラーを返した: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("ログのパースに失敗: %v: %s", err, buf.String())
	}
	if entry["activity_id"] != "activity-1" || entry["http_status"] != float64(200) {
		t.Errorf("log = %v", entry)
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Errorf("ログに duration_ms が記録されていない: %v", entry)
	}
}
