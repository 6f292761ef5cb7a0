package outbox

import (
	"time"
)

// DeliveryResult はWebhook配信先のHTTPステータスコードに基づく配信結果の分類。
type DeliveryResult int

const (
	// DeliveryResultOK は配信成功（2xx）。
	DeliveryResultOK DeliveryResult = iota
	// DeliveryResultRetry はバックオフ後に再送するステータス（408/429/5xx）。
	DeliveryResultRetry
	// DeliveryResultPermanent は再送しても成功しないステータス（その他の4xxなど）。
	DeliveryResultPermanent
)

const (
	// initialBackoff は指数バックオフの初回遅延（1分）。
	initialBackoff = time.Minute
	// maxBackoff は指数バックオフの最大遅延（1時間）。
	maxBackoff = time.Hour
	// maxAttempts はこの回数失敗した時点で配信を打ち切る。
	maxAttempts = 10
)

// ClassifyHTTPStatus はHTTPステータスコードを配信結果に分類する。
func ClassifyHTTPStatus(statusCode int) DeliveryResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return DeliveryResultOK
	case statusCode == 408 || statusCode == 429:
		return DeliveryResultRetry
	case statusCode >= 500:
		return DeliveryResultRetry
	default:
		return DeliveryResultPermanent
	}
}

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回1分、2倍ずつ増加、最大1時間。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// NextAttempt は累計失敗回数attemptsから次回配信時刻を決める。
// 上限に達した場合はnilを返し、以降の配信を行わない。
func NextAttempt(now time.Time, attempts int) *time.Time {
	if attempts >= maxAttempts {
		return nil
	}
	next := now.Add(CalculateBackoff(attempts - 1))
	return &next
}
