package tracking

import "time"

const msPerHour = int64(time.Hour / time.Millisecond)

// ComputeAmount は時給（セント）と作業時間から金額（セント）を求める。
// ミリ秒単位で計算し、0.5セント以上を切り上げる。
// 時間単位と端数に分けて掛けるため、長時間でも積がint64を超えない。
func ComputeAmount(hourlyRateCents int64, d time.Duration) int64 {
	if d <= 0 || hourlyRateCents <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	hours, rem := ms/msPerHour, ms%msPerHour
	return hourlyRateCents*hours + (hourlyRateCents*rem+msPerHour/2)/msPerHour
}

// DurationMinutes は作業時間を分単位に切り上げる。
func DurationMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
