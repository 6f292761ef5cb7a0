package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	InviteRate      rate.Limit    // 招待コード照会・クレームのレート（req/sec）。10/60
	InviteBurst     int           // 招待コード照会・クレームのバーストサイズ
	WaitlistRate    rate.Limit    // ウェイトリスト登録のレート（req/sec）。5/60
	WaitlistBurst   int           // ウェイトリスト登録のバーストサイズ
	AuthRate        rate.Limit    // 新規登録・ログインのレート（req/sec）。20/60
	AuthBurst       int           // 新規登録・ログインのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// PerMinute は1分あたりの回数からRateLimiterConfig用のレートとバーストを返す。
func PerMinute(n int) (rate.Limit, int) {
	if n <= 0 {
		n = 1
	}
	return rate.Limit(float64(n) / 60.0), n
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、招待 10 req/min、ウェイトリスト 5 req/min/IP、認証 20 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	cfg := RateLimiterConfig{CleanupInterval: 5 * time.Minute}
	cfg.GeneralRate, cfg.GeneralBurst = PerMinute(120)
	cfg.InviteRate, cfg.InviteBurst = PerMinute(10)
	cfg.WaitlistRate, cfg.WaitlistBurst = PerMinute(5)
	cfg.AuthRate, cfg.AuthBurst = PerMinute(20)
	return cfg
}

// keyLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は1種類のレート制限について、キーごとのトークンバケットを管理する。
type limiterSet struct {
	name  string
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*keyLimiter
}

func newLimiterSet(name string, limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		name:     name,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*keyLimiter),
	}
}

// get はキーのリミッターを取得または作成する。
func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	kl, ok := s.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = kl
	}
	kl.lastAccess = time.Now()
	return kl.limiter
}

func (s *limiterSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// evict は最終アクセス時刻がttlを超えたエントリを削除する。
func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

// RateLimiter はユーザーまたはクライアントIPごとのレート制限を管理する。
// 種類ごとにバケットを独立させる。
type RateLimiter struct {
	config RateLimiterConfig

	general  *limiterSet
	invite   *limiterSet
	waitlist *limiterSet
	auth     *limiterSet

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		general:  newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		invite:   newLimiterSet("invite", config.InviteRate, config.InviteBurst),
		waitlist: newLimiterSet("waitlist", config.WaitlistRate, config.WaitlistBurst),
		auth:     newLimiterSet("auth", config.AuthRate, config.AuthBurst),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// SessionMiddlewareの後に配置し、ユーザーIDをキーにする。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general)
}

// InviteMiddleware は招待コード照会・クレームのレート制限ミドルウェアを返す。
// 認証済みの場合はユーザーID、公開エンドポイントではクライアントIPをキーにする。
func (rl *RateLimiter) InviteMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.invite)
}

// WaitlistMiddleware はウェイトリスト登録のレート制限ミドルウェアを返す。
func (rl *RateLimiter) WaitlistMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.waitlist)
}

// AuthMiddleware は新規登録・ログインのレート制限ミドルウェアを返す。
// 未認証のためクライアントIPをキーにする。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.auth)
}

func (rl *RateLimiter) middleware(set *limiterSet) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)
			if !set.get(key).Allow() {
				writeRateLimitResponse(w, set.limit)
				slog.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.String("limit_type", set.name),
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitKey は認証済みならユーザーID、未認証ならクライアントIPを返す。
// RemoteAddrはchiのRealIPミドルウェアで書き換え済みであることを前提とする。
func rateLimitKey(r *http.Request) string {
	if userID, err := UserIDFromContext(r.Context()); err == nil {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.size()
}

// InviteLimiterCount は現在管理されている招待リミッターのエントリ数を返す。
func (rl *RateLimiter) InviteLimiterCount() int {
	return rl.invite.size()
}

// WaitlistLimiterCount は現在管理されているウェイトリストリミッターのエントリ数を返す。
func (rl *RateLimiter) WaitlistLimiterCount() int {
	return rl.waitlist.size()
}

// AuthLimiterCount は現在管理されている認証リミッターのエントリ数を返す。
func (rl *RateLimiter) AuthLimiterCount() int {
	return rl.auth.size()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	for _, set := range []*limiterSet{rl.general, rl.invite, rl.waitlist, rl.auth} {
		set.evict(now, ttl)
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	writeErrorBody(w, http.StatusTooManyRequests, ErrorResponseBody{
		Code:     "RATE_LIMITED",
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	})
}
