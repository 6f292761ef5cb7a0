package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/trackpay/trackpay-api/internal/security"
)

// minSessionSecretLength はJWT署名鍵として要求するSESSION_SECRETの最小バイト数。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Invite
	InviteTTL time.Duration

	// Rate Limit（1分あたりの回数）
	RateLimitGeneral  int
	RateLimitInvite   int
	RateLimitWaitlist int
	RateLimitAuth     int

	// Email
	SendGridAPIKey string
	EmailSender    string

	// Outbox
	ActivityWebhookURL  string
	OutboxInterval      time.Duration
	OutboxBatchSize     int
	OutboxMaxConcurrent int
	OutboxTimeout       time.Duration

	// Cleanup
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Tracing
	OTLPEndpoint string
	OTLPInsecure bool

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// EmailEnabled はSendGridのAPIキーが設定されているかを返す。
func (c *Config) EmailEnabled() bool {
	return c.SendGridAPIKey != ""
}

// OutboxEnabled はアクティビティWebhookの配信先が設定されているかを返す。
func (c *Config) OutboxEnabled() bool {
	return c.ActivityWebhookURL != ""
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 2592000)
	cfg.InviteTTL = getEnvDuration("INVITE_TTL", 168*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitInvite = getEnvInt("RATE_LIMIT_INVITE", 10)
	cfg.RateLimitWaitlist = getEnvInt("RATE_LIMIT_WAITLIST", 5)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.SendGridAPIKey = os.Getenv("SENDGRID_API_KEY")
	cfg.EmailSender = getEnvString("EMAIL_SENDER", "no-reply@trackpay.app")
	cfg.ActivityWebhookURL = os.Getenv("ACTIVITY_WEBHOOK_URL")
	cfg.OutboxInterval = getEnvDuration("OUTBOX_INTERVAL", time.Minute)
	cfg.OutboxBatchSize = getEnvInt("OUTBOX_BATCH_SIZE", 50)
	cfg.OutboxMaxConcurrent = getEnvInt("OUTBOX_MAX_CONCURRENT", 5)
	cfg.OutboxTimeout = getEnvDuration("OUTBOX_TIMEOUT", 10*time.Second)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTLPInsecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:8081")

	if cfg.OutboxEnabled() {
		if err := security.NewWebhookGuard().ValidateURL(cfg.ActivityWebhookURL); err != nil {
			return nil, fmt.Errorf("ACTIVITY_WEBHOOK_URL is not allowed: %w", err)
		}
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
