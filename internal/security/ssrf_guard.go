package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// WebhookGuard はアクティビティWebhookの配信先を内部ネットワークから隔離する。
// 設定読み込み時のURL検証と、配信時に使用するHTTPクライアントの両方を提供する。
type WebhookGuard interface {
	// NewSafeClient は内部アドレスへの接続を拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client
	// ValidateURL は配信先URLを静的に検証する。
	ValidateURL(rawURL string) error
}

// allowedSchemes は配信先として許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedPrefixes は配信先として許可しないアドレス範囲。
// 名前解決後のアドレスはsafeurlのDialerが検証する。
var blockedPrefixes = mustParsePrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

// blockedHostnames は配信先として許可しないホスト名。
var blockedHostnames = []string{"localhost", "metadata.google.internal"}

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		prefixes = append(prefixes, netip.MustParsePrefix(c))
	}
	return prefixes
}

type webhookGuard struct {
	allowedPorts []int
}

// NewWebhookGuard はWebhookGuardを生成する。
func NewWebhookGuard() WebhookGuard {
	return &webhookGuard{allowedPorts: []int{80, 443}}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを返す。
// DNS再バインディングはDialerのControlフックで防止される。
func (g *webhookGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL は配信先URLのスキーム・ホスト・ポートを検証する。名前解決は行わない。
func (g *webhookGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if port := parsed.Port(); port != "" && !g.portAllowed(port) {
		return fmt.Errorf("disallowed port: %s", port)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	for _, blocked := range blockedHostnames {
		if lower == blocked || strings.HasSuffix(lower, "."+blocked) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	return nil
}

func (g *webhookGuard) portAllowed(port string) bool {
	for _, p := range g.allowedPorts {
		if fmt.Sprint(p) == port {
			return true
		}
	}
	return false
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
