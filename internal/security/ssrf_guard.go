// Package security はIdPへの外向き通信とプロフィール値の安全性を扱う。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// blockedPrefixes は公開URLとして受け付けないアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),      // カレントネットワーク
	netip.MustParsePrefix("10.0.0.0/8"),     // RFC 1918
	netip.MustParsePrefix("172.16.0.0/12"),  // RFC 1918
	netip.MustParsePrefix("192.168.0.0/16"), // RFC 1918
	netip.MustParsePrefix("127.0.0.0/8"),    // ループバック
	netip.MustParsePrefix("169.254.0.0/16"), // リンクローカル（メタデータIPを含む）
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// SSRFGuard はIdPのトークン・ユーザー情報エンドポイントへの通信に使う
// HTTPクライアントを生成する。
type SSRFGuard struct{}

// NewSSRFGuard はSSRFGuardを生成する。
func NewSSRFGuard() *SSRFGuard {
	return &SSRFGuard{}
}

// NewSafeClient はhttps:443のみに接続できるHTTPクライアントを生成する。
// safeurlがDNS解決後のIPアドレスをDialerで検証するため、
// プライベートIPやメタデータIPへの接続はDNS再バインディング経由でも拒否される。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidatePublicURL は絶対URLがhttp/httpsかつ公開ホストを指しているかを静的に検証する。
// DNS解決は行わない。
func (g *SSRFGuard) ValidatePublicURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return fmt.Errorf("blocked IP address: %s", addr)
			}
		}
	} else if net.ParseIP(host) != nil {
		return fmt.Errorf("unparseable IP address: %s", host)
	}

	return nil
}
