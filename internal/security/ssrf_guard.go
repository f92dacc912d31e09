// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService は画像URL入力に対するSSRF防止機能のインターフェース。
//
// 画像URLはこのサーバーからのHEADによる事前確認と、remove.bgへの転送の両方に使われる。
// ここで防ぐのは、利用者の指定したURLを足掛かりに以下へ到達されること:
//   - 内部ネットワークやクラウドのメタデータエンドポイント
//   - http/https以外のスキーム（file, gopher など）
//   - 80/443以外のポートで待ち受ける内部サービス
//   - URLに埋め込まれた認証情報の外部送信
type SSRFGuardService interface {
	// NewSafeClient はDNS解決後のIPアドレスも検証するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はDNS解決を伴わない静的な検証を行い、危険なURLの場合はエラーを返す。
	ValidateURL(rawURL string) error
}

// maxImageURLLength は受け付ける画像URLの最大長。
const maxImageURLLength = 2048

// allowedSchemes は画像URLに許可するスキーム。
var allowedSchemes = []string{"http", "https"}

// allowedPorts は画像URLに許可するポート。NewSafeClientの設定と揃える。
var allowedPorts = []int{80, 443}

// blockedNetworks は画像URLの宛先として拒否するネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// キャリアグレードNAT (RFC 6598)
		"100.64.0.0/10",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル。クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック、リンクローカル、ユニークローカル
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// blockedHostnames は名前で拒否するホスト。
var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
	"metadata",
}

// blockedHostSuffixes は末尾一致で拒否するホスト名。
var blockedHostSuffixes = []string{
	".localhost",
	".internal",
	".local",
}

type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックで接続先IPを検証するため、
// 公開ホスト名がプライベートIPに解決される場合（DNS再バインディング）も接続しない。
// リダイレクト先も同じDialerを通るため、公開URLから内部へのリダイレクトも遮断される。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL は画像URLを静的に検証する。
// DNS再バインディングはNewSafeClientのDialer側で防ぐ。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}
	if len(rawURL) > maxImageURLLength {
		return fmt.Errorf("URL is too long: %d bytes (max %d)", len(rawURL), maxImageURLLength)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	// 認証情報付きURLはremove.bgにもそのまま渡ってしまう
	if parsed.User != nil {
		return fmt.Errorf("URL must not contain credentials")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if port := parsed.Port(); port != "" && !isAllowedPort(port) {
		return fmt.Errorf("disallowed port: %s", port)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isAllowedPort(port string) bool {
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	for _, p := range allowedPorts {
		if n == p {
			return true
		}
	}
	return false
}

// isBlockedIP はIPアドレスがブロック対象の範囲に含まれるかを返す。
// IPv4射影IPv6アドレス（::ffff:127.0.0.1 など）はIPv4として照合する。
func isBlockedIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
