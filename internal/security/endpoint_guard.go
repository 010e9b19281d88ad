// Package security はアプリケーションのセキュリティ機能を提供する。
//
// EndpointGuardService は設定ファイルで与えられたGraph APIのベースURLを検証し、
// SSRF防止機能付きのHTTPクライアントを生成する。クローラーはDB資格情報を
// 持ったまま長時間リモートと通信するため、設定ミスや悪意ある設定で内部
// ネットワークへ到達しないことを起動時に保証する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// EndpointGuardService はリモートエンドポイントの検証機能のインターフェースを定義する。
type EndpointGuardService interface {
	// ValidateEndpoint はベースURLの安全性を静的に検証する。
	// スキーム、ホスト、IPアドレスを確認し、危険なURLの場合はエラーを返す。
	ValidateEndpoint(rawURL string) error

	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlがDNS解決後のIPアドレスをDialerレベルで検証するため、
	// DNS再バインディングにも対応している。
	NewSafeClient(timeout time.Duration) *http.Client
}

// blockedRanges はブロック対象のネットワーク範囲。
// プライベート(RFC 1918)、ループバック、リンクローカル（クラウドメタデータIPを含む）、
// IPv6のループバック/リンクローカル/ユニークローカルをカバーする。
var blockedRanges []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedRanges: %s: %v", cidr, err))
		}
		blockedRanges = append(blockedRanges, *network)
	}
}

// endpointGuard はEndpointGuardServiceの実装。
type endpointGuard struct{}

// NewEndpointGuard はEndpointGuardServiceの新しいインスタンスを生成する。
func NewEndpointGuard() *endpointGuard {
	return &endpointGuard{}
}

// ValidateEndpoint はベースURLの安全性を静的に検証する。
// DNS解決を伴わない事前チェックであり、解決後の検証はNewSafeClientが
// 生成するクライアント側で行われる。
func (g *endpointGuard) ValidateEndpoint(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty endpoint URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return fmt.Errorf("disallowed scheme: %s", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in endpoint URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedRanges {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
	}

	return nil
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
func (g *endpointGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// compile-time interface check
var _ EndpointGuardService = (*endpointGuard)(nil)
