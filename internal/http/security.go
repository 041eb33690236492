package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
)

// securityMetrics tracks security-related events exposed on /metrics.
type securityMetrics struct {
	rateLimitHits      int64
	suspiciousRequests int64
}

// trustedProxies are the networks allowed to set forwarding headers.
// Anything else claiming X-Forwarded-For is ignored and billed against
// its own address by the rate limiter.
var trustedProxies = mustCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
)

func mustCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("bad trusted proxy CIDR %s: %v", cidr, err))
		}
		nets = append(nets, network)
	}
	return nets
}

func fromTrustedProxy(ip net.IP) bool {
	for _, network := range trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// extractClientIP resolves the address the rate limiter keys on.
// Forwarding headers are honored only when the direct peer is a trusted
// proxy; otherwise they could be forged to dodge the per-IP limit.
func extractClientIP(r *http.Request) string {
	direct, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		direct = r.RemoteAddr
	}

	ip := net.ParseIP(direct)
	if ip == nil || !fromTrustedProxy(ip) {
		return direct
	}

	if forwarded := firstForwardedIP(r); forwarded != "" {
		return forwarded
	}
	return direct
}

// firstForwardedIP returns the leftmost valid address from the
// forwarding headers, preferring X-Forwarded-For over X-Real-IP.
func firstForwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}
	return ""
}

// scannerFragments are URL fragments the simulation routes never contain
// legitimately: scanner noise for admin panels and dotfiles, traversal
// sequences, and injection markers.
var scannerFragments = []string{
	"../", "..\\", "etc/passwd",
	".env", ".git", ".ssh",
	"wp-admin", "phpmyadmin", "admin.php", "config.php", "cmd.exe",
	"<script", "javascript:", "eval(", "union select",
}

const maxURLLength = 2048

// detectSuspiciousRequest flags requests that look like scanner or
// injection traffic. Flagged requests are counted and logged but still
// routed normally.
func detectSuspiciousRequest(r *http.Request, metrics *securityMetrics) bool {
	suspicious := looksLikeScan(r.URL.Path) ||
		looksLikeScan(r.URL.RawQuery) ||
		unusualMethod(r.Method) ||
		len(r.URL.String()) > maxURLLength ||
		stuffedForwardingChain(r)

	if suspicious && metrics != nil {
		atomic.AddInt64(&metrics.suspiciousRequests, 1)
	}
	return suspicious
}

func looksLikeScan(s string) bool {
	s = strings.ToLower(s)
	for _, fragment := range scannerFragments {
		if strings.Contains(s, fragment) {
			return true
		}
	}
	return false
}

// unusualMethod reports methods no client of this API has a reason to use.
func unusualMethod(method string) bool {
	switch method {
	case "TRACE", "TRACK", "DEBUG", "CONNECT":
		return true
	}
	return false
}

// stuffedForwardingChain flags an implausibly long proxy chain, a common
// shape for header stuffing against IP-keyed rate limits.
func stuffedForwardingChain(r *http.Request) bool {
	xff := r.Header.Get("X-Forwarded-For")
	return xff != "" && r.Header.Get("X-Real-IP") != "" && strings.Count(xff, ",") > 5
}
