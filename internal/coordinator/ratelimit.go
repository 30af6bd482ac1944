package coordinator

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig controls the per-IP sliding-window limiter applied to
// worker registration and the whole admin surface (reads included), and the
// trusted-proxy set used to decide whether
// X-Forwarded-For/X-Real-IP may override the transport peer address.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	TrustForwarded    bool
	TrustedProxies    []string
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = 60
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

// clientIPResolver derives the caller's address, trusting forwarding
// headers only when the immediate peer is in a configured trusted-proxy
// set (or TrustForwarded is set unconditionally) — mirrors the teacher's
// own clientIPResolver in internal/server/server.go.
type clientIPResolver struct {
	trustForwarded bool
	trustedNets    []*net.IPNet
}

func newClientIPResolver(cfg RateLimitConfig) *clientIPResolver {
	resolver := &clientIPResolver{trustForwarded: cfg.TrustForwarded}
	for _, raw := range cfg.TrustedProxies {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, network, err := net.ParseCIDR(trimmed); err == nil {
			resolver.trustedNets = append(resolver.trustedNets, network)
			continue
		}
		if ip := net.ParseIP(trimmed); ip != nil {
			maskSize := 128
			if ip.To4() != nil {
				maskSize = 32
			}
			resolver.trustedNets = append(resolver.trustedNets, &net.IPNet{IP: ip, Mask: net.CIDRMask(maskSize, maskSize)})
		}
	}
	return resolver
}

func (r *clientIPResolver) shouldTrust(remoteAddr string) bool {
	if r.trustForwarded {
		return true
	}
	if len(r.trustedNets) == 0 {
		return false
	}
	host := hostOf(remoteAddr)
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range r.trustedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP resolves the caller's address for rate limiting and audit
// logging.
func (r *clientIPResolver) ClientIP(req *http.Request) string {
	if r.shouldTrust(req.RemoteAddr) {
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
				return first
			}
		}
		if xrip := strings.TrimSpace(req.Header.Get("X-Real-IP")); xrip != "" {
			return xrip
		}
	}
	return hostOf(req.RemoteAddr)
}

func hostOf(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// rateLimitMiddleware wraps go-chi/httprate's per-key sliding-window counter, keying
// on the resolved client IP rather than httprate's default RemoteAddr
// parsing so the trusted-proxy rules above apply. On exhaustion it writes
// spec.md §4.3's `{detail, error}` JSON body instead of httprate's default
// plaintext response.
func rateLimitMiddleware(cfg RateLimitConfig, resolver *clientIPResolver) func(http.Handler) http.Handler {
	cfg = cfg.withDefaults()
	return httprate.Limit(
		cfg.RequestsPerWindow,
		cfg.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return resolver.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Detail: "rate limited", Error: "rate_limited"})
		}),
	)
}
