package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/saveenergy/pagevitals/internal/config"
)

// ClientIPResolver finds the address a report came from. Proxy headers are
// honoured only when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trustProxyHeaders bool
	trustedProxies    []netip.Prefix
	anonymize         bool
}

func NewClientIPResolver(cfg *config.Config) *ClientIPResolver {
	if cfg == nil {
		return &ClientIPResolver{}
	}
	r := &ClientIPResolver{
		trustProxyHeaders: cfg.TrustProxyHeaders,
		anonymize:         cfg.AnonymizeClientIP,
	}
	for _, entry := range cfg.TrustedProxyCIDRs {
		if p, err := netip.ParsePrefix(strings.TrimSpace(entry)); err == nil {
			r.trustedProxies = append(r.trustedProxies, p.Masked())
		}
	}
	return r
}

// FromRequest returns the client address used for rate limiting.
func (r *ClientIPResolver) FromRequest(req *http.Request) string {
	return addrString(r.resolve(req))
}

// ForStorage returns the address persisted with a report, truncated to its
// /24 (IPv4) or /48 (IPv6) network when anonymization is on.
func (r *ClientIPResolver) ForStorage(req *http.Request) string {
	addr := r.resolve(req)
	if !r.anonymize || !addr.IsValid() {
		return addrString(addr)
	}
	return addrString(anonymize(addr))
}

func (r *ClientIPResolver) resolve(req *http.Request) netip.Addr {
	peer := parseAddr(req.RemoteAddr)
	if !r.trustProxyHeaders || !r.trusted(peer) {
		return peer
	}

	// Forwarded (RFC 7239) wins over the de facto headers when both exist.
	if addr, ok := r.lastUntrusted(forwardedFor(req.Header.Values("Forwarded"))); ok {
		return addr
	}
	if addr, ok := r.lastUntrusted(splitList(req.Header.Values("X-Forwarded-For"))); ok {
		return addr
	}
	if addr := parseAddr(req.Header.Get("X-Real-IP")); addr.IsValid() {
		return addr
	}
	return peer
}

// lastUntrusted walks hops right to left and returns the first address that
// is not a trusted proxy. Entries further left are client supplied.
func (r *ClientIPResolver) lastUntrusted(hops []string) (netip.Addr, bool) {
	for i := len(hops) - 1; i >= 0; i-- {
		addr := parseAddr(hops[i])
		if !addr.IsValid() || r.trusted(addr) {
			continue
		}
		return addr, true
	}
	return netip.Addr{}, false
}

func (r *ClientIPResolver) trusted(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	for _, p := range r.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedFor extracts the for= parameters of Forwarded header values.
func forwardedFor(values []string) []string {
	var hops []string
	for _, elem := range splitList(values) {
		for _, pair := range strings.Split(elem, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && strings.EqualFold(key, "for") {
				hops = append(hops, strings.Trim(value, `"`))
			}
		}
	}
	return hops
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// parseAddr accepts a bare address, host:port, or a bracketed IPv6 address
// with or without a port.
func parseAddr(value string) netip.Addr {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return netip.Addr{}
	}
	if addr, err := netip.ParseAddr(strings.Trim(clean, "[]")); err == nil {
		return addr.Unmap()
	}
	if host, _, err := net.SplitHostPort(clean); err == nil {
		if addr, err := netip.ParseAddr(host); err == nil {
			return addr.Unmap()
		}
	}
	return netip.Addr{}
}

func anonymize(addr netip.Addr) netip.Addr {
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return addr
	}
	return p.Addr()
}

func addrString(addr netip.Addr) string {
	if !addr.IsValid() {
		return "unknown"
	}
	return addr.String()
}
