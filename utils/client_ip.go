package utils

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Headers checked for the originating client address, in priority order.
// The first segment of a comma-separated value is the original client.
var ipHeaders = []string{
	"X-Forwarded-For",
	"X-Real-Ip",
	"Cf-Connecting-Ip",
	"X-Forwarded",
	"X-Cluster-Client-Ip",
	"Forwarded-For",
}

// ClientIP resolves the real client address behind proxies, load balancers
// and CDNs. Private header values are skipped in favour of a public one
// further down the list; if only private candidates exist the first one
// wins (typical for a local reverse proxy).
func ClientIP(r *http.Request) string {
	first := ""
	for _, h := range ipHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		ip := strings.TrimSpace(strings.Split(v, ",")[0])
		if ip == "" {
			continue
		}
		if first == "" {
			first = ip
		}
		if !IsPrivateIP(ip) {
			return ip
		}
	}
	if first != "" {
		return first
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsPrivateIP reports whether ip is a private, loopback or otherwise
// non-routable address. Unparseable input counts as private.
func IsPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsMulticast() || addr.IsUnspecified()
}
