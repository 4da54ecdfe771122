package security

import (
	"log"
	"net/netip"
)

// Official Safaricom callback source addresses, per the Daraja
// documentation. Keep updated when Safaricom announces changes.
var SafaricomIPs = []string{
	"196.201.214.200",
	"196.201.214.206",
	"196.201.213.114",
	"196.201.214.207",
	"196.201.214.208",
	"196.201.213.44",
	"196.201.212.127",
	"196.201.212.138",
	"196.201.212.129",
	"196.201.212.136",
	"196.201.212.74",
	"196.201.212.69",
}

var SafaricomCIDRs = []string{
	"196.201.214.0/24",
	"196.201.213.0/24",
	"196.201.212.0/24",
}

// IPWhitelist decides whether a callback origin belongs to the payment
// provider. In permissive mode loopback addresses are also accepted, for
// local testing against the sandbox.
type IPWhitelist struct {
	ips        map[string]struct{}
	ranges     []netip.Prefix
	Permissive bool
}

func NewIPWhitelist(ips, cidrs []string, permissive bool) *IPWhitelist {
	w := &IPWhitelist{ips: make(map[string]struct{}), Permissive: permissive}
	for _, ip := range ips {
		w.ips[ip] = struct{}{}
	}
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			log.Printf("ignoring invalid whitelist CIDR %q: %v", c, err)
			continue
		}
		w.ranges = append(w.ranges, p)
	}
	return w
}

// Allowed reports whether ip may reach the callback endpoint.
func (w *IPWhitelist) Allowed(ip string) bool {
	if _, ok := w.ips[ip]; ok {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	if w.Permissive && addr.IsLoopback() {
		log.Printf("permissive mode: allowing local IP %s", ip)
		return true
	}
	for _, p := range w.ranges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
