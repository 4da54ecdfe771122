package security

import (
	"context"
	"log"
	"time"
)

// RateLimiter enforces a per-IP request ceiling over a fixed window.
// It runs before IP validation so a flood from anywhere is cut off
// without spending whitelist checks or security logging on it.
type RateLimiter struct {
	Store       Store
	MaxRequests int64
	Window      time.Duration
}

func NewRateLimiter(store Store) *RateLimiter {
	return &RateLimiter{Store: store, MaxRequests: 100, Window: time.Minute}
}

// Allow counts the request and reports whether ip is still within its
// budget. Counter errors fail open: a broken backend must not block
// provider callbacks.
func (r *RateLimiter) Allow(ctx context.Context, ip string) bool {
	n, err := r.Store.Incr(ctx, "mpesa_callback_rate_limit:"+ip, r.Window)
	if err != nil {
		log.Printf("rate limit store error for %s: %v", ip, err)
		return true
	}
	if n > r.MaxRequests {
		log.Printf("rate limit exceeded for IP %s: %d requests", ip, n)
		return false
	}
	return true
}

// FailureTracker counts unauthorized callback attempts per IP and raises
// an alert once they cross the threshold within the window.
type FailureTracker struct {
	Store     Store
	Threshold int64
	Window    time.Duration
}

func NewFailureTracker(store Store) *FailureTracker {
	return &FailureTracker{Store: store, Threshold: 10, Window: time.Hour}
}

func (f *FailureTracker) Record(ctx context.Context, ip string) {
	n, err := f.Store.Incr(ctx, "mpesa_callback_failed:"+ip, f.Window)
	if err != nil {
		log.Printf("failure tracker store error for %s: %v", ip, err)
		return
	}
	if n >= f.Threshold {
		log.Printf("SECURITY ALERT: %d failed callback attempts from IP %s within %s", n, ip, f.Window)
	}
}
