package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

const (
	// SignatureHeader carries the base64 HMAC-SHA256 of the raw body.
	SignatureHeader = "X-Mpesa-Signature"
	// TimestampHeader, when present, is concatenated to the body before
	// signing and must fall within the tolerance window.
	TimestampHeader = "X-Timestamp"
)

// SignatureValidator is the optional shared-secret layer on callbacks.
// The signature covers the raw request body, optionally followed by the
// timestamp header value, to block both tampering and replays.
type SignatureValidator struct {
	Secret    []byte
	Tolerance time.Duration

	now func() time.Time // test hook
}

func NewSignatureValidator(secret string) *SignatureValidator {
	return &SignatureValidator{
		Secret:    []byte(secret),
		Tolerance: 5 * time.Minute,
		now:       time.Now,
	}
}

// Sign computes the signature a well-behaved sender would attach.
func (v *SignatureValidator) Sign(body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write(body)
	if timestamp != "" {
		mac.Write([]byte(timestamp))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Validate checks the provided signature against the raw body using a
// constant-time comparison.
func (v *SignatureValidator) Validate(body []byte, provided, timestamp string) error {
	if provided == "" {
		return errors.New("missing signature header")
	}
	if len(body) == 0 {
		return errors.New("cannot validate signature of empty payload")
	}
	if timestamp != "" && !v.timestampValid(timestamp) {
		return errors.New("request timestamp is outside the acceptable range")
	}
	want := v.Sign(body, timestamp)
	if !hmac.Equal([]byte(provided), []byte(want)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// timestampValid accepts Unix seconds or RFC 3339 within the tolerance.
func (v *SignatureValidator) timestampValid(ts string) bool {
	nowFn := v.now
	if nowFn == nil {
		nowFn = time.Now
	}
	var requestTime time.Time
	if unix, err := strconv.ParseFloat(ts, 64); err == nil {
		sec := int64(unix)
		requestTime = time.Unix(sec, int64((unix-float64(sec))*float64(time.Second)))
	} else if t, err := time.Parse(time.RFC3339, ts); err == nil {
		requestTime = t
	} else {
		return false
	}
	diff := nowFn().Sub(requestTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= v.Tolerance
}
