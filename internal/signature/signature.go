// Package signature signs and verifies webhook bodies with HMAC-SHA256 over
// "timestamp.body".
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	Header          = "X-Inspectline-Signature"
	TimestampHeader = "X-Inspectline-Timestamp"
	// Tolerance is how far a timestamp may drift from the receiver's clock.
	Tolerance = 5 * time.Minute
)

var (
	ErrMissing   = errors.New("missing signature")
	ErrMismatch  = errors.New("signature mismatch")
	ErrTimestamp = errors.New("timestamp outside tolerance")
)

// Sign returns the header value for body sent at ts.
func Sign(secret string, ts time.Time, body []byte) string {
	return "sha256=" + mac(secret, strconv.FormatInt(ts.Unix(), 10), body)
}

func mac(secret, ts string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks sig and the unix timestamp header against body.
func Verify(secret, sig, ts string, body []byte, now time.Time) error {
	if secret == "" || sig == "" || ts == "" {
		return ErrMissing
	}
	unix, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return ErrTimestamp
	}
	drift := now.Sub(time.Unix(unix, 0))
	if drift > Tolerance || drift < -Tolerance {
		return ErrTimestamp
	}
	got, ok := strings.CutPrefix(strings.TrimSpace(sig), "sha256=")
	if !ok {
		return ErrMismatch
	}
	want := mac(secret, strconv.FormatInt(unix, 10), body)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrMismatch
	}
	return nil
}
