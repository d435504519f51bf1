package signature

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Unix(1718100000, 0)
	body := []byte(`{"trigger":"n8n"}`)
	sig := Sign("s3cret", now, body)
	ts := strconv.FormatInt(now.Unix(), 10)

	assert.NoError(t, Verify("s3cret", sig, ts, body, now.Add(time.Minute)))
	assert.ErrorIs(t, Verify("other", sig, ts, body, now), ErrMismatch)
	assert.ErrorIs(t, Verify("s3cret", sig, ts, []byte(`{"trigger":"x"}`), now), ErrMismatch)
	assert.ErrorIs(t, Verify("s3cret", sig, ts, body, now.Add(6*time.Minute)), ErrTimestamp)
	assert.ErrorIs(t, Verify("s3cret", sig, ts, body, now.Add(-6*time.Minute)), ErrTimestamp)
	assert.ErrorIs(t, Verify("s3cret", "", ts, body, now), ErrMissing)
	assert.ErrorIs(t, Verify("s3cret", sig[len("sha256="):], ts, body, now), ErrMismatch)
	assert.ErrorIs(t, Verify("s3cret", sig, "yesterday", body, now), ErrTimestamp)
}
