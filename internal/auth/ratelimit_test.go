package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestRateLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimitConfig{
		MaxAttempts:     3,
		WindowDuration:  time.Minute,
		LockoutDuration: time.Minute,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiterAllowsFreshKey(t *testing.T) {
	rl := newTestRateLimiter(t)

	ok, retry := rl.Allow("127.0.0.1", "reader")
	assert.True(t, ok)
	assert.Zero(t, retry)
}

func TestRateLimiterLocksAfterMaxFailures(t *testing.T) {
	rl := newTestRateLimiter(t)

	for i := 0; i < 2; i++ {
		locked, _ := rl.RecordFailure("127.0.0.1", "reader")
		assert.False(t, locked)
	}

	locked, retry := rl.RecordFailure("127.0.0.1", "reader")
	assert.True(t, locked)
	assert.Positive(t, retry)

	ok, retry := rl.Allow("127.0.0.1", "reader")
	assert.False(t, ok)
	assert.Positive(t, retry)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := newTestRateLimiter(t)

	for i := 0; i < 3; i++ {
		rl.RecordFailure("127.0.0.1", "reader")
	}

	ok, _ := rl.Allow("127.0.0.1", "other-user")
	assert.True(t, ok)

	ok, _ = rl.Allow("10.0.0.5", "reader")
	assert.True(t, ok)
}

func TestRateLimiterSuccessClearsFailures(t *testing.T) {
	rl := newTestRateLimiter(t)

	for i := 0; i < 3; i++ {
		rl.RecordFailure("127.0.0.1", "reader")
	}
	rl.RecordSuccess("127.0.0.1", "reader")

	ok, _ := rl.Allow("127.0.0.1", "reader")
	assert.True(t, ok)
}
