package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	limiter := newRateLimiter(5, time.Minute)

	for range 5 {
		assert.True(t, limiter.allow())
	}
	assert.False(t, limiter.allow())
}

func TestRateLimiterWindowSlides(t *testing.T) {
	limiter := newRateLimiter(2, 50*time.Millisecond)

	assert.True(t, limiter.allow())
	assert.True(t, limiter.allow())
	assert.False(t, limiter.allow())

	time.Sleep(80 * time.Millisecond)

	assert.True(t, limiter.allow())
}

func TestIdentifyLimiterIsPerIP(t *testing.T) {
	limiter := newIdentifyLimiter(1, time.Minute)

	assert.True(t, limiter.allow("10.0.0.1"))
	assert.False(t, limiter.allow("10.0.0.1"))

	// a different IP has its own budget
	assert.True(t, limiter.allow("10.0.0.2"))
}
