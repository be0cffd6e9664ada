package importer

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_DefaultIsUnlimitedAndImmediate(t *testing.T) {
	b := RetryPolicy{}.newBackOff()
	for range 1000 {
		assert.Equal(t, time.Duration(0), b.NextBackOff())
	}
}

func TestRetryPolicy_MaxAttempts(t *testing.T) {
	b := RetryPolicy{MaxAttempts: 3}.newBackOff()

	// Two retries after the first attempt, then stop.
	assert.Equal(t, time.Duration(0), b.NextBackOff())
	assert.Equal(t, time.Duration(0), b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestRetryPolicy_SingleAttempt(t *testing.T) {
	b := RetryPolicy{MaxAttempts: 1}.newBackOff()
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestRetryPolicy_Exponential(t *testing.T) {
	b := RetryPolicy{InitialInterval: 100 * time.Millisecond, MaxInterval: 400 * time.Millisecond}.newBackOff()

	first := b.NextBackOff()
	assert.GreaterOrEqual(t, first, 50*time.Millisecond)
	assert.LessOrEqual(t, first, 150*time.Millisecond)

	for range 20 {
		d := b.NextBackOff()
		assert.NotEqual(t, backoff.Stop, d, "no elapsed-time cap")
		assert.LessOrEqual(t, d, 600*time.Millisecond)
	}
}
