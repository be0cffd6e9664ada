package importer

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how transient fetch failures are retried. The zero
// value retries forever with no delay beyond the scheduler's own spacing.
type RetryPolicy struct {
	// MaxAttempts caps fetches per range lineage, the first one included.
	// Zero means unlimited.
	MaxAttempts int
	// InitialInterval enables exponential backoff between attempts.
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay. Zero keeps the library default.
	MaxInterval time.Duration
}

// newBackOff returns the delay source for one range lineage. A split starts
// new lineages; a swap retry continues the current one.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialInterval > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.InitialInterval
		if p.MaxInterval > 0 {
			eb.MaxInterval = p.MaxInterval
		}
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	}
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return b
}
