package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry backoff bounds.
const (
	MinBackoff = 10 * time.Second
	MaxBackoff = 5 * time.Hour
)

// newBackOff returns the exponential policy used between retries: MinBackoff
// doubled per retry, capped at MaxBackoff, without jitter.
func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = MinBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = MaxBackoff
	b.MaxElapsedTime = 0 // never give up; Guard bounds the attempts
	b.Reset()
	return b
}
