package resilience

import (
	"math/rand"
	"sync"
	"time"
)

// Class groups failure causes by how the retry policy treats them.
type Class int

const (
	// ClassTransient failures may succeed on a later attempt and are
	// retried with exponential backoff.
	ClassTransient Class = iota
	// ClassPermanent failures will not succeed on retry; give up on the
	// first occurrence.
	ClassPermanent
)

// RetryPolicy decides whether a failed attempt should be retried and
// after what delay. The decision is a pure function of the attempt number
// and failure class; jitter draws from an internal rand source.
type RetryPolicy struct {
	MaxAttempts int           // total attempts allowed for transient failures
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap on the computed backoff
	Jitter      float64       // fraction of the delay randomized in [-j, +j]

	mu   sync.Mutex
	rand *rand.Rand
}

// NewRetryPolicy creates a policy with the given limits. Jitter is the
// fraction of each delay that is randomized, e.g. 0.2 for +/-20%.
func NewRetryPolicy(maxAttempts int, base, maxDelay time.Duration, jitter float64) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Jitter:      jitter,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Decide returns the delay before the next attempt and whether a retry is
// allowed. attempt is the number of attempts already made (>= 1).
func (p *RetryPolicy) Decide(attempt int, class Class) (time.Duration, bool) {
	if class == ClassPermanent {
		return 0, false
	}
	if attempt >= p.MaxAttempts {
		return 0, false
	}

	delay := p.BaseDelay << (attempt - 1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return p.jittered(delay), true
}

// jittered spreads delay by +/- the configured jitter fraction so that
// many tasks failing together do not retry in lockstep.
func (p *RetryPolicy) jittered(delay time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return delay
	}

	p.mu.Lock()
	f := p.rand.Float64()
	p.mu.Unlock()

	// f in [0,1) -> factor in [1-j, 1+j)
	factor := 1 - p.Jitter + 2*p.Jitter*f
	return time.Duration(float64(delay) * factor)
}

// SetRandSource replaces the jitter source, for deterministic tests.
func (p *RetryPolicy) SetRandSource(src rand.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rand = rand.New(src)
}
