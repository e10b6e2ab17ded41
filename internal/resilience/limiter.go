package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrAcquireTimeout is returned when no permit became available within the
// provider's configured wait timeout.
var ErrAcquireTimeout = errors.New("rate limit: timed out waiting for permit")

// Gate holds the admission settings for one provider.
type Gate struct {
	Capacity       int           // max concurrent in-flight calls
	AcquireTimeout time.Duration // max time a caller waits for a permit
}

// Limiter bounds concurrent calls per provider. Waiters are admitted in
// FIFO order (semaphore.Weighted queues waiters first-come first-served),
// so sustained load cannot starve early requesters.
type Limiter struct {
	mu    sync.Mutex
	gates map[string]*gate
}

type gate struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewLimiter creates a limiter from per-provider gate settings.
func NewLimiter(gates map[string]Gate) *Limiter {
	l := &Limiter{gates: make(map[string]*gate, len(gates))}
	for name, g := range gates {
		capacity := g.Capacity
		if capacity < 1 {
			capacity = 1
		}
		l.gates[name] = &gate{
			sem:     semaphore.NewWeighted(int64(capacity)),
			timeout: g.AcquireTimeout,
		}
	}
	return l
}

// Acquire blocks until a permit for the named provider is available, the
// gate's wait timeout elapses (ErrAcquireTimeout), or ctx is cancelled.
// The returned release function must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context, providerName string) (release func(), err error) {
	g, err := l.gate(providerName)
	if err != nil {
		return nil, err
	}

	acquireCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrAcquireTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.sem.Release(1) })
	}, nil
}

func (l *Limiter) gate(providerName string) (*gate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.gates[providerName]
	if !ok {
		return nil, fmt.Errorf("no rate limit gate configured for provider %q", providerName)
	}
	return g, nil
}
