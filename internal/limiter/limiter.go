// SPDX-License-Identifier: AGPL-3.0-only

// Package limiter implements spec.md §4.6's limits: a single global GCRA
// rate limit (not keyed per client — the service protects itself, not
// individual callers) and a worker semaphore bounding concurrent image
// processing, both reused from the teacher's throttled-based middleware but
// reconfigured from per-IP to a single fixed key.
package limiter

import (
	"context"

	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"
	"golang.org/x/sync/semaphore"

	"github.com/imgforge/imgforge/internal/apperr"
)

// globalKey is the single GCRA bucket key; the limiter is global by design
// (spec.md §4.6), so every request shares one bucket regardless of origin.
const globalKey = "global"

// Limiter bounds both request rate and processing concurrency.
type Limiter struct {
	rate *throttled.GCRARateLimiterCtx
	sem  *semaphore.Weighted
}

// New builds a Limiter allowing ratePerMinute requests/minute (spec.md §4.6
// configures the limit in requests/minute) with the given burst, and at most
// maxConcurrent in-flight processing jobs. ratePerMinute <= 0 disables rate
// limiting entirely (spec.md §4.6 describes it as "optional") rather than
// building a zero-rate bucket that would reject every request.
func New(ratePerMinute, burst int, maxConcurrent int64) (*Limiter, error) {
	l := &Limiter{sem: semaphore.NewWeighted(maxConcurrent)}
	if ratePerMinute <= 0 {
		return l, nil
	}

	store, err := memstore.New(1)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "could not allocate rate limiter store")
	}
	quota := throttled.RateQuota{MaxRate: throttled.PerMin(ratePerMinute), MaxBurst: burst}
	rate, err := throttled.NewGCRARateLimiter(store, quota)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "could not configure rate limiter")
	}
	l.rate = rate
	return l, nil
}

// Allow reports whether the global rate budget admits one more request. When
// rate limiting is disabled (rate == nil) every request is admitted.
func (l *Limiter) Allow() (bool, error) {
	if l.rate == nil {
		return true, nil
	}
	limited, _, err := l.rate.RateLimit(globalKey, 1)
	if err != nil {
		return false, apperr.New(apperr.Internal, "rate limiter error")
	}
	return !limited, nil
}

// Acquire blocks until a worker permit is free or ctx is done. Callers that
// bypass the worker pool (the raw directive, or a cache hit) must not call
// Acquire/Release at all, per spec.md §4.6.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return apperr.New(apperr.ProcessTimeout, "timed out waiting for a free worker")
	}
	return nil
}

// Release returns a worker permit acquired via Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}
