package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicore/actiongate/internal/clock"
	"github.com/clinicore/actiongate/internal/domain/ratelimit"
)

var _ ratelimit.RateLimiter = (*RateLimiter)(nil)

// RateLimiter is a GCRA limiter keeping one theoretical arrival time (TAT)
// per key. Counts are per process.
type RateLimiter struct {
	mu   sync.Mutex
	tats map[string]time.Time

	clock  clock.Clock
	logger *slog.Logger

	sweepEvery time.Duration
	idleTTL    time.Duration
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewRateLimiter sweeps every 5 minutes and forgets keys idle for an hour.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithConfig(5*time.Minute, time.Hour, nil, nil)
}

// NewRateLimiterWithConfig forgets keys idle for longer than maxTTL, checked
// every cleanupInterval once StartCleanup runs.
func NewRateLimiterWithConfig(cleanupInterval, maxTTL time.Duration, c clock.Clock, logger *slog.Logger) *RateLimiter {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		tats:       make(map[string]time.Time),
		clock:      c,
		logger:     logger,
		sweepEvery: cleanupInterval,
		idleTTL:    maxTTL,
		done:       make(chan struct{}),
	}
}

// Allow consumes one unit for key.
func (r *RateLimiter) Allow(_ context.Context, key string, cfg ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}
	interval := cfg.Period / time.Duration(cfg.Rate)
	window := time.Duration(cfg.Burst) * interval

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	tat := r.tats[key]
	if tat.Before(now) {
		tat = now
	}

	// Admit while the TAT stays within one burst window of now; the request
	// landing exactly on the edge still passes.
	if earliest := tat.Add(interval - window); now.Before(earliest) {
		return ratelimit.RateLimitResult{
			RetryAfter: earliest.Sub(now),
			ResetAfter: tat.Sub(now),
		}, nil
	}

	tat = tat.Add(interval)
	r.tats[key] = tat
	left := int((window - tat.Sub(now)) / interval)
	return ratelimit.RateLimitResult{
		Allowed:    true,
		Remaining:  min(max(left, 0), cfg.Burst),
		ResetAfter: tat.Sub(now),
	}, nil
}

// StartCleanup sweeps idle keys until ctx ends or Stop is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(r.sweepEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-t.C:
				r.cleanup()
			}
		}
	}()
}

func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	cutoff := r.clock.Now().Add(-r.idleTTL)
	before := len(r.tats)
	for key, tat := range r.tats {
		if tat.Before(cutoff) {
			delete(r.tats, key)
		}
	}
	after := len(r.tats)
	r.mu.Unlock()

	if before != after {
		r.logger.Debug("rate limiter swept idle keys", "removed", before-after, "remaining", after)
	}
}

// Stop ends the sweep goroutine and waits for it. It may be called more than once.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// Size is the number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tats)
}
