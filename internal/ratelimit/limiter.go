package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"idcollect/internal/platform/metrics"
	dErrors "idcollect/pkg/domain-errors"
	"idcollect/pkg/poll"
)

// DefaultPerMinute is the shared outbound budget per provider.
const DefaultPerMinute = 50

// Limiter blocks callers until the provider window has room. It satisfies
// the verifier adapter's Limiter interface.
type Limiter struct {
	store   Store
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	// maxWait bounds how long a single Acquire may block before giving up
	// independent of the caller's context.
	maxWait time.Duration
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

func WithLimit(limit int, window time.Duration) Option {
	return func(l *Limiter) {
		l.limit = limit
		l.window = window
	}
}

func WithMaxWait(d time.Duration) Option {
	return func(l *Limiter) {
		l.maxWait = d
	}
}

func New(store Store, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit store is required")
	}

	l := &Limiter{
		store:   store,
		limit:   DefaultPerMinute,
		window:  time.Minute,
		logger:  slog.Default(),
		maxWait: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Acquire blocks until a slot opens for the provider or the deadline passes.
// Waiters poll the window rather than queue, which keeps the store simple
// and is fair enough at the call rates involved.
func (l *Limiter) Acquire(ctx context.Context, provider string) error {
	deadline := time.Now().Add(l.maxWait)
	backoff := poll.New(50*time.Millisecond, 500*time.Millisecond)
	throttled := false

	for {
		res, err := l.store.Allow(ctx, provider, l.limit, l.window)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "rate limit check failed")
		}
		if res.Allowed {
			return nil
		}

		if !throttled {
			throttled = true
			if l.metrics != nil {
				l.metrics.Throttled.WithLabelValues(provider).Inc()
			}
			l.logger.DebugContext(ctx, "provider rate limit reached, waiting",
				"provider", provider,
				"reset_at", res.ResetAt,
			)
		}

		if time.Now().After(deadline) {
			return dErrors.New(dErrors.CodeRateLimited, "provider rate limit wait exceeded")
		}

		wait := backoff.Next(false)
		if until := time.Until(res.ResetAt); until > 0 && until < wait {
			wait = until
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return dErrors.Wrap(ctx.Err(), dErrors.CodeRateLimited, "cancelled while waiting for rate limit")
		case <-timer.C:
		}
	}
}
