// Package verifier routes identity lookups to external registries and
// reduces their responses to a normalized match result.
package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"idcollect/internal/platform/metrics"
)

// Provider is a single external registry client.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, identityNumber string) (Record, error)
}

// Limiter gates outbound registry calls. Acquire blocks until a slot is
// available or ctx is done.
type Limiter interface {
	Acquire(ctx context.Context, provider string) error
}

// Adapter is the single entry point services use to verify an identity
// number against the registry for its type.
type Adapter struct {
	providers  map[IdentityType]Provider
	limiter    Limiter
	logger     *slog.Logger
	metrics    *metrics.Metrics
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

func WithLimiter(l Limiter) Option {
	return func(a *Adapter) {
		a.limiter = l
	}
}

func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.timeout = d
	}
}

// WithRetryPolicy bounds retries for transient failures. attempts counts
// retries after the first call.
func WithRetryPolicy(attempts int, delay time.Duration) Option {
	return func(a *Adapter) {
		a.retries = attempts
		a.retryDelay = delay
	}
}

func New(providers map[IdentityType]Provider, opts ...Option) (*Adapter, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	a := &Adapter{
		providers:  providers,
		logger:     slog.Default(),
		timeout:    30 * time.Second,
		retries:    2,
		retryDelay: 2 * time.Second,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// VerifyIndividual checks a NIN against the individual registry and matches
// the returned record against the expected personal details.
func (a *Adapter) VerifyIndividual(ctx context.Context, nin string, expected IndividualDetails) (*Result, error) {
	record, provider, err := a.lookup(ctx, TypeNIN, nin)
	if err != nil {
		return nil, err
	}
	res := MatchIndividual(record, expected)
	res.Provider = provider
	res.CheckedAt = a.now()
	return res, nil
}

// VerifyCorporate checks an RC number against the company registry and
// matches the returned record against the expected company details.
func (a *Adapter) VerifyCorporate(ctx context.Context, rcNumber string, expected CorporateDetails) (*Result, error) {
	record, provider, err := a.lookup(ctx, TypeCAC, rcNumber)
	if err != nil {
		return nil, err
	}
	res := MatchCorporate(record, expected)
	res.Provider = provider
	res.CheckedAt = a.now()
	return res, nil
}

func (a *Adapter) lookup(ctx context.Context, typ IdentityType, number string) (Record, string, error) {
	provider, ok := a.providers[typ]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNoProvider, typ)
	}

	if perr := ValidateFormat(typ, number); perr != nil {
		return nil, provider.Name(), perr
	}

	var lastErr error
	for attempt := 0; attempt <= a.retries; attempt++ {
		if attempt > 0 {
			a.logger.WarnContext(ctx, "retrying registry lookup",
				"provider", provider.Name(),
				"attempt", attempt,
				"error", lastErr,
			)
			if err := a.sleep(ctx, a.retryDelay); err != nil {
				return nil, provider.Name(), err
			}
		}

		if a.limiter != nil {
			if err := a.limiter.Acquire(ctx, provider.Name()); err != nil {
				return nil, provider.Name(), err
			}
		}

		record, err := a.callProvider(ctx, provider, number)
		if err == nil {
			return record, provider.Name(), nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
	}
	return nil, provider.Name(), lastErr
}

func (a *Adapter) callProvider(ctx context.Context, provider Provider, number string) (Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := a.now()
	record, err := provider.Lookup(callCtx, number)
	if a.metrics != nil {
		status := "ok"
		if err != nil {
			status = string(GetCategory(err))
		}
		a.metrics.ObserveProvider(provider.Name(), status, time.Since(start))
	}
	return record, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
