package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	dErrors "idcollect/pkg/domain-errors"
)

const (
	// tokenBytes yields 43 URL-safe characters once base64 encoded.
	tokenBytes = 32

	// DefaultTTL matches the expiry communicated in verification emails.
	DefaultTTL = 7 * 24 * time.Hour
)

// Service issues and validates verification link tokens.
type Service struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("token store is required")
	}

	svc := &Service{
		store:  store,
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Issue creates a fresh token for the entry, superseding any live one.
func (s *Service) Issue(ctx context.Context, entryID string) (*Token, error) {
	if entryID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "entry_id is required")
	}

	value, err := generateValue()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate token")
	}

	now := s.now()
	tok := &Token{
		Value:     value,
		EntryID:   entryID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, tok); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist token")
	}
	return tok, nil
}

// Validate classifies a presented value without consuming it. Unknown and
// malformed values both answer not_found; the caller must not learn whether
// a near-miss value ever existed.
func (s *Service) Validate(ctx context.Context, value string) (*Validation, error) {
	if len(value) < 43 {
		return &Validation{State: StateNotFound}, nil
	}

	tok, err := s.store.Get(ctx, value)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load token")
	}
	if tok == nil {
		return &Validation{State: StateNotFound}, nil
	}
	if tok.UsedAt != nil {
		return &Validation{State: StateUsed, Token: tok}, nil
	}
	if tok.Expired(s.now()) {
		return &Validation{State: StateExpired, Token: tok}, nil
	}
	return &Validation{State: StateValid, Token: tok}, nil
}

// Consume marks the token used so the link cannot be replayed.
func (s *Service) Consume(ctx context.Context, value string) error {
	if err := s.store.MarkUsed(ctx, value); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "consume token")
	}
	return nil
}

// Invalidate retires the entry's current token, if any. Used before a resend
// so the old link stops working immediately.
func (s *Service) Invalidate(ctx context.Context, entryID string) error {
	current, err := s.store.CurrentValue(ctx, entryID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load current token")
	}
	if current == "" {
		return nil
	}
	if err := s.store.MarkUsed(ctx, current); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "invalidate token")
	}
	return nil
}

func generateValue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
