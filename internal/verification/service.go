// Package verification applies verification outcomes to entries. It is the
// only component that talks to the provider adapter and the only one that
// writes verified results.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"idcollect/internal/audit"
	"idcollect/internal/entry"
	"idcollect/internal/platform/metrics"
	"idcollect/internal/secrets"
	"idcollect/internal/token"
	"idcollect/internal/verifier"
	dErrors "idcollect/pkg/domain-errors"
)

// DefaultMaxAttempts bounds how often a customer may submit against one link.
const DefaultMaxAttempts = 3

type Service struct {
	entries     entry.Store
	tokens      *token.Service
	gateway     *secrets.Gateway
	adapter     *verifier.Adapter
	auditor     *audit.Service
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxAttempts int
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		s.maxAttempts = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(entries entry.Store, tokens *token.Service, gateway *secrets.Gateway,
	adapter *verifier.Adapter, auditor *audit.Service, opts ...Option) (*Service, error) {
	if entries == nil || tokens == nil || gateway == nil || adapter == nil || auditor == nil {
		return nil, fmt.Errorf("entries, tokens, gateway, adapter and auditor are required")
	}

	svc := &Service{
		entries:     entries,
		tokens:      tokens,
		gateway:     gateway,
		adapter:     adapter,
		auditor:     auditor,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// LinkInfo is what the public GET endpoint may disclose about a link. It
// never carries uploaded data or identity numbers.
type LinkInfo struct {
	DisplayName      string                `json:"displayName"`
	VerificationType verifier.IdentityType `json:"verificationType"`
	ExpiresAt        time.Time             `json:"expiresAt"`
	AlreadyVerified  bool                  `json:"alreadyVerified"`
}

// Submission is what the customer posts against a link.
type Submission struct {
	IdentityNumber string `json:"identityNumber"`
	CompanyName    string `json:"companyName,omitempty"`
}

// SubmissionResult is the customer-facing outcome of one submission.
type SubmissionResult struct {
	Success           bool   `json:"success"`
	Verified          bool   `json:"verified"`
	Error             string `json:"error,omitempty"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
}

// DescribeLink resolves a token for the public landing page.
func (s *Service) DescribeLink(ctx context.Context, tokenValue string) (*LinkInfo, error) {
	v, err := s.tokens.Validate(ctx, tokenValue)
	if err != nil {
		return nil, err
	}
	switch v.State {
	case token.StateNotFound:
		return nil, dErrors.New(dErrors.CodeNotFound, "verification link not found")
	case token.StateExpired:
		return nil, dErrors.New(dErrors.CodeExpired, "verification link has expired; ask for a new one")
	}

	e, err := s.entries.GetEntry(ctx, v.Token.EntryID)
	if err != nil {
		return nil, err
	}
	if v.State == token.StateUsed && e.Status != entry.StatusVerified {
		return nil, dErrors.New(dErrors.CodeNotFound, "verification link is no longer active")
	}
	return &LinkInfo{
		DisplayName:      e.DisplayName,
		VerificationType: e.VerificationType,
		ExpiresAt:        v.Token.ExpiresAt,
		AlreadyVerified:  e.Status == entry.StatusVerified,
	}, nil
}

// SubmitFromCustomer verifies a number the customer typed against a link.
// Re-submitting after a successful verification returns the stored outcome
// without another provider call.
func (s *Service) SubmitFromCustomer(ctx context.Context, tokenValue string, sub Submission) (*SubmissionResult, error) {
	v, err := s.tokens.Validate(ctx, tokenValue)
	if err != nil {
		return nil, err
	}
	if v.State == token.StateNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "verification link not found")
	}

	e, err := s.entries.GetEntry(ctx, v.Token.EntryID)
	if err != nil {
		return nil, err
	}
	if e.Status == entry.StatusVerified {
		return &SubmissionResult{Success: true, Verified: true}, nil
	}

	switch v.State {
	case token.StateExpired:
		return nil, dErrors.New(dErrors.CodeExpired, "verification link has expired; ask for a new one")
	case token.StateUsed:
		return nil, dErrors.New(dErrors.CodeNotFound, "verification link is no longer active")
	}

	remaining := s.maxAttempts - e.VerificationAttempts
	if remaining <= 0 {
		if err := s.tokens.Consume(ctx, tokenValue); err != nil {
			return nil, err
		}
		zero := 0
		return &SubmissionResult{
			Error:             "no verification attempts remaining; ask for a new link",
			AttemptsRemaining: &zero,
		}, nil
	}

	// A malformed number is rejected before it can burn an attempt.
	if perr := verifier.ValidateFormat(e.VerificationType, sub.IdentityNumber); perr != nil {
		rem := remaining
		return &SubmissionResult{
			Error:             perr.UserMessage(),
			AttemptsRemaining: &rem,
		}, nil
	}

	outcome, err := s.check(ctx, e, sub.IdentityNumber)
	if err != nil {
		// A registry miss counts as a failed attempt; infrastructure
		// failures do not.
		if verifier.GetCategory(err) != verifier.ErrorNotFound {
			return nil, err
		}
		updated, uerr := s.entries.UpdateEntry(ctx, e.ID, func(cur *entry.Entry) error {
			return cur.MarkVerificationFailed(entry.VerificationDetails{
				FailureReason: "no registry record found for the submitted number",
				CheckedAt:     s.now(),
			}, "registry record not found", s.now())
		})
		if uerr != nil {
			return nil, uerr
		}
		rem := s.maxAttempts - updated.VerificationAttempts
		if rem <= 0 {
			rem = 0
			if cerr := s.tokens.Consume(ctx, tokenValue); cerr != nil {
				return nil, cerr
			}
		}
		s.record(ctx, e, audit.ActionVerificationFailed, audit.ActorCustomer, "", map[string]any{
			"identityNumber": secrets.Mask(sub.IdentityNumber),
			"reason":         "not_found",
		})
		s.observe(e.VerificationType, "not_found")
		var pe *verifier.ProviderError
		msg := "No record was found for the identity number provided."
		if errors.As(err, &pe) {
			msg = pe.UserMessage()
		}
		return &SubmissionResult{Error: msg, AttemptsRemaining: &rem}, nil
	}

	if outcome.Matched {
		if _, err := s.commitVerified(ctx, e.ID, sub.IdentityNumber, outcome); err != nil {
			return nil, err
		}
		if err := s.tokens.Consume(ctx, tokenValue); err != nil {
			return nil, err
		}
		s.record(ctx, e, audit.ActionVerificationOK, audit.ActorCustomer, "", map[string]any{
			"identityNumber": secrets.Mask(sub.IdentityNumber),
			"provider":       outcome.Provider,
		})
		s.observe(e.VerificationType, "success")
		return &SubmissionResult{Success: true, Verified: true}, nil
	}

	updated, err := s.commitFailed(ctx, e.ID, outcome, "submitted details did not match the registry record")
	if err != nil {
		return nil, err
	}
	rem := s.maxAttempts - updated.VerificationAttempts
	if rem <= 0 {
		rem = 0
		if err := s.tokens.Consume(ctx, tokenValue); err != nil {
			return nil, err
		}
	}
	s.record(ctx, e, audit.ActionVerificationFailed, audit.ActorCustomer, "", map[string]any{
		"identityNumber":    secrets.Mask(sub.IdentityNumber),
		"failedFields":      outcome.FailedFields,
		"attemptsRemaining": rem,
	})
	s.observe(e.VerificationType, "mismatch")
	return &SubmissionResult{
		Error:             mismatchMessage(outcome),
		AttemptsRemaining: &rem,
	}, nil
}

// VerifyEntry runs one provider check for the bulk and retry paths, using
// the stored encrypted number or the uploaded columns. Verified entries are
// returned as-is without a provider call.
func (s *Service) VerifyEntry(ctx context.Context, entryID string) (*entry.Entry, error) {
	e, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Status == entry.StatusVerified {
		return e, nil
	}

	number, err := s.identityNumber(e)
	if err != nil {
		return nil, err
	}

	outcome, err := s.check(ctx, e, number)
	if err != nil {
		s.observe(e.VerificationType, "error")
		return nil, err
	}

	if outcome.Matched {
		updated, err := s.commitVerified(ctx, e.ID, number, outcome)
		if err != nil {
			return nil, err
		}
		if err := s.tokens.Invalidate(ctx, e.ID); err != nil {
			s.logger.WarnContext(ctx, "failed to retire token after verification",
				"entry_id", e.ID,
				"error", err,
			)
		}
		s.record(ctx, e, audit.ActionVerificationOK, audit.ActorSystem, "", map[string]any{
			"identityNumber": secrets.Mask(number),
			"provider":       outcome.Provider,
		})
		s.observe(e.VerificationType, "success")
		return updated, nil
	}

	updated, err := s.commitFailed(ctx, e.ID, outcome, "registry record did not match the uploaded details")
	if err != nil {
		return nil, err
	}
	s.record(ctx, e, audit.ActionVerificationFailed, audit.ActorSystem, "", map[string]any{
		"identityNumber": secrets.Mask(number),
		"failedFields":   outcome.FailedFields,
	})
	s.observe(e.VerificationType, "mismatch")
	return updated, nil
}

// Retry re-runs verification for an entry whose last check failed.
func (s *Service) Retry(ctx context.Context, entryID string, actorID string) (*entry.Entry, error) {
	e, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Status != entry.StatusVerificationFailed {
		return nil, dErrors.New(dErrors.CodeConflict, "only failed verifications can be retried")
	}

	s.record(ctx, e, audit.ActionVerificationRetry, audit.ActorAdmin, actorID, nil)
	return s.VerifyEntry(ctx, entryID)
}

func (s *Service) check(ctx context.Context, e *entry.Entry, number string) (*verifier.Result, error) {
	if e.VerificationType == verifier.TypeCAC {
		return s.adapter.VerifyCorporate(ctx, number, e.ExpectedCorporate())
	}
	return s.adapter.VerifyIndividual(ctx, number, e.ExpectedIndividual())
}

// identityNumber prefers the encrypted number on record over the uploaded
// columns.
func (s *Service) identityNumber(e *entry.Entry) (string, error) {
	var stored *secrets.EncryptedValue
	if e.VerificationType == verifier.TypeCAC {
		stored = e.CAC
	} else {
		stored = e.NIN
	}
	if stored != nil {
		number, err := s.gateway.Decrypt(*stored)
		if err != nil {
			return "", err
		}
		return number, nil
	}

	number := e.IdentityNumberFromData()
	if number == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "entry has no identity number on record")
	}
	return number, nil
}

func (s *Service) commitVerified(ctx context.Context, entryID, number string, outcome *verifier.Result) (*entry.Entry, error) {
	encrypted, err := s.gateway.Encrypt(number)
	if err != nil {
		return nil, err
	}
	return s.entries.UpdateEntry(ctx, entryID, func(e *entry.Entry) error {
		if e.VerificationType == verifier.TypeCAC {
			e.CAC = &encrypted
			if name := outcome.Record["company_name"]; name != "" {
				e.CACCompanyName = name
			}
		} else {
			e.NIN = &encrypted
		}
		return e.MarkVerified(entry.VerificationDetails{
			Matched:         true,
			FieldsValidated: outcome.FieldsValidated,
			Provider:        outcome.Provider,
			CheckedAt:       outcome.CheckedAt,
		}, s.now())
	})
}

func (s *Service) commitFailed(ctx context.Context, entryID string, outcome *verifier.Result, reason string) (*entry.Entry, error) {
	return s.entries.UpdateEntry(ctx, entryID, func(e *entry.Entry) error {
		return e.MarkVerificationFailed(entry.VerificationDetails{
			Matched:         false,
			FieldsValidated: outcome.FieldsValidated,
			FailedFields:    outcome.FailedFields,
			FailureReason:   reason,
			Provider:        outcome.Provider,
			CheckedAt:       outcome.CheckedAt,
		}, reason, s.now())
	})
}

func (s *Service) record(ctx context.Context, e *entry.Entry, action audit.Action, actor audit.ActorType, actorID string, details map[string]any) {
	s.auditor.Record(ctx, audit.Event{
		ListID:    e.ListID,
		EntryID:   e.ID,
		Action:    action,
		ActorType: actor,
		ActorID:   actorID,
		Details:   details,
	})
}

func (s *Service) observe(typ verifier.IdentityType, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveVerification(string(typ), outcome)
	}
}

func mismatchMessage(outcome *verifier.Result) string {
	if len(outcome.FailedFields) > 0 {
		return fmt.Sprintf("the registry record did not match on: %v", outcome.FailedFields)
	}
	return "the registry record did not match the details we have on file"
}
