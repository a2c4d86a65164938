package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"idcollect/internal/audit"
	"idcollect/internal/entry"
	"idcollect/internal/verifier"
	dErrors "idcollect/pkg/domain-errors"
)

// DefaultTTL bounds how long a classification stays actionable.
const DefaultTTL = 5 * time.Minute

// Service computes and consumes analyses.
type Service struct {
	entries entry.Store
	cache   Cache
	auditor *audit.Service
	logger  *slog.Logger
	ttl     time.Duration
	now     func() time.Time
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

func WithAuditor(a *audit.Service) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(entries entry.Store, cache Cache, opts ...Option) (*Service, error) {
	if entries == nil || cache == nil {
		return nil, fmt.Errorf("entry store and cache are required")
	}

	svc := &Service{
		entries: entries,
		cache:   cache,
		logger:  slog.Default(),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// AnalyzeBulkVerify classifies entries for the automated verification path.
// An entry is selected only when its status is pending or link_sent and an
// identity number is on hand and well-formed. Verified entries are always
// skipped, whatever the selection contains.
func (s *Service) AnalyzeBulkVerify(ctx context.Context, listID string, entryIDs []string) (*Analysis, error) {
	entries, err := s.entries.GetEntries(ctx, listID, entryIDs)
	if err != nil {
		return nil, err
	}

	a := s.newAnalysis(KindBulkVerify, listID, len(entries))
	for _, e := range entries {
		if reason, skip := classifyBulkVerify(e); skip {
			a.skip(reason)
			continue
		}
		a.selectTarget(e)
	}

	if err := s.store(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// AnalyzeSendLinks classifies entries for link dispatch. verificationType
// is what the links will ask the customer for; it is recorded on each entry
// when the send is confirmed.
func (s *Service) AnalyzeSendLinks(ctx context.Context, listID string, entryIDs []string, typ verifier.IdentityType) (*Analysis, error) {
	entries, err := s.entries.GetEntries(ctx, listID, entryIDs)
	if err != nil {
		return nil, err
	}

	a := s.newAnalysis(KindSendLinks, listID, len(entries))
	for _, e := range entries {
		if e.Status == entry.StatusVerified {
			a.skip(SkipAlreadyVerified)
			continue
		}
		if entry.ValidateEmail(e.Email) != nil {
			a.skip(SkipInvalidEmail)
			continue
		}
		a.Targets = append(a.Targets, Target{EntryID: e.ID, Version: e.Version, IdentityType: typ})
		a.ToProcess++
		a.TypeBreakdown[typ]++
	}

	if err := s.store(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Consume validates and retires an analysis: it must exist, be unexpired,
// be of the expected kind, and every targeted entry must still be at the
// version the classification saw. Any later call with the same id fails.
func (s *Service) Consume(ctx context.Context, analysisID string, kind Kind) (*Analysis, error) {
	a, err := s.cache.Take(ctx, analysisID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load analysis")
	}
	if a == nil || a.Expired(s.now()) {
		return nil, dErrors.New(dErrors.CodeExpired, "ANALYSIS_EXPIRED")
	}
	if a.Kind != kind {
		return nil, dErrors.New(dErrors.CodeBadRequest, "analysis was computed for a different action")
	}

	for _, target := range a.Targets {
		current, err := s.entries.GetEntry(ctx, target.EntryID)
		if err != nil {
			return nil, err
		}
		if current.Version != target.Version {
			return nil, dErrors.New(dErrors.CodeConflict,
				"entries changed since analysis; re-run the analysis")
		}
	}
	return a, nil
}

func classifyBulkVerify(e *entry.Entry) (SkipReason, bool) {
	if e.Status == entry.StatusVerified {
		return SkipAlreadyVerified, true
	}
	if e.Status != entry.StatusPending && e.Status != entry.StatusLinkSent {
		return SkipNotEligible, true
	}
	if e.HasStoredIdentity() {
		return "", false
	}
	number := e.IdentityNumberFromData()
	if number == "" {
		return SkipNoIdentityData, true
	}
	if verifier.ValidateFormat(identityType(e), number) != nil {
		return SkipInvalidFormat, true
	}
	return "", false
}

func identityType(e *entry.Entry) verifier.IdentityType {
	if e.VerificationType == verifier.TypeCAC {
		return verifier.TypeCAC
	}
	return verifier.TypeNIN
}

func (s *Service) newAnalysis(kind Kind, listID string, total int) *Analysis {
	now := s.now()
	return &Analysis{
		ID:            uuid.NewString(),
		Kind:          kind,
		ListID:        listID,
		TotalEntries:  total,
		SkipReasons:   make(map[SkipReason]int),
		TypeBreakdown: make(map[verifier.IdentityType]int),
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
}

func (a *Analysis) skip(reason SkipReason) {
	a.ToSkip++
	a.SkipReasons[reason]++
}

func (a *Analysis) selectTarget(e *entry.Entry) {
	typ := identityType(e)
	a.Targets = append(a.Targets, Target{EntryID: e.ID, Version: e.Version, IdentityType: typ})
	a.ToProcess++
	a.TypeBreakdown[typ]++
}

func (s *Service) store(ctx context.Context, a *Analysis) error {
	if err := s.cache.Put(ctx, a); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "cache analysis")
	}
	if s.auditor != nil {
		s.auditor.Record(ctx, audit.Event{
			ListID:    a.ListID,
			Action:    audit.ActionAnalysisCreated,
			ActorType: audit.ActorAdmin,
			Details: map[string]any{
				"analysisId": a.ID,
				"kind":       a.Kind,
				"toProcess":  a.ToProcess,
				"toSkip":     a.ToSkip,
			},
		})
	}
	return nil
}
