package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"idcollect/internal/entry"
	"idcollect/internal/verifier"
	dErrors "idcollect/pkg/domain-errors"
)

type AnalysisSuite struct {
	suite.Suite

	ctx     context.Context
	store   *entry.MemoryStore
	svc     *Service
	now     time.Time
	listID  string
	entries map[string]*entry.Entry
}

func TestAnalysisSuite(t *testing.T) {
	suite.Run(t, new(AnalysisSuite))
}

func (s *AnalysisSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = entry.NewMemoryStore()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.entries = make(map[string]*entry.Entry)

	svc, err := New(s.store, NewMemoryCache(), WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	s.svc = svc

	s.listID = uuid.NewString()
	seed := []*entry.Entry{
		s.newEntry("pending@example.com", entry.StatusPending, map[string]any{"NIN": "12345678901"}),
		s.newEntry("sent@example.com", entry.StatusLinkSent, map[string]any{"nin_number": "10987654321"}),
		s.newEntry("verified@example.com", entry.StatusVerified, map[string]any{"NIN": "11111111111"}),
		s.newEntry("badformat@example.com", entry.StatusPending, map[string]any{"NIN": "12AB"}),
		s.newEntry("nonumber@example.com", entry.StatusPending, map[string]any{"First Name": "Ada"}),
		s.newEntry("emailfailed@example.com", entry.StatusEmailFailed, map[string]any{"NIN": "22222222222"}),
	}
	list := &entry.List{
		ID:        s.listID,
		Name:      "policyholders",
		Type:      entry.ListTypeIndividual,
		CreatedAt: s.now,
	}
	s.Require().NoError(s.store.CreateList(s.ctx, list, seed))
	for _, e := range seed {
		s.entries[e.Email] = e
	}
}

func (s *AnalysisSuite) newEntry(email string, status entry.Status, data map[string]any) *entry.Entry {
	return &entry.Entry{
		ID:               uuid.NewString(),
		ListID:           s.listID,
		Email:            email,
		Status:           status,
		VerificationType: verifier.TypeNIN,
		Data:             data,
		CreatedAt:        s.now,
	}
}

func (s *AnalysisSuite) TestBulkVerifyClassification() {
	a, err := s.svc.AnalyzeBulkVerify(s.ctx, s.listID, nil)
	s.Require().NoError(err)

	s.Equal(6, a.TotalEntries)
	s.Equal(2, a.ToProcess)
	s.Equal(4, a.ToSkip)
	s.Equal(a.TotalEntries, a.ToProcess+a.ToSkip)

	s.Equal(1, a.SkipReasons[SkipAlreadyVerified])
	s.Equal(1, a.SkipReasons[SkipInvalidFormat])
	s.Equal(1, a.SkipReasons[SkipNoIdentityData])
	s.Equal(1, a.SkipReasons[SkipNotEligible])

	counted := 0
	for _, n := range a.SkipReasons {
		counted += n
	}
	s.Equal(a.ToSkip, counted)
	s.Len(a.Targets, a.ToProcess)
	s.Equal(2, a.TypeBreakdown[verifier.TypeNIN])
}

func (s *AnalysisSuite) TestVerifiedEntriesNeverSelected() {
	verified := s.entries["verified@example.com"]
	a, err := s.svc.AnalyzeBulkVerify(s.ctx, s.listID, []string{verified.ID})
	s.Require().NoError(err)

	s.Equal(0, a.ToProcess)
	s.Equal(1, a.SkipReasons[SkipAlreadyVerified])

	a, err = s.svc.AnalyzeSendLinks(s.ctx, s.listID, []string{verified.ID}, verifier.TypeNIN)
	s.Require().NoError(err)
	s.Equal(0, a.ToProcess)
	s.Equal(1, a.SkipReasons[SkipAlreadyVerified])
}

func (s *AnalysisSuite) TestSendLinksSkipsMissingEmail() {
	noEmail := s.newEntry("", entry.StatusPending, map[string]any{"NIN": "33333333333"})
	list := &entry.List{ID: uuid.NewString(), Name: "other", CreatedAt: s.now}
	noEmail.ListID = list.ID
	s.Require().NoError(s.store.CreateList(s.ctx, list, []*entry.Entry{noEmail}))

	a, err := s.svc.AnalyzeSendLinks(s.ctx, list.ID, nil, verifier.TypeNIN)
	s.Require().NoError(err)
	s.Equal(0, a.ToProcess)
	s.Equal(1, a.SkipReasons[SkipInvalidEmail])
}

func (s *AnalysisSuite) TestConsumeIsSingleUse() {
	a, err := s.svc.AnalyzeBulkVerify(s.ctx, s.listID, nil)
	s.Require().NoError(err)

	got, err := s.svc.Consume(s.ctx, a.ID, KindBulkVerify)
	s.Require().NoError(err)
	s.Equal(a.ID, got.ID)

	_, err = s.svc.Consume(s.ctx, a.ID, KindBulkVerify)
	s.Require().Error(err)
	s.Equal(dErrors.CodeExpired, dErrors.CodeOf(err))
	s.Contains(err.Error(), "ANALYSIS_EXPIRED")
}

func (s *AnalysisSuite) TestConsumeRejectsExpiredAnalysis() {
	a, err := s.svc.AnalyzeBulkVerify(s.ctx, s.listID, nil)
	s.Require().NoError(err)

	s.now = s.now.Add(DefaultTTL + time.Second)
	_, err = s.svc.Consume(s.ctx, a.ID, KindBulkVerify)
	s.Require().Error(err)
	s.Equal(dErrors.CodeExpired, dErrors.CodeOf(err))
}

func (s *AnalysisSuite) TestConsumeRejectsKindMismatch() {
	a, err := s.svc.AnalyzeSendLinks(s.ctx, s.listID, nil, verifier.TypeNIN)
	s.Require().NoError(err)

	_, err = s.svc.Consume(s.ctx, a.ID, KindBulkVerify)
	s.Require().Error(err)
	s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))
}

func (s *AnalysisSuite) TestConsumeDetectsStaleEntries() {
	a, err := s.svc.AnalyzeBulkVerify(s.ctx, s.listID, nil)
	s.Require().NoError(err)
	s.Require().NotEmpty(a.Targets)

	_, err = s.store.UpdateEntry(s.ctx, a.Targets[0].EntryID, func(e *entry.Entry) error {
		return e.MarkLinkSent(s.now)
	})
	s.Require().NoError(err)

	_, err = s.svc.Consume(s.ctx, a.ID, KindBulkVerify)
	s.Require().Error(err)
	s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))
}

func TestMemoryCacheTakeRemoves(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	a := &Analysis{ID: uuid.NewString(), ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, cache.Put(ctx, a))

	got, err := cache.Take(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	got, err = cache.Take(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}
