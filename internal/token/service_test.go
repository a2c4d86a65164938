package token

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ServiceTestSuite struct {
	suite.Suite
	store *MemoryStore
	svc   *Service
	now   time.Time
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (s *ServiceTestSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	svc, err := New(s.store, WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	s.svc = svc
}

func (s *ServiceTestSuite) TestIssueFormat() {
	urlSafe := regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	seen := make(map[string]bool)
	for range 1000 {
		tok, err := s.svc.Issue(context.Background(), "entry-1")
		s.Require().NoError(err)
		s.GreaterOrEqual(len(tok.Value), 43)
		s.True(urlSafe.MatchString(tok.Value), "token must be URL-safe: %s", tok.Value)
		s.False(seen[tok.Value], "token values must be unique")
		seen[tok.Value] = true
	}
}

func (s *ServiceTestSuite) TestValidateTriState() {
	ctx := context.Background()

	s.Run("unknown value", func() {
		v, err := s.svc.Validate(ctx, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
		s.Require().NoError(err)
		s.Equal(StateNotFound, v.State)
	})

	s.Run("short value", func() {
		v, err := s.svc.Validate(ctx, "short")
		s.Require().NoError(err)
		s.Equal(StateNotFound, v.State)
	})

	s.Run("valid", func() {
		tok, err := s.svc.Issue(ctx, "entry-valid")
		s.Require().NoError(err)

		v, err := s.svc.Validate(ctx, tok.Value)
		s.Require().NoError(err)
		s.Equal(StateValid, v.State)
		s.Equal("entry-valid", v.Token.EntryID)
	})

	s.Run("expired", func() {
		tok, err := s.svc.Issue(ctx, "entry-expired")
		s.Require().NoError(err)

		s.now = s.now.Add(DefaultTTL + time.Hour)
		v, err := s.svc.Validate(ctx, tok.Value)
		s.Require().NoError(err)
		s.Equal(StateExpired, v.State)
	})

	s.Run("used", func() {
		tok, err := s.svc.Issue(ctx, "entry-used")
		s.Require().NoError(err)
		s.Require().NoError(s.svc.Consume(ctx, tok.Value))

		v, err := s.svc.Validate(ctx, tok.Value)
		s.Require().NoError(err)
		s.Equal(StateUsed, v.State)
	})
}

func (s *ServiceTestSuite) TestReissueSupersedesPreviousToken() {
	ctx := context.Background()

	first, err := s.svc.Issue(ctx, "entry-1")
	s.Require().NoError(err)
	second, err := s.svc.Issue(ctx, "entry-1")
	s.Require().NoError(err)
	s.NotEqual(first.Value, second.Value)

	v, err := s.svc.Validate(ctx, first.Value)
	s.Require().NoError(err)
	s.Equal(StateUsed, v.State, "superseded token must stop working")

	v, err = s.svc.Validate(ctx, second.Value)
	s.Require().NoError(err)
	s.Equal(StateValid, v.State)
}

func (s *ServiceTestSuite) TestInvalidate() {
	ctx := context.Background()

	tok, err := s.svc.Issue(ctx, "entry-1")
	s.Require().NoError(err)
	s.Require().NoError(s.svc.Invalidate(ctx, "entry-1"))

	v, err := s.svc.Validate(ctx, tok.Value)
	s.Require().NoError(err)
	s.Equal(StateUsed, v.State)

	// Invalidating an entry with no token is a no-op.
	s.NoError(s.svc.Invalidate(ctx, "entry-without-token"))
}

func (s *ServiceTestSuite) TestIssueRequiresEntryID() {
	_, err := s.svc.Issue(context.Background(), "")
	s.Error(err)
}
