package verification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"idcollect/internal/audit"
	"idcollect/internal/entry"
	"idcollect/internal/secrets"
	"idcollect/internal/token"
	"idcollect/internal/verifier"
	dErrors "idcollect/pkg/domain-errors"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

// registryStub serves canned records keyed by identity number and counts
// lookups.
type registryStub struct {
	name    string
	records map[string]verifier.Record
	calls   int
}

func (r *registryStub) Name() string { return r.name }

func (r *registryStub) Lookup(ctx context.Context, number string) (verifier.Record, error) {
	r.calls++
	rec, ok := r.records[number]
	if !ok {
		return nil, verifier.NewProviderError(verifier.ErrorNotFound, r.name, "no record", nil)
	}
	return rec, nil
}

type VerificationSuite struct {
	suite.Suite

	ctx      context.Context
	store    *entry.MemoryStore
	tokens   *token.Service
	tokStore *token.MemoryStore
	gateway  *secrets.Gateway
	registry *registryStub
	svc      *Service

	listID  string
	entryID string
}

func TestVerificationSuite(t *testing.T) {
	suite.Run(t, new(VerificationSuite))
}

func (s *VerificationSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = entry.NewMemoryStore()
	s.tokStore = token.NewMemoryStore()

	tokens, err := token.New(s.tokStore)
	s.Require().NoError(err)
	s.tokens = tokens

	gateway, err := secrets.NewGateway(testKey, "")
	s.Require().NoError(err)
	s.gateway = gateway

	s.registry = &registryStub{
		name: "registry-stub",
		records: map[string]verifier.Record{
			"12345678901": {
				"first_name":    "Ada",
				"last_name":     "Obi",
				"gender":        "female",
				"date_of_birth": "1990-04-12",
			},
		},
	}
	adapter, err := verifier.New(map[verifier.IdentityType]verifier.Provider{
		verifier.TypeNIN: s.registry,
	})
	s.Require().NoError(err)

	svc, err := New(s.store, tokens, gateway, adapter, audit.NewService(audit.NewMemoryStore()))
	s.Require().NoError(err)
	s.svc = svc

	s.listID = uuid.NewString()
	s.entryID = uuid.NewString()
	list := &entry.List{ID: s.listID, Name: "renewals", CreatedAt: time.Now()}
	e := &entry.Entry{
		ID:               s.entryID,
		ListID:           s.listID,
		Email:            "ada@example.com",
		DisplayName:      "Ada Obi",
		Status:           entry.StatusLinkSent,
		VerificationType: verifier.TypeNIN,
		Data: map[string]any{
			"First Name":    "Ada",
			"Last Name":     "Obi",
			"Gender":        "F",
			"Date of Birth": "12/04/1990",
			"NIN":           "12345678901",
		},
	}
	s.Require().NoError(s.store.CreateList(s.ctx, list, []*entry.Entry{e}))
}

func (s *VerificationSuite) issueToken() string {
	tok, err := s.tokens.Issue(s.ctx, s.entryID)
	s.Require().NoError(err)
	return tok.Value
}

func (s *VerificationSuite) TestSuccessfulSubmission() {
	value := s.issueToken()

	res, err := s.svc.SubmitFromCustomer(s.ctx, value, Submission{IdentityNumber: "12345678901"})
	s.Require().NoError(err)
	s.True(res.Success)
	s.True(res.Verified)

	e, err := s.store.GetEntry(s.ctx, s.entryID)
	s.Require().NoError(err)
	s.Equal(entry.StatusVerified, e.Status)
	s.Require().NotNil(e.NIN)

	number, err := s.gateway.Decrypt(*e.NIN)
	s.Require().NoError(err)
	s.Equal("12345678901", number)

	v, err := s.tokens.Validate(s.ctx, value)
	s.Require().NoError(err)
	s.Equal(token.StateUsed, v.State)
}

func (s *VerificationSuite) TestResubmissionIsIdempotent() {
	value := s.issueToken()

	_, err := s.svc.SubmitFromCustomer(s.ctx, value, Submission{IdentityNumber: "12345678901"})
	s.Require().NoError(err)
	callsAfterFirst := s.registry.calls

	res, err := s.svc.SubmitFromCustomer(s.ctx, value, Submission{IdentityNumber: "12345678901"})
	s.Require().NoError(err)
	s.True(res.Success)
	s.True(res.Verified)
	s.Equal(callsAfterFirst, s.registry.calls)

	e, err := s.store.GetEntry(s.ctx, s.entryID)
	s.Require().NoError(err)
	s.Equal(1, e.VerificationAttempts)
}

func (s *VerificationSuite) TestMismatchBurnsAttempt() {
	s.registry.records["99999999999"] = verifier.Record{
		"first_name":    "Grace",
		"last_name":     "Eze",
		"gender":        "female",
		"date_of_birth": "1985-01-01",
	}
	value := s.issueToken()

	res, err := s.svc.SubmitFromCustomer(s.ctx, value, Submission{IdentityNumber: "99999999999"})
	s.Require().NoError(err)
	s.False(res.Success)
	s.Require().NotNil(res.AttemptsRemaining)
	s.Equal(2, *res.AttemptsRemaining)

	e, err := s.store.GetEntry(s.ctx, s.entryID)
	s.Require().NoError(err)
	s.Equal(entry.StatusVerificationFailed, e.Status)
	s.Contains(e.Details.FailedFields, "first_name")
}

func (s *VerificationSuite) TestAttemptBudgetConsumesToken() {
	s.registry.records["99999999999"] = verifier.Record{
		"first_name": "Grace", "last_name": "Eze",
	}
	value := s.issueToken()

	var res *SubmissionResult
	var err error
	for i := 0; i < DefaultMaxAttempts; i++ {
		res, err = s.svc.SubmitFromCustomer(s.ctx, value, Submission{IdentityNumber: "99999999999"})
		s.Require().NoError(err)
	}
	s.Require().NotNil(res.AttemptsRemaining)
	s.Equal(0, *res.AttemptsRemaining)

	v, err := s.tokens.Validate(s.ctx, value)
	s.Require().NoError(err)
	s.Equal(token.StateUsed, v.State)
}

func (s *VerificationSuite) TestMalformedNumberDoesNotBurnAttempt() {
	value := s.issueToken()

	res, err := s.svc.SubmitFromCustomer(s.ctx, value, Submission{IdentityNumber: "12AB"})
	s.Require().NoError(err)
	s.False(res.Success)
	s.Require().NotNil(res.AttemptsRemaining)
	s.Equal(DefaultMaxAttempts, *res.AttemptsRemaining)
	s.Zero(s.registry.calls)

	e, err := s.store.GetEntry(s.ctx, s.entryID)
	s.Require().NoError(err)
	s.Equal(0, e.VerificationAttempts)
	s.Equal(entry.StatusLinkSent, e.Status)
}

func (s *VerificationSuite) TestRegistryMissBurnsAttempt() {
	value := s.issueToken()

	res, err := s.svc.SubmitFromCustomer(s.ctx, value, Submission{IdentityNumber: "55555555555"})
	s.Require().NoError(err)
	s.False(res.Success)
	s.Require().NotNil(res.AttemptsRemaining)
	s.Equal(2, *res.AttemptsRemaining)
	s.Contains(res.Error, "No record was found")
}

func (s *VerificationSuite) TestExpiredTokenRejected() {
	frozen := time.Now()
	tokens, err := token.New(s.tokStore, token.WithClock(func() time.Time { return frozen }))
	s.Require().NoError(err)
	tok, err := tokens.Issue(s.ctx, s.entryID)
	s.Require().NoError(err)

	frozen = frozen.Add(token.DefaultTTL + time.Hour)
	svc, err := New(s.store, tokens, s.gateway, s.mustAdapter(), audit.NewService(audit.NewMemoryStore()))
	s.Require().NoError(err)

	_, err = svc.SubmitFromCustomer(s.ctx, tok.Value, Submission{IdentityNumber: "12345678901"})
	s.Require().Error(err)
	s.Equal(dErrors.CodeExpired, dErrors.CodeOf(err))
}

func (s *VerificationSuite) TestUnknownTokenRejected() {
	_, err := s.svc.SubmitFromCustomer(s.ctx, "definitely-not-a-real-token-value-aaaaaaaaaaa", Submission{IdentityNumber: "12345678901"})
	s.Require().Error(err)
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func (s *VerificationSuite) TestVerifyEntryFromUploadedColumns() {
	e, err := s.svc.VerifyEntry(s.ctx, s.entryID)
	s.Require().NoError(err)
	s.Equal(entry.StatusVerified, e.Status)
	s.NotNil(e.NIN)
	s.Equal(1, s.registry.calls)
}

func (s *VerificationSuite) TestVerifyEntrySkipsVerified() {
	_, err := s.svc.VerifyEntry(s.ctx, s.entryID)
	s.Require().NoError(err)
	calls := s.registry.calls

	e, err := s.svc.VerifyEntry(s.ctx, s.entryID)
	s.Require().NoError(err)
	s.Equal(entry.StatusVerified, e.Status)
	s.Equal(calls, s.registry.calls)
}

func (s *VerificationSuite) TestRetryRequiresFailedStatus() {
	_, err := s.svc.Retry(s.ctx, s.entryID, "admin-1")
	s.Require().Error(err)
	s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))

	_, err = s.store.UpdateEntry(s.ctx, s.entryID, func(cur *entry.Entry) error {
		return cur.MarkVerificationFailed(entry.VerificationDetails{FailureReason: "mismatch"}, "mismatch", time.Now())
	})
	s.Require().NoError(err)

	e, err := s.svc.Retry(s.ctx, s.entryID, "admin-1")
	s.Require().NoError(err)
	s.Equal(entry.StatusVerified, e.Status)
}

func (s *VerificationSuite) TestDescribeLink() {
	value := s.issueToken()

	info, err := s.svc.DescribeLink(s.ctx, value)
	s.Require().NoError(err)
	s.Equal("Ada Obi", info.DisplayName)
	s.Equal(verifier.TypeNIN, info.VerificationType)
	s.False(info.AlreadyVerified)

	_, err = s.svc.SubmitFromCustomer(s.ctx, value, Submission{IdentityNumber: "12345678901"})
	s.Require().NoError(err)

	info, err = s.svc.DescribeLink(s.ctx, value)
	s.Require().NoError(err)
	s.True(info.AlreadyVerified)
}

func (s *VerificationSuite) mustAdapter() *verifier.Adapter {
	adapter, err := verifier.New(map[verifier.IdentityType]verifier.Provider{
		verifier.TypeNIN: s.registry,
	})
	s.Require().NoError(err)
	return adapter
}
