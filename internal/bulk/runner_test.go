package bulk

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"idcollect/internal/analysis"
	"idcollect/internal/audit"
	"idcollect/internal/entry"
	"idcollect/internal/secrets"
	"idcollect/internal/token"
	"idcollect/internal/verification"
	"idcollect/internal/verifier"
	dErrors "idcollect/pkg/domain-errors"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

// gatedRegistry serves canned records and optionally blocks each lookup
// until the test releases it. Lookups are recorded in call order.
type gatedRegistry struct {
	mu      sync.Mutex
	records map[string]verifier.Record
	gate    chan struct{}
	calls   []string
}

func newGatedRegistry(gated bool) *gatedRegistry {
	gate := make(chan struct{})
	if !gated {
		close(gate)
	}
	return &gatedRegistry{
		records: make(map[string]verifier.Record),
		gate:    gate,
	}
}

func (g *gatedRegistry) Name() string { return "registry-stub" }

func (g *gatedRegistry) Lookup(ctx context.Context, number string) (verifier.Record, error) {
	<-g.gate
	g.mu.Lock()
	g.calls = append(g.calls, number)
	rec, ok := g.records[number]
	g.mu.Unlock()
	if !ok {
		return nil, verifier.NewProviderError(verifier.ErrorNotFound, g.Name(), "no record", nil)
	}
	return rec, nil
}

// release lets n pending lookups through.
func (g *gatedRegistry) release(n int) {
	for i := 0; i < n; i++ {
		g.gate <- struct{}{}
	}
}

func (g *gatedRegistry) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type BulkSuite struct {
	suite.Suite

	ctx      context.Context
	store    *entry.MemoryStore
	registry *gatedRegistry
	analyses *analysis.Service
	runner   *Runner
	now      time.Time
	clockMu  sync.Mutex
	seedSeq  int
}

func TestBulkSuite(t *testing.T) {
	suite.Run(t, new(BulkSuite))
}

func (s *BulkSuite) setup(gated bool, opts ...Option) {
	s.ctx = context.Background()
	s.store = entry.NewMemoryStore()
	s.registry = newGatedRegistry(gated)
	s.now = time.Now()

	tokens, err := token.New(token.NewMemoryStore())
	s.Require().NoError(err)
	gateway, err := secrets.NewGateway(testKey, "")
	s.Require().NoError(err)
	adapter, err := verifier.New(map[verifier.IdentityType]verifier.Provider{
		verifier.TypeNIN: s.registry,
	})
	s.Require().NoError(err)

	auditor := audit.NewService(audit.NewMemoryStore())
	verifications, err := verification.New(s.store, tokens, gateway, adapter, auditor)
	s.Require().NoError(err)

	s.analyses, err = analysis.New(s.store, analysis.NewMemoryCache())
	s.Require().NoError(err)

	opts = append([]Option{WithClock(s.clock)}, opts...)
	s.runner, err = NewRunner(verifications, s.analyses, s.store, auditor, opts...)
	s.Require().NoError(err)
}

func (s *BulkSuite) clock() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return s.now
}

func (s *BulkSuite) advance(d time.Duration) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.now = s.now.Add(d)
}

// seedList creates n entries whose registry records match, except the ids
// listed in mismatched.
func (s *BulkSuite) seedList(n int, mismatched ...int) string {
	listID := uuid.NewString()
	list := &entry.List{ID: listID, Name: "bulk-" + listID[:8], CreatedAt: time.Now()}

	entries := make([]*entry.Entry, 0, n)
	skip := make(map[int]bool)
	for _, i := range mismatched {
		skip[i] = true
	}
	s.seedSeq++
	for i := 0; i < n; i++ {
		nin := fmt.Sprintf("%d%010d", s.seedSeq, i)
		first, last := "User", fmt.Sprintf("Number%d", i)
		entries = append(entries, &entry.Entry{
			ID:               uuid.NewString(),
			ListID:           listID,
			Email:            fmt.Sprintf("user%d@example.com", i),
			Status:           entry.StatusPending,
			VerificationType: verifier.TypeNIN,
			Data: map[string]any{
				"First Name": first,
				"Last Name":  last,
				"NIN":        nin,
			},
			CreatedAt: time.Now(),
		})
		recordLast := last
		if skip[i] {
			recordLast = "Different"
		}
		s.registry.mu.Lock()
		s.registry.records[nin] = verifier.Record{
			"first_name": first,
			"last_name":  recordLast,
		}
		s.registry.mu.Unlock()
	}
	s.Require().NoError(s.store.CreateList(s.ctx, list, entries))
	return listID
}

func (s *BulkSuite) startJob(listID string) *Job {
	a, err := s.analyses.AnalyzeBulkVerify(s.ctx, listID, nil)
	s.Require().NoError(err)
	job, err := s.runner.Start(s.ctx, listID, a.ID, "admin-1")
	s.Require().NoError(err)
	return job
}

func (s *BulkSuite) waitForStatus(jobID string, want JobStatus) *Job {
	var job *Job
	s.Require().Eventually(func() bool {
		var err error
		job, err = s.runner.Get(jobID)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func (s *BulkSuite) TestJobRunsToCompletion() {
	s.setup(false)
	listID := s.seedList(5, 3)

	job := s.startJob(listID)
	done := s.waitForStatus(job.ID, StatusCompleted)

	s.True(done.Completed)
	s.Equal(5, done.Counters.Processed)
	s.Equal(4, done.Counters.Verified)
	s.Equal(1, done.Counters.Failed)
	s.Equal(0, done.Counters.Skipped)
	s.Equal(100, done.Progress)
	s.NotNil(done.CompletedAt)

	stats, err := s.store.ListStats(s.ctx, listID)
	s.Require().NoError(err)
	s.Equal(4, stats.Verified)
	s.Equal(1, stats.Failed)
}

func (s *BulkSuite) TestPauseResumeProcessesEachEntryOnce() {
	s.setup(true, WithBatchSize(2))
	listID := s.seedList(6)

	job := s.startJob(listID)

	_, err := s.runner.Pause(s.ctx, job.ID, "admin-1")
	s.Require().NoError(err)

	// The worker is inside the first batch; releasing it lets the batch
	// finish, then the pause takes effect at the boundary.
	s.registry.release(2)
	paused := s.waitForStatus(job.ID, StatusPaused)
	s.Equal(2, paused.Counters.Processed)

	_, err = s.runner.Resume(s.ctx, job.ID, "admin-1")
	s.Require().NoError(err)

	s.registry.release(4)
	done := s.waitForStatus(job.ID, StatusCompleted)

	s.Equal(6, done.Counters.Processed)
	s.Equal(6, done.Counters.Verified)
	s.Equal(6, s.registry.callCount())
}

func (s *BulkSuite) TestQueueAdmitsInOrder() {
	s.setup(true, WithMaxActive(1))
	listA := s.seedList(2)
	listB := s.seedList(2)

	jobA := s.startJob(listA)
	jobB := s.startJob(listB)

	queued, err := s.runner.Get(jobB.ID)
	s.Require().NoError(err)
	s.Equal(StatusQueued, queued.Status)
	s.Equal(1, queued.QueuePosition)
	s.Positive(queued.EstimatedWait)

	s.registry.release(4)
	s.waitForStatus(jobA.ID, StatusCompleted)
	s.waitForStatus(jobB.ID, StatusCompleted)

	// Strict FIFO: every lookup of job A precedes every lookup of job B.
	entriesA, err := s.store.GetEntries(s.ctx, listA, nil)
	s.Require().NoError(err)
	ninsA := make(map[string]bool)
	for _, e := range entriesA {
		ninsA[e.IdentityNumberFromData()] = true
	}
	s.registry.mu.Lock()
	calls := append([]string(nil), s.registry.calls...)
	s.registry.mu.Unlock()
	s.Require().Len(calls, 4)
	s.True(ninsA[calls[0]])
	s.True(ninsA[calls[1]])
	s.False(ninsA[calls[2]])
	s.False(ninsA[calls[3]])
}

func (s *BulkSuite) TestDetailsListsPerEntryOutcomes() {
	s.setup(false)
	listID := s.seedList(3, 1)

	job := s.startJob(listID)
	done := s.waitForStatus(job.ID, StatusCompleted)
	s.Equal(2, done.Counters.Verified)
	s.Equal(1, done.Counters.Failed)

	detailed, err := s.runner.Details(job.ID)
	s.Require().NoError(err)
	s.Require().Len(detailed.Outcomes, 3)
	for i, out := range detailed.Outcomes {
		if i == 1 {
			s.Equal(entry.StatusVerificationFailed, out.Status)
			s.Contains(out.FailedFields, "last_name")
			continue
		}
		s.Equal(entry.StatusVerified, out.Status, "outcome %d", i)
		s.False(out.Skipped)
		s.Empty(out.FailedFields)
	}

	// The plain snapshot stays lean.
	plain, err := s.runner.Get(job.ID)
	s.Require().NoError(err)
	s.Empty(plain.Outcomes)
}

func (s *BulkSuite) TestDetailsMarksMidJobVerifiedAsSkipped() {
	s.setup(true)
	listID := s.seedList(2)

	job := s.startJob(listID)

	// A customer verifies the second entry while the job is still inside
	// the first lookup.
	entries, err := s.store.GetEntries(s.ctx, listID, nil)
	s.Require().NoError(err)
	second := entries[1].ID
	_, err = s.store.UpdateEntry(s.ctx, second, func(e *entry.Entry) error {
		return e.MarkLinkSent(time.Now())
	})
	s.Require().NoError(err)
	_, err = s.store.UpdateEntry(s.ctx, second, func(e *entry.Entry) error {
		return e.MarkVerified(entry.VerificationDetails{Matched: true, CheckedAt: time.Now()}, time.Now())
	})
	s.Require().NoError(err)

	s.registry.release(1)
	done := s.waitForStatus(job.ID, StatusCompleted)

	s.Equal(1, done.Counters.Verified)
	s.Equal(1, done.Counters.Skipped)
	s.Equal(1, s.registry.callCount(), "skipped entries must not reach the registry")

	detailed, err := s.runner.Details(job.ID)
	s.Require().NoError(err)
	s.Require().Len(detailed.Outcomes, 2)
	s.True(detailed.Outcomes[1].Skipped)
	s.Equal(entry.StatusVerified, detailed.Outcomes[1].Status)
}

func (s *BulkSuite) TestRejectsConcurrentJobForSameList() {
	s.setup(true)
	listID := s.seedList(2)

	job := s.startJob(listID)

	a, err := s.analyses.AnalyzeBulkVerify(s.ctx, listID, nil)
	s.Require().NoError(err)
	_, err = s.runner.Start(s.ctx, listID, a.ID, "admin-1")
	s.Require().Error(err)
	s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))

	s.registry.release(2)
	s.waitForStatus(job.ID, StatusCompleted)
}

func (s *BulkSuite) TestFinishedJobsAreSweptAfterRetention() {
	s.setup(false, WithRetention(time.Minute))
	listID := s.seedList(1)

	job := s.startJob(listID)
	s.waitForStatus(job.ID, StatusCompleted)

	// First retrieval starts the countdown; a later Get within retention
	// still succeeds.
	_, err := s.runner.Get(job.ID)
	s.Require().NoError(err)

	s.advance(2 * time.Minute)
	_, err = s.runner.Get(job.ID)
	s.Require().Error(err)
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func (s *BulkSuite) TestStaleAnalysisRejected() {
	s.setup(false)
	listID := s.seedList(2)

	a, err := s.analyses.AnalyzeBulkVerify(s.ctx, listID, nil)
	s.Require().NoError(err)

	_, err = s.store.UpdateEntry(s.ctx, a.Targets[0].EntryID, func(e *entry.Entry) error {
		return e.MarkLinkSent(time.Now())
	})
	s.Require().NoError(err)

	_, err = s.runner.Start(s.ctx, listID, a.ID, "admin-1")
	s.Require().Error(err)
	s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))
}
