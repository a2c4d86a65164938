package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"idcollect/internal/analysis"
	"idcollect/internal/audit"
	"idcollect/internal/entry"
	"idcollect/internal/platform/metrics"
	"idcollect/internal/verification"
	dErrors "idcollect/pkg/domain-errors"
)

const (
	DefaultBatchSize = 10
	DefaultMaxActive = 2

	// DefaultRetention is how long a finished job stays queryable after it
	// was first retrieved.
	DefaultRetention = 5 * time.Minute

	// defaultPerEntryEstimate feeds the queue wait estimate.
	defaultPerEntryEstimate = 2 * time.Second
)

// jobState is the mutable job record. Snapshots handed to callers are
// value copies; the runner mutex guards everything here.
type jobState struct {
	Job

	targets     []analysis.Target
	outcomes    []Outcome
	nextIndex   int
	pauseWanted bool
	retrievedAt *time.Time
}

// Runner owns every bulk job in the process. Admission is FIFO: at most
// maxActive jobs run concurrently and the rest wait in queue order.
type Runner struct {
	verifications *verification.Service
	analyses      *analysis.Service
	entries       entry.Store
	auditor       *audit.Service
	logger        *slog.Logger
	metrics       *metrics.Metrics

	batchSize        int
	maxActive        int
	retention        time.Duration
	perEntryEstimate time.Duration
	now              func() time.Time

	mu     sync.Mutex
	jobs   map[string]*jobState
	queue  []string
	active int
	wg     sync.WaitGroup
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithMaxActive(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxActive = n
		}
	}
}

func WithRetention(d time.Duration) Option {
	return func(r *Runner) {
		r.retention = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

func NewRunner(verifications *verification.Service, analyses *analysis.Service,
	entries entry.Store, auditor *audit.Service, opts ...Option) (*Runner, error) {
	if verifications == nil || analyses == nil || entries == nil || auditor == nil {
		return nil, fmt.Errorf("verifications, analyses, entries and auditor are required")
	}

	r := &Runner{
		verifications:    verifications,
		analyses:         analyses,
		entries:          entries,
		auditor:          auditor,
		logger:           slog.Default(),
		batchSize:        DefaultBatchSize,
		maxActive:        DefaultMaxActive,
		retention:        DefaultRetention,
		perEntryEstimate: defaultPerEntryEstimate,
		now:              time.Now,
		jobs:             make(map[string]*jobState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start consumes a bulk-verify analysis and admits a job for its targets.
// The job starts immediately when a slot is free, otherwise it queues.
func (r *Runner) Start(ctx context.Context, listID, analysisID, actorID string) (*Job, error) {
	a, err := r.analyses.Consume(ctx, analysisID, analysis.KindBulkVerify)
	if err != nil {
		return nil, err
	}
	if a.ListID != listID {
		return nil, dErrors.New(dErrors.CodeBadRequest, "analysis belongs to a different list")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	for _, js := range r.jobs {
		if js.ListID == listID && !js.Status.Terminal() {
			return nil, dErrors.New(dErrors.CodeConflict, "a bulk verification job is already in progress for this list")
		}
	}

	js := &jobState{
		Job: Job{
			ID:        uuid.NewString(),
			ListID:    listID,
			Status:    StatusQueued,
			Total:     len(a.Targets),
			CreatedAt: r.now(),
		},
		targets: a.Targets,
	}
	r.jobs[js.ID] = js

	if r.active < r.maxActive {
		r.beginLocked(js)
	} else {
		r.queue = append(r.queue, js.ID)
	}

	r.auditor.Record(ctx, audit.Event{
		ListID:    listID,
		Action:    audit.ActionBulkStarted,
		ActorType: audit.ActorAdmin,
		ActorID:   actorID,
		Details:   map[string]any{"jobId": js.ID, "targets": len(a.Targets)},
	})
	if r.metrics != nil {
		r.metrics.BulkJobs.WithLabelValues("started").Inc()
	}
	return r.snapshotLocked(js), nil
}

// Get returns the current job snapshot. Retrieving a finished job starts
// its retention countdown.
func (r *Runner) Get(jobID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	js, ok := r.jobs[jobID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	if js.Status.Terminal() && js.retrievedAt == nil {
		at := r.now()
		js.retrievedAt = &at
	}
	return r.snapshotLocked(js), nil
}

// Details returns the job snapshot expanded with per-entry outcomes in
// processing order. Like Get, retrieving a finished job starts its
// retention countdown.
func (r *Runner) Details(jobID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	js, ok := r.jobs[jobID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	if js.Status.Terminal() && js.retrievedAt == nil {
		at := r.now()
		js.retrievedAt = &at
	}
	job := r.snapshotLocked(js)
	job.Outcomes = append([]Outcome(nil), js.outcomes...)
	return job, nil
}

// Pause requests a cooperative pause. The job keeps running until the next
// batch boundary and pauses there.
func (r *Runner) Pause(ctx context.Context, jobID, actorID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	js, ok := r.jobs[jobID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	if js.Status != StatusRunning {
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("cannot pause a %s job", js.Status))
	}
	js.pauseWanted = true

	r.auditor.Record(ctx, audit.Event{
		ListID:    js.ListID,
		Action:    audit.ActionBulkPaused,
		ActorType: audit.ActorAdmin,
		ActorID:   actorID,
		Details:   map[string]any{"jobId": js.ID, "processed": js.Counters.Processed},
	})
	return r.snapshotLocked(js), nil
}

// Resume continues a paused job from its first unprocessed target.
func (r *Runner) Resume(ctx context.Context, jobID, actorID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	js, ok := r.jobs[jobID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	if js.Status != StatusPaused {
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("cannot resume a %s job", js.Status))
	}

	js.pauseWanted = false
	if r.active < r.maxActive {
		r.beginLocked(js)
	} else {
		js.Status = StatusQueued
		r.queue = append(r.queue, js.ID)
	}

	r.auditor.Record(ctx, audit.Event{
		ListID:    js.ListID,
		Action:    audit.ActionBulkResumed,
		ActorType: audit.ActorAdmin,
		ActorID:   actorID,
		Details:   map[string]any{"jobId": js.ID, "processed": js.Counters.Processed},
	})
	return r.snapshotLocked(js), nil
}

// Shutdown asks every running job to pause and waits for workers to stop.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, js := range r.jobs {
		if js.Status == StatusRunning {
			js.pauseWanted = true
		}
	}
	r.queue = nil
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) beginLocked(js *jobState) {
	r.active++
	js.Status = StatusRunning
	if js.StartedAt == nil {
		at := r.now()
		js.StartedAt = &at
	}
	r.wg.Add(1)
	go r.run(js)
}

// run processes targets strictly in order. It holds the mutex only around
// state reads and counter updates, never across a registry call.
func (r *Runner) run(js *jobState) {
	defer r.wg.Done()
	ctx := context.Background()

	defer func() {
		if rec := recover(); rec != nil {
			r.mu.Lock()
			js.Status = StatusError
			js.Error = fmt.Sprintf("job worker panic: %v", rec)
			r.releaseSlotLocked()
			r.mu.Unlock()
			r.logger.ErrorContext(ctx, "bulk job worker panicked",
				"job_id", js.ID,
				"panic", rec,
			)
		}
	}()

	for {
		r.mu.Lock()
		if js.nextIndex >= len(js.targets) {
			r.finishLocked(ctx, js)
			r.mu.Unlock()
			return
		}
		if js.pauseWanted && js.nextIndex%r.batchSize == 0 {
			js.Status = StatusPaused
			js.pauseWanted = false
			r.releaseSlotLocked()
			r.mu.Unlock()
			return
		}
		target := js.targets[js.nextIndex]
		r.mu.Unlock()

		outcome := r.processOne(ctx, target.EntryID)

		r.mu.Lock()
		js.nextIndex++
		js.outcomes = append(js.outcomes, outcome)
		js.Counters.Processed++
		switch {
		case outcome.Skipped:
			js.Counters.Skipped++
		case outcome.Status == entry.StatusVerified:
			js.Counters.Verified++
		default:
			js.Counters.Failed++
		}
		r.mu.Unlock()
	}
}

// processOne commits one target and returns its outcome. Entries already
// verified when their turn comes are skipped without a registry call.
func (r *Runner) processOne(ctx context.Context, entryID string) Outcome {
	out := Outcome{EntryID: entryID}

	current, err := r.entries.GetEntry(ctx, entryID)
	if err == nil && current.Status == entry.StatusVerified {
		out.Status = entry.StatusVerified
		out.Skipped = true
		return out
	}

	e, err := r.verifications.VerifyEntry(ctx, entryID)
	if err != nil {
		r.logger.WarnContext(ctx, "bulk verification entry failed",
			"entry_id", entryID,
			"error", err,
		)
		out.Status = entry.StatusVerificationFailed
		out.Error = dErrors.MessageOf(err)
		return out
	}

	out.Status = e.Status
	if e.Details != nil {
		out.FailedFields = append([]string(nil), e.Details.FailedFields...)
	}
	return out
}

func (r *Runner) finishLocked(ctx context.Context, js *jobState) {
	js.Status = StatusCompleted
	js.Completed = true
	at := r.now()
	js.CompletedAt = &at
	r.releaseSlotLocked()

	r.auditor.Record(ctx, audit.Event{
		ListID:    js.ListID,
		Action:    audit.ActionBulkCompleted,
		ActorType: audit.ActorSystem,
		Details: map[string]any{
			"jobId":    js.ID,
			"verified": js.Counters.Verified,
			"failed":   js.Counters.Failed,
			"skipped":  js.Counters.Skipped,
		},
	})
	if r.metrics != nil {
		r.metrics.BulkJobs.WithLabelValues("completed").Inc()
	}
}

// releaseSlotLocked frees the worker slot and promotes the queue head.
func (r *Runner) releaseSlotLocked() {
	r.active--
	for len(r.queue) > 0 && r.active < r.maxActive {
		next := r.jobs[r.queue[0]]
		r.queue = r.queue[1:]
		if next == nil || next.Status != StatusQueued {
			continue
		}
		r.beginLocked(next)
	}
}

func (r *Runner) snapshotLocked(js *jobState) *Job {
	job := js.Job
	if js.Total > 0 {
		job.Progress = js.Counters.Processed * 100 / js.Total
	}
	if js.Status == StatusQueued {
		job.QueuePosition, job.EstimatedWait = r.queueEstimateLocked(js.ID)
	}
	return &job
}

// queueEstimateLocked estimates the wait as the unprocessed entries of every
// running job and every queued job ahead, times a per-entry cost.
func (r *Runner) queueEstimateLocked(jobID string) (int, time.Duration) {
	remaining := 0
	for _, js := range r.jobs {
		if js.Status == StatusRunning {
			remaining += len(js.targets) - js.nextIndex
		}
	}
	position := 0
	for i, id := range r.queue {
		if id == jobID {
			position = i + 1
			break
		}
		if ahead := r.jobs[id]; ahead != nil {
			remaining += len(ahead.targets) - ahead.nextIndex
		}
	}
	return position, time.Duration(remaining) * r.perEntryEstimate
}

// sweepLocked drops finished jobs whose retention has passed since they
// were first retrieved.
func (r *Runner) sweepLocked() {
	cutoff := r.now().Add(-r.retention)
	for id, js := range r.jobs {
		if js.Status.Terminal() && js.retrievedAt != nil && js.retrievedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}
