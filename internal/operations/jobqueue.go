package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "featureflow/internal/errors"
	"featureflow/internal/infrastructure"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is an asynchronous pipeline request and, once finished, its outcome
type Job struct {
	ID          string          `json:"id"`
	Status      JobStatus       `json:"status"`
	Request     PipelineRequest `json:"request"`
	Results     []RunResult     `json:"results,omitempty"`
	Message     string          `json:"message,omitempty"`
	Error       string          `json:"error,omitempty"`
	TraceID     string          `json:"trace_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	c.Request.Instruments = append(c.Request.Instruments[:0:0], j.Request.Instruments...)
	c.Results = append(c.Results[:0:0], j.Results...)
	return &c
}

func (j *Job) finished() bool { return j.CompletedAt != nil }

// finish moves j to a terminal status
func (j *Job) finish(status JobStatus, message, errText string) {
	now := time.Now()
	j.Status = status
	j.Message = message
	j.Error = errText
	j.CompletedAt = &now
}

// JobStore persists jobs. Implementations must copy on the way in and out.
type JobStore interface {
	CreateJob(job *Job) error
	GetJob(id string) (*Job, error)
	UpdateJob(job *Job) error
	ListJobs(filter JobFilter) ([]*Job, error)
	PruneJobs(cutoff time.Time) int
	CountByStatus() map[JobStatus]int
}

// JobFilter narrows ListJobs. Zero fields match everything.
type JobFilter struct {
	Status JobStatus
	Since  time.Time
	Limit  int
}

func (f JobFilter) matches(j *Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	return f.Since.IsZero() || !j.CreatedAt.Before(f.Since)
}

// JobQueueOption tunes a JobQueue
type JobQueueOption func(*JobQueue)

// WithRetention prunes finished jobs once they are older than d. Zero keeps
// them forever.
func WithRetention(d time.Duration) JobQueueOption {
	return func(q *JobQueue) { q.retention = d }
}

// JobQueue runs pipeline requests on a fixed pool of workers fed by a bounded
// channel
type JobQueue struct {
	ids       chan string
	workers   int
	retention time.Duration
	store     JobStore
	runner    Runner
	logger    *slog.Logger

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func NewJobQueue(workers, queueSize int, store JobStore, runner Runner, logger *slog.Logger, opts ...JobQueueOption) *JobQueue {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	q := &JobQueue{
		ids:     make(chan string, queueSize),
		workers: workers,
		store:   store,
		runner:  runner,
		logger:  logger.With(slog.String("component", "jobqueue")),
		stop:    make(chan struct{}),
		active:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers and, with a retention set, the pruner
func (q *JobQueue) Start(ctx context.Context) {
	q.logger.InfoContext(ctx, "starting job queue",
		slog.Int("workers", q.workers),
		slog.Int("queue_cap", cap(q.ids)),
		slog.Duration("retention", q.retention))

	q.wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go q.worker(ctx, q.logger.With(slog.Int("worker_id", i)))
	}
	if q.retention > 0 {
		q.wg.Add(1)
		go q.prune(ctx)
	}
}

// Stop waits up to timeout for running jobs, then cancels whatever is left
func (q *JobQueue) Stop(timeout time.Duration) error {
	q.stopOnce.Do(func() { close(q.stop) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job queue stopped")
		return nil
	case <-time.After(timeout):
	}

	q.mu.Lock()
	for _, cancel := range q.active {
		cancel()
	}
	n := len(q.active)
	q.mu.Unlock()
	q.logger.Warn("job queue stop timed out", slog.Int("cancelled", n))
	return fmt.Errorf("job queue: %d jobs still running after %s", n, timeout)
}

// Submit validates req, records it as a pending job and queues it
func (q *JobQueue) Submit(ctx context.Context, req PipelineRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	job := &Job{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Request:   req,
		TraceID:   infrastructure.GetTraceID(ctx),
		CreatedAt: time.Now(),
	}
	if err := q.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	select {
	case q.ids <- job.ID:
	default:
		job.finish(JobStatusFailed, "", "job queue is full")
		q.save(ctx, job)
		return nil, apperrors.NewUpstreamUnavailableError("job queue is full", nil).
			WithContext("queue_cap", cap(q.ids))
	}

	q.logger.InfoContext(ctx, "job enqueued",
		slog.String("job_id", job.ID),
		slog.String("resolution", job.Request.Resolution.String()),
		slog.Int("instruments", len(job.Request.Instruments)))
	return job.clone(), nil
}

func (q *JobQueue) GetJob(id string) (*Job, error) {
	return q.store.GetJob(id)
}

func (q *JobQueue) ListJobs(filter JobFilter) ([]*Job, error) {
	return q.store.ListJobs(filter)
}

// CancelJob interrupts a running job or marks a pending one cancelled so no
// worker picks it up
func (q *JobQueue) CancelJob(id string) error {
	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status != JobStatusRunning && job.Status != JobStatusPending {
		return apperrors.NewAppValidationError(
			fmt.Sprintf("job %s cannot be cancelled (status: %s)", id, job.Status))
	}

	q.mu.Lock()
	cancel, running := q.active[id]
	q.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	job.finish(JobStatusCancelled, "Job cancelled", "")
	return q.store.UpdateJob(job)
}

func (q *JobQueue) worker(ctx context.Context, logger *slog.Logger) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case id := <-q.ids:
			q.process(ctx, id, logger)
		}
	}
}

func (q *JobQueue) process(ctx context.Context, id string, logger *slog.Logger) {
	job, err := q.store.GetJob(id)
	if err != nil {
		logger.ErrorContext(ctx, "queued job vanished", slog.String("job_id", id), slog.String("error", err.Error()))
		return
	}
	if job.Status != JobStatusPending {
		logger.InfoContext(ctx, "skipping job", slog.String("job_id", id), slog.String("status", string(job.Status)))
		return
	}

	if job.TraceID != "" {
		ctx = infrastructure.WithTraceID(ctx, job.TraceID)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger = logger.With(slog.String("job_id", job.ID))

	q.mu.Lock()
	q.active[job.ID] = cancel
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.active, job.ID)
		q.mu.Unlock()
	}()

	started := time.Now()
	job.Status = JobStatusRunning
	job.StartedAt = &started
	job.Message = "Job started"
	q.save(ctx, job)
	logger.InfoContext(ctx, "job started")

	results, err := q.run(ctx, job.Request)
	job.Results = results
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "job failed", slog.String("error", err.Error()))
		job.finish(JobStatusFailed, "Job failed", err.Error())
	case ctx.Err() != nil:
		job.finish(JobStatusCancelled, "Job cancelled", "")
	default:
		job.finish(summarize(results))
	}
	q.save(ctx, job)

	logger.InfoContext(ctx, "job finished",
		slog.String("status", string(job.Status)),
		slog.Duration("duration", time.Since(started)))
}

// run calls the runner, turning a panic into an error
func (q *JobQueue) run(ctx context.Context, req PipelineRequest) (results []RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job processing panicked: %v", r)
		}
	}()
	return q.runner.Run(ctx, req)
}

func (q *JobQueue) save(ctx context.Context, job *Job) {
	if err := q.store.UpdateJob(job); err != nil {
		q.logger.ErrorContext(ctx, "failed to update job",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
			slog.String("error", err.Error()))
	}
}

func (q *JobQueue) prune(ctx context.Context) {
	defer q.wg.Done()

	interval := q.retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case now := <-ticker.C:
			if n := q.store.PruneJobs(now.Add(-q.retention)); n > 0 {
				q.logger.DebugContext(ctx, "pruned finished jobs", slog.Int("count", n))
			}
		}
	}
}

// summarize folds run outcomes into the job's terminal status. Any failed run
// fails the job.
func summarize(results []RunResult) (JobStatus, string, string) {
	counts := make(map[RunStatus]int, 4)
	firstErr := ""
	for _, r := range results {
		counts[r.Status]++
		if r.Status == RunFailed && firstErr == "" {
			firstErr = r.Message
		}
	}
	msg := fmt.Sprintf("%d runs: %d completed, %d skipped, %d coalesced, %d failed",
		len(results), counts[RunCompleted], counts[RunSkipped], counts[RunCoalesced], counts[RunFailed])
	if counts[RunFailed] > 0 {
		return JobStatusFailed, msg, firstErr
	}
	return JobStatusCompleted, msg, ""
}

// GetQueueStats reports pool occupancy and job counts by status
func (q *JobQueue) GetQueueStats() map[string]interface{} {
	q.mu.Lock()
	active := len(q.active)
	q.mu.Unlock()

	return map[string]interface{}{
		"workers":     q.workers,
		"queue_size":  len(q.ids),
		"queue_cap":   cap(q.ids),
		"active_jobs": active,
		"jobs":        q.store.CountByStatus(),
	}
}
