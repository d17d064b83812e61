// Package engine runs jobs through their lifecycle:
//
//	PENDING → RUNNING → SUCCESS
//	                  ↘ FAILED
//
// Submit and Retry persist a PENDING attempt and return immediately; the
// attempt itself runs on a background goroutine. Every transition for a job
// happens under that job's lock and inside one store transaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/integrationhub/internal/cache"
	"github.com/kiranshivaraju/integrationhub/internal/connector"
	"github.com/kiranshivaraju/integrationhub/internal/events"
	"github.com/kiranshivaraju/integrationhub/internal/metrics"
	"github.com/kiranshivaraju/integrationhub/internal/store"
	"github.com/kiranshivaraju/integrationhub/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultMaxConcurrency = 16
	defaultStatusTTL      = 30 * time.Minute
	publishTimeout        = 5 * time.Second
	finishRetries         = 3
)

// Registry resolves connectors by name.
type Registry interface {
	Resolve(name string) (connector.Connector, error)
	Exists(name string) bool
	List() []string
}

// Submission is what Submit and Retry hand back: the job as persisted and
// the attempt that was scheduled.
type Submission struct {
	Job       *models.Job
	Execution *models.Execution
}

type Engine struct {
	store    store.Store
	registry Registry
	cache    cache.Cache
	events   events.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger

	locks     *jobLocks
	sem       chan struct{}
	statusTTL time.Duration
	now       func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Engine)

func WithCache(c cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxConcurrency bounds how many attempts execute at once. Values below 1 are ignored.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.sem = make(chan struct{}, n)
		}
	}
}

func WithStatusTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.statusTTL = ttl }
}

func New(st store.Store, reg Registry, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		registry:  reg,
		cache:     cache.NopCache{},
		events:    events.NopPublisher{},
		logger:    slog.Default(),
		locks:     newJobLocks(),
		sem:       make(chan struct{}, defaultMaxConcurrency),
		statusTTL: defaultStatusTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(prometheus.NewRegistry())
	}
	return e
}

// Connectors returns the registered connector names in sorted order.
func (e *Engine) Connectors() []string {
	return e.registry.List()
}

// Submit validates the connector name, persists the job with attempt 1 and
// schedules the attempt. It never waits for the attempt to run.
func (e *Engine) Submit(ctx context.Context, connectorName string, payload map[string]any) (*Submission, error) {
	if !e.registry.Exists(connectorName) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, connectorName)
	}
	if e.isClosed() {
		return nil, ErrShuttingDown
	}
	if payload == nil {
		payload = map[string]any{}
	}

	now := e.now()
	job := &models.Job{
		ID:            uuid.New(),
		ConnectorName: connectorName,
		Payload:       models.CloneDocument(payload),
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	exec := &models.Execution{
		ID:        uuid.New(),
		JobID:     job.ID,
		Attempt:   1,
		Status:    models.StatusPending,
		CreatedAt: now,
	}

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateJob(ctx, job); err != nil {
			return fmt.Errorf("creating job: %w", err)
		}
		if err := tx.CreateExecution(ctx, exec); err != nil {
			return fmt.Errorf("creating execution: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.setCachedStatus(ctx, job.ID, models.StatusPending)
	e.metrics.JobsSubmitted.WithLabelValues(connectorName).Inc()
	e.logger.Info("job submitted",
		"job_id", job.ID,
		"execution_id", exec.ID,
		"connector", connectorName,
	)

	e.dispatch(job.ID, exec.ID)

	return &Submission{Job: job, Execution: exec}, nil
}

// Retry creates attempt max+1 for a job whose latest attempt is terminal and
// schedules it. Retries are unlimited.
func (e *Engine) Retry(ctx context.Context, jobID uuid.UUID) (*Submission, error) {
	if e.isClosed() {
		return nil, ErrShuttingDown
	}

	unlock := e.locks.Lock(jobID)
	defer unlock()

	var (
		job  *models.Job
		exec *models.Execution
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		job, err = tx.LockJob(ctx, jobID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("locking job: %w", err)
		}

		latest, err := tx.LatestExecution(ctx, jobID)
		if err != nil {
			return fmt.Errorf("loading latest execution: %w", err)
		}
		if !latest.Status.IsTerminal() {
			return fmt.Errorf("%w: attempt %d is %s", ErrRetryNotAllowed, latest.Attempt, latest.Status)
		}

		exec = &models.Execution{
			ID:        uuid.New(),
			JobID:     jobID,
			Attempt:   latest.Attempt + 1,
			Status:    models.StatusPending,
			CreatedAt: e.now(),
		}
		if err := tx.CreateExecution(ctx, exec); err != nil {
			return fmt.Errorf("creating execution: %w", err)
		}
		if err := tx.UpdateJobStatus(ctx, jobID, models.StatusPending); err != nil {
			return fmt.Errorf("resetting job status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	job.Status = models.StatusPending
	job.UpdatedAt = e.now()
	e.setCachedStatus(ctx, jobID, models.StatusPending)
	e.metrics.RetriesRequested.WithLabelValues(job.ConnectorName).Inc()
	e.logger.Info("job retried",
		"job_id", jobID,
		"execution_id", exec.ID,
		"attempt", exec.Attempt,
		"connector", job.ConnectorName,
	)

	e.dispatch(jobID, exec.ID)

	return &Submission{Job: job, Execution: exec}, nil
}

// GetJob returns the job and its executions in attempt order.
func (e *Engine) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, []*models.Execution, error) {
	job, execs, err := e.store.GetJobDetail(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrJobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading job: %w", err)
	}
	return job, execs, nil
}

// ListJobs returns one page of jobs, newest first, and the total match count.
func (e *Engine) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	jobs, total, err := e.store.ListJobs(ctx, filter.Normalize())
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, total, nil
}

// JobStatus serves the job's status from the cache, falling back to the store.
func (e *Engine) JobStatus(ctx context.Context, jobID uuid.UUID) (models.Status, error) {
	status, found, err := e.cache.GetJobStatus(ctx, jobID)
	if err != nil {
		e.logger.Warn("status cache read failed", "job_id", jobID, "error", err)
	}
	if found {
		return status, nil
	}

	job, err := e.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading job: %w", err)
	}
	return job.Status, nil
}

// Shutdown stops accepting work and waits for in-flight attempts to finish or
// ctx to expire. Attempts still PENDING when the process exits are picked up
// by Recover on the next start.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight attempts: %w", ctx.Err())
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// dispatch runs the attempt on its own goroutine. The concurrency slot is
// acquired inside the goroutine so callers never block.
func (e *Engine) dispatch(jobID, execID uuid.UUID) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Warn("engine closed, attempt left pending",
			"job_id", jobID,
			"execution_id", execID,
		)
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		e.sem <- struct{}{}
		defer func() { <-e.sem }()

		e.runAttempt(jobID, execID)
	}()
}

// runAttempt claims the attempt, executes the connector without holding the
// job lock, then records the terminal status. Missing rows end it silently.
func (e *Engine) runAttempt(jobID, execID uuid.UUID) {
	ctx := context.Background()
	logger := e.logger.With("job_id", jobID, "execution_id", execID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in runAttempt", "error", r, "stack", string(debug.Stack()))
		}
	}()

	job, exec, ok := e.claim(ctx, jobID, execID, logger)
	if !ok {
		return
	}
	logger = logger.With("attempt", exec.Attempt, "connector", job.ConnectorName)
	logger.Info("attempt started")

	output, execErr := e.execute(ctx, job, logger)

	e.finish(ctx, job, exec, output, execErr, logger)
}

// claim moves the attempt and its job to RUNNING in one transaction.
func (e *Engine) claim(ctx context.Context, jobID, execID uuid.UUID, logger *slog.Logger) (*models.Job, *models.Execution, bool) {
	unlock := e.locks.Lock(jobID)
	defer unlock()

	var (
		job     *models.Job
		exec    *models.Execution
		skipped bool
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		job, err = tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		exec, err = tx.GetExecution(ctx, execID)
		if err != nil {
			return err
		}
		if exec.JobID != jobID || exec.Status != models.StatusPending {
			skipped = true
			return nil
		}

		startedAt := e.now()
		if err := tx.UpdateExecution(ctx, execID, models.StatusRunning,
			store.WithExpectedStatus(models.StatusPending),
			store.WithStartedAt(startedAt)); err != nil {
			return err
		}
		if err := tx.UpdateJobStatus(ctx, jobID, models.StatusRunning); err != nil {
			return err
		}
		exec.Status = models.StatusRunning
		exec.StartedAt = &startedAt
		return nil
	})

	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Info("job or execution no longer exists, skipping attempt")
		return nil, nil, false
	case errors.Is(err, store.ErrStaleTransition), errors.Is(err, store.ErrDuplicateKey):
		logger.Info("attempt already claimed, skipping", "error", err)
		return nil, nil, false
	case err != nil:
		logger.Error("failed to claim attempt", "error", err)
		return nil, nil, false
	case skipped:
		logger.Info("attempt is not pending, skipping", "status", exec.Status)
		return nil, nil, false
	}

	e.setCachedStatus(ctx, jobID, models.StatusRunning)
	return job, exec, true
}

// execute resolves and invokes the connector. Panics become InternalError failures.
func (e *Engine) execute(ctx context.Context, job *models.Job, logger *slog.Logger) (output map[string]any, err error) {
	e.metrics.AttemptsInFlight.Inc()
	start := time.Now()
	defer func() {
		e.metrics.AttemptsInFlight.Dec()
		e.metrics.AttemptDuration.WithLabelValues(job.ConnectorName).Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in connector", "error", r, "stack", string(debug.Stack()))
			output = nil
			err = connector.NewError(CategoryInternal, "panic: %v", r)
		}
	}()

	c, err := e.registry.Resolve(job.ConnectorName)
	if err != nil {
		return nil, connector.NewError(CategoryUnknownConnector, "connector %q is not registered", job.ConnectorName)
	}

	return c.Execute(ctx, models.CloneDocument(job.Payload))
}

// finish records SUCCESS or FAILED on the attempt and its job in one transaction.
// When the result itself cannot be written, the attempt is failed with an
// InternalError instead so it never stays RUNNING.
func (e *Engine) finish(ctx context.Context, job *models.Job, exec *models.Execution, output map[string]any, execErr error, logger *slog.Logger) {
	status := models.StatusSuccess
	resultOpt := store.WithOutput(output)
	var errMsg string
	if execErr != nil {
		status = models.StatusFailed
		errMsg = failureMessage(execErr)
		resultOpt = store.WithErrorMessage(errMsg)
	}

	finishedAt := e.now()
	err := e.recordResult(ctx, job.ID, exec.ID, status, finishedAt, resultOpt, logger)
	if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrStaleTransition) {
		logger.Error("failed to record attempt result, failing attempt", "status", status, "error", err)
		status = models.StatusFailed
		errMsg = failureMessage(connector.NewError(CategoryInternal, "recording result: %v", err))
		err = e.recordResult(ctx, job.ID, exec.ID, status, finishedAt, store.WithErrorMessage(errMsg), logger)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Info("job or execution vanished before the attempt finished")
		return
	case errors.Is(err, store.ErrStaleTransition):
		logger.Info("attempt already finished elsewhere", "error", err)
		return
	case err != nil:
		// Left RUNNING; Recover fails it as interrupted on the next start.
		logger.Error("failed to record attempt failure", "error", err)
		return
	}

	e.metrics.ExecutionsFinished.WithLabelValues(job.ConnectorName, string(status)).Inc()
	if status == models.StatusFailed {
		logger.Warn("attempt failed", "error", errMsg)
	} else {
		logger.Info("attempt succeeded")
	}

	e.publishFinished(events.ExecutionFinished{
		JobID:         job.ID,
		ExecutionID:   exec.ID,
		ConnectorName: job.ConnectorName,
		Attempt:       exec.Attempt,
		Status:        status,
		ErrorMessage:  errMsg,
		FinishedAt:    finishedAt,
	}, logger)
}

// recordResult writes the terminal transition, retrying transient store errors
// up to finishRetries times.
func (e *Engine) recordResult(ctx context.Context, jobID, execID uuid.UUID, status models.Status, finishedAt time.Time, resultOpt store.ExecutionUpdateOption, logger *slog.Logger) error {
	var err error
	for i := range finishRetries {
		err = e.writeTerminal(ctx, jobID, execID, status, finishedAt, resultOpt)
		if err == nil || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrStaleTransition) {
			return err
		}
		if i < finishRetries-1 {
			logger.Warn("failed to record attempt result, retrying", "status", status, "error", err, "try", i+1)
			time.Sleep(time.Duration(100*(1<<i)) * time.Millisecond)
		}
	}
	return err
}

func (e *Engine) writeTerminal(ctx context.Context, jobID, execID uuid.UUID, status models.Status, finishedAt time.Time, resultOpt store.ExecutionUpdateOption) error {
	unlock := e.locks.Lock(jobID)
	defer unlock()

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateExecution(ctx, execID, status,
			store.WithExpectedStatus(models.StatusRunning),
			store.WithFinishedAt(finishedAt),
			resultOpt); err != nil {
			return err
		}
		return tx.UpdateJobStatus(ctx, jobID, status)
	})
	if err != nil {
		return err
	}

	e.setCachedStatus(ctx, jobID, status)
	return nil
}

func (e *Engine) publishFinished(ev events.ExecutionFinished, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := e.events.PublishExecutionFinished(ctx, ev); err != nil {
		logger.Warn("failed to publish execution event", "error", err)
	}
}

// setCachedStatus refreshes the cached status. If the write fails the key is
// dropped so readers fall back to the store instead of an older status.
func (e *Engine) setCachedStatus(ctx context.Context, jobID uuid.UUID, status models.Status) {
	err := e.cache.SetJobStatus(ctx, jobID, status, e.statusTTL)
	if err == nil {
		return
	}
	e.logger.Warn("status cache write failed, invalidating", "job_id", jobID, "status", status, "error", err)
	if err := e.cache.Delete(ctx, cache.JobStatusKey(jobID)); err != nil {
		e.logger.Error("status cache invalidation failed", "job_id", jobID, "error", err)
	}
}

// failureMessage renders err as "{category}: {message}". Invalid UTF-8 is
// replaced so the message can always be stored.
func failureMessage(err error) string {
	var cErr *connector.Error
	msg := CategoryInternal + ": " + err.Error()
	if errors.As(err, &cErr) {
		msg = cErr.Error()
	}
	return strings.ToValidUTF8(msg, "\uFFFD")
}
