package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/integrationhub/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStaleTransition is returned by UpdateExecution when the row is not in the
// status the caller expected.
var ErrStaleTransition = errors.New("stale status transition")

var ErrInvalidTransition = errors.New("invalid status transition")

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// WithTx runs fn inside a single transaction. Returning an error from fn
	// rolls back every write made through the Tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// GetJobDetail returns the job and its executions ordered by attempt,
	// read from one consistent snapshot.
	GetJobDetail(ctx context.Context, id uuid.UUID) (*models.Job, []*models.Execution, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	ListUnfinishedExecutions(ctx context.Context) ([]*models.Execution, error)
}

// Tx is the set of operations available inside WithTx.
type Tx interface {
	CreateJob(ctx context.Context, job *models.Job) error
	CreateExecution(ctx context.Context, exec *models.Execution) error

	// LockJob loads the job and holds a row lock on it until the transaction ends.
	LockJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error)
	LatestExecution(ctx context.Context, jobID uuid.UUID) (*models.Execution, error)

	UpdateExecution(ctx context.Context, id uuid.UUID, status models.Status, opts ...ExecutionUpdateOption) error
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.Status) error
}

type JobFilter struct {
	Status        models.Status
	ConnectorName string
	Limit         int
	Offset        int
}

// Normalize clamps Limit to [1, 200] (0 means the default) and Offset to >= 0.
func (f JobFilter) Normalize() JobFilter {
	if f.Limit == 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit < 1 {
		f.Limit = 1
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type executionUpdateParams struct {
	ExpectedStatus *models.Status
	StartedAt      *time.Time
	FinishedAt     *time.Time
	Output         map[string]any
	ErrorMessage   *string
}

type ExecutionUpdateOption func(*executionUpdateParams)

// WithExpectedStatus makes the update conditional on the current status.
func WithExpectedStatus(status models.Status) ExecutionUpdateOption {
	return func(p *executionUpdateParams) {
		p.ExpectedStatus = &status
	}
}

func WithStartedAt(t time.Time) ExecutionUpdateOption {
	return func(p *executionUpdateParams) {
		p.StartedAt = &t
	}
}

func WithFinishedAt(t time.Time) ExecutionUpdateOption {
	return func(p *executionUpdateParams) {
		p.FinishedAt = &t
	}
}

func WithOutput(output map[string]any) ExecutionUpdateOption {
	return func(p *executionUpdateParams) {
		if output == nil {
			output = map[string]any{}
		}
		p.Output = output
	}
}

func WithErrorMessage(msg string) ExecutionUpdateOption {
	return func(p *executionUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func applyExecutionOptions(opts []ExecutionUpdateOption) *executionUpdateParams {
	params := &executionUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

func (p *executionUpdateParams) validate(status models.Status) error {
	if p.Output != nil && p.ErrorMessage != nil {
		return fmt.Errorf("output and error_message are mutually exclusive")
	}
	if p.Output != nil && status != models.StatusSuccess {
		return fmt.Errorf("output may only be set on %s, got %s", models.StatusSuccess, status)
	}
	if p.ErrorMessage != nil && status != models.StatusFailed {
		return fmt.Errorf("error_message may only be set on %s, got %s", models.StatusFailed, status)
	}
	return nil
}

var validExecutionTransitions = map[models.Status][]models.Status{
	models.StatusPending: {models.StatusRunning},
	models.StatusRunning: {models.StatusSuccess, models.StatusFailed},
}

// Jobs re-enter PENDING when a retry creates a new attempt.
var validJobTransitions = map[models.Status][]models.Status{
	models.StatusPending: {models.StatusRunning},
	models.StatusRunning: {models.StatusSuccess, models.StatusFailed},
	models.StatusSuccess: {models.StatusPending},
	models.StatusFailed:  {models.StatusPending},
}

func checkTransition(table map[models.Status][]models.Status, from, to models.Status) error {
	if !slices.Contains(table[from], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
