package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/integrationhub/pkg/models"
)

// MemoryStore is an in-memory implementation of Store.
// Safe for concurrent access. Intended for development and unit testing;
// nothing survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	jobs       map[uuid.UUID]*models.Job
	jobOrder   []uuid.UUID
	executions map[uuid.UUID]*models.Execution
	// byJob holds execution ids per job in attempt order.
	byJob map[uuid.UUID][]uuid.UUID

	now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[uuid.UUID]*models.Job),
		executions: make(map[uuid.UUID]*models.Execution),
		byJob:      make(map[uuid.UUID][]uuid.UUID),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds for the memory store.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// WithTx holds the store's write lock for the duration of fn. Every record
// fn touches is snapshotted first so an error restores the previous state.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		m:        m,
		jobUndo:  make(map[uuid.UUID]*models.Job),
		execUndo: make(map[uuid.UUID]*models.Execution),
		byJobOld: make(map[uuid.UUID][]uuid.UUID),
		orderLen: len(m.jobOrder),
	}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MemoryStore) GetJobDetail(_ context.Context, id uuid.UUID) (*models.Job, []*models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	ids := m.byJob[id]
	execs := make([]*models.Execution, 0, len(ids))
	for _, eid := range ids {
		execs = append(execs, cloneExecution(m.executions[eid]))
	}
	return cloneJob(j), execs, nil
}

func (m *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	filter = filter.Normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest insertion first so equal timestamps still come back newest-first.
	matched := make([]*models.Job, 0, len(m.jobOrder))
	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		j := m.jobs[m.jobOrder[i]]
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.ConnectorName != "" && j.ConnectorName != filter.ConnectorName {
			continue
		}
		matched = append(matched, j)
	}
	sort.SliceStable(matched, func(a, b int) bool {
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*models.Job{}, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)

	out := make([]*models.Job, 0, end-filter.Offset)
	for _, j := range matched[filter.Offset:end] {
		out = append(out, cloneJob(j))
	}
	return out, total, nil
}

func (m *MemoryStore) ListUnfinishedExecutions(_ context.Context) ([]*models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Execution
	for _, e := range m.executions {
		if !e.Status.IsTerminal() {
			out = append(out, cloneExecution(e))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// --- transaction ---

type memoryTx struct {
	m *MemoryStore

	// nil entries mark records created inside the transaction.
	jobUndo  map[uuid.UUID]*models.Job
	execUndo map[uuid.UUID]*models.Execution
	byJobOld map[uuid.UUID][]uuid.UUID
	orderLen int
}

func (tx *memoryTx) touchJob(id uuid.UUID) {
	if _, seen := tx.jobUndo[id]; seen {
		return
	}
	if j, ok := tx.m.jobs[id]; ok {
		tx.jobUndo[id] = cloneJob(j)
	} else {
		tx.jobUndo[id] = nil
	}
}

func (tx *memoryTx) touchExecution(id uuid.UUID) {
	if _, seen := tx.execUndo[id]; seen {
		return
	}
	if e, ok := tx.m.executions[id]; ok {
		tx.execUndo[id] = cloneExecution(e)
	} else {
		tx.execUndo[id] = nil
	}
}

func (tx *memoryTx) touchByJob(jobID uuid.UUID) {
	if _, seen := tx.byJobOld[jobID]; seen {
		return
	}
	tx.byJobOld[jobID] = append([]uuid.UUID(nil), tx.m.byJob[jobID]...)
}

func (tx *memoryTx) rollback() {
	for id, j := range tx.jobUndo {
		if j == nil {
			delete(tx.m.jobs, id)
		} else {
			tx.m.jobs[id] = j
		}
	}
	for id, e := range tx.execUndo {
		if e == nil {
			delete(tx.m.executions, id)
		} else {
			tx.m.executions[id] = e
		}
	}
	for jobID, ids := range tx.byJobOld {
		if len(ids) == 0 {
			delete(tx.m.byJob, jobID)
		} else {
			tx.m.byJob[jobID] = ids
		}
	}
	tx.m.jobOrder = tx.m.jobOrder[:tx.orderLen]
}

func (tx *memoryTx) CreateJob(_ context.Context, job *models.Job) error {
	if _, exists := tx.m.jobs[job.ID]; exists {
		return ErrDuplicateKey
	}
	tx.touchJob(job.ID)
	tx.m.jobs[job.ID] = cloneJob(job)
	tx.m.jobOrder = append(tx.m.jobOrder, job.ID)
	return nil
}

func (tx *memoryTx) CreateExecution(_ context.Context, exec *models.Execution) error {
	if _, ok := tx.m.jobs[exec.JobID]; !ok {
		return fmt.Errorf("create execution: job %s: %w", exec.JobID, ErrNotFound)
	}
	if _, exists := tx.m.executions[exec.ID]; exists {
		return ErrDuplicateKey
	}
	for _, eid := range tx.m.byJob[exec.JobID] {
		if tx.m.executions[eid].Attempt == exec.Attempt {
			return ErrDuplicateKey
		}
	}

	tx.touchExecution(exec.ID)
	tx.touchByJob(exec.JobID)
	tx.m.executions[exec.ID] = cloneExecution(exec)

	ids := append(tx.m.byJob[exec.JobID], exec.ID)
	sort.Slice(ids, func(a, b int) bool {
		return tx.m.executions[ids[a]].Attempt < tx.m.executions[ids[b]].Attempt
	})
	tx.m.byJob[exec.JobID] = ids
	return nil
}

// LockJob needs no row lock: the whole store is locked for the transaction.
func (tx *memoryTx) LockJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	j, ok := tx.m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (tx *memoryTx) GetExecution(_ context.Context, id uuid.UUID) (*models.Execution, error) {
	e, ok := tx.m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneExecution(e), nil
}

func (tx *memoryTx) LatestExecution(_ context.Context, jobID uuid.UUID) (*models.Execution, error) {
	ids := tx.m.byJob[jobID]
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return cloneExecution(tx.m.executions[ids[len(ids)-1]]), nil
}

func (tx *memoryTx) UpdateExecution(_ context.Context, id uuid.UUID, status models.Status, opts ...ExecutionUpdateOption) error {
	params := applyExecutionOptions(opts)
	if err := params.validate(status); err != nil {
		return err
	}

	e, ok := tx.m.executions[id]
	if !ok {
		return ErrNotFound
	}
	if params.ExpectedStatus != nil && e.Status != *params.ExpectedStatus {
		return fmt.Errorf("%w: execution %s is %s, expected %s", ErrStaleTransition, id, e.Status, *params.ExpectedStatus)
	}
	if err := checkTransition(validExecutionTransitions, e.Status, status); err != nil {
		return err
	}
	if status == models.StatusRunning {
		for _, eid := range tx.m.byJob[e.JobID] {
			if eid != id && tx.m.executions[eid].Status == models.StatusRunning {
				return fmt.Errorf("job %s already has a running execution: %w", e.JobID, ErrDuplicateKey)
			}
		}
	}

	tx.touchExecution(id)
	e.Status = status
	if params.StartedAt != nil {
		t := *params.StartedAt
		e.StartedAt = &t
	}
	if params.FinishedAt != nil {
		t := *params.FinishedAt
		e.FinishedAt = &t
	}
	if params.Output != nil {
		e.Output = models.CloneDocument(params.Output)
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		e.ErrorMessage = &msg
	}
	return nil
}

func (tx *memoryTx) UpdateJobStatus(_ context.Context, id uuid.UUID, status models.Status) error {
	j, ok := tx.m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(validJobTransitions, j.Status, status); err != nil {
		return err
	}
	tx.touchJob(id)
	j.Status = status
	j.UpdatedAt = tx.m.now()
	return nil
}

func cloneJob(j *models.Job) *models.Job {
	cp := *j
	cp.Payload = models.CloneDocument(j.Payload)
	return &cp
}

func cloneExecution(e *models.Execution) *models.Execution {
	cp := *e
	cp.Output = models.CloneDocument(e.Output)
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		cp.FinishedAt = &t
	}
	if e.ErrorMessage != nil {
		msg := *e.ErrorMessage
		cp.ErrorMessage = &msg
	}
	return &cp
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
