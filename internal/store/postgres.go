package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/integrationhub/pkg/models"
)

const (
	jobColumns       = `id, connector_name, payload, status, created_at, updated_at`
	executionColumns = `id, job_id, attempt, status, started_at, finished_at, output, error_message, created_at`
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx opens a transaction, passes it to fn and commits if fn succeeds.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&postgresTx{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return getJob(ctx, s.pool, id, false)
}

func (s *PostgresStore) GetJobDetail(ctx context.Context, id uuid.UUID) (*models.Job, []*models.Execution, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := getJob(ctx, tx, id, false)
	if err != nil {
		return nil, nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE job_id = $1 ORDER BY attempt ASC`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list executions: %w", err)
	}
	execs, err := collectExecutions(rows)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit read transaction: %w", err)
	}
	return job, execs, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	filter = filter.Normalize()

	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ConnectorName != "" {
		conditions = append(conditions, fmt.Sprintf("connector_name = $%d", argIdx))
		args = append(args, filter.ConnectorName)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// --- Executions ---

func (s *PostgresStore) ListUnfinishedExecutions(ctx context.Context) ([]*models.Execution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE status IN ('PENDING', 'RUNNING') ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unfinished executions: %w", err)
	}
	return collectExecutions(rows)
}

// --- transaction ---

type postgresTx struct {
	db dbtx
}

func (t *postgresTx) CreateJob(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = t.db.Exec(ctx,
		`INSERT INTO jobs (id, connector_name, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.ConnectorName, payload, string(job.Status), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (t *postgresTx) CreateExecution(ctx context.Context, exec *models.Execution) error {
	_, err := t.db.Exec(ctx,
		`INSERT INTO executions (id, job_id, attempt, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		exec.ID, exec.JobID, exec.Attempt, string(exec.Status), exec.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("create execution: job %s: %w", exec.JobID, ErrNotFound)
		}
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (t *postgresTx) LockJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return getJob(ctx, t.db, id, true)
}

func (t *postgresTx) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	e, err := scanExecution(t.db.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

func (t *postgresTx) LatestExecution(ctx context.Context, jobID uuid.UUID) (*models.Execution, error) {
	e, err := scanExecution(t.db.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE job_id = $1 ORDER BY attempt DESC LIMIT 1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest execution: %w", err)
	}
	return e, nil
}

func (t *postgresTx) UpdateExecution(ctx context.Context, id uuid.UUID, status models.Status, opts ...ExecutionUpdateOption) error {
	params := applyExecutionOptions(opts)
	if err := params.validate(status); err != nil {
		return err
	}

	// Fetch and lock current status
	var current string
	err := t.db.QueryRow(ctx, `SELECT status FROM executions WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get execution status: %w", err)
	}

	from := models.Status(current)
	if params.ExpectedStatus != nil && from != *params.ExpectedStatus {
		return fmt.Errorf("%w: execution %s is %s, expected %s", ErrStaleTransition, id, from, *params.ExpectedStatus)
	}
	if err := checkTransition(validExecutionTransitions, from, status); err != nil {
		return err
	}

	query := `UPDATE executions SET status = $2`
	args := []any{id, string(status)}
	argIdx := 3

	if params.StartedAt != nil {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, *params.StartedAt)
		argIdx++
	}
	if params.FinishedAt != nil {
		query += fmt.Sprintf(", finished_at = $%d", argIdx)
		args = append(args, *params.FinishedAt)
		argIdx++
	}
	if params.Output != nil {
		output, err := json.Marshal(params.Output)
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		query += fmt.Sprintf(", output = $%d", argIdx)
		args = append(args, output)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}

	query += " WHERE id = $1"

	if _, err := t.db.Exec(ctx, query, args...); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("update execution: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

func (t *postgresTx) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.Status) error {
	var current string
	err := t.db.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if err := checkTransition(validJobTransitions, models.Status(current), status); err != nil {
		return err
	}

	_, err = t.db.Exec(ctx,
		`UPDATE jobs SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func getJob(ctx context.Context, db dbtx, id uuid.UUID, forUpdate bool) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	j, err := scanJob(db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j       models.Job
		status  string
		payload []byte
	)
	if err := row.Scan(&j.ID, &j.ConnectorName, &payload, &status, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = models.Status(status)
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &j, nil
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		e      models.Execution
		status string
		output []byte
	)
	if err := row.Scan(&e.ID, &e.JobID, &e.Attempt, &status, &e.StartedAt, &e.FinishedAt,
		&output, &e.ErrorMessage, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Status = models.Status(status)
	if output != nil {
		if err := json.Unmarshal(output, &e.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	return &e, nil
}

func collectExecutions(rows pgx.Rows) ([]*models.Execution, error) {
	defer rows.Close()

	execs := []*models.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
