package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/integrationhub/internal/events"
	"github.com/kiranshivaraju/integrationhub/internal/store"
	"github.com/kiranshivaraju/integrationhub/pkg/models"
)

const interruptedMessage = "process stopped before the attempt finished"

// RecoveryResult counts what Recover did.
type RecoveryResult struct {
	Redispatched int
	Interrupted  int
}

// Recover resumes work left behind by a previous process. PENDING attempts
// are dispatched again. RUNNING attempts cannot be resumed safely, so they are
// failed with category Interrupted and remain retryable.
//
// Call once at startup before the API starts serving.
func (e *Engine) Recover(ctx context.Context) (RecoveryResult, error) {
	var result RecoveryResult

	execs, err := e.store.ListUnfinishedExecutions(ctx)
	if err != nil {
		return result, fmt.Errorf("listing unfinished executions: %w", err)
	}

	for _, exec := range execs {
		switch exec.Status {
		case models.StatusPending:
			e.dispatch(exec.JobID, exec.ID)
			e.metrics.RecoveredExecutions.WithLabelValues("redispatched").Inc()
			result.Redispatched++

		case models.StatusRunning:
			ok, err := e.interrupt(ctx, exec)
			if err != nil {
				return result, err
			}
			if ok {
				e.metrics.RecoveredExecutions.WithLabelValues("interrupted").Inc()
				result.Interrupted++
			}
		}
	}

	if result.Redispatched > 0 || result.Interrupted > 0 {
		e.logger.Info("recovered unfinished executions",
			"redispatched", result.Redispatched,
			"interrupted", result.Interrupted,
		)
	}
	return result, nil
}

func (e *Engine) interrupt(ctx context.Context, exec *models.Execution) (bool, error) {
	unlock := e.locks.Lock(exec.JobID)
	defer unlock()

	msg := CategoryInterrupted + ": " + interruptedMessage
	finishedAt := e.now()

	var job *models.Job
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		job, err = tx.LockJob(ctx, exec.JobID)
		if err != nil {
			return err
		}
		if err := tx.UpdateExecution(ctx, exec.ID, models.StatusFailed,
			store.WithExpectedStatus(models.StatusRunning),
			store.WithFinishedAt(finishedAt),
			store.WithErrorMessage(msg)); err != nil {
			return err
		}
		return tx.UpdateJobStatus(ctx, exec.JobID, models.StatusFailed)
	})
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrStaleTransition) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("interrupting execution %s: %w", exec.ID, err)
	}

	e.setCachedStatus(ctx, exec.JobID, models.StatusFailed)
	e.metrics.ExecutionsFinished.WithLabelValues(job.ConnectorName, string(models.StatusFailed)).Inc()

	logger := e.logger.With("job_id", exec.JobID, "execution_id", exec.ID, "attempt", exec.Attempt)
	logger.Warn("marked interrupted attempt as failed")
	e.publishFinished(events.ExecutionFinished{
		JobID:         exec.JobID,
		ExecutionID:   exec.ID,
		ConnectorName: job.ConnectorName,
		Attempt:       exec.Attempt,
		Status:        models.StatusFailed,
		ErrorMessage:  msg,
		FinishedAt:    finishedAt,
	}, logger)
	return true, nil
}
