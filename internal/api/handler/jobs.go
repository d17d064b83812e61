package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/integrationhub/internal/api/response"
	"github.com/kiranshivaraju/integrationhub/internal/engine"
	"github.com/kiranshivaraju/integrationhub/internal/store"
	"github.com/kiranshivaraju/integrationhub/pkg/models"
)

const maxRequestBodyBytes = 1 << 20

// JobService is the part of the engine the job handlers depend on.
type JobService interface {
	Submit(ctx context.Context, connectorName string, payload map[string]any) (*engine.Submission, error)
	Retry(ctx context.Context, jobID uuid.UUID) (*engine.Submission, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, []*models.Execution, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
	JobStatus(ctx context.Context, jobID uuid.UUID) (models.Status, error)
	Connectors() []string
}

type submissionResponse struct {
	JobID       uuid.UUID     `json:"job_id"`
	Status      models.Status `json:"status"`
	ExecutionID uuid.UUID     `json:"execution_id"`
	Attempt     int           `json:"attempt"`
}

type jobResponse struct {
	JobID         uuid.UUID           `json:"job_id"`
	ConnectorName string              `json:"connector_name"`
	Status        models.Status       `json:"status"`
	Payload       map[string]any      `json:"payload"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Executions    []executionResponse `json:"executions,omitempty"`
}

type executionResponse struct {
	ExecutionID  uuid.UUID      `json:"execution_id"`
	Attempt      int            `json:"attempt"`
	Status       models.Status  `json:"status"`
	StartedAt    *time.Time     `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at"`
	Output       map[string]any `json:"output"`
	ErrorMessage *string        `json:"error_message"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newSubmissionResponse(s *engine.Submission) submissionResponse {
	return submissionResponse{
		JobID:       s.Job.ID,
		Status:      s.Execution.Status,
		ExecutionID: s.Execution.ID,
		Attempt:     s.Execution.Attempt,
	}
}

func newJobResponse(job *models.Job, execs []*models.Execution) jobResponse {
	resp := jobResponse{
		JobID:         job.ID,
		ConnectorName: job.ConnectorName,
		Status:        job.Status,
		Payload:       job.Payload,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	if execs != nil {
		resp.Executions = make([]executionResponse, 0, len(execs))
	}
	for _, e := range execs {
		resp.Executions = append(resp.Executions, executionResponse{
			ExecutionID:  e.ID,
			Attempt:      e.Attempt,
			Status:       e.Status,
			StartedAt:    e.StartedAt,
			FinishedAt:   e.FinishedAt,
			Output:       e.Output,
			ErrorMessage: e.ErrorMessage,
			CreatedAt:    e.CreatedAt,
		})
	}
	return resp
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConnectorName string         `json:"connector_name"`
			Payload       map[string]any `json:"payload"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		if req.ConnectorName == "" {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "connector_name is required", nil)
			return
		}

		sub, err := svc.Submit(r.Context(), req.ConnectorName, req.Payload)
		if err != nil {
			switch {
			case errors.Is(err, engine.ErrUnknownConnector):
				response.Error(w, http.StatusBadRequest, response.CodeUnknownConnector,
					"Unknown connector: "+req.ConnectorName,
					map[string]string{"connector_name": req.ConnectorName})
			default:
				writeEngineError(w, r, err)
			}
			return
		}

		response.JSON(w, newSubmissionResponse(sub))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}

		job, execs, err := svc.GetJob(r.Context(), jobID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		if execs == nil {
			execs = []*models.Execution{}
		}

		response.JSON(w, newJobResponse(job, execs))
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := store.JobFilter{ConnectorName: q.Get("connector_name")}
		if s := q.Get("status"); s != "" {
			status := models.Status(s)
			if !status.Valid() {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidStatus,
					"status must be one of PENDING, RUNNING, SUCCESS, FAILED",
					map[string]string{"status": s})
				return
			}
			filter.Status = status
		}

		var err error
		if filter.Limit, err = intParam(q.Get("limit")); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "limit must be an integer", nil)
			return
		}
		if filter.Offset, err = intParam(q.Get("offset")); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "offset must be an integer", nil)
			return
		}
		filter = filter.Normalize()

		jobs, total, err := svc.ListJobs(r.Context(), filter)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}

		items := make([]jobResponse, 0, len(jobs))
		for _, j := range jobs {
			items = append(items, newJobResponse(j, nil))
		}
		response.Collection(w, items, response.NewPaginationMeta(filter.Limit, filter.Offset, total))
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/status.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}

		status, err := svc.JobStatus(r.Context(), jobID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}

		response.JSON(w, map[string]any{
			"job_id": jobID,
			"status": status,
		})
	}
}

// NewRetryJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/retry.
func NewRetryJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}

		sub, err := svc.Retry(r.Context(), jobID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}

		response.JSON(w, newSubmissionResponse(sub))
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "jobID")
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidJobID, "Job ID must be a valid UUID",
			map[string]string{"job_id": raw})
		return uuid.Nil, false
	}
	return id, true
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// writeEngineError maps engine sentinels to their HTTP error codes.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrJobNotFound):
		response.Error(w, http.StatusNotFound, response.CodeJobNotFound, "Job not found", nil)
	case errors.Is(err, engine.ErrRetryNotAllowed):
		response.Error(w, http.StatusConflict, response.CodeRetryNotAllowed,
			"Job has an attempt that has not finished yet", nil)
	case errors.Is(err, engine.ErrShuttingDown):
		response.Error(w, http.StatusServiceUnavailable, response.CodeShuttingDown,
			"Server is shutting down", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.InternalError(w)
	}
}
