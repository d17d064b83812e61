package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/integrationhub/internal/api/handler"
	"github.com/kiranshivaraju/integrationhub/internal/engine"
	"github.com/kiranshivaraju/integrationhub/internal/store"
	"github.com/kiranshivaraju/integrationhub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockJobService returns canned results and records what it was asked.
type mockJobService struct {
	submitErr  error
	retryErr   error
	getErr     error
	listErr    error
	lastFilter store.JobFilter
	lastName   string
	lastBody   map[string]any
}

func (m *mockJobService) Submit(_ context.Context, name string, payload map[string]any) (*engine.Submission, error) {
	m.lastName, m.lastBody = name, payload
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	job := &models.Job{ID: uuid.New(), ConnectorName: name, Status: models.StatusPending}
	return &engine.Submission{Job: job, Execution: &models.Execution{
		ID: uuid.New(), JobID: job.ID, Attempt: 1, Status: models.StatusPending,
	}}, nil
}

func (m *mockJobService) Retry(_ context.Context, _ uuid.UUID) (*engine.Submission, error) {
	return nil, m.retryErr
}

func (m *mockJobService) GetJob(_ context.Context, _ uuid.UUID) (*models.Job, []*models.Execution, error) {
	return nil, nil, m.getErr
}

func (m *mockJobService) ListJobs(_ context.Context, f store.JobFilter) ([]*models.Job, int, error) {
	m.lastFilter = f
	return nil, 0, m.listErr
}

func (m *mockJobService) JobStatus(_ context.Context, _ uuid.UUID) (models.Status, error) {
	return models.StatusRunning, nil
}

func (m *mockJobService) Connectors() []string { return []string{"echo"} }

func serve(h http.HandlerFunc, pattern, method, target, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, strings.NewReader(body)))
	return w
}

func TestSubmitHandler_PassesNameAndPayload(t *testing.T) {
	svc := &mockJobService{}
	w := serve(handler.NewSubmitJobHandler(svc), "/jobs", "POST", "/jobs",
		`{"connector_name":"echo","payload":{"a":1}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "echo", svc.lastName)
	assert.Equal(t, map[string]any{"a": float64(1)}, svc.lastBody)
}

func TestSubmitHandler_UnknownConnectorWrapped(t *testing.T) {
	svc := &mockJobService{submitErr: fmt.Errorf("%w: ghost", engine.ErrUnknownConnector)}
	w := serve(handler.NewSubmitJobHandler(svc), "/jobs", "POST", "/jobs",
		`{"connector_name":"ghost"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "UNKNOWN_CONNECTOR")
	assert.Contains(t, w.Body.String(), "Unknown connector: ghost")
}

func TestSubmitHandler_StoreFailureIs500(t *testing.T) {
	svc := &mockJobService{submitErr: errors.New("connection refused")}
	w := serve(handler.NewSubmitJobHandler(svc), "/jobs", "POST", "/jobs",
		`{"connector_name":"echo"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestSubmitHandler_ShuttingDownIs503(t *testing.T) {
	svc := &mockJobService{submitErr: engine.ErrShuttingDown}
	w := serve(handler.NewSubmitJobHandler(svc), "/jobs", "POST", "/jobs",
		`{"connector_name":"echo"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubmitHandler_BodyTooLarge(t *testing.T) {
	svc := &mockJobService{}
	big := `{"connector_name":"echo","payload":{"x":"` + strings.Repeat("a", 2<<20) + `"}}`
	w := serve(handler.NewSubmitJobHandler(svc), "/jobs", "POST", "/jobs", big)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.lastName)
}

func TestRetryHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", engine.ErrJobNotFound, http.StatusNotFound, "JOB_NOT_FOUND"},
		{"not allowed", fmt.Errorf("%w: attempt 1 is RUNNING", engine.ErrRetryNotAllowed), http.StatusConflict, "RETRY_NOT_ALLOWED"},
		{"shutting down", engine.ErrShuttingDown, http.StatusServiceUnavailable, "SHUTTING_DOWN"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockJobService{retryErr: tt.err}
			w := serve(handler.NewRetryJobHandler(svc), "/jobs/{jobID}/retry", "POST",
				"/jobs/"+uuid.NewString()+"/retry", "")

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}

func TestListHandler_NormalizesFilter(t *testing.T) {
	svc := &mockJobService{}
	w := serve(handler.NewListJobsHandler(svc), "/jobs", "GET",
		"/jobs?status=RUNNING&connector_name=echo&limit=0&offset=3", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, store.JobFilter{
		Status:        models.StatusRunning,
		ConnectorName: "echo",
		Limit:         50,
		Offset:        3,
	}, svc.lastFilter)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestStatusHandler_InvalidID(t *testing.T) {
	w := serve(handler.NewJobStatusHandler(&mockJobService{}), "/jobs/{jobID}/status", "GET",
		"/jobs/123/status", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_JOB_ID")
}
