// Package client is a thin HTTP client for the Integration Hub API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/integrationhub/pkg/models"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Submission struct {
	JobID       uuid.UUID     `json:"job_id"`
	Status      models.Status `json:"status"`
	ExecutionID uuid.UUID     `json:"execution_id"`
	Attempt     int           `json:"attempt"`
}

type Job struct {
	JobID         uuid.UUID      `json:"job_id"`
	ConnectorName string         `json:"connector_name"`
	Status        models.Status  `json:"status"`
	Payload       map[string]any `json:"payload"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Executions    []Execution    `json:"executions,omitempty"`
}

type Execution struct {
	ExecutionID  uuid.UUID      `json:"execution_id"`
	Attempt      int            `json:"attempt"`
	Status       models.Status  `json:"status"`
	StartedAt    *time.Time     `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at"`
	Output       map[string]any `json:"output"`
	ErrorMessage *string        `json:"error_message"`
	CreatedAt    time.Time      `json:"created_at"`
}

type ListOptions struct {
	Status        models.Status
	ConnectorName string
	Limit         int
	Offset        int
}

type Page struct {
	Jobs []Job `json:"data"`
	Meta struct {
		Limit   int  `json:"limit"`
		Offset  int  `json:"offset"`
		Total   int  `json:"total"`
		HasNext bool `json:"has_next"`
	} `json:"meta"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the server at baseURL. A nil httpClient gets a
// client with a 30s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) Submit(ctx context.Context, connectorName string, payload map[string]any) (*Submission, error) {
	var out Submission
	body := map[string]any{"connector_name": connectorName, "payload": payload}
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	var out Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListJobs(ctx context.Context, opts ListOptions) (*Page, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.ConnectorName != "" {
		q.Set("connector_name", opts.ConnectorName)
	}
	if opts.Limit != 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset != 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page Page
	if err := c.doRaw(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) JobStatus(ctx context.Context, jobID uuid.UUID) (models.Status, error) {
	var out struct {
		Status models.Status `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID.String()+"/status", nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) Retry(ctx context.Context, jobID uuid.UUID) (*Submission, error) {
	var out Submission
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/retry", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Connectors(ctx context.Context) ([]string, error) {
	var out struct {
		Connectors []string `json:"connectors"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/connectors", nil, &out); err != nil {
		return nil, err
	}
	return out.Connectors, nil
}

// WaitForTerminal polls the job status every interval until it is SUCCESS or
// FAILED, or ctx is done.
func (c *Client) WaitForTerminal(ctx context.Context, jobID uuid.UUID, interval time.Duration) (models.Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.JobStatus(ctx, jobID)
		if err != nil {
			return "", err
		}
		if status.IsTerminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, fmt.Errorf("waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// do sends the request and decodes the "data" member of the envelope into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.doRaw(ctx, method, path, body, &env); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

// doRaw sends the request and decodes the whole 2xx body into out.
func (c *Client) doRaw(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || env.Error.Code == "" {
		apiErr.Code = "UNEXPECTED_RESPONSE"
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}
	apiErr.Code = env.Error.Code
	apiErr.Message = env.Error.Message
	apiErr.Details = env.Error.Details
	return apiErr
}
