package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	HTTPRequestName = "http_request"

	// maxResponseBytes caps how much of an upstream body is kept in the output.
	maxResponseBytes = 1 << 20
)

// HTTPRequest performs an arbitrary HTTP call described by the payload.
//
// Payload:
//   - url (string, required): absolute http(s) URL
//   - method (string): default GET
//   - headers (object of strings)
//   - body (any): JSON-encoded as the request body
//   - timeout_seconds (number)
//
// Output: status_code, headers, body (decoded JSON when possible, else a string).
// Responses with status >= 400 fail with UpstreamError.
type HTTPRequest struct {
	defaultTimeout time.Duration
	client         *http.Client
}

func NewHTTPRequest(defaultTimeout time.Duration) *HTTPRequest {
	return &HTTPRequest{
		defaultTimeout: defaultTimeout,
		client:         &http.Client{},
	}
}

func (h *HTTPRequest) Execute(ctx context.Context, payload map[string]any) (map[string]any, error) {
	rawURL := payloadString(payload, "url", "")
	if rawURL == "" {
		return nil, NewError(CategoryInvalidPayload, "url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, NewError(CategoryInvalidPayload, "url must be an absolute http or https URL, got %q", rawURL)
	}

	method := strings.ToUpper(payloadString(payload, "method", http.MethodGet))

	timeout, err := payloadTimeout(payload, h.defaultTimeout)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body, ok := payload["body"]; ok && body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, NewError(CategoryInvalidPayload, "body is not JSON-encodable: %v", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, NewError(CategoryInvalidPayload, "building request: %v", err)
	}
	if err := setHeaders(req, payload); err != nil {
		return nil, err
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyError(err)
	}

	if resp.StatusCode >= 400 {
		return nil, NewError(CategoryUpstream, "HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	return buildOutput(resp, respBody), nil
}

func setHeaders(req *http.Request, payload map[string]any) error {
	raw, ok := payload["headers"]
	if !ok || raw == nil {
		return nil
	}
	headers, ok := raw.(map[string]any)
	if !ok {
		return NewError(CategoryInvalidPayload, "headers must be an object, got %T", raw)
	}
	for key, val := range headers {
		s, ok := val.(string)
		if !ok {
			return NewError(CategoryInvalidPayload, "header %q must be a string", key)
		}
		req.Header.Set(key, s)
	}
	return nil
}

func buildOutput(resp *http.Response, body []byte) map[string]any {
	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = string(body)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsed,
	}
}

// truncate limits s to maxLen bytes without splitting a rune. Invalid UTF-8
// in upstream bodies is replaced.
func truncate(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

var _ Connector = (*HTTPRequest)(nil)
