package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	SpaceXName           = "spacex_latest_launch"
	spaceXLatestEndpoint = "v5/launches/latest"
)

// SpaceX fetches the latest launch from the public SpaceX API.
type SpaceX struct {
	baseURL        string
	defaultTimeout time.Duration
	client         *http.Client
}

func NewSpaceX(baseURL string, defaultTimeout time.Duration) *SpaceX {
	return &SpaceX{
		baseURL:        strings.TrimRight(baseURL, "/"),
		defaultTimeout: defaultTimeout,
		client:         &http.Client{},
	}
}

func (s *SpaceX) Execute(ctx context.Context, payload map[string]any) (map[string]any, error) {
	timeout, err := payloadTimeout(payload, s.defaultTimeout)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := fmt.Sprintf("%s/%s", s.baseURL, spaceXLatestEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, NewError(CategoryNetwork, "building request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewError(CategoryUpstream, "spacex api returned status %d", resp.StatusCode)
	}

	var launch map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&launch); err != nil {
		if ctx.Err() != nil {
			return nil, classifyError(ctx.Err())
		}
		return nil, NewError(CategoryUpstream, "decoding spacex response: %v", err)
	}

	return map[string]any{
		"source":   "spacex",
		"endpoint": spaceXLatestEndpoint,
		"name":     launch["name"],
		"date_utc": launch["date_utc"],
		"success":  launch["success"],
		"details":  launch["details"],
		"id":       launch["id"],
	}, nil
}

var _ Connector = (*SpaceX)(nil)
