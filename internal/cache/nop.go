package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/integrationhub/pkg/models"
)

// NopCache is used when no Redis URL is configured. Every lookup misses and
// counters never grow, so callers fall back to the store and rate limiting
// lets everything through.
type NopCache struct{}

func (NopCache) Ping(_ context.Context) error { return nil }

func (NopCache) SetJobStatus(_ context.Context, _ uuid.UUID, _ models.Status, _ time.Duration) error {
	return nil
}

func (NopCache) GetJobStatus(_ context.Context, _ uuid.UUID) (models.Status, bool, error) {
	return "", false, nil
}

func (NopCache) Delete(_ context.Context, _ string) error { return nil }

func (NopCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func (NopCache) Close() error { return nil }

var _ Cache = NopCache{}
