package cache

import (
	"context"
	"time"
)

// ReportCache holds serialized read projections (low-stock, expiring batches)
// for a short TTL. Reports are pure reads, so staleness is bounded by the TTL
// and no invalidation is attempted.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}
