package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ametller/crewd/pkg/domain"
)

const runKeyPrefix = "crewd:run:"

// RunStorage implements RunStorage over Redis. Reports are stored as JSON
// values under a per-run key with a configurable TTL, plus a set holding
// the known run ids.
type RunStorage struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRunStorage creates a Redis-backed run storage.
func NewRunStorage(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RunStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunStorage{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveRun persists the report, replacing any previous version.
func (s *RunStorage) SaveRun(ctx context.Context, report *domain.RunReport) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("report has no run id")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKey(report.RunID), data, s.ttl)
	pipe.SAdd(ctx, runIndexKey(), report.RunID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// GetRun retrieves the report for a run.
func (s *RunStorage) GetRun(ctx context.Context, runID string) (*domain.RunReport, error) {
	data, err := s.client.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report domain.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// DeleteRun removes the report and its index entry.
func (s *RunStorage) DeleteRun(ctx context.Context, runID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, runKey(runID))
	pipe.SRem(ctx, runIndexKey(), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}

// ListRuns returns the ids of all indexed runs. Keys expired by TTL are
// pruned from the index lazily.
func (s *RunStorage) ListRuns(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, runIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, runKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check run: %w", err)
		}
		if exists == 0 {
			if err := s.client.SRem(ctx, runIndexKey(), id).Err(); err != nil {
				s.logger.Warn("failed to prune expired run from index",
					zap.String("run_id", id),
					zap.Error(err))
			}
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Ping verifies connectivity.
func (s *RunStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func runKey(runID string) string {
	return runKeyPrefix + runID
}

func runIndexKey() string {
	return "crewd:runs"
}
