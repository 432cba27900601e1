package repository

import (
	"context"
	"strconv"

	"judgecore/internal/common/cache"
	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"
)

const statsKey = "judge:stats"

// Counter fields besides the per-verdict ones.
const (
	StatSubmissions = "submissions"
	StatTestsTotal  = "tests_total"
	StatTestsPassed = "tests_passed"
	StatFailed      = "failed"
)

// StatsRepository keeps verdict counters in a cache hash.
type StatsRepository struct {
	cache cache.Cache
}

func NewStatsRepository(cacheClient cache.Cache) *StatsRepository {
	return &StatsRepository{cache: cacheClient}
}

// Record adds one judged submission to the counters.
func (r *StatsRepository) Record(ctx context.Context, verdict model.SubmissionVerdict) error {
	incr := map[string]int64{
		StatSubmissions:           1,
		verdict.Overall.StatKey(): 1,
		StatTestsTotal:            int64(verdict.TotalCount),
		StatTestsPassed:           int64(verdict.PassedCount),
	}
	for field, n := range incr {
		if _, err := r.cache.HIncrBy(ctx, statsKey, field, n); err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "update stats failed")
		}
	}
	return nil
}

// RecordFailure counts a submission that could not be judged at all.
func (r *StatsRepository) RecordFailure(ctx context.Context) error {
	if _, err := r.cache.HIncrBy(ctx, statsKey, StatFailed, 1); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "update stats failed")
	}
	return nil
}

// Snapshot returns all counters.
func (r *StatsRepository) Snapshot(ctx context.Context) (map[string]int64, error) {
	raw, err := r.cache.HGetAll(ctx, statsKey)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load stats failed")
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}
