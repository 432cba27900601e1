package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgecore/internal/common/cache"
	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"
)

const (
	statusKeyPrefix = "judge:status:"
	lockKeyPrefix   = "judge:lock:"
)

// StatusRepository stores the latest status snapshot per submission.
type StatusRepository struct {
	cache cache.Cache
	TTL   time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl}
}

// Get returns status by submission id.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error) {
	if submissionID == "" {
		return model.JudgeStatusResponse{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return model.JudgeStatusResponse{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionID)
	if err != nil {
		return model.JudgeStatusResponse{}, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if val == "" {
		return model.JudgeStatusResponse{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission status not found")
	}
	var resp model.JudgeStatusResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return model.JudgeStatusResponse{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return resp, nil
}

// Save persists status. Final snapshots are never replaced by non-final ones.
func (r *StatusRepository) Save(ctx context.Context, status model.JudgeStatusResponse) error {
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if !status.IsFinal() {
		existing, err := r.Get(ctx, status.SubmissionID)
		if err == nil && existing.IsFinal() {
			return nil
		}
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+status.SubmissionID, string(data), cache.JitterTTL(r.TTL)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}

// Lock takes the per-submission processing lock.
func (r *StatusRepository) Lock(ctx context.Context, submissionID string, ttl time.Duration) (bool, error) {
	ok, err := r.cache.TryLock(ctx, lockKeyPrefix+submissionID, ttl)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.LockFailed, "acquire submission lock failed")
	}
	return ok, nil
}

// Unlock releases the per-submission processing lock.
func (r *StatusRepository) Unlock(ctx context.Context, submissionID string) error {
	if err := r.cache.Unlock(ctx, lockKeyPrefix+submissionID); err != nil {
		return appErr.Wrapf(err, appErr.LockFailed, "release submission lock failed")
	}
	return nil
}

// ExtendLock keeps a held processing lock alive for another ttl.
func (r *StatusRepository) ExtendLock(ctx context.Context, submissionID string, ttl time.Duration) error {
	if err := r.cache.ExtendLock(ctx, lockKeyPrefix+submissionID, ttl); err != nil {
		return appErr.Wrapf(err, appErr.LockFailed, "extend submission lock failed")
	}
	return nil
}
