package service

import (
	"context"
	"errors"
	"time"

	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
)

// nonRetryable codes describe a bad task rather than a bad moment; redelivery cannot help.
var nonRetryable = map[appErr.ErrorCode]bool{
	appErr.InvalidParams:        true,
	appErr.ValidationFailed:     true,
	appErr.LanguageNotSupported: true,
	appErr.CodeTooLarge:         true,
	appErr.TestCaseNotFound:     true,
	appErr.TestCaseInvalid:      true,
	appErr.TestCaseTooLarge:     true,
}

func (s *Service) persistStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	return s.statusRepo.Save(ctxStatus, status)
}

// progressReporter writes Running snapshots as tests complete.
func (s *Service) progressReporter(ctx context.Context, running model.JudgeStatusResponse) func(done, total int) {
	return func(done, total int) {
		if ctx.Err() != nil {
			return
		}
		snapshot := running
		snapshot.Progress = model.Progress{TotalTests: total, DoneTests: done}
		if err := s.persistStatus(ctx, snapshot); err != nil {
			logger.Warn(ctx, "update intermediate status failed", zap.Error(err))
		}
	}
}

func (s *Service) recordStats(ctx context.Context, verdict *model.SubmissionVerdict) {
	if s.statsRepo == nil {
		return
	}
	var err error
	if verdict == nil {
		err = s.statsRepo.RecordFailure(ctx)
	} else {
		err = s.statsRepo.Record(ctx, *verdict)
	}
	if err != nil {
		logger.Warn(ctx, "update stats failed", zap.Error(err))
	}
}

func (s *Service) publishFinal(ctx context.Context, status model.JudgeStatusResponse) error {
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.PublishFinalStatus(ctx, status); err != nil {
		logger.Error(ctx, "publish final status failed", zap.Error(err))
		return err
	}
	return nil
}

// handleFailure records a Failed snapshot for errors that will not go away on retry.
// Interruptions are returned untouched so the queue redelivers the task.
func (s *Service) handleFailure(ctx context.Context, base model.JudgeStatusResponse, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		logger.Warn(ctx, "judge interrupted", zap.Error(err))
		return err
	}
	code := appErr.GetCode(err)
	if !nonRetryable[code] {
		logger.Error(ctx, "judge failed", zap.Int("code", int(code)), zap.Error(err))
	} else {
		logger.Warn(ctx, "judge task rejected", zap.Int("code", int(code)), zap.Error(err))
	}

	failed := base
	failed.Status = model.JudgeStatusFailed
	failed.ErrorCode = int(code)
	failed.ErrorMessage = err.Error()
	failed.Timestamps.FinishedAt = time.Now().Unix()
	if saveErr := s.persistStatus(ctx, failed); saveErr != nil {
		logger.Warn(ctx, "update failure status failed", zap.Error(saveErr))
		return saveErr
	}
	s.recordStats(ctx, nil)
	return s.publishFinal(ctx, failed)
}
