package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"judgecore/internal/common/mq"
	"judgecore/internal/common/storage"
	"judgecore/internal/judge/model"
	"judgecore/internal/judge/repository"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/contextkey"
	"judgecore/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxSourceBytes = 1 << 20

// PackLoader resolves a test pack key to its test cases.
type PackLoader interface {
	Load(ctx context.Context, key string) (model.TestPack, error)
}

// Service runs asynchronous judge tasks and serves their status.
type Service struct {
	orchestrator *Orchestrator
	statusRepo   *repository.StatusRepository
	statsRepo    *repository.StatsRepository
	publisher    repository.StatusEventPublisher
	archive      *repository.ReportArchive
	packs        PackLoader
	storage      storage.ObjectStorage
	sourceBucket string

	queue         mq.MessageQueue
	retryTopic    string
	deadLetter    string
	poolRetryMax  int
	poolRetryBase time.Duration
	poolRetryMaxD time.Duration

	storageTimeout time.Duration
	statusTimeout  time.Duration
	lockTTL        time.Duration
	maxSourceBytes int
	sem            chan struct{}
}

// Config holds service dependencies and settings.
type Config struct {
	Orchestrator *Orchestrator
	StatusRepo   *repository.StatusRepository
	StatsRepo    *repository.StatsRepository
	Publisher    repository.StatusEventPublisher
	Archive      *repository.ReportArchive
	Packs        PackLoader
	Storage      storage.ObjectStorage
	SourceBucket string

	Queue         mq.MessageQueue
	RetryTopic    string
	DeadLetter    string
	PoolRetryMax  int
	PoolRetryBase time.Duration
	PoolRetryMaxD time.Duration

	StorageTimeout time.Duration
	StatusTimeout  time.Duration
	LockTTL        time.Duration
	MaxSourceBytes int
	WorkerPoolSize int
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Storage != nil && cfg.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required when storage is set")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	maxSource := cfg.MaxSourceBytes
	if maxSource <= 0 {
		maxSource = defaultMaxSourceBytes
	}
	return &Service{
		orchestrator:   cfg.Orchestrator,
		statusRepo:     cfg.StatusRepo,
		statsRepo:      cfg.StatsRepo,
		publisher:      cfg.Publisher,
		archive:        cfg.Archive,
		packs:          cfg.Packs,
		storage:        cfg.Storage,
		sourceBucket:   cfg.SourceBucket,
		queue:          cfg.Queue,
		retryTopic:     cfg.RetryTopic,
		deadLetter:     cfg.DeadLetter,
		poolRetryMax:   cfg.PoolRetryMax,
		poolRetryBase:  cfg.PoolRetryBase,
		poolRetryMaxD:  cfg.PoolRetryMaxD,
		storageTimeout: cfg.StorageTimeout,
		statusTimeout:  cfg.StatusTimeout,
		lockTTL:        lockTTL,
		maxSourceBytes: maxSource,
		sem:            make(chan struct{}, poolSize),
	}, nil
}

// Orchestrator exposes the synchronous evaluation engine.
func (s *Service) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// HandleMessage processes a judge task message.
// A returned error asks the queue to redeliver the message.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload model.JudgeMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		logger.Warn(ctx, "drop undecodable judge message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if payload.SubmissionID == "" {
		logger.Warn(ctx, "drop judge message without submission id", zap.String("message_id", msg.ID))
		return nil
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, payload.SubmissionID)

	base := model.JudgeStatusResponse{
		SubmissionID: payload.SubmissionID,
		ProblemID:    payload.ProblemID,
		UserID:       payload.UserID,
		Language:     model.NormalizeLanguage(string(payload.Language)),
		Timestamps:   model.Timestamps{ReceivedAt: time.Now().Unix()},
	}

	if existing, err := s.statusRepo.Get(ctx, payload.SubmissionID); err == nil && existing.IsFinal() {
		logger.Info(ctx, "submission already judged, republishing final status")
		return s.publishFinal(ctx, existing)
	}

	locked, err := s.statusRepo.Lock(ctx, payload.SubmissionID, s.lockTTL)
	if err != nil {
		return err
	}
	if !locked {
		logger.Info(ctx, "submission is being judged elsewhere, skipping")
		return nil
	}
	stopKeepAlive := s.keepLockAlive(ctx, payload.SubmissionID)
	defer func() {
		stopKeepAlive()
		if err := s.statusRepo.Unlock(context.WithoutCancel(ctx), payload.SubmissionID); err != nil {
			logger.Warn(ctx, "release submission lock failed", zap.Error(err))
		}
	}()

	if err := validateMessage(payload); err != nil {
		return s.handleFailure(ctx, base, err)
	}

	pending := base
	pending.Status = model.JudgeStatusPending
	if err := s.persistStatus(ctx, pending); err != nil {
		return err
	}

	if !s.tryAcquireSlot() {
		return s.requeueForPoolFull(ctx, msg)
	}
	defer s.releaseSlot()

	running := pending
	running.Status = model.JudgeStatusRunning
	if err := s.persistStatus(ctx, running); err != nil {
		return err
	}

	source, sourceHash, err := s.loadSource(ctx, payload)
	if err != nil {
		return s.handleFailure(ctx, base, err)
	}
	tests, err := s.loadTests(ctx, payload)
	if err != nil {
		return s.handleFailure(ctx, base, err)
	}

	running.Progress.TotalTests = len(tests)
	if err := s.persistStatus(ctx, running); err != nil {
		return err
	}

	var policy model.EarlyExitPolicy
	if payload.EarlyExit != "" {
		policy, _ = model.ParseEarlyExitPolicy(string(payload.EarlyExit))
	}
	verdict, err := s.orchestrator.EvaluateSubmission(ctx, source, base.Language, tests,
		WithEarlyExit(policy),
		WithProgress(s.progressReporter(ctx, running)),
	)
	if err != nil {
		return s.handleFailure(ctx, base, err)
	}
	if ctx.Err() != nil {
		logger.Warn(ctx, "judge interrupted, leaving message for redelivery", zap.Error(ctx.Err()))
		return ctx.Err()
	}

	finished := base
	finished.Status = model.JudgeStatusFinished
	finished.Verdict = &verdict
	finished.Timestamps.FinishedAt = time.Now().Unix()
	finished.Progress = model.Progress{TotalTests: len(tests), DoneTests: len(tests)}

	if s.archive != nil {
		key, err := s.archive.Save(ctx, model.JudgeReport{
			SubmissionID: payload.SubmissionID,
			ProblemID:    payload.ProblemID,
			UserID:       payload.UserID,
			Language:     base.Language,
			SourceHash:   sourceHash,
			Verdict:      verdict,
			ReceivedAt:   finished.Timestamps.ReceivedAt,
			FinishedAt:   finished.Timestamps.FinishedAt,
		})
		if err != nil {
			logger.Warn(ctx, "archive report failed", zap.Error(err))
		} else {
			finished.ReportKey = key
		}
	}

	if err := s.persistStatus(ctx, finished); err != nil {
		return err
	}
	s.recordStats(ctx, &verdict)
	return s.publishFinal(ctx, finished)
}

// Evaluate judges a submission synchronously and records its final status.
func (s *Service) Evaluate(ctx context.Context, language model.Language, sourceCode string, tests []model.TestCase, policy model.EarlyExitPolicy) (model.JudgeStatusResponse, error) {
	status := model.JudgeStatusResponse{
		SubmissionID: uuid.NewString(),
		Language:     model.NormalizeLanguage(string(language)),
		Timestamps:   model.Timestamps{ReceivedAt: time.Now().Unix()},
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, status.SubmissionID)
	verdict, err := s.orchestrator.EvaluateSubmission(ctx, sourceCode, status.Language, tests, WithEarlyExit(policy))
	if err != nil {
		return model.JudgeStatusResponse{}, err
	}
	status.Status = model.JudgeStatusFinished
	status.Verdict = &verdict
	status.Timestamps.FinishedAt = time.Now().Unix()
	status.Progress = model.Progress{TotalTests: len(tests), DoneTests: len(tests)}
	if err := s.persistStatus(ctx, status); err != nil {
		logger.Warn(ctx, "store evaluate status failed", zap.Error(err))
	}
	s.recordStats(ctx, &verdict)
	return status, nil
}

// Run executes source once against stdin.
func (s *Service) Run(ctx context.Context, language model.Language, sourceCode, stdin string) (model.RunResult, error) {
	return s.orchestrator.RunCode(ctx, sourceCode, model.NormalizeLanguage(string(language)), stdin)
}

// Status returns the latest snapshot with hidden test data removed.
func (s *Service) Status(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error) {
	status, err := s.statusRepo.Get(ctx, submissionID)
	if err != nil {
		return model.JudgeStatusResponse{}, err
	}
	return status.Redacted(), nil
}

// Report loads the archived report of a finished submission, redacted.
func (s *Service) Report(ctx context.Context, submissionID string) (model.JudgeReport, error) {
	if s.archive == nil {
		return model.JudgeReport{}, appErr.New(appErr.ServiceUnavailable).WithMessage("report archive is disabled")
	}
	status, err := s.statusRepo.Get(ctx, submissionID)
	if err != nil {
		return model.JudgeReport{}, err
	}
	if status.ReportKey == "" {
		return model.JudgeReport{}, appErr.New(appErr.NotFound).WithMessage("submission has no report")
	}
	report, err := s.archive.Load(ctx, status.ReportKey)
	if err != nil {
		return model.JudgeReport{}, err
	}
	report.Verdict = report.Verdict.Redacted()
	return report, nil
}

// Stats returns verdict counters.
func (s *Service) Stats(ctx context.Context) (map[string]int64, error) {
	if s.statsRepo == nil {
		return map[string]int64{}, nil
	}
	return s.statsRepo.Snapshot(ctx)
}

func validateMessage(payload model.JudgeMessage) error {
	if payload.Language == "" {
		return appErr.ValidationError("language", "required")
	}
	if payload.SourceCode == "" && payload.SourceKey == "" {
		return appErr.ValidationError("source", "source_code or source_key is required")
	}
	if len(payload.TestCases) == 0 && payload.TestPackKey == "" {
		return appErr.ValidationError("tests", "test_cases or test_pack_key is required")
	}
	if payload.EarlyExit != "" {
		if _, ok := model.ParseEarlyExitPolicy(string(payload.EarlyExit)); !ok {
			return appErr.ValidationError("early_exit", "unknown policy")
		}
	}
	return nil
}

func (s *Service) loadSource(ctx context.Context, payload model.JudgeMessage) (string, string, error) {
	var raw []byte
	if payload.SourceCode != "" {
		raw = []byte(payload.SourceCode)
	} else {
		if s.storage == nil {
			return "", "", appErr.New(appErr.ServiceUnavailable).WithMessage("source storage is not configured")
		}
		ctxStorage := ctx
		if s.storageTimeout > 0 {
			var cancel context.CancelFunc
			ctxStorage, cancel = context.WithTimeout(ctx, s.storageTimeout)
			defer cancel()
		}
		reader, err := s.storage.GetObject(ctxStorage, s.sourceBucket, payload.SourceKey)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return "", "", appErr.Wrapf(err, appErr.InvalidParams, "source object not found")
			}
			return "", "", appErr.Wrapf(err, appErr.StorageError, "download source failed")
		}
		defer reader.Close()
		raw, err = io.ReadAll(io.LimitReader(reader, int64(s.maxSourceBytes)+1))
		if err != nil {
			return "", "", appErr.Wrapf(err, appErr.StorageError, "read source failed")
		}
	}
	if len(raw) > s.maxSourceBytes {
		return "", "", appErr.New(appErr.CodeTooLarge).WithDetail("max_bytes", s.maxSourceBytes)
	}
	sum := sha256.Sum256(raw)
	actual := hex.EncodeToString(sum[:])
	if payload.SourceHash != "" && !strings.EqualFold(actual, payload.SourceHash) {
		return "", "", appErr.New(appErr.InvalidParams).WithMessage("source hash mismatch")
	}
	return string(raw), actual, nil
}

func (s *Service) loadTests(ctx context.Context, payload model.JudgeMessage) ([]model.TestCase, error) {
	if len(payload.TestCases) > 0 {
		return payload.TestCases, nil
	}
	if s.packs == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("test pack loader is not configured")
	}
	ctxStorage := ctx
	if s.storageTimeout > 0 {
		var cancel context.CancelFunc
		ctxStorage, cancel = context.WithTimeout(ctx, s.storageTimeout)
		defer cancel()
	}
	pack, err := s.packs.Load(ctxStorage, payload.TestPackKey)
	if err != nil {
		return nil, err
	}
	if payload.ProblemID != "" && pack.ProblemID != "" && pack.ProblemID != payload.ProblemID {
		return nil, appErr.Newf(appErr.TestCaseInvalid, "test pack belongs to problem %s", pack.ProblemID)
	}
	return pack.Tests, nil
}

func (s *Service) keepLockAlive(ctx context.Context, submissionID string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.lockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.statusRepo.ExtendLock(ctx, submissionID, s.lockTTL); err != nil {
					logger.Warn(ctx, "extend submission lock failed", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Languages returns the configured language table.
func (s *Service) Languages() model.LanguageTable {
	return s.orchestrator.Languages()
}
