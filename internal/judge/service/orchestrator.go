package service

import (
	"context"
	"sync"
	"time"

	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TestRunner runs single test cases and raw executions.
type TestRunner interface {
	Run(ctx context.Context, sourceCode string, language model.Language, tc model.TestCase) model.TestOutcome
	Execute(ctx context.Context, sourceCode string, language model.Language, stdin string) model.ExecutionResult
}

// OrchestratorConfig holds submission-level knobs.
type OrchestratorConfig struct {
	// MaxConcurrency bounds in-flight tests per submission; 1 runs them sequentially.
	MaxConcurrency int
	EarlyExit      model.EarlyExitPolicy
	// MaxSourceBytes rejects larger sources; zero disables the check.
	MaxSourceBytes int
	// MaxTestCases rejects submissions with more tests; zero disables the check.
	MaxTestCases int
}

// Orchestrator fans a submission out over its test cases and aggregates the verdict.
type Orchestrator struct {
	runner    TestRunner
	languages model.LanguageTable
	cfg       OrchestratorConfig
}

// NewOrchestrator validates dependencies and fills config defaults.
func NewOrchestrator(runner TestRunner, languages model.LanguageTable, cfg OrchestratorConfig) (*Orchestrator, error) {
	if runner == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("runner is required")
	}
	if len(languages) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("language table is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.EarlyExit == "" {
		cfg.EarlyExit = model.RunAll
	}
	return &Orchestrator{runner: runner, languages: languages, cfg: cfg}, nil
}

// Languages returns the configured language table.
func (o *Orchestrator) Languages() model.LanguageTable {
	return o.languages
}

type evaluateOptions struct {
	earlyExit model.EarlyExitPolicy
	progress  func(done, total int)
}

// EvaluateOption customises one EvaluateSubmission call.
type EvaluateOption func(*evaluateOptions)

// WithEarlyExit overrides the configured early-exit policy. Empty keeps the default.
func WithEarlyExit(policy model.EarlyExitPolicy) EvaluateOption {
	return func(o *evaluateOptions) {
		if policy != "" {
			o.earlyExit = policy
		}
	}
}

// WithProgress registers a callback run after each test finishes. Calls are serialised.
func WithProgress(fn func(done, total int)) EvaluateOption {
	return func(o *evaluateOptions) {
		o.progress = fn
	}
}

// EvaluateSubmission judges sourceCode against every test case.
// Only invalid input is returned as an error; infrastructure trouble ends up in the verdict.
// Outcomes keep the input order regardless of completion order.
func (o *Orchestrator) EvaluateSubmission(ctx context.Context, sourceCode string, language model.Language, testCases []model.TestCase, opts ...EvaluateOption) (model.SubmissionVerdict, error) {
	if err := o.validate(sourceCode, language, testCases); err != nil {
		return model.SubmissionVerdict{}, err
	}
	options := evaluateOptions{earlyExit: o.cfg.EarlyExit}
	for _, opt := range opts {
		opt(&options)
	}

	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	total := len(testCases)
	outcomes := make([]model.TestOutcome, total)
	var progressMu sync.Mutex
	done := 0

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrency)
	for i, tc := range testCases {
		i, tc := i, tc
		if runCtx.Err() != nil {
			outcomes[i] = model.AbortedOutcome(tc)
			continue
		}
		g.Go(func() error {
			out := o.runner.Run(runCtx, sourceCode, language, tc)
			outcomes[i] = out
			if !out.Passed && options.earlyExit == model.StopOnFirstFailure {
				cancel()
			}
			if options.progress != nil {
				progressMu.Lock()
				done++
				options.progress(done, total)
				progressMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	verdict := model.Aggregate(outcomes)
	logger.Info(ctx, "submission judged",
		zap.String("language", string(language)),
		zap.String("overall", string(verdict.Overall)),
		zap.Int("passed", verdict.PassedCount),
		zap.Int("total", verdict.TotalCount),
		zap.String("early_exit", string(options.earlyExit)),
		zap.Bool("cancelled", ctx.Err() != nil),
		zap.Duration("elapsed", time.Since(start)),
	)
	return verdict, nil
}

// RunCode executes sourceCode once on stdin without judging the output.
// A run that does not complete is returned as an error carrying the executor's
// description followed by the compile output or stderr.
func (o *Orchestrator) RunCode(ctx context.Context, sourceCode string, language model.Language, stdin string) (model.RunResult, error) {
	if err := o.validateSource(sourceCode, language); err != nil {
		return model.RunResult{}, err
	}
	res := o.runner.Execute(ctx, sourceCode, language, stdin)
	if ctx.Err() != nil {
		return model.RunResult{}, appErr.Wrapf(ctx.Err(), appErr.Timeout, "run cancelled")
	}

	var code appErr.ErrorCode
	switch res.Status {
	case model.StatusCompleted:
		return model.RunResult{Output: res.Stdout, TimeMs: res.TimeMs, MemoryKb: res.MemoryKb}, nil
	case model.StatusCompileError:
		code = appErr.CompilationError
	case model.StatusRuntimeError:
		code = appErr.RuntimeError
	case model.StatusTimeLimitExceeded:
		code = appErr.TimeLimitExceeded
	default:
		code = appErr.JudgeSystemError
	}
	msg := res.Description
	detail := res.CompileOutput
	if detail == "" {
		detail = res.Stderr
	}
	if detail != "" {
		if msg != "" {
			msg += "\n"
		}
		msg += detail
	}
	return model.RunResult{}, appErr.New(code).WithMessage(msg).
		WithDetail("status", string(res.Status)).
		WithDetail("output", res.Stdout)
}

func (o *Orchestrator) validate(sourceCode string, language model.Language, testCases []model.TestCase) error {
	if len(testCases) == 0 {
		return appErr.New(appErr.InvalidParams).WithMessage("at least one test case is required")
	}
	if o.cfg.MaxTestCases > 0 && len(testCases) > o.cfg.MaxTestCases {
		return appErr.Newf(appErr.TestCaseTooLarge, "too many test cases: %d > %d", len(testCases), o.cfg.MaxTestCases)
	}
	return o.validateSource(sourceCode, language)
}

func (o *Orchestrator) validateSource(sourceCode string, language model.Language) error {
	if _, err := o.languages.Resolve(language); err != nil {
		return err
	}
	if o.cfg.MaxSourceBytes > 0 && len(sourceCode) > o.cfg.MaxSourceBytes {
		return appErr.Newf(appErr.CodeTooLarge, "source code exceeds %d bytes", o.cfg.MaxSourceBytes)
	}
	return nil
}
