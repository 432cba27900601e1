// Package runner executes one test case end to end.
package runner

import (
	"context"
	"fmt"
	"time"

	"judgecore/internal/judge/evaluator"
	"judgecore/internal/judge/executor"
	"judgecore/internal/judge/model"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
)

// Poller waits for a handle to finish.
type Poller interface {
	Poll(ctx context.Context, handle model.ExecutionHandle) model.ExecutionResult
}

// Runner submits a test case, waits for the result and evaluates it.
type Runner struct {
	client       executor.Client
	poller       Poller
	testDeadline time.Duration
}

// New creates a Runner. testDeadline bounds submit plus polling for one test; zero disables it.
func New(client executor.Client, poller Poller, testDeadline time.Duration) *Runner {
	return &Runner{client: client, poller: poller, testDeadline: testDeadline}
}

// Run never fails; every problem is reported inside the outcome.
// A test whose ctx is cancelled before it finishes is reported as aborted.
func (r *Runner) Run(ctx context.Context, sourceCode string, language model.Language, tc model.TestCase) model.TestOutcome {
	if ctx.Err() != nil {
		return model.AbortedOutcome(tc)
	}
	result := r.execute(ctx, sourceCode, language, tc)
	if ctx.Err() != nil {
		return model.AbortedOutcome(tc)
	}
	outcome := evaluator.Evaluate(result, tc)
	if outcome.Category == model.OutcomeInfrastructureError {
		logger.Warn(ctx, "test infrastructure failure",
			zap.String("language", string(language)),
			zap.String("detail", outcome.ErrorDetail),
		)
	}
	return outcome
}

// Execute runs stdin through sourceCode and returns the raw result.
func (r *Runner) Execute(ctx context.Context, sourceCode string, language model.Language, stdin string) model.ExecutionResult {
	return r.execute(ctx, sourceCode, language, model.TestCase{Input: stdin})
}

func (r *Runner) execute(ctx context.Context, sourceCode string, language model.Language, tc model.TestCase) model.ExecutionResult {
	testCtx := ctx
	if r.testDeadline > 0 {
		var cancel context.CancelFunc
		testCtx, cancel = context.WithTimeout(ctx, r.testDeadline)
		defer cancel()
	}

	handle, err := r.client.Submit(testCtx, model.ExecutionRequest{
		SourceCode: sourceCode,
		Language:   language,
		Stdin:      tc.Input,
	})
	if err != nil {
		if testCtx.Err() != nil {
			return model.FailureResult("submit interrupted: " + testCtx.Err().Error())
		}
		return model.FailureResult(fmt.Sprintf("transport error: %v", err))
	}
	return r.poller.Poll(testCtx, handle)
}
