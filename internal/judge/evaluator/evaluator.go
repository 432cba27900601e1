// Package evaluator turns an execution result into a test outcome.
package evaluator

import (
	"strings"

	"judgecore/internal/judge/model"
)

// Evaluate judges result against tc. It is pure: the same inputs always give the same outcome.
// Output comparison is exact after trimming leading and trailing whitespace.
func Evaluate(result model.ExecutionResult, tc model.TestCase) model.TestOutcome {
	out := model.TestOutcome{
		TestCase: tc,
		TimeMs:   result.TimeMs,
		MemoryKb: result.MemoryKb,
	}

	switch result.Status {
	case model.StatusCompleted:
		actual := strings.TrimSpace(result.Stdout)
		out.ActualOutput = actual
		if actual == strings.TrimSpace(tc.ExpectedOutput) {
			out.Passed = true
			out.Category = model.OutcomeAccepted
		} else {
			out.Category = model.OutcomeWrongAnswer
		}
		return out
	case model.StatusCompileError:
		out.Category = model.OutcomeCompileError
	case model.StatusRuntimeError:
		out.Category = model.OutcomeRuntimeError
	case model.StatusTimeLimitExceeded:
		out.Category = model.OutcomeTimeLimitExceeded
	case model.StatusExecutorFailure:
		out.Category = model.OutcomeInfrastructureError
	default:
		out.Category = model.OutcomeInfrastructureError
		out.ErrorDetail = "unexpected non-terminal status " + string(result.Status)
		return out
	}
	out.ErrorDetail = ErrorDetail(result)
	return out
}

// ErrorDetail picks compile output, then stderr, then the status description.
func ErrorDetail(result model.ExecutionResult) string {
	if result.CompileOutput != "" {
		return result.CompileOutput
	}
	if result.Stderr != "" {
		return result.Stderr
	}
	return result.Description
}
