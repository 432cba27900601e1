package executor

import "judgecore/internal/judge/model"

// Judge0 status ids.
const (
	judge0InQueue           = 1
	judge0Processing        = 2
	judge0Accepted          = 3
	judge0WrongAnswer       = 4
	judge0TimeLimitExceeded = 5
	judge0CompilationError  = 6
	judge0RuntimeFirst      = 7  // SIGSEGV
	judge0RuntimeLast       = 12 // NZEC / Other
	judge0InternalError     = 13
	judge0ExecFormatError   = 14
)

// MapStatus converts a Judge0 status id to an ExecutionStatus.
// Wrong Answer only appears when expected output is sent, which this client never
// does, so it means the program ran to completion.
func MapStatus(id int) model.ExecutionStatus {
	switch {
	case id == judge0InQueue:
		return model.StatusQueued
	case id == judge0Processing:
		return model.StatusProcessing
	case id == judge0Accepted, id == judge0WrongAnswer:
		return model.StatusCompleted
	case id == judge0TimeLimitExceeded:
		return model.StatusTimeLimitExceeded
	case id == judge0CompilationError:
		return model.StatusCompileError
	case id >= judge0RuntimeFirst && id <= judge0RuntimeLast:
		return model.StatusRuntimeError
	default:
		return model.StatusExecutorFailure
	}
}
