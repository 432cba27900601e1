package model

// TestCase is one input/expected-output pair. Hidden cases are redacted in API responses.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Hidden         bool   `json:"hidden,omitempty"`
}

// ExecutionRequest is what gets sent to the executor for a single run.
type ExecutionRequest struct {
	SourceCode string
	Language   Language
	Stdin      string
}

// ExecutionHandle is the opaque token the executor returns on submit.
type ExecutionHandle string

// ExecutionStatus is the executor-side state of one run.
type ExecutionStatus string

const (
	StatusQueued            ExecutionStatus = "Queued"
	StatusProcessing        ExecutionStatus = "Processing"
	StatusCompleted         ExecutionStatus = "Completed"
	StatusCompileError      ExecutionStatus = "CompileError"
	StatusRuntimeError      ExecutionStatus = "RuntimeError"
	StatusTimeLimitExceeded ExecutionStatus = "TimeLimitExceeded"
	StatusExecutorFailure   ExecutionStatus = "ExecutorFailure"
)

// IsTerminal reports whether no further status change is expected.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusQueued, StatusProcessing:
		return false
	default:
		return true
	}
}

// ExecutionResult is a status snapshot, final once Status is terminal.
type ExecutionResult struct {
	Status        ExecutionStatus `json:"status"`
	Stdout        string          `json:"stdout,omitempty"`
	Stderr        string          `json:"stderr,omitempty"`
	CompileOutput string          `json:"compile_output,omitempty"`
	TimeMs        float64         `json:"time_ms"`
	MemoryKb      int64           `json:"memory_kb"`
	Description   string          `json:"description,omitempty"`
}

// FailureResult builds a synthetic ExecutorFailure result.
func FailureResult(description string) ExecutionResult {
	return ExecutionResult{Status: StatusExecutorFailure, Description: description}
}
