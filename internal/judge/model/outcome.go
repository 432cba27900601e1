package model

// OutcomeCategory classifies a test outcome.
type OutcomeCategory string

const (
	OutcomeAccepted            OutcomeCategory = "Accepted"
	OutcomeWrongAnswer         OutcomeCategory = "WrongAnswer"
	OutcomeRuntimeError        OutcomeCategory = "RuntimeError"
	OutcomeCompileError        OutcomeCategory = "CompileError"
	OutcomeTimeLimitExceeded   OutcomeCategory = "TimeLimitExceeded"
	OutcomeInfrastructureError OutcomeCategory = "InfrastructureError"
)

// AbortedDetail marks outcomes of tests that were stopped before finishing.
const AbortedDetail = "aborted"

var displayNames = map[OutcomeCategory]string{
	OutcomeAccepted:            "Accepted",
	OutcomeWrongAnswer:         "Wrong Answer",
	OutcomeRuntimeError:        "Runtime Error",
	OutcomeCompileError:        "Compilation Error",
	OutcomeTimeLimitExceeded:   "Time Limit Exceeded",
	OutcomeInfrastructureError: "Internal Error",
}

// DisplayName returns the label shown to users.
func (c OutcomeCategory) DisplayName() string {
	if name, ok := displayNames[c]; ok {
		return name
	}
	return string(c)
}

// StatKey is the snake_case counter name used in stats hashes.
func (c OutcomeCategory) StatKey() string {
	switch c {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeWrongAnswer:
		return "wrong_answer"
	case OutcomeRuntimeError:
		return "runtime_error"
	case OutcomeCompileError:
		return "compile_error"
	case OutcomeTimeLimitExceeded:
		return "time_limit_exceeded"
	default:
		return "infrastructure_error"
	}
}

// TestOutcome is the judged result of one test case.
type TestOutcome struct {
	TestCase     TestCase        `json:"test_case"`
	Passed       bool            `json:"passed"`
	ActualOutput string          `json:"actual_output"`
	Category     OutcomeCategory `json:"category"`
	ErrorDetail  string          `json:"error_detail,omitempty"`
	TimeMs       float64         `json:"time_ms"`
	MemoryKb     int64           `json:"memory_kb"`
}

// AbortedOutcome records a test that was cancelled before producing a result.
func AbortedOutcome(tc TestCase) TestOutcome {
	return TestOutcome{
		TestCase:    tc,
		Category:    OutcomeInfrastructureError,
		ErrorDetail: AbortedDetail,
	}
}

// EarlyExitPolicy selects whether judging stops at the first failure.
type EarlyExitPolicy string

const (
	RunAll             EarlyExitPolicy = "runAll"
	StopOnFirstFailure EarlyExitPolicy = "stopOnFirstFailure"
)

// ParseEarlyExitPolicy accepts the config spellings; empty means RunAll.
func ParseEarlyExitPolicy(v string) (EarlyExitPolicy, bool) {
	switch v {
	case "", "runAll", "run_all":
		return RunAll, true
	case "stopOnFirstFailure", "stop_on_first_failure":
		return StopOnFirstFailure, true
	default:
		return "", false
	}
}

// SubmissionVerdict aggregates all test outcomes of a submission.
type SubmissionVerdict struct {
	Overall      OutcomeCategory `json:"overall"`
	DisplayName  string          `json:"display_name"`
	TestOutcomes []TestOutcome   `json:"test_outcomes"`
	PassedCount  int             `json:"passed_count"`
	TotalCount   int             `json:"total_count"`
	MaxTimeMs    float64         `json:"max_time_ms"`
	MaxMemoryKb  int64           `json:"max_memory_kb"`
}

// Aggregate reduces ordered outcomes into a verdict. Overall is the first
// non-accepted category in input order, or Accepted when every test passed.
func Aggregate(outcomes []TestOutcome) SubmissionVerdict {
	v := SubmissionVerdict{
		Overall:      OutcomeAccepted,
		TestOutcomes: outcomes,
		TotalCount:   len(outcomes),
	}
	decided := false
	for _, o := range outcomes {
		if o.Passed {
			v.PassedCount++
		}
		if !decided && o.Category != OutcomeAccepted {
			v.Overall = o.Category
			decided = true
		}
		if o.TimeMs > v.MaxTimeMs {
			v.MaxTimeMs = o.TimeMs
		}
		if o.MemoryKb > v.MaxMemoryKb {
			v.MaxMemoryKb = o.MemoryKb
		}
	}
	v.DisplayName = v.Overall.DisplayName()
	return v
}

// Redacted returns a copy with input, expected and actual output of hidden tests blanked.
func (v SubmissionVerdict) Redacted() SubmissionVerdict {
	out := v
	out.TestOutcomes = make([]TestOutcome, len(v.TestOutcomes))
	for i, o := range v.TestOutcomes {
		if o.TestCase.Hidden {
			o.TestCase.Input = ""
			o.TestCase.ExpectedOutput = ""
			o.ActualOutput = ""
			// stderr of a crashing run can echo the hidden input
			if o.Category == OutcomeRuntimeError {
				o.ErrorDetail = ""
			}
		}
		out.TestOutcomes[i] = o
	}
	return out
}
