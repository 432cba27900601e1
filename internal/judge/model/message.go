package model

// JudgeMessage represents the Kafka payload for judge tasks.
// Source comes inline or from object storage; tests come inline or from a test pack.
type JudgeMessage struct {
	SubmissionID string          `json:"submission_id"`
	ProblemID    string          `json:"problem_id"`
	UserID       string          `json:"user_id"`
	Language     Language        `json:"language"`
	SourceCode   string          `json:"source_code,omitempty"`
	SourceKey    string          `json:"source_key,omitempty"`
	SourceHash   string          `json:"source_hash,omitempty"`
	TestPackKey  string          `json:"test_pack_key,omitempty"`
	TestCases    []TestCase      `json:"test_cases,omitempty"`
	EarlyExit    EarlyExitPolicy `json:"early_exit,omitempty"`
	Priority     int             `json:"priority"`
}

// JudgeStatus is the lifecycle state of an asynchronous judge task.
type JudgeStatus string

const (
	JudgeStatusPending  JudgeStatus = "Pending"
	JudgeStatusRunning  JudgeStatus = "Running"
	JudgeStatusFinished JudgeStatus = "Finished"
	JudgeStatusFailed   JudgeStatus = "Failed"
)

// Timestamps records task lifecycle times in unix seconds.
type Timestamps struct {
	ReceivedAt int64 `json:"received_at"`
	FinishedAt int64 `json:"finished_at,omitempty"`
}

// Progress reports how many tests are known and done.
type Progress struct {
	TotalTests int `json:"total_tests"`
	DoneTests  int `json:"done_tests"`
}

// JudgeStatusResponse is the status snapshot stored in cache and served by the API.
type JudgeStatusResponse struct {
	SubmissionID string             `json:"submission_id"`
	ProblemID    string             `json:"problem_id,omitempty"`
	UserID       string             `json:"user_id,omitempty"`
	Language     Language           `json:"language,omitempty"`
	Status       JudgeStatus        `json:"status"`
	Verdict      *SubmissionVerdict `json:"verdict,omitempty"`
	ReportKey    string             `json:"report_key,omitempty"`
	ErrorCode    int                `json:"error_code,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Timestamps   Timestamps         `json:"timestamps"`
	Progress     Progress           `json:"progress"`
}

// IsFinal reports whether the snapshot will not change any more.
func (s JudgeStatusResponse) IsFinal() bool {
	return s.Status == JudgeStatusFinished || s.Status == JudgeStatusFailed
}

// Redacted hides hidden test data in the embedded verdict.
func (s JudgeStatusResponse) Redacted() JudgeStatusResponse {
	if s.Verdict != nil {
		v := s.Verdict.Redacted()
		s.Verdict = &v
	}
	return s
}

// StatusEventType identifies the kind of status event.
type StatusEventType string

const StatusEventFinal StatusEventType = "final"

// StatusEvent is published once a submission reaches a final state.
type StatusEvent struct {
	Type      StatusEventType     `json:"type"`
	Status    JudgeStatusResponse `json:"status"`
	CreatedAt int64               `json:"created_at"`
}

// RunResult is the output of a single custom-input run.
type RunResult struct {
	Output   string  `json:"output"`
	TimeMs   float64 `json:"time_ms"`
	MemoryKb int64   `json:"memory_kb"`
}
