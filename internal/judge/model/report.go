package model

// JudgeReport is the full, unredacted record archived for a judged submission.
type JudgeReport struct {
	SubmissionID string            `json:"submission_id"`
	ProblemID    string            `json:"problem_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	Language     Language          `json:"language"`
	SourceHash   string            `json:"source_hash"`
	Verdict      SubmissionVerdict `json:"verdict"`
	ReceivedAt   int64             `json:"received_at"`
	FinishedAt   int64             `json:"finished_at"`
}
