package model

// TestPack is the decoded content of a problem's test pack object.
type TestPack struct {
	ProblemID string     `json:"problem_id"`
	Version   int        `json:"version"`
	Tests     []TestCase `json:"tests"`
}
