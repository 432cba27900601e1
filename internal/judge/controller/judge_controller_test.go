package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"judgecore/internal/judge/controller"
	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeJudge struct {
	lastPolicy model.EarlyExitPolicy
	lastTests  []model.TestCase
	status     model.JudgeStatusResponse
	runResult  model.RunResult
	err        error
}

func (f *fakeJudge) Evaluate(_ context.Context, language model.Language, _ string, tests []model.TestCase, policy model.EarlyExitPolicy) (model.JudgeStatusResponse, error) {
	f.lastPolicy = policy
	f.lastTests = tests
	if f.err != nil {
		return model.JudgeStatusResponse{}, f.err
	}
	outcomes := make([]model.TestOutcome, 0, len(tests))
	for _, tc := range tests {
		outcomes = append(outcomes, model.TestOutcome{TestCase: tc, Passed: true, ActualOutput: tc.ExpectedOutput, Category: model.OutcomeAccepted})
	}
	verdict := model.Aggregate(outcomes)
	return model.JudgeStatusResponse{SubmissionID: "sub-1", Language: language, Status: model.JudgeStatusFinished, Verdict: &verdict}, nil
}

func (f *fakeJudge) Run(context.Context, model.Language, string, string) (model.RunResult, error) {
	return f.runResult, f.err
}

func (f *fakeJudge) Status(_ context.Context, id string) (model.JudgeStatusResponse, error) {
	if f.err != nil {
		return model.JudgeStatusResponse{}, f.err
	}
	s := f.status
	s.SubmissionID = id
	return s, nil
}

func (f *fakeJudge) Report(context.Context, string) (model.JudgeReport, error) {
	if f.err != nil {
		return model.JudgeReport{}, f.err
	}
	return model.JudgeReport{SubmissionID: "sub-1"}, nil
}

func (f *fakeJudge) Stats(context.Context) (map[string]int64, error) {
	return map[string]int64{"submissions": 2, "accepted": 1}, f.err
}

func (f *fakeJudge) Languages() model.LanguageTable {
	return model.DefaultLanguageTable()
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newRouter(judge controller.JudgeAPI) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	controller.NewJudgeController(judge).Register(router.Group("/api/v1/judge"), controller.RouteGuards{})
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response failed: %v (%s)", err, rec.Body.String())
	}
	return rec, env
}

func TestEvaluateRedactsHiddenTests(t *testing.T) {
	judge := &fakeJudge{}
	router := newRouter(judge)
	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/judge/evaluate", map[string]interface{}{
		"language":    "python",
		"source_code": "print(input())",
		"early_exit":  "stop_on_first_failure",
		"test_cases": []map[string]interface{}{
			{"input": "1", "expected_output": "1"},
			{"input": "secret", "expected_output": "secret", "hidden": true},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if judge.lastPolicy != model.StopOnFirstFailure || len(judge.lastTests) != 2 {
		t.Fatalf("unexpected call policy=%s tests=%d", judge.lastPolicy, len(judge.lastTests))
	}
	var resp controller.EvaluateResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode data failed: %v", err)
	}
	if resp.SubmissionID != "sub-1" || resp.Verdict.Overall != model.OutcomeAccepted {
		t.Fatalf("unexpected response %+v", resp)
	}
	hidden := resp.Verdict.TestOutcomes[1]
	if hidden.TestCase.Input != "" || hidden.ActualOutput != "" || !hidden.Passed {
		t.Fatalf("expected redacted passing hidden test, got %+v", hidden)
	}
}

func TestEvaluateDefaultPolicyIsLeftToService(t *testing.T) {
	judge := &fakeJudge{}
	router := newRouter(judge)
	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/judge/evaluate", map[string]interface{}{
		"language":    "cpp",
		"source_code": "int main(){}",
		"test_cases":  []map[string]interface{}{{"input": "", "expected_output": ""}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if judge.lastPolicy != "" {
		t.Fatalf("expected empty policy, got %s", judge.lastPolicy)
	}
}

func TestEvaluateBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{name: "missing language", body: map[string]interface{}{"source_code": "x", "test_cases": []interface{}{}}},
		{name: "missing source", body: map[string]interface{}{"language": "python", "test_cases": []interface{}{}}},
		{name: "unknown policy", body: map[string]interface{}{"language": "python", "source_code": "x", "test_cases": []interface{}{}, "early_exit": "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := doJSON(t, newRouter(&fakeJudge{}), http.MethodPost, "/api/v1/judge/evaluate", tt.body)
			if rec.Code != http.StatusBadRequest || appErr.ErrorCode(env.Code) != appErr.InvalidParams {
				t.Fatalf("expected 400 InvalidParams, got %d %d", rec.Code, env.Code)
			}
		})
	}
}

func TestEvaluateServiceErrorMapsStatus(t *testing.T) {
	judge := &fakeJudge{err: appErr.New(appErr.LanguageNotSupported)}
	rec, env := doJSON(t, newRouter(judge), http.MethodPost, "/api/v1/judge/evaluate", map[string]interface{}{
		"language": "cobol", "source_code": "x", "test_cases": []interface{}{},
	})
	if appErr.ErrorCode(env.Code) != appErr.LanguageNotSupported {
		t.Fatalf("expected LanguageNotSupported, got %d", env.Code)
	}
	if rec.Code != appErr.LanguageNotSupported.HTTPStatus() {
		t.Fatalf("expected %d, got %d", appErr.LanguageNotSupported.HTTPStatus(), rec.Code)
	}
}

func TestRun(t *testing.T) {
	judge := &fakeJudge{runResult: model.RunResult{Output: "42\n", TimeMs: 12}}
	rec, env := doJSON(t, newRouter(judge), http.MethodPost, "/api/v1/judge/run", map[string]interface{}{
		"language": "python", "source_code": "print(42)", "stdin": "",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result model.RunResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode data failed: %v", err)
	}
	if result.Output != "42\n" {
		t.Fatalf("expected raw output, got %q", result.Output)
	}
}

func TestGetStatusAndReport(t *testing.T) {
	judge := &fakeJudge{status: model.JudgeStatusResponse{Status: model.JudgeStatusRunning, Progress: model.Progress{TotalTests: 4, DoneTests: 1}}}
	router := newRouter(judge)
	rec, env := doJSON(t, router, http.MethodGet, "/api/v1/judge/submissions/sub-9", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status model.JudgeStatusResponse
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode data failed: %v", err)
	}
	if status.SubmissionID != "sub-9" || status.Progress.DoneTests != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/judge/submissions/sub-9/report", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for report, got %d", rec.Code)
	}

	missing := newRouter(&fakeJudge{err: appErr.New(appErr.SubmissionNotFound)})
	rec, env = doJSON(t, missing, http.MethodGet, "/api/v1/judge/submissions/nope", nil)
	if appErr.ErrorCode(env.Code) != appErr.SubmissionNotFound || rec.Code != appErr.SubmissionNotFound.HTTPStatus() {
		t.Fatalf("expected SubmissionNotFound, got %d %d", rec.Code, env.Code)
	}
}

func TestLanguagesAndStats(t *testing.T) {
	router := newRouter(&fakeJudge{})
	_, env := doJSON(t, router, http.MethodGet, "/api/v1/judge/languages", nil)
	var items []controller.LanguageItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		t.Fatalf("decode languages failed: %v", err)
	}
	if len(items) != 3 || items[0].Name != "cpp" || items[0].ExecutorID != 54 {
		t.Fatalf("unexpected languages %+v", items)
	}

	_, env = doJSON(t, router, http.MethodGet, "/api/v1/judge/stats", nil)
	var stats map[string]int64
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode stats failed: %v", err)
	}
	if stats["submissions"] != 2 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestRouteGuardsRunBeforeExecution(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	judge := &fakeJudge{}
	router := gin.New()
	reject := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": int(appErr.TooManyRequests)})
	}
	controller.NewJudgeController(judge).Register(router.Group("/api/v1/judge"), controller.RouteGuards{
		Evaluate: []gin.HandlerFunc{reject},
	})

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/judge/evaluate", controller.EvaluateRequest{
		Language:   "cpp",
		SourceCode: "int main() {}",
		TestCases:  []model.TestCase{{Input: "", ExpectedOutput: ""}},
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
	if judge.lastTests != nil {
		t.Fatalf("expected evaluate not to be called")
	}
	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/judge/languages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
	}
}
