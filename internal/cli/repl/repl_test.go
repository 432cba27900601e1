package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"judgecore/internal/cli/command"
	"judgecore/internal/cli/state"
	"judgecore/internal/common/httpclient"
)

type recordedRequest struct {
	method string
	path   string
	body   string
}

type judgeServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	server   *httptest.Server
}

func newJudgeServer(t *testing.T) *judgeServer {
	t.Helper()
	js := &judgeServer{}
	js.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		js.mu.Lock()
		js.requests = append(js.requests, recordedRequest{method: r.Method, path: r.URL.Path, body: string(body)})
		js.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v1/judge/evaluate":
			_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"submission_id":"sub-42","verdict":{"display_name":"Accepted"}}}`))
		case strings.HasPrefix(r.URL.Path, "/api/v1/judge/submissions/"):
			_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"status":"Finished"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":10003,"message":"Not found"}`))
		}
	}))
	t.Cleanup(js.server.Close)
	return js
}

func (js *judgeServer) last() recordedRequest {
	js.mu.Lock()
	defer js.mu.Unlock()
	if len(js.requests) == 0 {
		return recordedRequest{}
	}
	return js.requests[len(js.requests)-1]
}

func (js *judgeServer) count() int {
	js.mu.Lock()
	defer js.mu.Unlock()
	return len(js.requests)
}

func newTestSession(t *testing.T, baseURL string, answers ...string) (*Session, *bytes.Buffer, string) {
	t.Helper()
	out := &bytes.Buffer{}
	statePath := filepath.Join(t.TempDir(), "state.json")
	prompt := func(string) (string, error) {
		if len(answers) == 0 {
			return "", io.EOF
		}
		answer := answers[0]
		answers = answers[1:]
		return answer, nil
	}
	client := httpclient.New(baseURL, httpclient.Options{Timeout: 5 * time.Second})
	session := New(client, command.Registry(), &state.SessionState{}, Options{
		StatePath:  statePath,
		PrettyJSON: true,
		Out:        out,
		Prompt:     prompt,
	})
	return session, out, statePath
}

func TestEvaluateRemembersSubmission(t *testing.T) {
	t.Parallel()
	js := newJudgeServer(t)
	session, out, statePath := newTestSession(t, js.server.URL)
	ctx := context.Background()

	if quit := session.Execute(ctx, `judge evaluate language=cpp source_code="int main() {}" tests_json='[{"input":"","expected_output":""}]'`); quit {
		t.Fatalf("expected session to continue")
	}
	if got := js.last().path; got != "/api/v1/judge/evaluate" {
		t.Fatalf("expected evaluate request, got %s", got)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(js.last().body), &payload); err != nil {
		t.Fatalf("unmarshal body failed: %v", err)
	}
	if payload["source_code"] != "int main() {}" {
		t.Fatalf("expected quoted source to survive, got %v", payload["source_code"])
	}
	if !strings.Contains(out.String(), "HTTP 200") {
		t.Fatalf("expected rendered status, got %q", out.String())
	}

	saved, err := state.Load(statePath)
	if err != nil {
		t.Fatalf("load state failed: %v", err)
	}
	if saved.LastSubmissionID != "sub-42" || saved.LastVerdict != "Accepted" {
		t.Fatalf("unexpected saved state %+v", saved)
	}

	session.Execute(ctx, "judge status")
	if got := js.last().path; got != "/api/v1/judge/submissions/sub-42" {
		t.Fatalf("expected status for last submission, got %s", got)
	}
	session.Execute(ctx, "judge report id=other")
	if got := js.last().path; got != "/api/v1/judge/submissions/other/report" {
		t.Fatalf("expected explicit id to win, got %s", got)
	}
}

func TestPromptsForMissingFields(t *testing.T) {
	t.Parallel()
	js := newJudgeServer(t)
	session, _, _ := newTestSession(t, js.server.URL, "python", "print(1)")

	session.Execute(context.Background(), "judge run stdin=7")
	req := js.last()
	if req.path != "/api/v1/judge/run" {
		t.Fatalf("expected run request, got %s", req.path)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(req.body), &payload); err != nil {
		t.Fatalf("unmarshal body failed: %v", err)
	}
	if payload["language"] != "python" || payload["source_code"] != "print(1)" || payload["stdin"] != "7" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestInvalidInputDoesNotSendRequest(t *testing.T) {
	t.Parallel()
	js := newJudgeServer(t)
	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "unknown command", line: "judge compile", want: "unknown command"},
		{name: "single token", line: "judge", want: "invalid command"},
		{name: "bad param", line: "judge status sub-1", want: "invalid param"},
		{name: "unbalanced quote", line: `judge run code="x`, want: "parse command failed"},
		{name: "prompt exhausted", line: "judge status", want: "read input failed"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			session, out, _ := newTestSession(t, js.server.URL)
			before := js.count()
			session.Execute(context.Background(), tt.line)
			if js.count() != before {
				t.Fatalf("expected no request to be sent")
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Fatalf("expected %q in output, got %q", tt.want, out.String())
			}
		})
	}
}

func TestSystemCommands(t *testing.T) {
	t.Parallel()
	session, out, _ := newTestSession(t, "http://127.0.0.1:1")
	ctx := context.Background()

	if session.Execute(ctx, "help") {
		t.Fatalf("help should not quit")
	}
	if !strings.Contains(out.String(), "judge evaluate") {
		t.Fatalf("expected usage lines in help, got %q", out.String())
	}
	session.Execute(ctx, "set base http://judge.local:9000/")
	if got := session.client.BaseURL(); got != "http://judge.local:9000" {
		t.Fatalf("expected base to be updated, got %s", got)
	}
	session.Execute(ctx, "set timeout nope")
	if !strings.Contains(out.String(), "invalid duration") {
		t.Fatalf("expected invalid duration message")
	}
	session.Execute(ctx, "show last")
	if !strings.Contains(out.String(), "last: <none>") {
		t.Fatalf("expected empty last submission")
	}
	if !session.Execute(ctx, "exit") {
		t.Fatalf("expected exit to quit")
	}
}
