package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"judgecore/internal/common/httpclient"
	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"
)

const judge0Fields = "token,stdout,stderr,compile_output,message,status,time,memory"

// Judge0Config configures a Judge0Client. Credentials come from configuration only.
type Judge0Config struct {
	BaseURL   string
	APIKey    string
	APIHost   string
	AuthToken string
	Timeout   time.Duration
	Languages model.LanguageTable

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Judge0Client implements Client over the Judge0 REST API.
type Judge0Client struct {
	http      *httpclient.Client
	languages model.LanguageTable
}

type judge0SubmitRequest struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin"`
}

type judge0SubmitResponse struct {
	Token string `json:"token"`
}

type judge0Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type judge0StatusResponse struct {
	Token         string        `json:"token"`
	Stdout        *string       `json:"stdout"`
	Stderr        *string       `json:"stderr"`
	CompileOutput *string       `json:"compile_output"`
	Message       *string       `json:"message"`
	Status        *judge0Status `json:"status"`
	Time          *string       `json:"time"`
	Memory        *float64      `json:"memory"`
}

// NewJudge0Client creates a client for the Judge0 API at cfg.BaseURL.
func NewJudge0Client(cfg Judge0Config) (*Judge0Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("executor baseURL is required")
	}
	if len(cfg.Languages) == 0 {
		return nil, fmt.Errorf("executor language table is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	headers := map[string]string{
		"X-RapidAPI-Key":  cfg.APIKey,
		"X-RapidAPI-Host": cfg.APIHost,
		"X-Auth-Token":    cfg.AuthToken,
	}
	return &Judge0Client{
		http: httpclient.New(cfg.BaseURL, httpclient.Options{
			Timeout:   cfg.Timeout,
			Headers:   headers,
			Transport: cfg.Transport,
		}),
		languages: cfg.Languages,
	}, nil
}

// Submit creates a submission without waiting for it to run.
func (c *Judge0Client) Submit(ctx context.Context, req model.ExecutionRequest) (model.ExecutionHandle, error) {
	languageID, err := c.languages.Resolve(req.Language)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ExecutorRejected, "executor has no id for language %q", string(req.Language))
	}
	body, err := json.Marshal(judge0SubmitRequest{
		SourceCode: req.SourceCode,
		LanguageID: languageID,
		Stdin:      req.Stdin,
	})
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ExecutorRejected, "encode submission failed")
	}

	info, err := c.http.Do(ctx, http.MethodPost, "/submissions?base64_encoded=false&wait=false", nil, body)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ExecutorUnavailable, "submit to executor failed")
	}
	if err := checkStatus(info, "submit"); err != nil {
		return "", err
	}
	var resp judge0SubmitResponse
	if err := json.Unmarshal(info.Body, &resp); err != nil {
		return "", appErr.Wrapf(err, appErr.ExecutorBadResponse, "decode submit response failed")
	}
	if resp.Token == "" {
		return "", appErr.New(appErr.ExecutorBadResponse).WithMessage("executor returned no token")
	}
	return model.ExecutionHandle(resp.Token), nil
}

// FetchStatus returns the current snapshot for handle.
func (c *Judge0Client) FetchStatus(ctx context.Context, handle model.ExecutionHandle) (model.ExecutionResult, error) {
	if handle == "" {
		return model.ExecutionResult{}, appErr.New(appErr.ExecutorRejected).WithMessage("execution handle is empty")
	}
	path := "/submissions/" + url.PathEscape(string(handle)) +
		"?base64_encoded=false&fields=" + url.QueryEscape(judge0Fields)
	info, err := c.http.Do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return model.ExecutionResult{}, appErr.Wrapf(err, appErr.ExecutorUnavailable, "fetch status failed")
	}
	if err := checkStatus(info, "fetch status"); err != nil {
		return model.ExecutionResult{}, err
	}
	var resp judge0StatusResponse
	if err := json.Unmarshal(info.Body, &resp); err != nil {
		return model.ExecutionResult{}, appErr.Wrapf(err, appErr.ExecutorBadResponse, "decode status response failed")
	}
	if resp.Status == nil {
		return model.ExecutionResult{}, appErr.New(appErr.ExecutorBadResponse).WithMessage("status response has no status")
	}
	return toExecutionResult(resp)
}

func toExecutionResult(resp judge0StatusResponse) (model.ExecutionResult, error) {
	res := model.ExecutionResult{
		Status:        MapStatus(resp.Status.ID),
		Stdout:        deref(resp.Stdout),
		Stderr:        deref(resp.Stderr),
		CompileOutput: deref(resp.CompileOutput),
		Description:   resp.Status.Description,
	}
	if res.Status == model.StatusExecutorFailure {
		if msg := deref(resp.Message); msg != "" {
			res.Description = strings.TrimSpace(res.Description + ": " + msg)
		}
	}
	if t := deref(resp.Time); t != "" {
		seconds, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return model.ExecutionResult{}, appErr.Wrapf(err, appErr.ExecutorBadResponse, "invalid time %q", t)
		}
		res.TimeMs = seconds * 1000
	}
	if resp.Memory != nil {
		res.MemoryKb = int64(*resp.Memory)
	}
	return res, nil
}

func checkStatus(info httpclient.ResponseInfo, op string) error {
	switch {
	case info.StatusCode >= 200 && info.StatusCode < 300:
		return nil
	case info.StatusCode == http.StatusTooManyRequests:
		return appErr.Newf(appErr.ExecutorUnavailable, "executor %s throttled", op).
			WithDetail("status", info.StatusCode)
	case info.StatusCode >= 400 && info.StatusCode < 500:
		return appErr.Newf(appErr.ExecutorRejected, "executor %s rejected: %s", op, snippet(info.Body)).
			WithDetail("status", info.StatusCode)
	default:
		return appErr.Newf(appErr.ExecutorUnavailable, "executor %s failed with status %d", op, info.StatusCode).
			WithDetail("status", info.StatusCode)
	}
}

func snippet(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Client = (*Judge0Client)(nil)
