package controller

import (
	"context"

	"judgecore/internal/judge/model"
	"judgecore/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JudgeAPI is the judge functionality exposed over HTTP.
type JudgeAPI interface {
	Evaluate(ctx context.Context, language model.Language, sourceCode string, tests []model.TestCase, policy model.EarlyExitPolicy) (model.JudgeStatusResponse, error)
	Run(ctx context.Context, language model.Language, sourceCode, stdin string) (model.RunResult, error)
	Status(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error)
	Report(ctx context.Context, submissionID string) (model.JudgeReport, error)
	Stats(ctx context.Context) (map[string]int64, error)
	Languages() model.LanguageTable
}

// JudgeController handles judge HTTP endpoints.
type JudgeController struct {
	judge JudgeAPI
}

// NewJudgeController creates a new controller.
func NewJudgeController(judge JudgeAPI) *JudgeController {
	return &JudgeController{judge: judge}
}

// RouteGuards are extra handlers run before the execution endpoints, such as rate limits.
type RouteGuards struct {
	Evaluate []gin.HandlerFunc
	Run      []gin.HandlerFunc
}

// Register mounts the judge routes on group.
func (h *JudgeController) Register(group *gin.RouterGroup, guards RouteGuards) {
	group.POST("/evaluate", chain(guards.Evaluate, h.Evaluate)...)
	group.POST("/run", chain(guards.Run, h.Run)...)
	group.GET("/submissions/:id", h.GetStatus)
	group.GET("/submissions/:id/report", h.GetReport)
	group.GET("/languages", h.Languages)
	group.GET("/stats", h.Stats)
}

// Evaluate judges a submission synchronously.
func (h *JudgeController) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	policy, ok := model.ParseEarlyExitPolicy(req.EarlyExit)
	if !ok {
		response.BadRequest(c, "Invalid early_exit policy")
		return
	}
	if req.EarlyExit == "" {
		policy = ""
	}
	status, err := h.judge.Evaluate(c.Request.Context(), model.Language(req.Language), req.SourceCode, req.TestCases, policy)
	if err != nil {
		response.Error(c, err)
		return
	}
	var verdict model.SubmissionVerdict
	if status.Verdict != nil {
		verdict = status.Verdict.Redacted()
	}
	response.Success(c, EvaluateResponse{
		SubmissionID: status.SubmissionID,
		Verdict:      verdict,
	})
}

// Run executes code once on custom input.
func (h *JudgeController) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	result, err := h.judge.Run(c.Request.Context(), model.Language(req.Language), req.SourceCode, req.Stdin)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// GetStatus returns status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.judge.Status(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// GetReport returns the archived report for one submission.
func (h *JudgeController) GetReport(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	report, err := h.judge.Report(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// Languages lists the supported languages and their executor ids.
func (h *JudgeController) Languages(c *gin.Context) {
	table := h.judge.Languages()
	items := make([]LanguageItem, 0, len(table))
	for _, lang := range table.Languages() {
		items = append(items, LanguageItem{Name: string(lang), ExecutorID: table[lang]})
	}
	response.Success(c, items)
}

// Stats returns verdict counters.
func (h *JudgeController) Stats(c *gin.Context) {
	stats, err := h.judge.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// EvaluateRequest defines the synchronous evaluate payload.
type EvaluateRequest struct {
	Language   string           `json:"language" binding:"required"`
	SourceCode string           `json:"source_code" binding:"required"`
	TestCases  []model.TestCase `json:"test_cases" binding:"required"`
	EarlyExit  string           `json:"early_exit"`
}

// EvaluateResponse carries the redacted verdict.
type EvaluateResponse struct {
	SubmissionID string                  `json:"submission_id"`
	Verdict      model.SubmissionVerdict `json:"verdict"`
}

// RunRequest defines the run payload.
type RunRequest struct {
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
	Stdin      string `json:"stdin"`
}

// LanguageItem is one entry of the language listing.
type LanguageItem struct {
	Name       string `json:"name"`
	ExecutorID int    `json:"executor_id"`
}

func chain(guards []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	handlers := make([]gin.HandlerFunc, 0, len(guards)+1)
	handlers = append(handlers, guards...)
	return append(handlers, handler)
}
