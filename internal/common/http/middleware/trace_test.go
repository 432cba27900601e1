package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	commonmw "judgecore/internal/common/http/middleware"
	"judgecore/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceResponse struct {
	TraceID      string `json:"trace_id"`
	RequestID    string `json:"request_id"`
	UserID       string `json:"user_id"`
	CtxTraceID   string `json:"ctx_trace_id"`
	CtxRequestID string `json:"ctx_request_id"`
	CtxUserID    string `json:"ctx_user_id"`
}

func newTraceRouter(cfg commonmw.TraceContextConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(commonmw.TraceContextMiddlewareWithConfig(cfg))
	router.Use(commonmw.RequestLogger())
	router.GET("/trace", func(c *gin.Context) {
		traceID, _ := c.Get("trace_id")
		requestID, _ := c.Get("request_id")
		userID, _ := c.Get("user_id")
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, traceResponse{
			TraceID:      toString(traceID),
			RequestID:    toString(requestID),
			UserID:       toString(userID),
			CtxTraceID:   toString(ctx.Value(contextkey.TraceID)),
			CtxRequestID: toString(ctx.Value(contextkey.RequestID)),
			CtxUserID:    toString(ctx.Value(contextkey.UserID)),
		})
	})
	return router
}

func TestTraceContextMiddleware(t *testing.T) {
	router := newTraceRouter(commonmw.TraceContextConfig{AllowUserIDHeader: true, WriteUserIDHeader: true})

	cases := []struct {
		name              string
		headers           map[string]string
		expectedTraceID   string
		expectedRequestID string
		expectedUserID    string
	}{
		{
			name: "generate trace and request id",
		},
		{
			name: "preserve trace request and user id",
			headers: map[string]string{
				"X-Trace-Id":   "trace-123",
				"X-Request-Id": "req-123",
				"X-User-Id":    "42",
			},
			expectedTraceID:   "trace-123",
			expectedRequestID: "req-123",
			expectedUserID:    "42",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)

			var resp traceResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if resp.TraceID == "" || resp.CtxTraceID != resp.TraceID {
				t.Fatalf("expected matching trace id in gin and request context, got %q/%q", resp.TraceID, resp.CtxTraceID)
			}
			if resp.RequestID == "" || resp.CtxRequestID != resp.RequestID {
				t.Fatalf("expected matching request id in gin and request context, got %q/%q", resp.RequestID, resp.CtxRequestID)
			}
			if rec.Header().Get("X-Trace-Id") != resp.TraceID {
				t.Fatalf("expected trace id header %s, got %s", resp.TraceID, rec.Header().Get("X-Trace-Id"))
			}
			if tc.expectedTraceID != "" && resp.TraceID != tc.expectedTraceID {
				t.Fatalf("expected trace id %s, got %s", tc.expectedTraceID, resp.TraceID)
			}
			if tc.expectedRequestID != "" && resp.RequestID != tc.expectedRequestID {
				t.Fatalf("expected request id %s, got %s", tc.expectedRequestID, resp.RequestID)
			}
			if tc.expectedUserID != "" {
				if resp.UserID != tc.expectedUserID || resp.CtxUserID != tc.expectedUserID {
					t.Fatalf("expected user id %s, got %s/%s", tc.expectedUserID, resp.UserID, resp.CtxUserID)
				}
				if rec.Header().Get("X-User-Id") != tc.expectedUserID {
					t.Fatalf("expected user id header")
				}
			}
		})
	}
}

func TestTraceContextMiddlewareIgnoresUserHeader(t *testing.T) {
	router := newTraceRouter(commonmw.TraceContextConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set("X-User-Id", "42")
	router.ServeHTTP(rec, req)

	var resp traceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.UserID != "" || resp.CtxUserID != "" {
		t.Fatalf("expected user id to be ignored, got %s/%s", resp.UserID, resp.CtxUserID)
	}
	if rec.Header().Get("X-User-Id") != "" {
		t.Fatalf("expected no user id header")
	}
}

func toString(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}
