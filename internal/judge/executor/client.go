// Package executor talks to the remote code execution backend.
package executor

import (
	"context"

	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"
)

// Client submits runs to the executor and reads their status.
// Implementations do not retry; a failed call returns a transport error.
type Client interface {
	Submit(ctx context.Context, req model.ExecutionRequest) (model.ExecutionHandle, error)
	FetchStatus(ctx context.Context, handle model.ExecutionHandle) (model.ExecutionResult, error)
}

// IsTransportError reports whether err came from talking to the executor.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	return appErr.GetCode(err).IsTransport()
}
