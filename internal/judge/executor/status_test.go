package executor_test

import (
	"testing"

	"judgecore/internal/judge/executor"
	"judgecore/internal/judge/model"
)

func TestMapStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id   int
		want model.ExecutionStatus
	}{
		{id: 1, want: model.StatusQueued},
		{id: 2, want: model.StatusProcessing},
		{id: 3, want: model.StatusCompleted},
		{id: 4, want: model.StatusCompleted},
		{id: 5, want: model.StatusTimeLimitExceeded},
		{id: 6, want: model.StatusCompileError},
		{id: 7, want: model.StatusRuntimeError},
		{id: 11, want: model.StatusRuntimeError},
		{id: 12, want: model.StatusRuntimeError},
		{id: 13, want: model.StatusExecutorFailure},
		{id: 14, want: model.StatusExecutorFailure},
		{id: 0, want: model.StatusExecutorFailure},
		{id: 99, want: model.StatusExecutorFailure},
	}
	for _, tt := range tests {
		if got := executor.MapStatus(tt.id); got != tt.want {
			t.Fatalf("status %d: expected %s, got %s", tt.id, tt.want, got)
		}
	}
}
