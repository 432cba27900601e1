package executor

import (
	"context"
	"errors"

	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"

	"github.com/zeromicro/go-zero/core/breaker"
)

// BreakerClient fails fast while the executor keeps producing transport errors.
// Only transport errors count against the breaker.
type BreakerClient struct {
	next Client
	brk  breaker.Breaker
}

// NewBreakerClient wraps next with a circuit breaker named name.
func NewBreakerClient(next Client, name string) *BreakerClient {
	if name == "" {
		name = "executor"
	}
	return &BreakerClient{
		next: next,
		brk:  breaker.NewBreaker(breaker.WithName(name)),
	}
}

func (c *BreakerClient) Submit(ctx context.Context, req model.ExecutionRequest) (model.ExecutionHandle, error) {
	var handle model.ExecutionHandle
	err := c.do(func() error {
		var err error
		handle, err = c.next.Submit(ctx, req)
		return err
	})
	return handle, err
}

func (c *BreakerClient) FetchStatus(ctx context.Context, handle model.ExecutionHandle) (model.ExecutionResult, error) {
	var res model.ExecutionResult
	err := c.do(func() error {
		var err error
		res, err = c.next.FetchStatus(ctx, handle)
		return err
	})
	return res, err
}

func (c *BreakerClient) do(call func() error) error {
	err := c.brk.DoWithAcceptable(call, acceptable)
	if errors.Is(err, breaker.ErrServiceUnavailable) {
		return appErr.Wrapf(err, appErr.ExecutorUnavailable, "executor circuit open")
	}
	return err
}

// acceptable keeps caller cancellations and non-transport failures out of the error ratio.
func acceptable(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return !IsTransportError(err)
}

var _ Client = (*BreakerClient)(nil)
