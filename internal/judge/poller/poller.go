// Package poller waits for an execution handle to reach a terminal status.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"judgecore/internal/judge/executor"
	"judgecore/internal/judge/model"
	"judgecore/pkg/utils/backoff"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
)

// Synthetic descriptions for results the executor never produced.
const (
	DescDeadlineExceeded  = "poll deadline exceeded"
	DescCancelled         = "cancelled"
	DescAttemptsExhausted = "poll attempts exhausted"
)

// Config bounds the polling loop.
type Config struct {
	// Interval is the delay before the first fetch and the base of the backoff.
	Interval time.Duration `yaml:"interval"`
	// MaxInterval caps the doubling; values <= Interval keep the delay fixed.
	MaxInterval time.Duration `yaml:"maxInterval"`
	// MaxAttempts bounds the number of status fetches.
	MaxAttempts int `yaml:"maxAttempts"`
	// Deadline bounds the whole loop. Zero leaves only the context deadline.
	Deadline time.Duration `yaml:"deadline"`
	// TransportRetries is how many extra fetches a transport error gets.
	TransportRetries int `yaml:"transportRetries"`
}

// DefaultConfig returns the defaults used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		Interval:         time.Second,
		MaxInterval:      time.Second,
		MaxAttempts:      60,
		Deadline:         30 * time.Second,
		TransportRetries: 2,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = c.Interval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.Deadline < 0 {
		c.Deadline = 0
	}
	if c.TransportRetries < 0 {
		c.TransportRetries = 0
	}
}

// Poller fetches status snapshots until a terminal one arrives or a bound is hit.
type Poller struct {
	client executor.Client
	cfg    Config
}

// New creates a Poller. Zero config fields take defaults, except Deadline
// and TransportRetries where zero is meaningful.
func New(client executor.Client, cfg Config) *Poller {
	cfg.setDefaults()
	return &Poller{client: client, cfg: cfg}
}

// Config returns the effective configuration.
func (p *Poller) Config() Config {
	return p.cfg
}

// Poll always returns a result; failures become an ExecutorFailure result.
func (p *Poller) Poll(ctx context.Context, handle model.ExecutionHandle) model.ExecutionResult {
	if p.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Deadline)
		defer cancel()
	}

	last := model.ExecutionResult{Status: model.StatusQueued}
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		wait := backoff.Compute(attempt, p.cfg.Interval, p.cfg.MaxInterval)
		if err := backoff.Sleep(ctx, wait); err != nil {
			return stopped(ctx, err)
		}

		res, err := p.fetch(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return stopped(ctx, ctx.Err())
			}
			logger.Warn(ctx, "poll transport failure",
				zap.String("handle", string(handle)),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			return model.FailureResult(fmt.Sprintf("transport error: %v", err))
		}
		logger.Debug(ctx, "poll status",
			zap.String("handle", string(handle)),
			zap.Int("attempt", attempt+1),
			zap.String("status", string(res.Status)),
		)
		if res.Status.IsTerminal() {
			return res
		}
		last = res
	}

	logger.Warn(ctx, "poll attempts exhausted",
		zap.String("handle", string(handle)),
		zap.Int("max_attempts", p.cfg.MaxAttempts),
		zap.String("last_status", string(last.Status)),
	)
	return model.FailureResult(DescAttemptsExhausted)
}

// fetch calls FetchStatus, retrying transport errors immediately.
func (p *Poller) fetch(ctx context.Context, handle model.ExecutionHandle) (model.ExecutionResult, error) {
	var lastErr error
	for try := 0; try <= p.cfg.TransportRetries; try++ {
		res, err := p.client.FetchStatus(ctx, handle)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || !executor.IsTransportError(err) {
			break
		}
	}
	return model.ExecutionResult{}, lastErr
}

func stopped(ctx context.Context, err error) model.ExecutionResult {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.FailureResult(DescDeadlineExceeded)
	}
	return model.FailureResult(DescCancelled)
}
