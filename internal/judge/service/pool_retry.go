package service

import (
	"context"
	"strconv"
	"time"

	"judgecore/internal/common/mq"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/backoff"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
)

const poolRetryHeader = "x-pool-retry"

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}

func (s *Service) tryAcquireSlot() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) requeueForPoolFull(ctx context.Context, msg *mq.Message) error {
	if s.queue == nil || s.retryTopic == "" {
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
	return RequeueForPoolFull(ctx, s.queue, s.retryTopic, s.deadLetter, s.poolRetryMax, s.poolRetryBase, s.poolRetryMaxD, msg)
}

// ParsePoolRetryCount reads how often a message was requeued for a full pool.
func ParsePoolRetryCount(headers map[string]string) int {
	if headers == nil {
		return 0
	}
	raw, ok := headers[poolRetryHeader]
	if !ok {
		return 0
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

// CloneMessageForRetry copies msg with a fresh timestamp and the given pool retry count.
func CloneMessageForRetry(msg *mq.Message, retryCount int) *mq.Message {
	if msg == nil {
		return mq.NewMessage(nil)
	}
	out := &mq.Message{
		Body:       msg.Body,
		Headers:    make(map[string]string, len(msg.Headers)+1),
		Timestamp:  time.Now(),
		Priority:   msg.Priority,
		RetryCount: 0,
		MaxRetries: msg.MaxRetries,
		Expiration: msg.Expiration,
	}
	for k, v := range msg.Headers {
		out.Headers[k] = v
	}
	out.Headers[poolRetryHeader] = strconv.Itoa(retryCount)
	return out
}

// RequeueForPoolFull republishes a message when worker pool is full.
func RequeueForPoolFull(ctx context.Context, queue mq.MessageQueue, retryTopic, deadLetter string, maxRetry int, baseDelay, maxDelay time.Duration, msg *mq.Message) error {
	if queue == nil || retryTopic == "" {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("retry queue is not configured")
	}
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	retryCount := ParsePoolRetryCount(msg.Headers)
	if maxRetry > 0 && retryCount >= maxRetry {
		if deadLetter == "" {
			logger.Warn(ctx, "worker pool retry exhausted without dead letter", zap.Int("retry_count", retryCount), zap.String("message_id", msg.ID))
			return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
		}
		dead := CloneMessageForRetry(msg, retryCount)
		logger.Warn(ctx, "worker pool retry exhausted, sending to dead letter", zap.Int("retry_count", retryCount), zap.String("message_id", msg.ID), zap.String("topic", deadLetter))
		return queue.Publish(ctx, deadLetter, dead)
	}
	delay := backoff.Compute(retryCount, baseDelay, maxDelay)
	if err := backoff.Sleep(ctx, delay); err != nil {
		logger.Warn(ctx, "worker pool retry canceled during backoff", zap.Int("retry_count", retryCount), zap.String("message_id", msg.ID), zap.Duration("delay", delay))
		return err
	}
	logger.Info(ctx, "worker pool requeue", zap.Int("retry_count", retryCount+1), zap.String("message_id", msg.ID), zap.Duration("delay", delay), zap.String("topic", retryTopic))
	requeued := CloneMessageForRetry(msg, retryCount+1)
	return queue.Publish(ctx, retryTopic, requeued)
}
