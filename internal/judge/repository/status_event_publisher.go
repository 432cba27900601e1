package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgecore/internal/common/mq"
	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"
)

// StatusEventPublisher hands final statuses to the persistence side.
type StatusEventPublisher interface {
	PublishFinalStatus(ctx context.Context, status model.JudgeStatusResponse) error
}

// MQStatusEventPublisher publishes status events to a message queue.
type MQStatusEventPublisher struct {
	queue mq.MessageQueue
	topic string
}

// NewMQStatusEventPublisher creates a new MQ status event publisher.
func NewMQStatusEventPublisher(queue mq.MessageQueue, topic string) *MQStatusEventPublisher {
	return &MQStatusEventPublisher{queue: queue, topic: topic}
}

// PublishFinalStatus publishes a final status event keyed by submission id.
func (p *MQStatusEventPublisher) PublishFinalStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("status topic is required")
	}
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if !status.IsFinal() {
		return appErr.Newf(appErr.InvalidParams, "status %s is not final", status.Status)
	}
	event := model.StatusEvent{
		Type:      model.StatusEventFinal,
		Status:    status,
		CreatedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = status.SubmissionID
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish status event failed")
	}
	return nil
}
