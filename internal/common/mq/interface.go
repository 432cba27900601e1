package mq

import (
	"context"
	"time"
)

// MessageQueue is the producer side shared by publishers and retry paths.
type MessageQueue interface {
	// Publish publishes a message to the specified topic
	Publish(ctx context.Context, topic string, message *Message) error

	// Ping verifies the message queue connection is alive
	Ping(ctx context.Context) error

	// Close closes the message queue connection
	Close() error
}

// Consumer consumes weighted topic sets.
type Consumer interface {
	SubscribeWeighted(ctx context.Context, topics []WeightedTopic, handler HandlerFunc, opts *SubscribeOptions, limiter FetchLimiter) error
	Start() error
	Stop() error
}

// Message represents a message in the queue
type Message struct {
	ID         string            `json:"id"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	Timestamp  time.Time         `json:"timestamp"`
	Priority   uint8             `json:"priority"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`

	// Expiration drops the message when it is older than this on receipt
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc is the function signature for message handlers.
// A non-nil error makes the queue redeliver the message to the handler.
type HandlerFunc func(ctx context.Context, message *Message) error

// WeightedTopic defines a topic with fetch weight.
type WeightedTopic struct {
	Topic  string
	Weight int
}

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	ConsumerGroup string

	// MaxRetries sets the maximum number of handler retries for one message
	// Default: 3
	MaxRetries int

	// RetryDelay is the first delay between handler retries; later delays double
	// Default: 1 second
	RetryDelay time.Duration

	// MaxRetryDelay caps the doubling of RetryDelay
	// Default: 30 seconds
	MaxRetryDelay time.Duration

	// DeadLetterTopic is where messages go after max retries
	DeadLetterTopic string

	// MessageTTL sets the time-to-live for messages without their own expiration
	MessageTTL time.Duration
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
	if o.MaxRetryDelay == 0 {
		o.MaxRetryDelay = 30 * time.Second
	}
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		MaxRetries: 3,
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

// Expired reports whether the message outlived its expiration at now.
func (m *Message) Expired(now time.Time) bool {
	if m.Expiration <= 0 || m.Timestamp.IsZero() {
		return false
	}
	return now.Sub(m.Timestamp) > m.Expiration
}
