package mq

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"judgecore/pkg/utils/backoff"
	"judgecore/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerPriority   = "x-message-priority"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"
	headerExpiration = "x-message-expiration-ms"

	defaultConsumerGroup = "judgecore-judge"
	fetchErrorDelay      = 100 * time.Millisecond
)

// KafkaConfig defines configuration for Kafka implementation.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	// Producer settings
	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	// Consumer settings
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	// Dialer settings
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaQueue implements MessageQueue and Consumer on Kafka.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu            sync.Mutex
	subscriptions []*kafkaSubscription
	started       bool
	closed        bool
}

type kafkaSubscription struct {
	topics  []WeightedTopic
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context
	limiter FetchLimiter

	readers []*kafka.Reader
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewKafkaQueue creates a Kafka-backed message queue.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1 << 10
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = kafka.RequireOne
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Compression:  cfg.Compression,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
			ClientID: cfg.ClientID,
		},
	}

	return &KafkaQueue{
		config: cfg,
		writer: writer,
		dialer: dialer,
	}, nil
}

// Publish publishes a message to a topic. Messages with the same ID share a partition.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	return k.writer.WriteMessages(ctx, toKafkaMessage(topic, message))
}

// SubscribeWeighted subscribes to several topics. Fetches rotate over the topics
// in proportion to their weights; limiter bounds the messages in flight.
func (k *KafkaQueue) SubscribeWeighted(ctx context.Context, topics []WeightedTopic, handler HandlerFunc, opts *SubscribeOptions, limiter FetchLimiter) error {
	if len(topics) == 0 {
		return errors.New("topics are required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	for _, t := range topics {
		if t.Topic == "" {
			return errors.New("topic is required")
		}
		if t.Weight <= 0 {
			return errors.New("topic weight must be positive")
		}
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = defaultConsumerGroup
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sub := &kafkaSubscription{
		topics:  append([]WeightedTopic(nil), topics...),
		handler: handler,
		opts:    options,
		baseCtx: ctx,
		limiter: limiter,
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.subscriptions = append(k.subscriptions, sub)
	if k.started {
		return k.startSubscription(sub)
	}
	return nil
}

// Start starts consuming messages for all subscriptions.
func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if k.started {
		return nil
	}
	for _, sub := range k.subscriptions {
		if err := k.startSubscription(sub); err != nil {
			return err
		}
	}
	k.started = true
	return nil
}

func (k *KafkaQueue) startSubscription(sub *kafkaSubscription) error {
	schedule := buildWeightedSchedule(sub.topics)
	if len(schedule) == 0 {
		return errors.New("no weighted topics provided")
	}
	readers := make([]*kafka.Reader, 0, len(sub.topics))
	for _, t := range sub.topics {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:     k.config.Brokers,
			Topic:       t.Topic,
			GroupID:     sub.opts.ConsumerGroup,
			Dialer:      k.dialer,
			MinBytes:    k.config.MinBytes,
			MaxBytes:    k.config.MaxBytes,
			MaxWait:     k.config.MaxWait,
			StartOffset: kafka.LastOffset,
		}))
	}
	sub.readers = readers
	sub.ctx, sub.cancel = context.WithCancel(sub.baseCtx)

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		idx := 0
		for sub.ctx.Err() == nil {
			if sub.limiter != nil {
				if err := sub.limiter.Acquire(sub.ctx); err != nil {
					return
				}
			}
			reader := readers[schedule[idx%len(schedule)]]
			idx++
			// A short per-fetch wait keeps one idle topic from starving the rotation.
			fetchCtx, cancel := context.WithTimeout(sub.ctx, k.config.MaxWait)
			msg, err := reader.FetchMessage(fetchCtx)
			cancel()
			if err != nil {
				if sub.limiter != nil {
					sub.limiter.Release()
				}
				if sub.ctx.Err() != nil {
					return
				}
				if !errors.Is(err, context.DeadlineExceeded) {
					logger.Warn(sub.ctx, "kafka fetch failed", zap.String("topic", reader.Config().Topic), zap.Error(err))
					_ = backoff.Sleep(sub.ctx, fetchErrorDelay)
				}
				continue
			}
			sub.wg.Add(1)
			go func(m kafka.Message, r *kafka.Reader) {
				defer sub.wg.Done()
				if sub.limiter != nil {
					defer sub.limiter.Release()
				}
				k.handleMessage(sub, r, m)
			}(msg, reader)
		}
	}()
	return nil
}

// Stop stops all consumers gracefully.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subscriptions {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range k.subscriptions {
		sub.wg.Wait()
		for _, reader := range sub.readers {
			_ = reader.Close()
		}
		sub.readers = nil
	}
	k.started = false
	return nil
}

// Ping verifies the Kafka connection.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close closes the producer and stops consumers.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	_ = k.Stop()
	return k.writer.Close()
}

func (k *KafkaQueue) handleMessage(sub *kafkaSubscription, reader *kafka.Reader, msg kafka.Message) {
	m := fromKafkaMessage(msg)
	if m.MaxRetries == 0 {
		m.MaxRetries = sub.opts.MaxRetries
	}
	if m.Expiration == 0 && sub.opts.MessageTTL > 0 {
		m.Expiration = sub.opts.MessageTTL
	}
	if m.Expired(time.Now()) {
		logger.Warn(sub.ctx, "drop expired message", zap.String("message_id", m.ID), zap.String("topic", msg.Topic))
		k.commit(sub, reader, msg)
		return
	}

	attempt := 0
	for {
		err := sub.handler(sub.ctx, m)
		if err == nil {
			k.commit(sub, reader, msg)
			return
		}
		if sub.ctx.Err() != nil {
			// Left uncommitted so the group redelivers it after restart.
			return
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			logger.Error(sub.ctx, "message exhausted retries",
				zap.String("message_id", m.ID),
				zap.String("topic", msg.Topic),
				zap.Int("retry_count", m.RetryCount),
				zap.Error(err),
			)
			if sub.opts.DeadLetterTopic != "" {
				if pubErr := k.Publish(sub.ctx, sub.opts.DeadLetterTopic, m); pubErr != nil {
					logger.Error(sub.ctx, "publish dead letter failed", zap.String("message_id", m.ID), zap.Error(pubErr))
				}
			}
			k.commit(sub, reader, msg)
			return
		}
		if backoff.Sleep(sub.ctx, backoff.Compute(attempt, sub.opts.RetryDelay, sub.opts.MaxRetryDelay)) != nil {
			return
		}
		attempt++
	}
}

func (k *KafkaQueue) commit(sub *kafkaSubscription, reader *kafka.Reader, msg kafka.Message) {
	if err := reader.CommitMessages(sub.ctx, msg); err != nil && sub.ctx.Err() == nil {
		logger.Warn(sub.ctx, "commit message failed", zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset), zap.Error(err))
	}
}

func buildWeightedSchedule(topics []WeightedTopic) []int {
	schedule := make([]int, 0, len(topics))
	for idx, t := range topics {
		for i := 0; i < t.Weight; i++ {
			schedule = append(schedule, idx)
		}
	}
	return schedule
}

func toKafkaMessage(topic string, message *Message) kafka.Message {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(message.Headers)+6)
	for k, v := range message.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if message.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(message.ID)})
	}
	headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(message.Timestamp.Format(time.RFC3339Nano))})
	if message.Priority != 0 {
		headers = append(headers, kafka.Header{Key: headerPriority, Value: []byte(strconv.Itoa(int(message.Priority)))})
	}
	if message.RetryCount != 0 {
		headers = append(headers, kafka.Header{Key: headerRetryCount, Value: []byte(strconv.Itoa(message.RetryCount))})
	}
	if message.MaxRetries != 0 {
		headers = append(headers, kafka.Header{Key: headerMaxRetries, Value: []byte(strconv.Itoa(message.MaxRetries))})
	}
	if message.Expiration > 0 {
		headers = append(headers, kafka.Header{Key: headerExpiration, Value: []byte(strconv.FormatInt(message.Expiration.Milliseconds(), 10))})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.ID),
		Value:   message.Body,
		Headers: headers,
		Time:    message.Timestamp,
	}
}

func fromKafkaMessage(msg kafka.Message) *Message {
	m := &Message{
		Body:      msg.Value,
		Headers:   make(map[string]string),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerID:
			m.ID = string(h.Value)
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				m.Timestamp = ts
			}
		case headerPriority:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 && v <= 255 {
				m.Priority = uint8(v)
			}
		case headerRetryCount:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 {
				m.RetryCount = v
			}
		case headerMaxRetries:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 {
				m.MaxRetries = v
			}
		case headerExpiration:
			if v, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil && v > 0 {
				m.Expiration = time.Duration(v) * time.Millisecond
			}
		default:
			m.Headers[h.Key] = string(h.Value)
		}
	}
	if m.ID == "" {
		m.ID = string(msg.Key)
	}
	return m
}

var (
	_ MessageQueue = (*KafkaQueue)(nil)
	_ Consumer     = (*KafkaQueue)(nil)
)
