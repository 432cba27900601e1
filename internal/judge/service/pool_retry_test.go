package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"judgecore/internal/common/mq"
	"judgecore/internal/judge/service"
)

type publishedMessage struct {
	topic string
	msg   *mq.Message
}

type fakeQueue struct {
	mu        sync.Mutex
	published []publishedMessage
}

func (f *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{topic: topic, msg: message})
	return nil
}

func (f *fakeQueue) Ping(ctx context.Context) error { return nil }

func (f *fakeQueue) Close() error { return nil }

func (f *fakeQueue) onTopic(topic string) []*mq.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*mq.Message
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p.msg)
		}
	}
	return out
}

func TestParsePoolRetryCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{name: "empty", headers: nil, want: 0},
		{name: "missing", headers: map[string]string{}, want: 0},
		{name: "invalid", headers: map[string]string{"x-pool-retry": "bad"}, want: 0},
		{name: "negative", headers: map[string]string{"x-pool-retry": "-1"}, want: 0},
		{name: "ok", headers: map[string]string{"x-pool-retry": "3"}, want: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := service.ParsePoolRetryCount(tt.headers); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestCloneMessageForRetry(t *testing.T) {
	t.Parallel()
	msg := mq.NewMessage([]byte("payload"))
	msg.ID = "m-1"
	msg.RetryCount = 2
	msg.Headers["trace"] = "t-1"
	out := service.CloneMessageForRetry(msg, 4)
	if string(out.Body) != "payload" || out.Headers["trace"] != "t-1" {
		t.Fatalf("expected body and headers to be copied, got %+v", out)
	}
	if out.Headers["x-pool-retry"] != "4" || out.RetryCount != 0 || out.ID != "" {
		t.Fatalf("unexpected retry clone %+v", out)
	}
	out.Headers["trace"] = "changed"
	if msg.Headers["trace"] != "t-1" {
		t.Fatalf("clone shares header map with original")
	}
}

func TestRequeueForPoolFull(t *testing.T) {
	t.Parallel()
	t.Run("publish-retry", func(t *testing.T) {
		t.Parallel()
		queue := &fakeQueue{}
		msg := mq.NewMessage([]byte("payload"))
		msg.Headers["x-pool-retry"] = "1"
		if err := service.RequeueForPoolFull(context.Background(), queue, "judge.retry", "judge.dead", 5, 0, 0, msg); err != nil {
			t.Fatalf("requeue failed: %v", err)
		}
		if len(queue.published) != 1 {
			t.Fatalf("expected 1 published message, got %d", len(queue.published))
		}
		got := queue.published[0]
		if got.topic != "judge.retry" {
			t.Fatalf("expected retry topic, got %s", got.topic)
		}
		if got.msg.Headers["x-pool-retry"] != "2" {
			t.Fatalf("expected retry count 2, got %s", got.msg.Headers["x-pool-retry"])
		}
		if got.msg.ID != "" {
			t.Fatalf("expected empty message ID")
		}
	})

	t.Run("publish-deadletter", func(t *testing.T) {
		t.Parallel()
		queue := &fakeQueue{}
		msg := mq.NewMessage([]byte("payload"))
		msg.Headers["x-pool-retry"] = "5"
		if err := service.RequeueForPoolFull(context.Background(), queue, "judge.retry", "judge.dead", 5, 0, 0, msg); err != nil {
			t.Fatalf("deadletter failed: %v", err)
		}
		if len(queue.published) != 1 {
			t.Fatalf("expected 1 published message, got %d", len(queue.published))
		}
		got := queue.published[0]
		if got.topic != "judge.dead" {
			t.Fatalf("expected deadletter topic, got %s", got.topic)
		}
		if got.msg.Headers["x-pool-retry"] != "5" {
			t.Fatalf("expected retry count 5, got %s", got.msg.Headers["x-pool-retry"])
		}
	})

	t.Run("cancelled-during-backoff", func(t *testing.T) {
		t.Parallel()
		queue := &fakeQueue{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		msg := mq.NewMessage([]byte("payload"))
		if err := service.RequeueForPoolFull(ctx, queue, "judge.retry", "", 5, time.Minute, time.Minute, msg); err == nil {
			t.Fatalf("expected cancellation error")
		}
		if len(queue.published) != 0 {
			t.Fatalf("expected nothing published, got %d", len(queue.published))
		}
	})
}
