package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"judgecore/internal/common/cache"
	"judgecore/internal/common/mq"
	"judgecore/internal/common/storage"
	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, cache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redisCacheAt(t, mr.Addr())
}

func redisCacheAt(t *testing.T, addr string) cache.Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache failed: %v", err)
	}
	return rc
}

func TestStatusRepositoryGetMissing(t *testing.T) {
	_, c := newTestCache(t)
	repo := NewStatusRepository(c, time.Hour)
	_, err := repo.Get(context.Background(), "sub-1")
	if appErr.GetCode(err) != appErr.SubmissionNotFound {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestStatusRepositoryFinalIsSticky(t *testing.T) {
	_, c := newTestCache(t)
	repo := NewStatusRepository(c, time.Hour)
	ctx := context.Background()

	steps := []model.JudgeStatus{model.JudgeStatusPending, model.JudgeStatusRunning, model.JudgeStatusFinished, model.JudgeStatusRunning}
	for _, s := range steps {
		if err := repo.Save(ctx, model.JudgeStatusResponse{SubmissionID: "sub-1", Status: s}); err != nil {
			t.Fatalf("save %s failed: %v", s, err)
		}
	}
	got, err := repo.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.JudgeStatusFinished {
		t.Fatalf("expected Finished, got %s", got.Status)
	}
}

func TestStatusRepositoryTTL(t *testing.T) {
	mr, c := newTestCache(t)
	repo := NewStatusRepository(c, time.Minute)
	ctx := context.Background()
	if err := repo.Save(ctx, model.JudgeStatusResponse{SubmissionID: "sub-1", Status: model.JudgeStatusPending}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := repo.Get(ctx, "sub-1"); appErr.GetCode(err) != appErr.SubmissionNotFound {
		t.Fatalf("expected status to expire, got %v", err)
	}
}

func TestStatusRepositoryLock(t *testing.T) {
	mr, c := newTestCache(t)
	other := redisCacheAt(t, mr.Addr())
	repo := NewStatusRepository(c, time.Hour)
	otherRepo := NewStatusRepository(other, time.Hour)
	ctx := context.Background()

	ok, err := repo.Lock(ctx, "sub-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock, got %v %v", ok, err)
	}
	ok, err = otherRepo.Lock(ctx, "sub-1", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second lock to fail, got %v %v", ok, err)
	}
	if err := repo.ExtendLock(ctx, "sub-1", time.Minute); err != nil {
		t.Fatalf("extend by owner failed: %v", err)
	}
	if err := otherRepo.ExtendLock(ctx, "sub-1", time.Minute); appErr.GetCode(err) != appErr.LockFailed {
		t.Fatalf("expected LockFailed for non-owner extend, got %v", err)
	}
	if err := repo.Unlock(ctx, "sub-1"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	ok, _ = otherRepo.Lock(ctx, "sub-1", time.Minute)
	if !ok {
		t.Fatalf("expected lock after release")
	}
}

func TestStatsRepository(t *testing.T) {
	_, c := newTestCache(t)
	repo := NewStatsRepository(c)
	ctx := context.Background()

	verdicts := []model.SubmissionVerdict{
		{Overall: model.OutcomeAccepted, PassedCount: 3, TotalCount: 3},
		{Overall: model.OutcomeWrongAnswer, PassedCount: 1, TotalCount: 3},
		{Overall: model.OutcomeAccepted, PassedCount: 2, TotalCount: 2},
	}
	for _, v := range verdicts {
		if err := repo.Record(ctx, v); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	if err := repo.RecordFailure(ctx); err != nil {
		t.Fatalf("record failure failed: %v", err)
	}
	snap, err := repo.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	want := map[string]int64{
		StatSubmissions:                    3,
		StatTestsTotal:                     8,
		StatTestsPassed:                    6,
		StatFailed:                         1,
		model.OutcomeAccepted.StatKey():    2,
		model.OutcomeWrongAnswer.StatKey(): 1,
	}
	for k, v := range want {
		if snap[k] != v {
			t.Fatalf("expected %s=%d, got %d", k, v, snap[k])
		}
	}
}

type recordingQueue struct {
	mu       sync.Mutex
	topics   []string
	messages []*mq.Message
	err      error
}

func (q *recordingQueue) Publish(_ context.Context, topic string, message *mq.Message) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.topics = append(q.topics, topic)
	q.messages = append(q.messages, message)
	return nil
}

func (q *recordingQueue) Ping(context.Context) error { return nil }
func (q *recordingQueue) Close() error               { return nil }

func TestPublishFinalStatus(t *testing.T) {
	q := &recordingQueue{}
	pub := NewMQStatusEventPublisher(q, "judge.status")
	status := model.JudgeStatusResponse{SubmissionID: "sub-1", Status: model.JudgeStatusFinished}
	if err := pub.PublishFinalStatus(context.Background(), status); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(q.messages) != 1 || q.topics[0] != "judge.status" || q.messages[0].ID != "sub-1" {
		t.Fatalf("unexpected publish %v %v", q.topics, q.messages)
	}
	var event model.StatusEvent
	if err := json.Unmarshal(q.messages[0].Body, &event); err != nil {
		t.Fatalf("decode event failed: %v", err)
	}
	if event.Type != model.StatusEventFinal || event.Status.SubmissionID != "sub-1" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestPublishFinalStatusRejects(t *testing.T) {
	tests := []struct {
		name   string
		pub    *MQStatusEventPublisher
		status model.JudgeStatusResponse
		code   appErr.ErrorCode
	}{
		{name: "non-final", pub: NewMQStatusEventPublisher(&recordingQueue{}, "t"), status: model.JudgeStatusResponse{SubmissionID: "s", Status: model.JudgeStatusRunning}, code: appErr.InvalidParams},
		{name: "no topic", pub: NewMQStatusEventPublisher(&recordingQueue{}, ""), status: model.JudgeStatusResponse{SubmissionID: "s", Status: model.JudgeStatusFailed}, code: appErr.InvalidParams},
		{name: "no queue", pub: NewMQStatusEventPublisher(nil, "t"), status: model.JudgeStatusResponse{SubmissionID: "s", Status: model.JudgeStatusFailed}, code: appErr.ServiceUnavailable},
		{name: "queue down", pub: NewMQStatusEventPublisher(&recordingQueue{err: errors.New("broker down")}, "t"), status: model.JudgeStatusResponse{SubmissionID: "s", Status: model.JudgeStatusFailed}, code: appErr.ServiceUnavailable},
	}
	for _, tt := range tests {
		err := tt.pub.PublishFinalStatus(context.Background(), tt.status)
		if appErr.GetCode(err) != tt.code {
			t.Fatalf("%s: expected code %d, got %v", tt.name, tt.code, err)
		}
	}
}

func TestReportArchiveRoundTrip(t *testing.T) {
	store := storage.NewMemoryStorage()
	archive, err := NewReportArchive(store, "reports", "")
	if err != nil {
		t.Fatalf("new archive failed: %v", err)
	}
	finished := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	report := model.JudgeReport{
		SubmissionID: "sub-1",
		Language:     model.LanguagePython,
		Verdict: model.SubmissionVerdict{
			Overall:     model.OutcomeWrongAnswer,
			PassedCount: 1,
			TotalCount:  2,
			TestOutcomes: []model.TestOutcome{
				{TestCase: model.TestCase{Input: "1", ExpectedOutput: "1"}, Passed: true, Category: model.OutcomeAccepted},
				{TestCase: model.TestCase{Input: "2", ExpectedOutput: "4", Hidden: true}, ActualOutput: "5", Category: model.OutcomeWrongAnswer},
			},
		},
		FinishedAt: finished.Unix(),
	}
	key, err := archive.Save(context.Background(), report)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if key != "reports/2026/03/04/sub-1.json.zst" {
		t.Fatalf("unexpected key %s", key)
	}
	got, err := archive.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.SubmissionID != "sub-1" || len(got.Verdict.TestOutcomes) != 2 {
		t.Fatalf("unexpected report %+v", got)
	}
	if got.Verdict.TestOutcomes[1].TestCase.ExpectedOutput != "4" {
		t.Fatalf("archived report should keep hidden data")
	}
}

func TestReportArchiveLoadMissing(t *testing.T) {
	archive, err := NewReportArchive(storage.NewMemoryStorage(), "reports", "reports")
	if err != nil {
		t.Fatalf("new archive failed: %v", err)
	}
	if _, err := archive.Load(context.Background(), "reports/x.json.zst"); appErr.GetCode(err) != appErr.ObjectNotFound {
		t.Fatalf("expected ObjectNotFound, got %v", err)
	}
}
