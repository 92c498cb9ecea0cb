package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/simguard/internal/analysis"
	"github.com/opensource-finance/simguard/internal/batch"
	"github.com/opensource-finance/simguard/internal/bus"
	"github.com/opensource-finance/simguard/internal/cache"
	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/rules"
	"github.com/opensource-finance/simguard/internal/session"
)

func newWorker(t *testing.T) (*Worker, *bus.ChannelBus, *session.Store) {
	t.Helper()

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	engine, err := rules.NewEngine(domain.DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	store := session.NewStore(cache.NewLRUCache(16), time.Hour)
	svc := analysis.NewService(store, batch.NewEvaluator(engine, 2), eventBus)

	return NewWorker(eventBus, svc), eventBus, store
}

func TestWorkerStartAndStop(t *testing.T) {
	w, _, _ := newWorker(t)

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
	}
	if stats.Topics[0] != domain.TopicAnalysisRequested {
		t.Errorf("expected topic %s, got %s", domain.TopicAnalysisRequested, stats.Topics[0])
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	if stats := w.GetStats(); stats.SubscriptionCount != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
	}
}

func TestWorkerProcessesRequest(t *testing.T) {
	w, eventBus, store := newWorker(t)
	ctx := context.Background()

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	ts := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	upload := &domain.Upload{
		ID: "up-1",
		Events: []domain.Event{
			{Timestamp: ts, UserID: "user_1", SimID: "sim_a", DeviceID: "dev_a", Location: "Colombo", LoginStatus: domain.LoginSuccess},
			{Timestamp: ts.Add(2 * time.Hour), UserID: "user_1", SimID: "sim_b", DeviceID: "dev_a", Location: "Colombo", LoginStatus: domain.LoginSuccess},
		},
	}
	if err := store.SaveUpload(ctx, upload); err != nil {
		t.Fatalf("SaveUpload failed: %v", err)
	}

	completed := make(chan domain.AnalysisCompleted, 1)
	eventBus.Subscribe(ctx, domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
		var c domain.AnalysisCompleted
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			return err
		}
		completed <- c
		return nil
	})

	payload, _ := json.Marshal(domain.AnalysisRequest{RequestID: "req-42", UploadID: "up-1"})
	if err := eventBus.Publish(ctx, domain.TopicAnalysisRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case c := <-completed:
		if c.RequestID != "req-42" {
			t.Errorf("expected request id req-42, got %s", c.RequestID)
		}
		if c.UsersAnalyzed != 1 || c.SuspiciousCount != 1 {
			t.Errorf("unexpected completion: %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for analysis completion")
	}

	summary, err := store.LatestAnalysis(ctx)
	if err != nil {
		t.Fatalf("LatestAnalysis failed: %v", err)
	}
	if summary.Results[0].Tier != domain.TierLow || summary.Results[0].RiskScore != 20 {
		t.Errorf("expected LOW 20 for a lone SIM change, got %+v", summary.Results[0])
	}
}

func TestWorkerRejectsBadPayload(t *testing.T) {
	w, _, _ := newWorker(t)

	err := w.handleMessage(context.Background(), &domain.Message{ID: "m1", Payload: []byte("not json")})
	if err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestWorkerWithoutUpload(t *testing.T) {
	w, _, _ := newWorker(t)

	payload, _ := json.Marshal(domain.AnalysisRequest{RequestID: "r"})
	err := w.handleMessage(context.Background(), &domain.Message{ID: "m2", Payload: payload})
	if err == nil {
		t.Error("expected error when no upload exists")
	}
}

func TestWorkerReportsFailure(t *testing.T) {
	w, eventBus, store := newWorker(t)
	ctx := context.Background()

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	ts := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	upload := &domain.Upload{
		ID:     "up-2",
		Events: []domain.Event{{Timestamp: ts, UserID: "user_1", SimID: "sim_a", DeviceID: "dev_a", Location: "Colombo", LoginStatus: domain.LoginSuccess}},
	}
	if err := store.SaveUpload(ctx, upload); err != nil {
		t.Fatalf("SaveUpload failed: %v", err)
	}

	completed := make(chan domain.AnalysisCompleted, 1)
	eventBus.Subscribe(ctx, domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
		var c domain.AnalysisCompleted
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			return err
		}
		completed <- c
		return nil
	})

	payload, _ := json.Marshal(domain.AnalysisRequest{RequestID: "req-stale", UploadID: "up-1"})
	if err := eventBus.Publish(ctx, domain.TopicAnalysisRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case c := <-completed:
		if c.RequestID != "req-stale" {
			t.Errorf("expected request id req-stale, got %s", c.RequestID)
		}
		if c.Error == "" || c.AnalysisID != "" {
			t.Errorf("expected a failure without analysis id, got %+v", c)
		}
		if !strings.Contains(c.Error, "replaced upload") {
			t.Errorf("expected stale request error, got %q", c.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for failure report")
	}

	if _, err := store.LatestAnalysis(ctx); !errors.Is(err, session.ErrNoAnalysis) {
		t.Errorf("stale request must not store an analysis, got %v", err)
	}
}
