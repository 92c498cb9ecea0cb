// Package worker runs analyses requested asynchronously over the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/simguard/internal/analysis"
	"github.com/opensource-finance/simguard/internal/bus"
	"github.com/opensource-finance/simguard/internal/domain"
)

// Worker consumes analysis requests from the EventBus.
type Worker struct {
	bus     domain.EventBus
	service *analysis.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	running       sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, service *analysis.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		service: service,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to analysis requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicAnalysisRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicAnalysisRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("analysis worker started", "topic", domain.TopicAnalysisRequested)
	return nil
}

// handleMessage runs one requested analysis. Failures are logged and
// reported on the completion topic with Error set and no analysis id.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.running.Add(1)
	defer w.running.Done()

	start := time.Now()

	var req domain.AnalysisRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse analysis request",
			"message_id", msg.ID,
			"error", err,
		)
		w.reportFailure(ctx, msg.ID, err)
		return err
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}

	slog.Debug("processing analysis request",
		"request_id", req.RequestID,
		"upload_id", req.UploadID,
	)

	summary, err := w.service.Run(ctx, req)
	if err != nil {
		slog.Error("requested analysis failed",
			"request_id", req.RequestID,
			"upload_id", req.UploadID,
			"error", err,
		)
		w.reportFailure(ctx, req.RequestID, err)
		return err
	}

	slog.Info("requested analysis processed",
		"request_id", req.RequestID,
		"analysis_id", summary.AnalysisID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func (w *Worker) reportFailure(ctx context.Context, requestID string, cause error) {
	failed := domain.AnalysisCompleted{RequestID: requestID, Error: cause.Error()}
	if err := bus.PublishJSON(ctx, w.bus, domain.TopicAnalysisCompleted, failed); err != nil {
		slog.Warn("failed to report analysis failure",
			"request_id", requestID,
			"error", err,
		)
	}
}

// Stop gracefully stops the worker and waits for an in-flight analysis.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.running.Wait()

	slog.Info("analysis worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
