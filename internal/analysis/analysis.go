// Package analysis runs the batch evaluator against the current session
// upload and fans the outcome out to the session, metrics and event bus.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/simguard/internal/batch"
	"github.com/opensource-finance/simguard/internal/bus"
	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/metrics"
	"github.com/opensource-finance/simguard/internal/session"
)

var (
	// ErrNotEvaluable is returned when a single-user request produced an
	// exclusion instead of an evaluation.
	ErrNotEvaluable = errors.New("user could not be evaluated")

	// ErrStaleRequest is returned when a request names an upload that has
	// since been replaced, or when the upload is replaced while it is being
	// analysed.
	ErrStaleRequest = errors.New("analysis request refers to a replaced upload")
)

// Service coordinates analyses of the session upload.
type Service struct {
	store     *session.Store
	evaluator *batch.Evaluator
	bus       domain.EventBus
}

// NewService creates an analysis service. bus may be nil, in which case no
// completion or alert messages are published.
func NewService(store *session.Store, evaluator *batch.Evaluator, eventBus domain.EventBus) *Service {
	return &Service{
		store:     store,
		evaluator: evaluator,
		bus:       eventBus,
	}
}

// Run analyses the current upload and stores the result as the latest
// analysis. req.RequestID is echoed on the completion message; a non-empty
// req.UploadID must name the current upload.
func (s *Service) Run(ctx context.Context, req domain.AnalysisRequest) (*domain.DatasetSummary, error) {
	start := time.Now()

	upload, err := s.store.LatestUpload(ctx)
	if err != nil {
		return nil, err
	}
	if req.UploadID != "" && req.UploadID != upload.ID {
		return nil, fmt.Errorf("%w: want %s, have %s", ErrStaleRequest, req.UploadID, upload.ID)
	}

	summary, err := s.evaluator.Evaluate(ctx, batch.Input{
		Events: upload.Events,
		Users:  upload.Users,
	})
	if err != nil {
		metrics.ObserveAnalysisFailure()
		return nil, fmt.Errorf("analysis of upload %s failed: %w", upload.ID, err)
	}

	summary.UploadID = upload.ID

	if err := s.store.SaveAnalysis(ctx, summary); err != nil {
		metrics.ObserveAnalysisFailure()
		if errors.Is(err, session.ErrUploadReplaced) {
			return nil, fmt.Errorf("%w: %w", ErrStaleRequest, err)
		}
		return nil, fmt.Errorf("failed to store analysis: %w", err)
	}

	metrics.ObserveAnalysis(summary, time.Since(start))

	s.publish(ctx, req.RequestID, summary)

	slog.Info("analysis completed",
		"analysis_id", summary.AnalysisID,
		"upload_id", upload.ID,
		"users", summary.UsersAnalyzed,
		"suspicious", summary.SuspiciousCount,
		"high", summary.TierCounts.High,
		"excluded", summary.ExcludedCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return summary, nil
}

// EvaluateUser scores one subscriber's events without touching the session.
// Every event is attributed to req.UserID.
func (s *Service) EvaluateUser(ctx context.Context, req domain.EventRequest) (*domain.Evaluation, error) {
	events := make([]domain.Event, len(req.Events))
	for i, ev := range req.Events {
		ev.UserID = req.UserID
		if ev.LoginStatus == "" {
			ev.LoginStatus = domain.LoginSuccess
		}
		events[i] = ev
	}

	summary, err := s.evaluator.Evaluate(ctx, batch.Input{Events: events})
	if err != nil {
		return nil, err
	}

	eval, ok := summary.Result(req.UserID)
	if !ok {
		reason := "no usable events"
		if len(summary.Excluded) > 0 {
			reason = summary.Excluded[0].Reason
		}
		return nil, fmt.Errorf("%w: %s", ErrNotEvaluable, reason)
	}
	return eval, nil
}

// publish announces completion and raises one alert per HIGH tier user.
// Bus failures are logged, never returned: the result is already stored.
func (s *Service) publish(ctx context.Context, requestID string, summary *domain.DatasetSummary) {
	if s.bus == nil {
		return
	}

	done := domain.AnalysisCompleted{
		RequestID:       requestID,
		AnalysisID:      summary.AnalysisID,
		UsersAnalyzed:   summary.UsersAnalyzed,
		SuspiciousCount: summary.SuspiciousCount,
		TierCounts:      summary.TierCounts,
	}
	if err := bus.PublishJSON(ctx, s.bus, domain.TopicAnalysisCompleted, done); err != nil {
		slog.Error("failed to publish analysis completion",
			"analysis_id", summary.AnalysisID,
			"error", err,
		)
	}

	for _, eval := range summary.Flagged {
		if eval.Tier != domain.TierHigh {
			continue
		}

		alert := domain.Alert{
			AnalysisID: summary.AnalysisID,
			UserID:     eval.UserID,
			RiskScore:  eval.RiskScore,
			Tier:       eval.Tier,
			Reasons:    eval.Reasons(),
		}
		if err := bus.PublishJSON(ctx, s.bus, domain.TopicAlert, alert); err != nil {
			slog.Error("failed to publish alert",
				"analysis_id", summary.AnalysisID,
				"user_id", eval.UserID,
				"error", err,
			)
			continue
		}
		metrics.AlertsPublished.Inc()
	}
}
