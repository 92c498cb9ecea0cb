// Package batch evaluates a whole activity dataset, one user at a time.
package batch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/features"
	"github.com/opensource-finance/simguard/internal/rules"
	"github.com/opensource-finance/simguard/internal/scoring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrMissingUserID rejects a batch containing an event without a user id.
var ErrMissingUserID = errors.New("event has no user id")

var tracer = otel.Tracer("simguard-batch")

// Input is a dataset to evaluate.
type Input struct {
	Events []domain.Event

	// Users optionally declares users known to the dataset even if none of
	// their events survived parsing. Such users are reported as excluded.
	Users []string
}

// Evaluator partitions events by user and scores each user on a bounded
// worker pool.
type Evaluator struct {
	engine     *rules.Engine
	maxWorkers int
}

// NewEvaluator creates a batch evaluator.
func NewEvaluator(engine *rules.Engine, maxWorkers int) *Evaluator {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Evaluator{
		engine:     engine,
		maxWorkers: maxWorkers,
	}
}

type outcome struct {
	eval      domain.Evaluation
	excluded  bool
	exclusion domain.Exclusion
}

// Evaluate scores every user in the dataset. A structurally invalid batch is
// rejected as a whole; per-user failures become exclusions.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*domain.DatasetSummary, error) {
	ctx, span := tracer.Start(ctx, "batch.Evaluate")
	defer span.End()

	start := time.Now()

	groups := make(map[string][]domain.Event)
	for i := range in.Events {
		uid := in.Events[i].UserID
		if strings.TrimSpace(uid) == "" {
			err := fmt.Errorf("event %d: %w", i, ErrMissingUserID)
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid batch")
			return nil, err
		}
		groups[uid] = append(groups[uid], in.Events[i])
	}
	for _, uid := range in.Users {
		if strings.TrimSpace(uid) == "" {
			continue
		}
		if _, ok := groups[uid]; !ok {
			groups[uid] = nil
		}
	}

	users := make([]string, 0, len(groups))
	for uid := range groups {
		users = append(users, uid)
	}
	slices.Sort(users)

	// Pin one bank for the whole batch.
	bank := e.engine.Bank()
	policy := bank.Policy()
	aggregator := features.NewAggregator(policy.Thresholds)
	scorer := scoring.NewScorer(bank)

	outcomes := make([]outcome, len(users))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, uid := range users {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(idx int, userID string) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			outcomes[idx] = evaluateUser(aggregator, scorer, userID, groups[userID])
		}(i, uid)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, fmt.Errorf("batch evaluation cancelled: %w", err)
	}

	summary := fold(outcomes)
	summary.AnalysisID = uuid.New().String()
	summary.CreatedAt = time.Now().UTC()
	summary.PolicyVersion = scorer.PolicyVersion()
	summary.TotalEvents = len(in.Events)
	summary.DurationMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.String("analysis.id", summary.AnalysisID),
		attribute.Int("analysis.events", summary.TotalEvents),
		attribute.Int("analysis.users", summary.UsersAnalyzed),
		attribute.Int("analysis.excluded", summary.ExcludedCount),
		attribute.Int("analysis.high", summary.TierCounts.High),
	)

	slog.Debug("batch evaluated",
		"analysis_id", summary.AnalysisID,
		"events", summary.TotalEvents,
		"users", summary.UsersAnalyzed,
		"excluded", summary.ExcludedCount,
		"duration_ms", summary.DurationMs,
	)

	return summary, nil
}

func evaluateUser(agg *features.Aggregator, scorer *scoring.Scorer, userID string, events []domain.Event) outcome {
	if len(events) == 0 {
		return outcome{
			excluded:  true,
			exclusion: domain.Exclusion{UserID: userID, Reason: "no usable events"},
		}
	}

	snap, err := agg.Aggregate(userID, events)
	if err != nil {
		return outcome{
			excluded:  true,
			exclusion: domain.Exclusion{UserID: userID, Reason: err.Error()},
		}
	}

	return outcome{eval: scorer.Score(snap)}
}

// fold combines per-user outcomes, already in user id order, into a summary.
func fold(outcomes []outcome) *domain.DatasetSummary {
	summary := &domain.DatasetSummary{
		Flagged: []domain.Evaluation{},
		Results: []domain.Evaluation{},
	}

	for _, o := range outcomes {
		if o.excluded {
			summary.Excluded = append(summary.Excluded, o.exclusion)
			summary.ExcludedCount++
			continue
		}

		summary.Results = append(summary.Results, o.eval)
		summary.TierCounts.Add(o.eval.Tier)
		if o.eval.Suspicious() {
			summary.SuspiciousCount++
			summary.Flagged = append(summary.Flagged, o.eval)
		} else {
			summary.CleanCount++
		}
	}

	summary.UsersAnalyzed = len(summary.Results)

	slices.SortStableFunc(summary.Flagged, func(a, b domain.Evaluation) int {
		if c := cmp.Compare(b.RiskScore, a.RiskScore); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})

	return summary
}
