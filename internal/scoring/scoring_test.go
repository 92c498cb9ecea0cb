package scoring

import (
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/features"
	"github.com/opensource-finance/simguard/internal/rules"
)

func newScorer(t *testing.T, policy domain.Policy) *Scorer {
	t.Helper()
	engine, err := rules.NewEngine(policy, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return NewScorer(engine.Bank())
}

func TestScoreClean(t *testing.T) {
	s := newScorer(t, domain.DefaultPolicy())

	eval := s.Score(domain.NewSnapshot("u1"))
	if eval.RiskScore != 0 {
		t.Errorf("expected score 0, got %d", eval.RiskScore)
	}
	if eval.Tier != domain.TierLow {
		t.Errorf("expected LOW, got %s", eval.Tier)
	}
	if eval.TriggeredRules == nil || len(eval.TriggeredRules) != 0 {
		t.Errorf("expected empty non-nil rule list, got %v", eval.TriggeredRules)
	}
	if eval.PolicyVersion != "v1" {
		t.Errorf("expected policy v1, got %s", eval.PolicyVersion)
	}
}

func TestScoreSumsWeights(t *testing.T) {
	s := newScorer(t, domain.DefaultPolicy())

	snap := domain.NewSnapshot("u1")
	snap.HoursSinceSimChange = 5
	snap.DeviceChangedAfterSim = true
	snap.HoursBetweenSimDeviceChange = 2
	snap.IsRoaming = true
	snap.FailedLogins24h = 6

	eval := s.Score(snap)

	// 20 + 25 + 20 + 15
	if eval.RiskScore != 80 {
		t.Errorf("expected score 80, got %d", eval.RiskScore)
	}
	if eval.Tier != domain.TierHigh {
		t.Errorf("expected HIGH, got %s", eval.Tier)
	}
	if eval.TotalTriggered != 4 || len(eval.TriggeredRules) != 4 {
		t.Errorf("expected 4 triggered rules, got %d", eval.TotalTriggered)
	}
	if eval.Snapshot.UserID != "u1" {
		t.Error("evaluation should carry the snapshot")
	}
}

func TestScoreIsPure(t *testing.T) {
	s := newScorer(t, domain.DefaultPolicy())

	snap := domain.NewSnapshot("u1")
	snap.HoursSinceSimChange = 3
	snap.DeviceChangedAfterSim = true
	snap.HoursBetweenSimDeviceChange = 1
	snap.PreviousCity, snap.CurrentCity = "Colombo", "Jaffna"
	snap.CellTowerChanges24h = 9
	snap.PreviousDataUsageMB, snap.CurrentDataUsageMB = 100, 900
	snap.FailedLogins24h = 4

	first := s.Score(snap)
	second := s.Score(snap)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("scoring the same snapshot twice differed:\n%+v\n%+v", first, second)
	}
	if first.TotalTriggered == 0 {
		t.Error("expected the snapshot to trigger rules")
	}
}

func TestScoreMonotonic(t *testing.T) {
	s := newScorer(t, domain.DefaultPolicy())

	steps := []func(*domain.Snapshot){
		func(sn *domain.Snapshot) { sn.CellTowerChanges24h = 7 },
		func(sn *domain.Snapshot) { sn.FailedLogins24h = 3 },
		func(sn *domain.Snapshot) { sn.HoursSinceSimChange = 1 },
		func(sn *domain.Snapshot) { sn.IsRoaming = true },
		func(sn *domain.Snapshot) { sn.PreviousSMS24h, sn.CurrentSMS24h = 1, 40 },
	}

	snap := domain.NewSnapshot("u1")
	prev := s.Score(snap)
	for i, step := range steps {
		step(&snap)
		next := s.Score(snap)
		if next.RiskScore < prev.RiskScore || next.TotalTriggered <= prev.TotalTriggered {
			t.Fatalf("step %d: score went from %d to %d", i, prev.RiskScore, next.RiskScore)
		}
		prev = next
	}
}

func TestScoreUsesPolicyBands(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.Tiers = domain.TierBands{LowMax: 10, MediumMax: 19}
	s := newScorer(t, policy)

	snap := domain.NewSnapshot("u1")
	snap.FailedLogins24h = 3

	if eval := s.Score(snap); eval.Tier != domain.TierHigh {
		t.Errorf("score 20 with medium max 19 should be HIGH, got %s", eval.Tier)
	}
}

// The scenarios below run the full aggregate-then-score path.

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func event(h float64, sim, device, city string) domain.Event {
	return domain.Event{
		Timestamp:   base.Add(time.Duration(h * float64(time.Hour))),
		UserID:      "u1",
		SimID:       sim,
		DeviceID:    device,
		Location:    city,
		LoginStatus: domain.LoginSuccess,
	}
}

func scoreEvents(t *testing.T, events []domain.Event) domain.Evaluation {
	t.Helper()
	policy := domain.DefaultPolicy()
	snap, err := features.NewAggregator(policy.Thresholds).Aggregate("u1", events)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	return newScorer(t, policy).Score(snap)
}

func TestScenarioSimSwapThenDevice(t *testing.T) {
	eval := scoreEvents(t, []domain.Event{
		event(-1, "simA", "devX", "Colombo"),
		event(0, "simB", "devX", "Colombo"),
		event(10, "simB", "devY", "Colombo"),
	})

	if eval.RiskScore != 45 {
		t.Errorf("expected score 45, got %d", eval.RiskScore)
	}
	if eval.Tier != domain.TierMedium {
		t.Errorf("expected MEDIUM, got %s", eval.Tier)
	}
	if eval.TotalTriggered != 2 ||
		eval.TriggeredRules[0].Rule != domain.RuleRecentSimChange ||
		eval.TriggeredRules[1].Rule != domain.RuleDeviceChangeAfterSim {
		t.Errorf("unexpected rules %+v", eval.TriggeredRules)
	}
}

func TestScenarioDistantLocation(t *testing.T) {
	eval := scoreEvents(t, []domain.Event{
		event(0, "s1", "d1", "Colombo"),
		event(1, "s1", "d1", "Jaffna"),
	})

	if eval.TotalTriggered != 1 || eval.TriggeredRules[0].Rule != domain.RuleSuddenLocationChange {
		t.Fatalf("expected only sudden_location_change, got %+v", eval.TriggeredRules)
	}
	if eval.RiskScore != 15 || eval.Tier != domain.TierLow {
		t.Errorf("expected 15/LOW, got %d/%s", eval.RiskScore, eval.Tier)
	}
}

func TestScenarioFailedLogins(t *testing.T) {
	var events []domain.Event
	for i := 0; i < 4; i++ {
		e := event(float64(i), "s1", "d1", "Kandy")
		e.LoginStatus = domain.LoginFailed
		events = append(events, e)
	}

	eval := scoreEvents(t, events)
	if eval.RiskScore != 20 || eval.Tier != domain.TierLow {
		t.Errorf("expected 20/LOW, got %d/%s", eval.RiskScore, eval.Tier)
	}
}

func TestScenarioUnknownCity(t *testing.T) {
	eval := scoreEvents(t, []domain.Event{
		event(0, "s1", "d1", "Colombo"),
		event(1, "s1", "d1", "Atlantis"),
	})

	if eval.TotalTriggered != 1 || eval.TriggeredRules[0].Rule != domain.RuleSuddenLocationChange {
		t.Errorf("fallback distance should trigger the location rule, got %+v", eval.TriggeredRules)
	}
}
