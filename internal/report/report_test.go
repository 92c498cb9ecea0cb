package report

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/opensource-finance/simguard/internal/domain"
)

func TestWriteCSV(t *testing.T) {
	snap := domain.NewSnapshot("u1")
	snap.HoursSinceSimChange = 10
	snap.PreviousCity, snap.CurrentCity = "Colombo", "Jaffna"

	summary := &domain.DatasetSummary{
		CreatedAt: time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC),
		Flagged: []domain.Evaluation{
			{
				UserID:    "u1",
				RiskScore: 35,
				Tier:      domain.TierMedium,
				TriggeredRules: []domain.RuleHit{
					{Rule: domain.RuleRecentSimChange, Reason: "SIM changed 10.0 hours ago (threshold 72h)", Weight: 20},
					{Rule: domain.RuleSuddenLocationChange, Reason: "Location changed", Weight: 15},
				},
				TotalTriggered: 2,
				Snapshot:       snap,
			},
			{
				UserID:         "u2",
				RiskScore:      20,
				Tier:           domain.TierLow,
				TriggeredRules: []domain.RuleHit{{Rule: domain.RuleFailedLoginAttempts, Reason: "4 failed", Weight: 20}},
				TotalTriggered: 1,
				Snapshot:       domain.NewSnapshot("u2"),
			},
		},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("report is not valid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}

	row := records[1]
	if row[0] != "u1" || row[1] != "35" || row[2] != "MEDIUM" || row[3] != "2" {
		t.Errorf("unexpected row %v", row)
	}
	if row[4] != "recent_sim_change;sudden_location_change" {
		t.Errorf("unexpected rule list %q", row[4])
	}
	if row[6] != "10.0" || row[7] != "Colombo" || row[8] != "Jaffna" {
		t.Errorf("unexpected snapshot columns %v", row[6:9])
	}
	if records[2][6] != "" {
		t.Errorf("sentinel hours should render empty, got %q", records[2][6])
	}

	if got := Filename(summary); got != "simguard_report_20240701_093000.csv" {
		t.Errorf("unexpected filename %s", got)
	}
}
