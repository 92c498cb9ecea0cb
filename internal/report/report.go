// Package report renders analysis summaries for download.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/opensource-finance/simguard/internal/domain"
)

// Header is the column layout of the flagged-users report.
var Header = []string{
	"user_id",
	"risk_score",
	"alert_level",
	"rules_triggered",
	"triggered_rules",
	"reasons",
	"hours_since_sim_change",
	"previous_city",
	"current_city",
	"failed_logins_24h",
}

// WriteCSV writes one row per flagged user, highest score first.
func WriteCSV(w io.Writer, summary *domain.DatasetSummary) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	for _, e := range summary.Flagged {
		names := make([]string, 0, len(e.TriggeredRules))
		for _, h := range e.TriggeredRules {
			names = append(names, h.Rule)
		}

		row := []string{
			e.UserID,
			strconv.Itoa(e.RiskScore),
			string(e.Tier),
			strconv.Itoa(e.TotalTriggered),
			strings.Join(names, ";"),
			strings.Join(e.Reasons(), "; "),
			formatHours(e.Snapshot.HoursSinceSimChange),
			e.Snapshot.PreviousCity,
			e.Snapshot.CurrentCity,
			strconv.Itoa(e.Snapshot.FailedLogins24h),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write report row for %s: %w", e.UserID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Filename returns the suggested download name for a summary.
func Filename(summary *domain.DatasetSummary) string {
	return fmt.Sprintf("simguard_report_%s.csv", summary.CreatedAt.Format("20060102_150405"))
}

func formatHours(h float64) string {
	if h >= domain.NoChangeHours {
		return ""
	}
	return strconv.FormatFloat(h, 'f', 1, 64)
}
