package rules

import (
	"fmt"
	"math"

	"github.com/opensource-finance/simguard/internal/domain"
)

// Rule is a canonical rule descriptor: a CEL predicate over the snapshot and
// threshold variables plus a formatter for the justification text.
type Rule struct {
	Name       string
	Expression string
	Explain    func(ctx *ExplainContext) string
}

// ExplainContext carries everything an explanation may cite.
type ExplainContext struct {
	Snapshot *domain.Snapshot
	Policy   *domain.Policy
	Distance func(a, b string) float64
}

// BuiltinRules returns the canonical rule bank in evaluation order.
func BuiltinRules() []Rule {
	return []Rule{
		{
			Name:       domain.RuleRecentSimChange,
			Expression: `hours_since_sim_change <= sim_change_hours`,
			Explain: func(c *ExplainContext) string {
				return fmt.Sprintf("SIM changed %.1f hours ago (threshold %gh)",
					c.Snapshot.HoursSinceSimChange, c.Policy.Thresholds.SimChangeHours)
			},
		},
		{
			Name:       domain.RuleDeviceChangeAfterSim,
			Expression: `device_changed_after_sim && hours_between_sim_device_change <= device_change_window_hours`,
			Explain: func(c *ExplainContext) string {
				return fmt.Sprintf("Device changed %.1fh after SIM change (threshold %gh)",
					c.Snapshot.HoursBetweenSimDeviceChange, c.Policy.Thresholds.DeviceChangeWindowHours)
			},
		},
		{
			Name: domain.RuleSuddenLocationChange,
			Expression: `previous_city != "" && current_city != "" && previous_city != current_city &&
				distance(previous_city, current_city) >= location_distance_km &&
				(location_max_hours == 0.0 || hours_since_location_change <= location_max_hours)`,
			Explain: func(c *ExplainContext) string {
				s := c.Snapshot
				return fmt.Sprintf("Location changed %.2fkm (%s -> %s) %.1fh ago (threshold %gkm)",
					c.Distance(s.PreviousCity, s.CurrentCity), s.PreviousCity, s.CurrentCity,
					s.HoursSinceLocationChange, c.Policy.Thresholds.LocationDistanceKm)
			},
		},
		{
			Name:       domain.RuleAbnormalCellTower,
			Expression: `cell_tower_changes_24h >= cell_tower_changes`,
			Explain: func(c *ExplainContext) string {
				return fmt.Sprintf("%d cell tower changes in 24h (threshold %d)",
					c.Snapshot.CellTowerChanges24h, c.Policy.Thresholds.CellTowerChanges)
			},
		},
		{
			Name: domain.RuleAbnormalDataUsage,
			Expression: `pct_change(previous_data_usage_mb, current_data_usage_mb) >= data_increase_pct ||
				pct_change(previous_data_usage_mb, current_data_usage_mb) <= -data_decrease_pct`,
			Explain: func(c *ExplainContext) string {
				s := c.Snapshot
				return fmt.Sprintf("Data usage %s (%gMB -> %gMB)",
					describeChange(s.PreviousDataUsageMB, s.CurrentDataUsageMB), s.PreviousDataUsageMB, s.CurrentDataUsageMB)
			},
		},
		{
			Name: domain.RuleAbnormalCallPattern,
			Expression: `pct_change(double(previous_calls_24h), double(current_calls_24h)) >= call_increase_pct ||
				pct_change(double(previous_calls_24h), double(current_calls_24h)) <= -call_decrease_pct`,
			Explain: func(c *ExplainContext) string {
				s := c.Snapshot
				return fmt.Sprintf("Calls %s (%d -> %d calls)",
					describeChange(float64(s.PreviousCalls24h), float64(s.CurrentCalls24h)), s.PreviousCalls24h, s.CurrentCalls24h)
			},
		},
		{
			Name: domain.RuleAbnormalSMSPattern,
			Expression: `pct_change(double(previous_sms_24h), double(current_sms_24h)) >= sms_increase_pct ||
				pct_change(double(previous_sms_24h), double(current_sms_24h)) <= -sms_decrease_pct`,
			Explain: func(c *ExplainContext) string {
				s := c.Snapshot
				return fmt.Sprintf("SMS %s (%d -> %d messages)",
					describeChange(float64(s.PreviousSMS24h), float64(s.CurrentSMS24h)), s.PreviousSMS24h, s.CurrentSMS24h)
			},
		},
		{
			Name:       domain.RuleFailedLoginAttempts,
			Expression: `failed_logins_24h >= failed_logins`,
			Explain: func(c *ExplainContext) string {
				return fmt.Sprintf("%d failed login attempts in 24h (threshold %d)",
					c.Snapshot.FailedLogins24h, c.Policy.Thresholds.FailedLogins)
			},
		},
		{
			Name:       domain.RuleRoamingAfterSimChange,
			Expression: `is_roaming && hours_since_sim_change <= roaming_window_hours`,
			Explain: func(c *ExplainContext) string {
				return fmt.Sprintf("Roaming %.1fh after SIM change (threshold %gh)",
					c.Snapshot.HoursSinceSimChange, c.Policy.Thresholds.RoamingWindowHours)
			},
		},
	}
}

// PercentageChange returns the relative change from prev to curr in percent.
// A zero baseline yields 0 when curr is also zero and 100 otherwise.
func PercentageChange(prev, curr float64) float64 {
	if prev == 0 {
		if curr == 0 {
			return 0
		}
		return 100
	}
	return (curr - prev) / prev * 100
}

func describeChange(prev, curr float64) string {
	pct := PercentageChange(prev, curr)
	if pct < 0 {
		return fmt.Sprintf("decreased %.1f%%", math.Abs(pct))
	}
	return fmt.Sprintf("increased %.1f%%", pct)
}
