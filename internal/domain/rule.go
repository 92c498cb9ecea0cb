package domain

import (
	"time"
)

// Canonical rule names, in bank order.
const (
	RuleRecentSimChange       = "recent_sim_change"
	RuleDeviceChangeAfterSim  = "device_change_after_sim"
	RuleSuddenLocationChange  = "sudden_location_change"
	RuleAbnormalCellTower     = "abnormal_cell_tower_change"
	RuleAbnormalDataUsage     = "abnormal_data_usage"
	RuleAbnormalCallPattern   = "abnormal_call_pattern"
	RuleAbnormalSMSPattern    = "abnormal_sms_pattern"
	RuleFailedLoginAttempts   = "failed_login_attempts"
	RuleRoamingAfterSimChange = "roaming_after_sim_change"
)

// CanonicalRules lists the built-in rule names in evaluation order.
var CanonicalRules = []string{
	RuleRecentSimChange,
	RuleDeviceChangeAfterSim,
	RuleSuddenLocationChange,
	RuleAbnormalCellTower,
	RuleAbnormalDataUsage,
	RuleAbnormalCallPattern,
	RuleAbnormalSMSPattern,
	RuleFailedLoginAttempts,
	RuleRoamingAfterSimChange,
}

// RuleConfig defines an operator-supplied rule evaluated after the canonical bank.
// The expression is CEL over the snapshot and threshold variables and must
// return bool.
type RuleConfig struct {
	ID          string    `json:"id"`
	Name        string    `json:"name" validate:"required"`
	Description string    `json:"description"`
	Expression  string    `json:"expression" validate:"required"`
	Weight      int       `json:"weight" validate:"gt=0"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RuleHit records one triggered rule with its justification.
type RuleHit struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
	Weight int    `json:"weight"`
}
