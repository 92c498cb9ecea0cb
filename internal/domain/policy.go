package domain

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPolicy is returned when a policy fails validation.
var ErrInvalidPolicy = errors.New("invalid policy")

var validate = validator.New()

// AlertTier is the banded classification of a risk score.
type AlertTier string

const (
	TierLow    AlertTier = "LOW"
	TierMedium AlertTier = "MEDIUM"
	TierHigh   AlertTier = "HIGH"
)

// Policy is the single source of truth for rule thresholds, rule weights and
// tier bands. It is versioned so every evaluation can name the policy it used.
type Policy struct {
	Version    string         `json:"version" koanf:"version" validate:"required"`
	Thresholds Thresholds     `json:"thresholds" koanf:"thresholds"`
	Weights    map[string]int `json:"weights" koanf:"weights" validate:"dive,gt=0"`
	Tiers      TierBands      `json:"tiers" koanf:"tiers"`

	// FallbackDistanceKm is reported by the distance oracle when either city
	// is missing from its table.
	FallbackDistanceKm float64 `json:"fallbackDistanceKm" koanf:"fallback_distance_km" validate:"gte=0"`
}

// Thresholds holds every numeric limit used by the canonical rule bank.
// Hour thresholds must stay below NoChangeHours.
type Thresholds struct {
	SimChangeHours          float64 `json:"simChangeHours" koanf:"sim_change_hours" validate:"gt=0,lt=999"`
	DeviceChangeWindowHours float64 `json:"deviceChangeWindowHours" koanf:"device_change_window_hours" validate:"gt=0,lt=999"`
	LocationDistanceKm      float64 `json:"locationDistanceKm" koanf:"location_distance_km" validate:"gt=0"`
	// LocationMaxHours additionally bounds how recent a location change must
	// be. Zero disables the check.
	LocationMaxHours   float64 `json:"locationMaxHours" koanf:"location_max_hours" validate:"gte=0,lt=999"`
	CellTowerChanges   int     `json:"cellTowerChanges" koanf:"cell_tower_changes" validate:"gt=0"`
	DataIncreasePct    float64 `json:"dataIncreasePct" koanf:"data_increase_pct" validate:"gt=0"`
	DataDecreasePct    float64 `json:"dataDecreasePct" koanf:"data_decrease_pct" validate:"gt=0,lte=100"`
	CallIncreasePct    float64 `json:"callIncreasePct" koanf:"call_increase_pct" validate:"gt=0"`
	CallDecreasePct    float64 `json:"callDecreasePct" koanf:"call_decrease_pct" validate:"gt=0,lte=100"`
	SMSIncreasePct     float64 `json:"smsIncreasePct" koanf:"sms_increase_pct" validate:"gt=0"`
	SMSDecreasePct     float64 `json:"smsDecreasePct" koanf:"sms_decrease_pct" validate:"gt=0,lte=100"`
	FailedLogins       int     `json:"failedLogins" koanf:"failed_logins" validate:"gt=0"`
	RoamingWindowHours float64 `json:"roamingWindowHours" koanf:"roaming_window_hours" validate:"gt=0,lt=999"`
}

// TierBands maps scores to tiers: [0, LowMax] is LOW, (LowMax, MediumMax]
// is MEDIUM and anything above is HIGH.
type TierBands struct {
	LowMax    int `json:"lowMax" koanf:"low_max" validate:"gte=0"`
	MediumMax int `json:"mediumMax" koanf:"medium_max" validate:"gtfield=LowMax"`
}

// DefaultWeights are the canonical rule weights.
var DefaultWeights = map[string]int{
	RuleRecentSimChange:       20,
	RuleDeviceChangeAfterSim:  25,
	RuleSuddenLocationChange:  15,
	RuleAbnormalCellTower:     10,
	RuleAbnormalDataUsage:     10,
	RuleAbnormalCallPattern:   8,
	RuleAbnormalSMSPattern:    7,
	RuleFailedLoginAttempts:   20,
	RuleRoamingAfterSimChange: 15,
}

// DefaultFallbackDistanceKm is the distance assumed between unknown cities.
const DefaultFallbackDistanceKm = 150.0

// DefaultPolicy returns the canonical thresholds, weights and bands.
func DefaultPolicy() Policy {
	weights := make(map[string]int, len(DefaultWeights))
	for k, v := range DefaultWeights {
		weights[k] = v
	}

	return Policy{
		Version: "v1",
		Thresholds: Thresholds{
			SimChangeHours:          72,
			DeviceChangeWindowHours: 48,
			LocationDistanceKm:      100,
			LocationMaxHours:        0,
			CellTowerChanges:        5,
			DataIncreasePct:         200,
			DataDecreasePct:         80,
			CallIncreasePct:         300,
			CallDecreasePct:         90,
			SMSIncreasePct:          300,
			SMSDecreasePct:          90,
			FailedLogins:            3,
			RoamingWindowHours:      24,
		},
		Weights: weights,
		Tiers: TierBands{
			LowMax:    30,
			MediumMax: 60,
		},
		FallbackDistanceKm: DefaultFallbackDistanceKm,
	}
}

// Validate checks the policy invariants.
func (p *Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return nil
}

// Weight returns the configured weight for a rule, falling back to the
// canonical weight when the policy does not override it.
func (p *Policy) Weight(rule string) int {
	if w, ok := p.Weights[rule]; ok {
		return w
	}
	return DefaultWeights[rule]
}

// TierFor maps a risk score to its alert tier.
func (p *Policy) TierFor(score int) AlertTier {
	switch {
	case score <= p.Tiers.LowMax:
		return TierLow
	case score <= p.Tiers.MediumMax:
		return TierMedium
	default:
		return TierHigh
	}
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	weights := make(map[string]int, len(p.Weights))
	for k, v := range p.Weights {
		weights[k] = v
	}
	p.Weights = weights
	return p
}
