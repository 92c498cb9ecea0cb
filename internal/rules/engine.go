// Package rules provides the CEL-Go based rule bank for SIM-swap scoring.
package rules

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/geo"
)

// Engine holds the active rule bank and swaps it atomically on reload.
type Engine struct {
	mu   sync.RWMutex
	bank *Bank
}

// Bank is an immutable, compiled rule set bound to one policy version.
type Bank struct {
	policy domain.Policy
	oracle *geo.Oracle
	env    *cel.Env
	rules  []*CompiledRule
	custom []*domain.RuleConfig
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Name       string
	Expression string
	Weight     int
	Builtin    bool
	Config     *domain.RuleConfig
	Program    cel.Program

	explain func(*ExplainContext) string
}

// RuleInfo describes a loaded rule for listing.
type RuleInfo struct {
	Name        string `json:"name"`
	Expression  string `json:"expression"`
	Weight      int    `json:"weight"`
	Builtin     bool   `json:"builtin"`
	Description string `json:"description,omitempty"`
}

// NewEngine creates an engine with the canonical rules followed by the
// enabled custom rules.
func NewEngine(policy domain.Policy, custom []*domain.RuleConfig) (*Engine, error) {
	bank, err := NewBank(policy, custom)
	if err != nil {
		return nil, err
	}
	return &Engine{bank: bank}, nil
}

// Bank returns the active bank. Callers may keep using it after a reload.
func (e *Engine) Bank() *Bank {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bank
}

// Policy returns a copy of the active policy.
func (e *Engine) Policy() domain.Policy {
	return e.Bank().Policy()
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	return len(e.Bank().rules)
}

// ValidateRule compiles a custom rule against the active environment without
// loading it.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.Bank().compileCustom(cfg)
	return err
}

// UpdatePolicy rebuilds the bank with a new policy, keeping the custom rules.
func (e *Engine) UpdatePolicy(policy domain.Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	bank, err := NewBank(policy, e.bank.custom)
	if err != nil {
		return err
	}
	e.bank = bank
	return nil
}

// ReloadRules clears all custom rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(custom []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	bank, err := NewBank(e.bank.policy, custom)
	if err != nil {
		return err
	}
	e.bank = bank
	return nil
}

// NewBank validates the policy and compiles the rule set.
func NewBank(policy domain.Policy, custom []*domain.RuleConfig) (*Bank, error) {
	policy = policy.Clone()
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	oracle := geo.NewOracle(policy.FallbackDistanceKm)
	env, err := newEnv(oracle)
	if err != nil {
		return nil, err
	}

	b := &Bank{
		policy: policy,
		oracle: oracle,
		env:    env,
	}

	for _, r := range BuiltinRules() {
		program, err := b.compile(r.Name, r.Expression)
		if err != nil {
			return nil, err
		}
		b.rules = append(b.rules, &CompiledRule{
			Name:       r.Name,
			Expression: r.Expression,
			Weight:     policy.Weight(r.Name),
			Builtin:    true,
			Program:    program,
			explain:    r.Explain,
		})
	}

	for _, cfg := range custom {
		if cfg == nil || !cfg.Enabled {
			continue
		}
		compiled, err := b.compileCustom(cfg)
		if err != nil {
			return nil, err
		}
		b.rules = append(b.rules, compiled)
		b.custom = append(b.custom, cfg)
	}

	return b, nil
}

// Policy returns a copy of the bank's policy.
func (b *Bank) Policy() domain.Policy {
	return b.policy.Clone()
}

// PolicyVersion returns the version of the bank's policy.
func (b *Bank) PolicyVersion() string {
	return b.policy.Version
}

// TierFor maps a risk score to a tier using the bank's bands.
func (b *Bank) TierFor(score int) domain.AlertTier {
	return b.policy.TierFor(score)
}

// Oracle returns the distance oracle bound into the bank.
func (b *Bank) Oracle() *geo.Oracle {
	return b.oracle
}

// Rules describes the loaded rules in evaluation order.
func (b *Bank) Rules() []RuleInfo {
	out := make([]RuleInfo, 0, len(b.rules))
	for _, r := range b.rules {
		info := RuleInfo{
			Name:       r.Name,
			Expression: r.Expression,
			Weight:     r.Weight,
			Builtin:    r.Builtin,
		}
		if r.Config != nil {
			info.Description = r.Config.Description
		}
		out = append(out, info)
	}
	return out
}

// Evaluate runs every rule in bank order against the snapshot and returns
// the triggered ones with their justifications.
func (b *Bank) Evaluate(snap *domain.Snapshot) []domain.RuleHit {
	activation := b.activation(snap)
	ec := &ExplainContext{
		Snapshot: snap,
		Policy:   &b.policy,
		Distance: b.oracle.Distance,
	}

	var hits []domain.RuleHit
	for _, r := range b.rules {
		out, _, err := r.Program.Eval(activation)
		if err != nil {
			slog.Warn("rule evaluation failed",
				"rule", r.Name,
				"user_id", snap.UserID,
				"error", err,
			)
			continue
		}

		if matched, ok := out.(types.Bool); !ok || !bool(matched) {
			continue
		}

		hits = append(hits, domain.RuleHit{
			Rule:   r.Name,
			Reason: r.explain(ec),
			Weight: r.Weight,
		})
	}

	return hits
}

func (b *Bank) activation(s *domain.Snapshot) map[string]any {
	t := &b.policy.Thresholds
	return map[string]any{
		"user_id":                         s.UserID,
		"event_count":                     int64(s.EventCount),
		"hours_since_sim_change":          s.HoursSinceSimChange,
		"device_changed_after_sim":        s.DeviceChangedAfterSim,
		"hours_between_sim_device_change": s.HoursBetweenSimDeviceChange,
		"previous_city":                   s.PreviousCity,
		"current_city":                    s.CurrentCity,
		"hours_since_location_change":     s.HoursSinceLocationChange,
		"failed_logins_24h":               int64(s.FailedLogins24h),
		"is_roaming":                      s.IsRoaming,
		"cell_tower_changes_24h":          int64(s.CellTowerChanges24h),
		"previous_data_usage_mb":          s.PreviousDataUsageMB,
		"current_data_usage_mb":           s.CurrentDataUsageMB,
		"previous_calls_24h":              int64(s.PreviousCalls24h),
		"current_calls_24h":               int64(s.CurrentCalls24h),
		"previous_sms_24h":                int64(s.PreviousSMS24h),
		"current_sms_24h":                 int64(s.CurrentSMS24h),

		"sim_change_hours":           t.SimChangeHours,
		"device_change_window_hours": t.DeviceChangeWindowHours,
		"location_distance_km":       t.LocationDistanceKm,
		"location_max_hours":         t.LocationMaxHours,
		"cell_tower_changes":         int64(t.CellTowerChanges),
		"data_increase_pct":          t.DataIncreasePct,
		"data_decrease_pct":          t.DataDecreasePct,
		"call_increase_pct":          t.CallIncreasePct,
		"call_decrease_pct":          t.CallDecreasePct,
		"sms_increase_pct":           t.SMSIncreasePct,
		"sms_decrease_pct":           t.SMSDecreasePct,
		"failed_logins":              int64(t.FailedLogins),
		"roaming_window_hours":       t.RoamingWindowHours,
	}
}

func (b *Bank) compileCustom(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	for _, name := range domain.CanonicalRules {
		if cfg.Name == name {
			return nil, fmt.Errorf("rule %s: name collides with a built-in rule", cfg.Name)
		}
	}
	if cfg.Weight <= 0 {
		return nil, fmt.Errorf("rule %s: weight must be positive, got %d", cfg.Name, cfg.Weight)
	}

	program, err := b.compile(cfg.Name, cfg.Expression)
	if err != nil {
		return nil, err
	}

	reason := cfg.Description
	if reason == "" {
		reason = fmt.Sprintf("custom rule %s matched", cfg.Name)
	}

	return &CompiledRule{
		Name:       cfg.Name,
		Expression: cfg.Expression,
		Weight:     cfg.Weight,
		Config:     cfg,
		Program:    program,
		explain:    func(*ExplainContext) string { return reason },
	}, nil
}

func (b *Bank) compile(name, expr string) (cel.Program, error) {
	ast, issues := b.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", name, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", name, ast.OutputType())
	}

	program, err := b.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", name, err)
	}
	return program, nil
}

func newEnv(oracle *geo.Oracle) (*cel.Env, error) {
	env, err := cel.NewEnv(
		// Snapshot variables
		cel.Variable("user_id", cel.StringType),
		cel.Variable("event_count", cel.IntType),
		cel.Variable("hours_since_sim_change", cel.DoubleType),
		cel.Variable("device_changed_after_sim", cel.BoolType),
		cel.Variable("hours_between_sim_device_change", cel.DoubleType),
		cel.Variable("previous_city", cel.StringType),
		cel.Variable("current_city", cel.StringType),
		cel.Variable("hours_since_location_change", cel.DoubleType),
		cel.Variable("failed_logins_24h", cel.IntType),
		cel.Variable("is_roaming", cel.BoolType),
		cel.Variable("cell_tower_changes_24h", cel.IntType),
		cel.Variable("previous_data_usage_mb", cel.DoubleType),
		cel.Variable("current_data_usage_mb", cel.DoubleType),
		cel.Variable("previous_calls_24h", cel.IntType),
		cel.Variable("current_calls_24h", cel.IntType),
		cel.Variable("previous_sms_24h", cel.IntType),
		cel.Variable("current_sms_24h", cel.IntType),

		// Policy thresholds
		cel.Variable("sim_change_hours", cel.DoubleType),
		cel.Variable("device_change_window_hours", cel.DoubleType),
		cel.Variable("location_distance_km", cel.DoubleType),
		cel.Variable("location_max_hours", cel.DoubleType),
		cel.Variable("cell_tower_changes", cel.IntType),
		cel.Variable("data_increase_pct", cel.DoubleType),
		cel.Variable("data_decrease_pct", cel.DoubleType),
		cel.Variable("call_increase_pct", cel.DoubleType),
		cel.Variable("call_decrease_pct", cel.DoubleType),
		cel.Variable("sms_increase_pct", cel.DoubleType),
		cel.Variable("sms_decrease_pct", cel.DoubleType),
		cel.Variable("failed_logins", cel.IntType),
		cel.Variable("roaming_window_hours", cel.DoubleType),

		cel.Function("distance",
			cel.Overload("distance_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.DoubleType,
				cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
					a, okA := lhs.(types.String)
					b, okB := rhs.(types.String)
					if !okA || !okB {
						return types.NewErr("distance: expected string arguments")
					}
					return types.Double(oracle.Distance(string(a), string(b)))
				}),
			),
		),
		cel.Function("pct_change",
			cel.Overload("pct_change_double_double",
				[]*cel.Type{cel.DoubleType, cel.DoubleType},
				cel.DoubleType,
				cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
					prev, okP := lhs.(types.Double)
					curr, okC := rhs.(types.Double)
					if !okP || !okC {
						return types.NewErr("pct_change: expected double arguments")
					}
					return types.Double(PercentageChange(float64(prev), float64(curr)))
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}
