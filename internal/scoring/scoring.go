// Package scoring turns triggered rules into a risk score and alert tier.
package scoring

import (
	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/rules"
)

// Scorer evaluates snapshots against one compiled rule bank.
type Scorer struct {
	bank *rules.Bank
}

// NewScorer creates a scorer pinned to a bank. Pinning keeps every user of a
// batch on the same policy version even if the engine reloads meanwhile.
func NewScorer(bank *rules.Bank) *Scorer {
	return &Scorer{bank: bank}
}

// PolicyVersion returns the version of the policy used for scoring.
func (s *Scorer) PolicyVersion() string {
	return s.bank.PolicyVersion()
}

// Score evaluates the rule bank and assembles the user's evaluation.
// The risk score is the sum of the weights of the triggered rules.
func (s *Scorer) Score(snap domain.Snapshot) domain.Evaluation {
	hits := s.bank.Evaluate(&snap)

	score := 0
	for _, h := range hits {
		score += h.Weight
	}

	if hits == nil {
		hits = []domain.RuleHit{}
	}

	return domain.Evaluation{
		UserID:         snap.UserID,
		RiskScore:      score,
		Tier:           s.bank.TierFor(score),
		TriggeredRules: hits,
		TotalTriggered: len(hits),
		PolicyVersion:  s.bank.PolicyVersion(),
		Snapshot:       snap,
	}
}
