package domain

import (
	"time"
)

// Evaluation is the scored outcome for one user. It is immutable once produced.
type Evaluation struct {
	UserID         string    `json:"userId"`
	RiskScore      int       `json:"riskScore"`
	Tier           AlertTier `json:"tier"`
	TriggeredRules []RuleHit `json:"triggeredRules"`
	TotalTriggered int       `json:"totalTriggered"`
	PolicyVersion  string    `json:"policyVersion"`
	Snapshot       Snapshot  `json:"snapshot"`
}

// Suspicious reports whether at least one rule fired.
func (e *Evaluation) Suspicious() bool {
	return e.TotalTriggered > 0
}

// Reasons returns the explanations of the triggered rules in bank order.
func (e *Evaluation) Reasons() []string {
	reasons := make([]string, 0, len(e.TriggeredRules))
	for _, hit := range e.TriggeredRules {
		reasons = append(reasons, hit.Reason)
	}
	return reasons
}

// TierCounts is the number of users per alert tier.
type TierCounts struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// Add counts one user in the given tier.
func (c *TierCounts) Add(tier AlertTier) {
	switch tier {
	case TierLow:
		c.Low++
	case TierMedium:
		c.Medium++
	case TierHigh:
		c.High++
	}
}

// Exclusion records a user that could not be evaluated.
type Exclusion struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// DatasetSummary is the aggregate outcome of one batch analysis.
type DatasetSummary struct {
	AnalysisID    string    `json:"analysisId"`
	UploadID      string    `json:"uploadId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	PolicyVersion string    `json:"policyVersion"`

	TotalEvents     int        `json:"totalEvents"`
	UsersAnalyzed   int        `json:"usersAnalyzed"`
	TierCounts      TierCounts `json:"tierCounts"`
	SuspiciousCount int        `json:"suspiciousCount"`
	CleanCount      int        `json:"cleanCount"`

	ExcludedCount int         `json:"excludedCount"`
	Excluded      []Exclusion `json:"excluded,omitempty"`

	// Flagged holds suspicious users ordered by score descending, then user id.
	Flagged []Evaluation `json:"flagged"`
	// Results holds every evaluated user ordered by user id.
	Results []Evaluation `json:"results"`

	DurationMs int64 `json:"durationMs"`
}

// Result returns the evaluation for a user, if present.
func (s *DatasetSummary) Result(userID string) (*Evaluation, bool) {
	for i := range s.Results {
		if s.Results[i].UserID == userID {
			return &s.Results[i], true
		}
	}
	return nil, false
}

// AnalysisStatus is returned by the status endpoint.
type AnalysisStatus struct {
	HasUpload       bool       `json:"hasUpload"`
	HasAnalysis     bool       `json:"hasAnalysis"`
	UploadID        string     `json:"uploadId,omitempty"`
	UploadedAt      *time.Time `json:"uploadedAt,omitempty"`
	EventCount      int        `json:"eventCount"`
	AnalysisID      string     `json:"analysisId,omitempty"`
	AnalyzedAt      *time.Time `json:"analyzedAt,omitempty"`
	AnalysisCount   int64      `json:"analysisCount"`
	SuspiciousCount int        `json:"suspiciousCount"`
}
