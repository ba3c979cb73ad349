package models

import (
	"time"
)

// GapResult holds the profitability of buying the cheapest listing and
// relisting at the second cheapest, net of marketplace tax.
type GapResult struct {
	BuyPrice       int64
	SellPrice      int64
	Tax            int64
	SellAfterTax   int64
	RawProfit      int64
	ProfitAfterTax int64
	Percentage     float64
	Tier           ProfitTier
}

// ProfitTier grades a gap by its post-tax percentage.
type ProfitTier string

const (
	TierExcellent ProfitTier = "EXCELLENT"
	TierGood      ProfitTier = "GOOD"
	TierDecent    ProfitTier = "DECENT"
)

// PatternTag names one anomaly signature.
type PatternTag string

const (
	PatternExtremeOutlier          PatternTag = "extreme_outlier"
	PatternPopularCardManipulation PatternTag = "popular_card_manipulation"
	PatternRoundNumberClustering   PatternTag = "round_number_clustering"
	PatternIsolatedLowPrice        PatternTag = "isolated_low_price"
	PatternSequentialPricing       PatternTag = "sequential_pricing"
	PatternPopularCardGap          PatternTag = "popular_card_gap"

	PatternInsufficientData PatternTag = "insufficient_data"
	PatternNone             PatternTag = "none"
)

type AnomalyVerdict struct {
	Suspicious  bool
	Tags        []PatternTag
	PatternType PatternTag
	Confidence  int
}

// HasTag reports whether tag was matched.
func (v AnomalyVerdict) HasTag(tag PatternTag) bool {
	for _, t := range v.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Outcome is operator feedback on a sent alert.
type Outcome string

const (
	OutcomeValid Outcome = "valid_alert"
	OutcomeFake  Outcome = "fake_alert"
)

type ReliabilityRecord struct {
	ItemID                 string
	SuspiciousPatternCount int
	FakeAlertCount         int
	ValidAlertCount        int
	Score                  float64
	Blacklisted            bool
	LastSuspiciousAt       time.Time
	UpdatedAt              time.Time
}

// TotalOutcomes is the number of valid and fake outcomes recorded.
func (r *ReliabilityRecord) TotalOutcomes() int {
	return r.ValidAlertCount + r.FakeAlertCount
}

type CheckReason string

const (
	CheckOK             CheckReason = "ok"
	CheckBlacklisted    CheckReason = "blacklisted"
	CheckLowReliability CheckReason = "low_reliability"
	CheckError          CheckReason = "check_error"
)

// MonitorCheck tells the catalog whether an item should keep being monitored.
type MonitorCheck struct {
	Monitor bool
	Score   float64
	Reason  CheckReason
}

type DecisionKind string

const (
	DecisionAlert              DecisionKind = "alert"
	DecisionSuppress           DecisionKind = "suppress"
	DecisionBlacklistCandidate DecisionKind = "blacklist_candidate"
	DecisionExtinct            DecisionKind = "extinct"
	DecisionNone               DecisionKind = "none"
	DecisionSkipped            DecisionKind = "skipped"
)

// Decision is the record handed to the notification layer for one item and pass.
type Decision struct {
	ID          string
	Item        Item
	Kind        DecisionKind
	Alert       bool
	Gap         *GapResult
	Rejection   string
	Verdict     AnomalyVerdict
	Popular     bool
	Check       MonitorCheck
	Prices      []int64
	EvaluatedAt time.Time
}
