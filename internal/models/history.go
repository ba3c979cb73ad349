package models

import "time"

// InitialReliabilityScore is the score of an item with no recorded outcomes.
const InitialReliabilityScore = 100.0

// NewReliabilityRecord returns the record an item starts with before any
// outcome or suspicious pattern has been recorded.
func NewReliabilityRecord(itemID string) *ReliabilityRecord {
	return &ReliabilityRecord{ItemID: itemID, Score: InitialReliabilityScore}
}

// Alert is a notification that was actually delivered for an item.
type Alert struct {
	ID             string
	ItemID         string
	Kind           DecisionKind
	BuyPrice       int64
	SellPrice      int64
	ProfitAfterTax int64
	Percentage     float64
	SentAt         time.Time
}

// PatternEntry is one suspicious verdict kept for later review.
type PatternEntry struct {
	ID          string
	ItemID      string
	PatternType PatternTag
	Tags        []PatternTag
	Confidence  int
	Prices      []int64
	Popular     bool
	DetectedAt  time.Time
}
