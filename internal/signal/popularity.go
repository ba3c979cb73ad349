package signal

import (
	"strings"
	"time"
	"unicode"

	"github.com/rewired-gh/flipwatch/internal/models"
)

// PopularityConfig controls how watched/traded an item must look before the
// tighter anomaly profile applies to it.
type PopularityConfig struct {
	Window             time.Duration
	ImmediateRating    int
	MinMonitoringCount int
	MinAlertCount      int
	HighRating         int
	TopRating          int
	SpecialKeywords    []string
	Threshold          int
	MonitoringWeight   int
	AlertWeight        int
	HighRatingWeight   int
	SpecialWeight      int
	TopRatingWeight    int
}

func DefaultPopularityConfig() PopularityConfig {
	return PopularityConfig{
		Window:             7 * 24 * time.Hour,
		ImmediateRating:    84,
		MinMonitoringCount: 3,
		MinAlertCount:      2,
		HighRating:         80,
		TopRating:          85,
		SpecialKeywords:    []string{"toty", "tots", "motm", "if", "sbc", "icon", "hero", "rttk", "fof"},
		Threshold:          4,
		MonitoringWeight:   3,
		AlertWeight:        3,
		HighRatingWeight:   2,
		SpecialWeight:      2,
		TopRatingWeight:    1,
	}
}

// IsPopular classifies item from its static attributes and the monitoring and
// alert counts observed within cfg.Window.
func IsPopular(item models.Item, monitoringCount, alertCount int, cfg PopularityConfig) bool {
	if item.Rating >= cfg.ImmediateRating {
		return true
	}

	score := 0
	if monitoringCount >= cfg.MinMonitoringCount {
		score += cfg.MonitoringWeight
	}
	if alertCount >= cfg.MinAlertCount {
		score += cfg.AlertWeight
	}
	if item.Rating >= cfg.HighRating {
		score += cfg.HighRatingWeight
	}
	if IsSpecial(item, cfg.SpecialKeywords) {
		score += cfg.SpecialWeight
	}
	if item.Rating >= cfg.TopRating {
		score += cfg.TopRatingWeight
	}
	return score >= cfg.Threshold
}

// IsSpecial reports whether the item is a limited or promotional version.
// Keywords match whole name tokens so "if" does not hit "Griffin".
func IsSpecial(item models.Item, keywords []string) bool {
	rarity := strings.ToLower(strings.TrimSpace(item.RarityTag))
	if rarity == "special" {
		return true
	}

	tokens := strings.FieldsFunc(strings.ToLower(item.Name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == rarity {
			return true
		}
		for _, tok := range tokens {
			if tok == kw {
				return true
			}
		}
	}
	return false
}
