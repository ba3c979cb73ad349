// Package signal holds the pure decision functions that turn an observed price
// list into profitability figures, a suspicion verdict and a popularity flag.
package signal

import (
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/flipwatch/internal/models"
)

// RejectReason explains why a price gap was not worth alerting on.
// The empty reason means the gap was accepted.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectNoGap            RejectReason = "no_gap"
	RejectBelowFloor       RejectReason = "below_floor"
	RejectImplausiblePrice RejectReason = "implausible_price"
	RejectProfitTooLow     RejectReason = "profit_too_low"
	RejectPercentageTooLow RejectReason = "percentage_too_low"
)

// GapConfig holds the profitability thresholds and the marketplace tax rate.
type GapConfig struct {
	MinimumCardPrice     int64
	MinimumGapCoins      int64
	MinimumGapPercentage float64
	TaxRate              float64
	SanityFloor          int64
}

func DefaultGapConfig() GapConfig {
	return GapConfig{
		MinimumCardPrice:     5000,
		MinimumGapCoins:      1000,
		MinimumGapPercentage: 5,
		TaxRate:              0.05,
		SanityFloor:          500,
	}
}

// EvaluateGap computes the flip from the cheapest listing to the second
// cheapest. prices must already be sorted ascending; the order is not repaired.
func EvaluateGap(prices []int64, cfg GapConfig) (*models.GapResult, RejectReason) {
	if len(prices) < 2 {
		return nil, RejectNoGap
	}
	buy, sell := prices[0], prices[1]
	if buy <= 0 || sell <= 0 || sell <= buy {
		return nil, RejectNoGap
	}
	if buy < cfg.MinimumCardPrice {
		return nil, RejectBelowFloor
	}
	if buy < cfg.SanityFloor {
		return nil, RejectImplausiblePrice
	}

	sellD := decimal.NewFromInt(sell)
	taxD := sellD.Mul(decimal.NewFromFloat(cfg.TaxRate))
	tax := taxD.IntPart()
	sellAfterTax := sellD.Sub(taxD).IntPart()

	rawProfit := sell - buy
	profitAfterTax := sellAfterTax - buy
	if profitAfterTax < cfg.MinimumGapCoins {
		return nil, RejectProfitTooLow
	}

	percentage := float64(profitAfterTax) / float64(buy) * 100
	if percentage < cfg.MinimumGapPercentage {
		return nil, RejectPercentageTooLow
	}

	return &models.GapResult{
		BuyPrice:       buy,
		SellPrice:      sell,
		Tax:            tax,
		SellAfterTax:   sellAfterTax,
		RawProfit:      rawProfit,
		ProfitAfterTax: profitAfterTax,
		Percentage:     percentage,
		Tier:           ClassifyProfit(percentage),
	}, RejectNone
}

// ClassifyProfit grades a post-tax profit percentage: 20% and up is
// excellent, 10% and up is good, anything lower is decent.
func ClassifyProfit(percentage float64) models.ProfitTier {
	switch {
	case percentage >= 20:
		return models.TierExcellent
	case percentage >= 10:
		return models.TierGood
	default:
		return models.TierDecent
	}
}
