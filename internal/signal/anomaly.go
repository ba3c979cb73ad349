package signal

import (
	"slices"

	"github.com/rewired-gh/flipwatch/internal/models"
)

// AnomalyProfile is one set of detection thresholds. Popular items get a
// tighter profile than the rest of the catalog.
type AnomalyProfile struct {
	OutlierRatio float64 // prices[0] below median*ratio is an outlier
	OutlierFloor int64   // outliers are only reported at or above this price

	RoundMinValue      int64
	RoundTrailingZeros int
	RoundMinCount      int

	IsolatedGapMultiplier float64
	IsolatedGapFloor      float64

	SequentialIntervals []int64
	SequentialMinCount  int

	ConfidenceBase int
}

// AnomalyConfig holds both threshold profiles plus the checks shared by them.
type AnomalyConfig struct {
	MinPrices         int
	SpacingMinPrices  int
	PopularGapRatio   float64
	PopularGapFloor   int64
	Popular, Standard AnomalyProfile
}

func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		MinPrices:        3,
		SpacingMinPrices: 4,
		PopularGapRatio:  0.15,
		PopularGapFloor:  50_000,
		Popular: AnomalyProfile{
			OutlierRatio:          0.4,
			OutlierFloor:          10_000,
			RoundMinValue:         50_000,
			RoundTrailingZeros:    2,
			RoundMinCount:         2,
			IsolatedGapMultiplier: 3,
			IsolatedGapFloor:      25_000,
			SequentialIntervals:   []int64{500, 1000, 2000, 5000, 10000},
			SequentialMinCount:    2,
			ConfidenceBase:        35,
		},
		Standard: AnomalyProfile{
			OutlierRatio:          0.5,
			OutlierFloor:          10_000,
			RoundMinValue:         50_000,
			RoundTrailingZeros:    3,
			RoundMinCount:         3,
			IsolatedGapMultiplier: 5,
			IsolatedGapFloor:      50_000,
			SequentialIntervals:   []int64{1000, 2000, 5000, 10000},
			SequentialMinCount:    2,
			ConfidenceBase:        25,
		},
	}
}

// DetectAnomalies looks for signatures of planted listings in an ascending
// price list. The verdict is advisory; gap acceptance does not depend on it.
func DetectAnomalies(prices []int64, popular bool, cfg AnomalyConfig) models.AnomalyVerdict {
	if len(prices) < cfg.MinPrices {
		return models.AnomalyVerdict{PatternType: models.PatternInsufficientData}
	}

	p := cfg.Standard
	if popular {
		p = cfg.Popular
	}

	var tags []models.PatternTag
	add := func(tag models.PatternTag) {
		if !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}

	lowest := prices[0]

	if float64(lowest) < median(prices)*p.OutlierRatio && lowest >= p.OutlierFloor {
		add(models.PatternExtremeOutlier)
		if popular {
			add(models.PatternPopularCardManipulation)
		}
	}

	round := 0
	for _, price := range prices {
		if price >= p.RoundMinValue && trailingZeros(price) >= p.RoundTrailingZeros {
			round++
		}
	}
	if round >= p.RoundMinCount {
		add(models.PatternRoundNumberClustering)
	}

	if len(prices) >= cfg.SpacingMinPrices {
		diffs := gaps(prices)

		if diffs[0] > mean(diffs[1:])*p.IsolatedGapMultiplier && diffs[0] > p.IsolatedGapFloor {
			add(models.PatternIsolatedLowPrice)
		}

		sequential := 0
		for _, d := range diffs {
			if slices.Contains(p.SequentialIntervals, int64(d)) {
				sequential++
			}
		}
		if sequential >= p.SequentialMinCount {
			add(models.PatternSequentialPricing)
		}
	}

	if popular && lowest > 0 {
		ratio := float64(prices[1]-lowest) / float64(lowest)
		if ratio > cfg.PopularGapRatio && lowest > cfg.PopularGapFloor {
			add(models.PatternPopularCardGap)
		}
	}

	if len(tags) == 0 {
		return models.AnomalyVerdict{PatternType: models.PatternNone}
	}
	return models.AnomalyVerdict{
		Suspicious:  true,
		Tags:        tags,
		PatternType: tags[len(tags)-1],
		Confidence:  min(100, len(tags)*p.ConfidenceBase),
	}
}
