package signal

import (
	"reflect"
	"testing"

	"github.com/rewired-gh/flipwatch/internal/models"
)

func TestDetectAnomalies_InsufficientData(t *testing.T) {
	cfg := DefaultAnomalyConfig()

	for _, prices := range [][]int64{nil, {100_000}, {10_000, 500_000}} {
		for _, popular := range []bool{true, false} {
			v := DetectAnomalies(prices, popular, cfg)
			if v.Suspicious {
				t.Errorf("DetectAnomalies(%v, %v) suspicious, want not", prices, popular)
			}
			if v.PatternType != models.PatternInsufficientData {
				t.Errorf("PatternType = %q, want insufficient_data", v.PatternType)
			}
			if len(v.Tags) != 0 || v.Confidence != 0 {
				t.Errorf("expected no tags and zero confidence, got %+v", v)
			}
		}
	}
}

func TestDetectAnomalies_PopularOutlierScenario(t *testing.T) {
	v := DetectAnomalies([]int64{10_000, 500_000, 520_000, 530_000}, true, DefaultAnomalyConfig())

	if !v.Suspicious {
		t.Fatal("expected suspicious verdict")
	}
	want := []models.PatternTag{
		models.PatternExtremeOutlier,
		models.PatternPopularCardManipulation,
		models.PatternRoundNumberClustering,
		models.PatternIsolatedLowPrice,
	}
	if !reflect.DeepEqual(v.Tags, want) {
		t.Errorf("Tags = %v, want %v", v.Tags, want)
	}
	if v.PatternType != models.PatternIsolatedLowPrice {
		t.Errorf("PatternType = %q, want isolated_low_price", v.PatternType)
	}
	if v.Confidence != 100 {
		t.Errorf("Confidence = %d, want 100", v.Confidence)
	}
}

func TestDetectAnomalies(t *testing.T) {
	cfg := DefaultAnomalyConfig()

	tests := []struct {
		name     string
		prices   []int64
		popular  bool
		wantTags []models.PatternTag
		wantConf int
		wantType models.PatternTag
	}{
		{
			name:     "standard outlier scenario",
			prices:   []int64{10_000, 500_000, 520_000, 530_000},
			wantTags: []models.PatternTag{models.PatternExtremeOutlier, models.PatternRoundNumberClustering, models.PatternIsolatedLowPrice},
			wantConf: 75,
			wantType: models.PatternIsolatedLowPrice,
		},
		{
			name:     "clean listing",
			prices:   []int64{101_234, 103_456, 104_789},
			wantType: models.PatternNone,
		},
		{
			name:     "bot spacing",
			prices:   []int64{60_500, 61_500, 62_500, 64_500},
			wantTags: []models.PatternTag{models.PatternSequentialPricing},
			wantConf: 25,
			wantType: models.PatternSequentialPricing,
		},
		{
			name:     "popular card gap",
			prices:   []int64{60_123, 75_321, 76_543},
			popular:  true,
			wantTags: []models.PatternTag{models.PatternPopularCardGap},
			wantConf: 35,
			wantType: models.PatternPopularCardGap,
		},
		{
			name:     "gap ignored for unpopular card",
			prices:   []int64{60_123, 75_321, 76_543},
			wantType: models.PatternNone,
		},
		{
			name:     "outlier below floor",
			prices:   []int64{9_000, 500_000, 520_000},
			wantType: models.PatternNone,
		},
		{
			name:     "outlier at floor",
			prices:   []int64{10_000, 500_000, 520_000},
			wantTags: []models.PatternTag{models.PatternExtremeOutlier},
			wantConf: 25,
			wantType: models.PatternExtremeOutlier,
		},
		{
			name:     "round clustering popular",
			prices:   []int64{70_000, 70_100, 71_300},
			popular:  true,
			wantTags: []models.PatternTag{models.PatternRoundNumberClustering},
			wantConf: 35,
			wantType: models.PatternRoundNumberClustering,
		},
		{
			name:     "round clustering needs more for standard",
			prices:   []int64{70_000, 70_100, 71_300},
			wantType: models.PatternNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := DetectAnomalies(tt.prices, tt.popular, cfg)
			if !reflect.DeepEqual(v.Tags, tt.wantTags) {
				t.Errorf("Tags = %v, want %v", v.Tags, tt.wantTags)
			}
			if v.Suspicious != (len(tt.wantTags) > 0) {
				t.Errorf("Suspicious = %v, want %v", v.Suspicious, len(tt.wantTags) > 0)
			}
			if v.Confidence != tt.wantConf {
				t.Errorf("Confidence = %d, want %d", v.Confidence, tt.wantConf)
			}
			if v.PatternType != tt.wantType {
				t.Errorf("PatternType = %q, want %q", v.PatternType, tt.wantType)
			}
		})
	}
}

func TestDetectAnomalies_Deterministic(t *testing.T) {
	cfg := DefaultAnomalyConfig()
	prices := []int64{10_000, 500_000, 520_000, 530_000}
	orig := append([]int64(nil), prices...)

	first := DetectAnomalies(prices, true, cfg)
	second := DetectAnomalies(prices, true, cfg)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("verdicts differ: %+v vs %+v", first, second)
	}
	if !reflect.DeepEqual(prices, orig) {
		t.Errorf("input mutated: %v", prices)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		in   []int64
		want float64
	}{
		{nil, 0},
		{[]int64{7}, 7},
		{[]int64{1, 3, 2}, 2},
		{[]int64{10_000, 500_000, 520_000, 530_000}, 510_000},
	}
	for _, tt := range tests {
		if got := median(tt.in); got != tt.want {
			t.Errorf("median(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTrailingZeros(t *testing.T) {
	tests := map[int64]int{0: 0, 5: 0, 50: 1, 70_100: 2, 500_000: 5}
	for in, want := range tests {
		if got := trailingZeros(in); got != want {
			t.Errorf("trailingZeros(%d) = %d, want %d", in, got, want)
		}
	}
}
