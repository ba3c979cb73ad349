package models

import (
	"testing"
	"time"
)

func TestItemValidate(t *testing.T) {
	tests := []struct {
		name    string
		item    Item
		wantErr bool
	}{
		{
			name: "valid item",
			item: Item{
				ID:        "18710",
				Name:      "Thierry Henry",
				Rating:    91,
				RarityTag: "Special",
				CreatedAt: time.Now(),
			},
			wantErr: false,
		},
		{
			name:    "empty ID",
			item:    Item{Name: "Thierry Henry", Rating: 91},
			wantErr: true,
		},
		{
			name:    "empty name",
			item:    Item{ID: "18710", Rating: 91},
			wantErr: true,
		},
		{
			name:    "rating out of range",
			item:    Item{ID: "18710", Name: "Thierry Henry", Rating: 120},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Item.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPriceObservationValidate(t *testing.T) {
	tests := []struct {
		name    string
		obs     PriceObservation
		wantErr bool
	}{
		{"ascending prices", PriceObservation{ItemID: "a", Prices: []int64{100, 200, 200}}, false},
		{"extinct", PriceObservation{ItemID: "a"}, false},
		{"missing item", PriceObservation{Prices: []int64{100}}, true},
		{"non-positive price", PriceObservation{ItemID: "a", Prices: []int64{0, 100}}, true},
		{"unsorted", PriceObservation{ItemID: "a", Prices: []int64{200, 100}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.obs.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("PriceObservation.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReliabilityRecordTotalOutcomes(t *testing.T) {
	r := ReliabilityRecord{ValidAlertCount: 2, FakeAlertCount: 3}
	if got := r.TotalOutcomes(); got != 5 {
		t.Errorf("TotalOutcomes() = %d, want 5", got)
	}
}

func TestAnomalyVerdictHasTag(t *testing.T) {
	v := AnomalyVerdict{Tags: []PatternTag{PatternExtremeOutlier}}
	if !v.HasTag(PatternExtremeOutlier) {
		t.Error("expected extreme_outlier tag")
	}
	if v.HasTag(PatternSequentialPricing) {
		t.Error("unexpected sequential_pricing tag")
	}
}
