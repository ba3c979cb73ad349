package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rewired-gh/flipwatch/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testItem(id string, rating int) *models.Item {
	return &models.Item{
		ID:        id,
		Name:      "Player " + id,
		Rating:    rating,
		RarityTag: "Rare Gold",
		URL:       "https://example.com/items/" + id,
	}
}

func TestStorage_UpsertAndGetItem(t *testing.T) {
	s := newTestStorage(t)
	item := testItem("101", 86)

	if err := s.UpsertItem(item); err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}
	got, err := s.GetItem("101")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Name != item.Name || got.Rating != 86 || got.RarityTag != "Rare Gold" {
		t.Errorf("got %+v, want %+v", got, item)
	}
	created := got.CreatedAt

	item.Rating = 87
	item.Name = "Renamed"
	if err := s.UpsertItem(item); err != nil {
		t.Fatalf("UpsertItem (update): %v", err)
	}
	got, _ = s.GetItem("101")
	if got.Rating != 87 || got.Name != "Renamed" {
		t.Errorf("item not refreshed: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at changed from %v to %v", created, got.CreatedAt)
	}
}

func TestStorage_UpsertItem_Invalid(t *testing.T) {
	s := newTestStorage(t)
	if err := s.UpsertItem(&models.Item{ID: "x"}); err == nil {
		t.Error("expected error for item without name")
	}
}

func TestStorage_GetItem_NotFound(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.GetItem("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetItem error = %v, want ErrNotFound", err)
	}
}

func TestStorage_ListMonitorable(t *testing.T) {
	s := newTestStorage(t)
	for i, rating := range []int{75, 90, 84, 88, 82} {
		if err := s.UpsertItem(testItem(fmt.Sprintf("item-%d", i), rating)); err != nil {
			t.Fatalf("UpsertItem: %v", err)
		}
	}
	if _, err := s.UpdateReliability("item-3", func(r *models.ReliabilityRecord) error {
		r.Blacklisted = true
		return nil
	}); err != nil {
		t.Fatalf("UpdateReliability: %v", err)
	}

	items, err := s.ListMonitorable(80, 0)
	if err != nil {
		t.Fatalf("ListMonitorable: %v", err)
	}
	var ratings []int
	for _, it := range items {
		ratings = append(ratings, it.Rating)
	}
	want := []int{90, 84, 82}
	if fmt.Sprint(ratings) != fmt.Sprint(want) {
		t.Errorf("ratings = %v, want %v", ratings, want)
	}

	limited, err := s.ListMonitorable(80, 2)
	if err != nil {
		t.Fatalf("ListMonitorable: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d items, want 2", len(limited))
	}
}

func TestStorage_Reliability(t *testing.T) {
	s := newTestStorage(t)

	if _, err := s.GetReliability("card"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetReliability error = %v, want ErrNotFound", err)
	}

	rec, err := s.UpdateReliability("card", func(r *models.ReliabilityRecord) error {
		if r.Score != models.InitialReliabilityScore {
			t.Errorf("new record score = %v, want %v", r.Score, models.InitialReliabilityScore)
		}
		r.FakeAlertCount++
		r.Score = 0
		r.LastSuspiciousAt = time.Unix(1_700_000_000, 0)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateReliability: %v", err)
	}
	if rec.FakeAlertCount != 1 {
		t.Errorf("FakeAlertCount = %d, want 1", rec.FakeAlertCount)
	}

	got, err := s.GetReliability("card")
	if err != nil {
		t.Fatalf("GetReliability: %v", err)
	}
	if got.FakeAlertCount != 1 || got.Score != 0 {
		t.Errorf("got %+v", got)
	}
	if !got.LastSuspiciousAt.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("LastSuspiciousAt = %v", got.LastSuspiciousAt)
	}
}

func TestStorage_UpdateReliability_RollsBackOnError(t *testing.T) {
	s := newTestStorage(t)
	boom := errors.New("boom")

	_, err := s.UpdateReliability("card", func(r *models.ReliabilityRecord) error {
		r.ValidAlertCount = 10
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateReliability error = %v, want boom", err)
	}
	if _, err := s.GetReliability("card"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record persisted after failed update: %v", err)
	}
}

func TestStorage_PatternHistory(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	for i := 0; i < 3; i++ {
		entry := &models.PatternEntry{
			ID:          fmt.Sprintf("p-%d", i),
			ItemID:      "card",
			PatternType: models.PatternExtremeOutlier,
			Tags:        []models.PatternTag{models.PatternExtremeOutlier, models.PatternPopularCardManipulation},
			Confidence:  70,
			Prices:      []int64{10_000, 500_000, 520_000},
			Popular:     true,
			DetectedAt:  now.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AddPatternEntry(entry); err != nil {
			t.Fatalf("AddPatternEntry: %v", err)
		}
	}

	entries, err := s.ListPatternHistory("card", 2)
	if err != nil {
		t.Fatalf("ListPatternHistory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != "p-2" {
		t.Errorf("newest entry = %s, want p-2", entries[0].ID)
	}
	if len(entries[0].Tags) != 2 || len(entries[0].Prices) != 3 || !entries[0].Popular {
		t.Errorf("entry not round-tripped: %+v", entries[0])
	}
}

func TestStorage_MonitoringLog(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	for _, age := range []time.Duration{time.Hour, 2 * time.Hour, 10 * 24 * time.Hour} {
		if err := s.RecordMonitoring("card", now.Add(-age)); err != nil {
			t.Fatalf("RecordMonitoring: %v", err)
		}
	}
	if err := s.RecordMonitoring("other", now); err != nil {
		t.Fatalf("RecordMonitoring: %v", err)
	}

	n, err := s.CountMonitoring("card", now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("CountMonitoring: %v", err)
	}
	if n != 2 {
		t.Errorf("CountMonitoring = %d, want 2", n)
	}
}

func TestStorage_Alerts(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	last, err := s.LastAlertAt("card", models.DecisionAlert)
	if err != nil {
		t.Fatalf("LastAlertAt: %v", err)
	}
	if !last.IsZero() {
		t.Errorf("LastAlertAt = %v, want zero", last)
	}

	alerts := []*models.Alert{
		{ID: "a1", ItemID: "card", Kind: models.DecisionAlert, BuyPrice: 100_000, SellPrice: 160_000, ProfitAfterTax: 52_000, Percentage: 52, SentAt: now.Add(-2 * time.Hour)},
		{ID: "a2", ItemID: "card", Kind: models.DecisionAlert, SentAt: now.Add(-time.Hour)},
		{ID: "a3", ItemID: "card", Kind: models.DecisionExtinct, SentAt: now},
	}
	for _, a := range alerts {
		if err := s.AddAlert(a); err != nil {
			t.Fatalf("AddAlert: %v", err)
		}
	}

	n, err := s.CountAlerts("card", models.DecisionAlert, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountAlerts: %v", err)
	}
	if n != 2 {
		t.Errorf("CountAlerts = %d, want 2", n)
	}

	last, err = s.LastAlertAt("card", models.DecisionAlert)
	if err != nil {
		t.Fatalf("LastAlertAt: %v", err)
	}
	if !last.Equal(time.Unix(0, now.Add(-time.Hour).UnixNano())) {
		t.Errorf("LastAlertAt = %v, want %v", last, now.Add(-time.Hour))
	}
}

func TestStorage_PruneHistory(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()
	old := now.Add(-40 * 24 * time.Hour)

	if err := s.RecordMonitoring("card", old); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordMonitoring("card", now); err != nil {
		t.Fatal(err)
	}
	if err := s.AddAlert(&models.Alert{ID: "old", ItemID: "card", Kind: models.DecisionAlert, SentAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddPatternEntry(&models.PatternEntry{ID: "old", ItemID: "card", PatternType: models.PatternIsolatedLowPrice, DetectedAt: old}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateReliability("card", func(r *models.ReliabilityRecord) error { return nil }); err != nil {
		t.Fatal(err)
	}

	removed, err := s.PruneHistory(now.Add(-30 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneHistory: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed %d rows, want 3", removed)
	}
	if n, _ := s.CountMonitoring("card", time.Unix(0, 0)); n != 1 {
		t.Errorf("monitoring rows left = %d, want 1", n)
	}
	if _, err := s.GetReliability("card"); err != nil {
		t.Errorf("reliability record pruned: %v", err)
	}
}

func TestStorage_ClaimNotice(t *testing.T) {
	s := newTestStorage(t)
	start := time.Now()
	window := 5 * time.Minute

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"first start", start, true},
		{"restart within window", start.Add(2 * time.Minute), false},
		{"restart after window", start.Add(6 * time.Minute), true},
		{"window counts from last claim", start.Add(8 * time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ClaimNotice("startup", window, tt.at)
			if err != nil {
				t.Fatalf("ClaimNotice: %v", err)
			}
			if got != tt.want {
				t.Errorf("ClaimNotice at +%v = %v, want %v", tt.at.Sub(start), got, tt.want)
			}
		})
	}

	if ok, err := s.ClaimNotice("other", window, start.Add(2*time.Minute)); err != nil || !ok {
		t.Errorf("independent notice = %v, %v; want true", ok, err)
	}
}
