// Package reliability keeps a per-item trust score from operator feedback and
// decides whether an item is still worth monitoring.
package reliability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/flipwatch/internal/models"
	"github.com/rewired-gh/flipwatch/internal/storage"
)

// Store is the persistence the scorer needs. UpdateReliability must apply fn
// and persist the result atomically.
type Store interface {
	GetReliability(itemID string) (*models.ReliabilityRecord, error)
	UpdateReliability(itemID string, fn func(*models.ReliabilityRecord) error) (*models.ReliabilityRecord, error)
}

// Config holds the blacklisting and monitoring-gate thresholds.
type Config struct {
	BlacklistScore            float64
	BlacklistMinOutcomes      int
	LowReliabilityScore       float64
	LowReliabilityMinOutcomes int
}

func DefaultConfig() Config {
	return Config{
		BlacklistScore:            20,
		BlacklistMinOutcomes:      3,
		LowReliabilityScore:       30,
		LowReliabilityMinOutcomes: 5,
	}
}

// Scorer owns every mutation of reliability records.
type Scorer struct {
	store  Store
	config Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store Store, cfg Config) *Scorer {
	return &Scorer{
		store:  store,
		config: cfg,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Scorer) lock(itemID string) func() {
	s.mu.Lock()
	l, ok := s.locks[itemID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[itemID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// RecordOutcome applies operator feedback on an alert and recomputes the score.
// Blacklisting is never lifted by later valid outcomes.
func (s *Scorer) RecordOutcome(itemID string, outcome models.Outcome) (*models.ReliabilityRecord, error) {
	switch outcome {
	case models.OutcomeValid, models.OutcomeFake:
	default:
		return nil, fmt.Errorf("unknown outcome %q", outcome)
	}

	defer s.lock(itemID)()

	rec, err := s.store.UpdateReliability(itemID, func(r *models.ReliabilityRecord) error {
		if outcome == models.OutcomeValid {
			r.ValidAlertCount++
		} else {
			r.FakeAlertCount++
		}
		r.Score = Score(r.ValidAlertCount, r.FakeAlertCount)
		if r.Score < s.config.BlacklistScore && r.TotalOutcomes() >= s.config.BlacklistMinOutcomes {
			r.Blacklisted = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record outcome: %w", err)
	}
	return rec, nil
}

// RecordSuspicious counts a suspicious verdict against the item.
func (s *Scorer) RecordSuspicious(itemID string, at time.Time) (*models.ReliabilityRecord, error) {
	defer s.lock(itemID)()

	rec, err := s.store.UpdateReliability(itemID, func(r *models.ReliabilityRecord) error {
		r.SuspiciousPatternCount++
		r.LastSuspiciousAt = at
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record suspicious pattern: %w", err)
	}
	return rec, nil
}

// Get returns the item's record, or a fresh one when nothing was recorded yet.
func (s *Scorer) Get(itemID string) (*models.ReliabilityRecord, error) {
	rec, err := s.store.GetReliability(itemID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.NewReliabilityRecord(itemID), nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Check decides whether the item should keep being monitored. Callers that
// get an error should keep monitoring with reason check_error.
func (s *Scorer) Check(itemID string) (models.MonitorCheck, error) {
	rec, err := s.Get(itemID)
	if err != nil {
		return models.MonitorCheck{Monitor: true, Reason: models.CheckError}, fmt.Errorf("failed to check reliability: %w", err)
	}

	switch {
	case rec.Blacklisted:
		return models.MonitorCheck{Monitor: false, Score: rec.Score, Reason: models.CheckBlacklisted}, nil
	case rec.Score < s.config.LowReliabilityScore && rec.TotalOutcomes() >= s.config.LowReliabilityMinOutcomes:
		return models.MonitorCheck{Monitor: false, Score: rec.Score, Reason: models.CheckLowReliability}, nil
	default:
		return models.MonitorCheck{Monitor: true, Score: rec.Score, Reason: models.CheckOK}, nil
	}
}

// Score maps the net valid/fake balance onto [0,100]: all valid is 100,
// an even split is 50 and all fake is 0. No outcomes keeps the initial score.
func Score(valid, fake int) float64 {
	total := valid + fake
	if total <= 0 {
		return models.InitialReliabilityScore
	}
	score := 50 + float64(valid-fake)/float64(total)*50
	return max(0, min(100, score))
}
