package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/flipwatch/internal/logger"
	"github.com/rewired-gh/flipwatch/internal/models"
	"github.com/rewired-gh/flipwatch/internal/signal"
)

type Config struct {
	Gap                      signal.GapConfig
	Anomaly                  signal.AnomalyConfig
	Popularity               signal.PopularityConfig
	AlertCooldown            time.Duration
	ExtinctCooldown          time.Duration
	CandidateCooldown        time.Duration
	SuspiciousCandidateCount int
	Workers                  int
	RequestsPerSecond        float64
	FetchTimeout             time.Duration
}

func DefaultConfig() Config {
	return Config{
		Gap:                      signal.DefaultGapConfig(),
		Anomaly:                  signal.DefaultAnomalyConfig(),
		Popularity:               signal.DefaultPopularityConfig(),
		AlertCooldown:            6 * time.Hour,
		ExtinctCooldown:          6 * time.Hour,
		CandidateCooldown:        24 * time.Hour,
		SuspiciousCandidateCount: 3,
		Workers:                  4,
		RequestsPerSecond:        2,
		FetchTimeout:             30 * time.Second,
	}
}

// Store is the persistence the monitor reads counters from and appends history to.
type Store interface {
	AddPatternEntry(entry *models.PatternEntry) error
	RecordMonitoring(itemID string, at time.Time) error
	CountMonitoring(itemID string, since time.Time) (int, error)
	CountAlerts(itemID string, kind models.DecisionKind, since time.Time) (int, error)
	LastAlertAt(itemID string, kind models.DecisionKind) (time.Time, error)
	AddAlert(alert *models.Alert) error
}

// Scorer gates monitoring and tracks suspicious patterns per item.
type Scorer interface {
	Check(itemID string) (models.MonitorCheck, error)
	RecordSuspicious(itemID string, at time.Time) (*models.ReliabilityRecord, error)
}

// Source supplies the current listing prices for an item.
type Source interface {
	FetchObservation(ctx context.Context, item models.Item) (*models.PriceObservation, error)
}

// CycleStats summarizes one monitoring pass.
type CycleStats struct {
	Items      int
	Evaluated  int
	Skipped    int
	Errors     int
	Alerts     int
	Suppressed int
	Candidates int
	Extinct    int
	Duration   time.Duration
}

func (s CycleStats) String() string {
	return fmt.Sprintf("%d items, %d evaluated, %d skipped, %d errors, %d alerts, %d suppressed, %d blacklist candidates, %d extinct in %v",
		s.Items, s.Evaluated, s.Skipped, s.Errors, s.Alerts, s.Suppressed, s.Candidates, s.Extinct, s.Duration.Round(time.Millisecond))
}

type Monitor struct {
	store   Store
	scorer  Scorer
	source  Source
	config  Config
	limiter *rate.Limiter
	now     func() time.Time
}

func New(store Store, scorer Scorer, source Source, config Config) *Monitor {
	if config.Workers < 1 {
		config.Workers = 1
	}
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	return &Monitor{
		store:   store,
		scorer:  scorer,
		source:  source,
		config:  config,
		limiter: rate.NewLimiter(limit, config.Workers),
		now:     time.Now,
	}
}

// Evaluate turns one observation of an item into a decision. It only touches
// storage: the reliability gate, popularity counters, pattern history and
// the monitoring log.
func (m *Monitor) Evaluate(item models.Item, obs *models.PriceObservation) models.Decision {
	now := m.now()
	d := models.Decision{
		ID:          uuid.New().String(),
		Item:        item,
		Kind:        models.DecisionNone,
		Prices:      obs.Prices,
		EvaluatedAt: now,
	}

	check, err := m.scorer.Check(item.ID)
	if err != nil {
		logger.Warn("Reliability check failed for %s, monitoring anyway: %v", item.ID, err)
		check = models.MonitorCheck{Monitor: true, Reason: models.CheckError}
	}
	d.Check = check
	if !check.Monitor {
		d.Kind = models.DecisionSkipped
		logger.Debug("Skipping %s (%s): reliability %s, score %.1f", item.ID, item.Name, check.Reason, check.Score)
		return d
	}

	defer func() {
		if err := m.store.RecordMonitoring(item.ID, now); err != nil {
			logger.Warn("Failed to record monitoring for %s: %v", item.ID, err)
		}
	}()

	if obs.Extinct() {
		d.Kind = models.DecisionExtinct
		d.Alert = true
		return d
	}

	d.Popular = m.isPopular(item, now)
	d.Verdict = signal.DetectAnomalies(obs.Prices, d.Popular, m.config.Anomaly)

	gap, reason := signal.EvaluateGap(obs.Prices, m.config.Gap)
	d.Gap = gap
	d.Rejection = string(reason)

	suspiciousCount := 0
	if d.Verdict.Suspicious {
		suspiciousCount = m.recordSuspicious(item, d, now)
	}

	switch {
	case d.Verdict.Suspicious && suspiciousCount >= m.config.SuspiciousCandidateCount:
		d.Kind = models.DecisionBlacklistCandidate
	case gap != nil && !d.Verdict.Suspicious:
		d.Kind = models.DecisionAlert
		d.Alert = true
	case gap != nil:
		d.Kind = models.DecisionSuppress
	}

	if gap != nil {
		logger.Debug("Gap on %s: buy=%d sell=%d profit=%d (%.1f%%) suspicious=%v pattern=%s",
			item.ID, gap.BuyPrice, gap.SellPrice, gap.ProfitAfterTax, gap.Percentage, d.Verdict.Suspicious, d.Verdict.PatternType)
	}
	return d
}

func (m *Monitor) isPopular(item models.Item, now time.Time) bool {
	since := now.Add(-m.config.Popularity.Window)

	monitored, err := m.store.CountMonitoring(item.ID, since)
	if err != nil {
		logger.Warn("Failed to count monitoring for %s: %v", item.ID, err)
	}
	alerted, err := m.store.CountAlerts(item.ID, models.DecisionAlert, since)
	if err != nil {
		logger.Warn("Failed to count alerts for %s: %v", item.ID, err)
	}
	return signal.IsPopular(item, monitored, alerted, m.config.Popularity)
}

// recordSuspicious appends the verdict to pattern history and returns the
// item's suspicious pattern count afterwards.
func (m *Monitor) recordSuspicious(item models.Item, d models.Decision, now time.Time) int {
	entry := &models.PatternEntry{
		ID:          uuid.New().String(),
		ItemID:      item.ID,
		PatternType: d.Verdict.PatternType,
		Tags:        d.Verdict.Tags,
		Confidence:  d.Verdict.Confidence,
		Prices:      d.Prices,
		Popular:     d.Popular,
		DetectedAt:  now,
	}
	if err := m.store.AddPatternEntry(entry); err != nil {
		logger.Warn("Failed to store pattern for %s: %v", item.ID, err)
	}

	rec, err := m.scorer.RecordSuspicious(item.ID, now)
	if err != nil {
		logger.Warn("Failed to record suspicious pattern for %s: %v", item.ID, err)
		return 0
	}
	logger.Info("Suspicious listing on %s (%s): %v confidence=%d count=%d",
		item.ID, item.Name, d.Verdict.Tags, d.Verdict.Confidence, rec.SuspiciousPatternCount)
	return rec.SuspiciousPatternCount
}

// RunCycle fetches and evaluates every item with a bounded pool of workers.
// Per-item failures are logged and counted; they never abort the pass.
// Decisions come back in the order of items.
func (m *Monitor) RunCycle(ctx context.Context, items []models.Item) ([]models.Decision, CycleStats) {
	start := m.now()
	results := make([]*models.Decision, len(items))

	var (
		evaluated  = atomic.NewInt64(0)
		skipped    = atomic.NewInt64(0)
		errs       = atomic.NewInt64(0)
		alerts     = atomic.NewInt64(0)
		suppressed = atomic.NewInt64(0)
		candidates = atomic.NewInt64(0)
		extinct    = atomic.NewInt64(0)
	)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < m.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				d, err := m.evaluateItem(ctx, items[i])
				if err != nil {
					errs.Inc()
					logger.Warn("Failed to evaluate %s (%s): %v", items[i].ID, items[i].Name, err)
					continue
				}
				results[i] = d

				switch d.Kind {
				case models.DecisionSkipped:
					skipped.Inc()
					continue
				case models.DecisionAlert:
					alerts.Inc()
				case models.DecisionSuppress:
					suppressed.Inc()
				case models.DecisionBlacklistCandidate:
					candidates.Inc()
				case models.DecisionExtinct:
					extinct.Inc()
				}
				evaluated.Inc()
			}
		}()
	}

feed:
	for i := range items {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	decisions := make([]models.Decision, 0, len(items))
	for _, d := range results {
		if d != nil {
			decisions = append(decisions, *d)
		}
	}

	stats := CycleStats{
		Items:      len(items),
		Evaluated:  int(evaluated.Load()),
		Skipped:    int(skipped.Load()),
		Errors:     int(errs.Load()),
		Alerts:     int(alerts.Load()),
		Suppressed: int(suppressed.Load()),
		Candidates: int(candidates.Load()),
		Extinct:    int(extinct.Load()),
		Duration:   m.now().Sub(start),
	}
	return decisions, stats
}

func (m *Monitor) evaluateItem(ctx context.Context, item models.Item) (*models.Decision, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	fetchCtx := ctx
	if m.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, m.config.FetchTimeout)
		defer cancel()
	}

	obs, err := m.source.FetchObservation(fetchCtx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listings: %w", err)
	}
	if err := obs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observation: %w", err)
	}

	d := m.Evaluate(item, obs)
	return &d, nil
}

// FilterCooldown returns the decisions worth notifying: alerts, extinct items
// and blacklist candidates that were not notified of the same kind within
// that kind's cooldown. Candidates are sent so the operator can confirm them
// with /fake.
func (m *Monitor) FilterCooldown(decisions []models.Decision) []models.Decision {
	now := m.now()
	var result []models.Decision

	for _, d := range decisions {
		if !d.Alert && d.Kind != models.DecisionBlacklistCandidate {
			continue
		}
		cooldown := m.config.AlertCooldown
		switch d.Kind {
		case models.DecisionExtinct:
			cooldown = m.config.ExtinctCooldown
		case models.DecisionBlacklistCandidate:
			cooldown = m.config.CandidateCooldown
		}

		last, err := m.store.LastAlertAt(d.Item.ID, d.Kind)
		if err != nil {
			logger.Warn("Failed to read last alert for %s: %v", d.Item.ID, err)
		} else if !last.IsZero() && now.Sub(last) < cooldown {
			logger.Debug("Alert for %s suppressed by cooldown (last sent %v ago)", d.Item.ID, now.Sub(last).Round(time.Second))
			continue
		}

		result = append(result, d)
	}

	return result
}

// RecordNotified persists the decisions that were delivered so cooldowns and
// popularity counters see them.
func (m *Monitor) RecordNotified(decisions []models.Decision) {
	now := m.now()
	for _, d := range decisions {
		alert := &models.Alert{
			ID:     uuid.New().String(),
			ItemID: d.Item.ID,
			Kind:   d.Kind,
			SentAt: now,
		}
		if d.Gap != nil {
			alert.BuyPrice = d.Gap.BuyPrice
			alert.SellPrice = d.Gap.SellPrice
			alert.ProfitAfterTax = d.Gap.ProfitAfterTax
			alert.Percentage = d.Gap.Percentage
		}
		if err := m.store.AddAlert(alert); err != nil {
			logger.Warn("Failed to record alert for %s: %v", d.Item.ID, err)
		}
	}
}
