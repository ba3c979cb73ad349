// Package storage provides SQLite-backed persistence for items, reliability
// records, pattern history, the monitoring log and sent alerts.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/flipwatch/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/flipwatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "flipwatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			rating          INTEGER NOT NULL,
			rarity_tag      TEXT,
			url             TEXT,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reliability (
			item_id                  TEXT PRIMARY KEY,
			suspicious_pattern_count INTEGER NOT NULL DEFAULT 0,
			fake_alert_count         INTEGER NOT NULL DEFAULT 0,
			valid_alert_count        INTEGER NOT NULL DEFAULT 0,
			score                    REAL NOT NULL DEFAULT 100,
			blacklisted              INTEGER NOT NULL DEFAULT 0,
			last_suspicious_at       INTEGER NOT NULL DEFAULT 0,
			updated_at               INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pattern_history (
			id              TEXT PRIMARY KEY,
			item_id         TEXT NOT NULL,
			pattern_type    TEXT NOT NULL,
			tags            TEXT NOT NULL DEFAULT '[]',
			confidence      INTEGER NOT NULL,
			prices          TEXT NOT NULL DEFAULT '[]',
			popular         INTEGER NOT NULL DEFAULT 0,
			detected_at     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS monitoring_log (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id         TEXT NOT NULL,
			checked_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id               TEXT PRIMARY KEY,
			item_id          TEXT NOT NULL,
			kind             TEXT NOT NULL,
			buy_price        INTEGER NOT NULL DEFAULT 0,
			sell_price       INTEGER NOT NULL DEFAULT 0,
			profit_after_tax INTEGER NOT NULL DEFAULT 0,
			percentage       REAL NOT NULL DEFAULT 0,
			sent_at          INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notices (
			name            TEXT PRIMARY KEY,
			sent_at         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_rating ON items(rating DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_pattern_item ON pattern_history(item_id, detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_monitoring_item ON monitoring_log(item_id, checked_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_item ON alerts(item_id, kind, sent_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertItem inserts the item or refreshes its catalog fields, keeping the
// first created_at.
func (s *Storage) UpsertItem(item *models.Item) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}
	now := time.Now()
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO items (id, name, rating, rarity_tag, url, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, rating=excluded.rating, rarity_tag=excluded.rarity_tag,
			url=excluded.url, updated_at=excluded.updated_at`,
		item.ID, item.Name, item.Rating, item.RarityTag, item.URL,
		createdAt.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

func (s *Storage) GetItem(id string) (*models.Item, error) {
	row := s.db.QueryRow(`SELECT `+itemCols+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// ListMonitorable returns non-blacklisted items rated at least minRating,
// highest rating first. A non-positive limit returns every match.
func (s *Storage) ListMonitorable(minRating, limit int) ([]*models.Item, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT `+itemColsPrefixed+`
		FROM items i
		LEFT JOIN reliability r ON r.item_id = i.id
		WHERE i.rating >= ? AND COALESCE(r.blacklisted, 0) = 0
		ORDER BY i.rating DESC, i.id
		LIMIT ?`, minRating, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []*models.Item{}
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Storage) GetReliability(itemID string) (*models.ReliabilityRecord, error) {
	row := s.db.QueryRow(`SELECT `+reliabilityCols+` FROM reliability WHERE item_id = ?`, itemID)
	rec, err := scanReliability(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reliability %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reliability: %w", err)
	}
	return rec, nil
}

// UpdateReliability runs fn against the item's record inside one transaction
// and persists the result. A missing record starts from
// models.NewReliabilityRecord. fn must not call back into Storage.
func (s *Storage) UpdateReliability(itemID string, fn func(*models.ReliabilityRecord) error) (*models.ReliabilityRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRow(`SELECT `+reliabilityCols+` FROM reliability WHERE item_id = ?`, itemID)
	rec, err := scanReliability(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		rec = models.NewReliabilityRecord(itemID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load reliability: %w", err)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Now()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO reliability
			(item_id, suspicious_pattern_count, fake_alert_count, valid_alert_count,
			 score, blacklisted, last_suspicious_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		rec.ItemID, rec.SuspiciousPatternCount, rec.FakeAlertCount, rec.ValidAlertCount,
		rec.Score, boolToInt(rec.Blacklisted), unixNano(rec.LastSuspiciousAt), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save reliability: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reliability: %w", err)
	}
	return rec, nil
}

func (s *Storage) AddPatternEntry(entry *models.PatternEntry) error {
	tagsJSON, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	pricesJSON, err := json.Marshal(entry.Prices)
	if err != nil {
		return fmt.Errorf("failed to marshal prices: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO pattern_history
			(id, item_id, pattern_type, tags, confidence, prices, popular, detected_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		entry.ID, entry.ItemID, string(entry.PatternType), string(tagsJSON),
		entry.Confidence, string(pricesJSON), boolToInt(entry.Popular), entry.DetectedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pattern entry: %w", err)
	}
	return nil
}

// ListPatternHistory returns the newest pattern entries for an item.
func (s *Storage) ListPatternHistory(itemID string, limit int) ([]models.PatternEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, item_id, pattern_type, tags, confidence, prices, popular, detected_at
		FROM pattern_history WHERE item_id = ?
		ORDER BY detected_at DESC LIMIT ?`, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern history: %w", err)
	}
	defer rows.Close()

	var entries []models.PatternEntry
	for rows.Next() {
		var e models.PatternEntry
		var patternType, tagsJSON, pricesJSON string
		var popular int
		var detectedAtNano int64
		if err := rows.Scan(&e.ID, &e.ItemID, &patternType, &tagsJSON, &e.Confidence,
			&pricesJSON, &popular, &detectedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan pattern entry: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
		if err := json.Unmarshal([]byte(pricesJSON), &e.Prices); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prices: %w", err)
		}
		e.PatternType = models.PatternTag(patternType)
		e.Popular = popular != 0
		e.DetectedAt = time.Unix(0, detectedAtNano)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Storage) RecordMonitoring(itemID string, at time.Time) error {
	if _, err := s.db.Exec(`INSERT INTO monitoring_log (item_id, checked_at) VALUES (?,?)`,
		itemID, at.UnixNano()); err != nil {
		return fmt.Errorf("failed to record monitoring: %w", err)
	}
	return nil
}

// CountMonitoring returns how many times the item was evaluated since the given time.
func (s *Storage) CountMonitoring(itemID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM monitoring_log WHERE item_id = ? AND checked_at >= ?`,
		itemID, since.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count monitoring: %w", err)
	}
	return n, nil
}

func (s *Storage) AddAlert(alert *models.Alert) error {
	_, err := s.db.Exec(`
		INSERT INTO alerts
			(id, item_id, kind, buy_price, sell_price, profit_after_tax, percentage, sent_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		alert.ID, alert.ItemID, string(alert.Kind), alert.BuyPrice, alert.SellPrice,
		alert.ProfitAfterTax, alert.Percentage, alert.SentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// CountAlerts returns how many alerts of kind were sent for the item since the given time.
func (s *Storage) CountAlerts(itemID string, kind models.DecisionKind, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE item_id = ? AND kind = ? AND sent_at >= ?`,
		itemID, string(kind), since.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// LastAlertAt returns when an alert of kind was last sent for the item.
// The zero time means never.
func (s *Storage) LastAlertAt(itemID string, kind models.DecisionKind) (time.Time, error) {
	var last sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(sent_at) FROM alerts WHERE item_id = ? AND kind = ?`,
		itemID, string(kind)).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last alert: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, last.Int64), nil
}

// ClaimNotice records that the named notice is being sent at now, unless it
// was already claimed within window. It reports whether the caller won the
// claim, so restarts in quick succession send one startup notice.
func (s *Storage) ClaimNotice(name string, window time.Duration, now time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lastNano int64
	err = tx.QueryRow(`SELECT sent_at FROM notices WHERE name = ?`, name).Scan(&lastNano)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("failed to read notice: %w", err)
	case now.Sub(time.Unix(0, lastNano)) < window:
		return false, nil
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO notices (name, sent_at) VALUES (?,?)`,
		name, now.UnixNano()); err != nil {
		return false, fmt.Errorf("failed to claim notice: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit notice: %w", err)
	}
	return true, nil
}

// PruneHistory deletes monitoring log, pattern history and alert rows older
// than before. Items and reliability records are never pruned.
func (s *Storage) PruneHistory(before time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cutoff := before.UnixNano()
	var total int64
	for _, stmt := range []string{
		`DELETE FROM monitoring_log WHERE checked_at < ?`,
		`DELETE FROM pattern_history WHERE detected_at < ?`,
		`DELETE FROM alerts WHERE sent_at < ?`,
	} {
		res, err := tx.Exec(stmt, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to prune history: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return total, nil
}

const itemCols = `id, name, rating, rarity_tag, url, created_at`

const itemColsPrefixed = `i.id, i.name, i.rating, i.rarity_tag, i.url, i.created_at`

func scanItem(scan func(...any) error) (*models.Item, error) {
	var item models.Item
	var rarity, url sql.NullString
	var createdAtNano int64
	if err := scan(&item.ID, &item.Name, &item.Rating, &rarity, &url, &createdAtNano); err != nil {
		return nil, err
	}
	item.RarityTag = rarity.String
	item.URL = url.String
	item.CreatedAt = time.Unix(0, createdAtNano)
	return &item, nil
}

const reliabilityCols = `item_id, suspicious_pattern_count, fake_alert_count, valid_alert_count,
	score, blacklisted, last_suspicious_at, updated_at`

func scanReliability(scan func(...any) error) (*models.ReliabilityRecord, error) {
	var rec models.ReliabilityRecord
	var blacklisted int
	var lastSuspiciousNano, updatedAtNano int64
	err := scan(
		&rec.ItemID, &rec.SuspiciousPatternCount, &rec.FakeAlertCount, &rec.ValidAlertCount,
		&rec.Score, &blacklisted, &lastSuspiciousNano, &updatedAtNano,
	)
	if err != nil {
		return nil, err
	}
	rec.Blacklisted = blacklisted != 0
	if lastSuspiciousNano != 0 {
		rec.LastSuspiciousAt = time.Unix(0, lastSuspiciousNano)
	}
	rec.UpdatedAt = time.Unix(0, updatedAtNano)
	return &rec, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
