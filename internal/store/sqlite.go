// Package store persists hazard alerts in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/zoobzio/xwalk"
)

// ErrInvalidAlert is returned when an alert is missing its crosswalk reference.
var ErrInvalidAlert = errors.New("invalid alert: crosswalk id required")

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 500

// timestampLayout is fixed-width UTC so timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{`CREATE TABLE IF NOT EXISTS alerts (
	id                     TEXT PRIMARY KEY,
	crosswalk_id           TEXT NOT NULL,
	image_url              TEXT,
	description            TEXT,
	detection_distance     REAL,
	detected_objects_count INTEGER NOT NULL DEFAULT 1,
	led_activated          INTEGER NOT NULL DEFAULT 0,
	is_hazard              INTEGER NOT NULL DEFAULT 1,
	source                 TEXT NOT NULL DEFAULT 'engine',
	timestamp              TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS alerts_timestamp ON alerts(timestamp DESC)`,
}

// SQLite is an xwalk.AlertSink backed by a SQLite database file.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ xwalk.AlertSink = (*SQLite)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open alert store: %w", err)
	}
	// One connection keeps PRAGMAs in effect and serializes writers.
	db.SetMaxOpenConns(1)

	// WAL lets dashboard reads proceed while the supervisor writes.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		logger.Warn("could not enable WAL mode", zap.Error(err))
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		logger.Warn("could not set busy timeout", zap.Error(err))
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply alert schema: %w", err)
		}
	}

	logger.Info("alert store ready", zap.String("path", path))
	return &SQLite{db: db, logger: logger}, nil
}

// Persist inserts a. Every call creates a new row; an empty ID is filled in.
func (s *SQLite) Persist(ctx context.Context, a xwalk.Alert) error {
	if a.CrosswalkID == "" {
		return ErrInvalidAlert
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	if a.Source == "" {
		a.Source = xwalk.SourceEngine
	}

	var distance sql.NullFloat64
	if a.DetectionDistance != 0 {
		distance = sql.NullFloat64{Float64: a.DetectionDistance, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts(id, crosswalk_id, image_url, description, detection_distance,
			detected_objects_count, led_activated, is_hazard, source, timestamp)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.CrosswalkID, a.ImageURL, a.Description, distance,
		a.DetectedObjectsCount, a.LEDActivated, a.IsHazard, a.Source,
		a.Timestamp.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

// List returns up to limit alerts, newest first. A non-positive limit
// selects DefaultListLimit.
func (s *SQLite) List(ctx context.Context, limit int) ([]xwalk.Alert, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, crosswalk_id, image_url, description, detection_distance,
			detected_objects_count, led_activated, is_hazard, source, timestamp
		FROM alerts ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]xwalk.Alert, 0)
	for rows.Next() {
		var (
			a           xwalk.Alert
			imageURL    sql.NullString
			description sql.NullString
			distance    sql.NullFloat64
			ts          string
		)
		if err := rows.Scan(&a.ID, &a.CrosswalkID, &imageURL, &description, &distance,
			&a.DetectedObjectsCount, &a.LEDActivated, &a.IsHazard, &a.Source, &ts); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.ImageURL = imageURL.String
		a.Description = description.String
		a.DetectionDistance = distance.Float64
		if t, err := time.Parse(timestampLayout, ts); err == nil {
			a.Timestamp = t
		} else {
			s.logger.Warn("alert has unreadable timestamp", zap.String("id", a.ID), zap.String("timestamp", ts))
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

// Count returns the number of stored alerts.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
