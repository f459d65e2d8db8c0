package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one continuous run of the capture loop. The config snapshot
// records the effective tuning the run started with, so stored telemetry can
// still be interpreted after the tuning file changes.
type Session struct {
	ID            string  `json:"id"`
	Role          string  `json:"role"`
	StartedAtUnix float64 `json:"started_at_unix"`
	ConfigJSON    string  `json:"config_json,omitempty"`
}

// BeginSession inserts a new session row and returns it. An empty configJSON
// is stored as an empty JSON object.
func (db *DB) BeginSession(role string, startedAt time.Time, configJSON string) (*Session, error) {
	if configJSON == "" {
		configJSON = "{}"
	}
	s := &Session{
		ID:            uuid.New().String(),
		Role:          role,
		StartedAtUnix: unixSeconds(startedAt),
		ConfigJSON:    configJSON,
	}

	_, err := db.Exec(
		`INSERT INTO sessions (id, role, started_at, config_json) VALUES (?, ?, ?, ?)`,
		s.ID, s.Role, s.StartedAtUnix, s.ConfigJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// LatestSession returns the most recently begun session, or an error when
// the database has none.
func (db *DB) LatestSession() (*Session, error) {
	var s Session
	err := db.QueryRow(
		`SELECT id, role, started_at, config_json FROM sessions ORDER BY rowid DESC LIMIT 1`,
	).Scan(&s.ID, &s.Role, &s.StartedAtUnix, &s.ConfigJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no sessions recorded")
	}
	if err != nil {
		return nil, fmt.Errorf("query latest session: %w", err)
	}
	return &s, nil
}

// SessionSummary aggregates one session's stored telemetry. The distance
// bounds are nil when the session has no resolved range estimates.
type SessionSummary struct {
	Session
	FrameCount    int64    `json:"frame_count"`
	BlobCount     int64    `json:"blob_count"`
	AvgFPS        float64  `json:"avg_fps"`
	EstimateCount int64    `json:"estimate_count"`
	MinDistanceM  *float64 `json:"min_distance_m,omitempty"`
	MaxDistanceM  *float64 `json:"max_distance_m,omitempty"`
}

// SessionSummary returns the stored aggregate view of one session.
func (db *DB) SessionSummary(sessionID string) (*SessionSummary, error) {
	var sum SessionSummary
	err := db.QueryRow(`
		SELECT s.id, s.role, s.started_at, s.config_json,
		       COUNT(f.id),
		       COALESCE(SUM(f.blob_count), 0),
		       COALESCE(AVG(f.fps), 0)
		FROM sessions s
		LEFT JOIN frames f ON f.session_id = s.id
		WHERE s.id = ?
		GROUP BY s.id`, sessionID).Scan(
		&sum.ID, &sum.Role, &sum.StartedAtUnix, &sum.ConfigJSON,
		&sum.FrameCount, &sum.BlobCount, &sum.AvgFPS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("query session summary: %w", err)
	}

	var minDist, maxDist sql.NullFloat64
	err = db.QueryRow(`
		SELECT COUNT(r.id), MIN(r.distance_m), MAX(r.distance_m)
		FROM range_estimates r
		JOIN frames f ON f.id = r.frame_id
		WHERE f.session_id = ?`, sessionID).Scan(&sum.EstimateCount, &minDist, &maxDist)
	if err != nil {
		return nil, fmt.Errorf("query range aggregates: %w", err)
	}
	if minDist.Valid {
		sum.MinDistanceM = &minDist.Float64
	}
	if maxDist.Valid {
		sum.MaxDistanceM = &maxDist.Float64
	}

	return &sum, nil
}

// unixSeconds converts a time to fractional unix seconds, the resolution
// every stored timestamp uses.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
