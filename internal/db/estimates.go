package db

import (
	"database/sql"
	"fmt"
)

// RangeEstimate is one stored stereo distance solution, joined with the
// capture time of the frame it was computed for. DistanceM is nil when the
// pairing was rejected (disparity below the minimum or a solution outside
// the valid range).
type RangeEstimate struct {
	ID             int64    `json:"id"`
	FrameID        int64    `json:"frame_id"`
	CapturedAtUnix float64  `json:"captured_at_unix"`
	PeerBlobCount  int      `json:"peer_blob_count"`
	PeerCX         int      `json:"peer_cx"`
	PeerCY         int      `json:"peer_cy"`
	DistanceM      *float64 `json:"distance_m"`
}

// RecordRangeEstimate stores the triangulation outcome for a stored frame.
// ok=false records the attempt with a NULL distance so gaps in ranging stay
// visible in the telemetry.
func (db *DB) RecordRangeEstimate(frameID int64, peerBlobCount int, peerCX, peerCY uint16, distanceM float64, ok bool) error {
	dist := sql.NullFloat64{Float64: distanceM, Valid: ok}
	_, err := db.Exec(`
		INSERT INTO range_estimates (frame_id, peer_blob_count, peer_cx, peer_cy, distance_m)
		VALUES (?, ?, ?, ?, ?)`,
		frameID, peerBlobCount, peerCX, peerCY, dist,
	)
	if err != nil {
		return fmt.Errorf("insert range estimate: %w", err)
	}
	return nil
}

// RecentEstimates returns the most recent range estimates, newest first.
func (db *DB) RecentEstimates(limit int) ([]RangeEstimate, error) {
	rows, err := db.Query(`
		SELECT r.id, r.frame_id, f.captured_at, r.peer_blob_count, r.peer_cx, r.peer_cy, r.distance_m
		FROM range_estimates r
		JOIN frames f ON f.id = r.frame_id
		ORDER BY r.id DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent estimates: %w", err)
	}
	return scanEstimates(rows)
}

// SessionEstimates returns every range estimate for one session in capture
// order.
func (db *DB) SessionEstimates(sessionID string) ([]RangeEstimate, error) {
	rows, err := db.Query(`
		SELECT r.id, r.frame_id, f.captured_at, r.peer_blob_count, r.peer_cx, r.peer_cy, r.distance_m
		FROM range_estimates r
		JOIN frames f ON f.id = r.frame_id
		WHERE f.session_id = ?
		ORDER BY f.frame_num`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session estimates: %w", err)
	}
	return scanEstimates(rows)
}

func scanEstimates(rows *sql.Rows) ([]RangeEstimate, error) {
	defer rows.Close()

	var estimates []RangeEstimate
	for rows.Next() {
		var e RangeEstimate
		var dist sql.NullFloat64
		if err := rows.Scan(
			&e.ID, &e.FrameID, &e.CapturedAtUnix,
			&e.PeerBlobCount, &e.PeerCX, &e.PeerCY, &dist,
		); err != nil {
			return nil, fmt.Errorf("scan range estimate: %w", err)
		}
		if dist.Valid {
			e.DistanceM = &dist.Float64
		}
		estimates = append(estimates, e)
	}
	return estimates, rows.Err()
}
