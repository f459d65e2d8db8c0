package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/lumen.report/internal/vision"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 500
)

// clampLimit maps a caller-supplied row limit onto [1, maxQueryLimit], with
// zero and negative values falling back to the default.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// FrameRecord is one stored capture summary plus its blob rows.
type FrameRecord struct {
	ID              int64        `json:"id"`
	SessionID       string       `json:"session_id"`
	FrameNum        int64        `json:"frame_num"`
	CapturedAtUnix  float64      `json:"captured_at_unix"`
	SceneBrightness int          `json:"scene_brightness"`
	FPS             float64      `json:"fps"`
	BlobCount       int          `json:"blob_count"`
	Blobs           []BlobRecord `json:"blobs,omitempty"`
}

// BlobRecord is one stored blob, flattened for reporting. Slot is the blob's
// position in the detection result, so slot 0 is the largest blob of its
// frame.
type BlobRecord struct {
	Slot          int    `json:"slot"`
	CX            int    `json:"cx"`
	CY            int    `json:"cy"`
	PixelCount    int64  `json:"pixel_count"`
	AvgBrightness int    `json:"avg_brightness"`
	Class         string `json:"class"`
	DX            int    `json:"dx"`
	DY            int    `json:"dy"`
}

// RecordFrame stores one frame summary and its blobs in a single transaction
// and returns the frame rowid for range estimates to reference.
func (db *DB) RecordFrame(sessionID string, frameNum uint64, capturedAt time.Time, fps float64, result vision.DetectionResult) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin frame tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO frames (session_id, frame_num, captured_at, scene_brightness, fps, blob_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, int64(frameNum), unixSeconds(capturedAt),
		int64(result.SceneBrightness), fps, len(result.Blobs),
	)
	if err != nil {
		return 0, fmt.Errorf("insert frame: %w", err)
	}
	frameID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("frame rowid: %w", err)
	}

	for slot, b := range result.Blobs {
		_, err := tx.Exec(`
			INSERT INTO blobs (frame_id, slot, cx, cy, pixel_count, avg_brightness, class, dx, dy)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			frameID, slot, b.CX, b.CY, int64(b.PixelCount), b.AvgBrightness(),
			b.Class.String(), b.DX, b.DY,
		)
		if err != nil {
			return 0, fmt.Errorf("insert blob %d: %w", slot, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit frame tx: %w", err)
	}
	return frameID, nil
}

// RecentFrames returns the most recent stored frames, newest first, each
// with its blob rows attached.
func (db *DB) RecentFrames(limit int) ([]FrameRecord, error) {
	rows, err := db.Query(`
		SELECT id, session_id, frame_num, captured_at, scene_brightness, fps, blob_count
		FROM frames
		ORDER BY id DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent frames: %w", err)
	}
	frames, err := scanFrames(rows)
	if err != nil {
		return nil, err
	}

	for i := range frames {
		frames[i].Blobs, err = db.frameBlobs(frames[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return frames, nil
}

// SessionFrames returns every stored frame for one session in capture order,
// without blob rows. Plotting reads brightness and fps series from this.
func (db *DB) SessionFrames(sessionID string) ([]FrameRecord, error) {
	rows, err := db.Query(`
		SELECT id, session_id, frame_num, captured_at, scene_brightness, fps, blob_count
		FROM frames
		WHERE session_id = ?
		ORDER BY frame_num`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session frames: %w", err)
	}
	return scanFrames(rows)
}

func scanFrames(rows *sql.Rows) ([]FrameRecord, error) {
	defer rows.Close()

	var frames []FrameRecord
	for rows.Next() {
		var f FrameRecord
		if err := rows.Scan(
			&f.ID, &f.SessionID, &f.FrameNum, &f.CapturedAtUnix,
			&f.SceneBrightness, &f.FPS, &f.BlobCount,
		); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

func (db *DB) frameBlobs(frameID int64) ([]BlobRecord, error) {
	rows, err := db.Query(`
		SELECT slot, cx, cy, pixel_count, avg_brightness, class, dx, dy
		FROM blobs
		WHERE frame_id = ?
		ORDER BY slot`, frameID)
	if err != nil {
		return nil, fmt.Errorf("query blobs for frame %d: %w", frameID, err)
	}
	defer rows.Close()

	var blobs []BlobRecord
	for rows.Next() {
		var b BlobRecord
		if err := rows.Scan(
			&b.Slot, &b.CX, &b.CY, &b.PixelCount, &b.AvgBrightness,
			&b.Class, &b.DX, &b.DY,
		); err != nil {
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		blobs = append(blobs, b)
	}
	return blobs, rows.Err()
}
