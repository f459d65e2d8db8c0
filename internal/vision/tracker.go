package vision

import (
	"fmt"
	"math"
)

// TrackerConfig holds the inter-frame classification tuning. All distances
// are Manhattan pixels (|dx| + |dy|) between blob centroids in consecutive
// frames, scaled for SVGA.
type TrackerConfig struct {
	MatchMaxDist     int // max centroid travel to count as the same blob
	StaticMaxMotion  int // travel at or below this reads as a fixed light
	VehicleMinMotion int // travel at or above this reads as a vehicle
	ConfirmFrames    int // consecutive agreeing frames before a class is confirmed

	// Own-headlight reflection filter: large bright blobs low in the frame
	// are almost certainly our own beam bouncing off the road surface.
	ReflectionMinY      int    // rows strictly below this (greater y) qualify
	ReflectionMinPixels uint32 // blobs strictly larger than this qualify
}

// DefaultTrackerConfig returns the tracking tuning scaled for SVGA frames.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MatchMaxDist:        25,
		StaticMaxMotion:     4,
		VehicleMinMotion:    12,
		ConfirmFrames:       3,
		ReflectionMinY:      600 * 3 / 4,
		ReflectionMinPixels: 70000 / 2,
	}
}

// Validate checks the config for internally inconsistent values.
func (c TrackerConfig) Validate() error {
	if c.MatchMaxDist < 0 {
		return fmt.Errorf("match distance must be non-negative, got %d", c.MatchMaxDist)
	}
	if c.StaticMaxMotion >= c.VehicleMinMotion {
		return fmt.Errorf("static motion bound %d must be below vehicle bound %d",
			c.StaticMaxMotion, c.VehicleMinMotion)
	}
	if c.ConfirmFrames < 1 || c.ConfirmFrames > 255 {
		return fmt.Errorf("confirm frames must be in [1, 255], got %d", c.ConfirmFrames)
	}
	return nil
}

// trackSlot is the persistent per-blob state carried between frames:
// the previous centroid plus the hysteresis voting state.
type trackSlot struct {
	cx, cy    uint16
	confirmed Classification
	pending   Classification
	votes     uint8
}

// Tracker assigns classifications to successive detection results by
// matching each frame's blobs against the previous frame's centroids and
// voting the per-blob motion signal through an N-frame hysteresis.
//
// Identity is re-derived every frame by nearest-neighbor matching; a slot
// index never survives a frame on its own. The voting state is re-indexed
// from previous-frame slot order to current-frame order after every call,
// so reading state at a recycled index is impossible by construction.
//
// Owned by a single processing loop; not safe for concurrent use.
type Tracker struct {
	cfg  TrackerConfig
	prev []trackSlot
}

// NewTracker creates a tracker with the given tuning.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{cfg: cfg}
}

// Config returns the tracker's tuning.
func (t *Tracker) Config() TrackerConfig {
	return t.cfg
}

// Reset discards all carried state, as if no frame had been seen.
func (t *Tracker) Reset() {
	t.prev = nil
}

// Classify fills in Class, DX and DY for every blob in res (in detection
// order, largest first) and advances the carried state for the next frame.
func (t *Tracker) Classify(res *DetectionResult) {
	// claimed[j] prevents two current blobs matching the same previous slot;
	// earlier (larger) blobs win contested slots.
	claimed := make([]bool, len(t.prev))

	// matchMap[i] = previous-frame slot matched by current blob i, or -1 for
	// unmatched (new blob or reflection-filtered). Needed to re-index the
	// voting state into current-frame order below.
	matchMap := make([]int, len(res.Blobs))
	for i := range matchMap {
		matchMap[i] = -1
	}

	for i := range res.Blobs {
		b := &res.Blobs[i]
		b.DX, b.DY = 0, 0

		// Our own beam reflecting off the road shows up as a large bright
		// blob in the bottom quarter of the frame. Geometry is conclusive:
		// classify immediately, no voting, no slot consumed in the match.
		if int(b.CY) > t.cfg.ReflectionMinY && b.PixelCount > t.cfg.ReflectionMinPixels {
			b.Class = ClassStaticLight
			continue
		}

		if len(t.prev) == 0 {
			b.Class = ClassUnknown
			continue
		}

		bestJ := -1
		bestDist := math.MaxInt
		for j := range t.prev {
			if claimed[j] {
				continue
			}
			dist := absInt(int(b.CX)-int(t.prev[j].cx)) + absInt(int(b.CY)-int(t.prev[j].cy))
			if dist < bestDist {
				bestDist = dist
				bestJ = j
			}
		}
		if bestJ < 0 || bestDist > t.cfg.MatchMaxDist {
			// New blob, no history to vote on.
			b.Class = ClassUnknown
			continue
		}

		claimed[bestJ] = true
		matchMap[i] = bestJ
		slot := &t.prev[bestJ]
		b.DX = int16(int(b.CX) - int(slot.cx))
		b.DY = int16(int(b.CY) - int(slot.cy))
		motion := absInt(int(b.DX)) + absInt(int(b.DY))

		// TODO: subtract expected parallax drift from bike speed (wheel
		// sensor) before thresholding, so a streetlamp drifting with our own
		// motion is not mistaken for a slow vehicle.
		var raw Classification
		switch {
		case motion <= t.cfg.StaticMaxMotion:
			raw = ClassStaticLight
		case motion >= t.cfg.VehicleMinMotion:
			raw = ClassVehicle
		default:
			raw = ClassUnknown
		}

		// N-frame hysteresis: the confirmed class only moves after
		// ConfirmFrames consecutive frames agree on the same raw signal.
		if raw == slot.pending {
			if slot.votes < math.MaxUint8 {
				slot.votes++
			}
		} else {
			slot.pending = raw
			slot.votes = 1
		}
		if int(slot.votes) >= t.cfg.ConfirmFrames {
			slot.confirmed = slot.pending
		}
		b.Class = slot.confirmed
	}

	// Re-index the carried state from previous-frame slot order to
	// current-frame order. The votes above were updated at the old index j,
	// but next frame's matcher will find this blob's centroid at index i;
	// without the re-index it would read another blob's voting state.
	next := make([]trackSlot, len(res.Blobs))
	for i := range res.Blobs {
		if j := matchMap[i]; j >= 0 {
			next[i].confirmed = t.prev[j].confirmed
			next[i].pending = t.prev[j].pending
			next[i].votes = t.prev[j].votes
		}
		// Unmatched blobs start with zeroed voting state.
		next[i].cx = res.Blobs[i].CX
		next[i].cy = res.Blobs[i].CY
	}
	t.prev = next

	// A dark frame clears everything: a light reappearing seconds later must
	// not match against a stale centroid from before the gap.
	if len(res.Blobs) == 0 {
		t.Reset()
	}
}
