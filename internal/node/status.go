package node

import (
	"time"

	"github.com/banshee-data/lumen.report/internal/vision"
	"github.com/banshee-data/lumen.report/internal/wire"
)

// Status is a point-in-time snapshot of the loop for the HTTP API. All
// distances are meters; the API layer converts units on the way out.
type Status struct {
	Role      string `json:"role"`
	SessionID string `json:"session_id,omitempty"`

	FrameNum        uint64    `json:"frame_num"`
	FPS             float64   `json:"fps"`
	SceneBrightness uint32    `json:"scene_brightness"`
	LastFrameAt     time.Time `json:"last_frame_at"`

	Blobs []BlobStatus `json:"blobs"`

	// Peer is nil when no packet arrived on the last cycle (and always on
	// the secondary).
	Peer *PeerStatus `json:"peer,omitempty"`

	// DistanceM is nil when the last cycle produced no usable estimate.
	DistanceM *float64 `json:"distance_m,omitempty"`

	Window WindowSummary `json:"window"`
}

// BlobStatus is one classified blob in API form.
type BlobStatus struct {
	CX            uint16 `json:"cx"`
	CY            uint16 `json:"cy"`
	PixelCount    uint32 `json:"pixel_count"`
	AvgBrightness uint8  `json:"avg_brightness"`
	Class         string `json:"class"`
	DX            int16  `json:"dx"`
	DY            int16  `json:"dy"`
}

// PeerStatus summarises the packet consumed on the last cycle.
type PeerStatus struct {
	BlobCount int    `json:"blob_count"`
	CX        uint16 `json:"cx"`
	CY        uint16 `json:"cy"`
}

func (r *Runner) setStatus(frameNum uint64, fps float64, capturedAt time.Time, result *vision.DetectionResult, peer []wire.Slot, havePeer bool, distance float64, distOK bool) {
	blobs := make([]BlobStatus, len(result.Blobs))
	for i := range result.Blobs {
		b := &result.Blobs[i]
		blobs[i] = BlobStatus{
			CX:            b.CX,
			CY:            b.CY,
			PixelCount:    b.PixelCount,
			AvgBrightness: b.AvgBrightness(),
			Class:         b.Class.String(),
			DX:            b.DX,
			DY:            b.DY,
		}
	}

	var peerStatus *PeerStatus
	if havePeer {
		ps := PeerStatus{BlobCount: len(peer)}
		if len(peer) > 0 {
			ps.CX, ps.CY = peer[0].CX, peer[0].CY
		}
		peerStatus = &ps
	}

	var dist *float64
	if distOK {
		d := distance
		dist = &d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = Status{
		Role:            string(r.cfg.Role),
		SessionID:       r.cfg.SessionID,
		FrameNum:        frameNum,
		FPS:             fps,
		SceneBrightness: result.SceneBrightness,
		LastFrameAt:     capturedAt,
		Blobs:           blobs,
		Peer:            peerStatus,
		DistanceM:       dist,
		Window:          r.window.Summary(),
	}
}

// Status returns a copy of the latest snapshot. Safe to call from any
// goroutine.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	s.Blobs = append([]BlobStatus(nil), r.status.Blobs...)
	if r.status.Peer != nil {
		p := *r.status.Peer
		s.Peer = &p
	}
	if r.status.DistanceM != nil {
		d := *r.status.DistanceM
		s.DistanceM = &d
	}
	return s
}
