// Package node runs the per-device processing loop: grab a frame, detect
// and classify headlight blobs, then either transmit them over the
// inter-camera link (secondary role) or merge them with the peer's packet
// and triangulate a distance (primary role). One Runner owns one loop;
// there is no internal parallelism, so the detector and tracker state need
// no locking. The only shared surface is the Status snapshot, which the
// HTTP API reads under its own mutex.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/lumen.report/internal/camera"
	"github.com/banshee-data/lumen.report/internal/monitoring"
	"github.com/banshee-data/lumen.report/internal/timeutil"
	"github.com/banshee-data/lumen.report/internal/vision"
	"github.com/banshee-data/lumen.report/internal/wire"
)

// captureRetryDelay is how long the loop backs off after a failed frame
// grab before trying again.
const captureRetryDelay = 100 * time.Millisecond

// defaultWindowSize bounds the rolling telemetry window (~10s at 30fps).
const defaultWindowSize = 300

// Role selects which half of the stereo pair this node is.
type Role string

const (
	// RolePrimary receives peer packets, triangulates and reports.
	RolePrimary Role = "primary"
	// RoleSecondary detects and transmits; it stays quiet on the console
	// unless verbose mode is on.
	RoleSecondary Role = "secondary"
)

// String implements flag.Value.
func (r Role) String() string { return string(r) }

// Set implements flag.Value so a Role can be bound with flag.Var.
func (r *Role) Set(s string) error {
	switch Role(strings.ToLower(s)) {
	case RolePrimary:
		*r = RolePrimary
	case RoleSecondary:
		*r = RoleSecondary
	default:
		return fmt.Errorf("invalid role %q (want %q or %q)", s, RolePrimary, RoleSecondary)
	}
	return nil
}

// Valid reports whether the role is one of the two known values.
func (r Role) Valid() bool {
	return r == RolePrimary || r == RoleSecondary
}

// Link is the slice of the serial mux the loop needs: publish local blobs
// and consume peer packets. Both the real mux and the disabled one satisfy
// it.
type Link interface {
	Subscribe() (string, chan []wire.Slot)
	Unsubscribe(string)
	Send([]vision.Blob) error
}

// Recorder persists per-frame telemetry. *db.DB satisfies it; tests swap
// in a fake. Persistence is best-effort: a failed write is logged and
// counted, never allowed to stall the loop.
type Recorder interface {
	RecordFrame(sessionID string, frameNum uint64, capturedAt time.Time, fps float64, result vision.DetectionResult) (int64, error)
	RecordRangeEstimate(frameID int64, peerBlobCount int, peerCX, peerCY uint16, distanceM float64, ok bool) error
}

// Config holds the collaborators for one processing loop. Source, Detector,
// Tracker and Link are required; the Triangulator only for the primary
// role. Recorder, Clock, Out and the stats fields are optional.
type Config struct {
	Role Role

	Source       camera.FrameSource
	Detector     *vision.Detector
	Tracker      *vision.Tracker
	Triangulator *vision.Triangulator
	Link         Link

	// Recorder, when set, persists frames (and estimates on the primary)
	// under SessionID.
	Recorder  Recorder
	SessionID string

	// Clock defaults to the wall clock. Tests inject a mock.
	Clock timeutil.Clock

	// Out receives the per-frame report (primary always, secondary only
	// when Verbose). Defaults to os.Stdout.
	Out     io.Writer
	Verbose bool

	// StatsInterval is how often the loop logs throughput counters;
	// zero disables the periodic line.
	StatsInterval time.Duration

	// MaxFrames stops the loop after that many frames. Zero means run
	// until the context is cancelled or the source is exhausted.
	MaxFrames uint64
}

// Validate checks that the required collaborators are present.
func (c Config) Validate() error {
	if !c.Role.Valid() {
		return fmt.Errorf("invalid role %q", c.Role)
	}
	if c.Source == nil {
		return errors.New("no frame source configured")
	}
	if c.Detector == nil {
		return errors.New("no detector configured")
	}
	if c.Tracker == nil {
		return errors.New("no tracker configured")
	}
	if c.Link == nil {
		return errors.New("no serial link configured")
	}
	if c.Role == RolePrimary && c.Triangulator == nil {
		return errors.New("primary role requires a triangulator")
	}
	if c.Recorder != nil && c.SessionID == "" {
		return errors.New("recorder configured without a session ID")
	}
	return nil
}

// Runner executes the processing loop described by its Config.
type Runner struct {
	cfg    Config
	clock  timeutil.Clock
	out    io.Writer
	stats  *LoopStats
	window *telemetryWindow

	mu     sync.Mutex
	status Status
}

// NewRunner validates the config and prepares a loop. It does not start
// anything; call Run.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	return &Runner{
		cfg:    cfg,
		clock:  clock,
		out:    out,
		stats:  NewLoopStats(clock),
		window: newTelemetryWindow(defaultWindowSize),
		status: Status{
			Role:      string(cfg.Role),
			SessionID: cfg.SessionID,
		},
	}, nil
}

// Stats exposes the loop counters, mainly for tests and the stats ticker.
func (r *Runner) Stats() *LoopStats { return r.stats }

// Run executes the loop until the context is cancelled, the source is
// exhausted (replay reaching its last frame) or MaxFrames is hit. A grab
// failure is retried after a short backoff rather than treated as fatal;
// a closed source ends the loop cleanly since that is the shutdown path.
func (r *Runner) Run(ctx context.Context) error {
	var peerCh chan []wire.Slot
	if r.cfg.Role == RolePrimary {
		id, ch := r.cfg.Link.Subscribe()
		peerCh = ch
		defer r.cfg.Link.Unsubscribe(id)
	}

	var (
		frameNum  uint64
		fps       float64
		fpsCount  int
		fpsStart  = r.clock.Now()
		statsLast = r.clock.Now()
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if r.cfg.MaxFrames > 0 && frameNum >= r.cfg.MaxFrames {
			return nil
		}

		frame, err := r.cfg.Source.Grab()
		if err != nil {
			if errors.Is(err, camera.ErrSourceClosed) {
				// Closed under us: the daemon shuts the source to
				// unblock this loop during teardown.
				return nil
			}
			if errors.Is(err, io.EOF) {
				monitoring.Logf("frame source exhausted after %d frames", frameNum)
				return nil
			}
			monitoring.Logf("frame capture failed: %v", err)
			r.clock.Sleep(captureRetryDelay)
			continue
		}
		if frame == nil {
			r.clock.Sleep(captureRetryDelay)
			continue
		}

		capturedAt := r.clock.Now()
		result := r.cfg.Detector.Detect(frame)
		r.cfg.Source.Release(frame)
		r.cfg.Tracker.Classify(&result)

		fpsCount++
		if elapsed := r.clock.Since(fpsStart); elapsed >= time.Second {
			fps = float64(fpsCount) / elapsed.Seconds()
			fpsCount = 0
			fpsStart = r.clock.Now()
		}
		frameNum++

		r.stats.AddFrame(len(result.Blobs))
		r.window.PushBrightness(float64(result.SceneBrightness))

		var (
			peer     []wire.Slot
			havePeer bool
			distance float64
			distOK   bool
		)

		switch r.cfg.Role {
		case RoleSecondary:
			if err := r.cfg.Link.Send(result.Blobs); err != nil {
				r.stats.AddSendError()
				monitoring.Logf("link send failed: %v", err)
			} else {
				r.stats.AddPacketSent()
			}
			if r.cfg.Verbose {
				writeSecondaryReport(r.out, frameNum, fps, &result)
			}

		case RolePrimary:
			// Non-blocking poll: take the newest buffered packet and
			// let older ones lapse. Detection results are perishable,
			// so a missed packet just means no estimate this cycle.
			peer, havePeer = drainNewest(peerCh)
			if havePeer {
				r.stats.AddPacketReceived()
			}

			// Match largest blob against largest blob. Both result
			// and packet slots arrive sorted by descending size.
			if havePeer && len(result.Blobs) > 0 && len(peer) > 0 {
				b := &result.Blobs[0]
				distance, distOK = r.cfg.Triangulator.Distance(b.CX, b.CY, peer[0].CX, peer[0].CY)
				r.stats.AddEstimate(distOK)
				if distOK {
					r.window.PushDistance(distance)
				}
			}

			writePrimaryReport(r.out, frameNum, fps, &result, peer, havePeer, distance, distOK)
		}

		r.persist(frameNum, capturedAt, fps, &result, peer, havePeer, distance, distOK)
		r.setStatus(frameNum, fps, capturedAt, &result, peer, havePeer, distance, distOK)

		if r.cfg.StatsInterval > 0 && r.clock.Since(statsLast) >= r.cfg.StatsInterval {
			r.stats.LogStats(r.cfg.Role, r.window.Summary())
			statsLast = r.clock.Now()
		}
	}
}

// persist writes the frame (and, on the primary, any estimate attempt) to
// the recorder. Failures are counted and logged but never stop the loop.
func (r *Runner) persist(frameNum uint64, capturedAt time.Time, fps float64, result *vision.DetectionResult, peer []wire.Slot, havePeer bool, distance float64, distOK bool) {
	if r.cfg.Recorder == nil {
		return
	}
	frameID, err := r.cfg.Recorder.RecordFrame(r.cfg.SessionID, frameNum, capturedAt, fps, *result)
	if err != nil {
		r.stats.AddStoreError()
		monitoring.Logf("record frame %d failed: %v", frameNum, err)
		return
	}
	// An estimate row is written whenever a peer packet was consumed,
	// whether or not triangulation produced a usable distance.
	if r.cfg.Role != RolePrimary || !havePeer {
		return
	}
	var cx, cy uint16
	if len(peer) > 0 {
		cx, cy = peer[0].CX, peer[0].CY
	}
	if err := r.cfg.Recorder.RecordRangeEstimate(frameID, len(peer), cx, cy, distance, distOK); err != nil {
		r.stats.AddStoreError()
		monitoring.Logf("record estimate for frame %d failed: %v", frameNum, err)
	}
}

// drainNewest empties the subscription channel and returns the last packet
// seen, if any. A closed channel (the mux shutting down mid-cycle) reads as
// no packet rather than an endless stream of nils.
func drainNewest(ch <-chan []wire.Slot) (slots []wire.Slot, ok bool) {
	if ch == nil {
		return nil, false
	}
	for {
		select {
		case s, open := <-ch:
			if !open {
				return slots, ok
			}
			slots, ok = s, true
		default:
			return slots, ok
		}
	}
}
