package node

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lumen.report/internal/monitoring"
	"github.com/banshee-data/lumen.report/internal/timeutil"
)

// LoopStats tracks loop throughput counters with thread-safe operations.
type LoopStats struct {
	mu                sync.Mutex
	clock             timeutil.Clock
	frames            int64
	blobs             int64
	packetsSent       int64
	packetsReceived   int64
	sendErrors        int64
	estimatesOK       int64
	estimatesRejected int64
	storeErrors       int64
	lastReset         time.Time
}

// LoopStatsSnapshot is one interval's worth of counters.
type LoopStatsSnapshot struct {
	Frames            int64
	Blobs             int64
	PacketsSent       int64
	PacketsReceived   int64
	SendErrors        int64
	EstimatesOK       int64
	EstimatesRejected int64
	StoreErrors       int64
	Duration          time.Duration
}

// NewLoopStats creates a LoopStats instance ticking on the given clock.
func NewLoopStats(clock timeutil.Clock) *LoopStats {
	return &LoopStats{
		clock:     clock,
		lastReset: clock.Now(),
	}
}

// AddFrame counts one processed frame and its blobs.
func (ls *LoopStats) AddFrame(blobCount int) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.frames++
	ls.blobs += int64(blobCount)
}

// AddPacketSent counts one packet written to the link.
func (ls *LoopStats) AddPacketSent() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.packetsSent++
}

// AddPacketReceived counts one peer packet consumed by the loop.
func (ls *LoopStats) AddPacketReceived() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.packetsReceived++
}

// AddSendError counts one failed link write.
func (ls *LoopStats) AddSendError() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.sendErrors++
}

// AddEstimate counts one triangulation attempt by outcome.
func (ls *LoopStats) AddEstimate(ok bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ok {
		ls.estimatesOK++
	} else {
		ls.estimatesRejected++
	}
}

// AddStoreError counts one failed database write.
func (ls *LoopStats) AddStoreError() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.storeErrors++
}

// GetAndReset returns current stats and resets counters.
func (ls *LoopStats) GetAndReset() LoopStatsSnapshot {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	now := ls.clock.Now()
	snap := LoopStatsSnapshot{
		Frames:            ls.frames,
		Blobs:             ls.blobs,
		PacketsSent:       ls.packetsSent,
		PacketsReceived:   ls.packetsReceived,
		SendErrors:        ls.sendErrors,
		EstimatesOK:       ls.estimatesOK,
		EstimatesRejected: ls.estimatesRejected,
		StoreErrors:       ls.storeErrors,
		Duration:          now.Sub(ls.lastReset),
	}

	ls.frames = 0
	ls.blobs = 0
	ls.packetsSent = 0
	ls.packetsReceived = 0
	ls.sendErrors = 0
	ls.estimatesOK = 0
	ls.estimatesRejected = 0
	ls.storeErrors = 0
	ls.lastReset = now

	return snap
}

// LogStats logs one interval summary and resets the counters. Quiet when
// nothing happened.
func (ls *LoopStats) LogStats(role Role, window WindowSummary) {
	snap := ls.GetAndReset()
	if snap.Frames == 0 && snap.SendErrors == 0 && snap.StoreErrors == 0 {
		return
	}

	secs := snap.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}

	logMsg := fmt.Sprintf("Node stats (/sec): %.1f frames, %.1f blobs",
		float64(snap.Frames)/secs, float64(snap.Blobs)/secs)

	switch role {
	case RoleSecondary:
		logMsg += fmt.Sprintf("; sent %d packets", snap.PacketsSent)
	case RolePrimary:
		logMsg += fmt.Sprintf("; recv %d packets, %d estimates ok, %d rejected",
			snap.PacketsReceived, snap.EstimatesOK, snap.EstimatesRejected)
		if window.DistanceSamples > 0 {
			logMsg += fmt.Sprintf("; distance p50=%.2fm p95=%.2fm",
				window.DistanceP50M, window.DistanceP95M)
		}
	}

	if snap.SendErrors > 0 {
		logMsg += fmt.Sprintf(", %d send errors", snap.SendErrors)
	}
	if snap.StoreErrors > 0 {
		logMsg += fmt.Sprintf(", %d store errors", snap.StoreErrors)
	}

	monitoring.Logf("%s", logMsg)
}

// WindowSummary condenses the rolling telemetry window for the status API
// and the periodic stats line.
type WindowSummary struct {
	Frames          int     `json:"frames"`
	MeanBrightness  float64 `json:"mean_brightness"`
	DistanceSamples int     `json:"distance_samples"`
	DistanceP50M    float64 `json:"distance_p50_m"`
	DistanceP95M    float64 `json:"distance_p95_m"`
}

// telemetryWindow keeps the last N brightness and distance samples so the
// status endpoint can report medians instead of single-frame noise.
type telemetryWindow struct {
	mu         sync.Mutex
	size       int
	brightness []float64
	distances  []float64
}

func newTelemetryWindow(size int) *telemetryWindow {
	return &telemetryWindow{size: size}
}

func (tw *telemetryWindow) PushBrightness(v float64) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.brightness = pushBounded(tw.brightness, v, tw.size)
}

func (tw *telemetryWindow) PushDistance(v float64) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.distances = pushBounded(tw.distances, v, tw.size)
}

// Summary computes the window aggregates. Quantiles want sorted input, so
// it works on copies.
func (tw *telemetryWindow) Summary() WindowSummary {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	s := WindowSummary{
		Frames:          len(tw.brightness),
		DistanceSamples: len(tw.distances),
	}
	if len(tw.brightness) > 0 {
		s.MeanBrightness = stat.Mean(tw.brightness, nil)
	}
	if len(tw.distances) > 0 {
		sorted := append([]float64(nil), tw.distances...)
		sort.Float64s(sorted)
		s.DistanceP50M = stat.Quantile(0.5, stat.Empirical, sorted, nil)
		s.DistanceP95M = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	}
	return s
}

func pushBounded(buf []float64, v float64, size int) []float64 {
	buf = append(buf, v)
	if len(buf) > size {
		buf = buf[len(buf)-size:]
	}
	return buf
}
