// Package camera provides the frame-acquisition boundary for the detection
// pipeline. The processing loop never owns capture: it borrows frames from a
// FrameSource, runs detection, and hands the buffer straight back.
//
// Real sensor drivers live behind this interface and are not this package's
// concern. What it does ship are the two sources every bench and test needs:
// a deterministic synthetic scene generator and a PGM sequence replayer.
package camera

import (
	"errors"

	"github.com/banshee-data/lumen.report/internal/vision"
)

// ErrSourceClosed is returned by Grab once the source has been closed. The
// processing loop treats it as terminal, unlike transient capture failures
// which it retries after a backoff.
var ErrSourceClosed = errors.New("frame source closed")

// FrameSource supplies grayscale frames to the processing loop.
//
// Frames are on loan: the buffer behind a grabbed frame belongs to the
// source, and the caller must return it with Release before the next Grab.
// Sources are driven by a single loop and are not safe for concurrent use.
type FrameSource interface {
	// Grab returns the next frame, blocking up to the source's frame rate.
	// It returns an error on capture failure; the frame is nil in that case.
	Grab() (*vision.Frame, error)

	// Release returns a borrowed frame's buffer to the source. Releasing a
	// frame the source did not hand out (or nil) is a no-op.
	Release(*vision.Frame)

	// Close stops the source and releases its resources. Grab calls after
	// Close return ErrSourceClosed.
	Close() error
}
