package node

import (
	"fmt"
	"io"

	"github.com/banshee-data/lumen.report/internal/vision"
	"github.com/banshee-data/lumen.report/internal/wire"
)

// writePrimaryReport prints the per-frame console report. The layout is
// load-bearing: field crews read these lines over the serial console and
// the wiredump tooling greps them, so keep the format stable.
func writePrimaryReport(w io.Writer, frameNum uint64, fps float64, result *vision.DetectionResult, peer []wire.Slot, havePeer bool, distance float64, distOK bool) {
	fmt.Fprintf(w, "\n--- Frame #%d | FPS: %.1f | Brightness: %d ---\n",
		frameNum, fps, result.SceneBrightness)

	if len(result.Blobs) == 0 {
		fmt.Fprintln(w, "  No blobs")
	} else {
		fmt.Fprintf(w, "  Blobs: %d\n", len(result.Blobs))
		for i := range result.Blobs {
			b := &result.Blobs[i]
			fmt.Fprintf(w, "  [%d] pos=(%d,%d) size=%d avg=%d class=%s dx=%d dy=%d\n",
				i, b.CX, b.CY, b.PixelCount, b.AvgBrightness(), b.Class, b.DX, b.DY)
		}
	}

	if havePeer {
		if len(peer) > 0 {
			fmt.Fprintf(w, "  Secondary: %d blob(s), blob[0] cx=%d\n", len(peer), peer[0].CX)
		} else {
			fmt.Fprintf(w, "  Secondary: %d blob(s)\n", len(peer))
		}
	} else {
		fmt.Fprintln(w, "  Secondary: no data")
	}

	if distOK {
		fmt.Fprintf(w, "  Distance: %.2f m\n", distance)
	} else {
		fmt.Fprintln(w, "  Distance: N/A")
	}
}

// writeSecondaryReport prints the terse bench-calibration line. On the
// hardware the secondary's console doubles as the packet wire, so this
// only runs in verbose mode where the operator has split the two.
func writeSecondaryReport(w io.Writer, frameNum uint64, fps float64, result *vision.DetectionResult) {
	fmt.Fprintf(w, "SEC #%d | FPS:%.1f | blobs:%d\n", frameNum, fps, len(result.Blobs))
}
