package vision

import (
	"fmt"
	"sort"
)

// Centroids within this many rows of the frame's top or bottom edge are
// rejected: the sensor rows nearest the edges carry readout artifacts that
// threshold into thin phantom blobs.
const (
	edgeMarginTop    = 3
	edgeMarginBottom = 4
)

// DetectorConfig holds the per-frame blob detection tuning.
type DetectorConfig struct {
	Threshold     uint8  // pixel value at or above this counts as foreground (0–255)
	MinBlobPixels uint32 // blobs smaller than this are noise
	MaxBlobPixels uint32 // blobs larger than this are whole-frame wash
	MaxBlobs      int    // capacity of one DetectionResult
	MergeDist     int    // Manhattan px; closer centroids merge into one blob
	ROIYStart     int    // top row of the detection band (0 = frame top)
	ROIYEnd       int    // bottom row, exclusive (0 = use full frame)
}

// DefaultDetectorConfig returns the detection tuning scaled for SVGA
// (800x600) night scenes.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Threshold:     200,
		MinBlobPixels: 16,
		MaxBlobPixels: 70000,
		MaxBlobs:      16,
		MergeDist:     20,
		ROIYStart:     0,
		ROIYEnd:       0,
	}
}

// Validate checks the config for internally inconsistent values.
func (c DetectorConfig) Validate() error {
	if c.MinBlobPixels > c.MaxBlobPixels {
		return fmt.Errorf("min blob pixels %d exceeds max %d", c.MinBlobPixels, c.MaxBlobPixels)
	}
	if c.MaxBlobs <= 0 {
		return fmt.Errorf("max blobs must be positive, got %d", c.MaxBlobs)
	}
	if c.MergeDist < 0 {
		return fmt.Errorf("merge distance must be non-negative, got %d", c.MergeDist)
	}
	if c.ROIYStart < 0 || c.ROIYEnd < 0 {
		return fmt.Errorf("ROI bounds must be non-negative, got [%d, %d)", c.ROIYStart, c.ROIYEnd)
	}
	return nil
}

// Detector finds bright blobs in a grayscale frame using two-pass connected
// component labeling with an 8-neighborhood union-find. The scratch tables
// (per-pixel label map, per-label accumulators) are owned by the Detector
// and reused frame to frame, so a long-running loop allocates only on the
// first call or when the frame size grows. Not safe for concurrent use.
type Detector struct {
	cfg DetectorConfig

	labels []uint16 // per-pixel provisional labels, frame-sized
	uf     labelSet

	// Per-root accumulators, indexed by label.
	sumX  [maxLabels]uint64
	sumY  [maxLabels]uint64
	bsum  [maxLabels]uint64
	count [maxLabels]uint32
}

// NewDetector creates a detector with the given tuning. The config is not
// validated here; call DetectorConfig.Validate when loading operator input.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Config returns the detector's tuning.
func (d *Detector) Config() DetectorConfig {
	return d.cfg
}

// Detect runs one frame through the detector and returns the blobs found in
// the configured region of interest plus the region's mean brightness. The
// frame buffer is only read, and only for the duration of this call. An
// invalid frame degrades to an empty result: in a real-time loop a skipped
// frame beats a stalled one.
func (d *Detector) Detect(f *Frame) DetectionResult {
	var res DetectionResult
	if f.Validate() != nil {
		return res
	}

	yStart, yEnd := d.normalizeROI(f.Height)
	if yStart >= yEnd {
		return res
	}

	d.prepareScratch(f.Width * f.Height)

	// Pass 1: threshold and provisionally label, unioning the labels of the
	// four already-visited neighbors (left, upper-left, upper, upper-right:
	// the visited half of the 8-neighborhood). Mean scene brightness falls
	// out of the same sweep for free.
	var sceneSum uint64
	for y := yStart; y < yEnd; y++ {
		row := y * f.Width
		up := row - f.Width
		for x := 0; x < f.Width; x++ {
			px := f.Pix[row+x]
			sceneSum += uint64(px)
			if px < d.cfg.Threshold {
				continue
			}

			var neigh [4]uint16
			n := 0
			if x > 0 {
				if l := d.labels[row+x-1]; l != 0 {
					neigh[n] = l
					n++
				}
			}
			if y > yStart {
				if x > 0 {
					if l := d.labels[up+x-1]; l != 0 {
						neigh[n] = l
						n++
					}
				}
				if l := d.labels[up+x]; l != 0 {
					neigh[n] = l
					n++
				}
				if x+1 < f.Width {
					if l := d.labels[up+x+1]; l != 0 {
						neigh[n] = l
						n++
					}
				}
			}

			if n == 0 {
				// Fresh region. When the label space is exhausted the pixel
				// stays background: excess blobs are silently dropped, a
				// documented capacity limit rather than an error.
				if l, ok := d.uf.alloc(); ok {
					d.labels[row+x] = l
				}
				continue
			}

			lowest := neigh[0]
			for i := 1; i < n; i++ {
				if neigh[i] < lowest {
					lowest = neigh[i]
				}
			}
			d.labels[row+x] = lowest
			for i := 0; i < n; i++ {
				if neigh[i] != lowest {
					d.uf.union(lowest, neigh[i])
				}
			}
		}
	}

	roiPixels := uint64(yEnd-yStart) * uint64(f.Width)
	res.SceneBrightness = uint32(sceneSum / roiPixels)

	// Pass 2: resolve every labeled pixel to its union-find root and
	// accumulate centroid sums, pixel count and brightness per root.
	for y := yStart; y < yEnd; y++ {
		row := y * f.Width
		for x := 0; x < f.Width; x++ {
			l := d.labels[row+x]
			if l == 0 {
				continue
			}
			root := d.uf.find(l)
			d.count[root]++
			d.sumX[root] += uint64(x)
			d.sumY[root] += uint64(y)
			d.bsum[root] += uint64(f.Pix[row+x])
		}
	}

	// Collect size-qualified roots, sort by size, cap, then merge fragments.
	cands := d.collect(f.Height)
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].PixelCount > cands[j].PixelCount
	})
	if len(cands) > d.cfg.MaxBlobs {
		cands = cands[:d.cfg.MaxBlobs]
	}
	res.Blobs = mergeClose(cands, d.cfg.MergeDist)
	return res
}

// normalizeROI clamps the configured vertical band to the frame: a zero or
// out-of-range end means "to the bottom", and an inverted band falls back to
// the full frame.
func (d *Detector) normalizeROI(height int) (int, int) {
	yStart, yEnd := d.cfg.ROIYStart, d.cfg.ROIYEnd
	if yEnd == 0 || yEnd > height {
		yEnd = height
	}
	if yStart >= yEnd {
		yStart = 0
	}
	return yStart, yEnd
}

// prepareScratch zeroes the reusable tables for a new frame, growing the
// label map if the frame is larger than anything seen before.
func (d *Detector) prepareScratch(pixels int) {
	if cap(d.labels) < pixels {
		d.labels = make([]uint16, pixels)
	} else {
		d.labels = d.labels[:pixels]
		clear(d.labels)
	}
	d.uf.reset()
	clear(d.sumX[:])
	clear(d.sumY[:])
	clear(d.bsum[:])
	clear(d.count[:])
}

// collect emits one candidate Blob per union-find root whose pixel count
// lies inside the configured size band, with integer-mean centroids.
// Centroids hugging the top or bottom rows are sensor artifacts and are
// rejected here.
func (d *Detector) collect(height int) []Blob {
	var cands []Blob
	for l := uint16(1); l < d.uf.next; l++ {
		if d.uf.parent[l] != l {
			continue
		}
		pc := d.count[l]
		if pc < d.cfg.MinBlobPixels || pc > d.cfg.MaxBlobPixels {
			continue
		}
		cx := d.sumX[l] / uint64(pc)
		cy := d.sumY[l] / uint64(pc)
		if cy < edgeMarginTop || cy > uint64(height)-edgeMarginBottom {
			continue
		}
		cands = append(cands, Blob{
			CX:            uint16(cx),
			CY:            uint16(cy),
			PixelCount:    pc,
			BrightnessSum: d.bsum[l],
		})
	}
	return cands
}

// mergeClose collapses blobs whose centroids sit within dist Manhattan
// pixels of each other. Multi-die lamps threshold into separate fragments a
// few pixels apart; merging them restores one blob per physical light. The
// later (smaller) blob folds into the earlier one with a pixel-count-weighted
// centroid, and the survivor is re-compared at the same position so chains of
// fragments collapse in a single pass.
func mergeClose(blobs []Blob, dist int) []Blob {
	for i := 0; i < len(blobs); i++ {
		for j := i + 1; j < len(blobs); {
			dx := absInt(int(blobs[i].CX) - int(blobs[j].CX))
			dy := absInt(int(blobs[i].CY) - int(blobs[j].CY))
			if dx+dy > dist {
				j++
				continue
			}
			pi := uint64(blobs[i].PixelCount)
			pj := uint64(blobs[j].PixelCount)
			total := pi + pj
			blobs[i].CX = uint16((uint64(blobs[i].CX)*pi + uint64(blobs[j].CX)*pj) / total)
			blobs[i].CY = uint16((uint64(blobs[i].CY)*pi + uint64(blobs[j].CY)*pj) / total)
			blobs[i].PixelCount = uint32(total)
			blobs[i].BrightnessSum += blobs[j].BrightnessSum
			blobs = append(blobs[:j], blobs[j+1:]...)
		}
	}
	return blobs
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
