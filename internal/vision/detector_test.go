package vision

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFrame(w, h int) *Frame {
	return &Frame{Width: w, Height: h, Pix: make([]byte, w*h)}
}

// fillRect paints a w×h block of value v with its top-left corner at (x0, y0).
func fillRect(f *Frame, x0, y0, w, h int, v byte) {
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			f.Pix[y*f.Width+x] = v
		}
	}
}

func TestDetectorConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultDetectorConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*DetectorConfig)
	}{
		{"min above max", func(c *DetectorConfig) { c.MinBlobPixels = 10; c.MaxBlobPixels = 5 }},
		{"zero max blobs", func(c *DetectorConfig) { c.MaxBlobs = 0 }},
		{"negative merge distance", func(c *DetectorConfig) { c.MergeDist = -1 }},
		{"negative ROI start", func(c *DetectorConfig) { c.ROIYStart = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDetectorConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDetectSingleBlock(t *testing.T) {
	t.Parallel()

	f := newTestFrame(100, 100)
	fillRect(f, 40, 40, 10, 10, 255)

	d := NewDetector(DefaultDetectorConfig())
	res := d.Detect(f)

	require.Len(t, res.Blobs, 1)
	b := res.Blobs[0]
	assert.Equal(t, uint16(44), b.CX, "centroid x is the integer mean of columns 40..49")
	assert.Equal(t, uint16(44), b.CY)
	assert.Equal(t, uint32(100), b.PixelCount)
	assert.Equal(t, uint64(100*255), b.BrightnessSum)
	assert.Equal(t, uint8(255), b.AvgBrightness())
	assert.Equal(t, ClassUnknown, b.Class)
	assert.Zero(t, b.DX)
	assert.Zero(t, b.DY)

	// 25500 bright out of 10000 pixels, integer mean.
	assert.Equal(t, uint32(2), res.SceneBrightness)
}

func TestDetectThresholdIsInclusive(t *testing.T) {
	t.Parallel()

	cfg := DefaultDetectorConfig()
	cfg.Threshold = 200
	cfg.MinBlobPixels = 1

	f := newTestFrame(32, 32)
	fillRect(f, 10, 10, 4, 4, 200) // exactly at threshold
	fillRect(f, 20, 20, 4, 4, 199) // just below

	res := NewDetector(cfg).Detect(f)
	require.Len(t, res.Blobs, 1)
	assert.Equal(t, uint16(11), res.Blobs[0].CX)
}

func TestDetectMergesCloseFragments(t *testing.T) {
	t.Parallel()

	// Two 5×5 fragments separated by one dark column: disconnected for
	// labeling, but their centroids sit 6 pixels apart.
	f := newTestFrame(100, 100)
	fillRect(f, 10, 40, 5, 5, 255)
	fillRect(f, 16, 40, 5, 5, 255)

	cfg := DefaultDetectorConfig()
	cfg.MinBlobPixels = 16

	res := NewDetector(cfg).Detect(f)
	require.Len(t, res.Blobs, 1, "fragments within merge distance collapse to one blob")
	b := res.Blobs[0]
	assert.Equal(t, uint32(50), b.PixelCount)
	assert.Equal(t, uint16(15), b.CX, "merged centroid is pixel-count weighted")
	assert.Equal(t, uint16(42), b.CY)
	assert.Equal(t, uint64(50*255), b.BrightnessSum)

	// With merging disabled the same frame yields both fragments.
	cfg.MergeDist = 0
	res = NewDetector(cfg).Detect(f)
	require.Len(t, res.Blobs, 2)
}

func TestDetectSizeBand(t *testing.T) {
	t.Parallel()

	cfg := DefaultDetectorConfig()
	cfg.Threshold = 100
	cfg.MinBlobPixels = 16
	cfg.MaxBlobPixels = 100

	f := newTestFrame(64, 64)
	fillRect(f, 10, 10, 3, 3, 200)   // 9 px, below minimum
	fillRect(f, 30, 30, 5, 5, 200)   // 25 px, in band
	fillRect(f, 45, 45, 12, 12, 200) // 144 px, above maximum

	res := NewDetector(cfg).Detect(f)
	require.Len(t, res.Blobs, 1)
	assert.Equal(t, uint32(25), res.Blobs[0].PixelCount)
	assert.Equal(t, uint16(32), res.Blobs[0].CX)
}

func TestDetectROIBand(t *testing.T) {
	t.Parallel()

	cfg := DefaultDetectorConfig()
	cfg.ROIYStart = 30
	cfg.ROIYEnd = 70

	f := newTestFrame(100, 100)
	fillRect(f, 40, 10, 10, 10, 255) // entirely above the band, never scanned
	fillRect(f, 40, 40, 10, 10, 255) // inside
	fillRect(f, 60, 25, 10, 10, 255) // straddles the band start, clipped to rows 30..34

	res := NewDetector(cfg).Detect(f)
	require.Len(t, res.Blobs, 2)

	assert.Equal(t, uint32(100), res.Blobs[0].PixelCount)
	assert.Equal(t, uint16(44), res.Blobs[0].CX)

	clipped := res.Blobs[1]
	assert.Equal(t, uint32(50), clipped.PixelCount, "rows outside the band do not count")
	assert.Equal(t, uint16(64), clipped.CX)
	assert.Equal(t, uint16(32), clipped.CY)

	// Brightness is the mean over band pixels only: 150 lit pixels at 255
	// across 40 rows of 100 columns.
	assert.Equal(t, uint32(9), res.SceneBrightness)
}

func TestDetectRejectsEdgeCentroids(t *testing.T) {
	t.Parallel()

	cfg := DefaultDetectorConfig()
	cfg.Threshold = 100
	cfg.MinBlobPixels = 4

	f := newTestFrame(100, 100)
	fillRect(f, 10, 0, 5, 5, 200)  // centroid row 2, hugging the top
	fillRect(f, 30, 95, 5, 5, 200) // centroid row 97, hugging the bottom
	fillRect(f, 50, 50, 5, 5, 200) // control

	res := NewDetector(cfg).Detect(f)
	require.Len(t, res.Blobs, 1)
	assert.Equal(t, uint16(52), res.Blobs[0].CY)
}

func TestDetectSortsAndTruncates(t *testing.T) {
	t.Parallel()

	cfg := DefaultDetectorConfig()
	cfg.Threshold = 100
	cfg.MinBlobPixels = 1
	cfg.MergeDist = 0

	// 18 well-separated squares with strictly increasing sizes 1²..18².
	f := newTestFrame(200, 120)
	for i := 0; i < 18; i++ {
		side := i + 1
		fillRect(f, (i%6)*32+4, (i/6)*40+6, side, side, 200)
	}

	res := NewDetector(cfg).Detect(f)
	require.Len(t, res.Blobs, cfg.MaxBlobs)

	assert.Equal(t, uint32(18*18), res.Blobs[0].PixelCount, "largest blob first")
	assert.Equal(t, uint32(3*3), res.Blobs[len(res.Blobs)-1].PixelCount, "the two smallest fall off the end")
	for i := 1; i < len(res.Blobs); i++ {
		assert.LessOrEqual(t, res.Blobs[i].PixelCount, res.Blobs[i-1].PixelCount)
	}
}

func TestDetectLabelSpaceExhaustion(t *testing.T) {
	t.Parallel()

	cfg := DetectorConfig{
		Threshold:     100,
		MinBlobPixels: 1,
		MaxBlobPixels: 1 << 20,
		MaxBlobs:      600,
		MergeDist:     0,
	}

	// 650 isolated pixels on a stride-2 grid: more regions than the label
	// space can hold. The overflow is dropped, not an error.
	f := newTestFrame(100, 60)
	planted := 0
	for j := 0; j < 13; j++ {
		for i := 0; i < 50; i++ {
			f.Pix[(4+2*j)*f.Width+2*i] = 255
			planted++
		}
	}
	require.Equal(t, 650, planted)

	res := NewDetector(cfg).Detect(f)
	assert.Len(t, res.Blobs, maxLabels-1)
	for _, b := range res.Blobs {
		assert.Equal(t, uint32(1), b.PixelCount)
	}
}

func TestDetectDeterministic(t *testing.T) {
	t.Parallel()

	cfg := DefaultDetectorConfig()
	cfg.MinBlobPixels = 1
	cfg.MergeDist = 5

	// A fixed interference pattern with plenty of above-threshold structure.
	f := newTestFrame(120, 90)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			f.Pix[y*f.Width+x] = byte((x*31 + y*17) % 251)
		}
	}

	d := NewDetector(cfg)
	first := d.Detect(f)
	second := d.Detect(f)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated detection diverged (-first +second):\n%s", diff)
	}

	// A detector whose scratch buffers held the interference pattern must
	// agree with a fresh one on the next frame: no state leaks between calls.
	single := newTestFrame(120, 90)
	fillRect(single, 50, 40, 8, 8, 255)

	fromReused := d.Detect(single)
	fromFresh := NewDetector(cfg).Detect(single)
	if diff := cmp.Diff(fromFresh, fromReused); diff != "" {
		t.Errorf("scratch reuse changed the result (-fresh +reused):\n%s", diff)
	}
}

func TestDetectInvalidFrame(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultDetectorConfig())

	for _, f := range []*Frame{
		{Width: 10, Height: 10, Pix: nil},
		{Width: 10, Height: 10, Pix: make([]byte, 50)},
		{Width: 0, Height: 10, Pix: []byte{}},
		{Width: -1, Height: 10, Pix: []byte{}},
	} {
		res := d.Detect(f)
		assert.Empty(t, res.Blobs)
		assert.Zero(t, res.SceneBrightness)
	}
}

func TestBlobAvgBrightness(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint8(0), Blob{}.AvgBrightness(), "empty blob reports zero, not a division fault")
	assert.Equal(t, uint8(128), Blob{PixelCount: 4, BrightnessSum: 512}.AvgBrightness())
}
