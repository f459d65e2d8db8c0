package vision

import "fmt"

// Classification is the tracker's verdict on a blob's real-world identity.
type Classification uint8

const (
	// ClassUnknown means no stable motion history yet.
	ClassUnknown Classification = iota
	// ClassStaticLight is an effectively stationary light source
	// (streetlamp, lit window, reflection).
	ClassStaticLight
	// ClassVehicle is a light moving fast enough across the frame to be a
	// vehicle lamp.
	ClassVehicle
)

// String returns the report label for the classification.
func (c Classification) String() string {
	switch c {
	case ClassStaticLight:
		return "STATIC_LIGHT"
	case ClassVehicle:
		return "VEHICLE"
	default:
		return "UNKNOWN"
	}
}

// Frame is an immutable view of one grayscale capture: Width*Height samples,
// one byte per pixel, row-major. The buffer is owned by the camera
// collaborator; the detector borrows it for the duration of a single Detect
// call and never retains a reference past that call.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// At returns the sample at (x, y). No bounds check; callers iterate within
// Validate()d dimensions.
func (f *Frame) At(x, y int) byte {
	return f.Pix[y*f.Width+x]
}

// Validate reports whether the frame dimensions and buffer agree.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height {
		return fmt.Errorf("frame buffer is %d bytes, want %d for %dx%d",
			len(f.Pix), f.Width*f.Height, f.Width, f.Height)
	}
	return nil
}

// Blob is one connected bright region. The detector fills the geometry
// fields; the tracker completes Class and the motion delta.
type Blob struct {
	CX, CY        uint16 // centroid, frame coordinates
	PixelCount    uint32
	BrightnessSum uint64 // sum of member pixel values, for average brightness

	Class  Classification
	DX, DY int16 // centroid motion vs the matched blob in the previous frame
}

// AvgBrightness returns the blob's mean pixel value, 0 for an empty blob.
func (b Blob) AvgBrightness() uint8 {
	if b.PixelCount == 0 {
		return 0
	}
	return uint8(b.BrightnessSum / uint64(b.PixelCount))
}

// DetectionResult is one frame's worth of blobs, ordered by descending pixel
// count, plus the mean brightness of the sampled region. It is rebuilt from
// scratch every frame and holds no references into the source frame.
type DetectionResult struct {
	Blobs           []Blob
	SceneBrightness uint32 // 0–255
}
