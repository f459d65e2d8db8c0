package vision

import (
	"fmt"
	"math"
)

// StereoConfig holds the triangulation geometry for the two-camera rig.
//
// Mount convention: the secondary camera sits to the LEFT of the primary.
// An object straight ahead projects to the same x in both views (zero
// disparity, infinite distance); an object at finite distance projects
// further right in the secondary view, giving positive disparity.
type StereoConfig struct {
	BaselineM    float64 // physical lens separation in metres; measure the actual mount
	HFOVDegrees  float64 // horizontal field of view; ~62° for the stock sensor at SVGA
	FrameWidth   int     // pixels; drives the focal-length derivation
	MinDisparity int     // pixels; disparity below this is indistinguishable from noise
	MinRangeM    float64 // estimates closer than this are implausible and rejected
	MaxRangeM    float64 // estimates farther than this are implausible and rejected
}

// DefaultStereoConfig returns the geometry for the reference rig: 15 cm
// baseline, SVGA sensor. With that rig the usable range is roughly 3–50 m;
// beyond it the disparity drops under one pixel.
func DefaultStereoConfig() StereoConfig {
	return StereoConfig{
		BaselineM:    0.15,
		HFOVDegrees:  62.0,
		FrameWidth:   800,
		MinDisparity: 1,
		MinRangeM:    0.5,
		MaxRangeM:    80.0,
	}
}

// Validate checks the config for values the math cannot work with.
func (c StereoConfig) Validate() error {
	if c.BaselineM <= 0 {
		return fmt.Errorf("baseline must be positive, got %g", c.BaselineM)
	}
	if c.HFOVDegrees <= 0 || c.HFOVDegrees >= 180 {
		return fmt.Errorf("horizontal FOV must be in (0, 180) degrees, got %g", c.HFOVDegrees)
	}
	if c.FrameWidth <= 0 {
		return fmt.Errorf("frame width must be positive, got %d", c.FrameWidth)
	}
	if c.MinDisparity < 1 {
		return fmt.Errorf("min disparity must be at least 1 pixel, got %d", c.MinDisparity)
	}
	if c.MinRangeM <= 0 || c.MinRangeM >= c.MaxRangeM {
		return fmt.Errorf("range window [%g, %g] is invalid", c.MinRangeM, c.MaxRangeM)
	}
	return nil
}

// Triangulator converts a matched centroid pair (one per camera) into a
// distance estimate. The pixel focal length depends only on the frame width
// and the field of view, so it is derived once at construction. Stateless
// afterwards and safe to share.
type Triangulator struct {
	cfg     StereoConfig
	focalPx float64
}

// NewTriangulator derives the focal length and returns a ready triangulator:
//
//	focal_px = (width / 2) / tan(hfov / 2)
func NewTriangulator(cfg StereoConfig) *Triangulator {
	hfovRad := cfg.HFOVDegrees * math.Pi / 180
	return &Triangulator{
		cfg:     cfg,
		focalPx: float64(cfg.FrameWidth) / 2 / math.Tan(hfovRad/2),
	}
}

// FocalPx returns the derived focal length in pixels.
func (t *Triangulator) FocalPx() float64 {
	return t.focalPx
}

// Distance estimates the range in metres to the object whose centroid is at
// (px, py) on the primary camera and (sx, sy) on the secondary. ok is false
// when no usable estimate exists: insufficient disparity, wrong-sided
// disparity (blob pair cannot be the same object given the mounts), or a
// result outside the plausible range window. Callers report "unavailable",
// never a fabricated number.
//
// Disparity is the Euclidean distance between the two centroids rather than
// the pure horizontal offset: when the bike leans, the baseline rotates with
// it and the offset picks up a vertical component. Upright, dy ≈ 0 and this
// reduces to the standard x-only form.
func (t *Triangulator) Distance(px, py, sx, sy uint16) (meters float64, ok bool) {
	dx := int(sx) - int(px)
	if dx < t.cfg.MinDisparity {
		return 0, false
	}
	dy := int(sy) - int(py)
	disparity := math.Hypot(float64(dx), float64(dy))
	if disparity < float64(t.cfg.MinDisparity) {
		return 0, false
	}
	meters = t.cfg.BaselineM * t.focalPx / disparity
	if meters < t.cfg.MinRangeM || meters > t.cfg.MaxRangeM {
		return 0, false
	}
	return meters, true
}
