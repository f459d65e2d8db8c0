package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/lumen.report/internal/vision"
)

// TuningConfig is the node's tuning document. The schema matches the
// /api/config endpoint so the same JSON serves both startup configuration
// and inspection of the running values.
//
// Every field is a pointer: nil means "not set, use the compiled default".
// The Get* accessors resolve that, so partial configs are safe and a file
// that overrides one number leaves everything else alone.
type TuningConfig struct {
	// Detector params
	Threshold     *int `json:"threshold,omitempty"`
	MinBlobPixels *int `json:"min_blob_pixels,omitempty"`
	MaxBlobPixels *int `json:"max_blob_pixels,omitempty"`
	MaxBlobs      *int `json:"max_blobs,omitempty"`
	MergeDist     *int `json:"merge_dist,omitempty"`
	ROIYStart     *int `json:"roi_y_start,omitempty"`
	ROIYEnd       *int `json:"roi_y_end,omitempty"`

	// Tracker params
	MatchMaxDist        *int `json:"match_max_dist,omitempty"`
	StaticMaxMotion     *int `json:"static_max_motion,omitempty"`
	VehicleMinMotion    *int `json:"vehicle_min_motion,omitempty"`
	ConfirmFrames       *int `json:"confirm_frames,omitempty"`
	ReflectionMinY      *int `json:"reflection_min_y,omitempty"`
	ReflectionMinPixels *int `json:"reflection_min_pixels,omitempty"`

	// Stereo geometry params
	BaselineM    *float64 `json:"baseline_m,omitempty"`
	HFOVDegrees  *float64 `json:"hfov_degrees,omitempty"`
	MinDisparity *int     `json:"min_disparity,omitempty"`
	MinRangeM    *float64 `json:"min_range_m,omitempty"`
	MaxRangeM    *float64 `json:"max_range_m,omitempty"`

	// Frame geometry
	FrameWidth  *int `json:"frame_width,omitempty"`
	FrameHeight *int `json:"frame_height,omitempty"`
}

// Helper functions to create pointers
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// The Get* accessors supply the compiled defaults for every read.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a fully-populated config carrying the compiled
// defaults, the form the /api/config endpoint renders.
func DefaultTuningConfig() *TuningConfig {
	return EmptyTuningConfig().Effective()
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON keep their compiled defaults,
// so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the effective configuration, defaults included, so a
// partial file that breaks a cross-field invariant against a default value
// is still rejected.
func (c *TuningConfig) Validate() error {
	if c.Threshold != nil && (*c.Threshold < 1 || *c.Threshold > 255) {
		return fmt.Errorf("threshold must be between 1 and 255, got %d", *c.Threshold)
	}
	if c.MinBlobPixels != nil && *c.MinBlobPixels < 0 {
		return fmt.Errorf("min_blob_pixels must be non-negative, got %d", *c.MinBlobPixels)
	}
	if c.MaxBlobPixels != nil && *c.MaxBlobPixels < 0 {
		return fmt.Errorf("max_blob_pixels must be non-negative, got %d", *c.MaxBlobPixels)
	}
	if min, max := c.GetMinBlobPixels(), c.GetMaxBlobPixels(); min > max {
		return fmt.Errorf("min_blob_pixels %d exceeds max_blob_pixels %d", min, max)
	}
	if v := c.GetMaxBlobs(); v <= 0 {
		return fmt.Errorf("max_blobs must be positive, got %d", v)
	}
	if v := c.GetMergeDist(); v < 0 {
		return fmt.Errorf("merge_dist must be non-negative, got %d", v)
	}
	s, e := c.GetROIYStart(), c.GetROIYEnd()
	if s < 0 || e < 0 {
		return fmt.Errorf("roi bounds must be non-negative, got [%d, %d)", s, e)
	}
	if e != 0 && e <= s {
		return fmt.Errorf("roi_y_end %d must be above roi_y_start %d (or 0 for full frame)", e, s)
	}

	if v := c.GetMatchMaxDist(); v < 0 {
		return fmt.Errorf("match_max_dist must be non-negative, got %d", v)
	}
	if st, vh := c.GetStaticMaxMotion(), c.GetVehicleMinMotion(); st >= vh {
		return fmt.Errorf("static_max_motion %d must be below vehicle_min_motion %d", st, vh)
	}
	if v := c.GetConfirmFrames(); v < 1 || v > 255 {
		return fmt.Errorf("confirm_frames must be between 1 and 255, got %d", v)
	}
	if v := c.GetReflectionMinY(); v < 0 {
		return fmt.Errorf("reflection_min_y must be non-negative, got %d", v)
	}
	if c.ReflectionMinPixels != nil && *c.ReflectionMinPixels < 0 {
		return fmt.Errorf("reflection_min_pixels must be non-negative, got %d", *c.ReflectionMinPixels)
	}

	if v := c.GetBaselineM(); v <= 0 {
		return fmt.Errorf("baseline_m must be positive, got %g", v)
	}
	if v := c.GetHFOVDegrees(); v <= 0 || v >= 180 {
		return fmt.Errorf("hfov_degrees must be between 0 and 180 exclusive, got %g", v)
	}
	if v := c.GetMinDisparity(); v < 1 {
		return fmt.Errorf("min_disparity must be at least 1, got %d", v)
	}
	if min, max := c.GetMinRangeM(), c.GetMaxRangeM(); min <= 0 || max <= min {
		return fmt.Errorf("range window [%g, %g] must be positive and ordered", min, max)
	}

	if w, h := c.GetFrameWidth(), c.GetFrameHeight(); w <= 0 || h <= 0 {
		return fmt.Errorf("frame dimensions %dx%d must be positive", w, h)
	}

	return nil
}

// GetThreshold returns the threshold value or the default.
func (c *TuningConfig) GetThreshold() uint8 {
	if c.Threshold == nil {
		return 200
	}
	return uint8(*c.Threshold)
}

// GetMinBlobPixels returns the min_blob_pixels value or the default.
func (c *TuningConfig) GetMinBlobPixels() uint32 {
	if c.MinBlobPixels == nil {
		return 16
	}
	return uint32(*c.MinBlobPixels)
}

// GetMaxBlobPixels returns the max_blob_pixels value or the default.
func (c *TuningConfig) GetMaxBlobPixels() uint32 {
	if c.MaxBlobPixels == nil {
		return 70000
	}
	return uint32(*c.MaxBlobPixels)
}

// GetMaxBlobs returns the max_blobs value or the default.
func (c *TuningConfig) GetMaxBlobs() int {
	if c.MaxBlobs == nil {
		return 16
	}
	return *c.MaxBlobs
}

// GetMergeDist returns the merge_dist value or the default.
func (c *TuningConfig) GetMergeDist() int {
	if c.MergeDist == nil {
		return 20
	}
	return *c.MergeDist
}

// GetROIYStart returns the roi_y_start value or the default (frame top).
func (c *TuningConfig) GetROIYStart() int {
	if c.ROIYStart == nil {
		return 0
	}
	return *c.ROIYStart
}

// GetROIYEnd returns the roi_y_end value or the default (0, full frame).
func (c *TuningConfig) GetROIYEnd() int {
	if c.ROIYEnd == nil {
		return 0
	}
	return *c.ROIYEnd
}

// GetMatchMaxDist returns the match_max_dist value or the default.
func (c *TuningConfig) GetMatchMaxDist() int {
	if c.MatchMaxDist == nil {
		return 25
	}
	return *c.MatchMaxDist
}

// GetStaticMaxMotion returns the static_max_motion value or the default.
func (c *TuningConfig) GetStaticMaxMotion() int {
	if c.StaticMaxMotion == nil {
		return 4
	}
	return *c.StaticMaxMotion
}

// GetVehicleMinMotion returns the vehicle_min_motion value or the default.
func (c *TuningConfig) GetVehicleMinMotion() int {
	if c.VehicleMinMotion == nil {
		return 12
	}
	return *c.VehicleMinMotion
}

// GetConfirmFrames returns the confirm_frames value or the default.
func (c *TuningConfig) GetConfirmFrames() int {
	if c.ConfirmFrames == nil {
		return 3
	}
	return *c.ConfirmFrames
}

// GetReflectionMinY returns the reflection_min_y value, defaulting to the
// bottom-quarter boundary of the configured frame height.
func (c *TuningConfig) GetReflectionMinY() int {
	if c.ReflectionMinY == nil {
		return c.GetFrameHeight() * 3 / 4
	}
	return *c.ReflectionMinY
}

// GetReflectionMinPixels returns the reflection_min_pixels value, defaulting
// to half the configured max blob size.
func (c *TuningConfig) GetReflectionMinPixels() uint32 {
	if c.ReflectionMinPixels == nil {
		return c.GetMaxBlobPixels() / 2
	}
	return uint32(*c.ReflectionMinPixels)
}

// GetBaselineM returns the baseline_m value or the default.
func (c *TuningConfig) GetBaselineM() float64 {
	if c.BaselineM == nil {
		return 0.15
	}
	return *c.BaselineM
}

// GetHFOVDegrees returns the hfov_degrees value or the default.
func (c *TuningConfig) GetHFOVDegrees() float64 {
	if c.HFOVDegrees == nil {
		return 62.0
	}
	return *c.HFOVDegrees
}

// GetMinDisparity returns the min_disparity value or the default.
func (c *TuningConfig) GetMinDisparity() int {
	if c.MinDisparity == nil {
		return 1
	}
	return *c.MinDisparity
}

// GetMinRangeM returns the min_range_m value or the default.
func (c *TuningConfig) GetMinRangeM() float64 {
	if c.MinRangeM == nil {
		return 0.5
	}
	return *c.MinRangeM
}

// GetMaxRangeM returns the max_range_m value or the default.
func (c *TuningConfig) GetMaxRangeM() float64 {
	if c.MaxRangeM == nil {
		return 80.0
	}
	return *c.MaxRangeM
}

// GetFrameWidth returns the frame_width value or the default.
func (c *TuningConfig) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 800
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the frame_height value or the default.
func (c *TuningConfig) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 600
	}
	return *c.FrameHeight
}

// Effective returns a copy with every field populated, resolving nil fields
// to their defaults. Marshalling the result shows the running values rather
// than only the overrides.
func (c *TuningConfig) Effective() *TuningConfig {
	return &TuningConfig{
		Threshold:           ptrInt(int(c.GetThreshold())),
		MinBlobPixels:       ptrInt(int(c.GetMinBlobPixels())),
		MaxBlobPixels:       ptrInt(int(c.GetMaxBlobPixels())),
		MaxBlobs:            ptrInt(c.GetMaxBlobs()),
		MergeDist:           ptrInt(c.GetMergeDist()),
		ROIYStart:           ptrInt(c.GetROIYStart()),
		ROIYEnd:             ptrInt(c.GetROIYEnd()),
		MatchMaxDist:        ptrInt(c.GetMatchMaxDist()),
		StaticMaxMotion:     ptrInt(c.GetStaticMaxMotion()),
		VehicleMinMotion:    ptrInt(c.GetVehicleMinMotion()),
		ConfirmFrames:       ptrInt(c.GetConfirmFrames()),
		ReflectionMinY:      ptrInt(c.GetReflectionMinY()),
		ReflectionMinPixels: ptrInt(int(c.GetReflectionMinPixels())),
		BaselineM:           ptrFloat64(c.GetBaselineM()),
		HFOVDegrees:         ptrFloat64(c.GetHFOVDegrees()),
		MinDisparity:        ptrInt(c.GetMinDisparity()),
		MinRangeM:           ptrFloat64(c.GetMinRangeM()),
		MaxRangeM:           ptrFloat64(c.GetMaxRangeM()),
		FrameWidth:          ptrInt(c.GetFrameWidth()),
		FrameHeight:         ptrInt(c.GetFrameHeight()),
	}
}

// Detector builds the detection config from the effective values.
func (c *TuningConfig) Detector() vision.DetectorConfig {
	return vision.DetectorConfig{
		Threshold:     c.GetThreshold(),
		MinBlobPixels: c.GetMinBlobPixels(),
		MaxBlobPixels: c.GetMaxBlobPixels(),
		MaxBlobs:      c.GetMaxBlobs(),
		MergeDist:     c.GetMergeDist(),
		ROIYStart:     c.GetROIYStart(),
		ROIYEnd:       c.GetROIYEnd(),
	}
}

// Tracker builds the tracking config from the effective values.
func (c *TuningConfig) Tracker() vision.TrackerConfig {
	return vision.TrackerConfig{
		MatchMaxDist:        c.GetMatchMaxDist(),
		StaticMaxMotion:     c.GetStaticMaxMotion(),
		VehicleMinMotion:    c.GetVehicleMinMotion(),
		ConfirmFrames:       c.GetConfirmFrames(),
		ReflectionMinY:      c.GetReflectionMinY(),
		ReflectionMinPixels: c.GetReflectionMinPixels(),
	}
}

// Stereo builds the triangulation config from the effective values.
func (c *TuningConfig) Stereo() vision.StereoConfig {
	return vision.StereoConfig{
		BaselineM:    c.GetBaselineM(),
		HFOVDegrees:  c.GetHFOVDegrees(),
		FrameWidth:   c.GetFrameWidth(),
		MinDisparity: c.GetMinDisparity(),
		MinRangeM:    c.GetMinRangeM(),
		MaxRangeM:    c.GetMaxRangeM(),
	}
}
