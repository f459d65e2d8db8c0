// Package vision implements the per-node perception core: bright-blob
// detection in grayscale frames, inter-frame blob tracking with hysteresis
// classification, and stereo distance triangulation.
//
// The pipeline is strictly sequential per node:
//
//	Frame → Detector.Detect → Tracker.Classify → (primary only) Triangulator.Distance
//
// Detector and Tracker each own their scratch and state exclusively; neither
// is safe for concurrent use, and neither needs to be: there is exactly one
// processing loop per node. The Triangulator is stateless after construction
// and safe to share.
package vision
