package camera

import (
	"errors"
	"testing"

	"github.com/banshee-data/lumen.report/internal/vision"
)

func TestSyntheticConfigValidate(t *testing.T) {
	cfg := SyntheticConfig{Width: 0, Height: 80}
	if _, err := NewSyntheticSource(cfg); err == nil {
		t.Error("expected error for zero width")
	}
	cfg = SyntheticConfig{Width: 100, Height: -1}
	if _, err := NewSyntheticSource(cfg); err == nil {
		t.Error("expected error for negative height")
	}
}

func TestSyntheticGrabPaintsScript(t *testing.T) {
	src, err := NewSyntheticSource(SyntheticConfig{
		Width:      100,
		Height:     80,
		Background: 10,
		Lights: []Light{
			{X: 20, Y: 30, DX: 5, DY: 0, W: 4, H: 4, Level: 250},
		},
	})
	if err != nil {
		t.Fatalf("NewSyntheticSource: %v", err)
	}

	f0, err := src.Grab()
	if err != nil {
		t.Fatalf("Grab: %v", err)
	}
	if f0.Width != 100 || f0.Height != 80 {
		t.Fatalf("frame is %dx%d, want 100x80", f0.Width, f0.Height)
	}
	if got := f0.At(20, 30); got != 250 {
		t.Errorf("frame 0 light pixel = %d, want 250", got)
	}
	if got := f0.At(19, 30); got != 10 {
		t.Errorf("frame 0 background pixel = %d, want 10", got)
	}
	src.Release(f0)

	// Light steps 5 px right per frame.
	f1, err := src.Grab()
	if err != nil {
		t.Fatalf("Grab: %v", err)
	}
	if got := f1.At(25, 30); got != 250 {
		t.Errorf("frame 1 light pixel = %d, want 250", got)
	}
	if got := f1.At(20, 30); got != 10 {
		t.Errorf("frame 1 old position = %d, want background 10", got)
	}
	src.Release(f1)

	if n := src.FramesGenerated(); n != 2 {
		t.Errorf("FramesGenerated() = %d, want 2", n)
	}
}

func TestSyntheticClipsLightsAtEdges(t *testing.T) {
	src, err := NewSyntheticSource(SyntheticConfig{
		Width:  10,
		Height: 10,
		Lights: []Light{
			{X: -2, Y: 4, W: 4, H: 2, Level: 200},
		},
	})
	if err != nil {
		t.Fatalf("NewSyntheticSource: %v", err)
	}

	f, err := src.Grab()
	if err != nil {
		t.Fatalf("Grab: %v", err)
	}
	defer src.Release(f)

	// Only the two on-frame columns are painted.
	if got := f.At(0, 4); got != 200 {
		t.Errorf("clipped light column 0 = %d, want 200", got)
	}
	if got := f.At(1, 4); got != 200 {
		t.Errorf("clipped light column 1 = %d, want 200", got)
	}
	if got := f.At(2, 4); got != 0 {
		t.Errorf("pixel past light = %d, want 0", got)
	}
}

func TestSyntheticDoubleBufferExhaustion(t *testing.T) {
	src, err := NewSyntheticSource(SyntheticConfig{Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("NewSyntheticSource: %v", err)
	}

	f0, err := src.Grab()
	if err != nil {
		t.Fatalf("first Grab: %v", err)
	}
	f1, err := src.Grab()
	if err != nil {
		t.Fatalf("second Grab: %v", err)
	}

	if _, err := src.Grab(); err == nil {
		t.Error("third Grab with both buffers on loan should fail")
	}

	src.Release(f0)
	if _, err := src.Grab(); err != nil {
		t.Errorf("Grab after Release failed: %v", err)
	}
	src.Release(f1)
}

func TestSyntheticReleaseRecyclesBuffer(t *testing.T) {
	src, err := NewSyntheticSource(SyntheticConfig{Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("NewSyntheticSource: %v", err)
	}

	f0, err := src.Grab()
	if err != nil {
		t.Fatalf("Grab: %v", err)
	}
	buf0 := &f0.Pix[0]
	src.Release(f0)

	f1, err := src.Grab()
	if err != nil {
		t.Fatalf("Grab: %v", err)
	}
	if &f1.Pix[0] != buf0 {
		t.Error("released buffer was not recycled for the next frame")
	}
	src.Release(f1)
}

func TestSyntheticGrabAfterClose(t *testing.T) {
	src, err := NewSyntheticSource(SyntheticConfig{Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("NewSyntheticSource: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = src.Grab()
	if !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Grab after Close returned %v, want ErrSourceClosed", err)
	}
}

func TestSyntheticReleaseUnknownFrameIsNoOp(t *testing.T) {
	src, err := NewSyntheticSource(SyntheticConfig{Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("NewSyntheticSource: %v", err)
	}

	src.Release(nil)
	foreign := &vision.Frame{Width: 8, Height: 8, Pix: make([]byte, 64)}
	src.Release(foreign)

	// The pool is untouched, so both buffers still grab fine.
	if _, err := src.Grab(); err != nil {
		t.Errorf("Grab after foreign Release failed: %v", err)
	}
	if _, err := src.Grab(); err != nil {
		t.Errorf("second Grab after foreign Release failed: %v", err)
	}
}
