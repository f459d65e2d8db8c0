package camera

import (
	"fmt"
	"sync"

	"github.com/banshee-data/lumen.report/internal/vision"
)

// Light is one scripted bright rectangle in a synthetic scene. Position is
// the top-left corner at frame zero; the rectangle moves DX,DY pixels per
// frame and is clipped at the frame edges.
type Light struct {
	X, Y   int
	DX, DY int
	W, H   int
	Level  byte
}

// SyntheticConfig describes a scripted scene.
type SyntheticConfig struct {
	Width      int
	Height     int
	Background byte // fill level for non-light pixels
	Lights     []Light
}

// Validate checks the scene dimensions.
func (c *SyntheticConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid synthetic frame dimensions %dx%d", c.Width, c.Height)
	}
	return nil
}

// SyntheticSource generates deterministic scripted frames: a flat background
// with rectangles that move a fixed step per frame. It is double-buffered
// like a real capture driver, so at most two frames can be on loan at once
// and the borrow discipline of the processing loop is exercised for real.
type SyntheticSource struct {
	cfg SyntheticConfig

	mu          sync.Mutex
	bufs        [2][]byte
	inUse       [2]bool
	outstanding map[*vision.Frame]int
	frameIdx    int
	closed      bool
}

// NewSyntheticSource creates a source for the given scene.
func NewSyntheticSource(cfg SyntheticConfig) (*SyntheticSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &SyntheticSource{
		cfg:         cfg,
		outstanding: make(map[*vision.Frame]int),
	}
	for i := range s.bufs {
		s.bufs[i] = make([]byte, cfg.Width*cfg.Height)
	}
	return s, nil
}

// Grab paints the next frame of the script into a free buffer. With both
// buffers on loan it fails, as a real driver would when the consumer fell
// behind.
func (s *SyntheticSource) Grab() (*vision.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSourceClosed
	}

	slot := -1
	for i := range s.bufs {
		if !s.inUse[i] {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, fmt.Errorf("both frame buffers on loan; release one before grabbing")
	}

	s.paint(s.bufs[slot], s.frameIdx)
	s.frameIdx++
	s.inUse[slot] = true

	f := &vision.Frame{
		Width:  s.cfg.Width,
		Height: s.cfg.Height,
		Pix:    s.bufs[slot],
	}
	s.outstanding[f] = slot
	return f, nil
}

// Release returns a frame's buffer to the pool.
func (s *SyntheticSource) Release(f *vision.Frame) {
	if f == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot, ok := s.outstanding[f]; ok {
		delete(s.outstanding, f)
		s.inUse[slot] = false
	}
}

// Close stops the source. Frames already on loan stay valid until released.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FramesGenerated reports how many frames have been grabbed so far.
func (s *SyntheticSource) FramesGenerated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameIdx
}

func (s *SyntheticSource) paint(buf []byte, idx int) {
	for i := range buf {
		buf[i] = s.cfg.Background
	}
	for _, l := range s.cfg.Lights {
		x0 := l.X + l.DX*idx
		y0 := l.Y + l.DY*idx
		x1 := x0 + l.W
		y1 := y0 + l.H
		if x0 < 0 {
			x0 = 0
		}
		if y0 < 0 {
			y0 = 0
		}
		if x1 > s.cfg.Width {
			x1 = s.cfg.Width
		}
		if y1 > s.cfg.Height {
			y1 = s.cfg.Height
		}
		for y := y0; y < y1; y++ {
			row := y * s.cfg.Width
			for x := x0; x < x1; x++ {
				buf[row+x] = l.Level
			}
		}
	}
}
