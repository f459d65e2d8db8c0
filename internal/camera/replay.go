package camera

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/banshee-data/lumen.report/internal/vision"
)

// ReplaySource plays back a directory of captured frames stored as binary
// 8-bit PGM ("P5") files, in file name order. With looping off the source
// reports io.EOF once the sequence is exhausted; with looping on it wraps
// around indefinitely. This is the bench path: capture a session on the
// hardware, copy the frames off, and re-run detection against them.
type ReplaySource struct {
	files []string
	loop  bool

	mu          sync.Mutex
	next        int
	outstanding *vision.Frame
	closed      bool
}

// NewReplaySource scans dir for *.pgm files. It fails if the directory holds
// none, since a silent empty replay helps nobody.
func NewReplaySource(dir string, loop bool) (*ReplaySource, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(absPath, "*.pgm"))
	if err != nil {
		return nil, fmt.Errorf("failed to read replay directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .pgm frames found in %s", absPath)
	}

	return &ReplaySource{files: files, loop: loop}, nil
}

// Grab loads the next frame in sequence. The previous frame must have been
// released first.
func (r *ReplaySource) Grab() (*vision.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrSourceClosed
	}
	if r.outstanding != nil {
		return nil, fmt.Errorf("previous frame not released")
	}
	if r.next >= len(r.files) {
		if !r.loop {
			return nil, io.EOF
		}
		r.next = 0
	}

	path := r.files[r.next]
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame %s: %w", filepath.Base(path), err)
	}
	w, h, pix, err := parsePGM(data)
	if err != nil {
		return nil, fmt.Errorf("bad frame %s: %w", filepath.Base(path), err)
	}
	r.next++

	f := &vision.Frame{Width: w, Height: h, Pix: pix}
	r.outstanding = f
	return f, nil
}

// Release returns the borrowed frame.
func (r *ReplaySource) Release(f *vision.Frame) {
	if f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outstanding == f {
		r.outstanding = nil
	}
}

// Close stops the source.
func (r *ReplaySource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// FrameCount reports how many files are in the sequence.
func (r *ReplaySource) FrameCount() int { return len(r.files) }

// parsePGM decodes a binary 8-bit PGM image. The pixel slice aliases data;
// callers own data and must not reuse it while the frame is live.
func parsePGM(data []byte) (w, h int, pix []byte, err error) {
	if len(data) < 2 || data[0] != 'P' || data[1] != '5' {
		return 0, 0, nil, fmt.Errorf("not a binary PGM (P5) file")
	}
	pos := 2

	// Header tokens may be separated by any whitespace, with # comments
	// running to end of line.
	nextToken := func() (int, error) {
		for pos < len(data) {
			c := data[pos]
			if c == '#' {
				for pos < len(data) && data[pos] != '\n' {
					pos++
				}
				continue
			}
			if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
				pos++
				continue
			}
			break
		}
		start := pos
		for pos < len(data) && data[pos] >= '0' && data[pos] <= '9' {
			pos++
		}
		if pos == start {
			return 0, fmt.Errorf("malformed PGM header")
		}
		v := 0
		for _, c := range data[start:pos] {
			v = v*10 + int(c-'0')
		}
		return v, nil
	}

	if w, err = nextToken(); err != nil {
		return 0, 0, nil, err
	}
	if h, err = nextToken(); err != nil {
		return 0, 0, nil, err
	}
	maxVal, err := nextToken()
	if err != nil {
		return 0, 0, nil, err
	}
	if w <= 0 || h <= 0 {
		return 0, 0, nil, fmt.Errorf("invalid PGM dimensions %dx%d", w, h)
	}
	if maxVal > 255 {
		return 0, 0, nil, fmt.Errorf("16-bit PGM not supported (maxval %d)", maxVal)
	}

	// Exactly one whitespace byte separates the header from the raster.
	if pos >= len(data) {
		return 0, 0, nil, fmt.Errorf("truncated PGM header")
	}
	pos++

	if len(data)-pos < w*h {
		return 0, 0, nil, fmt.Errorf("PGM raster is %d bytes, want %d for %dx%d",
			len(data)-pos, w*h, w, h)
	}
	return w, h, data[pos : pos+w*h], nil
}
