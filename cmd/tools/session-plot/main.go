// Command session-plot renders PNG charts for one recorded session.
//
// It reads the telemetry database and produces a range-estimate plot plus
// scene brightness, blob count, and capture FPS plots, one PNG each. With no
// -session it plots the most recent session, which is usually the run that
// just finished.
//
// Usage:
//
//	session-plot -db sensor_data.db
//	session-plot -db sensor_data.db -session 7b0c2f1a-... -o plots/
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/lumen.report/internal/db"
)

var (
	lineBlue   = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255}
	lineOrange = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 255}
	lineGreen  = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255}
	lineRed    = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255}
)

func main() {
	dbFile := flag.String("db", "sensor_data.db", "telemetry database to read")
	sessionID := flag.String("session", "", "session id (default: most recent session)")
	outDir := flag.String("o", "plots", "output directory for PNG files")
	flag.Parse()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer database.Close()

	session, err := resolveSession(database, *sessionID)
	if err != nil {
		log.Fatalf("Error resolving session: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("Error creating output dir: %v", err)
	}

	written, err := renderSessionPlots(database, session, *outDir)
	if err != nil {
		log.Fatalf("Error rendering plots: %v", err)
	}
	for _, path := range written {
		log.Printf("Wrote %s", path)
	}
	log.Printf("Session %s (%s): %d plots", shortID(session.ID), session.Role, len(written))
}

func resolveSession(database *db.DB, id string) (*db.Session, error) {
	if id == "" {
		return database.LatestSession()
	}
	summary, err := database.SessionSummary(id)
	if err != nil {
		return nil, err
	}
	return &summary.Session, nil
}

// renderSessionPlots writes one PNG per metric and returns the written
// paths. Sessions with no range estimates (secondary role, or a primary that
// never heard its peer) get the frame plots only.
func renderSessionPlots(database *db.DB, session *db.Session, outDir string) ([]string, error) {
	frames, err := database.SessionFrames(session.ID)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("session %s has no recorded frames", session.ID)
	}
	estimates, err := database.SessionEstimates(session.ID)
	if err != nil {
		return nil, err
	}

	brightness, blobs, fps := framePoints(session.StartedAtUnix, frames)
	short := shortID(session.ID)

	var written []string
	save := func(p *plot.Plot, name string) error {
		path := filepath.Join(outDir, fmt.Sprintf("%s_%s.png", short, name))
		if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	if accepted, total := estimatePoints(session.StartedAtUnix, estimates); total > 0 {
		p := newSessionPlot(short, fmt.Sprintf("Range Estimates (%d accepted / %d total)", len(accepted), total))
		p.Y.Label.Text = "Distance (m)"
		if err := addLine(p, accepted, "distance", lineBlue); err != nil {
			return written, err
		}
		if err := save(p, "distance"); err != nil {
			return written, err
		}
	}

	p := newSessionPlot(short, "Scene Brightness")
	p.Y.Label.Text = "Mean pixel value"
	if err := addLine(p, brightness, "brightness", lineOrange); err != nil {
		return written, err
	}
	if err := save(p, "brightness"); err != nil {
		return written, err
	}

	p = newSessionPlot(short, "Blobs per Frame")
	p.Y.Label.Text = "Blobs"
	if err := addLine(p, blobs, "blobs", lineGreen); err != nil {
		return written, err
	}
	if err := save(p, "blobs"); err != nil {
		return written, err
	}

	p = newSessionPlot(short, "Capture Rate")
	p.Y.Label.Text = "FPS"
	if err := addLine(p, fps, "fps", lineRed); err != nil {
		return written, err
	}
	if err := save(p, "fps"); err != nil {
		return written, err
	}

	return written, nil
}

func newSessionPlot(short, metric string) *plot.Plot {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session %s - %s", short, metric)
	p.X.Label.Text = "Elapsed (s)"
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p
}

func addLine(p *plot.Plot, pts plotter.XYs, label string, c color.Color) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

// framePoints maps the session's frames onto elapsed-seconds series.
func framePoints(startUnix float64, frames []db.FrameRecord) (brightness, blobs, fps plotter.XYs) {
	brightness = make(plotter.XYs, 0, len(frames))
	blobs = make(plotter.XYs, 0, len(frames))
	fps = make(plotter.XYs, 0, len(frames))
	for _, f := range frames {
		x := f.CapturedAtUnix - startUnix
		brightness = append(brightness, plotter.XY{X: x, Y: float64(f.SceneBrightness)})
		blobs = append(blobs, plotter.XY{X: x, Y: float64(f.BlobCount)})
		fps = append(fps, plotter.XY{X: x, Y: f.FPS})
	}
	return brightness, blobs, fps
}

// estimatePoints keeps only accepted estimates; rejected rows have no
// distance to plot but still count toward the total shown in the title.
func estimatePoints(startUnix float64, estimates []db.RangeEstimate) (accepted plotter.XYs, total int) {
	accepted = make(plotter.XYs, 0, len(estimates))
	for _, e := range estimates {
		if e.DistanceM == nil {
			continue
		}
		accepted = append(accepted, plotter.XY{X: e.CapturedAtUnix - startUnix, Y: *e.DistanceM})
	}
	return accepted, len(estimates)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
