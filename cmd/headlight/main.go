// Command headlight runs one node of the stereo headlight rig: it pulls
// grayscale frames from a source, detects and classifies bright blobs, and
// either streams them to the primary over the serial link (secondary role)
// or triangulates oncoming-light distance from both cameras' detections
// (primary role). A small HTTP API exposes live status, recorded telemetry
// and debug charts.
//
// The daemon also carries the session-store schema tooling:
//
//	headlight -db sensor_data.db migrate up
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/lumen.report/internal/api"
	"github.com/banshee-data/lumen.report/internal/camera"
	"github.com/banshee-data/lumen.report/internal/config"
	"github.com/banshee-data/lumen.report/internal/db"
	"github.com/banshee-data/lumen.report/internal/node"
	"github.com/banshee-data/lumen.report/internal/serialmux"
	"github.com/banshee-data/lumen.report/internal/units"
	"github.com/banshee-data/lumen.report/internal/version"
	"github.com/banshee-data/lumen.report/internal/vision"
	"github.com/banshee-data/lumen.report/internal/wire"
)

var (
	role          node.Role
	serialPort    = flag.String("serial-port", "/dev/ttyAMA0", "inter-camera serial link (empty disables the link)")
	baud          = flag.Int("baud", 115200, "serial link baud rate")
	listen        = flag.String("listen", ":8080", "HTTP listen address (empty disables the API)")
	dbFile        = flag.String("db", "", "sqlite session store path (empty disables persistence)")
	configPath    = flag.String("config", "", "tuning config JSON (defaults apply when empty)")
	framesDir     = flag.String("frames", "", "replay captured .pgm frames from this directory instead of a live camera")
	loopReplay    = flag.Bool("loop", false, "wrap around at the end of the replay directory")
	devMode       = flag.Bool("dev", false, "synthetic camera and mock serial link")
	verbose       = flag.Bool("verbose", false, "per-frame console report on the secondary")
	displayUnits  = flag.String("units", units.M, "display units for distances")
	statsInterval = flag.Duration("stats-interval", 30*time.Second, "how often to log loop counters (0 disables)")
	maxFrames     = flag.Uint64("max-frames", 0, "stop after this many frames (0 = run until signalled)")
	frameWidth    = flag.Int("width", 0, "override configured frame width")
	frameHeight   = flag.Int("height", 0, "override configured frame height")
	debugRoutes   = flag.Bool("debug-routes", false, "attach /debug admin routes (sql console, link stats, db backup)")
)

func init() {
	flag.Var(&role, "role", "node role: primary or secondary (required)")
}

func main() {
	flag.Parse()

	// Schema tooling shares the binary so deployments only ship one file.
	if flag.Arg(0) == "migrate" {
		if *dbFile == "" {
			log.Fatal("migrate requires -db <path>")
		}
		db.RunMigrateCommand(flag.Args()[1:], *dbFile)
		return
	}

	if !role.Valid() {
		log.Fatal("-role is required: primary or secondary")
	}
	if !units.IsValid(*displayUnits) {
		log.Fatalf("invalid -units %q (valid: %s)", *displayUnits, units.GetValidUnitsString())
	}

	tuning := loadTuning()

	if role == node.RolePrimary {
		log.Print("=== PRIMARY CAM | Blob Detector + Stereo Triangulation ===")
	} else {
		log.Print("=== SECONDARY CAM | Blob Sensor (serial TX) ===")
	}
	log.Printf("Version: %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)
	log.Printf("Resolution target: %dx%d", tuning.GetFrameWidth(), tuning.GetFrameHeight())
	log.Printf("Brightness threshold: %d", tuning.GetThreshold())
	log.Printf("Blob size: %d - %d px", tuning.GetMinBlobPixels(), tuning.GetMaxBlobPixels())

	source := buildSource(tuning)
	defer source.Close()
	log.Print("Frame source OK. Starting detection loop...")

	link := buildLink(tuning)
	defer link.Close()

	var database *db.DB
	var sessionID string
	if *dbFile != "" {
		var err error
		database, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		effective, err := json.Marshal(tuning.Effective())
		if err != nil {
			log.Fatalf("Failed to serialise tuning: %v", err)
		}
		session, err := database.BeginSession(string(role), time.Now(), string(effective))
		if err != nil {
			log.Fatalf("Failed to begin session: %v", err)
		}
		sessionID = session.ID
		log.Printf("Recording session %s", sessionID)
	}

	runner, err := node.NewRunner(node.Config{
		Role:          role,
		Source:        source,
		Detector:      vision.NewDetector(tuning.Detector()),
		Tracker:       vision.NewTracker(tuning.Tracker()),
		Triangulator:  vision.NewTriangulator(tuning.Stereo()),
		Link:          link,
		Recorder:      recorderFor(database),
		SessionID:     sessionID,
		Verbose:       *verbose,
		StatsInterval: *statsInterval,
		MaxFrames:     *maxFrames,
	})
	if err != nil {
		log.Fatalf("Failed to configure node: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A blocking Grab only returns once the source is closed, so close it
	// as soon as shutdown starts.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		source.Close()
	}()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// The detection loop. When it finishes on its own (replay exhausted,
	// -max-frames reached) the rest of the daemon should come down too.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop()
		if err := runner.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("detection loop failed: %v", err)
		}
		log.Print("detection loop terminated")
	}()

	// HTTP server goroutine
	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mux := api.NewServer(runner, link, database, tuning, *displayUnits).ServeMux()
			if *debugRoutes {
				link.AttachAdminRoutes(mux)
				if database != nil {
					database.AttachAdminRoutes(mux)
				}
			}

			server := &http.Server{
				Addr:    *listen,
				Handler: api.LoggingMiddleware(mux),
			}

			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("failed to start server: %v", err)
				}
			}()

			<-ctx.Done()
			log.Println("shutting down HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}

			log.Printf("HTTP server routine stopped")
		}()
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// loadTuning reads the tuning file, applies flag overrides and validates
// the result.
func loadTuning() *config.TuningConfig {
	tuning := config.DefaultTuningConfig()
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		tuning = loaded
	}
	if *frameWidth > 0 {
		w := *frameWidth
		tuning.FrameWidth = &w
	}
	if *frameHeight > 0 {
		h := *frameHeight
		tuning.FrameHeight = &h
	}
	if err := tuning.Validate(); err != nil {
		log.Fatalf("Invalid tuning config: %v", err)
	}
	return tuning
}

// buildSource picks the frame source. There is no in-tree sensor driver:
// field units feed the loop through the camera collaborator, so the daemon
// runs from a replay directory or the synthetic dev scene.
func buildSource(tuning *config.TuningConfig) camera.FrameSource {
	switch {
	case *framesDir != "":
		source, err := camera.NewReplaySource(*framesDir, *loopReplay)
		if err != nil {
			log.Fatalf("Failed to open replay directory: %v", err)
		}
		log.Printf("Replaying %d frames from %s", source.FrameCount(), *framesDir)
		return source

	case *devMode:
		w, h := tuning.GetFrameWidth(), tuning.GetFrameHeight()
		source, err := camera.NewSyntheticSource(camera.SyntheticConfig{
			Width:      w,
			Height:     h,
			Background: 8,
			Lights: []camera.Light{
				// A fixed streetlamp and an approaching headlight.
				{X: w / 8, Y: h / 4, W: 10, H: 8, Level: 255},
				{X: w / 2, Y: h / 2, DX: -12, DY: 1, W: 14, H: 10, Level: 250},
			},
		})
		if err != nil {
			log.Fatalf("Failed to build synthetic scene: %v", err)
		}
		return source

	default:
		log.Fatal("no frame source: use -frames <dir> or -dev")
		return nil
	}
}

// buildLink picks the serial mux flavour for the inter-camera link.
func buildLink(tuning *config.TuningConfig) serialmux.SerialMuxInterface {
	switch {
	case *devMode:
		// Scripted peer: one medium blob slightly right of the synthetic
		// headlight, so the primary's triangulation path gets exercised.
		peer := wire.EncodePacket([]vision.Blob{
			{CX: uint16(tuning.GetFrameWidth()/2 + 40), CY: uint16(tuning.GetFrameHeight() / 2), PixelCount: 140},
		})
		return serialmux.NewMockSerialMux(peer)

	case *serialPort == "":
		log.Print("Serial link disabled")
		return serialmux.NewDisabledSerialMux()

	default:
		link, err := serialmux.NewRealSerialMux(*serialPort, serialmux.PortOptions{BaudRate: *baud})
		if err != nil {
			log.Fatalf("Failed to open serial link: %v", err)
		}
		return link
	}
}

// recorderFor keeps the typed-nil *db.DB out of the node.Recorder
// interface: a nil interface is the only nil the loop checks for.
func recorderFor(database *db.DB) node.Recorder {
	if database == nil {
		return nil
	}
	return database
}
