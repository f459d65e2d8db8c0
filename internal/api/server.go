// Package api serves the node's HTTP surface: live status for the bench
// dashboard, recent telemetry out of the session store, the effective
// tuning, and a couple of rendered debug charts.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/lumen.report/internal/config"
	"github.com/banshee-data/lumen.report/internal/db"
	"github.com/banshee-data/lumen.report/internal/httputil"
	"github.com/banshee-data/lumen.report/internal/monitoring"
	"github.com/banshee-data/lumen.report/internal/node"
	"github.com/banshee-data/lumen.report/internal/serialmux"
	"github.com/banshee-data/lumen.report/internal/units"
	"github.com/banshee-data/lumen.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const defaultRecentLimit = 50

// StatusSource yields the latest processing-loop snapshot. *node.Runner
// satisfies it.
type StatusSource interface {
	Status() node.Status
}

// LinkStatsSource yields the serial link counters. Both mux flavours
// satisfy it.
type LinkStatsSource interface {
	Stats() serialmux.LinkStats
}

// Server holds the handler dependencies. The database is optional: nodes
// running without a session store still serve status and config, and the
// telemetry endpoints answer 503.
type Server struct {
	node   StatusSource
	link   LinkStatsSource
	db     *db.DB
	tuning *config.TuningConfig
	units  string
}

func NewServer(status StatusSource, link LinkStatsSource, database *db.DB, tuning *config.TuningConfig, displayUnits string) *Server {
	return &Server{
		node:   status,
		link:   link,
		db:     database,
		tuning: tuning,
		units:  displayUnits,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/frames/recent", s.listRecentFrames)
	mux.HandleFunc("/api/estimates/recent", s.listRecentEstimates)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/charts/distance", s.handleDistanceChart)
	mux.HandleFunc("/charts/brightness", s.handleBrightnessChart)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

// requestUnits resolves the display units for one request: the ?units=
// override when present, the server default otherwise. The bool is false
// after an invalid override has already been answered with a 400.
func (s *Server) requestUnits(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, true
	}
	if !units.IsValid(u) {
		httputil.BadRequest(w, "invalid units (valid: "+units.GetValidUnitsString()+")")
		return "", false
	}
	return u, true
}

// statusResponse is the /api/status envelope: the loop snapshot plus the
// transport counters, with distances converted to the requested units.
type statusResponse struct {
	Version string              `json:"version"`
	Units   string              `json:"units"`
	Node    node.Status         `json:"node"`
	Link    serialmux.LinkStats `json:"link"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	target, ok := s.requestUnits(w, r)
	if !ok {
		return
	}

	status := s.node.Status()
	if status.DistanceM != nil {
		converted := units.ConvertDistance(*status.DistanceM, target)
		status.DistanceM = &converted
	}
	status.Window.DistanceP50M = units.ConvertDistance(status.Window.DistanceP50M, target)
	status.Window.DistanceP95M = units.ConvertDistance(status.Window.DistanceP95M, target)

	resp := statusResponse{Version: version.Version, Units: target, Node: status}
	if s.link != nil {
		resp.Link = s.link.Stats()
	}
	httputil.WriteJSONOK(w, resp)
}

// parseLimit reads the ?limit= parameter. Zero or absent falls back to the
// default; the store clamps the upper bound itself.
func parseLimit(r *http.Request) (int, bool) {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return defaultRecentLimit, true
	}
	limit, err := strconv.Atoi(q)
	if err != nil || limit < 1 {
		return 0, false
	}
	return limit, true
}

func (s *Server) listRecentFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "telemetry store not configured")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return
	}

	frames, err := s.db.RecentFrames(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve frames")
		return
	}
	httputil.WriteJSONOK(w, frames)
}

func (s *Server) listRecentEstimates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "telemetry store not configured")
		return
	}
	target, ok := s.requestUnits(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return
	}

	estimates, err := s.db.RecentEstimates(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve estimates")
		return
	}
	for i := range estimates {
		if estimates[i].DistanceM != nil {
			converted := units.ConvertDistance(*estimates[i].DistanceM, target)
			estimates[i].DistanceM = &converted
		}
	}
	httputil.WriteJSONOK(w, estimates)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	resp := map[string]interface{}{
		"units":  s.units,
		"tuning": s.tuning.Effective(),
	}
	httputil.WriteJSONOK(w, resp)
}
