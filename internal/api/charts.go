package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/lumen.report/internal/httputil"
)

// echartsAssetsPrefix is where the chart pages load the echarts runtime
// from. The nodes usually run headless in the field; the charts are a bench
// debugging surface viewed from a laptop with network access.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

const defaultChartLimit = 200

// chartLimit reads ?limit= for the chart endpoints, bounded to keep the
// rendered page light.
func chartLimit(r *http.Request) int {
	limit := defaultChartLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	return limit
}

// chronological flips a newest-first slice in place so charts read
// left-to-right in time.
func chronological[T any](rows []T) []T {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows
}

func chartTimestamp(unixSeconds float64) string {
	return time.Unix(int64(unixSeconds), 0).Format("15:04:05")
}

// handleDistanceChart renders recent range estimates as a line chart (HTML).
// Rejected estimates show as gaps, so ranging dropouts stay visible.
func (s *Server) handleDistanceChart(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "telemetry store not configured")
		return
	}

	estimates, err := s.db.RecentEstimates(chartLimit(r))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to get estimates: %v", err))
		return
	}
	if len(estimates) == 0 {
		httputil.NotFound(w, "no range estimates recorded")
		return
	}
	estimates = chronological(estimates)

	x := make([]string, 0, len(estimates))
	y := make([]opts.LineData, 0, len(estimates))
	accepted := 0
	for _, e := range estimates {
		x = append(x, chartTimestamp(e.CapturedAtUnix))
		if e.DistanceM != nil {
			y = append(y, opts.LineData{Value: *e.DistanceM})
			accepted++
		} else {
			y = append(y, opts.LineData{Value: "-"})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Headlight Range", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Range Estimates", Subtitle: fmt.Sprintf("estimates=%d accepted=%d", len(estimates), accepted)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "distance (m)"}),
	)
	line.SetXAxis(x).
		AddSeries("distance", y, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleBrightnessChart renders recent frames as scene brightness and blob
// count lines (HTML). Useful for spotting a mis-set threshold: a washed-out
// scene shows as high brightness with zero blobs.
func (s *Server) handleBrightnessChart(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "telemetry store not configured")
		return
	}

	frames, err := s.db.RecentFrames(chartLimit(r))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to get frames: %v", err))
		return
	}
	if len(frames) == 0 {
		httputil.NotFound(w, "no frames recorded")
		return
	}
	frames = chronological(frames)

	x := make([]string, 0, len(frames))
	brightness := make([]opts.LineData, 0, len(frames))
	blobs := make([]opts.LineData, 0, len(frames))
	for _, f := range frames {
		x = append(x, chartTimestamp(f.CapturedAtUnix))
		brightness = append(brightness, opts.LineData{Value: f.SceneBrightness})
		blobs = append(blobs, opts.LineData{Value: f.BlobCount})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scene Brightness", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Scene Brightness", Subtitle: fmt.Sprintf("frames=%d", len(frames))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("brightness", brightness).
		AddSeries("blobs", blobs)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
