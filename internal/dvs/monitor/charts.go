package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/eventstream/internal/dvs/accumulator"
)

const (
	echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"
	// defaultMaxCells bounds the number of heatmap cells sent to the browser.
	defaultMaxCells = 16384
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// binSnapshot sums bin×bin blocks of snap. Returned cells are indexed
// [bx][by] over ceil(W/bin)×ceil(H/bin) bins.
func binSnapshot(snap accumulator.Snapshot, bin int) [][]uint64 {
	if bin < 1 {
		bin = 1
	}
	bw := (snap.Width + bin - 1) / bin
	bh := (snap.Height + bin - 1) / bin
	cells := make([][]uint64, bw)
	for i := range cells {
		cells[i] = make([]uint64, bh)
	}
	for x := 0; x < snap.Width; x++ {
		for y := 0; y < snap.Height; y++ {
			cells[x/bin][y/bin] += uint64(snap.At(x, y))
		}
	}
	return cells
}

// autoBin picks the smallest square bin that keeps the grid under maxCells.
func autoBin(width, height, maxCells int) int {
	bin := 1
	for ((width+bin-1)/bin)*((height+bin-1)/bin) > maxCells {
		bin++
	}
	return bin
}

// handleHeatmapChart renders the latest snapshot as an echarts heatmap.
// Query params:
//   - bin (optional) pixels per heatmap cell side; chosen automatically otherwise
func (ws *WebServer) handleHeatmapChart(w http.ResponseWriter, r *http.Request) {
	snap := ws.Latest()
	if snap.Empty() {
		ws.writeJSONError(w, http.StatusNotFound, "no snapshot available")
		return
	}

	bin := autoBin(snap.Width, snap.Height, defaultMaxCells)
	if b := r.URL.Query().Get("bin"); b != "" {
		if v, err := strconv.Atoi(b); err == nil && v >= 1 && v <= 64 {
			bin = v
		}
	}
	cells := binSnapshot(snap, bin)

	var (
		data    []opts.HeatMapData
		maxSeen uint64
	)
	xLabels := make([]int, len(cells))
	var yLabels []int
	for bx, col := range cells {
		xLabels[bx] = bx * bin
		if yLabels == nil {
			yLabels = make([]int, len(col))
			for by := range col {
				yLabels[by] = by * bin
			}
		}
		for by, c := range col {
			if c == 0 {
				continue
			}
			if c > maxSeen {
				maxSeen = c
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{bx, by, c}})
		}
	}
	if maxSeen == 0 {
		maxSeen = 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Event Heatmap", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Accumulated events",
			Subtitle: fmt.Sprintf("seq=%d total=%d grid=%dx%d bin=%d", snap.Seq, snap.Total(), snap.Width, snap.Height, bin),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "x"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "y", Data: yLabels}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxSeen),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(xLabels).AddSeries("events", data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTrafficChart renders a bar chart of the last listener interval.
func (ws *WebServer) handleTrafficChart(w http.ResponseWriter, r *http.Request) {
	if ws.stats == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no packet stats available")
		return
	}
	s := ws.stats.Latest()
	pps, mbps, eps := s.Rates()

	x := []string{"Packets/s", "MB/s", "Events/s", "Malformed", "Dropped"}
	y := []opts.BarData{
		{Value: pps},
		{Value: mbps},
		{Value: eps},
		{Value: s.Malformed},
		{Value: s.Dropped},
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Event Traffic", Subtitle: time.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("traffic", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
