package monitor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/eventstream/internal/dvs/accumulator"
)

// snapshotGrid adapts a snapshot to plotter.GridXYZ with columns along x.
type snapshotGrid struct {
	snap accumulator.Snapshot
}

func (g snapshotGrid) Dims() (c, r int)   { return g.snap.Width, g.snap.Height }
func (g snapshotGrid) Z(c, r int) float64 { return float64(g.snap.At(c, r)) }
func (g snapshotGrid) X(c int) float64    { return float64(c) }
func (g snapshotGrid) Y(r int) float64    { return float64(r) }

// WriteHeatmapPNG renders snap as a PNG heatmap of side inches.
func WriteHeatmapPNG(w io.Writer, snap accumulator.Snapshot, side vg.Length) error {
	if snap.Empty() || snap.Width == 0 || snap.Height == 0 {
		return fmt.Errorf("heatmap: empty snapshot")
	}
	if side <= 0 {
		side = 6 * vg.Inch
	}

	h := plotter.NewHeatMap(snapshotGrid{snap: snap}, palette.Heat(32, 1))
	h.Min = 0
	h.Max = float64(snap.Max())
	if h.Max <= h.Min {
		h.Max = h.Min + 1
	}
	h.Rasterized = true

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Snapshot %d (%d events)", snap.Seq, snap.Total())
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.Add(h)

	wt, err := p.WriterTo(side, side, "png")
	if err != nil {
		return fmt.Errorf("heatmap: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("heatmap: %w", err)
	}
	return nil
}

func (ws *WebServer) handleHeatmapPNG(w http.ResponseWriter, r *http.Request) {
	snap := ws.Latest()
	if snap.Empty() {
		ws.writeJSONError(w, http.StatusNotFound, "no snapshot available")
		return
	}
	var buf bytes.Buffer
	if err := WriteHeatmapPNG(&buf, snap, 0); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
