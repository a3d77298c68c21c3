package report

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/yhl125/op-soak/op-soak/orchestrator"
)

var ErrNoBatches = errors.New("no batches to plot")

// ArtifactDir is where the graphs of a run are stored: <root>/<runID>_<YYYYMMDD-HHMMSS>.
func ArtifactDir(root, runID string, at time.Time) string {
	return filepath.Join(root, runID+"_"+at.Format("20060102-150405"))
}

// SaveTPSGraph plots per-batch TPS against the cumulative run time and
// writes it to dir/tps.png. The overall TPS is drawn as a flat line.
func SaveTPSGraph(dir string, res orchestrator.Result) (string, error) {
	if len(res.Batches) == 0 {
		return "", ErrNoBatches
	}
	p := plot.New()
	p.Title.Text = "Transfers per second"
	p.X.Label.Text = "Elapsed (s)"
	p.Y.Label.Text = "TPS"
	p.Add(plotter.NewGrid())

	var elapsed time.Duration
	batchPts := make(plotter.XYs, len(res.Batches))
	for i, b := range res.Batches {
		elapsed += b.Elapsed
		batchPts[i].X = elapsed.Seconds()
		batchPts[i].Y = b.TPS
	}
	batchLine, err := plotter.NewLine(batchPts)
	if err != nil {
		return "", fmt.Errorf("failed to plot batches: %w", err)
	}
	batchLine.Color = color.RGBA{B: 255, A: 255}

	overall := plotter.XYs{{X: 0, Y: res.TPS()}, {X: elapsed.Seconds(), Y: res.TPS()}}
	overallLine, err := plotter.NewLine(overall)
	if err != nil {
		return "", fmt.Errorf("failed to plot total: %w", err)
	}
	overallLine.Color = color.RGBA{R: 255, A: 255}
	overallLine.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}

	p.Add(batchLine, overallLine)
	p.Legend.Add("batch", batchLine)
	p.Legend.Add("overall", overallLine)
	p.Legend.Top = true

	path := filepath.Join(dir, "tps.png")
	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return "", fmt.Errorf("failed to save graph: %w", err)
	}
	return path, nil
}
