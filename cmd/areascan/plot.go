package main

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const histogramBins = 32

var errNoIntervals = errors.New("no inter-frame intervals to plot")

// writeIntervalPlot saves a histogram of inter-frame intervals in
// milliseconds. The image format follows the file extension.
func writeIntervalPlot(path string, intervals []time.Duration, title string) error {
	if len(intervals) == 0 {
		return errNoIntervals
	}
	vals := make(plotter.Values, len(intervals))
	for i, d := range intervals {
		vals[i] = float64(d) / float64(time.Millisecond)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "interval (ms)"
	p.Y.Label.Text = "frames"

	hist, err := plotter.NewHist(vals, histogramBins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	hist.LineStyle.Width = vg.Points(1)
	p.Add(hist)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}
