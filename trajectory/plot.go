package trajectory

import (
	"bytes"
	"errors"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrEmptySeries is returned by Plot for a series without points.
var ErrEmptySeries = errors.New("empty series")

// Plot renders a series as a PNG line plot.
func Plot(s Series) ([]byte, error) {
	if len(s.X) != len(s.Y) {
		return nil, fmt.Errorf("series '%s' has %d x and %d y values", s.Title, len(s.X), len(s.Y))
	}
	if len(s.X) == 0 {
		return nil, ErrEmptySeries
	}
	p := plot.New()
	p.Title.Text = s.Title
	p.X.Label.Text = s.XLabel
	p.Y.Label.Text = s.YLabel
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(s.X))
	for i := range s.X {
		pts[i].X = s.X[i]
		pts[i].Y = s.Y[i]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("line: %v", err)
	}
	p.Add(line)
	if len(pts) == 1 {
		// A lone point draws no line segment.
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("scatter: %v", err)
		}
		p.Add(scatter)
	}

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("writer: %v", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("png: %v", err)
	}
	return buf.Bytes(), nil
}
