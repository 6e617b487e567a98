package visualization

import (
	"fmt"
	"math"

	"saxsreduce/internal/models"
	"saxsreduce/pkg/analysis"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// PlotSize is the edge length of saved curve plots
const PlotSize = 5 * vg.Inch

type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

// CurvePoints transforms a curve into plot coordinates and drops the points
// the transform leaves non-finite, such as log(I) of a non-positive
// intensity
func CurvePoints(kind *analysis.Plot, c models.Profile) (plotter.XYs, plotter.YErrors) {
	t := kind.Transform(c)
	pts := make(plotter.XYs, 0, len(t.Q))
	var errs plotter.YErrors
	if t.Errors != nil {
		errs = make(plotter.YErrors, 0, len(t.Q))
	}
	for k := range t.Q {
		x, y := t.Q[k], t.I[k]
		if !finite(x) || !finite(y) {
			continue
		}
		pts = append(pts, plotter.XY{X: x, Y: y})
		if errs != nil {
			e := t.Errors[k]
			if !finite(e) {
				e = 0
			}
			errs = append(errs, struct{ Low, High float64 }{e, e})
		}
	}
	return pts, errs
}

// NewCurvePlot builds a scatter plot of c in the coordinates of kind, with
// error bars when c carries errors
func NewCurvePlot(kind *analysis.Plot, c models.Profile, title string) (*plot.Plot, error) {
	pts, errs := CurvePoints(kind, c)
	if len(pts) == 0 {
		return nil, fmt.Errorf("no finite points to draw in %s", kind.Name)
	}

	p := plot.New()
	p.Title.Text = title
	if title == "" {
		p.Title.Text = kind.Name
	}
	p.X.Label.Text = kind.XLabel
	p.Y.Label.Text = kind.YLabel
	p.Add(plotter.NewGrid())

	var data plotter.XYer = pts
	if errs != nil {
		ep := errorPoints{XYs: pts, YErrors: errs}
		bars, err := plotter.NewYErrorBars(ep)
		if err != nil {
			return nil, err
		}
		bars.LineStyle.Width = vg.Points(0.5)
		p.Add(bars)
		data = ep
	}

	scatter, err := plotter.NewScatter(data)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(scatter)
	return p, nil
}

// SavePlot renders c in the coordinates of kind to filename. The image
// format follows the file extension.
func SavePlot(kind *analysis.Plot, c models.Profile, title, filename string) error {
	p, err := NewCurvePlot(kind, c, title)
	if err != nil {
		return err
	}
	return p.Save(PlotSize, PlotSize, filename)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
