// Package report renders the height trace of a finished session.
package report

import (
	"bufio"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/polebot/climber/pkg/climb"
)

var (
	heightColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	targetColor   = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	degradedColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// ErrNoData is returned for summaries without any height to plot.
var ErrNoData = pkgerrors.New("session has no steps to plot")

// Trace returns the height after each step, with step 0 being the initial
// reading. Degraded holds the points that reused the last good height.
func Trace(s climb.Summary) (heights, degraded plotter.XYs) {
	heights = make(plotter.XYs, 0, len(s.Records)+1)
	heights = append(heights, plotter.XY{X: 0, Y: s.InitialHeight})
	for _, r := range s.Records {
		pt := plotter.XY{X: float64(r.Step), Y: r.Height}
		heights = append(heights, pt)
		if r.Degraded {
			degraded = append(degraded, pt)
		}
	}
	return heights, degraded
}

// Plot writes a PNG of the session's height per step against the target.
func Plot(s climb.Summary, filename string) error {
	if len(s.Records) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s to %.1f cm: %s", s.Direction, s.Target, s.Outcome)
	p.X.Label.Text = "step"
	p.Y.Label.Text = "height (cm)"
	stylePlot(p)
	p.Add(plotter.NewGrid())

	heights, degraded := Trace(s)
	line, points, err := plotter.NewLinePoints(heights)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to build height line")
	}
	line.LineStyle.Width = vg.Points(3.0)
	line.LineStyle.Color = heightColor
	points.GlyphStyle.Shape = draw.CircleGlyph{}
	points.GlyphStyle.Color = heightColor
	p.Add(line, points)
	p.Legend.Add("height", line, points)

	last := heights[len(heights)-1].X
	target, err := plotter.NewLine(plotter.XYs{{X: 0, Y: s.Target}, {X: math.Max(last, 1), Y: s.Target}})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to build target line")
	}
	target.LineStyle.Width = vg.Points(2.0)
	target.LineStyle.Color = targetColor
	target.LineStyle.Dashes = []vg.Length{vg.Points(8), vg.Points(4)}
	p.Add(target)
	p.Legend.Add("target", target)

	if len(degraded) > 0 {
		sc, err := plotter.NewScatter(degraded)
		if err != nil {
			return pkgerrors.Wrap(err, "failed to build degraded points")
		}
		sc.GlyphStyle.Shape = draw.CrossGlyph{}
		sc.GlyphStyle.Color = degradedColor
		sc.GlyphStyle.Radius = vg.Points(6)
		p.Add(sc)
		p.Legend.Add("degraded", sc)
	}
	p.Legend.Top = true

	return savePlotPNG(p, 8.0, 6.0, filename)
}

func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(22)
	p.Title.Padding = vg.Points(12)

	p.X.Label.TextStyle.Font.Size = vg.Points(18)
	p.Y.Label.TextStyle.Font.Size = vg.Points(18)
	p.X.Label.Padding = vg.Points(10)
	p.Y.Label.Padding = vg.Points(10)

	p.X.Tick.Label.Font.Size = vg.Points(14)
	p.Y.Tick.Label.Font.Size = vg.Points(14)
	p.Legend.TextStyle.Font.Size = vg.Points(14)
}

func savePlotPNG(p *plot.Plot, widthIn, heightIn float64, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return pkgerrors.Wrapf(err, "cannot create directory for %s", filename)
	}
	w := vg.Length(widthIn) * vg.Inch
	h := vg.Length(heightIn) * vg.Inch

	c := vgimg.NewWith(
		vgimg.UseWH(w, h),
		vgimg.UseDPI(150),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return pkgerrors.Wrapf(err, "cannot create %s", filename)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return pkgerrors.Wrapf(err, "cannot write %s", filename)
	}
	if err := bw.Flush(); err != nil {
		return pkgerrors.Wrapf(err, "cannot write %s", filename)
	}
	return nil
}
