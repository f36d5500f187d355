package pharmacophore

import (
	"image"
	"math"

	"github.com/fogleman/gg"
)

// GridOptions ...
type GridOptions struct {
	PerRow int
	Cell   int
}

// DefaultGrid is three 300px cells per row.
var DefaultGrid = GridOptions{PerRow: 3, Cell: 300}

const (
	cellPadding  = 24.0
	legendHeight = 22.0
	atomRadius   = 9.0
)

var elementColors = map[string][3]float64{
	"N":  {0.19, 0.31, 0.97},
	"O":  {0.90, 0.10, 0.10},
	"S":  {0.75, 0.65, 0.10},
	"P":  {1.00, 0.50, 0.00},
	"F":  {0.10, 0.70, 0.10},
	"Cl": {0.10, 0.70, 0.10},
	"Br": {0.60, 0.13, 0.13},
	"I":  {0.58, 0.00, 0.58},
}

// Render draws one depiction of m per label in fs, with that label's
// atoms highlighted and the label as legend.
func Render(m *Molecule, fs FeatureSet, opts GridOptions) (image.Image, error) {
	if fs.Len() == 0 {
		return nil, ErrNoFeatures
	}
	if opts.PerRow <= 0 {
		opts.PerRow = DefaultGrid.PerRow
	}
	if opts.Cell <= 0 {
		opts.Cell = DefaultGrid.Cell
	}
	rows := (fs.Len() + opts.PerRow - 1) / opts.PerRow
	dc := gg.NewContext(opts.PerRow*opts.Cell, rows*opts.Cell)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	for k, label := range fs.Labels() {
		ox := float64((k % opts.PerRow) * opts.Cell)
		oy := float64((k / opts.PerRow) * opts.Cell)
		drawCell(dc, m, fs.Atoms(label), label, ox, oy, float64(opts.Cell))
	}
	return dc.Image(), nil
}

type placement struct {
	scale, cx, cy, ox, oy, cell float64
}

func (p placement) at(a Atom) (float64, float64) {
	x := p.ox + p.cell/2 + (a.X-p.cx)*p.scale
	y := p.oy + (p.cell-legendHeight)/2 - (a.Y-p.cy)*p.scale
	return x, y
}

func place(m *Molecule, ox, oy, cell float64) placement {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, a := range m.Atoms {
		minX, maxX = math.Min(minX, a.X), math.Max(maxX, a.X)
		minY, maxY = math.Min(minY, a.Y), math.Max(maxY, a.Y)
	}
	w := cell - 2*cellPadding
	h := cell - 2*cellPadding - legendHeight
	scale := 40.0
	if rx := maxX - minX; rx > 0 {
		scale = math.Min(scale, w/rx)
	}
	if ry := maxY - minY; ry > 0 {
		scale = math.Min(scale, h/ry)
	}
	return placement{
		scale: scale,
		cx:    (minX + maxX) / 2,
		cy:    (minY + maxY) / 2,
		ox:    ox,
		oy:    oy,
		cell:  cell,
	}
}

func drawCell(dc *gg.Context, m *Molecule, highlight []int, legend string, ox, oy, cell float64) {
	pl := place(m, ox, oy, cell)
	lit := make(map[int]bool, len(highlight))
	for _, i := range highlight {
		lit[i] = true
	}

	dc.SetRGB(1, 0.7, 0.7)
	dc.SetLineWidth(atomRadius)
	for _, b := range m.Bonds {
		if lit[b.From] && lit[b.To] {
			x1, y1 := pl.at(m.Atoms[b.From])
			x2, y2 := pl.at(m.Atoms[b.To])
			dc.DrawLine(x1, y1, x2, y2)
			dc.Stroke()
		}
	}
	for _, i := range highlight {
		x, y := pl.at(m.Atoms[i])
		dc.DrawCircle(x, y, atomRadius)
		dc.Fill()
	}

	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(1.5)
	for _, b := range m.Bonds {
		drawBond(dc, pl, m, b)
	}

	for i, a := range m.Atoms {
		if a.Element == "C" {
			continue
		}
		x, y := pl.at(a)
		if lit[i] {
			dc.SetRGB(1, 0.7, 0.7)
		} else {
			dc.SetRGB(1, 1, 1)
		}
		dc.DrawCircle(x, y, atomRadius-2)
		dc.Fill()
		c, ok := elementColors[a.Element]
		if !ok {
			c = [3]float64{0.2, 0.2, 0.2}
		}
		dc.SetRGB(c[0], c[1], c[2])
		dc.DrawStringAnchored(a.Element, x, y, 0.5, 0.35)
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(legend, ox+cell/2, oy+cell-legendHeight/2, 0.5, 0.5)
}

func drawBond(dc *gg.Context, pl placement, m *Molecule, b Bond) {
	x1, y1 := pl.at(m.Atoms[b.From])
	x2, y2 := pl.at(m.Atoms[b.To])
	rad := math.Atan2(y2-y1, x2-x1)
	dx, dy := math.Sin(rad)*3, -math.Cos(rad)*3
	switch b.Order {
	case Double:
		dc.DrawLine(x1+dx/2, y1+dy/2, x2+dx/2, y2+dy/2)
		dc.DrawLine(x1-dx/2, y1-dy/2, x2-dx/2, y2-dy/2)
		dc.Stroke()
	case Triple:
		dc.DrawLine(x1, y1, x2, y2)
		dc.DrawLine(x1+dx, y1+dy, x2+dx, y2+dy)
		dc.DrawLine(x1-dx, y1-dy, x2-dx, y2-dy)
		dc.Stroke()
	case Aromatic:
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
		dc.SetDash(3, 3)
		dc.DrawLine(x1+dx, y1+dy, x2+dx, y2+dy)
		dc.Stroke()
		dc.SetDash()
	default:
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
	}
}
