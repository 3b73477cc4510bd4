package viz

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Braille cells hold 2x4 dots starting at U+2800:
//
//	1 4
//	2 5
//	3 6
//	7 8
const brailleBlank = 0x2800

var pixelMap = [4][2]int{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

// Canvas is a Braille pixel grid of Width x Height cells, that is
// (2*Width) x (4*Height) dots.
type Canvas struct {
	Width, Height int
	Grid          [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{
		Width:  w,
		Height: h,
		Grid:   make([][]rune, h),
	}
	for i := range c.Grid {
		c.Grid[i] = make([]rune, w)
	}
	c.Clear()
	return c
}

// Set lights the dot at (x, y), with y growing downwards.
func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 {
		return
	}
	col, row := x/2, y/4
	if col >= c.Width || row >= c.Height {
		return
	}
	c.Grid[row][col] |= rune(pixelMap[y%4][x%2])
}

func (c *Canvas) Clear() {
	for i := range c.Grid {
		for j := range c.Grid[i] {
			c.Grid[i][j] = brailleBlank
		}
	}
}

// DrawLine draws a segment with Bresenham's algorithm.
func (c *Canvas) DrawLine(x0, y0, x1, y1 int) {
	dx, dy := absInt(x1-x0), absInt(y1-y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy

	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// Polyline scales the points to fill the canvas and joins them. Non-finite
// points are skipped.
func (c *Canvas) Polyline(xs, ys []float64) {
	n := min(len(xs), len(ys))
	if n == 0 {
		return
	}
	fx, fy := finite(xs[:n], ys[:n])
	if len(fx) == 0 {
		return
	}
	xlo, xhi := floats.Min(fx), floats.Max(fx)
	ylo, yhi := floats.Min(fy), floats.Max(fy)
	w, h := float64(c.Width*2-1), float64(c.Height*4-1)

	scale := func(v, lo, hi, size float64) float64 {
		if hi == lo {
			return size / 2
		}
		return (v - lo) / (hi - lo) * size
	}
	px, py := -1, -1
	for i := range fx {
		x := int(math.Round(scale(fx[i], xlo, xhi, w)))
		y := int(math.Round(h - scale(fy[i], ylo, yhi, h)))
		if px < 0 {
			c.Set(x, y)
		} else {
			c.DrawLine(px, py, x, y)
		}
		px, py = x, y
	}
}

func finite(xs, ys []float64) ([]float64, []float64) {
	fx := make([]float64, 0, len(xs))
	fy := make([]float64, 0, len(ys))
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsInf(xs[i], 0) || math.IsNaN(ys[i]) || math.IsInf(ys[i], 0) {
			continue
		}
		fx = append(fx, xs[i])
		fy = append(fy, ys[i])
	}
	return fx, fy
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.Grid {
		b.WriteString(string(row) + "\n")
	}
	return b.String()
}

// PhasePortrait draws state component j against component i along tr.
func PhasePortrait(tr *dynamo.Trajectory, i, j, w, h int) string {
	c := NewCanvas(w, h)
	xs := make([]float64, 0, tr.Len())
	ys := make([]float64, 0, tr.Len())
	for _, x := range tr.States {
		if i < len(x) && j < len(x) {
			xs = append(xs, x[i])
			ys = append(ys, x[j])
		}
	}
	c.Polyline(xs, ys)
	return c.String()
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
