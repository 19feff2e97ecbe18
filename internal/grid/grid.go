// Package grid defines the regular latitude/longitude grids that OMI
// level-3 products are distributed on.
package grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// binTol is the tolerance used when comparing bin sizes derived from
// header bounds, which are printed with three decimal places.
const binTol = 1e-3

// Grid is an immutable regular lat/lon grid. Row 0 is the southernmost
// row and column 0 the westernmost column; bounds are cell edges.
type Grid struct {
	rows, cols         int
	latStart, latEnd   float64
	lonStart, lonEnd   float64
	res                float64
}

func New(rows, cols int, latStart, latEnd, lonStart, lonEnd float64) (Grid, error) {
	if rows <= 0 || cols <= 0 {
		return Grid{}, fmt.Errorf("grid: invalid shape %dx%d", rows, cols)
	}
	if latEnd <= latStart {
		return Grid{}, fmt.Errorf("grid: latitude bounds not increasing: %g to %g", latStart, latEnd)
	}
	if lonEnd <= lonStart {
		return Grid{}, fmt.Errorf("grid: longitude bounds not increasing: %g to %g", lonStart, lonEnd)
	}
	latRes := (latEnd - latStart) / float64(rows)
	lonRes := (lonEnd - lonStart) / float64(cols)
	if math.Abs(latRes-lonRes) > binTol {
		return Grid{}, fmt.Errorf("grid: bin size differs between axes: %.4f vs %.4f degrees", latRes, lonRes)
	}
	return Grid{
		rows: rows, cols: cols,
		latStart: latStart, latEnd: latEnd,
		lonStart: lonStart, lonEnd: lonEnd,
		res: latRes,
	}, nil
}

func (g Grid) Rows() int           { return g.rows }
func (g Grid) Cols() int           { return g.cols }
func (g Grid) Resolution() float64 { return g.res }

func (g Grid) LatBounds() (start, end float64) { return g.latStart, g.latEnd }
func (g Grid) LonBounds() (start, end float64) { return g.lonStart, g.lonEnd }

// LatCenters returns the cell-center latitudes from south to north.
func (g Grid) LatCenters() []float64 {
	return centers(g.rows, g.latStart, g.latEnd, g.res)
}

// LonCenters returns the cell-center longitudes from west to east.
func (g Grid) LonCenters() []float64 {
	return centers(g.cols, g.lonStart, g.lonEnd, g.res)
}

func centers(n int, start, end, res float64) []float64 {
	if n == 1 {
		return []float64{start + res/2}
	}
	return floats.Span(make([]float64, n), start+res/2, end-res/2)
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d at %.4f deg (%g..%g N, %g..%g E)",
		g.rows, g.cols, g.res, g.latStart, g.latEnd, g.lonStart, g.lonEnd)
}
