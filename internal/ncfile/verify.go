package ncfile

import (
	"fmt"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/satgrid/omi2nc/internal/product"
)

// float32 round-off, relative to the magnitude of the stored value
const verifyTol = 1e-5

// Verify reopens a written file with an independent NetCDF decoder and
// checks that it round-trips rec: coordinate lengths and values, every
// data cell within float32 tolerance, and fill cells exactly.
func Verify(path string, rec *product.Retrieval) error {
	nc, err := netcdf.Open(path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	defer nc.Close()

	spec := rec.Variant.Spec()
	g := rec.Grid

	if err := verifyCoord(nc, "lat", g.LatCenters()); err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	if err := verifyCoord(nc, "lon", g.LonCenters()); err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}

	v, err := nc.GetVariable(spec.VarName)
	if err != nil {
		return fmt.Errorf("verify %s: %s: %w", path, spec.VarName, err)
	}
	vals, ok := v.Values.([][]float32)
	if !ok {
		return fmt.Errorf("verify %s: %s is %T, want [][]float32", path, spec.VarName, v.Values)
	}
	if len(vals) != g.Rows() {
		return fmt.Errorf("verify %s: %s has %d rows, want %d", path, spec.VarName, len(vals), g.Rows())
	}

	fv, has := v.Attributes.Get("_FillValue")
	if !has {
		return fmt.Errorf("verify %s: %s has no _FillValue", path, spec.VarName)
	}
	if f, ok := fv.(float32); !ok || float64(f) != rec.FillValue {
		return fmt.Errorf("verify %s: %s _FillValue = %v, want %g", path, spec.VarName, fv, rec.FillValue)
	}

	for i, row := range vals {
		if len(row) != g.Cols() {
			return fmt.Errorf("verify %s: %s row %d has %d columns, want %d",
				path, spec.VarName, i, len(row), g.Cols())
		}
		for j, got := range row {
			want := rec.Data.Get(i, j)
			if want == rec.FillValue {
				if float64(got) != rec.FillValue {
					return fmt.Errorf("verify %s: cell (%d,%d) = %g, want fill %g",
						path, i, j, got, rec.FillValue)
				}
				continue
			}
			if !scalar.EqualWithinAbsOrRel(float64(got), want, verifyTol, verifyTol) {
				return fmt.Errorf("verify %s: cell (%d,%d) = %g, want %g",
					path, i, j, got, want)
			}
		}
	}
	return nil
}

func verifyCoord(nc api.Group, name string, want []float64) error {
	v, err := nc.GetVariable(name)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	got, ok := v.Values.([]float64)
	if !ok {
		return fmt.Errorf("%s is %T, want []float64", name, v.Values)
	}
	if len(got) != len(want) {
		return fmt.Errorf("%s has %d values, want %d", name, len(got), len(want))
	}
	if !floats.EqualApprox(got, want, 1e-9) {
		return fmt.Errorf("%s centers do not match the grid", name)
	}
	return nil
}
