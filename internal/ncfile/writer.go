// Package ncfile writes parsed retrievals to NetCDF classic files and
// verifies written files by reading them back.
package ncfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"

	"github.com/satgrid/omi2nc/internal/product"
)

// ErrShapeMismatch means a parsed array does not match its grid. The
// parser guarantees this cannot happen, so it is a defect signal and is
// never recovered from.
var ErrShapeMismatch = errors.New("array shape does not match grid dimensions")

// Write serializes rec to a NetCDF file at path. The file is written to
// a temporary name in the same directory and renamed into place, so a
// failure never leaves a truncated file at path.
func Write(path string, rec *product.Retrieval) error {
	return write(path, rec, time.Now().UTC())
}

func write(path string, rec *product.Retrieval, created time.Time) (err error) {
	spec := rec.Variant.Spec()
	g := rec.Grid
	if err := checkShape(rec.Data, g.Rows(), g.Cols()); err != nil {
		return fmt.Errorf("%s: %w", spec.VarName, err)
	}
	uncName := spec.VarName + "_uncertainty"
	if rec.Uncertainty != nil {
		if err := checkShape(rec.Uncertainty, g.Rows(), g.Cols()); err != nil {
			return fmt.Errorf("%s: %w", uncName, err)
		}
	}

	h := cdf.NewHeader([]string{"lat", "lon"}, []int{g.Rows(), g.Cols()})
	h.AddAttribute("", "title", spec.Title+" "+rec.Date())
	h.AddAttribute("", "source", spec.Source)
	h.AddAttribute("", "references", spec.References)
	h.AddAttribute("", "history", "created "+created.Format(time.RFC3339)+" by omi2nc")
	h.AddAttribute("", "Conventions", "CF-1.6")
	h.AddAttribute("", "product_variant", string(rec.Variant))

	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddAttribute("lat", "standard_name", "latitude")
	h.AddAttribute("lat", "long_name", "latitude of cell center")

	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", "units", "degrees_east")
	h.AddAttribute("lon", "standard_name", "longitude")
	h.AddAttribute("lon", "long_name", "longitude of cell center")

	addDataVariable(h, spec.VarName, spec.LongName, spec, rec.FillValue)
	if rec.Uncertainty != nil {
		addDataVariable(h, uncName, "1-sigma uncertainty of "+spec.LongName, spec, rec.FillValue)
	}
	h.Define()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	ff, err := cdf.Create(tmp, h)
	if err != nil {
		return err
	}
	if err = writeCoord(ff, "lat", g.LatCenters()); err != nil {
		return err
	}
	if err = writeCoord(ff, "lon", g.LonCenters()); err != nil {
		return err
	}
	if err = writeGrid(ff, spec.VarName, rec.Data); err != nil {
		return err
	}
	if rec.Uncertainty != nil {
		if err = writeGrid(ff, uncName, rec.Uncertainty); err != nil {
			return err
		}
	}
	if err = cdf.UpdateNumRecs(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func addDataVariable(h *cdf.Header, name, longName string, spec product.Spec, fill float64) {
	h.AddVariable(name, []string{"lat", "lon"}, []float32{0})
	h.AddAttribute(name, "units", spec.Units)
	h.AddAttribute(name, "long_name", longName)
	h.AddAttribute(name, "_FillValue", []float32{float32(fill)})
	h.AddAttribute(name, "valid_min", []float32{float32(spec.ValidMin)})
	h.AddAttribute(name, "valid_max", []float32{float32(spec.ValidMax)})
}

func checkShape(data *sparse.DenseArray, rows, cols int) error {
	if len(data.Shape) != 2 || data.Shape[0] != rows || data.Shape[1] != cols {
		return fmt.Errorf("%w: array is %v, grid is %dx%d",
			ErrShapeMismatch, data.Shape, rows, cols)
	}
	return nil
}

func writeCoord(f *cdf.File, name string, vals []float64) error {
	if _, err := f.Writer(name, nil, nil).Write(vals); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func writeGrid(f *cdf.File, name string, data *sparse.DenseArray) error {
	vals := make([]float32, len(data.Elements))
	for i, v := range data.Elements {
		vals[i] = float32(v)
	}
	if _, err := f.Writer(name, nil, nil).Write(vals); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
