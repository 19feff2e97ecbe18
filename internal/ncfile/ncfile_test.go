package ncfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"

	"github.com/satgrid/omi2nc/internal/grid"
	"github.com/satgrid/omi2nc/internal/product"
)

func testRetrieval(t *testing.T) *product.Retrieval {
	t.Helper()
	g, err := grid.New(4, 8, -0.25, 0.25, -0.5, 0.5)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	data := sparse.ZerosDense(4, 8)
	for i := 0; i < 4; i++ {
		for j := 0; j < 8; j++ {
			data.Set(float64(i)+float64(j)/10, i, j)
		}
	}
	data.Set(-999, 1, 3)
	data.Set(-999, 3, 7)
	return &product.Retrieval{
		Variant:   product.QA4ECVMonthlyHCHO,
		Year:      2005,
		Month:     6,
		Grid:      g,
		Data:      data,
		FillValue: -999,
	}
}

func openCDF(t *testing.T, path string) (*os.File, *cdf.File) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { f.Close() })
	ff, err := cdf.Open(f)
	if err != nil {
		t.Fatalf("cdf.Open %s: %v", path, err)
	}
	return f, ff
}

func readFloat64s(t *testing.T, ff *cdf.File, name string) []float64 {
	t.Helper()
	r := ff.Reader(name, nil, nil)
	buf := r.Zero(-1).([]float64)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return buf
}

func readFloat32s(t *testing.T, ff *cdf.File, name string) []float32 {
	t.Helper()
	r := ff.Reader(name, nil, nil)
	buf := r.Zero(-1).([]float32)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return buf
}

func TestWriteAndReadBack(t *testing.T) {
	rec := testRetrieval(t)
	path := filepath.Join(t.TempDir(), "hcho_200506.nc")
	if err := Write(path, rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, ff := openCDF(t, path)

	if got := ff.Header.Lengths("hcho_column"); len(got) != 2 || got[0] != 4 || got[1] != 8 {
		t.Fatalf("data dims = %v, want [4 8]", got)
	}

	lats := readFloat64s(t, ff, "lat")
	if !floats.EqualApprox(lats, rec.Grid.LatCenters(), 1e-12) {
		t.Errorf("lat = %v, want %v", lats, rec.Grid.LatCenters())
	}
	lons := readFloat64s(t, ff, "lon")
	if !floats.EqualApprox(lons, rec.Grid.LonCenters(), 1e-12) {
		t.Errorf("lon = %v, want %v", lons, rec.Grid.LonCenters())
	}

	vals := readFloat32s(t, ff, "hcho_column")
	if len(vals) != 32 {
		t.Fatalf("len(vals) = %d, want 32", len(vals))
	}
	for i, want := range rec.Data.Elements {
		if float64(vals[i]) != float64(float32(want)) {
			t.Fatalf("vals[%d] = %g, want %g", i, vals[i], want)
		}
	}

	if got := ff.Header.GetAttribute("lat", "units"); got != "degrees_north" {
		t.Errorf("lat:units = %v, want degrees_north", got)
	}
	if got := ff.Header.GetAttribute("hcho_column", "units"); got != "1e15 molec/cm2" {
		t.Errorf("units = %v, want 1e15 molec/cm2", got)
	}
	fill, ok := ff.Header.GetAttribute("hcho_column", "_FillValue").([]float32)
	if !ok || len(fill) != 1 || fill[0] != -999 {
		t.Errorf("_FillValue = %v, want [-999]", fill)
	}
	title, _ := ff.Header.GetAttribute("", "title").(string)
	if title != "QA4ECV OMI HCHO tropospheric column monthly mean 2005-06" {
		t.Errorf("title = %q", title)
	}
	if got := ff.Header.GetAttribute("", "Conventions"); got != "CF-1.6" {
		t.Errorf("Conventions = %v, want CF-1.6", got)
	}
	if got := ff.Header.GetAttribute("", "product_variant"); got != "qa4ecv-monthly-hcho" {
		t.Errorf("product_variant = %v", got)
	}
}

func TestWriteUncertainty(t *testing.T) {
	rec := testRetrieval(t)
	unc := sparse.ZerosDense(4, 8)
	for i := range unc.Elements {
		unc.Elements[i] = 0.5
	}
	rec.Uncertainty = unc

	path := filepath.Join(t.TempDir(), "hcho_200506.nc")
	if err := Write(path, rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, ff := openCDF(t, path)
	vals := readFloat32s(t, ff, "hcho_column_uncertainty")
	for i, v := range vals {
		if v != 0.5 {
			t.Fatalf("uncertainty[%d] = %g, want 0.5", i, v)
		}
	}
}

func TestVerify(t *testing.T) {
	rec := testRetrieval(t)
	path := filepath.Join(t.TempDir(), "hcho_200506.nc")
	if err := Write(path, rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Verify(path, rec); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// A record that differs from the file must fail verification.
	rec.Data.Set(42.0, 2, 2)
	if err := Verify(path, rec); err == nil {
		t.Fatal("Verify succeeded on mismatched data, want error")
	}
}

func TestShapeMismatch(t *testing.T) {
	rec := testRetrieval(t)
	rec.Data = sparse.ZerosDense(3, 8) // one row short

	dir := t.TempDir()
	path := filepath.Join(dir, "hcho_200506.nc")
	err := Write(path, rec)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}

	// Nothing may be left behind, not even a temp file.
	entries, rerr := os.ReadDir(dir)
	if rerr != nil {
		t.Fatalf("ReadDir: %v", rerr)
	}
	if len(entries) != 0 {
		t.Errorf("output dir not empty after failed write: %v", entries)
	}
}

func TestWriteToMissingDir(t *testing.T) {
	rec := testRetrieval(t)
	path := filepath.Join(t.TempDir(), "no", "such", "dir", "out.nc")
	if err := Write(path, rec); err == nil {
		t.Fatal("Write to missing directory succeeded, want error")
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	rec := testRetrieval(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.nc")
	b := filepath.Join(dir, "b.nc")

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := write(a, rec, created); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := write(b, rec, created); err != nil {
		t.Fatalf("write b: %v", err)
	}

	ab, err := os.ReadFile(a)
	if err != nil {
		t.Fatalf("read a: %v", err)
	}
	bb, err := os.ReadFile(b)
	if err != nil {
		t.Fatalf("read b: %v", err)
	}
	if len(ab) == 0 || string(ab) != string(bb) {
		t.Error("identical inputs produced different bytes")
	}
}

func TestOverwriteExisting(t *testing.T) {
	rec := testRetrieval(t)
	path := filepath.Join(t.TempDir(), "out.nc")
	if err := Write(path, rec); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	rec.Data.Set(7.0, 0, 0)
	if err := Write(path, rec); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if err := Verify(path, rec); err != nil {
		t.Errorf("Verify after overwrite: %v", err)
	}
}
