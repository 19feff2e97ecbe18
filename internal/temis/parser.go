// Package temis parses the gridded ASCII files that TEMIS and QA4ECV
// distribute OMI level-3 retrieval products in.
package temis

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ctessum/sparse"

	"github.com/satgrid/omi2nc/internal/grid"
	"github.com/satgrid/omi2nc/internal/product"
)

var (
	// ErrFileFormat means the file header or layout does not match the
	// declared product variant.
	ErrFileFormat = errors.New("file does not match the declared product layout")
	// ErrParse means a data field could not be read or the data section
	// does not fill the grid exactly.
	ErrParse = errors.New("malformed data")
)

var (
	numberRe   = regexp.MustCompile(`[-+]?\d*\.\d+|[-+]?\d+`)
	westRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)W`)
	southRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)S`)
	rowLabelRe = regexp.MustCompile(`^\s*lat\s*=\s*([-+]?\d+(?:\.\d+)?)`)
)

// fixed-width layout constants, per the provider format description
const (
	fieldsPerLine = 20
	fieldWidth    = 4
)

// Parse reads one ASCII product file, transparently decompressing
// gzip, and returns the retrieval it contains.
func Parse(path string, v product.Variant) (*product.Retrieval, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: bad gzip stream: %v", path, ErrFileFormat, err)
		}
		defer gz.Close()
		r = gz
	}
	return ParseReader(r, filepath.Base(path), v)
}

// ParseReader is Parse for an already-open stream. name is used in
// error messages only.
func ParseReader(r io.Reader, name string, v product.Variant) (*product.Retrieval, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%s: unknown product variant %q", name, string(v))
	}
	spec := v.Spec()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	p := &parser{sc: sc, name: name, spec: spec}

	rec, err := p.parse()
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type parser struct {
	sc   *bufio.Scanner
	name string
	spec product.Spec
	line int
}

// next returns the next line of input, stripped of a trailing CR.
func (p *parser) next() (string, error) {
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", fmt.Errorf("%s: %w", p.name, err)
		}
		return "", fmt.Errorf("%s line %d: %w: unexpected end of file", p.name, p.line+1, ErrParse)
	}
	p.line++
	return strings.TrimSuffix(p.sc.Text(), "\r"), nil
}

func (p *parser) formatErr(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s line %d: %w: %s", p.name, p.line, ErrFileFormat, msg)
}

func (p *parser) parseErr(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s line %d: %w: %s", p.name, p.line, ErrParse, msg)
}

func (p *parser) parse() (*product.Retrieval, error) {
	rec := &product.Retrieval{
		Variant:   p.spec.Variant,
		FillValue: p.spec.FillValue,
	}

	g, err := p.parseHeader(rec)
	if err != nil {
		return nil, err
	}
	rec.Grid = g

	switch p.spec.Layout {
	case product.LayoutFloatGrid:
		rec.Data, err = p.parseFloatGrid(g)
	case product.LayoutFixedInt:
		rec.Data, err = p.parseFixedInt(g)
	default:
		err = fmt.Errorf("%s: unknown data layout %d", p.name, p.spec.Layout)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// parseHeader reads the four structured header lines common to all
// variants: title, date, longitude extent, latitude extent. Float-grid
// files carry three further free-form lines (units, fill, ordering)
// which are skipped.
func (p *parser) parseHeader(rec *product.Retrieval) (grid.Grid, error) {
	title, err := p.next()
	if err != nil {
		return grid.Grid{}, err
	}
	for _, kw := range p.spec.Signature {
		if !strings.Contains(title, kw) {
			return grid.Grid{}, p.formatErr("title %q does not mention %q", strings.TrimSpace(title), kw)
		}
	}

	dateLine, err := p.next()
	if err != nil {
		return grid.Grid{}, err
	}
	nums := numberRe.FindAllString(dateLine, -1)
	want := 2
	if p.spec.Daily {
		want = 3
	}
	if len(nums) < want {
		return grid.Grid{}, p.formatErr("date line %q: want %d fields", strings.TrimSpace(dateLine), want)
	}
	rec.Year, _ = strconv.Atoi(nums[0])
	rec.Month, _ = strconv.Atoi(nums[1])
	if p.spec.Daily {
		rec.Day, _ = strconv.Atoi(nums[2])
	}
	if rec.Year < 1995 || rec.Year > 2100 || rec.Month < 1 || rec.Month > 12 || rec.Day < 0 || rec.Day > 31 {
		return grid.Grid{}, p.formatErr("implausible date %d-%d-%d", rec.Year, rec.Month, rec.Day)
	}

	nlon, lonStart, lonEnd, err := p.parseExtent(westRe)
	if err != nil {
		return grid.Grid{}, err
	}
	nlat, latStart, latEnd, err := p.parseExtent(southRe)
	if err != nil {
		return grid.Grid{}, err
	}

	g, err := grid.New(nlat, nlon, latStart, latEnd, lonStart, lonEnd)
	if err != nil {
		return grid.Grid{}, p.formatErr("%v", err)
	}
	if math.Abs(g.Resolution()-p.spec.Resolution) > 1e-3 {
		return grid.Grid{}, p.formatErr("bin size %.4f degrees, want %.4f for %s",
			g.Resolution(), p.spec.Resolution, p.spec.Variant)
	}

	if p.spec.Layout == product.LayoutFloatGrid {
		for i := 0; i < 3; i++ {
			if _, err := p.next(); err != nil {
				return grid.Grid{}, err
			}
		}
	}
	return g, nil
}

// parseExtent reads one axis line of the form
// "Longitudes: 80 bins : -10.000 to 10.000 degrees". Some provider
// files print western and southern bounds unsigned with a W/S suffix;
// the sign is restored here, as the providers intend.
func (p *parser) parseExtent(negRe *regexp.Regexp) (n int, start, end float64, err error) {
	line, err := p.next()
	if err != nil {
		return 0, 0, 0, err
	}
	nums := numberRe.FindAllString(line, -1)
	if len(nums) < 3 {
		return 0, 0, 0, p.formatErr("extent line %q: want count and two bounds", strings.TrimSpace(line))
	}
	n, err = strconv.Atoi(nums[0])
	if err != nil {
		return 0, 0, 0, p.formatErr("bin count %q: %v", nums[0], err)
	}
	start, err = strconv.ParseFloat(nums[1], 64)
	if err != nil {
		return 0, 0, 0, p.formatErr("bound %q: %v", nums[1], err)
	}
	end, err = strconv.ParseFloat(nums[2], 64)
	if err != nil {
		return 0, 0, 0, p.formatErr("bound %q: %v", nums[2], err)
	}
	if m := negRe.FindStringSubmatch(line); m != nil && m[1] == nums[1] && start > 0 {
		start = -start
	}
	return n, start, end, nil
}

// parseFloatGrid reads whitespace-separated floats until the grid is
// full. "NaN" cells become the fill value.
func (p *parser) parseFloatGrid(g grid.Grid) (*sparse.DenseArray, error) {
	data := sparse.ZerosDense(g.Rows(), g.Cols())
	total := g.Rows() * g.Cols()
	idx := 0
	for p.sc.Scan() {
		p.line++
		fields := strings.Fields(strings.TrimSuffix(p.sc.Text(), "\r"))
		for _, f := range fields {
			if idx >= total {
				return nil, p.parseErr("trailing data after %d values", total)
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, p.parseErr("unparseable field %q", f)
			}
			if math.IsNaN(v) {
				v = p.spec.FillValue
			}
			data.Elements[idx] = v
			idx++
		}
	}
	if err := p.sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	if idx != total {
		return nil, p.parseErr("got %d values, want %d for a %dx%d grid",
			idx, total, g.Rows(), g.Cols())
	}
	return data, nil
}

// parseFixedInt reads the packed NO2 layout: per grid row a "lat="
// label line, then lines of 20 right-justified 4-character integer
// fields. -999 marks missing cells.
func (p *parser) parseFixedInt(g grid.Grid) (*sparse.DenseArray, error) {
	if g.Cols()%fieldsPerLine != 0 {
		return nil, p.formatErr("packed layout needs a multiple of %d columns, grid has %d",
			fieldsPerLine, g.Cols())
	}
	linesPerRow := g.Cols() / fieldsPerLine
	lineLen := fieldsPerLine * fieldWidth

	data := sparse.ZerosDense(g.Rows(), g.Cols())
	lats := g.LatCenters()
	for i := 0; i < g.Rows(); i++ {
		label, err := p.next()
		if err != nil {
			return nil, err
		}
		m := rowLabelRe.FindStringSubmatch(label)
		if m == nil {
			return nil, p.parseErr("expected a lat= row label, got %q", strings.TrimSpace(label))
		}
		lat, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, p.parseErr("row label latitude %q: %v", m[1], err)
		}
		if math.Abs(lat-lats[i]) > 1e-3 {
			return nil, p.parseErr("row label lat=%g, want %g", lat, lats[i])
		}

		col := 0
		for l := 0; l < linesPerRow; l++ {
			line, err := p.next()
			if err != nil {
				return nil, err
			}
			if len(line) != lineLen {
				return nil, p.parseErr("data line is %d characters, want %d", len(line), lineLen)
			}
			for k := 0; k < fieldsPerLine; k++ {
				field := strings.TrimSpace(line[k*fieldWidth : (k+1)*fieldWidth])
				v, err := strconv.Atoi(field)
				if err != nil {
					return nil, p.parseErr("unparseable field %q", field)
				}
				// The -999 sentinel doubles as the fill value.
				data.Set(float64(v), i, col)
				col++
			}
		}
	}

	// Anything but blank lines after the last row is a layout violation.
	for p.sc.Scan() {
		p.line++
		if strings.TrimSpace(p.sc.Text()) != "" {
			return nil, p.parseErr("trailing data after final grid row")
		}
	}
	if err := p.sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return data, nil
}
