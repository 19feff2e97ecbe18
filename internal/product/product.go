// Package product describes the OMI retrieval products this tool can
// convert: which provider distributes them, how their ASCII files are
// laid out, and how they should appear in NetCDF output.
package product

import (
	"fmt"
	"strings"
)

type Variant string

const (
	TEMISDailyHCHO    Variant = "temis-daily-hcho"
	QA4ECVMonthlyHCHO Variant = "qa4ecv-monthly-hcho"
	QA4ECVMonthlyNO2  Variant = "qa4ecv-monthly-no2"
)

// Layout selects how the data section of an ASCII file is encoded.
type Layout int

const (
	// LayoutFloatGrid is whitespace-separated floats, one grid row per
	// text row, with "NaN" marking cells without a valid retrieval.
	LayoutFloatGrid Layout = iota
	// LayoutFixedInt is the packed integer layout: each grid row is a
	// "lat=" label line followed by lines of 20 right-justified
	// 4-character integer fields, with -999 marking missing cells.
	LayoutFixedInt
)

// Spec is the fixed parameter set for one product variant. Variants are
// a small closed set, so a flat tagged configuration is all that is
// needed to tell them apart.
type Spec struct {
	Variant    Variant
	Title      string
	Signature  []string // keywords that must all appear in the header title line
	Daily      bool     // daily files carry a day-of-month in the date line
	Layout     Layout
	Resolution float64 // degrees; pinned per variant
	FillValue  float64

	VarName  string
	Units    string
	LongName string
	ValidMin float64
	ValidMax float64

	Source     string
	References string
}

var specs = map[Variant]Spec{
	TEMISDailyHCHO: {
		Variant:    TEMISDailyHCHO,
		Title:      "TEMIS OMI HCHO tropospheric column daily gridded mean",
		Signature:  []string{"OMI", "HCHO"},
		Daily:      true,
		Layout:     LayoutFloatGrid,
		Resolution: 0.25,
		FillValue:  -999,
		VarName:    "hcho_column",
		Units:      "1e15 molec/cm2",
		LongName:   "HCHO tropospheric vertical column density",
		ValidMin:   -10,
		ValidMax:   100,
		Source:     "https://www.temis.nl/qa4ecv/hcho.html",
		References: "De Smedt et al. (2018), Atmos. Meas. Tech. 11, 2395-2426",
	},
	QA4ECVMonthlyHCHO: {
		Variant:    QA4ECVMonthlyHCHO,
		Title:      "QA4ECV OMI HCHO tropospheric column monthly mean",
		Signature:  []string{"QA4ECV", "HCHO"},
		Layout:     LayoutFloatGrid,
		Resolution: 0.125,
		FillValue:  -999,
		VarName:    "hcho_column",
		Units:      "1e15 molec/cm2",
		LongName:   "HCHO tropospheric vertical column density",
		ValidMin:   -10,
		ValidMax:   100,
		Source:     "http://www.qa4ecv.eu/ecv/hcho-p/data",
		References: "De Smedt et al. (2018), Atmos. Meas. Tech. 11, 2395-2426",
	},
	QA4ECVMonthlyNO2: {
		Variant:    QA4ECVMonthlyNO2,
		Title:      "QA4ECV OMI NO2 tropospheric column monthly mean",
		Signature:  []string{"QA4ECV", "NO2"},
		Layout:     LayoutFixedInt,
		Resolution: 0.125,
		FillValue:  -999,
		VarName:    "no2_column",
		Units:      "1e13 molec/cm2",
		LongName:   "NO2 tropospheric vertical column density",
		ValidMin:   -100,
		ValidMax:   5000,
		Source:     "http://www.qa4ecv.eu/ecv/no2-p/data",
		References: "Boersma et al. (2018), Atmos. Meas. Tech. 11, 6651-6678",
	},
}

func (v Variant) Spec() Spec {
	s, ok := specs[v]
	if !ok {
		panic(fmt.Sprintf("product: unknown variant %q", string(v)))
	}
	return s
}

func (v Variant) Valid() bool {
	_, ok := specs[v]
	return ok
}

func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown product variant %q (valid: %s)", s, strings.Join(Variants(), ", "))
	}
	return v, nil
}

// Variants lists the valid variant tags in a stable order.
func Variants() []string {
	return []string{
		string(TEMISDailyHCHO),
		string(QA4ECVMonthlyHCHO),
		string(QA4ECVMonthlyNO2),
	}
}
