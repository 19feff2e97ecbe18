package product

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"

	"github.com/satgrid/omi2nc/internal/grid"
)

// Retrieval is one parsed ASCII file: a gridded column-density field
// plus the metadata needed to write it back out. It is produced by the
// parser, handed to the writer, and then discarded.
type Retrieval struct {
	Variant Variant
	Year    int
	Month   int
	Day     int // 0 for monthly products

	Grid grid.Grid
	// Data has shape [Grid.Rows(), Grid.Cols()], row 0 southernmost.
	// Cells without a valid retrieval hold FillValue.
	Data        *sparse.DenseArray
	Uncertainty *sparse.DenseArray // nil when the file carries none
	FillValue   float64
}

// Date renders the acquisition period, "2005-01" for monthly products
// and "2005-01-15" for daily ones.
func (r *Retrieval) Date() string {
	if r.Day > 0 {
		return fmt.Sprintf("%04d-%02d-%02d", r.Year, r.Month, r.Day)
	}
	return fmt.Sprintf("%04d-%02d", r.Year, r.Month)
}

// Stats summarises the valid cells of the field.
type Stats struct {
	Valid int
	Fill  int
	Min   float64
	Max   float64
	Mean  float64
}

func (r *Retrieval) Stats() Stats {
	st := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range r.Data.Elements {
		if v == r.FillValue {
			st.Fill++
			continue
		}
		st.Valid++
		sum += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	if st.Valid > 0 {
		st.Mean = sum / float64(st.Valid)
	} else {
		st.Min, st.Max = 0, 0
	}
	return st
}

// Summary returns key/value pairs describing the retrieval, suitable
// for structured logging.
func (r *Retrieval) Summary() []any {
	st := r.Stats()
	return []any{
		"variant", string(r.Variant),
		"date", r.Date(),
		"rows", r.Grid.Rows(),
		"cols", r.Grid.Cols(),
		"resolution", r.Grid.Resolution(),
		"valid", st.Valid,
		"fill", st.Fill,
		"min", st.Min,
		"max", st.Max,
		"mean", st.Mean,
	}
}

// Quality flags raised by sanity checks on a parsed field. They signal
// suspect data, not errors: conversion proceeds and the driver logs them.
const (
	FlagAllCellsFill  = "all_cells_fill"
	FlagBelowValidMin = "below_valid_min"
	FlagAboveValidMax = "above_valid_max"
)

func QualityFlags(r *Retrieval) []string {
	var flags []string
	st := r.Stats()
	spec := r.Variant.Spec()

	if st.Valid == 0 {
		return append(flags, FlagAllCellsFill)
	}
	if st.Min < spec.ValidMin {
		flags = append(flags, FlagBelowValidMin)
	}
	if st.Max > spec.ValidMax {
		flags = append(flags, FlagAboveValidMax)
	}
	return flags
}
