// Package catalog keeps a SQLite record of finished conversions so
// batch runs can skip inputs that are already up to date.
package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/satgrid/omi2nc/internal/product"
)

type Catalog struct {
	db *sql.DB
}

// Entry is one recorded conversion. Input size and mtime identify the
// exact file that was converted; a changed input invalidates the entry.
type Entry struct {
	ID          int64
	Input       string
	InputSize   int64
	InputMTime  time.Time
	Output      string
	Variant     product.Variant
	Period      string
	Rows        int
	Cols        int
	Valid       int
	Fill        int
	Min         float64
	Max         float64
	Mean        float64
	ConvertedAt time.Time
}

// New wraps an open database handle. The caller owns the handle and
// must have registered a sqlite driver.
func New(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// Open opens (or creates) a catalog database at path and applies any
// pending migrations.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	c := New(db)
	if err := c.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return c, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// Record upserts the entry for an (input, output) pair.
func (c *Catalog) Record(e Entry) error {
	_, err := c.db.Exec(`
		INSERT INTO conversions (input, input_size, input_mtime, output, variant, period, rows, cols, valid_cells, fill_cells, min, max, mean, converted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(input, output) DO UPDATE SET
			input_size = excluded.input_size,
			input_mtime = excluded.input_mtime,
			variant = excluded.variant,
			period = excluded.period,
			rows = excluded.rows,
			cols = excluded.cols,
			valid_cells = excluded.valid_cells,
			fill_cells = excluded.fill_cells,
			min = excluded.min,
			max = excluded.max,
			mean = excluded.mean,
			converted_at = excluded.converted_at
	`, e.Input, e.InputSize, e.InputMTime.UTC(), e.Output, string(e.Variant), e.Period,
		e.Rows, e.Cols, e.Valid, e.Fill, e.Min, e.Max, e.Mean, e.ConvertedAt.UTC())
	return err
}

// Lookup returns the entry for an (input, output) pair, or nil when
// none has been recorded.
func (c *Catalog) Lookup(input, output string) (*Entry, error) {
	row := c.db.QueryRow(`
		SELECT id, input, input_size, input_mtime, output, variant, period, rows, cols, valid_cells, fill_cells, min, max, mean, converted_at
		FROM conversions
		WHERE input = ? AND output = ?
	`, input, output)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// UpToDate reports whether a recorded conversion still matches the
// input file on disk and the output file still exists.
func (c *Catalog) UpToDate(input, output string) (bool, error) {
	e, err := c.Lookup(input, output)
	if err != nil || e == nil {
		return false, err
	}
	fi, err := os.Stat(input)
	if err != nil {
		return false, nil
	}
	if fi.Size() != e.InputSize || !fi.ModTime().UTC().Equal(e.InputMTime.UTC()) {
		return false, nil
	}
	if _, err := os.Stat(output); err != nil {
		return false, nil
	}
	return true, nil
}

// Recent returns up to n entries, newest first.
func (c *Catalog) Recent(n int) ([]Entry, error) {
	rows, err := c.db.Query(`
		SELECT id, input, input_size, input_mtime, output, variant, period, rows, cols, valid_cells, fill_cells, min, max, mean, converted_at
		FROM conversions
		ORDER BY converted_at DESC, id DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var variant string
	err := s.Scan(&e.ID, &e.Input, &e.InputSize, &e.InputMTime, &e.Output, &variant, &e.Period,
		&e.Rows, &e.Cols, &e.Valid, &e.Fill, &e.Min, &e.Max, &e.Mean, &e.ConvertedAt)
	if err != nil {
		return nil, err
	}
	e.Variant = product.Variant(variant)
	return &e, nil
}
