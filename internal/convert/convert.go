// Package convert drives batch conversion of gridded ASCII files to
// NetCDF. It fans the inputs out over a worker pool, isolates per-file
// failures, and reports a summary at the end.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/satgrid/omi2nc/internal/catalog"
	"github.com/satgrid/omi2nc/internal/ncfile"
	"github.com/satgrid/omi2nc/internal/product"
	"github.com/satgrid/omi2nc/internal/temis"
)

// ErrNamingConflict reports that two input files would produce the same
// output path. The whole job is refused before any file is converted.
var ErrNamingConflict = errors.New("naming conflict")

// Job describes one batch conversion.
type Job struct {
	Inputs  []string
	Variant product.Variant
	OutDir  string
	Workers int  // 0 means 1
	Verify  bool // read each output back and compare against the parse

	// Catalog, when set, records finished conversions and lets the job
	// skip inputs whose recorded output is still current. Force
	// converts them anyway.
	Catalog *catalog.Catalog
	Force   bool
}

// Result records the outcome for a single input file.
type Result struct {
	Input   string
	Output  string
	Skipped bool
	Err     error
}

// Summary tallies a finished job.
type Summary struct {
	Converted int
	Skipped   int
	Failed    int
}

// inputExts are stripped before appending .nc. Anything else keeps its
// extension, so "grid.bin" becomes "grid.bin.nc".
var inputExts = []string{".asc", ".dat", ".txt"}

// OutputName maps an input filename to its output filename. A .gz
// suffix is removed first, then a recognised data extension.
func OutputName(input string) string {
	name := strings.TrimSuffix(filepath.Base(input), ".gz")
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range inputExts {
		if ext == e {
			name = name[:len(name)-len(ext)]
			break
		}
	}
	return name + ".nc"
}

// outputs maps every input to its output path, refusing collisions.
func outputs(job Job) ([]string, error) {
	outs := make([]string, len(job.Inputs))
	seen := make(map[string]string, len(job.Inputs))
	for i, in := range job.Inputs {
		out := filepath.Join(job.OutDir, OutputName(in))
		if prev, ok := seen[out]; ok {
			return nil, fmt.Errorf("%w: %s and %s both map to %s", ErrNamingConflict, prev, in, out)
		}
		seen[out] = in
		outs[i] = out
	}
	return outs, nil
}

// Run converts all inputs of the job. A failure on one file does not
// stop the others; each outcome lands in the returned results, in input
// order. Run itself only fails on job-level problems such as a naming
// conflict or an unknown variant.
func Run(ctx context.Context, job Job, logger *slog.Logger) (Summary, []Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !job.Variant.Valid() {
		return Summary{}, nil, fmt.Errorf("unknown variant %q", job.Variant)
	}
	outs, err := outputs(job)
	if err != nil {
		return Summary{}, nil, err
	}

	workers := job.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(job.Inputs) {
		workers = len(job.Inputs)
	}

	results := make([]Result, len(job.Inputs))
	idxCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				results[i] = convertOne(job, job.Inputs[i], outs[i], logger)
			}
		}()
	}

	next := len(job.Inputs)
dispatch:
	for i := range job.Inputs {
		if ctx.Err() != nil {
			next = i
			break
		}
		select {
		case <-ctx.Done():
			next = i
			break dispatch
		case idxCh <- i:
		}
	}
	close(idxCh)
	wg.Wait()

	// Inputs never handed to a worker count as failed.
	for i := next; i < len(job.Inputs); i++ {
		results[i] = Result{Input: job.Inputs[i], Err: ctx.Err()}
	}

	var sum Summary
	for _, r := range results {
		switch {
		case r.Err != nil:
			sum.Failed++
		case r.Skipped:
			sum.Skipped++
		default:
			sum.Converted++
		}
	}
	logger.Info("job finished", "converted", sum.Converted, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, results, nil
}

func convertOne(job Job, input, output string, logger *slog.Logger) Result {
	res := Result{Input: input, Output: output}

	if job.Catalog != nil && !job.Force {
		ok, err := job.Catalog.UpToDate(input, output)
		if err != nil {
			logger.Warn("catalog lookup failed", "input", input, "err", err)
		} else if ok {
			logger.Info("up to date, skipping", "input", input, "output", output)
			res.Skipped = true
			return res
		}
	}

	rec, err := temis.Parse(input, job.Variant)
	if err != nil {
		logger.Error("parse failed", "input", input, "err", err)
		res.Err = err
		return res
	}
	logger.Info("parsed", append([]any{"input", input}, rec.Summary()...)...)
	for _, f := range product.QualityFlags(rec) {
		logger.Warn("quality flag", "input", input, "flag", f)
	}

	if err := ncfile.Write(output, rec); err != nil {
		logger.Error("write failed", "output", output, "err", err)
		res.Err = err
		return res
	}
	if job.Verify {
		if err := ncfile.Verify(output, rec); err != nil {
			logger.Error("verification failed", "output", output, "err", err)
			res.Err = err
			return res
		}
	}

	if job.Catalog != nil {
		if err := recordConversion(job.Catalog, input, output, rec); err != nil {
			logger.Warn("catalog record failed", "input", input, "err", err)
		}
	}
	logger.Info("converted", "input", input, "output", output)
	return res
}

func recordConversion(cat *catalog.Catalog, input, output string, rec *product.Retrieval) error {
	fi, err := os.Stat(input)
	if err != nil {
		return err
	}
	st := rec.Stats()
	return cat.Record(catalog.Entry{
		Input:       input,
		InputSize:   fi.Size(),
		InputMTime:  fi.ModTime(),
		Output:      output,
		Variant:     rec.Variant,
		Period:      rec.Date(),
		Rows:        rec.Grid.Rows(),
		Cols:        rec.Grid.Cols(),
		Valid:       st.Valid,
		Fill:        st.Fill,
		Min:         st.Min,
		Max:         st.Max,
		Mean:        st.Mean,
		ConvertedAt: time.Now().UTC(),
	})
}
