package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	_ "modernc.org/sqlite"

	"github.com/satgrid/omi2nc/internal/catalog"
	"github.com/satgrid/omi2nc/internal/convert"
	"github.com/satgrid/omi2nc/internal/fetch"
	"github.com/satgrid/omi2nc/internal/product"
	"github.com/satgrid/omi2nc/internal/temis"
)

type app struct {
	ctx    context.Context
	logger *slog.Logger
}

type convertCmd struct {
	Variant string   `help:"Product variant: ${enum}." required:"" enum:"temis-daily-hcho,qa4ecv-monthly-hcho,qa4ecv-monthly-no2"`
	OutDir  string   `help:"Directory for the NetCDF output files." default:"."`
	Workers int      `help:"Number of files converted in parallel. 0 means one per CPU."`
	Verify  bool     `help:"Read each output back and compare it against the parsed input."`
	Catalog string   `help:"SQLite catalog recording conversions; inputs already converted are skipped."`
	Force   bool     `help:"Convert even inputs the catalog reports as up to date."`
	Paths   []string `arg:"" name:"file" help:"ASCII input files, optionally gzip-compressed." type:"existingfile"`
}

func (c *convertCmd) Run(a *app) error {
	variant, err := product.ParseVariant(c.Variant)
	if err != nil {
		return err
	}
	workers := c.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	var cat *catalog.Catalog
	if c.Catalog != "" {
		cat, err = catalog.Open(c.Catalog)
		if err != nil {
			return err
		}
		defer cat.Close()
	}

	job := convert.Job{
		Inputs:  c.Paths,
		Variant: variant,
		OutDir:  c.OutDir,
		Workers: workers,
		Verify:  c.Verify,
		Catalog: cat,
		Force:   c.Force,
	}
	sum, results, err := convert.Run(a.ctx, job, a.logger)
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		var failed []string
		for _, r := range results {
			if r.Err != nil {
				failed = append(failed, r.Input)
			}
		}
		return fmt.Errorf("%d of %d files failed: %s", sum.Failed, len(results), strings.Join(failed, ", "))
	}
	return nil
}

type inspectCmd struct {
	Variant string   `help:"Product variant: ${enum}." required:"" enum:"temis-daily-hcho,qa4ecv-monthly-hcho,qa4ecv-monthly-no2"`
	Paths   []string `arg:"" name:"file" help:"ASCII input files to parse and summarise." type:"existingfile"`
}

func (c *inspectCmd) Run(a *app) error {
	variant, err := product.ParseVariant(c.Variant)
	if err != nil {
		return err
	}
	var failed int
	for _, path := range c.Paths {
		rec, err := temis.Parse(path, variant)
		if err != nil {
			a.logger.Error("parse failed", "input", path, "err", err)
			failed++
			continue
		}
		a.logger.Info("summary", append([]any{"input", path}, rec.Summary()...)...)
		for _, f := range product.QualityFlags(rec) {
			a.logger.Warn("quality flag", "input", path, "flag", f)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to parse", failed, len(c.Paths))
	}
	return nil
}

type fetchCmd struct {
	OutDir string   `help:"Directory for the downloaded files." default:"."`
	URLs   []string `arg:"" name:"url" help:"Archive URLs to download."`
}

func (c *fetchCmd) Run(a *app) error {
	client := fetch.NewClient()
	var failed int
	for _, u := range c.URLs {
		path, err := client.Download(a.ctx, u, c.OutDir)
		if err != nil {
			a.logger.Error("download failed", "url", u, "err", err)
			failed++
			continue
		}
		a.logger.Info("downloaded", "url", u, "path", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(c.URLs))
	}
	return nil
}

type historyCmd struct {
	Catalog string `help:"SQLite catalog to read." required:""`
	Limit   int    `help:"Number of entries to show." default:"20"`
}

func (c *historyCmd) Run(a *app) error {
	cat, err := catalog.Open(c.Catalog)
	if err != nil {
		return err
	}
	defer cat.Close()

	entries, err := cat.Recent(c.Limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %-20s %-10s %s -> %s\n",
			e.ConvertedAt.UTC().Format("2006-01-02 15:04:05"),
			e.Variant, e.Period, e.Input, e.Output)
	}
	return nil
}

var cli struct {
	Quiet   bool       `help:"Only log warnings and errors." short:"q"`
	Convert convertCmd `cmd:"" help:"Convert gridded ASCII files to NetCDF."`
	Inspect inspectCmd `cmd:"" help:"Parse files and report field statistics without writing output."`
	Fetch   fetchCmd   `cmd:"" help:"Download product files from an archive over HTTP."`
	History historyCmd `cmd:"" help:"Show recent conversions recorded in a catalog."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("omi2nc"),
		kong.Description("Converts TEMIS and QA4ECV gridded satellite trace-gas products from ASCII to NetCDF."),
		kong.UsageOnError(),
	)

	level := slog.LevelInfo
	if cli.Quiet {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.FatalIfErrorf(kctx.Run(&app{ctx: ctx, logger: logger}))
}
