package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/hloc"
	"github.com/hupe1980/hloc/mapdb"
	hlocprom "github.com/hupe1980/hloc/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type localizeFlags struct {
	config      string
	mapLoc      string
	queries     string
	out         string
	report      string
	json        bool
	metricsAddr string
	logLevel    string
	logFormat   string
	workers     int
}

func runLocalize(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	var f localizeFlags
	fs := flag.NewFlagSet("localize", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.config, "config", "", "YAML configuration file (defaults if empty)")
	fs.StringVar(&f.mapLoc, "map", "", "map location: DIR, s3://bucket/prefix or minio://endpoint/bucket/prefix")
	fs.StringVar(&f.queries, "queries", "", "query directory with global.txt, local.txt and optional intrinsics.txt, images.txt")
	fs.StringVar(&f.out, "out", "-", "result file, - for stdout")
	fs.StringVar(&f.report, "report", "", "verification report file, - for stdout")
	fs.BoolVar(&f.json, "json", false, "write the report as JSON")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format: text or json")
	fs.IntVar(&f.workers, "workers", 0, "queries processed concurrently, overrides the config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := newLogger(f.logLevel, f.logFormat)
	if err != nil {
		return err
	}

	cfg := hloc.DefaultConfig()
	if f.config != "" {
		if cfg, err = hloc.LoadConfig(f.config); err != nil {
			return err
		}
	}
	if cfg.Verify == hloc.VerifyNone && f.queries == "" {
		return errors.New("-queries is required unless the config selects a verification mode")
	}

	opts := []hloc.Option{hloc.WithLogger(logger)}
	if f.workers > 0 {
		opts = append(opts, hloc.WithWorkers(f.workers))
	}

	if f.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector, err := hlocprom.New(reg)
		if err != nil {
			return err
		}
		opts = append(opts, hloc.WithMetricsCollector(collector))

		srv := &http.Server{
			Addr:              f.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	out, closeOut, err := createOutput(f.out, stdout)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeOut()) }()
	opts = append(opts, hloc.WithOutput(out))

	store, err := openStore(ctx, f.mapLoc)
	if err != nil {
		return err
	}
	db, manifest, err := hloc.OpenMap(ctx, store, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open map: %w", err)
	}
	logger.InfoContext(ctx, "map opened", "location", f.mapLoc, "images", manifest.NumImages, "points", manifest.NumPoints)

	loc, err := hloc.New(ctx, db, cfg, opts...)
	if err != nil {
		return err
	}
	defer loc.Close()

	var queries []hloc.Query
	if cfg.Verify != hloc.VerifyNone {
		queries, err = hloc.VerificationQueries(ctx, db, cfg.Verify)
	} else {
		queries, err = readQueryDir(f.queries)
	}
	if err != nil {
		return err
	}

	results, err := loc.Localize(ctx, queries)
	if err != nil {
		return err
	}

	if f.report == "" {
		return nil
	}
	w, closeReport, err := createOutput(f.report, stdout)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeReport()) }()

	report := loc.Report(results)
	if f.json {
		return report.WriteJSON(w)
	}
	return report.WriteText(w)
}

func newLogger(level, format string) (*hloc.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("-log-level: %w", err)
	}
	switch format {
	case "text":
		return hloc.NewTextLogger(l), nil
	case "json":
		return hloc.NewJSONLogger(l), nil
	default:
		return nil, fmt.Errorf("-log-format: unknown format %q", format)
	}
}

// createOutput opens path for writing; "-" selects stdout. The returned
// close function reports errors of the final flush to disk.
func createOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "-" {
		return stdout, func() error { return nil }, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return file, func() error {
		if err := file.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
		return nil
	}, nil
}

// readQueryDir reads the query feature dump in dir. Ground truth from an
// optional images.txt enables the verification report.
func readQueryDir(dir string) ([]hloc.Query, error) {
	global, err := os.Open(filepath.Join(dir, "global.txt"))
	if err != nil {
		return nil, err
	}
	defer global.Close()

	local, err := os.Open(filepath.Join(dir, "local.txt"))
	if err != nil {
		return nil, err
	}
	defer local.Close()

	var intrinsics io.Reader
	if file, err := os.Open(filepath.Join(dir, mapdb.IntrinsicsName)); err == nil {
		defer file.Close()
		intrinsics = file
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	queries, err := hloc.ReadQueries(global, local, intrinsics)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(dir, mapdb.ImagesName))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return queries, nil
	case err != nil:
		return nil, err
	}
	defer file.Close()

	images, err := mapdb.ParseImagesText(file)
	if err != nil {
		return nil, err
	}
	hloc.AttachGroundTruth(queries, images)
	return queries, nil
}
