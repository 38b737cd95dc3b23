// cmd/fxingest loads an OHLCV file through the cache and prints a summary,
// optionally resampled and with the latest indicator readings.
//
// Usage:
//
//	go run ./cmd/fxingest -file data/EURUSD_M1.csv -tf H1 -indicators
//	go run ./cmd/fxingest -status
//	go run ./cmd/fxingest -clear
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"ohlcv-engine/config"
	"ohlcv-engine/internal/ingest"
	"ohlcv-engine/internal/logger"
	"ohlcv-engine/internal/marketdata/resample"
	"ohlcv-engine/internal/model"
	"ohlcv-engine/internal/store/sqlite"
)

func main() {
	file := flag.String("file", "", "OHLCV file to ingest")
	tf := flag.String("tf", "", "Resample target: "+intervalList())
	withIndicators := flag.Bool("indicators", false, "Compute indicators and print the latest values")
	status := flag.Bool("status", false, "Print cache status")
	clearCache := flag.Bool("clear", false, "Remove every cache file")
	configPath := flag.String("config", os.Getenv("FX_CONFIG"), "Path to YAML config (optional)")
	verbose := flag.Bool("v", false, "Log engine events to stderr")
	flag.Parse()

	if err := run(os.Stdout, options{
		file:       *file,
		tf:         *tf,
		indicators: *withIndicators,
		status:     *status,
		clear:      *clearCache,
		configPath: *configPath,
		verbose:    *verbose,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "fxingest: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	file       string
	tf         string
	indicators bool
	status     bool
	clear      bool
	configPath string
	verbose    bool
}

func run(out io.Writer, opts options) error {
	if opts.file == "" && !opts.status && !opts.clear {
		return fmt.Errorf("nothing to do: pass -file, -status or -clear")
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if opts.verbose {
		level, _ := logger.ParseLevel(cfg.LogLevel)
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
			With("service", "fxingest")
	}

	loc, err := sqlite.DataLocator(cfg.DataDir)
	if err != nil {
		return err
	}
	svc := ingest.New(sqlite.New(loc), ingest.WithSettings(cfg.Indicators), ingest.WithLogger(log))
	ctx := logger.WithTraceID(context.Background(), logger.NewTraceID("fxingest"))

	if opts.clear {
		n, err := svc.ClearCache(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "removed %d cache file(s)\n", n)
	}

	if opts.file != "" {
		if err := ingestFile(ctx, out, svc, opts); err != nil {
			return err
		}
	}

	if opts.status {
		st, err := svc.CacheStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "cache %s: %s file(s), %s\n",
			st.Path, humanize.Comma(int64(st.Files)), humanize.Bytes(st.Bytes))
	}
	return nil
}

func ingestFile(ctx context.Context, out io.Writer, svc *ingest.Service, opts options) error {
	start := time.Now()
	res, err := svc.Ingest(ctx, opts.file)
	if err != nil {
		return err
	}
	source := "parsed"
	if res.UsedCache {
		source = "cache"
	}
	ds := res.Dataset
	fmt.Fprintf(out, "%s: %s candles (%s) in %s\n",
		opts.file, humanize.Comma(int64(ds.Len())), source, time.Since(start).Round(time.Millisecond))
	if iv, ok := resample.Infer(ds.Candles); ok {
		fmt.Fprintf(out, "  interval: %s\n", iv)
	}
	printRange(out, ds)

	if opts.tf != "" {
		start = time.Now()
		ds, err = svc.Resample(ctx, ds, opts.tf)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "resampled to %s: %s candles in %s\n",
			strings.ToUpper(opts.tf), humanize.Comma(int64(ds.Len())), time.Since(start).Round(time.Millisecond))
		printRange(out, ds)
	}

	if opts.indicators {
		r := svc.Indicators(ctx, ds)
		s := svc.Settings()
		fmt.Fprintln(out, "latest:")
		printLast(out, fmt.Sprintf("MA(%d)", s.MAPeriod), r.MA)
		printLast(out, fmt.Sprintf("RSI(%d)", s.RSIPeriod), r.RSI)
		printLast(out, fmt.Sprintf("MACD(%d,%d,%d)", s.MACDFast, s.MACDSlow, s.MACDSignal), r.MACD)
		printLast(out, "signal", r.Signal)
		printLast(out, "hist", r.Hist)
	}
	return nil
}

func printRange(out io.Writer, ds model.DataSet) {
	if ds.Len() == 0 {
		return
	}
	fmt.Fprintf(out, "  range: %s .. %s\n", ds.Candles[0].TS, ds.Candles[ds.Len()-1].TS)
}

func printLast(out io.Writer, label string, s model.Series) {
	if v, ok := s.Last(); ok {
		fmt.Fprintf(out, "  %-14s %.6f (%d defined)\n", label, v, s.Defined())
		return
	}
	fmt.Fprintf(out, "  %-14s n/a\n", label)
}

func intervalList() string {
	names := make([]string, 0, 7)
	for _, iv := range resample.Intervals() {
		names = append(names, iv.String())
	}
	return strings.Join(names, ", ")
}
