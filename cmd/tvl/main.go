// Command tvl runs the extraction pipeline once, writes the results files and
// prints a summary table. It exits non-zero when validation fails.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/web3-frozen/tvl-extractor/internal/app"
	"github.com/web3-frozen/tvl-extractor/internal/config"
	"github.com/web3-frozen/tvl-extractor/internal/report"
)

func main() {
	cfg := config.Load()

	flag.StringVar(&cfg.WorklistPath, "worklist", cfg.WorklistPath, "path to the protocol worklist (JSON or YAML)")
	flag.StringVar(&cfg.SkipListPath, "skiplist", cfg.SkipListPath, "path to a skip-list override (YAML)")
	flag.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "directory for results files")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent extractions")
	flag.Parse()

	logger := app.NewLogger(cfg)

	a, err := app.Build(cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := a.RunOnce(ctx)
	if err != nil {
		logger.Error("failed to load worklist", "path", cfg.WorklistPath, "error", err)
		a.Close()
		os.Exit(1)
	}

	w := report.NewWriter(cfg.OutputDir)
	if path, err := w.WriteResults(out); err != nil {
		logger.Error("failed to write results", "error", err)
	} else {
		logger.Info("results written", "path", path)
	}
	if path, err := w.WriteTVLSummary(out.Result.Outcomes); err != nil {
		logger.Error("failed to write tvl summary", "error", err)
	} else {
		logger.Info("tvl summary written", "path", path)
	}

	report.PrintSummary(os.Stdout, out.Result.Outcomes)

	if !out.Validation.Passed {
		logger.Error("validation failed", "errors", out.Validation.Summary.ErrorCount)
		a.Close()
		os.Exit(1)
	}
}
