// Package app wires configuration into a ready-to-run pipeline. Both the
// one-shot CLI and the server build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/web3-frozen/tvl-extractor/internal/cache"
	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/config"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
	"github.com/web3-frozen/tvl-extractor/internal/extractor/protocols"
	"github.com/web3-frozen/tvl-extractor/internal/orchestrator"
	"github.com/web3-frozen/tvl-extractor/internal/pipeline"
	"github.com/web3-frozen/tvl-extractor/internal/worklist"
)

type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *extractor.Registry
	Runner   *pipeline.Runner
	Cache    cache.Store

	closers []func()
}

// NewLogger returns the JSON logger used by every binary.
func NewLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// Build dials every configured chain and assembles the extractor registry,
// orchestrator and pipeline runner. Chains whose endpoint is empty or cannot
// be dialed stay unconfigured; their extractors fail with ErrNotConfigured.
func Build(cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	deps := protocols.Deps{
		HTTP:        datasource.NewHTTPWithClient(httpClient),
		EVM:         make(map[chain.Chain]datasource.ContractReader),
		GraphAPIKey: cfg.GraphAPIKey,
		Logger:      logger,
	}

	for _, c := range chain.All {
		url := cfg.RPC[c]
		if url == "" {
			logger.Warn("no RPC endpoint configured", "chain", c.String())
			continue
		}
		switch c {
		case chain.Starknet:
			client, err := datasource.DialStarknet(url, httpClient, cfg.Timeout)
			if err != nil {
				logger.Warn("starknet client unavailable", "error", err)
				continue
			}
			a.closers = append(a.closers, client.Close)
			deps.Starknet = client
		case chain.Sui:
			client, err := datasource.DialSui(url, httpClient, cfg.Timeout)
			if err != nil {
				logger.Warn("sui client unavailable", "error", err)
				continue
			}
			a.closers = append(a.closers, client.Close)
			deps.Sui = client
		default:
			client, err := datasource.DialEVM(url, httpClient, cfg.Timeout)
			if err != nil {
				logger.Warn("evm client unavailable", "chain", c.String(), "error", err)
				continue
			}
			a.closers = append(a.closers, client.Close)
			deps.EVM[c] = client
		}
	}

	a.Cache = newCache(cfg, logger)
	if r, ok := a.Cache.(*cache.Redis); ok {
		a.closers = append(a.closers, func() { _ = r.Close() })
	}
	deps.Cache = a.Cache

	reg, err := protocols.Registry(deps, cfg.RetryPolicy())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build registry: %w", err)
	}
	a.Registry = reg

	skip, err := worklist.LoadSkipList(cfg.SkipListPath)
	if err != nil {
		a.Close()
		return nil, err
	}

	orch := orchestrator.New(reg, orchestrator.Options{
		Workers:  cfg.Workers,
		SkipList: skip,
		Logger:   logger,
	})
	a.Runner = pipeline.NewRunner(orch, cfg.Version, logger)
	return a, nil
}

// newCache prefers Redis and falls back to an in-process store so a run
// never depends on Redis being up.
func newCache(cfg config.Config, logger *slog.Logger) cache.Store {
	if cfg.RedisURL == "" {
		return cache.NewMemory()
	}
	r, err := cache.NewRedis(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory cache", "error", err)
		return cache.NewMemory()
	}
	logger.Info("redis connected for discovery cache and alert dedup")
	return r
}

// LoadWorklist reads the worklist from disk. It is re-read on every
// scheduled run so edits apply without a restart.
func (a *App) LoadWorklist() ([]worklist.Entry, error) {
	return worklist.Load(a.Config.WorklistPath)
}

// RunOnce loads the worklist and runs the pipeline over it.
func (a *App) RunOnce(ctx context.Context) (*pipeline.Output, error) {
	entries, err := a.LoadWorklist()
	if err != nil {
		return nil, err
	}
	return a.Runner.Run(ctx, entries), nil
}

// Close releases every client opened by Build.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
