// Package pipeline runs one full extraction pass (orchestrate, validate,
// aggregate) and hands the result to the registered sinks.
package pipeline

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/aggregate"
	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/metrics"
	"github.com/web3-frozen/tvl-extractor/internal/orchestrator"
	"github.com/web3-frozen/tvl-extractor/internal/validate"
	"github.com/web3-frozen/tvl-extractor/internal/worklist"
)

// Output is the read-only product of one run.
type Output struct {
	Result     *orchestrator.Result
	Validation *validate.Report
	Report     *aggregate.RunReport
}

// Sink consumes a finished run. Sink errors are logged and never fail the run.
type Sink func(ctx context.Context, out *Output) error

type Runner struct {
	orch    *orchestrator.Orchestrator
	version string
	logger  *slog.Logger

	sinkNames []string
	sinks     map[string]Sink

	mu     sync.RWMutex
	latest *Output
	// running serializes runs; a scheduled run never overlaps a manual one.
	running sync.Mutex
}

func NewRunner(orch *orchestrator.Orchestrator, version string, logger *slog.Logger) *Runner {
	return &Runner{
		orch:    orch,
		version: version,
		logger:  logger,
		sinks:   make(map[string]Sink),
	}
}

// Register adds a sink. Sinks run in registration order.
func (r *Runner) Register(name string, s Sink) {
	if _, ok := r.sinks[name]; !ok {
		r.sinkNames = append(r.sinkNames, name)
	}
	r.sinks[name] = s
	r.logger.Info("registered sink", "sink", name)
}

// Latest returns the most recent completed run, or nil before the first.
func (r *Runner) Latest() *Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Run executes the worklist and returns the run's output.
func (r *Runner) Run(ctx context.Context, entries []worklist.Entry) *Output {
	r.running.Lock()
	defer r.running.Unlock()

	start := time.Now()
	res := r.orch.Run(ctx, entries)

	report := validate.Validate(res.Measurements)
	for _, w := range report.Warnings {
		r.logger.Warn("validation warning", "message", w.Message, "protocol", w.Protocol, "chain", string(w.Chain))
	}
	for _, e := range report.Errors {
		r.logger.Error("validation error", "message", e.Message, "protocol", e.Protocol, "chain", string(e.Chain), "details", e.Details)
	}

	agg := aggregate.Aggregate(res.Measurements, res.Attempted(), r.version)
	out := &Output{Result: res, Validation: report, Report: agg}

	r.logger.Info("results aggregated",
		"run_id", agg.Metadata.RunID,
		"total_tvl", decimals.Format(agg.Summary.TotalAmount),
		"protocols", agg.Summary.ProtocolCount,
		"chains", agg.Summary.ChainCount,
		"success_rate", agg.Summary.SuccessRate,
		"validation_passed", report.Passed,
	)
	record(out, time.Since(start))

	r.mu.Lock()
	r.latest = out
	r.mu.Unlock()

	for _, name := range r.sinkNames {
		if err := r.sinks[name](ctx, out); err != nil {
			r.logger.Error("sink failed", "sink", name, "run_id", agg.Metadata.RunID, "error", err)
		}
	}
	return out
}

func record(out *Output, took time.Duration) {
	result := "passed"
	if !out.Validation.Passed {
		result = "failed"
	}
	metrics.RunsTotal.WithLabelValues(result).Inc()
	metrics.RunDuration.Observe(took.Seconds())
	metrics.RunSuccessRate.Set(out.Report.Summary.SuccessRate)
	metrics.ValidationIssues.WithLabelValues(string(validate.LevelWarning)).Set(float64(out.Validation.Summary.WarningCount))
	metrics.ValidationIssues.WithLabelValues(string(validate.LevelError)).Set(float64(out.Validation.Summary.ErrorCount))
	for _, c := range chain.All {
		metrics.ChainTVL.WithLabelValues(string(c)).Set(tokens(out.Report.ChainTotal(c)))
	}
}

// tokens renders a canonical amount as a float for dashboards.
func tokens(v *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), new(big.Float).SetInt(decimals.Units(1))).Float64()
	return f
}
