// Package orchestrator drives a worklist of (protocol, chain) entries through
// the extractor registry. Each entry ends in exactly one terminal status and
// no entry's failure affects another.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
	"github.com/web3-frozen/tvl-extractor/internal/metrics"
	"github.com/web3-frozen/tvl-extractor/internal/worklist"
)

// Status is the state of one worklist entry.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusSkipped        Status = "SKIPPED"
	StatusNotImplemented Status = "NOT_IMPLEMENTED"
	StatusSucceeded      Status = "SUCCEEDED"
	StatusFailed         Status = "FAILED"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool { return s != StatusPending && s != "" }

// Outcome records what happened to one worklist entry.
type Outcome struct {
	Protocol string `json:"protocol"`
	Category string `json:"category,omitempty"`
	Chain    string `json:"chain"`
	// Extractor is the registry name the entry resolved to, if any.
	Extractor string `json:"extractor,omitempty"`
	Status    Status `json:"status"`
	// Reason explains SKIPPED, NOT_IMPLEMENTED and FAILED outcomes.
	Reason      string                 `json:"reason,omitempty"`
	Measurement *extractor.Measurement `json:"-"`
	Duration    time.Duration          `json:"-"`
}

// Result is everything a run produced, in worklist order.
type Result struct {
	Outcomes     []Outcome
	Measurements []*extractor.Measurement
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Count returns the number of outcomes with status s.
func (r *Result) Count(s Status) int {
	n := 0
	for i := range r.Outcomes {
		if r.Outcomes[i].Status == s {
			n++
		}
	}
	return n
}

// Attempted is the number of entries whose extractor was invoked.
func (r *Result) Attempted() int { return r.Count(StatusSucceeded) + r.Count(StatusFailed) }

// Finder resolves a protocol name to an extractor.
type Finder interface {
	FindByProtocol(name string) (extractor.Extractor, bool)
}

type Options struct {
	// Workers bounds concurrent extractions; values below 1 mean 1.
	Workers  int
	SkipList worklist.SkipList
	Logger   *slog.Logger
}

type Orchestrator struct {
	finder  Finder
	workers int
	skip    worklist.SkipList
	logger  *slog.Logger
	nowFn   func() time.Time
}

func New(finder Finder, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SkipList == nil {
		opts.SkipList = worklist.DefaultSkipList()
	}
	return &Orchestrator{
		finder:  finder,
		workers: opts.Workers,
		skip:    opts.SkipList,
		logger:  opts.Logger,
		nowFn:   time.Now,
	}
}

type job struct {
	index int
	ext   extractor.Extractor
	chain chain.Chain
}

// Run processes every entry and returns once all of them are terminal.
func (o *Orchestrator) Run(ctx context.Context, entries []worklist.Entry) *Result {
	res := &Result{Outcomes: make([]Outcome, len(entries)), StartedAt: o.nowFn()}

	var jobs []job
	for i, e := range entries {
		out := &res.Outcomes[i]
		*out = Outcome{Protocol: e.Protocol, Category: e.Category, Chain: e.Chain, Status: StatusPending}
		if j, ok := o.resolve(i, e, out); ok {
			jobs = append(jobs, j)
		}
	}

	o.logger.Info("run started",
		"entries", len(entries),
		"eligible", len(jobs),
		"workers", o.workers,
	)

	if len(jobs) > 0 {
		pool := pond.NewPool(o.workers)
		group := pool.NewGroup()
		for _, j := range jobs {
			group.Submit(func() {
				o.extract(ctx, j, &res.Outcomes[j.index])
			})
		}
		if err := group.Wait(); err != nil {
			o.logger.Error("worker group reported error", "error", err)
		}
		pool.StopAndWait()
	}

	// Merge single-threaded once every worker has finished.
	for i := range res.Outcomes {
		out := &res.Outcomes[i]
		if out.Status == StatusSucceeded {
			res.Measurements = append(res.Measurements, out.Measurement)
		}
		labelProtocol := out.Extractor
		if labelProtocol == "" {
			labelProtocol = out.Protocol
		}
		metrics.ExtractionsTotal.WithLabelValues(labelProtocol, metricChain(out.Chain), string(out.Status)).Inc()
	}
	res.FinishedAt = o.nowFn()

	o.logger.Info("run finished",
		"succeeded", res.Count(StatusSucceeded),
		"failed", res.Count(StatusFailed),
		"skipped", res.Count(StatusSkipped),
		"not_implemented", res.Count(StatusNotImplemented),
		"duration", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond).String(),
	)
	return res
}

// resolve settles entries that never reach an extractor and returns a job
// for the rest.
func (o *Orchestrator) resolve(i int, e worklist.Entry, out *Outcome) (job, bool) {
	if reason, ok := o.skip.Reason(e.Protocol, e.Chain); ok {
		o.logger.Debug("entry skipped", "protocol", e.Protocol, "chain", e.Chain, "reason", reason)
		out.Status, out.Reason = StatusSkipped, reason
		return job{}, false
	}

	c, err := chain.Parse(e.Chain)
	if err != nil {
		o.logger.Warn("unknown chain", "protocol", e.Protocol, "chain", e.Chain)
		out.Status, out.Reason = StatusNotImplemented, err.Error()
		return job{}, false
	}

	name := worklist.NormalizeProtocol(e.Protocol)
	ext, ok := o.finder.FindByProtocol(name)
	if !ok {
		o.logger.Debug("no extractor available", "protocol", name, "chain", string(c))
		out.Status, out.Reason = StatusNotImplemented, "no extractor for "+name
		return job{}, false
	}
	out.Extractor = ext.ProtocolName()

	if !ext.CanExtract(c) {
		o.logger.Debug("extractor does not support chain", "protocol", out.Extractor, "chain", string(c))
		out.Status, out.Reason = StatusNotImplemented, fmt.Sprintf("%s does not support %s", out.Extractor, c)
		return job{}, false
	}
	return job{index: i, ext: ext, chain: c}, true
}

// extract runs one extraction and writes only to out.
func (o *Orchestrator) extract(ctx context.Context, j job, out *Outcome) {
	name := j.ext.ProtocolName()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("extractor panicked", "protocol", name, "chain", string(j.chain), "panic", r, "stack", string(debug.Stack()))
			out.Status, out.Reason, out.Measurement = StatusFailed, fmt.Sprintf("panic: %v", r), nil
		}
		out.Duration = time.Since(start)
		metrics.ExtractionDuration.WithLabelValues(name, string(j.chain)).Observe(out.Duration.Seconds())
	}()

	if err := ctx.Err(); err != nil {
		out.Status, out.Reason = StatusFailed, err.Error()
		return
	}

	o.logger.Info("starting extraction", "protocol", name, "chain", string(j.chain))
	m, err := j.ext.Extract(ctx, j.chain)
	if err == nil && (m == nil || m.Amount == nil) {
		err = fmt.Errorf("%s returned no amount", name)
	}
	if err != nil {
		o.logger.Error("extraction failed", "protocol", name, "chain", string(j.chain), "error", err)
		out.Status, out.Reason = StatusFailed, err.Error()
		return
	}

	out.Status, out.Measurement = StatusSucceeded, m
	metrics.ExtractionLastSuccess.WithLabelValues(name, string(j.chain)).SetToCurrentTime()
	o.logger.Info("extraction completed", "protocol", name, "chain", string(j.chain), "tvl", decimals.Format(m.Amount))
}

func metricChain(name string) string {
	if c, err := chain.Parse(name); err == nil {
		return string(c)
	}
	return "unknown"
}
