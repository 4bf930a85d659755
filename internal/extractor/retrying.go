package extractor

import (
	"context"
	"log/slog"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/metrics"
	"github.com/web3-frozen/tvl-extractor/internal/retry"
)

type retrying struct {
	Extractor
	policy retry.Policy
	logger *slog.Logger
}

// WithRetry decorates e so that Extract runs under policy. ErrUnsupportedChain,
// ErrNotConfigured and decimals.ErrMalformedAmount fail immediately. Any other
// error is retried and surfaces as a retry.ExhaustedError once the budget is spent.
func WithRetry(e Extractor, policy retry.Policy, logger *slog.Logger) Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{Extractor: e, policy: policy, logger: logger}
}

func (r *retrying) Extract(ctx context.Context, c chain.Chain) (*Measurement, error) {
	name := r.ProtocolName()
	if !r.CanExtract(c) {
		return nil, Unsupported(name, c)
	}
	return retry.Do(ctx, r.policy, func(ctx context.Context) (*Measurement, error) {
		return r.Extractor.Extract(ctx, c)
	},
		retry.Operation(name+" on "+c.String()),
		retry.Permanent(ErrUnsupportedChain, ErrNotConfigured, decimals.ErrMalformedAmount),
		retry.OnRetry(func(attempt uint, err error, wait time.Duration) {
			metrics.ExtractionRetries.WithLabelValues(name, string(c)).Inc()
			r.logger.Warn("extraction attempt failed, retrying",
				"protocol", name,
				"chain", string(c),
				"attempt", attempt,
				"wait", wait.String(),
				"error", err,
			)
		}),
	)
}
