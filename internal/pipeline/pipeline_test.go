package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
	"github.com/web3-frozen/tvl-extractor/internal/orchestrator"
	"github.com/web3-frozen/tvl-extractor/internal/worklist"
)

type fixed struct {
	extractor.Chains
	name   string
	amount *big.Int
	err    error
}

func (f *fixed) ProtocolName() string { return f.name }

func (f *fixed) Extract(_ context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &extractor.Measurement{Protocol: f.name, Chain: c, Amount: f.amount}, nil
}

func newRunner(t *testing.T, es ...extractor.Extractor) *Runner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := extractor.NewRegistry(es...)
	require.NoError(t, err)
	orch := orchestrator.New(reg, orchestrator.Options{Workers: 2, Logger: logger, SkipList: worklist.SkipList{}})
	return NewRunner(orch, "1.2.3", logger)
}

func TestRunner_EndToEnd(t *testing.T) {
	r := newRunner(t,
		&fixed{name: "ProtocolA", Chains: extractor.Chains{chain.Ethereum}, amount: decimals.Units(5)},
		&fixed{name: "ProtocolB", Chains: extractor.Chains{chain.Ethereum}, amount: decimals.Units(3)},
		&fixed{name: "ProtocolC", Chains: extractor.Chains{chain.Base}, err: errors.New("rate limited")},
	)
	assert.Nil(t, r.Latest())

	var sunk []string
	r.Register("first", func(_ context.Context, out *Output) error {
		sunk = append(sunk, "first:"+out.Report.Metadata.Version)
		return errors.New("ignored")
	})
	r.Register("second", func(_ context.Context, out *Output) error {
		sunk = append(sunk, "second")
		return nil
	})

	out := r.Run(context.Background(), []worklist.Entry{
		{Protocol: "ProtocolA", Chain: "Ethereum"},
		{Protocol: "ProtocolB", Chain: "Ethereum"},
		{Protocol: "ProtocolC", Chain: "Base"},
	})

	assert.Equal(t, decimals.Units(8), out.Report.ChainTotal(chain.Ethereum))
	assert.Equal(t, 0, out.Report.ChainTotal(chain.Base).Sign())
	assert.Equal(t, decimals.Units(8), out.Report.Summary.TotalAmount)
	assert.InDelta(t, 2.0/3.0, out.Report.Summary.SuccessRate, 1e-12)
	assert.True(t, out.Validation.Passed)
	assert.Equal(t, orchestrator.StatusFailed, out.Result.Outcomes[2].Status)
	assert.Same(t, out, r.Latest())
	assert.Equal(t, []string{"first:1.2.3", "second"}, sunk)
}

func TestRunner_ValidationFailure(t *testing.T) {
	over := new(big.Int).Mul(big.NewInt(2_000_000_000), decimals.Units(1))
	r := newRunner(t, &fixed{name: "Huge", Chains: extractor.Chains{chain.Sui}, amount: over})

	out := r.Run(context.Background(), []worklist.Entry{{Protocol: "Huge", Chain: "Sui"}})
	assert.False(t, out.Validation.Passed)
	assert.Equal(t, 1, out.Validation.Summary.ErrorCount)
}

func TestTokens(t *testing.T) {
	assert.InDelta(t, 1.5, tokens(decimals.MustNormalize("1.5", 18)), 1e-12)
	assert.Zero(t, tokens(new(big.Int)))
}
