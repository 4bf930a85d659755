package protocols

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

var gearboxPools = map[chain.Chain][]string{
	chain.Ethereum: {
		"0x7354ec6e852108411e681d13e11185c3a2567981", // Chaos Labs tBTC v3
		"0xf791ecc5f2472637eac9dfe3f7894c0b32c32bdf", // Re7 tBTC
	},
}

// Gearbox sums totalAssets of the ERC-4626 tBTC lending pools.
type Gearbox struct {
	extractor.Chains
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

func NewGearbox(d Deps) *Gearbox {
	d = d.withDefaults()
	return &Gearbox{
		Chains: extractor.Chains{chain.Ethereum},
		deps:   d,
		logger: d.Logger,
		now:    d.Now,
	}
}

func (g *Gearbox) ProtocolName() string { return "Gearbox" }

func (g *Gearbox) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !g.CanExtract(c) {
		return nil, extractor.Unsupported(g.ProtocolName(), c)
	}
	reader, err := g.deps.evmReader(g.ProtocolName(), c)
	if err != nil {
		return nil, err
	}

	pools := gearboxPools[c]
	total := new(big.Int)
	var read int
	var lastErr error
	for _, p := range pools {
		assets, err := datasource.TotalAssets(ctx, reader, common.HexToAddress(p))
		if err != nil {
			g.logger.Warn("pool totalAssets failed", "protocol", g.ProtocolName(), "pool", p, "error", err)
			lastErr = err
			continue
		}
		read++
		total.Add(total, assets)
	}
	if read == 0 && lastErr != nil {
		return nil, lastErr
	}

	info, _ := c.Lookup()
	m := measurement(g.ProtocolName(), c, decimals.ScaleToCanonical(total, info.TokenDecimals), g.now(), extractor.Provenance{
		Source:    extractor.SourceRPC,
		Endpoints: []string{reader.Endpoint()},
		PoolCount: intPtr(read),
	})
	m.BlockHeight = blockHeight(ctx, g.logger, g.ProtocolName(), c, reader.BlockNumber)
	return m, nil
}
