package protocols

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

var aerodromeSubgraphs = map[chain.Chain]string{
	chain.Base: "GENunSHWLBXm59mBSgPzQ8metBEp9YDfdqwFr91Av1UM",
}

// Aerodrome reads the Aerodrome Base subgraph. Its locked amounts are
// human-readable values and are scaled at 18 decimals, as tBTC on Base has 18.
type Aerodrome struct {
	extractor.Chains
	http      *datasource.HTTP
	endpoints map[chain.Chain]string
	logger    *slog.Logger
	now       func() time.Time
}

func NewAerodrome(d Deps) *Aerodrome {
	d = d.withDefaults()
	return &Aerodrome{
		Chains:    extractor.Chains{chain.Base},
		http:      d.HTTP,
		endpoints: d.subgraphURLs(aerodromeSubgraphs),
		logger:    d.Logger,
		now:       d.Now,
	}
}

func (a *Aerodrome) ProtocolName() string { return "Aerodrome" }

func (a *Aerodrome) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !a.CanExtract(c) {
		return nil, extractor.Unsupported(a.ProtocolName(), c)
	}
	endpoint, ok := a.endpoints[c]
	if !ok {
		return nil, notConfigured(a.ProtocolName(), c, "THEGRAPH_API_KEY is required")
	}

	token := strings.ToLower(c.Token())
	var resp poolsResponse
	if err := a.http.GraphQL(ctx, endpoint, poolsQuery, map[string]any{"token": token}, &resp); err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}

	total := new(big.Int)
	matched := 0
	for i := range resp.Pools {
		amount, _, ok := resp.tokenSide(i, token)
		if !ok {
			continue
		}
		v, err := decimals.Normalize(amount, decimals.Canonical)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", resp.Pools[i].ID, err)
		}
		matched++
		total.Add(total, v)
	}

	return measurement(a.ProtocolName(), c, total, a.now(), extractor.Provenance{
		Source:    extractor.SourceSubgraph,
		Endpoints: []string{datasource.Redact(endpoint)},
		PoolCount: intPtr(matched),
	}), nil
}
