package protocols

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

var aaveSubgraphs = map[chain.Chain]string{
	chain.Ethereum: "Cd2gEDVeqnjBn1hSeqFMitw8Q1iiyV9FYUZkLNRcL87g",
	chain.Arbitrum: "DLuE98kEb5pQNXAcKFQGQgfSQ57Xdou4jnVbAEqMfy3B",
	chain.Base:     "GQFbb95cE6d8mV989mL5figjaGaKCQB3xqYrr1bRyXqF",
}

const aaveReserveQuery = `query TBTCReserve($underlyingAsset: String!) {
  reserves(where: { underlyingAsset: $underlyingAsset }) {
    id
    symbol
    decimals
    underlyingAsset
    totalLiquidity
  }
}`

// Aave reads the tBTC reserve's total liquidity from the Aave V3 subgraphs.
type Aave struct {
	extractor.Chains
	http      *datasource.HTTP
	endpoints map[chain.Chain]string
	logger    *slog.Logger
	now       func() time.Time
}

func NewAave(d Deps) *Aave {
	d = d.withDefaults()
	return &Aave{
		Chains:    extractor.Chains{chain.Ethereum, chain.Arbitrum, chain.Base},
		http:      d.HTTP,
		endpoints: d.subgraphURLs(aaveSubgraphs),
		logger:    d.Logger,
		now:       d.Now,
	}
}

func (a *Aave) ProtocolName() string { return "Aave V3" }

type aaveReserves struct {
	Reserves []struct {
		ID              string `json:"id"`
		Symbol          string `json:"symbol"`
		Decimals        int    `json:"decimals"`
		UnderlyingAsset string `json:"underlyingAsset"`
		TotalLiquidity  string `json:"totalLiquidity"`
	} `json:"reserves"`
}

func (a *Aave) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !a.CanExtract(c) {
		return nil, extractor.Unsupported(a.ProtocolName(), c)
	}
	endpoint, ok := a.endpoints[c]
	if !ok {
		return nil, notConfigured(a.ProtocolName(), c, "THEGRAPH_API_KEY is required")
	}

	var resp aaveReserves
	vars := map[string]any{"underlyingAsset": strings.ToLower(c.Token())}
	if err := a.http.GraphQL(ctx, endpoint, aaveReserveQuery, vars, &resp); err != nil {
		return nil, fmt.Errorf("query reserves: %w", err)
	}

	prov := extractor.Provenance{Source: extractor.SourceSubgraph, Endpoints: []string{datasource.Redact(endpoint)}}
	if len(resp.Reserves) == 0 {
		a.logger.Warn("no tBTC reserve found, reporting zero", "protocol", a.ProtocolName(), "chain", string(c))
		return measurement(a.ProtocolName(), c, nil, a.now(), prov), nil
	}

	reserve := resp.Reserves[0]
	amount, err := decimals.Normalize(reserve.TotalLiquidity, reserve.Decimals)
	if err != nil {
		return nil, fmt.Errorf("reserve %s totalLiquidity: %w", reserve.ID, err)
	}
	return measurement(a.ProtocolName(), c, amount, a.now(), prov), nil
}
