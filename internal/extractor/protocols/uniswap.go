package protocols

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

var uniswapSubgraphs = map[chain.Chain]string{
	chain.Ethereum: "5zvR82QoaXYFyDEKLZ9t6v9adgnptxYpKpSbxtgVENFV",
	chain.Arbitrum: "FbCGRftH4a3yZugY7TnbYgPJVEv2LvMT6oF1fxPe9aJM",
	chain.Base:     "43Hwfi3dJSoGpyas9VwNoDAv55yjgGrPpNSmbQZArzMG",
	chain.Optimism: "Cghf4LfVqPiFw6fp6Y5X5Ubc8UpmUhSfJL82zwiBFLaj",
}

// poolsQuery is shared by Uniswap V3 and its Aerodrome fork.
const poolsQuery = `query TBTCPools($token: String!) {
  pools(first: 1000, where: { or: [{ token0: $token }, { token1: $token }] }) {
    id
    token0 { id symbol decimals }
    token1 { id symbol decimals }
    totalValueLockedToken0
    totalValueLockedToken1
  }
}`

type poolToken struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals string `json:"decimals"`
}

type poolsResponse struct {
	Pools []struct {
		ID                     string    `json:"id"`
		Token0                 poolToken `json:"token0"`
		Token1                 poolToken `json:"token1"`
		TotalValueLockedToken0 string    `json:"totalValueLockedToken0"`
		TotalValueLockedToken1 string    `json:"totalValueLockedToken1"`
	} `json:"pools"`
}

// tokenSide returns the tracked token's locked amount and decimals in a pool.
func (p poolsResponse) tokenSide(i int, token string) (amount, decimals string, ok bool) {
	pool := p.Pools[i]
	switch {
	case strings.EqualFold(pool.Token0.ID, token):
		return pool.TotalValueLockedToken0, pool.Token0.Decimals, true
	case strings.EqualFold(pool.Token1.ID, token):
		return pool.TotalValueLockedToken1, pool.Token1.Decimals, true
	}
	return "", "", false
}

// Uniswap sums the tBTC side of every Uniswap V3 pool holding tBTC.
type Uniswap struct {
	extractor.Chains
	http      *datasource.HTTP
	endpoints map[chain.Chain]string
	logger    *slog.Logger
	now       func() time.Time
}

func NewUniswap(d Deps) *Uniswap {
	d = d.withDefaults()
	return &Uniswap{
		Chains:    extractor.Chains{chain.Ethereum, chain.Arbitrum, chain.Base, chain.Optimism},
		http:      d.HTTP,
		endpoints: d.subgraphURLs(uniswapSubgraphs),
		logger:    d.Logger,
		now:       d.Now,
	}
}

func (u *Uniswap) ProtocolName() string { return "Uniswap V3" }

func (u *Uniswap) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !u.CanExtract(c) {
		return nil, extractor.Unsupported(u.ProtocolName(), c)
	}
	endpoint, ok := u.endpoints[c]
	if !ok {
		return nil, notConfigured(u.ProtocolName(), c, "THEGRAPH_API_KEY is required")
	}

	token := strings.ToLower(c.Token())
	var resp poolsResponse
	if err := u.http.GraphQL(ctx, endpoint, poolsQuery, map[string]any{"token": token}, &resp); err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}

	total := new(big.Int)
	for i := range resp.Pools {
		amount, dec, ok := resp.tokenSide(i, token)
		if !ok {
			continue
		}
		d, err := strconv.Atoi(dec)
		if err != nil {
			return nil, fmt.Errorf("pool %s decimals %q: %w", resp.Pools[i].ID, dec, decimals.ErrMalformedAmount)
		}
		v, err := decimals.Normalize(amount, d)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", resp.Pools[i].ID, err)
		}
		total.Add(total, v)
	}

	return measurement(u.ProtocolName(), c, total, u.now(), extractor.Provenance{
		Source:    extractor.SourceSubgraph,
		Endpoints: []string{datasource.Redact(endpoint)},
		PoolCount: intPtr(len(resp.Pools)),
	}), nil
}
