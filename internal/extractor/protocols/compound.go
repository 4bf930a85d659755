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

var compoundSubgraphs = map[chain.Chain]string{
	chain.Ethereum: "5nwMCSHaTqG3Kd2gHznbTXEnZ9QNWsssQfbHhDqQSQFp",
}

const compoundCollateralTokensQuery = `query TBTCCollateralTokens($token: String!) {
  collateralTokens(where: { token_: { address: $token } }) {
    id
    token { address symbol decimals }
    market { id }
  }
}`

const compoundCollateralBalanceQuery = `query MarketCollateralBalance($id: ID!) {
  marketCollateralBalance(id: $id) {
    id
    balance
    lastUpdateBlockNumber
  }
}`

// collateralBalanceSuffix is appended to a collateral token id to form the
// id of its market collateral balance entity ("BAL" in hex).
const collateralBalanceSuffix = "42414c"

// Compound sums the tBTC collateral balance of every Compound V3 market that
// accepts tBTC.
type Compound struct {
	extractor.Chains
	http      *datasource.HTTP
	endpoints map[chain.Chain]string
	logger    *slog.Logger
	now       func() time.Time
}

func NewCompound(d Deps) *Compound {
	d = d.withDefaults()
	return &Compound{
		Chains:    extractor.Chains{chain.Ethereum},
		http:      d.HTTP,
		endpoints: d.subgraphURLs(compoundSubgraphs),
		logger:    d.Logger,
		now:       d.Now,
	}
}

func (cp *Compound) ProtocolName() string { return "Compound" }

type compoundCollateralTokens struct {
	CollateralTokens []struct {
		ID    string `json:"id"`
		Token struct {
			Address  string `json:"address"`
			Symbol   string `json:"symbol"`
			Decimals int    `json:"decimals"`
		} `json:"token"`
	} `json:"collateralTokens"`
}

type compoundCollateralBalance struct {
	MarketCollateralBalance *struct {
		ID      string `json:"id"`
		Balance string `json:"balance"`
	} `json:"marketCollateralBalance"`
}

func (cp *Compound) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !cp.CanExtract(c) {
		return nil, extractor.Unsupported(cp.ProtocolName(), c)
	}
	endpoint, ok := cp.endpoints[c]
	if !ok {
		return nil, notConfigured(cp.ProtocolName(), c, "THEGRAPH_API_KEY is required")
	}

	var tokens compoundCollateralTokens
	vars := map[string]any{"token": strings.ToLower(c.Token())}
	if err := cp.http.GraphQL(ctx, endpoint, compoundCollateralTokensQuery, vars, &tokens); err != nil {
		return nil, fmt.Errorf("query collateral tokens: %w", err)
	}

	prov := extractor.Provenance{Source: extractor.SourceSubgraph, Endpoints: []string{datasource.Redact(endpoint)}}
	if len(tokens.CollateralTokens) == 0 {
		cp.logger.Warn("no tBTC collateral tokens found, reporting zero", "protocol", cp.ProtocolName(), "chain", string(c))
		return measurement(cp.ProtocolName(), c, nil, cp.now(), prov), nil
	}

	total := new(big.Int)
	read, failures := 0, 0
	var lastErr error
	for _, ct := range tokens.CollateralTokens {
		var bal compoundCollateralBalance
		id := ct.ID + collateralBalanceSuffix
		if err := cp.http.GraphQL(ctx, endpoint, compoundCollateralBalanceQuery, map[string]any{"id": id}, &bal); err != nil {
			cp.logger.Warn("collateral balance query failed", "protocol", cp.ProtocolName(), "collateral_token", ct.ID, "error", err)
			failures++
			lastErr = err
			continue
		}
		if bal.MarketCollateralBalance == nil {
			continue
		}
		v, err := decimals.Normalize(bal.MarketCollateralBalance.Balance, ct.Token.Decimals)
		if err != nil {
			cp.logger.Warn("collateral balance malformed", "protocol", cp.ProtocolName(), "collateral_token", ct.ID, "error", err)
			failures++
			lastErr = err
			continue
		}
		read++
		total.Add(total, v)
	}
	if read == 0 && failures > 0 {
		return nil, fmt.Errorf("all %d collateral balance queries failed: %w", failures, lastErr)
	}

	prov.PoolCount = intPtr(read)
	return measurement(cp.ProtocolName(), c, total, cp.now(), prov), nil
}
