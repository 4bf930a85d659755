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

var sparkSubgraphs = map[chain.Chain]string{
	chain.Ethereum: "GbKdmBe4ycCYCQLQSjqGg6UHYoYfbyJyq5WrG35pv1si",
}

const sparkMarketQuery = `query TBTCMarket($inputToken: String!) {
  markets(where: { inputToken: $inputToken }) {
    id
    name
    inputToken { id symbol decimals }
    inputTokenBalance
  }
}`

// Spark reads the tBTC market's input token balance from the Spark Lend
// (Messari schema) subgraph.
type Spark struct {
	extractor.Chains
	http      *datasource.HTTP
	endpoints map[chain.Chain]string
	logger    *slog.Logger
	now       func() time.Time
}

func NewSpark(d Deps) *Spark {
	d = d.withDefaults()
	return &Spark{
		Chains:    extractor.Chains{chain.Ethereum},
		http:      d.HTTP,
		endpoints: d.subgraphURLs(sparkSubgraphs),
		logger:    d.Logger,
		now:       d.Now,
	}
}

func (s *Spark) ProtocolName() string { return "Spark Lend" }

type sparkMarkets struct {
	Markets []struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		InputToken struct {
			ID       string `json:"id"`
			Symbol   string `json:"symbol"`
			Decimals int    `json:"decimals"`
		} `json:"inputToken"`
		InputTokenBalance string `json:"inputTokenBalance"`
	} `json:"markets"`
}

func (s *Spark) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !s.CanExtract(c) {
		return nil, extractor.Unsupported(s.ProtocolName(), c)
	}
	endpoint, ok := s.endpoints[c]
	if !ok {
		return nil, notConfigured(s.ProtocolName(), c, "THEGRAPH_API_KEY is required")
	}

	var resp sparkMarkets
	vars := map[string]any{"inputToken": strings.ToLower(c.Token())}
	if err := s.http.GraphQL(ctx, endpoint, sparkMarketQuery, vars, &resp); err != nil {
		return nil, fmt.Errorf("query markets: %w", err)
	}

	prov := extractor.Provenance{Source: extractor.SourceSubgraph, Endpoints: []string{datasource.Redact(endpoint)}}
	if len(resp.Markets) == 0 {
		s.logger.Warn("no tBTC market found, reporting zero", "protocol", s.ProtocolName(), "chain", string(c))
		return measurement(s.ProtocolName(), c, nil, s.now(), prov), nil
	}

	m := resp.Markets[0]
	amount, err := decimals.Normalize(m.InputTokenBalance, m.InputToken.Decimals)
	if err != nil {
		return nil, fmt.Errorf("market %s inputTokenBalance: %w", m.ID, err)
	}
	return measurement(s.ProtocolName(), c, amount, s.now(), prov), nil
}
