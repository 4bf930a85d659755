// Package protocols holds one Extractor per supported protocol. Every
// external dependency is passed in through Deps, so tests point extractors at
// httptest servers or in-memory fakes.
package protocols

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/web3-frozen/tvl-extractor/internal/cache"
	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
	"github.com/web3-frozen/tvl-extractor/internal/retry"
)

// Deps are the collaborators shared by all extractors.
type Deps struct {
	HTTP     *datasource.HTTP
	EVM      map[chain.Chain]datasource.ContractReader
	Starknet datasource.StarknetReader
	Sui      datasource.SuiReader

	GraphAPIKey string
	// SubgraphBase replaces the Graph gateway; subgraph URLs become
	// SubgraphBase + "/" + id.
	SubgraphBase string

	CurveAPI         string
	GeckoTerminalAPI string
	EmberAPI         string

	// Cache keeps discovered addresses; nil disables caching.
	Cache        cache.Store
	DiscoveryTTL time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.HTTP == nil {
		d.HTTP = datasource.NewHTTP(10 * time.Second)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.CurveAPI == "" {
		d.CurveAPI = "https://api.curve.finance/v1"
	}
	if d.GeckoTerminalAPI == "" {
		d.GeckoTerminalAPI = "https://api.geckoterminal.com/api/v2"
	}
	if d.EmberAPI == "" {
		d.EmberAPI = "https://vaults.api.sui-prod.bluefin.io/api/v1"
	}
	if d.DiscoveryTTL == 0 {
		d.DiscoveryTTL = 6 * time.Hour
	}
	return d
}

// subgraphURL returns "" when no API key is available.
func (d Deps) subgraphURL(id string) string {
	if d.SubgraphBase != "" {
		return d.SubgraphBase + "/" + id
	}
	if d.GraphAPIKey == "" {
		return ""
	}
	return datasource.SubgraphURL(d.GraphAPIKey, id)
}

func (d Deps) subgraphURLs(ids map[chain.Chain]string) map[chain.Chain]string {
	out := make(map[chain.Chain]string, len(ids))
	for c, id := range ids {
		if u := d.subgraphURL(id); u != "" {
			out[c] = u
		}
	}
	return out
}

// All builds every extractor, each wrapped in the retry policy.
func All(d Deps, policy retry.Policy) []extractor.Extractor {
	d = d.withDefaults()
	raw := []extractor.Extractor{
		NewAave(d),
		NewUniswap(d),
		NewCurve(d),
		NewCompound(d),
		NewSpark(d),
		NewAerodrome(d),
		NewVelodrome(d),
		NewYieldBasis(d),
		NewGearbox(d),
		NewVesu(d),
		NewEndur(d),
		NewEkubo(d),
		NewBucket(d),
		NewAlphaLend(d),
		NewEmber(d),
	}
	out := make([]extractor.Extractor, len(raw))
	for i, e := range raw {
		out[i] = extractor.WithRetry(e, policy, d.Logger)
	}
	return out
}

// Registry builds the registry of all extractors.
func Registry(d Deps, policy retry.Policy) (*extractor.Registry, error) {
	return extractor.NewRegistry(All(d, policy)...)
}

// ── helpers shared by the variants ─────────────────────────────────────

func notConfigured(protocol string, c chain.Chain, what string) error {
	return fmt.Errorf("%s on %s: %s: %w", protocol, c, what, extractor.ErrNotConfigured)
}

func measurement(protocol string, c chain.Chain, amount *big.Int, observedAt time.Time, prov extractor.Provenance) *extractor.Measurement {
	if amount == nil {
		amount = new(big.Int)
	}
	return &extractor.Measurement{
		Protocol:   protocol,
		Chain:      c,
		Amount:     amount,
		ObservedAt: observedAt,
		Provenance: prov,
	}
}

func intPtr(n int) *int { return &n }

func (d Deps) evmReader(protocol string, c chain.Chain) (datasource.ContractReader, error) {
	r, ok := d.EVM[c]
	if !ok || r == nil {
		return nil, notConfigured(protocol, c, "no RPC client")
	}
	return r, nil
}

// blockHeight reads the head block; a failure only drops the optional field.
func blockHeight(ctx context.Context, logger *slog.Logger, protocol string, c chain.Chain, read func(context.Context) (uint64, error)) *uint64 {
	n, err := read(ctx)
	if err != nil {
		logger.Warn("block height unavailable", "protocol", protocol, "chain", string(c), "error", err)
		return nil
	}
	return &n
}

// sumERC20Balances adds token balances held by each holder and reports how
// many reads contributed. Unreadable holders are logged and skipped; it fails
// only when every read fails.
func sumERC20Balances(ctx context.Context, logger *slog.Logger, protocol string, c chain.Chain, r datasource.ContractReader, token common.Address, holders []string) (*big.Int, int, error) {
	total := new(big.Int)
	var failures int
	var lastErr error
	for _, h := range holders {
		if !common.IsHexAddress(h) {
			logger.Warn("skipping invalid address", "protocol", protocol, "chain", string(c), "address", h)
			failures++
			continue
		}
		bal, err := datasource.BalanceOf(ctx, r, token, common.HexToAddress(h))
		if err != nil {
			logger.Warn("balance read failed", "protocol", protocol, "chain", string(c), "holder", h, "error", err)
			failures++
			lastErr = err
			continue
		}
		total.Add(total, bal)
	}
	if len(holders) > 0 && failures == len(holders) {
		if lastErr == nil {
			lastErr = fmt.Errorf("no valid addresses")
		}
		return nil, 0, fmt.Errorf("all %d balance reads failed: %w", failures, lastErr)
	}
	return total, len(holders) - failures, nil
}
