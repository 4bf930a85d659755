package protocols

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

var yieldBasisFactories = map[chain.Chain]string{
	chain.Ethereum: "0x370a449FeBb9411c95bf897021377fe0B7D100c0",
}

var (
	yieldBasisFactoryABI = datasource.MustABI(`[
		{"type":"function","name":"market_count","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"markets","stateMutability":"view","inputs":[{"name":"i","type":"uint256"}],"outputs":[
			{"name":"asset","type":"address"},
			{"name":"cryptopool","type":"address"},
			{"name":"amm","type":"address"},
			{"name":"vault","type":"address"},
			{"name":"A","type":"uint256"},
			{"name":"fee","type":"uint256"}
		]}
	]`)
	cryptopoolABI = datasource.MustABI(`[
		{"type":"function","name":"coins","stateMutability":"view","inputs":[{"name":"i","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"balances","stateMutability":"view","inputs":[{"name":"i","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
	]`)
)

// maxPoolCoins bounds the coin index search in a Curve cryptopool.
const maxPoolCoins = 3

// YieldBasis attributes to each tBTC market the share of its cryptopool's
// tBTC owned by the market's AMM: ammLP * poolTBTC / lpSupply. Unreadable
// markets are skipped unless no tBTC market could be read at all.
type YieldBasis struct {
	extractor.Chains
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

func NewYieldBasis(d Deps) *YieldBasis {
	d = d.withDefaults()
	return &YieldBasis{
		Chains: extractor.Chains{chain.Ethereum},
		deps:   d,
		logger: d.Logger,
		now:    d.Now,
	}
}

func (y *YieldBasis) ProtocolName() string { return "Yield Basis" }

func (y *YieldBasis) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !y.CanExtract(c) {
		return nil, extractor.Unsupported(y.ProtocolName(), c)
	}
	reader, err := y.deps.evmReader(y.ProtocolName(), c)
	if err != nil {
		return nil, err
	}
	factory := common.HexToAddress(yieldBasisFactories[c])
	token := common.HexToAddress(c.Token())

	count, err := datasource.CallUint(ctx, reader, factory, yieldBasisFactoryABI, "market_count")
	if err != nil {
		return nil, fmt.Errorf("market_count: %w", err)
	}
	if !count.IsInt64() {
		return nil, fmt.Errorf("market_count out of range: %s", count)
	}

	total := new(big.Int)
	markets, failures := 0, 0
	var lastErr error
	for i := int64(0); i < count.Int64(); i++ {
		share, matched, err := y.marketShare(ctx, reader, factory, token, big.NewInt(i))
		if err != nil {
			y.logger.Warn("yield basis market failed", "market_index", i, "error", err)
			failures++
			lastErr = err
			continue
		}
		if matched {
			markets++
			total.Add(total, share)
		}
	}
	if markets == 0 && failures > 0 {
		return nil, fmt.Errorf("all %d market reads failed: %w", failures, lastErr)
	}

	info, _ := c.Lookup()
	m := measurement(y.ProtocolName(), c, decimals.ScaleToCanonical(total, info.TokenDecimals), y.now(), extractor.Provenance{
		Source:    extractor.SourceRPC,
		Endpoints: []string{reader.Endpoint()},
		PoolCount: intPtr(markets),
	})
	m.BlockHeight = blockHeight(ctx, y.logger, y.ProtocolName(), c, reader.BlockNumber)
	return m, nil
}

// marketShare reports matched=false for markets whose asset is not token.
func (y *YieldBasis) marketShare(ctx context.Context, r datasource.ContractReader, factory, token common.Address, index *big.Int) (*big.Int, bool, error) {
	out, err := r.Call(ctx, factory, yieldBasisFactoryABI, "markets", index)
	if err != nil {
		return nil, false, err
	}
	if len(out) < 3 {
		return nil, false, fmt.Errorf("markets(%s): %d outputs", index, len(out))
	}
	asset, ok1 := out[0].(common.Address)
	pool, ok2 := out[1].(common.Address)
	amm, ok3 := out[2].(common.Address)
	if !ok1 || !ok2 || !ok3 {
		return nil, false, fmt.Errorf("markets(%s): unexpected output types", index)
	}
	if asset != token {
		return nil, false, nil
	}

	ammLP, err := datasource.BalanceOf(ctx, r, pool, amm)
	if err != nil {
		return nil, true, fmt.Errorf("amm lp balance: %w", err)
	}
	supply, err := datasource.TotalSupply(ctx, r, pool)
	if err != nil {
		return nil, true, fmt.Errorf("lp supply: %w", err)
	}
	if supply.Sign() == 0 || ammLP.Sign() == 0 {
		return new(big.Int), true, nil
	}

	poolBalance := new(big.Int)
	for i := int64(0); i < maxPoolCoins; i++ {
		coin, err := datasource.CallAddress(ctx, r, pool, cryptopoolABI, "coins", big.NewInt(i))
		if err != nil {
			break
		}
		if coin == token {
			poolBalance, err = datasource.CallUint(ctx, r, pool, cryptopoolABI, "balances", big.NewInt(i))
			if err != nil {
				return nil, true, fmt.Errorf("pool balance: %w", err)
			}
			break
		}
	}

	share := new(big.Int).Mul(ammLP, poolBalance)
	return share.Quo(share, supply), true, nil
}
