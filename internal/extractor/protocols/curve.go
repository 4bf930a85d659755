package protocols

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

var curvePoolTypes = []string{
	"main",
	"crypto",
	"factory-stable-ng",
	"factory-crvusd",
	"factory-twocrypto",
	"factory-tricrypto",
	"factory-crypto",
}

var curveStaticPools = map[chain.Chain][]string{
	chain.Ethereum: {
		"0xf1F435B05D255a5dBdE37333C0f61DA6F69c6127",
		"0xf9bd9da2427a50908c4c6d1599d8e62837c2bcb0",
		"0xC25099792E9349C7DD09759744ea681C7de2cb66",
	},
	chain.Base: {
		"0x6e53131f68a034873b6bfa15502af094ef0c5854",
	},
	chain.Arbitrum: {
		"0x186cF879186986A20aADFb7eAD50e3C20cb26CeC",
		"0xDa73dC70D5ca3F51b0000C308abcd358b5F3FEFe",
		"0x3c64d44Ab19D63F09ebaD38fd7b913Ab7E15e341",
		"0xFA8BD41E404fc66448C4bAf717b697089569Ff41",
	},
	chain.Optimism: {},
}

// curveLendingAMM is the crvUSD tBTC lending AMM. The pools API does not
// list it, so it is always read on Ethereum.
const curveLendingAMM = "0xf9bd9da2427a50908c4c6d1599d8e62837c2bcb0"

// Curve discovers tBTC pools through the Curve API and reads each pool's
// tBTC balance on chain.
type Curve struct {
	extractor.Chains
	http      *datasource.HTTP
	deps      Deps
	apiBase   string
	discovery *addressDiscovery
	logger    *slog.Logger
	now       func() time.Time
}

func NewCurve(d Deps) *Curve {
	d = d.withDefaults()
	return &Curve{
		Chains:    extractor.Chains{chain.Ethereum, chain.Arbitrum, chain.Base, chain.Optimism},
		http:      d.HTTP,
		deps:      d,
		apiBase:   strings.TrimRight(d.CurveAPI, "/"),
		discovery: newAddressDiscovery(d, "Curve"),
		logger:    d.Logger,
		now:       d.Now,
	}
}

func (cv *Curve) ProtocolName() string { return "Curve" }

type curvePools struct {
	Data struct {
		PoolData []struct {
			ID             string   `json:"id"`
			Address        string   `json:"address"`
			CoinsAddresses []string `json:"coinsAddresses"`
		} `json:"poolData"`
	} `json:"data"`
}

// discoverPools queries every pool type. It fails only if every request fails.
func (cv *Curve) discoverPools(ctx context.Context, c chain.Chain) ([]string, error) {
	token := c.Token()
	var found []string
	var failures int
	var lastErr error
	for _, poolType := range curvePoolTypes {
		url := fmt.Sprintf("%s/getPools/%s/%s", cv.apiBase, string(c), poolType)
		var resp curvePools
		if err := cv.http.GetJSON(ctx, url, &resp); err != nil {
			failures++
			lastErr = err
			continue
		}
		for _, p := range resp.Data.PoolData {
			if p.Address == "" {
				continue
			}
			for _, coin := range p.CoinsAddresses {
				if strings.EqualFold(coin, token) {
					found = append(found, p.Address)
					break
				}
			}
		}
	}
	if failures == len(curvePoolTypes) {
		return nil, fmt.Errorf("curve api: %w", lastErr)
	}
	return found, nil
}

func (cv *Curve) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !cv.CanExtract(c) {
		return nil, extractor.Unsupported(cv.ProtocolName(), c)
	}
	reader, err := cv.deps.evmReader(cv.ProtocolName(), c)
	if err != nil {
		return nil, err
	}

	pools, origin := cv.discovery.resolve(ctx, c, func(ctx context.Context) ([]string, error) {
		return cv.discoverPools(ctx, c)
	}, curveStaticPools[c])
	if c == chain.Ethereum {
		pools = dedupeAddresses(append(pools, curveLendingAMM))
	}
	cv.logger.Debug("curve pools resolved", "chain", string(c), "origin", origin, "count", len(pools))

	prov := extractor.Provenance{
		Source:    extractor.SourceRPC,
		Endpoints: []string{reader.Endpoint()},
		PoolCount: intPtr(0),
	}
	if len(pools) == 0 {
		return measurement(cv.ProtocolName(), c, nil, cv.now(), prov), nil
	}

	raw, read, err := sumERC20Balances(ctx, cv.logger, cv.ProtocolName(), c, reader, common.HexToAddress(c.Token()), pools)
	if err != nil {
		return nil, err
	}
	prov.PoolCount = intPtr(read)
	info, _ := c.Lookup()
	m := measurement(cv.ProtocolName(), c, decimals.ScaleToCanonical(raw, info.TokenDecimals), cv.now(), prov)
	m.BlockHeight = blockHeight(ctx, cv.logger, cv.ProtocolName(), c, reader.BlockNumber)
	return m, nil
}
