package protocols

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

var velodromeDexIDs = []string{"velodrome-finance-v2", "velodrome-finance-slipstream"}

var velodromeStaticPools = map[chain.Chain][]string{
	chain.Optimism: {
		"0xec3d9098bd40ec741676fc04d4bd26bccf592aa3",
		"0x8949a8e02998d76d7a703cac9ee7e0f529828011",
		"0xa1507a6d0aa14f61cf9195ebd10cc15ecf1e40f2",
		"0xe612cb2b5644aef0ad3e922bae70a8374c63515f",
	},
}

// Velodrome discovers tBTC pools through GeckoTerminal and reads each pool's
// tBTC balance on chain.
type Velodrome struct {
	extractor.Chains
	http      *datasource.HTTP
	deps      Deps
	apiBase   string
	discovery *addressDiscovery
	logger    *slog.Logger
	now       func() time.Time
}

func NewVelodrome(d Deps) *Velodrome {
	d = d.withDefaults()
	return &Velodrome{
		Chains:    extractor.Chains{chain.Optimism},
		http:      d.HTTP,
		deps:      d,
		apiBase:   strings.TrimRight(d.GeckoTerminalAPI, "/"),
		discovery: newAddressDiscovery(d, "Velodrome"),
		logger:    d.Logger,
		now:       d.Now,
	}
}

func (v *Velodrome) ProtocolName() string { return "Velodrome" }

type geckoPools struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"attributes"`
		Relationships struct {
			Dex struct {
				Data struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"dex"`
		} `json:"relationships"`
	} `json:"data"`
}

func (v *Velodrome) discoverPools(ctx context.Context, c chain.Chain) ([]string, error) {
	url := fmt.Sprintf("%s/networks/%s/tokens/%s/pools", v.apiBase, string(c), strings.ToLower(c.Token()))
	var resp geckoPools
	if err := v.http.GetJSON(ctx, url, &resp); err != nil {
		return nil, fmt.Errorf("geckoterminal: %w", err)
	}
	var pools []string
	for _, p := range resp.Data {
		if slices.Contains(velodromeDexIDs, p.Relationships.Dex.Data.ID) && p.Attributes.Address != "" {
			pools = append(pools, p.Attributes.Address)
		}
	}
	return pools, nil
}

func (v *Velodrome) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !v.CanExtract(c) {
		return nil, extractor.Unsupported(v.ProtocolName(), c)
	}
	reader, err := v.deps.evmReader(v.ProtocolName(), c)
	if err != nil {
		return nil, err
	}

	pools, origin := v.discovery.resolve(ctx, c, func(ctx context.Context) ([]string, error) {
		return v.discoverPools(ctx, c)
	}, velodromeStaticPools[c])
	v.logger.Debug("velodrome pools resolved", "chain", string(c), "origin", origin, "count", len(pools))

	prov := extractor.Provenance{
		Source:    extractor.SourceRPC,
		Endpoints: []string{reader.Endpoint()},
		PoolCount: intPtr(0),
	}
	if len(pools) == 0 {
		return measurement(v.ProtocolName(), c, nil, v.now(), prov), nil
	}

	raw, read, err := sumERC20Balances(ctx, v.logger, v.ProtocolName(), c, reader, common.HexToAddress(c.Token()), pools)
	if err != nil {
		return nil, err
	}
	prov.PoolCount = intPtr(read)
	info, _ := c.Lookup()
	m := measurement(v.ProtocolName(), c, decimals.ScaleToCanonical(raw, info.TokenDecimals), v.now(), prov)
	m.BlockHeight = blockHeight(ctx, v.logger, v.ProtocolName(), c, reader.BlockNumber)
	return m, nil
}
