package protocols

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

// parseRaw parses an integer amount in the token's smallest unit. Missing
// values count as zero.
func parseRaw(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), nil
	}
	return decimals.Normalize(s, decimals.Canonical)
}

func suiCheckpoint(ctx context.Context, logger *slog.Logger, protocol string, r datasource.SuiReader) *uint64 {
	return blockHeight(ctx, logger, protocol, chain.Sui, r.LatestCheckpoint)
}

const bucketTBTCObject = "0x3a3545739027335834e930175942fb11a9d5ca4aea2ebad46770a1cc77d340b3"

// Bucket reads the collateral of the Bucket Protocol tBTC bucket object.
type Bucket struct {
	extractor.Chains
	reader datasource.SuiReader
	logger *slog.Logger
	now    func() time.Time
}

func NewBucket(d Deps) *Bucket {
	d = d.withDefaults()
	return &Bucket{
		Chains: extractor.Chains{chain.Sui},
		reader: d.Sui,
		logger: d.Logger,
		now:    d.Now,
	}
}

func (b *Bucket) ProtocolName() string { return "Bucket" }

type bucketFields struct {
	CollateralVault string `json:"collateral_vault"`
	BottleTable     struct {
		Fields struct {
			TotalCollateralSnapshot string `json:"total_collateral_snapshot"`
		} `json:"fields"`
	} `json:"bottle_table"`
}

// bucketCollateral returns the larger of the vault balance and the bottle
// table snapshot. The two diverge while liquidations are pending.
func bucketCollateral(f bucketFields) (*big.Int, error) {
	vault, err := parseRaw(f.CollateralVault)
	if err != nil {
		return nil, fmt.Errorf("collateral_vault: %w", err)
	}
	snapshot, err := parseRaw(f.BottleTable.Fields.TotalCollateralSnapshot)
	if err != nil {
		return nil, fmt.Errorf("total_collateral_snapshot: %w", err)
	}
	if vault.Cmp(snapshot) >= 0 {
		return vault, nil
	}
	return snapshot, nil
}

func (b *Bucket) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !b.CanExtract(c) {
		return nil, extractor.Unsupported(b.ProtocolName(), c)
	}
	if b.reader == nil {
		return nil, notConfigured(b.ProtocolName(), c, "no Sui RPC client")
	}

	obj, err := b.reader.GetObject(ctx, bucketTBTCObject)
	if err != nil {
		return nil, err
	}
	var fields bucketFields
	if err := obj.Fields(&fields); err != nil {
		return nil, fmt.Errorf("bucket object: %w", err)
	}
	raw, err := bucketCollateral(fields)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("bucket collateral", "collateral_vault", fields.CollateralVault,
		"total_collateral_snapshot", fields.BottleTable.Fields.TotalCollateralSnapshot)

	info, _ := c.Lookup()
	m := measurement(b.ProtocolName(), c, decimals.ScaleToCanonical(raw, info.TokenDecimals), b.now(), extractor.Provenance{
		Source:    extractor.SourceRPC,
		Endpoints: []string{b.reader.Endpoint()},
	})
	m.BlockHeight = suiCheckpoint(ctx, b.logger, b.ProtocolName(), b.reader)
	return m, nil
}

const (
	alphaLendMarkets   = "0x2326d387ba8bb7d24aa4cfa31f9a1e58bf9234b097574afb06c5dfb267df4c2e"
	alphaLendPageLimit = 50
	alphaLendMaxPages  = 100
)

var marketCoinType = regexp.MustCompile(`<(.+)>$`)

// AlphaLend pages through the markets container and reads the tBTC market's
// balance holding.
type AlphaLend struct {
	extractor.Chains
	reader datasource.SuiReader
	logger *slog.Logger
	now    func() time.Time
}

func NewAlphaLend(d Deps) *AlphaLend {
	d = d.withDefaults()
	return &AlphaLend{
		Chains: extractor.Chains{chain.Sui},
		reader: d.Sui,
		logger: d.Logger,
		now:    d.Now,
	}
}

func (a *AlphaLend) ProtocolName() string { return "AlphaLend" }

type alphaLendMarket struct {
	BalanceHolding string `json:"balance_holding"`
}

func (a *AlphaLend) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !a.CanExtract(c) {
		return nil, extractor.Unsupported(a.ProtocolName(), c)
	}
	if a.reader == nil {
		return nil, notConfigured(a.ProtocolName(), c, "no Sui RPC client")
	}

	raw, scanned, found, err := a.findMarket(ctx, c.Token())
	if err != nil {
		return nil, err
	}
	if !found {
		a.logger.Warn("no tBTC market found, reporting zero", "protocol", a.ProtocolName(), "markets_scanned", scanned)
	}

	info, _ := c.Lookup()
	m := measurement(a.ProtocolName(), c, decimals.ScaleToCanonical(raw, info.TokenDecimals), a.now(), extractor.Provenance{
		Source:    extractor.SourceRPC,
		Endpoints: []string{a.reader.Endpoint()},
		PoolCount: intPtr(scanned),
	})
	m.BlockHeight = suiCheckpoint(ctx, a.logger, a.ProtocolName(), a.reader)
	return m, nil
}

func (a *AlphaLend) findMarket(ctx context.Context, coinType string) (*big.Int, int, bool, error) {
	var cursor *string
	scanned := 0
	for page := 0; page < alphaLendMaxPages; page++ {
		fields, err := a.reader.GetDynamicFields(ctx, alphaLendMarkets, cursor, alphaLendPageLimit)
		if err != nil {
			return nil, scanned, false, err
		}

		var ids []string
		for _, f := range fields.Data {
			if strings.Contains(f.Name.Type, "::market::Market") {
				ids = append(ids, f.ObjectID)
			}
		}
		if len(ids) > 0 {
			objs, err := a.reader.MultiGetObjects(ctx, ids)
			if err != nil {
				return nil, scanned, false, err
			}
			scanned += len(objs)
			for i := range objs {
				obj := &objs[i]
				if obj.Data == nil {
					continue
				}
				match := marketCoinType.FindStringSubmatch(obj.Data.Type)
				if match == nil || match[1] != coinType {
					continue
				}
				var market alphaLendMarket
				if err := obj.Fields(&market); err != nil {
					return nil, scanned, false, fmt.Errorf("market %s: %w", obj.Data.ObjectID, err)
				}
				raw, err := parseRaw(market.BalanceHolding)
				if err != nil {
					return nil, scanned, false, fmt.Errorf("market %s balance_holding: %w", obj.Data.ObjectID, err)
				}
				return raw, scanned, true, nil
			}
		}

		if !fields.HasNextPage || fields.NextCursor == nil {
			break
		}
		cursor = fields.NextCursor
	}
	return new(big.Int), scanned, false, nil
}
