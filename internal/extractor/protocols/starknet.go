package protocols

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

// starknetHolders reads the tracked token balance of a fixed set of
// contracts. Vesu and Ekubo are both instances of it.
type starknetHolders struct {
	extractor.Chains
	name    string
	holders []string
	// required holders make the extraction fail when unreadable; the rest
	// are skipped.
	required map[string]bool
	reader   datasource.StarknetReader
	logger   *slog.Logger
	now      func() time.Time
}

func (s *starknetHolders) ProtocolName() string { return s.name }

func (s *starknetHolders) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !s.CanExtract(c) {
		return nil, extractor.Unsupported(s.name, c)
	}
	if s.reader == nil {
		return nil, notConfigured(s.name, c, "no Starknet RPC client")
	}

	total := new(big.Int)
	read := 0
	for _, h := range s.holders {
		bal, err := datasource.StarknetBalanceOf(ctx, s.reader, c.Token(), h)
		if err != nil {
			if s.required[h] {
				return nil, err
			}
			s.logger.Debug("holder balance unavailable", "protocol", s.name, "holder", h, "error", err)
			continue
		}
		read++
		total.Add(total, bal)
	}

	info, _ := c.Lookup()
	m := measurement(s.name, c, decimals.ScaleToCanonical(total, info.TokenDecimals), s.now(), extractor.Provenance{
		Source:    extractor.SourceRPC,
		Endpoints: []string{s.reader.Endpoint()},
		PoolCount: intPtr(read),
	})
	m.BlockHeight = blockHeight(ctx, s.logger, s.name, c, s.reader.BlockNumber)
	return m, nil
}

const vesuSingleton = "0x000d8d6dfec4d33bfb6895de9f3852143a17c6f92fd2a21da3d6924d34870160"

var vesuV2Pools = []string{
	"0x451fe483d5921a2919ddd81d0de6696669bccdacd859f72a4fba7656b97c3b5", // Prime
	"0x2eef0c13b10b487ea5916b54c0a7f98ec43fb3048f60fdeedaf5b08f6f88aaf", // Re7 USDC Prime
	"0x3976cac265a12609934089004df458ea29c776d77da423c96dc761d09d24124", // Re7 USDC Core
	"0x3a8416bf20d036df5b1cf3447630a2e1cb04685f6b0c3a70ed7fb1473548ecf", // Re7 xBTC
	"0x73702fce24aba36da1eac539bd4bae62d4d6a76747b7cdd3e016da754d7a135", // Re7 USDC Stable Core
	"0x5c03e7e0ccfe79c634782388eb1e6ed4e8e2a013ab0fcc055140805e46261bd", // Re7 USDC Frontier
}

// NewVesu reads tBTC held by the Vesu singleton and its V2 pool contracts.
// V2 pools that cannot be read are skipped.
func NewVesu(d Deps) extractor.Extractor {
	d = d.withDefaults()
	return &starknetHolders{
		Chains:   extractor.Chains{chain.Starknet},
		name:     "Vesu",
		holders:  append([]string{vesuSingleton}, vesuV2Pools...),
		required: map[string]bool{vesuSingleton: true},
		reader:   d.Starknet,
		logger:   d.Logger,
		now:      d.Now,
	}
}

const ekuboCore = "0x00000005dd3d2f4429af886cd1a3b08289dbcea99a294197e9eb43b0e0325b4b"

// NewEkubo reads tBTC held by the Ekubo core contract.
func NewEkubo(d Deps) extractor.Extractor {
	d = d.withDefaults()
	return &starknetHolders{
		Chains:   extractor.Chains{chain.Starknet},
		name:     "Ekubo",
		holders:  []string{ekuboCore},
		required: map[string]bool{ekuboCore: true},
		reader:   d.Starknet,
		logger:   d.Logger,
		now:      d.Now,
	}
}

var endurVaults = []string{
	"0x43a35c1425a0125ef8c171f1a75c6f31ef8648edcc8324b55ce1917db3f9b91",
}

// Endur sums total_assets of the Endur tBTC liquid staking vaults.
type Endur struct {
	extractor.Chains
	reader datasource.StarknetReader
	logger *slog.Logger
	now    func() time.Time
}

func NewEndur(d Deps) *Endur {
	d = d.withDefaults()
	return &Endur{
		Chains: extractor.Chains{chain.Starknet},
		reader: d.Starknet,
		logger: d.Logger,
		now:    d.Now,
	}
}

func (e *Endur) ProtocolName() string { return "Endur" }

func (e *Endur) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !e.CanExtract(c) {
		return nil, extractor.Unsupported(e.ProtocolName(), c)
	}
	if e.reader == nil {
		return nil, notConfigured(e.ProtocolName(), c, "no Starknet RPC client")
	}

	selector := datasource.Selector("total_assets")
	total := new(big.Int)
	var read int
	var lastErr error
	for _, v := range endurVaults {
		felts, err := e.reader.Call(ctx, v, selector)
		if err == nil {
			var assets *big.Int
			if assets, err = datasource.U256(felts); err == nil {
				total.Add(total, assets)
				read++
				continue
			}
		}
		e.logger.Warn("vault total_assets failed", "protocol", e.ProtocolName(), "vault", v, "error", err)
		lastErr = err
	}
	if read == 0 {
		return nil, lastErr
	}

	info, _ := c.Lookup()
	m := measurement(e.ProtocolName(), c, decimals.ScaleToCanonical(total, info.TokenDecimals), e.now(), extractor.Provenance{
		Source:    extractor.SourceRPC,
		Endpoints: []string{e.reader.Endpoint()},
		PoolCount: intPtr(read),
	})
	m.BlockHeight = blockHeight(ctx, e.logger, e.ProtocolName(), c, e.reader.BlockNumber)
	return m, nil
}
