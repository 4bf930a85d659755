// Package chain enumerates the networks the extractor knows about and the
// tracked token's deployment on each of them.
package chain

import (
	"fmt"
	"strings"
)

// Chain identifies a network. Values are lower-case and stable; they are used
// as map keys in reports and as labels in metrics.
type Chain string

const (
	Ethereum Chain = "ethereum"
	Arbitrum Chain = "arbitrum"
	Base     Chain = "base"
	Optimism Chain = "optimism"
	Starknet Chain = "starknet"
	Sui      Chain = "sui"
)

// All lists every known chain in display order.
var All = []Chain{Ethereum, Arbitrum, Base, Optimism, Starknet, Sui}

// Info is static metadata about a chain and the tBTC deployment on it.
type Info struct {
	DisplayName string
	EVM         bool
	ChainID     int64
	// Token is the tBTC contract address, or the Move coin type on Sui.
	Token         string
	TokenDecimals int
}

var infos = map[Chain]Info{
	Ethereum: {DisplayName: "Ethereum", EVM: true, ChainID: 1, Token: "0x18084fbA666a33d37592fA2633fD49a74DD93a88", TokenDecimals: 18},
	Arbitrum: {DisplayName: "Arbitrum", EVM: true, ChainID: 42161, Token: "0x6c84a8f1c29108F47a79964b5Fe888D4f4D0dE40", TokenDecimals: 18},
	Base:     {DisplayName: "Base", EVM: true, ChainID: 8453, Token: "0x236aa50979D5f3De3Bd1Eeb40E81137F22ab794b", TokenDecimals: 18},
	Optimism: {DisplayName: "Optimism", EVM: true, ChainID: 10, Token: "0x6c84a8f1c29108F47a79964b5Fe888D4f4D0dE40", TokenDecimals: 18},
	Starknet: {DisplayName: "Starknet", Token: "0x04daa17763b286d1e59b97c283c0b8c949994c361e426a28f743c67bdfe9a32f", TokenDecimals: 18},
	Sui:      {DisplayName: "Sui", Token: "0x77045f1b9f811a7a8fb9ebd085b5b0c55c5cb0d1520ff55f7037f89b5da9f5f1::TBTC::TBTC", TokenDecimals: 8},
}

// Parse resolves a chain name case-insensitively ("Ethereum", "ETHEREUM" and
// "ethereum" are equivalent).
func Parse(name string) (Chain, error) {
	c := Chain(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := infos[c]; !ok {
		return "", fmt.Errorf("unknown chain %q", name)
	}
	return c, nil
}

// Lookup returns the metadata for c.
func (c Chain) Lookup() (Info, bool) {
	info, ok := infos[c]
	return info, ok
}

func (c Chain) IsEVM() bool { return infos[c].EVM }

// Token returns the tBTC address (or coin type) on c.
func (c Chain) Token() string { return infos[c].Token }

func (c Chain) String() string {
	if info, ok := infos[c]; ok {
		return info.DisplayName
	}
	return string(c)
}
