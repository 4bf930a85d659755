// Package extractor defines the per-protocol extraction capability and the
// registry the orchestrator resolves worklist entries against.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
)

// ErrUnsupportedChain is returned when an extractor is invoked for a chain it
// does not declare. It indicates a registry/worklist mismatch and is never retried.
var ErrUnsupportedChain = errors.New("unsupported chain")

// ErrNotConfigured is returned when an extractor lacks a required endpoint or
// credential. Retrying cannot fix it.
var ErrNotConfigured = errors.New("extractor not configured")

// SourceKind is the class of data source a measurement came from.
type SourceKind string

const (
	SourceRPC      SourceKind = "rpc"
	SourceSubgraph SourceKind = "subgraph"
	SourceAPI      SourceKind = "api"
)

// Provenance records where a number came from.
type Provenance struct {
	Source    SourceKind `json:"source"`
	Endpoints []string   `json:"endpoints,omitempty"`
	// PoolCount is the number of addresses or sub-queries consolidated into
	// the measurement, when more than one was read.
	PoolCount *int `json:"poolCount,omitempty"`
}

// Measurement is one protocol's TVL on one chain at one point in time.
// Amount is in canonical units (18 implied decimals) and is never negative.
type Measurement struct {
	Protocol    string      `json:"protocol"`
	Chain       chain.Chain `json:"chain"`
	Amount      *big.Int    `json:"amount"`
	AmountUSD   *big.Int    `json:"amountUsd,omitempty"`
	ObservedAt  time.Time   `json:"observedAt"`
	BlockHeight *uint64     `json:"blockHeight,omitempty"`
	Provenance  Provenance  `json:"provenance"`
}

// Extractor retrieves a protocol's TVL for a chain.
//
// Implementations must be safe for concurrent Extract calls on different
// chains and must return ErrUnsupportedChain when CanExtract(c) is false.
type Extractor interface {
	ProtocolName() string
	SupportedChains() []chain.Chain
	CanExtract(c chain.Chain) bool
	Extract(ctx context.Context, c chain.Chain) (*Measurement, error)
}

// Chains implements SupportedChains and CanExtract for embedding.
type Chains []chain.Chain

func (cs Chains) SupportedChains() []chain.Chain { return slices.Clone(cs) }

func (cs Chains) CanExtract(c chain.Chain) bool { return slices.Contains(cs, c) }

// Unsupported builds the error returned for an undeclared chain.
func Unsupported(protocol string, c chain.Chain) error {
	return fmt.Errorf("%s on %s: %w", protocol, c, ErrUnsupportedChain)
}
