package datasource

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// StarknetReader performs read-only calls against Starknet.
type StarknetReader interface {
	// Call invokes the entry point with the given selector and returns the raw felts.
	Call(ctx context.Context, contract, selector string, calldata ...string) ([]string, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Endpoint() string
}

// Starknet speaks the Starknet JSON-RPC API through go-ethereum's generic
// JSON-RPC 2.0 client.
type Starknet struct {
	rpc         *rpc.Client
	endpoint    string
	callTimeout time.Duration
}

func DialStarknet(url string, httpClient *http.Client, callTimeout time.Duration) (*Starknet, error) {
	c, err := rpc.DialHTTPWithClient(url, httpClient)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Starknet{rpc: c, endpoint: url, callTimeout: callTimeout}, nil
}

func (s *Starknet) Endpoint() string { return s.endpoint }

func (s *Starknet) Close() { s.rpc.Close() }

func (s *Starknet) Call(ctx context.Context, contract, selector string, calldata ...string) ([]string, error) {
	if calldata == nil {
		calldata = []string{}
	}
	req := map[string]any{
		"contract_address":     contract,
		"entry_point_selector": selector,
		"calldata":             calldata,
	}
	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()
	var out []string
	if err := s.rpc.CallContext(ctx, &out, "starknet_call", req, "latest"); err != nil {
		return nil, fmt.Errorf("starknet_call %s: %w", contract, err)
	}
	return out, nil
}

func (s *Starknet) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()
	var n uint64
	if err := s.rpc.CallContext(ctx, &n, "starknet_blockNumber"); err != nil {
		return 0, fmt.Errorf("starknet_blockNumber: %w", err)
	}
	return n, nil
}

var selectorMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

// Selector returns the Starknet entry point selector for name: the Keccak-256
// of the name truncated to 250 bits.
func Selector(name string) string {
	h := new(big.Int).SetBytes(crypto.Keccak256([]byte(name)))
	return "0x" + h.And(h, selectorMask).Text(16)
}

// ParseFelt decodes a hex-encoded field element.
func ParseFelt(s string) (*big.Int, error) {
	hex := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if hex == "" {
		return nil, fmt.Errorf("empty felt")
	}
	v, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		return nil, fmt.Errorf("invalid felt %q", s)
	}
	return v, nil
}

// U256 combines a Cairo u256 returned as (low, high) felts. A missing high
// word is treated as zero.
func U256(felts []string) (*big.Int, error) {
	if len(felts) == 0 {
		return nil, fmt.Errorf("u256: no felts returned")
	}
	low, err := ParseFelt(felts[0])
	if err != nil {
		return nil, fmt.Errorf("u256 low: %w", err)
	}
	if len(felts) < 2 {
		return low, nil
	}
	high, err := ParseFelt(felts[1])
	if err != nil {
		return nil, fmt.Errorf("u256 high: %w", err)
	}
	return low.Add(low, high.Lsh(high, 128)), nil
}

// StarknetBalanceOf reads an ERC-20 balance on Starknet.
func StarknetBalanceOf(ctx context.Context, r StarknetReader, token, holder string) (*big.Int, error) {
	felts, err := r.Call(ctx, token, Selector("balanceOf"), holder)
	if err != nil {
		return nil, err
	}
	return U256(felts)
}
