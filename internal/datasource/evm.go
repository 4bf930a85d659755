package datasource

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ContractReader performs read-only contract calls against one EVM chain.
type ContractReader interface {
	// Call packs method with args using contractABI, executes eth_call at the
	// latest block and returns the unpacked outputs.
	Call(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Endpoint() string
}

// EVM is a ContractReader backed by go-ethereum's ethclient.
type EVM struct {
	client      *ethclient.Client
	endpoint    string
	callTimeout time.Duration
}

// DialEVM creates a client for the JSON-RPC endpoint at url. No request is
// made until the first call. Each call is bounded by callTimeout; zero
// leaves only the caller's deadline.
func DialEVM(url string, httpClient *http.Client, callTimeout time.Duration) (*EVM, error) {
	c, err := rpc.DialHTTPWithClient(url, httpClient)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &EVM{client: ethclient.NewClient(c), endpoint: url, callTimeout: callTimeout}, nil
}

func (e *EVM) Endpoint() string { return e.endpoint }

func (e *EVM) Close() { e.client.Close() }

func (e *EVM) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := callContext(ctx, e.callTimeout)
	defer cancel()
	return e.client.BlockNumber(ctx)
}

func (e *EVM) Call(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	ctx, cancel := callContext(ctx, e.callTimeout)
	defer cancel()
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, contract.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s on %s: empty return data", method, contract.Hex())
	}
	vals, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

// Common ABIs.
var (
	ERC20ABI = mustABI(`[
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
	]`)
	ERC4626ABI = mustABI(`[
		{"type":"function","name":"totalAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"asset","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`)
)

// MustABI parses a JSON ABI definition, panicking on malformed input.
func MustABI(def string) abi.ABI { return mustABI(def) }

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// BalanceOf reads an ERC-20 balance in the token's smallest unit.
func BalanceOf(ctx context.Context, r ContractReader, token, holder common.Address) (*big.Int, error) {
	return CallUint(ctx, r, token, ERC20ABI, "balanceOf", holder)
}

// TotalSupply reads an ERC-20 total supply.
func TotalSupply(ctx context.Context, r ContractReader, token common.Address) (*big.Int, error) {
	return CallUint(ctx, r, token, ERC20ABI, "totalSupply")
}

// TotalAssets reads an ERC-4626 vault's managed assets.
func TotalAssets(ctx context.Context, r ContractReader, vault common.Address) (*big.Int, error) {
	return CallUint(ctx, r, vault, ERC4626ABI, "totalAssets")
}

// CallUint calls a method whose first output is a uint256.
func CallUint(ctx context.Context, r ContractReader, contract common.Address, contractABI abi.ABI, method string, args ...any) (*big.Int, error) {
	vals, err := r.Call(ctx, contract, contractABI, method, args...)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: no outputs", method)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: output is %T, want *big.Int", method, vals[0])
	}
	return v, nil
}

// CallAddress calls a method whose first output is an address.
func CallAddress(ctx context.Context, r ContractReader, contract common.Address, contractABI abi.ABI, method string, args ...any) (common.Address, error) {
	vals, err := r.Call(ctx, contract, contractABI, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	if len(vals) == 0 {
		return common.Address{}, fmt.Errorf("%s: no outputs", method)
	}
	a, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: output is %T, want address", method, vals[0])
	}
	return a, nil
}
