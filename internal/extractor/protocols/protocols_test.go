package protocols

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/tvl-extractor/internal/cache"
	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/config"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
	"github.com/web3-frozen/tvl-extractor/internal/retry"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps() Deps {
	return Deps{
		HTTP:   datasource.NewHTTP(5 * time.Second),
		Logger: quietLogger(),
		Now:    func() time.Time { return fixedNow },
	}
}

func tokens(n int64) *big.Int { return decimals.Units(n) }

// ── fakes ───────────────────────────────────────────────────────────────

type fakeEVM struct {
	balances map[common.Address]*big.Int
	assets   map[common.Address]*big.Int
	block    uint64
}

func (f *fakeEVM) Endpoint() string { return "http://evm.test" }

func (f *fakeEVM) BlockNumber(context.Context) (uint64, error) {
	if f.block == 0 {
		return 0, errors.New("head unavailable")
	}
	return f.block, nil
}

func (f *fakeEVM) Call(_ context.Context, contract common.Address, _ abi.ABI, method string, args ...any) ([]any, error) {
	switch method {
	case "balanceOf":
		if b, ok := f.balances[args[0].(common.Address)]; ok {
			return []any{b}, nil
		}
	case "totalAssets":
		if a, ok := f.assets[contract]; ok {
			return []any{a}, nil
		}
	}
	return nil, errors.New("execution reverted")
}

type fakeStarknet struct {
	// balances keyed by lower-case holder address.
	balances map[string]*big.Int
	assets   map[string]*big.Int
}

func (f *fakeStarknet) Endpoint() string { return "http://starknet.test" }

func (f *fakeStarknet) BlockNumber(context.Context) (uint64, error) { return 1_500_000, nil }

func u256Felts(v *big.Int) []string {
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	low := new(big.Int).And(v, mask)
	high := new(big.Int).Rsh(v, 128)
	return []string{"0x" + low.Text(16), "0x" + high.Text(16)}
}

func (f *fakeStarknet) Call(_ context.Context, contract, selector string, calldata ...string) ([]string, error) {
	switch selector {
	case datasource.Selector("balanceOf"):
		if b, ok := f.balances[strings.ToLower(calldata[0])]; ok {
			return u256Felts(b), nil
		}
	case datasource.Selector("total_assets"):
		if a, ok := f.assets[strings.ToLower(contract)]; ok {
			return u256Felts(a), nil
		}
	}
	return nil, errors.New("contract not found")
}

type fakeSui struct {
	objects map[string]datasource.SuiObject
	pages   []datasource.DynamicFieldPage
	calls   atomic.Int32
}

func (f *fakeSui) Endpoint() string { return "http://sui.test" }

func (f *fakeSui) LatestCheckpoint(context.Context) (uint64, error) { return 90_000_000, nil }

func (f *fakeSui) GetObject(_ context.Context, id string) (*datasource.SuiObject, error) {
	o, ok := f.objects[id]
	if !ok {
		return nil, errors.New("object not found")
	}
	return &o, nil
}

func (f *fakeSui) MultiGetObjects(_ context.Context, ids []string) ([]datasource.SuiObject, error) {
	out := make([]datasource.SuiObject, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.objects[id])
	}
	return out, nil
}

func (f *fakeSui) GetDynamicFields(_ context.Context, _ string, cursor *string, _ int) (*datasource.DynamicFieldPage, error) {
	f.calls.Add(1)
	i := 0
	if cursor != nil {
		for j, p := range f.pages {
			if p.NextCursor != nil && *p.NextCursor == *cursor {
				i = j + 1
			}
		}
	}
	return &f.pages[i], nil
}

func suiObject(t *testing.T, id, typ string, fields any) datasource.SuiObject {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"objectId": id,
			"type":     typ,
			"content":  map[string]any{"dataType": "moveObject", "type": typ, "fields": fields},
		},
	})
	require.NoError(t, err)
	var o datasource.SuiObject
	require.NoError(t, json.Unmarshal(raw, &o))
	return o
}

func graphServer(t *testing.T, data string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":` + data + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ── registry ────────────────────────────────────────────────────────────

func TestAll_FifteenUniqueProtocols(t *testing.T) {
	reg, err := Registry(testDeps(), retry.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 15, reg.Len())

	for _, name := range []string{"Aave V3", "Uniswap V3", "Curve", "Compound", "Spark Lend", "Aerodrome",
		"Velodrome", "Yield Basis", "Gearbox", "Vesu", "Endur", "Ekubo", "Bucket", "AlphaLend", "Ember"} {
		_, ok := reg.FindByProtocol(name)
		assert.True(t, ok, name)
	}
	assert.Len(t, reg.FindByChain(chain.Sui), 3)
	assert.Len(t, reg.FindByChain(chain.Starknet), 3)
}

func TestAll_UnsupportedChainFailsWithoutRetry(t *testing.T) {
	reg, err := Registry(testDeps(), retry.DefaultPolicy())
	require.NoError(t, err)
	e, _ := reg.FindByProtocol("spark lend")

	start := time.Now()
	_, err = e.Extract(context.Background(), chain.Sui)
	assert.ErrorIs(t, err, extractor.ErrUnsupportedChain)
	assert.Less(t, time.Since(start), time.Second)
}

// ── subgraph variants ───────────────────────────────────────────────────

func TestAave_NormalizesReserve(t *testing.T) {
	srv := graphServer(t, `{"reserves":[{"id":"r1","decimals":18,"totalLiquidity":"1250000000000000000000"}]}`)
	d := testDeps()
	d.SubgraphBase = srv.URL

	m, err := NewAave(d).Extract(context.Background(), chain.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, tokens(1250), m.Amount)
	assert.Equal(t, extractor.SourceSubgraph, m.Provenance.Source)
	assert.Equal(t, fixedNow, m.ObservedAt)
	assert.Nil(t, m.BlockHeight)
}

func TestAave_NoReserveIsZero(t *testing.T) {
	srv := graphServer(t, `{"reserves":[]}`)
	d := testDeps()
	d.SubgraphBase = srv.URL

	m, err := NewAave(d).Extract(context.Background(), chain.Base)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Amount.Sign())
}

func TestAave_WithoutKeyIsNotConfigured(t *testing.T) {
	_, err := NewAave(testDeps()).Extract(context.Background(), chain.Ethereum)
	assert.ErrorIs(t, err, extractor.ErrNotConfigured)
}

func TestAave_UnsupportedChain(t *testing.T) {
	_, err := NewAave(testDeps()).Extract(context.Background(), chain.Optimism)
	assert.ErrorIs(t, err, extractor.ErrUnsupportedChain)
}

func TestUniswap_SumsTokenSide(t *testing.T) {
	token := strings.ToLower(chain.Arbitrum.Token())
	srv := graphServer(t, `{"pools":[
		{"id":"p1","token0":{"id":"`+token+`","decimals":"18"},"token1":{"id":"0xweth","decimals":"18"},
		 "totalValueLockedToken0":"10.5","totalValueLockedToken1":"900"},
		{"id":"p2","token0":{"id":"0xwbtc","decimals":"8"},"token1":{"id":"`+token+`","decimals":"18"},
		 "totalValueLockedToken0":"4","totalValueLockedToken1":"2.25"}
	]}`)
	d := testDeps()
	d.SubgraphBase = srv.URL

	m, err := NewUniswap(d).Extract(context.Background(), chain.Arbitrum)
	require.NoError(t, err)
	assert.Equal(t, decimals.MustNormalize("12.75", 18), m.Amount)
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, 2, *m.Provenance.PoolCount)
}

func TestUniswap_MalformedAmount(t *testing.T) {
	token := strings.ToLower(chain.Ethereum.Token())
	srv := graphServer(t, `{"pools":[{"id":"p1","token0":{"id":"`+token+`","decimals":"18"},"token1":{"id":"x","decimals":"18"},
		"totalValueLockedToken0":"abc","totalValueLockedToken1":"0"}]}`)
	d := testDeps()
	d.SubgraphBase = srv.URL

	_, err := NewUniswap(d).Extract(context.Background(), chain.Ethereum)
	assert.ErrorIs(t, err, decimals.ErrMalformedAmount)
}

func TestSpark_NormalizesInputTokenBalance(t *testing.T) {
	tests := []struct {
		name     string
		decimals int
		balance  string
		want     *big.Int
	}{
		{"18 decimals", 18, "321500000000000000000", decimals.MustNormalize("321.5", 18)},
		{"8 decimals", 8, "150000000", decimals.MustNormalize("1.5", 18)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := graphServer(t, `{"markets":[{"id":"m1","name":"Spark tBTC",
				"inputToken":{"id":"x","symbol":"tBTC","decimals":`+strconv.Itoa(tt.decimals)+`},
				"inputTokenBalance":"`+tt.balance+`"}]}`)
			d := testDeps()
			d.SubgraphBase = srv.URL

			m, err := NewSpark(d).Extract(context.Background(), chain.Ethereum)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Amount)
			assert.Equal(t, extractor.SourceSubgraph, m.Provenance.Source)
		})
	}
}

func TestSpark_NoMarketIsZero(t *testing.T) {
	srv := graphServer(t, `{"markets":[]}`)
	d := testDeps()
	d.SubgraphBase = srv.URL

	m, err := NewSpark(d).Extract(context.Background(), chain.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Amount.Sign())
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// compoundServer answers the collateral token query with ids and each
// balance query from balances, keyed by the requested entity id.
func compoundServer(t *testing.T, ids []string, balances map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var balanceQueries atomic.Int32
	token := strings.ToLower(chain.Ethereum.Token())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(req.Query, "collateralTokens") {
			entries := make([]string, len(ids))
			for i, id := range ids {
				entries[i] = `{"id":"` + id + `","token":{"address":"` + token + `","symbol":"tBTC","decimals":18}}`
			}
			_, _ = w.Write([]byte(`{"data":{"collateralTokens":[` + strings.Join(entries, ",") + `]}}`))
			return
		}
		balanceQueries.Add(1)
		id, _ := req.Variables["id"].(string)
		bal, ok := balances[id]
		if !ok {
			http.Error(w, "indexer unavailable", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"marketCollateralBalance":{"id":"` + id + `","balance":"` + bal + `"}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &balanceQueries
}

func TestCompound_SumsCollateralBalances(t *testing.T) {
	srv, queries := compoundServer(t, []string{"0xc3a", "0xc3b"}, map[string]string{
		"0xc3a42414c": "4000000000000000000",
		"0xc3b42414c": "0.25",
	})
	d := testDeps()
	d.SubgraphBase = srv.URL

	m, err := NewCompound(d).Extract(context.Background(), chain.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, decimals.MustNormalize("4.25", 18), m.Amount)
	assert.Equal(t, int32(2), queries.Load())
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, 2, *m.Provenance.PoolCount)
}

func TestCompound_SkipsUnreadableBalance(t *testing.T) {
	srv, _ := compoundServer(t, []string{"0xc3a", "0xc3b"}, map[string]string{
		"0xc3b42414c": "1.5",
	})
	d := testDeps()
	d.SubgraphBase = srv.URL

	m, err := NewCompound(d).Extract(context.Background(), chain.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, decimals.MustNormalize("1.5", 18), m.Amount)
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, 1, *m.Provenance.PoolCount)
}

func TestCompound_AllBalancesFail(t *testing.T) {
	srv, _ := compoundServer(t, []string{"0xc3a", "0xc3b"}, nil)
	d := testDeps()
	d.SubgraphBase = srv.URL

	_, err := NewCompound(d).Extract(context.Background(), chain.Ethereum)
	var se *datasource.StatusError
	assert.ErrorAs(t, err, &se)
}

func TestAerodrome_ScalesAtEighteenDecimals(t *testing.T) {
	token := strings.ToLower(chain.Base.Token())
	// The subgraph reports 8 decimals for tBTC on Base, but amounts are read at 18.
	srv := graphServer(t, `{"pools":[
		{"id":"p1","token0":{"id":"`+token+`","decimals":"8"},"token1":{"id":"0xweth","decimals":"18"},
		 "totalValueLockedToken0":"2500000000000000000","totalValueLockedToken1":"900"},
		{"id":"p2","token0":{"id":"0xusdc","decimals":"6"},"token1":{"id":"`+token+`","decimals":"8"},
		 "totalValueLockedToken0":"100","totalValueLockedToken1":"0.75"},
		{"id":"p3","token0":{"id":"0xusdc","decimals":"6"},"token1":{"id":"0xweth","decimals":"18"},
		 "totalValueLockedToken0":"5","totalValueLockedToken1":"5"}
	]}`)
	d := testDeps()
	d.SubgraphBase = srv.URL

	m, err := NewAerodrome(d).Extract(context.Background(), chain.Base)
	require.NoError(t, err)
	assert.Equal(t, decimals.MustNormalize("3.25", 18), m.Amount)
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, 2, *m.Provenance.PoolCount)
}

// ── rpc variants ────────────────────────────────────────────────────────

func TestGearbox_SumsPools(t *testing.T) {
	pools := gearboxPools[chain.Ethereum]
	d := testDeps()
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Ethereum: &fakeEVM{
		assets: map[common.Address]*big.Int{
			common.HexToAddress(pools[0]): tokens(40),
			common.HexToAddress(pools[1]): tokens(2),
		},
		block: 21_000_000,
	}}

	m, err := NewGearbox(d).Extract(context.Background(), chain.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, tokens(42), m.Amount)
	require.NotNil(t, m.BlockHeight)
	assert.Equal(t, uint64(21_000_000), *m.BlockHeight)
}

func TestGearbox_AllPoolsFail(t *testing.T) {
	d := testDeps()
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Ethereum: &fakeEVM{}}

	_, err := NewGearbox(d).Extract(context.Background(), chain.Ethereum)
	assert.Error(t, err)
}

func TestGearbox_MissingRPC(t *testing.T) {
	_, err := NewGearbox(testDeps()).Extract(context.Background(), chain.Ethereum)
	assert.ErrorIs(t, err, extractor.ErrNotConfigured)
}

func TestCurve_DiscoveredPools(t *testing.T) {
	pool := "0x1111111111111111111111111111111111111111"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getPools/base/main" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"poolData":[
			{"id":"a","address":"` + pool + `","coinsAddresses":["0x` + strings.ToUpper(chain.Base.Token()[2:]) + `"]},
			{"id":"b","address":"` + pool + `","coinsAddresses":["` + chain.Base.Token() + `"]}
		]}}`))
	}))
	defer srv.Close()

	d := testDeps()
	d.CurveAPI = srv.URL
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Base: &fakeEVM{
		balances: map[common.Address]*big.Int{common.HexToAddress(pool): tokens(7)},
		block:    30_000_000,
	}}

	m, err := NewCurve(d).Extract(context.Background(), chain.Base)
	require.NoError(t, err)
	assert.Equal(t, tokens(7), m.Amount)
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, 1, *m.Provenance.PoolCount)
	assert.NotNil(t, m.BlockHeight)
}

func TestCurve_BlockHeightFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	static := curveStaticPools[chain.Base][0]
	d := testDeps()
	d.CurveAPI = srv.URL
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Base: &fakeEVM{
		balances: map[common.Address]*big.Int{common.HexToAddress(static): tokens(3)},
	}}

	m, err := NewCurve(d).Extract(context.Background(), chain.Base)
	require.NoError(t, err)
	assert.Equal(t, tokens(3), m.Amount)
	assert.Nil(t, m.BlockHeight)
}

func TestGearbox_PoolCountExcludesFailedReads(t *testing.T) {
	pools := gearboxPools[chain.Ethereum]
	d := testDeps()
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Ethereum: &fakeEVM{
		assets: map[common.Address]*big.Int{common.HexToAddress(pools[0]): tokens(40)},
	}}

	m, err := NewGearbox(d).Extract(context.Background(), chain.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, tokens(40), m.Amount)
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, 1, *m.Provenance.PoolCount)
}

// slowEVM delays every call, like a congested RPC node.
type slowEVM struct {
	*fakeEVM
	delay time.Duration
}

func (s *slowEVM) Call(ctx context.Context, contract common.Address, a abi.ABI, method string, args ...any) ([]any, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.fakeEVM.Call(ctx, contract, a, method, args...)
}

func TestCurve_SlowReadsAreNotCutShortByCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	static := curveStaticPools[chain.Ethereum]
	balances := make(map[common.Address]*big.Int, len(static))
	for i, p := range static {
		balances[common.HexToAddress(p)] = tokens(int64(i + 1))
	}
	d := testDeps()
	d.CurveAPI = srv.URL
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Ethereum: &slowEVM{
		fakeEVM: &fakeEVM{balances: balances, block: 21_000_000},
		delay:   30 * time.Millisecond,
	}}

	// Each read fits the per-call timeout; together they exceed it.
	cfg := config.Config{Timeout: 50 * time.Millisecond, Retries: 1}
	e := extractor.WithRetry(NewCurve(d), cfg.RetryPolicy(), quietLogger())

	m, err := e.Extract(context.Background(), chain.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, tokens(6), m.Amount)
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, len(static), *m.Provenance.PoolCount)
}

func TestVelodrome_DiscoversPoolsByDex(t *testing.T) {
	discovered := []string{
		"0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333",
	}
	foreign := "0x4444444444444444444444444444444444444444"
	wantPath := "/networks/optimism/tokens/" + strings.ToLower(chain.Optimism.Token()) + "/pools"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":[
			{"attributes":{"address":"` + discovered[0] + `"},"relationships":{"dex":{"data":{"id":"velodrome-finance-v2"}}}},
			{"attributes":{"address":"` + discovered[1] + `"},"relationships":{"dex":{"data":{"id":"velodrome-finance-slipstream"}}}},
			{"attributes":{"address":"` + foreign + `"},"relationships":{"dex":{"data":{"id":"uniswap-v3-optimism"}}}}
		]}`))
	}))
	defer srv.Close()

	d := testDeps()
	d.GeckoTerminalAPI = srv.URL
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Optimism: &fakeEVM{
		balances: map[common.Address]*big.Int{
			common.HexToAddress(discovered[0]): tokens(2),
			common.HexToAddress(discovered[1]): tokens(3),
			common.HexToAddress(foreign):       tokens(100),
		},
		block: 130_000_000,
	}}

	m, err := NewVelodrome(d).Extract(context.Background(), chain.Optimism)
	require.NoError(t, err)
	assert.Equal(t, tokens(5), m.Amount)
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, 2, *m.Provenance.PoolCount)
	require.NotNil(t, m.BlockHeight)
	assert.Equal(t, uint64(130_000_000), *m.BlockHeight)
}

func TestVelodrome_FallsBackToStaticPools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	static := velodromeStaticPools[chain.Optimism]
	d := testDeps()
	d.GeckoTerminalAPI = srv.URL
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Optimism: &fakeEVM{
		balances: map[common.Address]*big.Int{
			common.HexToAddress(static[0]): tokens(1),
			common.HexToAddress(static[2]): tokens(4),
		},
	}}

	m, err := NewVelodrome(d).Extract(context.Background(), chain.Optimism)
	require.NoError(t, err)
	assert.Equal(t, tokens(5), m.Amount)
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, 2, *m.Provenance.PoolCount)
}

type yieldBasisMarket struct {
	asset, pool, amm common.Address
	ammLP, supply    *big.Int
	poolTBTC         *big.Int
	coinIndex        int64
	broken           bool
}

// fakeYieldBasis serves the factory, cryptopool and LP token calls of a set
// of Yield Basis markets.
type fakeYieldBasis struct {
	token   common.Address
	markets []yieldBasisMarket
}

func (f *fakeYieldBasis) Endpoint() string { return "http://evm.test" }

func (f *fakeYieldBasis) BlockNumber(context.Context) (uint64, error) { return 21_000_000, nil }

func (f *fakeYieldBasis) byPool(pool common.Address) (yieldBasisMarket, bool) {
	for _, m := range f.markets {
		if m.pool == pool {
			return m, true
		}
	}
	return yieldBasisMarket{}, false
}

func (f *fakeYieldBasis) Call(_ context.Context, contract common.Address, _ abi.ABI, method string, args ...any) ([]any, error) {
	reverted := errors.New("execution reverted")
	if method == "market_count" {
		return []any{big.NewInt(int64(len(f.markets)))}, nil
	}
	if method == "markets" {
		m := f.markets[args[0].(*big.Int).Int64()]
		if m.broken {
			return nil, reverted
		}
		return []any{m.asset, m.pool, m.amm, common.Address{}, big.NewInt(0), big.NewInt(0)}, nil
	}

	m, ok := f.byPool(contract)
	if !ok {
		return nil, reverted
	}
	switch method {
	case "balanceOf":
		if args[0].(common.Address) == m.amm {
			return []any{m.ammLP}, nil
		}
		return []any{new(big.Int)}, nil
	case "totalSupply":
		return []any{m.supply}, nil
	case "coins":
		i := args[0].(*big.Int).Int64()
		switch {
		case i == m.coinIndex:
			return []any{f.token}, nil
		case i < maxPoolCoins:
			return []any{common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")}, nil
		}
	case "balances":
		if args[0].(*big.Int).Int64() == m.coinIndex {
			return []any{m.poolTBTC}, nil
		}
		return []any{tokens(999)}, nil
	}
	return nil, reverted
}

func TestYieldBasis_AttributesAMMShareOfPool(t *testing.T) {
	token := common.HexToAddress(chain.Ethereum.Token())
	wbtc := common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
	d := testDeps()
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Ethereum: &fakeYieldBasis{
		token: token,
		markets: []yieldBasisMarket{
			// 50 of 200 LP tokens over 80 tBTC: 20 tBTC.
			{asset: token, pool: common.HexToAddress("0xa1"), amm: common.HexToAddress("0xb1"),
				ammLP: tokens(50), supply: tokens(200), poolTBTC: tokens(80), coinIndex: 1},
			{asset: wbtc, pool: common.HexToAddress("0xa2"), amm: common.HexToAddress("0xb2"),
				ammLP: tokens(1), supply: tokens(1), poolTBTC: tokens(500), coinIndex: 1},
			// 1 of 4 LP tokens over 10 tBTC: 2.5 tBTC.
			{asset: token, pool: common.HexToAddress("0xa3"), amm: common.HexToAddress("0xb3"),
				ammLP: tokens(1), supply: tokens(4), poolTBTC: tokens(10), coinIndex: 0},
		},
	}}

	m, err := NewYieldBasis(d).Extract(context.Background(), chain.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, decimals.MustNormalize("22.5", 18), m.Amount)
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, 2, *m.Provenance.PoolCount)
	require.NotNil(t, m.BlockHeight)
}

func TestYieldBasis_SkipsUnreadableMarket(t *testing.T) {
	token := common.HexToAddress(chain.Ethereum.Token())
	d := testDeps()
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Ethereum: &fakeYieldBasis{
		token: token,
		markets: []yieldBasisMarket{
			{broken: true},
			{asset: token, pool: common.HexToAddress("0xa1"), amm: common.HexToAddress("0xb1"),
				ammLP: tokens(1), supply: tokens(2), poolTBTC: tokens(8), coinIndex: 0},
		},
	}}

	m, err := NewYieldBasis(d).Extract(context.Background(), chain.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, tokens(4), m.Amount)
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, 1, *m.Provenance.PoolCount)
}

func TestYieldBasis_AllMarketsFail(t *testing.T) {
	d := testDeps()
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Ethereum: &fakeYieldBasis{
		token:   common.HexToAddress(chain.Ethereum.Token()),
		markets: []yieldBasisMarket{{broken: true}, {broken: true}},
	}}

	_, err := NewYieldBasis(d).Extract(context.Background(), chain.Ethereum)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 market reads failed")
}

func TestYieldBasis_NoMarketsIsZero(t *testing.T) {
	d := testDeps()
	d.EVM = map[chain.Chain]datasource.ContractReader{chain.Ethereum: &fakeYieldBasis{
		token: common.HexToAddress(chain.Ethereum.Token()),
	}}

	m, err := NewYieldBasis(d).Extract(context.Background(), chain.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Amount.Sign())
}

func TestDiscovery_FallsBackToCacheThenStatic(t *testing.T) {
	d := testDeps().withDefaults()
	d.Cache = cache.NewMemory()
	disc := newAddressDiscovery(d, "Test Proto")
	ctx := context.Background()

	got, origin := disc.resolve(ctx, chain.Base, func(context.Context) ([]string, error) {
		return []string{"0xAA", "0xaa", "0xBB"}, nil
	}, []string{"0xCC"})
	assert.Equal(t, "discovered", origin)
	assert.Equal(t, []string{"0xAA", "0xBB"}, got)

	failing := func(context.Context) ([]string, error) { return nil, errors.New("indexer down") }
	got, origin = disc.resolve(ctx, chain.Base, failing, []string{"0xCC"})
	assert.Equal(t, "cached", origin)
	assert.Equal(t, []string{"0xAA", "0xBB"}, got)

	got, origin = disc.resolve(ctx, chain.Optimism, failing, []string{"0xCC", "0xcc"})
	assert.Equal(t, "static", origin)
	assert.Equal(t, []string{"0xCC"}, got)
}

// ── starknet variants ───────────────────────────────────────────────────

func TestVesu_SkipsUnreadablePools(t *testing.T) {
	d := testDeps()
	d.Starknet = &fakeStarknet{balances: map[string]*big.Int{
		strings.ToLower(vesuSingleton): tokens(5),
		vesuV2Pools[0]:                 tokens(1),
	}}

	m, err := NewVesu(d).Extract(context.Background(), chain.Starknet)
	require.NoError(t, err)
	assert.Equal(t, tokens(6), m.Amount)
	require.NotNil(t, m.BlockHeight)
	assert.Equal(t, uint64(1_500_000), *m.BlockHeight)
}

func TestVesu_SingletonFailureFails(t *testing.T) {
	d := testDeps()
	d.Starknet = &fakeStarknet{balances: map[string]*big.Int{vesuV2Pools[0]: tokens(1)}}

	_, err := NewVesu(d).Extract(context.Background(), chain.Starknet)
	assert.Error(t, err)
}

func TestEkubo_LargeBalance(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(3), 130)
	d := testDeps()
	d.Starknet = &fakeStarknet{balances: map[string]*big.Int{strings.ToLower(ekuboCore): huge}}

	m, err := NewEkubo(d).Extract(context.Background(), chain.Starknet)
	require.NoError(t, err)
	assert.Equal(t, huge, m.Amount)
}

func TestEndur_TotalAssets(t *testing.T) {
	d := testDeps()
	d.Starknet = &fakeStarknet{assets: map[string]*big.Int{endurVaults[0]: tokens(19)}}

	m, err := NewEndur(d).Extract(context.Background(), chain.Starknet)
	require.NoError(t, err)
	assert.Equal(t, tokens(19), m.Amount)
}

func TestStarknet_NotConfigured(t *testing.T) {
	for _, e := range []extractor.Extractor{NewVesu(testDeps()), NewEkubo(testDeps()), NewEndur(testDeps())} {
		_, err := e.Extract(context.Background(), chain.Starknet)
		assert.ErrorIs(t, err, extractor.ErrNotConfigured, e.ProtocolName())
	}
}

// ── sui variants ────────────────────────────────────────────────────────

func bucketObject(t *testing.T, vault, snapshot string) datasource.SuiObject {
	return suiObject(t, bucketTBTCObject, "0x1::bucket::Bucket", map[string]any{
		"collateral_vault": vault,
		"bottle_table": map[string]any{
			"fields": map[string]any{"total_collateral_snapshot": snapshot},
		},
	})
}

func TestBucket_TakesLargerCollateralReading(t *testing.T) {
	tests := []struct {
		name     string
		vault    string
		snapshot string
		want     *big.Int
	}{
		{"vault larger", "150000000", "100000000", decimals.MustNormalize("1.5", 18)},
		{"snapshot larger", "100000000", "250000000", decimals.MustNormalize("2.5", 18)},
		{"equal", "100000000", "100000000", tokens(1)},
		{"missing snapshot", "120000000", "", decimals.MustNormalize("1.2", 18)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDeps()
			d.Sui = &fakeSui{objects: map[string]datasource.SuiObject{
				bucketTBTCObject: bucketObject(t, tt.vault, tt.snapshot),
			}}
			m, err := NewBucket(d).Extract(context.Background(), chain.Sui)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Amount)
			require.NotNil(t, m.BlockHeight)
			assert.Equal(t, uint64(90_000_000), *m.BlockHeight)
		})
	}
}

func TestBucket_MalformedCollateral(t *testing.T) {
	d := testDeps()
	d.Sui = &fakeSui{objects: map[string]datasource.SuiObject{
		bucketTBTCObject: bucketObject(t, "-5", "0"),
	}}
	_, err := NewBucket(d).Extract(context.Background(), chain.Sui)
	assert.ErrorIs(t, err, decimals.ErrMalformedAmount)
}

func TestAlphaLend_PagesUntilMarketFound(t *testing.T) {
	next := "page-2"
	marketType := func(coin string) string { return "0xabc::market::Market<" + coin + ">" }
	field := func(id string) datasource.DynamicField {
		var f datasource.DynamicField
		f.ObjectID = id
		f.Name.Type = "0xabc::market::Market"
		return f
	}

	sui := &fakeSui{
		objects: map[string]datasource.SuiObject{
			"m1": suiObject(t, "m1", marketType("0x2::sui::SUI"), map[string]any{"balance_holding": "999"}),
			"m2": suiObject(t, "m2", marketType(chain.Sui.Token()), map[string]any{"balance_holding": "42000000"}),
		},
		pages: []datasource.DynamicFieldPage{
			{Data: []datasource.DynamicField{field("m1")}, NextCursor: &next, HasNextPage: true},
			{Data: []datasource.DynamicField{field("m2")}, HasNextPage: false},
		},
	}
	d := testDeps()
	d.Sui = sui

	m, err := NewAlphaLend(d).Extract(context.Background(), chain.Sui)
	require.NoError(t, err)
	assert.Equal(t, decimals.MustNormalize("0.42", 18), m.Amount)
	assert.Equal(t, int32(2), sui.calls.Load())
	require.NotNil(t, m.Provenance.PoolCount)
	assert.Equal(t, 2, *m.Provenance.PoolCount)
}

func TestAlphaLend_NoMarketIsZero(t *testing.T) {
	d := testDeps()
	d.Sui = &fakeSui{pages: []datasource.DynamicFieldPage{{}}}

	m, err := NewAlphaLend(d).Extract(context.Background(), chain.Sui)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Amount.Sign())
}

// ── api variants ────────────────────────────────────────────────────────

func TestEmber_FindsVault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vaults", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id":"0xother","depositCoin":{"address":"0x2::sui::SUI","decimals":9},"totalDeposits":"1000"},
			{"id":"` + emberTBTCVault + `","depositCoin":{"address":"x","decimals":8},"totalDeposits":"12.5"}
		]`))
	}))
	defer srv.Close()

	d := testDeps()
	d.EmberAPI = srv.URL
	m, err := NewEmber(d).Extract(context.Background(), chain.Sui)
	require.NoError(t, err)
	assert.Equal(t, decimals.MustNormalize("12.5", 18), m.Amount)
	assert.Equal(t, extractor.SourceAPI, m.Provenance.Source)
}

func TestEmber_MatchesByDepositCoin(t *testing.T) {
	vaults := []emberVault{{ID: "a"}, {ID: "b"}}
	vaults[1].DepositCoin.Address = chain.Sui.Token()
	got := findTBTCVault(vaults, chain.Sui.Token())
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)

	assert.Nil(t, findTBTCVault(vaults[:1], chain.Sui.Token()))
}

func TestEmber_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := testDeps()
	d.EmberAPI = srv.URL
	_, err := NewEmber(d).Extract(context.Background(), chain.Sui)
	var se *datasource.StatusError
	assert.ErrorAs(t, err, &se)
}
