package fund

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/defistate/lpfund-go/controller"
	"github.com/defistate/lpfund-go/fixedpoint"
	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/path"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/simulated"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/tickmath"
	"github.com/defistate/lpfund-go/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Fixture ---

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000a1") // invest token
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	tokenC = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	weth9  = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	reward = common.HexToAddress("0x00000000000000000000000000000000000000e5")

	fundAddr       = common.HexToAddress("0x0000000000000000000000000000000000f00d01")
	controllerAddr = common.HexToAddress("0x0000000000000000000000000000000000c0de01")
	governance     = common.HexToAddress("0x0000000000000000000000000000000000900001")
	manager        = common.HexToAddress("0x0000000000000000000000000000000000aa0001")
	alice          = common.HexToAddress("0x0000000000000000000000000000000000a11ce1")
	bob            = common.HexToAddress("0x0000000000000000000000000000000000b0b001")
	lp             = common.HexToAddress("0x00000000000000000000000000000000001b0001")
	trader         = common.HexToAddress("0x0000000000000000000000000000000000777701")
)

const feeMedium = 3000

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// milli returns n/1000 units of an 18-decimals token.
func milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	ctx     context.Context
	now     time.Time
	ledger  *token.Ledger
	venue   *simulated.Factory
	ctrl    *controller.Controller
	metrics *Metrics
	fund    *Fund
}

// newFixture builds a fund investing tokenA over a simulated venue with deep full-range
// A/B and B/C pools at price 1. The B route is configured, the C route is not.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	ledger := token.NewLedger()
	for _, tok := range []common.Address{tokenA, tokenB, tokenC} {
		for _, account := range []common.Address{lp, alice, bob, trader} {
			require.NoError(t, ledger.Mint(ctx, tok, account, e18(1_000_000_000)))
		}
	}

	venue := simulated.NewFactory(ledger)
	for _, pair := range [][2]common.Address{{tokenA, tokenB}, {tokenB, tokenC}} {
		pool, err := venue.CreatePool(pair[0], pair[1], feeMedium, new(big.Int).Set(fixedpoint.Q96))
		require.NoError(t, err)
		_, _, err = pool.Mint(ctx, lp, tickmath.MinUsableTick(60), tickmath.MaxUsableTick(60), e18(1_000_000))
		require.NoError(t, err)
	}
	router := simulated.NewRouter(venue, clock)

	ctrl, err := controller.New(&controller.Config{
		Address:     controllerAddr,
		Governance:  governance,
		WETH9:       weth9,
		RewardToken: reward,
		Factory:     venue,
		Router:      router,
		Tokens:      ledger,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)
	for _, tok := range []common.Address{tokenA, tokenB, tokenC} {
		require.NoError(t, ctrl.SetVerifiedToken(governance, tok, true))
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	f, err := New(&Config{
		Address:            fundAddr,
		Manager:            manager,
		InvestToken:        tokenA,
		Name:               "LP Fund Share",
		Symbol:             "LPF",
		Decimals:           18,
		ProtocolFeePercent: DefaultProtocolFeePercent,
		ManagerFeePercent:  DefaultManagerFeePercent,
		Controller:         ctrl,
		Factory:            venue,
		Router:             router,
		Quoter:             simulated.NewQuoter(venue),
		Tokens:             ledger,
		Metrics:            metrics,
		Logger:             discardLogger(),
		Clock:              clock,
	})
	require.NoError(t, err)

	for _, account := range []common.Address{alice, bob} {
		require.NoError(t, ledger.Approve(ctx, tokenA, account, fundAddr, token.MaxAllowance))
	}

	fx := &fixture{ctx: ctx, now: now, ledger: ledger, venue: venue, ctrl: ctrl, metrics: metrics, fund: f}
	require.NoError(t, f.SetPath(ctx, manager, tokenB, fx.route(t, []common.Address{tokenA, tokenB})))
	return fx
}

func (fx *fixture) deadline() time.Time {
	return fx.now.Add(time.Hour)
}

func (fx *fixture) route(t *testing.T, tokens []common.Address) []byte {
	t.Helper()
	fees := make([]uint32, len(tokens)-1)
	for i := range fees {
		fees[i] = feeMedium
	}
	p, err := path.Encode(tokens, fees)
	require.NoError(t, err)
	return p
}

func (fx *fixture) deposit(t *testing.T, from common.Address, amount *big.Int) *big.Int {
	t.Helper()
	shares, err := fx.fund.Deposit(fx.ctx, from, amount)
	require.NoError(t, err)
	return shares
}

func (fx *fixture) init(t *testing.T, tokenX, tokenY common.Address, tickLower, tickUpper int32, amount *big.Int) {
	t.Helper()
	require.NoError(t, fx.fund.Init(fx.ctx, manager, InitParams{
		TokenA:    tokenX,
		TokenB:    tokenY,
		Fee:       feeMedium,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Amount:    amount,
		Deadline:  fx.deadline(),
	}))
}

func (fx *fixture) pool(t *testing.T, tokenX, tokenY common.Address) *simulated.Pool {
	t.Helper()
	p, ok := fx.venue.Pool(tokenX, tokenY, feeMedium)
	require.True(t, ok)
	return p
}

func (fx *fixture) liquidity(t *testing.T, poolIndex, positionIndex int) *big.Int {
	t.Helper()
	info, err := fx.fund.Pools(poolIndex)
	require.NoError(t, err)
	pos, err := fx.fund.Positions(poolIndex, positionIndex)
	require.NoError(t, err)
	state, err := fx.pool(t, info.Token0, info.Token1).Position(fx.ctx, uniswapv3.PositionKey(fundAddr, pos.TickLower, pos.TickUpper))
	require.NoError(t, err)
	return state.Liquidity
}

// trade swaps amount of tokenIn through a venue pool from the trader's account.
func (fx *fixture) trade(t *testing.T, tokenIn, tokenOut common.Address, amount *big.Int) {
	t.Helper()
	_, err := fx.pool(t, tokenIn, tokenOut).Swap(fx.ctx, trader, trader, tokenIn, amount)
	require.NoError(t, err)
}

// assertApprox checks |got - want| <= want * tolerance.
func assertApprox(t *testing.T, want, got *big.Int, tolerance float64) {
	t.Helper()
	w, _ := new(big.Float).SetInt(want).Float64()
	g, _ := new(big.Float).SetInt(got).Float64()
	assert.InDelta(t, w, g, w*tolerance, "want ~%s, got %s", want, got)
}

// --- Tests ---

func TestNew_ValidatesConfig(t *testing.T) {
	fx := newFixture(t)
	base := Config{
		Address:     fundAddr,
		Manager:     manager,
		InvestToken: tokenA,
		Controller:  fx.ctrl,
		Factory:     fx.venue,
		Router:      simulated.NewRouter(fx.venue, nil),
		Quoter:      simulated.NewQuoter(fx.venue),
		Tokens:      fx.ledger,
		Metrics:     fx.metrics,
		Logger:      discardLogger(),
	}

	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing address", func(c *Config) { c.Address = common.Address{} }},
		{"missing manager", func(c *Config) { c.Manager = common.Address{} }},
		{"missing invest token", func(c *Config) { c.InvestToken = common.Address{} }},
		{"manager fee too high", func(c *Config) { c.ManagerFeePercent = MaxManagerFeePercent + 1 }},
		{"fees above 100", func(c *Config) { c.ProtocolFeePercent, c.ManagerFeePercent = 60, 45 }},
		{"missing controller", func(c *Config) { c.Controller = nil }},
		{"missing quoter", func(c *Config) { c.Quoter = nil }},
		{"missing metrics", func(c *Config) { c.Metrics = nil }},
		{"missing logger", func(c *Config) { c.Logger = nil }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			_, err := New(&cfg)
			assert.Error(t, err)
		})
	}

	cfg := base
	cfg.ManagerFeePercent = MaxManagerFeePercent
	_, err := New(&cfg)
	assert.NoError(t, err)
}

func TestObservationSurface(t *testing.T) {
	fx := newFixture(t)
	f := fx.fund

	assert.Equal(t, fundAddr, f.Address())
	assert.Equal(t, manager, f.Manager())
	assert.Equal(t, tokenA, f.InvestToken())
	assert.Equal(t, 0, f.PoolsLength())

	_, err := f.PositionsLength(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = f.Pools(-1)
	assert.ErrorIs(t, err, ErrValidation)

	fx.deposit(t, alice, e18(10))
	fx.init(t, tokenA, tokenB, -600, 600, nil)

	pool, err := f.Pools(0)
	require.NoError(t, err)
	assert.Equal(t, tokenA, pool.Token0)
	assert.Equal(t, tokenB, pool.Token1)
	assert.Equal(t, uint32(feeMedium), pool.Fee)
	assert.Equal(t, simulated.PoolAddress(tokenA, tokenB, feeMedium), pool.Address)

	_, err = f.Positions(0, 1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = f.AssetsOfPosition(fx.ctx, 0, 1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = f.AssetsOfPool(fx.ctx, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}
