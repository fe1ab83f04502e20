package simulated

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/defistate/lpfund-go/fixedpoint"
	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/path"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/tickmath"
	"github.com/defistate/lpfund-go/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenC = common.HexToAddress("0x3000000000000000000000000000000000000003")
	lp     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	trader = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// newTestVenue returns a factory over a ledger in which lp, owner and trader each hold
// a large balance of every test token.
func newTestVenue(t *testing.T) (*Factory, *token.Ledger) {
	t.Helper()
	ledger := token.NewLedger()
	for _, tok := range []common.Address{tokenA, tokenB, tokenC} {
		for _, who := range []common.Address{lp, owner, trader} {
			require.NoError(t, ledger.Mint(context.Background(), tok, who, e18(1_000_000)))
		}
	}
	return NewFactory(ledger), ledger
}

// newTestPool returns an A/B 0.3% pool at price 1 with deep full-range liquidity.
func newTestPool(t *testing.T, f *Factory) *Pool {
	t.Helper()
	pool, err := f.CreatePool(tokenA, tokenB, 3000, fixedpoint.Q96)
	require.NoError(t, err)
	_, _, err = pool.Mint(context.Background(), lp, tickmath.MinUsableTick(60), tickmath.MaxUsableTick(60), e18(1000))
	require.NoError(t, err)
	return pool
}

func TestPool_MintBurnCollect(t *testing.T) {
	ctx := context.Background()
	f, ledger := newTestVenue(t)
	pool := newTestPool(t, f)

	t.Run("mint in range needs both tokens and activates liquidity", func(t *testing.T) {
		before := pool.Liquidity()
		held0, held1 := ledger.BalanceOf(tokenA, owner), ledger.BalanceOf(tokenB, owner)
		a0, a1, err := pool.Mint(ctx, owner, -60, 60, e18(10))
		require.NoError(t, err)
		assert.Positive(t, a0.Sign())
		assert.Positive(t, a1.Sign())
		assert.Zero(t, new(big.Int).Sub(held0, a0).Cmp(ledger.BalanceOf(tokenA, owner)), "token0 pulled from owner")
		assert.Zero(t, new(big.Int).Sub(held1, a1).Cmp(ledger.BalanceOf(tokenB, owner)), "token1 pulled from owner")
		assert.Zero(t, new(big.Int).Add(before, e18(10)).Cmp(pool.Liquidity()))

		info, err := pool.Position(ctx, uniswapv3.PositionKey(owner, -60, 60))
		require.NoError(t, err)
		assert.Zero(t, info.Liquidity.Cmp(e18(10)))

		lower, err := pool.Tick(ctx, -60)
		require.NoError(t, err)
		assert.True(t, lower.Initialized)
		assert.Zero(t, lower.LiquidityNet.Cmp(e18(10)))
	})

	t.Run("mint above price needs only token0", func(t *testing.T) {
		a0, a1, err := pool.Mint(ctx, owner, 120, 240, e18(1))
		require.NoError(t, err)
		assert.Positive(t, a0.Sign())
		assert.Zero(t, a1.Sign())
	})

	t.Run("mint fails when the owner cannot pay", func(t *testing.T) {
		_, _, err := pool.Mint(ctx, common.HexToAddress("0xdead"), -60, 60, e18(1))
		assert.ErrorIs(t, err, token.ErrInsufficientBalance)
	})

	t.Run("rejects zero liquidity and bad ranges", func(t *testing.T) {
		_, _, err := pool.Mint(ctx, owner, -60, 60, big.NewInt(0))
		assert.ErrorIs(t, err, ErrZeroLiquidity)
		_, _, err = pool.Mint(ctx, owner, -59, 60, big.NewInt(1))
		assert.ErrorIs(t, err, tickmath.ErrInvalidRange)
	})

	t.Run("burn rounds down and owes the released tokens", func(t *testing.T) {
		minted0, minted1, err := pool.Mint(ctx, owner, -120, 120, e18(3))
		require.NoError(t, err)
		b0, b1, err := pool.Burn(ctx, owner, -120, 120, e18(3))
		require.NoError(t, err)
		assert.True(t, b0.Cmp(minted0) <= 0)
		assert.True(t, b1.Cmp(minted1) <= 0)

		info, err := pool.Position(ctx, uniswapv3.PositionKey(owner, -120, 120))
		require.NoError(t, err)
		assert.Zero(t, info.Liquidity.Sign())
		assert.Zero(t, info.TokensOwed0.Cmp(b0))

		held0 := ledger.BalanceOf(tokenA, owner)
		c0, c1, err := pool.Collect(ctx, owner, owner, -120, 120, b0, fixedpoint.MaxUint128)
		require.NoError(t, err)
		assert.Zero(t, new(big.Int).Add(held0, c0).Cmp(ledger.BalanceOf(tokenA, owner)))
		assert.Zero(t, c0.Cmp(b0))
		assert.Zero(t, c1.Cmp(b1))

		tick, err := pool.Tick(ctx, -120)
		require.NoError(t, err)
		assert.False(t, tick.Initialized, "unreferenced tick is cleared")
	})

	t.Run("burning more than the position holds fails without side effects", func(t *testing.T) {
		_, _, err := pool.Burn(ctx, owner, -60, 60, e18(11))
		assert.ErrorIs(t, err, fixedpoint.ErrLiquidityUnderflow)
		info, err := pool.Position(ctx, uniswapv3.PositionKey(owner, -60, 60))
		require.NoError(t, err)
		assert.Zero(t, info.Liquidity.Cmp(e18(10)))
	})

	t.Run("zero burn needs a live position", func(t *testing.T) {
		_, _, err := pool.Burn(ctx, owner, -600, 600, big.NewInt(0))
		assert.ErrorIs(t, err, ErrNoPosition)
	})
}

func TestPool_SwapAccruesFees(t *testing.T) {
	ctx := context.Background()
	f, ledger := newTestVenue(t)
	pool := newTestPool(t, f)
	_, _, err := pool.Mint(ctx, owner, -600, 600, e18(100))
	require.NoError(t, err)

	quoted, err := pool.Quote(ctx, tokenA, e18(1))
	require.NoError(t, err)
	slot, err := pool.Slot0(ctx)
	require.NoError(t, err)
	assert.Zero(t, slot.SqrtPriceX96.Cmp(fixedpoint.Q96), "quote leaves the price alone")

	heldB := ledger.BalanceOf(tokenB, trader)
	out, err := pool.Swap(ctx, trader, trader, tokenA, e18(1))
	require.NoError(t, err)
	assert.Zero(t, quoted.Cmp(out))
	assert.Zero(t, new(big.Int).Add(heldB, out).Cmp(ledger.BalanceOf(tokenB, trader)))
	assert.True(t, out.Cmp(e18(1)) < 0, "fee and impact reduce output")

	slot, err = pool.Slot0(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, slot.SqrtPriceX96.Cmp(fixedpoint.Q96), "selling token0 lowers the price")

	g0, g1, err := pool.FeeGrowthGlobal(ctx)
	require.NoError(t, err)
	assert.Positive(t, g0.Sign())
	assert.Zero(t, g1.Sign())

	// settle fees into the position with a zero burn
	_, _, err = pool.Burn(ctx, owner, -600, 600, big.NewInt(0))
	require.NoError(t, err)
	info, err := pool.Position(ctx, uniswapv3.PositionKey(owner, -600, 600))
	require.NoError(t, err)
	// 0.3% of 1e18 split across 1100e18 of liquidity, 100e18 of it ours
	assert.InDelta(t, 3e15*100/1100, float64(info.TokensOwed0.Int64()), 1e6)
	assert.Zero(t, info.TokensOwed1.Sign())
}

func TestPool_SwapCrossesTicks(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestVenue(t)
	pool, err := f.CreatePool(tokenA, tokenB, 3000, fixedpoint.Q96)
	require.NoError(t, err)
	// thin liquidity in a narrow band plus a thin full range
	_, _, err = pool.Mint(ctx, lp, tickmath.MinUsableTick(60), tickmath.MaxUsableTick(60), e18(1))
	require.NoError(t, err)
	_, _, err = pool.Mint(ctx, owner, -60, 60, e18(50))
	require.NoError(t, err)

	_, err = pool.Swap(ctx, trader, trader, tokenB, e18(2))
	require.NoError(t, err)

	slot, err := pool.Slot0(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, slot.Tick, int32(60), "price pushed through the band")
	assert.Zero(t, pool.Liquidity().Cmp(e18(1)), "band liquidity no longer active")

	upper, err := pool.Tick(ctx, 60)
	require.NoError(t, err)
	g0, g1, err := pool.FeeGrowthGlobal(ctx)
	require.NoError(t, err)
	assert.Zero(t, g0.Sign())
	assert.Positive(t, upper.FeeGrowthOutside1X128.Sign())
	assert.True(t, upper.FeeGrowthOutside1X128.Cmp(g1) <= 0)

	// fees inside the band stop growing once the price leaves it
	_, _, err = pool.Burn(ctx, owner, -60, 60, big.NewInt(0))
	require.NoError(t, err)
	first, err := pool.Position(ctx, uniswapv3.PositionKey(owner, -60, 60))
	require.NoError(t, err)
	_, err = pool.Swap(ctx, trader, trader, tokenB, big.NewInt(1_000_000))
	require.NoError(t, err)
	_, _, err = pool.Burn(ctx, owner, -60, 60, big.NewInt(0))
	require.NoError(t, err)
	second, err := pool.Position(ctx, uniswapv3.PositionKey(owner, -60, 60))
	require.NoError(t, err)
	assert.Zero(t, first.TokensOwed1.Cmp(second.TokensOwed1))
}

func TestRouterAndQuoter(t *testing.T) {
	ctx := context.Background()
	f, ledger := newTestVenue(t)
	newTestPool(t, f)
	bc, err := f.CreatePool(tokenB, tokenC, 500, fixedpoint.Q96)
	require.NoError(t, err)
	_, _, err = bc.Mint(ctx, lp, tickmath.MinUsableTick(10), tickmath.MaxUsableTick(10), e18(1000))
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	router := NewRouter(f, func() time.Time { return now })
	quoter := NewQuoter(f)

	route, err := path.Encode([]common.Address{tokenA, tokenB, tokenC}, []uint32{3000, 500})
	require.NoError(t, err)

	quoted, err := quoter.QuoteExactInput(ctx, route, e18(1))
	require.NoError(t, err)

	t.Run("deadline", func(t *testing.T) {
		_, err := router.ExactInput(ctx, uniswapv3.ExactInputParams{
			Path:      route,
			Payer:     trader,
			Recipient: trader,
			AmountIn:  e18(1),
			Deadline:  now.Add(-time.Second),
		})
		assert.ErrorIs(t, err, uniswapv3.ErrTransactionTooOld)
	})

	t.Run("minimum output", func(t *testing.T) {
		_, err := router.ExactInput(ctx, uniswapv3.ExactInputParams{
			Path:             route,
			Payer:            trader,
			Recipient:        trader,
			AmountIn:         e18(1),
			AmountOutMinimum: new(big.Int).Add(quoted, big.NewInt(1)),
			Deadline:         now,
		})
		assert.ErrorIs(t, err, uniswapv3.ErrTooLittleReceived)
	})

	t.Run("executes at the quoted amount", func(t *testing.T) {
		out, err := router.ExactInput(ctx, uniswapv3.ExactInputParams{
			Path:             route,
			Payer:            trader,
			Recipient:        trader,
			AmountIn:         e18(1),
			AmountOutMinimum: quoted,
			Deadline:         now,
		})
		require.NoError(t, err)
		assert.Zero(t, quoted.Cmp(out))
		assert.Zero(t, ledger.BalanceOf(tokenB, RouterAddress).Sign(), "router keeps nothing between hops")
	})

	t.Run("missing pool", func(t *testing.T) {
		bad, err := path.Encode([]common.Address{tokenA, tokenC}, []uint32{3000})
		require.NoError(t, err)
		_, err = quoter.QuoteExactInput(ctx, bad, e18(1))
		assert.ErrorIs(t, err, uniswapv3.ErrPoolNotFound)
	})
}

func TestQuoter_SequenceSeesEarlierLegs(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestVenue(t)
	pool := newTestPool(t, f)
	bc, err := f.CreatePool(tokenB, tokenC, 500, fixedpoint.Q96)
	require.NoError(t, err)
	_, _, err = bc.Mint(ctx, lp, tickmath.MinUsableTick(10), tickmath.MaxUsableTick(10), e18(1000))
	require.NoError(t, err)

	router := NewRouter(f, nil)
	quoter := NewQuoter(f)
	direct, err := path.Encode([]common.Address{tokenA, tokenB}, []uint32{3000})
	require.NoError(t, err)
	viaB, err := path.Encode([]common.Address{tokenC, tokenB, tokenA}, []uint32{500, 3000})
	require.NoError(t, err)

	legs := []uniswapv3.SwapLeg{
		{Path: direct, AmountIn: e18(5)},
		{Path: direct, AmountIn: e18(5)},
		{Path: viaB, AmountIn: e18(5)},
		{Path: viaB, AmountIn: new(big.Int)},
	}
	before, err := pool.Slot0(ctx)
	require.NoError(t, err)

	quoted, err := quoter.QuoteExactInputs(ctx, legs)
	require.NoError(t, err)
	require.Len(t, quoted, len(legs))
	assert.Negative(t, quoted[1].Cmp(quoted[0]), "the second sale meets a moved price")
	assert.Zero(t, quoted[3].Sign())

	single, err := quoter.QuoteExactInput(ctx, direct, e18(5))
	require.NoError(t, err)
	assert.Zero(t, single.Cmp(quoted[0]))

	after, err := pool.Slot0(ctx)
	require.NoError(t, err)
	assert.Zero(t, before.SqrtPriceX96.Cmp(after.SqrtPriceX96), "quoting leaves the pool alone")

	for k, leg := range legs[:3] {
		out, err := router.ExactInput(ctx, uniswapv3.ExactInputParams{
			Path:      leg.Path,
			Payer:     trader,
			Recipient: trader,
			AmountIn:  leg.AmountIn,
		})
		require.NoError(t, err)
		assert.Zero(t, quoted[k].Cmp(out), "leg %d", k)
	}

	bad, err := path.Encode([]common.Address{tokenA, tokenC}, []uint32{3000})
	require.NoError(t, err)
	_, err = quoter.QuoteExactInputs(ctx, []uniswapv3.SwapLeg{{Path: bad, AmountIn: e18(1)}})
	assert.ErrorIs(t, err, uniswapv3.ErrPoolNotFound)
}

func TestFactory(t *testing.T) {
	f, _ := newTestVenue(t)
	pool := newTestPool(t, f)

	got, ok := f.GetPool(tokenB, tokenA, 3000)
	require.True(t, ok)
	assert.Equal(t, pool.Address(), got.Address())
	assert.Equal(t, PoolAddress(tokenA, tokenB, 3000), pool.Address())

	_, ok = f.GetPool(tokenA, tokenB, 500)
	assert.False(t, ok)

	_, err := f.CreatePool(tokenB, tokenA, 3000, fixedpoint.Q96)
	assert.ErrorIs(t, err, ErrPoolExists)
	_, err = f.CreatePool(tokenA, tokenA, 3000, fixedpoint.Q96)
	assert.ErrorIs(t, err, ErrIdenticalTokens)
	_, err = f.CreatePool(tokenA, tokenC, 42, fixedpoint.Q96)
	assert.ErrorIs(t, err, ErrUnsupportedFee)
	assert.Len(t, f.Pools(), 1)
}
