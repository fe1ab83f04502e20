package fixedpoint

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helper Functions for Invariant Testing ---

// newRandInt generates a random big.Int up to a given number of bits.
func newRandInt(bits int) *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic(err)
	}
	return n
}

func fromString(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

// encodePriceSqrt returns sqrt(reserve1/reserve0) * 2^96.
func encodePriceSqrt(reserve1, reserve0 int64) *big.Int {
	num := new(big.Int).Lsh(big.NewInt(reserve1), 192)
	return new(big.Int).Sqrt(num.Div(num, big.NewInt(reserve0)))
}

// --- Invariant Tests ---

func TestAmount0Delta_Invariants(t *testing.T) {
	for i := 0; i < 1000; i++ {
		sqrtP := newRandInt(160)
		sqrtQ := newRandInt(160)
		liquidity := newRandInt(128)
		if sqrtP.Sign() == 0 {
			sqrtP.SetInt64(1)
		}
		if sqrtQ.Sign() == 0 {
			sqrtQ.SetInt64(1)
		}

		down, err := Amount0Delta(sqrtP, sqrtQ, liquidity, false)
		require.NoError(t, err)
		up, err := Amount0Delta(sqrtP, sqrtQ, liquidity, true)
		require.NoError(t, err)

		assert.True(t, down.Cmp(up) <= 0)
		assert.True(t, new(big.Int).Sub(up, down).Cmp(big.NewInt(2)) < 0)

		// order independent
		swapped, err := Amount0Delta(sqrtQ, sqrtP, liquidity, false)
		require.NoError(t, err)
		assert.Zero(t, down.Cmp(swapped))
	}
}

func TestAmount1Delta_Invariants(t *testing.T) {
	for i := 0; i < 1000; i++ {
		sqrtP := newRandInt(160)
		sqrtQ := newRandInt(160)
		liquidity := newRandInt(128)

		down := Amount1Delta(sqrtP, sqrtQ, liquidity, false)
		up := Amount1Delta(sqrtP, sqrtQ, liquidity, true)

		assert.True(t, down.Cmp(up) <= 0)
		assert.True(t, new(big.Int).Sub(up, down).Cmp(big.NewInt(2)) < 0)
		assert.Zero(t, down.Cmp(Amount1Delta(sqrtQ, sqrtP, liquidity, false)))
	}
}

func TestAmountDeltas(t *testing.T) {
	t.Run("zero sqrt price is rejected", func(t *testing.T) {
		_, err := Amount0Delta(big.NewInt(0), Q96, big.NewInt(1), true)
		assert.ErrorIs(t, err, ErrSqrtPriceZero)
	})

	t.Run("price 1 to 1.21", func(t *testing.T) {
		liquidity := fromString("1000000000000000000")
		lower := encodePriceSqrt(1, 1)
		upper := encodePriceSqrt(121, 100)

		amount0, err := Amount0Delta(lower, upper, liquidity, true)
		require.NoError(t, err)
		assert.Equal(t, "90909090909090910", amount0.String())

		amount0Down, err := Amount0Delta(lower, upper, liquidity, false)
		require.NoError(t, err)
		assert.Zero(t, amount0Down.Cmp(new(big.Int).Sub(amount0, big.NewInt(1))))

		amount1 := Amount1Delta(lower, upper, liquidity, true)
		assert.Equal(t, "100000000000000000", amount1.String())
		amount1Down := Amount1Delta(lower, upper, liquidity, false)
		assert.Zero(t, amount1Down.Cmp(new(big.Int).Sub(amount1, big.NewInt(1))))
	})
}

func TestNextSqrtPriceFromInput(t *testing.T) {
	liquidity := fromString("1000000000000000000")
	price := encodePriceSqrt(1, 1)

	t.Run("zero amount keeps price", func(t *testing.T) {
		next, err := NextSqrtPriceFromInput(price, liquidity, big.NewInt(0), true)
		require.NoError(t, err)
		assert.Zero(t, next.Cmp(price))
	})

	t.Run("token0 in lowers price, token1 in raises it", func(t *testing.T) {
		amount := fromString("100000000000000000")
		down, err := NextSqrtPriceFromInput(price, liquidity, amount, true)
		require.NoError(t, err)
		assert.Equal(t, -1, down.Cmp(price))

		up, err := NextSqrtPriceFromInput(price, liquidity, amount, false)
		require.NoError(t, err)
		assert.Equal(t, "87150978765690771352898345369", up.String())
	})

	t.Run("zero liquidity", func(t *testing.T) {
		_, err := NextSqrtPriceFromInput(price, big.NewInt(0), big.NewInt(1), true)
		assert.ErrorIs(t, err, ErrLiquidityZero)
	})
}

func TestFeeGrowth(t *testing.T) {
	t.Run("inside range", func(t *testing.T) {
		inside := FeeGrowthInside(-60, 60, 0, big.NewInt(1000), big.NewInt(100), big.NewInt(200))
		assert.Equal(t, int64(700), inside.Int64())
	})

	t.Run("below range", func(t *testing.T) {
		// nothing accrued on either boundary since initialization
		inside := FeeGrowthInside(60, 120, 0, big.NewInt(1000), big.NewInt(0), big.NewInt(0))
		assert.Zero(t, inside.Sign())
	})

	t.Run("subtraction wraps modulo 2^256", func(t *testing.T) {
		got := WrappingSub(big.NewInt(1), big.NewInt(2))
		want := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
		assert.Zero(t, got.Cmp(want))
		assert.Zero(t, WrappingAdd(got, big.NewInt(2)).Cmp(big.NewInt(1)))
	})

	t.Run("fees earned across a wrapped accumulator", func(t *testing.T) {
		max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
		last := new(big.Int).Sub(max, new(big.Int).Set(Q128)) // 2^128 below the wrap
		inside := new(big.Int).Set(Q128)                     // wrapped past zero
		fees := FeesEarned(inside, last, big.NewInt(5))
		// delta = 2^129 + 1 -> 2 * 5 per unit of Q128, floor
		assert.Equal(t, int64(10), fees.Int64())
	})

	t.Run("fee growth delta", func(t *testing.T) {
		delta := FeeGrowthDelta(big.NewInt(3), big.NewInt(3))
		assert.Zero(t, delta.Cmp(Q128))
		assert.Zero(t, FeeGrowthDelta(big.NewInt(3), big.NewInt(0)).Sign())
	})
}

func TestLiquidity(t *testing.T) {
	price := encodePriceSqrt(1, 1)
	lower := encodePriceSqrt(100, 110)
	upper := encodePriceSqrt(110, 100)

	t.Run("liquidity round trip stays within the supplied amounts", func(t *testing.T) {
		amount0 := big.NewInt(100_000_000)
		amount1 := big.NewInt(200_000_000)
		liquidity := LiquidityForAmounts(price, lower, upper, amount0, amount1)
		require.Positive(t, liquidity.Sign())

		used0, used1, err := PrincipalAmounts(0, -953, 953, price, lower, upper, liquidity, true)
		require.NoError(t, err)
		assert.True(t, used0.Cmp(amount0) <= 0)
		assert.True(t, used1.Cmp(amount1) <= 0)
	})

	t.Run("principal cases", func(t *testing.T) {
		liquidity := big.NewInt(1_000_000_000)
		a0, a1, err := PrincipalAmounts(-2000, -953, 953, price, lower, upper, liquidity, false)
		require.NoError(t, err)
		assert.Positive(t, a0.Sign())
		assert.Zero(t, a1.Sign())

		a0, a1, err = PrincipalAmounts(2000, -953, 953, price, lower, upper, liquidity, false)
		require.NoError(t, err)
		assert.Zero(t, a0.Sign())
		assert.Positive(t, a1.Sign())
	})

	t.Run("add delta bounds", func(t *testing.T) {
		_, err := AddDelta(big.NewInt(1), big.NewInt(-2))
		assert.ErrorIs(t, err, ErrLiquidityUnderflow)
		_, err = AddDelta(MaxUint128, big.NewInt(1))
		assert.ErrorIs(t, err, ErrLiquidityOverflow)
		out, err := AddDelta(big.NewInt(1), big.NewInt(2))
		require.NoError(t, err)
		assert.Equal(t, int64(3), out.Int64())
	})
}

func TestSplitForRange(t *testing.T) {
	price := encodePriceSqrt(1, 1)
	lower := encodePriceSqrt(100, 110)
	upper := encodePriceSqrt(110, 100)
	deltaX := big.NewInt(1_000_000)

	t.Run("price below range is all token0", func(t *testing.T) {
		a0, a1 := SplitForRange(lower, lower, upper, deltaX)
		assert.Zero(t, a0.Cmp(deltaX))
		assert.Zero(t, a1.Sign())
	})

	t.Run("price above range is all token1", func(t *testing.T) {
		a0, a1 := SplitForRange(upper, lower, upper, deltaX)
		assert.Zero(t, a0.Sign())
		assert.Zero(t, a1.Cmp(Convert(deltaX, upper)))
	})

	t.Run("symmetric range at price 1 splits in half", func(t *testing.T) {
		a0, a1 := SplitForRange(price, lower, upper, deltaX)
		assert.InDelta(t, 500_000, a0.Int64(), 1_000)
		assert.InDelta(t, 500_000, a1.Int64(), 1_000)
	})
}

func TestProportions(t *testing.T) {
	assert.Zero(t, PercentX128(100).Cmp(Percent100X128))
	assert.Equal(t, int64(250), ProportionOf(big.NewInt(1000), PercentX128(25)).Int64())

	p, err := ProportionX128(big.NewInt(1), big.NewInt(4))
	require.NoError(t, err)
	assert.Zero(t, p.Cmp(PercentX128(25)))

	_, err = ProportionX128(big.NewInt(1), big.NewInt(0))
	assert.ErrorIs(t, err, ErrDivisionByZero)
}
