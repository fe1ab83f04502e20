package fixedpoint

import (
	"errors"
	"math/big"
)

var (
	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta adds a signed liquidity delta to an unsigned liquidity value, returning an
// error if the result leaves the uint128 range.
func AddDelta(x, y *big.Int) (*big.Int, error) {
	out := new(big.Int).Add(x, y)
	if out.Sign() < 0 {
		return nil, ErrLiquidityUnderflow
	}
	if out.Cmp(MaxUint128) > 0 {
		return nil, ErrLiquidityOverflow
	}
	return out, nil
}

// LiquidityForAmount0 returns amount0 * (sqrtA * sqrtB / Q96) / (sqrtB - sqrtA).
func LiquidityForAmount0(sqrtRatioAX96, sqrtRatioBX96, amount0 *big.Int) *big.Int {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	diff := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	if diff.Sign() == 0 {
		return new(big.Int)
	}
	intermediate := mustMulDiv(sqrtRatioAX96, sqrtRatioBX96, Q96)
	return mustMulDiv(amount0, intermediate, diff)
}

// LiquidityForAmount1 returns amount1 * Q96 / (sqrtB - sqrtA).
func LiquidityForAmount1(sqrtRatioAX96, sqrtRatioBX96, amount1 *big.Int) *big.Int {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	diff := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	if diff.Sign() == 0 {
		return new(big.Int)
	}
	return mustMulDiv(amount1, Q96, diff)
}

// LiquidityForAmounts returns the largest liquidity that amount0 and amount1 can back
// over [sqrtA, sqrtB) at the current sqrt price.
func LiquidityForAmounts(sqrtRatioX96, sqrtRatioAX96, sqrtRatioBX96, amount0, amount1 *big.Int) *big.Int {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}

	switch {
	case sqrtRatioX96.Cmp(sqrtRatioAX96) <= 0:
		return LiquidityForAmount0(sqrtRatioAX96, sqrtRatioBX96, amount0)
	case sqrtRatioX96.Cmp(sqrtRatioBX96) < 0:
		liquidity0 := LiquidityForAmount0(sqrtRatioX96, sqrtRatioBX96, amount0)
		liquidity1 := LiquidityForAmount1(sqrtRatioAX96, sqrtRatioX96, amount1)
		if liquidity0.Cmp(liquidity1) < 0 {
			return liquidity0
		}
		return liquidity1
	default:
		return LiquidityForAmount1(sqrtRatioAX96, sqrtRatioBX96, amount1)
	}
}

// PrincipalAmounts returns the token amounts represented by liquidity over
// [tickLower, tickUpper) when the pool sits at tickCurrent / sqrtPriceX96. Below the
// range the position is entirely token0, above it entirely token1, and inside it is
// split at the current price.
func PrincipalAmounts(
	tickCurrent, tickLower, tickUpper int32,
	sqrtPriceX96, sqrtLowerX96, sqrtUpperX96, liquidity *big.Int,
	roundUp bool,
) (amount0, amount1 *big.Int, err error) {
	amount0, amount1 = new(big.Int), new(big.Int)
	if liquidity.Sign() == 0 {
		return amount0, amount1, nil
	}

	switch {
	case tickCurrent < tickLower:
		amount0, err = Amount0Delta(sqrtLowerX96, sqrtUpperX96, liquidity, roundUp)
	case tickCurrent < tickUpper:
		amount0, err = Amount0Delta(sqrtPriceX96, sqrtUpperX96, liquidity, roundUp)
		amount1 = Amount1Delta(sqrtLowerX96, sqrtPriceX96, liquidity, roundUp)
	default:
		amount1 = Amount1Delta(sqrtLowerX96, sqrtUpperX96, liquidity, roundUp)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}
