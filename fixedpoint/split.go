package fixedpoint

import (
	"math/big"
)

// Percent100X128 is 100 * 2^128, the denominator of the percent-X128 scale. Proportions
// on this scale range over [0, 100*2^128], not [0, 2^128].
var Percent100X128 = new(big.Int).Lsh(big.NewInt(100), 128)

// PercentX128 returns percent * 2^128.
func PercentX128(percent uint64) *big.Int {
	return new(big.Int).Lsh(new(big.Int).SetUint64(percent), 128)
}

// ProportionOf returns floor(amount * proportionX128 / (100 * 2^128)).
func ProportionOf(amount, proportionX128 *big.Int) *big.Int {
	return mustMulDiv(amount, proportionX128, Percent100X128)
}

// ProportionX128 returns floor(part * 100 * 2^128 / whole), the proportion of whole that
// part represents. whole must be non-zero.
func ProportionX128(part, whole *big.Int) (*big.Int, error) {
	return MulDiv(part, Percent100X128, whole)
}

// PriceX96 squares a sqrt price: sqrtPriceX96^2 / Q96.
func PriceX96(sqrtPriceX96 *big.Int) *big.Int {
	return mustMulDiv(sqrtPriceX96, sqrtPriceX96, Q96)
}

// Convert values amount at the price implied by sqrtPriceX96: amount * (sqrtP^2 / Q96) / Q96.
func Convert(amount, sqrtPriceX96 *big.Int) *big.Int {
	return mustMulDiv(amount, PriceX96(sqrtPriceX96), Q96)
}

// SplitForRange splits a flat amount deltaX of token0-denominated value into the token0
// and token1 amounts a position over [sqrtLower, sqrtUpper) needs at sqrtPrice.
//
//	SPc <= SPl: everything is token0
//	SPc >= SPu: nothing is token0
//	otherwise:  dx0 = dx * b / (a + b), a = SPu*(SPc-SPl), b = SPc*(SPu-SPc)
//
// The remainder dx - dx0 is valued into token1 at the current price.
func SplitForRange(sqrtPriceX96, sqrtLowerX96, sqrtUpperX96, deltaX *big.Int) (amount0, amount1 *big.Int) {
	amount0 = new(big.Int)
	amount1 = new(big.Int)

	switch {
	case sqrtPriceX96.Cmp(sqrtLowerX96) <= 0:
		amount0.Set(deltaX)
	case sqrtPriceX96.Cmp(sqrtUpperX96) < 0:
		a96 := mustMulDiv(sqrtUpperX96, new(big.Int).Sub(sqrtPriceX96, sqrtLowerX96), Q96)
		b96 := mustMulDiv(sqrtPriceX96, new(big.Int).Sub(sqrtUpperX96, sqrtPriceX96), Q96)
		if sum := new(big.Int).Add(a96, b96); sum.Sign() > 0 {
			amount0 = mustMulDiv(deltaX, b96, sum)
		}
	}

	if deltaX.Cmp(amount0) > 0 {
		amount1 = Convert(new(big.Int).Sub(deltaX, amount0), sqrtPriceX96)
	}
	return amount0, amount1
}
