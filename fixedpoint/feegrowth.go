package fixedpoint

import (
	"math/big"

	"github.com/holiman/uint256"
)

// word truncates x to a 256-bit unsigned word. Fee-growth accumulators are counters
// modulo 2^256, so truncation is the intended reduction.
func word(x *big.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	w, _ := uint256.FromBig(x)
	return w
}

// WrappingSub returns (a - b) mod 2^256.
func WrappingSub(a, b *big.Int) *big.Int {
	return new(uint256.Int).Sub(word(a), word(b)).ToBig()
}

// FeeGrowthInside returns the fee growth per unit of liquidity accumulated inside
// [tickLower, tickUpper) for one token, from the global accumulator and the two
// boundary ticks' outside accumulators.
func FeeGrowthInside(tickLower, tickUpper, tickCurrent int32, global, lowerOutside, upperOutside *big.Int) *big.Int {
	g := word(global)

	below := word(lowerOutside)
	if tickCurrent < tickLower {
		below = new(uint256.Int).Sub(g, below)
	}

	above := word(upperOutside)
	if tickCurrent >= tickUpper {
		above = new(uint256.Int).Sub(g, above)
	}

	inside := new(uint256.Int).Sub(g, below)
	inside.Sub(inside, above)
	return inside.ToBig()
}

// FeesEarned returns (inside - insideLast) * liquidity / 2^128. The subtraction wraps;
// positions must be harvested before a full accumulator cycle for the result to hold.
func FeesEarned(inside, insideLast, liquidity *big.Int) *big.Int {
	delta := new(uint256.Int).Sub(word(inside), word(insideLast))
	fees, overflow := new(uint256.Int).MulDivOverflow(delta, word(liquidity), word(Q128))
	if overflow {
		return new(big.Int)
	}
	return fees.ToBig()
}

// FeeGrowthDelta returns feeAmount * 2^128 / liquidity, the increment applied to a global
// accumulator when a swap pays feeAmount to liquidity.
func FeeGrowthDelta(feeAmount, liquidity *big.Int) *big.Int {
	if liquidity.Sign() == 0 {
		return new(big.Int)
	}
	return mustMulDiv(feeAmount, Q128, liquidity)
}

// WrappingAdd returns (a + b) mod 2^256.
func WrappingAdd(a, b *big.Int) *big.Int {
	return new(uint256.Int).Add(word(a), word(b)).ToBig()
}
