package fixedpoint

import (
	"errors"
	"math/big"
)

var (
	ErrLiquidityZero = errors.New("liquidity must be greater than zero")
	ErrSqrtPriceZero = errors.New("sqrt price must be greater than zero")
)

// Amount0Delta returns the amount of token0 represented by liquidity between two sqrt
// prices: liquidity * (sqrtB - sqrtA) / (sqrtA * sqrtB). The bounds may be given in any
// order. roundUp selects the ceiling; deposit-equivalent callers round up and
// withdraw-equivalent callers round down so that dust always stays with the fund.
func Amount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) (*big.Int, error) {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	if sqrtRatioAX96.Sign() <= 0 {
		return nil, ErrSqrtPriceZero
	}

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	s.a.Lsh(liquidity, Resolution)
	s.b.Sub(sqrtRatioBX96, sqrtRatioAX96)

	if roundUp {
		term, err := MulDivRoundingUp(s.a, s.b, sqrtRatioBX96)
		if err != nil {
			return nil, err
		}
		return DivRoundingUp(term, sqrtRatioAX96)
	}
	term, err := MulDiv(s.a, s.b, sqrtRatioBX96)
	if err != nil {
		return nil, err
	}
	return term.Quo(term, sqrtRatioAX96), nil
}

// Amount1Delta returns the amount of token1 represented by liquidity between two sqrt
// prices: liquidity * (sqrtB - sqrtA). Bounds may be given in any order.
func Amount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	diff := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	if roundUp {
		out, _ := MulDivRoundingUp(liquidity, diff, Q96)
		return out
	}
	return mustMulDiv(liquidity, diff, Q96)
}

// NextSqrtPriceFromInput returns the sqrt price after amountIn of token0 (zeroForOne) or
// token1 is added to a pool with the given active liquidity. The price rounds in the
// direction that keeps the pool solvent.
func NextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 {
		return nil, ErrSqrtPriceZero
	}
	if liquidity.Sign() <= 0 {
		return nil, ErrLiquidityZero
	}
	if amountIn.Sign() == 0 {
		return new(big.Int).Set(sqrtPX96), nil
	}

	if zeroForOne {
		// ceil(L * sqrtP / (L + amount * sqrtP)), written with a Q96-scaled numerator.
		numerator := new(big.Int).Lsh(liquidity, Resolution)
		product := new(big.Int).Mul(amountIn, sqrtPX96)
		denominator := new(big.Int).Add(numerator, product)
		return MulDivRoundingUp(numerator, sqrtPX96, denominator)
	}

	// sqrtP + floor(amount * Q96 / L)
	quotient := mustMulDiv(amountIn, Q96, liquidity)
	return quotient.Add(quotient, sqrtPX96), nil
}
