// Package fixedpoint implements the Q64.96 / Q128.128 fixed-point arithmetic the fund
// uses to value concentrated-liquidity positions. Every function treats its *big.Int
// arguments as read-only and returns freshly allocated results.
package fixedpoint

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// Q96 is the UQ64.96 fixed-point number representing 1.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)
	// Q128 is the UQ128.128 fixed-point number representing 1.
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)
	// MaxUint128 is 2^128 - 1, the width of liquidity and owed-token counters.
	MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	// Resolution is the number of fractional bits of a sqrt price.
	Resolution = uint(96)

	ErrDivisionByZero = errors.New("division by zero")

	one = big.NewInt(1)
)

// scratch holds reusable temporaries for the helpers below.
type scratch struct {
	product *big.Int
	rem     *big.Int
	a       *big.Int
	b       *big.Int
}

var scratchPool = sync.Pool{
	New: func() any {
		return &scratch{
			product: new(big.Int),
			rem:     new(big.Int),
			a:       new(big.Int),
			b:       new(big.Int),
		}
	},
}

// MulDiv returns floor(a * b / d).
func MulDiv(a, b, d *big.Int) (*big.Int, error) {
	if d.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	s.product.Mul(a, b)
	return new(big.Int).Quo(s.product, d), nil
}

// MulDivRoundingUp returns ceil(a * b / d).
func MulDivRoundingUp(a, b, d *big.Int) (*big.Int, error) {
	if d.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	s.product.Mul(a, b)
	out, rem := new(big.Int).QuoRem(s.product, d, s.rem)
	if rem.Sign() > 0 {
		out.Add(out, one)
	}
	return out, nil
}

// DivRoundingUp returns ceil(a / b).
func DivRoundingUp(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	out, rem := new(big.Int).QuoRem(a, b, s.rem)
	if rem.Sign() > 0 {
		out.Add(out, one)
	}
	return out, nil
}

// mustMulDiv is MulDiv for call sites whose denominator is a non-zero constant.
func mustMulDiv(a, b, d *big.Int) *big.Int {
	out, err := MulDiv(a, b, d)
	if err != nil {
		panic(err)
	}
	return out
}
