// Package tickmath converts between ticks and Q64.96 sqrt prices and validates the tick
// ranges a fund position may occupy.
package tickmath

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the lowest tick whose sqrt price is representable.
	MinTick int32 = -887272
	// MaxTick is the highest tick whose sqrt price is representable.
	MaxTick int32 = 887272
)

var (
	// MinSqrtRatio is the sqrt price at MinTick.
	MinSqrtRatio, _ = new(big.Int).SetString("4295128739", 10)
	// MaxSqrtRatio is the sqrt price at MaxTick.
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")
	ErrInvalidRange         = errors.New("invalid tick range")

	one        = uint256.NewInt(1)
	maxUint256 = new(uint256.Int).SetAllOne()
	mask32     = uint256.NewInt(0xffffffff)

	// sqrt(1.0001^-(2^i)) in UQ128.128, i = 0..19.
	ratios = [20]*uint256.Int{
		uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}
	q128 = new(uint256.Int).Lsh(one, 128)
)

// workspace holds reusable words so concurrent callers do not allocate per call.
type workspace struct {
	ratio *uint256.Int
	rem   *uint256.Int
	probe *big.Int
}

var workspaces = sync.Pool{
	New: func() any {
		return &workspace{
			ratio: new(uint256.Int),
			rem:   new(uint256.Int),
			probe: new(big.Int),
		}
	},
}

// SqrtRatioAtTick returns sqrt(1.0001^tick) * 2^96, rounded up.
func SqrtRatioAtTick(tick int32) (*big.Int, error) {
	out := new(big.Int)
	if err := sqrtRatioInto(out, tick); err != nil {
		return nil, err
	}
	return out, nil
}

func sqrtRatioInto(dest *big.Int, tick int32) error {
	if tick < MinTick || tick > MaxTick {
		return fmt.Errorf("%w: %d", ErrTickOutOfBounds, tick)
	}

	ws := workspaces.Get().(*workspace)
	defer workspaces.Put(ws)

	absTick := int64(tick)
	if absTick < 0 {
		absTick = -absTick
	}

	if absTick&1 != 0 {
		ws.ratio.Set(ratios[0])
	} else {
		ws.ratio.Set(q128)
	}
	for i := 1; i < len(ratios); i++ {
		if absTick&(1<<i) != 0 {
			ws.ratio.Mul(ws.ratio, ratios[i]).Rsh(ws.ratio, 128)
		}
	}

	if tick > 0 {
		ws.ratio.Div(maxUint256, ws.ratio)
	}

	// Q128.128 -> Q64.96, rounding up.
	ws.rem.And(ws.ratio, mask32)
	ws.ratio.Rsh(ws.ratio, 32)
	if !ws.rem.IsZero() {
		ws.ratio.Add(ws.ratio, one)
	}

	ws.ratio.IntoBig(&dest)
	return nil
}

// TickAtSqrtRatio returns the greatest tick whose sqrt price is <= sqrtPriceX96.
func TickAtSqrtRatio(sqrtPriceX96 *big.Int) (int32, error) {
	if sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return 0, ErrSqrtPriceOutOfBounds
	}

	ws := workspaces.Get().(*workspace)
	defer workspaces.Put(ws)
	probe := ws.probe

	low, high := MinTick, MaxTick
	var tick int32
	for low <= high {
		mid := low + (high-low)/2
		if err := sqrtRatioInto(probe, mid); err != nil {
			return 0, err
		}
		if probe.Cmp(sqrtPriceX96) <= 0 {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return tick, nil
}

// ValidateRange checks that [lower, upper) is a non-empty range inside the representable
// ticks and aligned to spacing. A zero spacing skips the alignment check.
func ValidateRange(lower, upper, spacing int32) error {
	if lower >= upper {
		return fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidRange, lower, upper)
	}
	if lower < MinTick || upper > MaxTick {
		return fmt.Errorf("%w: [%d, %d)", ErrTickOutOfBounds, lower, upper)
	}
	if spacing > 0 && (lower%spacing != 0 || upper%spacing != 0) {
		return fmt.Errorf("%w: [%d, %d) not aligned to spacing %d", ErrInvalidRange, lower, upper, spacing)
	}
	return nil
}

// MinUsableTick returns the lowest tick aligned to spacing.
func MinUsableTick(spacing int32) int32 {
	return (MinTick / spacing) * spacing
}

// MaxUsableTick returns the highest tick aligned to spacing.
func MaxUsableTick(spacing int32) int32 {
	return (MaxTick / spacing) * spacing
}

// SpacingForFee returns the canonical tick spacing of a fee tier, or 0 if the tier is
// unknown.
func SpacingForFee(fee uint32) int32 {
	switch fee {
	case 100:
		return 1
	case 500:
		return 10
	case 3000:
		return 60
	case 10000:
		return 200
	}
	return 0
}
