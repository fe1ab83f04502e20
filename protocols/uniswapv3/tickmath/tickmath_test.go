package tickmath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fromString(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

// encodePriceSqrt returns sqrt(reserve1/reserve0) * 2^96.
func encodePriceSqrt(reserve1, reserve0 *big.Int) *big.Int {
	num := new(big.Int).Mul(reserve1, new(big.Int).Lsh(big.NewInt(1), 192))
	return new(big.Int).Sqrt(num.Div(num, reserve0))
}

func TestSqrtRatioAtTick(t *testing.T) {
	t.Run("rejects too low", func(t *testing.T) {
		_, err := SqrtRatioAtTick(MinTick - 1)
		assert.ErrorIs(t, err, ErrTickOutOfBounds)
	})

	t.Run("rejects too high", func(t *testing.T) {
		_, err := SqrtRatioAtTick(MaxTick + 1)
		assert.ErrorIs(t, err, ErrTickOutOfBounds)
	})

	t.Run("min tick", func(t *testing.T) {
		sqrtP, err := SqrtRatioAtTick(MinTick)
		require.NoError(t, err)
		assert.Zero(t, fromString("4295128739").Cmp(sqrtP))
	})

	t.Run("max tick", func(t *testing.T) {
		sqrtP, err := SqrtRatioAtTick(MaxTick)
		require.NoError(t, err)
		assert.Zero(t, fromString("1461446703485210103287273052203988822378723970342").Cmp(sqrtP))
	})

	t.Run("tick zero is Q96", func(t *testing.T) {
		sqrtP, err := SqrtRatioAtTick(0)
		require.NoError(t, err)
		assert.Zero(t, new(big.Int).Lsh(big.NewInt(1), 96).Cmp(sqrtP))
	})
}

func TestTickAtSqrtRatio(t *testing.T) {
	t.Run("rejects too low", func(t *testing.T) {
		_, err := TickAtSqrtRatio(new(big.Int).Sub(MinSqrtRatio, big.NewInt(1)))
		assert.ErrorIs(t, err, ErrSqrtPriceOutOfBounds)
	})

	t.Run("rejects too high", func(t *testing.T) {
		_, err := TickAtSqrtRatio(MaxSqrtRatio)
		assert.ErrorIs(t, err, ErrSqrtPriceOutOfBounds)
	})

	t.Run("ratio of min tick", func(t *testing.T) {
		tick, err := TickAtSqrtRatio(MinSqrtRatio)
		require.NoError(t, err)
		assert.Equal(t, MinTick, tick)
	})

	t.Run("ratio closest to max tick", func(t *testing.T) {
		tick, err := TickAtSqrtRatio(new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1)))
		require.NoError(t, err)
		assert.Equal(t, MaxTick-1, tick)
	})

	pow10 := func(n int64) *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil) }
	ratios := []struct {
		name  string
		ratio *big.Int
	}{
		{"1e12:1", encodePriceSqrt(pow10(12), big.NewInt(1))},
		{"1:64", encodePriceSqrt(big.NewInt(1), big.NewInt(64))},
		{"1:2", encodePriceSqrt(big.NewInt(1), big.NewInt(2))},
		{"1:1", encodePriceSqrt(big.NewInt(1), big.NewInt(1))},
		{"8:1", encodePriceSqrt(big.NewInt(8), big.NewInt(1))},
		{"1:1e6", encodePriceSqrt(big.NewInt(1), pow10(6))},
		{"1:1e12", encodePriceSqrt(big.NewInt(1), pow10(12))},
	}

	for _, tc := range ratios {
		t.Run(tc.name, func(t *testing.T) {
			tick, err := TickAtSqrtRatio(tc.ratio)
			require.NoError(t, err)
			atTick, err := SqrtRatioAtTick(tick)
			require.NoError(t, err)
			atNext, err := SqrtRatioAtTick(tick + 1)
			require.NoError(t, err)

			assert.True(t, tc.ratio.Cmp(atTick) >= 0)
			assert.True(t, tc.ratio.Cmp(atNext) < 0)
		})
	}
}

func TestInverse(t *testing.T) {
	span := big.NewInt(int64(MaxTick) - int64(MinTick))
	for i := 0; i < 500; i++ {
		offset, _ := rand.Int(rand.Reader, span)
		tick := MinTick + int32(offset.Int64())

		sqrtP, err := SqrtRatioAtTick(tick)
		require.NoError(t, err)
		got, err := TickAtSqrtRatio(sqrtP)
		require.NoError(t, err)
		assert.Equal(t, tick, got, "tick %d -> sqrtP %s -> tick %d", tick, sqrtP, got)
	}
}

func TestValidateRange(t *testing.T) {
	tests := []struct {
		name         string
		lower, upper int32
		spacing      int32
		wantErr      error
	}{
		{"valid", -60, 60, 60, nil},
		{"inverted", 60, -60, 60, ErrInvalidRange},
		{"empty", 60, 60, 60, ErrInvalidRange},
		{"misaligned", -59, 60, 60, ErrInvalidRange},
		{"below min", MinTick - 1, 0, 0, ErrTickOutOfBounds},
		{"spacing unchecked", -59, 61, 0, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRange(tc.lower, tc.upper, tc.spacing)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	assert.Equal(t, int32(-887220), MinUsableTick(60))
	assert.Equal(t, int32(887220), MaxUsableTick(60))
	assert.Equal(t, int32(60), SpacingForFee(3000))
}
