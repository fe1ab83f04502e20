package path

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenC = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func TestEncodeDecode(t *testing.T) {
	t.Run("single pool", func(t *testing.T) {
		p, err := Encode([]common.Address{tokenA, tokenB}, []uint32{3000})
		require.NoError(t, err)
		assert.Len(t, p, 43)
		assert.Equal(t, []byte{0x00, 0x0b, 0xb8}, p[20:23])
		assert.False(t, HasMultiplePools(p))
		assert.Equal(t, 1, NumPools(p))

		tokens, fees, err := Decode(p)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{tokenA, tokenB}, tokens)
		assert.Equal(t, []uint32{3000}, fees)
	})

	t.Run("two pools", func(t *testing.T) {
		p, err := Encode([]common.Address{tokenA, tokenB, tokenC}, []uint32{500, 10000})
		require.NoError(t, err)
		assert.Len(t, p, 66)
		assert.True(t, HasMultiplePools(p))
		assert.Equal(t, 2, NumPools(p))

		rest := SkipToken(p)
		assert.False(t, HasMultiplePools(rest))
		hop, err := DecodeFirstPool(rest)
		require.NoError(t, err)
		assert.Equal(t, Hop{TokenIn: tokenB, TokenOut: tokenC, Fee: 10000}, hop)
	})

	t.Run("token and fee counts must agree", func(t *testing.T) {
		_, err := Encode([]common.Address{tokenA, tokenB}, []uint32{3000, 500})
		assert.ErrorIs(t, err, ErrTokenFeeCount)
		_, err = Encode([]common.Address{tokenA}, nil)
		assert.ErrorIs(t, err, ErrTokenFeeCount)
	})

	t.Run("fee must fit in 24 bits", func(t *testing.T) {
		_, err := Encode([]common.Address{tokenA, tokenB}, []uint32{1 << 24})
		assert.ErrorIs(t, err, ErrFeeOutOfRange)
	})

	t.Run("malformed lengths", func(t *testing.T) {
		for _, n := range []int{0, 20, 23, 42, 44, 65} {
			_, _, err := Decode(make([]byte, n))
			assert.ErrorIs(t, err, ErrInvalidLength, "length %d", n)
		}
	})
}

func TestHopsAndEndpoints(t *testing.T) {
	p, err := Encode([]common.Address{tokenA, tokenB, tokenC}, []uint32{500, 3000})
	require.NoError(t, err)

	hops, err := Hops(p)
	require.NoError(t, err)
	assert.Equal(t, []Hop{
		{TokenIn: tokenA, TokenOut: tokenB, Fee: 500},
		{TokenIn: tokenB, TokenOut: tokenC, Fee: 3000},
	}, hops)

	first, err := First(p)
	require.NoError(t, err)
	assert.Equal(t, tokenA, first)
	last, err := Last(p)
	require.NoError(t, err)
	assert.Equal(t, tokenC, last)
}

func TestReverse(t *testing.T) {
	p, err := Encode([]common.Address{tokenA, tokenB, tokenC}, []uint32{500, 3000})
	require.NoError(t, err)

	r, err := Reverse(p)
	require.NoError(t, err)
	tokens, fees, err := Decode(r)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{tokenC, tokenB, tokenA}, tokens)
	assert.Equal(t, []uint32{3000, 500}, fees)

	back, err := Reverse(r)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestTokensRejectsZeroAddress(t *testing.T) {
	p, err := Encode([]common.Address{tokenA, {}}, []uint32{500})
	require.NoError(t, err)
	_, err = Tokens(p)
	assert.ErrorIs(t, err, ErrZeroAddressHop)
}
