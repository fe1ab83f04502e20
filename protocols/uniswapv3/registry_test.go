package uniswapv3

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
)

func TestPositionKey(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	t.Run("packs ticks as int24", func(t *testing.T) {
		packed := append(owner.Bytes(), 0xff, 0xff, 0xc4, 0x00, 0x00, 0x3c) // -60, 60
		assert.Equal(t, crypto.Keccak256Hash(packed), PositionKey(owner, -60, 60))
	})

	t.Run("distinct ranges get distinct keys", func(t *testing.T) {
		assert.NotEqual(t, PositionKey(owner, -60, 60), PositionKey(owner, -120, 60))
		assert.NotEqual(t, PositionKey(owner, -60, 60), PositionKey(common.Address{}, -60, 60))
	})
}

func TestSortTokens(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	t0, t1 := SortTokens(b, a)
	assert.Equal(t, a, t0)
	assert.Equal(t, b, t1)
}
