package simulated

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrPoolExists      = errors.New("pool already exists")
	ErrIdenticalTokens = errors.New("identical tokens")
)

type poolKey struct {
	token0 common.Address
	token1 common.Address
	fee    uint32
}

// Factory creates and indexes simulated pools that all settle through one ledger.
type Factory struct {
	ledger Ledger

	mu    sync.RWMutex
	pools map[poolKey]*Pool
	order []*Pool
}

var _ uniswapv3.Factory = (*Factory)(nil)

func NewFactory(ledger Ledger) *Factory {
	return &Factory{ledger: ledger, pools: make(map[poolKey]*Pool)}
}

// CreatePool deploys a pool for the pair at the given starting sqrt price. The pool
// address is derived from the sorted pair and fee.
func (f *Factory) CreatePool(tokenA, tokenB common.Address, fee uint32, sqrtPriceX96 *big.Int) (*Pool, error) {
	if tokenA == tokenB {
		return nil, ErrIdenticalTokens
	}
	token0, token1 := uniswapv3.SortTokens(tokenA, tokenB)
	key := poolKey{token0: token0, token1: token1, fee: fee}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.pools[key]; ok {
		return nil, fmt.Errorf("%w: %s/%s %d", ErrPoolExists, token0, token1, fee)
	}
	pool, err := NewPool(f.ledger, PoolAddress(token0, token1, fee), token0, token1, fee, sqrtPriceX96)
	if err != nil {
		return nil, err
	}
	f.pools[key] = pool
	f.order = append(f.order, pool)
	return pool, nil
}

// GetPool implements uniswapv3.Factory.
func (f *Factory) GetPool(tokenA, tokenB common.Address, fee uint32) (uniswapv3.Pool, bool) {
	pool, ok := f.Pool(tokenA, tokenB, fee)
	if !ok {
		return nil, false
	}
	return pool, true
}

// Pool returns the concrete pool for the pair, in either token order.
func (f *Factory) Pool(tokenA, tokenB common.Address, fee uint32) (*Pool, bool) {
	token0, token1 := uniswapv3.SortTokens(tokenA, tokenB)
	f.mu.RLock()
	defer f.mu.RUnlock()
	pool, ok := f.pools[poolKey{token0: token0, token1: token1, fee: fee}]
	return pool, ok
}

// Pools returns every pool in creation order.
func (f *Factory) Pools() []*Pool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Pool, len(f.order))
	copy(out, f.order)
	return out
}

// PoolAddress derives a pool address from its sorted pair and fee.
func PoolAddress(token0, token1 common.Address, fee uint32) common.Address {
	hash := crypto.Keccak256(token0.Bytes(), token1.Bytes(), []byte{byte(fee >> 16), byte(fee >> 8), byte(fee)})
	return common.BytesToAddress(hash[12:])
}
