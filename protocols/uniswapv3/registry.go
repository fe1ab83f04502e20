// Package uniswapv3 defines the concentrated-liquidity venue a fund deploys into: pools,
// the pool registry, the swap router and the read-only quoter. Implementations live
// elsewhere; see the simulated package for an in-memory one.
package uniswapv3

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrPoolNotFound      = errors.New("pool not found")
	ErrTooLittleReceived = errors.New("too little received")
	ErrTransactionTooOld = errors.New("transaction too old")
)

// Slot0 is the pool's current price.
type Slot0 struct {
	SqrtPriceX96 *big.Int `json:"sqrtPriceX96"`
	Tick         int32    `json:"tick"`
}

// PositionInfo is the pool-side record of a liquidity position.
type PositionInfo struct {
	Liquidity                *big.Int `json:"liquidity"`
	FeeGrowthInside0LastX128 *big.Int `json:"feeGrowthInside0LastX128"`
	FeeGrowthInside1LastX128 *big.Int `json:"feeGrowthInside1LastX128"`
	TokensOwed0              *big.Int `json:"tokensOwed0"`
	TokensOwed1              *big.Int `json:"tokensOwed1"`
}

// TickInfo represents the information about a tick in a Uniswap V3 pool. An uninitialized
// tick reads as all zeros.
type TickInfo struct {
	Index                 int32    `json:"index"`
	LiquidityGross        *big.Int `json:"liquidityGross"`
	LiquidityNet          *big.Int `json:"liquidityNet"`
	FeeGrowthOutside0X128 *big.Int `json:"feeGrowthOutside0X128"`
	FeeGrowthOutside1X128 *big.Int `json:"feeGrowthOutside1X128"`
	Initialized           bool     `json:"initialized"`
}

// Pool is a single concentrated-liquidity pool. Mint pulls the required amounts from owner.
// Burn releases tokens into the position's owed balance and Collect pays them out to
// recipient.
type Pool interface {
	Address() common.Address
	Token0() common.Address
	Token1() common.Address
	Fee() uint32
	TickSpacing() int32

	Slot0(ctx context.Context) (Slot0, error)
	FeeGrowthGlobal(ctx context.Context) (global0X128, global1X128 *big.Int, err error)
	Position(ctx context.Context, key common.Hash) (PositionInfo, error)
	Tick(ctx context.Context, tick int32) (TickInfo, error)

	Mint(ctx context.Context, owner common.Address, tickLower, tickUpper int32, liquidity *big.Int) (amount0, amount1 *big.Int, err error)
	Burn(ctx context.Context, owner common.Address, tickLower, tickUpper int32, liquidity *big.Int) (amount0, amount1 *big.Int, err error)
	Collect(ctx context.Context, owner, recipient common.Address, tickLower, tickUpper int32, max0, max1 *big.Int) (amount0, amount1 *big.Int, err error)
}

// Factory resolves pools by token pair and fee tier. Token order does not matter.
type Factory interface {
	GetPool(tokenA, tokenB common.Address, fee uint32) (Pool, bool)
}

// ExactInputParams describes a multi-hop swap of a fixed input amount paid by Payer, with
// the output sent to Recipient.
type ExactInputParams struct {
	Path             []byte
	Payer            common.Address
	Recipient        common.Address
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
	Deadline         time.Time
}

// Router executes swaps. ExactInput fails with ErrTooLittleReceived when the output falls
// short of AmountOutMinimum and with ErrTransactionTooOld past the deadline.
type Router interface {
	ExactInput(ctx context.Context, params ExactInputParams) (amountOut *big.Int, err error)
}

// SwapLeg is one exact-input swap of a sequence.
type SwapLeg struct {
	Path     []byte
	AmountIn *big.Int
}

// Quoter prices swaps without executing them. QuoteExactInputs prices legs as if they ran
// one after another: each leg sees the pools as the legs before it leave them.
type Quoter interface {
	QuoteExactInput(ctx context.Context, path []byte, amountIn *big.Int) (amountOut *big.Int, err error)
	QuoteExactInputs(ctx context.Context, legs []SwapLeg) (amountsOut []*big.Int, err error)
}

// PositionKey returns keccak256(owner ‖ tickLower ‖ tickUpper) with the ticks packed as
// 24-bit two's complement, the key a pool files a position under.
func PositionKey(owner common.Address, tickLower, tickUpper int32) common.Hash {
	buf := make([]byte, 0, common.AddressLength+6)
	buf = append(buf, owner.Bytes()...)
	buf = appendInt24(buf, tickLower)
	buf = appendInt24(buf, tickUpper)
	return crypto.Keccak256Hash(buf)
}

func appendInt24(b []byte, v int32) []byte {
	u := uint32(v) & 0xffffff
	return append(b, byte(u>>16), byte(u>>8), byte(u))
}

// SortTokens returns the pair in canonical (token0, token1) order.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}
