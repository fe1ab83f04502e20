// Package simulated is an in-memory concentrated-liquidity venue: pools with real tick,
// fee-growth and position bookkeeping, a pool factory, an exact-input router and a
// quoter. It stands in for an on-chain venue in simulations and tests.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/defistate/lpfund-go/fixedpoint"
	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/tickmath"
	"github.com/ethereum/go-ethereum/common"
)

// Ledger moves tokens between accounts. Pools settle mints, collects and swaps through it.
type Ledger interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}

var (
	ErrUnsupportedFee = errors.New("unsupported fee tier")
	ErrZeroLiquidity  = errors.New("liquidity must be greater than zero")
	ErrNoPosition     = errors.New("position has no liquidity")
	ErrInvalidAmount  = errors.New("amount must be greater than zero")
	ErrTokenMismatch  = errors.New("token mismatch")
)

type tickState struct {
	liquidityGross   *big.Int
	liquidityNet     *big.Int
	feeGrowthOutside [2]*big.Int
}

type positionState struct {
	liquidity     *big.Int
	feeInsideLast [2]*big.Int
	tokensOwed    [2]*big.Int
}

func newPositionState() *positionState {
	return &positionState{
		liquidity:     new(big.Int),
		feeInsideLast: [2]*big.Int{new(big.Int), new(big.Int)},
		tokensOwed:    [2]*big.Int{new(big.Int), new(big.Int)},
	}
}

func (p *positionState) clone() *positionState {
	return &positionState{
		liquidity:     new(big.Int).Set(p.liquidity),
		feeInsideLast: [2]*big.Int{new(big.Int).Set(p.feeInsideLast[0]), new(big.Int).Set(p.feeInsideLast[1])},
		tokensOwed:    [2]*big.Int{new(big.Int).Set(p.tokensOwed[0]), new(big.Int).Set(p.tokensOwed[1])},
	}
}

// Pool is an in-memory Uniswap V3 pool. It is safe for concurrent use.
type Pool struct {
	address     common.Address
	token0      common.Address
	token1      common.Address
	fee         uint32
	tickSpacing int32
	ledger      Ledger

	mu              sync.RWMutex
	sqrtPriceX96    *big.Int
	tick            int32
	liquidity       *big.Int
	feeGrowthGlobal [2]*big.Int
	ticks           map[int32]*tickState
	// initialized holds the keys of ticks, sorted ascending.
	initialized []int32
	positions   map[common.Hash]*positionState
}

var _ uniswapv3.Pool = (*Pool)(nil)

// NewPool creates a pool for a sorted token pair at the given starting price. Token
// custody goes through ledger under the pool's address.
func NewPool(ledger Ledger, address, token0, token1 common.Address, fee uint32, sqrtPriceX96 *big.Int) (*Pool, error) {
	spacing := tickmath.SpacingForFee(fee)
	if spacing == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFee, fee)
	}
	if token0.Cmp(token1) >= 0 {
		return nil, fmt.Errorf("tokens must be sorted and distinct: %s, %s", token0, token1)
	}
	tick, err := tickmath.TickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return nil, err
	}

	return &Pool{
		address:         address,
		token0:          token0,
		token1:          token1,
		fee:             fee,
		tickSpacing:     spacing,
		ledger:          ledger,
		sqrtPriceX96:    new(big.Int).Set(sqrtPriceX96),
		tick:            tick,
		liquidity:       new(big.Int),
		feeGrowthGlobal: [2]*big.Int{new(big.Int), new(big.Int)},
		ticks:           make(map[int32]*tickState),
		positions:       make(map[common.Hash]*positionState),
	}, nil
}

func (p *Pool) Address() common.Address { return p.address }
func (p *Pool) Token0() common.Address  { return p.token0 }
func (p *Pool) Token1() common.Address  { return p.token1 }
func (p *Pool) Fee() uint32             { return p.fee }
func (p *Pool) TickSpacing() int32      { return p.tickSpacing }

func (p *Pool) Slot0(ctx context.Context) (uniswapv3.Slot0, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return uniswapv3.Slot0{SqrtPriceX96: new(big.Int).Set(p.sqrtPriceX96), Tick: p.tick}, nil
}

func (p *Pool) FeeGrowthGlobal(ctx context.Context) (*big.Int, *big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.feeGrowthGlobal[0]), new(big.Int).Set(p.feeGrowthGlobal[1]), nil
}

// Liquidity returns the liquidity active at the current price.
func (p *Pool) Liquidity() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.liquidity)
}

func (p *Pool) Position(ctx context.Context, key common.Hash) (uniswapv3.PositionInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, ok := p.positions[key]
	if !ok {
		pos = newPositionState()
	}
	pos = pos.clone()
	return uniswapv3.PositionInfo{
		Liquidity:                pos.liquidity,
		FeeGrowthInside0LastX128: pos.feeInsideLast[0],
		FeeGrowthInside1LastX128: pos.feeInsideLast[1],
		TokensOwed0:              pos.tokensOwed[0],
		TokensOwed1:              pos.tokensOwed[1],
	}, nil
}

func (p *Pool) Tick(ctx context.Context, tick int32) (uniswapv3.TickInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info := uniswapv3.TickInfo{
		Index:                 tick,
		LiquidityGross:        new(big.Int),
		LiquidityNet:          new(big.Int),
		FeeGrowthOutside0X128: new(big.Int),
		FeeGrowthOutside1X128: new(big.Int),
	}
	if t, ok := p.ticks[tick]; ok {
		info.LiquidityGross.Set(t.liquidityGross)
		info.LiquidityNet.Set(t.liquidityNet)
		info.FeeGrowthOutside0X128.Set(t.feeGrowthOutside[0])
		info.FeeGrowthOutside1X128.Set(t.feeGrowthOutside[1])
		info.Initialized = true
	}
	return info, nil
}

// Mint adds liquidity to owner's position, pulling the required token amounts (rounded
// up) from owner.
func (p *Pool) Mint(ctx context.Context, owner common.Address, tickLower, tickUpper int32, liquidity *big.Int) (*big.Int, *big.Int, error) {
	if liquidity == nil || liquidity.Sign() <= 0 {
		return nil, nil, ErrZeroLiquidity
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	update, err := p.prepareModify(owner, tickLower, tickUpper, liquidity)
	if err != nil {
		return nil, nil, err
	}
	if err := p.pay(ctx, owner, p.address, update.amount0, update.amount1); err != nil {
		return nil, nil, err
	}
	p.applyModify(update)
	return update.amount0, update.amount1, nil
}

// Burn removes liquidity from owner's position. The released amounts, rounded down, are
// added to the position's owed tokens and become available to Collect. Burning zero
// liquidity from a live position only settles its accrued fees.
func (p *Pool) Burn(ctx context.Context, owner common.Address, tickLower, tickUpper int32, liquidity *big.Int) (*big.Int, *big.Int, error) {
	if liquidity == nil || liquidity.Sign() < 0 {
		return nil, nil, ErrZeroLiquidity
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := uniswapv3.PositionKey(owner, tickLower, tickUpper)
	if pos, ok := p.positions[key]; liquidity.Sign() == 0 && (!ok || pos.liquidity.Sign() == 0) {
		return nil, nil, ErrNoPosition
	}

	update, err := p.prepareModify(owner, tickLower, tickUpper, new(big.Int).Neg(liquidity))
	if err != nil {
		return nil, nil, err
	}
	p.applyModify(update)
	pos := p.positions[key]
	pos.tokensOwed[0].Add(pos.tokensOwed[0], update.amount0)
	pos.tokensOwed[1].Add(pos.tokensOwed[1], update.amount1)
	return update.amount0, update.amount1, nil
}

// Collect pays up to max0/max1 of the position's owed tokens to recipient.
func (p *Pool) Collect(ctx context.Context, owner, recipient common.Address, tickLower, tickUpper int32, max0, max1 *big.Int) (*big.Int, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[uniswapv3.PositionKey(owner, tickLower, tickUpper)]
	if !ok {
		return new(big.Int), new(big.Int), nil
	}
	amount0 := minOf(pos.tokensOwed[0], max0)
	amount1 := minOf(pos.tokensOwed[1], max1)
	if err := p.pay(ctx, p.address, recipient, amount0, amount1); err != nil {
		return nil, nil, err
	}
	pos.tokensOwed[0].Sub(pos.tokensOwed[0], amount0)
	pos.tokensOwed[1].Sub(pos.tokensOwed[1], amount1)
	return amount0, amount1, nil
}

// pay moves amount0 of token0 and amount1 of token1 from one account to another. If the
// second leg fails the first is reversed.
func (p *Pool) pay(ctx context.Context, from, to common.Address, amount0, amount1 *big.Int) error {
	if amount0.Sign() > 0 {
		if err := p.ledger.Transfer(ctx, p.token0, from, to, amount0); err != nil {
			return fmt.Errorf("token0: %w", err)
		}
	}
	if amount1.Sign() > 0 {
		if err := p.ledger.Transfer(ctx, p.token1, from, to, amount1); err != nil {
			if amount0.Sign() > 0 {
				_ = p.ledger.Transfer(ctx, p.token0, to, from, amount0)
			}
			return fmt.Errorf("token1: %w", err)
		}
	}
	return nil
}

// modifyUpdate is a fully validated position change waiting to be applied.
type modifyUpdate struct {
	key          common.Hash
	tickLower    int32
	tickUpper    int32
	pos          *positionState
	newLiquidity *big.Int
	lower        *tickState
	upper        *tickState
	active       *big.Int
	amount0      *big.Int
	amount1      *big.Int
}

// prepareModify validates a signed liquidity delta against a position and computes the
// resulting token amounts without mutating the pool. The caller holds p.mu.
func (p *Pool) prepareModify(owner common.Address, tickLower, tickUpper int32, delta *big.Int) (*modifyUpdate, error) {
	if err := tickmath.ValidateRange(tickLower, tickUpper, p.tickSpacing); err != nil {
		return nil, err
	}

	u := &modifyUpdate{
		key:       uniswapv3.PositionKey(owner, tickLower, tickUpper),
		tickLower: tickLower,
		tickUpper: tickUpper,
	}
	if pos, ok := p.positions[u.key]; ok {
		u.pos = pos.clone()
	} else {
		u.pos = newPositionState()
	}

	var err error
	if u.newLiquidity, err = fixedpoint.AddDelta(u.pos.liquidity, delta); err != nil {
		return nil, err
	}
	if u.lower, err = p.nextTickState(tickLower, delta, false); err != nil {
		return nil, err
	}
	if u.upper, err = p.nextTickState(tickUpper, delta, true); err != nil {
		return nil, err
	}
	if p.tick >= tickLower && p.tick < tickUpper {
		if u.active, err = fixedpoint.AddDelta(p.liquidity, delta); err != nil {
			return nil, err
		}
	}

	sqrtLower, err := tickmath.SqrtRatioAtTick(tickLower)
	if err != nil {
		return nil, err
	}
	sqrtUpper, err := tickmath.SqrtRatioAtTick(tickUpper)
	if err != nil {
		return nil, err
	}
	u.amount0, u.amount1, err = fixedpoint.PrincipalAmounts(
		p.tick, tickLower, tickUpper,
		p.sqrtPriceX96, sqrtLower, sqrtUpper,
		new(big.Int).Abs(delta), delta.Sign() > 0,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// applyModify commits a prepared update: ticks first, then the position's fees are
// settled against the new fee growth inside, then the liquidity changes.
func (p *Pool) applyModify(u *modifyUpdate) {
	p.storeTick(u.tickLower, u.lower)
	p.storeTick(u.tickUpper, u.upper)
	if u.active != nil {
		p.liquidity = u.active
	}

	pos := u.pos
	inside := p.feeGrowthInside(u.tickLower, u.tickUpper)
	for i := range inside {
		earned := fixedpoint.FeesEarned(inside[i], pos.feeInsideLast[i], pos.liquidity)
		pos.tokensOwed[i].Add(pos.tokensOwed[i], earned)
		pos.feeInsideLast[i] = inside[i]
	}
	pos.liquidity = u.newLiquidity
	p.positions[u.key] = pos

	// ticks no longer referenced by any position are cleared after fees are settled
	for _, t := range []int32{u.tickLower, u.tickUpper} {
		if p.ticks[t].liquidityGross.Sign() == 0 {
			p.clearTick(t)
		}
	}
}

// nextTickState returns the state tick would have after delta is applied.
func (p *Pool) nextTickState(tick int32, delta *big.Int, upper bool) (*tickState, error) {
	next := &tickState{
		liquidityGross:   new(big.Int),
		liquidityNet:     new(big.Int),
		feeGrowthOutside: [2]*big.Int{new(big.Int), new(big.Int)},
	}
	if cur, ok := p.ticks[tick]; ok {
		next.liquidityGross.Set(cur.liquidityGross)
		next.liquidityNet.Set(cur.liquidityNet)
		next.feeGrowthOutside[0].Set(cur.feeGrowthOutside[0])
		next.feeGrowthOutside[1].Set(cur.feeGrowthOutside[1])
	} else if tick <= p.tick {
		// by convention all growth before initialization happened below the tick
		next.feeGrowthOutside[0].Set(p.feeGrowthGlobal[0])
		next.feeGrowthOutside[1].Set(p.feeGrowthGlobal[1])
	}

	gross, err := fixedpoint.AddDelta(next.liquidityGross, delta)
	if err != nil {
		return nil, err
	}
	next.liquidityGross = gross
	if upper {
		next.liquidityNet.Sub(next.liquidityNet, delta)
	} else {
		next.liquidityNet.Add(next.liquidityNet, delta)
	}
	return next, nil
}

func (p *Pool) storeTick(tick int32, state *tickState) {
	p.ticks[tick] = state
	if i, found := slices.BinarySearch(p.initialized, tick); !found {
		p.initialized = slices.Insert(p.initialized, i, tick)
	}
}

func (p *Pool) clearTick(tick int32) {
	delete(p.ticks, tick)
	if i, found := slices.BinarySearch(p.initialized, tick); found {
		p.initialized = slices.Delete(p.initialized, i, i+1)
	}
}

func (p *Pool) feeGrowthInside(tickLower, tickUpper int32) [2]*big.Int {
	var out [2]*big.Int
	for i := range out {
		lowerOutside, upperOutside := new(big.Int), new(big.Int)
		if t, ok := p.ticks[tickLower]; ok {
			lowerOutside = t.feeGrowthOutside[i]
		}
		if t, ok := p.ticks[tickUpper]; ok {
			upperOutside = t.feeGrowthOutside[i]
		}
		out[i] = fixedpoint.FeeGrowthInside(tickLower, tickUpper, p.tick, p.feeGrowthGlobal[i], lowerOutside, upperOutside)
	}
	return out
}

func minOf(owed, max *big.Int) *big.Int {
	if max == nil || owed.Cmp(max) <= 0 {
		return new(big.Int).Set(owed)
	}
	return new(big.Int).Set(max)
}
