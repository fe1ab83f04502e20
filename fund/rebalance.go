package fund

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/lpfund-go/fixedpoint"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/tickmath"
	"github.com/ethereum/go-ethereum/common"
)

type InitParams struct {
	TokenA    common.Address
	TokenB    common.Address
	Fee       uint32
	TickLower int32
	TickUpper int32
	// Amount of idle invest token to deploy. Zero creates an empty placeholder.
	Amount   *big.Int
	Deadline time.Time
}

type AddParams struct {
	PoolIndex     int
	PositionIndex int
	Amount        *big.Int
	// Collect folds the position's accrued fees into the new liquidity.
	Collect  bool
	Deadline time.Time
}

type SubParams struct {
	PoolIndex      int
	PositionIndex  int
	ProportionX128 *big.Int
	Deadline       time.Time
}

type MoveParams struct {
	PoolIndex      int
	From           int
	To             int
	ProportionX128 *big.Int
	Deadline       time.Time
}

// Init opens a position over [TickLower, TickUpper) in the venue pool for (TokenA, TokenB,
// Fee), adding a pool entry on first use. The venue pool must already exist with a price.
func (f *Fund) Init(ctx context.Context, caller common.Address, params InitParams) (err error) {
	done := f.observe("init")
	defer func() { done(err) }()

	if err := f.checkManager(caller); err != nil {
		return err
	}
	if err := f.checkDeadline(params.Deadline); err != nil {
		return err
	}
	if params.TokenA.Cmp(params.TokenB) >= 0 {
		return fmt.Errorf("%w: %s >= %s", ErrUnsortedTokens, params.TokenA, params.TokenB)
	}
	if err := tickmath.ValidateRange(params.TickLower, params.TickUpper, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTicks, err)
	}

	venue, ok := f.factory.GetPool(params.TokenA, params.TokenB, params.Fee)
	if !ok {
		return fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, params.TokenA, params.TokenB, params.Fee)
	}
	slot0, err := venue.Slot0(ctx)
	if err != nil {
		return fmt.Errorf("pool %s slot0: %w", venue.Address(), err)
	}
	if slot0.SqrtPriceX96 == nil || slot0.SqrtPriceX96.Sign() == 0 {
		return fmt.Errorf("%w: %s is not initialized", ErrPoolNotFound, venue.Address())
	}
	if err := tickmath.ValidateRange(params.TickLower, params.TickUpper, venue.TickSpacing()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTicks, err)
	}

	poolIndex := -1
	for i, p := range f.pools {
		if p.Token0 == params.TokenA && p.Token1 == params.TokenB && p.Fee == params.Fee {
			poolIndex = i
			break
		}
	}
	var entry *poolEntry
	if poolIndex >= 0 {
		entry = f.pools[poolIndex]
	} else {
		entry = &poolEntry{
			Pool: Pool{
				Address: venue.Address(),
				Token0:  params.TokenA,
				Token1:  params.TokenB,
				Fee:     params.Fee,
			},
			venue: venue,
		}
	}

	pos := Position{TickLower: params.TickLower, TickUpper: params.TickUpper, IsEmpty: true}
	if k := entry.occupied(pos, -1); k >= 0 {
		return fmt.Errorf("%w: pool %s [%d, %d) at index %d", ErrDuplicatePosition, entry.Address, pos.TickLower, pos.TickUpper, k)
	}

	liquidity := new(big.Int)
	if params.Amount != nil && params.Amount.Sign() > 0 {
		if liquidity, err = f.deploy(ctx, entry, pos, params.Amount, false, params.Deadline); err != nil {
			return err
		}
		pos.IsEmpty = false
	}

	if poolIndex < 0 {
		f.pools = append(f.pools, entry)
		poolIndex = len(f.pools) - 1
	}
	entry.positions = append(entry.positions, pos)
	positionIndex := len(entry.positions) - 1

	f.logger.Info("Position initialized",
		"fund", f.address,
		"pool", poolIndex,
		"position", positionIndex,
		"tickLower", pos.TickLower,
		"tickUpper", pos.TickUpper,
		"liquidity", liquidity,
	)
	f.emit(Event{
		Kind:      EventInit,
		Account:   caller,
		Amount:    hexBig(params.Amount),
		Liquidity: hexBig(liquidity),
		Position:  &PositionRef{Pool: poolIndex, Position: positionIndex},
	})
	return nil
}

// Add deploys Amount of idle invest token into an existing position. The amount is split
// between the pair at the current price, each side is bought along its buy path and the
// proceeds are minted as liquidity.
func (f *Fund) Add(ctx context.Context, caller common.Address, params AddParams) (err error) {
	done := f.observe("add")
	defer func() { done(err) }()

	if err := f.checkManager(caller); err != nil {
		return err
	}
	if err := f.checkDeadline(params.Deadline); err != nil {
		return err
	}
	p, err := f.pool(params.PoolIndex)
	if err != nil {
		return err
	}
	pos, err := p.position(params.PoolIndex, params.PositionIndex)
	if err != nil {
		return err
	}
	if k := p.occupied(pos, params.PositionIndex); k >= 0 {
		return fmt.Errorf("%w: range [%d, %d) is live at index %d", ErrDuplicatePosition, pos.TickLower, pos.TickUpper, k)
	}
	if params.Amount == nil || params.Amount.Sign() == 0 {
		return ErrZeroAmount
	}

	liquidity, err := f.deploy(ctx, p, pos, params.Amount, params.Collect, params.Deadline)
	if err != nil {
		return err
	}
	p.positions[params.PositionIndex].IsEmpty = false

	f.logger.Info("Liquidity added",
		"fund", f.address,
		"pool", params.PoolIndex,
		"position", params.PositionIndex,
		"amount", params.Amount,
		"liquidity", liquidity,
	)
	f.emit(Event{
		Kind:      EventAdd,
		Account:   caller,
		Amount:    hexBig(params.Amount),
		Liquidity: hexBig(liquidity),
		Position:  &PositionRef{Pool: params.PoolIndex, Position: params.PositionIndex},
	})
	return nil
}

// Sub removes ProportionX128 (on the 100*2^128 scale) of a position, sells what comes out
// back to the invest token and keeps the proceeds idle. At 100% the position is left
// empty.
func (f *Fund) Sub(ctx context.Context, caller common.Address, params SubParams) (err error) {
	done := f.observe("sub")
	defer func() { done(err) }()

	if err := f.checkManager(caller); err != nil {
		return err
	}
	if err := f.checkDeadline(params.Deadline); err != nil {
		return err
	}
	p, err := f.pool(params.PoolIndex)
	if err != nil {
		return err
	}
	pos, err := p.position(params.PoolIndex, params.PositionIndex)
	if err != nil {
		return err
	}
	if err := checkProportion(params.ProportionX128); err != nil {
		return err
	}
	if pos.IsEmpty {
		return fmt.Errorf("%w: pool %d position %d", ErrPositionEmpty, params.PoolIndex, params.PositionIndex)
	}

	amount, err := f.liquidate(ctx, p, params.PositionIndex, params.ProportionX128, params.Deadline)
	if err != nil {
		return err
	}
	f.logger.Info("Liquidity removed",
		"fund", f.address,
		"pool", params.PoolIndex,
		"position", params.PositionIndex,
		"proceeds", amount,
	)
	f.emit(Event{
		Kind:       EventSub,
		Account:    caller,
		Amount:     hexBig(amount),
		Proportion: hexBig(params.ProportionX128),
		Position:   &PositionRef{Pool: params.PoolIndex, Position: params.PositionIndex},
	})
	return nil
}

// Move shifts ProportionX128 of one position's liquidity into another range of the same
// pool. The released tokens are minted directly at the target range; whatever the mint
// leaves over is sold back to the invest token.
func (f *Fund) Move(ctx context.Context, caller common.Address, params MoveParams) (err error) {
	done := f.observe("move")
	defer func() { done(err) }()

	if err := f.checkManager(caller); err != nil {
		return err
	}
	if err := f.checkDeadline(params.Deadline); err != nil {
		return err
	}
	p, err := f.pool(params.PoolIndex)
	if err != nil {
		return err
	}
	from, err := p.position(params.PoolIndex, params.From)
	if err != nil {
		return err
	}
	to, err := p.position(params.PoolIndex, params.To)
	if err != nil {
		return err
	}
	if params.From == params.To || (from.TickLower == to.TickLower && from.TickUpper == to.TickUpper) {
		return fmt.Errorf("%w: %d -> %d", ErrSamePosition, params.From, params.To)
	}
	if err := checkProportion(params.ProportionX128); err != nil {
		return err
	}
	if from.IsEmpty {
		return fmt.Errorf("%w: pool %d position %d", ErrPositionEmpty, params.PoolIndex, params.From)
	}
	if k := p.occupied(to, params.To); k >= 0 {
		return fmt.Errorf("%w: range [%d, %d) is live at index %d", ErrDuplicatePosition, to.TickLower, to.TickUpper, k)
	}
	if err := f.requirePaths(p.Token0, p.Token1); err != nil {
		return err
	}

	sqrtLower, sqrtUpper, err := sqrtRange(to)
	if err != nil {
		return err
	}

	// Price the move before touching the venue: the target range must take some of the
	// released tokens and the leftovers must be sellable.
	s, err := f.snapshot(ctx, p, from)
	if err != nil {
		return err
	}
	var expected [2]*big.Int
	for i := range expected {
		expected[i] = fixedpoint.ProportionOf(s.total(i), params.ProportionX128)
	}
	planned := fixedpoint.LiquidityForAmounts(s.slot0.SqrtPriceX96, sqrtLower, sqrtUpper, expected[0], expected[1])
	if planned.Sign() == 0 {
		return fmt.Errorf("%w: released tokens cannot fund range [%d, %d)", ErrAmountTooSmall, to.TickLower, to.TickUpper)
	}
	used0, used1, err := fixedpoint.PrincipalAmounts(s.slot0.Tick, to.TickLower, to.TickUpper, s.slot0.SqrtPriceX96, sqrtLower, sqrtUpper, planned, true)
	if err != nil {
		return err
	}
	leftovers := [2]*big.Int{expected[0].Sub(expected[0], used0), expected[1].Sub(expected[1], used1)}
	if _, err := f.planSwaps(ctx, f.sellLegs(p, leftovers)...); err != nil {
		return err
	}

	released, err := f.release(ctx, p, params.From, params.ProportionX128)
	if err != nil {
		return err
	}

	liquidity := fixedpoint.LiquidityForAmounts(s.slot0.SqrtPriceX96, sqrtLower, sqrtUpper, released[0], released[1])
	leftover := released
	if liquidity.Sign() > 0 {
		spent0, spent1, err := p.venue.Mint(ctx, f.address, to.TickLower, to.TickUpper, liquidity)
		if err != nil {
			f.restore(ctx, p, params.From, released)
			return fmt.Errorf("pool %s mint: %w", p.Address, err)
		}
		leftover = [2]*big.Int{
			new(big.Int).Sub(released[0], spent0),
			new(big.Int).Sub(released[1], spent1),
		}
		p.positions[params.To].IsEmpty = false
	}

	// The range already holds the liquidity; unsold leftovers stay with the fund.
	plan, err := f.planSwaps(ctx, f.sellLegs(p, leftover)...)
	if err == nil {
		_, err = f.execute(ctx, plan, params.Deadline)
	}
	if err != nil {
		f.logger.Warn("Kept move leftovers",
			"fund", f.address,
			"pool", params.PoolIndex,
			"amount0", leftover[0],
			"amount1", leftover[1],
			"err", err,
		)
	}

	f.logger.Info("Liquidity moved",
		"fund", f.address,
		"pool", params.PoolIndex,
		"from", params.From,
		"to", params.To,
		"liquidity", liquidity,
	)
	target := params.To
	f.emit(Event{
		Kind:       EventMove,
		Account:    caller,
		Proportion: hexBig(params.ProportionX128),
		Liquidity:  hexBig(liquidity),
		Position:   &PositionRef{Pool: params.PoolIndex, Position: params.From, To: &target},
	})
	return nil
}

// --- Internals ---

func (p *poolEntry) position(poolIndex, positionIndex int) (Position, error) {
	if positionIndex < 0 || positionIndex >= len(p.positions) {
		return Position{}, fmt.Errorf("%w: position %d of pool %d", ErrIndexOutOfRange, positionIndex, poolIndex)
	}
	return p.positions[positionIndex], nil
}

// occupied returns the index of a non-empty position other than skip that covers the
// same range as pos, or -1. Two live entries over one range would share a single venue
// position and be valued twice.
func (p *poolEntry) occupied(pos Position, skip int) int {
	for k, other := range p.positions {
		if k == skip || other.IsEmpty {
			continue
		}
		if other.TickLower == pos.TickLower && other.TickUpper == pos.TickUpper {
			return k
		}
	}
	return -1
}

func checkProportion(proportionX128 *big.Int) error {
	if proportionX128 == nil || proportionX128.Sign() <= 0 || proportionX128.Cmp(fixedpoint.Percent100X128) > 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidProportion, proportionX128)
	}
	return nil
}

func sqrtRange(pos Position) (*big.Int, *big.Int, error) {
	lower, err := tickmath.SqrtRatioAtTick(pos.TickLower)
	if err != nil {
		return nil, nil, err
	}
	upper, err := tickmath.SqrtRatioAtTick(pos.TickUpper)
	if err != nil {
		return nil, nil, err
	}
	return lower, upper, nil
}

// deploy spends amount of idle invest token on liquidity for pos in p and returns the
// liquidity minted. With collect set, the position's accrued fees are collected after the
// buys and minted alongside. A failure after the buys swaps them back.
func (f *Fund) deploy(ctx context.Context, p *poolEntry, pos Position, amount *big.Int, collect bool, deadline time.Time) (*big.Int, error) {
	if amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if idle := f.IdleBalance(); idle.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrInsufficientIdle, amount, idle)
	}
	if err := f.requirePaths(p.Token0, p.Token1); err != nil {
		return nil, err
	}
	sqrtLower, sqrtUpper, err := sqrtRange(pos)
	if err != nil {
		return nil, err
	}
	slot0, err := p.venue.Slot0(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool %s slot0: %w", p.Address, err)
	}

	// Value the amount in token0 so the split can be read off the range.
	deltaX := new(big.Int).Set(amount)
	if p.Token0 != f.investToken {
		price, err := f.routePrice(ctx, f.buyPath[p.Token0])
		if err != nil {
			return nil, err
		}
		deltaX = fixedpoint.Convert(amount, price)
	}
	if deltaX.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s is worth nothing in %s", ErrAmountTooSmall, amount, p.Token0)
	}
	want0, want1 := fixedpoint.SplitForRange(slot0.SqrtPriceX96, sqrtLower, sqrtUpper, deltaX)
	if fixedpoint.LiquidityForAmounts(slot0.SqrtPriceX96, sqrtLower, sqrtUpper, want0, want1).Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAmountTooSmall, amount)
	}

	spend := [2]*big.Int{}
	if spend[0], err = fixedpoint.MulDiv(amount, want0, deltaX); err != nil {
		return nil, err
	}
	spend[1] = new(big.Int).Sub(amount, spend[0])

	// The buys are priced as one sequence before anything moves.
	tokens := [2]common.Address{p.Token0, p.Token1}
	var legs [2]swapLeg
	for i, token := range tokens {
		if token != f.investToken {
			legs[i] = swapLeg{route: f.buyPath[token], amountIn: spend[i]}
		}
	}
	plan, err := f.planSwaps(ctx, legs[:]...)
	if err != nil {
		return nil, err
	}
	outs, err := f.execute(ctx, plan, deadline)
	if err != nil {
		return nil, err
	}

	got := [2]*big.Int{new(big.Int), new(big.Int)}
	for i, token := range tokens {
		if token == f.investToken {
			got[i].Set(spend[i])
		} else {
			got[i].Set(outs[i])
		}
	}
	if collect && !pos.IsEmpty {
		fees0, fees1, err := f.collectFees(ctx, p, pos)
		if err != nil {
			f.unwind(ctx, plan.legs, outs)
			return nil, err
		}
		got[0].Add(got[0], fees0)
		got[1].Add(got[1], fees1)
	}

	// The swaps may have run through this pool.
	if slot0, err = p.venue.Slot0(ctx); err != nil {
		f.unwind(ctx, plan.legs, outs)
		return nil, fmt.Errorf("pool %s slot0: %w", p.Address, err)
	}
	liquidity := fixedpoint.LiquidityForAmounts(slot0.SqrtPriceX96, sqrtLower, sqrtUpper, got[0], got[1])
	if liquidity.Sign() == 0 {
		f.unwind(ctx, plan.legs, outs)
		return nil, fmt.Errorf("%w: swapped amounts mint no liquidity", ErrAmountTooSmall)
	}
	spent0, spent1, err := p.venue.Mint(ctx, f.address, pos.TickLower, pos.TickUpper, liquidity)
	if err != nil {
		f.unwind(ctx, plan.legs, outs)
		return nil, fmt.Errorf("pool %s mint: %w", p.Address, err)
	}
	f.logger.Debug("Minted liquidity",
		"pool", p.Address,
		"liquidity", liquidity,
		"amount0", spent0,
		"amount1", spent1,
		"dust0", new(big.Int).Sub(got[0], spent0),
		"dust1", new(big.Int).Sub(got[1], spent1),
	)
	return liquidity, nil
}

// collectFees settles and collects everything the venue owes on a live position.
func (f *Fund) collectFees(ctx context.Context, p *poolEntry, pos Position) (*big.Int, *big.Int, error) {
	if _, _, err := p.venue.Burn(ctx, f.address, pos.TickLower, pos.TickUpper, new(big.Int)); err != nil {
		return nil, nil, fmt.Errorf("pool %s settle: %w", p.Address, err)
	}
	amount0, amount1, err := p.venue.Collect(ctx, f.address, f.address, pos.TickLower, pos.TickUpper, fixedpoint.MaxUint128, fixedpoint.MaxUint128)
	if err != nil {
		return nil, nil, fmt.Errorf("pool %s collect: %w", p.Address, err)
	}
	return amount0, amount1, nil
}

// release burns proportionX128 of position j's liquidity and collects the burned
// principal plus the same share of its fees into the fund. At 100% everything owed is
// collected and the position is marked empty.
func (f *Fund) release(ctx context.Context, p *poolEntry, j int, proportionX128 *big.Int) ([2]*big.Int, error) {
	pos := p.positions[j]
	s, err := f.snapshot(ctx, p, pos)
	if err != nil {
		return [2]*big.Int{}, err
	}

	full := proportionX128.Cmp(fixedpoint.Percent100X128) == 0
	burn := fixedpoint.ProportionOf(s.liquidity, proportionX128)
	burned := [2]*big.Int{new(big.Int), new(big.Int)}
	if s.liquidity.Sign() > 0 {
		burned[0], burned[1], err = p.venue.Burn(ctx, f.address, pos.TickLower, pos.TickUpper, burn)
		if err != nil {
			return [2]*big.Int{}, fmt.Errorf("pool %s burn: %w", p.Address, err)
		}
	}

	max0, max1 := fixedpoint.MaxUint128, fixedpoint.MaxUint128
	if !full {
		max0 = new(big.Int).Add(burned[0], fixedpoint.ProportionOf(s.fees[0], proportionX128))
		max1 = new(big.Int).Add(burned[1], fixedpoint.ProportionOf(s.fees[1], proportionX128))
	}
	amount0, amount1, err := p.venue.Collect(ctx, f.address, f.address, pos.TickLower, pos.TickUpper, max0, max1)
	if err != nil {
		return [2]*big.Int{}, fmt.Errorf("pool %s collect: %w", p.Address, err)
	}
	if full || burn.Cmp(s.liquidity) == 0 {
		p.positions[j].IsEmpty = true
	}
	return [2]*big.Int{amount0, amount1}, nil
}

// sellLegs returns one sale per side of p: amounts[i] along token i's sell path, or a zero
// leg for the invest token.
func (f *Fund) sellLegs(p *poolEntry, amounts [2]*big.Int) []swapLeg {
	legs := make([]swapLeg, 2)
	for i, token := range [2]common.Address{p.Token0, p.Token1} {
		if token != f.investToken {
			legs[i] = swapLeg{route: f.sellPath[token], amountIn: amounts[i]}
		}
	}
	return legs
}

// restore mints what release took out of position j back into it at the current price.
// It runs after the sale of released tokens failed and their swaps were unwound.
func (f *Fund) restore(ctx context.Context, p *poolEntry, j int, released [2]*big.Int) {
	pos := p.positions[j]
	amounts := [2]*big.Int{}
	for i, token := range [2]common.Address{p.Token0, p.Token1} {
		amounts[i] = released[i]
		if held := f.tokens.BalanceOf(token, f.address); held.Cmp(amounts[i]) < 0 {
			amounts[i] = held
		}
	}

	err := func() error {
		sqrtLower, sqrtUpper, err := sqrtRange(pos)
		if err != nil {
			return err
		}
		slot0, err := p.venue.Slot0(ctx)
		if err != nil {
			return err
		}
		liquidity := fixedpoint.LiquidityForAmounts(slot0.SqrtPriceX96, sqrtLower, sqrtUpper, amounts[0], amounts[1])
		if liquidity.Sign() == 0 {
			return nil
		}
		if _, _, err := p.venue.Mint(ctx, f.address, pos.TickLower, pos.TickUpper, liquidity); err != nil {
			return err
		}
		p.positions[j].IsEmpty = false
		return nil
	}()
	if err != nil {
		f.logger.Error("Failed to restore released liquidity",
			"fund", f.address,
			"pool", p.Address,
			"position", j,
			"amount0", amounts[0],
			"amount1", amounts[1],
			"err", err,
		)
	}
}

// liquidate releases proportionX128 of position j and sells the proceeds to the invest
// token. It returns the invest-token amount the fund received. When the sale fails after
// the release, the released tokens are minted back into the position.
func (f *Fund) liquidate(ctx context.Context, p *poolEntry, j int, proportionX128 *big.Int, deadline time.Time) (*big.Int, error) {
	if err := f.requirePaths(p.Token0, p.Token1); err != nil {
		return nil, err
	}
	s, err := f.snapshot(ctx, p, p.positions[j])
	if err != nil {
		return nil, err
	}
	expected := [2]*big.Int{
		fixedpoint.ProportionOf(s.total(0), proportionX128),
		fixedpoint.ProportionOf(s.total(1), proportionX128),
	}
	if _, err := f.planSwaps(ctx, f.sellLegs(p, expected)...); err != nil {
		return nil, err
	}

	released, err := f.release(ctx, p, j, proportionX128)
	if err != nil {
		return nil, err
	}
	plan, err := f.planSwaps(ctx, f.sellLegs(p, released)...)
	var outs []*big.Int
	if err == nil {
		outs, err = f.execute(ctx, plan, deadline)
	}
	if err != nil {
		f.restore(ctx, p, j, released)
		return nil, err
	}

	proceeds := new(big.Int)
	for i, token := range [2]common.Address{p.Token0, p.Token1} {
		if token == f.investToken {
			proceeds.Add(proceeds, released[i])
		} else {
			proceeds.Add(proceeds, outs[i])
		}
	}
	return proceeds, nil
}
