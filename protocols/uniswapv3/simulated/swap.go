package simulated

import (
	"context"
	"fmt"
	"math/big"
	"slices"

	"github.com/defistate/lpfund-go/fixedpoint"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/tickmath"
	"github.com/ethereum/go-ethereum/common"
)

// feeDenominator is the denominator for fee calculations, representing 100% or 1,000,000 ppm.
var feeDenominator = big.NewInt(1_000_000)

// swapStep is the outcome of a swap within a single initialized-tick interval.
type swapStep struct {
	sqrtRatioNextX96 *big.Int
	amountIn         *big.Int
	amountOut        *big.Int
	feeAmount        *big.Int
}

// computeSwapStep moves the price from current toward target, spending at most
// amountRemaining of input including the fee.
func computeSwapStep(current, target, liquidity, amountRemaining *big.Int, feePips uint32) (swapStep, error) {
	zeroForOne := current.Cmp(target) >= 0
	fee := new(big.Int).SetUint64(uint64(feePips))
	lessFeeNumerator := new(big.Int).Sub(feeDenominator, fee)

	amountRemainingLessFee, err := fixedpoint.MulDiv(amountRemaining, lessFeeNumerator, feeDenominator)
	if err != nil {
		return swapStep{}, err
	}

	var step swapStep
	if zeroForOne {
		step.amountIn, err = fixedpoint.Amount0Delta(target, current, liquidity, true)
		if err != nil {
			return swapStep{}, err
		}
	} else {
		step.amountIn = fixedpoint.Amount1Delta(current, target, liquidity, true)
	}

	if amountRemainingLessFee.Cmp(step.amountIn) >= 0 {
		step.sqrtRatioNextX96 = new(big.Int).Set(target)
	} else {
		step.sqrtRatioNextX96, err = fixedpoint.NextSqrtPriceFromInput(current, liquidity, amountRemainingLessFee, zeroForOne)
		if err != nil {
			return swapStep{}, err
		}
	}

	reachedTarget := step.sqrtRatioNextX96.Cmp(target) == 0
	if zeroForOne {
		if !reachedTarget {
			if step.amountIn, err = fixedpoint.Amount0Delta(step.sqrtRatioNextX96, current, liquidity, true); err != nil {
				return swapStep{}, err
			}
		}
		step.amountOut = fixedpoint.Amount1Delta(step.sqrtRatioNextX96, current, liquidity, false)
	} else {
		if !reachedTarget {
			step.amountIn = fixedpoint.Amount1Delta(current, step.sqrtRatioNextX96, liquidity, true)
		}
		if step.amountOut, err = fixedpoint.Amount0Delta(current, step.sqrtRatioNextX96, liquidity, false); err != nil {
			return swapStep{}, err
		}
	}

	if !reachedTarget {
		// the target was not reached, so the rest of the input is the fee
		step.feeAmount = new(big.Int).Sub(amountRemaining, step.amountIn)
	} else {
		step.feeAmount, err = fixedpoint.MulDivRoundingUp(step.amountIn, fee, lessFeeNumerator)
		if err != nil {
			return swapStep{}, err
		}
	}
	return step, nil
}

// Swap sells amountIn of tokenIn, paid by payer, and sends the output to recipient. The
// pool's price, active liquidity and fee accumulators move accordingly. If the price hits
// the end of the tick range only part of amountIn is taken.
func (p *Pool) Swap(ctx context.Context, payer, recipient, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	zeroForOne, err := p.direction(tokenIn)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.simulate(zeroForOne, amountIn)
	if err != nil {
		return nil, err
	}
	tokenOut := p.token1
	if !zeroForOne {
		tokenOut = p.token0
	}
	if err := p.ledger.Transfer(ctx, tokenIn, payer, p.address, res.amountIn); err != nil {
		return nil, fmt.Errorf("pay %s: %w", tokenIn, err)
	}
	if err := p.ledger.Transfer(ctx, tokenOut, p.address, recipient, res.amountOut); err != nil {
		_ = p.ledger.Transfer(ctx, tokenIn, p.address, payer, res.amountIn)
		return nil, fmt.Errorf("pay out %s: %w", tokenOut, err)
	}
	p.apply(res)
	return res.amountOut, nil
}

// Quote returns what Swap would pay out without changing the pool.
func (p *Pool) Quote(ctx context.Context, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	zeroForOne, err := p.direction(tokenIn)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	res, err := p.simulate(zeroForOne, amountIn)
	if err != nil {
		return nil, err
	}
	return res.amountOut, nil
}

// swapUnsettled runs a swap on a scratch copy from clone. No tokens move.
func (p *Pool) swapUnsettled(tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	zeroForOne, err := p.direction(tokenIn)
	if err != nil {
		return nil, err
	}
	res, err := p.simulate(zeroForOne, amountIn)
	if err != nil {
		return nil, err
	}
	p.apply(res)
	return res.amountOut, nil
}

// clone copies the pool's price, liquidity, fee and tick state. The copy has no ledger
// and no positions and is only ever swapped with swapUnsettled.
func (p *Pool) clone() *Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c := &Pool{
		address:         p.address,
		token0:          p.token0,
		token1:          p.token1,
		fee:             p.fee,
		tickSpacing:     p.tickSpacing,
		sqrtPriceX96:    new(big.Int).Set(p.sqrtPriceX96),
		tick:            p.tick,
		liquidity:       new(big.Int).Set(p.liquidity),
		feeGrowthGlobal: [2]*big.Int{new(big.Int).Set(p.feeGrowthGlobal[0]), new(big.Int).Set(p.feeGrowthGlobal[1])},
		ticks:           make(map[int32]*tickState, len(p.ticks)),
		initialized:     slices.Clone(p.initialized),
	}
	for tick, state := range p.ticks {
		c.ticks[tick] = &tickState{
			liquidityGross: new(big.Int).Set(state.liquidityGross),
			liquidityNet:   new(big.Int).Set(state.liquidityNet),
			feeGrowthOutside: [2]*big.Int{
				new(big.Int).Set(state.feeGrowthOutside[0]),
				new(big.Int).Set(state.feeGrowthOutside[1]),
			},
		}
	}
	return c
}

func (p *Pool) direction(tokenIn common.Address) (bool, error) {
	switch tokenIn {
	case p.token0:
		return true, nil
	case p.token1:
		return false, nil
	}
	return false, fmt.Errorf("%w: %s is not in pool %s", ErrTokenMismatch, tokenIn, p.address)
}

// crossing records a tick passed during a swap and the input-side fee growth at that
// moment.
type crossing struct {
	tick      int32
	feeGrowth *big.Int
}

// swapResult is the end state of a simulated swap.
type swapResult struct {
	zeroForOne   bool
	amountIn     *big.Int
	amountOut    *big.Int
	sqrtPriceX96 *big.Int
	tick         int32
	liquidity    *big.Int
	feeGrowth    *big.Int
	crossed      []crossing
}

// simulate walks the initialized ticks in the swap direction, one computeSwapStep per
// interval, crossing ticks as the price reaches them. The pool is not modified. The
// caller holds p.mu.
func (p *Pool) simulate(zeroForOne bool, amountIn *big.Int) (*swapResult, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	limit := new(big.Int).Add(tickmath.MinSqrtRatio, big.NewInt(1))
	feeIndex := 0
	if !zeroForOne {
		limit = new(big.Int).Sub(tickmath.MaxSqrtRatio, big.NewInt(1))
		feeIndex = 1
	}

	remaining := new(big.Int).Set(amountIn)
	res := &swapResult{
		zeroForOne:   zeroForOne,
		amountOut:    new(big.Int),
		sqrtPriceX96: new(big.Int).Set(p.sqrtPriceX96),
		tick:         p.tick,
		liquidity:    new(big.Int).Set(p.liquidity),
		feeGrowth:    new(big.Int).Set(p.feeGrowthGlobal[feeIndex]),
	}

	for remaining.Sign() > 0 && res.sqrtPriceX96.Cmp(limit) != 0 {
		start := res.sqrtPriceX96

		target := limit
		tickNext, found := p.nextInitializedTick(res.tick, zeroForOne)
		var sqrtNext *big.Int
		if found {
			next, err := tickmath.SqrtRatioAtTick(tickNext)
			if err != nil {
				return nil, err
			}
			if (zeroForOne && next.Cmp(limit) > 0) || (!zeroForOne && next.Cmp(limit) < 0) {
				target, sqrtNext = next, next
			}
		}

		step, err := computeSwapStep(res.sqrtPriceX96, target, res.liquidity, remaining, p.fee)
		if err != nil {
			return nil, err
		}
		remaining.Sub(remaining, step.amountIn)
		remaining.Sub(remaining, step.feeAmount)
		res.amountOut.Add(res.amountOut, step.amountOut)
		if res.liquidity.Sign() > 0 {
			res.feeGrowth = fixedpoint.WrappingAdd(res.feeGrowth, fixedpoint.FeeGrowthDelta(step.feeAmount, res.liquidity))
		}
		res.sqrtPriceX96 = step.sqrtRatioNextX96

		switch {
		case sqrtNext != nil && res.sqrtPriceX96.Cmp(sqrtNext) == 0:
			net := new(big.Int).Set(p.ticks[tickNext].liquidityNet)
			if zeroForOne {
				net.Neg(net)
			}
			if res.liquidity, err = fixedpoint.AddDelta(res.liquidity, net); err != nil {
				return nil, err
			}
			res.crossed = append(res.crossed, crossing{tick: tickNext, feeGrowth: res.feeGrowth})
			if zeroForOne {
				res.tick = tickNext - 1
			} else {
				res.tick = tickNext
			}
		case res.sqrtPriceX96.Cmp(start) != 0:
			if res.tick, err = tickmath.TickAtSqrtRatio(res.sqrtPriceX96); err != nil {
				return nil, err
			}
		}
	}

	res.amountIn = new(big.Int).Sub(amountIn, remaining)
	return res, nil
}

// apply commits a simulated swap. Crossed ticks flip their outside accumulators using
// the fee growth current at the moment they were crossed. The caller holds p.mu.
func (p *Pool) apply(res *swapResult) {
	feeIndex := 0
	if !res.zeroForOne {
		feeIndex = 1
	}
	for _, c := range res.crossed {
		global := p.feeGrowthGlobal
		global[feeIndex] = c.feeGrowth
		state := p.ticks[c.tick]
		for i := range state.feeGrowthOutside {
			state.feeGrowthOutside[i] = fixedpoint.WrappingSub(global[i], state.feeGrowthOutside[i])
		}
	}
	p.feeGrowthGlobal[feeIndex] = res.feeGrowth
	p.sqrtPriceX96 = res.sqrtPriceX96
	p.tick = res.tick
	p.liquidity = res.liquidity
}

// nextInitializedTick returns the nearest initialized tick at or below tick when the
// price is falling, or strictly above it when the price is rising.
func (p *Pool) nextInitializedTick(tick int32, lte bool) (int32, bool) {
	i, found := slices.BinarySearch(p.initialized, tick)
	if lte {
		if found {
			return p.initialized[i], true
		}
		if i == 0 {
			return 0, false
		}
		return p.initialized[i-1], true
	}
	if found {
		i++
	}
	if i >= len(p.initialized) {
		return 0, false
	}
	return p.initialized[i], true
}
