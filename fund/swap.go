package fund

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/lpfund-go/fixedpoint"
	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/path"
)

var bpsDenominator = big.NewInt(10_000)

type swapLeg struct {
	route    []byte
	amountIn *big.Int
}

// swapPlan is a sequence of swaps priced together. minOut holds each leg's price impact
// floor against the prices before the first leg; quoted holds what the quoter expects
// each leg to return when the legs run in order.
type swapPlan struct {
	legs   []swapLeg
	minOut []*big.Int
	quoted []*big.Int
}

func (p *swapPlan) total() *big.Int {
	sum := new(big.Int)
	for _, q := range p.quoted {
		sum.Add(sum, q)
	}
	return sum
}

// planSwaps prices legs as one sequence and fails with ErrPriceImpact if any leg would
// return less than the controller's bound allows. Zero legs stay in the plan with a zero
// quote so callers can index the result. Nothing is executed.
func (f *Fund) planSwaps(ctx context.Context, legs ...swapLeg) (*swapPlan, error) {
	bps := f.controller.MaxPriceImpact()
	keep := new(big.Int).Sub(bpsDenominator, new(big.Int).SetUint64(uint64(bps)))
	if keep.Sign() < 0 {
		keep.SetInt64(0)
	}

	plan := &swapPlan{
		legs:   make([]swapLeg, len(legs)),
		minOut: make([]*big.Int, len(legs)),
		quoted: make([]*big.Int, len(legs)),
	}
	quoteLegs := make([]uniswapv3.SwapLeg, 0, len(legs))
	for k, leg := range legs {
		if leg.amountIn == nil || leg.amountIn.Sign() <= 0 {
			leg.amountIn = new(big.Int)
		}
		plan.legs[k] = leg
		plan.minOut[k] = new(big.Int)
		plan.quoted[k] = new(big.Int)
		if leg.amountIn.Sign() == 0 {
			continue
		}
		price, err := f.routePrice(ctx, leg.route)
		if err != nil {
			return nil, err
		}
		minOut := fixedpoint.Convert(leg.amountIn, price)
		minOut.Mul(minOut, keep)
		plan.minOut[k] = minOut.Quo(minOut, bpsDenominator)
		quoteLegs = append(quoteLegs, uniswapv3.SwapLeg{Path: leg.route, AmountIn: leg.amountIn})
	}
	if len(quoteLegs) == 0 {
		return plan, nil
	}

	quoted, err := f.quoter.QuoteExactInputs(ctx, quoteLegs)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	next := 0
	for k, leg := range plan.legs {
		if leg.amountIn.Sign() == 0 {
			continue
		}
		q := quoted[next]
		next++
		if q.Cmp(plan.minOut[k]) < 0 {
			return nil, fmt.Errorf("%w: leg %d quoted %s, floor %s at %d bps", ErrPriceImpact, k, q, plan.minOut[k], bps)
		}
		plan.quoted[k] = q
	}
	return plan, nil
}

// execute runs a plan's legs in order with each leg's planned floor. If a leg fails, the
// legs already run are swapped back and the leg's error is returned.
func (f *Fund) execute(ctx context.Context, plan *swapPlan, deadline time.Time) ([]*big.Int, error) {
	outs := make([]*big.Int, 0, len(plan.legs))
	for k, leg := range plan.legs {
		if leg.amountIn.Sign() == 0 {
			outs = append(outs, new(big.Int))
			continue
		}
		out, err := f.exactInput(ctx, leg.route, leg.amountIn, plan.minOut[k], deadline)
		if err != nil {
			f.unwind(ctx, plan.legs[:k], outs)
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// unwind sells the outputs of executed legs back along their reversed routes, last leg
// first. It takes whatever the venue gives.
func (f *Fund) unwind(ctx context.Context, legs []swapLeg, outs []*big.Int) {
	for k := len(legs) - 1; k >= 0; k-- {
		if outs[k].Sign() == 0 {
			continue
		}
		back, err := path.Reverse(legs[k].route)
		if err == nil {
			_, err = f.exactInput(ctx, back, outs[k], nil, time.Time{})
		}
		if err != nil {
			f.logger.Error("Failed to unwind swap",
				"fund", f.address,
				"leg", k,
				"amount", outs[k],
				"err", err,
			)
		}
	}
}

// exactInput sells amountIn of the route's first token held by the fund and returns the
// output credited to the fund.
func (f *Fund) exactInput(ctx context.Context, route []byte, amountIn, minOut *big.Int, deadline time.Time) (*big.Int, error) {
	out, err := f.router.ExactInput(ctx, uniswapv3.ExactInputParams{
		Path:             route,
		Payer:            f.address,
		Recipient:        f.address,
		AmountIn:         amountIn,
		AmountOutMinimum: minOut,
		Deadline:         deadline,
	})
	switch {
	case errors.Is(err, uniswapv3.ErrTooLittleReceived):
		return nil, fmt.Errorf("%w: %v", ErrPriceImpact, err)
	case errors.Is(err, uniswapv3.ErrTransactionTooOld):
		return nil, fmt.Errorf("%w: %v", ErrDeadlineExpired, err)
	case err != nil:
		return nil, fmt.Errorf("swap: %w", err)
	}
	return out, nil
}
