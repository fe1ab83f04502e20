package fund

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/defistate/lpfund-go/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

// Deposit pulls amount of invest token from the depositor, who must have approved the
// fund, and mints shares: 1:1 for the first deposit, amount*totalSupply/totalAssets after
// that. It returns the shares minted.
func (f *Fund) Deposit(ctx context.Context, from common.Address, amount *big.Int) (shares *big.Int, err error) {
	done := f.observe("deposit")
	defer func() { done(err) }()

	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if from == (common.Address{}) {
		return nil, ErrZeroAddress
	}

	if f.totalSupply.Sign() == 0 {
		shares = new(big.Int).Set(amount)
	} else {
		assets, err := f.TotalAssets(ctx)
		if err != nil {
			return nil, err
		}
		if assets.Sign() == 0 {
			return nil, fmt.Errorf("%w: supply %s", ErrNoAssets, f.totalSupply)
		}
		if shares, err = fixedpoint.MulDiv(amount, f.totalSupply, assets); err != nil {
			return nil, err
		}
		if shares.Sign() == 0 {
			return nil, fmt.Errorf("%w: %s buys no shares", ErrAmountTooSmall, amount)
		}
	}

	if err := f.tokens.TransferFrom(ctx, f.investToken, f.address, from, f.address, amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	}

	f.mint(from, shares)
	f.investmentOf[from] = new(big.Int).Add(f.InvestmentOf(from), amount)
	f.totalInvestment.Add(f.totalInvestment, amount)

	f.logger.Info("Deposit", "fund", f.address, "account", from, "amount", amount, "shares", shares)
	f.emit(Event{Kind: EventDeposit, Account: from, Token: f.investToken, Amount: hexBig(amount), Share: hexBig(shares)})
	return shares, nil
}

// Withdraw redeems share of the caller's shares for invest token and returns the amount
// paid out. When the idle balance does not cover the redemption, positions are liquidated
// largest first. Only profit over the redeemed cost basis is charged protocol and manager
// fees.
func (f *Fund) Withdraw(ctx context.Context, caller common.Address, share, minAmountOut *big.Int, deadline time.Time) (amountOut *big.Int, err error) {
	done := f.observe("withdraw")
	defer func() { done(err) }()

	if share == nil || share.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	balance := f.BalanceOf(caller)
	if share.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrInsufficientShares, share, balance)
	}
	if err := f.checkDeadline(deadline); err != nil {
		return nil, err
	}

	// Value everything before the walk changes it.
	assets, err := f.TotalAssets(ctx)
	if err != nil {
		return nil, err
	}
	matrix, err := f.AssetsMatrix(ctx)
	if err != nil {
		return nil, err
	}

	investment := new(big.Int).Mul(f.InvestmentOf(caller), share)
	investment.Quo(investment, balance)
	amount := new(big.Int).Mul(assets, share)
	amount.Quo(amount, f.totalSupply)

	// Price the walk and the payout before anything moves.
	idle := f.IdleBalance()
	projected := new(big.Int).Set(idle)
	var steps []walkStep
	if amount.Cmp(idle) > 0 {
		if steps, err = planWalk(matrix, new(big.Int).Sub(amount, idle)); err != nil {
			return nil, err
		}
		proceeds, err := f.quoteWalk(ctx, steps)
		if err != nil {
			return nil, err
		}
		projected.Add(projected, proceeds)
	}
	if minAmountOut != nil {
		if net, _, _, _ := f.split(f.payout(amount, projected, share), investment); net.Cmp(minAmountOut) < 0 {
			return nil, fmt.Errorf("%w: expected %s < %s", ErrMinAmountOut, net, minAmountOut)
		}
	}

	if err := f.cover(ctx, caller, steps, deadline); err != nil {
		return nil, err
	}
	net, protocolFee, managerFee, redeemed := f.split(f.payout(amount, f.IdleBalance(), share), investment)
	if minAmountOut != nil && net.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrMinAmountOut, net, minAmountOut)
	}

	payouts := []struct {
		to     common.Address
		amount *big.Int
	}{
		{caller, net},
		{f.controller.Address(), protocolFee},
		{f.manager, managerFee},
	}
	for _, p := range payouts {
		if p.amount.Sign() == 0 {
			continue
		}
		if err := f.tokens.Transfer(ctx, f.investToken, f.address, p.to, p.amount); err != nil {
			return nil, fmt.Errorf("pay %s: %w", p.to, err)
		}
	}

	// An account redeeming all its shares drops its whole cost basis, including any
	// part a loss left unrealized.
	if share.Cmp(balance) == 0 {
		redeemed = f.InvestmentOf(caller)
	}
	f.burn(caller, share)
	f.investmentOf[caller] = new(big.Int).Sub(f.InvestmentOf(caller), redeemed)
	f.totalInvestment.Sub(f.totalInvestment, redeemed)

	f.logger.Info("Withdraw",
		"fund", f.address,
		"account", caller,
		"share", share,
		"amount", net,
		"protocolFee", protocolFee,
		"managerFee", managerFee,
	)
	f.emit(Event{
		Kind:        EventWithdraw,
		Account:     caller,
		Token:       f.investToken,
		Amount:      hexBig(net),
		Share:       hexBig(share),
		ProtocolFee: hexBig(protocolFee),
		ManagerFee:  hexBig(managerFee),
	})
	return net, nil
}

// payout is what a redemption worth gross pays when idle invest token is available: gross
// capped at idle, or all of idle when share is the whole supply.
func (f *Fund) payout(gross, idle, share *big.Int) *big.Int {
	if gross.Cmp(idle) > 0 || share.Cmp(f.totalSupply) == 0 {
		return new(big.Int).Set(idle)
	}
	return new(big.Int).Set(gross)
}

// split charges protocol and manager fees on the part of amount above investment. It
// returns the net payout, both fees and the cost basis the payout redeems.
func (f *Fund) split(amount, investment *big.Int) (net, protocolFee, managerFee, redeemed *big.Int) {
	protocolFee, managerFee = new(big.Int), new(big.Int)
	redeemed = new(big.Int).Set(investment)
	if amount.Cmp(investment) > 0 {
		profit := new(big.Int).Sub(amount, investment)
		protocolFee = fixedpoint.ProportionOf(profit, f.protocolFeeX128)
		managerFee = fixedpoint.ProportionOf(profit, f.managerFeeX128)
	} else {
		redeemed.Set(amount)
	}
	net = new(big.Int).Sub(amount, protocolFee)
	net.Sub(net, managerFee)
	return net, protocolFee, managerFee, redeemed
}

// walkStep is one liquidation of a withdrawal.
type walkStep struct {
	pool, position int
	proportionX128 *big.Int
}

// planWalk lists the liquidations that free about remaining more invest token. It takes the
// most valuable position in matrix each round: a position worth more than what is still
// needed is cut by exactly the missing proportion and the walk stops, otherwise it is
// emptied. matrix is left as is.
func planWalk(matrix [][]*big.Int, remaining *big.Int) ([]walkStep, error) {
	values := make([][]*big.Int, len(matrix))
	for i, row := range matrix {
		values[i] = slices.Clone(row)
	}
	remaining = new(big.Int).Set(remaining)

	var steps []walkStep
	for {
		i, j, value := largest(values)
		if value.Sign() <= 0 {
			return steps, nil
		}
		if remaining.Cmp(value) <= 0 {
			proportion, err := fixedpoint.ProportionX128(remaining, value)
			if err != nil {
				return nil, err
			}
			if proportion.Sign() > 0 {
				steps = append(steps, walkStep{pool: i, position: j, proportionX128: proportion})
			}
			return steps, nil
		}
		steps = append(steps, walkStep{pool: i, position: j, proportionX128: fixedpoint.Percent100X128})
		remaining.Sub(remaining, value)
		values[i][j] = new(big.Int)
	}
}

// quoteWalk returns the invest token the walk is expected to free. The counter-token sales
// of all steps are priced as one sequence, so it fails with ErrPriceImpact where the walk
// would.
func (f *Fund) quoteWalk(ctx context.Context, steps []walkStep) (*big.Int, error) {
	proceeds := new(big.Int)
	var legs []swapLeg
	for _, step := range steps {
		p := f.pools[step.pool]
		if err := f.requirePaths(p.Token0, p.Token1); err != nil {
			return nil, err
		}
		s, err := f.snapshot(ctx, p, p.positions[step.position])
		if err != nil {
			return nil, err
		}
		expected := [2]*big.Int{
			fixedpoint.ProportionOf(s.total(0), step.proportionX128),
			fixedpoint.ProportionOf(s.total(1), step.proportionX128),
		}
		for i, token := range [2]common.Address{p.Token0, p.Token1} {
			if token == f.investToken {
				proceeds.Add(proceeds, expected[i])
			}
		}
		legs = append(legs, f.sellLegs(p, expected)...)
	}
	plan, err := f.planSwaps(ctx, legs...)
	if err != nil {
		return nil, err
	}
	return proceeds.Add(proceeds, plan.total()), nil
}

// cover runs a planned walk, emitting a Sub event per liquidation.
func (f *Fund) cover(ctx context.Context, caller common.Address, steps []walkStep, deadline time.Time) error {
	for _, step := range steps {
		proceeds, err := f.liquidate(ctx, f.pools[step.pool], step.position, step.proportionX128, deadline)
		if err != nil {
			return err
		}
		f.logger.Debug("Liquidated for withdrawal", "pool", step.pool, "position", step.position, "proceeds", proceeds)
		f.emit(Event{
			Kind:       EventSub,
			Account:    caller,
			Amount:     hexBig(proceeds),
			Proportion: hexBig(step.proportionX128),
			Position:   &PositionRef{Pool: step.pool, Position: step.position},
		})
	}
	return nil
}

// largest returns the first maximal entry of matrix. value is zero when the matrix holds
// nothing positive.
func largest(matrix [][]*big.Int) (int, int, *big.Int) {
	bi, bj, best := 0, 0, new(big.Int)
	for i, row := range matrix {
		for j, v := range row {
			if v.Cmp(best) > 0 {
				bi, bj, best = i, j, v
			}
		}
	}
	return bi, bj, best
}
