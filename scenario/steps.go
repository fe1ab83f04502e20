package scenario

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/defistate/lpfund-go/fixedpoint"
	"github.com/defistate/lpfund-go/fund"
	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Step actions.
const (
	ActionDeposit  = "deposit"
	ActionWithdraw = "withdraw"
	ActionInit     = "init"
	ActionAdd      = "add"
	ActionSub      = "sub"
	ActionMove     = "move"
	ActionSetPath  = "setPath"
	ActionTransfer = "transfer"
	ActionApprove  = "approve"
	ActionTrade    = "trade"
	ActionHarvest  = "harvest"
	ActionAdvance  = "advance"
	ActionReport   = "report"
)

// proportionDecimals is the precision accepted for Step.Proportion.
const proportionDecimals = 18

// Run applies steps in order under the world's mutex, one step at a time. It stops at
// the first step whose outcome does not match its ExpectError.
func (w *World) Run(ctx context.Context, steps []Step) error {
	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.mu.Lock()
		err := w.Apply(ctx, st)
		w.mu.Unlock()

		if st.ExpectError != "" {
			if err == nil {
				return fmt.Errorf("step %d (%s): expected error containing %q", i, st.Action, st.ExpectError)
			}
			if !strings.Contains(err.Error(), st.ExpectError) {
				return fmt.Errorf("step %d (%s): got error %q, want one containing %q", i, st.Action, err, st.ExpectError)
			}
			w.logger.Info("Step failed as expected", "step", i, "action", st.Action, "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, st.Action, err)
		}
		w.logger.Debug("Step applied", "step", i, "action", st.Action)
	}
	return nil
}

// Apply executes a single step. Callers serialize Apply with any concurrent reader of
// the funds.
func (w *World) Apply(ctx context.Context, st Step) error {
	switch st.Action {
	case ActionAdvance:
		w.now = w.now.Add(time.Duration(st.Advance))
		return nil
	case ActionTrade:
		return w.trade(ctx, st)
	case ActionHarvest:
		return w.harvest(ctx, st)
	}

	if st.Fund >= len(w.Funds) {
		return fmt.Errorf("no fund %d", st.Fund)
	}
	f := w.Funds[st.Fund]
	caller := f.Manager()
	if st.Account != "" {
		caller = AccountAddress(st.Account)
	}
	deadline := w.now.Add(w.deadline)

	switch st.Action {
	case ActionDeposit:
		amount, err := ParseAmount(st.Amount, w.investDecimals(f))
		if err != nil {
			return err
		}
		_, err = f.Deposit(ctx, caller, amount)
		return err

	case ActionWithdraw:
		share, err := ParseAmount(st.Amount, f.Decimals())
		if err != nil {
			return err
		}
		minOut := new(big.Int)
		if st.MinOut != "" {
			if minOut, err = ParseAmount(st.MinOut, w.investDecimals(f)); err != nil {
				return err
			}
		}
		_, err = f.Withdraw(ctx, caller, share, minOut, deadline)
		return err

	case ActionInit:
		a, err := w.token(st.TokenA)
		if err != nil {
			return err
		}
		b, err := w.token(st.TokenB)
		if err != nil {
			return err
		}
		amount := new(big.Int)
		if st.Amount != "" {
			if amount, err = ParseAmount(st.Amount, w.investDecimals(f)); err != nil {
				return err
			}
		}
		return f.Init(ctx, caller, fund.InitParams{
			TokenA:    a.Address,
			TokenB:    b.Address,
			Fee:       st.Fee,
			TickLower: st.TickLower,
			TickUpper: st.TickUpper,
			Amount:    amount,
			Deadline:  deadline,
		})

	case ActionAdd:
		amount, err := ParseAmount(st.Amount, w.investDecimals(f))
		if err != nil {
			return err
		}
		return f.Add(ctx, caller, fund.AddParams{
			PoolIndex:     st.Pool,
			PositionIndex: st.Position,
			Amount:        amount,
			Collect:       st.Collect,
			Deadline:      deadline,
		})

	case ActionSub:
		proportion, err := parseProportion(st.Proportion)
		if err != nil {
			return err
		}
		return f.Sub(ctx, caller, fund.SubParams{
			PoolIndex:      st.Pool,
			PositionIndex:  st.Position,
			ProportionX128: proportion,
			Deadline:       deadline,
		})

	case ActionMove:
		proportion, err := parseProportion(st.Proportion)
		if err != nil {
			return err
		}
		return f.Move(ctx, caller, fund.MoveParams{
			PoolIndex:      st.Pool,
			From:           st.Position,
			To:             st.Target,
			ProportionX128: proportion,
			Deadline:       deadline,
		})

	case ActionSetPath:
		if st.Route == nil {
			return fmt.Errorf("%s requires a route", st.Action)
		}
		dist, err := w.token(st.Token)
		if err != nil {
			return err
		}
		route, err := w.route(*st.Route)
		if err != nil {
			return err
		}
		return f.SetPath(ctx, caller, dist.Address, route)

	case ActionTransfer, ActionApprove:
		amount, err := ParseAmount(st.Amount, f.Decimals())
		if err != nil {
			return err
		}
		to := AccountAddress(st.To)
		if st.Action == ActionApprove {
			return f.Approve(caller, to, amount)
		}
		return f.Transfer(caller, to, amount)

	case ActionReport:
		r, err := w.Report(ctx, st.Fund)
		if err != nil {
			return err
		}
		w.logger.Info("Fund report",
			"fund", r.Address,
			"totalAssets", r.TotalAssets,
			"totalSupply", r.TotalSupply,
			"idle", r.Idle,
			"positions", len(r.Positions),
		)
		return nil
	}
	return fmt.Errorf("unknown action %q", st.Action)
}

func (w *World) investDecimals(f *fund.Fund) uint8 {
	if t, ok := w.Tokens.Get(f.InvestToken()); ok {
		return t.Decimals
	}
	return f.Decimals()
}

// trade swaps Amount of the route's first token from Account through the venue, moving
// pool prices the way outside traders would.
func (w *World) trade(ctx context.Context, st Step) error {
	if st.Route == nil || len(st.Route.Tokens) == 0 {
		return fmt.Errorf("%s requires a route", st.Action)
	}
	_, amount, err := w.amount(st.Route.Tokens[0], st.Amount)
	if err != nil {
		return err
	}
	route, err := w.route(*st.Route)
	if err != nil {
		return err
	}
	trader := AccountAddress(st.Account)
	out, err := w.Router.ExactInput(ctx, uniswapv3.ExactInputParams{
		Path:      route,
		Payer:     trader,
		Recipient: trader,
		AmountIn:  amount,
		Deadline:  w.now.Add(w.deadline),
	})
	if err != nil {
		return err
	}
	w.logger.Debug("Trade executed", "trader", st.Account, "in", amount, "out", out)
	return nil
}

// harvest converts the controller's balance of Token into the reward token and burns
// it. An empty Amount harvests the whole balance.
func (w *World) harvest(ctx context.Context, st Step) error {
	t, err := w.token(st.Token)
	if err != nil {
		return err
	}
	amount := w.Ledger.BalanceOf(t.Address, ControllerAddress)
	if st.Amount != "" {
		if amount, err = ParseAmount(st.Amount, t.Decimals); err != nil {
			return err
		}
	}
	burned, err := w.Controller.Harvest(ctx, t.Address, amount)
	if err != nil {
		return err
	}
	w.logger.Info("Harvested", "token", st.Token, "amount", amount, "burned", burned)
	return nil
}

func parseProportion(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("proportion is required")
	}
	scaled, err := ParseAmount(s, proportionDecimals)
	if err != nil {
		return nil, err
	}
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(proportionDecimals), nil)
	return fixedpoint.MulDiv(scaled, fixedpoint.PercentX128(1), one)
}

// --- Reporting ---

type PositionReport struct {
	Pool     fund.Pool     `json:"pool"`
	Position fund.Position `json:"position"`
	Assets   *hexutil.Big  `json:"assets"`
}

type Report struct {
	Address         common.Address                  `json:"address"`
	Time            time.Time                       `json:"time"`
	TotalAssets     *hexutil.Big                    `json:"totalAssets"`
	TotalSupply     *hexutil.Big                    `json:"totalSupply"`
	TotalInvestment *hexutil.Big                    `json:"totalInvestment"`
	Idle            *hexutil.Big                    `json:"idle"`
	Balances        map[common.Address]*hexutil.Big `json:"balances"`
	Positions       []PositionReport                `json:"positions"`
}

// Report values a fund and every one of its positions.
func (w *World) Report(ctx context.Context, fundIndex int) (*Report, error) {
	if fundIndex < 0 || fundIndex >= len(w.Funds) {
		return nil, fmt.Errorf("no fund %d", fundIndex)
	}
	f := w.Funds[fundIndex]

	total, err := f.TotalAssets(ctx)
	if err != nil {
		return nil, err
	}
	r := &Report{
		Address:         f.Address(),
		Time:            w.now,
		TotalAssets:     (*hexutil.Big)(total),
		TotalSupply:     (*hexutil.Big)(f.TotalSupply()),
		TotalInvestment: (*hexutil.Big)(f.TotalInvestment()),
		Idle:            (*hexutil.Big)(f.IdleBalance()),
		Balances:        make(map[common.Address]*hexutil.Big),
	}
	for _, holder := range f.Holders() {
		r.Balances[holder] = (*hexutil.Big)(f.BalanceOf(holder))
	}
	for i := 0; i < f.PoolsLength(); i++ {
		pool, err := f.Pools(i)
		if err != nil {
			return nil, err
		}
		n, err := f.PositionsLength(i)
		if err != nil {
			return nil, err
		}
		for j := 0; j < n; j++ {
			pos, err := f.Positions(i, j)
			if err != nil {
				return nil, err
			}
			assets, err := f.AssetsOfPosition(ctx, i, j)
			if err != nil {
				return nil, err
			}
			r.Positions = append(r.Positions, PositionReport{Pool: pool, Position: pos, Assets: (*hexutil.Big)(assets)})
		}
	}
	return r, nil
}
