package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/defistate/lpfund-go/controller"
	"github.com/defistate/lpfund-go/factory"
	"github.com/defistate/lpfund-go/fund"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/path"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/simulated"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/tickmath"
	"github.com/defistate/lpfund-go/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ControllerAddress = common.HexToAddress("0x00000000000000000000000000000000c0de0001")
	FactoryAddress    = common.HexToAddress("0x00000000000000000000000000000000fac70001")
)

const (
	defaultStartUnix = 1_700_000_000
	defaultDeadline  = time.Hour
	// liquidityDecimals scales Pool.Liquidity the way token amounts are scaled.
	liquidityDecimals = 18
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Options struct {
	Logger Logger
	// Registerer receives the fund metrics. Defaults to a private registry.
	Registerer prometheus.Registerer
}

// World is a built scenario: a token ledger, a simulated venue, one controller, one
// factory and the funds it created.
type World struct {
	Ledger     *token.Ledger
	Tokens     *token.Registry
	Venue      *simulated.Factory
	Router     *simulated.Router
	Quoter     *simulated.Quoter
	Controller *controller.Controller
	Factory    *factory.Factory
	Funds      []*fund.Fund

	// mu is held for the duration of every step. Readers sharing the funds with a
	// running script take it too.
	mu       sync.Mutex
	now      time.Time
	deadline time.Duration
	logger   Logger
}

// Build creates the world described by sc. Every listed account approves every fund to
// pull its invest token.
func Build(ctx context.Context, sc *Scenario, opts Options) (*World, error) {
	if opts.Logger == nil {
		return nil, errors.New("options: Logger is required")
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}

	w := &World{
		Ledger:   token.NewLedger(),
		now:      sc.Start,
		deadline: time.Duration(sc.Deadline),
		logger:   opts.Logger,
	}
	if w.now.IsZero() {
		w.now = time.Unix(defaultStartUnix, 0).UTC()
	}
	if w.deadline == 0 {
		w.deadline = defaultDeadline
	}

	if err := w.buildTokens(sc.Tokens); err != nil {
		return nil, err
	}
	if err := w.fundAccounts(ctx, sc.Accounts); err != nil {
		return nil, err
	}

	w.Venue = simulated.NewFactory(w.Ledger)
	w.Router = simulated.NewRouter(w.Venue, w.Now)
	w.Quoter = simulated.NewQuoter(w.Venue)
	if err := w.buildPools(ctx, sc.Pools); err != nil {
		return nil, err
	}
	if err := w.buildController(sc.Controller); err != nil {
		return nil, err
	}

	var err error
	w.Factory, err = factory.New(&factory.Config{
		Address:    FactoryAddress,
		Controller: w.Controller,
		Venue:      w.Venue,
		Router:     w.Router,
		Quoter:     w.Quoter,
		Tokens:     w.Ledger,
		Registry:   w.Tokens,
		Metrics:    fund.NewMetrics(opts.Registerer),
		Logger:     opts.Logger,
		Clock:      w.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create factory: %w", err)
	}
	if err := w.buildFunds(ctx, sc.Funds, sc.Accounts); err != nil {
		return nil, err
	}
	return w, nil
}

// Now is the simulated clock.
func (w *World) Now() time.Time {
	return w.now
}

// Mutex returns the lock held while a step runs.
func (w *World) Mutex() *sync.Mutex {
	return &w.mu
}

// Close ends every fund's event subscriptions.
func (w *World) Close() {
	for _, f := range w.Funds {
		f.Close()
	}
}

// --- Lookups ---

func (w *World) token(symbol string) (token.Token, error) {
	t, ok := w.Tokens.BySymbol(symbol)
	if !ok {
		return token.Token{}, fmt.Errorf("%w: %q", token.ErrUnknownToken, symbol)
	}
	return t, nil
}

func (w *World) amount(symbol, s string) (common.Address, *big.Int, error) {
	t, err := w.token(symbol)
	if err != nil {
		return common.Address{}, nil, err
	}
	v, err := ParseAmount(s, t.Decimals)
	if err != nil {
		return common.Address{}, nil, err
	}
	return t.Address, v, nil
}

func (w *World) route(r Route) ([]byte, error) {
	tokens := make([]common.Address, len(r.Tokens))
	for i, symbol := range r.Tokens {
		t, err := w.token(symbol)
		if err != nil {
			return nil, err
		}
		tokens[i] = t.Address
	}
	return path.Encode(tokens, r.Fees)
}

// --- Construction ---

func (w *World) buildTokens(tokens []Token) error {
	registered := make([]token.Token, 0, len(tokens))
	for _, t := range tokens {
		addr, err := TokenAddress(t)
		if err != nil {
			return err
		}
		name := t.Name
		if name == "" {
			name = t.Symbol
		}
		registered = append(registered, token.Token{Address: addr, Name: name, Symbol: t.Symbol, Decimals: t.Decimals})
	}
	var err error
	if w.Tokens, err = token.NewRegistry(registered...); err != nil {
		return fmt.Errorf("failed to register tokens: %w", err)
	}
	return nil
}

func (w *World) fundAccounts(ctx context.Context, accounts []Account) error {
	for _, a := range accounts {
		for symbol, balance := range a.Balances {
			tok, v, err := w.amount(symbol, balance)
			if err != nil {
				return fmt.Errorf("account %s: %w", a.Name, err)
			}
			if err := w.Ledger.Mint(ctx, tok, AccountAddress(a.Name), v); err != nil {
				return fmt.Errorf("account %s: %w", a.Name, err)
			}
		}
	}
	return nil
}

func (w *World) buildPools(ctx context.Context, pools []Pool) error {
	for _, p := range pools {
		a, err := w.token(p.Tokens[0])
		if err != nil {
			return err
		}
		b, err := w.token(p.Tokens[1])
		if err != nil {
			return err
		}
		sqrtPrice, err := tickmath.SqrtRatioAtTick(p.Tick)
		if err != nil {
			return fmt.Errorf("pool %s/%s: %w", p.Tokens[0], p.Tokens[1], err)
		}
		pool, err := w.Venue.CreatePool(a.Address, b.Address, p.Fee, sqrtPrice)
		if err != nil {
			return fmt.Errorf("pool %s/%s: %w", p.Tokens[0], p.Tokens[1], err)
		}
		if p.Liquidity == "" {
			continue
		}
		liquidity, err := ParseAmount(p.Liquidity, liquidityDecimals)
		if err != nil {
			return fmt.Errorf("pool %s/%s: %w", p.Tokens[0], p.Tokens[1], err)
		}
		spacing := pool.TickSpacing()
		if _, _, err := pool.Mint(ctx, AccountAddress(p.Provider), tickmath.MinUsableTick(spacing), tickmath.MaxUsableTick(spacing), liquidity); err != nil {
			return fmt.Errorf("pool %s/%s: seeding liquidity: %w", p.Tokens[0], p.Tokens[1], err)
		}
		w.logger.Debug("pool created", "pool", pool.Address(), "fee", p.Fee, "tick", p.Tick)
	}
	return nil
}

func (w *World) buildController(c Controller) error {
	weth9, err := w.token(c.WETH9)
	if err != nil {
		return err
	}
	reward, err := w.token(c.RewardToken)
	if err != nil {
		return err
	}
	governance := AccountAddress(c.Governance)
	w.Controller, err = controller.New(&controller.Config{
		Address:        ControllerAddress,
		Governance:     governance,
		WETH9:          weth9.Address,
		RewardToken:    reward.Address,
		MaxPriceImpact: c.MaxPriceImpact,
		Factory:        w.Venue,
		Router:         w.Router,
		Tokens:         w.Ledger,
		Logger:         w.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	for _, symbol := range c.Verified {
		t, err := w.token(symbol)
		if err != nil {
			return err
		}
		if err := w.Controller.SetVerifiedToken(governance, t.Address, true); err != nil {
			return err
		}
	}
	for _, hp := range c.HarvestPaths {
		t, err := w.token(hp.Token)
		if err != nil {
			return err
		}
		route, err := w.route(hp.Route)
		if err != nil {
			return fmt.Errorf("harvest path %s: %w", hp.Token, err)
		}
		if err := w.Controller.SetHarvestPath(governance, t.Address, route); err != nil {
			return fmt.Errorf("harvest path %s: %w", hp.Token, err)
		}
	}
	return nil
}

func (w *World) buildFunds(ctx context.Context, funds []FundConfig, accounts []Account) error {
	for i, fc := range funds {
		t, err := w.token(fc.Token)
		if err != nil {
			return err
		}
		manager := AccountAddress(fc.Manager)
		f, err := w.Factory.CreateFund(factory.CreateParams{
			Manager:           manager,
			Token:             t.Address,
			Descriptor:        fc.Descriptor,
			ManagerFeePercent: fc.ManagerFee,
		})
		if err != nil {
			return fmt.Errorf("fund %d: %w", i, err)
		}
		for _, fp := range fc.Paths {
			dist, err := w.token(fp.Token)
			if err != nil {
				return err
			}
			route, err := w.route(fp.Route)
			if err != nil {
				return fmt.Errorf("fund %d path %s: %w", i, fp.Token, err)
			}
			if err := f.SetPath(ctx, manager, dist.Address, route); err != nil {
				return fmt.Errorf("fund %d path %s: %w", i, fp.Token, err)
			}
		}
		for _, a := range accounts {
			if err := w.Ledger.Approve(ctx, t.Address, AccountAddress(a.Name), f.Address(), token.MaxAllowance); err != nil {
				return err
			}
		}
		w.Funds = append(w.Funds, f)
	}
	return nil
}
