// Package fund implements a pooled liquidity fund: investors deposit one invest token for
// shares, and a manager deploys the capital across concentrated-liquidity positions in
// many pools. The fund values every position in invest-token terms by compounding pool
// prices along configured sell routes, and withdrawals that exceed the idle balance
// liquidate positions largest first.
//
// A Fund is not safe for concurrent use. Hosts serialize calls, and every operation runs
// to completion before the next one starts.
package fund

import (
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/lpfund-go/fixedpoint"
	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// Pool is a venue pool the fund holds positions in.
type Pool struct {
	Address common.Address `json:"address"`
	Token0  common.Address `json:"token0"`
	Token1  common.Address `json:"token1"`
	Fee     uint32         `json:"fee"`
}

// Position is a tick range within a pool. Positions are never removed; an empty one keeps
// its index and can be refilled by Add.
type Position struct {
	TickLower int32 `json:"tickLower"`
	TickUpper int32 `json:"tickUpper"`
	IsEmpty   bool  `json:"isEmpty"`
}

type poolEntry struct {
	Pool
	venue     uniswapv3.Pool
	positions []Position
}

type allowanceKey struct {
	owner, spender common.Address
}

// Fund is a single fund instance.
type Fund struct {
	address     common.Address
	manager     common.Address
	investToken common.Address

	name     string
	symbol   string
	decimals uint8

	protocolFeeX128 *big.Int
	managerFeeX128  *big.Int

	controller Controller
	factory    uniswapv3.Factory
	router     uniswapv3.Router
	quoter     uniswapv3.Quoter
	tokens     TokenLedger
	metrics    *Metrics
	logger     Logger
	now        func() time.Time

	pools    []*poolEntry
	buyPath  map[common.Address][]byte
	sellPath map[common.Address][]byte

	totalSupply     *big.Int
	balances        map[common.Address]*big.Int
	allowances      map[allowanceKey]*big.Int
	totalInvestment *big.Int
	investmentOf    map[common.Address]*big.Int

	feed  event.Feed
	scope event.SubscriptionScope
	seq   uint64
}

// New constructs a fund from a configuration, returning an error if the config is invalid.
func New(cfg *Config) (*Fund, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	f := &Fund{
		address:         cfg.Address,
		manager:         cfg.Manager,
		investToken:     cfg.InvestToken,
		name:            cfg.Name,
		symbol:          cfg.Symbol,
		decimals:        cfg.Decimals,
		protocolFeeX128: fixedpoint.PercentX128(cfg.ProtocolFeePercent),
		managerFeeX128:  fixedpoint.PercentX128(cfg.ManagerFeePercent),
		controller:      cfg.Controller,
		factory:         cfg.Factory,
		router:          cfg.Router,
		quoter:          cfg.Quoter,
		tokens:          cfg.Tokens,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		now:             clock,
		buyPath:         make(map[common.Address][]byte),
		sellPath:        make(map[common.Address][]byte),
		totalSupply:     new(big.Int),
		balances:        make(map[common.Address]*big.Int),
		allowances:      make(map[allowanceKey]*big.Int),
		totalInvestment: new(big.Int),
		investmentOf:    make(map[common.Address]*big.Int),
	}
	return f, nil
}

func (f *Fund) Address() common.Address     { return f.address }
func (f *Fund) Manager() common.Address     { return f.manager }
func (f *Fund) InvestToken() common.Address { return f.investToken }

// IdleBalance returns the invest-token balance not deployed in any position.
func (f *Fund) IdleBalance() *big.Int {
	return f.tokens.BalanceOf(f.investToken, f.address)
}

func (f *Fund) PoolsLength() int {
	return len(f.pools)
}

func (f *Fund) PositionsLength(poolIndex int) (int, error) {
	p, err := f.pool(poolIndex)
	if err != nil {
		return 0, err
	}
	return len(p.positions), nil
}

func (f *Fund) Pools(poolIndex int) (Pool, error) {
	p, err := f.pool(poolIndex)
	if err != nil {
		return Pool{}, err
	}
	return p.Pool, nil
}

func (f *Fund) Positions(poolIndex, positionIndex int) (Position, error) {
	p, err := f.pool(poolIndex)
	if err != nil {
		return Position{}, err
	}
	if positionIndex < 0 || positionIndex >= len(p.positions) {
		return Position{}, fmt.Errorf("%w: position %d of pool %d", ErrIndexOutOfRange, positionIndex, poolIndex)
	}
	return p.positions[positionIndex], nil
}

func (f *Fund) TotalInvestment() *big.Int {
	return new(big.Int).Set(f.totalInvestment)
}

func (f *Fund) InvestmentOf(account common.Address) *big.Int {
	if v, ok := f.investmentOf[account]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (f *Fund) pool(i int) (*poolEntry, error) {
	if i < 0 || i >= len(f.pools) {
		return nil, fmt.Errorf("%w: pool %d", ErrIndexOutOfRange, i)
	}
	return f.pools[i], nil
}

func (f *Fund) checkManager(caller common.Address) error {
	if caller != f.manager {
		return fmt.Errorf("%w: %s", ErrNotManager, caller)
	}
	return nil
}

func (f *Fund) checkDeadline(deadline time.Time) error {
	if now := f.now(); now.After(deadline) {
		return fmt.Errorf("%w: %s is past %s", ErrDeadlineExpired, now.UTC().Format(time.RFC3339), deadline.UTC().Format(time.RFC3339))
	}
	return nil
}
