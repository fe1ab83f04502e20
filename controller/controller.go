// Package controller holds the governance side of the fund protocol: the verified-token
// allow-list funds route through, the price impact bound they swap under, and the
// harvest routes that turn collected protocol fees into reward tokens and burn them.
package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/path"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultMaxPriceImpact is 1%, in basis points.
const DefaultMaxPriceImpact = 100

var (
	ErrUnauthorized        = errors.New("caller is not governance")
	ErrInvalidPriceImpact  = errors.New("price impact must be at most 10000 bps")
	ErrInvalidHarvestPath  = errors.New("invalid harvest path")
	ErrPoolNotFound        = errors.New("pool not found")
	ErrHarvestPathNotSet   = errors.New("harvest path not set")
	ErrInsufficientBalance = errors.New("insufficient balance to harvest")
	ErrZeroAmount          = errors.New("amount must be greater than zero")
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// TokenLedger holds the controller's balances and burns harvested rewards.
type TokenLedger interface {
	BalanceOf(token, account common.Address) *big.Int
	Burn(ctx context.Context, token, from common.Address, amount *big.Int) error
}

type Config struct {
	Address     common.Address
	Governance  common.Address
	WETH9       common.Address
	RewardToken common.Address
	// MaxPriceImpact in basis points; zero means DefaultMaxPriceImpact.
	MaxPriceImpact uint32
	Factory        uniswapv3.Factory
	Router         uniswapv3.Router
	Tokens         TokenLedger
	Logger         Logger
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address is required")
	}
	if c.Governance == (common.Address{}) {
		return errors.New("config: Governance is required")
	}
	if c.WETH9 == (common.Address{}) || c.RewardToken == (common.Address{}) {
		return errors.New("config: WETH9 and RewardToken are required")
	}
	if c.MaxPriceImpact > 10_000 {
		return ErrInvalidPriceImpact
	}
	if c.Factory == nil {
		return errors.New("config: Factory is required")
	}
	if c.Router == nil {
		return errors.New("config: Router is required")
	}
	if c.Tokens == nil {
		return errors.New("config: Tokens is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Controller is safe for concurrent use.
type Controller struct {
	address     common.Address
	weth9       common.Address
	rewardToken common.Address
	factory     uniswapv3.Factory
	router      uniswapv3.Router
	tokens      TokenLedger
	logger      Logger

	verified mapset.Set[common.Address]

	mu             sync.RWMutex
	governance     common.Address
	maxPriceImpact uint32
	harvestPath    map[common.Address][]byte
}

func New(cfg *Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	impact := cfg.MaxPriceImpact
	if impact == 0 {
		impact = DefaultMaxPriceImpact
	}
	return &Controller{
		address:        cfg.Address,
		weth9:          cfg.WETH9,
		rewardToken:    cfg.RewardToken,
		factory:        cfg.Factory,
		router:         cfg.Router,
		tokens:         cfg.Tokens,
		logger:         cfg.Logger,
		verified:       mapset.NewSet[common.Address](),
		governance:     cfg.Governance,
		maxPriceImpact: impact,
		harvestPath:    make(map[common.Address][]byte),
	}, nil
}

// Address is where funds send protocol fees.
func (c *Controller) Address() common.Address {
	return c.address
}

func (c *Controller) Governance() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.governance
}

func (c *Controller) checkGovernance(caller common.Address) error {
	if gov := c.Governance(); caller != gov {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

func (c *Controller) SetGovernance(caller, governance common.Address) error {
	if err := c.checkGovernance(caller); err != nil {
		return err
	}
	if governance == (common.Address{}) {
		return errors.New("governance must not be the zero address")
	}
	c.mu.Lock()
	c.governance = governance
	c.mu.Unlock()
	c.logger.Info("Governance changed", "governance", governance)
	return nil
}

// --- Verified tokens ---

func (c *Controller) SetVerifiedToken(caller, token common.Address, verified bool) error {
	if err := c.checkGovernance(caller); err != nil {
		return err
	}
	if verified {
		c.verified.Add(token)
	} else {
		c.verified.Remove(token)
	}
	c.logger.Info("Token verification changed", "token", token, "verified", verified)
	return nil
}

func (c *Controller) VerifiedToken(token common.Address) bool {
	return c.verified.Contains(token)
}

// VerifiedTokens returns the allow-list in address order.
func (c *Controller) VerifiedTokens() []common.Address {
	tokens := c.verified.ToSlice()
	slices.SortFunc(tokens, func(a, b common.Address) int { return a.Cmp(b) })
	return tokens
}

// --- Price impact ---

func (c *Controller) SetMaxPriceImpact(caller common.Address, bps uint32) error {
	if err := c.checkGovernance(caller); err != nil {
		return err
	}
	if bps > 10_000 {
		return fmt.Errorf("%w: %d", ErrInvalidPriceImpact, bps)
	}
	c.mu.Lock()
	c.maxPriceImpact = bps
	c.mu.Unlock()
	c.logger.Info("Max price impact changed", "bps", bps)
	return nil
}

// MaxPriceImpact returns the largest price impact, in basis points, a fund swap may take.
func (c *Controller) MaxPriceImpact() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxPriceImpact
}

// --- Harvest ---

// SetHarvestPath sets the route that sells token for the reward token. The route must
// start at token and its last hop must be WETH9 to the reward token.
func (c *Controller) SetHarvestPath(caller, token common.Address, route []byte) error {
	if err := c.checkGovernance(caller); err != nil {
		return err
	}
	hops, err := path.Hops(route)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHarvestPath, err)
	}
	if hops[0].TokenIn != token {
		return fmt.Errorf("%w: starts at %s, want %s", ErrInvalidHarvestPath, hops[0].TokenIn, token)
	}
	last := hops[len(hops)-1]
	if last.TokenIn != c.weth9 || last.TokenOut != c.rewardToken {
		return fmt.Errorf("%w: last hop %s -> %s must be WETH9 -> reward token", ErrInvalidHarvestPath, last.TokenIn, last.TokenOut)
	}
	for _, hop := range hops {
		if _, ok := c.factory.GetPool(hop.TokenIn, hop.TokenOut, hop.Fee); !ok {
			return fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, hop.TokenIn, hop.TokenOut, hop.Fee)
		}
	}

	c.mu.Lock()
	c.harvestPath[token] = bytes.Clone(route)
	c.mu.Unlock()
	c.logger.Info("Harvest path set", "token", token, "hops", len(hops))
	return nil
}

func (c *Controller) HarvestPath(token common.Address) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return bytes.Clone(c.harvestPath[token])
}

// Harvest sells amount of the fees the controller holds in token for the reward token and
// burns the output. Anyone may call it. It returns the amount burned.
func (c *Controller) Harvest(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	route := c.HarvestPath(token)
	if route == nil {
		return nil, fmt.Errorf("%w: %s", ErrHarvestPathNotSet, token)
	}
	if balance := c.tokens.BalanceOf(token, c.address); balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: holds %s of %s, harvesting %s", ErrInsufficientBalance, balance, token, amount)
	}

	out, err := c.router.ExactInput(ctx, uniswapv3.ExactInputParams{
		Path:      route,
		Payer:     c.address,
		Recipient: c.address,
		AmountIn:  amount,
	})
	if err != nil {
		return nil, fmt.Errorf("harvest swap: %w", err)
	}
	if err := c.tokens.Burn(ctx, c.rewardToken, c.address, out); err != nil {
		return nil, fmt.Errorf("burn reward: %w", err)
	}
	c.logger.Info("Harvested", "token", token, "amount", amount, "burned", out)
	return out, nil
}
