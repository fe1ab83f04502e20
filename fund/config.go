package fund

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultProtocolFeePercent = 10
	DefaultManagerFeePercent  = 10
	MaxManagerFeePercent      = 45
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Controller is the governance side a fund consults: where protocol fees go, which tokens
// may appear in routes and how much price impact a swap may take (in basis points).
type Controller interface {
	Address() common.Address
	VerifiedToken(token common.Address) bool
	MaxPriceImpact() uint32
}

// TokenLedger holds the fund's token balances. The fund acts as spender when pulling
// deposits.
type TokenLedger interface {
	BalanceOf(token, account common.Address) *big.Int
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, token, spender, owner, recipient common.Address, amount *big.Int) error
}

// Config holds everything a Fund needs.
type Config struct {
	Address     common.Address
	Manager     common.Address
	InvestToken common.Address

	// Share token metadata.
	Name     string
	Symbol   string
	Decimals uint8

	// Fees charged on withdrawn profit, in whole percent.
	ProtocolFeePercent uint64
	ManagerFeePercent  uint64

	Controller Controller
	Factory    uniswapv3.Factory
	Router     uniswapv3.Router
	Quoter     uniswapv3.Quoter
	Tokens     TokenLedger
	Metrics    *Metrics
	Logger     Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address is required")
	}
	if c.Manager == (common.Address{}) {
		return errors.New("config: Manager is required")
	}
	if c.InvestToken == (common.Address{}) {
		return errors.New("config: InvestToken is required")
	}
	if c.ManagerFeePercent > MaxManagerFeePercent {
		return fmt.Errorf("config: ManagerFeePercent %d exceeds %d", c.ManagerFeePercent, MaxManagerFeePercent)
	}
	if c.ProtocolFeePercent+c.ManagerFeePercent > 100 {
		return errors.New("config: fees exceed 100 percent")
	}
	if c.Controller == nil {
		return errors.New("config: Controller is required")
	}
	if c.Factory == nil {
		return errors.New("config: Factory is required")
	}
	if c.Router == nil {
		return errors.New("config: Router is required")
	}
	if c.Quoter == nil {
		return errors.New("config: Quoter is required")
	}
	if c.Tokens == nil {
		return errors.New("config: Tokens is required")
	}
	if c.Metrics == nil {
		return errors.New("config: Metrics is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}
