// Package factory creates funds. Each (manager, invest token) pair gets at most one fund,
// at an address derived from the factory, the manager and the token.
package factory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/defistate/lpfund-go/fund"
	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/defistate/lpfund-go/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	DefaultShareName   = "LP Fund Share"
	DefaultShareSymbol = "LPF"
	defaultDecimals    = 18
)

var (
	ErrUnverifiedToken   = errors.New("invest token is not verified")
	ErrManagerFeeTooHigh = fmt.Errorf("manager fee above %d percent", fund.MaxManagerFeePercent)
	ErrFundExists        = errors.New("fund already exists for manager and token")
	ErrZeroAddress       = errors.New("zero address")
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	Address    common.Address
	Controller fund.Controller
	Venue      uniswapv3.Factory
	Router     uniswapv3.Router
	Quoter     uniswapv3.Quoter
	Tokens     fund.TokenLedger
	// Registry supplies share token decimals; unknown tokens default to 18.
	Registry *token.Registry
	Metrics  *fund.Metrics
	Logger   Logger
	// ProtocolFeePercent applies to every fund; zero means fund.DefaultProtocolFeePercent.
	ProtocolFeePercent uint64
	Clock              func() time.Time
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address is required")
	}
	if c.Controller == nil {
		return errors.New("config: Controller is required")
	}
	if c.Venue == nil || c.Router == nil || c.Quoter == nil {
		return errors.New("config: Venue, Router and Quoter are required")
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

// CreateParams describes a new fund.
type CreateParams struct {
	Manager    common.Address
	Token      common.Address
	Descriptor string
	// ManagerFeePercent is charged on withdrawn profit, at most fund.MaxManagerFeePercent.
	ManagerFeePercent uint64
}

type fundKey struct {
	manager, token common.Address
}

type Factory struct {
	cfg         Config
	protocolFee uint64

	mu          sync.RWMutex
	funds       map[fundKey]*fund.Fund
	descriptors map[common.Address]string
	order       []*fund.Fund
}

func New(cfg *Config) (*Factory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	protocolFee := cfg.ProtocolFeePercent
	if protocolFee == 0 {
		protocolFee = fund.DefaultProtocolFeePercent
	}
	return &Factory{
		cfg:         *cfg,
		protocolFee: protocolFee,
		funds:       make(map[fundKey]*fund.Fund),
		descriptors: make(map[common.Address]string),
	}, nil
}

// FundAddress returns the last 20 bytes of keccak256(factory ‖ manager ‖ token).
func FundAddress(factory, manager, token common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256(factory.Bytes(), manager.Bytes(), token.Bytes())[12:])
}

// CreateFund deploys a fund managed by params.Manager investing params.Token.
func (f *Factory) CreateFund(params CreateParams) (*fund.Fund, error) {
	if params.Manager == (common.Address{}) || params.Token == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if !f.cfg.Controller.VerifiedToken(params.Token) {
		return nil, fmt.Errorf("%w: %s", ErrUnverifiedToken, params.Token)
	}
	if params.ManagerFeePercent > fund.MaxManagerFeePercent {
		return nil, fmt.Errorf("%w: %d", ErrManagerFeeTooHigh, params.ManagerFeePercent)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := fundKey{params.Manager, params.Token}
	if _, ok := f.funds[key]; ok {
		return nil, fmt.Errorf("%w: %s / %s", ErrFundExists, params.Manager, params.Token)
	}

	decimals := uint8(defaultDecimals)
	if f.cfg.Registry != nil {
		if t, ok := f.cfg.Registry.Get(params.Token); ok {
			decimals = t.Decimals
		}
	}
	address := FundAddress(f.cfg.Address, params.Manager, params.Token)
	created, err := fund.New(&fund.Config{
		Address:            address,
		Manager:            params.Manager,
		InvestToken:        params.Token,
		Name:               DefaultShareName,
		Symbol:             DefaultShareSymbol,
		Decimals:           decimals,
		ProtocolFeePercent: f.protocolFee,
		ManagerFeePercent:  params.ManagerFeePercent,
		Controller:         f.cfg.Controller,
		Factory:            f.cfg.Venue,
		Router:             f.cfg.Router,
		Quoter:             f.cfg.Quoter,
		Tokens:             f.cfg.Tokens,
		Metrics:            f.cfg.Metrics,
		Logger:             f.cfg.Logger,
		Clock:              f.cfg.Clock,
	})
	if err != nil {
		return nil, err
	}

	f.funds[key] = created
	f.descriptors[address] = params.Descriptor
	f.order = append(f.order, created)
	f.cfg.Logger.Info("Fund created",
		"fund", address,
		"manager", params.Manager,
		"token", params.Token,
		"managerFee", params.ManagerFeePercent,
	)
	return created, nil
}

func (f *Factory) GetFund(manager, token common.Address) (*fund.Fund, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fd, ok := f.funds[fundKey{manager, token}]
	return fd, ok
}

// Funds returns every fund in creation order.
func (f *Factory) Funds() []*fund.Fund {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*fund.Fund, len(f.order))
	copy(out, f.order)
	return out
}

func (f *Factory) Descriptor(fundAddress common.Address) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.descriptors[fundAddress]
}
