// Package server exposes funds over go-ethereum's JSON-RPC: the read surface of every
// fund and a subscription that streams fund events to clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/defistate/lpfund-go/fund"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	// Namespace is the namespace under which the API is registered.
	Namespace = "fund"
	// EventsSubscriptionMethod is the subscription name for fund events.
	EventsSubscriptionMethod = "events"

	// Notification types.
	TypeReplay = "replay"
	TypeLive   = "live"

	defaultEventBuffer = 256
)

var ErrUnknownFund = errors.New("unknown fund")

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Journal replays recorded events. *journal.Store satisfies it.
type Journal interface {
	Events(fundAddr common.Address, from uint64) ([]fund.Event, error)
}

type Config struct {
	Funds []*fund.Fund
	// Mu serializes every call against the funds. Hosts that also mutate the funds pass
	// the mutex they hold while doing so. Defaults to a private mutex.
	Mu *sync.Mutex
	// Journal is optional; without one a subscription only carries live events.
	Journal Journal
	// EventBuffer sizes the per-subscription event channel.
	EventBuffer int
	Logger      Logger
}

func (c *Config) validate() error {
	if len(c.Funds) == 0 {
		return errors.New("config: at least one fund is required")
	}
	for _, f := range c.Funds {
		if f == nil {
			return errors.New("config: Funds must not contain nil")
		}
	}
	if c.EventBuffer < 0 {
		return errors.New("config: EventBuffer must not be negative")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Notification is the payload pushed to event subscribers.
type Notification struct {
	Type    string     `json:"type"`
	Payload fund.Event `json:"payload"`
	SentAt  int64      `json:"sentAt"`
}

// API is the RPC receiver. Exported methods become fund_<method> calls.
type API struct {
	mu          *sync.Mutex
	funds       map[common.Address]*fund.Fund
	order       []common.Address
	journal     Journal
	eventBuffer int
	logger      Logger
}

func New(cfg *Config) (*API, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	api := &API{
		mu:          cfg.Mu,
		funds:       make(map[common.Address]*fund.Fund, len(cfg.Funds)),
		journal:     cfg.Journal,
		eventBuffer: cfg.EventBuffer,
		logger:      cfg.Logger,
	}
	if api.mu == nil {
		api.mu = new(sync.Mutex)
	}
	if api.eventBuffer == 0 {
		api.eventBuffer = defaultEventBuffer
	}
	for _, f := range cfg.Funds {
		if _, dup := api.funds[f.Address()]; dup {
			return nil, fmt.Errorf("config: duplicate fund %s", f.Address().Hex())
		}
		api.funds[f.Address()] = f
		api.order = append(api.order, f.Address())
	}
	return api, nil
}

// NewServer returns an rpc.Server with api registered under Namespace.
func NewServer(api *API) (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(Namespace, api); err != nil {
		return nil, fmt.Errorf("failed to register API: %w", err)
	}
	return srv, nil
}

func (api *API) fund(addr common.Address) (*fund.Fund, error) {
	f, ok := api.funds[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFund, addr.Hex())
	}
	return f, nil
}

// read runs fn against the fund at addr while holding the mutex.
func read[T any](api *API, addr common.Address, fn func(f *fund.Fund) (T, error)) (T, error) {
	api.mu.Lock()
	defer api.mu.Unlock()

	f, err := api.fund(addr)
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(f)
}

func toHex(x *big.Int, err error) (*hexutil.Big, error) {
	if err != nil {
		return nil, err
	}
	return (*hexutil.Big)(x), nil
}

// --- Fund directory ---

// FundSummary describes one served fund.
type FundSummary struct {
	Address     common.Address `json:"address"`
	Manager     common.Address `json:"manager"`
	InvestToken common.Address `json:"investToken"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	LastSeq     uint64         `json:"lastSeq"`
}

// Funds lists the served funds in registration order.
func (api *API) Funds() []FundSummary {
	api.mu.Lock()
	defer api.mu.Unlock()

	out := make([]FundSummary, 0, len(api.order))
	for _, addr := range api.order {
		f := api.funds[addr]
		out = append(out, FundSummary{
			Address:     addr,
			Manager:     f.Manager(),
			InvestToken: f.InvestToken(),
			Name:        f.Name(),
			Symbol:      f.Symbol(),
			Decimals:    f.Decimals(),
			LastSeq:     f.LastSeq(),
		})
	}
	return out
}

// --- Positions ---

func (api *API) PoolsLength(fundAddr common.Address) (int, error) {
	return read(api, fundAddr, func(f *fund.Fund) (int, error) {
		return f.PoolsLength(), nil
	})
}

func (api *API) PositionsLength(fundAddr common.Address, poolIndex int) (int, error) {
	return read(api, fundAddr, func(f *fund.Fund) (int, error) {
		return f.PositionsLength(poolIndex)
	})
}

func (api *API) Pools(fundAddr common.Address, poolIndex int) (fund.Pool, error) {
	return read(api, fundAddr, func(f *fund.Fund) (fund.Pool, error) {
		return f.Pools(poolIndex)
	})
}

func (api *API) Positions(fundAddr common.Address, poolIndex, positionIndex int) (fund.Position, error) {
	return read(api, fundAddr, func(f *fund.Fund) (fund.Position, error) {
		return f.Positions(poolIndex, positionIndex)
	})
}

// --- Valuation ---

func (api *API) AssetsOfPosition(ctx context.Context, fundAddr common.Address, poolIndex, positionIndex int) (*hexutil.Big, error) {
	return read(api, fundAddr, func(f *fund.Fund) (*hexutil.Big, error) {
		return toHex(f.AssetsOfPosition(ctx, poolIndex, positionIndex))
	})
}

func (api *API) AssetsOfPool(ctx context.Context, fundAddr common.Address, poolIndex int) (*hexutil.Big, error) {
	return read(api, fundAddr, func(f *fund.Fund) (*hexutil.Big, error) {
		return toHex(f.AssetsOfPool(ctx, poolIndex))
	})
}

func (api *API) TotalAssets(ctx context.Context, fundAddr common.Address) (*hexutil.Big, error) {
	return read(api, fundAddr, func(f *fund.Fund) (*hexutil.Big, error) {
		return toHex(f.TotalAssets(ctx))
	})
}

func (api *API) TotalInvestment(fundAddr common.Address) (*hexutil.Big, error) {
	return read(api, fundAddr, func(f *fund.Fund) (*hexutil.Big, error) {
		return toHex(f.TotalInvestment(), nil)
	})
}

func (api *API) InvestmentOf(fundAddr, account common.Address) (*hexutil.Big, error) {
	return read(api, fundAddr, func(f *fund.Fund) (*hexutil.Big, error) {
		return toHex(f.InvestmentOf(account), nil)
	})
}

// --- Shares ---

func (api *API) BalanceOf(fundAddr, account common.Address) (*hexutil.Big, error) {
	return read(api, fundAddr, func(f *fund.Fund) (*hexutil.Big, error) {
		return toHex(f.BalanceOf(account), nil)
	})
}

func (api *API) Allowance(fundAddr, owner, spender common.Address) (*hexutil.Big, error) {
	return read(api, fundAddr, func(f *fund.Fund) (*hexutil.Big, error) {
		return toHex(f.Allowance(owner, spender), nil)
	})
}

func (api *API) TotalSupply(fundAddr common.Address) (*hexutil.Big, error) {
	return read(api, fundAddr, func(f *fund.Fund) (*hexutil.Big, error) {
		return toHex(f.TotalSupply(), nil)
	})
}

// --- Paths ---

func (api *API) BuyPath(fundAddr, token common.Address) (hexutil.Bytes, error) {
	return read(api, fundAddr, func(f *fund.Fund) (hexutil.Bytes, error) {
		return f.BuyPath(token), nil
	})
}

func (api *API) SellPath(fundAddr, token common.Address) (hexutil.Bytes, error) {
	return read(api, fundAddr, func(f *fund.Fund) (hexutil.Bytes, error) {
		return f.SellPath(token), nil
	})
}

// --- Events ---

// Events streams the events of one fund. With from set, recorded events with Seq >= from
// are replayed out of the journal before live delivery starts; events published between
// the last journaled one and the subscription reach the client as a sequence gap.
func (api *API) Events(ctx context.Context, fundAddr common.Address, from *hexutil.Uint64) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}

	// Subscribe under the lock so no event slips between the replay cut and live delivery.
	api.mu.Lock()
	f, err := api.fund(fundAddr)
	if err != nil {
		api.mu.Unlock()
		return nil, err
	}
	liveCh := make(chan fund.Event, api.eventBuffer)
	sub := f.SubscribeEvents(liveCh)
	cut := f.LastSeq()
	api.mu.Unlock()

	var replay []fund.Event
	if from != nil && api.journal != nil {
		recorded, err := api.journal.Events(fundAddr, uint64(*from))
		if err != nil {
			sub.Unsubscribe()
			return nil, fmt.Errorf("failed to replay events: %w", err)
		}
		for _, e := range recorded {
			if e.Seq <= cut {
				replay = append(replay, e)
			}
		}
	}

	rpcSub := notifier.CreateSubscription()
	api.logger.Info("event subscription opened", "fund", fundAddr.Hex(), "id", rpcSub.ID, "replay", len(replay))

	go func() {
		defer sub.Unsubscribe()

		notify := func(kind string, e fund.Event) bool {
			n := Notification{Type: kind, Payload: e, SentAt: time.Now().UnixNano()}
			if err := notifier.Notify(rpcSub.ID, n); err != nil {
				api.logger.Warn("failed to notify subscriber", "id", rpcSub.ID, "error", err)
				return false
			}
			return true
		}

		for _, e := range replay {
			if !notify(TypeReplay, e) {
				return
			}
		}
		for {
			select {
			case e := <-liveCh:
				if !notify(TypeLive, e) {
					return
				}
			case <-sub.Err():
				api.logger.Info("event feed closed", "fund", fundAddr.Hex(), "id", rpcSub.ID)
				return
			case <-rpcSub.Err():
				api.logger.Info("event subscription closed", "fund", fundAddr.Hex(), "id", rpcSub.ID)
				return
			}
		}
	}()
	return rpcSub, nil
}
