package fund

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
)

type EventKind string

const (
	EventDeposit  EventKind = "deposit"
	EventWithdraw EventKind = "withdraw"
	EventInit     EventKind = "init"
	EventAdd      EventKind = "add"
	EventSub      EventKind = "sub"
	EventMove     EventKind = "move"
	EventSetPath  EventKind = "setPath"
	EventTransfer EventKind = "transfer"
	EventApproval EventKind = "approval"
)

// PositionRef addresses a position by pool and position index. To is only set by move.
type PositionRef struct {
	Pool     int  `json:"pool"`
	Position int  `json:"position"`
	To       *int `json:"to,omitempty"`
}

// Event is a state change published by a fund. Seq increases by one per event and is
// never reused, so consumers can detect gaps.
type Event struct {
	Seq     uint64         `json:"seq"`
	Kind    EventKind      `json:"kind"`
	Fund    common.Address `json:"fund"`
	Account common.Address `json:"account"`
	// Counterparty is the receiver of a transfer or the spender of an approval.
	Counterparty common.Address `json:"counterparty"`
	Token        common.Address `json:"token"`

	Amount      *hexutil.Big  `json:"amount,omitempty"`
	Share       *hexutil.Big  `json:"share,omitempty"`
	ProtocolFee *hexutil.Big  `json:"protocolFee,omitempty"`
	ManagerFee  *hexutil.Big  `json:"managerFee,omitempty"`
	Proportion  *hexutil.Big  `json:"proportionX128,omitempty"`
	Liquidity   *hexutil.Big  `json:"liquidity,omitempty"`
	Position    *PositionRef  `json:"position,omitempty"`
	Path        hexutil.Bytes `json:"path,omitempty"`
}

func hexBig(x *big.Int) *hexutil.Big {
	if x == nil {
		return nil
	}
	return (*hexutil.Big)(new(big.Int).Set(x))
}

// SubscribeEvents delivers every event the fund publishes from now on to ch. Delivery is
// synchronous with the operation that produced the event, so subscribers must keep
// draining ch.
func (f *Fund) SubscribeEvents(ch chan<- Event) event.Subscription {
	return f.scope.Track(f.feed.Subscribe(ch))
}

// LastSeq returns the sequence number of the most recent event, 0 if none.
func (f *Fund) LastSeq() uint64 {
	return f.seq
}

// Close ends all event subscriptions.
func (f *Fund) Close() {
	f.scope.Close()
}

func (f *Fund) emit(e Event) {
	f.seq++
	e.Seq = f.seq
	e.Fund = f.address
	f.feed.Send(e)
}
