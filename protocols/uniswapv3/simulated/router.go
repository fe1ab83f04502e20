package simulated

import (
	"context"
	"fmt"
	"math/big"
	"time"

	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/path"
	"github.com/ethereum/go-ethereum/common"
)

// RouterAddress holds intermediate tokens between the hops of a multi-hop swap.
var RouterAddress = common.HexToAddress("0x000000000000000000000000000000000000e592")

// Router executes exact-input swaps across simulated pools.
type Router struct {
	factory *Factory
	now     func() time.Time
}

var (
	_ uniswapv3.Router = (*Router)(nil)
	_ uniswapv3.Quoter = (*Quoter)(nil)
)

// NewRouter returns a router over factory's pools. A nil clock uses time.Now.
func NewRouter(factory *Factory, clock func() time.Time) *Router {
	if clock == nil {
		clock = time.Now
	}
	return &Router{factory: factory, now: clock}
}

// ExactInput swaps along params.Path. The route is priced first and nothing moves unless
// the output meets params.AmountOutMinimum.
func (r *Router) ExactInput(ctx context.Context, params uniswapv3.ExactInputParams) (*big.Int, error) {
	if !params.Deadline.IsZero() && r.now().After(params.Deadline) {
		return nil, uniswapv3.ErrTransactionTooOld
	}
	hops, pools, err := resolve(r.factory, params.Path)
	if err != nil {
		return nil, err
	}

	quoted, err := quote(ctx, hops, pools, params.AmountIn)
	if err != nil {
		return nil, err
	}
	if params.AmountOutMinimum != nil && quoted.Cmp(params.AmountOutMinimum) < 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", uniswapv3.ErrTooLittleReceived, quoted, params.AmountOutMinimum)
	}

	amount := params.AmountIn
	payer := params.Payer
	for i, hop := range hops {
		recipient := RouterAddress
		if i == len(hops)-1 {
			recipient = params.Recipient
		}
		if amount, err = pools[i].Swap(ctx, payer, recipient, hop.TokenIn, amount); err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		payer = RouterAddress
	}
	return amount, nil
}

// Quoter prices exact-input routes against the current pool states.
type Quoter struct {
	factory *Factory
}

func NewQuoter(factory *Factory) *Quoter {
	return &Quoter{factory: factory}
}

func (q *Quoter) QuoteExactInput(ctx context.Context, route []byte, amountIn *big.Int) (*big.Int, error) {
	hops, pools, err := resolve(q.factory, route)
	if err != nil {
		return nil, err
	}
	return quote(ctx, hops, pools, amountIn)
}

// QuoteExactInputs prices legs in order against scratch copies of the pools they touch,
// so a leg routed through a pool an earlier leg traded in sees the moved price.
func (q *Quoter) QuoteExactInputs(ctx context.Context, legs []uniswapv3.SwapLeg) ([]*big.Int, error) {
	scratch := make(map[*Pool]*Pool)
	out := make([]*big.Int, len(legs))
	for k, leg := range legs {
		hops, pools, err := resolve(q.factory, leg.Path)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", k, err)
		}
		amount := leg.AmountIn
		if amount == nil {
			amount = new(big.Int)
		}
		for i, hop := range hops {
			if amount.Sign() == 0 {
				break
			}
			s, ok := scratch[pools[i]]
			if !ok {
				s = pools[i].clone()
				scratch[pools[i]] = s
			}
			if amount, err = s.swapUnsettled(hop.TokenIn, amount); err != nil {
				return nil, fmt.Errorf("leg %d hop %d: %w", k, i, err)
			}
		}
		out[k] = new(big.Int).Set(amount)
	}
	return out, nil
}

func resolve(factory *Factory, route []byte) ([]path.Hop, []*Pool, error) {
	hops, err := path.Hops(route)
	if err != nil {
		return nil, nil, err
	}
	pools := make([]*Pool, len(hops))
	for i, hop := range hops {
		pool, ok := factory.Pool(hop.TokenIn, hop.TokenOut, hop.Fee)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s/%s %d", uniswapv3.ErrPoolNotFound, hop.TokenIn, hop.TokenOut, hop.Fee)
		}
		pools[i] = pool
	}
	return hops, pools, nil
}

func quote(ctx context.Context, hops []path.Hop, pools []*Pool, amountIn *big.Int) (*big.Int, error) {
	amount := amountIn
	var err error
	for i, hop := range hops {
		if amount, err = pools[i].Quote(ctx, hop.TokenIn, amount); err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
	}
	return amount, nil
}
