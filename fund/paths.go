package fund

import (
	"bytes"
	"context"
	"fmt"

	"github.com/defistate/lpfund-go/protocols/uniswapv3/path"
	"github.com/ethereum/go-ethereum/common"
)

// SetPath configures the swap routes between the invest token and distToken. A route that
// starts at the invest token is taken as the buy path and must end at distToken; any other
// route is taken as the sell path and must run from distToken to the invest token. The
// opposite direction is stored as the exact reverse.
//
// Once a token has a route, it can only be replaced while every pool holding the token
// is worth zero, so no valued position is ever repriced under a different route.
func (f *Fund) SetPath(ctx context.Context, caller, distToken common.Address, route []byte) (err error) {
	done := f.observe("setPath")
	defer func() { done(err) }()

	if err := f.checkManager(caller); err != nil {
		return err
	}
	if distToken == f.investToken {
		return fmt.Errorf("%w: %s is the invest token", ErrPathMismatch, distToken)
	}

	tokens, err := path.Tokens(route)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	first, last := tokens[0], tokens[len(tokens)-1]

	var buy, sell []byte
	switch {
	case first == f.investToken:
		if last != distToken {
			return fmt.Errorf("%w: buy path ends at %s, want %s", ErrPathMismatch, last, distToken)
		}
		buy = bytes.Clone(route)
		if sell, err = path.Reverse(route); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
	case first == distToken:
		if last != f.investToken {
			return fmt.Errorf("%w: sell path ends at %s, want %s", ErrPathMismatch, last, f.investToken)
		}
		sell = bytes.Clone(route)
		if buy, err = path.Reverse(route); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
	default:
		return fmt.Errorf("%w: path starts at %s", ErrPathMismatch, first)
	}

	for _, token := range tokens {
		if !f.controller.VerifiedToken(token) {
			return fmt.Errorf("%w: %s", ErrUnverifiedToken, token)
		}
	}
	hops, err := path.Hops(route)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	for _, hop := range hops {
		if _, ok := f.factory.GetPool(hop.TokenIn, hop.TokenOut, hop.Fee); !ok {
			return fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, hop.TokenIn, hop.TokenOut, hop.Fee)
		}
	}

	if _, ok := f.sellPath[distToken]; ok {
		if err := f.checkNoExposure(ctx, distToken); err != nil {
			return err
		}
	}

	f.buyPath[distToken] = buy
	f.sellPath[distToken] = sell
	f.logger.Info("Route configured", "fund", f.address, "token", distToken, "hops", len(hops))
	f.emit(Event{Kind: EventSetPath, Account: caller, Token: distToken, Path: bytes.Clone(buy)})
	return nil
}

// checkNoExposure fails unless every pool containing token is worth zero.
func (f *Fund) checkNoExposure(ctx context.Context, token common.Address) error {
	for i, p := range f.pools {
		if p.Token0 != token && p.Token1 != token {
			continue
		}
		v, err := f.poolValue(ctx, p)
		if err != nil {
			return err
		}
		if v.Sign() != 0 {
			return fmt.Errorf("%w: pool %d holds %s of value", ErrAssetsNotZero, i, v)
		}
	}
	return nil
}

// BuyPath returns the route from the invest token to token, nil if unset.
func (f *Fund) BuyPath(token common.Address) []byte {
	return bytes.Clone(f.buyPath[token])
}

// SellPath returns the route from token to the invest token, nil if unset.
func (f *Fund) SellPath(token common.Address) []byte {
	return bytes.Clone(f.sellPath[token])
}

func (f *Fund) requirePaths(tokens ...common.Address) error {
	for _, token := range tokens {
		if token == f.investToken {
			continue
		}
		if _, ok := f.sellPath[token]; !ok {
			return fmt.Errorf("%w: %s", ErrPathNotSet, token)
		}
	}
	return nil
}
