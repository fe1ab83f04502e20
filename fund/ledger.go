package fund

import (
	"context"
	"fmt"
	"math/big"

	"github.com/defistate/lpfund-go/fixedpoint"
	uniswapv3 "github.com/defistate/lpfund-go/protocols/uniswapv3"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/path"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/tickmath"
	"github.com/ethereum/go-ethereum/common"
)

// positionSnapshot is the venue-side state of one fund position at the current price.
type positionSnapshot struct {
	slot0     uniswapv3.Slot0
	liquidity *big.Int
	sqrtLower *big.Int
	sqrtUpper *big.Int
	// fees accrued since the last settlement plus tokens already owed, per token.
	fees [2]*big.Int
	// principal backing the liquidity, rounded down.
	principal [2]*big.Int
}

func (s *positionSnapshot) total(i int) *big.Int {
	return new(big.Int).Add(s.fees[i], s.principal[i])
}

func (f *Fund) snapshot(ctx context.Context, p *poolEntry, pos Position) (*positionSnapshot, error) {
	slot0, err := p.venue.Slot0(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool %s slot0: %w", p.Address, err)
	}
	info, err := p.venue.Position(ctx, uniswapv3.PositionKey(f.address, pos.TickLower, pos.TickUpper))
	if err != nil {
		return nil, fmt.Errorf("pool %s position: %w", p.Address, err)
	}
	global0, global1, err := p.venue.FeeGrowthGlobal(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool %s fee growth: %w", p.Address, err)
	}
	lower, err := p.venue.Tick(ctx, pos.TickLower)
	if err != nil {
		return nil, fmt.Errorf("pool %s tick %d: %w", p.Address, pos.TickLower, err)
	}
	upper, err := p.venue.Tick(ctx, pos.TickUpper)
	if err != nil {
		return nil, fmt.Errorf("pool %s tick %d: %w", p.Address, pos.TickUpper, err)
	}

	s := &positionSnapshot{slot0: slot0, liquidity: info.Liquidity}
	if s.sqrtLower, err = tickmath.SqrtRatioAtTick(pos.TickLower); err != nil {
		return nil, err
	}
	if s.sqrtUpper, err = tickmath.SqrtRatioAtTick(pos.TickUpper); err != nil {
		return nil, err
	}

	inside0 := fixedpoint.FeeGrowthInside(pos.TickLower, pos.TickUpper, slot0.Tick, global0, lower.FeeGrowthOutside0X128, upper.FeeGrowthOutside0X128)
	inside1 := fixedpoint.FeeGrowthInside(pos.TickLower, pos.TickUpper, slot0.Tick, global1, lower.FeeGrowthOutside1X128, upper.FeeGrowthOutside1X128)
	s.fees[0] = fixedpoint.FeesEarned(inside0, info.FeeGrowthInside0LastX128, info.Liquidity)
	s.fees[0].Add(s.fees[0], info.TokensOwed0)
	s.fees[1] = fixedpoint.FeesEarned(inside1, info.FeeGrowthInside1LastX128, info.Liquidity)
	s.fees[1].Add(s.fees[1], info.TokensOwed1)

	s.principal[0], s.principal[1], err = fixedpoint.PrincipalAmounts(
		slot0.Tick, pos.TickLower, pos.TickUpper,
		slot0.SqrtPriceX96, s.sqrtLower, s.sqrtUpper, info.Liquidity,
		false,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// routePrice compounds the current sqrt prices of the route's pools into the sqrt price of
// the route's last token in units of its first, one hop at a time.
func (f *Fund) routePrice(ctx context.Context, route []byte) (*big.Int, error) {
	price := new(big.Int).Set(fixedpoint.Q96)
	for rest := route; ; rest = path.SkipToken(rest) {
		hop, err := path.DecodeFirstPool(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		venue, ok := f.factory.GetPool(hop.TokenIn, hop.TokenOut, hop.Fee)
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, hop.TokenIn, hop.TokenOut, hop.Fee)
		}
		slot0, err := venue.Slot0(ctx)
		if err != nil {
			return nil, fmt.Errorf("pool %s slot0: %w", venue.Address(), err)
		}

		if hop.TokenIn.Cmp(hop.TokenOut) < 0 {
			price, err = fixedpoint.MulDiv(price, slot0.SqrtPriceX96, fixedpoint.Q96)
		} else {
			price, err = fixedpoint.MulDiv(price, fixedpoint.Q96, slot0.SqrtPriceX96)
		}
		if err != nil {
			return nil, fmt.Errorf("pool %s price: %w", venue.Address(), err)
		}

		if !path.HasMultiplePools(rest) {
			return price, nil
		}
	}
}

// valueOf prices amount of token in invest-token units along the token's sell path. A
// token without a sell path cannot be valued.
func (f *Fund) valueOf(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	if token == f.investToken {
		return new(big.Int).Set(amount), nil
	}
	route, ok := f.sellPath[token]
	if !ok {
		return nil, fmt.Errorf("%w: no sell path for %s", ErrPathNotSet, token)
	}
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	price, err := f.routePrice(ctx, route)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Convert(amount, price), nil
}

func (f *Fund) positionValue(ctx context.Context, p *poolEntry, pos Position) (*big.Int, error) {
	if pos.IsEmpty {
		return new(big.Int), nil
	}
	s, err := f.snapshot(ctx, p, pos)
	if err != nil {
		return nil, err
	}
	v0, err := f.valueOf(ctx, p.Token0, s.total(0))
	if err != nil {
		return nil, err
	}
	v1, err := f.valueOf(ctx, p.Token1, s.total(1))
	if err != nil {
		return nil, err
	}
	return v0.Add(v0, v1), nil
}

func (f *Fund) poolValue(ctx context.Context, p *poolEntry) (*big.Int, error) {
	total := new(big.Int)
	for _, pos := range p.positions {
		v, err := f.positionValue(ctx, p, pos)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, nil
}

// AssetsOfPosition returns the value of a position in invest-token units: accrued fees,
// owed tokens and the principal behind its liquidity, with every non-invest amount priced
// along its sell path. Empty positions are worth zero.
func (f *Fund) AssetsOfPosition(ctx context.Context, poolIndex, positionIndex int) (*big.Int, error) {
	p, err := f.pool(poolIndex)
	if err != nil {
		return nil, err
	}
	if positionIndex < 0 || positionIndex >= len(p.positions) {
		return nil, fmt.Errorf("%w: position %d of pool %d", ErrIndexOutOfRange, positionIndex, poolIndex)
	}
	return f.positionValue(ctx, p, p.positions[positionIndex])
}

// AssetsOfPool returns the summed value of the pool's non-empty positions.
func (f *Fund) AssetsOfPool(ctx context.Context, poolIndex int) (*big.Int, error) {
	p, err := f.pool(poolIndex)
	if err != nil {
		return nil, err
	}
	return f.poolValue(ctx, p)
}

// TotalAssets returns the idle balance plus the value of every pool.
func (f *Fund) TotalAssets(ctx context.Context) (*big.Int, error) {
	total := f.IdleBalance()
	for _, p := range f.pools {
		v, err := f.poolValue(ctx, p)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	f.setTotalAssets(total)
	return total, nil
}

// AssetsMatrix returns the value of every position, indexed [pool][position].
func (f *Fund) AssetsMatrix(ctx context.Context) ([][]*big.Int, error) {
	matrix := make([][]*big.Int, len(f.pools))
	for i, p := range f.pools {
		row := make([]*big.Int, len(p.positions))
		for j, pos := range p.positions {
			v, err := f.positionValue(ctx, p, pos)
			if err != nil {
				return nil, err
			}
			row[j] = v
		}
		matrix[i] = row
	}
	return matrix, nil
}
