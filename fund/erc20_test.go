package fund

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareMetadata(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, "LP Fund Share", fx.fund.Name())
	assert.Equal(t, "LPF", fx.fund.Symbol())
	assert.Equal(t, uint8(18), fx.fund.Decimals())
}

func TestTransfer_MovesCostBasis(t *testing.T) {
	fx := newFixture(t)
	f := fx.fund
	fx.deposit(t, alice, e18(10))

	require.NoError(t, f.Transfer(alice, bob, e18(4)))

	assert.Zero(t, f.BalanceOf(alice).Cmp(e18(6)))
	assert.Zero(t, f.BalanceOf(bob).Cmp(e18(4)))
	assert.Zero(t, f.InvestmentOf(alice).Cmp(e18(6)))
	assert.Zero(t, f.InvestmentOf(bob).Cmp(e18(4)))
	assert.Zero(t, f.TotalInvestment().Cmp(e18(10)))
	assert.Zero(t, f.TotalSupply().Cmp(e18(10)))
	assert.Equal(t, []common.Address{alice, bob}, f.Holders())

	// bob redeems at cost, so nothing is charged.
	out, err := f.Withdraw(fx.ctx, bob, e18(4), nil, fx.deadline())
	require.NoError(t, err)
	assert.Zero(t, out.Cmp(e18(4)))
	assert.Zero(t, fx.ledger.BalanceOf(tokenA, manager).Sign())
	assert.Equal(t, []common.Address{alice}, f.Holders())

	assert.ErrorIs(t, f.Transfer(alice, bob, e18(7)), ErrInsufficientShares)
	assert.ErrorIs(t, f.Transfer(alice, common.Address{}, e18(1)), ErrZeroAddress)
	assert.ErrorIs(t, f.Transfer(alice, bob, big.NewInt(-1)), ErrValidation)

	// Self transfers and zero amounts change nothing.
	require.NoError(t, f.Transfer(alice, alice, e18(6)))
	require.NoError(t, f.Transfer(alice, bob, new(big.Int)))
	assert.Zero(t, f.BalanceOf(alice).Cmp(e18(6)))
	assert.Zero(t, f.InvestmentOf(alice).Cmp(e18(6)))
}

func TestApproveAndTransferFrom(t *testing.T) {
	fx := newFixture(t)
	f := fx.fund
	fx.deposit(t, alice, e18(10))

	require.NoError(t, f.Approve(alice, bob, e18(5)))
	assert.Zero(t, f.Allowance(alice, bob).Cmp(e18(5)))

	require.NoError(t, f.TransferFrom(bob, alice, trader, e18(3)))
	assert.Zero(t, f.Allowance(alice, bob).Cmp(e18(2)))
	assert.Zero(t, f.BalanceOf(trader).Cmp(e18(3)))
	assert.Zero(t, f.InvestmentOf(trader).Cmp(e18(3)))

	err := f.TransferFrom(bob, alice, trader, e18(3))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
	assert.Zero(t, f.Allowance(alice, bob).Cmp(e18(2)))

	require.NoError(t, f.Approve(alice, bob, MaxAllowance))
	require.NoError(t, f.TransferFrom(bob, alice, trader, e18(3)))
	assert.Zero(t, f.Allowance(alice, bob).Cmp(MaxAllowance))

	assert.ErrorIs(t, f.Approve(alice, common.Address{}, e18(1)), ErrZeroAddress)
	assert.ErrorIs(t, f.Approve(alice, bob, nil), ErrValidation)
}
