package factory

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/defistate/lpfund-go/controller"
	"github.com/defistate/lpfund-go/fund"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/path"
	"github.com/defistate/lpfund-go/protocols/uniswapv3/simulated"
	"github.com/defistate/lpfund-go/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdc   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	wbtc   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	shady  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	weth9  = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	reward = common.HexToAddress("0x00000000000000000000000000000000000000e5")

	self       = common.HexToAddress("0x0000000000000000000000000000000000fac701")
	ctrlAddr   = common.HexToAddress("0x0000000000000000000000000000000000c0de01")
	governance = common.HexToAddress("0x0000000000000000000000000000000000900001")
	alice      = common.HexToAddress("0x0000000000000000000000000000000000a11ce1")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000b0b001")
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := token.NewLedger()
	venue := simulated.NewFactory(ledger)
	router := simulated.NewRouter(venue, nil)

	ctrl, err := controller.New(&controller.Config{
		Address:     ctrlAddr,
		Governance:  governance,
		WETH9:       weth9,
		RewardToken: reward,
		Factory:     venue,
		Router:      router,
		Tokens:      ledger,
		Logger:      logger,
	})
	require.NoError(t, err)
	for _, tok := range []common.Address{usdc, wbtc} {
		require.NoError(t, ctrl.SetVerifiedToken(governance, tok, true))
	}

	registry, err := token.NewRegistry(
		token.Token{Address: usdc, Symbol: "USDC", Decimals: 6},
		token.Token{Address: wbtc, Symbol: "WBTC", Decimals: 8},
	)
	require.NoError(t, err)

	f, err := New(&Config{
		Address:    self,
		Controller: ctrl,
		Venue:      venue,
		Router:     router,
		Quoter:     simulated.NewQuoter(venue),
		Tokens:     ledger,
		Registry:   registry,
		Metrics:    fund.NewMetrics(prometheus.NewRegistry()),
		Logger:     logger,
	})
	require.NoError(t, err)
	return f
}

func TestFundAddress(t *testing.T) {
	want := common.BytesToAddress(crypto.Keccak256(self.Bytes(), alice.Bytes(), usdc.Bytes())[12:])
	assert.Equal(t, want, FundAddress(self, alice, usdc))
	assert.NotEqual(t, FundAddress(self, alice, usdc), FundAddress(self, bob, usdc))
	assert.NotEqual(t, FundAddress(self, alice, usdc), FundAddress(self, alice, wbtc))
}

func TestCreateFund(t *testing.T) {
	f := newTestFactory(t)

	created, err := f.CreateFund(CreateParams{Manager: alice, Token: usdc, Descriptor: "usdc majors", ManagerFeePercent: 20})
	require.NoError(t, err)

	assert.Equal(t, FundAddress(self, alice, usdc), created.Address())
	assert.Equal(t, alice, created.Manager())
	assert.Equal(t, usdc, created.InvestToken())
	assert.Equal(t, DefaultShareName, created.Name())
	assert.Equal(t, DefaultShareSymbol, created.Symbol())
	assert.Equal(t, uint8(6), created.Decimals())
	assert.Equal(t, "usdc majors", f.Descriptor(created.Address()))

	got, ok := f.GetFund(alice, usdc)
	require.True(t, ok)
	assert.Same(t, created, got)
	_, ok = f.GetFund(bob, usdc)
	assert.False(t, ok)

	_, err = f.CreateFund(CreateParams{Manager: alice, Token: usdc})
	assert.ErrorIs(t, err, ErrFundExists)

	other, err := f.CreateFund(CreateParams{Manager: alice, Token: wbtc, ManagerFeePercent: fund.MaxManagerFeePercent})
	require.NoError(t, err)
	assert.Equal(t, uint8(8), other.Decimals())
	assert.Equal(t, []*fund.Fund{created, other}, f.Funds())
}

func TestCreateFund_Rejections(t *testing.T) {
	f := newTestFactory(t)

	_, err := f.CreateFund(CreateParams{Manager: alice, Token: shady})
	assert.ErrorIs(t, err, ErrUnverifiedToken)

	_, err = f.CreateFund(CreateParams{Manager: alice, Token: usdc, ManagerFeePercent: fund.MaxManagerFeePercent + 1})
	assert.ErrorIs(t, err, ErrManagerFeeTooHigh)

	_, err = f.CreateFund(CreateParams{Token: usdc})
	assert.ErrorIs(t, err, ErrZeroAddress)

	assert.Empty(t, f.Funds())
}

func TestCreatedFundsShareTheController(t *testing.T) {
	f := newTestFactory(t)
	created, err := f.CreateFund(CreateParams{Manager: alice, Token: usdc, ManagerFeePercent: 10})
	require.NoError(t, err)

	// Unverified tokens cannot be routed through.
	route, err := path.Encode([]common.Address{usdc, shady}, []uint32{3000})
	require.NoError(t, err)
	err = created.SetPath(context.Background(), alice, shady, route)
	assert.ErrorIs(t, err, fund.ErrUnverifiedToken)

	assert.Zero(t, created.TotalSupply().Sign())
}
