package fund

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvents_SequencedInOrder(t *testing.T) {
	fx := newFixture(t)
	f := fx.fund
	// The fixture's route setup was the first event.
	require.Equal(t, uint64(1), f.LastSeq())

	ch := make(chan Event, 64)
	sub := f.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	fx.deposit(t, alice, e18(10))
	fx.init(t, tokenA, tokenB, -600, 600, e18(4))
	_, err := f.Withdraw(fx.ctx, alice, e18(8), nil, fx.deadline())
	require.NoError(t, err)

	var got []Event
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	kinds := make([]EventKind, len(got))
	for i, e := range got {
		assert.Equal(t, uint64(i+2), e.Seq)
		assert.Equal(t, fundAddr, e.Fund)
		kinds[i] = e.Kind
	}
	assert.Equal(t, []EventKind{
		EventTransfer, EventDeposit, // mint, deposit
		EventInit,
		EventSub,                     // walk liquidates the position
		EventTransfer, EventWithdraw, // burn, withdraw
	}, kinds)
	assert.Equal(t, got[len(got)-1].Seq, f.LastSeq())

	deposit := got[1]
	assert.Equal(t, alice, deposit.Account)
	assert.Zero(t, deposit.Amount.ToInt().Cmp(e18(10)))
	assert.Zero(t, deposit.Share.ToInt().Cmp(e18(10)))

	opened := got[2]
	require.NotNil(t, opened.Position)
	assert.Equal(t, 0, opened.Position.Pool)
	assert.Equal(t, 0, opened.Position.Position)
	assert.Positive(t, opened.Liquidity.ToInt().Sign())

	walk := got[3]
	assert.Equal(t, alice, walk.Account)
	assert.Positive(t, walk.Proportion.ToInt().Sign())
}

func TestEvents_CloseEndsSubscriptions(t *testing.T) {
	fx := newFixture(t)
	ch := make(chan Event, 1)
	sub := fx.fund.SubscribeEvents(ch)

	fx.fund.Close()

	_, open := <-sub.Err()
	assert.False(t, open)
}

func TestMetrics_RecordOutcomes(t *testing.T) {
	fx := newFixture(t)
	f := fx.fund
	label := fundAddr.Hex()

	fx.deposit(t, alice, e18(10))
	_, err := f.Deposit(fx.ctx, alice, nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.operations.WithLabelValues(label, "deposit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.operations.WithLabelValues(label, "deposit", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.operations.WithLabelValues(label, "setPath", "ok")))
	assert.Equal(t, 1e19, testutil.ToFloat64(fx.metrics.totalSupply.WithLabelValues(label)))

	_, err = f.TotalAssets(fx.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1e19, testutil.ToFloat64(fx.metrics.totalAssets.WithLabelValues(label)))
}
