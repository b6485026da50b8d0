package pool

import (
	"testing"

	"njord/domain/book"
	"njord/domain/custody"
	"njord/pkg/fixed"

	"github.com/stretchr/testify/require"
)

func TestExportRebuildsLivePool(t *testing.T) {
	p, l := newTestPool(t, nil)

	bid, err := p.PlaceLimitOrder(cred(alice), book.Bid, 2*fixed.Scaling, 10*fixed.Scaling,
		book.NoRestriction, book.SelfMatchAllowed, 100_000, false, 1000)
	require.NoError(t, err)
	sell, err := p.PlaceMarketOrder(cred(bob), book.Ask, 4*fixed.Scaling,
		book.SelfMatchAllowed, false, 2000)
	require.NoError(t, err)
	require.Equal(t, 4*fixed.Scaling, sell.Executed)
	require.NoError(t, p.Stake(cred(alice), 50*fixed.Scaling, 2000))

	img := p.Export()
	r := FromImage(img, Config{Ledger: l})

	require.Equal(t, p.Pair(), r.Pair())

	// resting depth carries over, including the partial fill
	prices, qtys := r.Level2Range(0, 1<<60, book.Bid, 3000)
	require.Equal(t, []uint64{2 * fixed.Scaling}, prices)
	require.Equal(t, []uint64{6 * fixed.Scaling}, qtys)

	// accounts carry over: the open order, the stake, the fee owed
	pa, ok := p.Account(alice)
	require.True(t, ok)
	ra, ok := r.Account(alice)
	require.True(t, ok)
	require.Equal(t, pa, ra)

	// the rebuilt pool keeps serving: bob fills the remainder, alice exits
	rest, err := r.PlaceMarketOrder(cred(bob), book.Ask, 6*fixed.Scaling,
		book.SelfMatchAllowed, false, 3000)
	require.NoError(t, err)
	require.Equal(t, 6*fixed.Scaling, rest.Executed)
	require.NotEqual(t, bid.OrderID, rest.OrderID)

	ra, ok = r.Account(alice)
	require.True(t, ok)
	require.Empty(t, ra.OpenOrders)

	_, err = r.WithdrawAll(cred(alice), 4000)
	require.NoError(t, err)
	require.Equal(t, 1000*fixed.Scaling, l.bal[alice][custody.FeeAsset])
}
