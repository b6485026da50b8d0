package state

import (
	"testing"

	"njord/domain/book"
	"njord/pkg/fixed"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	tkr = uuid.MustParse("00000000-0000-0000-0000-000000000011")
	mkr = uuid.MustParse("00000000-0000-0000-0000-000000000022")
)

// sellInfo builds a fully-matched taker sell of baseQty at price.
func sellInfo(taker, maker uuid.UUID, baseQty, price uint64) *book.OrderInfo {
	quote := fixed.Mul(baseQty, price)
	return &book.OrderInfo{
		OrderID:  7,
		Owner:    taker,
		Side:     book.Ask,
		Qty:      baseQty,
		Executed: baseQty,
		Status:   book.Filled,
		Fills: []book.Fill{{
			MakerID:    1,
			MakerOwner: maker,
			TakerOwner: taker,
			Price:      price,
			BaseQty:    baseQty,
			QuoteQty:   quote,
			TakerIsBid: false,
			MakerIsBid: true,
			MakerDone:  true,
		}},
	}
}

func TestProcessCreateSettlement(t *testing.T) {
	s := NewState(1, 28)
	info := sellInfo(tkr, mkr, 10*fixed.Scaling, 2*fixed.Scaling)

	settled, owed := s.ProcessCreate(info, 0, 0, 1)

	// taker sold 10 base for 20 quote, fee 0.1% of quote in quote
	require.Equal(t, 20*fixed.Scaling, settled.Quote)
	require.Equal(t, 10*fixed.Scaling, owed.Base)
	require.Equal(t, fixed.Mul(20*fixed.Scaling, DefaultTakerFee), owed.Quote)

	// maker bought 10 base, owes 0.05% of quote
	m, ok := s.Snapshot(mkr)
	require.True(t, ok)
	require.Equal(t, 10*fixed.Scaling, m.Settled.Base)
	require.Equal(t, fixed.Mul(20*fixed.Scaling, DefaultMakerFee), m.Owed.Quote)

	// fee amounts are stamped back into the fill
	require.Equal(t, fixed.Mul(20*fixed.Scaling, DefaultTakerFee), info.Fills[0].TakerFee)
	require.False(t, info.Fills[0].TakerFeeIsFeeAsset)
}

func TestProcessCreateFeeAssetElection(t *testing.T) {
	s := NewState(1, 28)
	info := sellInfo(tkr, mkr, 10*fixed.Scaling, 2*fixed.Scaling)
	info.FeeAsset = true

	perQuote := fixed.Scaling / 2 // 0.5 fee-asset per quote unit
	settled, owed := s.ProcessCreate(info, 0, perQuote, 1)

	quoteFee := fixed.Mul(20*fixed.Scaling, DefaultTakerFee)
	require.Equal(t, fixed.Mul(quoteFee, perQuote), owed.FeeAsset)
	require.Equal(t, uint64(0), owed.Quote)
	require.True(t, info.Fills[0].TakerFeeIsFeeAsset)
	require.Equal(t, 20*fixed.Scaling, settled.Quote)
}

func TestTakerDiscountRequiresStakeAndVolume(t *testing.T) {
	s := NewState(1, 28)
	perQuote := fixed.Scaling // 1:1 conversion so quote volume counts

	// rich stakes 150 in epoch 1; stake activates at epoch 2
	s.ProcessStake(tkr, 150*fixed.Scaling, 1)

	// epoch 2, first trade builds fee-asset volume above the threshold
	info := sellInfo(tkr, mkr, 100*fixed.Scaling, 2*fixed.Scaling)
	_, owed := s.ProcessCreate(info, 0, perQuote, 2)
	// volume not yet above the threshold when the fill is assessed: full fee
	require.Equal(t, fixed.Mul(200*fixed.Scaling, DefaultTakerFee), owed.Quote)

	// next fill in the same epoch gets the 50% discount
	info2 := sellInfo(tkr, mkr, 10*fixed.Scaling, 2*fixed.Scaling)
	_, owed2 := s.ProcessCreate(info2, 0, perQuote, 2)
	require.Equal(t, fixed.Mul(20*fixed.Scaling, DefaultTakerFee/2), owed2.Quote)

	// an identical account without the volume pays the full rate
	poor := uuid.MustParse("00000000-0000-0000-0000-000000000033")
	s.ProcessStake(poor, 150*fixed.Scaling, 1)
	info3 := sellInfo(poor, mkr, 10*fixed.Scaling, 2*fixed.Scaling)
	_, owed3 := s.ProcessCreate(info3, 0, perQuote, 2)
	require.Equal(t, fixed.Mul(20*fixed.Scaling, DefaultTakerFee), owed3.Quote)
}

func TestRestingRemainderLocksPrincipal(t *testing.T) {
	s := NewState(1, 28)
	info := &book.OrderInfo{
		OrderID: 9, Owner: tkr, Side: book.Bid, Price: 2 * fixed.Scaling,
		Qty: 10 * fixed.Scaling, Status: book.Live,
	}
	_, owed := s.ProcessCreate(info, 0, 0, 1)
	require.Equal(t, 20*fixed.Scaling, owed.Quote)

	a, _ := s.Snapshot(tkr)
	require.Contains(t, a.OpenOrders, uint64(9))
}

func TestCancelRefundsRemainder(t *testing.T) {
	s := NewState(1, 28)
	o := book.Order{ID: 9, Owner: tkr, Side: book.Bid, Price: 2 * fixed.Scaling,
		Qty: 10 * fixed.Scaling, Filled: 4 * fixed.Scaling}
	settled, _ := s.ProcessCancel(o, 1)
	require.Equal(t, 12*fixed.Scaling, settled.Quote)

	a, _ := s.Snapshot(tkr)
	require.NotContains(t, a.OpenOrders, uint64(9))
}

func TestExpiredMakerRefundThroughFill(t *testing.T) {
	s := NewState(1, 28)
	info := &book.OrderInfo{
		OrderID: 5, Owner: tkr, Side: book.Bid, Price: fixed.Scaling,
		Qty: fixed.Scaling, Executed: 0, Status: book.Canceled,
		Fills: []book.Fill{{
			MakerID: 3, MakerOwner: mkr, Price: 2 * fixed.Scaling,
			MakerIsBid: false, MakerExpired: true, MakerDone: true,
			MakerRefund: 4 * fixed.Scaling,
		}},
	}
	s.ProcessCreate(info, 0, 0, 1)
	m, _ := s.Snapshot(mkr)
	require.Equal(t, 4*fixed.Scaling, m.Settled.Base)
}

func TestStakeUnstakeRoundTrip(t *testing.T) {
	s := NewState(1, 28)
	_, owed := s.ProcessStake(tkr, 100*fixed.Scaling, 1)
	require.Equal(t, 100*fixed.Scaling, owed.FeeAsset)

	a, _ := s.Snapshot(tkr)
	require.Equal(t, 100*fixed.Scaling, a.InactiveStake)
	require.Equal(t, uint64(0), a.ActiveStake)

	// activates on first touch of the next epoch
	settled, _ := s.ProcessUnstake(tkr, 2)
	require.Equal(t, 100*fixed.Scaling, settled.FeeAsset)
	a, _ = s.Snapshot(tkr)
	require.Equal(t, uint64(0), a.totalStake())
}

func TestProposalNeedsActiveStake(t *testing.T) {
	s := NewState(1, 28)
	p := TradeParams{TakerFee: 500_000, MakerFee: 250_000, StakeRequired: fixed.Scaling}

	require.ErrorIs(t, s.ProcessProposal(tkr, p, 1), ErrNoStake)

	s.ProcessStake(tkr, 100*fixed.Scaling, 1)
	// still inactive this epoch
	require.ErrorIs(t, s.ProcessProposal(tkr, p, 1), ErrNoStake)
	// active next epoch
	require.NoError(t, s.ProcessProposal(tkr, p, 2))
}

func TestEpochRolloverIdempotentOnState(t *testing.T) {
	s := NewState(1, 28)
	info := sellInfo(tkr, mkr, 10*fixed.Scaling, fixed.Scaling)
	s.ProcessCreate(info, 0, fixed.Scaling, 1)

	s.Update(2)
	closed, ok := s.History().Closed(1)
	require.True(t, ok)

	s.Update(2)
	again, _ := s.History().Closed(1)
	require.Equal(t, closed.TotalVolume, again.TotalVolume)
	require.Equal(t, closed.FeesCollected, again.FeesCollected)
}
