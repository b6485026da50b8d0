package pool

import (
	"sync"
	"testing"

	"njord/domain/book"
	"njord/domain/custody"
	"njord/domain/vault"
	"njord/events"
	"njord/pkg/fixed"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	bob   = uuid.MustParse("00000000-0000-0000-0000-0000000000b2")
)

// testLedger is a funded in-memory custody ledger.
type testLedger struct {
	bal map[uuid.UUID][3]uint64
}

func newTestLedger(owners ...uuid.UUID) *testLedger {
	l := &testLedger{bal: make(map[uuid.UUID][3]uint64)}
	for _, o := range owners {
		l.bal[o] = [3]uint64{1000 * fixed.Scaling, 1000 * fixed.Scaling, 1000 * fixed.Scaling}
	}
	return l
}

func (l *testLedger) Deposit(a uuid.UUID, asset custody.Asset, amt uint64) error {
	b := l.bal[a]
	b[asset] += amt
	l.bal[a] = b
	return nil
}

func (l *testLedger) Withdraw(a uuid.UUID, asset custody.Asset, amt uint64) error {
	b := l.bal[a]
	if b[asset] < amt {
		return custody.ErrInsufficientFunds
	}
	b[asset] -= amt
	l.bal[a] = b
	return nil
}

func (l *testLedger) Balance(a uuid.UUID, asset custody.Asset) (uint64, error) {
	return l.bal[a][asset], nil
}

type captureEmitter struct {
	got []events.Event
}

func (c *captureEmitter) Emit(e events.Event) { c.got = append(c.got, e) }

func newTestPool(t *testing.T, emit events.Emitter) (*Pool, *testLedger) {
	t.Helper()
	l := newTestLedger(alice, bob)
	p := NewPool(Pair{Base: "NJD", Quote: "USD"}, Config{
		TickSize: 1, LotSize: 1, MinSize: 1,
		Ledger: l, Emitter: emit,
	}, 0)
	return p, l
}

func cred(owner uuid.UUID) custody.Credential {
	return custody.Credential{Account: owner, Token: uuid.New()}
}

func TestPlaceAndMatchSettlesThroughCustody(t *testing.T) {
	p, l := newTestPool(t, nil)

	// alice posts a bid for 10 @ 2.0: 20 quote locked immediately
	info, err := p.PlaceLimitOrder(cred(alice), book.Bid, 2*fixed.Scaling, 10*fixed.Scaling,
		book.NoRestriction, book.SelfMatchAllowed, 10_000, false, 1000)
	require.NoError(t, err)
	require.Equal(t, book.Live, info.Status)
	require.Equal(t, (1000-20)*fixed.Scaling, l.bal[alice][custody.Quote])

	// bob sells into it: receives 20 quote minus nothing yet (fee owed),
	// delivers 10 base
	sell, err := p.PlaceMarketOrder(cred(bob), book.Ask, 10*fixed.Scaling,
		book.SelfMatchAllowed, false, 2000)
	require.NoError(t, err)
	require.Equal(t, 10*fixed.Scaling, sell.Executed)

	takerFee := fixed.Mul(20*fixed.Scaling, p.TradeParams().TakerFee)
	require.Equal(t, (1000-10)*fixed.Scaling, l.bal[bob][custody.Base])
	require.Equal(t, 1000*fixed.Scaling+20*fixed.Scaling-takerFee, l.bal[bob][custody.Quote])

	// alice's proceeds sit on her ledger until she settles
	require.NoError(t, p.WithdrawSettled(cred(alice), 3000))
	require.Equal(t, (1000+10)*fixed.Scaling, l.bal[alice][custody.Base])
	makerFee := fixed.Mul(20*fixed.Scaling, p.TradeParams().MakerFee)
	require.Equal(t, (1000-20)*fixed.Scaling-makerFee, l.bal[alice][custody.Quote])
}

func TestCancelReturnsLockedPrincipal(t *testing.T) {
	p, l := newTestPool(t, nil)

	info, err := p.PlaceLimitOrder(cred(alice), book.Bid, 2*fixed.Scaling, 10*fixed.Scaling,
		book.NoRestriction, book.SelfMatchAllowed, 10_000, false, 1000)
	require.NoError(t, err)
	require.Equal(t, (1000-20)*fixed.Scaling, l.bal[alice][custody.Quote])

	require.NoError(t, p.CancelOrder(cred(alice), info.OrderID, 2000))
	require.Equal(t, 1000*fixed.Scaling, l.bal[alice][custody.Quote])
}

func TestCancelAllRemovesEveryOrder(t *testing.T) {
	p, l := newTestPool(t, nil)

	for i := 0; i < 3; i++ {
		_, err := p.PlaceLimitOrder(cred(alice), book.Bid, fixed.Scaling, fixed.Scaling,
			book.NoRestriction, book.SelfMatchAllowed, 10_000, false, 1000)
		require.NoError(t, err)
	}
	n, err := p.CancelAll(cred(alice), 2000)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 1000*fixed.Scaling, l.bal[alice][custody.Quote])
}

func TestWithdrawAllExitsThePool(t *testing.T) {
	p, l := newTestPool(t, nil)

	for i := 0; i < 2; i++ {
		_, err := p.PlaceLimitOrder(cred(alice), book.Bid, fixed.Scaling, fixed.Scaling,
			book.NoRestriction, book.SelfMatchAllowed, 10_000, false, 1000)
		require.NoError(t, err)
	}
	require.NoError(t, p.Stake(cred(alice), 50*fixed.Scaling, 1000))
	require.Equal(t, (1000-50)*fixed.Scaling, l.bal[alice][custody.FeeAsset])

	n, err := p.WithdrawAll(cred(alice), 2000)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1000*fixed.Scaling, l.bal[alice][custody.Quote])
	require.Equal(t, 1000*fixed.Scaling, l.bal[alice][custody.FeeAsset])

	a, ok := p.Account(alice)
	require.True(t, ok)
	require.Empty(t, a.OpenOrders)
	require.Zero(t, a.ActiveStake+a.InactiveStake)
}

func TestRejectedOrderLeavesCustodyUntouched(t *testing.T) {
	p, l := newTestPool(t, nil)

	// FOK with an empty book cannot fill
	info, err := p.PlaceLimitOrder(cred(alice), book.Ask, fixed.Scaling, fixed.Scaling,
		book.FillOrKill, book.SelfMatchAllowed, 0, false, 1000)
	require.NoError(t, err)
	require.Equal(t, book.Rejected, info.Status)
	require.Equal(t, 1000*fixed.Scaling, l.bal[alice][custody.Base])
}

func TestCredentialRejectedBeforeAnyMutation(t *testing.T) {
	l := newTestLedger(alice)
	deny := denyValidator{}
	p := NewPool(Pair{Base: "NJD", Quote: "USD"}, Config{
		TickSize: 1, LotSize: 1, MinSize: 1, Ledger: l, Validator: deny,
	}, 0)

	_, err := p.PlaceLimitOrder(cred(alice), book.Bid, fixed.Scaling, fixed.Scaling,
		book.NoRestriction, book.SelfMatchAllowed, 10_000, false, 1000)
	require.ErrorIs(t, err, vault.ErrUnauthorized)
	require.Equal(t, 1000*fixed.Scaling, l.bal[alice][custody.Quote])
}

type denyValidator struct{}

func (denyValidator) Validate(custody.Credential, uuid.UUID) bool { return false }

func TestFlashLoanBlocksOtherMutations(t *testing.T) {
	p, _ := newTestPool(t, nil)

	// seed pool liquidity: alice rests a bid so quote is pool-held
	_, err := p.PlaceLimitOrder(cred(alice), book.Bid, 2*fixed.Scaling, 10*fixed.Scaling,
		book.NoRestriction, book.SelfMatchAllowed, 10_000, false, 1000)
	require.NoError(t, err)

	fl, err := p.Borrow(custody.Quote, 5*fixed.Scaling)
	require.NoError(t, err)

	_, err = p.PlaceLimitOrder(cred(bob), book.Ask, 2*fixed.Scaling, fixed.Scaling,
		book.NoRestriction, book.SelfMatchAllowed, 10_000, false, 1500)
	require.ErrorIs(t, err, vault.ErrLoanOutstanding)
	require.ErrorIs(t, p.AddReferencePricePoint(fixed.Scaling, 1500, true), vault.ErrLoanOutstanding)

	require.NoError(t, p.Repay(fl.Receipt, custody.Quote, 5*fixed.Scaling))
	_, err = p.PlaceLimitOrder(cred(bob), book.Ask, 3*fixed.Scaling, fixed.Scaling,
		book.NoRestriction, book.SelfMatchAllowed, 10_000, false, 1600)
	require.NoError(t, err)
}

func TestWithFlashLoanEnforcesClosure(t *testing.T) {
	p, _ := newTestPool(t, nil)
	_, err := p.PlaceLimitOrder(cred(alice), book.Bid, 2*fixed.Scaling, 10*fixed.Scaling,
		book.NoRestriction, book.SelfMatchAllowed, 10_000, false, 1000)
	require.NoError(t, err)

	// repaid inside the scope: fine
	err = p.WithFlashLoan(custody.Quote, 5*fixed.Scaling, func(fl vault.FlashLoan, repay func(uint64) error) error {
		return repay(fl.Amount)
	})
	require.NoError(t, err)

	// not repaid: the operation fails and the loan is unwound
	err = p.WithFlashLoan(custody.Quote, 5*fixed.Scaling, func(vault.FlashLoan, func(uint64) error) error {
		return nil
	})
	require.ErrorIs(t, err, vault.ErrLoanOutstanding)

	// pool is usable again afterwards
	_, err = p.Borrow(custody.Quote, fixed.Scaling)
	require.NoError(t, err)
}

func TestQuantityOutQuotesFeeAsset(t *testing.T) {
	p, _ := newTestPool(t, nil)
	_, err := p.PlaceLimitOrder(cred(alice), book.Bid, 2*fixed.Scaling, 10*fixed.Scaling,
		book.NoRestriction, book.SelfMatchAllowed, 10_000, false, 1000)
	require.NoError(t, err)
	require.NoError(t, p.AddReferencePricePoint(fixed.Scaling/2, 1000, false))

	baseOut, quoteOut, feeReq := p.QuantityOut(4*fixed.Scaling, 0, 1000)
	require.Equal(t, uint64(0), baseOut)
	require.Equal(t, 8*fixed.Scaling, quoteOut)

	fee := fixed.Mul(8*fixed.Scaling, p.TradeParams().TakerFee)
	require.Equal(t, fixed.Mul(fee, fixed.Scaling/2), feeReq)
}

func TestEventsEmittedInOrder(t *testing.T) {
	capt := &captureEmitter{}
	p, _ := newTestPool(t, capt)

	_, err := p.PlaceLimitOrder(cred(alice), book.Bid, 2*fixed.Scaling, 10*fixed.Scaling,
		book.NoRestriction, book.SelfMatchAllowed, 10_000, false, 1000)
	require.NoError(t, err)
	_, err = p.PlaceMarketOrder(cred(bob), book.Ask, 4*fixed.Scaling,
		book.SelfMatchAllowed, false, 2000)
	require.NoError(t, err)

	require.Len(t, capt.got, 3)
	require.Equal(t, events.OrderPlacedType, capt.got[0].Type)
	require.Equal(t, events.OrderPlacedType, capt.got[1].Type)
	require.Equal(t, events.OrderFilledType, capt.got[2].Type)
	require.Equal(t, "NJD-USD", capt.got[0].Pair)
}

func TestRegistryCreateOrGet(t *testing.T) {
	r := NewRegistry()
	l := newTestLedger(alice)
	cfg := Config{TickSize: 1, LotSize: 1, MinSize: 1, Ledger: l}

	p1, created := r.Ensure(Pair{Base: "NJD", Quote: "USD"}, cfg, 0)
	require.True(t, created)
	p2, created := r.Ensure(Pair{Base: "NJD", Quote: "USD"}, cfg, 0)
	require.False(t, created)
	require.Same(t, p1, p2)

	got, ok := r.Get(Pair{Base: "NJD", Quote: "USD"})
	require.True(t, ok)
	require.Same(t, p1, got)
	_, ok = r.Get(Pair{Base: "X", Quote: "Y"})
	require.False(t, ok)
}

func TestRegistryConcurrentEnsure(t *testing.T) {
	r := NewRegistry()
	l := newTestLedger(alice)
	cfg := Config{TickSize: 1, LotSize: 1, MinSize: 1, Ledger: l}

	const n = 16
	got := make([]*Pool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = r.Ensure(Pair{Base: "NJD", Quote: "USD"}, cfg, 0)
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		require.Same(t, got[0], got[i])
	}
}
