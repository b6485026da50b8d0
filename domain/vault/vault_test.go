package vault

import (
	"errors"
	"testing"

	"njord/domain/custody"
	"njord/domain/state"
	"njord/pkg/fixed"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var owner = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")

// memLedger is an in-memory custody ledger for tests.
type memLedger struct {
	bal map[uuid.UUID][3]uint64
}

func newMemLedger() *memLedger { return &memLedger{bal: make(map[uuid.UUID][3]uint64)} }

func (m *memLedger) Deposit(a uuid.UUID, asset custody.Asset, amt uint64) error {
	b := m.bal[a]
	b[asset] += amt
	m.bal[a] = b
	return nil
}

func (m *memLedger) Withdraw(a uuid.UUID, asset custody.Asset, amt uint64) error {
	b := m.bal[a]
	if b[asset] < amt {
		return custody.ErrInsufficientFunds
	}
	b[asset] -= amt
	m.bal[a] = b
	return nil
}

func (m *memLedger) Balance(a uuid.UUID, asset custody.Asset) (uint64, error) {
	return m.bal[a][asset], nil
}

func cred() custody.Credential { return custody.Credential{Account: owner, Token: uuid.New()} }

func TestSettleNetsPerAsset(t *testing.T) {
	v := NewVault()
	l := newMemLedger()
	l.bal[owner] = [3]uint64{0, 50 * fixed.Scaling, 0}

	// owner sold base they must deliver? no: owes 20 quote, is due 5 base
	settled := state.Balances{Base: 5 * fixed.Scaling}
	owed := state.Balances{Quote: 20 * fixed.Scaling}

	// pool needs base on hand to pay out
	v.balances[custody.Base] = 5 * fixed.Scaling

	require.NoError(t, v.Settle(owner, settled, owed, cred(), l, custody.OwnerValidator{}))
	require.Equal(t, 30*fixed.Scaling, l.bal[owner][custody.Quote])
	require.Equal(t, 5*fixed.Scaling, l.bal[owner][custody.Base])
	require.Equal(t, 20*fixed.Scaling, v.Balance(custody.Quote))
	require.Equal(t, uint64(0), v.Balance(custody.Base))
}

func TestSettleNetsWithinOneAsset(t *testing.T) {
	v := NewVault()
	l := newMemLedger()
	l.bal[owner] = [3]uint64{0, 10 * fixed.Scaling, 0}

	// 12 due, 20 owed in the same asset: only the 8 difference moves
	settled := state.Balances{Quote: 12 * fixed.Scaling}
	owed := state.Balances{Quote: 20 * fixed.Scaling}

	require.NoError(t, v.Settle(owner, settled, owed, cred(), l, custody.OwnerValidator{}))
	require.Equal(t, 2*fixed.Scaling, l.bal[owner][custody.Quote])
	require.Equal(t, 8*fixed.Scaling, v.Balance(custody.Quote))
}

func TestSettleRejectedCredential(t *testing.T) {
	v := NewVault()
	l := newMemLedger()
	bad := custody.Credential{Account: uuid.New(), Token: uuid.New()}
	err := v.Settle(owner, state.Balances{}, state.Balances{Quote: 1}, bad, l, custody.OwnerValidator{})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestSettleRollsBackFailedPull(t *testing.T) {
	v := NewVault()
	l := newMemLedger()
	l.bal[owner] = [3]uint64{3 * fixed.Scaling, 0, 0} // no quote to pull

	owed := state.Balances{Base: 2 * fixed.Scaling, Quote: 20 * fixed.Scaling}
	err := v.Settle(owner, state.Balances{}, owed, cred(), l, custody.OwnerValidator{})
	require.True(t, errors.Is(err, custody.ErrInsufficientFunds))

	// the base leg pulled before the quote leg failed must be refunded
	require.Equal(t, 3*fixed.Scaling, l.bal[owner][custody.Base])
	require.Equal(t, uint64(0), v.Balance(custody.Base))
}

// failingLedger refuses deposits of one asset.
type failingLedger struct {
	*memLedger
	refuse custody.Asset
}

func (f failingLedger) Deposit(a uuid.UUID, asset custody.Asset, amt uint64) error {
	if asset == f.refuse {
		return errors.New("custody unavailable")
	}
	return f.memLedger.Deposit(a, asset, amt)
}

func TestSettleRollsBackFailedPush(t *testing.T) {
	v := NewVault()
	l := newMemLedger()
	v.balances[custody.Base] = 5 * fixed.Scaling
	v.balances[custody.Quote] = 20 * fixed.Scaling

	settled := state.Balances{Base: 5 * fixed.Scaling, Quote: 20 * fixed.Scaling}
	err := v.Settle(owner, settled, state.Balances{}, cred(), failingLedger{l, custody.Quote}, custody.OwnerValidator{})
	require.Error(t, err)

	// the base push applied before the quote push failed must be unwound
	require.Equal(t, uint64(0), l.bal[owner][custody.Base])
	require.Equal(t, 5*fixed.Scaling, v.Balance(custody.Base))
	require.Equal(t, 20*fixed.Scaling, v.Balance(custody.Quote))
}

func TestSettleShortLiquidityUnwindsPulls(t *testing.T) {
	v := NewVault()
	l := newMemLedger()
	l.bal[owner] = [3]uint64{0, 10 * fixed.Scaling, 0}

	// quote is pulled first, then the base push finds an empty vault
	settled := state.Balances{Base: 5 * fixed.Scaling}
	owed := state.Balances{Quote: 10 * fixed.Scaling}
	err := v.Settle(owner, settled, owed, cred(), l, custody.OwnerValidator{})
	require.ErrorIs(t, err, ErrInsufficientLiquidity)

	require.Equal(t, 10*fixed.Scaling, l.bal[owner][custody.Quote])
	require.Equal(t, uint64(0), v.Balance(custody.Quote))
}

func TestFlashLoanLifecycle(t *testing.T) {
	v := NewVault()
	v.balances[custody.Quote] = 100 * fixed.Scaling

	fl, err := v.Borrow(custody.Quote, 40*fixed.Scaling)
	require.NoError(t, err)
	require.Equal(t, 60*fixed.Scaling, v.Balance(custody.Quote))
	require.True(t, v.Outstanding())

	// settlement is refused while the loan is open
	l := newMemLedger()
	err = v.Settle(owner, state.Balances{}, state.Balances{}, cred(), l, custody.OwnerValidator{})
	require.ErrorIs(t, err, ErrLoanOutstanding)

	require.NoError(t, v.Repay(fl.Receipt, custody.Quote, 40*fixed.Scaling))
	require.False(t, v.Outstanding())
	require.Equal(t, 100*fixed.Scaling, v.Balance(custody.Quote))
}

func TestFlashLoanRepayMustMatch(t *testing.T) {
	v := NewVault()
	v.balances[custody.Base] = 10 * fixed.Scaling

	fl, err := v.Borrow(custody.Base, 10*fixed.Scaling)
	require.NoError(t, err)

	require.ErrorIs(t, v.Repay(uuid.New(), custody.Base, 10*fixed.Scaling), ErrUnknownReceipt)
	require.ErrorIs(t, v.Repay(fl.Receipt, custody.Quote, 10*fixed.Scaling), ErrLoanMismatch)
	require.ErrorIs(t, v.Repay(fl.Receipt, custody.Base, 5*fixed.Scaling), ErrLoanMismatch)
	require.NoError(t, v.Repay(fl.Receipt, custody.Base, 10*fixed.Scaling))
}

func TestBorrowBeyondLiquidity(t *testing.T) {
	v := NewVault()
	v.balances[custody.Base] = 5
	_, err := v.Borrow(custody.Base, 6)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
	_, err = v.Borrow(custody.Base, 0)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestPriceRingConversion(t *testing.T) {
	v := NewVault()
	require.NoError(t, v.AddPricePoint(2*fixed.Scaling, 1000, false))
	require.NoError(t, v.AddPricePoint(4*fixed.Scaling, 2000, false))

	perBase, perQuote := v.Conversion(2000)
	require.Equal(t, uint64(0), perBase)
	require.Equal(t, 3*fixed.Scaling, perQuote)
}

func TestPriceRingRejectsOutOfOrder(t *testing.T) {
	v := NewVault()
	require.NoError(t, v.AddPricePoint(fixed.Scaling, 5000, true))
	require.ErrorIs(t, v.AddPricePoint(fixed.Scaling, 4000, true), ErrStalePricePoint)
	require.ErrorIs(t, v.AddPricePoint(0, 6000, true), ErrInvalidPricePoint)
	require.ErrorIs(t, v.AddPricePoint(fixed.MaxOperand+1, 6000, true), ErrInvalidPricePoint)
}

func TestPriceRingExpiresOldSamples(t *testing.T) {
	v := NewVault()
	require.NoError(t, v.AddPricePoint(2*fixed.Scaling, 0, false))
	require.NoError(t, v.AddPricePoint(4*fixed.Scaling, priceWindowMs+1000, false))

	// first sample aged out of the window
	_, perQuote := v.Conversion(priceWindowMs + 1000)
	require.Equal(t, 4*fixed.Scaling, perQuote)
}

func TestPriceRingCapsSamples(t *testing.T) {
	v := NewVault()
	for i := 0; i < maxPriceSamples+20; i++ {
		require.NoError(t, v.AddPricePoint(fixed.Scaling, int64(i), true))
	}
	require.Len(t, v.perBase.samples, maxPriceSamples)
}
