package state

import "github.com/google/uuid"

// Balances is a per-asset amount set.
type Balances struct {
	Base     uint64
	Quote    uint64
	FeeAsset uint64
}

// Add accumulates o into b.
func (b *Balances) Add(o Balances) {
	b.Base += o.Base
	b.Quote += o.Quote
	b.FeeAsset += o.FeeAsset
}

// Account is one user's ledger inside a pool: open orders, balances
// owed in each direction, epoch volumes, stake and vote.
type Account struct {
	Owner uuid.UUID
	Epoch uint64

	OpenOrders map[uint64]struct{}

	// Settled is owed to the user, Owed is owed to the pool. Both
	// accumulate until the owner's next settlement.
	Settled Balances
	Owed    Balances

	// current-epoch volumes; FeeAssetVolume drives the taker discount
	TakerVolume    uint64
	MakerVolume    uint64
	FeeAssetVolume uint64

	// stake placed this epoch activates at the next rollover
	ActiveStake   uint64
	InactiveStake uint64

	VotedProposal *uuid.UUID
}

func newAccount(owner uuid.UUID, epoch uint64) *Account {
	return &Account{
		Owner:      owner,
		Epoch:      epoch,
		OpenOrders: make(map[uint64]struct{}),
	}
}

// migrate moves the account into epoch: pending rebate settles, queued
// stake activates, volumes and vote reset. Governance voting power is
// unaffected: it tracks total stake, which migration does not change.
func (a *Account) migrate(epoch uint64, rebate uint64) {
	if epoch <= a.Epoch {
		return
	}
	a.Epoch = epoch
	a.Settled.FeeAsset += rebate

	a.ActiveStake += a.InactiveStake
	a.InactiveStake = 0

	a.TakerVolume = 0
	a.MakerVolume = 0
	a.FeeAssetVolume = 0
	a.VotedProposal = nil
}

func (a *Account) totalStake() uint64 {
	return a.ActiveStake + a.InactiveStake
}

// settle drains both balance sets for reconciliation against custody.
func (a *Account) settle() (settled, owed Balances) {
	settled, owed = a.Settled, a.Owed
	a.Settled, a.Owed = Balances{}, Balances{}
	return settled, owed
}
