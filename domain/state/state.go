// Package state keeps one pool's accounting: the governance fee
// schedule, per-epoch volume history with maker rebates, and per-user
// account ledgers. Epochs never roll over on a timer; every entry
// point takes the caller's epoch and migrates lazily.
package state

import (
	"njord/domain/book"
	"njord/pkg/fixed"

	"github.com/google/uuid"
)

type State struct {
	gov      *Governance
	hist     *History
	accounts map[uuid.UUID]*Account
}

func NewState(epoch uint64, windowEpochs int) *State {
	return &State{
		gov:      NewGovernance(epoch),
		hist:     NewHistory(epoch, windowEpochs),
		accounts: make(map[uuid.UUID]*Account),
	}
}

// Update rolls governance and history into epoch. Idempotent.
func (s *State) Update(epoch uint64) {
	s.gov.Update(epoch)
	s.hist.Update(epoch)
}

// account fetches and lazily migrates one ledger.
func (s *State) account(id uuid.UUID, epoch uint64) *Account {
	a, ok := s.accounts[id]
	if !ok {
		a = newAccount(id, epoch)
		s.accounts[id] = a
		return a
	}
	if a.Epoch < epoch {
		a.migrate(epoch, s.hist.ClaimRebate(id))
	}
	return a
}

// Params returns the live fee schedule.
func (s *State) Params() TradeParams     { return s.gov.Params() }
func (s *State) NextParams() TradeParams { return s.gov.NextParams() }
func (s *State) Quorum() uint64          { return s.gov.Quorum() }

// History exposes the epoch ledger for read-only inspection.
func (s *State) History() *History { return s.hist }

// Snapshot returns a copy of an account's ledger, if it exists.
func (s *State) Snapshot(id uuid.UUID) (Account, bool) {
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// ---- order flow ----

// ProcessCreate folds a matched request into the ledgers: maker
// settlement and fees per fill, taker fee with the volume+stake
// discount, volume history, and principal locking for any resting
// remainder. It stamps fee amounts into the fills and returns the
// taker's settlement deltas. perBase/perQuote are the current
// fee-asset conversion rates (zero when unavailable).
func (s *State) ProcessCreate(info *book.OrderInfo, perBase, perQuote uint64, epoch uint64) (settled, owed Balances) {
	s.Update(epoch)
	taker := s.account(info.Owner, epoch)
	params := s.gov.Params()

	takerRate := params.TakerFee
	if taker.ActiveStake >= params.StakeRequired && taker.FeeAssetVolume > params.StakeRequired {
		takerRate /= 2
	}

	for i := range info.Fills {
		f := &info.Fills[i]
		maker := s.account(f.MakerOwner, epoch)

		if f.BaseQty == 0 {
			// maker removed without trading: expired on the walk or
			// canceled by self-match policy
			s.refundMaker(maker, f.MakerIsBid, f.MakerRefund, f.Price)
			delete(maker.OpenOrders, f.MakerID)
			continue
		}

		// maker proceeds
		if f.MakerIsBid {
			maker.Settled.Base += f.BaseQty
		} else {
			maker.Settled.Quote += f.QuoteQty
		}
		makerFee := fixed.Mul(f.QuoteQty, params.MakerFee)
		if f.MakerFeeIsFeeAsset && f.MakerFeeConv > 0 {
			f.MakerFee = fixed.Mul(makerFee, f.MakerFeeConv)
			maker.Owed.FeeAsset += f.MakerFee
		} else {
			f.MakerFeeIsFeeAsset = false
			f.MakerFee = makerFee
			maker.Owed.Quote += makerFee
		}
		if f.MakerDone {
			delete(maker.OpenOrders, f.MakerID)
		}
		maker.MakerVolume += f.BaseQty
		maker.FeeAssetVolume += fixed.Mul(f.QuoteQty, perQuote)

		// taker principal
		if f.TakerIsBid {
			taker.Settled.Base += f.BaseQty
			taker.Owed.Quote += f.QuoteQty
		} else {
			taker.Settled.Quote += f.QuoteQty
			taker.Owed.Base += f.BaseQty
		}
		takerFee := fixed.Mul(f.QuoteQty, takerRate)
		if info.FeeAsset && perQuote > 0 {
			f.TakerFee = fixed.Mul(takerFee, perQuote)
			f.TakerFeeIsFeeAsset = true
			taker.Owed.FeeAsset += f.TakerFee
		} else {
			f.TakerFee = takerFee
			taker.Owed.Quote += takerFee
		}
		taker.TakerVolume += f.BaseQty
		taker.FeeAssetVolume += fixed.Mul(f.QuoteQty, perQuote)

		qualified := maker.ActiveStake >= params.StakeRequired
		feeEquiv := fixed.Mul(takerFee+makerFee, perQuote)
		s.hist.AddFill(f.MakerOwner, f.BaseQty, feeEquiv, qualified)
	}

	// resting remainder locks its principal
	if rem := info.Remaining(); rem > 0 && (info.Status == book.Live || info.Status == book.PartiallyFilled) {
		if info.Side == book.Bid {
			taker.Owed.Quote += fixed.Mul(rem, info.Price)
		} else {
			taker.Owed.Base += rem
		}
		taker.OpenOrders[info.OrderID] = struct{}{}
	}

	return taker.settle()
}

func (s *State) refundMaker(maker *Account, isBid bool, qty, price uint64) {
	if isBid {
		maker.Settled.Quote += fixed.Mul(qty, price)
	} else {
		maker.Settled.Base += qty
	}
}

// ProcessCancel releases a canceled order's locked principal.
func (s *State) ProcessCancel(o book.Order, epoch uint64) (settled, owed Balances) {
	s.Update(epoch)
	a := s.account(o.Owner, epoch)
	s.refundMaker(a, o.Side == book.Bid, o.Remaining(), o.Price)
	delete(a.OpenOrders, o.ID)
	return a.settle()
}

// ProcessModify releases the quantity a modify freed.
func (s *State) ProcessModify(o book.Order, released uint64, epoch uint64) (settled, owed Balances) {
	s.Update(epoch)
	a := s.account(o.Owner, epoch)
	s.refundMaker(a, o.Side == book.Bid, released, o.Price)
	return a.settle()
}

// ProcessSweep releases principal for every expired order removed by a
// sweep. Each owner's balances stay on their ledger until they settle.
func (s *State) ProcessSweep(orders []book.Order, epoch uint64) {
	s.Update(epoch)
	for _, o := range orders {
		a := s.account(o.Owner, epoch)
		s.refundMaker(a, o.Side == book.Bid, o.Remaining(), o.Price)
		delete(a.OpenOrders, o.ID)
	}
}

// ---- staking and governance ----

// ProcessStake queues fee-asset stake; it activates at the next epoch
// but counts toward total voting power immediately.
func (s *State) ProcessStake(owner uuid.UUID, amount uint64, epoch uint64) (settled, owed Balances) {
	s.Update(epoch)
	a := s.account(owner, epoch)
	before := VotingPower(a.totalStake())
	a.InactiveStake += amount
	a.Owed.FeeAsset += amount
	s.gov.AdjustVotingPower(before, VotingPower(a.totalStake()))
	return a.settle()
}

// ProcessUnstake returns the whole stake and removes any live vote.
func (s *State) ProcessUnstake(owner uuid.UUID, epoch uint64) (settled, owed Balances) {
	s.Update(epoch)
	a := s.account(owner, epoch)
	if a.VotedProposal != nil {
		_ = s.gov.AdjustVote(a.VotedProposal, nil, VotingPower(a.ActiveStake))
		a.VotedProposal = nil
	}
	total := a.totalStake()
	s.gov.AdjustVotingPower(VotingPower(total), 0)
	a.ActiveStake = 0
	a.InactiveStake = 0
	a.Settled.FeeAsset += total
	return a.settle()
}

// ProcessProposal submits a fee-schedule proposal.
func (s *State) ProcessProposal(owner uuid.UUID, p TradeParams, epoch uint64) error {
	s.Update(epoch)
	a := s.account(owner, epoch)
	if a.ActiveStake == 0 {
		return ErrNoStake
	}
	return s.gov.AddProposal(owner, p)
}

// ProcessVote casts or moves an account's vote.
func (s *State) ProcessVote(owner, proposal uuid.UUID, epoch uint64) error {
	s.Update(epoch)
	a := s.account(owner, epoch)
	if a.ActiveStake == 0 {
		return ErrNoStake
	}
	if err := s.gov.AdjustVote(a.VotedProposal, &proposal, VotingPower(a.ActiveStake)); err != nil {
		return err
	}
	p := proposal
	a.VotedProposal = &p
	return nil
}

// WithdrawSettled migrates the account and drains its deltas for
// settlement against custody.
func (s *State) WithdrawSettled(owner uuid.UUID, epoch uint64) (settled, owed Balances) {
	s.Update(epoch)
	return s.account(owner, epoch).settle()
}

// Restore re-credits settlement deltas that could not clear against
// custody, so a failed settle loses nothing.
func (s *State) Restore(owner uuid.UUID, settled, owed Balances, epoch uint64) {
	s.Update(epoch)
	a := s.account(owner, epoch)
	a.Settled.Add(settled)
	a.Owed.Add(owed)
}

// BurnBalance is the accumulated undistributed fee surplus.
func (s *State) BurnBalance() uint64 { return s.hist.BurnBalance() }
