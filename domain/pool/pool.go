// Package pool ties one trading pair's book, accounting state, and
// vault together behind a single mutex. Every external entry point is a
// Pool method; operations on one pool are serialized and atomic, pools
// never share state.
package pool

import (
	"sync"

	"njord/domain/book"
	"njord/domain/custody"
	"njord/domain/state"
	"njord/domain/vault"
	"njord/events"
	"njord/pkg/fixed"

	"github.com/google/uuid"
)

// EpochDurationMs is one accounting epoch in millis.
const EpochDurationMs = 24 * 60 * 60 * 1000

// EpochAt derives the epoch from a caller timestamp.
func EpochAt(ts int64) uint64 { return uint64(ts) / EpochDurationMs }

// Pair names a pool by its traded assets.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) String() string { return p.Base + "-" + p.Quote }

// Config carries per-pool construction parameters. Zero-valued
// collaborators get safe defaults.
type Config struct {
	TickSize uint64
	LotSize  uint64
	MinSize  uint64

	// WindowEpochs is the trailing window for the rebate phase-out
	// median; defaults to 28.
	WindowEpochs int

	Ledger    custody.Ledger
	Validator custody.Validator
	Emitter   events.Emitter

	// Order object pool hooks, both optional.
	Alloc func() *book.Order
	Free  func(*book.Order)
}

type Pool struct {
	mu   sync.Mutex
	pair Pair

	book  *book.Book
	state *state.State
	vault *vault.Vault

	ledger    custody.Ledger
	validator custody.Validator
	emit      events.Emitter
}

func NewPool(pair Pair, cfg Config, now int64) *Pool {
	if cfg.WindowEpochs == 0 {
		cfg.WindowEpochs = 28
	}
	if cfg.Validator == nil {
		cfg.Validator = custody.OwnerValidator{}
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.Nop{}
	}
	return &Pool{
		pair:      pair,
		book:      book.NewBook(cfg.TickSize, cfg.LotSize, cfg.MinSize, cfg.Alloc, cfg.Free),
		state:     state.NewState(EpochAt(now), cfg.WindowEpochs),
		vault:     vault.NewVault(),
		ledger:    cfg.Ledger,
		validator: cfg.Validator,
		emit:      cfg.Emitter,
	}
}

func (p *Pool) Pair() Pair { return p.pair }

// guard rejects mutating work while a flash loan is open and checks the
// caller's credential. Repay is the only mutating call that skips it.
func (p *Pool) guard(cred custody.Credential) error {
	if p.vault.Outstanding() {
		return vault.ErrLoanOutstanding
	}
	if !p.validator.Validate(cred, cred.Account) {
		return vault.ErrUnauthorized
	}
	return nil
}

// finish nets drained deltas against custody. A failed settle puts the
// deltas back on the account so nothing is lost; the owner can settle
// later through WithdrawSettled.
func (p *Pool) finish(owner uuid.UUID, settled, owed state.Balances, cred custody.Credential, epoch uint64) error {
	if err := p.vault.Settle(owner, settled, owed, cred, p.ledger, p.validator); err != nil {
		p.state.Restore(owner, settled, owed, epoch)
		return err
	}
	return nil
}

// ---- trading ----

// PlaceLimitOrder validates, matches, and settles one limit order. The
// returned OrderInfo carries fills and final status; Rejected means a
// fill-or-kill or post-only constraint could not hold and the book is
// untouched.
func (p *Pool) PlaceLimitOrder(cred custody.Credential, side book.Side, price, qty uint64, typ book.OrderType, policy book.SelfMatchPolicy, expireTs int64, feeAsset bool, now int64) (book.OrderInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(cred); err != nil {
		return book.OrderInfo{}, err
	}

	epoch := EpochAt(now)
	perBase, perQuote := p.vault.Conversion(now)
	info := &book.OrderInfo{
		Owner:     cred.Account,
		Side:      side,
		Type:      typ,
		SelfMatch: policy,
		Price:     price,
		Qty:       qty,
		ExpireTs:  expireTs,
		Epoch:     epoch,
		FeeAsset:  feeAsset,
	}
	if feeAsset {
		info.FeeConv = perQuote
	}
	if err := p.book.CreateOrder(info, now); err != nil {
		return book.OrderInfo{}, err
	}
	if info.Status == book.Rejected {
		return *info, nil
	}

	settled, owed := p.state.ProcessCreate(info, perBase, perQuote, epoch)
	err := p.finish(cred.Account, settled, owed, cred, epoch)
	p.emitPlacement(info, now)
	return *info, err
}

// PlaceMarketOrder matches immediately at any price; the remainder is
// discarded.
func (p *Pool) PlaceMarketOrder(cred custody.Credential, side book.Side, qty uint64, policy book.SelfMatchPolicy, feeAsset bool, now int64) (book.OrderInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(cred); err != nil {
		return book.OrderInfo{}, err
	}

	epoch := EpochAt(now)
	perBase, perQuote := p.vault.Conversion(now)
	info := &book.OrderInfo{
		Owner:     cred.Account,
		Side:      side,
		Type:      book.ImmediateOrCancel,
		SelfMatch: policy,
		Market:    true,
		Qty:       qty,
		Epoch:     epoch,
		FeeAsset:  feeAsset,
	}
	if feeAsset {
		info.FeeConv = perQuote
	}
	if err := p.book.CreateOrder(info, now); err != nil {
		return book.OrderInfo{}, err
	}

	settled, owed := p.state.ProcessCreate(info, perBase, perQuote, epoch)
	err := p.finish(cred.Account, settled, owed, cred, epoch)
	p.emitPlacement(info, now)
	return *info, err
}

// ModifyOrder shrinks a resident order. The freed principal settles
// back to the owner.
func (p *Pool) ModifyOrder(cred custody.Credential, id, newQty uint64, now int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(cred); err != nil {
		return err
	}

	epoch := EpochAt(now)
	o, released, err := p.book.ModifyOrder(id, cred.Account, newQty, now)
	if err != nil {
		return err
	}
	settled, owed := p.state.ProcessModify(o, released, epoch)
	err = p.finish(cred.Account, settled, owed, cred, epoch)
	p.emit.Emit(events.Event{
		Type: events.OrderModifiedType, Pair: p.pair.String(), Ts: now,
		Payload: events.OrderModified{OrderID: id, Owner: cred.Account, NewQty: newQty},
	})
	return err
}

// CancelOrder removes a resident order and settles its locked principal
// back to the owner.
func (p *Pool) CancelOrder(cred custody.Credential, id uint64, now int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(cred); err != nil {
		return err
	}

	epoch := EpochAt(now)
	o, err := p.book.CancelOrder(id, cred.Account)
	if err != nil {
		return err
	}
	settled, owed := p.state.ProcessCancel(o, epoch)
	err = p.finish(cred.Account, settled, owed, cred, epoch)
	p.emit.Emit(events.Event{
		Type: events.OrderCanceledType, Pair: p.pair.String(), Ts: now,
		Payload: events.OrderCanceled{OrderID: o.ID, Owner: o.Owner, Qty: o.Qty, Filled: o.Filled},
	})
	return err
}

// CancelAll cancels every resident order the credential's account owns
// and settles the released principal in one pass. Returns how many
// orders were removed.
func (p *Pool) CancelAll(cred custody.Credential, now int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(cred); err != nil {
		return 0, err
	}

	epoch := EpochAt(now)
	snap, ok := p.state.Snapshot(cred.Account)
	if !ok {
		return 0, nil
	}
	var settled, owed state.Balances
	n := 0
	for id := range snap.OpenOrders {
		o, err := p.book.CancelOrder(id, cred.Account)
		if err != nil {
			continue
		}
		s, w := p.state.ProcessCancel(o, epoch)
		settled.Add(s)
		owed.Add(w)
		p.emit.Emit(events.Event{
			Type: events.OrderCanceledType, Pair: p.pair.String(), Ts: now,
			Payload: events.OrderCanceled{OrderID: o.ID, Owner: o.Owner, Qty: o.Qty, Filled: o.Filled},
		})
		n++
	}
	return n, p.finish(cred.Account, settled, owed, cred, epoch)
}

// SweepExpired removes every expired resident order. Released principal
// stays on each owner's ledger until they settle.
func (p *Pool) SweepExpired(now int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vault.Outstanding() {
		return 0
	}

	removed := p.book.SweepExpired(now)
	p.state.ProcessSweep(removed, EpochAt(now))
	for _, o := range removed {
		p.emit.Emit(events.Event{
			Type: events.OrderExpiredType, Pair: p.pair.String(), Ts: now,
			Payload: events.OrderCanceled{OrderID: o.ID, Owner: o.Owner, Qty: o.Qty, Filled: o.Filled},
		})
	}
	return len(removed)
}

func (p *Pool) emitPlacement(info *book.OrderInfo, now int64) {
	p.emit.Emit(events.Event{
		Type: events.OrderPlacedType, Pair: p.pair.String(), Ts: now,
		Payload: events.OrderPlaced{
			OrderID: info.OrderID, Owner: info.Owner, Side: info.Side.String(),
			Price: info.Price, Qty: info.Qty, Executed: info.Executed,
			Status: info.Status.String(),
		},
	})
	for _, f := range info.Fills {
		if f.BaseQty == 0 {
			continue
		}
		p.emit.Emit(events.Event{
			Type: events.OrderFilledType, Pair: p.pair.String(), Ts: now,
			Payload: events.OrderFilled{
				MakerID: f.MakerID, TakerID: info.OrderID,
				Maker: f.MakerOwner, Taker: f.TakerOwner,
				Price: f.Price, BaseQty: f.BaseQty, QuoteQty: f.QuoteQty,
			},
		})
	}
}

// ---- read side ----

func (p *Pool) Level2Range(priceLo, priceHi uint64, side book.Side, now int64) (prices, quantities []uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book.Level2Range(priceLo, priceHi, side, now)
}

func (p *Pool) MidPrice(now int64) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book.MidPrice(now)
}

func (p *Pool) BestBid(now int64) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book.BestBid(now)
}

func (p *Pool) BestAsk(now int64) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book.BestAsk(now)
}

// QuantityOut quotes a swap without touching the book: what the input
// converts into at current depth, plus the fee-asset amount a taker
// electing fee-asset fees would owe. Unconverted input comes back in
// its own asset.
func (p *Pool) QuantityOut(baseIn, quoteIn uint64, now int64) (baseOut, quoteOut, feeAssetRequired uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	baseOut, quoteOut = p.book.QuantityOut(baseIn, quoteIn, now)
	quoteExec := quoteOut
	if quoteIn > 0 {
		quoteExec = quoteIn - quoteOut
	}
	_, perQuote := p.vault.Conversion(now)
	fee := fixed.Mul(quoteExec, p.state.Params().TakerFee)
	feeAssetRequired = fixed.Mul(fee, perQuote)
	return baseOut, quoteOut, feeAssetRequired
}

func (p *Pool) TradeParams() state.TradeParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Params()
}

func (p *Pool) TradeParamsNext() state.TradeParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.NextParams()
}

func (p *Pool) Quorum() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Quorum()
}

func (p *Pool) Account(owner uuid.UUID) (state.Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Snapshot(owner)
}

func (p *Pool) BurnBalance() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.BurnBalance()
}

// ---- settlement, staking, governance ----

// WithdrawSettled drains the account's accumulated deltas and nets them
// against custody.
func (p *Pool) WithdrawSettled(cred custody.Credential, now int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(cred); err != nil {
		return err
	}
	epoch := EpochAt(now)
	settled, owed := p.state.WithdrawSettled(cred.Account, epoch)
	return p.finish(cred.Account, settled, owed, cred, epoch)
}

// WithdrawAll is the full exit: cancel every resident order, return the
// whole stake, and net everything against custody in one serialized
// operation. Returns how many orders were canceled.
func (p *Pool) WithdrawAll(cred custody.Credential, now int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(cred); err != nil {
		return 0, err
	}

	epoch := EpochAt(now)
	var settled, owed state.Balances
	n := 0
	if snap, ok := p.state.Snapshot(cred.Account); ok {
		for id := range snap.OpenOrders {
			o, err := p.book.CancelOrder(id, cred.Account)
			if err != nil {
				continue
			}
			s, w := p.state.ProcessCancel(o, epoch)
			settled.Add(s)
			owed.Add(w)
			p.emit.Emit(events.Event{
				Type: events.OrderCanceledType, Pair: p.pair.String(), Ts: now,
				Payload: events.OrderCanceled{OrderID: o.ID, Owner: o.Owner, Qty: o.Qty, Filled: o.Filled},
			})
			n++
		}
	}
	s, w := p.state.ProcessUnstake(cred.Account, epoch)
	settled.Add(s)
	owed.Add(w)
	return n, p.finish(cred.Account, settled, owed, cred, epoch)
}

// Stake locks fee-asset toward fee discounts and voting power. The
// stake activates at the next epoch.
func (p *Pool) Stake(cred custody.Credential, amount uint64, now int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(cred); err != nil {
		return err
	}
	epoch := EpochAt(now)
	settled, owed := p.state.ProcessStake(cred.Account, amount, epoch)
	return p.finish(cred.Account, settled, owed, cred, epoch)
}

// Unstake returns the whole stake and withdraws any live vote.
func (p *Pool) Unstake(cred custody.Credential, now int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(cred); err != nil {
		return err
	}
	epoch := EpochAt(now)
	settled, owed := p.state.ProcessUnstake(cred.Account, epoch)
	return p.finish(cred.Account, settled, owed, cred, epoch)
}

func (p *Pool) SubmitProposal(cred custody.Credential, params state.TradeParams, now int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(cred); err != nil {
		return err
	}
	return p.state.ProcessProposal(cred.Account, params, EpochAt(now))
}

func (p *Pool) Vote(cred custody.Credential, proposal uuid.UUID, now int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(cred); err != nil {
		return err
	}
	return p.state.ProcessVote(cred.Account, proposal, EpochAt(now))
}

// ---- flash loans and reference prices ----

// Borrow opens a flash loan against pool liquidity. Until the receipt
// is repaid, every other mutating call on this pool is refused.
func (p *Pool) Borrow(asset custody.Asset, amount uint64) (vault.FlashLoan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vault.Borrow(asset, amount)
}

// Repay closes a flash loan. It is the one mutating call allowed while
// a loan is outstanding.
func (p *Pool) Repay(receipt uuid.UUID, asset custody.Asset, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vault.Repay(receipt, asset, amount)
}

// WithFlashLoan scopes a borrow to fn. fn receives the loan and a repay
// func; if fn returns without repaying, the loan is unwound and the
// whole operation fails with ErrLoanOutstanding so the caller knows its
// side effects must not stand.
func (p *Pool) WithFlashLoan(asset custody.Asset, amount uint64, fn func(fl vault.FlashLoan, repay func(amount uint64) error) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fl, err := p.vault.Borrow(asset, amount)
	if err != nil {
		return err
	}
	err = fn(fl, func(amt uint64) error {
		return p.vault.Repay(fl.Receipt, asset, amt)
	})
	if p.vault.Outstanding() {
		_ = p.vault.Repay(fl.Receipt, asset, fl.Amount)
		if err == nil {
			err = vault.ErrLoanOutstanding
		}
	}
	return err
}

// AddReferencePricePoint feeds one oracle sample into the fee-asset
// conversion cache.
func (p *Pool) AddReferencePricePoint(rate uint64, ts int64, isBase bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vault.Outstanding() {
		return vault.ErrLoanOutstanding
	}
	return p.vault.AddPricePoint(rate, ts, isBase)
}
