// Package service is the single write entry point. Every mutating
// command is journaled before it executes, so the journal replay alone
// reconstructs every pool after a restart. Reads go straight through.
package service

import (
	"encoding/json"
	"sync"

	"njord/domain/book"
	"njord/domain/custody"
	"njord/domain/pool"
	"njord/domain/state"
	"njord/domain/vault"
	"njord/events"
	"njord/infra/memory"
	"njord/infra/sequence"
	"njord/infra/wal"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrUnknownPair = errors.New("service: unknown pair")

type Exchange struct {
	registry *pool.Registry

	// cmdMu pins each journal+execute pair against the snapshot cut:
	// commands hold it shared, the snapshot job exclusively. jmu keeps
	// sequence assignment and the journal append atomic, so replay sees
	// records in the order they were numbered.
	cmdMu   sync.RWMutex
	jmu     sync.Mutex
	journal *wal.WAL
	seq     *sequence.Sequencer

	ledger    custody.Ledger
	validator custody.Validator
	emit      events.Emitter
	orders    *memory.Pool[book.Order]
	log       *logrus.Logger

	// replaying suppresses event emission while the journal rebuilds
	// state; replayed commands already emitted when first executed.
	replaying bool
}

func NewExchange(journal *wal.WAL, seq *sequence.Sequencer, ledger custody.Ledger, validator custody.Validator, emit events.Emitter, log *logrus.Logger) *Exchange {
	if validator == nil {
		validator = custody.OwnerValidator{}
	}
	if emit == nil {
		emit = events.Nop{}
	}
	return &Exchange{
		registry:  pool.NewRegistry(),
		journal:   journal,
		seq:       seq,
		ledger:    ledger,
		validator: validator,
		emit:      emit,
		orders:    memory.NewPool(func() *book.Order { return &book.Order{} }),
		log:       log,
	}
}

// gatedEmitter drops events while replay is rebuilding state.
type gatedEmitter struct {
	svc *Exchange
}

func (g gatedEmitter) Emit(e events.Event) {
	if g.svc.replaying {
		return
	}
	g.svc.emit.Emit(e)
}

// gatedLedger makes custody movements no-ops during replay: the
// durable ledger already holds the result of the original execution,
// and replay only rebuilds the in-memory side.
type gatedLedger struct {
	svc *Exchange
}

func (g gatedLedger) Deposit(account uuid.UUID, asset custody.Asset, amount uint64) error {
	if g.svc.replaying {
		return nil
	}
	return g.svc.ledger.Deposit(account, asset, amount)
}

func (g gatedLedger) Withdraw(account uuid.UUID, asset custody.Asset, amount uint64) error {
	if g.svc.replaying {
		return nil
	}
	return g.svc.ledger.Withdraw(account, asset, amount)
}

func (g gatedLedger) Balance(account uuid.UUID, asset custody.Asset) (uint64, error) {
	return g.svc.ledger.Balance(account, asset)
}

func (s *Exchange) pool(pair pool.Pair) (*pool.Pool, error) {
	p, ok := s.registry.Get(pair)
	if !ok {
		return nil, ErrUnknownPair
	}
	return p, nil
}

// begin pins one command against the snapshot cut; the returned func
// releases it. The snapshot job waits for every in-flight command, so
// every journaled record at or below its cut is reflected in the
// snapshot.
func (s *Exchange) begin() func() {
	s.cmdMu.RLock()
	return s.cmdMu.RUnlock
}

// journalCmd appends the command before execution; a command that never
// reaches the journal never mutates state.
func (s *Exchange) journalCmd(t wal.RecordType, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return errors.Wrap(err, "service: marshal command")
	}
	s.jmu.Lock()
	defer s.jmu.Unlock()
	if err := s.journal.Append(wal.NewRecord(t, s.seq.Next(), data)); err != nil {
		return errors.Wrap(err, "service: journal append")
	}
	return nil
}

func cred(cmd Command) custody.Credential {
	return custody.Credential{Account: cmd.Account, Token: cmd.Token}
}

// ---- pool lifecycle ----

// CreatePool registers a trading pair. Creation is journaled so replay
// rebuilds the same registry.
func (s *Exchange) CreatePool(pair pool.Pair, tickSize, lotSize, minSize uint64, now int64) (*pool.Pool, error) {
	defer s.begin()()
	cmd := Command{Pair: pair, TickSize: tickSize, LotSize: lotSize, MinSize: minSize, Ts: now}
	if err := s.journalCmd(wal.RecordCreatePool, cmd); err != nil {
		return nil, err
	}
	p, created := s.ensurePool(cmd)
	if created {
		s.log.WithFields(logrus.Fields{
			"pair": pair.String(),
			"tick": tickSize,
			"lot":  lotSize,
		}).Info("pool created")
	}
	return p, nil
}

func (s *Exchange) ensurePool(cmd Command) (*pool.Pool, bool) {
	return s.registry.Ensure(cmd.Pair, pool.Config{
		TickSize:  cmd.TickSize,
		LotSize:   cmd.LotSize,
		MinSize:   cmd.MinSize,
		Ledger:    gatedLedger{svc: s},
		Validator: s.validator,
		Emitter:   gatedEmitter{svc: s},
		Alloc:     s.orders.Get,
		Free:      s.orders.Put,
	}, cmd.Ts)
}

// ---- trading ----

func (s *Exchange) PlaceLimitOrder(pair pool.Pair, c custody.Credential, side book.Side, price, qty uint64, typ book.OrderType, policy book.SelfMatchPolicy, expireTs int64, feeAsset bool, now int64) (book.OrderInfo, error) {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return book.OrderInfo{}, err
	}
	cmd := Command{
		Pair: pair, Account: c.Account, Token: c.Token, Ts: now,
		Side: side, Type: typ, Policy: policy,
		Price: price, Qty: qty, ExpireTs: expireTs, FeeAsset: feeAsset,
	}
	if err := s.journalCmd(wal.RecordPlaceLimit, cmd); err != nil {
		return book.OrderInfo{}, err
	}
	return p.PlaceLimitOrder(c, side, price, qty, typ, policy, expireTs, feeAsset, now)
}

func (s *Exchange) PlaceMarketOrder(pair pool.Pair, c custody.Credential, side book.Side, qty uint64, policy book.SelfMatchPolicy, feeAsset bool, now int64) (book.OrderInfo, error) {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return book.OrderInfo{}, err
	}
	cmd := Command{
		Pair: pair, Account: c.Account, Token: c.Token, Ts: now,
		Side: side, Policy: policy, Qty: qty, FeeAsset: feeAsset,
	}
	if err := s.journalCmd(wal.RecordPlaceMarket, cmd); err != nil {
		return book.OrderInfo{}, err
	}
	return p.PlaceMarketOrder(c, side, qty, policy, feeAsset, now)
}

func (s *Exchange) ModifyOrder(pair pool.Pair, c custody.Credential, orderID, newQty uint64, now int64) error {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return err
	}
	cmd := Command{Pair: pair, Account: c.Account, Token: c.Token, Ts: now, OrderID: orderID, NewQty: newQty}
	if err := s.journalCmd(wal.RecordModify, cmd); err != nil {
		return err
	}
	return p.ModifyOrder(c, orderID, newQty, now)
}

func (s *Exchange) CancelOrder(pair pool.Pair, c custody.Credential, orderID uint64, now int64) error {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return err
	}
	cmd := Command{Pair: pair, Account: c.Account, Token: c.Token, Ts: now, OrderID: orderID}
	if err := s.journalCmd(wal.RecordCancel, cmd); err != nil {
		return err
	}
	return p.CancelOrder(c, orderID, now)
}

func (s *Exchange) CancelAll(pair pool.Pair, c custody.Credential, now int64) (int, error) {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return 0, err
	}
	cmd := Command{Pair: pair, Account: c.Account, Token: c.Token, Ts: now}
	if err := s.journalCmd(wal.RecordCancelAll, cmd); err != nil {
		return 0, err
	}
	return p.CancelAll(c, now)
}

// SweepExpired runs expiry housekeeping on one pool.
func (s *Exchange) SweepExpired(pair pool.Pair, now int64) (int, error) {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return 0, err
	}
	if err := s.journalCmd(wal.RecordSweep, Command{Pair: pair, Ts: now}); err != nil {
		return 0, err
	}
	return p.SweepExpired(now), nil
}

// ---- settlement, staking, governance ----

func (s *Exchange) WithdrawSettled(pair pool.Pair, c custody.Credential, now int64) error {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return err
	}
	cmd := Command{Pair: pair, Account: c.Account, Token: c.Token, Ts: now}
	if err := s.journalCmd(wal.RecordWithdraw, cmd); err != nil {
		return err
	}
	return p.WithdrawSettled(c, now)
}

// WithdrawAll cancels every open order for the account, unstakes, and
// settles the whole position in one pass.
func (s *Exchange) WithdrawAll(pair pool.Pair, c custody.Credential, now int64) (int, error) {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return 0, err
	}
	cmd := Command{Pair: pair, Account: c.Account, Token: c.Token, Ts: now}
	if err := s.journalCmd(wal.RecordWithdrawAll, cmd); err != nil {
		return 0, err
	}
	return p.WithdrawAll(c, now)
}

func (s *Exchange) Stake(pair pool.Pair, c custody.Credential, amount uint64, now int64) error {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return err
	}
	cmd := Command{Pair: pair, Account: c.Account, Token: c.Token, Ts: now, Amount: amount}
	if err := s.journalCmd(wal.RecordStake, cmd); err != nil {
		return err
	}
	return p.Stake(c, amount, now)
}

func (s *Exchange) Unstake(pair pool.Pair, c custody.Credential, now int64) error {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return err
	}
	cmd := Command{Pair: pair, Account: c.Account, Token: c.Token, Ts: now}
	if err := s.journalCmd(wal.RecordUnstake, cmd); err != nil {
		return err
	}
	return p.Unstake(c, now)
}

func (s *Exchange) SubmitProposal(pair pool.Pair, c custody.Credential, params state.TradeParams, now int64) error {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return err
	}
	cmd := Command{Pair: pair, Account: c.Account, Token: c.Token, Ts: now, Params: params}
	if err := s.journalCmd(wal.RecordProposal, cmd); err != nil {
		return err
	}
	return p.SubmitProposal(c, params, now)
}

func (s *Exchange) Vote(pair pool.Pair, c custody.Credential, proposal uuid.UUID, now int64) error {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return err
	}
	cmd := Command{Pair: pair, Account: c.Account, Token: c.Token, Ts: now, Proposal: proposal}
	if err := s.journalCmd(wal.RecordVote, cmd); err != nil {
		return err
	}
	return p.Vote(c, proposal, now)
}

func (s *Exchange) AddReferencePricePoint(pair pool.Pair, rate uint64, ts int64, isBase bool) error {
	defer s.begin()()
	p, err := s.pool(pair)
	if err != nil {
		return err
	}
	cmd := Command{Pair: pair, Ts: ts, Rate: rate, IsBase: isBase}
	if err := s.journalCmd(wal.RecordPricePoint, cmd); err != nil {
		return err
	}
	return p.AddReferencePricePoint(rate, ts, isBase)
}

// ---- flash loans ----

// Borrow and Repay are deliberately not journaled: a loan is transient
// within one client interaction, and replaying an open borrow would
// wedge the pool behind the outstanding-loan guard forever.

func (s *Exchange) Borrow(pair pool.Pair, asset custody.Asset, amount uint64) (vault.FlashLoan, error) {
	p, err := s.pool(pair)
	if err != nil {
		return vault.FlashLoan{}, err
	}
	return p.Borrow(asset, amount)
}

func (s *Exchange) Repay(pair pool.Pair, receipt uuid.UUID, asset custody.Asset, amount uint64) error {
	p, err := s.pool(pair)
	if err != nil {
		return err
	}
	return p.Repay(receipt, asset, amount)
}

// ---- read side ----

func (s *Exchange) Pairs() []pool.Pair { return s.registry.Pairs() }

func (s *Exchange) Level2Range(pair pool.Pair, priceLo, priceHi uint64, side book.Side, now int64) (prices, quantities []uint64, err error) {
	p, err := s.pool(pair)
	if err != nil {
		return nil, nil, err
	}
	prices, quantities = p.Level2Range(priceLo, priceHi, side, now)
	return prices, quantities, nil
}

func (s *Exchange) MidPrice(pair pool.Pair, now int64) (uint64, bool, error) {
	p, err := s.pool(pair)
	if err != nil {
		return 0, false, err
	}
	mid, ok := p.MidPrice(now)
	return mid, ok, nil
}

func (s *Exchange) QuantityOut(pair pool.Pair, baseIn, quoteIn uint64, now int64) (baseOut, quoteOut, feeAssetRequired uint64, err error) {
	p, err := s.pool(pair)
	if err != nil {
		return 0, 0, 0, err
	}
	baseOut, quoteOut, feeAssetRequired = p.QuantityOut(baseIn, quoteIn, now)
	return baseOut, quoteOut, feeAssetRequired, nil
}

func (s *Exchange) TradeParams(pair pool.Pair) (state.TradeParams, error) {
	p, err := s.pool(pair)
	if err != nil {
		return state.TradeParams{}, err
	}
	return p.TradeParams(), nil
}

func (s *Exchange) TradeParamsNext(pair pool.Pair) (state.TradeParams, error) {
	p, err := s.pool(pair)
	if err != nil {
		return state.TradeParams{}, err
	}
	return p.TradeParamsNext(), nil
}

func (s *Exchange) Quorum(pair pool.Pair) (uint64, error) {
	p, err := s.pool(pair)
	if err != nil {
		return 0, err
	}
	return p.Quorum(), nil
}

func (s *Exchange) Account(pair pool.Pair, owner uuid.UUID) (state.Account, bool, error) {
	p, err := s.pool(pair)
	if err != nil {
		return state.Account{}, false, err
	}
	a, ok := p.Account(owner)
	return a, ok, nil
}
