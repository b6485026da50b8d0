package book

import (
	"errors"

	"njord/pkg/fixed"

	"github.com/google/uuid"
)

type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// OrderType restricts how an incoming order may execute.
type OrderType uint8

const (
	// NoRestriction fills what it can and rests the remainder.
	NoRestriction OrderType = iota
	// ImmediateOrCancel fills what it can and discards the remainder.
	ImmediateOrCancel
	// FillOrKill executes fully in one pass or not at all.
	FillOrKill
	// PostOnly rests only; any immediate match rejects the order.
	PostOnly
)

// SelfMatchPolicy decides what happens when taker and maker share an owner.
type SelfMatchPolicy uint8

const (
	SelfMatchAllowed SelfMatchPolicy = iota
	SelfMatchCancelTaker
	SelfMatchCancelMaker
)

type Status uint8

const (
	Live Status = iota
	PartiallyFilled
	Filled
	Canceled
	Expired
	// Rejected marks constraint outcomes (fill-or-kill shortfall,
	// post-only cross). The request was well-formed; it simply could
	// not execute under its own restrictions. No book mutation occurred.
	Rejected
)

func (s Status) String() string {
	switch s {
	case Live:
		return "live"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Canceled:
		return "canceled"
	case Expired:
		return "expired"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// MaxPrice and MaxQty cap accepted orders so any notional computed from
// resident quantities stays exact in fixed-point arithmetic.
const (
	MaxPrice = fixed.MaxOperand
	MaxQty   = fixed.MaxOperand
)

var (
	ErrInvalidQuantity  = errors.New("book: quantity is zero, over bound, or not a lot multiple")
	ErrBelowMinSize     = errors.New("book: quantity below minimum size")
	ErrInvalidPrice     = errors.New("book: price is zero, over bound, or not a tick multiple")
	ErrInvalidExpire    = errors.New("book: expire timestamp not in the future")
	ErrInvalidOrderType = errors.New("book: unknown order type")
	ErrInvalidSelfMatch = errors.New("book: unknown self-match policy")
	ErrOrderNotFound    = errors.New("book: order not found")
	ErrOrderExpired     = errors.New("book: order expired")
	ErrInvalidModify    = errors.New("book: new quantity out of modify bounds")
	ErrNotOwner         = errors.New("book: order belongs to another account")
)

// Order is the compact resident maker record. Only matching-critical
// fields live here; everything else stays on the OrderInfo that
// produced it.
type Order struct {
	ID       uint64
	Owner    uuid.UUID
	Side     Side
	Price    uint64
	Qty      uint64
	Filled   uint64
	ExpireTs int64
	Epoch    uint64

	// FeeAsset and FeeConv snapshot the maker's fee election at
	// placement time so fills can be priced long after the fact.
	FeeAsset bool
	FeeConv  uint64
}

func (o *Order) Remaining() uint64 {
	return o.Qty - o.Filled
}

func (o *Order) expired(now int64) bool {
	return o.ExpireTs != 0 && o.ExpireTs <= now
}

func (o *Order) key() Key {
	return makeKey(o.Side, o.Price, o.ID)
}

// Fill is the immutable result of one maker/taker match.
type Fill struct {
	MakerID      uint64
	MakerOwner   uuid.UUID
	TakerOwner   uuid.UUID
	Price        uint64
	BaseQty      uint64
	QuoteQty     uint64
	TakerIsBid   bool
	MakerIsBid   bool
	MakerDone    bool
	MakerExpired bool
	// MakerRefund is the maker's unfilled remainder when the maker was
	// removed without trading (expired or self-match canceled).
	MakerRefund uint64
	MakerEpoch  uint64

	// Fee fields are stamped by the accounting layer. MakerFeeConv is
	// the maker's fee-asset conversion snapshot from placement time.
	TakerFee           uint64
	MakerFee           uint64
	TakerFeeIsFeeAsset bool
	MakerFeeIsFeeAsset bool
	MakerFeeConv       uint64
}

// OrderInfo is the full lifecycle record of one request. It exists for
// the duration of the call that produced it and is never persisted.
type OrderInfo struct {
	OrderID   uint64
	Owner     uuid.UUID
	Side      Side
	Type      OrderType
	SelfMatch SelfMatchPolicy
	Market    bool

	Price    uint64
	Qty      uint64
	ExpireTs int64
	Epoch    uint64

	FeeAsset bool
	FeeConv  uint64

	Executed      uint64
	QuoteExecuted uint64
	Fills         []Fill
	Status        Status
	PlacedAt      int64
}

func (i *OrderInfo) Remaining() uint64 {
	return i.Qty - i.Executed
}

// addFill accumulates one match into the request record.
func (i *OrderInfo) addFill(f Fill) {
	i.Executed += f.BaseQty
	i.QuoteExecuted += f.QuoteQty
	i.Fills = append(i.Fills, f)
	if i.Remaining() == 0 {
		i.Status = Filled
	} else {
		i.Status = PartiallyFilled
	}
}
