package book

import (
	"njord/pkg/fixed"

	"github.com/google/uuid"
)

// Book matches incoming orders against one pair's resident orders.
// It is single-writer and deterministic; the owning pool serializes
// all calls.
type Book struct {
	bids *Index
	asks *Index

	// resident orders by id, for cancel/modify lookups
	orders map[uint64]*Order

	tickSize uint64
	lotSize  uint64
	minSize  uint64

	nextID uint64

	alloc func() *Order
	free  func(*Order)
}

// NewBook builds an empty book. alloc/free let the caller plug in an
// object pool; both may be nil.
func NewBook(tickSize, lotSize, minSize uint64, alloc func() *Order, free func(*Order)) *Book {
	if alloc == nil {
		alloc = func() *Order { return &Order{} }
	}
	if free == nil {
		free = func(*Order) {}
	}
	return &Book{
		bids:     NewIndex(),
		asks:     NewIndex(),
		orders:   make(map[uint64]*Order),
		tickSize: tickSize,
		lotSize:  lotSize,
		minSize:  minSize,
		alloc:    alloc,
		free:     free,
	}
}

// NextID issues the next insertion sequence.
func (b *Book) NextID() uint64 {
	b.nextID++
	return b.nextID
}

// ResetID moves the sequence forward, used after journal replay.
func (b *Book) ResetID(v uint64) {
	if v > b.nextID {
		b.nextID = v
	}
}

func (b *Book) side(s Side) *Index {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

func (b *Book) opposite(s Side) *Index {
	if s == Bid {
		return b.asks
	}
	return b.bids
}

// crosses reports whether a maker at makerPrice is acceptable to a
// taker limited at limit.
func crosses(takerSide Side, limit, makerPrice uint64) bool {
	if takerSide == Bid {
		return makerPrice <= limit
	}
	return makerPrice >= limit
}

// ---- validation ----

func (b *Book) validate(info *OrderInfo, now int64) error {
	if info.Qty == 0 || info.Qty > MaxQty || info.Qty%b.lotSize != 0 {
		return ErrInvalidQuantity
	}
	if info.Qty < b.minSize {
		return ErrBelowMinSize
	}
	if !info.Market {
		if info.Price == 0 || info.Price > MaxPrice || info.Price%b.tickSize != 0 {
			return ErrInvalidPrice
		}
	}
	if info.Type > PostOnly {
		return ErrInvalidOrderType
	}
	if info.SelfMatch > SelfMatchCancelMaker {
		return ErrInvalidSelfMatch
	}
	switch info.Type {
	case NoRestriction, PostOnly:
		if !info.Market && info.ExpireTs <= now {
			return ErrInvalidExpire
		}
	default:
		// immediate-only types may omit expiration
		if info.ExpireTs != 0 && info.ExpireTs <= now {
			return ErrInvalidExpire
		}
	}
	return nil
}

// ---- create ----

// CreateOrder validates and matches info against the opposite side,
// resting any remainder when the type allows it. On validation error
// the book is untouched. Fill-or-kill shortfall and post-only crossing
// leave the book untouched and surface as Status == Rejected.
func (b *Book) CreateOrder(info *OrderInfo, now int64) error {
	if err := b.validate(info, now); err != nil {
		return err
	}
	info.OrderID = b.NextID()
	info.PlacedAt = now
	info.Status = Live

	if info.Type == FillOrKill {
		if b.availableQty(info, now) < info.Qty {
			info.Status = Rejected
			return nil
		}
	}
	if info.Type == PostOnly && b.wouldCross(info, now) {
		info.Status = Rejected
		return nil
	}

	b.match(info, now)

	if info.Status == Canceled {
		// self-match cancel-taker: remainder is gone, fills stand
		return nil
	}
	if info.Remaining() == 0 {
		return nil
	}
	if info.Type == NoRestriction && !info.Market {
		b.rest(info)
		return nil
	}
	// immediate-only remainder is discarded, never rested
	info.Status = Canceled
	return nil
}

// match walks the opposite side from the best price while the taker
// has remaining quantity and the maker price is acceptable. Expired
// makers met on the walk are removed and excluded regardless of price.
// All side/type combinations share this one path.
func (b *Book) match(info *OrderInfo, now int64) {
	opp := b.opposite(info.Side)
	for info.Remaining() > 0 {
		m := opp.Min()
		if m == nil {
			return
		}
		if !info.Market && !crosses(info.Side, info.Price, m.Price) {
			return
		}
		if m.expired(now) {
			b.unlink(m)
			info.Fills = append(info.Fills, expiredFill(m, info.Owner))
			b.free(m)
			continue
		}
		if m.Owner == info.Owner && info.SelfMatch != SelfMatchAllowed {
			if info.SelfMatch == SelfMatchCancelTaker {
				info.Status = Canceled
				return
			}
			// cancel-maker: drop the resident order, keep walking
			b.unlink(m)
			info.Fills = append(info.Fills, canceledFill(m, info.Owner))
			b.free(m)
			continue
		}

		qty := fixed.Min(info.Remaining(), m.Remaining())
		m.Filled += qty
		done := m.Remaining() == 0

		info.addFill(Fill{
			MakerID:            m.ID,
			MakerOwner:         m.Owner,
			TakerOwner:         info.Owner,
			Price:              m.Price,
			BaseQty:            qty,
			QuoteQty:           fixed.Mul(qty, m.Price),
			TakerIsBid:         info.Side == Bid,
			MakerIsBid:         m.Side == Bid,
			MakerDone:          done,
			MakerEpoch:         m.Epoch,
			MakerFeeIsFeeAsset: m.FeeAsset,
			MakerFeeConv:       m.FeeConv,
		})

		if done {
			b.unlink(m)
			b.free(m)
		}
	}
}

// expiredFill reports a maker removed for expiration so accounting can
// refund its locked remainder.
func expiredFill(m *Order, taker uuid.UUID) Fill {
	return Fill{
		MakerID:            m.ID,
		MakerOwner:         m.Owner,
		TakerOwner:         taker,
		Price:              m.Price,
		MakerIsBid:         m.Side == Bid,
		MakerDone:          true,
		MakerExpired:       true,
		MakerRefund:        m.Remaining(),
		MakerEpoch:         m.Epoch,
		MakerFeeIsFeeAsset: m.FeeAsset,
		MakerFeeConv:       m.FeeConv,
	}
}

// canceledFill reports a maker removed by the cancel-maker self-match
// policy. Shape matches an expired fill: zero traded, full refund.
func canceledFill(m *Order, taker uuid.UUID) Fill {
	f := expiredFill(m, taker)
	f.MakerExpired = false
	return f
}

func (b *Book) rest(info *OrderInfo) {
	o := b.alloc()
	*o = Order{
		ID:       info.OrderID,
		Owner:    info.Owner,
		Side:     info.Side,
		Price:    info.Price,
		Qty:      info.Qty,
		Filled:   info.Executed,
		ExpireTs: info.ExpireTs,
		Epoch:    info.Epoch,
		FeeAsset: info.FeeAsset,
		FeeConv:  info.FeeConv,
	}
	b.side(o.Side).Insert(o)
	b.orders[o.ID] = o
}

func (b *Book) unlink(m *Order) {
	b.side(m.Side).Remove(m.key())
	delete(b.orders, m.ID)
}

// availableQty dry-runs a fill-or-kill walk without touching the book.
func (b *Book) availableQty(info *OrderInfo, now int64) uint64 {
	var avail uint64
	for it := b.opposite(info.Side).Begin(); it.Valid(); it.Next() {
		m := it.Order()
		if !info.Market && !crosses(info.Side, info.Price, m.Price) {
			break
		}
		if m.expired(now) {
			continue
		}
		if m.Owner == info.Owner && info.SelfMatch != SelfMatchAllowed {
			if info.SelfMatch == SelfMatchCancelTaker {
				// matching would cancel the taker here
				break
			}
			continue
		}
		avail += m.Remaining()
		if avail >= info.Qty {
			break
		}
	}
	return avail
}

// wouldCross reports whether info would trade immediately.
func (b *Book) wouldCross(info *OrderInfo, now int64) bool {
	for it := b.opposite(info.Side).Begin(); it.Valid(); it.Next() {
		m := it.Order()
		if m.expired(now) {
			continue
		}
		return crosses(info.Side, info.Price, m.Price)
	}
	return false
}

// ---- cancel / modify ----

// CancelOrder removes a resident order. The removed order is returned
// by value so accounting can refund its remainder.
func (b *Book) CancelOrder(id uint64, owner uuid.UUID) (Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if o.Owner != owner {
		return Order{}, ErrNotOwner
	}
	cp := *o
	b.unlink(o)
	b.free(o)
	return cp, nil
}

// ModifyOrder reduces a resident order to newQty. Permitted only while
// filled < newQty < original quantity and the order is unexpired.
// It returns the released quantity.
func (b *Book) ModifyOrder(id uint64, owner uuid.UUID, newQty uint64, now int64) (Order, uint64, error) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, 0, ErrOrderNotFound
	}
	if o.Owner != owner {
		return Order{}, 0, ErrNotOwner
	}
	if o.expired(now) {
		return Order{}, 0, ErrOrderExpired
	}
	if newQty <= o.Filled || newQty >= o.Qty {
		return Order{}, 0, ErrInvalidModify
	}
	if newQty%b.lotSize != 0 {
		return Order{}, 0, ErrInvalidQuantity
	}
	released := o.Qty - newQty
	o.Qty = newQty
	return *o, released, nil
}

// SweepExpired removes every resident order whose expiration has
// passed, returning copies for refund accounting.
func (b *Book) SweepExpired(now int64) []Order {
	var swept []Order
	for _, o := range b.orders {
		if o.expired(now) {
			swept = append(swept, *o)
		}
	}
	for i := range swept {
		o := b.orders[swept[i].ID]
		b.unlink(o)
		b.free(o)
	}
	return swept
}

// GetOrder returns a copy of a resident order.
func (b *Book) GetOrder(id uint64) (Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// OpenOrders returns the number of resident orders.
func (b *Book) OpenOrders() int {
	return len(b.orders)
}

// ---- views ----

// BestBid and BestAsk skip expired residents without removing them;
// expiration only mutates the book at match or sweep time.
func (b *Book) BestBid(now int64) (uint64, bool) {
	return bestPrice(b.bids, now)
}

func (b *Book) BestAsk(now int64) (uint64, bool) {
	return bestPrice(b.asks, now)
}

func bestPrice(ix *Index, now int64) (uint64, bool) {
	for it := ix.Begin(); it.Valid(); it.Next() {
		if o := it.Order(); !o.expired(now) {
			return o.Price, true
		}
	}
	return 0, false
}

// MidPrice returns the midpoint of the best bid and ask.
func (b *Book) MidPrice(now int64) (uint64, bool) {
	bb, ok1 := b.BestBid(now)
	ba, ok2 := b.BestAsk(now)
	if !ok1 || !ok2 {
		return 0, false
	}
	return (bb + ba) / 2, true
}

// Level2Range aggregates resident quantity per price inside
// [priceLo, priceHi], best price first. Expired orders are skipped.
func (b *Book) Level2Range(priceLo, priceHi uint64, side Side, now int64) (prices, quantities []uint64) {
	var it Iterator
	if side == Bid {
		it = b.bids.Seek(Key{Sort: ^priceHi})
	} else {
		it = b.asks.Seek(Key{Sort: priceLo})
	}
	for ; it.Valid(); it.Next() {
		o := it.Order()
		if o.Price < priceLo || o.Price > priceHi {
			break
		}
		if o.expired(now) {
			continue
		}
		if n := len(prices); n > 0 && prices[n-1] == o.Price {
			quantities[n-1] += o.Remaining()
		} else {
			prices = append(prices, o.Price)
			quantities = append(quantities, o.Remaining())
		}
	}
	return prices, quantities
}

// QuantityOut dry-run quotes an exact-input swap against the book.
// Exactly one of baseIn/quoteIn must be non-zero: base input walks the
// bids (a sell), quote input walks the asks (a buy). No mutation.
func (b *Book) QuantityOut(baseIn, quoteIn uint64, now int64) (baseOut, quoteOut uint64) {
	if baseIn > 0 {
		remaining := baseIn
		for it := b.bids.Begin(); it.Valid() && remaining > 0; it.Next() {
			m := it.Order()
			if m.expired(now) {
				continue
			}
			qty := fixed.Min(remaining, m.Remaining())
			quoteOut += fixed.Mul(qty, m.Price)
			remaining -= qty
		}
		// unconverted input comes back in kind
		return remaining, quoteOut
	}
	remaining := quoteIn
	for it := b.asks.Begin(); it.Valid() && remaining > 0; it.Next() {
		m := it.Order()
		if m.expired(now) {
			continue
		}
		quote := fixed.Mul(m.Remaining(), m.Price)
		if quote <= remaining {
			baseOut += m.Remaining()
			remaining -= quote
			continue
		}
		qty := fixed.Div(remaining, m.Price)
		qty -= qty % b.lotSize
		baseOut += qty
		remaining -= fixed.Mul(qty, m.Price)
		break
	}
	return baseOut, remaining
}
