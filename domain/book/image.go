package book

// Image is the book's persistent form: every resident order plus the
// id counter, enough to rebuild both indexes exactly.
type Image struct {
	TickSize uint64
	LotSize  uint64
	MinSize  uint64
	NextID   uint64
	Orders   []Order
}

// Export captures the resident orders in key order.
func (b *Book) Export() Image {
	img := Image{
		TickSize: b.tickSize,
		LotSize:  b.lotSize,
		MinSize:  b.minSize,
		NextID:   b.nextID,
		Orders:   make([]Order, 0, len(b.orders)),
	}
	for it := b.bids.Begin(); it.Valid(); it.Next() {
		img.Orders = append(img.Orders, *it.Order())
	}
	for it := b.asks.Begin(); it.Valid(); it.Next() {
		img.Orders = append(img.Orders, *it.Order())
	}
	return img
}

// Load reinserts an exported image into an empty book. Orders keep
// their original ids, so price-time priority is reproduced exactly.
func (b *Book) Load(img Image) {
	for _, o := range img.Orders {
		r := b.alloc()
		*r = o
		b.orders[r.ID] = r
		b.side(r.Side).Insert(r)
	}
	b.ResetID(img.NextID)
}
