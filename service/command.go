package service

import (
	"njord/domain/book"
	"njord/domain/pool"
	"njord/domain/state"

	"github.com/google/uuid"
)

// Command is the journaled form of one mutating request. One flat
// struct covers every record type; unused fields stay zero and cost a
// few bytes of JSON. Replay re-executes commands in sequence order and
// must produce the same order IDs, so everything an entry point needs
// is captured here.
type Command struct {
	Pair    pool.Pair `json:"pair"`
	Account uuid.UUID `json:"account"`
	Token   uuid.UUID `json:"token"`
	Ts      int64     `json:"ts"`

	// pool creation
	TickSize uint64 `json:"tick_size,omitempty"`
	LotSize  uint64 `json:"lot_size,omitempty"`
	MinSize  uint64 `json:"min_size,omitempty"`

	// order placement
	Side     book.Side            `json:"side,omitempty"`
	Type     book.OrderType       `json:"order_type,omitempty"`
	Policy   book.SelfMatchPolicy `json:"self_match,omitempty"`
	Price    uint64               `json:"price,omitempty"`
	Qty      uint64               `json:"qty,omitempty"`
	ExpireTs int64                `json:"expire_ts,omitempty"`
	FeeAsset bool                 `json:"fee_asset,omitempty"`

	// modify / cancel
	OrderID uint64 `json:"order_id,omitempty"`
	NewQty  uint64 `json:"new_qty,omitempty"`

	// staking and governance
	Amount   uint64            `json:"amount,omitempty"`
	Params   state.TradeParams `json:"params,omitempty"`
	Proposal uuid.UUID         `json:"proposal,omitempty"`

	// reference prices
	Rate   uint64 `json:"rate,omitempty"`
	IsBase bool   `json:"is_base,omitempty"`
}
