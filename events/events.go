// Package events defines the lifecycle events the engine emits for
// external consumers. Payloads are plain JSON-taggable structs so the
// outbox and kafka producer can serialize them without reflection
// surprises.
package events

import "github.com/google/uuid"

type Type string

const (
	OrderPlacedType   Type = "order_placed"
	OrderFilledType   Type = "order_filled"
	OrderCanceledType Type = "order_canceled"
	OrderModifiedType Type = "order_modified"
	OrderExpiredType  Type = "order_expired"
)

// Event is the envelope written to the sink. Pair is the "BASE-QUOTE"
// pool symbol; Ts is the caller timestamp of the operation that
// produced the event, in millis.
type Event struct {
	Type    Type        `json:"type"`
	Pair    string      `json:"pair"`
	Ts      int64       `json:"ts"`
	Payload interface{} `json:"payload"`
}

type OrderPlaced struct {
	OrderID  uint64    `json:"order_id"`
	Owner    uuid.UUID `json:"owner"`
	Side     string    `json:"side"`
	Price    uint64    `json:"price"`
	Qty      uint64    `json:"qty"`
	Executed uint64    `json:"executed"`
	Status   string    `json:"status"`
}

type OrderFilled struct {
	MakerID  uint64    `json:"maker_id"`
	TakerID  uint64    `json:"taker_id"`
	Maker    uuid.UUID `json:"maker"`
	Taker    uuid.UUID `json:"taker"`
	Price    uint64    `json:"price"`
	BaseQty  uint64    `json:"base_qty"`
	QuoteQty uint64    `json:"quote_qty"`
}

type OrderCanceled struct {
	OrderID uint64    `json:"order_id"`
	Owner   uuid.UUID `json:"owner"`
	Qty     uint64    `json:"qty"`
	Filled  uint64    `json:"filled"`
}

type OrderModified struct {
	OrderID uint64    `json:"order_id"`
	Owner   uuid.UUID `json:"owner"`
	NewQty  uint64    `json:"new_qty"`
}

// Emitter receives events in operation order. Implementations must not
// block the matching path; durable sinks buffer and drain elsewhere.
type Emitter interface {
	Emit(e Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(Event) {}
