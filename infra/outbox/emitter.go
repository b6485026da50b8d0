package outbox

import (
	"encoding/json"

	"njord/events"
	"njord/infra/sequence"

	"github.com/sirupsen/logrus"
)

// Emitter writes events into the outbox. Durability boundary: once
// Emit returns, the event survives a crash and the broadcaster will
// eventually publish it.
type Emitter struct {
	ob  *Outbox
	seq *sequence.Sequencer
	log *logrus.Logger
}

func NewEmitter(ob *Outbox, seq *sequence.Sequencer, log *logrus.Logger) *Emitter {
	return &Emitter{ob: ob, seq: seq, log: log}
}

func (e *Emitter) Emit(ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.WithError(err).WithField("type", ev.Type).Error("event marshal failed")
		return
	}
	if err := e.ob.PutNew(e.seq.Next(), payload); err != nil {
		e.log.WithError(err).WithField("type", ev.Type).Error("outbox write failed")
	}
}
