// Package outbox is the durable event outbox. Every emitted lifecycle
// event is written here before any network leaves the process; the
// broadcaster drains pending records into Kafka and acks them. Records
// move NEW -> SENT -> ACKED and ACKED records are deleted on cleanup.
package outbox

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// value encoding: [state:1][retries:4][lastAttempt:8][payload]
func encode(r Record) []byte {
	buf := make([]byte, 1+4+8+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[13:], r.Payload)
	return buf
}

func decode(seq uint64, b []byte) (Record, error) {
	if len(b) < 13 {
		return Record{}, errors.New("outbox: record too short")
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[13:]...),
	}, nil
}

type Outbox struct {
	db *pebble.DB
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false,
	})
	if err != nil {
		return nil, errors.Wrap(err, "outbox: open")
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("event/%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	s := strings.TrimLeft(strings.TrimPrefix(string(b), "event/"), "0")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// PutNew stores a freshly emitted event.
func (o *Outbox) PutNew(seq uint64, payload []byte) error {
	rec := Record{State: StateNew, Payload: payload}
	return errors.Wrap(o.db.Set(keyFor(seq), encode(rec), pebble.Sync), "outbox: put")
}

func (o *Outbox) setState(seq uint64, state State, bumpRetry bool) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.LastAttempt = time.Now().UnixNano()
	if bumpRetry {
		rec.Retries++
	}
	return errors.Wrap(o.db.Set(keyFor(seq), encode(rec), pebble.Sync), "outbox: update")
}

func (o *Outbox) MarkSent(seq uint64) error   { return o.setState(seq, StateSent, true) }
func (o *Outbox) MarkAcked(seq uint64) error  { return o.setState(seq, StateAcked, false) }
func (o *Outbox) MarkFailed(seq uint64) error { return o.setState(seq, StateFailed, false) }

// Delete removes a record, normally after ACKED cleanup.
func (o *Outbox) Delete(seq uint64) error {
	return errors.Wrap(o.db.Delete(keyFor(seq), pebble.Sync), "outbox: delete")
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, errors.Wrap(err, "outbox: get")
	}
	defer closer.Close()
	return decode(seq, val)
}

// ScanPending feeds every NEW or SENT record to fn in sequence order.
// SENT records reappear here because a crash between send and ack must
// re-publish rather than drop; consumers dedupe on seq.
func (o *Outbox) ScanPending(fn func(rec Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("event/"),
		UpperBound: []byte("event/~"),
	})
	if err != nil {
		return errors.Wrap(err, "outbox: iter")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decode(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State != StateNew && rec.State != StateSent {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}
