// Package sequence issues the strictly monotonic IDs the journal and
// outbox key on. Replay-safe: after journal replay the sequencer is
// reset to the last replayed value.
package sequence

import "sync/atomic"

type Sequencer struct {
	next atomic.Uint64
}

// New starts a sequencer at start; the first Next returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Reset is only valid after replay, before traffic.
func (s *Sequencer) Reset(v uint64) {
	s.next.Store(v)
}
