package service

import (
	"context"
	"time"

	"njord/domain/pool"
	"njord/snapshot"
)

// LoadSnapshot restores every pool from the snapshot in dir, if one
// exists, and advances the sequencer to its cut. Must run before
// Replay, which then applies only the journal past the cut.
func (s *Exchange) LoadSnapshot(dir string) error {
	snap, err := snapshot.Load(dir)
	if err != nil {
		return err
	}
	for _, img := range snap.Pools {
		s.registry.Put(pool.FromImage(img, pool.Config{
			Ledger:    gatedLedger{svc: s},
			Validator: s.validator,
			Emitter:   gatedEmitter{svc: s},
			Alloc:     s.orders.Get,
			Free:      s.orders.Put,
		}))
	}
	if snap.Seq > 0 {
		s.seq.Reset(snap.Seq)
		s.log.WithField("seq", snap.Seq).WithField("pools", len(snap.Pools)).Info("snapshot loaded")
	}
	return nil
}

// StartSnapshotJob periodically snapshots every pool and truncates the
// journal behind the cut, bounding replay cost after a restart.
func (s *Exchange) StartSnapshotJob(ctx context.Context, dir string, interval time.Duration) {
	w := &snapshot.Writer{Dir: dir}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := s.writeSnapshot(w); err != nil {
					s.log.WithError(err).Error("snapshot write failed")
				}
			}
		}
	}()
}

// writeSnapshot holds out new commands while it takes the cut, then
// encodes and truncates outside the lock.
func (s *Exchange) writeSnapshot(w *snapshot.Writer) error {
	s.cmdMu.Lock()
	seq := s.seq.Current()
	pairs := s.registry.Pairs()
	images := make([]pool.Image, 0, len(pairs))
	for _, pair := range pairs {
		if p, ok := s.registry.Get(pair); ok {
			images = append(images, p.Export())
		}
	}
	s.cmdMu.Unlock()

	if err := w.Write(seq, images); err != nil {
		return err
	}
	return s.journal.TruncateBefore(seq)
}
