package wal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

type Config struct {
	Dir         string
	SegmentSize int64
}

type WAL struct {
	dir      string
	segSize  int64
	mu       sync.Mutex
	current  *segment
	segIndex int
}

// Open opens the journal at cfg.Dir, continuing on the newest existing
// segment so appends after a restart never rewrite history.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "wal: mkdir")
	}

	idx := 0
	if files, err := filepath.Glob(filepath.Join(cfg.Dir, "segment-*.wal")); err == nil && len(files) > 0 {
		sort.Strings(files)
		idx = len(files) - 1
	}

	seg, err := openSegment(cfg.Dir, idx)
	if err != nil {
		return nil, errors.Wrap(err, "wal: open segment")
	}

	return &WAL{
		dir:      cfg.Dir,
		segSize:  cfg.SegmentSize,
		current:  seg,
		segIndex: idx,
	}, nil
}

// Append frames and writes one record:
// [type:1][seq:8][time:8][len:4][payload][crc:4]
func (w *WAL) Append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	payloadLen := uint32(len(r.Data))
	buf := make([]byte, 1+8+8+4+payloadLen+4)

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[21:], r.Data)

	crc := CRC32(buf[:21+payloadLen])
	binary.BigEndian.PutUint32(buf[21+payloadLen:], crc)

	if err := w.current.append(buf); err != nil {
		return errors.Wrap(err, "wal: append")
	}
	if err := w.current.sync(); err != nil {
		return errors.Wrap(err, "wal: sync")
	}

	if w.current.offset >= w.segSize {
		return w.rotate()
	}
	return nil
}

func (w *WAL) rotate() error {
	_ = w.current.close()
	w.segIndex++

	seg, err := openSegment(w.dir, w.segIndex)
	if err != nil {
		return errors.Wrap(err, "wal: rotate")
	}
	w.current = seg
	return nil
}

// TruncateBefore drops whole segments whose records are all at or below
// seq. Used after a snapshot makes the prefix replayable from state.
func (w *WAL) TruncateBefore(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(w.dir, "segment-*.wal"))
	if err != nil {
		return err
	}
	for _, path := range files {
		if path == w.current.path {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			_ = os.Remove(path)
		}
	}
	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.close()
}
