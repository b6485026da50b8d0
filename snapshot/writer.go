package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"njord/domain/pool"

	"github.com/pkg/errors"
)

const fileName = "snapshot.bin"

type Writer struct {
	Dir string
}

// Write encodes one cut, replacing the previous snapshot atomically via
// a temp file and rename.
func (w *Writer) Write(seq uint64, pools []pool.Image) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return errors.Wrap(err, "snapshot: mkdir")
	}

	tmp := filepath.Join(w.Dir, fileName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "snapshot: create")
	}

	s := Snapshot{Seq: seq, Created: time.Now(), Pools: pools}
	if err := gob.NewEncoder(f).Encode(&s); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "snapshot: encode")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "snapshot: sync")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "snapshot: close")
	}
	return errors.Wrap(os.Rename(tmp, filepath.Join(w.Dir, fileName)), "snapshot: rename")
}
