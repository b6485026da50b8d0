// Package snapshot persists a consistent cut of every pool so the
// journal can be truncated behind it. Restart loads the snapshot first
// and replays only the records past its sequence.
package snapshot

import (
	"time"

	"njord/domain/pool"
)

// Snapshot is one cut: the sequence it covers and every pool's image.
type Snapshot struct {
	Seq     uint64
	Created time.Time
	Pools   []pool.Image
}
