// Package custody provides the durable custody ledger backed by
// pebble. Balances live under acct/<uuid>/<asset> keys; every write is
// synced, since a lost balance update is a lost funds movement.
package custody

import (
	"encoding/binary"
	"fmt"

	"njord/domain/custody"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Ledger struct {
	db *pebble.DB
}

// Open opens or creates the ledger at dir.
func Open(dir string) (*Ledger, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false,
	})
	if err != nil {
		return nil, errors.Wrap(err, "custody: open")
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func keyFor(account uuid.UUID, asset custody.Asset) []byte {
	return []byte(fmt.Sprintf("acct/%s/%s", account, asset))
}

func (l *Ledger) read(key []byte) (uint64, error) {
	val, closer, err := l.db.Get(key)
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "custody: read")
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, errors.Errorf("custody: corrupt balance at %s", key)
	}
	return binary.BigEndian.Uint64(val), nil
}

func (l *Ledger) write(key []byte, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return errors.Wrap(l.db.Set(key, buf, pebble.Sync), "custody: write")
}

func (l *Ledger) Deposit(account uuid.UUID, asset custody.Asset, amount uint64) error {
	key := keyFor(account, asset)
	cur, err := l.read(key)
	if err != nil {
		return err
	}
	return l.write(key, cur+amount)
}

func (l *Ledger) Withdraw(account uuid.UUID, asset custody.Asset, amount uint64) error {
	key := keyFor(account, asset)
	cur, err := l.read(key)
	if err != nil {
		return err
	}
	if cur < amount {
		return custody.ErrInsufficientFunds
	}
	return l.write(key, cur-amount)
}

func (l *Ledger) Balance(account uuid.UUID, asset custody.Asset) (uint64, error) {
	return l.read(keyFor(account, asset))
}
