package ledger

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore is a LevelDB-backed Store.
// It uses the same key layout and value codec as BadgerStore.
type LevelDBStore struct {
	db     *leveldb.DB
	sync   bool
	closed atomic.Bool
}

var (
	_ Store    = (*LevelDBStore)(nil)
	_ Iterable = (*LevelDBStore)(nil)
)

// NewLevelDBStore creates or opens a LevelDB database at path.
func NewLevelDBStore(path string, syncWrites bool) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDBStore{db: db, sync: syncWrites}, nil
}

// GetSubstate retrieves a substate.
func (l *LevelDBStore) GetSubstate(id substate.ID) (*Output, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	val, err := l.db.Get(substateKey(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeOutput(val)
}

// PutSubstate stores a substate.
func (l *LevelDBStore) PutSubstate(id substate.ID, out Output) error {
	if l.closed.Load() {
		return ErrClosed
	}
	data, err := encodeOutput(out)
	if err != nil {
		return err
	}
	if err := l.db.Put(substateKey(id), data, &opt.WriteOptions{Sync: l.sync}); err != nil {
		return fmt.Errorf("put substate %s: %w", id, err)
	}
	return nil
}

// Iterate visits every substate in ledger key order.
func (l *LevelDBStore) Iterate(fn func(id substate.ID, out *Output) error) error {
	if l.closed.Load() {
		return ErrClosed
	}
	it := l.db.NewIterator(util.BytesPrefix(prefixSubstate), nil)
	defer it.Release()

	for it.Next() {
		id, err := substate.IDFromBytes(append([]byte(nil), it.Key()[1:]...))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		out, err := decodeOutput(it.Value())
		if err != nil {
			return err
		}
		if err := fn(id, out); err != nil {
			return err
		}
	}
	return it.Error()
}

// Close closes the database.
func (l *LevelDBStore) Close() error {
	if l.closed.Swap(true) {
		return ErrClosed
	}
	return l.db.Close()
}
