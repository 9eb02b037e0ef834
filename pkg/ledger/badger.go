package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/fortiblox/X1-Engine/pkg/substate"
)

// Key prefixes shared by the persistent backends.
var (
	// prefixSubstate is the prefix for substate values.
	// Key format: prefixSubstate + substate id bytes
	prefixSubstate = []byte{0x01}

	// prefixMeta is the prefix for metadata.
	prefixMeta = []byte{0x02}

	// metaSubstateCount is the key for the stored substate count.
	metaSubstateCount = append(append([]byte{}, prefixMeta...), []byte("count")...)
)

// BadgerConfig contains configuration for BadgerStore.
type BadgerConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// NumMemtables is the number of memtables.
	NumMemtables int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger is an optional badger logger. Nil disables badger logging.
	Logger badger.Logger
}

// DefaultBadgerConfig returns default configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:             path,
		SyncWrites:       true,
		NumCompactors:    4,
		NumMemtables:     5,
		ValueLogFileSize: 256 << 20, // 256MB
	}
}

// BadgerStore is a BadgerDB-backed Store.
//
// Substates are stored under their id bytes with a one-byte prefix. Every
// PutSubstate runs in its own badger transaction so a write is either fully
// visible or not at all.
type BadgerStore struct {
	db *badger.DB

	// count is cached in memory and persisted on Close
	count atomic.Uint64

	// mu serializes writes so count stays consistent
	mu sync.Mutex

	closed atomic.Bool
}

var (
	_ Store    = (*BadgerStore)(nil)
	_ Iterable = (*BadgerStore)(nil)
)

// NewBadgerStore opens a BadgerDB-backed store.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumCompactors(cfg.NumCompactors).
		WithNumMemtables(cfg.NumMemtables).
		WithValueLogFileSize(cfg.ValueLogFileSize).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db}
	if err := s.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return s, nil
}

func (s *BadgerStore) loadMetadata() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaSubstateCount)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 8 {
				s.count.Store(binary.LittleEndian.Uint64(val))
			}
			return nil
		})
	})
}

// GetSubstate retrieves a substate.
func (s *BadgerStore) GetSubstate(id substate.ID) (*Output, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var out *Output
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(substateKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := decodeOutput(val)
			if err != nil {
				return err
			}
			out = decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutSubstate stores a substate.
func (s *BadgerStore) PutSubstate(id substate.ID, out Output) error {
	if s.closed.Load() {
		return ErrClosed
	}
	data, err := encodeOutput(out)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := substateKey(id)
	var existed bool
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			existed = true
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("put substate %s: %w", id, err)
	}
	if !existed {
		s.count.Add(1)
	}
	return nil
}

// Count returns the number of stored substates.
func (s *BadgerStore) Count() uint64 {
	return s.count.Load()
}

// Iterate visits every substate in ledger key order.
func (s *BadgerStore) Iterate(fn func(id substate.ID, out *Output) error) error {
	if s.closed.Load() {
		return ErrClosed
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixSubstate
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id, err := substate.IDFromBytes(item.KeyCopy(nil)[1:])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupted, err)
			}
			err = item.Value(func(val []byte) error {
				out, err := decodeOutput(val)
				if err != nil {
					return err
				}
				return fn(id, out)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close persists metadata and closes the database.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, s.count.Load())
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaSubstateCount, buf)
	})
	if closeErr := s.db.Close(); closeErr != nil {
		return closeErr
	}
	return err
}
