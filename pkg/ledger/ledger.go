// Package ledger implements the durable substate store used by the track.
//
// The ledger is a versioned key-value store keyed by substate.ID. The track
// only needs get and put, so every backend implements the small Store
// interface:
//
//   - MemoryStore keeps substates in a map (tests, previews)
//   - BadgerStore persists to BadgerDB
//   - LevelDBStore persists to LevelDB
//   - CachedStore fronts any Store with an LRU read cache
//   - Overlay stages writes over a base Store until Commit or Rollback
//
// Backends clone values on the way in and out, so a caller never aliases
// stored state.
package ledger

import (
	"errors"
	"sync"

	"github.com/fortiblox/X1-Engine/pkg/substate"
)

var (
	// ErrNotFound is returned when a substate doesn't exist.
	ErrNotFound = errors.New("substate not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrCorrupted is returned when stored bytes cannot be decoded.
	ErrCorrupted = errors.New("data corrupted")
)

// Output is a substate together with its version.
// Versions start at 0 and increase by one on every durable write.
type Output struct {
	Substate substate.Substate
	Version  uint32
}

// Clone returns a deep copy of the output.
func (o Output) Clone() Output {
	if o.Substate == nil {
		return o
	}
	return Output{Substate: o.Substate.Clone(), Version: o.Version}
}

// Reader reads substates.
type Reader interface {
	// GetSubstate returns ErrNotFound if the substate doesn't exist.
	GetSubstate(id substate.ID) (*Output, error)
}

// Store is the abstract get/put ledger.
// Implementations must be safe for concurrent use.
type Store interface {
	Reader

	// PutSubstate stores the output as given, version included.
	PutSubstate(id substate.ID, out Output) error
}

// Iterable is implemented by stores that can enumerate their contents.
type Iterable interface {
	// Iterate calls fn for each substate in ledger key order.
	// Returning an error from fn stops iteration.
	Iterate(fn func(id substate.ID, out *Output) error) error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	substates map[substate.ID]Output
	closed    bool
}

var (
	_ Store    = (*MemoryStore)(nil)
	_ Iterable = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		substates: make(map[substate.ID]Output),
	}
}

// GetSubstate retrieves a substate.
func (m *MemoryStore) GetSubstate(id substate.ID) (*Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out, ok := m.substates[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := out.Clone()
	return &clone, nil
}

// PutSubstate stores a substate.
func (m *MemoryStore) PutSubstate(id substate.ID, out Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.substates[id] = out.Clone()
	return nil
}

// Len returns the number of stored substates.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.substates)
}

// Iterate visits every substate in ledger key order.
func (m *MemoryStore) Iterate(fn func(id substate.ID, out *Output) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	ids := make([]substate.ID, 0, len(m.substates))
	for id := range m.substates {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sortIDs(ids)
	for _, id := range ids {
		out, err := m.GetSubstate(id)
		if err != nil {
			return err
		}
		if err := fn(id, out); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.substates = nil
	return nil
}
