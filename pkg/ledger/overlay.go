package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/google/btree"
)

const overlayTreeDegree = 16

type overlayEntry struct {
	key []byte
	id  substate.ID
	out Output
}

func overlayLess(a, b overlayEntry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Overlay stages writes on top of a base Store.
//
// Reads see staged writes first and fall through to the base. Nothing reaches
// the base until Commit, which applies staged writes in ledger key order.
// Rollback discards them. Overlay itself implements Store, so overlays can be
// stacked.
type Overlay struct {
	base    Store
	mu      sync.RWMutex
	pending *btree.BTreeG[overlayEntry]
}

var _ Store = (*Overlay)(nil)

// NewOverlay creates an empty overlay over base.
func NewOverlay(base Store) *Overlay {
	return &Overlay{
		base:    base,
		pending: btree.NewG(overlayTreeDegree, overlayLess),
	}
}

// Base returns the store the overlay commits into.
func (o *Overlay) Base() Store {
	return o.base
}

// GetSubstate returns the staged output if any, otherwise the base output.
func (o *Overlay) GetSubstate(id substate.ID) (*Output, error) {
	o.mu.RLock()
	entry, ok := o.pending.Get(overlayEntry{key: id.Bytes()})
	o.mu.RUnlock()
	if ok {
		out := entry.out.Clone()
		return &out, nil
	}
	return o.base.GetSubstate(id)
}

// PutSubstate stages a write.
func (o *Overlay) PutSubstate(id substate.ID, out Output) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending.ReplaceOrInsert(overlayEntry{key: id.Bytes(), id: id, out: out.Clone()})
	return nil
}

// Staged reports whether id has a pending write.
func (o *Overlay) Staged(id substate.ID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pending.Has(overlayEntry{key: id.Bytes()})
}

// Len returns the number of staged writes.
func (o *Overlay) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pending.Len()
}

// Ascend visits staged writes in ledger key order until fn returns false.
func (o *Overlay) Ascend(fn func(id substate.ID, out Output) bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	o.pending.Ascend(func(e overlayEntry) bool {
		return fn(e.id, e.out.Clone())
	})
}

// Commit applies staged writes to the base and clears the overlay.
// On a base failure the entries not yet applied stay staged.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var commitErr error
	var applied []overlayEntry
	o.pending.Ascend(func(e overlayEntry) bool {
		if err := o.base.PutSubstate(e.id, e.out); err != nil {
			commitErr = fmt.Errorf("commit %s: %w", e.id, err)
			return false
		}
		applied = append(applied, e)
		return true
	})
	for _, e := range applied {
		o.pending.Delete(e)
	}
	return commitErr
}

// Rollback discards every staged write.
func (o *Overlay) Rollback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending.Clear(false)
}

// Iterate visits the merged view of base and staged writes in ledger key
// order. The base must implement Iterable.
func (o *Overlay) Iterate(fn func(id substate.ID, out *Output) error) error {
	iter, ok := o.base.(Iterable)
	if !ok {
		return errors.New("overlay base is not iterable")
	}
	merged := NewMemoryStore()
	if err := iter.Iterate(func(id substate.ID, out *Output) error {
		return merged.PutSubstate(id, *out)
	}); err != nil {
		return err
	}
	var putErr error
	o.Ascend(func(id substate.ID, out Output) bool {
		putErr = merged.PutSubstate(id, out)
		return putErr == nil
	})
	if putErr != nil {
		return putErr
	}
	return merged.Iterate(fn)
}
