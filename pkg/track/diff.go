package track

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/ledger"
	"github.com/fortiblox/X1-Engine/pkg/substate"
)

// UpSubstate is a substate version written by the transaction.
type UpSubstate struct {
	ID      substate.ID
	Version uint32
	Hash    types.Hash
}

// DownSubstate is a substate version replaced by the transaction.
type DownSubstate struct {
	ID      substate.ID
	Version uint32
	Hash    types.Hash
}

// StateDiff lists the durable writes of a transaction in ledger key order.
// Root is the Merkle root of the up hashes.
type StateDiff struct {
	Up   []UpSubstate
	Down []DownSubstate
	Root types.Hash
}

// diffRecorder wraps the durable ledger. Every durable write goes through it:
// it assigns the next version and records the up and down substates.
type diffRecorder struct {
	inner ledger.Store
	up    map[substate.ID]UpSubstate
	down  map[substate.ID]DownSubstate
}

var _ ledger.Store = (*diffRecorder)(nil)

func newDiffRecorder(inner ledger.Store) *diffRecorder {
	return &diffRecorder{
		inner: inner,
		up:    make(map[substate.ID]UpSubstate),
		down:  make(map[substate.ID]DownSubstate),
	}
}

func (r *diffRecorder) GetSubstate(id substate.ID) (*ledger.Output, error) {
	return r.inner.GetSubstate(id)
}

// PutSubstate ignores out.Version and writes the next version of id.
func (r *diffRecorder) PutSubstate(id substate.ID, out ledger.Output) error {
	prev, err := r.inner.GetSubstate(id)
	switch {
	case err == nil:
		out.Version = prev.Version + 1
		if _, written := r.up[id]; !written {
			h, err := ledger.HashSubstate(prev.Substate)
			if err != nil {
				return fmt.Errorf("hash %s: %w", id, err)
			}
			r.down[id] = DownSubstate{ID: id, Version: prev.Version, Hash: h}
		}
	case errors.Is(err, ledger.ErrNotFound):
		out.Version = 0
	default:
		return err
	}

	h, err := ledger.HashSubstate(out.Substate)
	if err != nil {
		return fmt.Errorf("hash %s: %w", id, err)
	}
	if err := r.inner.PutSubstate(id, out); err != nil {
		return err
	}
	r.up[id] = UpSubstate{ID: id, Version: out.Version, Hash: h}
	return nil
}

func (r *diffRecorder) diff() *StateDiff {
	d := &StateDiff{}
	for _, u := range r.up {
		d.Up = append(d.Up, u)
	}
	for _, dn := range r.down {
		d.Down = append(d.Down, dn)
	}
	sort.Slice(d.Up, func(i, j int) bool { return lessID(d.Up[i].ID, d.Up[j].ID) })
	sort.Slice(d.Down, func(i, j int) bool { return lessID(d.Down[i].ID, d.Down[j].ID) })

	hashes := make([]types.Hash, len(d.Up))
	for i, u := range d.Up {
		hashes[i] = u.Hash
	}
	d.Root = ledger.ComputeMerkleRoot(hashes)
	return d
}

func lessID(a, b substate.ID) bool {
	return bytes.Compare(a.Bytes(), b.Bytes()) < 0
}
