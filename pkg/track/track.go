// Package track implements the transaction-scoped substate track.
//
// A Track sits between the invocation layer and the durable ledger. Reads go
// through an ephemeral overlay; borrowed substates are held in a lock table
// keyed by substate id. Releasing the last lock on a changed substate stages
// it into the overlay and evicts it, unless it was created by the transaction
// or a vault sub-lock pins it. Finalize flushes what is still resident into
// the overlay and commits it, or discards both. The only other path into the
// durable ledger is the write-through release used for fee vaults, which
// loads from the durable ledger and refuses ids with a staged change.
//
// Lock protocol:
//
//	AcquireLock(id, flags)   load if absent, then Read(n)->Read(n+1) or Read(0)->Write
//	BorrowSubstate[Mut](id)  access the cached value under the held lock
//	ReleaseLock(id, wt)      Write->Read(0) or Read(n)->Read(n-1); once free, stage (or with wt, persist) and evict
//
// A Track belongs to one transaction and is not safe for concurrent use.
package track

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/fee"
	"github.com/fortiblox/X1-Engine/pkg/ledger"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"go.uber.org/zap"
)

// borrowed is one entry of the lock table.
type borrowed struct {
	cache   *substate.Cache
	lock    LockState
	version uint32

	// isNew marks substates created by this transaction.
	isNew bool

	// dirty marks substates that were write-locked or written.
	dirty bool
}

// Track is the state manager of one transaction.
type Track struct {
	durable *diffRecorder
	overlay *ledger.Overlay

	reserve *fee.Reserve
	table   *fee.Table

	borrows map[substate.ID]*borrowed
	created []substate.ID

	txHash    types.Hash
	nextIndex uint32
	logs      []Log

	finalized bool
	logger    *zap.Logger
}

// Option configures a Track.
type Option func(*Track)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Track) { t.logger = l }
}

// WithTxHash sets the transaction hash used to derive new node ids.
func WithTxHash(h types.Hash) Option {
	return func(t *Track) { t.txHash = h }
}

// New creates a track over the durable ledger.
func New(durable ledger.Store, reserve *fee.Reserve, table *fee.Table, opts ...Option) *Track {
	recorder := newDiffRecorder(durable)
	t := &Track{
		durable: recorder,
		overlay: ledger.NewOverlay(recorder),
		reserve: reserve,
		table:   table,
		borrows: make(map[substate.ID]*borrowed),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FeeReserve returns the track's fee reserve.
func (t *Track) FeeReserve() *fee.Reserve { return t.reserve }

// FeeTable returns the track's fee table.
func (t *Track) FeeTable() *fee.Table { return t.table }

// TxHash returns the transaction hash.
func (t *Track) TxHash() types.Hash { return t.txHash }

// LockState returns the lock state of a resident substate.
func (t *Track) LockState(id substate.ID) (LockState, bool) {
	b, ok := t.borrows[id]
	if !ok {
		return LockState{}, false
	}
	return b.lock, true
}

// load reads a substate from the overlay, or from the durable ledger when
// bypassing the overlay. Absent keyed entries load as their absent sentinel.
func (t *Track) load(id substate.ID, bypassOverlay bool) (*borrowed, error) {
	var (
		out *ledger.Output
		err error
	)
	if bypassOverlay {
		out, err = t.durable.GetSubstate(id)
	} else {
		out, err = t.overlay.GetSubstate(id)
	}
	switch {
	case err == nil:
		return &borrowed{cache: substate.NewCache(out.Substate), version: out.Version}, nil
	case errors.Is(err, ledger.ErrNotFound) && id.Offset.IsKeyed():
		return &borrowed{cache: substate.NewCache(substate.AbsentEntry(id.Offset))}, nil
	case errors.Is(err, ledger.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	default:
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
}

// AcquireLock locks a substate, loading it first if it is not resident.
func (t *Track) AcquireLock(id substate.ID, flags LockFlags) error {
	if t.finalized {
		return ErrFinalized
	}

	b, resident := t.borrows[id]
	if flags.Has(WriteThrough) && (resident || t.overlay.Staged(id)) {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, id)
	}
	if !resident {
		loaded, err := t.load(id, flags.Has(WriteThrough))
		if err != nil {
			return err
		}
		b = loaded
	}

	next, ok := b.lock.acquire(flags.Has(Mutable))
	if !ok {
		t.logger.Debug("lock conflict",
			zap.Stringer("substate", id),
			zap.Stringer("state", b.lock),
			zap.Bool("mutable", flags.Has(Mutable)))
		return fmt.Errorf("%w: %s is %s", ErrNotAvailable, id, b.lock)
	}
	b.lock = next
	t.borrows[id] = b
	return nil
}

// ReleaseLock releases a lock. Once the substate is free a changed value is
// staged into the overlay, or with writeThrough set persisted straight into
// the durable ledger, and evicted from the lock table.
func (t *Track) ReleaseLock(id substate.ID, writeThrough bool) error {
	if t.finalized {
		return ErrFinalized
	}

	b, ok := t.borrows[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLocked, id)
	}
	if b.lock.IsWrite() {
		b.dirty = true
	}
	next, ok := b.lock.release()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLocked, id)
	}
	b.lock = next

	if !b.lock.IsFree() {
		return nil
	}
	if !writeThrough {
		return t.stage(id, b)
	}

	s, err := b.cache.ConvertToSubstate()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNodeToSubstateFailure, id, err)
	}
	if err := t.durable.PutSubstate(id, ledger.Output{Substate: s.Clone()}); err != nil {
		return fmt.Errorf("write through %s: %w", id, err)
	}
	delete(t.borrows, id)
	return nil
}

// stage moves a free, changed borrow into the overlay and evicts it. New
// substates and vaults pinned by a sub-lock stay resident until Finalize.
func (t *Track) stage(id substate.ID, b *borrowed) error {
	if !b.dirty || b.isNew {
		return nil
	}
	if obj, ok := b.cache.Node(); ok && obj.IsLocked() {
		return nil
	}
	s, err := b.cache.ConvertToSubstate()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNodeToSubstateFailure, id, err)
	}
	if err := t.overlay.PutSubstate(id, ledger.Output{Substate: s}); err != nil {
		return fmt.Errorf("stage %s: %w", id, err)
	}
	delete(t.borrows, id)
	return nil
}

// BorrowSubstate returns the cache of a locked substate.
func (t *Track) BorrowSubstate(id substate.ID) (*substate.Cache, error) {
	if t.finalized {
		return nil, ErrFinalized
	}
	b, ok := t.borrows[id]
	if !ok || b.lock.IsFree() {
		return nil, fmt.Errorf("%w: %s", ErrNotLocked, id)
	}
	return b.cache, nil
}

// BorrowSubstateMut returns the cache of a write-locked substate.
func (t *Track) BorrowSubstateMut(id substate.ID) (*substate.Cache, error) {
	if t.finalized {
		return nil, ErrFinalized
	}
	b, ok := t.borrows[id]
	if !ok || !b.lock.IsWrite() {
		return nil, fmt.Errorf("%w: %s: write lock required", ErrNotLocked, id)
	}
	b.dirty = true
	return b.cache, nil
}

// WriteSubstate replaces the value of a write-locked substate.
func (t *Track) WriteSubstate(id substate.ID, s substate.Substate) error {
	c, err := t.BorrowSubstateMut(id)
	if err != nil {
		return err
	}
	return c.Set(s)
}

// keyedBorrow returns the lock table entry of a collection entry, loading it
// unlocked if needed.
func (t *Track) keyedBorrow(parent types.NodeID, offset substate.OffsetKind, key []byte) (substate.ID, *borrowed, error) {
	if !offset.IsKeyed() {
		return substate.ID{}, nil, fmt.Errorf("%w: %s is not a keyed offset", ErrKindMismatch, offset)
	}
	id := substate.EntryID(parent, offset, key)
	if b, ok := t.borrows[id]; ok {
		return id, b, nil
	}
	b, err := t.load(id, false)
	if err != nil {
		return id, nil, err
	}
	t.borrows[id] = b
	return id, b, nil
}

// ReadKeyValue returns an entry of a key-value or non-fungible store.
// Missing entries read as the absent sentinel.
func (t *Track) ReadKeyValue(parent types.NodeID, offset substate.OffsetKind, key []byte) (substate.Substate, error) {
	if t.finalized {
		return nil, ErrFinalized
	}
	_, b, err := t.keyedBorrow(parent, offset, key)
	if err != nil {
		return nil, err
	}
	raw, err := b.cache.Raw()
	if err != nil {
		return nil, err
	}
	return raw.Clone(), nil
}

// SetKeyValue writes an entry of a key-value or non-fungible store.
func (t *Track) SetKeyValue(parent types.NodeID, offset substate.OffsetKind, key []byte, value substate.Substate) error {
	if t.finalized {
		return ErrFinalized
	}
	if value.Kind() != substate.AbsentEntry(offset).Kind() {
		return fmt.Errorf("%w: %s entry cannot hold %s", ErrKindMismatch, offset, value.Kind())
	}
	id, b, err := t.keyedBorrow(parent, offset, key)
	if err != nil {
		return err
	}
	if !b.lock.IsFree() {
		return fmt.Errorf("%w: %s is %s", ErrNotAvailable, id, b.lock)
	}
	if err := b.cache.Set(value.Clone()); err != nil {
		return err
	}
	b.dirty = true
	return nil
}

// CreateSubstate records a new substate. It becomes durable only if the
// transaction commits successfully.
func (t *Track) CreateSubstate(id substate.ID, s substate.Substate) error {
	if t.finalized {
		return ErrFinalized
	}
	if _, ok := t.borrows[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	_, err := t.overlay.GetSubstate(id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	case !errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("load %s: %w", id, err)
	}
	t.borrows[id] = &borrowed{cache: substate.NewCache(s), isNew: true, dirty: true}
	t.created = append(t.created, id)
	return nil
}

// AllocateNodeID derives a fresh node id from the transaction hash.
func (t *Track) AllocateNodeID(entity types.EntityType) types.NodeID {
	id := types.DeriveNodeID(entity, t.txHash, t.nextIndex)
	t.nextIndex++
	return id
}

// AddLog records an application log for the receipt.
func (t *Track) AddLog(level LogLevel, message string) {
	t.logs = append(t.logs, Log{Level: level, Message: message})
}

// ApplyPreExecutionCosts charges the base fee and the payload and signature
// costs of tx as deferred costs. On failure the track is finalized and the
// error carries the fee summary.
func (t *Track) ApplyPreExecutionCosts(tx Transaction) (*Track, error) {
	if t.finalized {
		return nil, ErrFinalized
	}
	charges := []struct {
		units      uint32
		multiplier int
		reason     fee.CostingReason
	}{
		{t.table.TxBaseFee, 1, fee.TxBaseCost},
		{t.table.TxManifestDecodingPerByte, tx.ManifestSize, fee.TxPayloadCost},
		{t.table.TxManifestVerifyPerByte, tx.ManifestSize, fee.TxPayloadCost},
		{t.table.TxSignatureVerification, tx.SignatureCount, fee.TxSignatureVerification},
		{t.table.TxBlobPricePerByte, tx.BlobsSize, fee.TxPayloadCost},
	}
	for _, c := range charges {
		if err := t.reserve.ConsumeDeferred(c.units, c.multiplier, c.reason); err != nil {
			t.finalized = true
			return nil, &PreExecutionError{Summary: t.reserve.Finalize(), Err: err}
		}
	}
	return t, nil
}

// sortedBorrows returns the resident ids in ledger key order.
func (t *Track) sortedBorrows() []substate.ID {
	ids := make([]substate.ID, 0, len(t.borrows))
	for id := range t.borrows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	return ids
}
