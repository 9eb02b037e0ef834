package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/fee"
	"github.com/fortiblox/X1-Engine/pkg/metrics"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/fortiblox/X1-Engine/pkg/track"
)

// SystemAPI is the metered view of a track handed to an invocation.
// Every call charges its fee table cost before touching the track.
type SystemAPI struct {
	ctx     context.Context
	track   *track.Track
	table   *fee.Table
	metrics *metrics.Engine

	changes []track.ResourceChange
}

func newSystemAPI(ctx context.Context, tr *track.Track, m *metrics.Engine) *SystemAPI {
	return &SystemAPI{ctx: ctx, track: tr, table: tr.FeeTable(), metrics: m}
}

// consume charges execution units, failing early once the context is done.
func (a *SystemAPI) consume(units uint32, reason fee.CostingReason) error {
	if err := a.ctx.Err(); err != nil {
		return err
	}
	if err := a.track.FeeReserve().ConsumeExecution(units, reason); err != nil {
		return fmt.Errorf("%s: %w", reason, err)
	}
	return nil
}

// Invoke charges a call with an encoded input of inputSize bytes.
func (a *SystemAPI) Invoke(inputSize int) error {
	return a.consume(a.table.InvokeCost(inputSize), fee.Invoke)
}

// RunNative charges the base cost of a native function.
func (a *SystemAPI) RunNative() error {
	return a.consume(a.table.RunNativeBase, fee.RunNative)
}

// RunWasm charges wasm engine units converted to cost units.
func (a *SystemAPI) RunWasm(wasmUnits uint64) error {
	return a.consume(a.table.WasmCost(wasmUnits), fee.RunWasm)
}

// LockSubstate acquires a lock on id.
func (a *SystemAPI) LockSubstate(id substate.ID, flags track.LockFlags) error {
	if err := a.consume(a.table.LockSubstate, fee.LockSubstate); err != nil {
		return err
	}
	err := a.track.AcquireLock(id, flags)
	if errors.Is(err, track.ErrNotAvailable) {
		a.metrics.IncLockConflicts()
	}
	return err
}

// DropLock releases a lock taken with LockSubstate.
func (a *SystemAPI) DropLock(id substate.ID, writeThrough bool) error {
	if err := a.consume(a.table.DropLock, fee.DropLock); err != nil {
		return err
	}
	return a.track.ReleaseLock(id, writeThrough)
}

// ReadSubstate returns a copy of a locked substate.
func (a *SystemAPI) ReadSubstate(id substate.ID) (substate.Substate, error) {
	if err := a.consume(a.table.ReadSubstate, fee.ReadSubstate); err != nil {
		return nil, err
	}
	c, err := a.track.BorrowSubstate(id)
	if err != nil {
		return nil, err
	}
	raw, err := c.Raw()
	if err != nil {
		return nil, err
	}
	return raw.Clone(), nil
}

// WriteSubstate replaces a write-locked substate.
func (a *SystemAPI) WriteSubstate(id substate.ID, s substate.Substate) error {
	if err := a.consume(a.table.WriteSubstate, fee.WriteSubstate); err != nil {
		return err
	}
	return a.track.WriteSubstate(id, s)
}

// ReadKeyValue reads a key-value or non-fungible store entry.
func (a *SystemAPI) ReadKeyValue(parent types.NodeID, offset substate.OffsetKind, key []byte) (substate.Substate, error) {
	if err := a.consume(a.table.ReadSubstate, fee.ReadSubstate); err != nil {
		return nil, err
	}
	return a.track.ReadKeyValue(parent, offset, key)
}

// SetKeyValue writes a key-value or non-fungible store entry.
func (a *SystemAPI) SetKeyValue(parent types.NodeID, offset substate.OffsetKind, key []byte, value substate.Substate) error {
	if err := a.consume(a.table.WriteSubstate, fee.WriteSubstate); err != nil {
		return err
	}
	return a.track.SetKeyValue(parent, offset, key, value)
}

// Field is one substate of a node being created.
type Field struct {
	Module   substate.ModuleID
	Offset   substate.OffsetKind
	Substate substate.Substate
}

// CreateNode allocates a node id of the given entity type and records its
// type info and fields.
func (a *SystemAPI) CreateNode(entity types.EntityType, info *substate.TypeInfo, fields ...Field) (types.NodeID, error) {
	if err := a.consume(a.table.CreateNode, fee.CreateNode); err != nil {
		return types.NodeID{}, err
	}
	node := a.track.AllocateNodeID(entity)
	if err := a.track.CreateSubstate(substate.TypeInfoID(node), info); err != nil {
		return types.NodeID{}, err
	}
	for _, f := range fields {
		id := substate.ID{Node: node, Module: f.Module, Offset: f.Offset}
		if err := a.track.CreateSubstate(id, f.Substate); err != nil {
			return types.NodeID{}, err
		}
	}
	return node, nil
}

// ChargeRoyalty charges royalty units owed to the package or component
// node. The recipient is the vault named by the node's royalty accumulator.
func (a *SystemAPI) ChargeRoyalty(node types.NodeID, units uint32) error {
	if units == 0 {
		return nil
	}
	id := substate.RoyaltyAccumulatorID(node)
	if err := a.LockSubstate(id, 0); err != nil {
		return err
	}
	s, err := a.ReadSubstate(id)
	if err != nil {
		return err
	}
	if err := a.DropLock(id, false); err != nil {
		return err
	}
	acc, ok := s.(*substate.RoyaltyAccumulator)
	if !ok {
		return fmt.Errorf("%w: %s holds %s", track.ErrKindMismatch, id, s.Kind())
	}
	return a.track.FeeReserve().ConsumeRoyalty(units, acc.Vault)
}

// vaultOp runs fn against the resource object of a write-locked vault and
// releases the lock afterwards. Both lock costs are charged up front so the
// release cannot run out of cost units after fn has moved funds.
func (a *SystemAPI) vaultOp(vault types.NodeID, flags track.LockFlags, fn func(*substate.VaultObject) error) error {
	id := substate.VaultID(vault)
	if err := a.LockSubstate(id, flags|track.Mutable); err != nil {
		return err
	}
	writeThrough := flags.Has(track.WriteThrough)

	err := a.consume(a.table.DropLock, fee.DropLock)
	if err == nil {
		var c *substate.Cache
		if c, err = a.track.BorrowSubstateMut(id); err == nil {
			var obj *substate.VaultObject
			if obj, err = c.ConvertToNode(); err == nil {
				err = fn(obj)
			}
			// Hand the vault back as a raw substate unless a sub-lock pins it.
			if err == nil && !obj.IsLocked() {
				_, err = c.ConvertToSubstate()
			}
		}
	}
	if releaseErr := a.track.ReleaseLock(id, writeThrough); err == nil {
		err = releaseErr
	}
	return err
}

// LockFee withdraws amount of XRD from vault and locks it as a fee payment.
// The vault is accessed write-through so the withdrawal survives a failed
// transaction. A contingent fee is only collected if the transaction
// succeeds.
func (a *SystemAPI) LockFee(component, vault types.NodeID, amount types.Decimal, contingent bool) error {
	err := a.vaultOp(vault, track.WriteThrough, func(obj *substate.VaultObject) error {
		if obj.Resource() != types.XRDResourceAddr {
			return fmt.Errorf("%w: vault %s holds %s", ErrNotXRD, vault, obj.Resource())
		}
		if err := obj.Take(amount); err != nil {
			return err
		}
		return a.track.FeeReserve().LockFee(vault, amount, contingent)
	})
	if err != nil {
		return fmt.Errorf("lock fee: %w", err)
	}
	a.recordChange(component, vault, types.XRDResourceAddr, amount, true)
	return nil
}

// Withdraw takes amount from a fungible vault.
func (a *SystemAPI) Withdraw(component, vault types.NodeID, amount types.Decimal) error {
	var resource types.NodeID
	err := a.vaultOp(vault, 0, func(obj *substate.VaultObject) error {
		resource = obj.Resource()
		return obj.Take(amount)
	})
	if err != nil {
		return err
	}
	a.recordChange(component, vault, resource, amount, true)
	return nil
}

// Deposit puts amount into a fungible vault.
func (a *SystemAPI) Deposit(component, vault types.NodeID, amount types.Decimal) error {
	var resource types.NodeID
	err := a.vaultOp(vault, 0, func(obj *substate.VaultObject) error {
		resource = obj.Resource()
		return obj.Put(amount)
	})
	if err != nil {
		return err
	}
	a.recordChange(component, vault, resource, amount, false)
	return nil
}

func (a *SystemAPI) recordChange(component, vault, resource types.NodeID, amount types.Decimal, withdraw bool) {
	if amount.IsZero() {
		return
	}
	a.changes = append(a.changes, track.ResourceChange{
		Component: component,
		Vault:     vault,
		Resource:  resource,
		Amount:    amount,
		Withdraw:  withdraw,
	})
}

// Log records an application log.
func (a *SystemAPI) Log(level track.LogLevel, message string) {
	a.track.AddLog(level, message)
}
