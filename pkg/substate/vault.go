package substate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fortiblox/X1-Engine/internal/types"
)

var (
	// ErrInsufficientLiquid is returned when taking more than the unlocked amount.
	ErrInsufficientLiquid = errors.New("insufficient liquid resource")

	// ErrUnknownLock is returned when unlocking a lock that is not outstanding.
	ErrUnknownLock = errors.New("unknown vault lock")

	// ErrFungibilityMismatch is returned for amount operations on a non-fungible
	// vault and id operations on a fungible one.
	ErrFungibilityMismatch = errors.New("fungibility mismatch")
)

// LockID identifies an outstanding lock inside a VaultObject.
type LockID uint32

// VaultObject is the mutable form of a vault while it is borrowed.
// Amounts or ids can be locked (for proofs and fee locks); locked parts
// cannot be taken and the object cannot be persisted until every lock is
// released.
type VaultObject struct {
	resource types.NodeID
	fungible bool
	amount   types.Decimal
	ids      map[string]struct{}

	amountLocks map[LockID]types.Decimal
	idLocks     map[LockID][]string
	nextLock    LockID
}

func newVaultObject(v *Vault) *VaultObject {
	obj := &VaultObject{
		resource:    v.Resource,
		fungible:    v.Fungible,
		amount:      v.Amount,
		amountLocks: make(map[LockID]types.Decimal),
		idLocks:     make(map[LockID][]string),
	}
	if !v.Fungible {
		obj.ids = make(map[string]struct{}, len(v.IDs))
		for _, id := range v.IDs {
			obj.ids[id] = struct{}{}
		}
		obj.amount = types.NewDecimal(uint64(len(obj.ids)))
	}
	return obj
}

// Resource returns the resource held by the vault.
func (v *VaultObject) Resource() types.NodeID { return v.resource }

// Fungible reports whether the vault holds a fungible resource.
func (v *VaultObject) Fungible() bool { return v.fungible }

// Amount returns the total amount, locked or not.
func (v *VaultObject) Amount() types.Decimal { return v.amount }

// IsLocked returns true if any amount or id lock is outstanding.
func (v *VaultObject) IsLocked() bool {
	return len(v.amountLocks) > 0 || len(v.idLocks) > 0
}

// lockedAmount is the largest outstanding amount lock. Locks overlap, so the
// largest one bounds what is unavailable.
func (v *VaultObject) lockedAmount() types.Decimal {
	var max types.Decimal
	for _, a := range v.amountLocks {
		if max.LessThan(a) {
			max = a
		}
	}
	return max
}

// LiquidAmount returns the amount that can be taken.
func (v *VaultObject) LiquidAmount() types.Decimal {
	liquid, err := v.amount.CheckedSub(v.lockedAmount())
	if err != nil {
		return types.ZeroDecimal
	}
	return liquid
}

// LockAmount locks an amount of a fungible vault.
func (v *VaultObject) LockAmount(amount types.Decimal) (LockID, error) {
	if !v.fungible {
		return 0, ErrFungibilityMismatch
	}
	if v.amount.LessThan(amount) {
		return 0, fmt.Errorf("%w: lock %s of %s", ErrInsufficientLiquid, amount, v.amount)
	}
	v.nextLock++
	v.amountLocks[v.nextLock] = amount
	return v.nextLock, nil
}

// LockIDs locks ids of a non-fungible vault.
func (v *VaultObject) LockIDs(ids []string) (LockID, error) {
	if v.fungible {
		return 0, ErrFungibilityMismatch
	}
	for _, id := range ids {
		if _, ok := v.ids[id]; !ok {
			return 0, fmt.Errorf("%w: id %q not in vault", ErrInsufficientLiquid, id)
		}
	}
	v.nextLock++
	v.idLocks[v.nextLock] = append([]string(nil), ids...)
	return v.nextLock, nil
}

// Unlock releases a lock returned by LockAmount or LockIDs.
func (v *VaultObject) Unlock(lock LockID) error {
	if _, ok := v.amountLocks[lock]; ok {
		delete(v.amountLocks, lock)
		return nil
	}
	if _, ok := v.idLocks[lock]; ok {
		delete(v.idLocks, lock)
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnknownLock, lock)
}

// Take removes an amount from the liquid part of a fungible vault.
func (v *VaultObject) Take(amount types.Decimal) error {
	if !v.fungible {
		return ErrFungibilityMismatch
	}
	if v.LiquidAmount().LessThan(amount) {
		return fmt.Errorf("%w: take %s, liquid %s", ErrInsufficientLiquid, amount, v.LiquidAmount())
	}
	rest, err := v.amount.CheckedSub(amount)
	if err != nil {
		return err
	}
	v.amount = rest
	return nil
}

// Put adds an amount to a fungible vault.
func (v *VaultObject) Put(amount types.Decimal) error {
	if !v.fungible {
		return ErrFungibilityMismatch
	}
	sum, err := v.amount.CheckedAdd(amount)
	if err != nil {
		return err
	}
	v.amount = sum
	return nil
}

func (v *VaultObject) idLocked(id string) bool {
	for _, ids := range v.idLocks {
		for _, locked := range ids {
			if locked == id {
				return true
			}
		}
	}
	return false
}

// TakeIDs removes unlocked ids from a non-fungible vault.
func (v *VaultObject) TakeIDs(ids []string) error {
	if v.fungible {
		return ErrFungibilityMismatch
	}
	for _, id := range ids {
		if _, ok := v.ids[id]; !ok || v.idLocked(id) {
			return fmt.Errorf("%w: id %q", ErrInsufficientLiquid, id)
		}
	}
	for _, id := range ids {
		delete(v.ids, id)
	}
	v.amount = types.NewDecimal(uint64(len(v.ids)))
	return nil
}

// PutIDs adds ids to a non-fungible vault.
func (v *VaultObject) PutIDs(ids []string) error {
	if v.fungible {
		return ErrFungibilityMismatch
	}
	for _, id := range ids {
		v.ids[id] = struct{}{}
	}
	v.amount = types.NewDecimal(uint64(len(v.ids)))
	return nil
}

// toSubstate snapshots the object as a passive vault.
func (v *VaultObject) toSubstate() *Vault {
	out := &Vault{
		Resource: v.resource,
		Fungible: v.fungible,
		Amount:   v.amount,
	}
	if !v.fungible {
		for id := range v.ids {
			out.IDs = append(out.IDs, id)
		}
		sort.Strings(out.IDs)
	}
	return out
}
