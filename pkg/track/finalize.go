package track

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/fee"
	"github.com/fortiblox/X1-Engine/pkg/ledger"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"go.uber.org/zap"
)

// Finalize ends the transaction and produces its receipt.
//
// The reserve repays its loan first; failing that turns a success into a
// costing failure. A configured abort yields an AbortResult and an unrepaid
// loan a RejectResult, both without touching the ledger through the overlay.
// Otherwise the transaction commits: on success borrowed substates are
// flushed and the overlay committed, on failure everything is discarded.
// Either way fees are collected from the locked payments and the rest is
// refunded into the source vaults.
//
// The returned error is reserved for ledger failures.
func (t *Track) Finalize(result InvokeResult, changes []ResourceChange) (*Receipt, error) {
	if t.finalized {
		return nil, ErrFinalized
	}
	t.finalized = true

	invokeErr := result.Err
	if err := t.reserve.RepayAll(); err != nil && invokeErr == nil {
		invokeErr = fmt.Errorf("costing: %w", err)
	}
	if invokeErr != nil {
		t.reserve.RevertRoyaltyCharges()
	}
	summary := t.reserve.Finalize()
	receipt := &Receipt{FeeSummary: summary, Logs: t.logs}

	if reason, ok := fee.IsAbort(invokeErr); ok {
		t.discard()
		receipt.Result = &AbortResult{Reason: reason}
		t.logger.Debug("transaction aborted", zap.String("reason", string(reason)))
		return receipt, nil
	}

	if !summary.LoanFullyRepaid() {
		t.discard()
		var reason error
		switch {
		case result.Err != nil:
			reason = fmt.Errorf("%w: %w", ErrErrorBeforeFeeLoanRepaid, result.Err)
		case invokeErr != nil:
			reason = fmt.Errorf("%w: %w", ErrSuccessButFeeLoanNotRepaid, invokeErr)
		default:
			reason = ErrSuccessButFeeLoanNotRepaid
		}
		receipt.Result = &RejectResult{Reason: reason}
		t.logger.Debug("transaction rejected",
			zap.Error(reason),
			zap.Stringer("bad_debt", summary.BadDebtXRD))
		return receipt, nil
	}

	if invokeErr == nil {
		if err := t.flush(); err != nil {
			if !errors.Is(err, ErrNodeToSubstateFailure) {
				return nil, err
			}
			invokeErr = err
			summary.RevertRoyalty()
		}
	}
	success := invokeErr == nil
	if !success {
		t.discard()
	}

	collected, err := t.collectFees(summary, success)
	if err != nil {
		return nil, err
	}
	if success {
		if collected, err = t.payRoyalties(summary, collected); err != nil {
			return nil, err
		}
	}

	commit := &CommitResult{
		Outcome:         Outcome{Outputs: result.Outputs, Err: invokeErr},
		ResourceChanges: changes,
		FeeCollected:    collected,
	}
	if success {
		commit.EntityChanges = t.entityChanges()
	}
	commit.StateDiff = t.durable.diff()
	receipt.Result = commit

	t.logger.Debug("transaction committed",
		zap.Bool("success", success),
		zap.Int("up_substates", len(commit.StateDiff.Up)),
		zap.Stringer("fee_collected", collected))
	return receipt, nil
}

// discard drops every borrow and staged write.
func (t *Track) discard() {
	t.overlay.Rollback()
	t.borrows = make(map[substate.ID]*borrowed)
	t.created = nil
}

// flush converts every dirty or new borrow back to a substate, stages it
// and commits the overlay into the durable ledger.
func (t *Track) flush() error {
	for _, id := range t.sortedBorrows() {
		b := t.borrows[id]
		if !b.dirty && !b.isNew {
			continue
		}
		s, err := b.cache.ConvertToSubstate()
		if err != nil {
			t.overlay.Rollback()
			return fmt.Errorf("%w: %s: %w", ErrNodeToSubstateFailure, id, err)
		}
		if err := t.overlay.PutSubstate(id, ledger.Output{Substate: s}); err != nil {
			return err
		}
	}
	if err := t.overlay.Commit(); err != nil {
		return fmt.Errorf("commit overlay: %w", err)
	}
	t.borrows = make(map[substate.ID]*borrowed)
	return nil
}

// collectFees walks payments from the most recent lock back, takes what is
// still required and refunds the rest into the source vault.
func (t *Track) collectFees(summary *fee.Summary, success bool) (types.Decimal, error) {
	required := summary.RequiredXRD()
	collected := types.ZeroDecimal
	payments := make(map[types.NodeID]types.Decimal)

	for i := len(summary.Payments) - 1; i >= 0; i-- {
		p := summary.Payments[i]
		amount := types.MinDecimal(p.Amount, required)
		if p.Contingent && !success {
			amount = types.ZeroDecimal
		}
		required, _ = required.CheckedSub(amount)

		var err error
		if collected, err = collected.CheckedAdd(amount); err != nil {
			return types.Decimal{}, err
		}
		if refund, _ := p.Amount.CheckedSub(amount); !refund.IsZero() {
			if err := t.depositDurable(p.Source, refund); err != nil {
				return types.Decimal{}, fmt.Errorf("refund %s: %w", p.Source, err)
			}
		}
		paid, err := payments[p.Source].CheckedAdd(amount)
		if err != nil {
			return types.Decimal{}, err
		}
		payments[p.Source] = paid
	}
	summary.VaultPayments = payments
	return collected, nil
}

// payRoyalties moves royalties at the plain cost unit price from the
// collected fees into each recipient vault.
func (t *Track) payRoyalties(summary *fee.Summary, collected types.Decimal) (types.Decimal, error) {
	recipients := make([]types.NodeID, 0, len(summary.RoyaltyBreakdown))
	for r := range summary.RoyaltyBreakdown {
		recipients = append(recipients, r)
	}
	sort.Slice(recipients, func(i, j int) bool {
		return bytes.Compare(recipients[i][:], recipients[j][:]) < 0
	})

	for _, r := range recipients {
		amount, err := summary.CostUnitPrice.CheckedMulUint64(uint64(summary.RoyaltyBreakdown[r]))
		if err != nil {
			return types.Decimal{}, err
		}
		rest, err := collected.CheckedSub(amount)
		if err != nil {
			t.logger.Warn("royalty exceeds collected fees",
				zap.Stringer("recipient", r),
				zap.Stringer("royalty", amount),
				zap.Stringer("collected", collected))
			continue
		}
		if err := t.depositDurable(r, amount); err != nil {
			return types.Decimal{}, fmt.Errorf("pay royalty %s: %w", r, err)
		}
		collected = rest
	}
	return collected, nil
}

// depositDurable adds amount to a fungible vault in the durable ledger.
func (t *Track) depositDurable(vault types.NodeID, amount types.Decimal) error {
	id := substate.VaultID(vault)
	out, err := t.durable.GetSubstate(id)
	if err != nil {
		return err
	}
	v, ok := out.Substate.(*substate.Vault)
	if !ok || !v.Fungible {
		return fmt.Errorf("%w: %s is not a fungible vault", ErrKindMismatch, id)
	}
	sum, err := v.Amount.CheckedAdd(amount)
	if err != nil {
		return err
	}
	v.Amount = sum
	return t.durable.PutSubstate(id, ledger.Output{Substate: v})
}

// entityChanges classifies created type info substates of global nodes.
func (t *Track) entityChanges() EntityChanges {
	var changes EntityChanges
	for _, id := range t.created {
		if id.Module != substate.ModuleTypeInfo || id.Offset != substate.OffsetTypeInfo {
			continue
		}
		switch entity := id.Node.EntityType(); {
		case entity == types.EntityPackage:
			changes.NewPackages = append(changes.NewPackages, id.Node)
		case entity == types.EntityResourceManager:
			changes.NewResources = append(changes.NewResources, id.Node)
		case entity.IsComponent():
			changes.NewComponents = append(changes.NewComponents, id.Node)
		}
	}
	return changes
}
