package fee

import (
	"github.com/fortiblox/X1-Engine/internal/types"
)

// Summary is the final report of a Reserve.
type Summary struct {
	CostUnitLimit          uint32
	CostUnitPrice          types.Decimal
	TipPercentage          uint16
	TotalCostUnitsConsumed uint32

	// TotalExecutionCostXRD is execution units at the tipped price.
	TotalExecutionCostXRD types.Decimal

	// TotalRoyaltyCostXRD is royalty units at the plain price.
	TotalRoyaltyCostXRD types.Decimal

	// BadDebtXRD is loan debt left unpaid.
	BadDebtXRD types.Decimal

	// Payments lists locked fees in lock order.
	Payments []Payment

	// VaultPayments is the amount actually collected per source vault.
	// It is filled in when a transaction commits.
	VaultPayments map[types.NodeID]types.Decimal

	ExecutionBreakdown map[CostingReason]uint32
	RoyaltyBreakdown   map[types.NodeID]uint32
}

// LoanFullyRepaid reports whether the summary carries no bad debt.
func (s *Summary) LoanFullyRepaid() bool {
	return s.BadDebtXRD.IsZero()
}

// RevertRoyalty clears the royalty charges from the summary.
func (s *Summary) RevertRoyalty() {
	s.TotalRoyaltyCostXRD = types.ZeroDecimal
	s.RoyaltyBreakdown = map[types.NodeID]uint32{}
}

// RequiredXRD is the amount to collect from payments: execution plus
// royalty cost less bad debt.
func (s *Summary) RequiredXRD() types.Decimal {
	total, err := s.TotalExecutionCostXRD.CheckedAdd(s.TotalRoyaltyCostXRD)
	if err != nil {
		return types.ZeroDecimal
	}
	required, err := total.CheckedSub(s.BadDebtXRD)
	if err != nil {
		return types.ZeroDecimal
	}
	return required
}
