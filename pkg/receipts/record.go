package receipts

import (
	"bytes"
	"sort"
	"time"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/fee"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/fortiblox/X1-Engine/pkg/track"
)

// Record is the archived form of a receipt. Errors are flattened to strings.
type Record struct {
	TxHash   types.Hash
	Sequence uint64
	Time     int64

	Outcome string
	Error   string

	// Fee summary.
	CostUnitLimit     uint32
	CostUnitPrice     types.Decimal
	TipPercentage     uint16
	CostUnitsConsumed uint32
	ExecutionCost     types.Decimal
	RoyaltyCost       types.Decimal
	BadDebt           types.Decimal
	FeeCollected      types.Decimal
	Payments          []PaymentRecord
	Breakdown         map[string]uint32

	Logs    []LogRecord
	Outputs [][]byte

	// Commit only.
	StateRoot       types.Hash
	Up              []SubstateRecord
	Down            []SubstateRecord
	NewComponents   []types.NodeID
	NewResources    []types.NodeID
	NewPackages     []types.NodeID
	ResourceChanges []track.ResourceChange
}

// PaymentRecord is one fee payment and what was collected from it.
type PaymentRecord struct {
	Vault      types.NodeID
	Locked     types.Decimal
	Collected  types.Decimal
	Contingent bool
}

// LogRecord is an application log.
type LogRecord struct {
	Level   string
	Message string
}

// SubstateRecord is one up or down substate of a state diff.
type SubstateRecord struct {
	ID      string
	Version uint32
	Hash    types.Hash
}

// FromReceipt flattens a receipt into a record.
func FromReceipt(txHash types.Hash, r *track.Receipt) *Record {
	rec := &Record{
		TxHash:  txHash,
		Time:    time.Now().Unix(),
		Outcome: r.OutcomeName(),
	}
	if s := r.FeeSummary; s != nil {
		rec.CostUnitLimit = s.CostUnitLimit
		rec.CostUnitPrice = s.CostUnitPrice
		rec.TipPercentage = s.TipPercentage
		rec.CostUnitsConsumed = s.TotalCostUnitsConsumed
		rec.ExecutionCost = s.TotalExecutionCostXRD
		rec.RoyaltyCost = s.TotalRoyaltyCostXRD
		rec.BadDebt = s.BadDebtXRD
		rec.Payments = paymentRecords(s)
		rec.Breakdown = breakdown(s)
	}
	for _, l := range r.Logs {
		rec.Logs = append(rec.Logs, LogRecord{Level: l.Level.String(), Message: l.Message})
	}

	switch res := r.Result.(type) {
	case *track.CommitResult:
		if res.Outcome.Err != nil {
			rec.Error = res.Outcome.Err.Error()
		}
		rec.Outputs = res.Outcome.Outputs
		rec.FeeCollected = res.FeeCollected
		rec.NewComponents = res.EntityChanges.NewComponents
		rec.NewResources = res.EntityChanges.NewResources
		rec.NewPackages = res.EntityChanges.NewPackages
		rec.ResourceChanges = res.ResourceChanges
		if d := res.StateDiff; d != nil {
			rec.StateRoot = d.Root
			for _, u := range d.Up {
				rec.Up = append(rec.Up, SubstateRecord{ID: u.ID.String(), Version: u.Version, Hash: u.Hash})
			}
			for _, dn := range d.Down {
				rec.Down = append(rec.Down, SubstateRecord{ID: dn.ID.String(), Version: dn.Version, Hash: dn.Hash})
			}
		}
	case *track.RejectResult:
		rec.Error = res.Reason.Error()
	case *track.AbortResult:
		rec.Error = string(res.Reason)
	}
	return rec
}

func paymentRecords(s *fee.Summary) []PaymentRecord {
	out := make([]PaymentRecord, 0, len(s.Payments))
	for _, p := range s.Payments {
		out = append(out, PaymentRecord{Vault: p.Source, Locked: p.Amount, Contingent: p.Contingent})
	}
	// Collected amounts are per vault, so they land on the vault's first payment.
	seen := make(map[types.NodeID]bool)
	for i := range out {
		v := out[i].Vault
		if seen[v] {
			continue
		}
		seen[v] = true
		out[i].Collected = s.VaultPayments[v]
	}
	return out
}

func breakdown(s *fee.Summary) map[string]uint32 {
	out := make(map[string]uint32)
	for reason, units := range s.ExecutionBreakdown {
		if units != 0 {
			out[reason.String()] = units
		}
	}
	return out
}

// UpIDs returns the decoded ids of the up substates in key order.
func (r *Record) UpIDs() ([]substate.ID, error) {
	ids := make([]substate.ID, 0, len(r.Up))
	for _, u := range r.Up {
		id, err := substate.ParseID(u.ID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i].Bytes(), ids[j].Bytes()) < 0
	})
	return ids, nil
}
