package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/fee"
	"github.com/fortiblox/X1-Engine/pkg/ledger"
	"github.com/fortiblox/X1-Engine/pkg/metrics"
	"github.com/fortiblox/X1-Engine/pkg/receipts"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/fortiblox/X1-Engine/pkg/track"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var (
	vaultA    = types.NewNodeID(types.EntityVault, []byte("vault-a"))
	vaultB    = types.NewNodeID(types.EntityVault, []byte("vault-b"))
	vaultC    = types.NewNodeID(types.EntityVault, []byte("vault-c"))
	vaultR    = types.NewNodeID(types.EntityVault, []byte("vault-royalty"))
	vaultGold = types.NewNodeID(types.EntityVault, []byte("vault-gold"))
	gold      = types.NewNodeID(types.EntityResourceManager, []byte("gold"))
	component = types.NewNodeID(types.EntityComponent, []byte("component"))

	componentStateID = substate.ID{Node: component, Module: substate.ModuleSelf, Offset: substate.OffsetComponentState}
)

func dec(s string) types.Decimal { return types.MustParseDecimal(s) }

func seed(t *testing.T) *ledger.MemoryStore {
	t.Helper()
	store := ledger.NewMemoryStore()
	for id, s := range map[substate.ID]substate.Substate{
		substate.VaultID(vaultA):    &substate.Vault{Resource: types.XRDResourceAddr, Fungible: true, Amount: dec("1000")},
		substate.VaultID(vaultB):    &substate.Vault{Resource: types.XRDResourceAddr, Fungible: true, Amount: dec("100")},
		substate.VaultID(vaultC):    &substate.Vault{Resource: types.XRDResourceAddr, Fungible: true, Amount: dec("50")},
		substate.VaultID(vaultR):    &substate.Vault{Resource: types.XRDResourceAddr, Fungible: true, Amount: dec("0")},
		substate.VaultID(vaultGold): &substate.Vault{Resource: gold, Fungible: true, Amount: dec("1000")},
		substate.RoyaltyAccumulatorID(component): &substate.RoyaltyAccumulator{Vault: vaultR},
		componentStateID: &substate.ComponentState{Data: []byte("v0")},
	} {
		require.NoError(t, store.PutSubstate(id, ledger.Output{Substate: s}))
	}
	return store
}

// testConfig prices every metered call at one or a few units so that the
// fee arithmetic stays readable: a fee lock costs 2 units and finalization
// adds the 10 unit base fee.
func testConfig() Config {
	return Config{
		Fee: fee.Params{CostUnitPrice: dec("1"), CostUnitLimit: 1000, SystemLoan: 100},
		Table: &fee.Table{
			TxBaseFee:               10,
			TxSignatureVerification: 1,
			InvokeBase:              2,
			CreateNode:              5,
			LockSubstate:            1,
			ReadSubstate:            1,
			WriteSubstate:           1,
			DropLock:                1,
			RunNativeBase:           3,
			WasmUnitsDivider:        1,
		},
	}
}

func testTx(b byte) track.Transaction {
	return track.Transaction{Hash: types.ComputeHash([]byte{b})}
}

func vaultAmount(t *testing.T, store ledger.Reader, vault types.NodeID) string {
	t.Helper()
	out, err := store.GetSubstate(substate.VaultID(vault))
	require.NoError(t, err)
	return out.Substate.(*substate.Vault).Amount.String()
}

type memArchive struct {
	records []*receipts.Record
	err     error
}

func (a *memArchive) Put(rec *receipts.Record) error {
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, rec)
	return nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestExecuteCommitSuccess(t *testing.T) {
	store := seed(t)
	archive := &memArchive{}
	e := New(store, testConfig(), WithArchive(archive))

	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		if err := api.LockFee(component, vaultA, dec("100"), false); err != nil {
			return nil, err
		}
		if err := api.Invoke(0); err != nil {
			return nil, err
		}
		api.Log(track.LevelInfo, "done")
		return [][]byte{[]byte("ok")}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "commit_success", receipt.OutcomeName())

	commit := receipt.Commit()
	require.Equal(t, [][]byte{[]byte("ok")}, commit.Outcome.Outputs)
	require.Equal(t, "14", commit.FeeCollected.String())
	require.Equal(t, uint32(14), receipt.FeeSummary.TotalCostUnitsConsumed)
	require.Equal(t, "986", vaultAmount(t, store, vaultA))

	require.Len(t, commit.ResourceChanges, 1)
	require.True(t, commit.ResourceChanges[0].Withdraw)
	require.Equal(t, "100", commit.ResourceChanges[0].Amount.String())

	require.Len(t, archive.records, 1)
	require.Equal(t, testTx(1).Hash, archive.records[0].TxHash)
	require.Equal(t, []receipts.LogRecord{{Level: "INFO", Message: "done"}}, archive.records[0].Logs)
}

func TestExecuteRejectLeavesLedgerUntouched(t *testing.T) {
	store := seed(t)
	e := New(store, testConfig())

	// 5 XRD cannot repay the 14 units borrowed.
	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		if err := api.LockFee(component, vaultA, dec("5"), false); err != nil {
			return nil, err
		}
		return nil, api.Invoke(0)
	})
	require.NoError(t, err)
	require.Equal(t, "reject", receipt.OutcomeName())

	reject := receipt.Result.(*track.RejectResult)
	require.ErrorIs(t, reject.Reason, track.ErrSuccessButFeeLoanNotRepaid)
	require.ErrorIs(t, reject.Reason, fee.ErrLoanRepaymentFailed)
	require.Equal(t, "1000", vaultAmount(t, store, vaultA))
}

func TestExecuteAbortWhenLoanRepaid(t *testing.T) {
	store := seed(t)
	cfg := testConfig()
	cfg.Fee.AbortWhenLoanRepaid = true
	e := New(store, cfg)

	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		return nil, api.LockFee(component, vaultA, dec("100"), false)
	})
	require.NoError(t, err)
	require.Equal(t, "abort", receipt.OutcomeName())
	require.Equal(t, "1000", vaultAmount(t, store, vaultA))
}

func TestExecutePreExecutionReject(t *testing.T) {
	store := seed(t)
	e := New(store, testConfig())

	called := false
	tx := testTx(1)
	tx.SignatureCount = 1 << 33
	receipt, err := e.Execute(context.Background(), tx, func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, "reject", receipt.OutcomeName())

	reject := receipt.Result.(*track.RejectResult)
	require.ErrorIs(t, reject.Reason, fee.ErrOverflow)
	var pre *track.PreExecutionError
	require.ErrorAs(t, reject.Reason, &pre)
	require.Zero(t, receipt.FeeSummary.TotalCostUnitsConsumed)
}

func TestExecutePanicBecomesFailure(t *testing.T) {
	store := seed(t)
	e := New(store, testConfig())

	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		if err := api.LockFee(component, vaultA, dec("100"), false); err != nil {
			return nil, err
		}
		panic("boom")
	})
	require.NoError(t, err)
	require.Equal(t, "commit_failure", receipt.OutcomeName())

	commit := receipt.Commit()
	require.ErrorContains(t, commit.Outcome.Err, "boom")
	require.Equal(t, "12", commit.FeeCollected.String())
	require.Equal(t, "988", vaultAmount(t, store, vaultA))
}

func TestExecuteFailureDiscardsWrites(t *testing.T) {
	store := seed(t)
	e := New(store, testConfig())
	errBusiness := errors.New("business")

	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		if err := api.LockFee(component, vaultA, dec("100"), false); err != nil {
			return nil, err
		}
		if err := api.LockSubstate(componentStateID, track.Mutable); err != nil {
			return nil, err
		}
		if err := api.WriteSubstate(componentStateID, &substate.ComponentState{Data: []byte("v1")}); err != nil {
			return nil, err
		}
		if err := api.DropLock(componentStateID, false); err != nil {
			return nil, err
		}
		return nil, errBusiness
	})
	require.NoError(t, err)
	require.Equal(t, "commit_failure", receipt.OutcomeName())
	require.ErrorIs(t, receipt.Commit().Outcome.Err, errBusiness)

	out, err := store.GetSubstate(componentStateID)
	require.NoError(t, err)
	require.Equal(t, []byte("v0"), out.Substate.(*substate.ComponentState).Data)
	// 2 for the fee lock, 3 for the state write, 10 base fee
	require.Equal(t, "985", vaultAmount(t, store, vaultA))
}

func TestExecuteFeeFromNonXRDVault(t *testing.T) {
	store := seed(t)
	e := New(store, testConfig())

	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		return nil, api.LockFee(component, vaultGold, dec("100"), false)
	})
	require.NoError(t, err)
	require.Equal(t, "reject", receipt.OutcomeName())

	reject := receipt.Result.(*track.RejectResult)
	require.ErrorIs(t, reject.Reason, ErrNotXRD)
	require.ErrorIs(t, reject.Reason, track.ErrErrorBeforeFeeLoanRepaid)
	require.Equal(t, "1000", vaultAmount(t, store, vaultGold))
}

func TestExecuteRoyalty(t *testing.T) {
	store := seed(t)
	e := New(store, testConfig())

	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		if err := api.LockFee(component, vaultA, dec("100"), false); err != nil {
			return nil, err
		}
		return nil, api.ChargeRoyalty(component, 4)
	})
	require.NoError(t, err)
	require.Equal(t, "commit_success", receipt.OutcomeName())

	require.Equal(t, map[types.NodeID]uint32{vaultR: 4}, receipt.FeeSummary.RoyaltyBreakdown)
	require.Equal(t, "15", receipt.Commit().FeeCollected.String())
	require.Equal(t, "4", vaultAmount(t, store, vaultR))
	require.Equal(t, "981", vaultAmount(t, store, vaultA))
}

func TestExecuteTransfers(t *testing.T) {
	store := seed(t)
	e := New(store, testConfig())

	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		if err := api.LockFee(component, vaultA, dec("100"), false); err != nil {
			return nil, err
		}
		if err := api.Withdraw(component, vaultB, dec("10")); err != nil {
			return nil, err
		}
		return nil, api.Deposit(component, vaultC, dec("10"))
	})
	require.NoError(t, err)
	require.Equal(t, "commit_success", receipt.OutcomeName())

	changes := receipt.Commit().ResourceChanges
	require.Len(t, changes, 3)
	require.Equal(t, vaultB, changes[1].Vault)
	require.True(t, changes[1].Withdraw)
	require.Equal(t, vaultC, changes[2].Vault)
	require.False(t, changes[2].Withdraw)
	require.Equal(t, types.XRDResourceAddr, changes[2].Resource)

	require.Equal(t, "984", vaultAmount(t, store, vaultA))
	require.Equal(t, "90", vaultAmount(t, store, vaultB))
	require.Equal(t, "60", vaultAmount(t, store, vaultC))
}

func TestExecuteReadVaultAfterDeposit(t *testing.T) {
	store := seed(t)
	e := New(store, testConfig())

	var balance string
	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		if err := api.LockFee(component, vaultA, dec("100"), false); err != nil {
			return nil, err
		}
		if err := api.Deposit(component, vaultB, dec("10")); err != nil {
			return nil, err
		}
		id := substate.VaultID(vaultB)
		if err := api.LockSubstate(id, 0); err != nil {
			return nil, err
		}
		s, err := api.ReadSubstate(id)
		if err != nil {
			return nil, err
		}
		balance = s.(*substate.Vault).Amount.String()
		return nil, api.DropLock(id, false)
	})
	require.NoError(t, err)
	require.Equal(t, "commit_success", receipt.OutcomeName())
	require.Equal(t, "110", balance)
	require.Equal(t, "110", vaultAmount(t, store, vaultB))
}

func TestExecuteCreateNode(t *testing.T) {
	store := seed(t)
	e := New(store, testConfig())

	var created types.NodeID
	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		if err := api.LockFee(component, vaultA, dec("100"), false); err != nil {
			return nil, err
		}
		var err error
		created, err = api.CreateNode(types.EntityComponent,
			&substate.TypeInfo{Blueprint: "Counter", Global: true},
			Field{Module: substate.ModuleSelf, Offset: substate.OffsetComponentState, Substate: &substate.ComponentState{Data: []byte("0")}})
		return nil, err
	})
	require.NoError(t, err)
	require.Equal(t, "commit_success", receipt.OutcomeName())
	require.Equal(t, []types.NodeID{created}, receipt.Commit().EntityChanges.NewComponents)

	out, err := store.GetSubstate(substate.ID{Node: created, Module: substate.ModuleSelf, Offset: substate.OffsetComponentState})
	require.NoError(t, err)
	require.Equal(t, []byte("0"), out.Substate.(*substate.ComponentState).Data)
}

func TestExecuteLockConflictMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	e := New(seed(t), testConfig(), WithMetrics(m))

	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		if err := api.LockFee(component, vaultA, dec("100"), false); err != nil {
			return nil, err
		}
		if err := api.LockSubstate(componentStateID, 0); err != nil {
			return nil, err
		}
		return nil, api.LockSubstate(componentStateID, track.Mutable)
	})
	require.NoError(t, err)
	require.ErrorIs(t, receipt.Commit().Outcome.Err, track.ErrNotAvailable)

	require.Equal(t, float64(1), counterValue(t, reg, "x1_engine_track_lock_conflicts_total"))
	require.Equal(t, float64(1), counterValue(t, reg, "x1_engine_transactions_total"))
	require.Equal(t, float64(14), counterValue(t, reg, "x1_engine_fee_collected_xrd_total"))
}

func TestExecuteContextCancelled(t *testing.T) {
	store := seed(t)
	e := New(store, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, context.Canceled)

	// Cancellation during the invocation fails the next metered call.
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	receipt, err := e.Execute(ctx, testTx(2), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		if err := api.LockFee(component, vaultA, dec("100"), false); err != nil {
			return nil, err
		}
		cancel()
		return nil, api.RunNative()
	})
	require.NoError(t, err)
	require.ErrorIs(t, receipt.Commit().Outcome.Err, context.Canceled)
}

func TestExecuteArchiveError(t *testing.T) {
	store := seed(t)
	errArchive := errors.New("disk full")
	e := New(store, testConfig(), WithArchive(&memArchive{err: errArchive}))

	receipt, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		return nil, api.LockFee(component, vaultA, dec("100"), false)
	})
	require.ErrorIs(t, err, errArchive)
	require.NotNil(t, receipt)
	require.Equal(t, "988", vaultAmount(t, store, vaultA))
}

func TestExecuteClosed(t *testing.T) {
	e := New(seed(t), DefaultConfig())
	e.Close()
	_, err := e.Execute(context.Background(), testTx(1), func(ctx context.Context, api *SystemAPI) ([][]byte, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, ErrClosed)
}
