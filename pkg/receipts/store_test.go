package receipts

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/fee"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/fortiblox/X1-Engine/pkg/track"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openStore(t *testing.T, cfg Config) *BoltStore {
	t.Helper()
	s, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "receipts.db"))
	cfg.PruneInterval = 0
	return cfg
}

func txHash(i int) types.Hash {
	return types.ComputeHash([]byte{byte(i), byte(i >> 8)})
}

func commitReceipt() *track.Receipt {
	vault := types.NewNodeID(types.EntityVault, []byte("fee"))
	component := types.NewNodeID(types.EntityComponent, []byte("new"))
	id := substate.VaultID(vault)
	return &track.Receipt{
		FeeSummary: &fee.Summary{
			CostUnitLimit:          1000,
			CostUnitPrice:          types.MustParseDecimal("1"),
			TotalCostUnitsConsumed: 5,
			TotalExecutionCostXRD:  types.MustParseDecimal("5"),
			Payments: []fee.Payment{
				{Source: vault, Amount: types.MustParseDecimal("10")},
				{Source: vault, Amount: types.MustParseDecimal("2"), Contingent: true},
			},
			VaultPayments:      map[types.NodeID]types.Decimal{vault: types.MustParseDecimal("5")},
			ExecutionBreakdown: map[fee.CostingReason]uint32{fee.Invoke: 5, fee.DropNode: 0},
		},
		Logs: []track.Log{{Level: track.LevelInfo, Message: "hi"}},
		Result: &track.CommitResult{
			Outcome:       track.Outcome{Outputs: [][]byte{[]byte("ok")}},
			FeeCollected:  types.MustParseDecimal("5"),
			EntityChanges: track.EntityChanges{NewComponents: []types.NodeID{component}},
			StateDiff: &track.StateDiff{
				Up:   []track.UpSubstate{{ID: id, Version: 1, Hash: txHash(9)}},
				Down: []track.DownSubstate{{ID: id, Version: 0, Hash: txHash(8)}},
				Root: txHash(7),
			},
		},
	}
}

func TestFromReceipt(t *testing.T) {
	rec := FromReceipt(txHash(1), commitReceipt())

	require.Equal(t, "commit_success", rec.Outcome)
	require.Empty(t, rec.Error)
	require.Equal(t, "5", rec.FeeCollected.String())
	require.Equal(t, map[string]uint32{"Invoke": 5}, rec.Breakdown)
	require.Len(t, rec.Payments, 2)
	require.Equal(t, "5", rec.Payments[0].Collected.String())
	require.True(t, rec.Payments[1].Collected.IsZero())
	require.True(t, rec.Payments[1].Contingent)
	require.Equal(t, []LogRecord{{Level: "INFO", Message: "hi"}}, rec.Logs)
	require.Len(t, rec.NewComponents, 1)
	require.Equal(t, txHash(7), rec.StateRoot)

	ids, err := rec.UpIDs()
	require.NoError(t, err)
	require.Equal(t, []substate.ID{substate.VaultID(types.NewNodeID(types.EntityVault, []byte("fee")))}, ids)

	reject := FromReceipt(txHash(2), &track.Receipt{
		FeeSummary: &fee.Summary{},
		Result:     &track.RejectResult{Reason: errors.New("no fee")},
	})
	require.Equal(t, "reject", reject.Outcome)
	require.Equal(t, "no fee", reject.Error)

	abort := FromReceipt(txHash(3), &track.Receipt{
		FeeSummary: &fee.Summary{},
		Result:     &track.AbortResult{Reason: fee.AbortReasonConfiguredAbortTriggeredOnFeeLoanRepayment},
	})
	require.Equal(t, "abort", abort.Outcome)
	require.Equal(t, string(fee.AbortReasonConfiguredAbortTriggeredOnFeeLoanRepayment), abort.Error)
}

func TestPutGet(t *testing.T) {
	s := openStore(t, testConfig(t))

	rec := FromReceipt(txHash(1), commitReceipt())
	require.NoError(t, s.Put(rec))
	require.Equal(t, uint64(1), s.Count())

	got, err := s.Get(txHash(1))
	require.NoError(t, err)
	require.Equal(t, rec.Sequence, got.Sequence)
	require.Equal(t, rec.Outcome, got.Outcome)
	require.Equal(t, rec.Up, got.Up)
	require.Equal(t, "5", got.FeeCollected.String())
	require.Equal(t, rec.Payments[0].Vault, got.Payments[0].Vault)

	_, err = s.Get(txHash(2))
	require.ErrorIs(t, err, ErrNotFound)

	// replacing keeps one record per hash
	require.NoError(t, s.Put(FromReceipt(txHash(1), commitReceipt())))
	require.Equal(t, uint64(1), s.Count())
	latest, err := s.Latest(10)
	require.NoError(t, err)
	require.Len(t, latest, 1)
}

func TestLargeRecordCompressed(t *testing.T) {
	s := openStore(t, testConfig(t))

	r := commitReceipt()
	r.Result.(*track.CommitResult).Outcome.Outputs = [][]byte{bytes.Repeat([]byte("x"), 8192)}
	rec := FromReceipt(txHash(1), r)

	data, err := encodeRecord(rec)
	require.NoError(t, err)
	require.Equal(t, flagZstd, data[0])
	require.Less(t, len(data), 8192)

	require.NoError(t, s.Put(rec))
	got, err := s.Get(txHash(1))
	require.NoError(t, err)
	require.Equal(t, rec.Outputs, got.Outputs)
}

func TestDecodeCorrupted(t *testing.T) {
	for _, data := range [][]byte{nil, {0x07, 1}, {flagPlain, 1, 2, 3}, {flagZstd, 1, 2, 3}} {
		_, err := decodeRecord(data)
		require.ErrorIs(t, err, ErrCorrupted)
	}
}

func TestLatestAndPrune(t *testing.T) {
	s := openStore(t, testConfig(t))
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(FromReceipt(txHash(i), commitReceipt())))
	}

	latest, err := s.Latest(2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, txHash(4), latest[0].TxHash)
	require.Equal(t, txHash(3), latest[1].TxHash)

	pruned, err := s.Prune(3)
	require.NoError(t, err)
	require.Equal(t, uint64(2), pruned)
	require.Equal(t, uint64(3), s.Count())

	_, err = s.Get(txHash(0))
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(txHash(4))
	require.NoError(t, err)

	pruned, err = s.Prune(3)
	require.NoError(t, err)
	require.Zero(t, pruned)
}

func TestReopenKeepsCount(t *testing.T) {
	cfg := testConfig(t)
	s, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(FromReceipt(txHash(1), commitReceipt())))
	require.NoError(t, s.Put(FromReceipt(txHash(2), commitReceipt())))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(txHash(1))
	require.ErrorIs(t, err, ErrClosed)

	s = openStore(t, cfg)
	require.Equal(t, uint64(2), s.Count())
}

func TestBackgroundPruning(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetainReceipts = 1
	cfg.PruneInterval = 10 * time.Millisecond
	s := openStore(t, cfg)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(FromReceipt(txHash(i), commitReceipt())))
	}
	require.Eventually(t, func() bool { return s.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Close())
}
