package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fortiblox/X1-Engine/internal/logging"
	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/config"
	"github.com/fortiblox/X1-Engine/pkg/executor"
	"github.com/fortiblox/X1-Engine/pkg/ledger"
	"github.com/fortiblox/X1-Engine/pkg/node"
	"github.com/fortiblox/X1-Engine/pkg/receipts"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/fortiblox/X1-Engine/pkg/track"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// writeConfig writes a leveldb-backed configuration under a temp dir.
func writeConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Ledger = config.LedgerConfig{Backend: config.BackendLevelDB, Path: filepath.Join(dir, "ledger")}
	cfg.Receipts.Path = filepath.Join(dir, "receipts.db")
	cfg.Log.Level = "error"
	path := filepath.Join(dir, "engine.toml")
	require.NoError(t, config.Write(path, cfg))
	return path, cfg
}

func nodeInvocation(component, vault types.NodeID) executor.Invocation {
	return func(ctx context.Context, api *executor.SystemAPI) ([][]byte, error) {
		if err := api.LockFee(component, vault, types.MustParseDecimal("10"), false); err != nil {
			return nil, err
		}
		return nil, api.RunNative()
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "X1-Engine "+Version)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	_, err := execute(t, "config", "init", path)
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)

	_, err = execute(t, "config", "init", path)
	require.Error(t, err)
	_, err = execute(t, "config", "init", "--force", path)
	require.NoError(t, err)
}

func TestFeeTable(t *testing.T) {
	out, err := execute(t, "fee-table", "--log-level", "error")
	require.NoError(t, err)
	require.Contains(t, out, "cost unit price")
	require.Contains(t, out, "0.0000001")
	require.Contains(t, out, "tx base fee")
}

func TestInvalidConfig(t *testing.T) {
	_, err := execute(t, "fee-table", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestSubstateReceiptAndSnapshot(t *testing.T) {
	path, cfg := writeConfig(t)
	vault := types.NewNodeID(types.EntityVault, []byte("fee"))
	component := types.NewNodeID(types.EntityComponent, []byte("component"))
	id := substate.VaultID(vault)
	txHash := types.ComputeHash([]byte("tx"))

	// Run one transaction through a node to populate the ledger and archive.
	n, err := node.New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, n.Ledger().PutSubstate(id, ledger.Output{
		Substate: &substate.Vault{Resource: types.XRDResourceAddr, Fungible: true, Amount: types.MustParseDecimal("1000")},
	}))
	require.NoError(t, n.Start(context.Background()))
	receipt, err := n.Submit(context.Background(), track.Transaction{Hash: txHash}, nodeInvocation(component, vault))
	require.NoError(t, err)
	require.Equal(t, "commit_success", receipt.OutcomeName())
	require.NoError(t, n.Stop())

	out, err := execute(t, "--config", path, "substate", id.String())
	require.NoError(t, err)
	var printed struct {
		Kind    string
		Version uint32
	}
	require.NoError(t, json.Unmarshal([]byte(out), &printed))
	require.Equal(t, "Vault", printed.Kind)
	require.Equal(t, uint32(2), printed.Version)

	out, err = execute(t, "--config", path, "receipt", txHash.String())
	require.NoError(t, err)
	var rec receipts.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	require.Equal(t, "commit_success", rec.Outcome)

	out, err = execute(t, "--config", path, "receipts", "--limit", "5")
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	snap := filepath.Join(t.TempDir(), "ledger.snap")
	_, err = execute(t, "--config", path, "snapshot", "export", snap)
	require.NoError(t, err)

	// Import into a fresh ledger.
	importPath, importCfg := writeConfig(t)
	_, err = execute(t, "--config", importPath, "snapshot", "import", snap)
	require.NoError(t, err)

	store, closer, err := node.OpenLedger(importCfg.Ledger, nil)
	require.NoError(t, err)
	defer closer.Close()
	got, err := store.GetSubstate(id)
	require.NoError(t, err)
	require.Equal(t, uint32(2), got.Version)
}

func TestRunStopsOnCancel(t *testing.T) {
	_, cfg := writeConfig(t)
	cfg.RPC.Enabled = true
	cfg.RPC.Addr = "127.0.0.1:0"

	logger, err := logging.New("error", false)
	require.NoError(t, err)
	a := &app{cfg: cfg, logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, runNode(ctx, a, "", time.Second))
}
