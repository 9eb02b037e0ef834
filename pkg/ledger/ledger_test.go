package ledger

import (
	"bytes"
	"testing"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/stretchr/testify/require"
)

func testVault(n byte, amount uint64) (substate.ID, Output) {
	id := substate.VaultID(types.NewNodeID(types.EntityVault, []byte{n}))
	return id, Output{
		Substate: &substate.Vault{Resource: types.XRDResourceAddr, Fungible: true, Amount: types.NewDecimal(amount)},
		Version:  uint32(n),
	}
}

func vaultAmount(t *testing.T, out *Output) string {
	t.Helper()
	v, ok := out.Substate.(*substate.Vault)
	require.True(t, ok, "expected vault, got %T", out.Substate)
	return v.Amount.String()
}

// exerciseStore runs the common Store contract against a backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	id, out := testVault(1, 100)
	_, err := s.GetSubstate(id)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutSubstate(id, out))
	got, err := s.GetSubstate(id)
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.Version)
	require.Equal(t, "100", vaultAmount(t, got))

	// Returned values are copies.
	got.Substate.(*substate.Vault).Amount = types.NewDecimal(1)
	again, err := s.GetSubstate(id)
	require.NoError(t, err)
	require.Equal(t, "100", vaultAmount(t, again))

	// Large values take the compressed path in persistent backends.
	bigID := substate.ID{Node: types.NewNodeID(types.EntityComponent, []byte("big")), Offset: substate.OffsetComponentState}
	big := Output{Substate: &substate.ComponentState{Data: bytes.Repeat([]byte("state"), 500)}}
	require.NoError(t, s.PutSubstate(bigID, big))
	gotBig, err := s.GetSubstate(bigID)
	require.NoError(t, err)
	require.Equal(t, big.Substate, gotBig.Substate)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	require.Equal(t, 2, s.Len())

	require.NoError(t, s.Close())
	_, err := s.GetSubstate(substate.ID{})
	require.ErrorIs(t, err, ErrClosed)
}

func TestBadgerStore(t *testing.T) {
	cfg := DefaultBadgerConfig("")
	cfg.InMemory = true
	cfg.SyncWrites = false
	s, err := NewBadgerStore(cfg)
	require.NoError(t, err)

	exerciseStore(t, s)
	require.Equal(t, uint64(2), s.Count())

	var seen int
	require.NoError(t, s.Iterate(func(id substate.ID, out *Output) error {
		seen++
		return nil
	}))
	require.Equal(t, 2, seen)

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Close(), ErrClosed)
}

func TestLevelDBStore(t *testing.T) {
	s, err := NewLevelDBStore(t.TempDir(), false)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestCachedStore(t *testing.T) {
	inner := NewMemoryStore()
	s, err := NewCachedStore(inner, 8)
	require.NoError(t, err)
	exerciseStore(t, s)

	// A write through the cache is visible in the inner store.
	id, out := testVault(3, 7)
	require.NoError(t, s.PutSubstate(id, out))
	got, err := inner.GetSubstate(id)
	require.NoError(t, err)
	require.Equal(t, "7", vaultAmount(t, got))
}

func TestCodecRejectsCorruptValues(t *testing.T) {
	_, err := decodeOutput(nil)
	require.ErrorIs(t, err, ErrCorrupted)
	_, err = decodeOutput([]byte{0x07, 0x01})
	require.ErrorIs(t, err, ErrCorrupted)
	_, err = decodeOutput([]byte{flagZstd, 0x01, 0x02})
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestOverlayCommitAndRollback(t *testing.T) {
	base := NewMemoryStore()
	idA, outA := testVault(1, 10)
	require.NoError(t, base.PutSubstate(idA, outA))

	o := NewOverlay(base)
	idB, outB := testVault(2, 20)
	require.NoError(t, o.PutSubstate(idB, outB))
	require.True(t, o.Staged(idB))

	// Falls through to base, staged writes not visible in base.
	got, err := o.GetSubstate(idA)
	require.NoError(t, err)
	require.Equal(t, "10", vaultAmount(t, got))
	_, err = base.GetSubstate(idB)
	require.ErrorIs(t, err, ErrNotFound)

	o.Rollback()
	require.Equal(t, 0, o.Len())
	_, err = o.GetSubstate(idB)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, o.PutSubstate(idB, outB))
	require.NoError(t, o.Commit())
	require.Equal(t, 0, o.Len())
	got, err = base.GetSubstate(idB)
	require.NoError(t, err)
	require.Equal(t, "20", vaultAmount(t, got))
}

func TestOverlayAscendOrder(t *testing.T) {
	o := NewOverlay(NewMemoryStore())
	for _, n := range []byte{5, 1, 3} {
		id, out := testVault(n, uint64(n))
		require.NoError(t, o.PutSubstate(id, out))
	}
	var versions []uint32
	o.Ascend(func(id substate.ID, out Output) bool {
		versions = append(versions, out.Version)
		return true
	})
	require.Equal(t, []uint32{1, 3, 5}, versions)

	var merged int
	require.NoError(t, o.Iterate(func(id substate.ID, out *Output) error {
		merged++
		return nil
	}))
	require.Equal(t, 3, merged)
}

func TestComputeMerkleRoot(t *testing.T) {
	require.Equal(t, types.Hash{}, ComputeMerkleRoot(nil))

	h1, err := HashSubstate(&substate.KeyValueEntry{Present: true, Value: []byte("a")})
	require.NoError(t, err)
	h2, err := HashSubstate(&substate.KeyValueEntry{Present: true, Value: []byte("b")})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	root := ComputeMerkleRoot([]types.Hash{h1, h2})
	require.Equal(t, root, ComputeMerkleRoot([]types.Hash{h1, h2}))
	require.NotEqual(t, root, ComputeMerkleRoot([]types.Hash{h2, h1}))
	require.NotEqual(t, root, ComputeMerkleRoot([]types.Hash{h1, h2, h1}))
}
