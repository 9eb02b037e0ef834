package ledger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/stretchr/testify/require"
)

func snapshotSource(t *testing.T) *MemoryStore {
	t.Helper()
	src := NewMemoryStore()
	for n := byte(1); n <= 20; n++ {
		id, out := testVault(n, uint64(n)*10)
		require.NoError(t, src.PutSubstate(id, out))
	}
	bigID := substate.ID{Node: types.NewNodeID(types.EntityComponent, []byte("big")), Offset: substate.OffsetComponentState}
	require.NoError(t, src.PutSubstate(bigID, Output{
		Substate: &substate.ComponentState{Data: bytes.Repeat([]byte("state"), 500)},
		Version:  3,
	}))
	return src
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := snapshotSource(t)
	path := filepath.Join(t.TempDir(), "snapshots", "ledger.snap")

	header, err := CreateSnapshot(src, path)
	require.NoError(t, err)
	require.Equal(t, uint64(21), header.Count)
	require.NotEqual(t, types.Hash{}, header.Root)

	dst := NewMemoryStore()
	loaded, err := LoadSnapshot(dst, path)
	require.NoError(t, err)
	require.Equal(t, header, loaded)
	require.Equal(t, src.Len(), dst.Len())

	require.NoError(t, src.Iterate(func(id substate.ID, out *Output) error {
		got, err := dst.GetSubstate(id)
		require.NoError(t, err)
		require.Equal(t, out.Version, got.Version)
		require.Equal(t, out.Substate, got.Substate)
		return nil
	}))
}

func TestSnapshotEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.snap")
	header, err := CreateSnapshot(NewMemoryStore(), path)
	require.NoError(t, err)
	require.Zero(t, header.Count)

	loaded, err := LoadSnapshot(NewMemoryStore(), path)
	require.NoError(t, err)
	require.Zero(t, loaded.Count)
}

func TestSnapshotRootMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.snap")
	_, err := CreateSnapshot(snapshotSource(t), path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(snapshotMagic)+12] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = LoadSnapshot(NewMemoryStore(), path)
	require.ErrorIs(t, err, ErrSnapshotMismatch)
}

func TestOpenSnapshotErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenSnapshot(filepath.Join(dir, "missing.snap"))
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	bad := filepath.Join(dir, "bad.snap")
	require.NoError(t, os.WriteFile(bad, []byte("not a snapshot at all, just some bytes padding it out"), 0o644))
	_, err = OpenSnapshot(bad)
	require.ErrorIs(t, err, ErrCorrupted)
}
