package substate

import (
	"testing"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/stretchr/testify/require"
)

var testVaultNode = types.NewNodeID(types.EntityVault, []byte("vault-1"))

func fungibleVault(amount uint64) *Vault {
	return &Vault{
		Resource: types.XRDResourceAddr,
		Fungible: true,
		Amount:   types.NewDecimal(amount),
	}
}

func TestIDBytesRoundTrip(t *testing.T) {
	ids := []ID{
		VaultID(testVaultNode),
		TypeInfoID(types.AccountPackageAddr),
		RoyaltyAccumulatorID(types.ResourcePackageAddr),
		EntryID(types.NewNodeID(types.EntityKeyValueStore, []byte("kv")), OffsetKeyValueEntry, []byte("some-key")),
		EntryID(types.NewNodeID(types.EntityNonFungibleStore, []byte("nf")), OffsetNonFungibleEntry, nil),
	}
	for _, id := range ids {
		decoded, err := IDFromBytes(id.Bytes())
		require.NoError(t, err)
		require.Equal(t, id, decoded)

		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	}

	_, err := IDFromBytes([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestEncodeDecode(t *testing.T) {
	values := []Substate{
		&TypeInfo{Package: types.AccountPackageAddr, Blueprint: "Account", Global: true},
		&ComponentState{Data: []byte{1, 2, 3}},
		fungibleVault(42),
		&Vault{Resource: types.XRDResourceAddr, Amount: types.NewDecimal(2), IDs: []string{"#1#", "#2#"}},
		&ResourceManager{Fungible: true, Divisibility: 18, TotalSupply: types.MustParseDecimal("1000.5")},
		&PackageCode{Code: []byte("code")},
		&RoyaltyAccumulator{Vault: testVaultNode},
		&KeyValueEntry{Present: true, Value: []byte("v")},
		&NonFungible{Present: true, Data: []byte("nft")},
	}
	for _, s := range values {
		t.Run(s.Kind().String(), func(t *testing.T) {
			enc, err := Encode(s)
			require.NoError(t, err)
			dec, err := Decode(enc)
			require.NoError(t, err)
			require.Equal(t, s.Kind(), dec.Kind())

			again, err := Encode(dec)
			require.NoError(t, err)
			require.Equal(t, enc, again)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00})
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestCacheConvertRoundTrip(t *testing.T) {
	original := fungibleVault(10)
	c := NewCache(original.Clone())

	node, err := c.ConvertToNode()
	require.NoError(t, err)
	again, err := c.ConvertToNode()
	require.NoError(t, err)
	require.Same(t, node, again)

	_, err = c.Raw()
	require.ErrorIs(t, err, ErrConverted)

	back, err := c.ConvertToSubstate()
	require.NoError(t, err)
	require.Equal(t, original, back)
	require.False(t, c.IsConverted())
}

func TestCacheConvertRoundTripNonFungible(t *testing.T) {
	canonical := &Vault{Resource: types.XRDResourceAddr, Amount: types.NewDecimal(3), IDs: []string{"#1#", "#2#", "#3#"}}
	c := NewCache(canonical.Clone())
	_, err := c.ConvertToNode()
	require.NoError(t, err)
	back, err := c.ConvertToSubstate()
	require.NoError(t, err)
	require.Equal(t, canonical, back)

	// unsorted ids and a stale amount come back canonical
	c = NewCache(&Vault{Resource: types.XRDResourceAddr, Amount: types.NewDecimal(9), IDs: []string{"#3#", "#1#", "#2#"}})
	_, err = c.ConvertToNode()
	require.NoError(t, err)
	back, err = c.ConvertToSubstate()
	require.NoError(t, err)
	require.Equal(t, canonical, back)
}

func TestDecodeCanonicalizesNonFungibleVault(t *testing.T) {
	enc, err := Encode(&Vault{Resource: types.XRDResourceAddr, Amount: types.NewDecimal(9), IDs: []string{"#3#", "#1#", "#3#", "#2#"}})
	require.NoError(t, err)
	got, err := Decode(enc)
	require.NoError(t, err)
	want := &Vault{Resource: types.XRDResourceAddr, Amount: types.NewDecimal(3), IDs: []string{"#1#", "#2#", "#3#"}}
	require.Equal(t, want, got)

	// decoded vaults survive a conversion unchanged
	c := NewCache(got.Clone())
	_, err = c.ConvertToNode()
	require.NoError(t, err)
	back, err := c.ConvertToSubstate()
	require.NoError(t, err)
	require.Equal(t, got, back)

	empty, err := Encode(&Vault{Resource: types.XRDResourceAddr, Amount: types.NewDecimal(1)})
	require.NoError(t, err)
	got, err = Decode(empty)
	require.NoError(t, err)
	require.True(t, got.(*Vault).Amount.IsZero())
	require.Nil(t, got.(*Vault).IDs)
}

func TestCacheConvertFailsWhileLocked(t *testing.T) {
	c := NewCache(fungibleVault(10))
	node, err := c.ConvertToNode()
	require.NoError(t, err)

	lock, err := node.LockAmount(types.NewDecimal(4))
	require.NoError(t, err)

	_, err = c.ConvertToSubstate()
	require.ErrorIs(t, err, ErrVaultPartiallyLocked)
	require.True(t, c.IsConverted())

	require.NoError(t, node.Unlock(lock))
	back, err := c.ConvertToSubstate()
	require.NoError(t, err)
	require.Equal(t, "10", back.(*Vault).Amount.String())
}

func TestCacheNotConvertible(t *testing.T) {
	c := NewCache(&ComponentState{Data: []byte("x")})
	_, err := c.ConvertToNode()
	require.ErrorIs(t, err, ErrNotConvertible)
	require.NoError(t, c.Set(&ComponentState{Data: []byte("y")}))
}

func TestVaultObjectLiquidity(t *testing.T) {
	c := NewCache(fungibleVault(10))
	node, err := c.ConvertToNode()
	require.NoError(t, err)

	_, err = node.LockAmount(types.NewDecimal(7))
	require.NoError(t, err)
	_, err = node.LockAmount(types.NewDecimal(3))
	require.NoError(t, err)
	require.Equal(t, "3", node.LiquidAmount().String())

	require.ErrorIs(t, node.Take(types.NewDecimal(4)), ErrInsufficientLiquid)
	require.NoError(t, node.Take(types.NewDecimal(3)))
	require.NoError(t, node.Put(types.MustParseDecimal("0.5")))
	require.Equal(t, "7.5", node.Amount().String())

	require.ErrorIs(t, node.Unlock(99), ErrUnknownLock)
	_, err = node.LockIDs([]string{"a"})
	require.ErrorIs(t, err, ErrFungibilityMismatch)
}

func TestNonFungibleVaultObject(t *testing.T) {
	c := NewCache(&Vault{Resource: types.XRDResourceAddr, Amount: types.NewDecimal(3), IDs: []string{"a", "b", "c"}})
	node, err := c.ConvertToNode()
	require.NoError(t, err)

	lock, err := node.LockIDs([]string{"a"})
	require.NoError(t, err)
	require.ErrorIs(t, node.TakeIDs([]string{"a"}), ErrInsufficientLiquid)
	require.NoError(t, node.TakeIDs([]string{"b"}))
	require.NoError(t, node.PutIDs([]string{"d"}))
	require.NoError(t, node.Unlock(lock))

	back, err := c.ConvertToSubstate()
	require.NoError(t, err)
	v := back.(*Vault)
	require.Equal(t, []string{"a", "c", "d"}, v.IDs)
	require.Equal(t, "3", v.Amount.String())
}
