// Package substate defines the passive substate values stored in the ledger,
// the ids that address them and the cache that promotes vaults into mutable
// resource objects while they are borrowed.
package substate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/fortiblox/X1-Engine/internal/types"
)

var (
	// ErrUnknownKind is returned when decoding a substate of an unknown kind.
	ErrUnknownKind = errors.New("unknown substate kind")

	// ErrInvalidData is returned when substate bytes are malformed.
	ErrInvalidData = errors.New("invalid substate data")
)

// Kind tags the concrete type of a substate.
type Kind uint8

// Substate kinds.
const (
	KindTypeInfo Kind = iota + 1
	KindComponentState
	KindVault
	KindResourceManager
	KindPackageCode
	KindRoyaltyAccumulator
	KindKeyValueEntry
	KindNonFungible
)

func (k Kind) String() string {
	switch k {
	case KindTypeInfo:
		return "TypeInfo"
	case KindComponentState:
		return "ComponentState"
	case KindVault:
		return "Vault"
	case KindResourceManager:
		return "ResourceManager"
	case KindPackageCode:
		return "PackageCode"
	case KindRoyaltyAccumulator:
		return "RoyaltyAccumulator"
	case KindKeyValueEntry:
		return "KeyValueEntry"
	case KindNonFungible:
		return "NonFungible"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Substate is a passive value stored at an ID.
type Substate interface {
	Kind() Kind
	Clone() Substate
}

// TypeInfo records the blueprint a node was instantiated from.
type TypeInfo struct {
	Package   types.NodeID
	Blueprint string
	Global    bool
}

// ComponentState holds the encoded state of a component.
type ComponentState struct {
	Data []byte
}

// Vault holds a quantity of one resource.
// Non-fungible vaults carry their ids in sorted order and Amount equals len(IDs).
type Vault struct {
	Resource types.NodeID
	Fungible bool
	Amount   types.Decimal
	IDs      []string
}

// canonicalize puts a non-fungible vault in the form a resource object
// snapshots to: ids sorted without duplicates and Amount equal to their count.
func (s *Vault) canonicalize() {
	if s.Fungible {
		return
	}
	sort.Strings(s.IDs)
	ids := s.IDs[:0]
	for i, id := range s.IDs {
		if i == 0 || id != s.IDs[i-1] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		ids = nil
	}
	s.IDs = ids
	s.Amount = types.NewDecimal(uint64(len(ids)))
}

// ResourceManager describes a resource.
type ResourceManager struct {
	Fungible     bool
	Divisibility uint8
	TotalSupply  types.Decimal
}

// PackageCode holds package code.
type PackageCode struct {
	Code []byte
}

// RoyaltyAccumulator points to the vault that receives royalties for a
// package or component.
type RoyaltyAccumulator struct {
	Vault types.NodeID
}

// KeyValueEntry is one entry of a key-value store.
// Present is false for an absent entry.
type KeyValueEntry struct {
	Present bool
	Value   []byte
}

// NonFungible is one entry of a non-fungible store.
// Present is false for an absent entry.
type NonFungible struct {
	Present bool
	Data    []byte
}

func (*TypeInfo) Kind() Kind           { return KindTypeInfo }
func (*ComponentState) Kind() Kind     { return KindComponentState }
func (*Vault) Kind() Kind              { return KindVault }
func (*ResourceManager) Kind() Kind    { return KindResourceManager }
func (*PackageCode) Kind() Kind        { return KindPackageCode }
func (*RoyaltyAccumulator) Kind() Kind { return KindRoyaltyAccumulator }
func (*KeyValueEntry) Kind() Kind      { return KindKeyValueEntry }
func (*NonFungible) Kind() Kind        { return KindNonFungible }

func (s *TypeInfo) Clone() Substate { c := *s; return &c }

func (s *ComponentState) Clone() Substate {
	return &ComponentState{Data: cloneBytes(s.Data)}
}

func (s *Vault) Clone() Substate {
	c := *s
	c.IDs = append([]string(nil), s.IDs...)
	return &c
}

func (s *ResourceManager) Clone() Substate { c := *s; return &c }

func (s *PackageCode) Clone() Substate {
	return &PackageCode{Code: cloneBytes(s.Code)}
}

func (s *RoyaltyAccumulator) Clone() Substate { c := *s; return &c }

func (s *KeyValueEntry) Clone() Substate {
	return &KeyValueEntry{Present: s.Present, Value: cloneBytes(s.Value)}
}

func (s *NonFungible) Clone() Substate {
	return &NonFungible{Present: s.Present, Data: cloneBytes(s.Data)}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// AbsentEntry returns the absent sentinel for a keyed offset.
func AbsentEntry(offset OffsetKind) Substate {
	if offset == OffsetNonFungibleEntry {
		return &NonFungible{}
	}
	return &KeyValueEntry{}
}

// newOfKind returns an empty substate of the given kind for decoding.
func newOfKind(k Kind) (Substate, error) {
	switch k {
	case KindTypeInfo:
		return &TypeInfo{}, nil
	case KindComponentState:
		return &ComponentState{}, nil
	case KindVault:
		return &Vault{}, nil
	case KindResourceManager:
		return &ResourceManager{}, nil
	case KindPackageCode:
		return &PackageCode{}, nil
	case KindRoyaltyAccumulator:
		return &RoyaltyAccumulator{}, nil
	case KindKeyValueEntry:
		return &KeyValueEntry{}, nil
	case KindNonFungible:
		return &NonFungible{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
}

// envelope is the tagged encoding of a substate.
type envelope struct {
	Kind uint8
	Body []byte
}

// Encode serializes a substate with its kind tag.
func Encode(s Substate) ([]byte, error) {
	body, err := rlp.EncodeToBytes(s)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.Kind(), err)
	}
	return rlp.EncodeToBytes(envelope{Kind: uint8(s.Kind()), Body: body})
}

// Decode deserializes a substate produced by Encode.
func Decode(data []byte) (Substate, error) {
	var env envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	s, err := newOfKind(Kind(env.Kind))
	if err != nil {
		return nil, err
	}
	if err := rlp.DecodeBytes(env.Body, s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidData, s.Kind(), err)
	}
	if v, ok := s.(*Vault); ok {
		v.canonicalize()
	}
	return s, nil
}
