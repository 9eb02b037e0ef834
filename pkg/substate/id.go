package substate

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/mr-tron/base58"
)

// ErrInvalidID is returned when a substate id cannot be decoded.
var ErrInvalidID = errors.New("invalid substate id")

// ModuleID selects a module of a node.
type ModuleID uint8

// Node modules.
const (
	ModuleSelf ModuleID = iota
	ModuleTypeInfo
	ModuleMetadata
	ModuleRoyalty
)

func (m ModuleID) String() string {
	switch m {
	case ModuleSelf:
		return "Self"
	case ModuleTypeInfo:
		return "TypeInfo"
	case ModuleMetadata:
		return "Metadata"
	case ModuleRoyalty:
		return "Royalty"
	default:
		return fmt.Sprintf("Module(%d)", uint8(m))
	}
}

// OffsetKind selects a field within a node module.
type OffsetKind uint8

// Substate offsets.
const (
	OffsetTypeInfo OffsetKind = iota
	OffsetComponentState
	OffsetVaultLiquid
	OffsetResourceManager
	OffsetPackageCode
	OffsetRoyaltyAccumulator
	OffsetKeyValueEntry
	OffsetNonFungibleEntry
)

var offsetNames = [...]string{
	OffsetTypeInfo:           "TypeInfo",
	OffsetComponentState:     "ComponentState",
	OffsetVaultLiquid:        "VaultLiquid",
	OffsetResourceManager:    "ResourceManager",
	OffsetPackageCode:        "PackageCode",
	OffsetRoyaltyAccumulator: "RoyaltyAccumulator",
	OffsetKeyValueEntry:      "KeyValueEntry",
	OffsetNonFungibleEntry:   "NonFungibleEntry",
}

func (o OffsetKind) String() string {
	if int(o) < len(offsetNames) {
		return offsetNames[o]
	}
	return fmt.Sprintf("Offset(%d)", uint8(o))
}

// IsKeyed returns true for offsets that address collection entries.
func (o OffsetKind) IsKeyed() bool {
	return o == OffsetKeyValueEntry || o == OffsetNonFungibleEntry
}

// ID identifies one versioned substate slot.
// IDs are comparable and used directly as map keys.
type ID struct {
	Node   types.NodeID
	Module ModuleID
	Offset OffsetKind
	Key    string
}

// idHeaderSize is node id + module + offset.
const idHeaderSize = types.NodeIDSize + 2

// Bytes returns the ledger key for the id.
// Format: node (30) + module (1) + offset (1) + key.
func (id ID) Bytes() []byte {
	buf := make([]byte, idHeaderSize+len(id.Key))
	copy(buf, id.Node[:])
	buf[types.NodeIDSize] = byte(id.Module)
	buf[types.NodeIDSize+1] = byte(id.Offset)
	copy(buf[idHeaderSize:], id.Key)
	return buf
}

// String returns the base58 form of Bytes.
func (id ID) String() string {
	return base58.Encode(id.Bytes())
}

// IDFromBytes decodes a ledger key.
func IDFromBytes(b []byte) (ID, error) {
	if len(b) < idHeaderSize {
		return ID{}, fmt.Errorf("%w: %d bytes", ErrInvalidID, len(b))
	}
	var id ID
	copy(id.Node[:], b[:types.NodeIDSize])
	id.Module = ModuleID(b[types.NodeIDSize])
	id.Offset = OffsetKind(b[types.NodeIDSize+1])
	id.Key = string(b[idHeaderSize:])
	return id, nil
}

// ParseID decodes the base58 form produced by String.
func ParseID(s string) (ID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return IDFromBytes(b)
}

// VaultID returns the liquid substate id of a vault node.
func VaultID(vault types.NodeID) ID {
	return ID{Node: vault, Module: ModuleSelf, Offset: OffsetVaultLiquid}
}

// TypeInfoID returns the type info substate id of a node.
func TypeInfoID(node types.NodeID) ID {
	return ID{Node: node, Module: ModuleTypeInfo, Offset: OffsetTypeInfo}
}

// RoyaltyAccumulatorID returns the royalty accumulator id of a package or component.
func RoyaltyAccumulatorID(node types.NodeID) ID {
	return ID{Node: node, Module: ModuleRoyalty, Offset: OffsetRoyaltyAccumulator}
}

// EntryID synthesizes the id of a key-value store or non-fungible store entry.
func EntryID(parent types.NodeID, offset OffsetKind, key []byte) ID {
	return ID{Node: parent, Module: ModuleSelf, Offset: offset, Key: string(key)}
}
