// Package types defines the core identifier and hash types for the X1 engine.
//
// Node ids follow the engine convention of a leading entity-type byte followed by
// an opaque body. All text forms use base58.
package types

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// Size constants for core types.
const (
	NodeIDSize = 30
	HashSize   = 32
)

var (
	// ErrInvalidNodeID is returned when a node id has invalid length.
	ErrInvalidNodeID = errors.New("invalid node id: must be 30 bytes")

	// ErrInvalidHash is returned when a hash has invalid length.
	ErrInvalidHash = errors.New("invalid hash: must be 32 bytes")
)

// NodeID identifies a node (component, vault, store, package...) in the ledger.
// The first byte is the EntityType.
type NodeID [NodeIDSize]byte

// NewNodeID builds a node id of the given entity type from a body.
// The body is truncated or zero padded to fit.
func NewNodeID(entity EntityType, body []byte) NodeID {
	var id NodeID
	id[0] = byte(entity)
	copy(id[1:], body)
	return id
}

// DeriveNodeID deterministically derives a node id from a transaction hash and
// an allocation index.
func DeriveNodeID(entity EntityType, txHash Hash, index uint32) NodeID {
	var buf [HashSize + 4]byte
	copy(buf[:], txHash[:])
	binary.BigEndian.PutUint32(buf[HashSize:], index)
	sum := blake3.Sum256(buf[:])
	return NewNodeID(entity, sum[:NodeIDSize-1])
}

// NodeIDFromBase58 parses a base58-encoded node id.
func NodeIDFromBase58(s string) (NodeID, error) {
	var id NodeID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	return NodeIDFromBytes(data)
}

// NodeIDFromBytes creates a NodeID from a byte slice.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != NodeIDSize {
		return id, ErrInvalidNodeID
	}
	copy(id[:], b)
	return id, nil
}

// EntityType returns the entity type encoded in the first byte.
func (id NodeID) EntityType() EntityType {
	return EntityType(id[0])
}

// String returns the base58-encoded representation.
func (id NodeID) String() string {
	return base58.Encode(id[:])
}

// IsZero returns true if the node id is all zeros.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// Bytes returns the node id as a byte slice.
func (id NodeID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := NodeIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Hash represents a 32-byte hash.
type Hash [HashSize]byte

// HashFromBase58 parses a base58-encoded hash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	data, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("base58 decode: %w", err)
	}
	return HashFromBytes(data)
}

// HashFromHex parses a hex-encoded hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	data, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hex decode: %w", err)
	}
	return HashFromBytes(data)
}

// HashFromBytes creates a Hash from a byte slice.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], b)
	return h, nil
}

// ComputeHash computes the BLAKE3-256 hash of data.
func ComputeHash(data []byte) Hash {
	return blake3.Sum256(data)
}

// String returns the base58-encoded representation.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// Hex returns the hex-encoded representation.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromBase58(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
