package ledger

import (
	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"golang.org/x/crypto/sha3"
)

// HashSubstate computes the SHA3-256 hash of a substate's encoding.
func HashSubstate(s substate.Substate) (types.Hash, error) {
	enc, err := substate.Encode(s)
	if err != nil {
		return types.Hash{}, err
	}
	return sha3.Sum256(enc), nil
}

// ComputeMerkleRoot computes the Merkle root of a list of hashes.
// Uses a binary Merkle tree with SHA3-256.
//
// Tree structure:
// - Leaf: SHA3(0x00 || hash)
// - Node: SHA3(0x01 || left || right)
// - If odd number of nodes, last node is paired with zero hash
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = leafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = nodeHash(level[i], right)
		}
		level = next
	}
	return level[0]
}

func leafHash(h types.Hash) types.Hash {
	var buf [1 + types.HashSize]byte
	copy(buf[1:], h[:])
	return sha3.Sum256(buf[:])
}

func nodeHash(left, right types.Hash) types.Hash {
	var buf [1 + 2*types.HashSize]byte
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[1+types.HashSize:], right[:])
	return sha3.Sum256(buf[:])
}
