package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/klauspost/compress/zstd"
)

// Value encoding flags.
const (
	flagPlain byte = 0x00
	flagZstd  byte = 0x01
)

// compressThreshold is the encoded size above which values are compressed.
const compressThreshold = 512

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
)

// storedOutput is the on-disk form of an Output.
type storedOutput struct {
	Version uint32
	Body    []byte
}

// encodeOutput serializes an output for a persistent backend.
// Format: flag (1) + rlp(version, substate), zstd compressed when large.
func encodeOutput(out Output) ([]byte, error) {
	body, err := substate.Encode(out.Substate)
	if err != nil {
		return nil, err
	}
	data, err := rlp.EncodeToBytes(storedOutput{Version: out.Version, Body: body})
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	if len(data) > compressThreshold {
		return append([]byte{flagZstd}, zstdEncoder.EncodeAll(data, nil)...), nil
	}
	return append([]byte{flagPlain}, data...), nil
}

// decodeOutput deserializes an output written by encodeOutput.
func decodeOutput(val []byte) (*Output, error) {
	if len(val) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrCorrupted)
	}
	data := val[1:]
	switch val[0] {
	case flagPlain:
	case flagZstd:
		var err error
		data, err = zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupted, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown flag %#x", ErrCorrupted, val[0])
	}

	var stored storedOutput
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	s, err := substate.Decode(stored.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return &Output{Substate: s, Version: stored.Version}, nil
}

// substateKey returns the backend key for a substate id.
// Key format: prefixSubstate + id bytes
func substateKey(id substate.ID) []byte {
	b := id.Bytes()
	key := make([]byte, 1+len(b))
	key[0] = prefixSubstate[0]
	copy(key[1:], b)
	return key
}

func sortIDs(ids []substate.ID) {
	sort.Slice(ids, func(i, j int) bool {
		return compareIDs(ids[i], ids[j]) < 0
	})
}

func compareIDs(a, b substate.ID) int {
	return bytes.Compare(a.Bytes(), b.Bytes())
}
