package rpc

import (
	"encoding/base64"
	"fmt"

	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodeSubstate encodes a substate value according to the specified
// encoding. Binary encodings carry the ledger encoding of the value as a
// [data, encoding] pair.
func EncodeSubstate(s substate.Substate, encoding Encoding) (interface{}, error) {
	if encoding == EncodingJSON {
		return s, nil
	}
	data, err := substate.Encode(s)
	if err != nil {
		return nil, err
	}
	switch encoding {
	case EncodingBase58:
		return []string{base58.Encode(data), string(EncodingBase58)}, nil

	case EncodingBase64:
		return []string{base64.StdEncoding.EncodeToString(data), string(EncodingBase64)}, nil

	case EncodingBase64Zstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		return []string{base64.StdEncoding.EncodeToString(compressed), string(EncodingBase64Zstd)}, nil

	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// DecodeSubstate decodes a binary substate value produced by EncodeSubstate.
func DecodeSubstate(encoded string, encoding Encoding) (substate.Substate, error) {
	var (
		data []byte
		err  error
	)
	switch encoding {
	case EncodingBase58:
		data, err = base58.Decode(encoded)

	case EncodingBase64:
		data, err = base64.StdEncoding.DecodeString(encoded)

	case EncodingBase64Zstd:
		var compressed []byte
		if compressed, err = base64.StdEncoding.DecodeString(encoded); err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		data, err = zstdDecoder.DecodeAll(compressed, nil)

	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	if err != nil {
		return nil, err
	}
	return substate.Decode(data)
}

// ParseEncoding parses an encoding string. The empty string selects JSON.
func ParseEncoding(s string) (Encoding, bool) {
	switch Encoding(s) {
	case "", EncodingJSON:
		return EncodingJSON, true
	case EncodingBase58, EncodingBase64, EncodingBase64Zstd:
		return Encoding(s), true
	default:
		return "", false
	}
}
