package ledger

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/klauspost/compress/zstd"
)

// Snapshot file format version.
const snapshotVersion uint32 = 1

// snapshotMagic identifies substate snapshot files.
var snapshotMagic = []byte{'X', '1', 'S', 'S'}

// snapshotHeaderSize is version (4) + count (8) + root (32).
const snapshotHeaderSize = 4 + 8 + types.HashSize

// maxSnapshotEntrySize bounds a single encoded output.
const maxSnapshotEntrySize = 16 << 20

var (
	// ErrSnapshotNotFound is returned when a snapshot file doesn't exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotMismatch is returned when a loaded snapshot doesn't match
	// the root recorded in its header.
	ErrSnapshotMismatch = errors.New("snapshot root mismatch")
)

// SnapshotHeader describes a snapshot.
type SnapshotHeader struct {
	Version uint32

	// Count is the number of substates in the snapshot.
	Count uint64

	// Root is the Merkle root of the entry hashes in ledger key order.
	Root types.Hash
}

// SnapshotWriter writes substates to a snapshot file.
// Snapshot format:
//   - Magic (4 bytes): "X1SS"
//   - Version (4 bytes, little-endian)
//   - Count (8 bytes, little-endian)
//   - Root (32 bytes)
//   - Entries (zstd stream), each:
//   - IDSize (2 bytes, little-endian)
//   - ID (ledger key bytes)
//   - ValueSize (4 bytes, little-endian)
//   - Value (encoded output)
//
// Entries must be written in ledger key order.
type SnapshotWriter struct {
	file   *os.File
	zw     *zstd.Encoder
	writer *bufio.Writer
	header SnapshotHeader
	hashes []types.Hash
}

// NewSnapshotWriter creates a snapshot file at path.
func NewSnapshotWriter(path string) (*SnapshotWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}

	sw := &SnapshotWriter{
		file:   file,
		header: SnapshotHeader{Version: snapshotVersion},
	}
	// placeholder, rewritten by Close
	if err := sw.writeHeader(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	sw.zw, err = zstd.NewWriter(file)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	sw.writer = bufio.NewWriter(sw.zw)
	return sw, nil
}

func (sw *SnapshotWriter) writeHeader() error {
	buf := make([]byte, len(snapshotMagic)+snapshotHeaderSize)
	n := copy(buf, snapshotMagic)
	binary.LittleEndian.PutUint32(buf[n:], sw.header.Version)
	binary.LittleEndian.PutUint64(buf[n+4:], sw.header.Count)
	copy(buf[n+12:], sw.header.Root[:])
	_, err := sw.file.Write(buf)
	return err
}

// entryHash binds a substate hash to its id.
func entryHash(id substate.ID, out *Output) (types.Hash, error) {
	h, err := HashSubstate(out.Substate)
	if err != nil {
		return types.Hash{}, err
	}
	key := id.Bytes()
	buf := make([]byte, 0, len(key)+4+types.HashSize)
	buf = append(buf, key...)
	buf = binary.LittleEndian.AppendUint32(buf, out.Version)
	buf = append(buf, h[:]...)
	return types.ComputeHash(buf), nil
}

// WriteSubstate appends one substate.
func (sw *SnapshotWriter) WriteSubstate(id substate.ID, out *Output) error {
	key := id.Bytes()
	value, err := encodeOutput(*out)
	if err != nil {
		return err
	}
	h, err := entryHash(id, out)
	if err != nil {
		return err
	}

	var sizes [6]byte
	binary.LittleEndian.PutUint16(sizes[:2], uint16(len(key)))
	binary.LittleEndian.PutUint32(sizes[2:], uint32(len(value)))
	if _, err := sw.writer.Write(sizes[:2]); err != nil {
		return err
	}
	if _, err := sw.writer.Write(key); err != nil {
		return err
	}
	if _, err := sw.writer.Write(sizes[2:]); err != nil {
		return err
	}
	if _, err := sw.writer.Write(value); err != nil {
		return err
	}

	sw.hashes = append(sw.hashes, h)
	sw.header.Count++
	return nil
}

// Close finalizes the header and closes the file.
func (sw *SnapshotWriter) Close() (*SnapshotHeader, error) {
	defer sw.file.Close()
	if err := sw.writer.Flush(); err != nil {
		return nil, err
	}
	if err := sw.zw.Close(); err != nil {
		return nil, err
	}

	sw.header.Root = ComputeMerkleRoot(sw.hashes)
	if _, err := sw.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := sw.writeHeader(); err != nil {
		return nil, err
	}
	header := sw.header
	return &header, sw.file.Sync()
}

// SnapshotReader reads substates from a snapshot file.
type SnapshotReader struct {
	file   *os.File
	zr     *zstd.Decoder
	reader *bufio.Reader
	Header SnapshotHeader
	read   uint64
}

// OpenSnapshot opens a snapshot file for reading.
func OpenSnapshot(path string) (*SnapshotReader, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, path)
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}

	sr := &SnapshotReader{file: file}
	if err := sr.readHeader(); err != nil {
		file.Close()
		return nil, err
	}
	sr.zr, err = zstd.NewReader(file, zstd.WithDecoderMaxMemory(64<<20))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("init zstd reader: %w", err)
	}
	sr.reader = bufio.NewReader(sr.zr)
	return sr, nil
}

func (sr *SnapshotReader) readHeader() error {
	buf := make([]byte, len(snapshotMagic)+snapshotHeaderSize)
	if _, err := io.ReadFull(sr.file, buf); err != nil {
		return fmt.Errorf("%w: read header: %v", ErrCorrupted, err)
	}
	n := len(snapshotMagic)
	if string(buf[:n]) != string(snapshotMagic) {
		return fmt.Errorf("%w: invalid snapshot magic %q", ErrCorrupted, buf[:n])
	}
	sr.Header.Version = binary.LittleEndian.Uint32(buf[n:])
	if sr.Header.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d", sr.Header.Version)
	}
	sr.Header.Count = binary.LittleEndian.Uint64(buf[n+4:])
	copy(sr.Header.Root[:], buf[n+12:])
	return nil
}

// ReadSubstate reads the next substate.
// Returns io.EOF after the last one.
func (sr *SnapshotReader) ReadSubstate() (substate.ID, *Output, error) {
	if sr.read >= sr.Header.Count {
		return substate.ID{}, nil, io.EOF
	}

	var sizes [6]byte
	if _, err := io.ReadFull(sr.reader, sizes[:2]); err != nil {
		return substate.ID{}, nil, fmt.Errorf("%w: read id size: %v", ErrCorrupted, err)
	}
	key := make([]byte, binary.LittleEndian.Uint16(sizes[:2]))
	if _, err := io.ReadFull(sr.reader, key); err != nil {
		return substate.ID{}, nil, fmt.Errorf("%w: read id: %v", ErrCorrupted, err)
	}
	id, err := substate.IDFromBytes(key)
	if err != nil {
		return substate.ID{}, nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	if _, err := io.ReadFull(sr.reader, sizes[2:]); err != nil {
		return substate.ID{}, nil, fmt.Errorf("%w: read value size: %v", ErrCorrupted, err)
	}
	size := binary.LittleEndian.Uint32(sizes[2:])
	if size > maxSnapshotEntrySize {
		return substate.ID{}, nil, fmt.Errorf("%w: entry size %d exceeds maximum %d",
			ErrCorrupted, size, maxSnapshotEntrySize)
	}
	value := make([]byte, size)
	if _, err := io.ReadFull(sr.reader, value); err != nil {
		return substate.ID{}, nil, fmt.Errorf("%w: read value: %v", ErrCorrupted, err)
	}
	out, err := decodeOutput(value)
	if err != nil {
		return substate.ID{}, nil, err
	}

	sr.read++
	return id, out, nil
}

// Close closes the snapshot reader.
func (sr *SnapshotReader) Close() error {
	if sr.zr != nil {
		sr.zr.Close()
	}
	return sr.file.Close()
}

// CreateSnapshot writes every substate of src to a snapshot file at path.
func CreateSnapshot(src Iterable, path string) (*SnapshotHeader, error) {
	writer, err := NewSnapshotWriter(path)
	if err != nil {
		return nil, err
	}
	err = src.Iterate(func(id substate.ID, out *Output) error {
		return writer.WriteSubstate(id, out)
	})
	if err != nil {
		writer.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write substates: %w", err)
	}
	return writer.Close()
}

// LoadSnapshot copies a snapshot into dst, versions included, and verifies
// its root.
func LoadSnapshot(dst Store, path string) (*SnapshotHeader, error) {
	reader, err := OpenSnapshot(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	hashes := make([]types.Hash, 0, reader.Header.Count)
	for {
		id, out, err := reader.ReadSubstate()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read substate: %w", err)
		}
		h, err := entryHash(id, out)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
		if err := dst.PutSubstate(id, *out); err != nil {
			return nil, fmt.Errorf("put %s: %w", id, err)
		}
	}

	if root := ComputeMerkleRoot(hashes); root != reader.Header.Root {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrSnapshotMismatch, reader.Header.Root, root)
	}
	header := reader.Header
	return &header, nil
}
