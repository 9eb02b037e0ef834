// Package receipts archives transaction receipts in a bolt database.
package receipts

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a receipt doesn't exist.
	ErrNotFound = errors.New("receipt not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("receipt store closed")

	// ErrCorrupted is returned when a stored record cannot be decoded.
	ErrCorrupted = errors.New("receipt record corrupted")
)

// Bucket names.
var (
	// bucketReceipts stores records keyed by transaction hash.
	bucketReceipts = []byte("receipts")

	// bucketSequence maps sequence numbers to transaction hashes.
	bucketSequence = []byte("sequence")

	// bucketMetadata stores store metadata.
	bucketMetadata = []byte("metadata")
)

var keyCount = []byte("count")

// Record value flags.
const (
	flagPlain byte = 0x00
	flagZstd  byte = 0x01

	compressThreshold = 1024
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Config holds receipt store configuration.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// RetainReceipts is the number of most recent receipts kept by pruning.
	// Zero disables pruning.
	RetainReceipts uint64

	// PruneInterval is how often pruning runs.
	PruneInterval time.Duration

	// ReadOnly opens the database read-only.
	ReadOnly bool
}

// DefaultConfig returns the default receipt store configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		RetainReceipts: 1_000_000,
		PruneInterval:  time.Hour,
	}
}

// BoltStore stores receipts in bolt.
type BoltStore struct {
	db     *bolt.DB
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	count  uint64
	closed bool

	pruneStop chan struct{}
	pruneWG   sync.WaitGroup
}

// Open creates or opens a receipt store.
func Open(config Config, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0o600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &BoltStore{
		db:        db,
		config:    config,
		logger:    logger,
		pruneStop: make(chan struct{}),
	}
	if !config.ReadOnly {
		if err := s.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	if err := s.loadCount(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	if config.RetainReceipts > 0 && config.PruneInterval > 0 && !config.ReadOnly {
		s.startPruning()
	}
	return s, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketReceipts, bucketSequence, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) loadCount() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}
		if v := meta.Get(keyCount); len(v) == 8 {
			s.count = binary.BigEndian.Uint64(v)
		}
		return nil
	})
}

func (s *BoltStore) startPruning() {
	s.pruneWG.Add(1)
	go func() {
		defer s.pruneWG.Done()
		ticker := time.NewTicker(s.config.PruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.Prune(s.config.RetainReceipts); err != nil {
					s.logger.Error("receipt prune failed", zap.Error(err))
				}
			case <-s.pruneStop:
				return
			}
		}
	}()
}

func (s *BoltStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func encodeSequence(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if buf.Len() <= compressThreshold {
		return append([]byte{flagPlain}, buf.Bytes()...), nil
	}
	return encoder.EncodeAll(buf.Bytes(), []byte{flagZstd}), nil
}

func decodeRecord(data []byte) (*Record, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrCorrupted)
	}
	body := data[1:]
	switch data[0] {
	case flagPlain:
	case flagZstd:
		var err error
		if body, err = decoder.DecodeAll(body, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
	default:
		return nil, fmt.Errorf("%w: flag %#x", ErrCorrupted, data[0])
	}
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return &rec, nil
}

// Put stores a record and assigns its sequence number. Storing a hash again
// replaces the record.
func (s *BoltStore) Put(rec *Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var added bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		sequence := tx.Bucket(bucketSequence)

		key := rec.TxHash[:]
		if old := receipts.Get(key); old != nil {
			prev, err := decodeRecord(old)
			if err != nil {
				return err
			}
			if err := sequence.Delete(encodeSequence(prev.Sequence)); err != nil {
				return err
			}
		} else {
			added = true
		}

		seq, err := sequence.NextSequence()
		if err != nil {
			return err
		}
		rec.Sequence = seq
		data, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := receipts.Put(key, data); err != nil {
			return err
		}
		return sequence.Put(encodeSequence(seq), key)
	})
	if err != nil {
		return err
	}

	if added {
		s.mu.Lock()
		s.count++
		s.mu.Unlock()
	}
	return nil
}

// Get returns the record of a transaction.
func (s *BoltStore) Get(txHash types.Hash) (*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReceipts).Get(txHash[:])
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, txHash)
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	return rec, err
}

// Latest returns up to limit records, most recent first.
func (s *BoltStore) Latest(limit int) ([]*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		c := tx.Bucket(bucketSequence).Cursor()
		for k, hash := c.Last(); k != nil && len(out) < limit; k, hash = c.Prev() {
			rec, err := decodeRecord(receipts.Get(hash))
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Count returns the number of stored receipts.
func (s *BoltStore) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Prune deletes all but the keep most recent receipts and returns the number
// deleted.
func (s *BoltStore) Prune(keep uint64) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	count := s.count
	s.mu.RUnlock()
	if count <= keep {
		return 0, nil
	}

	excess := count - keep
	var pruned uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		sequence := tx.Bucket(bucketSequence)

		var seqKeys, hashes [][]byte
		c := sequence.Cursor()
		for k, hash := c.First(); k != nil && uint64(len(seqKeys)) < excess; k, hash = c.Next() {
			seqKeys = append(seqKeys, append([]byte(nil), k...))
			hashes = append(hashes, append([]byte(nil), hash...))
		}
		for i := range seqKeys {
			if err := sequence.Delete(seqKeys[i]); err != nil {
				return err
			}
			if err := receipts.Delete(hashes[i]); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.count -= pruned
	s.mu.Unlock()
	s.logger.Debug("pruned receipts", zap.Uint64("pruned", pruned))
	return pruned, nil
}

// Close stops pruning, persists metadata and closes the database.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.pruneStop)
	s.pruneWG.Wait()

	if !s.config.ReadOnly {
		err := s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketMetadata).Put(keyCount, encodeSequence(s.count))
		})
		if err != nil {
			s.db.Close()
			return fmt.Errorf("persist metadata: %w", err)
		}
	}
	return s.db.Close()
}
