// Package spool persists trace batches that could not be delivered so they
// can be sent on a later flush.
package spool

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.uber.org/zap"
)

var bucketTraces = []byte("traces")

// Spool is a FIFO of trace batches stored in a bolt database.
type Spool struct {
	db     *bolt.DB
	path   string
	logger *zap.Logger

	marshaler   ptrace.ProtoMarshaler
	unmarshaler ptrace.ProtoUnmarshaler
}

// Open opens or creates the spool database at path.
func Open(path string, logger *zap.Logger) (*Spool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open spool database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTraces)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create spool bucket: %w", err)
	}

	return &Spool{db: db, path: path, logger: logger}, nil
}

// Path returns the database file path.
func (s *Spool) Path() string {
	return s.path
}

// Put appends a batch.
func (s *Spool) Put(td ptrace.Traces) error {
	data, err := s.marshaler.MarshalTraces(td)
	if err != nil {
		return fmt.Errorf("failed to marshal spooled traces: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTraces)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write spooled traces: %w", err)
	}

	s.logger.Debug("Spooled traces",
		zap.Int("span_count", td.SpanCount()),
		zap.Int("bytes", len(data)))
	return nil
}

// Len returns the number of spooled batches.
func (s *Spool) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTraces).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Drain passes batches to fn oldest first and removes each one fn accepts.
// It stops at the first fn error and returns it; that batch and later ones
// stay spooled. Batches that cannot be decoded are dropped.
func (s *Spool) Drain(fn func(ptrace.Traces) error) (int, error) {
	type entry struct {
		key  []byte
		data []byte
	}

	var entries []entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTraces).ForEach(func(k, v []byte) error {
			// bolt slices are only valid inside the transaction
			entries = append(entries, entry{
				key:  append([]byte(nil), k...),
				data: append([]byte(nil), v...),
			})
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read spool: %w", err)
	}

	var done [][]byte
	var fnErr error
	delivered := 0

	for _, e := range entries {
		td, err := s.unmarshaler.UnmarshalTraces(e.data)
		if err != nil {
			s.logger.Error("Dropping corrupt spooled batch",
				zap.Uint64("sequence", binary.BigEndian.Uint64(e.key)),
				zap.Error(err))
			done = append(done, e.key)
			continue
		}
		if fnErr = fn(td); fnErr != nil {
			break
		}
		done = append(done, e.key)
		delivered++
	}

	if len(done) > 0 {
		err = s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketTraces)
			for _, k := range done {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return delivered, fmt.Errorf("failed to remove drained batches: %w", err)
		}
	}

	return delivered, fnErr
}

// Close closes the database.
func (s *Spool) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
