package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	defaultBucket = []byte("config")
	documentKey   = []byte("tree")
)

// lockTimeout bounds how long Read and Write wait for the database file
// lock held by another process.
const lockTimeout = time.Second

// BoltStrategy stores the tree as a single JSON document inside a bolt
// database. Each Write replaces the document in one update transaction.
//
// The database is opened for the duration of each call only, so the file
// is not held locked between reads and writes.
type BoltStrategy struct {
	path   string
	bucket []byte
}

// NewBolt creates a bolt strategy using the "config" bucket.
func NewBolt(path string) *BoltStrategy {
	return &BoltStrategy{path: path, bucket: defaultBucket}
}

// NewBoltBucket creates a bolt strategy storing the tree in bucket.
func NewBoltBucket(path, bucket string) *BoltStrategy {
	return &BoltStrategy{path: path, bucket: []byte(bucket)}
}

// Filename returns the database path.
func (s *BoltStrategy) Filename() string {
	return s.path
}

// ReadOnly reports false.
func (s *BoltStrategy) ReadOnly() bool {
	return false
}

// Read loads the stored document. A database without the bucket or the
// document reads as an empty tree.
func (s *BoltStrategy) Read() (map[string]any, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config database %s: %w", s.path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("reading config database %s: %w", s.path, err)
	}

	db, err := bolt.Open(s.path, filePerm, &bolt.Options{Timeout: lockTimeout, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("opening config database %s: %w", s.path, err)
	}
	defer db.Close()

	var doc []byte
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get(documentKey); v != nil {
			// Values are only valid for the life of the transaction
			doc = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading config database %s: %w", s.path, err)
	}

	return decodeJSON(s.path, doc)
}

// Write replaces the stored document.
func (s *BoltStrategy) Write(data map[string]any) error {
	out, err := encodeJSON(data, "")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", s.path, err)
	}

	db, err := bolt.Open(s.path, filePerm, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return fmt.Errorf("opening config database %s: %w", s.path, err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		return b.Put(documentKey, out)
	})
	if err != nil {
		return fmt.Errorf("writing config database %s: %w", s.path, err)
	}
	return nil
}
