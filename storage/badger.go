// Package storage persists protocol state with BadgerDB v3. It has two
// layers: BadgerStorage is the low-level key-value store, and Store on top
// of it handles CBOR-encoded snapshots and the append-only event journal.
package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

var ErrKeyNotFound = errors.New("key not found")

// Key prefixes for the stored record types
const (
	SnapshotPrefix = "snp:"
	EventPrefix    = "evt:"
	MetaPrefix     = "mta:"
)

// SnapshotKey returns the key holding the latest snapshot
func SnapshotKey() []byte {
	return []byte(SnapshotPrefix + "latest")
}

// EventKey returns the key for the journal entry at a sequence number
func EventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", EventPrefix, seq))
}

// EventSeqKey returns the key holding the next journal sequence number
func EventSeqKey() []byte {
	return []byte(MetaPrefix + "event-seq")
}

// BadgerStorage is the low-level key-value store
type BadgerStorage struct {
	db *badger.DB
	mu sync.RWMutex
}

// NewBadgerStorage opens a BadgerDB v3 instance under dataDir
func NewBadgerStorage(dataDir string) (*BadgerStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %v", dataDir, err)
	}

	return &BadgerStorage{db: db}, nil
}

// Get retrieves a value by key
func (bs *BadgerStorage) Get(key []byte) ([]byte, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	var value []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}
	return value, err
}

// Set stores a key-value pair
func (bs *BadgerStorage) Set(key, value []byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes a key
func (bs *BadgerStorage) Delete(key []byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Has checks whether a key exists
func (bs *BadgerStorage) Has(key []byte) (bool, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	err := bs.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ScanPrefix invokes fn for every key-value pair under a prefix, in key
// order. Iteration stops on the first error.
func (bs *BadgerStorage) ScanPrefix(prefix []byte, fn func(key, value []byte) error) error {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	return bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			item := iter.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunGC runs value log garbage collection
func (bs *BadgerStorage) RunGC(discardRatio float64) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.db.RunValueLogGC(discardRatio)
}

// Size returns the total on-disk size
func (bs *BadgerStorage) Size() (int64, error) {
	lsm, vlog := bs.db.Size()
	return lsm + vlog, nil
}

// Close shuts down the database
func (bs *BadgerStorage) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.db == nil {
		return nil
	}
	err := bs.db.Close()
	bs.db = nil
	return err
}
