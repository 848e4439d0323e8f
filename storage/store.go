package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/UncleTom29/predictlink-evm/core/events"
	"github.com/UncleTom29/predictlink-evm/core/state"
)

// Store persists protocol snapshots and the event journal
type Store struct {
	backend *BadgerStorage
}

// Open creates a Store backed by BadgerDB under dataDir
func Open(dataDir string) (*Store, error) {
	backend, err := NewBadgerStorage(dataDir)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend}, nil
}

// SaveSnapshot replaces the persisted latest snapshot
func (s *Store) SaveSnapshot(snapshot *state.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}

	data, err := cbor.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %v", err)
	}

	if err := s.backend.Set(SnapshotKey(), data); err != nil {
		return fmt.Errorf("failed to persist snapshot: %v", err)
	}
	return nil
}

// LoadSnapshot returns the latest persisted snapshot, or (nil, nil) when
// none has been saved yet
func (s *Store) LoadSnapshot() (*state.Snapshot, error) {
	data, err := s.backend.Get(SnapshotKey())
	if err == ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %v", err)
	}

	var snapshot state.Snapshot
	if err := cbor.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %v", err)
	}
	return &snapshot, nil
}

// AppendEvent durably appends one event journal entry
func (s *Store) AppendEvent(entry events.Entry) error {
	data, err := cbor.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %v", entry.ID, err)
	}

	seq, err := s.nextEventSeq()
	if err != nil {
		return err
	}

	if err := s.backend.Set(EventKey(seq), data); err != nil {
		return fmt.Errorf("failed to persist event %s: %v", entry.ID, err)
	}
	return nil
}

// LoadEvents returns every journaled event in append order
func (s *Store) LoadEvents() ([]events.Entry, error) {
	var entries []events.Entry
	err := s.backend.ScanPrefix([]byte(EventPrefix), func(key, value []byte) error {
		var entry events.Entry
		if err := cbor.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("failed to decode event at %s: %v", key, err)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Size returns the total on-disk size
func (s *Store) Size() (int64, error) {
	return s.backend.Size()
}

// Close shuts the store down
func (s *Store) Close() error {
	return s.backend.Close()
}

// nextEventSeq reserves the next journal sequence number
func (s *Store) nextEventSeq() (uint64, error) {
	var seq uint64

	data, err := s.backend.Get(EventSeqKey())
	if err != nil && err != ErrKeyNotFound {
		return 0, fmt.Errorf("failed to read event sequence: %v", err)
	}
	if err == nil && len(data) == 8 {
		seq = binary.BigEndian.Uint64(data)
	}

	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, seq+1)
	if err := s.backend.Set(EventSeqKey(), next); err != nil {
		return 0, fmt.Errorf("failed to advance event sequence: %v", err)
	}

	return seq, nil
}
