// Package state aggregates the ledger and the event log into one
// snapshot-able protocol state with a deterministic Blake2b state root.
package state

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/UncleTom29/predictlink-evm/core/events"
	"github.com/UncleTom29/predictlink-evm/core/ledger"
)

// Snapshot is a point-in-time copy of protocol state. It is serialized
// with CBOR for persistence.
type Snapshot struct {
	Timestamp   int64                      `cbor:"1,keyasint" json:"timestamp"`
	StateRoot   string                     `cbor:"2,keyasint" json:"state_root"`
	TotalSupply int64                      `cbor:"3,keyasint" json:"total_supply"`
	Accounts    map[string]*ledger.Account `cbor:"4,keyasint" json:"accounts"`
	Events      []events.Entry             `cbor:"5,keyasint" json:"events"`
}

// ProtocolState owns the ledger and event log and derives the state root
type ProtocolState struct {
	ledger   *ledger.Ledger
	eventLog *events.Log
	mu       sync.RWMutex
}

// NewProtocolState wraps a ledger and event log
func NewProtocolState(lgr *ledger.Ledger, eventLog *events.Log) *ProtocolState {
	return &ProtocolState{
		ledger:   lgr,
		eventLog: eventLog,
	}
}

// Ledger returns the underlying ledger
func (ps *ProtocolState) Ledger() *ledger.Ledger {
	return ps.ledger
}

// EventLog returns the underlying event log
func (ps *ProtocolState) EventLog() *events.Log {
	return ps.eventLog
}

// StateRoot computes the Blake2b root over all accounts in address order
// plus the event log length, so any balance change or appended event
// changes the root.
func (ps *ProtocolState) StateRoot() string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	accounts := ps.ledger.Accounts()
	addresses := make([]string, 0, len(accounts))
	for addr := range accounts {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	var stateData []byte
	for _, addr := range addresses {
		account := accounts[addr]

		stateData = append(stateData, []byte(account.Address)...)

		balanceBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(balanceBytes, uint64(account.Balance))
		stateData = append(stateData, balanceBytes...)
	}

	supplyBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(supplyBytes, uint64(ps.ledger.TotalSupply()))
	stateData = append(stateData, supplyBytes...)

	eventBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(eventBytes, uint64(ps.eventLog.Len()))
	stateData = append(stateData, eventBytes...)

	hash := blake2b.Sum256(stateData)
	return fmt.Sprintf("%x", hash)
}

// CreateSnapshot captures the current protocol state
func (ps *ProtocolState) CreateSnapshot() *Snapshot {
	root := ps.StateRoot()

	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return &Snapshot{
		Timestamp:   ps.ledger.Now(),
		StateRoot:   root,
		TotalSupply: ps.ledger.TotalSupply(),
		Accounts:    ps.ledger.Accounts(),
		Events:      ps.eventLog.All(),
	}
}

// RestoreFromSnapshot replaces ledger and event log contents from a
// persisted snapshot and verifies the recomputed root matches
func (ps *ProtocolState) RestoreFromSnapshot(snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}

	ps.mu.Lock()
	if err := ps.ledger.Restore(snapshot.Accounts, snapshot.TotalSupply); err != nil {
		ps.mu.Unlock()
		return fmt.Errorf("failed to restore ledger: %v", err)
	}
	ps.eventLog.Restore(snapshot.Events)
	ps.mu.Unlock()

	if snapshot.StateRoot != "" {
		root := ps.StateRoot()
		if root != snapshot.StateRoot {
			return fmt.Errorf("state root mismatch: stored=%s, calculated=%s", snapshot.StateRoot, root)
		}
	}

	return nil
}

// ValidateConsistency checks ledger invariants
func (ps *ProtocolState) ValidateConsistency() error {
	return ps.ledger.ValidateConsistency()
}

// GetStatus returns a status summary of the protocol state
func (ps *ProtocolState) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"state_root":   ps.StateRoot(),
		"total_supply": ps.ledger.TotalSupply(),
		"accounts":     len(ps.ledger.Accounts()),
		"events":       ps.eventLog.Len(),
	}
}
