// Package events implements the append-only domain event log consumed by
// off-chain gateways. Every lifecycle, staking, slashing, arbitration and
// reward operation records the entity it touched and the resulting status.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Type identifies a domain event
type Type string

const (
	EventCreated      Type = "EventCreated"
	ProposalSubmitted Type = "ProposalSubmitted"
	DisputeFiled      Type = "DisputeFiled"
	DisputeResolved   Type = "DisputeResolved"
	EventResolved     Type = "EventResolved"
	EventSettled      Type = "EventSettled"
	ProposalExpired   Type = "ProposalExpired"

	Staked        Type = "Staked"
	Unstaked      Type = "Unstaked"
	RewardClaimed Type = "RewardClaimed"
	Slashed       Type = "Slashed"

	SlashingRequested Type = "SlashingRequested"
	SlashingApproved  Type = "SlashingApproved"
	SlashingExecuted  Type = "SlashingExecuted"
	SlashingRejected  Type = "SlashingRejected"

	VoteCast        Type = "VoteCast"
	DisputeAppealed Type = "DisputeAppealed"
	DisputeReopened Type = "DisputeReopened"

	RewardPoolCreated Type = "RewardPoolCreated"
	SharesAllocated   Type = "SharesAllocated"
	PoolRewardClaimed Type = "PoolRewardClaimed"
	PoolExpired       Type = "PoolExpired"
)

// Entry is a single immutable record in the event log
type Entry struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	EntityID   string            `json:"entity_id"`
	Status     string            `json:"status"`
	Timestamp  int64             `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Observer receives each entry as it is appended
type Observer func(Entry)

// Log is an in-memory append-only event log with external observers
type Log struct {
	entries   []Entry
	observers []Observer
	mu        sync.RWMutex
}

// NewLog creates an empty event log
func NewLog() *Log {
	return &Log{}
}

// Subscribe registers an observer for future entries. Observers are invoked
// synchronously in append order and must not call back into the log.
func (el *Log) Subscribe(observer Observer) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.observers = append(el.observers, observer)
}

// Append records a domain event and returns the stored entry
func (el *Log) Append(eventType Type, entityID, status string, timestamp int64, attributes map[string]string) Entry {
	entry := Entry{
		ID:         uuid.NewString(),
		Type:       eventType,
		EntityID:   entityID,
		Status:     status,
		Timestamp:  timestamp,
		Attributes: attributes,
	}

	el.mu.Lock()
	el.entries = append(el.entries, entry)
	observers := make([]Observer, len(el.observers))
	copy(observers, el.observers)
	el.mu.Unlock()

	for _, observer := range observers {
		observer(entry)
	}

	return entry
}

// All returns a copy of every entry in append order
func (el *Log) All() []Entry {
	el.mu.RLock()
	defer el.mu.RUnlock()

	entries := make([]Entry, len(el.entries))
	copy(entries, el.entries)
	return entries
}

// ByEntity returns all entries recorded for an entity id
func (el *Log) ByEntity(entityID string) []Entry {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var matched []Entry
	for _, entry := range el.entries {
		if entry.EntityID == entityID {
			matched = append(matched, entry)
		}
	}
	return matched
}

// ByType returns all entries of a given event type
func (el *Log) ByType(eventType Type) []Entry {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var matched []Entry
	for _, entry := range el.entries {
		if entry.Type == eventType {
			matched = append(matched, entry)
		}
	}
	return matched
}

// Since returns all entries with a timestamp at or after the given time
func (el *Log) Since(timestamp int64) []Entry {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var matched []Entry
	for _, entry := range el.entries {
		if entry.Timestamp >= timestamp {
			matched = append(matched, entry)
		}
	}
	return matched
}

// Len returns the number of recorded entries
func (el *Log) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.entries)
}

// Restore replaces the log contents from persisted entries
func (el *Log) Restore(entries []Entry) {
	el.mu.Lock()
	defer el.mu.Unlock()

	el.entries = make([]Entry, len(entries))
	copy(el.entries, entries)
}
