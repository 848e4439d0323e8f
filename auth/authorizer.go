// Package auth provides capability-based access control for protocol
// operations. Capabilities are granted and revoked by an administrative
// authority outside the core; components only ever ask whether a principal
// holds a capability.
package auth

import (
	"fmt"
	"sync"
)

// Capability identifies a protocol permission
type Capability string

const (
	CapabilityProposer   Capability = "PROPOSER"
	CapabilityDisputer   Capability = "DISPUTER"
	CapabilityValidator  Capability = "VALIDATOR"
	CapabilityArbitrator Capability = "ARBITRATOR"
	CapabilitySlasher    Capability = "SLASHER"
	CapabilityReporter   Capability = "REPORTER"
	CapabilityAdmin      Capability = "ADMIN"
)

// Authorizer answers capability checks for protocol principals
type Authorizer interface {
	HasCapability(principal string, capability Capability) bool
}

// Registry is the default in-memory Authorizer implementation
type Registry struct {
	grants map[string]map[Capability]bool
	mu     sync.RWMutex
}

// NewRegistry creates an empty capability registry
func NewRegistry() *Registry {
	return &Registry{
		grants: make(map[string]map[Capability]bool),
	}
}

// Grant gives a principal a capability
func (r *Registry) Grant(principal string, capability Capability) error {
	if principal == "" {
		return fmt.Errorf("principal cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.grants[principal] == nil {
		r.grants[principal] = make(map[Capability]bool)
	}
	r.grants[principal][capability] = true
	return nil
}

// Revoke removes a capability from a principal
func (r *Registry) Revoke(principal string, capability Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caps, exists := r.grants[principal]; exists {
		delete(caps, capability)
	}
}

// HasCapability reports whether a principal holds a capability
func (r *Registry) HasCapability(principal string, capability Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps, exists := r.grants[principal]
	return exists && caps[capability]
}

// Capabilities returns all capabilities held by a principal
func (r *Registry) Capabilities(principal string) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var held []Capability
	for capability, granted := range r.grants[principal] {
		if granted {
			held = append(held, capability)
		}
	}
	return held
}
