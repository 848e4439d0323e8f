// Package slashing implements the multi-approver slashing governor: the
// request/approve/execute workflow that decides whether and how much of a
// target's stake is forfeited, with a mandatory execution delay and a
// permanent-ban threshold.
package slashing

import (
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/UncleTom29/predictlink-evm/auth"
	"github.com/UncleTom29/predictlink-evm/config"
	"github.com/UncleTom29/predictlink-evm/core/events"
	"github.com/UncleTom29/predictlink-evm/core/ledger"
)

var log = logging.Logger("slashing")

// Reason categorizes the misbehavior a request punishes
type Reason string

const (
	ReasonFalseProposal     Reason = "false_proposal"
	ReasonFrivolousDispute  Reason = "frivolous_dispute"
	ReasonDowntime          Reason = "downtime"
	ReasonMaliciousActivity Reason = "malicious_activity"
	ReasonCollusion         Reason = "collusion"
	ReasonDataManipulation  Reason = "data_manipulation"
	ReasonProtocolViolation Reason = "protocol_violation"
)

// Status is the state of a slashing request
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
)

var (
	ErrUnauthorized      = errors.New("caller lacks required capability")
	ErrDuplicateRequest  = errors.New("slashing request id already exists")
	ErrRequestNotFound   = errors.New("slashing request not found")
	ErrTargetBlacklisted = errors.New("target is already blacklisted")
	ErrAlreadyApproved   = errors.New("approver already approved this request")
	ErrNotApproved       = errors.New("request has not reached approved status")
	ErrQuorumNotMet      = errors.New("approval quorum not met")
	ErrDelayNotElapsed   = errors.New("execution delay has not elapsed")
	ErrTerminalStatus    = errors.New("request is in a terminal status")
	ErrUnknownReason     = errors.New("unknown slashing reason")
)

// Request is a single slashing proposal against a target
type Request struct {
	ID            string          `json:"id"`
	Target        string          `json:"target"`
	BaseAmount    int64           `json:"base_amount"`
	FinalAmount   int64           `json:"final_amount"`
	Reason        Reason          `json:"reason"`
	Evidence      string          `json:"evidence"`
	Reporter      string          `json:"reporter"`
	Timestamp     int64           `json:"timestamp"`
	ExecutionTime int64           `json:"execution_time"`
	Status        Status          `json:"status"`
	ApprovalCount int             `json:"approval_count"`
	Approvals     map[string]bool `json:"approvals"`
}

// Record is the immutable trace of an executed slash
type Record struct {
	RequestID  string `json:"request_id"`
	Target     string `json:"target"`
	Amount     int64  `json:"amount"`
	Reason     Reason `json:"reason"`
	ExecutedAt int64  `json:"executed_at"`
}

// History accumulates per-target slashing totals. The ban flag is set
// automatically at the threshold and cleared only by an explicit admin
// override.
type History struct {
	Target              string `json:"target"`
	TotalSlashed        int64  `json:"total_slashed"`
	SlashingCount       int    `json:"slashing_count"`
	LastSlashedAt       int64  `json:"last_slashed_at"`
	IsPermanentlyBanned bool   `json:"is_permanently_banned"`
}

// StakeSlasher is the bond-ledger operation the governor executes against
type StakeSlasher interface {
	SlashAmount(caller, target string, amount int64, reason string) (int64, error)
}

// Governor runs the slashing request workflow
type Governor struct {
	cfg        *config.Config
	ledger     *ledger.Ledger
	eventLog   *events.Log
	authorizer auth.Authorizer
	slasher    StakeSlasher

	requests  map[string]*Request
	records   []Record
	histories map[string]*History
	banned    map[string]bool

	mu sync.RWMutex
}

// NewGovernor creates a slashing governor
func NewGovernor(cfg *config.Config, lgr *ledger.Ledger, eventLog *events.Log, authorizer auth.Authorizer, slasher StakeSlasher) *Governor {
	return &Governor{
		cfg:        cfg,
		ledger:     lgr,
		eventLog:   eventLog,
		authorizer: authorizer,
		slasher:    slasher,
		requests:   make(map[string]*Request),
		histories:  make(map[string]*History),
		banned:     make(map[string]bool),
	}
}

// RequestSlashing opens a new request. The final amount is the base amount
// scaled by the reason's configured rate, capped at the maximum slashing
// rate. Execution is gated behind the configured delay.
func (g *Governor) RequestSlashing(reporter, id, target string, baseAmount int64, reason Reason, evidence string) (*Request, error) {
	if !g.authorizer.HasCapability(reporter, auth.CapabilityReporter) {
		return nil, fmt.Errorf("%w: %s needs %s", ErrUnauthorized, reporter, auth.CapabilityReporter)
	}
	if id == "" {
		return nil, fmt.Errorf("request id cannot be empty")
	}
	if target == "" {
		return nil, fmt.Errorf("target cannot be empty")
	}
	if baseAmount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	rate, err := g.rateForReason(reason)
	if err != nil {
		return nil, err
	}

	now := g.ledger.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.banned[target] {
		return nil, fmt.Errorf("%w: %s", ErrTargetBlacklisted, target)
	}
	if _, exists := g.requests[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}

	reasonAmount := baseAmount * rate / config.BasisPointDenominator
	capAmount := baseAmount * g.cfg.Slashing.MaxSlashingRate / config.BasisPointDenominator
	finalAmount := reasonAmount
	if capAmount < finalAmount {
		finalAmount = capAmount
	}

	request := &Request{
		ID:            id,
		Target:        target,
		BaseAmount:    baseAmount,
		FinalAmount:   finalAmount,
		Reason:        reason,
		Evidence:      evidence,
		Reporter:      reporter,
		Timestamp:     now,
		ExecutionTime: now + int64(g.cfg.Slashing.ExecutionDelay.Seconds()),
		Status:        StatusPending,
		Approvals:     make(map[string]bool),
	}
	g.requests[id] = request

	g.eventLog.Append(events.SlashingRequested, id, string(StatusPending), now, map[string]string{
		"target": target,
		"reason": string(reason),
		"amount": fmt.Sprintf("%d", finalAmount),
	})
	log.Infow("slashing requested", "id", id, "target", target, "reason", reason, "amount", finalAmount)

	copied := copyRequest(request)
	return copied, nil
}

// ApproveSlashing registers one approval. Approvals are monotonic: they
// cannot be retracted, and each approver counts once. Reaching the quorum
// moves the request to approved.
func (g *Governor) ApproveSlashing(approver, id string) error {
	if !g.authorizer.HasCapability(approver, auth.CapabilitySlasher) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, approver, auth.CapabilitySlasher)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	request, exists := g.requests[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}

	if request.Status != StatusPending && request.Status != StatusApproved {
		return fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, request.Status)
	}

	if request.Approvals[approver] {
		return fmt.Errorf("%w: %s on %s", ErrAlreadyApproved, approver, id)
	}

	request.Approvals[approver] = true
	request.ApprovalCount++

	if request.ApprovalCount >= g.cfg.Slashing.MinApprovals && request.Status == StatusPending {
		request.Status = StatusApproved
		g.eventLog.Append(events.SlashingApproved, id, string(StatusApproved), g.ledger.Now(), map[string]string{
			"approvals": fmt.Sprintf("%d", request.ApprovalCount),
		})
		log.Infow("slashing approved", "id", id, "approvals", request.ApprovalCount)
	}

	return nil
}

// ExecuteSlashing carries out an approved request after the delay. The
// absolute final amount is passed to the bond ledger, which clamps it to
// the target's current principal.
func (g *Governor) ExecuteSlashing(caller, id string) error {
	if !g.authorizer.HasCapability(caller, auth.CapabilitySlasher) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller, auth.CapabilitySlasher)
	}

	now := g.ledger.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	return g.executeLocked(caller, id, now)
}

// BatchExecuteSlashing executes each request best-effort: a failure on one
// id does not abort the rest. The number of executed requests is returned;
// callers discover per-item outcomes by re-querying request status.
func (g *Governor) BatchExecuteSlashing(caller string, ids []string) (int, error) {
	if !g.authorizer.HasCapability(caller, auth.CapabilitySlasher) {
		return 0, fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller, auth.CapabilitySlasher)
	}

	now := g.ledger.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	executed := 0
	for _, id := range ids {
		if err := g.executeLocked(caller, id, now); err != nil {
			log.Debugw("batch execution skipped request", "id", id, "err", err)
			continue
		}
		executed++
	}
	return executed, nil
}

// executeLocked applies a single execution. Callers must hold the write lock.
func (g *Governor) executeLocked(caller, id string, now int64) error {
	request, exists := g.requests[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}

	if request.Status != StatusApproved {
		return fmt.Errorf("%w: %s is %s", ErrNotApproved, id, request.Status)
	}

	if request.ApprovalCount < g.cfg.Slashing.MinApprovals {
		return fmt.Errorf("%w: %d < %d", ErrQuorumNotMet, request.ApprovalCount, g.cfg.Slashing.MinApprovals)
	}

	if now < request.ExecutionTime {
		return fmt.Errorf("%w: executable at %d, now %d", ErrDelayNotElapsed, request.ExecutionTime, now)
	}

	slashed, err := g.slasher.SlashAmount(caller, request.Target, request.FinalAmount, string(request.Reason))
	if err != nil {
		return fmt.Errorf("failed to slash %s: %v", request.Target, err)
	}

	request.Status = StatusExecuted

	g.records = append(g.records, Record{
		RequestID:  id,
		Target:     request.Target,
		Amount:     slashed,
		Reason:     request.Reason,
		ExecutedAt: now,
	})

	history := g.historyFor(request.Target)
	history.TotalSlashed += slashed
	history.SlashingCount++
	history.LastSlashedAt = now

	if history.TotalSlashed >= g.cfg.Slashing.PermanentBanThreshold && !history.IsPermanentlyBanned {
		history.IsPermanentlyBanned = true
		g.banned[request.Target] = true
		log.Warnw("target permanently banned", "target", request.Target, "total_slashed", history.TotalSlashed)
	}

	g.eventLog.Append(events.SlashingExecuted, id, string(StatusExecuted), now, map[string]string{
		"target": request.Target,
		"amount": fmt.Sprintf("%d", slashed),
	})
	log.Infow("slashing executed", "id", id, "target", request.Target, "amount", slashed)
	return nil
}

// RejectSlashing is the admin override terminating a request before
// execution
func (g *Governor) RejectSlashing(admin, id string) error {
	if !g.authorizer.HasCapability(admin, auth.CapabilityAdmin) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, admin, auth.CapabilityAdmin)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	request, exists := g.requests[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}

	if request.Status != StatusPending && request.Status != StatusApproved {
		return fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, request.Status)
	}

	request.Status = StatusRejected

	g.eventLog.Append(events.SlashingRejected, id, string(StatusRejected), g.ledger.Now(), nil)
	log.Infow("slashing rejected", "id", id, "admin", admin)
	return nil
}

// UnblacklistUser removes a permanent ban. This is an explicit admin
// override; bans are never lifted automatically.
func (g *Governor) UnblacklistUser(admin, target string) error {
	if !g.authorizer.HasCapability(admin, auth.CapabilityAdmin) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, admin, auth.CapabilityAdmin)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.banned[target] {
		return fmt.Errorf("target %s is not blacklisted", target)
	}

	delete(g.banned, target)
	if history, exists := g.histories[target]; exists {
		history.IsPermanentlyBanned = false
	}

	log.Warnw("target unblacklisted by admin", "target", target, "admin", admin)
	return nil
}

// IsBlacklisted reports whether a principal is permanently banned
func (g *Governor) IsBlacklisted(principal string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.banned[principal]
}

// GetRequest returns a copy of a request by id
func (g *Governor) GetRequest(id string) (*Request, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	request, exists := g.requests[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return copyRequest(request), nil
}

// GetHistory returns a copy of a target's slashing history
func (g *Governor) GetHistory(target string) (*History, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	history, exists := g.histories[target]
	if !exists {
		return nil, fmt.Errorf("no slashing history for %s", target)
	}

	copied := *history
	return &copied, nil
}

// Records returns a copy of all executed slashing records
func (g *Governor) Records() []Record {
	g.mu.RLock()
	defer g.mu.RUnlock()

	records := make([]Record, len(g.records))
	copy(records, g.records)
	return records
}

// rateForReason resolves the configured base rate for a reason
func (g *Governor) rateForReason(reason Reason) (int64, error) {
	switch reason {
	case ReasonFalseProposal:
		return g.cfg.Slashing.FalseProposalRate, nil
	case ReasonFrivolousDispute:
		return g.cfg.Slashing.FrivolousDisputeRate, nil
	case ReasonDowntime:
		return g.cfg.Slashing.DowntimeRate, nil
	case ReasonMaliciousActivity:
		return g.cfg.Slashing.MaliciousActivityRate, nil
	case ReasonCollusion:
		return g.cfg.Slashing.CollusionRate, nil
	case ReasonDataManipulation:
		return g.cfg.Slashing.DataManipulationRate, nil
	case ReasonProtocolViolation:
		return g.cfg.Slashing.ProtocolViolationRate, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownReason, reason)
	}
}

// historyFor returns the history entry for a target, creating it if
// needed. Callers must hold the write lock.
func (g *Governor) historyFor(target string) *History {
	if history, exists := g.histories[target]; exists {
		return history
	}

	history := &History{Target: target}
	g.histories[target] = history
	return history
}

func copyRequest(request *Request) *Request {
	copied := *request
	copied.Approvals = make(map[string]bool, len(request.Approvals))
	for approver, approved := range request.Approvals {
		copied.Approvals[approver] = approved
	}
	return &copied
}
