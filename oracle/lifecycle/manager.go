// Package lifecycle implements the oracle resolution state machine: event
// creation, outcome proposals with liveness windows, dispute filing,
// dispute settlement, finalization and settlement. It is the only owner of
// Event, Proposal and Dispute records; bonds it takes custody of are held
// in the oracle escrow account until a payout path releases them.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/UncleTom29/predictlink-evm/auth"
	"github.com/UncleTom29/predictlink-evm/config"
	"github.com/UncleTom29/predictlink-evm/core/events"
	"github.com/UncleTom29/predictlink-evm/core/ledger"
)

var log = logging.Logger("lifecycle")

// EventStatus is the lifecycle state of an oracle event
type EventStatus string

const (
	EventCreated   EventStatus = "created"
	EventProposed  EventStatus = "proposed"
	EventDisputed  EventStatus = "disputed"
	EventResolved  EventStatus = "resolved"
	EventSettled   EventStatus = "settled"
	EventCancelled EventStatus = "cancelled"
)

// ProposalStatus is the lifecycle state of an outcome proposal
type ProposalStatus string

const (
	ProposalActive    ProposalStatus = "active"
	ProposalDisputed  ProposalStatus = "disputed"
	ProposalFinalized ProposalStatus = "finalized"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalExpired   ProposalStatus = "expired"
)

// DisputeOutcome is the terminal verdict of a dispute
type DisputeOutcome string

const (
	DisputePending  DisputeOutcome = "pending"
	DisputeUpheld   DisputeOutcome = "upheld"
	DisputeRejected DisputeOutcome = "rejected"
)

var (
	ErrUnauthorized         = errors.New("caller lacks required capability")
	ErrEventNotFound        = errors.New("event not found")
	ErrProposalNotFound     = errors.New("proposal not found")
	ErrDisputeNotFound      = errors.New("dispute not found")
	ErrDuplicateEvent       = errors.New("event id already exists")
	ErrResolutionTimePast   = errors.New("resolution time must be in the future")
	ErrInvalidState         = errors.New("entity is not in a valid state for this transition")
	ErrActiveProposal       = errors.New("event already has an active proposal")
	ErrBondTooSmall         = errors.New("bond below configured minimum")
	ErrConfidenceOutOfRange = errors.New("confidence score out of range")
	ErrLivenessExpired      = errors.New("liveness window has expired")
	ErrLivenessNotExpired   = errors.New("liveness window has not expired")
	ErrUnresolvedDisputes   = errors.New("proposal has unresolved disputes")
	ErrAlreadyResolved      = errors.New("dispute already resolved")
	ErrNotResolved          = errors.New("dispute has not been resolved")
	ErrAlreadySettled       = errors.New("event already settled")
	ErrInvalidSplit         = errors.New("reward split must sum to 10000 basis points")
)

// Event is a real-world question awaiting a trusted outcome
type Event struct {
	ID              string      `json:"id"`
	Description     string      `json:"description"`
	Category        string      `json:"category"`
	CreatedAt       int64       `json:"created_at"`
	ResolutionTime  int64       `json:"resolution_time"`
	Status          EventStatus `json:"status"`
	Outcome         string      `json:"outcome"`
	OutcomeHash     string      `json:"outcome_hash"`
	ConfidenceScore int64       `json:"confidence_score"`
	Proposer        string      `json:"proposer"`
	ProposerBond    int64       `json:"proposer_bond"`
	DisputeCount    int         `json:"dispute_count"`
	EvidenceURI     string      `json:"evidence_uri"`
	RewardPool      int64       `json:"reward_pool"` // fees and forfeits this event has sent to the treasury
	Settled         bool        `json:"settled"`
}

// Proposal is a bonded outcome assertion for an event
type Proposal struct {
	ID              string         `json:"id"`
	EventID         string         `json:"event_id"`
	Proposer        string         `json:"proposer"`
	OutcomeHash     string         `json:"outcome_hash"`
	Outcome         string         `json:"outcome"`
	ConfidenceScore int64          `json:"confidence_score"`
	EvidenceURI     string         `json:"evidence_uri"`
	BondAmount      int64          `json:"bond_amount"`
	SubmittedAt     int64          `json:"submitted_at"`
	LivenessExpiry  int64          `json:"liveness_expiry"`
	Status          ProposalStatus `json:"status"`
	ChallengeCount  int            `json:"challenge_count"`
	Executed        bool           `json:"executed"`
}

// Dispute is a bonded challenge against an active proposal
type Dispute struct {
	ID                 string         `json:"id"`
	ProposalID         string         `json:"proposal_id"`
	Disputer           string         `json:"disputer"`
	Reason             string         `json:"reason"`
	CounterEvidenceURI string         `json:"counter_evidence_uri"`
	BondAmount         int64          `json:"bond_amount"`
	Timestamp          int64          `json:"timestamp"`
	Resolved           bool           `json:"resolved"`
	Outcome            DisputeOutcome `json:"outcome"`
}

// VotingOpener is the arbitration hook notified when a dispute is filed
type VotingOpener interface {
	OpenVoting(disputeID string) error
}

// rewardSplit holds the live basis-point payout split
type rewardSplit struct {
	proposerRate int64
	disputerRate int64
	platformRate int64
}

// Manager owns the resolution lifecycle state machine
type Manager struct {
	cfg          *config.Config
	ledger       *ledger.Ledger
	eventLog     *events.Log
	authorizer   auth.Authorizer
	votingOpener VotingOpener

	events        map[string]*Event
	proposals     map[string]*Proposal
	disputes      map[string]*Dispute
	byProposal    map[string][]string // proposalID -> dispute ids
	activeByEvent map[string]string   // eventID -> active proposal id

	split rewardSplit

	mu sync.RWMutex
}

// NewManager creates a lifecycle manager
func NewManager(cfg *config.Config, lgr *ledger.Ledger, eventLog *events.Log, authorizer auth.Authorizer) *Manager {
	return &Manager{
		cfg:           cfg,
		ledger:        lgr,
		eventLog:      eventLog,
		authorizer:    authorizer,
		events:        make(map[string]*Event),
		proposals:     make(map[string]*Proposal),
		disputes:      make(map[string]*Dispute),
		byProposal:    make(map[string][]string),
		activeByEvent: make(map[string]string),
		split: rewardSplit{
			proposerRate: cfg.Oracle.ProposerRewardRate,
			disputerRate: cfg.Oracle.DisputerRewardRate,
			platformRate: cfg.Oracle.PlatformFeeRate,
		},
	}
}

// SetVotingOpener wires the arbitration manager's voting hook. Called once
// during node assembly.
func (m *Manager) SetVotingOpener(opener VotingOpener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votingOpener = opener
}

// CreateEvent registers a new oracle event
func (m *Manager) CreateEvent(creator, id, description, category string, resolutionTime int64) (*Event, error) {
	if id == "" {
		return nil, fmt.Errorf("event id cannot be empty")
	}
	if description == "" {
		return nil, fmt.Errorf("event description cannot be empty")
	}

	now := m.ledger.Now()
	if resolutionTime <= now {
		return nil, fmt.Errorf("%w: %d <= %d", ErrResolutionTimePast, resolutionTime, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.events[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, id)
	}

	event := &Event{
		ID:             id,
		Description:    description,
		Category:       category,
		CreatedAt:      now,
		ResolutionTime: resolutionTime,
		Status:         EventCreated,
	}
	m.events[id] = event

	m.eventLog.Append(events.EventCreated, id, string(EventCreated), now, map[string]string{
		"category": category,
		"creator":  creator,
	})
	log.Infow("event created", "id", id, "category", category)

	copied := *event
	return &copied, nil
}

// SubmitProposal posts a bonded outcome for an event and opens the
// liveness window. At most one active proposal may exist per event.
func (m *Manager) SubmitProposal(proposer, eventID, outcome string, confidenceScore int64, evidenceURI string, bond int64) (*Proposal, error) {
	if !m.authorizer.HasCapability(proposer, auth.CapabilityProposer) {
		return nil, fmt.Errorf("%w: %s needs %s", ErrUnauthorized, proposer, auth.CapabilityProposer)
	}
	if outcome == "" {
		return nil, fmt.Errorf("outcome cannot be empty")
	}
	if confidenceScore < 0 || confidenceScore > config.BasisPointDenominator {
		return nil, fmt.Errorf("%w: %d", ErrConfidenceOutOfRange, confidenceScore)
	}
	if confidenceScore < m.cfg.Oracle.ConfidenceFloor {
		return nil, fmt.Errorf("%w: %d below floor %d",
			ErrConfidenceOutOfRange, confidenceScore, m.cfg.Oracle.ConfidenceFloor)
	}
	if bond < m.cfg.Oracle.MinProposerBond {
		return nil, fmt.Errorf("%w: %d < %d", ErrBondTooSmall, bond, m.cfg.Oracle.MinProposerBond)
	}

	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	event, exists := m.events[eventID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}

	if event.Status != EventCreated {
		return nil, fmt.Errorf("%w: event %s is %s", ErrInvalidState, eventID, event.Status)
	}

	if _, active := m.activeByEvent[eventID]; active {
		return nil, fmt.Errorf("%w: %s", ErrActiveProposal, eventID)
	}

	outcomeHash := hashOutcome(outcome)
	proposalID := deriveID("proposal", eventID, proposer, outcomeHash, fmt.Sprintf("%d", now))
	if _, exists := m.proposals[proposalID]; exists {
		return nil, fmt.Errorf("proposal %s already exists", proposalID)
	}

	// Bond custody is taken before the proposal becomes visible
	if err := m.ledger.Transfer(proposer, ledger.OracleEscrowAccount, bond); err != nil {
		return nil, fmt.Errorf("failed to take proposer bond: %v", err)
	}

	proposal := &Proposal{
		ID:              proposalID,
		EventID:         eventID,
		Proposer:        proposer,
		OutcomeHash:     outcomeHash,
		Outcome:         outcome,
		ConfidenceScore: confidenceScore,
		EvidenceURI:     evidenceURI,
		BondAmount:      bond,
		SubmittedAt:     now,
		LivenessExpiry:  now + int64(m.cfg.Oracle.LivenessPeriod.Seconds()),
		Status:          ProposalActive,
	}
	m.proposals[proposalID] = proposal
	m.activeByEvent[eventID] = proposalID

	event.Status = EventProposed
	event.Proposer = proposer
	event.ProposerBond = bond
	event.ConfidenceScore = confidenceScore
	event.EvidenceURI = evidenceURI

	m.eventLog.Append(events.ProposalSubmitted, proposalID, string(ProposalActive), now, map[string]string{
		"event_id": eventID,
		"proposer": proposer,
		"bond":     fmt.Sprintf("%d", bond),
	})
	log.Infow("proposal submitted", "id", proposalID, "event", eventID, "bond", bond)

	copied := *proposal
	return &copied, nil
}

// FileDispute challenges an active proposal inside its liveness window
func (m *Manager) FileDispute(disputer, proposalID, reason, counterEvidenceURI string, bond int64) (*Dispute, error) {
	if !m.authorizer.HasCapability(disputer, auth.CapabilityDisputer) {
		return nil, fmt.Errorf("%w: %s needs %s", ErrUnauthorized, disputer, auth.CapabilityDisputer)
	}
	if bond < m.cfg.Oracle.MinDisputerBond {
		return nil, fmt.Errorf("%w: %d < %d", ErrBondTooSmall, bond, m.cfg.Oracle.MinDisputerBond)
	}

	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	proposal, exists := m.proposals[proposalID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}

	if proposal.Status != ProposalActive && proposal.Status != ProposalDisputed {
		return nil, fmt.Errorf("%w: proposal %s is %s", ErrInvalidState, proposalID, proposal.Status)
	}

	if now > proposal.LivenessExpiry {
		return nil, fmt.Errorf("%w: expired at %d, now %d", ErrLivenessExpired, proposal.LivenessExpiry, now)
	}

	event, exists := m.events[proposal.EventID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, proposal.EventID)
	}

	disputeID := deriveID("dispute", proposalID, disputer, fmt.Sprintf("%d", now))
	if _, exists := m.disputes[disputeID]; exists {
		return nil, fmt.Errorf("dispute %s already exists", disputeID)
	}

	if err := m.ledger.Transfer(disputer, ledger.OracleEscrowAccount, bond); err != nil {
		return nil, fmt.Errorf("failed to take disputer bond: %v", err)
	}

	dispute := &Dispute{
		ID:                 disputeID,
		ProposalID:         proposalID,
		Disputer:           disputer,
		Reason:             reason,
		CounterEvidenceURI: counterEvidenceURI,
		BondAmount:         bond,
		Timestamp:          now,
		Outcome:            DisputePending,
	}
	m.disputes[disputeID] = dispute
	m.byProposal[proposalID] = append(m.byProposal[proposalID], disputeID)

	proposal.Status = ProposalDisputed
	proposal.ChallengeCount++
	event.Status = EventDisputed
	event.DisputeCount++

	m.eventLog.Append(events.DisputeFiled, disputeID, string(DisputePending), now, map[string]string{
		"proposal_id": proposalID,
		"disputer":    disputer,
		"bond":        fmt.Sprintf("%d", bond),
	})
	log.Infow("dispute filed", "id", disputeID, "proposal", proposalID, "disputer", disputer)

	if m.votingOpener != nil {
		if err := m.votingOpener.OpenVoting(disputeID); err != nil {
			log.Warnw("failed to open arbitration voting", "dispute", disputeID, "err", err)
		}
	}

	copied := *dispute
	return &copied, nil
}

// ResolveDispute settles one dispute with a final verdict. Upholding the
// dispute slashes the proposer's bond, pays the disputer their configured
// share plus a full bond refund, and cancels the event. Rejecting it
// slashes the disputer's bond, pays the proposer's share, and restarts the
// liveness window once no unresolved disputes remain.
func (m *Manager) ResolveDispute(caller, disputeID string, outcome DisputeOutcome) error {
	if !m.authorizer.HasCapability(caller, auth.CapabilityValidator) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller, auth.CapabilityValidator)
	}
	if outcome != DisputeUpheld && outcome != DisputeRejected {
		return fmt.Errorf("invalid dispute outcome: %s", outcome)
	}

	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	dispute, exists := m.disputes[disputeID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrDisputeNotFound, disputeID)
	}
	if dispute.Resolved {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, disputeID)
	}

	proposal, exists := m.proposals[dispute.ProposalID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, dispute.ProposalID)
	}

	event, exists := m.events[proposal.EventID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrEventNotFound, proposal.EventID)
	}

	dispute.Resolved = true
	dispute.Outcome = outcome

	var err error
	if outcome == DisputeUpheld {
		err = m.applyUpheldLocked(event, proposal, dispute)
	} else {
		err = m.applyRejectedLocked(event, proposal, dispute, now)
	}
	if err != nil {
		// The apply helpers change nothing before their batch payout
		// lands, so restoring the dispute undoes the whole operation
		dispute.Resolved = false
		dispute.Outcome = DisputePending
		return err
	}

	m.eventLog.Append(events.DisputeResolved, disputeID, string(outcome), now, map[string]string{
		"proposal_id": proposal.ID,
		"event_id":    event.ID,
	})
	log.Infow("dispute resolved", "id", disputeID, "outcome", outcome)
	return nil
}

// applyUpheldLocked handles an upheld dispute: the proposer's bond is
// forfeited and split between the disputer reward, the platform fee, and
// the treasury remainder; other open disputes are refunded in full. The
// payout runs as one atomic batch before any record changes, so a transfer
// failure leaves the lifecycle untouched.
func (m *Manager) applyUpheldLocked(event *Event, proposal *Proposal, dispute *Dispute) error {
	disputerReward := proposal.BondAmount * m.split.disputerRate / config.BasisPointDenominator
	platformFee := proposal.BondAmount * m.split.platformRate / config.BasisPointDenominator
	remainder := proposal.BondAmount - disputerReward - platformFee

	// Sibling disputes lose their voting subject; their bonds are
	// returned untouched.
	var siblings []*Dispute
	payments := []ledger.Payment{
		{From: ledger.OracleEscrowAccount, To: dispute.Disputer, Amount: disputerReward + dispute.BondAmount},
		{From: ledger.OracleEscrowAccount, To: ledger.TreasuryAccount, Amount: platformFee + remainder},
	}
	for _, siblingID := range m.byProposal[proposal.ID] {
		sibling := m.disputes[siblingID]
		if sibling.ID != dispute.ID && !sibling.Resolved {
			siblings = append(siblings, sibling)
			payments = append(payments, ledger.Payment{
				From: ledger.OracleEscrowAccount, To: sibling.Disputer, Amount: sibling.BondAmount,
			})
		}
	}

	if err := m.ledger.TransferAll(nonZero(payments)); err != nil {
		return fmt.Errorf("failed to pay out upheld dispute: %v", err)
	}

	proposal.Status = ProposalRejected
	event.Status = EventCancelled
	event.RewardPool += platformFee + remainder
	delete(m.activeByEvent, event.ID)
	for _, sibling := range siblings {
		sibling.Resolved = true
		sibling.Outcome = DisputeUpheld
	}

	return nil
}

// applyRejectedLocked handles a rejected dispute: the disputer's bond is
// forfeited and split between the proposer reward, the platform fee, and
// the treasury remainder. When every dispute has been rejected the
// proposal returns to active with a fresh liveness window.
func (m *Manager) applyRejectedLocked(event *Event, proposal *Proposal, dispute *Dispute, now int64) error {
	proposerReward := dispute.BondAmount * m.split.proposerRate / config.BasisPointDenominator
	platformFee := dispute.BondAmount * m.split.platformRate / config.BasisPointDenominator
	remainder := dispute.BondAmount - proposerReward - platformFee

	err := m.ledger.TransferAll(nonZero([]ledger.Payment{
		{From: ledger.OracleEscrowAccount, To: proposal.Proposer, Amount: proposerReward},
		{From: ledger.OracleEscrowAccount, To: ledger.TreasuryAccount, Amount: platformFee + remainder},
	}))
	if err != nil {
		return fmt.Errorf("failed to pay out rejected dispute: %v", err)
	}

	event.RewardPool += platformFee + remainder
	if !m.hasUnresolvedDisputesLocked(proposal.ID) {
		proposal.Status = ProposalActive
		proposal.LivenessExpiry = now + int64(m.cfg.Oracle.LivenessPeriod.Seconds())
		event.Status = EventProposed
	}

	return nil
}

// ReopenDispute reverses a dispute verdict so a fresh arbitration round can
// settle it again. The first round's payouts are clawed back into escrow
// and the dispute, proposal and event return to their disputed states.
// Reopening is blocked once the event has settled or the proposal has been
// finalized or expired, because those transitions supersede the verdict.
func (m *Manager) ReopenDispute(caller, disputeID string) error {
	if !m.authorizer.HasCapability(caller, auth.CapabilityValidator) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller, auth.CapabilityValidator)
	}

	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	dispute, exists := m.disputes[disputeID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrDisputeNotFound, disputeID)
	}
	if !dispute.Resolved {
		return fmt.Errorf("%w: %s", ErrNotResolved, disputeID)
	}

	proposal, exists := m.proposals[dispute.ProposalID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, dispute.ProposalID)
	}

	event, exists := m.events[proposal.EventID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrEventNotFound, proposal.EventID)
	}

	if event.Settled {
		return fmt.Errorf("%w: %s", ErrAlreadySettled, event.ID)
	}
	if proposal.Status == ProposalFinalized || proposal.Status == ProposalExpired {
		return fmt.Errorf("%w: proposal %s is %s", ErrInvalidState, proposal.ID, proposal.Status)
	}

	var err error
	switch dispute.Outcome {
	case DisputeUpheld:
		err = m.reopenUpheldLocked(event, proposal, dispute)
	case DisputeRejected:
		err = m.reopenRejectedLocked(event, proposal, dispute)
	default:
		return fmt.Errorf("%w: dispute %s has outcome %s", ErrInvalidState, disputeID, dispute.Outcome)
	}
	if err != nil {
		return err
	}

	m.eventLog.Append(events.DisputeReopened, disputeID, string(DisputePending), now, map[string]string{
		"proposal_id": proposal.ID,
		"event_id":    event.ID,
	})
	log.Infow("dispute reopened", "id", disputeID, "proposal", proposal.ID)
	return nil
}

// reopenUpheldLocked claws back an upheld verdict: the disputer returns the
// reward and bond, the treasury returns the forfeits, and collaterally
// refunded siblings re-post their bonds. The cancelled event and rejected
// proposal come back as disputed.
func (m *Manager) reopenUpheldLocked(event *Event, proposal *Proposal, dispute *Dispute) error {
	disputerReward := proposal.BondAmount * m.split.disputerRate / config.BasisPointDenominator
	platformFee := proposal.BondAmount * m.split.platformRate / config.BasisPointDenominator
	remainder := proposal.BondAmount - disputerReward - platformFee

	// Siblings that were closed as collateral damage of this verdict are
	// the ones marked upheld without a verdict of their own.
	var siblings []*Dispute
	payments := []ledger.Payment{
		{From: dispute.Disputer, To: ledger.OracleEscrowAccount, Amount: disputerReward + dispute.BondAmount},
		{From: ledger.TreasuryAccount, To: ledger.OracleEscrowAccount, Amount: platformFee + remainder},
	}
	for _, siblingID := range m.byProposal[proposal.ID] {
		sibling := m.disputes[siblingID]
		if sibling.ID != dispute.ID && sibling.Resolved && sibling.Outcome == DisputeUpheld {
			siblings = append(siblings, sibling)
			payments = append(payments, ledger.Payment{
				From: sibling.Disputer, To: ledger.OracleEscrowAccount, Amount: sibling.BondAmount,
			})
		}
	}

	if err := m.ledger.TransferAll(nonZero(payments)); err != nil {
		return fmt.Errorf("failed to claw back upheld payout: %v", err)
	}

	dispute.Resolved = false
	dispute.Outcome = DisputePending
	for _, sibling := range siblings {
		sibling.Resolved = false
		sibling.Outcome = DisputePending
	}
	proposal.Status = ProposalDisputed
	event.Status = EventDisputed
	event.RewardPool -= platformFee + remainder
	m.activeByEvent[event.ID] = proposal.ID

	return nil
}

// reopenRejectedLocked claws back a rejected verdict: the proposer returns
// the reward share and the treasury returns the forfeits. The proposal
// returns to disputed, freezing any restarted liveness window.
func (m *Manager) reopenRejectedLocked(event *Event, proposal *Proposal, dispute *Dispute) error {
	proposerReward := dispute.BondAmount * m.split.proposerRate / config.BasisPointDenominator
	platformFee := dispute.BondAmount * m.split.platformRate / config.BasisPointDenominator
	remainder := dispute.BondAmount - proposerReward - platformFee

	err := m.ledger.TransferAll(nonZero([]ledger.Payment{
		{From: proposal.Proposer, To: ledger.OracleEscrowAccount, Amount: proposerReward},
		{From: ledger.TreasuryAccount, To: ledger.OracleEscrowAccount, Amount: platformFee + remainder},
	}))
	if err != nil {
		return fmt.Errorf("failed to claw back rejected payout: %v", err)
	}

	dispute.Resolved = false
	dispute.Outcome = DisputePending
	proposal.Status = ProposalDisputed
	event.Status = EventDisputed
	event.RewardPool -= platformFee + remainder

	return nil
}

// FinalizeEvent adopts the proposal outcome once the liveness window has
// elapsed with no unresolved disputes
func (m *Manager) FinalizeEvent(eventID string) error {
	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	event, exists := m.events[eventID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}

	if event.Status != EventProposed {
		return fmt.Errorf("%w: event %s is %s", ErrInvalidState, eventID, event.Status)
	}

	proposalID, active := m.activeByEvent[eventID]
	if !active {
		return fmt.Errorf("%w: event %s", ErrProposalNotFound, eventID)
	}
	proposal := m.proposals[proposalID]

	if now <= proposal.LivenessExpiry {
		return fmt.Errorf("%w: expires at %d, now %d", ErrLivenessNotExpired, proposal.LivenessExpiry, now)
	}

	if m.hasUnresolvedDisputesLocked(proposalID) {
		return fmt.Errorf("%w: %s", ErrUnresolvedDisputes, proposalID)
	}

	proposal.Status = ProposalFinalized
	event.Status = EventResolved
	event.Outcome = proposal.Outcome
	event.OutcomeHash = proposal.OutcomeHash

	m.eventLog.Append(events.EventResolved, eventID, string(EventResolved), now, map[string]string{
		"proposal_id": proposalID,
		"outcome":     proposal.Outcome,
	})
	log.Infow("event resolved", "id", eventID, "outcome", proposal.Outcome)
	return nil
}

// SettleEvent pays out the proposer bond per the reward split and freezes
// the event permanently
func (m *Manager) SettleEvent(eventID string) error {
	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	event, exists := m.events[eventID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}

	if event.Settled {
		return fmt.Errorf("%w: %s", ErrAlreadySettled, eventID)
	}
	if event.Status != EventResolved {
		return fmt.Errorf("%w: event %s is %s", ErrInvalidState, eventID, event.Status)
	}

	proposalID := m.activeByEvent[eventID]
	proposal, exists := m.proposals[proposalID]
	if !exists || proposal.Status != ProposalFinalized {
		return fmt.Errorf("%w: event %s", ErrProposalNotFound, eventID)
	}

	platformFee := proposal.BondAmount * m.split.platformRate / config.BasisPointDenominator
	proposerShare := proposal.BondAmount - platformFee

	err := m.ledger.TransferAll(nonZero([]ledger.Payment{
		{From: ledger.OracleEscrowAccount, To: proposal.Proposer, Amount: proposerShare},
		{From: ledger.OracleEscrowAccount, To: ledger.TreasuryAccount, Amount: platformFee},
	}))
	if err != nil {
		return fmt.Errorf("failed to settle event: %v", err)
	}

	proposal.Executed = true
	event.Settled = true
	event.Status = EventSettled
	event.RewardPool += platformFee
	delete(m.activeByEvent, eventID)

	m.eventLog.Append(events.EventSettled, eventID, string(EventSettled), now, map[string]string{
		"proposer_share": fmt.Sprintf("%d", proposerShare),
		"platform_fee":   fmt.Sprintf("%d", platformFee),
	})
	log.Infow("event settled", "id", eventID, "proposer_share", proposerShare)
	return nil
}

// ExpireProposal force-closes a stalled proposal, refunding the proposer's
// bond in full along with any open dispute bonds. Admin only.
func (m *Manager) ExpireProposal(admin, proposalID string) error {
	if !m.authorizer.HasCapability(admin, auth.CapabilityAdmin) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, admin, auth.CapabilityAdmin)
	}

	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	proposal, exists := m.proposals[proposalID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}

	if proposal.Status != ProposalActive && proposal.Status != ProposalDisputed {
		return fmt.Errorf("%w: proposal %s is %s", ErrInvalidState, proposalID, proposal.Status)
	}

	event := m.events[proposal.EventID]

	var refunds []*Dispute
	payments := []ledger.Payment{
		{From: ledger.OracleEscrowAccount, To: proposal.Proposer, Amount: proposal.BondAmount},
	}
	for _, disputeID := range m.byProposal[proposalID] {
		dispute := m.disputes[disputeID]
		if !dispute.Resolved {
			refunds = append(refunds, dispute)
			payments = append(payments, ledger.Payment{
				From: ledger.OracleEscrowAccount, To: dispute.Disputer, Amount: dispute.BondAmount,
			})
		}
	}

	if err := m.ledger.TransferAll(payments); err != nil {
		return fmt.Errorf("failed to refund expired proposal: %v", err)
	}

	proposal.Status = ProposalExpired
	delete(m.activeByEvent, proposal.EventID)
	for _, dispute := range refunds {
		dispute.Resolved = true
		dispute.Outcome = DisputeRejected
	}

	// The event reopens for fresh proposals
	event.Status = EventCreated
	event.Proposer = ""
	event.ProposerBond = 0
	event.ConfidenceScore = 0
	event.EvidenceURI = ""

	m.eventLog.Append(events.ProposalExpired, proposalID, string(ProposalExpired), now, map[string]string{
		"event_id": proposal.EventID,
	})
	log.Infow("proposal expired by admin", "id", proposalID, "admin", admin)
	return nil
}

// UpdateRewardSplit changes the payout split. The three rates must sum to
// 10000 basis points.
func (m *Manager) UpdateRewardSplit(admin string, proposerRate, disputerRate, platformRate int64) error {
	if !m.authorizer.HasCapability(admin, auth.CapabilityAdmin) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, admin, auth.CapabilityAdmin)
	}

	if proposerRate < 0 || disputerRate < 0 || platformRate < 0 ||
		proposerRate+disputerRate+platformRate != config.BasisPointDenominator {
		return fmt.Errorf("%w: %d + %d + %d", ErrInvalidSplit, proposerRate, disputerRate, platformRate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.split = rewardSplit{
		proposerRate: proposerRate,
		disputerRate: disputerRate,
		platformRate: platformRate,
	}

	log.Infow("reward split updated", "proposer", proposerRate, "disputer", disputerRate, "platform", platformRate)
	return nil
}

// GetEvent returns a copy of an event by id
func (m *Manager) GetEvent(id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	event, exists := m.events[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}

	copied := *event
	return &copied, nil
}

// GetProposal returns a copy of a proposal by id
func (m *Manager) GetProposal(id string) (*Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	proposal, exists := m.proposals[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}

	copied := *proposal
	return &copied, nil
}

// GetDispute returns a copy of a dispute by id
func (m *Manager) GetDispute(id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dispute, exists := m.disputes[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDisputeNotFound, id)
	}

	copied := *dispute
	return &copied, nil
}

// DisputesForProposal returns copies of all disputes filed against a proposal
func (m *Manager) DisputesForProposal(proposalID string) []*Dispute {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var disputes []*Dispute
	for _, disputeID := range m.byProposal[proposalID] {
		copied := *m.disputes[disputeID]
		disputes = append(disputes, &copied)
	}
	return disputes
}

// ActiveProposal returns the active proposal for an event, if any
func (m *Manager) ActiveProposal(eventID string) (*Proposal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	proposalID, exists := m.activeByEvent[eventID]
	if !exists {
		return nil, false
	}

	copied := *m.proposals[proposalID]
	return &copied, true
}

// DisputeParties returns the disputer and proposer behind a dispute. Used
// by arbitration to authorize appeals.
func (m *Manager) DisputeParties(disputeID string) (disputer, proposer string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dispute, exists := m.disputes[disputeID]
	if !exists {
		return "", "", fmt.Errorf("%w: %s", ErrDisputeNotFound, disputeID)
	}

	proposal, exists := m.proposals[dispute.ProposalID]
	if !exists {
		return "", "", fmt.Errorf("%w: %s", ErrProposalNotFound, dispute.ProposalID)
	}

	return dispute.Disputer, proposal.Proposer, nil
}

// Counts returns aggregate entity counts for the status surface
func (m *Manager) Counts() (eventCount, proposalCount, disputeCount int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events), len(m.proposals), len(m.disputes)
}

// hasUnresolvedDisputesLocked reports whether any dispute on a proposal is
// still pending. Callers must hold the lock.
func (m *Manager) hasUnresolvedDisputesLocked(proposalID string) bool {
	for _, disputeID := range m.byProposal[proposalID] {
		if !m.disputes[disputeID].Resolved {
			return true
		}
	}
	return false
}

// nonZero drops zero-amount legs so a payout whose split leaves a share
// empty still forms a valid batch
func nonZero(payments []ledger.Payment) []ledger.Payment {
	filtered := payments[:0]
	for _, payment := range payments {
		if payment.Amount > 0 {
			filtered = append(filtered, payment)
		}
	}
	return filtered
}

// hashOutcome derives the canonical outcome hash
func hashOutcome(outcome string) string {
	hash := blake2b.Sum256([]byte(outcome))
	return fmt.Sprintf("%x", hash)
}

// deriveID builds a content-derived identifier from its parts
func deriveID(parts ...string) string {
	var data []byte
	for _, part := range parts {
		data = append(data, []byte(part)...)
		data = append(data, 0)
	}

	hash := blake2b.Sum256(data)
	return fmt.Sprintf("%x", hash[:16])
}
