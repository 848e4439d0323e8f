// Package arbitration implements community voting over filed disputes. A
// voting session opens when a dispute is filed, arbitrators vote to uphold
// or reject it, and after the voting deadline the tally is converted into
// a dispute verdict. Either original party may appeal a verdict once per
// round by posting an appeal bond, which reopens the session.
package arbitration

import (
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/UncleTom29/predictlink-evm/auth"
	"github.com/UncleTom29/predictlink-evm/config"
	"github.com/UncleTom29/predictlink-evm/core/events"
	"github.com/UncleTom29/predictlink-evm/core/ledger"
	"github.com/UncleTom29/predictlink-evm/oracle/lifecycle"
)

var log = logging.Logger("arbitration")

const (
	reputationReward  = int64(10)
	reputationPenalty = int64(5)
)

var (
	ErrUnauthorized     = errors.New("caller lacks required capability")
	ErrVotingNotFound   = errors.New("voting session not found")
	ErrDuplicateVoting  = errors.New("voting session already exists")
	ErrVotingClosed     = errors.New("voting deadline has passed")
	ErrVotingOpen       = errors.New("voting deadline has not passed")
	ErrVotingResolved   = errors.New("voting session already resolved")
	ErrVotingUnresolved = errors.New("voting session has not been resolved")
	ErrAlreadyVoted     = errors.New("arbitrator already voted")
	ErrQuorumNotMet     = errors.New("quorum not met")
	ErrNotParty         = errors.New("appellant is not a party to the dispute")
	ErrNoResolver       = errors.New("dispute resolver not wired")
)

// Vote is a single arbitrator ballot
type Vote struct {
	Arbitrator    string `json:"arbitrator"`
	Support       bool   `json:"support"`
	Justification string `json:"justification"`
	Timestamp     int64  `json:"timestamp"`
}

// Voting is the ballot box for one dispute
type Voting struct {
	DisputeID   string           `json:"dispute_id"`
	OpenedAt    int64            `json:"opened_at"`
	Deadline    int64            `json:"deadline"`
	Upvotes     int              `json:"upvotes"`
	Downvotes   int              `json:"downvotes"`
	Votes       map[string]*Vote `json:"votes"`
	Resolved    bool             `json:"resolved"`
	AppealCount int              `json:"appeal_count"`
}

// DisputeResolver is the lifecycle surface arbitration drives. The
// lifecycle manager satisfies it directly.
type DisputeResolver interface {
	ResolveDispute(caller, disputeID string, outcome lifecycle.DisputeOutcome) error
	ReopenDispute(caller, disputeID string) error
	DisputeParties(disputeID string) (disputer, proposer string, err error)
}

// Manager runs arbitration voting sessions
type Manager struct {
	cfg        *config.Config
	ledger     *ledger.Ledger
	eventLog   *events.Log
	authorizer auth.Authorizer
	resolver   DisputeResolver

	// principal is the identity arbitration acts under when driving the
	// dispute resolver; it is granted the validator capability at node
	// assembly.
	principal string

	votings    map[string]*Voting
	reputation map[string]int64

	mu sync.RWMutex
}

// NewManager creates an arbitration manager acting under the given principal
func NewManager(cfg *config.Config, lgr *ledger.Ledger, eventLog *events.Log, authorizer auth.Authorizer, principal string) *Manager {
	return &Manager{
		cfg:        cfg,
		ledger:     lgr,
		eventLog:   eventLog,
		authorizer: authorizer,
		principal:  principal,
		votings:    make(map[string]*Voting),
		reputation: make(map[string]int64),
	}
}

// SetResolver wires the lifecycle manager. Called once during node assembly.
func (m *Manager) SetResolver(resolver DisputeResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolver = resolver
}

// OpenVoting starts a voting session for a freshly filed dispute. The
// lifecycle manager calls this through its voting hook.
func (m *Manager) OpenVoting(disputeID string) error {
	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.votings[disputeID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVoting, disputeID)
	}

	m.votings[disputeID] = &Voting{
		DisputeID: disputeID,
		OpenedAt:  now,
		Deadline:  now + int64(m.cfg.Arbitration.VotingPeriod.Seconds()),
		Votes:     make(map[string]*Vote),
	}

	log.Infow("voting opened", "dispute", disputeID, "deadline", m.votings[disputeID].Deadline)
	return nil
}

// CastVote records one arbitrator ballot. Each arbitrator votes at most
// once per voting round.
func (m *Manager) CastVote(arbitrator, disputeID string, support bool, justification string) error {
	if !m.authorizer.HasCapability(arbitrator, auth.CapabilityArbitrator) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, arbitrator, auth.CapabilityArbitrator)
	}

	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	voting, exists := m.votings[disputeID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrVotingNotFound, disputeID)
	}
	if voting.Resolved {
		return fmt.Errorf("%w: %s", ErrVotingResolved, disputeID)
	}
	if now > voting.Deadline {
		return fmt.Errorf("%w: deadline %d, now %d", ErrVotingClosed, voting.Deadline, now)
	}
	if _, voted := voting.Votes[arbitrator]; voted {
		return fmt.Errorf("%w: %s on %s", ErrAlreadyVoted, arbitrator, disputeID)
	}

	voting.Votes[arbitrator] = &Vote{
		Arbitrator:    arbitrator,
		Support:       support,
		Justification: justification,
		Timestamp:     now,
	}
	if support {
		voting.Upvotes++
	} else {
		voting.Downvotes++
	}

	m.eventLog.Append(events.VoteCast, disputeID, fmt.Sprintf("%d/%d", voting.Upvotes, voting.Downvotes), now, map[string]string{
		"arbitrator": arbitrator,
		"support":    fmt.Sprintf("%t", support),
	})
	log.Debugw("vote cast", "dispute", disputeID, "arbitrator", arbitrator, "support", support)
	return nil
}

// ResolveDispute closes a voting session after its deadline and converts
// the tally into a dispute verdict. A strict upvote majority upholds the
// dispute; ties reject it. Arbitrators on the winning side gain
// reputation, the losing side loses it.
func (m *Manager) ResolveDispute(disputeID string) error {
	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolver == nil {
		return ErrNoResolver
	}

	voting, exists := m.votings[disputeID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrVotingNotFound, disputeID)
	}
	if voting.Resolved {
		return fmt.Errorf("%w: %s", ErrVotingResolved, disputeID)
	}
	if now <= voting.Deadline {
		return fmt.Errorf("%w: deadline %d, now %d", ErrVotingOpen, voting.Deadline, now)
	}

	totalVotes := voting.Upvotes + voting.Downvotes
	quorum := m.cfg.Arbitration.MinArbitrators * m.cfg.Arbitration.QuorumPercentage / 100
	if quorum < 1 {
		quorum = 1
	}
	if totalVotes < quorum {
		return fmt.Errorf("%w: %d votes, need %d", ErrQuorumNotMet, totalVotes, quorum)
	}

	outcome := lifecycle.DisputeRejected
	if voting.Upvotes > voting.Downvotes {
		outcome = lifecycle.DisputeUpheld
	}

	if err := m.resolver.ResolveDispute(m.principal, disputeID, outcome); err != nil {
		return fmt.Errorf("failed to apply verdict for dispute %s: %v", disputeID, err)
	}

	voting.Resolved = true
	upheld := outcome == lifecycle.DisputeUpheld
	for _, vote := range voting.Votes {
		if vote.Support == upheld {
			m.reputation[vote.Arbitrator] += reputationReward
		} else {
			m.reputation[vote.Arbitrator] -= reputationPenalty
			if m.reputation[vote.Arbitrator] < 0 {
				m.reputation[vote.Arbitrator] = 0
			}
		}
	}

	log.Infow("voting resolved", "dispute", disputeID, "outcome", outcome,
		"upvotes", voting.Upvotes, "downvotes", voting.Downvotes)
	return nil
}

// AppealDispute reopens a resolved voting session and unwinds the first
// round's verdict in the lifecycle so the appeal round can apply its own.
// Only the original disputer or proposer may appeal, and the appeal bond
// is forfeited to the treasury regardless of the appeal's eventual outcome.
func (m *Manager) AppealDispute(appellant, disputeID string) error {
	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolver == nil {
		return ErrNoResolver
	}

	voting, exists := m.votings[disputeID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrVotingNotFound, disputeID)
	}
	if !voting.Resolved {
		return fmt.Errorf("%w: %s", ErrVotingUnresolved, disputeID)
	}

	disputer, proposer, err := m.resolver.DisputeParties(disputeID)
	if err != nil {
		return fmt.Errorf("failed to look up dispute parties: %v", err)
	}
	if appellant != disputer && appellant != proposer {
		return fmt.Errorf("%w: %s", ErrNotParty, appellant)
	}

	if err := m.ledger.Transfer(appellant, ledger.TreasuryAccount, m.cfg.Arbitration.AppealBond); err != nil {
		return fmt.Errorf("failed to take appeal bond: %v", err)
	}

	// The lifecycle claws back the first round's payouts; if the verdict
	// can no longer be unwound the appeal bond goes back too.
	if err := m.resolver.ReopenDispute(m.principal, disputeID); err != nil {
		if refundErr := m.ledger.Transfer(ledger.TreasuryAccount, appellant, m.cfg.Arbitration.AppealBond); refundErr != nil {
			log.Errorw("failed to refund appeal bond", "dispute", disputeID, "appellant", appellant, "err", refundErr)
		}
		return fmt.Errorf("failed to reopen dispute %s: %v", disputeID, err)
	}

	voting.Resolved = false
	voting.Upvotes = 0
	voting.Downvotes = 0
	voting.Votes = make(map[string]*Vote)
	voting.Deadline = now + int64(m.cfg.Arbitration.VotingPeriod.Seconds())
	voting.AppealCount++

	m.eventLog.Append(events.DisputeAppealed, disputeID, fmt.Sprintf("round-%d", voting.AppealCount+1), now, map[string]string{
		"appellant": appellant,
		"bond":      fmt.Sprintf("%d", m.cfg.Arbitration.AppealBond),
	})
	log.Infow("dispute appealed", "dispute", disputeID, "appellant", appellant, "round", voting.AppealCount+1)
	return nil
}

// GetVoting returns a copy of a voting session
func (m *Manager) GetVoting(disputeID string) (*Voting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	voting, exists := m.votings[disputeID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrVotingNotFound, disputeID)
	}

	copied := *voting
	copied.Votes = make(map[string]*Vote, len(voting.Votes))
	for arbitrator, vote := range voting.Votes {
		voteCopy := *vote
		copied.Votes[arbitrator] = &voteCopy
	}
	return &copied, nil
}

// Reputation returns an arbitrator's accumulated reputation score
func (m *Manager) Reputation(arbitrator string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reputation[arbitrator]
}

// VotingCount returns the number of voting sessions ever opened
func (m *Manager) VotingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.votings)
}
