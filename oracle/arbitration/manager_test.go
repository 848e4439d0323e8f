package arbitration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UncleTom29/predictlink-evm/auth"
	"github.com/UncleTom29/predictlink-evm/config"
	"github.com/UncleTom29/predictlink-evm/core/events"
	"github.com/UncleTom29/predictlink-evm/core/ledger"
	"github.com/UncleTom29/predictlink-evm/oracle/lifecycle"
)

const principal = "test:arbitration"

type fixture struct {
	cfg         *config.Config
	ledger      *ledger.Ledger
	authorizer  *auth.Registry
	lifecycle   *lifecycle.Manager
	arbitration *Manager
	now         int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		cfg:        config.DefaultConfig(),
		ledger:     ledger.NewLedger(),
		authorizer: auth.NewRegistry(),
		now:        1_000_000,
	}
	f.ledger.SetClock(func() int64 { return f.now })

	eventLog := events.NewLog()
	f.lifecycle = lifecycle.NewManager(f.cfg, f.ledger, eventLog, f.authorizer)
	f.arbitration = NewManager(f.cfg, f.ledger, eventLog, f.authorizer, principal)
	f.lifecycle.SetVotingOpener(f.arbitration)
	f.arbitration.SetResolver(f.lifecycle)

	require.NoError(t, f.authorizer.Grant("0xproposer", auth.CapabilityProposer))
	require.NoError(t, f.authorizer.Grant("0xdisputer", auth.CapabilityDisputer))
	require.NoError(t, f.authorizer.Grant(principal, auth.CapabilityValidator))
	for _, arb := range []string{"0xarb1", "0xarb2", "0xarb3", "0xarb4"} {
		require.NoError(t, f.authorizer.Grant(arb, auth.CapabilityArbitrator))
	}
	return f
}

func (f *fixture) advance(seconds int64) {
	f.now += seconds
}

func (f *fixture) votingSeconds() int64 {
	return int64(f.cfg.Arbitration.VotingPeriod.Seconds())
}

// openDispute walks an event to a filed dispute and returns the dispute id
func (f *fixture) openDispute(t *testing.T, eventID string) string {
	t.Helper()

	_, err := f.lifecycle.CreateEvent("0xcreator", eventID, "desc", "sports", f.now+1_000_000)
	require.NoError(t, err)

	require.NoError(t, f.ledger.Mint("0xproposer", 1000))
	proposal, err := f.lifecycle.SubmitProposal("0xproposer", eventID, "yes", 9000, "", 1000)
	require.NoError(t, err)

	require.NoError(t, f.ledger.Mint("0xdisputer", 500))
	dispute, err := f.lifecycle.FileDispute("0xdisputer", proposal.ID, "wrong", "", 500)
	require.NoError(t, err)

	return dispute.ID
}

func TestVotingOpensWhenDisputeFiled(t *testing.T) {
	f := newFixture(t)
	disputeID := f.openDispute(t, "e-1")

	voting, err := f.arbitration.GetVoting(disputeID)
	require.NoError(t, err)
	assert.Equal(t, f.now+f.votingSeconds(), voting.Deadline)
	assert.False(t, voting.Resolved)
	assert.Empty(t, voting.Votes)
}

func TestCastVoteRules(t *testing.T) {
	f := newFixture(t)
	disputeID := f.openDispute(t, "e-1")

	assert.ErrorIs(t, f.arbitration.CastVote("0xeve", disputeID, true, ""), ErrUnauthorized)
	assert.ErrorIs(t, f.arbitration.CastVote("0xarb1", "d-missing", true, ""), ErrVotingNotFound)

	require.NoError(t, f.arbitration.CastVote("0xarb1", disputeID, true, "evidence is solid"))
	assert.ErrorIs(t, f.arbitration.CastVote("0xarb1", disputeID, false, ""), ErrAlreadyVoted)

	f.advance(f.votingSeconds() + 1)
	assert.ErrorIs(t, f.arbitration.CastVote("0xarb2", disputeID, true, ""), ErrVotingClosed)
}

func TestResolveRequiresDeadlineAndQuorum(t *testing.T) {
	f := newFixture(t)
	disputeID := f.openDispute(t, "e-1")

	require.NoError(t, f.arbitration.CastVote("0xarb1", disputeID, true, ""))
	require.NoError(t, f.arbitration.CastVote("0xarb2", disputeID, true, ""))

	// Deadline gate
	assert.ErrorIs(t, f.arbitration.ResolveDispute(disputeID), ErrVotingOpen)

	// Quorum gate: 2 votes, need 5 arbitrators at 60% = 3
	f.advance(f.votingSeconds() + 1)
	assert.ErrorIs(t, f.arbitration.ResolveDispute(disputeID), ErrQuorumNotMet)
}

func TestMajorityUpholdsDispute(t *testing.T) {
	f := newFixture(t)
	disputeID := f.openDispute(t, "e-1")

	require.NoError(t, f.arbitration.CastVote("0xarb1", disputeID, true, ""))
	require.NoError(t, f.arbitration.CastVote("0xarb2", disputeID, true, ""))
	require.NoError(t, f.arbitration.CastVote("0xarb3", disputeID, false, ""))

	f.advance(f.votingSeconds() + 1)
	require.NoError(t, f.arbitration.ResolveDispute(disputeID))

	dispute, err := f.lifecycle.GetDispute(disputeID)
	require.NoError(t, err)
	assert.True(t, dispute.Resolved)
	assert.Equal(t, lifecycle.DisputeUpheld, dispute.Outcome)

	// Winning side gains reputation, losing side is floored at zero
	assert.Equal(t, int64(10), f.arbitration.Reputation("0xarb1"))
	assert.Equal(t, int64(10), f.arbitration.Reputation("0xarb2"))
	assert.Equal(t, int64(0), f.arbitration.Reputation("0xarb3"))

	// Terminal
	assert.ErrorIs(t, f.arbitration.ResolveDispute(disputeID), ErrVotingResolved)
}

func TestTieRejectsDispute(t *testing.T) {
	f := newFixture(t)
	disputeID := f.openDispute(t, "e-1")

	require.NoError(t, f.arbitration.CastVote("0xarb1", disputeID, true, ""))
	require.NoError(t, f.arbitration.CastVote("0xarb2", disputeID, true, ""))
	require.NoError(t, f.arbitration.CastVote("0xarb3", disputeID, false, ""))
	require.NoError(t, f.arbitration.CastVote("0xarb4", disputeID, false, ""))

	f.advance(f.votingSeconds() + 1)
	require.NoError(t, f.arbitration.ResolveDispute(disputeID))

	dispute, err := f.lifecycle.GetDispute(disputeID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.DisputeRejected, dispute.Outcome)
}

func TestAppealReopensVoting(t *testing.T) {
	f := newFixture(t)
	disputeID := f.openDispute(t, "e-1")

	require.NoError(t, f.arbitration.CastVote("0xarb1", disputeID, false, ""))
	require.NoError(t, f.arbitration.CastVote("0xarb2", disputeID, false, ""))
	require.NoError(t, f.arbitration.CastVote("0xarb3", disputeID, false, ""))

	f.advance(f.votingSeconds() + 1)
	require.NoError(t, f.arbitration.ResolveDispute(disputeID))

	// First round rejects: the proposer keeps their 60% share for now
	assert.Equal(t, int64(300), f.ledger.Balance("0xproposer"))

	// Only a party to the dispute may appeal
	require.NoError(t, f.ledger.Mint("0xstranger", 5000))
	assert.ErrorIs(t, f.arbitration.AppealDispute("0xstranger", disputeID), ErrNotParty)

	// The rejected disputer appeals: the bond lands in the treasury and
	// the first round's payouts are clawed back into escrow
	require.NoError(t, f.ledger.Mint("0xdisputer", f.cfg.Arbitration.AppealBond))
	require.NoError(t, f.arbitration.AppealDispute("0xdisputer", disputeID))
	assert.Equal(t, f.cfg.Arbitration.AppealBond, f.ledger.Balance(ledger.TreasuryAccount))
	assert.Equal(t, int64(0), f.ledger.Balance("0xproposer"))
	assert.Equal(t, int64(1500), f.ledger.Balance(ledger.OracleEscrowAccount))

	voting, err := f.arbitration.GetVoting(disputeID)
	require.NoError(t, err)
	assert.False(t, voting.Resolved)
	assert.Equal(t, 1, voting.AppealCount)
	assert.Empty(t, voting.Votes)
	assert.Equal(t, f.now+f.votingSeconds(), voting.Deadline)

	// The lifecycle dispute is pending again
	dispute, err := f.lifecycle.GetDispute(disputeID)
	require.NoError(t, err)
	assert.False(t, dispute.Resolved)
	assert.Equal(t, lifecycle.DisputePending, dispute.Outcome)

	// The appeal round runs to its own verdict, overturning the first
	require.NoError(t, f.arbitration.CastVote("0xarb1", disputeID, true, "changed my mind"))
	require.NoError(t, f.arbitration.CastVote("0xarb2", disputeID, true, ""))
	require.NoError(t, f.arbitration.CastVote("0xarb3", disputeID, true, ""))

	f.advance(f.votingSeconds() + 1)
	require.NoError(t, f.arbitration.ResolveDispute(disputeID))

	dispute, err = f.lifecycle.GetDispute(disputeID)
	require.NoError(t, err)
	assert.True(t, dispute.Resolved)
	assert.Equal(t, lifecycle.DisputeUpheld, dispute.Outcome)

	// Upheld payout: 30% of the proposer bond plus the dispute bond back
	assert.Equal(t, int64(800), f.ledger.Balance("0xdisputer"))
	assert.Equal(t, f.cfg.Arbitration.AppealBond+700, f.ledger.Balance(ledger.TreasuryAccount))
	assert.Equal(t, int64(0), f.ledger.Balance(ledger.OracleEscrowAccount))

	event, err := f.lifecycle.GetEvent("e-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.EventCancelled, event.Status)
}

func TestAppealBlockedAfterFinalization(t *testing.T) {
	f := newFixture(t)
	disputeID := f.openDispute(t, "e-1")

	require.NoError(t, f.arbitration.CastVote("0xarb1", disputeID, false, ""))
	require.NoError(t, f.arbitration.CastVote("0xarb2", disputeID, false, ""))
	require.NoError(t, f.arbitration.CastVote("0xarb3", disputeID, false, ""))

	f.advance(f.votingSeconds() + 1)
	require.NoError(t, f.arbitration.ResolveDispute(disputeID))

	// The rejected proposal's restarted liveness window runs out and the
	// event is finalized before anyone appeals
	f.advance(int64(f.cfg.Oracle.LivenessPeriod.Seconds()) + 1)
	require.NoError(t, f.lifecycle.FinalizeEvent("e-1"))

	require.NoError(t, f.ledger.Mint("0xdisputer", f.cfg.Arbitration.AppealBond))
	err := f.arbitration.AppealDispute("0xdisputer", disputeID)
	assert.Error(t, err)

	// The appeal bond is returned when the verdict can no longer be unwound
	assert.Equal(t, f.cfg.Arbitration.AppealBond, f.ledger.Balance("0xdisputer"))

	voting, err := f.arbitration.GetVoting(disputeID)
	require.NoError(t, err)
	assert.True(t, voting.Resolved)
	assert.Equal(t, 0, voting.AppealCount)
}

func TestAppealRequiresResolvedVoting(t *testing.T) {
	f := newFixture(t)
	disputeID := f.openDispute(t, "e-1")

	require.NoError(t, f.ledger.Mint("0xdisputer", f.cfg.Arbitration.AppealBond))
	assert.ErrorIs(t, f.arbitration.AppealDispute("0xdisputer", disputeID), ErrVotingUnresolved)
}

func TestDuplicateVotingSession(t *testing.T) {
	f := newFixture(t)
	disputeID := f.openDispute(t, "e-1")

	assert.ErrorIs(t, f.arbitration.OpenVoting(disputeID), ErrDuplicateVoting)
	assert.Equal(t, 1, f.arbitration.VotingCount())
}
