package slashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UncleTom29/predictlink-evm/auth"
	"github.com/UncleTom29/predictlink-evm/config"
	"github.com/UncleTom29/predictlink-evm/core/events"
	"github.com/UncleTom29/predictlink-evm/core/ledger"
	"github.com/UncleTom29/predictlink-evm/staking"
)

type fixture struct {
	cfg        *config.Config
	ledger     *ledger.Ledger
	authorizer *auth.Registry
	staking    *staking.Manager
	governor   *Governor
	now        int64
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
	f.staking = staking.NewManager(f.cfg, f.ledger, eventLog, f.authorizer)
	f.governor = NewGovernor(f.cfg, f.ledger, eventLog, f.authorizer, f.staking)
	f.staking.SetBlacklist(f.governor)

	require.NoError(t, f.authorizer.Grant("0xreporter", auth.CapabilityReporter))
	for _, approver := range []string{"0xapprover1", "0xapprover2", "0xapprover3"} {
		require.NoError(t, f.authorizer.Grant(approver, auth.CapabilitySlasher))
	}
	require.NoError(t, f.authorizer.Grant("0xadmin", auth.CapabilityAdmin))
	return f
}

func (f *fixture) advance(seconds int64) {
	f.now += seconds
}

func (f *fixture) stakeTarget(t *testing.T, target string, amount int64) {
	t.Helper()
	require.NoError(t, f.ledger.Mint(target, amount))
	require.NoError(t, f.staking.Stake(target, amount))
}

func (f *fixture) approveAll(t *testing.T, id string) {
	t.Helper()
	for _, approver := range []string{"0xapprover1", "0xapprover2", "0xapprover3"} {
		require.NoError(t, f.governor.ApproveSlashing(approver, id))
	}
}

func (f *fixture) delaySeconds() int64 {
	return int64(f.cfg.Slashing.ExecutionDelay.Seconds())
}

func TestRequestScalesByReason(t *testing.T) {
	f := newFixture(t)
	f.stakeTarget(t, "0xtarget", 10000)

	// 100% rate keeps the base amount
	r1, err := f.governor.RequestSlashing("0xreporter", "req-1", "0xtarget", 1000, ReasonFalseProposal, "uri")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), r1.FinalAmount)
	assert.Equal(t, StatusPending, r1.Status)
	assert.Equal(t, f.now+f.delaySeconds(), r1.ExecutionTime)

	// 50% rate halves it
	r2, err := f.governor.RequestSlashing("0xreporter", "req-2", "0xtarget", 1000, ReasonFrivolousDispute, "uri")
	require.NoError(t, err)
	assert.Equal(t, int64(500), r2.FinalAmount)

	// 1% rate
	r3, err := f.governor.RequestSlashing("0xreporter", "req-3", "0xtarget", 1000, ReasonDowntime, "uri")
	require.NoError(t, err)
	assert.Equal(t, int64(10), r3.FinalAmount)

	_, err = f.governor.RequestSlashing("0xreporter", "req-4", "0xtarget", 1000, Reason("vibes"), "uri")
	assert.ErrorIs(t, err, ErrUnknownReason)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.governor.RequestSlashing("0xeve", "req-1", "0xtarget", 1000, ReasonDowntime, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.governor.RequestSlashing("0xreporter", "req-1", "0xtarget", 0, ReasonDowntime, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.governor.RequestSlashing("0xreporter", "req-1", "0xtarget", 1000, ReasonDowntime, "")
	require.NoError(t, err)
	_, err = f.governor.RequestSlashing("0xreporter", "req-1", "0xtarget", 1000, ReasonDowntime, "")
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestApprovalQuorumAndExecution(t *testing.T) {
	f := newFixture(t)
	f.stakeTarget(t, "0xtarget", 10000)

	_, err := f.governor.RequestSlashing("0xreporter", "req-1", "0xtarget", 1000, ReasonFalseProposal, "uri")
	require.NoError(t, err)

	// Below quorum the request stays pending and cannot execute
	require.NoError(t, f.governor.ApproveSlashing("0xapprover1", "req-1"))
	require.NoError(t, f.governor.ApproveSlashing("0xapprover2", "req-1"))

	request, err := f.governor.GetRequest("req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, request.Status)

	f.advance(f.delaySeconds())
	assert.ErrorIs(t, f.governor.ExecuteSlashing("0xapprover1", "req-1"), ErrNotApproved)

	// Third approval reaches quorum
	require.NoError(t, f.governor.ApproveSlashing("0xapprover3", "req-1"))
	request, err = f.governor.GetRequest("req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, request.Status)
	assert.Equal(t, 3, request.ApprovalCount)

	require.NoError(t, f.governor.ExecuteSlashing("0xapprover1", "req-1"))

	request, err = f.governor.GetRequest("req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, request.Status)

	stake, err := f.staking.GetStake("0xtarget")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), stake.Amount)
	assert.Equal(t, int64(1000), f.ledger.Balance(ledger.TreasuryAccount))

	history, err := f.governor.GetHistory("0xtarget")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), history.TotalSlashed)
	assert.Equal(t, 1, history.SlashingCount)
	assert.False(t, history.IsPermanentlyBanned)

	records := f.governor.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "req-1", records[0].RequestID)
	assert.Equal(t, int64(1000), records[0].Amount)
}

func TestExecutionDelayGate(t *testing.T) {
	f := newFixture(t)
	f.stakeTarget(t, "0xtarget", 10000)

	_, err := f.governor.RequestSlashing("0xreporter", "req-1", "0xtarget", 1000, ReasonFalseProposal, "uri")
	require.NoError(t, err)
	f.approveAll(t, "req-1")

	assert.ErrorIs(t, f.governor.ExecuteSlashing("0xapprover1", "req-1"), ErrDelayNotElapsed)

	f.advance(f.delaySeconds())
	assert.NoError(t, f.governor.ExecuteSlashing("0xapprover1", "req-1"))

	// Executed requests are terminal
	assert.ErrorIs(t, f.governor.ExecuteSlashing("0xapprover1", "req-1"), ErrNotApproved)
}

func TestDuplicateApproval(t *testing.T) {
	f := newFixture(t)
	_, err := f.governor.RequestSlashing("0xreporter", "req-1", "0xtarget", 1000, ReasonDowntime, "")
	require.NoError(t, err)

	require.NoError(t, f.governor.ApproveSlashing("0xapprover1", "req-1"))
	assert.ErrorIs(t, f.governor.ApproveSlashing("0xapprover1", "req-1"), ErrAlreadyApproved)
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture(t)
	_, err := f.governor.RequestSlashing("0xreporter", "req-1", "0xtarget", 1000, ReasonDowntime, "")
	require.NoError(t, err)

	assert.ErrorIs(t, f.governor.RejectSlashing("0xeve", "req-1"), ErrUnauthorized)
	require.NoError(t, f.governor.RejectSlashing("0xadmin", "req-1"))

	assert.ErrorIs(t, f.governor.ApproveSlashing("0xapprover1", "req-1"), ErrTerminalStatus)
	assert.ErrorIs(t, f.governor.RejectSlashing("0xadmin", "req-1"), ErrTerminalStatus)
}

func TestBatchExecution(t *testing.T) {
	f := newFixture(t)
	f.stakeTarget(t, "0xtarget", 10000)

	for _, id := range []string{"req-1", "req-2"} {
		_, err := f.governor.RequestSlashing("0xreporter", id, "0xtarget", 1000, ReasonProtocolViolation, "")
		require.NoError(t, err)
		f.approveAll(t, id)
	}
	// req-3 never approved
	_, err := f.governor.RequestSlashing("0xreporter", "req-3", "0xtarget", 1000, ReasonProtocolViolation, "")
	require.NoError(t, err)

	f.advance(f.delaySeconds())

	executed, err := f.governor.BatchExecuteSlashing("0xapprover1", []string{"req-1", "req-2", "req-3", "req-missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, executed)

	// 30% of 1000 each
	stake, err := f.staking.GetStake("0xtarget")
	require.NoError(t, err)
	assert.Equal(t, int64(9400), stake.Amount)
}

func TestPermanentBanAndOverride(t *testing.T) {
	f := newFixture(t)
	f.stakeTarget(t, "0xtarget", 200000)

	_, err := f.governor.RequestSlashing("0xreporter", "req-1", "0xtarget",
		f.cfg.Slashing.PermanentBanThreshold, ReasonMaliciousActivity, "uri")
	require.NoError(t, err)
	f.approveAll(t, "req-1")
	f.advance(f.delaySeconds())
	require.NoError(t, f.governor.ExecuteSlashing("0xapprover1", "req-1"))

	assert.True(t, f.governor.IsBlacklisted("0xtarget"))

	history, err := f.governor.GetHistory("0xtarget")
	require.NoError(t, err)
	assert.True(t, history.IsPermanentlyBanned)

	// Banned targets cannot stake and cannot be re-reported
	require.NoError(t, f.ledger.Mint("0xtarget", 5000))
	assert.ErrorIs(t, f.staking.Stake("0xtarget", 5000), staking.ErrBlacklisted)

	_, err = f.governor.RequestSlashing("0xreporter", "req-2", "0xtarget", 1000, ReasonDowntime, "")
	assert.ErrorIs(t, err, ErrTargetBlacklisted)

	// Admin override lifts the ban
	require.NoError(t, f.governor.UnblacklistUser("0xadmin", "0xtarget"))
	assert.False(t, f.governor.IsBlacklisted("0xtarget"))
	assert.NoError(t, f.staking.Stake("0xtarget", 5000))
}
