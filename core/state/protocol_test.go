package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UncleTom29/predictlink-evm/core/events"
	"github.com/UncleTom29/predictlink-evm/core/ledger"
)

func newState(t *testing.T) *ProtocolState {
	t.Helper()
	l := ledger.NewLedger()
	now := int64(1_000_000)
	l.SetClock(func() int64 { return now })
	return NewProtocolState(l, events.NewLog())
}

func TestStateRootIsDeterministic(t *testing.T) {
	ps := newState(t)
	require.NoError(t, ps.Ledger().Mint("0xalice", 100))

	root := ps.StateRoot()
	assert.NotEmpty(t, root)
	assert.Equal(t, root, ps.StateRoot())

	// Any balance change moves the root
	require.NoError(t, ps.Ledger().Mint("0xbob", 50))
	assert.NotEqual(t, root, ps.StateRoot())
}

func TestStateRootCoversEventLog(t *testing.T) {
	ps := newState(t)
	root := ps.StateRoot()

	ps.EventLog().Append(events.EventCreated, "e-1", "created", 1_000_000, nil)
	assert.NotEqual(t, root, ps.StateRoot())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ps := newState(t)
	require.NoError(t, ps.Ledger().Mint("0xalice", 700))
	require.NoError(t, ps.Ledger().Mint("0xbob", 300))
	ps.EventLog().Append(events.Staked, "0xalice", "active", 1_000_000, map[string]string{"amount": "700"})

	snapshot := ps.CreateSnapshot()
	assert.Equal(t, ps.StateRoot(), snapshot.StateRoot)

	restored := newState(t)
	require.NoError(t, restored.RestoreFromSnapshot(snapshot))

	assert.Equal(t, int64(700), restored.Ledger().Balance("0xalice"))
	assert.Equal(t, int64(1000), restored.Ledger().TotalSupply())
	assert.Equal(t, 1, restored.EventLog().Len())
	assert.Equal(t, snapshot.StateRoot, restored.StateRoot())
	assert.NoError(t, restored.ValidateConsistency())
}

func TestRestoreRejectsTamperedSnapshot(t *testing.T) {
	ps := newState(t)
	require.NoError(t, ps.Ledger().Mint("0xalice", 700))

	snapshot := ps.CreateSnapshot()
	snapshot.Accounts["0xalice"].Balance = 999

	restored := newState(t)
	assert.Error(t, restored.RestoreFromSnapshot(snapshot))

	assert.Error(t, restored.RestoreFromSnapshot(nil))
}
