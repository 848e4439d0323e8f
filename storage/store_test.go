package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UncleTom29/predictlink-evm/core/events"
	"github.com/UncleTom29/predictlink-evm/core/ledger"
	"github.com/UncleTom29/predictlink-evm/core/state"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := openStore(t)

	// No snapshot yet
	loaded, err := store.LoadSnapshot()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	l := ledger.NewLedger()
	require.NoError(t, l.Mint("0xalice", 1234))
	ps := state.NewProtocolState(l, events.NewLog())

	snapshot := ps.CreateSnapshot()
	require.NoError(t, store.SaveSnapshot(snapshot))

	loaded, err = store.LoadSnapshot()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snapshot.StateRoot, loaded.StateRoot)
	assert.Equal(t, int64(1234), loaded.Accounts["0xalice"].Balance)

	// Saving again overwrites
	require.NoError(t, l.Mint("0xbob", 1))
	require.NoError(t, store.SaveSnapshot(ps.CreateSnapshot()))
	loaded, err = store.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(1235), loaded.TotalSupply)
}

func TestEventJournalPreservesOrder(t *testing.T) {
	store := openStore(t)

	log := events.NewLog()
	for i := 0; i < 25; i++ {
		entry := log.Append(events.Staked, fmt.Sprintf("0xowner%d", i), "active", int64(1000+i), nil)
		require.NoError(t, store.AppendEvent(entry))
	}

	loaded, err := store.LoadEvents()
	require.NoError(t, err)
	require.Len(t, loaded, 25)
	for i, entry := range loaded {
		assert.Equal(t, fmt.Sprintf("0xowner%d", i), entry.EntityID)
		assert.Equal(t, int64(1000+i), entry.Timestamp)
	}
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, []byte("snp:latest"), SnapshotKey())
	// Fixed-width sequence keys sort lexicographically in append order
	assert.True(t, string(EventKey(9)) < string(EventKey(10)))
}
