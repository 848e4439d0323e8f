package rewards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UncleTom29/predictlink-evm/auth"
	"github.com/UncleTom29/predictlink-evm/config"
	"github.com/UncleTom29/predictlink-evm/core/events"
	"github.com/UncleTom29/predictlink-evm/core/ledger"
)

type fixture struct {
	cfg         *config.Config
	ledger      *ledger.Ledger
	distributor *Distributor
	now         int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		cfg:    config.DefaultConfig(),
		ledger: ledger.NewLedger(),
		now:    1_000_000,
	}
	f.ledger.SetClock(func() int64 { return f.now })

	authorizer := auth.NewRegistry()
	require.NoError(t, authorizer.Grant("0xcreator", auth.CapabilityAdmin))
	f.distributor = NewDistributor(f.cfg, f.ledger, events.NewLog(), authorizer)

	require.NoError(t, f.ledger.Mint("0xcreator", 100000))
	return f
}

func (f *fixture) advance(seconds int64) {
	f.now += seconds
}

func TestCreatePoolValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.distributor.CreateRewardPool("0xeve", "p-1", 1000, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.distributor.CreateRewardPool("0xcreator", "p-1", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidFunding)

	_, err = f.distributor.CreateRewardPool("0xcreator", "", 1000, 0)
	assert.Error(t, err)

	_, err = f.distributor.CreateRewardPool("0xcreator", "p-1", 1000, 0)
	require.NoError(t, err)
	_, err = f.distributor.CreateRewardPool("0xcreator", "p-1", 1000, 0)
	assert.ErrorIs(t, err, ErrDuplicatePool)
}

func TestProportionalClaims(t *testing.T) {
	f := newFixture(t)

	pool, err := f.distributor.CreateRewardPool("0xcreator", "p-1", 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, f.now+int64(f.cfg.Rewards.DefaultPoolExpiry.Seconds()), pool.ExpiryTime)
	assert.Equal(t, int64(1000), f.ledger.Balance(ledger.RewardPoolAccount))

	require.NoError(t, f.distributor.AllocateShares("0xcreator", "p-1",
		[]string{"0xalice", "0xbob"}, []int64{30, 70}))

	amount, err := f.distributor.ClaimReward("0xalice", "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), amount)
	assert.Equal(t, int64(300), f.ledger.Balance("0xalice"))

	// Claims are once per pool
	_, err = f.distributor.ClaimReward("0xalice", "p-1")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	// Non-participants cannot claim
	_, err = f.distributor.ClaimReward("0xeve", "p-1")
	assert.ErrorIs(t, err, ErrNoShares)

	pool, err = f.distributor.GetPool("p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), pool.DistributedRewards)
	assert.Equal(t, 2, pool.ParticipantCount)
}

func TestAllocateSharesValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.distributor.CreateRewardPool("0xcreator", "p-1", 1000, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, f.distributor.AllocateShares("0xcreator", "p-1", nil, nil), ErrInvalidShares)
	assert.ErrorIs(t, f.distributor.AllocateShares("0xcreator", "p-1",
		[]string{"0xalice"}, []int64{10, 20}), ErrInvalidShares)
	assert.ErrorIs(t, f.distributor.AllocateShares("0xcreator", "p-1",
		[]string{"0xalice"}, []int64{0}), ErrInvalidShares)
	assert.ErrorIs(t, f.distributor.AllocateShares("0xcreator", "p-missing",
		[]string{"0xalice"}, []int64{10}), ErrPoolNotFound)

	// Additive allocation
	require.NoError(t, f.distributor.AllocateShares("0xcreator", "p-1", []string{"0xalice"}, []int64{10}))
	require.NoError(t, f.distributor.AllocateShares("0xcreator", "p-1", []string{"0xalice"}, []int64{15}))

	participant, err := f.distributor.GetParticipant("p-1", "0xalice")
	require.NoError(t, err)
	assert.Equal(t, int64(25), participant.Shares)
}

func TestExpirePoolSweepsRemainder(t *testing.T) {
	f := newFixture(t)
	_, err := f.distributor.CreateRewardPool("0xcreator", "p-1", 1000, 0)
	require.NoError(t, err)
	require.NoError(t, f.distributor.AllocateShares("0xcreator", "p-1",
		[]string{"0xalice", "0xbob"}, []int64{30, 70}))

	_, err = f.distributor.ClaimReward("0xalice", "p-1")
	require.NoError(t, err)

	// Not yet expired
	_, err = f.distributor.ExpirePool("0xcreator", "p-1")
	assert.ErrorIs(t, err, ErrPoolNotExpired)

	f.advance(int64(f.cfg.Rewards.DefaultPoolExpiry.Seconds()) + 1)
	swept, err := f.distributor.ExpirePool("0xcreator", "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), swept)
	assert.Equal(t, int64(700), f.ledger.Balance(ledger.TreasuryAccount))
	assert.Equal(t, int64(0), f.ledger.Balance(ledger.RewardPoolAccount))

	// Unclaimed shares are forfeit after expiry
	_, err = f.distributor.ClaimReward("0xbob", "p-1")
	assert.ErrorIs(t, err, ErrPoolInactive)

	_, err = f.distributor.ExpirePool("0xcreator", "p-1")
	assert.ErrorIs(t, err, ErrPoolInactive)
}

func TestBatchClaimSkipsIneligible(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"p-1", "p-2", "p-3"} {
		_, err := f.distributor.CreateRewardPool("0xcreator", id, 1000, 0)
		require.NoError(t, err)
	}

	require.NoError(t, f.distributor.AllocateShares("0xcreator", "p-1", []string{"0xalice"}, []int64{100}))
	require.NoError(t, f.distributor.AllocateShares("0xcreator", "p-3", []string{"0xalice"}, []int64{50}))
	require.NoError(t, f.distributor.AllocateShares("0xcreator", "p-3", []string{"0xbob"}, []int64{50}))

	// No shares in p-2, missing pool id, both skipped silently
	total, err := f.distributor.BatchClaimRewards("0xalice", []string{"p-1", "p-2", "p-3", "p-missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000+500), total)
	assert.Equal(t, int64(1500), f.ledger.Balance("0xalice"))
}
