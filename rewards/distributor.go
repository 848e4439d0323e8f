// Package rewards implements share-based reward pools. A pool is funded
// up front into the reward escrow, shares are allocated to participants,
// and each participant claims a payout proportional to their share of the
// pool. Expired pools sweep unclaimed funds to the treasury.
package rewards

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

var log = logging.Logger("rewards")

var (
	ErrUnauthorized    = errors.New("caller lacks required capability")
	ErrPoolNotFound    = errors.New("reward pool not found")
	ErrDuplicatePool   = errors.New("reward pool id already exists")
	ErrPoolInactive    = errors.New("reward pool is not active")
	ErrPoolNotExpired  = errors.New("reward pool has not expired")
	ErrInvalidShares   = errors.New("participants and shares must be equal-length and non-empty")
	ErrNoShares        = errors.New("participant holds no shares in this pool")
	ErrAlreadyClaimed  = errors.New("participant already claimed from this pool")
	ErrInvalidFunding  = errors.New("pool funding must be positive")
)

// Pool is a funded reward pool
type Pool struct {
	ID                 string `json:"id"`
	TotalRewards       int64  `json:"total_rewards"`
	DistributedRewards int64  `json:"distributed_rewards"`
	ParticipantCount   int    `json:"participant_count"`
	TotalShares        int64  `json:"total_shares"`
	CreatedAt          int64  `json:"created_at"`
	ExpiryTime         int64  `json:"expiry_time"`
	Active             bool   `json:"active"`
}

// Participant tracks one address's share of a pool
type Participant struct {
	PoolID        string `json:"pool_id"`
	Owner         string `json:"owner"`
	Shares        int64  `json:"shares"`
	Claimed       bool   `json:"claimed"`
	ClaimedAmount int64  `json:"claimed_amount"`
	ClaimedAt     int64  `json:"claimed_at"`
}

// Distributor manages reward pools and proportional payouts
type Distributor struct {
	cfg        *config.Config
	ledger     *ledger.Ledger
	eventLog   *events.Log
	authorizer auth.Authorizer

	pools        map[string]*Pool
	participants map[string]map[string]*Participant // poolID -> owner -> participant

	mu sync.RWMutex
}

// NewDistributor creates a reward distributor
func NewDistributor(cfg *config.Config, lgr *ledger.Ledger, eventLog *events.Log, authorizer auth.Authorizer) *Distributor {
	return &Distributor{
		cfg:          cfg,
		ledger:       lgr,
		eventLog:     eventLog,
		authorizer:   authorizer,
		pools:        make(map[string]*Pool),
		participants: make(map[string]map[string]*Participant),
	}
}

// CreateRewardPool funds a new pool from the creator's balance. The pool
// expires after the configured default expiry unless a positive expiry is
// given.
func (d *Distributor) CreateRewardPool(creator, id string, totalRewards, expiryTime int64) (*Pool, error) {
	if !d.authorizer.HasCapability(creator, auth.CapabilityAdmin) {
		return nil, fmt.Errorf("%w: %s needs %s", ErrUnauthorized, creator, auth.CapabilityAdmin)
	}
	if id == "" {
		return nil, fmt.Errorf("pool id cannot be empty")
	}
	if totalRewards <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFunding, totalRewards)
	}

	now := d.ledger.Now()
	if expiryTime <= 0 {
		expiryTime = now + int64(d.cfg.Rewards.DefaultPoolExpiry.Seconds())
	}
	if expiryTime <= now {
		return nil, fmt.Errorf("pool expiry must be in the future: %d <= %d", expiryTime, now)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.pools[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePool, id)
	}

	if err := d.ledger.Transfer(creator, ledger.RewardPoolAccount, totalRewards); err != nil {
		return nil, fmt.Errorf("failed to fund reward pool: %v", err)
	}

	pool := &Pool{
		ID:           id,
		TotalRewards: totalRewards,
		CreatedAt:    now,
		ExpiryTime:   expiryTime,
		Active:       true,
	}
	d.pools[id] = pool
	d.participants[id] = make(map[string]*Participant)

	d.eventLog.Append(events.RewardPoolCreated, id, "active", now, map[string]string{
		"total_rewards": fmt.Sprintf("%d", totalRewards),
		"creator":       creator,
	})
	log.Infow("reward pool created", "id", id, "total", totalRewards, "expiry", expiryTime)

	copied := *pool
	return &copied, nil
}

// AllocateShares assigns shares to participants. Repeated allocations to
// the same owner are additive. Allocation is rejected once an owner has
// claimed.
func (d *Distributor) AllocateShares(caller, poolID string, owners []string, shares []int64) error {
	if !d.authorizer.HasCapability(caller, auth.CapabilityAdmin) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller, auth.CapabilityAdmin)
	}
	if len(owners) == 0 || len(owners) != len(shares) {
		return fmt.Errorf("%w: %d owners, %d shares", ErrInvalidShares, len(owners), len(shares))
	}
	for i, share := range shares {
		if share <= 0 {
			return fmt.Errorf("%w: share %d for %s", ErrInvalidShares, share, owners[i])
		}
	}

	now := d.ledger.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	pool, exists := d.pools[poolID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	if !pool.Active {
		return fmt.Errorf("%w: %s", ErrPoolInactive, poolID)
	}

	for i, owner := range owners {
		participant, exists := d.participants[poolID][owner]
		if exists && participant.Claimed {
			return fmt.Errorf("%w: %s in %s", ErrAlreadyClaimed, owner, poolID)
		}
		if !exists {
			participant = &Participant{PoolID: poolID, Owner: owner}
			d.participants[poolID][owner] = participant
			pool.ParticipantCount++
		}
		participant.Shares += shares[i]
		pool.TotalShares += shares[i]
	}

	d.eventLog.Append(events.SharesAllocated, poolID, "active", now, map[string]string{
		"owners":       fmt.Sprintf("%d", len(owners)),
		"total_shares": fmt.Sprintf("%d", pool.TotalShares),
	})
	log.Debugw("shares allocated", "pool", poolID, "owners", len(owners), "total_shares", pool.TotalShares)
	return nil
}

// ClaimReward pays out a participant's proportional share. Each
// participant claims at most once per pool.
func (d *Distributor) ClaimReward(owner, poolID string) (int64, error) {
	now := d.ledger.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.claimLocked(owner, poolID, now)
}

// BatchClaimRewards claims from every listed pool, skipping pools where
// the owner is ineligible, and returns the total paid out.
func (d *Distributor) BatchClaimRewards(owner string, poolIDs []string) (int64, error) {
	now := d.ledger.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	var total int64
	for _, poolID := range poolIDs {
		amount, err := d.claimLocked(owner, poolID, now)
		if err != nil {
			log.Debugw("batch claim skipped pool", "pool", poolID, "owner", owner, "err", err)
			continue
		}
		total += amount
	}
	return total, nil
}

// claimLocked performs one claim. Callers must hold the lock.
func (d *Distributor) claimLocked(owner, poolID string, now int64) (int64, error) {
	pool, exists := d.pools[poolID]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	if !pool.Active {
		return 0, fmt.Errorf("%w: %s", ErrPoolInactive, poolID)
	}

	participant, exists := d.participants[poolID][owner]
	if !exists || participant.Shares == 0 {
		return 0, fmt.Errorf("%w: %s in %s", ErrNoShares, owner, poolID)
	}
	if participant.Claimed {
		return 0, fmt.Errorf("%w: %s in %s", ErrAlreadyClaimed, owner, poolID)
	}

	amount := pool.TotalRewards * participant.Shares / pool.TotalShares

	participant.Claimed = true
	participant.ClaimedAmount = amount
	participant.ClaimedAt = now
	pool.DistributedRewards += amount

	if err := d.ledger.Transfer(ledger.RewardPoolAccount, owner, amount); err != nil {
		participant.Claimed = false
		participant.ClaimedAmount = 0
		participant.ClaimedAt = 0
		pool.DistributedRewards -= amount
		return 0, fmt.Errorf("failed to pay reward: %v", err)
	}

	d.eventLog.Append(events.PoolRewardClaimed, poolID, "active", now, map[string]string{
		"owner":  owner,
		"amount": fmt.Sprintf("%d", amount),
	})
	log.Infow("reward claimed", "pool", poolID, "owner", owner, "amount", amount)
	return amount, nil
}

// ExpirePool deactivates a pool past its expiry time and sweeps the
// unclaimed remainder to the treasury
func (d *Distributor) ExpirePool(caller, poolID string) (int64, error) {
	if !d.authorizer.HasCapability(caller, auth.CapabilityAdmin) {
		return 0, fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller, auth.CapabilityAdmin)
	}

	now := d.ledger.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	pool, exists := d.pools[poolID]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	if !pool.Active {
		return 0, fmt.Errorf("%w: %s", ErrPoolInactive, poolID)
	}
	if now <= pool.ExpiryTime {
		return 0, fmt.Errorf("%w: expires at %d, now %d", ErrPoolNotExpired, pool.ExpiryTime, now)
	}

	remainder := pool.TotalRewards - pool.DistributedRewards
	pool.Active = false

	if remainder > 0 {
		if err := d.ledger.Transfer(ledger.RewardPoolAccount, ledger.TreasuryAccount, remainder); err != nil {
			pool.Active = true
			return 0, fmt.Errorf("failed to sweep pool remainder: %v", err)
		}
	}

	d.eventLog.Append(events.PoolExpired, poolID, "expired", now, map[string]string{
		"swept": fmt.Sprintf("%d", remainder),
	})
	log.Infow("reward pool expired", "id", poolID, "swept", remainder)
	return remainder, nil
}

// GetPool returns a copy of a pool by id
func (d *Distributor) GetPool(id string) (*Pool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pool, exists := d.pools[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}

	copied := *pool
	return &copied, nil
}

// GetParticipant returns a copy of one participant record
func (d *Distributor) GetParticipant(poolID, owner string) (*Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	participant, exists := d.participants[poolID][owner]
	if !exists {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoShares, owner, poolID)
	}

	copied := *participant
	return &copied, nil
}

// PoolCount returns the number of pools ever created
func (d *Distributor) PoolCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pools)
}
