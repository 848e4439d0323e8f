// Package staking implements the bond ledger: long-term stake custody with
// lock periods, continuous linear reward accrual, and the mechanical slash
// operation invoked by the slashing governor.
package staking

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

var log = logging.Logger("staking")

const secondsPerYear = int64(365 * 24 * 3600)

var (
	ErrBlacklisted      = errors.New("caller is blacklisted")
	ErrBelowMinimum     = errors.New("amount below minimum stake")
	ErrAboveMaximum     = errors.New("total stake would exceed per-user maximum")
	ErrNoActiveStake    = errors.New("no active stake for owner")
	ErrStakeLocked      = errors.New("stake is still within its lock period")
	ErrExceedsPrincipal = errors.New("amount exceeds staked principal")
	ErrNoPendingRewards = errors.New("no pending rewards to claim")
	ErrUnauthorized     = errors.New("caller lacks required capability")
)

// Stake tracks a single owner's bonded principal. One active stake exists
// per owner; repeated stake calls add to the same principal.
type Stake struct {
	Owner           string `json:"owner"`
	Amount          int64  `json:"amount"`
	StakedAt        int64  `json:"staked_at"`
	LastRewardClaim int64  `json:"last_reward_claim"`
	PendingRewards  int64  `json:"pending_rewards"`
	LockPeriod      int64  `json:"lock_period"` // seconds
	Active          bool   `json:"active"`
}

// Blacklist reports whether a principal is barred from staking. The
// slashing governor owns the ban list; the manager only consults it.
type Blacklist interface {
	IsBlacklisted(principal string) bool
}

// Manager handles stake custody and reward accrual
type Manager struct {
	cfg        *config.Config
	ledger     *ledger.Ledger
	eventLog   *events.Log
	authorizer auth.Authorizer
	blacklist  Blacklist

	stakes      map[string]*Stake
	totalStaked int64

	mu sync.RWMutex
}

// NewManager creates a staking manager
func NewManager(cfg *config.Config, lgr *ledger.Ledger, eventLog *events.Log, authorizer auth.Authorizer) *Manager {
	return &Manager{
		cfg:        cfg,
		ledger:     lgr,
		eventLog:   eventLog,
		authorizer: authorizer,
		stakes:     make(map[string]*Stake),
	}
}

// SetBlacklist wires the governor's ban list into the manager. Called once
// during node assembly, before any operation is accepted.
func (m *Manager) SetBlacklist(blacklist Blacklist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist = blacklist
}

// Stake bonds value from the owner's ledger balance into stake custody.
// Pending rewards are settled before the principal increases so the new
// principal does not retroactively accrue.
func (m *Manager) Stake(owner string, amount int64) error {
	if owner == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if amount < m.cfg.Staking.MinStakeAmount {
		return fmt.Errorf("%w: %d < %d", ErrBelowMinimum, amount, m.cfg.Staking.MinStakeAmount)
	}

	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.blacklist != nil && m.blacklist.IsBlacklisted(owner) {
		return fmt.Errorf("%w: %s", ErrBlacklisted, owner)
	}

	stake, exists := m.stakes[owner]
	if exists && stake.Active {
		if stake.Amount+amount > m.cfg.Staking.MaxStakePerUser {
			return fmt.Errorf("%w: %d + %d > %d",
				ErrAboveMaximum, stake.Amount, amount, m.cfg.Staking.MaxStakePerUser)
		}
	} else if amount > m.cfg.Staking.MaxStakePerUser {
		return fmt.Errorf("%w: %d > %d", ErrAboveMaximum, amount, m.cfg.Staking.MaxStakePerUser)
	}

	// Move the principal into custody before any bookkeeping
	if err := m.ledger.Transfer(owner, ledger.StakeEscrowAccount, amount); err != nil {
		return fmt.Errorf("failed to transfer stake: %v", err)
	}

	if exists && stake.Active {
		m.settleRewards(stake, now)
		stake.Amount += amount
	} else if exists {
		// Reactivating after a full unstake keeps rewards settled in
		// earlier rounds claimable
		stake.Amount = amount
		stake.StakedAt = now
		stake.LastRewardClaim = now
		stake.LockPeriod = int64(m.cfg.Staking.LockPeriod.Seconds())
		stake.Active = true
	} else {
		m.stakes[owner] = &Stake{
			Owner:           owner,
			Amount:          amount,
			StakedAt:        now,
			LastRewardClaim: now,
			LockPeriod:      int64(m.cfg.Staking.LockPeriod.Seconds()),
			Active:          true,
		}
	}
	m.totalStaked += amount

	m.eventLog.Append(events.Staked, owner, "active", now, map[string]string{
		"amount": fmt.Sprintf("%d", amount),
	})
	log.Infow("stake added", "owner", owner, "amount", amount)
	return nil
}

// Unstake withdraws principal after the lock period. Rewards are settled
// first; the transfer back to the owner is the terminal action.
func (m *Manager) Unstake(owner string, amount int64) error {
	if amount <= 0 {
		return ledger.ErrInvalidAmount
	}

	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	stake, exists := m.stakes[owner]
	if !exists || !stake.Active {
		return fmt.Errorf("%w: %s", ErrNoActiveStake, owner)
	}

	if amount > stake.Amount {
		return fmt.Errorf("%w: %d > %d", ErrExceedsPrincipal, amount, stake.Amount)
	}

	unlockAt := stake.StakedAt + stake.LockPeriod
	if now < unlockAt {
		return fmt.Errorf("%w: unlocks at %d, now %d", ErrStakeLocked, unlockAt, now)
	}

	m.settleRewards(stake, now)

	stake.Amount -= amount
	m.totalStaked -= amount
	if stake.Amount == 0 {
		stake.Active = false
	}

	if err := m.ledger.Transfer(ledger.StakeEscrowAccount, owner, amount); err != nil {
		// Roll back bookkeeping; the operation must fail atomically
		stake.Amount += amount
		m.totalStaked += amount
		stake.Active = true
		return fmt.Errorf("failed to return stake: %v", err)
	}

	m.eventLog.Append(events.Unstaked, owner, stakeStatus(stake), now, map[string]string{
		"amount": fmt.Sprintf("%d", amount),
	})
	log.Infow("stake withdrawn", "owner", owner, "amount", amount, "remaining", stake.Amount)
	return nil
}

// ClaimRewards settles accrual and pays the full pending balance
func (m *Manager) ClaimRewards(owner string) (int64, error) {
	now := m.ledger.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	stake, exists := m.stakes[owner]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrNoActiveStake, owner)
	}

	m.settleRewards(stake, now)

	reward := stake.PendingRewards
	if reward == 0 {
		return 0, ErrNoPendingRewards
	}

	stake.PendingRewards = 0

	// Rewards are newly issued value, minted as the terminal action
	if err := m.ledger.Mint(owner, reward); err != nil {
		stake.PendingRewards = reward
		return 0, fmt.Errorf("failed to pay rewards: %v", err)
	}

	m.eventLog.Append(events.RewardClaimed, owner, stakeStatus(stake), now, map[string]string{
		"amount": fmt.Sprintf("%d", reward),
	})
	log.Infow("rewards claimed", "owner", owner, "amount", reward)
	return reward, nil
}

// CalculatePendingRewards returns settled plus accrued-but-unsettled rewards
func (m *Manager) CalculatePendingRewards(owner string) (int64, error) {
	now := m.ledger.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	stake, exists := m.stakes[owner]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrNoActiveStake, owner)
	}

	return stake.PendingRewards + m.accruedSince(stake, now), nil
}

// SlashFraction reduces the target's principal by a basis-point fraction
// and forwards the slashed value to the treasury. Caller must hold the
// SLASHER capability; fractions above 100% are clamped.
func (m *Manager) SlashFraction(caller, target string, fractionBps int64, reason string) (int64, error) {
	if !m.authorizer.HasCapability(caller, auth.CapabilitySlasher) {
		return 0, fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller, auth.CapabilitySlasher)
	}
	if fractionBps <= 0 {
		return 0, ledger.ErrInvalidAmount
	}
	if fractionBps > config.BasisPointDenominator {
		fractionBps = config.BasisPointDenominator
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stake, exists := m.stakes[target]
	if !exists || !stake.Active {
		return 0, fmt.Errorf("%w: %s", ErrNoActiveStake, target)
	}

	amount := stake.Amount * fractionBps / config.BasisPointDenominator
	return m.slashLocked(stake, amount, reason)
}

// SlashAmount reduces the target's principal by an absolute amount,
// clamped to the current principal. This is the governor's execution path;
// the clamp guarantees a request can never over-slash a stake that shrank
// between request and execution.
func (m *Manager) SlashAmount(caller, target string, amount int64, reason string) (int64, error) {
	if !m.authorizer.HasCapability(caller, auth.CapabilitySlasher) {
		return 0, fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller, auth.CapabilitySlasher)
	}
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stake, exists := m.stakes[target]
	if !exists || !stake.Active {
		return 0, fmt.Errorf("%w: %s", ErrNoActiveStake, target)
	}

	if amount > stake.Amount {
		amount = stake.Amount
	}
	return m.slashLocked(stake, amount, reason)
}

// slashLocked applies a slash. Callers must hold the write lock and have
// validated the amount against the principal.
func (m *Manager) slashLocked(stake *Stake, amount int64, reason string) (int64, error) {
	if amount == 0 {
		return 0, nil
	}

	stake.Amount -= amount
	m.totalStaked -= amount
	if stake.Amount == 0 {
		stake.Active = false
	}

	if err := m.ledger.Transfer(ledger.StakeEscrowAccount, ledger.TreasuryAccount, amount); err != nil {
		stake.Amount += amount
		m.totalStaked += amount
		stake.Active = true
		return 0, fmt.Errorf("failed to forward slashed stake: %v", err)
	}

	now := m.ledger.Now()
	m.eventLog.Append(events.Slashed, stake.Owner, stakeStatus(stake), now, map[string]string{
		"amount": fmt.Sprintf("%d", amount),
		"reason": reason,
	})
	log.Warnw("stake slashed", "owner", stake.Owner, "amount", amount, "reason", reason)
	return amount, nil
}

// settleRewards folds accrual since the last claim into the pending
// balance. Callers must hold the write lock.
func (m *Manager) settleRewards(stake *Stake, now int64) {
	accrued := m.accruedSince(stake, now)
	if accrued > 0 {
		stake.PendingRewards += accrued
	}
	stake.LastRewardClaim = now
}

// accruedSince computes linear accrual: principal × rate × elapsed /
// (365d × 10000). Inactive stakes accrue nothing.
func (m *Manager) accruedSince(stake *Stake, now int64) int64 {
	if !stake.Active || now <= stake.LastRewardClaim {
		return 0
	}

	elapsed := now - stake.LastRewardClaim
	return stake.Amount * m.cfg.Staking.RewardRate * elapsed /
		(secondsPerYear * config.BasisPointDenominator)
}

// GetStake returns a copy of the owner's stake record
func (m *Manager) GetStake(owner string) (*Stake, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stake, exists := m.stakes[owner]
	if !exists {
		return nil, fmt.Errorf("stake for %s not found", owner)
	}

	copied := *stake
	return &copied, nil
}

// TotalStaked returns the sum of all active principals
func (m *Manager) TotalStaked() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalStaked
}

// StakerCount returns the number of stake records
func (m *Manager) StakerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stakes)
}

// Stakes returns a copy of all stake records keyed by owner
func (m *Manager) Stakes() map[string]*Stake {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stakes := make(map[string]*Stake, len(m.stakes))
	for owner, stake := range m.stakes {
		copied := *stake
		stakes[owner] = &copied
	}
	return stakes
}

// Restore replaces manager state from a snapshot
func (m *Manager) Restore(stakes map[string]*Stake) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stakes = make(map[string]*Stake, len(stakes))
	m.totalStaked = 0
	for owner, stake := range stakes {
		copied := *stake
		m.stakes[owner] = &copied
		if copied.Active {
			m.totalStaked += copied.Amount
		}
	}
}

func stakeStatus(stake *Stake) string {
	if stake.Active {
		return "active"
	}
	return "inactive"
}
