// Package ledger provides the authoritative value ledger the protocol
// executes against: account balances, atomic all-or-nothing transfers,
// the treasury sink, and the monotonic clock used by every time gate.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Well-known internal accounts. Internal accounts hold custody of bonds,
// pool funds, and slashed value; they are created on first use like any
// other account.
const (
	TreasuryAccount     = "predictlink:treasury"
	OracleEscrowAccount = "predictlink:oracle-escrow"
	StakeEscrowAccount  = "predictlink:stake-escrow"
	RewardPoolAccount   = "predictlink:reward-pool"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Account represents a single balance entry
type Account struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

// Ledger manages account balances with atomic transfers and exposes the
// monotonic clock that orders every protocol operation
type Ledger struct {
	accounts    map[string]*Account
	totalSupply int64

	// Clock state; nowFn is injectable for deterministic tests
	nowFn   func() int64
	lastNow int64

	mu sync.RWMutex
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[string]*Account),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetClock replaces the time source. Intended for tests; the ledger still
// enforces monotonicity over whatever source is installed.
func (l *Ledger) SetClock(nowFn func() int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFn = nowFn
}

// Now returns the current ledger time. The returned value never decreases,
// even if the underlying source does.
func (l *Ledger) Now() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if now < l.lastNow {
		now = l.lastNow
	}
	l.lastNow = now
	return now
}

// Mint credits newly issued value to an account. Used for genesis funding
// and continuous staking reward issuance.
func (l *Ledger) Mint(address string, amount int64) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.getOrCreate(address).Balance += amount
	l.totalSupply += amount
	return nil
}

// Transfer atomically moves value between two accounts. Either the full
// amount moves or nothing does.
func (l *Ledger) Transfer(from, to string, amount int64) error {
	if from == "" || to == "" {
		return fmt.Errorf("transfer addresses cannot be empty")
	}
	if from == to {
		return fmt.Errorf("cannot transfer from %s to itself", from)
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sender := l.getOrCreate(from)
	if sender.Balance < amount {
		return fmt.Errorf("%w: account %s has %d, needs %d",
			ErrInsufficientFunds, from, sender.Balance, amount)
	}

	sender.Balance -= amount
	l.getOrCreate(to).Balance += amount
	return nil
}

// Payment is one leg of a multi-account transfer
type Payment struct {
	From   string
	To     string
	Amount int64
}

// TransferAll applies every payment or none of them. Deltas are netted per
// account and checked against balances before any leg lands, so a payout
// that would overdraw any account leaves the ledger untouched.
func (l *Ledger) TransferAll(payments []Payment) error {
	deltas := make(map[string]int64, len(payments)*2)
	for _, p := range payments {
		if p.From == "" || p.To == "" {
			return fmt.Errorf("transfer addresses cannot be empty")
		}
		if p.From == p.To {
			return fmt.Errorf("cannot transfer from %s to itself", p.From)
		}
		if p.Amount <= 0 {
			return ErrInvalidAmount
		}
		deltas[p.From] -= p.Amount
		deltas[p.To] += p.Amount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, delta := range deltas {
		if delta >= 0 {
			continue
		}
		balance := int64(0)
		if account, exists := l.accounts[addr]; exists {
			balance = account.Balance
		}
		if balance+delta < 0 {
			return fmt.Errorf("%w: account %s has %d, needs %d",
				ErrInsufficientFunds, addr, balance, -delta)
		}
	}

	for addr, delta := range deltas {
		l.getOrCreate(addr).Balance += delta
	}
	return nil
}

// Balance returns the balance of an account; unknown accounts are zero
func (l *Ledger) Balance(address string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if account, exists := l.accounts[address]; exists {
		return account.Balance
	}
	return 0
}

// TotalSupply returns the total minted value
func (l *Ledger) TotalSupply() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply
}

// Accounts returns a copy of all accounts keyed by address
func (l *Ledger) Accounts() map[string]*Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	accounts := make(map[string]*Account, len(l.accounts))
	for addr, account := range l.accounts {
		copied := *account
		accounts[addr] = &copied
	}
	return accounts
}

// Restore replaces ledger state from a snapshot
func (l *Ledger) Restore(accounts map[string]*Account, totalSupply int64) error {
	if accounts == nil {
		return fmt.Errorf("accounts cannot be nil")
	}

	for addr, account := range accounts {
		if account == nil {
			return fmt.Errorf("account %s cannot be nil", addr)
		}
		if account.Balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", addr, account.Balance)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts = make(map[string]*Account, len(accounts))
	for addr, account := range accounts {
		copied := *account
		l.accounts[addr] = &copied
	}
	l.totalSupply = totalSupply
	return nil
}

// ValidateConsistency checks that no account holds a negative balance and
// that balances do not exceed the total supply
func (l *Ledger) ValidateConsistency() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum int64
	for addr, account := range l.accounts {
		if account.Balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", addr, account.Balance)
		}
		sum += account.Balance
	}

	if sum > l.totalSupply {
		return fmt.Errorf("account balances (%d) exceed total supply (%d)", sum, l.totalSupply)
	}

	return nil
}

// getOrCreate returns the account for an address, creating it if needed.
// Callers must hold the write lock.
func (l *Ledger) getOrCreate(address string) *Account {
	if account, exists := l.accounts[address]; exists {
		return account
	}

	account := &Account{Address: address}
	l.accounts[address] = account
	return account
}
