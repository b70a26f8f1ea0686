package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryToken is an in-memory Token. It supports failure injection and post-transfer hooks
// so callers can exercise partial failures and reentrancy.
type MemoryToken struct {
	symbol   string
	decimals uint8

	mu         sync.Mutex
	balances   map[string]uint64
	allowances map[string]map[string]uint64
	supply     uint64
	failure    func(Transfer) error
	hook       func(context.Context, Transfer)
	history    []Transfer
}

var _ Token = (*MemoryToken)(nil)

// NewMemoryToken creates an empty token.
func NewMemoryToken(symbol string, decimals uint8) *MemoryToken {
	return &MemoryToken{
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[string]uint64),
		allowances: make(map[string]map[string]uint64),
	}
}

func (m *MemoryToken) Symbol() string  { return m.symbol }
func (m *MemoryToken) Decimals() uint8 { return m.decimals }

// Mint credits amount to account out of thin air.
func (m *MemoryToken) Mint(account string, amount uint64) error {
	if account == "" {
		return ErrInvalidAccount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.supply+amount < m.supply {
		return fmt.Errorf("mint %d %s: supply overflow", amount, m.symbol)
	}
	m.balances[account] += amount
	m.supply += amount
	return nil
}

// TotalSupply returns the sum of all balances.
func (m *MemoryToken) TotalSupply() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply
}

func (m *MemoryToken) BalanceOf(account string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account]
}

func (m *MemoryToken) Allowance(owner, spender string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[owner][spender]
}

// FailWhen installs a predicate consulted before every transfer. A non-nil error aborts the
// transfer with no balance change. Pass nil to clear.
func (m *MemoryToken) FailWhen(failure func(Transfer) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = failure
}

// OnTransfer installs a hook run after every successful transfer, outside the token lock.
// The hook runs synchronously inside the caller's operation, so it can reenter the caller.
func (m *MemoryToken) OnTransfer(hook func(context.Context, Transfer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// History returns every successful transfer in order.
func (m *MemoryToken) History() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.history))
	copy(out, m.history)
	return out
}

func (m *MemoryToken) Transfer(ctx context.Context, from, to string, amount uint64) error {
	return m.move(ctx, Transfer{Token: m.symbol, From: from, To: to, Amount: amount}, "")
}

func (m *MemoryToken) TransferFrom(ctx context.Context, spender, owner, to string, amount uint64) error {
	return m.move(ctx, Transfer{Token: m.symbol, From: owner, To: to, Amount: amount}, spender)
}

func (m *MemoryToken) Approve(_ context.Context, owner, spender string, amount uint64) error {
	if owner == "" || spender == "" {
		return ErrInvalidAccount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[string]uint64)
	}
	m.allowances[owner][spender] = amount
	return nil
}

func (m *MemoryToken) move(ctx context.Context, t Transfer, spender string) error {
	if t.From == "" || t.To == "" {
		return ErrInvalidAccount
	}

	m.mu.Lock()
	if m.failure != nil {
		if err := m.failure(t); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("transfer %d %s from %s to %s: %w", t.Amount, m.symbol, t.From, t.To, err)
		}
	}
	if m.balances[t.From] < t.Amount {
		m.mu.Unlock()
		return fmt.Errorf("transfer %d %s from %s: %w", t.Amount, m.symbol, t.From, ErrInsufficientBalance)
	}
	if spender != "" {
		if m.allowances[t.From][spender] < t.Amount {
			m.mu.Unlock()
			return fmt.Errorf("transfer %d %s from %s by %s: %w", t.Amount, m.symbol, t.From, spender, ErrInsufficientAllowance)
		}
		m.allowances[t.From][spender] -= t.Amount
	}
	m.balances[t.From] -= t.Amount
	m.balances[t.To] += t.Amount
	m.history = append(m.history, t)
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, t)
	}
	return nil
}
