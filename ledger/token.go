// Package ledger defines the fungible-token and payment-rail collaborators an auction moves
// value through, with in-memory implementations.
package ledger

import (
	"context"
	"errors"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAccount        = errors.New("invalid account")
)

// Token is a fungible asset ledger with transfer/approve semantics.
// Amounts are in base units; Decimals reports how many base-unit digits make one whole unit.
type Token interface {
	Symbol() string
	Decimals() uint8
	BalanceOf(account string) uint64
	Allowance(owner, spender string) uint64
	Transfer(ctx context.Context, from, to string, amount uint64) error
	// TransferFrom moves amount from owner to to, spending spender's allowance
	TransferFrom(ctx context.Context, spender, owner, to string, amount uint64) error
	Approve(ctx context.Context, owner, spender string, amount uint64) error
}

// Transfer describes one completed or attempted movement of value.
type Transfer struct {
	Token  string
	From   string
	To     string
	Amount uint64
}
