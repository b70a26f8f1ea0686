package ledger

import (
	"context"
	"fmt"
)

// RailKind distinguishes how bidders pay.
type RailKind string

const (
	// RailNative pays in the host's native coin, attached to the call itself
	RailNative RailKind = "native"
	// RailToken pays in a fungible token pulled through an allowance
	RailToken RailKind = "token"
)

// Rail moves payment value between participants and an auction's account.
type Rail interface {
	Kind() RailKind
	// Account is the auction-held account collected funds sit in
	Account() string
	// Collect moves amount from a participant into Account
	Collect(ctx context.Context, from string, amount uint64) error
	// Pay moves amount out of Account
	Pay(ctx context.Context, to string, amount uint64) error
	// Held is the balance currently sitting in Account
	Held() uint64
}

// NativeRail settles in the native coin. The value a caller attaches to a call is moved from
// its coin balance as part of that call, so Collect is a plain transfer.
type NativeRail struct {
	coin    Token
	account string
}

// NewNativeRail binds the coin book to an auction account.
func NewNativeRail(coin Token, account string) *NativeRail {
	return &NativeRail{coin: coin, account: account}
}

func (r *NativeRail) Kind() RailKind  { return RailNative }
func (r *NativeRail) Account() string { return r.account }
func (r *NativeRail) Held() uint64    { return r.coin.BalanceOf(r.account) }

func (r *NativeRail) Collect(ctx context.Context, from string, amount uint64) error {
	if err := r.coin.Transfer(ctx, from, r.account, amount); err != nil {
		return fmt.Errorf("native collect: %w", err)
	}
	return nil
}

func (r *NativeRail) Pay(ctx context.Context, to string, amount uint64) error {
	if err := r.coin.Transfer(ctx, r.account, to, amount); err != nil {
		return fmt.Errorf("native pay: %w", err)
	}
	return nil
}

// TokenRail settles in a fungible token. Participants approve Account beforehand and Collect
// pulls through that allowance.
type TokenRail struct {
	token   Token
	account string
}

// NewTokenRail binds token to an auction account.
func NewTokenRail(token Token, account string) *TokenRail {
	return &TokenRail{token: token, account: account}
}

func (r *TokenRail) Kind() RailKind  { return RailToken }
func (r *TokenRail) Account() string { return r.account }
func (r *TokenRail) Held() uint64    { return r.token.BalanceOf(r.account) }

// Token returns the payment token.
func (r *TokenRail) Token() Token { return r.token }

func (r *TokenRail) Collect(ctx context.Context, from string, amount uint64) error {
	if err := r.token.TransferFrom(ctx, r.account, from, r.account, amount); err != nil {
		return fmt.Errorf("%s collect: %w", r.token.Symbol(), err)
	}
	return nil
}

func (r *TokenRail) Pay(ctx context.Context, to string, amount uint64) error {
	if err := r.token.Transfer(ctx, r.account, to, amount); err != nil {
		return fmt.Errorf("%s pay: %w", r.token.Symbol(), err)
	}
	return nil
}
