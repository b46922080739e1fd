package types

import "math/big"

// Account holds the native balance and replay nonce for a single principal.
// Balances are tracked in the smallest denomination of the native asset.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// NewAccount returns an account with a zeroed balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// EnsureBalance normalises a possibly-nil balance pointer so callers can
// perform arithmetic without nil checks.
func (a *Account) EnsureBalance() *Account {
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}
