package token

import (
	"fmt"
	"math/big"
)

// ledgerState is the storage backend a StateLedger records balances and
// allowances against. Implemented by the core state manager so token
// movements participate in the same snapshot/rollback discipline as the rest
// of an operation.
type ledgerState interface {
	TokenBalance(symbol string, addr [20]byte) (*big.Int, error)
	SetTokenBalance(symbol string, addr [20]byte, amount *big.Int) error
	TokenAllowance(symbol string, owner, spender [20]byte) (*big.Int, error)
	SetTokenAllowance(symbol string, owner, spender [20]byte, amount *big.Int) error
}

// StateLedger is a fungible-token ledger backed by the service's own state
// manager. It implements the Ledger interface consumed by the escrow engine
// and exposes allowance management and test-asset provisioning on top.
type StateLedger struct {
	symbol string
	state  ledgerState
}

// NewStateLedger creates a ledger for the supplied symbol.
func NewStateLedger(symbol string, state ledgerState) (*StateLedger, error) {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return nil, fmt.Errorf("token: symbol required")
	}
	if state == nil {
		return nil, fmt.Errorf("token: state not configured")
	}
	return &StateLedger{symbol: normalized, state: state}, nil
}

// Symbol returns the canonical token symbol.
func (l *StateLedger) Symbol() string { return l.symbol }

// BalanceOf returns the holder's current balance. Storage failures surface as
// a zero balance; the ledger reports success only when a movement fully
// applies.
func (l *StateLedger) BalanceOf(addr [20]byte) *big.Int {
	balance, err := l.state.TokenBalance(l.symbol, addr)
	if err != nil || balance == nil {
		return big.NewInt(0)
	}
	return balance
}

// Transfer moves amount from one holder to another, reporting success.
func (l *StateLedger) Transfer(from, to [20]byte, amount *big.Int) bool {
	return l.move(from, to, amount) == nil
}

// TransferFrom spends the allowance granted by from to the spender and moves
// amount to the recipient, reporting success.
func (l *StateLedger) TransferFrom(spender, from, to [20]byte, amount *big.Int) bool {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return false
	}
	allowance, err := l.state.TokenAllowance(l.symbol, from, spender)
	if err != nil {
		return false
	}
	if allowance == nil {
		allowance = big.NewInt(0)
	}
	if allowance.Cmp(amt) < 0 {
		return false
	}
	if err := l.move(from, to, amt); err != nil {
		return false
	}
	remaining := new(big.Int).Sub(allowance, amt)
	return l.state.SetTokenAllowance(l.symbol, from, spender, remaining) == nil
}

// Approve grants the spender an allowance over the owner's balance, replacing
// any prior grant.
func (l *StateLedger) Approve(owner, spender [20]byte, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token: negative allowance")
	}
	return l.state.SetTokenAllowance(l.symbol, owner, spender, amt)
}

// Allowance returns the unspent allowance granted by owner to spender.
func (l *StateLedger) Allowance(owner, spender [20]byte) *big.Int {
	allowance, err := l.state.TokenAllowance(l.symbol, owner, spender)
	if err != nil || allowance == nil {
		return big.NewInt(0)
	}
	return allowance
}

// Mint credits freshly issued tokens to the holder. Used to provision test
// assets at bootstrap.
func (l *StateLedger) Mint(to [20]byte, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token: negative mint amount")
	}
	balance, err := l.state.TokenBalance(l.symbol, to)
	if err != nil {
		return err
	}
	if balance == nil {
		balance = big.NewInt(0)
	}
	return l.state.SetTokenBalance(l.symbol, to, new(big.Int).Add(balance, amt))
}

func (l *StateLedger) move(from, to [20]byte, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	fromBal, err := l.state.TokenBalance(l.symbol, from)
	if err != nil {
		return err
	}
	if fromBal == nil {
		fromBal = big.NewInt(0)
	}
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("token: insufficient balance")
	}
	toBal, err := l.state.TokenBalance(l.symbol, to)
	if err != nil {
		return err
	}
	if toBal == nil {
		toBal = big.NewInt(0)
	}
	if err := l.state.SetTokenBalance(l.symbol, from, new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	return l.state.SetTokenBalance(l.symbol, to, new(big.Int).Add(toBal, amt))
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
