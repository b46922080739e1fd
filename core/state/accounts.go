package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"paylock/core/types"
)

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads the native account for an address. Missing accounts return
// a zeroed record rather than an error.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	raw, ok, err := m.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	account := &types.Account{Nonce: stored.Nonce, Balance: stored.Balance}
	return account.EnsureBalance(), nil
}

// PutAccount persists the native account for an address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	account.EnsureBalance()
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("state: negative account balance")
	}
	raw, err := rlp.EncodeToBytes(&storedAccount{Nonce: account.Nonce, Balance: account.Balance})
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	m.set(accountKey(addr), raw)
	return nil
}

// TokenBalance returns the token balance recorded for a holder.
func (m *Manager) TokenBalance(symbol string, addr [20]byte) (*big.Int, error) {
	return m.bigIntAt(tokenBalanceKey(symbol, addr))
}

// SetTokenBalance records the token balance for a holder.
func (m *Manager) SetTokenBalance(symbol string, addr [20]byte, amount *big.Int) error {
	return m.setBigIntAt(tokenBalanceKey(symbol, addr), amount)
}

// TokenAllowance returns the unspent allowance granted by owner to spender.
func (m *Manager) TokenAllowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	return m.bigIntAt(tokenAllowanceKey(symbol, owner, spender))
}

// SetTokenAllowance records the allowance granted by owner to spender.
func (m *Manager) SetTokenAllowance(symbol string, owner, spender [20]byte, amount *big.Int) error {
	return m.setBigIntAt(tokenAllowanceKey(symbol, owner, spender), amount)
}

func (m *Manager) bigIntAt(key []byte) (*big.Int, error) {
	raw, ok, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(raw, value); err != nil {
		return nil, fmt.Errorf("state: decode amount: %w", err)
	}
	return value, nil
}

func (m *Manager) setBigIntAt(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount")
	}
	raw, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("state: encode amount: %w", err)
	}
	m.set(key, raw)
	return nil
}
