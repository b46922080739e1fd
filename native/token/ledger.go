package token

import (
	"math/big"
	"strings"
	"sync"
)

// Ledger is the fungible-token collaborator consumed by the escrow engine.
// Transfer moves tokens between holders; TransferFrom additionally spends a
// pre-existing allowance granted by the source holder to the spender. Both
// report success synchronously, mirroring the external ledger contract.
type Ledger interface {
	Symbol() string
	BalanceOf(addr [20]byte) *big.Int
	Transfer(from, to [20]byte, amount *big.Int) bool
	TransferFrom(spender, from, to [20]byte, amount *big.Int) bool
}

// Registry resolves token ledgers by their registered symbol.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[string]Ledger
}

// NewRegistry returns an empty ledger registry.
func NewRegistry() *Registry {
	return &Registry{ledgers: make(map[string]Ledger)}
}

// Register adds a ledger under its canonical uppercase symbol. Registering a
// duplicate symbol replaces the previous ledger.
func (r *Registry) Register(ledger Ledger) {
	if ledger == nil {
		return
	}
	symbol := NormalizeSymbol(ledger.Symbol())
	if symbol == "" {
		return
	}
	r.mu.Lock()
	r.ledgers[symbol] = ledger
	r.mu.Unlock()
}

// Ledger returns the ledger registered under the supplied symbol.
func (r *Registry) Ledger(symbol string) (Ledger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ledger, ok := r.ledgers[NormalizeSymbol(symbol)]
	return ledger, ok
}

// NormalizeSymbol returns the canonical uppercase form of a token symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
