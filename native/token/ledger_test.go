package token

import (
	"math/big"
	"testing"
)

type memLedgerState struct {
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

func newMemLedgerState() *memLedgerState {
	return &memLedgerState{
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

func balanceKey(symbol string, addr [20]byte) string {
	return symbol + "/" + string(addr[:])
}

func grantKey(symbol string, owner, spender [20]byte) string {
	return symbol + "/" + string(owner[:]) + "/" + string(spender[:])
}

func (m *memLedgerState) TokenBalance(symbol string, addr [20]byte) (*big.Int, error) {
	if bal, ok := m.balances[balanceKey(symbol, addr)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *memLedgerState) SetTokenBalance(symbol string, addr [20]byte, amount *big.Int) error {
	m.balances[balanceKey(symbol, addr)] = new(big.Int).Set(amount)
	return nil
}

func (m *memLedgerState) TokenAllowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	if amt, ok := m.allowances[grantKey(symbol, owner, spender)]; ok {
		return new(big.Int).Set(amt), nil
	}
	return big.NewInt(0), nil
}

func (m *memLedgerState) SetTokenAllowance(symbol string, owner, spender [20]byte, amount *big.Int) error {
	m.allowances[grantKey(symbol, owner, spender)] = new(big.Int).Set(amount)
	return nil
}

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func newTestLedger(t *testing.T) *StateLedger {
	t.Helper()
	ledger, err := NewStateLedger("plt", newMemLedgerState())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger
}

func TestNewStateLedgerValidation(t *testing.T) {
	if _, err := NewStateLedger("  ", newMemLedgerState()); err == nil {
		t.Fatalf("expected empty symbol rejection")
	}
	if _, err := NewStateLedger("plt", nil); err == nil {
		t.Fatalf("expected nil state rejection")
	}
	ledger := newTestLedger(t)
	if ledger.Symbol() != "PLT" {
		t.Fatalf("expected normalized symbol PLT, got %q", ledger.Symbol())
	}
}

func TestMintAndTransfer(t *testing.T) {
	ledger := newTestLedger(t)
	alice, bob := addr(0x01), addr(0x02)

	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !ledger.Transfer(alice, bob, big.NewInt(40)) {
		t.Fatalf("transfer should succeed")
	}
	if got := ledger.BalanceOf(alice).String(); got != "60" {
		t.Fatalf("expected alice balance 60, got %s", got)
	}
	if got := ledger.BalanceOf(bob).String(); got != "40" {
		t.Fatalf("expected bob balance 40, got %s", got)
	}

	if ledger.Transfer(alice, bob, big.NewInt(61)) {
		t.Fatalf("overdraft transfer should fail")
	}
	if ledger.Transfer(alice, bob, big.NewInt(-1)) {
		t.Fatalf("negative transfer should fail")
	}
	if !ledger.Transfer(alice, bob, big.NewInt(0)) {
		t.Fatalf("zero transfer should be a no-op success")
	}
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	ledger := newTestLedger(t)
	owner, spender, recipient := addr(0x01), addr(0x02), addr(0x03)

	if err := ledger.Mint(owner, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if ledger.TransferFrom(spender, owner, recipient, big.NewInt(10)) {
		t.Fatalf("transfer without allowance should fail")
	}

	if err := ledger.Approve(owner, spender, big.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ledger.TransferFrom(spender, owner, recipient, big.NewInt(31)) {
		t.Fatalf("transfer above allowance should fail")
	}
	if !ledger.TransferFrom(spender, owner, recipient, big.NewInt(30)) {
		t.Fatalf("transfer within allowance should succeed")
	}
	if got := ledger.Allowance(owner, spender).String(); got != "0" {
		t.Fatalf("expected spent allowance, got %s", got)
	}
	if got := ledger.BalanceOf(recipient).String(); got != "30" {
		t.Fatalf("expected recipient balance 30, got %s", got)
	}

	if err := ledger.Approve(owner, spender, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative allowance rejection")
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	ledger := newTestLedger(t)
	registry.Register(ledger)
	if _, ok := registry.Ledger("plt"); !ok {
		t.Fatalf("expected lookup by lowercase symbol")
	}
	if _, ok := registry.Ledger("missing"); ok {
		t.Fatalf("unexpected hit for unregistered symbol")
	}

	replacement := newTestLedger(t)
	registry.Register(replacement)
	got, _ := registry.Ledger("PLT")
	if got != replacement {
		t.Fatalf("expected re-registration to replace the ledger")
	}
}

func TestNormalizeSymbol(t *testing.T) {
	if got := NormalizeSymbol("  plt "); got != "PLT" {
		t.Fatalf("expected PLT, got %q", got)
	}
	if got := NormalizeSymbol("   "); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
