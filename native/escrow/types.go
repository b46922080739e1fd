package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// AgreementState represents the lifecycle states of one escrow agreement.
type AgreementState uint8

const (
	StateAwaitingPayment AgreementState = iota
	StateAwaitingDelivery
	StateComplete
	StateDispute
)

// Valid reports whether the state value is within the supported range.
func (s AgreementState) Valid() bool {
	switch s {
	case StateAwaitingPayment, StateAwaitingDelivery, StateComplete, StateDispute:
		return true
	default:
		return false
	}
}

// String returns the canonical wire form of the state.
func (s AgreementState) String() string {
	switch s {
	case StateAwaitingPayment:
		return "AWAITING_PAYMENT"
	case StateAwaitingDelivery:
		return "AWAITING_DELIVERY"
	case StateComplete:
		return "COMPLETE"
	case StateDispute:
		return "DISPUTE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// AssetKind distinguishes the hosting ledger's native value asset from a
// fungible token held on an external token ledger.
type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetToken
)

// Valid reports whether the asset kind is within the supported range.
func (k AssetKind) Valid() bool {
	return k == AssetNative || k == AssetToken
}

// Asset identifies the fund medium of an agreement: the native sentinel, or a
// reference to an external fungible-token ledger keyed by symbol.
type Asset struct {
	Kind  AssetKind
	Token string
}

// NativeAsset returns the native-value sentinel.
func NativeAsset() Asset { return Asset{Kind: AssetNative} }

// TokenAsset references a fungible-token ledger by its registered symbol.
func TokenAsset(symbol string) Asset {
	return Asset{Kind: AssetToken, Token: strings.ToUpper(strings.TrimSpace(symbol))}
}

// Native reports whether the asset is the hosting ledger's native value asset.
func (a Asset) Native() bool { return a.Kind == AssetNative }

// Agreement captures one escrow deal between a buyer and a seller for a fixed
// amount of one asset. Identity fields never change after creation; only the
// state advances.
type Agreement struct {
	ID     uint64
	Buyer  [20]byte
	Seller [20]byte
	Asset  Asset
	Amount *big.Int
	State  AgreementState
}

// Clone returns a deep copy of the agreement so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Amount != nil {
		clone.Amount = new(big.Int).Set(a.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeAgreement validates and normalises the supplied agreement record,
// returning a cloned instance with a non-nil amount. The function does not
// mutate the original value.
func SanitizeAgreement(a *Agreement) (*Agreement, error) {
	if a == nil {
		return nil, fmt.Errorf("nil agreement")
	}
	clone := a.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("agreement id must be positive")
	}
	if !clone.Asset.Kind.Valid() {
		return nil, fmt.Errorf("invalid asset kind: %d", clone.Asset.Kind)
	}
	if clone.Asset.Kind == AssetToken && strings.TrimSpace(clone.Asset.Token) == "" {
		return nil, fmt.Errorf("token asset requires a ledger symbol")
	}
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("agreement amount must be non-negative")
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("invalid agreement state: %d", clone.State)
	}
	return clone, nil
}
