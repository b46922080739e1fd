package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"paylock/core/events"
	"paylock/core/types"
	"paylock/native/common"
	"paylock/native/token"
)

var (
	errNilState  = errors.New("escrow engine: state not configured")
	errNilVault  = errors.New("escrow engine: custody vault not configured")
	errNilTokens = errors.New("escrow engine: token registry not configured")
)

type engineState interface {
	AgreementPut(*Agreement) error
	AgreementGet(id uint64) (*Agreement, bool)
	AgreementCount() (uint64, error)
	SetAgreementCount(uint64) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	EventsAppend(id uint64, evt *types.Event) error
	Snapshot() int
	RevertToSnapshot(int)
}

// TokenResolver looks up the external fungible-token ledger referenced by a
// token-asset agreement.
type TokenResolver interface {
	Ledger(symbol string) (token.Ledger, bool)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine owns the agreement store and implements the escrow lifecycle. The
// arbitrator is fixed at construction. Every mutating operation acquires the
// engine-wide reentrancy guard before touching state and runs against a state
// snapshot, so a failure anywhere inside the operation rolls back all of its
// writes.
type Engine struct {
	state      engineState
	emitter    events.Emitter
	tokens     TokenResolver
	arbitrator [20]byte
	vault      [20]byte
	guard      common.ReentrancyGuard
}

// NewEngine creates an escrow engine adjudicated by the supplied arbitrator,
// with a no-op emitter. Callers can override the emitter via SetEmitter.
func NewEngine(arbitrator [20]byte) *Engine {
	return &Engine{
		arbitrator: arbitrator,
		emitter:    events.NoopEmitter{},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVault configures the custody address funds are held under between
// deposit and release. The vault also acts as the engine's spender principal
// on token ledgers.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetTokens configures the registry used to resolve token-asset ledgers.
func (e *Engine) SetTokens(tokens TokenResolver) { e.tokens = tokens }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Arbitrator returns the principal empowered to resolve disputes.
func (e *Engine) Arbitrator() [20]byte { return e.arbitrator }

// Vault returns the custody address.
func (e *Engine) Vault() [20]byte { return e.vault }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// run executes one top-level mutating operation under the reentrancy guard
// and a state snapshot. Nested entry attempts fail with
// common.ErrReentrantCall; any error from op reverts every state write the
// operation performed.
func (e *Engine) run(op func() error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	snapshot := e.state.Snapshot()
	if err := op(); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

func (e *Engine) loadAgreement(id uint64) (*Agreement, error) {
	agreement, ok := e.state.AgreementGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return agreement, nil
}

// record appends the event to the agreement's append-only log and broadcasts
// it to subscribers.
func (e *Engine) record(id uint64, evt *types.Event) error {
	if err := e.state.EventsAppend(id, evt); err != nil {
		return err
	}
	e.emit(evt)
	return nil
}

func (e *Engine) transferNative(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc.EnsureBalance()
	toAcc.EnsureBalance()
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("escrow: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

func (e *Engine) resolveLedger(asset Asset) (token.Ledger, error) {
	if e.tokens == nil {
		return nil, errNilTokens
	}
	ledger, ok := e.tokens.Ledger(asset.Token)
	if !ok {
		return nil, fmt.Errorf("%w: no ledger registered for %q", ErrTokenTransferFailed, asset.Token)
	}
	return ledger, nil
}

func (e *Engine) ensureVaultConfigured() error {
	if e.vault == ([20]byte{}) {
		return errNilVault
	}
	return nil
}

// CreateAgreement allocates the next sequential id and stores a new agreement
// in AWAITING_PAYMENT with the caller as buyer. No funds move. Beyond type
// well-formedness no validation is applied to seller, asset or amount; in
// particular a zero amount is accepted.
func (e *Engine) CreateAgreement(buyer, seller [20]byte, asset Asset, amount *big.Int) (uint64, error) {
	var id uint64
	err := e.run(func() error {
		if !asset.Kind.Valid() {
			return fmt.Errorf("escrow: invalid asset kind %d", asset.Kind)
		}
		if asset.Kind == AssetToken {
			asset.Token = token.NormalizeSymbol(asset.Token)
			if asset.Token == "" {
				return fmt.Errorf("escrow: token asset requires a ledger symbol")
			}
		}
		amt := cloneBigInt(amount)
		if amt.Sign() < 0 {
			return fmt.Errorf("escrow: amount must be non-negative")
		}
		count, err := e.state.AgreementCount()
		if err != nil {
			return err
		}
		id = count + 1
		agreement := &Agreement{
			ID:     id,
			Buyer:  buyer,
			Seller: seller,
			Asset:  asset,
			Amount: amt,
			State:  StateAwaitingPayment,
		}
		if err := e.state.AgreementPut(agreement); err != nil {
			return err
		}
		if err := e.state.SetAgreementCount(id); err != nil {
			return err
		}
		return e.record(id, NewAgreementCreatedEvent(agreement))
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// DepositPayment funds the agreement's custody vault. Only the buyer may
// deposit, and only from AWAITING_PAYMENT. The state advances before the
// fund transfer runs, closing the window where a transfer callback could
// re-invoke an operation against the pre-transition record; a transfer
// failure rolls the advance back.
//
// Native path: the attached value must cover the agreement amount. A surplus
// is retained in the vault with no refund; the agreement is credited only the
// amount for accounting purposes.
//
// Token path: no native value may be attached. The engine pulls exactly the
// agreement amount from the buyer's token balance using a pre-existing
// allowance granted to the vault.
func (e *Engine) DepositPayment(id uint64, caller [20]byte, value *big.Int) error {
	return e.run(func() error {
		if err := e.ensureVaultConfigured(); err != nil {
			return err
		}
		agreement, err := e.loadAgreement(id)
		if err != nil {
			return err
		}
		if caller != agreement.Buyer {
			return ErrNotBuyer
		}
		if agreement.State != StateAwaitingPayment {
			return ErrInvalidState
		}
		agreement.State = StateAwaitingDelivery
		if err := e.state.AgreementPut(agreement); err != nil {
			return err
		}
		attached := cloneBigInt(value)
		if agreement.Asset.Native() {
			if attached.Cmp(agreement.Amount) < 0 {
				return ErrInvalidNativeAmount
			}
			if err := e.transferNative(agreement.Buyer, e.vault, attached); err != nil {
				return fmt.Errorf("%w: %v", ErrNativeTransferFailed, err)
			}
		} else {
			if attached.Sign() != 0 {
				return ErrNativeNotAccepted
			}
			ledger, err := e.resolveLedger(agreement.Asset)
			if err != nil {
				return err
			}
			if !ledger.TransferFrom(e.vault, agreement.Buyer, e.vault, agreement.Amount) {
				return ErrTokenTransferFailed
			}
		}
		return e.record(id, NewPaymentDepositedEvent(agreement))
	})
}

// ConfirmDelivery completes the agreement and releases the full custodied
// amount to the seller. Only the buyer may confirm, and only from
// AWAITING_DELIVERY. A transfer failure rolls back the completion.
func (e *Engine) ConfirmDelivery(id uint64, caller [20]byte) error {
	return e.run(func() error {
		agreement, err := e.loadAgreement(id)
		if err != nil {
			return err
		}
		if caller != agreement.Buyer {
			return ErrNotBuyer
		}
		if agreement.State != StateAwaitingDelivery {
			return ErrInvalidState
		}
		agreement.State = StateComplete
		if err := e.state.AgreementPut(agreement); err != nil {
			return err
		}
		if err := e.releaseFunds(agreement, agreement.Seller); err != nil {
			return err
		}
		return e.record(id, NewItemReceivedEvent(agreement))
	})
}

// RaiseDispute flags the agreement for arbitration. Only the buyer may
// dispute, and only from AWAITING_DELIVERY. No funds move and no event is
// appended for this transition.
func (e *Engine) RaiseDispute(id uint64, caller [20]byte) error {
	return e.run(func() error {
		agreement, err := e.loadAgreement(id)
		if err != nil {
			return err
		}
		if caller != agreement.Buyer {
			return ErrNotBuyer
		}
		if agreement.State != StateAwaitingDelivery {
			return ErrInvalidState
		}
		agreement.State = StateDispute
		return e.state.AgreementPut(agreement)
	})
}

// ResolveDispute completes a disputed agreement, releasing the custodied
// amount to the buyer when buyerWins is true and to the seller otherwise.
// Only the fixed arbitrator may resolve, and only from DISPUTE.
func (e *Engine) ResolveDispute(id uint64, caller [20]byte, buyerWins bool) error {
	return e.run(func() error {
		agreement, err := e.loadAgreement(id)
		if err != nil {
			return err
		}
		if caller != e.arbitrator {
			return ErrNotArbitrator
		}
		if agreement.State != StateDispute {
			return ErrInvalidState
		}
		agreement.State = StateComplete
		if err := e.state.AgreementPut(agreement); err != nil {
			return err
		}
		recipient := agreement.Seller
		if buyerWins {
			recipient = agreement.Buyer
		}
		if err := e.releaseFunds(agreement, recipient); err != nil {
			return err
		}
		return e.record(id, NewDisputeResolvedEvent(agreement, buyerWins))
	})
}

func (e *Engine) releaseFunds(agreement *Agreement, to [20]byte) error {
	if err := e.ensureVaultConfigured(); err != nil {
		return err
	}
	if agreement.Asset.Native() {
		if err := e.transferNative(e.vault, to, agreement.Amount); err != nil {
			return fmt.Errorf("%w: %v", ErrNativeTransferFailed, err)
		}
		return nil
	}
	ledger, err := e.resolveLedger(agreement.Asset)
	if err != nil {
		return err
	}
	if !ledger.Transfer(e.vault, to, agreement.Amount) {
		return ErrTokenTransferFailed
	}
	return nil
}

// Agreement returns a copy of the stored record for an id.
func (e *Engine) Agreement(id uint64) (*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	agreement, ok := e.state.AgreementGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return agreement.Clone(), nil
}

// AgreementCount returns how many agreements exist, which is also the id of
// the most recently created one.
func (e *Engine) AgreementCount() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.AgreementCount()
}
