package escrow

import (
	"encoding/hex"
	"strconv"

	"paylock/core/types"
)

const (
	EventTypeAgreementCreated = "escrow.agreement.created"
	EventTypePaymentDeposited = "escrow.payment.deposited"
	EventTypeItemReceived     = "escrow.item.received"
	EventTypeDisputeResolved  = "escrow.dispute.resolved"
)

// NewAgreementCreatedEvent returns the canonical event payload for a newly
// created agreement.
func NewAgreementCreatedEvent(a *Agreement) *types.Event {
	evt := newAgreementEvent(EventTypeAgreementCreated, a)
	if a == nil {
		return evt
	}
	evt.Attributes["buyer"] = hex.EncodeToString(a.Buyer[:])
	evt.Attributes["seller"] = hex.EncodeToString(a.Seller[:])
	evt.Attributes["amount"] = formatAmount(a)
	evt.Attributes["asset"] = assetLabel(a.Asset)
	return evt
}

// NewPaymentDepositedEvent returns the event payload emitted when the buyer
// funds the custody vault.
func NewPaymentDepositedEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypePaymentDeposited, a)
}

// NewItemReceivedEvent returns the event payload emitted when the buyer
// confirms delivery and funds release to the seller.
func NewItemReceivedEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeItemReceived, a)
}

// NewDisputeResolvedEvent returns the event payload emitted when the
// arbitrator settles a dispute.
func NewDisputeResolvedEvent(a *Agreement, buyerWins bool) *types.Event {
	evt := newAgreementEvent(EventTypeDisputeResolved, a)
	evt.Attributes["buyerWins"] = strconv.FormatBool(buyerWins)
	return evt
}

func newAgreementEvent(eventType string, a *Agreement) *types.Event {
	attrs := make(map[string]string)
	if a != nil {
		attrs["id"] = strconv.FormatUint(a.ID, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(a *Agreement) string {
	if a == nil || a.Amount == nil {
		return "0"
	}
	return a.Amount.String()
}

func assetLabel(asset Asset) string {
	if asset.Native() {
		return "native"
	}
	return asset.Token
}
