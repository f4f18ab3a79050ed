package escrow

import (
	"encoding/hex"
	"strconv"

	"vaultswap/core/types"
)

const (
	EventTypeCreated        = "escrow.created"
	EventTypeAccepted       = "escrow.accepted"
	EventTypeFunded         = "escrow.funded"
	EventTypeAssetSent      = "escrow.asset_sent"
	EventTypeReleased       = "escrow.released"
	EventTypeAutoReleased   = "escrow.auto_released"
	EventTypeBuyerRefunded  = "escrow.buyer_refunded"
	EventTypeSellerRefunded = "escrow.seller_refunded"
	EventTypeCancelled      = "escrow.cancelled"
	EventTypeClosed         = "escrow.closed"
)

// NewCreatedEvent returns the canonical event payload for a newly initiated
// escrow, carrying the full terms for downstream indexers.
func NewCreatedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeCreated, e)
	if e != nil {
		evt.Attributes["depositAsset"] = e.DepositAsset.String()
		evt.Attributes["depositAmount"] = strconv.FormatUint(e.DepositAmount, 10)
		evt.Attributes["receiveAsset"] = e.ReceiveAsset.String()
		evt.Attributes["receiveAmount"] = strconv.FormatUint(e.ReceiveAmount, 10)
		evt.Attributes["expiry"] = strconv.FormatInt(e.Expiry, 10)
	}
	return evt
}

// NewAcceptedEvent returns the event payload emitted when the seller accepts.
func NewAcceptedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeAccepted, e) }

// NewFundedEvent returns the event payload emitted when the buyer's deposit
// reaches the vault.
func NewFundedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeFunded, e)
	if e != nil {
		evt.Attributes["asset"] = e.DepositAsset.String()
		evt.Attributes["amount"] = strconv.FormatUint(e.DepositAmount, 10)
	}
	return evt
}

// NewAssetSentEvent returns the event payload emitted when the seller's asset
// reaches the vault.
func NewAssetSentEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeAssetSent, e)
	if e != nil {
		evt.Attributes["asset"] = e.ReceiveAsset.String()
		evt.Attributes["amount"] = strconv.FormatUint(e.ReceiveAmount, 10)
	}
	return evt
}

// NewReleasedEvent returns the event payload for the atomic two-way payout.
func NewReleasedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeReleased, e) }

// NewAutoReleasedEvent returns the event payload for a permissionless
// post-expiry release.
func NewAutoReleasedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeAutoReleased, e) }

// NewBuyerRefundedEvent returns the event payload for the buyer-side refund.
func NewBuyerRefundedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeBuyerRefunded, e)
	if e != nil {
		evt.Attributes["asset"] = e.DepositAsset.String()
		evt.Attributes["amount"] = strconv.FormatUint(e.DepositAmount, 10)
	}
	return evt
}

// NewSellerRefundedEvent returns the event payload for the seller-side refund.
func NewSellerRefundedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeSellerRefunded, e)
	if e != nil {
		evt.Attributes["asset"] = e.ReceiveAsset.String()
		evt.Attributes["amount"] = strconv.FormatUint(e.ReceiveAmount, 10)
	}
	return evt
}

// NewCancelledEvent returns the event payload for a pre-funding cancellation.
func NewCancelledEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCancelled, e) }

// NewClosedEvent returns the event payload emitted when a settled record is
// reaped.
func NewClosedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeClosed, e) }

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = e.ID
	attrs["key"] = hex.EncodeToString(e.Key[:])
	attrs["buyer"] = hex.EncodeToString(e.Buyer[:])
	attrs["seller"] = hex.EncodeToString(e.Seller[:])
	attrs["state"] = e.State.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
