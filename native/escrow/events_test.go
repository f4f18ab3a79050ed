package escrow

import (
	"encoding/hex"
	"testing"
)

func TestCreatedEventCarriesFullTerms(t *testing.T) {
	esc, err := validEscrow().Sanitize()
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	esc.Key[0] = 0xab

	evt := NewCreatedEvent(esc)
	if evt.Type != EventTypeCreated {
		t.Fatalf("type = %q", evt.Type)
	}
	attrs := evt.Attributes
	if attrs["id"] != "swap-1" {
		t.Fatalf("id = %q", attrs["id"])
	}
	if attrs["key"] != hex.EncodeToString(esc.Key[:]) {
		t.Fatalf("key = %q", attrs["key"])
	}
	if attrs["depositAsset"] != "NATIVE" || attrs["depositAmount"] != "500" {
		t.Fatalf("deposit attrs = %q / %q", attrs["depositAsset"], attrs["depositAmount"])
	}
	if attrs["receiveAsset"] != "USDC" || attrs["receiveAmount"] != "900" {
		t.Fatalf("receive attrs = %q / %q", attrs["receiveAsset"], attrs["receiveAmount"])
	}
	if attrs["state"] != "pending" {
		t.Fatalf("state = %q", attrs["state"])
	}
}

func TestRefundEventsNameTheRefundedAsset(t *testing.T) {
	esc, err := validEscrow().Sanitize()
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}

	buyerEvt := NewBuyerRefundedEvent(esc)
	if buyerEvt.Attributes["asset"] != "NATIVE" || buyerEvt.Attributes["amount"] != "500" {
		t.Fatalf("buyer refund attrs = %+v", buyerEvt.Attributes)
	}
	sellerEvt := NewSellerRefundedEvent(esc)
	if sellerEvt.Attributes["asset"] != "USDC" || sellerEvt.Attributes["amount"] != "900" {
		t.Fatalf("seller refund attrs = %+v", sellerEvt.Attributes)
	}
}

func TestNilEscrowEventIsSafe(t *testing.T) {
	evt := NewAcceptedEvent(nil)
	if evt.Type != EventTypeAccepted {
		t.Fatalf("type = %q", evt.Type)
	}
	if len(evt.Attributes) != 0 {
		t.Fatalf("expected empty attributes, got %+v", evt.Attributes)
	}
}
