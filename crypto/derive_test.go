package crypto

import (
	"bytes"
	"testing"
)

func addr(fill byte) [20]byte {
	var a [20]byte
	copy(a[:], bytes.Repeat([]byte{fill}, 20))
	return a
}

func TestEscrowKeyDeterministic(t *testing.T) {
	buyer := addr(0x01)
	seller := addr(0x02)
	first := EscrowKey("swap-1", buyer, seller)
	second := EscrowKey("swap-1", buyer, seller)
	if first != second {
		t.Fatalf("expected identical keys for identical inputs")
	}
}

func TestEscrowKeySensitivity(t *testing.T) {
	buyer := addr(0x01)
	seller := addr(0x02)
	base := EscrowKey("swap-1", buyer, seller)
	if base == EscrowKey("swap-2", buyer, seller) {
		t.Fatalf("expected id change to alter key")
	}
	if base == EscrowKey("swap-1", seller, buyer) {
		t.Fatalf("expected party order to alter key")
	}
}

func TestVaultAddressDistinctFromParties(t *testing.T) {
	buyer := addr(0x01)
	seller := addr(0x02)
	key := EscrowKey("swap-1", buyer, seller)
	vault := VaultAddress(key)
	if vault == buyer || vault == seller {
		t.Fatalf("vault address collides with a party")
	}
	if vault != VaultAddress(key) {
		t.Fatalf("expected deterministic vault address")
	}
	other := EscrowKey("swap-2", buyer, seller)
	if vault == VaultAddress(other) {
		t.Fatalf("expected distinct vaults for distinct escrows")
	}
}
