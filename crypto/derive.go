package crypto

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Domain separation seeds for deterministic derivation. Changing either value
// invalidates every stored escrow key and vault address.
const (
	escrowSeed = "vaultswap/escrow/v1"
	vaultSeed  = "vaultswap/vault/v1"
)

// EscrowKey derives the storage key of an escrow record from its
// caller-supplied identifier and both party addresses. The derivation is pure,
// so any party can recompute the key without a registry lookup.
func EscrowKey(id string, buyer, seller [20]byte) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(escrowSeed), []byte(id), buyer[:], seller[:])
}

// VaultAddress derives the custody vault account for an escrow record. The
// vault has no corresponding private key; it can only be debited through the
// escrow engine's own transitions.
func VaultAddress(key [32]byte) [20]byte {
	digest := ethcrypto.Keccak256([]byte(vaultSeed), key[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}
