package state

import "encoding/hex"

// Key construction for the backing key-value store. Every record class gets
// its own prefix so range inspection with external tooling stays possible.
const (
	accountPrefix = "acct/"
	escrowPrefix  = "esc/"
	vaultPrefix   = "vault/"
)

func accountKey(addr [20]byte) []byte {
	return []byte(accountPrefix + hex.EncodeToString(addr[:]))
}

func escrowKey(key [32]byte) []byte {
	return []byte(escrowPrefix + hex.EncodeToString(key[:]))
}

func balanceKey(key [32]byte, asset string) []byte {
	return []byte(vaultPrefix + hex.EncodeToString(key[:]) + "/" + asset)
}
