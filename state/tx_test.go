package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vaultswap/native/escrow"
)

func TestEscrowCodec(t *testing.T) {
	esc := &escrow.Escrow{
		ID:            "swap-9",
		Buyer:         testAddr(0x11),
		Seller:        testAddr(0x22),
		DepositAsset:  escrow.NativeAsset(),
		DepositAmount: 500,
		ReceiveAsset:  escrow.TokenAsset("USDC"),
		ReceiveAmount: 900,
		State:         escrow.StateSellerRefunded,
		CreatedAt:     1_700_000_000,
		Expiry:        1_700_003_600,
		SellerRefund:  true,
		VaultAddr:     testAddr(0x33),
	}
	esc.Key[0] = 0xab

	raw, err := encodeEscrow(esc)
	require.NoError(t, err)

	decoded, err := decodeEscrow(raw)
	require.NoError(t, err)
	require.Equal(t, esc, decoded)
}

func TestDecodeEscrowRejectsMalformed(t *testing.T) {
	_, err := decodeEscrow([]byte("{not json"))
	require.Error(t, err)

	// valid JSON, truncated key
	_, err = decodeEscrow([]byte(`{"id":"x","key":"abcd","buyer":"","seller":"","vaultAddr":""}`))
	require.Error(t, err)
}

func TestEncodeEscrowNil(t *testing.T) {
	_, err := encodeEscrow(nil)
	require.Error(t, err)
}

func TestBalanceKeyIsAssetScoped(t *testing.T) {
	key := [32]byte{1}
	require.NotEqual(t, balanceKey(key, "NATIVE"), balanceKey(key, "USDC"))

	other := [32]byte{2}
	require.NotEqual(t, balanceKey(key, "NATIVE"), balanceKey(other, "NATIVE"))
}
