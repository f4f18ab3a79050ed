package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/bits"

	"vaultswap/core/types"
	"vaultswap/native/escrow"
	"vaultswap/storage"
)

// tx is the buffered view one engine operation runs against. Reads fall
// through to the database on first access and are cached; writes stay in the
// overlay until commit flushes them as a single batch. Discarding the tx
// discards every buffered write.
type tx struct {
	db storage.Database

	accounts        map[[20]byte]*types.Account
	accountsDirty   map[[20]byte]bool
	accountsDeleted map[[20]byte]bool

	escrows        map[[32]byte]*escrow.Escrow
	escrowsDirty   map[[32]byte]bool
	escrowsDeleted map[[32]byte]bool

	balances      map[string]uint64
	balancesKnown map[string]bool
	balancesDirty map[string]bool
}

func newTx(db storage.Database) *tx {
	return &tx{
		db:              db,
		accounts:        make(map[[20]byte]*types.Account),
		accountsDirty:   make(map[[20]byte]bool),
		accountsDeleted: make(map[[20]byte]bool),
		escrows:         make(map[[32]byte]*escrow.Escrow),
		escrowsDirty:    make(map[[32]byte]bool),
		escrowsDeleted:  make(map[[32]byte]bool),
		balances:        make(map[string]uint64),
		balancesKnown:   make(map[string]bool),
		balancesDirty:   make(map[string]bool),
	}
}

var _ escrow.StateView = (*tx)(nil)

func (t *tx) GetAccount(addr [20]byte) (*types.Account, error) {
	if t.accountsDeleted[addr] {
		return &types.Account{}, nil
	}
	if acc, ok := t.accounts[addr]; ok {
		return acc.Clone(), nil
	}
	raw, ok, err := t.db.Get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	acc := &types.Account{}
	if ok {
		if err := json.Unmarshal(raw, acc); err != nil {
			return nil, fmt.Errorf("state: decode account %x: %w", addr, err)
		}
	}
	t.accounts[addr] = acc
	return acc.Clone(), nil
}

func (t *tx) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	delete(t.accountsDeleted, addr)
	t.accounts[addr] = account.Clone()
	t.accountsDirty[addr] = true
	return nil
}

func (t *tx) RemoveAccount(addr [20]byte) error {
	delete(t.accounts, addr)
	delete(t.accountsDirty, addr)
	t.accountsDeleted[addr] = true
	return nil
}

func (t *tx) EscrowGet(key [32]byte) (*escrow.Escrow, bool, error) {
	if t.escrowsDeleted[key] {
		return nil, false, nil
	}
	if esc, ok := t.escrows[key]; ok {
		return esc.Clone(), true, nil
	}
	raw, ok, err := t.db.Get(escrowKey(key))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	esc, err := decodeEscrow(raw)
	if err != nil {
		return nil, false, err
	}
	t.escrows[key] = esc
	return esc.Clone(), true, nil
}

func (t *tx) EscrowPut(esc *escrow.Escrow) error {
	if esc == nil {
		return fmt.Errorf("state: nil escrow")
	}
	sanitized, err := esc.Sanitize()
	if err != nil {
		return err
	}
	delete(t.escrowsDeleted, sanitized.Key)
	t.escrows[sanitized.Key] = sanitized
	t.escrowsDirty[sanitized.Key] = true
	return nil
}

func (t *tx) EscrowRemove(key [32]byte) error {
	delete(t.escrows, key)
	delete(t.escrowsDirty, key)
	t.escrowsDeleted[key] = true
	return nil
}

func (t *tx) loadBalance(key [32]byte, asset escrow.Asset) (string, uint64, error) {
	normalized, err := asset.Normalize()
	if err != nil {
		return "", 0, err
	}
	dbKey := balanceKey(key, normalized.String())
	idx := string(dbKey)
	if t.balancesKnown[idx] {
		return idx, t.balances[idx], nil
	}
	raw, ok, err := t.db.Get(dbKey)
	if err != nil {
		return "", 0, err
	}
	var balance uint64
	if ok {
		if len(raw) != 8 {
			return "", 0, fmt.Errorf("state: malformed vault balance for %s", idx)
		}
		balance = binary.BigEndian.Uint64(raw)
	}
	t.balances[idx] = balance
	t.balancesKnown[idx] = true
	return idx, balance, nil
}

func (t *tx) EscrowCredit(key [32]byte, asset escrow.Asset, amount uint64) error {
	idx, current, err := t.loadBalance(key, asset)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(current, amount, 0)
	if carry != 0 {
		return escrow.ErrOverflow
	}
	t.balances[idx] = sum
	t.balancesDirty[idx] = true
	return nil
}

func (t *tx) EscrowDebit(key [32]byte, asset escrow.Asset, amount uint64) error {
	idx, current, err := t.loadBalance(key, asset)
	if err != nil {
		return err
	}
	if current < amount {
		return escrow.ErrInsufficientBalance
	}
	t.balances[idx] = current - amount
	t.balancesDirty[idx] = true
	return nil
}

func (t *tx) EscrowBalance(key [32]byte, asset escrow.Asset) (uint64, error) {
	_, balance, err := t.loadBalance(key, asset)
	return balance, err
}

// commit flushes every buffered write as one atomic batch.
func (t *tx) commit() error {
	batch := new(storage.Batch)
	for addr := range t.accountsDeleted {
		batch.Delete(accountKey(addr))
	}
	for addr := range t.accountsDirty {
		raw, err := json.Marshal(t.accounts[addr])
		if err != nil {
			return fmt.Errorf("state: encode account %x: %w", addr, err)
		}
		batch.Put(accountKey(addr), raw)
	}
	for key := range t.escrowsDeleted {
		batch.Delete(escrowKey(key))
	}
	for key := range t.escrowsDirty {
		raw, err := encodeEscrow(t.escrows[key])
		if err != nil {
			return err
		}
		batch.Put(escrowKey(key), raw)
	}
	for idx := range t.balancesDirty {
		balance := t.balances[idx]
		if balance == 0 {
			batch.Delete([]byte(idx))
			continue
		}
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], balance)
		batch.Put([]byte(idx), raw[:])
	}
	if batch.Len() == 0 {
		return nil
	}
	return t.db.Write(batch)
}

// storedEscrow is the persistence shape of an escrow record; byte arrays are
// hex strings so the stored form stays inspectable.
type storedEscrow struct {
	ID            string       `json:"id"`
	Key           string       `json:"key"`
	Buyer         string       `json:"buyer"`
	Seller        string       `json:"seller"`
	DepositAsset  escrow.Asset `json:"depositAsset"`
	DepositAmount uint64       `json:"depositAmount"`
	ReceiveAsset  escrow.Asset `json:"receiveAsset"`
	ReceiveAmount uint64       `json:"receiveAmount"`
	State         uint8        `json:"state"`
	CreatedAt     int64        `json:"createdAt"`
	Expiry        int64        `json:"expiry"`
	BuyerRefund   bool         `json:"buyerRefund,omitempty"`
	SellerRefund  bool         `json:"sellerRefund,omitempty"`
	VaultAddr     string       `json:"vaultAddr"`
}

func encodeEscrow(esc *escrow.Escrow) ([]byte, error) {
	if esc == nil {
		return nil, fmt.Errorf("state: nil escrow")
	}
	stored := storedEscrow{
		ID:            esc.ID,
		Key:           hex.EncodeToString(esc.Key[:]),
		Buyer:         hex.EncodeToString(esc.Buyer[:]),
		Seller:        hex.EncodeToString(esc.Seller[:]),
		DepositAsset:  esc.DepositAsset,
		DepositAmount: esc.DepositAmount,
		ReceiveAsset:  esc.ReceiveAsset,
		ReceiveAmount: esc.ReceiveAmount,
		State:         uint8(esc.State),
		CreatedAt:     esc.CreatedAt,
		Expiry:        esc.Expiry,
		BuyerRefund:   esc.BuyerRefund,
		SellerRefund:  esc.SellerRefund,
		VaultAddr:     hex.EncodeToString(esc.VaultAddr[:]),
	}
	return json.Marshal(stored)
}

func decodeEscrow(raw []byte) (*escrow.Escrow, error) {
	var stored storedEscrow
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode escrow: %w", err)
	}
	esc := &escrow.Escrow{
		ID:            stored.ID,
		DepositAsset:  stored.DepositAsset,
		DepositAmount: stored.DepositAmount,
		ReceiveAsset:  stored.ReceiveAsset,
		ReceiveAmount: stored.ReceiveAmount,
		State:         escrow.State(stored.State),
		CreatedAt:     stored.CreatedAt,
		Expiry:        stored.Expiry,
		BuyerRefund:   stored.BuyerRefund,
		SellerRefund:  stored.SellerRefund,
	}
	if err := decodeHex32(stored.Key, &esc.Key); err != nil {
		return nil, err
	}
	if err := decodeHex20(stored.Buyer, &esc.Buyer); err != nil {
		return nil, err
	}
	if err := decodeHex20(stored.Seller, &esc.Seller); err != nil {
		return nil, err
	}
	if err := decodeHex20(stored.VaultAddr, &esc.VaultAddr); err != nil {
		return nil, err
	}
	return esc, nil
}

func decodeHex20(s string, out *[20]byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 20 {
		return fmt.Errorf("state: malformed address %q", s)
	}
	copy(out[:], raw)
	return nil
}

func decodeHex32(s string, out *[32]byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("state: malformed key %q", s)
	}
	copy(out[:], raw)
	return nil
}
