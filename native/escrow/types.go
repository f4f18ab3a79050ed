package escrow

import (
	"fmt"
	"strings"
)

// MaxIDLength bounds the caller-supplied escrow identifier.
const MaxIDLength = 32

// State represents the lifecycle states of an escrow record.
type State uint8

const (
	StatePending State = iota
	StateActive
	StateFunded
	StateAssetSent
	StateReleased
	StateCancelled
	StateBuyerRefunded
	StateSellerRefunded
	StateClosed
)

var stateNames = map[State]string{
	StatePending:        "pending",
	StateActive:         "active",
	StateFunded:         "funded",
	StateAssetSent:      "asset_sent",
	StateReleased:       "released",
	StateCancelled:      "cancelled",
	StateBuyerRefunded:  "buyer_refunded",
	StateSellerRefunded: "seller_refunded",
	StateClosed:         "closed",
}

// Valid reports whether the state value is within the supported range.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Terminal reports whether no further transition may leave the state. The
// refunded states are not terminal: the opposite side may still reclaim its
// own funds, and Close can reap a settled record.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateCancelled || s == StateClosed
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Escrow captures the terms and runtime status of a single conditional
// exchange. Key is derived from (ID, Buyer, Seller), so the identifier is
// unique per party pair without a registry. The refund flags are monotonic:
// once a side has been made whole its funds are never transferred again.
type Escrow struct {
	ID            string
	Key           [32]byte
	Buyer         [20]byte
	Seller        [20]byte
	DepositAsset  Asset
	DepositAmount uint64
	ReceiveAsset  Asset
	ReceiveAmount uint64
	State         State
	CreatedAt     int64
	Expiry        int64
	BuyerRefund   bool
	SellerRefund  bool
	VaultAddr     [20]byte
}

// Clone returns a copy of the escrow object so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// Sanitize validates and normalises the supplied escrow definition, returning
// a cloned instance with canonical asset descriptors. The function does not
// mutate the original value.
func (e *Escrow) Sanitize() (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	clone := e.Clone()
	id := strings.TrimSpace(clone.ID)
	if len(id) == 0 || len(id) > MaxIDLength {
		return nil, ErrInvalidID
	}
	clone.ID = id
	if clone.Buyer == clone.Seller {
		return nil, ErrSameParty
	}
	deposit, err := clone.DepositAsset.Normalize()
	if err != nil {
		return nil, err
	}
	clone.DepositAsset = deposit
	receive, err := clone.ReceiveAsset.Normalize()
	if err != nil {
		return nil, err
	}
	clone.ReceiveAsset = receive
	if deposit.Equal(receive) {
		return nil, ErrSameAsset
	}
	if clone.DepositAmount == 0 || clone.ReceiveAmount == 0 {
		return nil, ErrZeroAmount
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("escrow: invalid state %d", clone.State)
	}
	return clone, nil
}

// sameDefinition reports whether both records describe identical terms,
// ignoring runtime status. Used for idempotent initiation.
func (e *Escrow) sameDefinition(other *Escrow) bool {
	if e == nil || other == nil {
		return false
	}
	return e.ID == other.ID &&
		e.Buyer == other.Buyer &&
		e.Seller == other.Seller &&
		e.DepositAsset.Equal(other.DepositAsset) &&
		e.DepositAmount == other.DepositAmount &&
		e.ReceiveAsset.Equal(other.ReceiveAsset) &&
		e.ReceiveAmount == other.ReceiveAmount &&
		e.Expiry == other.Expiry
}
