package escrow

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"vaultswap/core/events"
	"vaultswap/core/types"
	"vaultswap/crypto"
)

var errNilLedger = errors.New("escrow engine: ledger not configured")

// StateView is the transactional view an operation runs against.
// Implementations buffer every write and commit all of them atomically only
// when the operation returns nil, so a failed guard leaves no partial
// mutation.
type StateView interface {
	EscrowPut(*Escrow) error
	EscrowGet(key [32]byte) (*Escrow, bool, error)
	EscrowRemove(key [32]byte) error
	EscrowCredit(key [32]byte, asset Asset, amount uint64) error
	EscrowDebit(key [32]byte, asset Asset, amount uint64) error
	EscrowBalance(key [32]byte, asset Asset) (uint64, error)
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	RemoveAccount(addr [20]byte) error
}

// Ledger supplies the per-record mutual exclusion and all-or-nothing commit
// the engine relies on. Update serialises operations against the same escrow
// key and commits the batched writes only on success.
type Ledger interface {
	Update(key [32]byte, fn func(StateView) error) error
	View(fn func(StateView) error) error
}

// Engine validates and executes every escrow lifecycle transition. It holds
// no mutable state of its own; all persistence goes through the configured
// ledger and every successful transition emits one domain event.
type Engine struct {
	ledger  Ledger
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetLedger configures the state backend used by the engine.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

type engineEvent struct {
	evt *types.Event
}

func (e engineEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e engineEvent) Event() *types.Event { return e.evt }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(engineEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// mutate runs one lifecycle operation inside a ledger transaction and emits
// the resulting event only after the commit succeeded.
func (e *Engine) mutate(key [32]byte, fn func(StateView) (*types.Event, error)) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	var evt *types.Event
	if err := e.ledger.Update(key, func(s StateView) error {
		var err error
		evt, err = fn(s)
		return err
	}); err != nil {
		return err
	}
	e.emit(evt)
	return nil
}

func sameAddr(a, b [20]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// transfer is the single dispatch point for moving value between accounts.
// Vault accounts may only ever be the source when the engine itself executes
// a transition (vaultAuth), never on behalf of an external caller.
func (e *Engine) transfer(s StateView, asset Asset, from, to [20]byte, amount uint64, vaultAuth bool) error {
	if amount == 0 {
		return nil
	}
	normalized, err := asset.Normalize()
	if err != nil {
		return err
	}
	fromAcc, err := s.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Vault && !vaultAuth {
		return ErrVaultRestricted
	}
	toAcc, err := s.GetAccount(to)
	if err != nil {
		return err
	}
	if normalized.IsNative() {
		if fromAcc.Balance < amount {
			return ErrInsufficientBalance
		}
		sum, err := checkedAdd(toAcc.Balance, amount)
		if err != nil {
			return err
		}
		fromAcc.Balance -= amount
		toAcc.Balance = sum
	} else {
		held := fromAcc.TokenBalance(normalized.Token)
		if held < amount {
			return ErrInsufficientBalance
		}
		sum, err := checkedAdd(toAcc.TokenBalance(normalized.Token), amount)
		if err != nil {
			return err
		}
		fromAcc.SetTokenBalance(normalized.Token, held-amount)
		toAcc.SetTokenBalance(normalized.Token, sum)
	}
	if err := s.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return s.PutAccount(to, toAcc)
}

func loadEscrow(s StateView, key [32]byte) (*Escrow, error) {
	esc, ok, err := s.EscrowGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return esc.Sanitize()
}

// ensureVault creates the custody account at the record's derived address on
// first funding need.
func ensureVault(s StateView, esc *Escrow) error {
	acc, err := s.GetAccount(esc.VaultAddr)
	if err != nil {
		return err
	}
	if acc.Vault {
		return nil
	}
	acc.Vault = true
	return s.PutAccount(esc.VaultAddr, acc)
}

// Initiate validates the exchange terms and persists a new escrow record in
// the Pending state. The caller is the buyer. Re-initiating an existing
// (id, buyer, seller) triple with the identical definition returns the stored
// record instead of failing.
func (e *Engine) Initiate(id string, buyer, seller [20]byte, depositAsset Asset, depositAmount uint64, receiveAsset Asset, receiveAmount uint64, expiry int64) (*Escrow, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilLedger
	}
	now := e.now()
	candidate := &Escrow{
		ID:            id,
		Buyer:         buyer,
		Seller:        seller,
		DepositAsset:  depositAsset,
		DepositAmount: depositAmount,
		ReceiveAsset:  receiveAsset,
		ReceiveAmount: receiveAmount,
		State:         StatePending,
		CreatedAt:     now,
		Expiry:        expiry,
	}
	sanitized, err := candidate.Sanitize()
	if err != nil {
		return nil, err
	}
	if expiry <= now {
		return nil, ErrInvalidExpiry
	}
	sanitized.Key = crypto.EscrowKey(sanitized.ID, buyer, seller)
	sanitized.VaultAddr = crypto.VaultAddress(sanitized.Key)

	var out *Escrow
	err = e.mutate(sanitized.Key, func(s StateView) (*types.Event, error) {
		existing, ok, err := s.EscrowGet(sanitized.Key)
		if err != nil {
			return nil, err
		}
		if ok {
			if !existing.sameDefinition(sanitized) {
				return nil, ErrDefinitionMismatch
			}
			out = existing.Clone()
			return nil, nil
		}
		if err := s.EscrowPut(sanitized); err != nil {
			return nil, err
		}
		out = sanitized.Clone()
		return NewCreatedEvent(sanitized), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Accept moves the escrow from Pending to Active. Seller only, before expiry.
func (e *Engine) Accept(key [32]byte, caller [20]byte) error {
	return e.mutate(key, func(s StateView) (*types.Event, error) {
		esc, err := loadEscrow(s, key)
		if err != nil {
			return nil, err
		}
		if esc.State != StatePending {
			return nil, fmt.Errorf("%w: accept in %s", ErrInvalidState, esc.State)
		}
		if !sameAddr(caller, esc.Seller) {
			return nil, ErrUnauthorizedSeller
		}
		if e.now() > esc.Expiry {
			return nil, ErrExpired
		}
		esc.State = StateActive
		if err := s.EscrowPut(esc); err != nil {
			return nil, err
		}
		return NewAcceptedEvent(esc), nil
	})
}

// Fund moves the deposit from the buyer into the custody vault and marks the
// escrow Funded. Buyer only, before expiry. The vault is created lazily here.
func (e *Engine) Fund(key [32]byte, caller [20]byte) error {
	return e.mutate(key, func(s StateView) (*types.Event, error) {
		esc, err := loadEscrow(s, key)
		if err != nil {
			return nil, err
		}
		if esc.State != StateActive {
			return nil, fmt.Errorf("%w: fund in %s", ErrInvalidState, esc.State)
		}
		if !sameAddr(caller, esc.Buyer) {
			return nil, ErrUnauthorizedBuyer
		}
		if e.now() > esc.Expiry {
			return nil, ErrExpired
		}
		if err := ensureVault(s, esc); err != nil {
			return nil, err
		}
		if err := e.transfer(s, esc.DepositAsset, esc.Buyer, esc.VaultAddr, esc.DepositAmount, false); err != nil {
			return nil, err
		}
		if err := s.EscrowCredit(key, esc.DepositAsset, esc.DepositAmount); err != nil {
			return nil, err
		}
		esc.State = StateFunded
		if err := s.EscrowPut(esc); err != nil {
			return nil, err
		}
		return NewFundedEvent(esc), nil
	})
}

// SendAsset moves the seller's side of the exchange into the custody vault
// and marks the escrow AssetSent. Seller only.
func (e *Engine) SendAsset(key [32]byte, caller [20]byte) error {
	return e.mutate(key, func(s StateView) (*types.Event, error) {
		esc, err := loadEscrow(s, key)
		if err != nil {
			return nil, err
		}
		if esc.State != StateFunded {
			return nil, fmt.Errorf("%w: send asset in %s", ErrInvalidState, esc.State)
		}
		if !sameAddr(caller, esc.Seller) {
			return nil, ErrUnauthorizedSeller
		}
		if err := ensureVault(s, esc); err != nil {
			return nil, err
		}
		if err := e.transfer(s, esc.ReceiveAsset, esc.Seller, esc.VaultAddr, esc.ReceiveAmount, false); err != nil {
			return nil, err
		}
		if err := s.EscrowCredit(key, esc.ReceiveAsset, esc.ReceiveAmount); err != nil {
			return nil, err
		}
		esc.State = StateAssetSent
		if err := s.EscrowPut(esc); err != nil {
			return nil, err
		}
		return NewAssetSentEvent(esc), nil
	})
}

// disburse pays the deposit to the seller and the receive asset to the buyer
// out of the vault, in one transaction.
func (e *Engine) disburse(s StateView, esc *Escrow) error {
	if err := e.transfer(s, esc.DepositAsset, esc.VaultAddr, esc.Seller, esc.DepositAmount, true); err != nil {
		return err
	}
	if err := s.EscrowDebit(esc.Key, esc.DepositAsset, esc.DepositAmount); err != nil {
		return err
	}
	if err := e.transfer(s, esc.ReceiveAsset, esc.VaultAddr, esc.Buyer, esc.ReceiveAmount, true); err != nil {
		return err
	}
	return s.EscrowDebit(esc.Key, esc.ReceiveAsset, esc.ReceiveAmount)
}

// Confirm completes the exchange: the buyer acknowledges receipt, the vault
// pays the deposit to the seller and the receive asset to the buyer
// atomically, and the escrow is Released. Buyer only, before expiry.
func (e *Engine) Confirm(key [32]byte, caller [20]byte) error {
	return e.mutate(key, func(s StateView) (*types.Event, error) {
		esc, err := loadEscrow(s, key)
		if err != nil {
			return nil, err
		}
		if esc.State != StateAssetSent {
			return nil, fmt.Errorf("%w: confirm in %s", ErrInvalidState, esc.State)
		}
		if !sameAddr(caller, esc.Buyer) {
			return nil, ErrUnauthorizedBuyer
		}
		if e.now() > esc.Expiry {
			return nil, ErrExpired
		}
		if err := e.disburse(s, esc); err != nil {
			return nil, err
		}
		esc.State = StateReleased
		if err := s.EscrowPut(esc); err != nil {
			return nil, err
		}
		return NewReleasedEvent(esc), nil
	})
}

// AutoRelease performs the same two-way payout as Confirm once the expiry has
// passed with both assets custodied. Anyone may invoke it; the transition is
// the escape hatch for a buyer who stops responding after the seller
// delivered.
func (e *Engine) AutoRelease(key [32]byte) error {
	return e.mutate(key, func(s StateView) (*types.Event, error) {
		esc, err := loadEscrow(s, key)
		if err != nil {
			return nil, err
		}
		if esc.State != StateAssetSent {
			return nil, fmt.Errorf("%w: auto release in %s", ErrInvalidState, esc.State)
		}
		if e.now() <= esc.Expiry {
			return nil, ErrNotExpired
		}
		if err := e.disburse(s, esc); err != nil {
			return nil, err
		}
		esc.State = StateReleased
		if err := s.EscrowPut(esc); err != nil {
			return nil, err
		}
		return NewAutoReleasedEvent(esc), nil
	})
}

// RefundBuyer returns the custodied deposit to the buyer. Before expiry only
// the buyer may invoke it; once the expiry has passed the operation is
// permissionless so a stuck escrow can always be unwound. Idempotency is
// rejected explicitly: a second invocation fails with ErrAlreadyRefunded.
func (e *Engine) RefundBuyer(key [32]byte, caller [20]byte) error {
	return e.mutate(key, func(s StateView) (*types.Event, error) {
		esc, err := loadEscrow(s, key)
		if err != nil {
			return nil, err
		}
		if esc.State.Terminal() {
			return nil, fmt.Errorf("%w: refund buyer in %s", ErrInvalidState, esc.State)
		}
		if esc.BuyerRefund {
			return nil, ErrAlreadyRefunded
		}
		switch esc.State {
		case StateFunded, StateAssetSent, StateSellerRefunded:
		default:
			return nil, ErrNothingToRefund
		}
		if !sameAddr(caller, esc.Buyer) && e.now() <= esc.Expiry {
			return nil, ErrUnauthorizedBuyer
		}
		if err := e.transfer(s, esc.DepositAsset, esc.VaultAddr, esc.Buyer, esc.DepositAmount, true); err != nil {
			return nil, err
		}
		if err := s.EscrowDebit(key, esc.DepositAsset, esc.DepositAmount); err != nil {
			return nil, err
		}
		esc.BuyerRefund = true
		if esc.SellerRefund {
			esc.State = StateClosed
		} else {
			esc.State = StateBuyerRefunded
		}
		if err := s.EscrowPut(esc); err != nil {
			return nil, err
		}
		return NewBuyerRefundedEvent(esc), nil
	})
}

// RefundSeller returns the custodied receive asset to the seller. Seller
// only; the seller's own funds are never gated on the buyer's cooperation.
// When the buyer was refunded before the seller ever delivered, nothing is
// custodied: the refund then succeeds vacuously so the record still
// converges to Closed.
func (e *Engine) RefundSeller(key [32]byte, caller [20]byte) error {
	return e.mutate(key, func(s StateView) (*types.Event, error) {
		esc, err := loadEscrow(s, key)
		if err != nil {
			return nil, err
		}
		if esc.State.Terminal() {
			return nil, fmt.Errorf("%w: refund seller in %s", ErrInvalidState, esc.State)
		}
		if esc.SellerRefund {
			return nil, ErrAlreadyRefunded
		}
		switch esc.State {
		case StateAssetSent, StateBuyerRefunded:
		default:
			return nil, ErrNothingToRefund
		}
		if !sameAddr(caller, esc.Seller) {
			return nil, ErrUnauthorizedSeller
		}
		custodied, err := s.EscrowBalance(key, esc.ReceiveAsset)
		if err != nil {
			return nil, err
		}
		if custodied > 0 {
			if err := e.transfer(s, esc.ReceiveAsset, esc.VaultAddr, esc.Seller, esc.ReceiveAmount, true); err != nil {
				return nil, err
			}
			if err := s.EscrowDebit(key, esc.ReceiveAsset, esc.ReceiveAmount); err != nil {
				return nil, err
			}
		}
		esc.SellerRefund = true
		if esc.BuyerRefund {
			esc.State = StateClosed
		} else {
			esc.State = StateSellerRefunded
		}
		if err := s.EscrowPut(esc); err != nil {
			return nil, err
		}
		return NewSellerRefundedEvent(esc), nil
	})
}

// Cancel abandons an exchange before any funds are custodied. Either party
// may invoke it while the escrow is Pending or Active; once funds are in the
// vault the only exits are Confirm or the refund pair.
func (e *Engine) Cancel(key [32]byte, caller [20]byte) error {
	return e.mutate(key, func(s StateView) (*types.Event, error) {
		esc, err := loadEscrow(s, key)
		if err != nil {
			return nil, err
		}
		if esc.State != StatePending && esc.State != StateActive {
			return nil, fmt.Errorf("%w: cancel in %s", ErrInvalidState, esc.State)
		}
		if !sameAddr(caller, esc.Buyer) && !sameAddr(caller, esc.Seller) {
			return nil, ErrUnauthorized
		}
		esc.State = StateCancelled
		if err := s.EscrowPut(esc); err != nil {
			return nil, err
		}
		return NewCancelledEvent(esc), nil
	})
}

// Close reaps a settled record and its vault bookkeeping. Only the buyer, as
// the authority that created the record, may invoke it, and only once no
// custodied balance is outstanding. A partially refunded record may also be
// reaped once its vault is empty.
func (e *Engine) Close(key [32]byte, caller [20]byte) error {
	return e.mutate(key, func(s StateView) (*types.Event, error) {
		esc, err := loadEscrow(s, key)
		if err != nil {
			return nil, err
		}
		switch esc.State {
		case StateReleased, StateCancelled, StateClosed, StateBuyerRefunded, StateSellerRefunded:
		default:
			return nil, fmt.Errorf("%w: close in %s", ErrInvalidState, esc.State)
		}
		if !sameAddr(caller, esc.Buyer) {
			return nil, ErrUnauthorizedBuyer
		}
		for _, asset := range []Asset{esc.DepositAsset, esc.ReceiveAsset} {
			balance, err := s.EscrowBalance(key, asset)
			if err != nil {
				return nil, err
			}
			if balance != 0 {
				return nil, ErrVaultNotEmpty
			}
		}
		if err := s.RemoveAccount(esc.VaultAddr); err != nil {
			return nil, err
		}
		if err := s.EscrowRemove(key); err != nil {
			return nil, err
		}
		return NewClosedEvent(esc), nil
	})
}

// Get returns a copy of the stored escrow record.
func (e *Engine) Get(key [32]byte) (*Escrow, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilLedger
	}
	var out *Escrow
	err := e.ledger.View(func(s StateView) error {
		esc, ok, viewErr := s.EscrowGet(key)
		if viewErr != nil {
			return viewErr
		}
		if !ok {
			return ErrNotFound
		}
		out = esc.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VaultBalance reports the custodied amount of one asset for an escrow.
func (e *Engine) VaultBalance(key [32]byte, asset Asset) (uint64, error) {
	if e == nil || e.ledger == nil {
		return 0, errNilLedger
	}
	var balance uint64
	err := e.ledger.View(func(s StateView) error {
		var viewErr error
		balance, viewErr = s.EscrowBalance(key, asset)
		return viewErr
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
