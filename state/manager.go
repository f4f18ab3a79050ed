package state

import (
	"math/bits"
	"sync"

	"vaultswap/core/types"
	"vaultswap/native/escrow"
	"vaultswap/storage"
)

// Manager supplies the transactional discipline the escrow engine requires
// from its host: per-record pessimistic locking, and all-or-nothing commit of
// the batched balance mutations and the state write. On a ledger runtime both
// come for free; here they are explicit.
type Manager struct {
	db storage.Database

	// writeMu serialises the mutate-and-commit section. Party accounts are
	// shared across escrow records, so commits cannot safely interleave even
	// when the records differ.
	writeMu sync.Mutex

	mu    sync.Mutex
	locks map[[32]byte]*sync.Mutex
}

// NewManager wraps the given database in a transaction manager.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:    db,
		locks: make(map[[32]byte]*sync.Mutex),
	}
}

var _ escrow.Ledger = (*Manager)(nil)

func (m *Manager) lockFor(key [32]byte) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = new(sync.Mutex)
		m.locks[key] = lock
	}
	return lock
}

// Update runs fn against a buffered view under the record's lock and commits
// the buffered writes as one batch only when fn succeeds. Any error discards
// every buffered mutation.
func (m *Manager) Update(key [32]byte, fn func(escrow.StateView) error) error {
	recordLock := m.lockFor(key)
	recordLock.Lock()
	defer recordLock.Unlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	t := newTx(m.db)
	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

// View runs fn against a read-through view. Writes are buffered but never
// committed.
func (m *Manager) View(fn func(escrow.StateView) error) error {
	return fn(newTx(m.db))
}

// Account returns a copy of the stored account.
func (m *Manager) Account(addr [20]byte) (*types.Account, error) {
	var out *types.Account
	err := m.View(func(s escrow.StateView) error {
		acc, viewErr := s.GetAccount(addr)
		if viewErr != nil {
			return viewErr
		}
		out = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Credit mints the given amount into an external account. Operators use it to
// seed balances; vault accounts are never a valid target.
func (m *Manager) Credit(addr [20]byte, asset escrow.Asset, amount uint64) error {
	normalized, err := asset.Normalize()
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	t := newTx(m.db)
	acc, err := t.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Vault {
		return escrow.ErrVaultRestricted
	}
	if normalized.IsNative() {
		sum, carry := bits.Add64(acc.Balance, amount, 0)
		if carry != 0 {
			return escrow.ErrOverflow
		}
		acc.Balance = sum
	} else {
		sum, carry := bits.Add64(acc.TokenBalance(normalized.Token), amount, 0)
		if carry != 0 {
			return escrow.ErrOverflow
		}
		acc.SetTokenBalance(normalized.Token, sum)
	}
	if err := t.PutAccount(addr, acc); err != nil {
		return err
	}
	return t.commit()
}
