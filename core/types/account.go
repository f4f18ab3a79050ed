package types

// Address identifies a ledger account.
type Address = [20]byte

// Account holds the spendable balances tracked by the ledger. Balance is the
// native currency; Tokens maps a fungible token symbol to the units held.
// Vault accounts belong to escrow records rather than external callers and
// may only be debited through an escrow transition.
type Account struct {
	Nonce   uint64            `json:"nonce"`
	Balance uint64            `json:"balance"`
	Tokens  map[string]uint64 `json:"tokens,omitempty"`
	Vault   bool              `json:"vault,omitempty"`
}

// Clone returns a deep copy of the account so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{}
	}
	clone := *a
	if a.Tokens != nil {
		clone.Tokens = make(map[string]uint64, len(a.Tokens))
		for sym, amt := range a.Tokens {
			clone.Tokens[sym] = amt
		}
	}
	return &clone
}

// TokenBalance returns the held units of the given token symbol.
func (a *Account) TokenBalance(symbol string) uint64 {
	if a == nil || a.Tokens == nil {
		return 0
	}
	return a.Tokens[symbol]
}

// SetTokenBalance records the held units of the given token symbol, pruning
// the entry when the balance drops to zero.
func (a *Account) SetTokenBalance(symbol string, amount uint64) {
	if a == nil {
		return
	}
	if amount == 0 {
		delete(a.Tokens, symbol)
		return
	}
	if a.Tokens == nil {
		a.Tokens = make(map[string]uint64)
	}
	a.Tokens[symbol] = amount
}
