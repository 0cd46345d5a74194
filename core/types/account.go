package types

import "math/big"

// Account is the ledger's per-address record. Balance carries the chain's
// single native value unit. CodeHash is non-empty only for addresses occupied
// by a deployed escrow agreement; it marks the address as taken for the
// deterministic-deployment collision check and is cleared when an instance
// removes itself.
type Account struct {
	Nonce    uint64   `json:"nonce"`
	Balance  *big.Int `json:"balance"`
	CodeHash []byte   `json:"codeHash,omitempty"`
}

// Normalize returns the account with a non-nil balance so callers can do
// arithmetic without nil checks.
func (a *Account) Normalize() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	if len(a.CodeHash) > 0 {
		clone.CodeHash = append([]byte(nil), a.CodeHash...)
	}
	return clone
}
