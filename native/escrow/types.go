package escrow

import (
	"fmt"
	"math/big"
)

// RegistryFeePercent is the fixed global fee rate, in whole percent, applied
// to every agreement at creation.
const RegistryFeePercent uint8 = 1

// Agreement holds one depositor's funds for one payee. Identity fields are
// fixed at creation; Funded and Released each flip true at most once, and
// DepositAmount is set on fund and zeroed again only by a reclaim.
type Agreement struct {
	Address       [20]byte
	Registry      [20]byte
	Depositor     [20]byte
	Payee         [20]byte
	Deadline      int64
	FeePercent    uint8
	Funded        bool
	Released      bool
	DepositAmount *big.Int
	CreatedAt     int64
}

// Clone returns a deep copy of the agreement so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	if a.DepositAmount != nil {
		clone.DepositAmount = new(big.Int).Set(a.DepositAmount)
	} else {
		clone.DepositAmount = big.NewInt(0)
	}
	return &clone
}

// Status renders the lifecycle position of the agreement for queries and
// event payloads.
func (a *Agreement) Status() string {
	switch {
	case a == nil:
		return ""
	case a.Released:
		return "released"
	case a.Funded && (a.DepositAmount == nil || a.DepositAmount.Sign() == 0):
		return "reclaimed"
	case a.Funded:
		return "funded"
	default:
		return "created"
	}
}

// SanitizeAgreement validates and normalises an agreement record, returning a
// clone with a non-nil deposit amount. The original value is not mutated.
func SanitizeAgreement(a *Agreement) (*Agreement, error) {
	if a == nil {
		return nil, fmt.Errorf("nil agreement")
	}
	clone := a.Clone()
	if clone.FeePercent > 100 {
		return nil, fmt.Errorf("agreement fee percent out of range: %d", clone.FeePercent)
	}
	if clone.DepositAmount.Sign() < 0 {
		return nil, fmt.Errorf("agreement deposit must be non-negative")
	}
	if clone.Deadline <= 0 {
		return nil, fmt.Errorf("agreement deadline must be positive")
	}
	if !clone.Funded && clone.DepositAmount.Sign() != 0 {
		return nil, fmt.Errorf("unfunded agreement must hold a zero deposit")
	}
	return clone, nil
}

// RegistryRecord is the singleton administrative state of the escrow
// registry. FeeRecipient and Address never change after initialisation;
// ownership moves only through the two-step propose/accept handshake.
type RegistryRecord struct {
	Address      [20]byte
	FeeRecipient [20]byte
	Owner        [20]byte
	PendingOwner [20]byte
	Paused       bool
}

// Clone returns a copy of the registry record.
func (r *RegistryRecord) Clone() *RegistryRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
