package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeEscrowCreated   = "escrow.created"
	EventTypeEscrowFunded    = "escrow.funded"
	EventTypeEscrowReleased  = "escrow.released"
	EventTypeEscrowReclaimed = "escrow.reclaimed"
	EventTypeEscrowRemoved   = "escrow.removed"

	EventTypeRegistryPaused        = "registry.paused"
	EventTypeRegistryUnpaused      = "registry.unpaused"
	EventTypeRegistryFeesWithdrawn = "registry.fees_withdrawn"
	EventTypeOwnershipProposed     = "registry.ownership_proposed"
	EventTypeOwnershipAccepted     = "registry.ownership_accepted"
	EventTypeRegistryInitialised   = "registry.initialised"
)

// NewCreatedEvent returns the canonical payload for a newly deployed
// agreement: its address and the fixed participant pair.
func NewCreatedEvent(a *Agreement) *types.Event {
	attrs := agreementAttrs(a)
	return &types.Event{Type: EventTypeEscrowCreated, Attributes: attrs}
}

// NewFundedEvent returns the payload emitted when the depositor funds the
// agreement.
func NewFundedEvent(a *Agreement, amount *big.Int) *types.Event {
	attrs := agreementAttrs(a)
	attrs["amount"] = bigString(amount)
	return &types.Event{Type: EventTypeEscrowFunded, Attributes: attrs}
}

// NewReleasedEvent returns the payload emitted when escrowed value moves to
// the payee net of the registry fee.
func NewReleasedEvent(a *Agreement, amountAfterFee *big.Int) *types.Event {
	attrs := agreementAttrs(a)
	attrs["amountAfterFee"] = bigString(amountAfterFee)
	return &types.Event{Type: EventTypeEscrowReleased, Attributes: attrs}
}

// NewReclaimedEvent returns the payload emitted when the depositor takes the
// deposit back after the deadline.
func NewReclaimedEvent(a *Agreement, amount *big.Int) *types.Event {
	attrs := agreementAttrs(a)
	attrs["amount"] = bigString(amount)
	return &types.Event{Type: EventTypeEscrowReclaimed, Attributes: attrs}
}

// NewRemovedEvent returns the payload emitted when an emptied instance is
// permanently removed from the ledger.
func NewRemovedEvent(a *Agreement) *types.Event {
	return &types.Event{Type: EventTypeEscrowRemoved, Attributes: agreementAttrs(a)}
}

func agreementAttrs(a *Agreement) map[string]string {
	attrs := make(map[string]string)
	if a == nil {
		return attrs
	}
	attrs["address"] = hex.EncodeToString(a.Address[:])
	attrs["depositor"] = hex.EncodeToString(a.Depositor[:])
	attrs["payee"] = hex.EncodeToString(a.Payee[:])
	attrs["deadline"] = strconv.FormatInt(a.Deadline, 10)
	attrs["feePercent"] = strconv.FormatUint(uint64(a.FeePercent), 10)
	return attrs
}

func newRegistryEvent(eventType string, r *RegistryRecord, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrs["registry"] = hex.EncodeToString(r.Address[:])
		attrs["owner"] = hex.EncodeToString(r.Owner[:])
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
