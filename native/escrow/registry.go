package escrow

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// agreementCodeHash stands in for the init-code hash of the agreement
// program. Together with the packed constructor parameters it forms the
// deterministic-deployment preimage, so changing it is a consensus break.
var agreementCodeHash = ethcrypto.Keccak256([]byte("escrowd/agreement/v1"))

var registryAddressSeed = []byte("escrowd/registry/v1")

// DeriveRegistryAddress computes the fixed address the registry singleton
// occupies for a given fee recipient and initial owner.
func DeriveRegistryAddress(feeRecipient, owner [20]byte) [20]byte {
	digest := ethcrypto.Keccak256(registryAddressSeed, feeRecipient[:], owner[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// deriveAgreementAddress reproduces the CREATE2 addressing rule:
// keccak256(0xff ++ registry ++ salt ++ keccak256(initCode))[12:], with the
// init code modelled as the agreement code hash followed by the packed
// constructor parameters. Prediction and deployment share this function,
// which is what guarantees their bit-for-bit equality.
func deriveAgreementAddress(registry, depositor, payee [20]byte, deadline int64, feePercent uint8, salt [32]byte) [20]byte {
	ctor := make([]byte, 0, 20*3+8+1)
	ctor = append(ctor, registry[:]...)
	ctor = append(ctor, depositor[:]...)
	ctor = append(ctor, payee[:]...)
	var deadlineWord [8]byte
	binary.BigEndian.PutUint64(deadlineWord[:], uint64(deadline))
	ctor = append(ctor, deadlineWord[:]...)
	ctor = append(ctor, feePercent)

	initCodeHash := ethcrypto.Keccak256(agreementCodeHash, ctor)
	derived := ethcrypto.CreateAddress2(ethcommon.BytesToAddress(registry[:]), salt, initCodeHash)
	var addr [20]byte
	copy(addr[:], derived.Bytes())
	return addr
}

func (e *Engine) loadRegistry() (*RegistryRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.RegistryGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errRegistryNotFound
	}
	return record, nil
}

// InitRegistry creates the registry singleton on first boot. Repeated calls
// with any arguments return the existing record unchanged.
func (e *Engine) InitRegistry(feeRecipient, owner [20]byte) (*RegistryRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	existing, ok, err := e.state.RegistryGet()
	if err != nil {
		return nil, err
	}
	if ok {
		return existing, nil
	}
	if feeRecipient == ([20]byte{}) {
		return nil, errRegistryFeeRecipient
	}
	if owner == ([20]byte{}) {
		return nil, errRegistryOwner
	}
	record := &RegistryRecord{
		Address:      DeriveRegistryAddress(feeRecipient, owner),
		FeeRecipient: feeRecipient,
		Owner:        owner,
	}
	if err := e.state.RegistryPut(record); err != nil {
		return nil, err
	}
	e.emit(newRegistryEvent(EventTypeRegistryInitialised, record, map[string]string{
		"feeRecipient": hex.EncodeToString(feeRecipient[:]),
	}))
	return record.Clone(), nil
}

// RegistryInfo returns the registry record and its accumulated fee balance.
func (e *Engine) RegistryInfo() (*RegistryRecord, *big.Int, error) {
	record, err := e.loadRegistry()
	if err != nil {
		return nil, nil, err
	}
	account, err := e.state.GetAccount(record.Address[:])
	if err != nil {
		return nil, nil, err
	}
	return record.Clone(), account.Normalize().Balance, nil
}

// PredictAddress computes the address CreateEscrow would deploy to for the
// same inputs, without deploying.
func (e *Engine) PredictAddress(depositor, payee [20]byte, deadline int64, salt [32]byte) ([20]byte, error) {
	record, err := e.loadRegistry()
	if err != nil {
		return [20]byte{}, err
	}
	return deriveAgreementAddress(record.Address, depositor, payee, deadline, RegistryFeePercent, salt), nil
}

// CreateEscrow validates the participants and deadline, deterministically
// derives the instance address and deploys a new agreement there. The new
// address is appended to the depositor's index — keyed by the depositor
// parameter, not by whoever submitted the call.
func (e *Engine) CreateEscrow(depositor, payee [20]byte, deadline int64, salt [32]byte) (*Agreement, error) {
	record, err := e.loadRegistry()
	if err != nil {
		return nil, err
	}
	if record.Paused {
		return nil, ErrPaused
	}
	if depositor == ([20]byte{}) {
		return nil, ErrInvalidDepositor
	}
	if payee == ([20]byte{}) {
		return nil, ErrInvalidPayee
	}
	now := e.now()
	if deadline <= now {
		return nil, ErrInvalidDeadline
	}

	addr := deriveAgreementAddress(record.Address, depositor, payee, deadline, RegistryFeePercent, salt)
	if _, occupied, err := e.state.AgreementGet(addr); err != nil {
		return nil, err
	} else if occupied {
		return nil, ErrDeploymentFailed
	}
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	account = account.Normalize()
	if len(account.CodeHash) > 0 {
		return nil, ErrDeploymentFailed
	}

	agreement := &Agreement{
		Address:       addr,
		Registry:      record.Address,
		Depositor:     depositor,
		Payee:         payee,
		Deadline:      deadline,
		FeePercent:    RegistryFeePercent,
		DepositAmount: big.NewInt(0),
		CreatedAt:     now,
	}
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, err
	}
	account.CodeHash = append([]byte(nil), agreementCodeHash...)
	if err := e.state.PutAccount(addr[:], account); err != nil {
		return nil, err
	}
	if err := e.state.EscrowIndexAppend(depositor, addr); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(agreement))
	return agreement.Clone(), nil
}

// GetEscrows returns the ordered agreement addresses created for the given
// depositor; an empty slice if none.
func (e *Engine) GetEscrows(depositor [20]byte) ([][20]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.EscrowIndexGet(depositor)
}

// Pause stops new-agreement creation. Owner-only; already-deployed
// agreements are unaffected.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true, EventTypeRegistryPaused)
}

// Unpause restores new-agreement creation. Owner-only.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false, EventTypeRegistryUnpaused)
}

func (e *Engine) setPaused(caller [20]byte, paused bool, eventType string) error {
	record, err := e.loadRegistry()
	if err != nil {
		return err
	}
	if caller != record.Owner {
		return errNotOwner
	}
	if record.Paused == paused {
		return nil
	}
	record.Paused = paused
	if err := e.state.RegistryPut(record); err != nil {
		return err
	}
	e.emit(newRegistryEvent(eventType, record, nil))
	return nil
}

// WithdrawFees drains the registry's accumulated fee balance to the fixed
// fee recipient. Owner-only.
func (e *Engine) WithdrawFees(caller [20]byte) (*big.Int, error) {
	record, err := e.loadRegistry()
	if err != nil {
		return nil, err
	}
	release, err := e.acquire(record.Address)
	if err != nil {
		return nil, err
	}
	defer release()

	if caller != record.Owner {
		return nil, errNotOwner
	}
	account, err := e.state.GetAccount(record.Address[:])
	if err != nil {
		return nil, err
	}
	balance := cloneBigInt(account.Normalize().Balance)
	if balance.Sign() == 0 {
		return nil, ErrNoFees
	}
	if err := e.transferValue(record.Address, record.FeeRecipient, balance); err != nil {
		return nil, ErrWithdrawalFailed
	}
	e.emit(newRegistryEvent(EventTypeRegistryFeesWithdrawn, record, map[string]string{
		"amount":    balance.String(),
		"recipient": hex.EncodeToString(record.FeeRecipient[:]),
	}))
	return balance, nil
}

// TransferOwnership proposes a new registry owner. The transfer only takes
// effect once the proposed owner accepts, which keeps the registry from
// being handed to an unreachable address.
func (e *Engine) TransferOwnership(caller, newOwner [20]byte) error {
	record, err := e.loadRegistry()
	if err != nil {
		return err
	}
	if caller != record.Owner {
		return errNotOwner
	}
	if newOwner == ([20]byte{}) {
		return errInvalidPendingOwner
	}
	record.PendingOwner = newOwner
	if err := e.state.RegistryPut(record); err != nil {
		return err
	}
	e.emit(newRegistryEvent(EventTypeOwnershipProposed, record, map[string]string{
		"pendingOwner": hex.EncodeToString(newOwner[:]),
	}))
	return nil
}

// AcceptOwnership completes a pending ownership transfer. Only the proposed
// owner may call it.
func (e *Engine) AcceptOwnership(caller [20]byte) error {
	record, err := e.loadRegistry()
	if err != nil {
		return err
	}
	if record.PendingOwner == ([20]byte{}) || caller != record.PendingOwner {
		return errNotPendingOwner
	}
	record.Owner = caller
	record.PendingOwner = [20]byte{}
	if err := e.state.RegistryPut(record); err != nil {
		return err
	}
	e.emit(newRegistryEvent(EventTypeOwnershipAccepted, record, nil))
	return nil
}
