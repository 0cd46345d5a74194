package escrow

import (
	"math/big"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
)

type engineState interface {
	AgreementGet(addr [20]byte) (*Agreement, bool, error)
	AgreementPut(*Agreement) error
	AgreementDelete(addr [20]byte) error
	EscrowIndexGet(depositor [20]byte) ([][20]byte, error)
	EscrowIndexAppend(depositor [20]byte, agreement [20]byte) error
	RegistryGet() (*RegistryRecord, bool, error)
	RegistryPut(*RegistryRecord) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	DeleteAccount(addr []byte) error
}

// Engine wires the escrow agreement and registry logic with external state
// and event emission. All mutating operations run under a per-instance
// reentrancy guard; atomic rollback of a failing call is the caller's
// responsibility (the node stages state per call).
type Engine struct {
	state   engineState
	emitter events.Emitter
	guard   *callGuard
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		guard:   newCallGuard(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.TypedEvent{Evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadAgreement(addr [20]byte) (*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	agreement, ok, err := e.state.AgreementGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAgreementNotFound
	}
	return agreement, nil
}

// transferValue moves native value between ledger accounts, rejecting
// overdrafts.
func (e *Engine) transferValue(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return errNegativeTransfer
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.Normalize()
	toAcc = toAcc.Normalize()
	if fromAcc.Balance.Cmp(amt) < 0 {
		return errInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// Fund records the deposit for an agreement. Only the depositor may fund,
// exactly once, with a nonzero value; the value moves into the instance's
// own ledger account atomically with the call.
func (e *Engine) Fund(addr [20]byte, caller [20]byte, value *big.Int) error {
	release, err := e.acquire(addr)
	if err != nil {
		return err
	}
	defer release()

	agreement, err := e.loadAgreement(addr)
	if err != nil {
		return err
	}
	if caller != agreement.Depositor {
		return ErrOnlyDepositorFund
	}
	if agreement.Funded {
		return ErrAlreadyFunded
	}
	if value == nil || value.Sign() <= 0 {
		return ErrZeroValue
	}
	if err := e.transferValue(caller, addr, value); err != nil {
		return err
	}
	agreement.DepositAmount = cloneBigInt(value)
	agreement.Funded = true
	if err := e.state.AgreementPut(agreement); err != nil {
		return err
	}
	e.emit(NewFundedEvent(agreement, value))
	return nil
}

// Release settles the agreement in favour of the payee, splitting the fee
// share off to the registry. The caller may be anyone holding a valid
// depositor authorization over the canonical release message; typically the
// payee submits it. Released flips true before any value moves.
func (e *Engine) Release(addr [20]byte, amount *big.Int, signature []byte) error {
	release, err := e.acquire(addr)
	if err != nil {
		return err
	}
	defer release()

	agreement, err := e.loadAgreement(addr)
	if err != nil {
		return err
	}
	if !agreement.Funded {
		return ErrNotFunded
	}
	if agreement.Released {
		return ErrAlreadyReleased
	}
	if e.now() > agreement.Deadline {
		return ErrDeadlineExpired
	}
	amt := cloneBigInt(amount)
	if amt.Cmp(agreement.DepositAmount) > 0 {
		return ErrAmountExceedsDeposit
	}
	signer, err := RecoverReleaseSigner(addr, amt, signature)
	if err != nil {
		return err
	}
	if signer != agreement.Depositor {
		return ErrInvalidSignature
	}

	fee := new(big.Int).Mul(amt, new(big.Int).SetUint64(uint64(agreement.FeePercent)))
	fee.Div(fee, big.NewInt(100))
	amountAfterFee := new(big.Int).Sub(amt, fee)

	// Effects before interactions: the released flag is persisted ahead of
	// the outbound transfers.
	agreement.Released = true
	if err := e.state.AgreementPut(agreement); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := e.transferValue(addr, agreement.Registry, fee); err != nil {
			return ErrFeeTransferFailed
		}
	}
	if amountAfterFee.Sign() > 0 {
		if err := e.transferValue(addr, agreement.Payee, amountAfterFee); err != nil {
			return ErrPayeeTransferFailed
		}
	}
	e.emit(NewReleasedEvent(agreement, amountAfterFee))
	return nil
}

// Reclaim refunds the full recorded deposit to the depositor once the
// deadline has passed without a release. The deposit is zeroed before the
// refund transfer.
func (e *Engine) Reclaim(addr [20]byte, caller [20]byte) error {
	release, err := e.acquire(addr)
	if err != nil {
		return err
	}
	defer release()

	agreement, err := e.loadAgreement(addr)
	if err != nil {
		return err
	}
	if caller != agreement.Depositor {
		return ErrOnlyDepositorReclaim
	}
	if e.now() <= agreement.Deadline {
		return ErrDeadlineNotReached
	}
	if agreement.Released {
		return ErrAlreadyReleased
	}
	if !agreement.Funded || agreement.DepositAmount == nil || agreement.DepositAmount.Sign() == 0 {
		return ErrNotFunded
	}
	amount := cloneBigInt(agreement.DepositAmount)
	agreement.DepositAmount = big.NewInt(0)
	if err := e.state.AgreementPut(agreement); err != nil {
		return err
	}
	if err := e.transferValue(addr, agreement.Depositor, amount); err != nil {
		return ErrReclaimTransferFailed
	}
	e.emit(NewReclaimedEvent(agreement, amount))
	return nil
}

// SelfRemove permanently deletes an emptied instance from the ledger,
// forwarding any residual balance to the registry first. Callable by anyone,
// but only once the instance's balance is exactly zero.
func (e *Engine) SelfRemove(addr [20]byte) error {
	release, err := e.acquire(addr)
	if err != nil {
		return err
	}
	defer release()

	agreement, err := e.loadAgreement(addr)
	if err != nil {
		return err
	}
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account = account.Normalize()
	if account.Balance.Sign() != 0 {
		return ErrNotEmpty
	}
	if err := e.state.AgreementDelete(addr); err != nil {
		return err
	}
	if err := e.state.DeleteAccount(addr[:]); err != nil {
		return err
	}
	e.emit(NewRemovedEvent(agreement))
	return nil
}

// AgreementInfo returns a copy of the stored agreement together with its
// current instance balance.
func (e *Engine) AgreementInfo(addr [20]byte) (*Agreement, *big.Int, error) {
	agreement, err := e.loadAgreement(addr)
	if err != nil {
		return nil, nil, err
	}
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, nil, err
	}
	return agreement.Clone(), account.Normalize().Balance, nil
}

func (e *Engine) acquire(addr [20]byte) (func(), error) {
	if e == nil || e.guard == nil {
		return func() {}, nil
	}
	return e.guard.acquire(addr)
}
