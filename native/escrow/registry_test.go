package escrow

import (
	"errors"
	"math/big"
	"testing"

	"escrowd/core/types"
)

func TestInitRegistryIdempotent(t *testing.T) {
	env := newTestEnv(t)
	feeRecipient := newTestAddress(0xFE)
	owner := newTestAddress(0x0E)

	first, err := env.engine.InitRegistry(feeRecipient, owner)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	second, err := env.engine.InitRegistry(newTestAddress(0x11), newTestAddress(0x22))
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if second.Address != first.Address || second.Owner != owner || second.FeeRecipient != feeRecipient {
		t.Fatal("second init must return the existing record unchanged")
	}
}

func TestInitRegistryRejectsZeroAddresses(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.InitRegistry([20]byte{}, newTestAddress(0x0E)); err == nil {
		t.Fatal("expected zero fee recipient to fail")
	}
	if _, err := env.engine.InitRegistry(newTestAddress(0xFE), [20]byte{}); err == nil {
		t.Fatal("expected zero owner to fail")
	}
}

func TestPredictMatchesCreate(t *testing.T) {
	env := newTestEnv(t)
	env.initRegistry(t)
	depositor := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	deadline := env.now + 3600
	salt := [32]byte{0xAB}

	predicted, err := env.engine.PredictAddress(depositor, payee, deadline, salt)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	agreement, err := env.engine.CreateEscrow(depositor, payee, deadline, salt)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if agreement.Address != predicted {
		t.Fatalf("deployed at %x, predicted %x", agreement.Address, predicted)
	}

	// Prediction is a pure function of its inputs.
	again, err := env.engine.PredictAddress(depositor, payee, deadline, salt)
	if err != nil {
		t.Fatalf("second predict: %v", err)
	}
	if again != predicted {
		t.Fatal("prediction must be deterministic")
	}
}

func TestCreateDistinctInputsDistinctAddresses(t *testing.T) {
	env := newTestEnv(t)
	env.initRegistry(t)
	depositor := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	deadline := env.now + 3600

	a, err := env.engine.CreateEscrow(depositor, payee, deadline, [32]byte{0x01})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := env.engine.CreateEscrow(depositor, payee, deadline, [32]byte{0x02})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	c, err := env.engine.CreateEscrow(depositor, payee, deadline+1, [32]byte{0x01})
	if err != nil {
		t.Fatalf("create c: %v", err)
	}
	if a.Address == b.Address || a.Address == c.Address || b.Address == c.Address {
		t.Fatal("different parameters must derive different addresses")
	}
}

func TestCreateSaltReuseFails(t *testing.T) {
	env := newTestEnv(t)
	env.initRegistry(t)
	depositor := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	deadline := env.now + 3600
	salt := [32]byte{0x01}

	if _, err := env.engine.CreateEscrow(depositor, payee, deadline, salt); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.engine.CreateEscrow(depositor, payee, deadline, salt); !errors.Is(err, ErrDeploymentFailed) {
		t.Fatalf("expected ErrDeploymentFailed, got %v", err)
	}
}

func TestCreateAfterRemoveReusesAddress(t *testing.T) {
	env := newTestEnv(t)
	env.initRegistry(t)
	depositor := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	deadline := env.now + 3600
	salt := [32]byte{0x01}

	first, err := env.engine.CreateEscrow(depositor, payee, deadline, salt)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.SelfRemove(first.Address); err != nil {
		t.Fatalf("remove: %v", err)
	}
	second, err := env.engine.CreateEscrow(depositor, payee, deadline, salt)
	if err != nil {
		t.Fatalf("re-create: %v", err)
	}
	if second.Address != first.Address {
		t.Fatal("re-deployment with the same parameters must land on the same address")
	}
}

func TestCreateValidations(t *testing.T) {
	env := newTestEnv(t)
	env.initRegistry(t)
	payee := newTestAddress(0x02)
	deadline := env.now + 3600

	if _, err := env.engine.CreateEscrow([20]byte{}, payee, deadline, [32]byte{}); !errors.Is(err, ErrInvalidDepositor) {
		t.Fatalf("expected ErrInvalidDepositor, got %v", err)
	}
	if _, err := env.engine.CreateEscrow(newTestAddress(0x01), [20]byte{}, deadline, [32]byte{}); !errors.Is(err, ErrInvalidPayee) {
		t.Fatalf("expected ErrInvalidPayee, got %v", err)
	}
	if _, err := env.engine.CreateEscrow(newTestAddress(0x01), payee, env.now, [32]byte{}); !errors.Is(err, ErrInvalidDeadline) {
		t.Fatalf("expected ErrInvalidDeadline for deadline == now, got %v", err)
	}
	if _, err := env.engine.CreateEscrow(newTestAddress(0x01), payee, env.now-10, [32]byte{}); !errors.Is(err, ErrInvalidDeadline) {
		t.Fatalf("expected ErrInvalidDeadline for past deadline, got %v", err)
	}
}

func TestCreateIndexKeyedByDepositor(t *testing.T) {
	env := newTestEnv(t)
	env.initRegistry(t)
	depositor := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	deadline := env.now + 3600

	a, err := env.engine.CreateEscrow(depositor, payee, deadline, [32]byte{0x01})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := env.engine.CreateEscrow(depositor, payee, deadline, [32]byte{0x02})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	list, err := env.engine.GetEscrows(depositor)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0] != a.Address || list[1] != b.Address {
		t.Fatalf("index = %x, want [%x %x] in creation order", list, a.Address, b.Address)
	}

	empty, err := env.engine.GetEscrows(payee)
	if err != nil {
		t.Fatalf("list payee: %v", err)
	}
	if len(empty) != 0 {
		t.Fatal("payee must have no indexed escrows")
	}
}

func TestPauseGatesCreation(t *testing.T) {
	env := newTestEnv(t)
	record := env.initRegistry(t)
	depositor := newTestAddress(0x01)
	payee := newTestAddress(0x02)

	if err := env.engine.Pause(depositor); err == nil {
		t.Fatal("expected non-owner pause to fail")
	}
	if err := env.engine.Pause(record.Owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// Pausing an already-paused registry is a no-op.
	if err := env.engine.Pause(record.Owner); err != nil {
		t.Fatalf("repeat pause: %v", err)
	}

	if _, err := env.engine.CreateEscrow(depositor, payee, env.now+3600, [32]byte{}); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	// Prediction still works while paused.
	if _, err := env.engine.PredictAddress(depositor, payee, env.now+3600, [32]byte{}); err != nil {
		t.Fatalf("predict while paused: %v", err)
	}

	if err := env.engine.Unpause(record.Owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := env.engine.CreateEscrow(depositor, payee, env.now+3600, [32]byte{}); err != nil {
		t.Fatalf("create after unpause: %v", err)
	}
}

func TestPauseLeavesExistingAgreementsOperable(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)

	if err := env.engine.Pause(env.state.registry.Owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund while paused: %v", err)
	}
	if err := env.engine.Release(ag.addr, big.NewInt(100), signReleaseFor(t, ag, 100)); err != nil {
		t.Fatalf("release while paused: %v", err)
	}
}

func TestWithdrawFees(t *testing.T) {
	env := newTestEnv(t)
	record := env.initRegistry(t)

	// No fees accumulated yet.
	if _, err := env.engine.WithdrawFees(record.Owner); !errors.Is(err, ErrNoFees) {
		t.Fatalf("expected ErrNoFees, got %v", err)
	}

	env.state.accounts[record.Address] = &types.Account{Balance: big.NewInt(777)}
	if _, err := env.engine.WithdrawFees(newTestAddress(0x55)); err == nil {
		t.Fatal("expected non-owner withdrawal to fail")
	}
	amount, err := env.engine.WithdrawFees(record.Owner)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("withdrew %s, want 777", amount)
	}
	if got := env.balance(t, record.FeeRecipient); got.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("fee recipient balance = %s, want 777", got)
	}
	if got := env.balance(t, record.Address); got.Sign() != 0 {
		t.Fatalf("registry balance = %s, want 0", got)
	}
}

func TestTwoStepOwnership(t *testing.T) {
	env := newTestEnv(t)
	record := env.initRegistry(t)
	newOwner := newTestAddress(0x66)

	if err := env.engine.TransferOwnership(newOwner, newOwner); err == nil {
		t.Fatal("expected non-owner proposal to fail")
	}
	if err := env.engine.TransferOwnership(record.Owner, [20]byte{}); err == nil {
		t.Fatal("expected zero pending owner to fail")
	}
	if err := env.engine.TransferOwnership(record.Owner, newOwner); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// The proposal alone changes nothing: the current owner still rules.
	if err := env.engine.Pause(newOwner); err == nil {
		t.Fatal("pending owner must not hold owner powers yet")
	}
	if err := env.engine.AcceptOwnership(newTestAddress(0x77)); err == nil {
		t.Fatal("expected non-pending accept to fail")
	}
	if err := env.engine.AcceptOwnership(newOwner); err != nil {
		t.Fatalf("accept: %v", err)
	}

	updated, _, err := env.engine.RegistryInfo()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if updated.Owner != newOwner {
		t.Fatal("ownership must transfer on accept")
	}
	if updated.PendingOwner != ([20]byte{}) {
		t.Fatal("pending owner must clear on accept")
	}
	if err := env.engine.Pause(newOwner); err != nil {
		t.Fatalf("new owner pause: %v", err)
	}
	// A second accept has no pending proposal to act on.
	if err := env.engine.AcceptOwnership(newOwner); err == nil {
		t.Fatal("expected repeat accept to fail")
	}
}
