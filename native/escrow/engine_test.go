package escrow

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowd/core/events"
	"escrowd/core/types"
)

type mockState struct {
	agreements map[[20]byte]*Agreement
	accounts   map[[20]byte]*types.Account
	index      map[[20]byte][][20]byte
	registry   *RegistryRecord
}

func newMockState() *mockState {
	return &mockState{
		agreements: make(map[[20]byte]*Agreement),
		accounts:   make(map[[20]byte]*types.Account),
		index:      make(map[[20]byte][][20]byte),
	}
}

func (m *mockState) AgreementGet(addr [20]byte) (*Agreement, bool, error) {
	agreement, ok := m.agreements[addr]
	if !ok {
		return nil, false, nil
	}
	return agreement.Clone(), true, nil
}

func (m *mockState) AgreementPut(a *Agreement) error {
	sanitized, err := SanitizeAgreement(a)
	if err != nil {
		return err
	}
	m.agreements[sanitized.Address] = sanitized.Clone()
	return nil
}

func (m *mockState) AgreementDelete(addr [20]byte) error {
	delete(m.agreements, addr)
	return nil
}

func (m *mockState) EscrowIndexGet(depositor [20]byte) ([][20]byte, error) {
	return append([][20]byte(nil), m.index[depositor]...), nil
}

func (m *mockState) EscrowIndexAppend(depositor, agreement [20]byte) error {
	m.index[depositor] = append(m.index[depositor], agreement)
	return nil
}

func (m *mockState) RegistryGet() (*RegistryRecord, bool, error) {
	if m.registry == nil {
		return nil, false, nil
	}
	return m.registry.Clone(), true, nil
}

func (m *mockState) RegistryPut(r *RegistryRecord) error {
	m.registry = r.Clone()
	return nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	account, ok := m.accounts[key]
	if !ok {
		return (&types.Account{}).Normalize(), nil
	}
	return account.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) DeleteAccount(addr []byte) error {
	var key [20]byte
	copy(key[:], addr)
	delete(m.accounts, key)
	return nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type testEnv struct {
	engine  *Engine
	state   *mockState
	capture *events.Capture
	now     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:   newMockState(),
		capture: &events.Capture{},
		now:     1_000_000,
	}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetEmitter(env.capture)
	env.engine.SetNowFunc(func() int64 { return env.now })
	return env
}

func (env *testEnv) credit(addr [20]byte, amount int64) {
	env.state.accounts[addr] = &types.Account{Balance: big.NewInt(amount)}
}

func (env *testEnv) balance(t *testing.T, addr [20]byte) *big.Int {
	t.Helper()
	account, err := env.state.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.Normalize().Balance
}

func (env *testEnv) initRegistry(t *testing.T) *RegistryRecord {
	t.Helper()
	record, err := env.engine.InitRegistry(newTestAddress(0xFE), newTestAddress(0x0E))
	if err != nil {
		t.Fatalf("init registry: %v", err)
	}
	return record
}

type testAgreement struct {
	addr      [20]byte
	key       *ecdsa.PrivateKey
	depositor [20]byte
	payee     [20]byte
	deadline  int64
}

func (env *testEnv) deployAgreement(t *testing.T) *testAgreement {
	t.Helper()
	env.initRegistry(t)
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	depositor := addressOf(key)
	payee := newTestAddress(0x02)
	deadline := env.now + 3600
	agreement, err := env.engine.CreateEscrow(depositor, payee, deadline, [32]byte{0x01})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return &testAgreement{
		addr:      agreement.Address,
		key:       key,
		depositor: depositor,
		payee:     payee,
		deadline:  deadline,
	}
}

func addressOf(key *ecdsa.PrivateKey) [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())
	return addr
}

func TestFundOnlyDepositor(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	stranger := newTestAddress(0x07)
	env.credit(stranger, 500)

	if err := env.engine.Fund(ag.addr, stranger, big.NewInt(100)); !errors.Is(err, ErrOnlyDepositorFund) {
		t.Fatalf("expected ErrOnlyDepositorFund, got %v", err)
	}
}

func TestFundRejectsZeroValue(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 500)

	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(0)); !errors.Is(err, ErrZeroValue) {
		t.Fatalf("expected ErrZeroValue, got %v", err)
	}
	if err := env.engine.Fund(ag.addr, ag.depositor, nil); !errors.Is(err, ErrZeroValue) {
		t.Fatalf("expected ErrZeroValue for nil value, got %v", err)
	}
}

func TestFundMovesValueIntoInstance(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)

	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(400)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if got := env.balance(t, ag.depositor); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("depositor balance = %s, want 600", got)
	}
	if got := env.balance(t, ag.addr); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("instance balance = %s, want 400", got)
	}
	stored, _, err := env.state.AgreementGet(ag.addr)
	if err != nil {
		t.Fatalf("get agreement: %v", err)
	}
	if !stored.Funded {
		t.Fatal("agreement should be funded")
	}
	if stored.DepositAmount.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("deposit = %s, want 400", stored.DepositAmount)
	}
}

func TestFundTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)

	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(400)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); !errors.Is(err, ErrAlreadyFunded) {
		t.Fatalf("expected ErrAlreadyFunded, got %v", err)
	}
}

func TestFundInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 10)

	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err == nil {
		t.Fatal("expected overdraft to fail")
	}
	stored, _, _ := env.state.AgreementGet(ag.addr)
	if stored.Funded {
		t.Fatal("agreement must not be marked funded after a failed transfer")
	}
}

func signReleaseFor(t *testing.T, ag *testAgreement, amount int64) []byte {
	t.Helper()
	signature, err := SignRelease(ag.key, ag.addr, big.NewInt(amount))
	if err != nil {
		t.Fatalf("sign release: %v", err)
	}
	return signature
}

func TestReleaseFeeSplit(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	deposit := new(big.Int)
	deposit.SetString("1000000000000000000", 10) // 1e18
	env.state.accounts[ag.depositor] = &types.Account{Balance: new(big.Int).Set(deposit)}
	if err := env.engine.Fund(ag.addr, ag.depositor, deposit); err != nil {
		t.Fatalf("fund: %v", err)
	}

	signature, err := SignRelease(ag.key, ag.addr, deposit)
	if err != nil {
		t.Fatalf("sign release: %v", err)
	}
	if err := env.engine.Release(ag.addr, deposit, signature); err != nil {
		t.Fatalf("release: %v", err)
	}

	wantFee := new(big.Int)
	wantFee.SetString("10000000000000000", 10) // 1e16
	wantPayee := new(big.Int)
	wantPayee.SetString("990000000000000000", 10) // 99e16

	registry := env.state.registry.Address
	if got := env.balance(t, registry); got.Cmp(wantFee) != 0 {
		t.Fatalf("registry fee balance = %s, want %s", got, wantFee)
	}
	if got := env.balance(t, ag.payee); got.Cmp(wantPayee) != 0 {
		t.Fatalf("payee balance = %s, want %s", got, wantPayee)
	}
	if got := env.balance(t, ag.addr); got.Sign() != 0 {
		t.Fatalf("instance balance = %s, want 0", got)
	}
}

func TestReleaseSmallAmountFeeTruncatesToZero(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(50)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	// 50 * 1% truncates to 0: the payee receives the full amount.
	if err := env.engine.Release(ag.addr, big.NewInt(50), signReleaseFor(t, ag, 50)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := env.balance(t, ag.payee); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("payee balance = %s, want 50", got)
	}
	if got := env.balance(t, env.state.registry.Address); got.Sign() != 0 {
		t.Fatalf("registry balance = %s, want 0", got)
	}
}

func TestReleaseRequiresFunding(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)

	err := env.engine.Release(ag.addr, big.NewInt(10), signReleaseFor(t, ag, 10))
	if !errors.Is(err, ErrNotFunded) {
		t.Fatalf("expected ErrNotFunded, got %v", err)
	}
}

func TestReleaseAfterDeadlineFails(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	env.now = ag.deadline + 1
	err := env.engine.Release(ag.addr, big.NewInt(100), signReleaseFor(t, ag, 100))
	if !errors.Is(err, ErrDeadlineExpired) {
		t.Fatalf("expected ErrDeadlineExpired, got %v", err)
	}
}

func TestReleaseAtDeadlineSucceeds(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	env.now = ag.deadline
	if err := env.engine.Release(ag.addr, big.NewInt(100), signReleaseFor(t, ag, 100)); err != nil {
		t.Fatalf("release at deadline: %v", err)
	}
}

func TestReleaseAmountExceedsDeposit(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	err := env.engine.Release(ag.addr, big.NewInt(101), signReleaseFor(t, ag, 101))
	if !errors.Is(err, ErrAmountExceedsDeposit) {
		t.Fatalf("expected ErrAmountExceedsDeposit, got %v", err)
	}
}

func TestReleaseRejectsWrongSigner(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	otherKey, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signature, err := SignRelease(otherKey, ag.addr, big.NewInt(100))
	if err != nil {
		t.Fatalf("sign release: %v", err)
	}
	if err := env.engine.Release(ag.addr, big.NewInt(100), signature); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestReleaseRejectsSignatureOverDifferentAmount(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	// Authorization over 100 must not release 60.
	err := env.engine.Release(ag.addr, big.NewInt(60), signReleaseFor(t, ag, 100))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestReleaseRejectsBadSignatureLength(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	err := env.engine.Release(ag.addr, big.NewInt(100), make([]byte, 64))
	if !errors.Is(err, ErrInvalidSignatureLength) {
		t.Fatalf("expected ErrInvalidSignatureLength, got %v", err)
	}
}

func TestPartialReleaseLocksRemainder(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if err := env.engine.Release(ag.addr, big.NewInt(60), signReleaseFor(t, ag, 60)); err != nil {
		t.Fatalf("partial release: %v", err)
	}
	if got := env.balance(t, ag.addr); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("instance balance = %s, want 40", got)
	}

	// A second release is rejected outright.
	err := env.engine.Release(ag.addr, big.NewInt(40), signReleaseFor(t, ag, 40))
	if !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}

	// So is a reclaim, even past the deadline: the remainder is locked.
	env.now = ag.deadline + 1
	if err := env.engine.Reclaim(ag.addr, ag.depositor); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased on reclaim, got %v", err)
	}
}

func TestReclaimBeforeDeadlineFails(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if err := env.engine.Reclaim(ag.addr, ag.depositor); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("expected ErrDeadlineNotReached, got %v", err)
	}
	// Exactly at the deadline is still too early.
	env.now = ag.deadline
	if err := env.engine.Reclaim(ag.addr, ag.depositor); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("expected ErrDeadlineNotReached at the deadline, got %v", err)
	}
}

func TestReclaimOnlyDepositor(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	env.now = ag.deadline + 1
	if err := env.engine.Reclaim(ag.addr, ag.payee); !errors.Is(err, ErrOnlyDepositorReclaim) {
		t.Fatalf("expected ErrOnlyDepositorReclaim, got %v", err)
	}
}

func TestReclaimReturnsDeposit(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	env.now = ag.deadline + 1
	if err := env.engine.Reclaim(ag.addr, ag.depositor); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if got := env.balance(t, ag.depositor); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("depositor balance = %s, want 1000", got)
	}
	if got := env.balance(t, ag.addr); got.Sign() != 0 {
		t.Fatalf("instance balance = %s, want 0", got)
	}

	// The deposit is zeroed, so a second reclaim reports nothing to refund.
	if err := env.engine.Reclaim(ag.addr, ag.depositor); !errors.Is(err, ErrNotFunded) {
		t.Fatalf("expected ErrNotFunded on second reclaim, got %v", err)
	}
}

func TestReclaimUnfundedFails(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)

	env.now = ag.deadline + 1
	if err := env.engine.Reclaim(ag.addr, ag.depositor); !errors.Is(err, ErrNotFunded) {
		t.Fatalf("expected ErrNotFunded, got %v", err)
	}
}

func TestSelfRemoveRequiresEmptyBalance(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if err := env.engine.SelfRemove(ag.addr); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("expected ErrNotEmpty, got %v", err)
	}
}

func TestSelfRemoveDeletesAgreement(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)

	if err := env.engine.SelfRemove(ag.addr); err != nil {
		t.Fatalf("self remove: %v", err)
	}
	if _, ok, _ := env.state.AgreementGet(ag.addr); ok {
		t.Fatal("agreement should be deleted")
	}
	if _, _, err := env.engine.AgreementInfo(ag.addr); err == nil {
		t.Fatal("expected lookup of removed agreement to fail")
	}
}

func TestEngineEmitsLifecycleEvents(t *testing.T) {
	env := newTestEnv(t)
	ag := env.deployAgreement(t)
	env.credit(ag.depositor, 1000)
	if err := env.engine.Fund(ag.addr, ag.depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := env.engine.Release(ag.addr, big.NewInt(100), signReleaseFor(t, ag, 100)); err != nil {
		t.Fatalf("release: %v", err)
	}

	var sawTypes []string
	for _, evt := range env.capture.Drain() {
		sawTypes = append(sawTypes, evt.Type)
	}
	want := []string{EventTypeRegistryInitialised, EventTypeEscrowCreated, EventTypeEscrowFunded, EventTypeEscrowReleased}
	if len(sawTypes) != len(want) {
		t.Fatalf("event types = %v, want %v", sawTypes, want)
	}
	for i := range want {
		if sawTypes[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, sawTypes[i], want[i])
		}
	}
}
