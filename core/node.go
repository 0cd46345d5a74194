package core

import (
	"math/big"
	"sync"

	"escrowd/core/events"
	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/state"
	"escrowd/storage"
)

const eventLogCapacity = 512

// Node is the ledger facade. It serializes every state-mutating call under
// one lock and stages each call's writes in an overlay, so a call either
// commits in full or leaves no trace — the host-ledger execution model the
// escrow engines assume. Events emitted by a failing call are discarded
// along with its writes.
type Node struct {
	mu     sync.Mutex
	db     storage.Database
	engine *escrow.Engine
	log    []types.Event
}

// NewNode creates a node over the given storage backend.
func NewNode(db storage.Database) *Node {
	return &Node{
		db:     db,
		engine: escrow.NewEngine(),
	}
}

// SetNowFunc overrides the ledger clock, primarily for deterministic tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetNowFunc(now)
}

func (n *Node) withWrite(fn func(*escrow.Engine) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	overlay := state.NewOverlay(state.NewDBKV(n.db))
	capture := &events.Capture{}
	n.engine.SetState(state.NewManager(overlay))
	n.engine.SetEmitter(capture)
	if err := fn(n.engine); err != nil {
		return err
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	n.appendEvents(capture.Drain())
	return nil
}

func (n *Node) withRead(fn func(*escrow.Engine) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetState(state.NewManagerFromDB(n.db))
	n.engine.SetEmitter(nil)
	return fn(n.engine)
}

func (n *Node) appendEvents(batch []types.Event) {
	n.log = append(n.log, batch...)
	if overflow := len(n.log) - eventLogCapacity; overflow > 0 {
		n.log = append([]types.Event(nil), n.log[overflow:]...)
	}
}

// Initialised reports whether the registry singleton already exists, i.e.
// whether this data directory has been bootstrapped before.
func (n *Node) Initialised() (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok, err := state.NewManagerFromDB(n.db).RegistryGet()
	return ok, err
}

// RegistryInit initialises the registry singleton; idempotent.
func (n *Node) RegistryInit(feeRecipient, owner [20]byte) (*escrow.RegistryRecord, error) {
	var record *escrow.RegistryRecord
	err := n.withWrite(func(eng *escrow.Engine) error {
		var innerErr error
		record, innerErr = eng.InitRegistry(feeRecipient, owner)
		return innerErr
	})
	return record, err
}

// CreditAccount adds native value to an account balance. Used for genesis
// allocations and test fixtures; there is no faucet surface beyond this.
func (n *Node) CreditAccount(addr [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	mgr := state.NewManagerFromDB(n.db)
	account, err := mgr.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account = account.Normalize()
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return mgr.PutAccount(addr[:], account)
}

// EscrowCreate deploys a new agreement at its deterministic address.
func (n *Node) EscrowCreate(depositor, payee [20]byte, deadline int64, salt [32]byte) (*escrow.Agreement, error) {
	var agreement *escrow.Agreement
	err := n.withWrite(func(eng *escrow.Engine) error {
		var innerErr error
		agreement, innerErr = eng.CreateEscrow(depositor, payee, deadline, salt)
		return innerErr
	})
	return agreement, err
}

// EscrowPredictAddress computes the deployment address without deploying.
func (n *Node) EscrowPredictAddress(depositor, payee [20]byte, deadline int64, salt [32]byte) ([20]byte, error) {
	var addr [20]byte
	err := n.withRead(func(eng *escrow.Engine) error {
		var innerErr error
		addr, innerErr = eng.PredictAddress(depositor, payee, deadline, salt)
		return innerErr
	})
	return addr, err
}

// EscrowFund places the depositor's value under the instance's control.
func (n *Node) EscrowFund(addr, caller [20]byte, value *big.Int) error {
	return n.withWrite(func(eng *escrow.Engine) error {
		return eng.Fund(addr, caller, value)
	})
}

// EscrowRelease settles an agreement with a depositor-signed authorization.
func (n *Node) EscrowRelease(addr [20]byte, amount *big.Int, signature []byte) error {
	return n.withWrite(func(eng *escrow.Engine) error {
		return eng.Release(addr, amount, signature)
	})
}

// EscrowReclaim refunds an expired agreement to its depositor.
func (n *Node) EscrowReclaim(addr, caller [20]byte) error {
	return n.withWrite(func(eng *escrow.Engine) error {
		return eng.Reclaim(addr, caller)
	})
}

// EscrowRemove deletes an emptied instance from the ledger.
func (n *Node) EscrowRemove(addr [20]byte) error {
	return n.withWrite(func(eng *escrow.Engine) error {
		return eng.SelfRemove(addr)
	})
}

// EscrowGet returns an agreement and its instance balance.
func (n *Node) EscrowGet(addr [20]byte) (*escrow.Agreement, *big.Int, error) {
	var (
		agreement *escrow.Agreement
		balance   *big.Int
	)
	err := n.withRead(func(eng *escrow.Engine) error {
		var innerErr error
		agreement, balance, innerErr = eng.AgreementInfo(addr)
		return innerErr
	})
	return agreement, balance, err
}

// EscrowList returns the ordered agreement addresses for a depositor.
func (n *Node) EscrowList(depositor [20]byte) ([][20]byte, error) {
	var list [][20]byte
	err := n.withRead(func(eng *escrow.Engine) error {
		var innerErr error
		list, innerErr = eng.GetEscrows(depositor)
		return innerErr
	})
	return list, err
}

// RegistryInfo returns the registry record and its fee balance.
func (n *Node) RegistryInfo() (*escrow.RegistryRecord, *big.Int, error) {
	var (
		record  *escrow.RegistryRecord
		balance *big.Int
	)
	err := n.withRead(func(eng *escrow.Engine) error {
		var innerErr error
		record, balance, innerErr = eng.RegistryInfo()
		return innerErr
	})
	return record, balance, err
}

// RegistryPause stops new-agreement creation.
func (n *Node) RegistryPause(caller [20]byte) error {
	return n.withWrite(func(eng *escrow.Engine) error {
		return eng.Pause(caller)
	})
}

// RegistryUnpause restores new-agreement creation.
func (n *Node) RegistryUnpause(caller [20]byte) error {
	return n.withWrite(func(eng *escrow.Engine) error {
		return eng.Unpause(caller)
	})
}

// RegistryWithdrawFees drains the accumulated fees to the fee recipient.
func (n *Node) RegistryWithdrawFees(caller [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := n.withWrite(func(eng *escrow.Engine) error {
		var innerErr error
		amount, innerErr = eng.WithdrawFees(caller)
		return innerErr
	})
	return amount, err
}

// RegistryTransferOwnership proposes a new registry owner.
func (n *Node) RegistryTransferOwnership(caller, newOwner [20]byte) error {
	return n.withWrite(func(eng *escrow.Engine) error {
		return eng.TransferOwnership(caller, newOwner)
	})
}

// RegistryAcceptOwnership completes a pending ownership transfer.
func (n *Node) RegistryAcceptOwnership(caller [20]byte) error {
	return n.withWrite(func(eng *escrow.Engine) error {
		return eng.AcceptOwnership(caller)
	})
}

// GetAccount reads an account record.
func (n *Node) GetAccount(addr [20]byte) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return state.NewManagerFromDB(n.db).GetAccount(addr[:])
}

// Events returns up to limit of the most recently committed events, oldest
// first.
func (n *Node) Events(limit int) []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if limit <= 0 || limit > len(n.log) {
		limit = len(n.log)
	}
	out := make([]types.Event, limit)
	copy(out, n.log[len(n.log)-limit:])
	return out
}
