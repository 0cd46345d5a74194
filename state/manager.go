package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/storage"
)

var (
	accountPrefix   = []byte("account:")
	agreementPrefix = []byte("escrow:agreement:")
	indexPrefix     = []byte("escrow:index:")
	registryKey     = ethcrypto.Keccak256([]byte("escrow:registry"))
)

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func agreementKey(addr [20]byte) []byte {
	buf := make([]byte, len(agreementPrefix)+len(addr))
	copy(buf, agreementPrefix)
	copy(buf[len(agreementPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func indexKey(depositor [20]byte) []byte {
	buf := make([]byte, len(indexPrefix)+len(depositor))
	copy(buf, indexPrefix)
	copy(buf[len(indexPrefix):], depositor[:])
	return ethcrypto.Keccak256(buf)
}

// Manager reads and writes the ledger's typed records over a key-value
// store. Keys are keccak-hashed with a record prefix and values are
// RLP-encoded. Wrap the backing store in an Overlay to get stage-and-commit
// semantics for a single atomic call.
type Manager struct {
	kv KV
}

// NewManager creates a state manager operating on the provided KV store.
func NewManager(kv KV) *Manager {
	return &Manager{kv: kv}
}

// NewManagerFromDB is a convenience constructor binding the manager directly
// to a storage backend without staging.
func NewManagerFromDB(db storage.Database) *Manager {
	return NewManager(NewDBKV(db))
}

// RLP has no signed-integer encoding, so timestamps are persisted as uint64
// through explicit storage mirrors of the runtime types.
type storedAccount struct {
	Nonce    uint64
	Balance  *big.Int
	CodeHash []byte
}

type storedAgreement struct {
	Address       [20]byte
	Registry      [20]byte
	Depositor     [20]byte
	Payee         [20]byte
	Deadline      uint64
	FeePercent    uint8
	Funded        bool
	Released      bool
	DepositAmount *big.Int
	CreatedAt     uint64
}

type storedRegistry struct {
	Address      [20]byte
	FeeRecipient [20]byte
	Owner        [20]byte
	PendingOwner [20]byte
	Paused       bool
}

// GetAccount loads the account for an address, returning a zeroed account
// when the address has never been written.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	data, ok, err := m.kv.Get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&types.Account{}).Normalize(), nil
	}
	stored := new(storedAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return (&types.Account{
		Nonce:    stored.Nonce,
		Balance:  stored.Balance,
		CodeHash: stored.CodeHash,
	}).Normalize(), nil
}

// PutAccount persists the account record for an address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	account = account.Normalize()
	encoded, err := rlp.EncodeToBytes(&storedAccount{
		Nonce:    account.Nonce,
		Balance:  account.Balance,
		CodeHash: account.CodeHash,
	})
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.kv.Put(accountKey(addr), encoded)
}

// DeleteAccount removes the account record entirely. Used when an escrow
// instance self-removes.
func (m *Manager) DeleteAccount(addr []byte) error {
	return m.kv.Delete(accountKey(addr))
}

// AgreementGet loads an escrow agreement by instance address.
func (m *Manager) AgreementGet(addr [20]byte) (*escrow.Agreement, bool, error) {
	data, ok, err := m.kv.Get(agreementKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	stored := new(storedAgreement)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode agreement: %w", err)
	}
	return &escrow.Agreement{
		Address:       stored.Address,
		Registry:      stored.Registry,
		Depositor:     stored.Depositor,
		Payee:         stored.Payee,
		Deadline:      int64(stored.Deadline),
		FeePercent:    stored.FeePercent,
		Funded:        stored.Funded,
		Released:      stored.Released,
		DepositAmount: stored.DepositAmount,
		CreatedAt:     int64(stored.CreatedAt),
	}, true, nil
}

// AgreementPut persists an escrow agreement after sanitising it.
func (m *Manager) AgreementPut(agreement *escrow.Agreement) error {
	sanitized, err := escrow.SanitizeAgreement(agreement)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	encoded, err := rlp.EncodeToBytes(&storedAgreement{
		Address:       sanitized.Address,
		Registry:      sanitized.Registry,
		Depositor:     sanitized.Depositor,
		Payee:         sanitized.Payee,
		Deadline:      uint64(sanitized.Deadline),
		FeePercent:    sanitized.FeePercent,
		Funded:        sanitized.Funded,
		Released:      sanitized.Released,
		DepositAmount: sanitized.DepositAmount,
		CreatedAt:     uint64(sanitized.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("state: encode agreement: %w", err)
	}
	return m.kv.Put(agreementKey(sanitized.Address), encoded)
}

// AgreementDelete removes an agreement record.
func (m *Manager) AgreementDelete(addr [20]byte) error {
	return m.kv.Delete(agreementKey(addr))
}

// EscrowIndexGet returns the ordered agreement addresses recorded for a
// depositor.
func (m *Manager) EscrowIndexGet(depositor [20]byte) ([][20]byte, error) {
	data, ok, err := m.kv.Get(indexKey(depositor))
	if err != nil || !ok {
		return [][20]byte{}, err
	}
	var list [][20]byte
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, fmt.Errorf("state: decode escrow index: %w", err)
	}
	return list, nil
}

// EscrowIndexAppend appends an agreement address to a depositor's index. The
// sequence is append-only; entries are never rewritten or removed.
func (m *Manager) EscrowIndexAppend(depositor [20]byte, agreement [20]byte) error {
	list, err := m.EscrowIndexGet(depositor)
	if err != nil {
		return err
	}
	list = append(list, agreement)
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return fmt.Errorf("state: encode escrow index: %w", err)
	}
	return m.kv.Put(indexKey(depositor), encoded)
}

// RegistryGet loads the registry singleton.
func (m *Manager) RegistryGet() (*escrow.RegistryRecord, bool, error) {
	data, ok, err := m.kv.Get(registryKey)
	if err != nil || !ok {
		return nil, false, err
	}
	stored := new(storedRegistry)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode registry: %w", err)
	}
	return &escrow.RegistryRecord{
		Address:      stored.Address,
		FeeRecipient: stored.FeeRecipient,
		Owner:        stored.Owner,
		PendingOwner: stored.PendingOwner,
		Paused:       stored.Paused,
	}, true, nil
}

// RegistryPut persists the registry singleton.
func (m *Manager) RegistryPut(record *escrow.RegistryRecord) error {
	if record == nil {
		return fmt.Errorf("state: nil registry record")
	}
	encoded, err := rlp.EncodeToBytes(&storedRegistry{
		Address:      record.Address,
		FeeRecipient: record.FeeRecipient,
		Owner:        record.Owner,
		PendingOwner: record.PendingOwner,
		Paused:       record.Paused,
	})
	if err != nil {
		return fmt.Errorf("state: encode registry: %w", err)
	}
	return m.kv.Put(registryKey, encoded)
}
