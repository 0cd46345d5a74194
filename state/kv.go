package state

import (
	"sort"

	"escrowd/storage"
)

// KV is the minimal key-value contract the state manager needs. Get reports
// presence explicitly so empty values and absent keys stay distinguishable.
type KV interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
}

// dbKV adapts a storage.Database to the KV contract.
type dbKV struct {
	db storage.Database
}

// NewDBKV wraps a storage backend as a KV store.
func NewDBKV(db storage.Database) KV {
	return &dbKV{db: db}
}

func (d *dbKV) Get(key []byte) ([]byte, bool, error) {
	value, err := d.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func (d *dbKV) Put(key, value []byte) error {
	return d.db.Put(key, value)
}

func (d *dbKV) Delete(key []byte) error {
	return d.db.Delete(key)
}

// Overlay stages writes and deletes on top of a base KV store. Nothing
// reaches the base until Commit; discarding the overlay discards the staged
// changes, which is how the node gives every ledger call apply-or-discard
// semantics.
type Overlay struct {
	base    KV
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay stages changes over the given base store.
func NewOverlay(base KV) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		return nil, false, nil
	}
	if value, ok := o.writes[k]; ok {
		return append([]byte(nil), value...), true, nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Put(key, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// Commit flushes the staged changes to the base store in deterministic key
// order and resets the overlay.
func (o *Overlay) Commit() error {
	keys := make([]string, 0, len(o.writes))
	for k := range o.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := o.base.Put([]byte(k), o.writes[k]); err != nil {
			return err
		}
	}
	deleted := make([]string, 0, len(o.deletes))
	for k := range o.deletes {
		deleted = append(deleted, k)
	}
	sort.Strings(deleted)
	for _, k := range deleted {
		if err := o.base.Delete([]byte(k)); err != nil {
			return err
		}
	}
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
	return nil
}
