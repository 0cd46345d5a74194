package storage

import (
	"bytes"
	"testing"
)

func TestMemDBMissingKeyReturnsNil(t *testing.T) {
	db := NewMemDB()
	value, err := db.Get([]byte("absent"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != nil {
		t.Fatalf("missing key returned %x, want nil", value)
	}
}

func TestMemDBPutGetDelete(t *testing.T) {
	db := NewMemDB()
	key := []byte("k")

	if err := db.Put(key, []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(value, []byte("v1")) {
		t.Fatalf("value = %q, want v1", value)
	}

	if err := db.Put(key, []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, err = db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(value, []byte("v2")) {
		t.Fatalf("value = %q, want v2", value)
	}

	if err := db.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	value, err = db.Get(key)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if value != nil {
		t.Fatalf("deleted key returned %x, want nil", value)
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	stored := []byte("original")
	if err := db.Put([]byte("k"), stored); err != nil {
		t.Fatalf("put: %v", err)
	}
	stored[0] = 'X'

	value, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(value, []byte("original")) {
		t.Fatalf("stored value mutated to %q", value)
	}

	value[0] = 'Y'
	again, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(again, []byte("original")) {
		t.Fatalf("returned slice aliases the store: %q", again)
	}
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	value, err := db.Get([]byte("absent"))
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if value != nil {
		t.Fatalf("missing key returned %x, want nil", value)
	}

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err = db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(value, []byte("v")) {
		t.Fatalf("value = %q, want v", value)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
