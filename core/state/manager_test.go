package state

import (
	"errors"
	"testing"

	"nhbbridge/storage"
)

type record struct {
	Value uint64
	Flag  bool
}

func TestManagerKVRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if err := m.KVPut([]byte("rec"), record{Value: 7, Flag: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got record
	ok, err := m.KVGet([]byte("rec"), &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Value != 7 || !got.Flag {
		t.Fatalf("unexpected record %+v", got)
	}
	ok, err = m.KVGet([]byte("missing"), &got)
	if err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}
}

func TestManagerKVAppendDeduplicates(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	for _, v := range [][]byte{{1}, {2}, {1}} {
		if err := m.KVAppend([]byte("list"), v); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := m.KVGetList([]byte("list"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 unique entries, got %d", len(list))
	}

	var empty [][]byte
	if err := m.KVGetList([]byte("nothing"), &empty); err != nil {
		t.Fatalf("get empty list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected initialised empty slice")
	}
}

func TestTxStagesUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	if err := m.KVPut([]byte("a"), record{Value: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx := m.Begin()
	if err := tx.KVPut([]byte("a"), record{Value: 2}); err != nil {
		t.Fatalf("tx put: %v", err)
	}
	if err := tx.KVPut([]byte("b"), record{Value: 3}); err != nil {
		t.Fatalf("tx put: %v", err)
	}

	var inTx record
	if ok, _ := tx.KVGet([]byte("a"), &inTx); !ok || inTx.Value != 2 {
		t.Fatalf("tx should read its own write, got %+v", inTx)
	}
	var committed record
	if ok, _ := m.KVGet([]byte("a"), &committed); !ok || committed.Value != 1 {
		t.Fatalf("committed state changed before commit: %+v", committed)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := m.KVGet([]byte("a"), &committed); !ok || committed.Value != 2 {
		t.Fatalf("commit not applied: %+v", committed)
	}
	if ok, _ := m.KVGet([]byte("b"), nil); !ok {
		t.Fatalf("expected b after commit")
	}
	if err := tx.KVPut([]byte("c"), record{}); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed, got %v", err)
	}
}

func TestTxDiscardLeavesStateUntouched(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	tx := m.Begin()
	if err := tx.KVPut([]byte("a"), record{Value: 9}); err != nil {
		t.Fatalf("tx put: %v", err)
	}
	if err := tx.KVAppend([]byte("idx"), []byte{1}); err != nil {
		t.Fatalf("tx append: %v", err)
	}
	tx.Discard()
	if db.Len() != 0 {
		t.Fatalf("discarded tx wrote %d keys", db.Len())
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed on commit after discard, got %v", err)
	}
}

func TestTxDeleteShadowsCommittedValue(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if err := m.KVPut([]byte("a"), record{Value: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tx := m.Begin()
	if err := tx.KVDelete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := tx.KVGet([]byte("a"), nil); ok {
		t.Fatalf("deleted key still visible in tx")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := m.KVGet([]byte("a"), nil); ok {
		t.Fatalf("delete not committed")
	}
}
