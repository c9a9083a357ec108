package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/rlp"

	"nhbbridge/storage"
)

// ErrTxClosed is returned when a staged transaction is used after Commit or
// Discard.
var ErrTxClosed = errors.New("state: transaction closed")

// KV is the record-level view shared by the committed store and staged
// transactions. Values are RLP encoded.
type KV interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Manager provides record access to the committed bridge state.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) raw(key []byte) ([]byte, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.raw(key)
	if err != nil {
		return false, err
	}
	return decodeRecord(data, out)
}

// KVDelete removes the key from state. Deleting a missing key is not an error.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Delete(key)
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.raw(key)
	if err != nil {
		return err
	}
	encoded, err := appendUnique(data, value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.raw(key)
	if err != nil {
		return err
	}
	return decodeList(data, out)
}

// Begin opens a staged transaction. Reads fall through to committed state;
// writes stay buffered until Commit applies them as one storage batch.
func (m *Manager) Begin() *Tx {
	return &Tx{parent: m, writes: make(map[string]stagedValue)}
}

type stagedValue struct {
	data    []byte
	deleted bool
}

// Tx is a write-buffering view over a Manager. It is not safe for concurrent
// use.
type Tx struct {
	parent *Manager
	writes map[string]stagedValue
	order  []string
	closed bool
}

func (tx *Tx) raw(key []byte) ([]byte, error) {
	if staged, ok := tx.writes[string(key)]; ok {
		if staged.deleted {
			return nil, nil
		}
		return staged.data, nil
	}
	return tx.parent.raw(key)
}

func (tx *Tx) stage(key []byte, value stagedValue) {
	k := string(key)
	if _, ok := tx.writes[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = value
}

func (tx *Tx) check(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return nil
}

func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if err := tx.check(key); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	tx.stage(key, stagedValue{data: encoded})
	return nil
}

func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if err := tx.check(key); err != nil {
		return false, err
	}
	data, err := tx.raw(key)
	if err != nil {
		return false, err
	}
	return decodeRecord(data, out)
}

func (tx *Tx) KVDelete(key []byte) error {
	if err := tx.check(key); err != nil {
		return err
	}
	tx.stage(key, stagedValue{deleted: true})
	return nil
}

func (tx *Tx) KVAppend(key []byte, value []byte) error {
	if err := tx.check(key); err != nil {
		return err
	}
	data, err := tx.raw(key)
	if err != nil {
		return err
	}
	encoded, err := appendUnique(data, value)
	if err != nil {
		return err
	}
	tx.stage(key, stagedValue{data: encoded})
	return nil
}

func (tx *Tx) KVGetList(key []byte, out interface{}) error {
	if err := tx.check(key); err != nil {
		return err
	}
	data, err := tx.raw(key)
	if err != nil {
		return err
	}
	return decodeList(data, out)
}

// Pending reports the number of keys touched by the transaction.
func (tx *Tx) Pending() int {
	return len(tx.order)
}

// Commit writes every staged change in a single atomic batch and closes the
// transaction.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if len(tx.order) == 0 {
		return nil
	}
	batch := tx.parent.db.NewBatch()
	for _, k := range tx.order {
		staged := tx.writes[k]
		if staged.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), staged.data)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Discard drops every staged change. It is safe to call after Commit.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.writes = nil
	tx.order = nil
}

func decodeRecord(data []byte, out interface{}) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func decodeList(data []byte, out interface{}) error {
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

func appendUnique(data []byte, value []byte) ([]byte, error) {
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return nil, err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return rlp.EncodeToBytes(list)
		}
	}
	list = append(list, append([]byte(nil), value...))
	return rlp.EncodeToBytes(list)
}
