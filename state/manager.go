package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"tutorpay/storage"
)

var (
	// ErrKeyExists is returned by KVPutIfAbsent when the key has already been
	// written. Callers rely on this to implement create-if-absent semantics.
	ErrKeyExists = errors.New("state: key already exists")
)

// Manager layers typed key-value access on top of a raw storage.Database.
// Values are rlp encoded. All mutating operations are serialised through a
// single mutex so that compare-and-create sequences observe a consistent
// view: of two concurrent KVPutIfAbsent calls for the same key, exactly one
// succeeds.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) ensure() error {
	if m == nil || m.db == nil {
		return errors.New("state: database not configured")
	}
	return nil
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key was present.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if err := m.ensure(); err != nil {
		return false, err
	}
	encoded, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut stores value under key, overwriting any previous value.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if err := m.ensure(); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(key, encoded)
}

// KVPutIfAbsent stores value under key only when the key has never been
// written, returning ErrKeyExists otherwise. The check and the write happen
// under the manager lock.
func (m *Manager) KVPutIfAbsent(key []byte, value interface{}) error {
	if err := m.ensure(); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, err := m.db.Has(key)
	if err != nil {
		return err
	}
	if ok {
		return ErrKeyExists
	}
	return m.db.Put(key, encoded)
}

// KVHas reports whether a key is present.
func (m *Manager) KVHas(key []byte) (bool, error) {
	if err := m.ensure(); err != nil {
		return false, err
	}
	return m.db.Has(key)
}

// KVDelete removes the value stored under key. Reserved for rollback paths;
// committed records are never deleted.
func (m *Manager) KVDelete(key []byte) error {
	if err := m.ensure(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete(key)
}
