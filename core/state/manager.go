package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stakeescrow/storage"
)

// Manager reads and writes escrow state. Writes are held in an overlay until
// Commit flushes them to the database as a single batch; Discard drops them.
// Reads see the overlay first, so a call observes its own writes.
//
// Manager is not safe for concurrent use. The executor serialises access.
type Manager struct {
	db      storage.Database
	pending map[string][]byte
	deleted map[string]struct{}
}

// NewManager creates a state manager over db.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

// Dirty reports whether the overlay holds uncommitted writes.
func (m *Manager) Dirty() bool {
	return len(m.pending) > 0 || len(m.deleted) > 0
}

// Commit writes the overlay to the database atomically and clears it.
func (m *Manager) Commit() error {
	if !m.Dirty() {
		return nil
	}
	batch := storage.NewBatch()
	keys := make([]string, 0, len(m.pending)+len(m.deleted))
	for k := range m.pending {
		keys = append(keys, k)
	}
	for k := range m.deleted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := m.pending[k]; ok {
			batch.Put([]byte(k), v)
			continue
		}
		batch.Delete([]byte(k))
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.Discard()
	return nil
}

// Discard drops every uncommitted write.
func (m *Manager) Discard() {
	m.pending = make(map[string][]byte)
	m.deleted = make(map[string]struct{})
}

func (m *Manager) get(key []byte) ([]byte, error) {
	k := string(key)
	if _, ok := m.deleted[k]; ok {
		return nil, nil
	}
	if v, ok := m.pending[k]; ok {
		return v, nil
	}
	v, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (m *Manager) put(key, value []byte) {
	k := string(key)
	delete(m.deleted, k)
	m.pending[k] = append([]byte(nil), value...)
}

func (m *Manager) del(key []byte) {
	k := string(key)
	delete(m.pending, k)
	m.deleted[k] = struct{}{}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// out. The boolean reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
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

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.del(kvKey(key))
	return nil
}
