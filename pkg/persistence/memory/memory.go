package memory

import (
	"fmt"
	"sync"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/persistence"
)

// MemoryPersistence is an in-memory implementation of IPreferenceStore.
//
// The preference is lost when the process exits, so every session starts
// without an adapter hint. Thread-safe using sync.RWMutex.
// Copies records to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	preference *persistence.PreferenceRecord

	// Closed flag
	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

// SavePreference stores a copy of record.
func (m *MemoryPersistence) SavePreference(record *persistence.PreferenceRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	copied := *record
	m.preference = &copied
	return nil
}

// LoadPreference returns a copy of the stored record, or nil.
func (m *MemoryPersistence) LoadPreference() (*persistence.PreferenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	if m.preference == nil {
		return nil, nil
	}
	copied := *m.preference
	return &copied, nil
}

// ClearPreference removes the stored record.
func (m *MemoryPersistence) ClearPreference() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.preference = nil
	return nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.preference = nil
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return nil
}
