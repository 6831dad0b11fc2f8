package persist

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
)

// MemoryAdapter holds the dataset in process memory. Backups are deep
// copies kept under their label.
type MemoryAdapter struct {
	mu       sync.Mutex
	data     map[string][]core.Record
	backups  map[string]map[string][]core.Record
	modified map[string]int64
	datasetCRUD
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	m := &MemoryAdapter{
		data:     map[string][]core.Record{},
		backups:  map[string]map[string][]core.Record{},
		modified: map[string]int64{},
	}
	m.datasetCRUD = datasetCRUD{mu: &m.mu, load: m.loadLocked, save: m.saveLocked}
	return m
}

// loadLocked and saveLocked serve the shared CRUD mirror, which holds
// m.mu across the whole read-modify-write; they must not lock it again.
func (m *MemoryAdapter) loadLocked() (map[string][]core.Record, error) {
	return m.data, nil
}

func (m *MemoryAdapter) saveLocked(data map[string][]core.Record) error {
	m.data = data
	m.touchAll()
	return nil
}

// Initialize seeds the adapter when it holds no data yet.
func (m *MemoryAdapter) Initialize(initial map[string][]core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) == 0 && initial != nil {
		m.data = core.DeepCopyDataset(initial)
		m.touchAll()
	}
	return nil
}

// Load returns a deep copy of the held dataset.
func (m *MemoryAdapter) Load() (map[string][]core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return core.DeepCopyDataset(m.data), nil
}

// Save replaces the held dataset with a deep copy.
func (m *MemoryAdapter) Save(data map[string][]core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = core.DeepCopyDataset(data)
	m.touchAll()
	return nil
}

// Backup stores a deep copy under the given label, or a generated one.
func (m *MemoryAdapter) Backup(label string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if label == "" {
		label = "backup-" + uuid.New().String()
	}
	m.backups[label] = core.DeepCopyDataset(m.data)
	return label, nil
}

// Restore replaces the state with a copy of the identified backup.
func (m *MemoryAdapter) Restore(id string) (map[string][]core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.backups[id]
	if !ok {
		return nil, apierror.New(apierror.KindNotFound, "no such backup %q", id)
	}
	m.data = core.DeepCopyDataset(snapshot)
	m.touchAll()
	return core.DeepCopyDataset(m.data), nil
}

// Reset clears the dataset.
func (m *MemoryAdapter) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = map[string][]core.Record{}
	m.modified = map[string]int64{}
	return nil
}

// GetStats reports per-collection counts and last-modified times.
func (m *MemoryAdapter) GetStats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.data))
	for name, records := range m.data {
		out[name] = Stats{Count: len(records), LastModified: m.modified[name]}
	}
	return out
}

// Close is a no-op for the memory adapter.
func (m *MemoryAdapter) Close() error { return nil }

func (m *MemoryAdapter) touchAll() {
	now := time.Now().UnixMilli()
	for name := range m.data {
		m.modified[name] = now
	}
}
