/*Package persist defines the pluggable persistence contract and its
in-memory, file-JSON and postgres implementations.

An adapter owns the durable form of the dataset: a map from collection
name to record list. The store remains the authority over record
semantics; adapters only load, save, back up and restore whole datasets,
plus a direct CRUD mirror for hosts that bypass the in-process store.
*/
package persist

import (
	"sync"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
)

// Stats describes one collection of the persisted dataset.
type Stats struct {
	Count        int   `json:"count"`
	LastModified int64 `json:"lastModified"` // unix milliseconds
}

// Adapter is the persistence contract.
type Adapter interface {
	// Initialize prepares the adapter with an initial dataset, used when
	// the backing storage is empty.
	Initialize(initial map[string][]core.Record) error
	// Load returns the persisted dataset. An empty backing storage yields
	// an empty map, not an error.
	Load() (map[string][]core.Record, error)
	// Save persists the dataset. Implementations may debounce.
	Save(data map[string][]core.Record) error
	// Backup snapshots the current state under the given label (or a
	// generated one when empty) and returns the backup id.
	Backup(label string) (string, error)
	// Restore replaces the state with the identified backup and returns
	// the restored dataset.
	Restore(id string) (map[string][]core.Record, error)
	// Reset clears the persisted state.
	Reset() error
	// GetStats reports per-collection counts and last-modified times.
	GetStats() map[string]Stats
	// Close flushes pending writes and releases resources.
	Close() error

	// direct CRUD mirror of the store operations
	GetRecord(collection string, id interface{}, primaryKey string) (core.Record, bool, error)
	AddRecord(collection string, record core.Record, primaryKey string) (core.Record, error)
	UpdateRecord(collection string, id interface{}, record core.Record, primaryKey string) (core.Record, error)
	DeleteRecord(collection string, id interface{}, primaryKey string) (bool, error)
}

// datasetCRUD implements the direct CRUD mirror over a load/save pair; all
// adapters share it. The adapter mutex is held across the whole
// read-modify-write, so load and save must not lock it themselves.
type datasetCRUD struct {
	mu   *sync.Mutex
	load func() (map[string][]core.Record, error)
	save func(map[string][]core.Record) error
}

func (d datasetCRUD) GetRecord(collection string, id interface{}, primaryKey string) (core.Record, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.load()
	if err != nil {
		return nil, false, err
	}
	for _, r := range data[collection] {
		if core.KeysEqual(r[primaryKey], id) {
			return r.DeepCopy(), true, nil
		}
	}
	return nil, false, nil
}

func (d datasetCRUD) AddRecord(collection string, record core.Record, primaryKey string) (core.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.load()
	if err != nil {
		return nil, err
	}
	for _, r := range data[collection] {
		if core.KeysEqual(r[primaryKey], record[primaryKey]) {
			return nil, apierror.New(apierror.KindConflict, "duplicate %s in %s", primaryKey, collection)
		}
	}
	record = record.DeepCopy()
	if id, ok := record[primaryKey]; !ok || id == nil {
		record[primaryKey] = nextIntegerKey(data[collection], primaryKey)
	}
	data[collection] = append(data[collection], record)
	return record, d.save(data)
}

func (d datasetCRUD) UpdateRecord(collection string, id interface{}, record core.Record, primaryKey string) (core.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.load()
	if err != nil {
		return nil, err
	}
	for i, r := range data[collection] {
		if core.KeysEqual(r[primaryKey], id) {
			updated := record.DeepCopy()
			updated[primaryKey] = r[primaryKey]
			data[collection][i] = updated
			return updated, d.save(data)
		}
	}
	return nil, apierror.New(apierror.KindNotFound, "no such record in %s", collection)
}

// nextIntegerKey picks the next integer strictly greater than the maximum
// existing integer key, or 1.
func nextIntegerKey(records []core.Record, primaryKey string) float64 {
	var max float64
	for _, r := range records {
		if n, ok := r[primaryKey].(float64); ok && n == float64(int64(n)) && n > max {
			max = n
		}
	}
	return max + 1
}

func (d datasetCRUD) DeleteRecord(collection string, id interface{}, primaryKey string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.load()
	if err != nil {
		return false, err
	}
	for i, r := range data[collection] {
		if core.KeysEqual(r[primaryKey], id) {
			data[collection] = append(data[collection][:i], data[collection][i+1:]...)
			return true, d.save(data)
		}
	}
	return false, nil
}
