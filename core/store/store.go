/*Package store owns all record collections.

The store is the only component that may mutate a record: every record
entering or leaving it is deep-copied. Each collection is guarded by its
own read-write lock; cascade deletes lock every involved collection in
name order so observers see either the pre-state or the fully cascaded
post-state.
*/
package store

import (
	"sort"
	"sync"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/query"
)

// CascadeTarget names a collection and foreign key a delete cascades into.
type CascadeTarget struct {
	Collection string
	ForeignKey string
}

// Store holds the collections.
type Store struct {
	mu          sync.RWMutex // guards the collections map itself
	collections map[string]*collection
}

type collection struct {
	mu      sync.RWMutex
	records []core.Record
}

// New creates an empty store.
func New() *Store {
	return &Store{collections: map[string]*collection{}}
}

// coll returns the named collection, creating it when absent.
func (s *Store) coll(name string) *collection {
	s.mu.RLock()
	c, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.collections[name]; ok {
		return c
	}
	c = &collection{}
	s.collections[name] = c
	return c
}

// Collections returns the collection names, sorted.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of records in a collection.
func (s *Store) Count(name string) int {
	c := s.coll(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Query applies filters, sort, pagination and projection and returns deep
// copies plus the total match count before pagination.
func (s *Store) Query(name string, opt query.Options, maxPerPage int) ([]core.Record, int) {
	c := s.coll(name)
	c.mu.RLock()
	page, total := query.Apply(c.records, opt, maxPerPage)
	out := make([]core.Record, len(page))
	for i, r := range page {
		out[i] = r.DeepCopy()
	}
	c.mu.RUnlock()
	return out, total
}

// Get returns a deep copy of the record with the given primary key.
func (s *Store) Get(name string, id interface{}, primaryKey string) (core.Record, bool) {
	c := s.coll(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := indexOf(c.records, id, primaryKey); i >= 0 {
		return c.records[i].DeepCopy(), true
	}
	return nil, false
}

// Add inserts a record. A missing primary key is assigned the next integer
// strictly greater than the maximum existing integer key, or 1. An already
// existing key fails with kind conflict. When fields are given, the
// validator runs in create mode first.
func (s *Store) Add(name string, record core.Record, primaryKey string, fields []config.Field) (core.Record, error) {
	c := s.coll(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	record = record.DeepCopy()
	if id, ok := record[primaryKey]; ok && id != nil {
		if indexOf(c.records, id, primaryKey) >= 0 {
			return nil, apierror.New(apierror.KindConflict, "duplicate %s in %s", primaryKey, name).WithCode("duplicate_id")
		}
	} else {
		record[primaryKey] = nextID(c.records, primaryKey)
	}
	if fields != nil {
		if err := Validate(record, fields, c.records, primaryKey, ModeCreate); err != nil {
			return nil, err
		}
	}
	c.records = append(c.records, record)
	return record.DeepCopy(), nil
}

// Update mutates the record with the given primary key. With merge the data
// is shallow-merged over the record; without, the record is replaced and
// only the primary key survives. Returns nil, false when the record does
// not exist. When fields are given, the validator runs in update mode.
func (s *Store) Update(name string, id interface{}, data core.Record, primaryKey string, merge bool, fields []config.Field) (core.Record, bool, error) {
	c := s.coll(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	i := indexOf(c.records, id, primaryKey)
	if i < 0 {
		return nil, false, nil
	}
	var updated core.Record
	if merge {
		updated = c.records[i].DeepCopy().ShallowMerge(data)
	} else {
		updated = data.DeepCopy()
	}
	updated[primaryKey] = c.records[i][primaryKey]
	if fields != nil {
		if err := Validate(updated, fields, c.records, primaryKey, ModeUpdate); err != nil {
			return nil, true, err
		}
	}
	c.records[i] = updated
	return updated.DeepCopy(), true, nil
}

// Delete removes the record with the given primary key and cascades into
// the listed targets: every record whose foreign key equals the deleted id
// is removed as well (single level, not recursive). Returns false when the
// record does not exist.
func (s *Store) Delete(name string, id interface{}, primaryKey string, cascade []CascadeTarget) bool {
	locked := s.lockForCascade(name, cascade)
	defer unlockAll(locked)

	c := s.coll(name)
	i := indexOf(c.records, id, primaryKey)
	if i < 0 {
		return false
	}
	deletedID := c.records[i][primaryKey]
	c.records = append(c.records[:i], c.records[i+1:]...)

	for _, target := range cascade {
		tc := s.coll(target.Collection)
		kept := tc.records[:0]
		for _, r := range tc.records {
			if !core.KeysEqual(r[target.ForeignKey], deletedID) {
				kept = append(kept, r)
			}
		}
		tc.records = kept
	}
	return true
}

// lockForCascade write-locks the source collection and all cascade targets
// in deterministic name order.
func (s *Store) lockForCascade(name string, cascade []CascadeTarget) []*collection {
	names := map[string]bool{name: true}
	for _, t := range cascade {
		names[t.Collection] = true
	}
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)
	locked := make([]*collection, 0, len(ordered))
	for _, n := range ordered {
		c := s.coll(n)
		c.mu.Lock()
		locked = append(locked, c)
	}
	return locked
}

func unlockAll(locked []*collection) {
	for i := len(locked) - 1; i >= 0; i-- {
		locked[i].mu.Unlock()
	}
}

// FindRelated returns records in the related collection whose foreign key
// equals the given id, with the query options applied on top.
func (s *Store) FindRelated(name string, id interface{}, related, foreignKey string, opt query.Options, maxPerPage int) ([]core.Record, int) {
	opt.Filters = append([]query.Filter{{Field: foreignKey, Op: query.OpEq, Value: id}}, opt.Filters...)
	return s.Query(related, opt, maxPerPage)
}

// Reset replaces the entire dataset with a deep copy of the given one.
func (s *Store) Reset(data map[string][]core.Record) {
	copied := core.DeepCopyDataset(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = map[string]*collection{}
	for name, records := range copied {
		s.collections[name] = &collection{records: records}
	}
}

// Snapshot returns a deep copy of the entire dataset, for persistence.
func (s *Store) Snapshot() map[string][]core.Record {
	s.mu.RLock()
	colls := make(map[string]*collection, len(s.collections))
	for name, c := range s.collections {
		colls[name] = c
	}
	s.mu.RUnlock()

	out := make(map[string][]core.Record, len(colls))
	for name, c := range colls {
		c.mu.RLock()
		records := make([]core.Record, len(c.records))
		for i, r := range c.records {
			records[i] = r.DeepCopy()
		}
		c.mu.RUnlock()
		out[name] = records
	}
	return out
}

// MaxNumeric returns the maximum numeric value of a field across the
// collection, used by the $increment default.
func (s *Store) MaxNumeric(name, field string) (float64, bool) {
	c := s.coll(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maxNumeric(c.records, field)
}

func maxNumeric(records []core.Record, field string) (float64, bool) {
	var max float64
	found := false
	for _, r := range records {
		if n, ok := asNumber(r[field]); ok {
			if !found || n > max {
				max = n
			}
			found = true
		}
	}
	return max, found
}

func indexOf(records []core.Record, id interface{}, primaryKey string) int {
	for i, r := range records {
		if core.KeysEqual(r[primaryKey], id) {
			return i
		}
	}
	return -1
}

// nextID picks the next integer strictly greater than the maximum existing
// integer key, or 1 if there is none.
func nextID(records []core.Record, primaryKey string) float64 {
	var max float64
	for _, r := range records {
		if n, ok := asNumber(r[primaryKey]); ok && n == float64(int64(n)) && n > max {
			max = n
		}
	}
	return max + 1
}

func asNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
