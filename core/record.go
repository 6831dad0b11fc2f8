package core

// Record is a single row in a collection: an unordered mapping from field
// name to JSON value. Records handed out by the store are always deep
// copies, no caller may ever hold a reference into the collection.
type Record map[string]interface{}

// DeepCopy returns a copy of the record that shares no mutable state
// with the original.
func (r Record) DeepCopy() Record {
	if r == nil {
		return nil
	}
	return deepCopyMap(r)
}

// DeepCopyValue copies an arbitrary decoded JSON value.
func DeepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return map[string]interface{}(deepCopyMap(t))
	case Record:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = DeepCopyValue(e)
		}
		return out
	default:
		// scalars are immutable
		return v
	}
}

// DeepCopyDataset copies a complete collection map, as held by the store
// and the persistence adapters.
func DeepCopyDataset(data map[string][]Record) map[string][]Record {
	if data == nil {
		return nil
	}
	out := make(map[string][]Record, len(data))
	for name, records := range data {
		copied := make([]Record, len(records))
		for i, r := range records {
			copied[i] = r.DeepCopy()
		}
		out[name] = copied
	}
	return out
}

func deepCopyMap(m map[string]interface{}) Record {
	out := make(Record, len(m))
	for k, v := range m {
		out[k] = DeepCopyValue(v)
	}
	return out
}

// ShallowMerge merges the top-level keys of delta into base and returns base.
func (r Record) ShallowMerge(delta Record) Record {
	for k, v := range delta {
		r[k] = DeepCopyValue(v)
	}
	return r
}
