/*Package query implements the pure record transforms of list endpoints:
filtering, stable multi-key sorting, pagination and field projection, plus
the parser for the bracketed query-string grammar.
*/
package query

import (
	"sort"
	"strings"

	"github.com/pretendo-dev/pretendo/core"
)

// Op is a filter operator.
type Op string

// all filter operators
const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpIn         Op = "in"
	OpNin        Op = "nin"
	OpContains   Op = "contains"
	OpStartsWith Op = "startsWith"
	OpEndsWith   Op = "endsWith"
)

var validOps = map[Op]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNin: true, OpContains: true, OpStartsWith: true, OpEndsWith: true,
}

// Filter matches one field of a record against a value.
type Filter struct {
	Field           string
	Op              Op
	Value           interface{}
	CaseInsensitive bool
}

// SortKey orders records by one field.
type SortKey struct {
	Field string
	Desc  bool
}

// Options is a complete set of list-query options.
type Options struct {
	Filters []Filter
	Sort    []SortKey
	Page    int
	PerPage int
	Fields  []string
	Expand  []string
}

// Apply runs filters, sort, pagination and projection over a record
// sequence. Pagination is 1-based; perPage below 1 clamps to 1 and above
// maxPerPage clamps to maxPerPage (when maxPerPage > 0). It returns the
// page and the total match count before pagination.
func Apply(records []core.Record, opt Options, maxPerPage int) ([]core.Record, int) {
	matched := records
	if len(opt.Filters) > 0 {
		matched = make([]core.Record, 0, len(records))
		for _, r := range records {
			if MatchAll(r, opt.Filters) {
				matched = append(matched, r)
			}
		}
	}
	if len(opt.Sort) > 0 {
		sorted := make([]core.Record, len(matched))
		copy(sorted, matched)
		Sort(sorted, opt.Sort)
		matched = sorted
	}
	total := len(matched)

	page, perPage := Clamp(opt.Page, opt.PerPage, maxPerPage)
	start := (page - 1) * perPage
	end := start + perPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	pageRecords := matched[start:end]

	if len(opt.Fields) > 0 {
		projected := make([]core.Record, len(pageRecords))
		for i, r := range pageRecords {
			projected[i] = Project(r, opt.Fields)
		}
		pageRecords = projected
	}
	return pageRecords, total
}

// Clamp normalizes page and perPage to the documented bounds.
func Clamp(page, perPage, maxPerPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	if maxPerPage > 0 && perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

// MatchAll reports whether the record satisfies every filter (AND).
func MatchAll(r core.Record, filters []Filter) bool {
	for _, f := range filters {
		if !Match(r, f) {
			return false
		}
	}
	return true
}

// Match evaluates one filter against a record.
//
// A null or absent record value matches neither eq nor in; it matches ne
// and nin. Numeric operators require both sides numeric, the string
// operators require both sides string; mismatches evaluate to false.
func Match(r core.Record, f Filter) bool {
	value, ok := r[f.Field]
	if !ok || value == nil {
		switch f.Op {
		case OpNe, OpNin:
			return true
		default:
			return false
		}
	}
	want := f.Value
	if f.CaseInsensitive {
		value = lowerValue(value)
		want = lowerValue(want)
	}

	switch f.Op {
	case OpEq:
		return looseEqual(value, want)
	case OpNe:
		return !looseEqual(value, want)
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toNumber(value)
		b, bok := toNumber(want)
		if !aok || !bok {
			return false
		}
		switch f.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn, OpNin:
		list, ok := want.([]interface{})
		if !ok {
			list = []interface{}{want}
		}
		found := false
		for _, candidate := range list {
			if looseEqual(value, candidate) {
				found = true
				break
			}
		}
		if f.Op == OpIn {
			return found
		}
		return !found
	case OpContains, OpStartsWith, OpEndsWith:
		s, sok := value.(string)
		sub, subok := want.(string)
		if !sok || !subok {
			return false
		}
		switch f.Op {
		case OpContains:
			return strings.Contains(s, sub)
		case OpStartsWith:
			return strings.HasPrefix(s, sub)
		default:
			return strings.HasSuffix(s, sub)
		}
	}
	return false
}

// looseEqual compares two values; numbers compare numerically regardless of
// concrete type, and a numeric string compares equal to the number it
// denotes, the same loose equality used for record keys.
func looseEqual(a, b interface{}) bool {
	if an, aok := toNumber(a); aok {
		if bn, bok := toNumber(b); bok {
			return an == bn
		}
	}
	return core.NormalizeKey(a) == core.NormalizeKey(b)
}

func toNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// lowerValue lowercases strings; arrays receive element-wise lowercasing.
func lowerValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return strings.ToLower(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = lowerValue(e)
		}
		return out
	}
	return v
}

// Sort sorts records in place, stable across multiple keys. Records with a
// null or absent key sort before values ascending and after them
// descending.
func Sort(records []core.Record, keys []SortKey) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, key := range keys {
			c := compareField(records[i], records[j], key.Field)
			if c == 0 {
				continue
			}
			if key.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareField orders two records by one field; null/absent counts as the
// smallest value.
func compareField(a, b core.Record, field string) int {
	av, aok := a[field]
	bv, bok := b[field]
	aNull := !aok || av == nil
	bNull := !bok || bv == nil
	if aNull && bNull {
		return 0
	}
	if aNull {
		return -1
	}
	if bNull {
		return 1
	}
	if an, ok := toNumber(av); ok {
		if bn, ok := toNumber(bv); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := stringify(av), stringify(bv)
	return strings.Compare(as, bs)
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return core.NormalizeKey(v)
}

// Project keeps only the listed top-level fields of the record. Nested
// expanded objects are never stripped.
func Project(r core.Record, fields []string) core.Record {
	out := make(core.Record, len(fields))
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}
