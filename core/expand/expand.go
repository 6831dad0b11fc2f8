/*Package expand substitutes related records in place of foreign-key values.

Paths are comma-separated dotted segments, e.g. "author.profile". Each
segment resolves against the relationship list of the current resource and
attaches the related record (belongsTo, hasOne) or record list (hasMany,
manyToMany) under the segment name. Circular expansion is bounded by depth,
not cycle detection.
*/
package expand

import (
	"strings"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/query"
	"github.com/pretendo-dev/pretendo/core/store"
)

// DefaultMaxDepth bounds expansion paths.
const DefaultMaxDepth = 3

// Expander resolves expansion paths against the configured relationships.
type Expander struct {
	cfg      *config.Document
	store    *store.Store
	MaxDepth int
}

// New creates an expander with the default max depth.
func New(cfg *config.Document, s *store.Store) *Expander {
	return &Expander{cfg: cfg, store: s, MaxDepth: DefaultMaxDepth}
}

// Expand resolves every path on every record, in place. Records must
// already be copies owned by the caller.
func (e *Expander) Expand(resource string, records []core.Record, paths []string) error {
	for _, path := range paths {
		segments := strings.Split(path, ".")
		if len(segments) > e.MaxDepth {
			return apierror.New(apierror.KindExpansionDepth, "expansion path %q exceeds maximum depth %d", path, e.MaxDepth)
		}
		for _, record := range records {
			if err := e.expandOne(resource, record, segments); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Expander) expandOne(resource string, record core.Record, segments []string) error {
	if len(segments) == 0 {
		return nil
	}
	res, ok := e.cfg.Resource(resource)
	if !ok {
		return apierror.New(apierror.KindBadRequest, "cannot expand unknown resource %q", resource)
	}
	segment := segments[0]
	var rel *config.Relationship
	for i := range res.Relationships {
		if res.Relationships[i].AttachName() == segment {
			rel = &res.Relationships[i]
			break
		}
	}
	if rel == nil {
		return apierror.New(apierror.KindBadRequest, "resource %q has no relationship %q", resource, segment)
	}

	targetPK := e.cfg.PrimaryKey(rel.Resource)
	switch rel.Type {
	case config.RelBelongsTo:
		key := targetPK
		if rel.TargetKey != "" {
			key = rel.TargetKey
		}
		fkValue, ok := record[rel.ForeignKey]
		if !ok || fkValue == nil {
			record[segment] = nil
			return nil
		}
		related, _ := e.store.Query(rel.Resource, query.Options{
			Filters: []query.Filter{{Field: key, Op: query.OpEq, Value: fkValue}},
			Page:    1, PerPage: 1,
		}, 1)
		if len(related) == 0 {
			record[segment] = nil
			return nil
		}
		record[segment] = map[string]interface{}(related[0])
		return e.expandOne(rel.Resource, related[0], segments[1:])

	case config.RelHasOne, config.RelHasMany:
		id := record[e.cfg.PrimaryKey(resource)]
		related, _ := e.store.FindRelated(resource, id, rel.Resource, rel.ForeignKey, query.Options{Page: 1, PerPage: allRecords}, allRecords)
		if rel.Type == config.RelHasOne {
			if len(related) == 0 {
				record[segment] = nil
				return nil
			}
			record[segment] = map[string]interface{}(related[0])
			return e.expandOne(rel.Resource, related[0], segments[1:])
		}
		list := make([]interface{}, len(related))
		for i, r := range related {
			list[i] = map[string]interface{}(r)
			if err := e.expandOne(rel.Resource, r, segments[1:]); err != nil {
				return err
			}
		}
		record[segment] = list
		return nil

	case config.RelManyToMany:
		id := record[e.cfg.PrimaryKey(resource)]
		joins, _ := e.store.FindRelated(resource, id, rel.Through, rel.ForeignKey, query.Options{Page: 1, PerPage: allRecords}, allRecords)
		targetKey := rel.TargetKey
		if targetKey == "" {
			targetKey = rel.Resource + "Id"
		}
		var list []interface{}
		for _, join := range joins {
			targetID, ok := join[targetKey]
			if !ok || targetID == nil {
				continue
			}
			if target, ok := e.store.Get(rel.Resource, targetID, targetPK); ok {
				list = append(list, map[string]interface{}(target))
				if err := e.expandOne(rel.Resource, target, segments[1:]); err != nil {
					return err
				}
			}
		}
		if list == nil {
			list = []interface{}{}
		}
		record[segment] = list
		return nil
	}
	return apierror.New(apierror.KindBadRequest, "unknown relationship type %q", rel.Type)
}

// allRecords is a page size large enough to cover any collection in a mock
// server.
const allRecords = 1 << 30
