package script

import (
	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/database"
	"github.com/pretendo-dev/pretendo/core/query"
)

// ServiceDB exposes the database service to snippets.
type ServiceDB struct {
	Service *database.Service
}

var _ DB = &ServiceDB{}

// GetResourceById returns one record.
func (d *ServiceDB) GetResourceById(resource string, id interface{}) (core.Record, error) {
	h, err := d.Service.Resource(resource)
	if err != nil {
		return nil, err
	}
	return h.FindByID(id, nil)
}

// GetResources returns all records of a collection.
func (d *ServiceDB) GetResources(resource string) ([]core.Record, error) {
	h, err := d.Service.Resource(resource)
	if err != nil {
		return nil, err
	}
	records, _, err := h.FindAll(query.Options{Page: 1, PerPage: d.Service.Config().Options.MaxPageSize})
	return records, err
}

// CreateResource inserts a record.
func (d *ServiceDB) CreateResource(resource string, data map[string]interface{}) (core.Record, error) {
	h, err := d.Service.Resource(resource)
	if err != nil {
		return nil, err
	}
	return h.Create(core.Record(data), nil)
}

// UpdateResource merges a delta into a record.
func (d *ServiceDB) UpdateResource(resource string, id interface{}, data map[string]interface{}) (core.Record, error) {
	h, err := d.Service.Resource(resource)
	if err != nil {
		return nil, err
	}
	return h.Patch(id, core.Record(data))
}

// DeleteResource removes a record.
func (d *ServiceDB) DeleteResource(resource string, id interface{}) error {
	h, err := d.Service.Resource(resource)
	if err != nil {
		return err
	}
	if !h.Delete(id) {
		return apierror.New(apierror.KindNotFound, "no such %s", resource)
	}
	return nil
}

// GetRelatedResources returns the records of a declared relationship.
func (d *ServiceDB) GetRelatedResources(resource string, id interface{}, related string) ([]core.Record, error) {
	h, err := d.Service.Resource(resource)
	if err != nil {
		return nil, err
	}
	rel, ok := h.Relationship(related)
	if !ok {
		return nil, apierror.New(apierror.KindNotFound, "%s has no relationship %q", resource, related)
	}
	records, _, err := h.FindRelated(id, rel.Resource, rel.ForeignKey, query.Options{Page: 1, PerPage: d.Service.Config().Options.MaxPageSize})
	return records, err
}
