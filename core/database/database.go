/*Package database wires store, persistence adapter and relationship
expander into one service and hands out per-resource operation handles.

Resource dispatch is config-driven: the resource name travels as data and
resolves via a map lookup per call, there are no per-resource closures.
*/
package database

import (
	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/expand"
	"github.com/pretendo-dev/pretendo/core/logger"
	"github.com/pretendo-dev/pretendo/core/notify"
	"github.com/pretendo-dev/pretendo/core/persist"
	"github.com/pretendo-dev/pretendo/core/query"
	"github.com/pretendo-dev/pretendo/core/store"
)

// Service is the database façade.
type Service struct {
	cfg      *config.Document
	store    *store.Store
	adapter  persist.Adapter
	expander *expand.Expander
	notifier notify.Notifier
	schemas  map[string]*gojsonschema.Schema
	strict   bool
}

// New creates the service. The adapter is mandatory; the notifier is
// optional.
func New(cfg *config.Document, adapter persist.Adapter, notifier notify.Notifier) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		store:    store.New(),
		adapter:  adapter,
		notifier: notifier,
		schemas:  map[string]*gojsonschema.Schema{},
		strict:   cfg.Options.Database.StrictValidation,
	}
	s.expander = expand.New(cfg, s.store)
	for _, r := range cfg.Resources {
		if r.Schema == nil {
			continue
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(r.Schema))
		if err != nil {
			return nil, apierror.Wrap(apierror.KindConfigInvalid, err, "cannot compile schema for resource %q", r.Name)
		}
		s.schemas[r.Name] = schema
	}
	return s, nil
}

// Initialize loads the persisted dataset into the store. Empty storage
// falls back to the seed data, which is persisted right away. Seed records
// get the same special-field treatment as created ones.
func (s *Service) Initialize() error {
	seed := s.cfg.SeedData()
	for _, res := range s.cfg.Resources {
		for _, r := range seed[res.Name] {
			store.ApplyHashes(r, res.Fields)
		}
	}
	if err := s.adapter.Initialize(seed); err != nil {
		return err
	}
	data, err := s.adapter.Load()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		data = seed
		if err := s.adapter.Save(data); err != nil {
			return err
		}
	}
	s.store.Reset(data)
	return nil
}

// Store exposes the underlying store (read paths of middleware, e.g.
// ownership resolution).
func (s *Service) Store() *store.Store { return s.store }

// Config returns the configuration document.
func (s *Service) Config() *config.Document { return s.cfg }

// Resource returns an operation handle for the named resource.
func (s *Service) Resource(name string) (*Handle, error) {
	res, ok := s.cfg.Resource(name)
	if !ok {
		return nil, apierror.New(apierror.KindNotFound, "no such resource %q", name)
	}
	return &Handle{service: s, res: res}, nil
}

// save persists the current store state after a successful mutation. Save
// failures are logged, they never fail the mutation that already happened.
func (s *Service) save() {
	if err := s.adapter.Save(s.store.Snapshot()); err != nil {
		logger.Default().WithError(err).Error("cannot persist dataset")
	}
}

func (s *Service) notifyMutation(resource string, op core.Action, id interface{}, payload interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(notify.Notification{Resource: resource, Operation: op, ID: id, Payload: payload})
}

// validateSchema runs the optional JSON-Schema validation when strict
// validation is configured.
func (s *Service) validateSchema(name string, record core.Record) error {
	if !s.strict {
		return nil
	}
	schema, ok := s.schemas[name]
	if !ok {
		return nil
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return apierror.Wrap(apierror.KindInternal, err, "cannot serialize record")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return apierror.Wrap(apierror.KindValidation, err, "schema validation failed")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return apierror.New(apierror.KindValidation, "document does not follow the resource schema").
			WithCode("schema_violation").WithDetails(details)
	}
	return nil
}

// Reset replaces the whole dataset and persists it. A nil dataset resets
// to the configured seed data.
func (s *Service) Reset(data map[string][]core.Record) error {
	if data == nil {
		data = s.cfg.SeedData()
		for _, res := range s.cfg.Resources {
			for _, r := range data[res.Name] {
				store.ApplyHashes(r, res.Fields)
			}
		}
	}
	s.store.Reset(data)
	if err := s.adapter.Save(s.store.Snapshot()); err != nil {
		return err
	}
	return nil
}

// Backup snapshots the persisted state and returns the backup id.
func (s *Service) Backup(label string) (string, error) {
	if err := s.adapter.Save(s.store.Snapshot()); err != nil {
		return "", err
	}
	return s.adapter.Backup(label)
}

// Restore replaces the state with the identified backup.
func (s *Service) Restore(id string) error {
	data, err := s.adapter.Restore(id)
	if err != nil {
		return err
	}
	s.store.Reset(data)
	return nil
}

// Stats reports per-collection persistence statistics.
func (s *Service) Stats() map[string]persist.Stats {
	return s.adapter.GetStats()
}

// Close flushes and closes the adapter.
func (s *Service) Close() error {
	if err := s.adapter.Save(s.store.Snapshot()); err != nil {
		logger.Default().WithError(err).Error("cannot persist dataset on close")
	}
	return s.adapter.Close()
}

// Handle is the per-resource operation handle.
type Handle struct {
	service *Service
	res     *config.Resource
}

// Name returns the resource name.
func (h *Handle) Name() string { return h.res.Name }

// PrimaryKey returns the resource primary key field.
func (h *Handle) PrimaryKey() string { return h.res.PrimaryKey }

// FindAll runs a full list query and expands the requested paths. It
// returns the page and the total match count.
func (h *Handle) FindAll(opt query.Options) ([]core.Record, int, error) {
	maxPerPage := h.service.cfg.Options.MaxPageSize
	records, total := h.service.store.Query(h.res.Name, opt, maxPerPage)
	if len(opt.Expand) > 0 {
		if err := h.service.expander.Expand(h.res.Name, records, opt.Expand); err != nil {
			return nil, 0, err
		}
	}
	return records, total, nil
}

// FindByID returns the record, expanded along the given paths.
func (h *Handle) FindByID(id interface{}, expandPaths []string) (core.Record, error) {
	record, ok := h.service.store.Get(h.res.Name, id, h.res.PrimaryKey)
	if !ok {
		return nil, apierror.New(apierror.KindNotFound, "no such %s", h.res.Name)
	}
	if len(expandPaths) > 0 {
		if err := h.service.expander.Expand(h.res.Name, []core.Record{record}, expandPaths); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// FindOne returns the first record matching all fields of the query object.
func (h *Handle) FindOne(queryObj map[string]interface{}) (core.Record, error) {
	filters := make([]query.Filter, 0, len(queryObj))
	for k, v := range queryObj {
		filters = append(filters, query.Filter{Field: k, Op: query.OpEq, Value: v})
	}
	records, _ := h.service.store.Query(h.res.Name, query.Options{Filters: filters, Page: 1, PerPage: 1}, 1)
	if len(records) == 0 {
		return nil, apierror.New(apierror.KindNotFound, "no such %s", h.res.Name)
	}
	return records[0], nil
}

// Create inserts a record: special-field defaults, hashing, schema and
// field validation, persistence and notification.
func (h *Handle) Create(record core.Record, subjectID interface{}) (core.Record, error) {
	record = record.DeepCopy()
	h.service.store.ApplyDefaults(h.res.Name, record, h.res.Fields, store.ModeCreate, subjectID)
	store.ApplyHashes(record, h.res.Fields)
	if err := h.service.validateSchema(h.res.Name, record); err != nil {
		return nil, err
	}
	created, err := h.service.store.Add(h.res.Name, record, h.res.PrimaryKey, h.res.Fields)
	if err != nil {
		return nil, err
	}
	h.service.save()
	h.service.notifyMutation(h.res.Name, core.ActionCreate, created[h.res.PrimaryKey], created)
	return created, nil
}

// Update replaces the record (merge false) or shallow-merges the delta
// (merge true). Replace preserves the primary key and nothing else;
// ownership fields must be resupplied in the body.
func (h *Handle) Update(id interface{}, record core.Record, merge bool) (core.Record, error) {
	record = record.DeepCopy()
	h.service.store.ApplyDefaults(h.res.Name, record, h.res.Fields, store.ModeUpdate, nil)
	store.ApplyHashes(record, h.res.Fields)
	// Schema validation runs against the would-be result before the store
	// commits anything, so a rejected update leaves the record untouched.
	current, ok := h.service.store.Get(h.res.Name, id, h.res.PrimaryKey)
	if !ok {
		return nil, apierror.New(apierror.KindNotFound, "no such %s", h.res.Name)
	}
	candidate := record
	if merge {
		candidate = current
		for k, v := range record {
			candidate[k] = v
		}
	} else {
		candidate[h.res.PrimaryKey] = current[h.res.PrimaryKey]
	}
	if serr := h.service.validateSchema(h.res.Name, candidate); serr != nil {
		return nil, serr
	}
	updated, found, err := h.service.store.Update(h.res.Name, id, record, h.res.PrimaryKey, merge, h.res.Fields)
	if !found {
		return nil, apierror.New(apierror.KindNotFound, "no such %s", h.res.Name)
	}
	if err != nil {
		return nil, err
	}
	h.service.save()
	h.service.notifyMutation(h.res.Name, core.ActionUpdate, updated[h.res.PrimaryKey], updated)
	return updated, nil
}

// Patch is Update with merge semantics.
func (h *Handle) Patch(id interface{}, delta core.Record) (core.Record, error) {
	return h.Update(id, delta, true)
}

// Delete removes the record and cascades into hasMany/hasOne targets,
// single level. A missing record returns false.
func (h *Handle) Delete(id interface{}) bool {
	var cascade []store.CascadeTarget
	for _, t := range h.service.cfg.CascadeTargets(h.res.Name) {
		cascade = append(cascade, store.CascadeTarget{Collection: t[0], ForeignKey: t[1]})
	}
	deleted := h.service.store.Delete(h.res.Name, id, h.res.PrimaryKey, cascade)
	if deleted {
		h.service.save()
		h.service.notifyMutation(h.res.Name, core.ActionDelete, id, nil)
	}
	return deleted
}

// FindRelated returns records of the related collection whose foreign key
// equals the given id.
func (h *Handle) FindRelated(id interface{}, related, foreignKey string, opt query.Options) ([]core.Record, int, error) {
	maxPerPage := h.service.cfg.Options.MaxPageSize
	records, total := h.service.store.FindRelated(h.res.Name, id, related, foreignKey, opt, maxPerPage)
	if len(opt.Expand) > 0 {
		if err := h.service.expander.Expand(related, records, opt.Expand); err != nil {
			return nil, 0, err
		}
	}
	return records, total, nil
}

// Relationship resolves a declared relationship by attach name.
func (h *Handle) Relationship(name string) (*config.Relationship, bool) {
	for i := range h.res.Relationships {
		if h.res.Relationships[i].AttachName() == name {
			return &h.res.Relationships[i], true
		}
	}
	return nil, false
}
