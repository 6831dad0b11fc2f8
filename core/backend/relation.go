package backend

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/query"
)

// relatedListHandler serves GET /<name>/{id}/<related> for hasMany, hasOne
// and manyToMany relationships.
func (b *Backend) relatedListHandler(name string, rel config.Relationship) http.HandlerFunc {
	attach := rel.AttachName()
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		handle, err := b.db.Resource(name)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		if _, err := handle.FindByID(id, nil); err != nil {
			apierror.Write(w, err)
			return
		}
		switch rel.Type {
		case config.RelHasMany:
			opt, err := query.ParseValues(r.URL.Query(), b.cfg.Options.DefaultPageSize)
			if err != nil {
				apierror.Write(w, err)
				return
			}
			records, total, err := handle.FindRelated(id, rel.Resource, rel.ForeignKey, opt)
			if err != nil {
				apierror.Write(w, err)
				return
			}
			b.writeListResponse(w, r, records, total, opt)
		case config.RelHasOne:
			records, _, err := handle.FindRelated(id, rel.Resource, rel.ForeignKey, query.Options{Page: 1, PerPage: 1})
			if err != nil {
				apierror.Write(w, err)
				return
			}
			if len(records) == 0 {
				apierror.Write(w, apierror.New(apierror.KindNotFound, "%s has no %s", name, attach))
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"data": records[0]})
		default: // manyToMany, resolved through the join collection
			record, err := handle.FindByID(id, []string{attach})
			if err != nil {
				apierror.Write(w, err)
				return
			}
			related := []core.Record{}
			if generic, ok := record[attach].([]interface{}); ok {
				for _, e := range generic {
					if m, ok := e.(map[string]interface{}); ok {
						related = append(related, core.Record(m))
					}
				}
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"data": related})
		}
	}
}

// relatedParentHandler serves GET /<name>/{id}/<related> for belongsTo
// relationships, returning the parent record.
func (b *Backend) relatedParentHandler(name string, rel config.Relationship) http.HandlerFunc {
	attach := rel.AttachName()
	return func(w http.ResponseWriter, r *http.Request) {
		handle, err := b.db.Resource(name)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		record, err := handle.FindByID(mux.Vars(r)["id"], []string{attach})
		if err != nil {
			apierror.Write(w, err)
			return
		}
		parent, ok := record[attach].(map[string]interface{})
		if !ok {
			apierror.Write(w, apierror.New(apierror.KindNotFound, "%s has no %s", name, attach))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": parent})
	}
}
