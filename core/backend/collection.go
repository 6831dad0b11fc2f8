package backend

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/access"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/query"
)

func (b *Backend) registerResourceRoutes(res *config.Resource) {
	name := res.Name
	collection := "/" + name
	item := collection + "/{id}"

	b.router.HandleFunc(collection, b.listHandler(name)).Methods(http.MethodGet)
	b.router.HandleFunc(collection, b.createHandler(name)).Methods(http.MethodPost)
	b.router.HandleFunc(item, b.getHandler(name)).Methods(http.MethodGet)
	b.router.HandleFunc(item, b.updateHandler(name, false)).Methods(http.MethodPut)
	b.router.HandleFunc(item, b.updateHandler(name, true)).Methods(http.MethodPatch)
	b.router.HandleFunc(item, b.deleteHandler(name)).Methods(http.MethodDelete)

	for _, rel := range res.Relationships {
		switch rel.Type {
		case config.RelHasMany, config.RelHasOne, config.RelManyToMany:
			b.router.HandleFunc(item+"/"+rel.AttachName(), b.relatedListHandler(name, rel)).Methods(http.MethodGet)
		case config.RelBelongsTo:
			b.router.HandleFunc(item+"/"+rel.AttachName(), b.relatedParentHandler(name, rel)).Methods(http.MethodGet)
		}
	}
}

func (b *Backend) listHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opt, err := query.ParseValues(r.URL.Query(), b.cfg.Options.DefaultPageSize)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		handle, err := b.db.Resource(name)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		records, total, err := handle.FindAll(opt)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		b.writeListResponse(w, r, records, total, opt)
	}
}

// writeListResponse emits the collection envelope plus the Link and
// X-Total-Count headers.
func (b *Backend) writeListResponse(w http.ResponseWriter, r *http.Request, records []core.Record, total int, opt query.Options) {
	page, perPage := query.Clamp(opt.Page, opt.PerPage, b.cfg.Options.MaxPageSize)
	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	links := paginationLinks(r.URL, page, totalPages)

	if rels := linkHeader(links); rels != "" {
		w.Header().Set("Link", rels)
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))

	if records == nil {
		records = []core.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": records,
		"meta": map[string]interface{}{
			"pagination": map[string]interface{}{
				"currentPage": page,
				"perPage":     perPage,
				"totalPages":  totalPages,
				"totalItems":  total,
				"links":       links,
			},
		},
	})
}

func paginationLinks(u *url.URL, page, totalPages int) map[string]string {
	withPage := func(p int) string {
		values := u.Query()
		values.Set("page", strconv.Itoa(p))
		return u.Path + "?" + values.Encode()
	}
	links := map[string]string{
		"first": withPage(1),
		"last":  withPage(totalPages),
	}
	if page > 1 {
		links["prev"] = withPage(page - 1)
	}
	if page < totalPages {
		links["next"] = withPage(page + 1)
	}
	return links
}

func linkHeader(links map[string]string) string {
	var parts []string
	for _, rel := range []string{"first", "prev", "next", "last"} {
		if target, ok := links[rel]; ok {
			parts = append(parts, fmt.Sprintf("<%s>; rel=%q", target, rel))
		}
	}
	return strings.Join(parts, ", ")
}

func (b *Backend) getHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle, err := b.db.Resource(name)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		record, err := handle.FindByID(mux.Vars(r)["id"], expandPaths(r))
		if err != nil {
			apierror.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": record})
	}
}

func expandPaths(r *http.Request) []string {
	raw := r.URL.Query().Get("expand")
	if raw == "" {
		return nil
	}
	var paths []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// readBody decodes the request body into a record. Only JSON objects are
// accepted.
func readBody(r *http.Request) (core.Record, error) {
	var record core.Record
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&record); err != nil {
		return nil, apierror.Wrap(apierror.KindBadRequest, err, "request body is not a JSON object").WithCode("invalid_body")
	}
	return record, nil
}

func (b *Backend) createHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := readBody(r)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		handle, err := b.db.Resource(name)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		var subjectID interface{}
		if auth := access.AuthorizationFromContext(r.Context()); auth != nil {
			subjectID = auth.UserID
		}
		created, err := handle.Create(record, subjectID)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"data": created})
	}
}

func (b *Backend) updateHandler(name string, merge bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := readBody(r)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		handle, err := b.db.Resource(name)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		updated, err := handle.Update(mux.Vars(r)["id"], record, merge)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": updated})
	}
}

func (b *Backend) deleteHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle, err := b.db.Resource(name)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		if !handle.Delete(mux.Vars(r)["id"]) {
			apierror.Write(w, apierror.New(apierror.KindNotFound, "no such %s", name))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
