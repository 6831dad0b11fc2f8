package backend

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/logger"
)

func (b *Backend) registerAdminRoutes() {
	b.router.HandleFunc("/__reset", b.resetHandler).Methods(http.MethodPost)
	b.router.HandleFunc("/__backup", b.backupHandler).Methods(http.MethodPost)
	b.router.HandleFunc("/__restore", b.restoreHandler).Methods(http.MethodPost)
	b.router.HandleFunc("/__logs", b.logsHandler).Methods(http.MethodGet)
	b.router.HandleFunc("/__stats", b.statsHandler).Methods(http.MethodGet)
}

// resetHandler restores the seed dataset. An optional JSON body of the
// form {"data": {collection: [records]}} resets to that dataset instead.
func (b *Backend) resetHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data map[string][]core.Record `json:"data"`
	}
	if r.Body != nil {
		// an empty or absent body means seed data
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if err := b.db.Reset(body.Data); err != nil {
		apierror.Write(w, err)
		return
	}
	logger.FromContext(r.Context()).Info("dataset reset")
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "message": "dataset reset"})
}

func (b *Backend) backupHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label string `json:"label"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	id, err := b.db.Backup(body.Label)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	logger.FromContext(r.Context()).Infof("backup created: %s", id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

func (b *Backend) restoreHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.ID == "" {
		apierror.Write(w, apierror.New(apierror.KindBadRequest, "restore needs a backup id").WithCode("missing_backup_id"))
		return
	}
	if err := b.db.Restore(body.ID); err != nil {
		apierror.Write(w, err)
		return
	}
	logger.FromContext(r.Context()).Infof("backup restored: %s", body.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": body.ID})
}

func (b *Backend) logsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Method:      q.Get("method"),
		URLContains: q.Get("url"),
		StatusClass: q.Get("class"),
	}
	if s := q.Get("status"); s != "" {
		status, err := strconv.Atoi(s)
		if err != nil {
			apierror.Write(w, apierror.New(apierror.KindBadRequest, "status must be numeric"))
			return
		}
		filter.Status = status
	}
	entries := b.logs.Entries(filter)
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": entries, "total": len(entries)})
}

func (b *Backend) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": b.db.Stats()})
}
