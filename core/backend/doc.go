package backend

import (
	"net/http"

	"github.com/pretendo-dev/pretendo/core/access"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/openapi"
)

// docsHandler serves the OpenAPI description, JSON by default and YAML on
// request.
func (b *Backend) docsHandler(w http.ResponseWriter, r *http.Request) {
	if b.cfg.Options.Docs.RequireAuth {
		if access.AuthorizationFromContext(r.Context()) == nil {
			apierror.Write(w, apierror.New(apierror.KindUnauthorized, "authentication required").WithCode("authentication_required"))
			return
		}
	}
	doc := openapi.Generate(b.cfg)
	if r.URL.Query().Get("format") == "yaml" {
		out, err := openapi.MarshalYAML(doc)
		if err != nil {
			apierror.Write(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
