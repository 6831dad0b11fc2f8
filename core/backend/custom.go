package backend

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/pretendo-dev/pretendo/core/access"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/logger"
	"github.com/pretendo-dev/pretendo/core/script"
)

// registerCustomRoute installs one operator-declared route. Path
// parameters use the :name convention and are rewritten to mux {name}
// placeholders.
func (b *Backend) registerCustomRoute(route config.CustomRoute) {
	path := rewritePathParams(route.Path)
	handler := b.customRouteHandler(route)
	b.router.HandleFunc(path, handler).Methods(route.Method)
}

// rewritePathParams converts :name path segments into {name}.
func rewritePathParams(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if strings.HasPrefix(s, ":") && len(s) > 1 {
			segments[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segments, "/")
}

func (b *Backend) customRouteHandler(route config.CustomRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if route.Auth != nil && route.Auth.Enabled {
			auth := access.AuthorizationFromContext(r.Context())
			if err := access.RequireRoles(route.Auth.Roles, auth); err != nil {
				apierror.Write(w, err)
				return
			}
		}
		switch route.Type {
		case "script":
			b.serveScriptRoute(w, r, route)
		default:
			b.serveJSONRoute(w, r, route)
		}
	}
}

func (b *Backend) serveJSONRoute(w http.ResponseWriter, r *http.Request, route config.CustomRoute) {
	body, err := script.RenderTemplate(route.Response, mux.Vars(r))
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) serveScriptRoute(w http.ResponseWriter, r *http.Request, route config.CustomRoute) {
	var reqBody interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&reqBody)
	}
	env := script.Env{
		Request: &script.Request{
			Method:  r.Method,
			Path:    r.URL.Path,
			Params:  mux.Vars(r),
			Query:   r.URL.Query(),
			Headers: r.Header,
			Body:    reqBody,
		},
		Response: &script.Response{},
		Console:  &script.Console{Logger: logger.FromContext(r.Context())},
		DB:       &script.ServiceDB{Service: b.db},
	}
	if err := b.runtime.Execute(route.Script, env); err != nil {
		apierror.Write(w, err)
		return
	}
	for key, value := range env.Response.Headers {
		w.Header().Set(key, value)
	}
	status := env.Response.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if !env.Response.Sent() {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, env.Response.Body)
}
