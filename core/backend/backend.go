/*Package backend synthesizes the HTTP service from a configuration
document.

The builder wires the database service, the middleware pipeline and the
route set into a mux router. Handlers are generated per configured
resource; admin, auth, docs and custom routes come on top.
*/
package backend

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/access"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/database"
	"github.com/pretendo-dev/pretendo/core/logger"
	"github.com/pretendo-dev/pretendo/core/notify"
	"github.com/pretendo-dev/pretendo/core/persist"
	"github.com/pretendo-dev/pretendo/core/script"
)

// Builder is the input to New.
type Builder struct {
	// Config is the parsed configuration document. Mandatory.
	Config *config.Document
	// Adapter overrides the persistence adapter selected by the
	// configuration. Optional.
	Adapter persist.Adapter
	// Notifier receives mutation notifications. Optional.
	Notifier notify.Notifier
	// ScriptRuntime overrides the sandbox for custom script routes.
	// Optional, defaults to the yaegi runtime.
	ScriptRuntime script.Runtime
	// Router is the router to add the routes to. Optional.
	Router *mux.Router
}

// Backend is the generated service.
type Backend struct {
	cfg     *config.Document
	db      *database.Service
	tokens  *access.TokenService
	router  *mux.Router
	logs    *LogBuffer
	runtime script.Runtime
}

// New realizes the backend from the builder. It initializes the
// persistence adapter and registers all routes.
func New(bb *Builder) (*Backend, error) {
	if bb.Config == nil {
		return nil, apierror.New(apierror.KindConfigInvalid, "builder lacks a configuration")
	}
	cfg := bb.Config

	adapter := bb.Adapter
	if adapter == nil {
		var err error
		adapter, err = buildAdapter(cfg)
		if err != nil {
			return nil, err
		}
	}

	db, err := database.New(cfg, adapter, bb.Notifier)
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		return nil, err
	}

	router := bb.Router
	if router == nil {
		router = mux.NewRouter()
	}

	runtime := bb.ScriptRuntime
	if runtime == nil {
		runtime = script.NewRuntime()
	}

	b := &Backend{
		cfg:     cfg,
		db:      db,
		router:  router,
		logs:    NewLogBuffer(cfg.Options.LogMaxEntries),
		runtime: runtime,
	}
	if cfg.Options.Auth.Enabled {
		ttl := time.Duration(cfg.Options.Auth.TokenTTL) * time.Second
		b.tokens = access.NewTokenService(ttl, b.lookupUser)
	}

	b.installMiddleware()
	b.registerRoutes()
	return b, nil
}

// buildAdapter selects the persistence adapter from the configuration.
func buildAdapter(cfg *config.Document) (persist.Adapter, error) {
	opt := cfg.Options.Database
	switch opt.Adapter {
	case "file":
		path := opt.DBPath
		if path == "" {
			path = cfg.Options.DBPath
		}
		if path == "" {
			return nil, apierror.New(apierror.KindConfigInvalid, "file adapter needs a dbPath")
		}
		fileOpts := persist.FileOptions{
			AutoSave:     cfg.AutoSaveEnabled(),
			SaveInterval: time.Duration(opt.SaveInterval) * time.Millisecond,
		}
		if opt.BackupBucket != "" {
			sink, err := persist.NewS3BackupSink(persist.S3Configuration{BucketName: opt.BackupBucket})
			if err != nil {
				return nil, err
			}
			fileOpts.Sink = sink
		}
		return persist.NewFileAdapter(path, fileOpts), nil
	case "postgres":
		return persist.NewPostgresAdapter(opt.ConnectionString, "")
	default:
		return persist.NewMemoryAdapter(), nil
	}
}

// Router returns the mux router with all routes and middleware installed.
// It can be served directly or used with the in-process client.
func (b *Backend) Router() *mux.Router { return b.router }

// DB returns the database service.
func (b *Backend) DB() *database.Service { return b.db }

// Logs returns the request log buffer.
func (b *Backend) Logs() *LogBuffer { return b.logs }

// Tokens returns the token service, nil when auth is disabled.
func (b *Backend) Tokens() *access.TokenService { return b.tokens }

// Close flushes and closes the persistence adapter.
func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) installMiddleware() {
	b.router.Use(recoveryMiddleware)
	logger.AddRequestID(b.router)
	b.router.Use(b.requestLogMiddleware)
	b.router.Use(poweredByMiddleware)
	var cors func(http.Handler) http.Handler
	if b.cfg.IsCORSEnabled() {
		cors = handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", b.cfg.Options.Auth.HeaderName}),
			handlers.ExposedHeaders([]string{"X-Total-Count", "Link"}),
			handlers.OptionStatusCode(http.StatusNoContent),
		)
		b.router.Use(cors)
	}
	if b.cfg.Options.Latency.Enabled {
		b.router.Use(latencyMiddleware(b.cfg.Options.Latency))
	}
	if b.cfg.Options.ErrorSimulation.Enabled {
		b.router.Use(errorSimulationMiddleware(b.cfg.Options.ErrorSimulation))
	}
	if b.cfg.Options.Auth.Enabled {
		b.router.Use(access.AuthenticationMiddleware(&b.cfg.Options.Auth, b.tokens))
	}
	b.router.Use(access.RBACMiddleware(b.cfg, b.fetchRecord))

	// Router middleware never runs for these two handlers, so the CORS
	// wrap is applied directly. Preflight requests for known paths land
	// in MethodNotAllowedHandler and get answered there.
	notFound := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierror.Write(w, apierror.New(apierror.KindNotFound, "no such route: %s", r.URL.Path))
	}))
	notAllowed := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))
	if cors != nil {
		notFound = cors(notFound)
		notAllowed = cors(notAllowed)
	}
	b.router.NotFoundHandler = b.withBaseMiddleware(notFound)
	b.router.MethodNotAllowedHandler = b.withBaseMiddleware(notAllowed)
}

// withBaseMiddleware applies recovery, request id and logging to handlers
// outside the normal route chain.
func (b *Backend) withBaseMiddleware(h http.Handler) http.Handler {
	wrapped := b.requestLogMiddleware(poweredByMiddleware(h))
	return recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := logger.ContextWithLogger(r.Context())
		wrapped.ServeHTTP(w, r.WithContext(ctx))
	}))
}

// fetchRecord resolves a record for ownership checks.
func (b *Backend) fetchRecord(resource string, id string) (core.Record, bool) {
	return b.db.Store().Get(resource, id, b.cfg.PrimaryKey(resource))
}

func (b *Backend) registerRoutes() {
	b.router.HandleFunc("/", b.rootHandler).Methods(http.MethodGet)
	b.router.HandleFunc("/authorization", access.WriteAuthorization).Methods(http.MethodGet)
	b.registerAdminRoutes()
	if b.cfg.Options.Auth.Enabled {
		b.registerAuthRoutes()
	}
	if b.cfg.DocsEnabled() {
		b.router.HandleFunc("/__docs", b.docsHandler).Methods(http.MethodGet)
	}
	// custom routes first so they take precedence over generated ones
	for _, route := range b.cfg.Routes {
		b.registerCustomRoute(route)
	}
	for i := range b.cfg.Resources {
		b.registerResourceRoutes(&b.cfg.Resources[i])
	}
}

// rootHandler answers with a short description of the generated API.
func (b *Backend) rootHandler(w http.ResponseWriter, r *http.Request) {
	resources := make([]string, 0, len(b.cfg.Resources))
	for _, res := range b.cfg.Resources {
		resources = append(resources, res.Name)
	}
	info := map[string]interface{}{
		"name":          b.cfg.Name,
		"resources":     resources,
		"documentation": "/__docs",
	}
	if b.cfg.Options.Auth.Enabled {
		info["login"] = b.cfg.Options.Auth.Endpoint
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	raw, err := json.Marshal(body)
	if err != nil {
		apierror.Write(w, apierror.Wrap(apierror.KindInternal, err, "cannot serialize response"))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]interface{}{
		"status":  status,
		"message": fmt.Sprintf(format, args...),
	})
	w.Write(body)
}
