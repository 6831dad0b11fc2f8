/*Package config holds the declarative configuration document.

One document describes everything the server synthesizes: resources with
their fields, relationships, access rules and ownership, global options,
seed data and custom routes. The YAML/CLI loading front-end is outside the
engine; Parse consumes the canonical JSON form.
*/
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
)

// field types accepted in a resource schema
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeDate    = "date"
	TypeUUID    = "uuid"
)

// relationship types
const (
	RelBelongsTo  = "belongsTo"
	RelHasOne     = "hasOne"
	RelHasMany    = "hasMany"
	RelManyToMany = "manyToMany"
)

// special default-value tokens
const (
	TokenNow       = "$now"
	TokenUUID      = "$uuid"
	TokenUserID    = "$userId"
	TokenIncrement = "$increment"
	TokenHash      = "$hash"
)

// reserved role tokens in access lists
const (
	RoleAny   = "*"
	RoleOwner = "owner"
)

// Document is a complete server configuration.
type Document struct {
	Name      string                   `json:"name,omitempty"`
	Resources []Resource               `json:"resources"`
	Options   Options                  `json:"options,omitempty"`
	Data      map[string][]core.Record `json:"data,omitempty"`
	Routes    []CustomRoute            `json:"routes,omitempty"`
}

// Resource describes one named collection of records.
type Resource struct {
	Name          string                   `json:"name"`
	PrimaryKey    string                   `json:"primaryKey,omitempty"` // default "id"
	Fields        []Field                  `json:"fields,omitempty"`
	Relationships []Relationship           `json:"relationships,omitempty"`
	Access        map[string][]string      `json:"access,omitempty"`
	OwnedBy       string                   `json:"ownedBy,omitempty"`
	Seed          []core.Record            `json:"seed,omitempty"`
	Schema        json.RawMessage          `json:"schema,omitempty"` // optional JSON Schema for strict validation
}

// Field is a single field rule set of a resource schema.
type Field struct {
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Required     bool          `json:"required,omitempty"`
	Unique       bool          `json:"unique,omitempty"`
	Min          *float64      `json:"min,omitempty"`
	Max          *float64      `json:"max,omitempty"`
	MinLength    *int          `json:"minLength,omitempty"`
	MaxLength    *int          `json:"maxLength,omitempty"`
	Pattern      string        `json:"pattern,omitempty"`
	Enum         []interface{} `json:"enum,omitempty"`
	DefaultValue interface{}   `json:"defaultValue,omitempty"`
}

// Relationship is a declared association between two resources.
// Name is the key expanded records are attached under; it defaults to the
// target resource name.
type Relationship struct {
	Name       string `json:"name,omitempty"`
	Type       string `json:"type"`
	Resource   string `json:"resource"`
	ForeignKey string `json:"foreignKey"`
	TargetKey  string `json:"targetKey,omitempty"`
	Through    string `json:"through,omitempty"`
}

// AttachName returns the field name an expansion of this relationship is
// attached under.
func (r Relationship) AttachName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Resource
}

// Options holds the global server options.
type Options struct {
	Port            int              `json:"port,omitempty"`
	Host            string           `json:"host,omitempty"`
	CORSEnabled     *bool            `json:"corsEnabled,omitempty"`
	DBPath          string           `json:"dbPath,omitempty"` // legacy, superseded by Database.DBPath
	Database        DatabaseOptions  `json:"database,omitempty"`
	Auth            AuthOptions      `json:"auth,omitempty"`
	Latency         LatencyOptions   `json:"latency,omitempty"`
	ErrorSimulation ErrorSimOptions  `json:"errorSimulation,omitempty"`
	LogRequests     *bool            `json:"logRequests,omitempty"`
	LogMaxEntries   int              `json:"logMaxEntries,omitempty"`
	DefaultPageSize int              `json:"defaultPageSize,omitempty"`
	MaxPageSize     int              `json:"maxPageSize,omitempty"`
	Docs            DocsOptions      `json:"docs,omitempty"`
}

// DatabaseOptions selects and configures the persistence adapter.
type DatabaseOptions struct {
	Adapter          string `json:"adapter,omitempty"` // "memory" (default), "file", "postgres"
	DBPath           string `json:"dbPath,omitempty"`
	AutoSave         *bool  `json:"autoSave,omitempty"`
	SaveInterval     int    `json:"saveInterval,omitempty"` // milliseconds, default 5000
	StrictValidation bool   `json:"strictValidation,omitempty"`
	ConnectionString string `json:"connectionString,omitempty"` // postgres adapter
	BackupBucket     string `json:"backupBucket,omitempty"`     // optional S3 mirror for backups
}

// AuthOptions configures the bearer-token authentication.
type AuthOptions struct {
	Enabled       bool         `json:"enabled,omitempty"`
	Endpoint      string       `json:"endpoint,omitempty"`   // default "/auth/login"
	HeaderName    string       `json:"headerName,omitempty"` // default "Authorization"
	TokenTTL      int          `json:"tokenExpiry,omitempty"`
	UserResource  string       `json:"userResource,omitempty"`
	UsernameField string       `json:"usernameField,omitempty"` // default "username"
	PasswordField string       `json:"passwordField,omitempty"` // default "password"
	Users         []InlineUser `json:"users,omitempty"`
	JWTSecret     string       `json:"jwtSecret,omitempty"`
}

// InlineUser is a user declared directly in the configuration, used when no
// user resource is configured.
type InlineUser struct {
	ID       interface{} `json:"id,omitempty"`
	Username string      `json:"username"`
	Password string      `json:"password"`
	Role     string      `json:"role,omitempty"`
}

// LatencyOptions configures artificial response latency.
type LatencyOptions struct {
	Enabled bool `json:"enabled,omitempty"`
	Fixed   int  `json:"fixed,omitempty"` // milliseconds
	Min     int  `json:"min,omitempty"`
	Max     int  `json:"max,omitempty"`
}

// ErrorSimOptions configures random error injection.
type ErrorSimOptions struct {
	Enabled           bool    `json:"enabled,omitempty"`
	Rate              float64 `json:"rate,omitempty"`
	StatusCodes       []int   `json:"statusCodes,omitempty"`
	QueryParamTrigger string  `json:"queryParamTrigger,omitempty"`
}

// DocsOptions configures the OpenAPI document route.
type DocsOptions struct {
	Enabled     *bool `json:"enabled,omitempty"`
	RequireAuth bool  `json:"requireAuth,omitempty"`
}

// CustomRoute declares an operator-supplied route, either a templated JSON
// response or a sandboxed script.
type CustomRoute struct {
	Path     string          `json:"path"`
	Method   string          `json:"method,omitempty"` // default GET
	Type     string          `json:"type,omitempty"`   // "json" or "script", inferred when omitted
	Response json.RawMessage `json:"response,omitempty"`
	Script   string          `json:"script,omitempty"`
	Auth     *RouteAuth      `json:"auth,omitempty"`
}

// RouteAuth overrides the global auth rule for one custom route.
type RouteAuth struct {
	Enabled bool     `json:"enabled"`
	Roles   []string `json:"roles,omitempty"`
}

var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

var validTypes = map[string]bool{
	TypeString: true, TypeNumber: true, TypeBoolean: true,
	TypeObject: true, TypeArray: true, TypeDate: true, TypeUUID: true,
}

var validRelTypes = map[string]bool{
	RelBelongsTo: true, RelHasOne: true, RelHasMany: true, RelManyToMany: true,
}

var validActions = map[string]bool{
	"list": true, "get": true, "create": true, "update": true, "delete": true,
}

// Parse decodes the canonical JSON configuration document, applies the
// documented defaults and validates it. All failures are of kind
// config-invalid.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apierror.Wrap(apierror.KindConfigInvalid, err, "cannot parse configuration")
	}
	doc.ApplyDefaults()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ApplyDefaults fills in all documented default values.
func (d *Document) ApplyDefaults() {
	if d.Name == "" {
		d.Name = "Pretendo Mock API"
	}
	o := &d.Options
	if o.Port == 0 {
		o.Port = 3000
	}
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.DefaultPageSize == 0 {
		o.DefaultPageSize = 10
	}
	if o.MaxPageSize == 0 {
		o.MaxPageSize = 100
	}
	if o.LogMaxEntries == 0 {
		o.LogMaxEntries = 1000
	}
	if o.Database.Adapter == "" {
		if o.Database.DBPath != "" || o.DBPath != "" {
			o.Database.Adapter = "file"
		} else {
			o.Database.Adapter = "memory"
		}
	}
	if o.Database.DBPath == "" {
		o.Database.DBPath = o.DBPath
	}
	if o.Database.SaveInterval == 0 {
		o.Database.SaveInterval = 5000
	}
	if o.Auth.Endpoint == "" {
		o.Auth.Endpoint = "/auth/login"
	}
	if o.Auth.HeaderName == "" {
		o.Auth.HeaderName = "Authorization"
	}
	if o.Auth.TokenTTL == 0 {
		o.Auth.TokenTTL = 3600
	}
	if o.Auth.UsernameField == "" {
		o.Auth.UsernameField = "username"
	}
	if o.Auth.PasswordField == "" {
		o.Auth.PasswordField = "password"
	}
	if len(o.ErrorSimulation.StatusCodes) == 0 {
		o.ErrorSimulation.StatusCodes = []int{500, 502, 503, 504}
	}
	for i := range d.Resources {
		r := &d.Resources[i]
		if r.PrimaryKey == "" {
			r.PrimaryKey = "id"
		}
	}
	for i := range d.Routes {
		rt := &d.Routes[i]
		if rt.Method == "" {
			rt.Method = "GET"
		}
		if rt.Type == "" {
			if rt.Script != "" {
				rt.Type = "script"
			} else {
				rt.Type = "json"
			}
		}
	}
}

// Validate checks the document for structural errors.
func (d *Document) Validate() error {
	seen := map[string]bool{}
	for _, r := range d.Resources {
		if !nameRe.MatchString(r.Name) {
			return apierror.New(apierror.KindConfigInvalid, "invalid resource name %q", r.Name)
		}
		if seen[r.Name] {
			return apierror.New(apierror.KindConfigInvalid, "duplicate resource %q", r.Name)
		}
		seen[r.Name] = true
		for _, f := range r.Fields {
			if f.Name == "" {
				return apierror.New(apierror.KindConfigInvalid, "resource %q has a field without a name", r.Name)
			}
			if f.Type != "" && !validTypes[f.Type] {
				return apierror.New(apierror.KindConfigInvalid, "resource %q field %q has invalid type %q", r.Name, f.Name, f.Type)
			}
			if f.Pattern != "" {
				if _, err := regexp.Compile(f.Pattern); err != nil {
					return apierror.Wrap(apierror.KindConfigInvalid, err, "resource %q field %q has invalid pattern", r.Name, f.Name)
				}
			}
		}
		for action := range r.Access {
			if !validActions[action] {
				return apierror.New(apierror.KindConfigInvalid, "resource %q has access entry for unknown action %q", r.Name, action)
			}
		}
	}
	for _, r := range d.Resources {
		for _, rel := range r.Relationships {
			if !validRelTypes[rel.Type] {
				return apierror.New(apierror.KindConfigInvalid, "resource %q has relationship of unknown type %q", r.Name, rel.Type)
			}
			if !seen[rel.Resource] {
				return apierror.New(apierror.KindConfigInvalid, "resource %q has relationship to unknown resource %q", r.Name, rel.Resource)
			}
			if rel.ForeignKey == "" {
				return apierror.New(apierror.KindConfigInvalid, "resource %q relationship to %q lacks a foreignKey", r.Name, rel.Resource)
			}
			if rel.Type == RelManyToMany && rel.Through == "" {
				return apierror.New(apierror.KindConfigInvalid, "resource %q manyToMany relationship to %q lacks a through collection", r.Name, rel.Resource)
			}
		}
	}
	for _, rt := range d.Routes {
		if rt.Path == "" || !strings.HasPrefix(rt.Path, "/") {
			return apierror.New(apierror.KindConfigInvalid, "custom route path %q must start with /", rt.Path)
		}
		switch rt.Type {
		case "json":
			if rt.Response == nil {
				return apierror.New(apierror.KindConfigInvalid, "custom json route %q lacks a response", rt.Path)
			}
		case "script":
			if rt.Script == "" {
				return apierror.New(apierror.KindConfigInvalid, "custom script route %q lacks a script", rt.Path)
			}
		default:
			return apierror.New(apierror.KindConfigInvalid, "custom route %q has unknown type %q", rt.Path, rt.Type)
		}
	}
	adapter := d.Options.Database.Adapter
	switch adapter {
	case "memory", "":
	case "file":
		if d.Options.Database.DBPath == "" {
			return apierror.New(apierror.KindConfigInvalid, "file adapter requires dbPath")
		}
	case "postgres":
		if d.Options.Database.ConnectionString == "" {
			return apierror.New(apierror.KindConfigInvalid, "postgres adapter requires connectionString")
		}
	default:
		return apierror.New(apierror.KindConfigInvalid, "unknown database adapter %q", adapter)
	}
	return nil
}

// Resource returns the configuration of the named resource.
func (d *Document) Resource(name string) (*Resource, bool) {
	for i := range d.Resources {
		if d.Resources[i].Name == name {
			return &d.Resources[i], true
		}
	}
	return nil, false
}

// PrimaryKey returns the primary key of the named resource, defaulting to
// "id" for collections not declared as resources (e.g. join collections).
func (d *Document) PrimaryKey(name string) string {
	if r, ok := d.Resource(name); ok {
		return r.PrimaryKey
	}
	return "id"
}

// SeedData returns the complete seed dataset: per-resource seed lists
// merged with the top-level data map. Records are deep-copied.
func (d *Document) SeedData() map[string][]core.Record {
	out := map[string][]core.Record{}
	for name, records := range d.Data {
		for _, r := range records {
			out[name] = append(out[name], r.DeepCopy())
		}
	}
	for _, res := range d.Resources {
		for _, r := range res.Seed {
			out[res.Name] = append(out[res.Name], r.DeepCopy())
		}
		if _, ok := out[res.Name]; !ok {
			out[res.Name] = []core.Record{}
		}
	}
	return out
}

// CascadeTargets lists, for hasMany and hasOne relationships of the named
// resource, the (collection, foreignKey) pairs a delete cascades into.
func (d *Document) CascadeTargets(name string) [][2]string {
	r, ok := d.Resource(name)
	if !ok {
		return nil
	}
	var out [][2]string
	for _, rel := range r.Relationships {
		if rel.Type == RelHasMany || rel.Type == RelHasOne {
			out = append(out, [2]string{rel.Resource, rel.ForeignKey})
		}
	}
	return out
}

// IsCORSEnabled reports whether CORS handling is on (default true).
func (o Options) IsCORSEnabled() bool { return boolOrDefault(o.CORSEnabled, true) }

func boolOrDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// LogRequestsEnabled reports whether request logging is on (default true).
func (o Options) LogRequestsEnabled() bool { return boolOrDefault(o.LogRequests, true) }

// AutoSaveEnabled reports whether the file adapter autosave timer is on
// (default true).
func (db DatabaseOptions) AutoSaveEnabled() bool { return boolOrDefault(db.AutoSave, true) }

// DocsEnabled reports whether the documentation route is served (default true).
func (dc DocsOptions) DocsEnabled() bool { return boolOrDefault(dc.Enabled, true) }

// IsCORSEnabled reports whether CORS handling is on.
func (d *Document) IsCORSEnabled() bool { return d.Options.IsCORSEnabled() }

// DocsEnabled reports whether the documentation route is served.
func (d *Document) DocsEnabled() bool { return d.Options.Docs.DocsEnabled() }

// AutoSaveEnabled reports whether the file adapter autosave timer is on.
func (d *Document) AutoSaveEnabled() bool { return d.Options.Database.AutoSaveEnabled() }

// LogRequestsEnabled reports whether request logging is on.
func (d *Document) LogRequestsEnabled() bool { return d.Options.LogRequestsEnabled() }

// String renders the document back to JSON, for logging.
func (d *Document) String() string {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Sprintf("<unprintable configuration: %v>", err)
	}
	return string(data)
}
