// Package script executes operator supplied snippets for custom routes.
//
// Each request gets a fresh evaluation context, state never leaks between
// requests. The default runtime interprets Go snippets with yaegi; hosts
// can substitute their own Runtime.
package script

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
)

// Request is the read side of the script environment.
type Request struct {
	Method  string
	Path    string
	Params  map[string]string
	Query   map[string][]string
	Headers http.Header
	Body    interface{}
}

// Response collects what the snippet wants to send.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       interface{}
	sent       bool
}

// Status sets the response status and returns the response for chaining.
func (r *Response) Status(code int) *Response {
	r.StatusCode = code
	return r
}

// SetHeader sets a response header.
func (r *Response) SetHeader(key, value string) *Response {
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	r.Headers[key] = value
	return r
}

// Send sets the response body.
func (r *Response) Send(body interface{}) {
	r.Body = body
	r.sent = true
}

// JSON is an alias of Send, JSON is the only encoding routes produce.
func (r *Response) JSON(body interface{}) { r.Send(body) }

// Sent reports whether the snippet produced a body.
func (r *Response) Sent() bool { return r.sent }

// Console routes snippet output into the request logger.
type Console struct {
	Logger *logrus.Entry
}

func (c *Console) sprint(args []interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, " ")
}

// Log writes an info level line.
func (c *Console) Log(args ...interface{}) { c.Logger.Info(c.sprint(args)) }

// Error writes an error level line.
func (c *Console) Error(args ...interface{}) { c.Logger.Error(c.sprint(args)) }

// DB is the reduced database façade snippets get to see.
type DB interface {
	GetResourceById(resource string, id interface{}) (core.Record, error)
	GetResources(resource string) ([]core.Record, error)
	CreateResource(resource string, data map[string]interface{}) (core.Record, error)
	UpdateResource(resource string, id interface{}, data map[string]interface{}) (core.Record, error)
	DeleteResource(resource string, id interface{}) error
	GetRelatedResources(resource string, id interface{}, related string) ([]core.Record, error)
}

// Env is the set of values exposed to a snippet.
type Env struct {
	Request  *Request
	Response *Response
	Console  *Console
	DB       DB
}

// Runtime evaluates a snippet against an environment. Implementations
// must provide a fresh, isolated context per call.
type Runtime interface {
	Execute(src string, env Env) error
}

// YaegiRuntime interprets snippets as Go code. The snippet sees the
// environment as the predeclared variables request, response, console
// and db.
type YaegiRuntime struct{}

// NewRuntime returns the default runtime.
func NewRuntime() *YaegiRuntime { return &YaegiRuntime{} }

// Execute runs the snippet in a freshly created interpreter.
func (y *YaegiRuntime) Execute(src string, env Env) error {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return apierror.Wrap(apierror.KindInternal, err, "cannot initialize interpreter")
	}
	// A partial Env must not crash the interpreter: reflect.ValueOf(nil)
	// is a zero Value and yaegi panics binding it.
	if env.Request == nil {
		env.Request = &Request{}
	}
	if env.Response == nil {
		env.Response = &Response{}
	}
	if env.Console == nil {
		env.Console = &Console{Logger: logrus.NewEntry(logrus.StandardLogger())}
	}
	dbValue := reflect.ValueOf(env.DB)
	if env.DB == nil {
		dbValue = reflect.Zero(reflect.TypeOf((*DB)(nil)).Elem())
	}
	exports := interp.Exports{
		"pretendo/pretendo": {
			"Request":  reflect.ValueOf(env.Request),
			"Response": reflect.ValueOf(env.Response),
			"Console":  reflect.ValueOf(env.Console),
			"DB":       dbValue,
		},
	}
	if err := i.Use(exports); err != nil {
		return apierror.Wrap(apierror.KindInternal, err, "cannot bind script environment")
	}
	prelude := `import pretendo "pretendo"
var request = pretendo.Request
var response = pretendo.Response
var console = pretendo.Console
var db = pretendo.DB
`
	if _, err := i.Eval(prelude); err != nil {
		return apierror.Wrap(apierror.KindInternal, err, "cannot prepare script environment")
	}
	if _, err := i.Eval(src); err != nil {
		return apierror.Wrap(apierror.KindBadRequest, err, "script execution failed")
	}
	return nil
}
