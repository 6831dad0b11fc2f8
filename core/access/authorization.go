// Package access implements authentication and role based access control.
package access

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/pretendo-dev/pretendo/core/apierror"
)

// Authorization is the authenticated identity of a request. A nil
// *Authorization means the request is anonymous.
type Authorization struct {
	UserID   interface{} `json:"userId"`
	Username string      `json:"username"`
	Role     string      `json:"role"`
}

// HasRole returns true if the authorization carries the given role.
func (a *Authorization) HasRole(role string) bool {
	return a != nil && a.Role == role
}

type contextKey int

const contextKeyAuthorization contextKey = iota

// ContextWithAuthorization returns a context with the authorization added.
func ContextWithAuthorization(ctx context.Context, auth *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, auth)
}

// AuthorizationFromContext retrieves the authorization from the context,
// nil for anonymous requests.
func AuthorizationFromContext(ctx context.Context) *Authorization {
	auth, _ := ctx.Value(contextKeyAuthorization).(*Authorization)
	return auth
}

// WriteAuthorization writes the requester's identity, 401 for anonymous
// requests. This powers the debug route.
func WriteAuthorization(w http.ResponseWriter, r *http.Request) {
	auth := AuthorizationFromContext(r.Context())
	if auth == nil {
		apierror.Write(w, apierror.New(apierror.KindUnauthorized, "no authorization"))
		return
	}
	body, _ := json.Marshal(auth)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
