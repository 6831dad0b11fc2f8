package access

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/logger"
)

// ExtractToken pulls the bearer token from the configured header. The
// "Bearer " prefix is optional.
func ExtractToken(r *http.Request, header string) string {
	value := r.Header.Get(header)
	if value == "" {
		return ""
	}
	if len(value) > 7 && strings.EqualFold(value[:7], "Bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return strings.TrimSpace(value)
}

// AuthenticationMiddleware resolves the bearer token of a request into an
// authorization in the request context. Requests without a token pass
// through anonymously; a presented token that verifies neither as issued
// token nor as signed JWT is rejected with 401.
func AuthenticationMiddleware(opt *config.AuthOptions, tokens *TokenService) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r, opt.HeaderName)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			subject, ok := tokens.Verify(token)
			if !ok && opt.JWTSecret != "" {
				subject, ok = verifyJWT(token, opt.JWTSecret)
			}
			if !ok {
				apierror.Write(w, apierror.New(apierror.KindUnauthorized, "invalid or expired token").WithCode("invalid_token"))
				return
			}
			auth := &Authorization{UserID: subject.UserID, Username: subject.Username, Role: subject.Role}
			ctx := ContextWithAuthorization(r.Context(), auth)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, subject.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// verifyJWT accepts HMAC signed tokens carrying id, username and role
// claims. This lets clients bring their own identities when a shared
// secret is configured.
func verifyJWT(token, secret string) (Subject, bool) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierror.New(apierror.KindUnauthorized, "unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !parsed.Valid {
		return Subject{}, false
	}
	if exp, ok := claims["exp"].(float64); ok && time.Now().Unix() > int64(exp) {
		return Subject{}, false
	}
	subject := Subject{UserID: claims["id"]}
	if username, ok := claims["username"].(string); ok {
		subject.Username = username
	}
	if role, ok := claims["role"].(string); ok {
		subject.Role = role
	}
	return subject, true
}

// RecordFetcher resolves a resource record for ownership checks.
type RecordFetcher func(resource string, id string) (core.Record, bool)

// RBACMiddleware enforces the per-resource per-action role lists. The
// login endpoint, the logout endpoint and admin paths are exempt; custom
// routes carry their own rules and are enforced at registration time.
func RBACMiddleware(cfg *config.Document, fetch RecordFetcher) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == cfg.Options.Auth.Endpoint || path == "/auth/logout" || strings.HasPrefix(path, "/__") {
				next.ServeHTTP(w, r)
				return
			}
			segment := strings.TrimPrefix(path, "/")
			if i := strings.IndexByte(segment, '/'); i >= 0 {
				segment = segment[:i]
			}
			res, ok := cfg.Resource(segment)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			vars := mux.Vars(r)
			id, hasID := vars["id"]
			action := core.DeriveAction(r.Method, hasID)
			if err := Authorize(res, action, id, hasID, AuthorizationFromContext(r.Context()), fetch); err != nil {
				apierror.Write(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize applies the access policy of one resource action.
func Authorize(res *config.Resource, action core.Action, id string, hasID bool, auth *Authorization, fetch RecordFetcher) error {
	roles := res.Access[string(action)]
	if len(roles) == 0 {
		return nil
	}
	if auth == nil {
		return apierror.New(apierror.KindUnauthorized, "authentication required").WithCode("authentication_required")
	}
	for _, role := range roles {
		switch role {
		case config.RoleAny:
			return nil
		case config.RoleOwner:
			if hasID && res.OwnedBy != "" && fetch != nil {
				if record, found := fetch(res.Name, id); found && core.KeysEqual(record[res.OwnedBy], auth.UserID) {
					return nil
				}
			}
		default:
			if auth.Role == role {
				return nil
			}
		}
	}
	return apierror.New(apierror.KindForbidden, "insufficient permissions").WithCode("forbidden")
}

// RequireRoles enforces a custom route's auth override.
func RequireRoles(roles []string, auth *Authorization) error {
	if auth == nil {
		return apierror.New(apierror.KindUnauthorized, "authentication required").WithCode("authentication_required")
	}
	if len(roles) == 0 {
		return nil
	}
	for _, role := range roles {
		if role == config.RoleAny || auth.Role == role {
			return nil
		}
	}
	return apierror.New(apierror.KindForbidden, "insufficient permissions").WithCode("forbidden")
}
