package backend

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/pretendo-dev/pretendo/core/access"
	"github.com/pretendo-dev/pretendo/core/apierror"
)

func (b *Backend) registerAuthRoutes() {
	b.router.HandleFunc(b.cfg.Options.Auth.Endpoint, b.loginHandler).Methods(http.MethodPost)
	b.router.HandleFunc("/auth/logout", b.logoutHandler).Methods(http.MethodPost)
}

// lookupUser resolves a username against the configured user resource, or
// against the inline user list when no resource is configured.
func (b *Backend) lookupUser(username string) (access.Subject, string, bool) {
	opt := b.cfg.Options.Auth
	if opt.UserResource != "" {
		handle, err := b.db.Resource(opt.UserResource)
		if err != nil {
			return access.Subject{}, "", false
		}
		record, err := handle.FindOne(map[string]interface{}{opt.UsernameField: username})
		if err != nil {
			return access.Subject{}, "", false
		}
		password, _ := record[opt.PasswordField].(string)
		role, _ := record["role"].(string)
		return access.Subject{
			UserID:   record[handle.PrimaryKey()],
			Username: username,
			Role:     role,
		}, password, true
	}
	for _, u := range opt.Users {
		if u.Username == username {
			return access.Subject{UserID: u.ID, Username: u.Username, Role: u.Role}, u.Password, true
		}
	}
	return access.Subject{}, "", false
}

func (b *Backend) loginHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" {
		apierror.Write(w, apierror.New(apierror.KindBadRequest, "login needs username and password").WithCode("invalid_body"))
		return
	}
	token, subject, expiresAt, err := b.tokens.Authenticate(body.Username, body.Password)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
		"user": map[string]interface{}{
			"id":       subject.UserID,
			"username": subject.Username,
			"role":     subject.Role,
		},
	})
}

// logoutHandler revokes the presented token. Logging out without a token
// is not an error.
func (b *Backend) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if token := access.ExtractToken(r, b.cfg.Options.Auth.HeaderName); token != "" {
		b.tokens.Revoke(token)
	}
	w.WriteHeader(http.StatusNoContent)
}
