package access

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/store"
)

func testLookup(username string) (Subject, string, bool) {
	switch username {
	case "admin":
		return Subject{UserID: float64(1), Username: "admin", Role: "admin"}, "secret", true
	case "casey":
		return Subject{UserID: float64(2), Username: "casey", Role: "member"}, store.HashSecret("hunter2"), true
	}
	return Subject{}, "", false
}

func TestTokenLifecycle(t *testing.T) {
	svc := NewTokenService(time.Hour, testLookup)

	token, subject, expiresAt, err := svc.Authenticate("admin", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if len(token) != 64 {
		t.Errorf("token length: got %d want 64", len(token))
	}
	if subject.Role != "admin" || !core.KeysEqual(subject.UserID, float64(1)) {
		t.Errorf("subject: got %+v", subject)
	}
	if !expiresAt.After(time.Now()) {
		t.Error("expiry must lie in the future")
	}

	got, ok := svc.Verify(token)
	if !ok || got.Username != "admin" {
		t.Errorf("verify: got %+v %v", got, ok)
	}

	svc.Revoke(token)
	if _, ok := svc.Verify(token); ok {
		t.Error("revoked token still verifies")
	}
	svc.Revoke(token) // no-op
}

func TestAuthenticateHashedPassword(t *testing.T) {
	svc := NewTokenService(time.Hour, testLookup)
	if _, _, _, err := svc.Authenticate("casey", "hunter2"); err != nil {
		t.Errorf("digest stored password must match plain credential: %v", err)
	}
	_, _, _, err := svc.Authenticate("casey", "wrong")
	if apierror.KindOf(err) != apierror.KindUnauthorized {
		t.Errorf("expected unauthorized, got %v", err)
	}
	_, _, _, err = svc.Authenticate("nobody", "secret")
	if apierror.KindOf(err) != apierror.KindUnauthorized {
		t.Errorf("expected unauthorized for unknown user, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	svc := NewTokenService(time.Minute, testLookup)
	current := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }

	token, _, _, err := svc.Authenticate("admin", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.Verify(token); !ok {
		t.Fatal("fresh token must verify")
	}
	current = current.Add(time.Minute)
	if _, ok := svc.Verify(token); ok {
		t.Error("token still verifies at the exact expiry instant")
	}
}

func TestExtractToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"abc123", "abc123"},
		{"Bearer   abc123  ", "abc123"},
		{"", ""},
	}
	for _, c := range cases {
		r := httptest.NewRequest("GET", "/posts", nil)
		if c.header != "" {
			r.Header.Set("Authorization", c.header)
		}
		if got := ExtractToken(r, "Authorization"); got != c.want {
			t.Errorf("header %q: got %q want %q", c.header, got, c.want)
		}
	}
}

func TestVerifyJWT(t *testing.T) {
	claims := jwt.MapClaims{
		"id":       7,
		"username": "jwtuser",
		"role":     "member",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("shared"))
	if err != nil {
		t.Fatal(err)
	}

	subject, ok := verifyJWT(signed, "shared")
	if !ok || subject.Username != "jwtuser" || subject.Role != "member" {
		t.Errorf("got %+v %v", subject, ok)
	}
	if _, ok := verifyJWT(signed, "wrong"); ok {
		t.Error("wrong secret must not verify")
	}

	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("shared"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := verifyJWT(expired, "shared"); ok {
		t.Error("expired token must not verify")
	}
}

func TestAuthorize(t *testing.T) {
	res := &config.Resource{
		Name:    "posts",
		OwnedBy: "userId",
		Access: map[string][]string{
			"list":   {},
			"create": {"*"},
			"update": {"owner", "admin"},
			"delete": {"admin"},
		},
	}
	fetch := func(resource, id string) (core.Record, bool) {
		if resource == "posts" && id == "1" {
			return core.Record{"id": float64(1), "userId": float64(2)}, true
		}
		return nil, false
	}
	owner := &Authorization{UserID: float64(2), Username: "casey", Role: "member"}
	admin := &Authorization{UserID: float64(1), Username: "admin", Role: "admin"}

	cases := []struct {
		name   string
		action core.Action
		id     string
		auth   *Authorization
		want   apierror.Kind
	}{
		{"empty list allows anonymous", core.ActionList, "", nil, ""},
		{"wildcard needs a login", core.ActionCreate, "", nil, apierror.KindUnauthorized},
		{"wildcard allows any login", core.ActionCreate, "", owner, ""},
		{"owner may update own record", core.ActionUpdate, "1", owner, ""},
		{"admin role may update", core.ActionUpdate, "1", admin, ""},
		{"stranger may not update", core.ActionUpdate, "1", &Authorization{UserID: float64(9), Role: "member"}, apierror.KindForbidden},
		{"owner may not delete", core.ActionDelete, "1", owner, apierror.KindForbidden},
		{"admin may delete", core.ActionDelete, "1", admin, ""},
		{"missing record denies owner rule", core.ActionUpdate, "404", owner, apierror.KindForbidden},
	}
	for _, c := range cases {
		err := Authorize(res, c.action, c.id, c.id != "", c.auth, fetch)
		if c.want == "" {
			if err != nil {
				t.Errorf("%s: got %v want nil", c.name, err)
			}
			continue
		}
		if apierror.KindOf(err) != c.want {
			t.Errorf("%s: got %v want kind %q", c.name, err, c.want)
		}
	}
}

func TestRequireRoles(t *testing.T) {
	admin := &Authorization{UserID: float64(1), Role: "admin"}
	if err := RequireRoles([]string{"admin"}, nil); apierror.KindOf(err) != apierror.KindUnauthorized {
		t.Errorf("anonymous: got %v", err)
	}
	if err := RequireRoles([]string{"member"}, admin); apierror.KindOf(err) != apierror.KindForbidden {
		t.Errorf("wrong role: got %v", err)
	}
	if err := RequireRoles([]string{"*"}, admin); err != nil {
		t.Errorf("wildcard: got %v", err)
	}
	if err := RequireRoles(nil, admin); err != nil {
		t.Errorf("empty list with login: got %v", err)
	}
}
