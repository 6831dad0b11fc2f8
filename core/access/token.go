package access

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/store"
)

// Subject is the identity a token was issued for.
type Subject struct {
	UserID   interface{}
	Username string
	Role     string
}

// LookupFunc resolves a username to its subject and stored password. The
// second return is the password as stored, which may be a digest.
type LookupFunc func(username string) (Subject, string, bool)

// TokenService issues and verifies opaque bearer tokens. Tokens live in
// memory only and do not survive a restart.
type TokenService struct {
	mu     sync.Mutex
	tokens map[string]session
	ttl    time.Duration
	lookup LookupFunc
	now    func() time.Time
}

type session struct {
	subject   Subject
	expiresAt time.Time
}

// NewTokenService creates a token service with the given token lifetime.
func NewTokenService(ttl time.Duration, lookup LookupFunc) *TokenService {
	return &TokenService{
		tokens: map[string]session{},
		ttl:    ttl,
		lookup: lookup,
		now:    time.Now,
	}
}

// Authenticate validates the credentials and issues a token. The stored
// password matches either verbatim or as hex encoded SHA-256 digest of the
// presented one.
func (t *TokenService) Authenticate(username, password string) (string, Subject, time.Time, error) {
	subject, stored, ok := t.lookup(username)
	if !ok || (stored != password && stored != store.HashSecret(password)) {
		return "", Subject{}, time.Time{}, apierror.New(apierror.KindUnauthorized, "invalid credentials").WithCode("invalid_credentials")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", Subject{}, time.Time{}, apierror.Wrap(apierror.KindInternal, err, "cannot generate token")
	}
	token := hex.EncodeToString(buf)
	expiresAt := t.now().Add(t.ttl)
	t.mu.Lock()
	t.tokens[token] = session{subject: subject, expiresAt: expiresAt}
	t.mu.Unlock()
	return token, subject, expiresAt, nil
}

// Verify resolves a token to its subject. Expired tokens are removed on
// first use after expiry.
func (t *TokenService) Verify(token string) (Subject, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.tokens[token]
	if !ok {
		return Subject{}, false
	}
	// a token is already invalid at the exact expiry instant
	if !t.now().Before(s.expiresAt) {
		delete(t.tokens, token)
		return Subject{}, false
	}
	return s.subject, true
}

// Revoke invalidates a token. Revoking an unknown token is a no-op.
func (t *TokenService) Revoke(token string) {
	t.mu.Lock()
	delete(t.tokens, token)
	t.mu.Unlock()
}
