// Package session implements the SessionRegistry: an in-memory map from
// opaque bearer tokens to the user id that owns them. Sessions do not
// survive a restart — documented behavior, not a gap (see DESIGN.md).
package session

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/harborchat/harbor/internal/models"
)

// ErrUnauthenticated is returned by Authenticate when the token is absent
// or unknown.
var ErrUnauthenticated = errors.New("session: unauthenticated")

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const tokenLength = 22

// Registry maps bearer tokens to user ids. It is the only place session
// state lives; a crash loses every session, by design.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]models.Session)}
}

// Mint generates a fresh 22-character alphanumeric token for userID and
// registers it.
func (r *Registry) Mint(userID models.ID) (string, error) {
	token, err := genToken()
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.sessions[token] = models.Session{Token: token, UserID: userID, CreatedAt: time.Now()}
	r.mu.Unlock()
	return token, nil
}

// Authenticate resolves a bearer token to its owning user id.
func (r *Registry) Authenticate(token string) (models.ID, error) {
	if token == "" {
		return 0, ErrUnauthenticated
	}
	r.mu.RLock()
	s, ok := r.sessions[token]
	r.mu.RUnlock()
	if !ok {
		return 0, ErrUnauthenticated
	}
	return s.UserID, nil
}

// Revoke removes a single token. Revoking an unknown token is not an error.
func (r *Registry) Revoke(token string) {
	r.mu.Lock()
	delete(r.sessions, token)
	r.mu.Unlock()
}

// PurgeAll clears every session, as exercised by the admin shell's
// clear_sessions command.
func (r *Registry) PurgeAll() {
	r.mu.Lock()
	r.sessions = make(map[string]models.Session)
	r.mu.Unlock()
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func genToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, tokenLength)
	for i, b := range buf {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}
