// Package auth implements the local username/password login path: an
// Argon2id-hashed credential store in the store's "auth" tree that, on
// success, mints a bearer session through internal/session. Federated
// peers never call this package directly — cross-host identity is
// internal/federation's concern, not this one's.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/alexedwards/argon2id"

	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/session"
	"github.com/harborchat/harbor/internal/store"
)

// usernameAlphabet is every rune a username may contain, beyond letters
// and digits.
const usernameAlphabet = "._-"

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < 2 || n > 32 {
		return &AuthError{Status: http.StatusBadRequest, Code: "invalid_field", Message: "username must be between 2 and 32 characters"}
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune(usernameAlphabet, r):
		default:
			return &AuthError{Status: http.StatusBadRequest, Code: "invalid_field", Message: "username may only contain letters, digits, '.', '_', and '-'"}
		}
	}
	return nil
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < 8 || n > 128 {
		return &AuthError{Status: http.StatusBadRequest, Code: "invalid_field", Message: "password must be between 8 and 128 characters"}
	}
	return nil
}

// credential is the on-disk record for a local account: its minted user id
// and Argon2id password hash, keyed by username.
type credential struct {
	UserID       models.ID `json:"user_id"`
	PasswordHash string    `json:"password_hash"`
}

func credentialKey(username string) []byte { return []byte("cred:" + strings.ToLower(username)) }

// AuthError is a user-facing authentication failure: invalid credentials,
// a duplicate username, and the like. RequireAuth and the register/login
// HTTP handlers translate it directly into the API's error envelope.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string { return e.Message }

func errInvalidCredentials() error {
	return &AuthError{Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "invalid username or password"}
}

func errUsernameTaken() error {
	return &AuthError{Status: http.StatusConflict, Code: "username_taken", Message: "username is already registered"}
}

// Service owns the local credential store and mints sessions through the
// shared session.Registry — the same registry internal/gateway and
// internal/admin use to authenticate and purge bearer tokens.
type Service struct {
	auth     *store.Tree
	sessions *session.Registry
}

// New binds a credential Service to the store's auth tree and the
// process-wide session registry.
func New(st *store.Store, sessions *session.Registry) *Service {
	return &Service{auth: st.Tree(store.TreeAuth), sessions: sessions}
}

// Register hashes password, creates a new user id, stores the credential
// under username, and mints a session token for it. Usernames are
// case-insensitively unique.
func (s *Service) Register(username, password string) (models.ID, string, error) {
	if err := validateUsername(username); err != nil {
		return 0, "", err
	}
	if err := validatePassword(password); err != nil {
		return 0, "", err
	}
	key := credentialKey(username)
	exists, err := s.auth.ContainsKey(key)
	if err != nil {
		return 0, "", fmt.Errorf("checking username: %w", err)
	}
	if exists {
		return 0, "", errUsernameTaken()
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return 0, "", fmt.Errorf("hashing password: %w", err)
	}
	uid, err := models.NewID()
	if err != nil {
		return 0, "", fmt.Errorf("generating user id: %w", err)
	}
	cred := credential{UserID: uid, PasswordHash: hash}
	data, err := json.Marshal(cred)
	if err != nil {
		return 0, "", fmt.Errorf("encoding credential: %w", err)
	}
	if err := s.auth.Insert(key, data); err != nil {
		return 0, "", fmt.Errorf("storing credential: %w", err)
	}

	token, err := s.sessions.Mint(uid)
	if err != nil {
		return 0, "", fmt.Errorf("minting session: %w", err)
	}
	return uid, token, nil
}

// Login verifies username/password against the stored hash and mints a
// fresh session token on success.
func (s *Service) Login(username, password string) (models.ID, string, error) {
	v, err := s.auth.Get(credentialKey(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, "", errInvalidCredentials()
		}
		return 0, "", fmt.Errorf("loading credential: %w", err)
	}
	var cred credential
	if err := json.Unmarshal(v, &cred); err != nil {
		return 0, "", fmt.Errorf("decoding credential: %w", err)
	}
	match, err := argon2id.ComparePasswordAndHash(password, cred.PasswordHash)
	if err != nil {
		return 0, "", fmt.Errorf("comparing password hash: %w", err)
	}
	if !match {
		return 0, "", errInvalidCredentials()
	}
	token, err := s.sessions.Mint(cred.UserID)
	if err != nil {
		return 0, "", fmt.Errorf("minting session: %w", err)
	}
	return cred.UserID, token, nil
}

// Logout revokes a single bearer token.
func (s *Service) Logout(token string) { s.sessions.Revoke(token) }
