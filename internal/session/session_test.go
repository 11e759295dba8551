package session

import (
	"testing"

	"github.com/harborchat/harbor/internal/models"
)

func TestMintAndAuthenticate(t *testing.T) {
	r := New()
	token, err := r.Mint(models.ID(42))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if len(token) != tokenLength {
		t.Fatalf("token length = %d, want %d", len(token), tokenLength)
	}
	uid, err := r.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if uid != 42 {
		t.Fatalf("got user %d, want 42", uid)
	}
}

func TestAuthenticateUnknownToken(t *testing.T) {
	r := New()
	if _, err := r.Authenticate("nonexistent-token-value"); err != ErrUnauthenticated {
		t.Fatalf("got %v, want ErrUnauthenticated", err)
	}
}

func TestAuthenticateEmptyToken(t *testing.T) {
	r := New()
	if _, err := r.Authenticate(""); err != ErrUnauthenticated {
		t.Fatalf("got %v, want ErrUnauthenticated", err)
	}
}

func TestRevoke(t *testing.T) {
	r := New()
	token, _ := r.Mint(models.ID(1))
	r.Revoke(token)
	if _, err := r.Authenticate(token); err != ErrUnauthenticated {
		t.Fatal("token should be unauthenticated after Revoke")
	}
}

func TestPurgeAll(t *testing.T) {
	r := New()
	t1, _ := r.Mint(models.ID(1))
	t2, _ := r.Mint(models.ID(2))
	r.PurgeAll()
	for _, tok := range []string{t1, t2} {
		if _, err := r.Authenticate(tok); err != ErrUnauthenticated {
			t.Fatalf("token %s should be gone after PurgeAll", tok)
		}
	}
	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", r.Count())
	}
}

func TestMintTokensAreUnique(t *testing.T) {
	r := New()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok, err := r.Mint(models.ID(uint64(i)))
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token generated: %s", tok)
		}
		seen[tok] = true
	}
}
