package federation

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/harborchat/harbor/internal/store"
)

func TestSignAndVerifySignatureRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	pem, err := publicKeyPEM(pub)
	if err != nil {
		t.Fatalf("publicKeyPEM: %v", err)
	}

	data := []byte(`{"hello":"world"}`)
	signed := sign(priv, "example.org", data)

	ok, err := VerifySignature(pem, signed.Payload, signed.Signature)
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifySignatureRejectsTamperedPayload(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	pem, _ := publicKeyPEM(pub)
	signed := sign(priv, "example.org", []byte("original"))

	ok, err := VerifySignature(pem, []byte("tampered"), signed.Signature)
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if ok {
		t.Fatal("expected tampered payload to fail verification")
	}
}

func TestComputeKeyFingerprintDeterministic(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	pem, _ := publicKeyPEM(pub)

	fp1, err := ComputeKeyFingerprint(pem)
	if err != nil {
		t.Fatalf("ComputeKeyFingerprint: %v", err)
	}
	fp2, err := ComputeKeyFingerprint(pem)
	if err != nil {
		t.Fatalf("ComputeKeyFingerprint: %v", err)
	}
	if fp1 != fp2 {
		t.Fatal("fingerprint should be deterministic for the same key")
	}
}

func TestValidateFederationDomainRejectsLocalhost(t *testing.T) {
	if err := ValidateFederationDomain("localhost"); err == nil {
		t.Fatal("expected localhost to be rejected")
	}
	if err := ValidateFederationDomain("service.internal"); err == nil {
		t.Fatal("expected .internal suffix to be rejected")
	}
}

func TestValidateTimestamp(t *testing.T) {
	if reason := validateTimestamp(time.Now()); reason != "" {
		t.Fatalf("fresh timestamp should validate, got %q", reason)
	}
	if reason := validateTimestamp(time.Now().Add(-10 * time.Minute)); reason == "" {
		t.Fatal("expected an old timestamp to be rejected")
	}
	if reason := validateTimestamp(time.Now().Add(time.Minute)); reason == "" {
		t.Fatal("expected a far-future timestamp to be rejected")
	}
}

func TestLoadOrGenerateKeyPairPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "federation.key")

	first, err := loadOrGenerateKeyPair(path)
	if err != nil {
		t.Fatalf("loadOrGenerateKeyPair: %v", err)
	}
	second, err := loadOrGenerateKeyPair(path)
	if err != nil {
		t.Fatalf("loadOrGenerateKeyPair (reload): %v", err)
	}
	if !first.Equal(second) {
		t.Fatal("reloading the key file should return the same keypair")
	}
}

func TestTTLCacheExpiresEntries(t *testing.T) {
	c := NewTTLCache[string](time.Millisecond, 8)
	c.Set("a", "1")
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected immediate hit before expiry")
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return &Dispatcher{
		host:    "home.example",
		keyPath: filepath.Join(t.TempDir(), "federation.key"),
		peers:   st.Tree(store.TreeSync),
		pubkeys: NewTTLCache[string](pubkeyCacheTTL, 64),
	}
}

func TestRegisterPeerAndGetKeyRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	pem, _ := publicKeyPEM(pub)

	if err := d.RegisterPeer("remote.example", pem); err != nil {
		t.Fatalf("RegisterPeer: %v", err)
	}

	got, err := d.GetKey("remote.example")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got != pem {
		t.Fatal("GetKey should return the registered key")
	}
}

func TestGetKeyUnknownPeer(t *testing.T) {
	d := newTestDispatcher(t)
	if _, err := d.GetKey("nowhere.example"); err != ErrUnknownPeer {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestVerifyInboundRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	pem, _ := publicKeyPEM(pub)
	if err := d.RegisterPeer("remote.example", pem); err != nil {
		t.Fatalf("RegisterPeer: %v", err)
	}

	data := []byte(`{"event":"test"}`)
	signed := *sign(priv, "remote.example", data)

	payload, err := d.VerifyInbound("remote.example", signed)
	if err != nil {
		t.Fatalf("VerifyInbound: %v", err)
	}
	if string(payload) != string(data) {
		t.Fatal("verified payload should match the original")
	}
}

func TestVerifyInboundRejectsStaleTimestamp(t *testing.T) {
	d := newTestDispatcher(t)
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	pem, _ := publicKeyPEM(pub)
	if err := d.RegisterPeer("remote.example", pem); err != nil {
		t.Fatalf("RegisterPeer: %v", err)
	}

	signed := *sign(priv, "remote.example", []byte("data"))
	signed.Timestamp = time.Now().Add(-time.Hour)

	if _, err := d.VerifyInbound("remote.example", signed); err == nil {
		t.Fatal("expected a stale timestamp to be rejected")
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	prev := retryDelay(0)
	for attempt := 1; attempt < 12; attempt++ {
		d := retryDelay(attempt)
		if d < prev {
			t.Fatalf("retryDelay should be non-decreasing, attempt %d gave %v after %v", attempt, d, prev)
		}
		if d > 2*time.Minute {
			t.Fatalf("retryDelay should cap at 2m, got %v", d)
		}
		prev = d
	}
}
