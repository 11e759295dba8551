package federation

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

const publicKeyPEMType = "HARBOR FEDERATION PUBLIC KEY"

// loadOrGenerateKeyPair reads the Ed25519 seed at path; if the file is
// absent, a new keypair is generated and persisted there. Concurrent
// callers are serialized by Dispatcher.ensureKeyPair's sync.Once, so this
// never races against itself.
func loadOrGenerateKeyPair(path string) (ed25519.PrivateKey, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("federation: key file %s has wrong length %d", path, len(seed))
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("federation: reading key file: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("federation: generating keypair: %w", err)
	}
	if err := os.WriteFile(path, priv.Seed(), 0o600); err != nil {
		return nil, fmt.Errorf("federation: persisting new keypair: %w", err)
	}
	return priv, nil
}

// publicKeyPEM encodes an Ed25519 public key in the PKIX/PEM form peers
// exchange during discovery.
func publicKeyPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("federation: marshaling public key: %w", err)
	}
	block := &pem.Block{Type: publicKeyPEMType, Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}
