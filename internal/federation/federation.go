// Package federation implements FederationDispatcher: Ed25519 payload
// signing and verification, SSRF-safe domain validation, and the durable
// per-host outbound queue (NATS JetStream) that carries chat events to
// remote homeservers. Inbound delivery verification and peer key caching
// live alongside it.
package federation

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net"
	"strings"
	"time"
)

// Version is the federation wire protocol version this instance speaks.
const Version = "harbor-federation/1.0"

// SignedPayload is the envelope carried over the wire: a JSON payload, its
// Ed25519 signature (hex-encoded), and the sending instance's identity.
type SignedPayload struct {
	Payload   []byte    `json:"payload"`
	Signature string    `json:"signature"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

// sign produces a SignedPayload over data using privateKey, attributed to
// senderID.
func sign(privateKey ed25519.PrivateKey, senderID string, data []byte) *SignedPayload {
	sig := ed25519.Sign(privateKey, data)
	return &SignedPayload{
		Payload:   data,
		Signature: fmt.Sprintf("%x", sig),
		SenderID:  senderID,
		Timestamp: time.Now().UTC(),
	}
}

// VerifySignature verifies an Ed25519 signature (hex-encoded) against a
// PEM-encoded public key.
func VerifySignature(publicKeyPEM string, payload []byte, signatureHex string) (bool, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return false, fmt.Errorf("federation: failed to decode public key PEM")
	}
	pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false, fmt.Errorf("federation: parsing public key: %w", err)
	}
	pub, ok := pubAny.(ed25519.PublicKey)
	if !ok {
		return false, fmt.Errorf("federation: key is not Ed25519")
	}
	var sig []byte
	if _, err := fmt.Sscanf(signatureHex, "%x", &sig); err != nil {
		return false, fmt.Errorf("federation: decoding signature: %w", err)
	}
	return ed25519.Verify(pub, payload, sig), nil
}

// ComputeKeyFingerprint returns the SHA-256 fingerprint of a PEM-encoded
// public key, used to detect silent key rotation on a peer.
func ComputeKeyFingerprint(publicKeyPEM string) (string, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return "", fmt.Errorf("federation: failed to decode public key PEM")
	}
	sum := sha256.Sum256(block.Bytes)
	return hex.EncodeToString(sum[:]), nil
}

// ValidateFederationDomain rejects hosts that resolve to internal, private,
// loopback, or link-local addresses, preventing the outbound dispatcher
// from being used as an SSRF vector against the local network.
func ValidateFederationDomain(domain string) error {
	lower := strings.ToLower(domain)
	if lower == "localhost" || strings.HasSuffix(lower, ".local") ||
		strings.HasSuffix(lower, ".internal") || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("federation: internal domain not allowed: %s", domain)
	}
	ips, err := net.LookupHost(domain)
	if err != nil {
		return fmt.Errorf("federation: domain does not resolve: %w", err)
	}
	for _, raw := range ips {
		ip := net.ParseIP(raw)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return fmt.Errorf("federation: domain %s resolves to a private address", domain)
		}
	}
	return nil
}

// validateTimestamp rejects payloads whose declared timestamp is too old
// or too far in the future to trust, returning a non-empty reason on
// rejection.
func validateTimestamp(ts time.Time) string {
	age := time.Now().UTC().Sub(ts)
	if age > 5*time.Minute {
		return fmt.Sprintf("timestamp too old: %s ago", age.Truncate(time.Second))
	}
	if age < -30*time.Second {
		return fmt.Sprintf("timestamp too far in the future: %s ahead", (-age).Truncate(time.Second))
	}
	return ""
}
