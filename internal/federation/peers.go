package federation

import (
	"encoding/json"
	"time"

	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/keys"
)

// Peer is a cached record of a remote homeserver's federation identity.
type Peer struct {
	Host         string    `json:"host"`
	PublicKeyPEM string    `json:"public_key_pem"`
	Fingerprint  string    `json:"fingerprint"`
	LastSeen     time.Time `json:"last_seen"`
}

func (d *Dispatcher) getPeer(host string) (Peer, bool, error) {
	v, err := d.peers.Get(keys.FederationPeer(host))
	if err != nil {
		if err == store.ErrNotFound {
			return Peer{}, false, nil
		}
		return Peer{}, false, err
	}
	var p Peer
	if err := json.Unmarshal(v, &p); err != nil {
		return Peer{}, false, err
	}
	return p, true, nil
}

func (d *Dispatcher) putPeer(p Peer) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return d.peers.Insert(keys.FederationPeer(p.Host), data)
}

// RegisterPeer records a remote host's current public key, invalidating
// the cached copy if the fingerprint changed (key rotation).
func (d *Dispatcher) RegisterPeer(host, publicKeyPEM string) error {
	fp, err := ComputeKeyFingerprint(publicKeyPEM)
	if err != nil {
		return err
	}
	d.pubkeys.Invalidate(host)
	return d.putPeer(Peer{Host: host, PublicKeyPEM: publicKeyPEM, Fingerprint: fp, LastSeen: time.Now()})
}

// GetKey returns the cached public key PEM for host, falling back to the
// durably stored peer record on a cache miss. It does not perform network
// discovery itself; callers that need to discover an unknown peer should
// call RegisterPeer after a successful handshake.
func (d *Dispatcher) GetKey(host string) (string, error) {
	if pem, ok := d.pubkeys.Get(host); ok {
		return pem, nil
	}
	peer, ok, err := d.getPeer(host)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrUnknownPeer
	}
	d.pubkeys.Set(host, peer.PublicKeyPEM)
	return peer.PublicKeyPEM, nil
}
