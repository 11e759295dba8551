package federation

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/store"
)

// ErrUnknownPeer is returned by GetKey when no cached or stored record
// exists for a host.
var ErrUnknownPeer = errors.New("federation: unknown peer")

const (
	streamName     = "HARBOR_FEDERATION"
	subjectPrefix  = "federation.outbound."
	consumerName   = "federation-dispatch"
	maxRetries     = 8
	pubkeyCacheTTL = 10 * time.Minute
	deliverTimeout = 15 * time.Second
)

// Config configures a Dispatcher.
type Config struct {
	// Host is this instance's own federation identity (its public domain).
	Host string
	// NATSURL is the NATS server used for the durable outbound queue.
	NATSURL string
	// KeyPath is where the local Ed25519 seed is persisted.
	KeyPath string
	// HTTPClient delivers signed payloads to remote instances. Defaults to
	// a client with a sane timeout if nil.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Dispatcher is the outbound half of federation: it signs events, queues
// them durably per destination host via NATS JetStream, and delivers them
// with bounded exponential-backoff retry. It also caches remote public
// keys for inbound verification.
type Dispatcher struct {
	host    string
	keyPath string
	client  *http.Client
	logger  *slog.Logger

	nc *nats.Conn
	js nats.JetStreamContext

	peers   *store.Tree
	pubkeys *TTLCache[string]

	keyOnce    sync.Once
	keyErr     error
	privateKey ed25519.PrivateKey
	pubKeyPEM  string
}

type outboundEnvelope struct {
	Host string        `json:"host"`
	Kind string        `json:"kind"`
	Sent SignedPayload `json:"sent"`
}

// New connects to NATS and ensures the durable outbound stream exists.
// The local keypair is not generated here: it is lazily created on first
// use via ensureKeyPair, single-flighted with sync.Once.
func New(cfg Config, st *store.Store) (*Dispatcher, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: deliverTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("federation: connecting to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("federation: acquiring jetstream context: %w", err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	}); err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("federation: ensuring outbound stream: %w", err)
	}

	return &Dispatcher{
		host:    cfg.Host,
		keyPath: cfg.KeyPath,
		client:  cfg.HTTPClient,
		logger:  logger,
		nc:      nc,
		js:      js,
		peers:   st.Tree(store.TreeSync),
		pubkeys: NewTTLCache[string](pubkeyCacheTTL, 4096),
	}, nil
}

// Close disconnects from NATS.
func (d *Dispatcher) Close() {
	d.nc.Close()
}

func (d *Dispatcher) ensureKeyPair() error {
	d.keyOnce.Do(func() {
		priv, err := loadOrGenerateKeyPair(d.keyPath)
		if err != nil {
			d.keyErr = err
			return
		}
		pem, err := publicKeyPEM(priv.Public().(ed25519.PublicKey))
		if err != nil {
			d.keyErr = err
			return
		}
		d.privateKey = priv
		d.pubKeyPEM = pem
	})
	return d.keyErr
}

// PublicKeyPEM returns this instance's own public key, generating the
// local keypair on first call if necessary.
func (d *Dispatcher) PublicKeyPEM() (string, error) {
	if err := d.ensureKeyPair(); err != nil {
		return "", err
	}
	return d.pubKeyPEM, nil
}

// Enqueue signs payload and durably queues it for delivery to host's
// sync endpoint. It returns once NATS has accepted the message for
// persistence, not once it has been delivered.
func (d *Dispatcher) Enqueue(host, kind string, payload any) error {
	if err := d.ensureKeyPair(); err != nil {
		return err
	}
	if err := ValidateFederationDomain(host); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("federation: marshaling outbound payload: %w", err)
	}
	env := outboundEnvelope{Host: host, Kind: kind, Sent: *sign(d.privateKey, d.host, data)}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("federation: marshaling outbound envelope: %w", err)
	}
	if _, err := d.js.Publish(subjectPrefix+host, body); err != nil {
		return fmt.Errorf("federation: enqueueing to %s: %w", host, err)
	}
	return nil
}

// DispatchGuildLeave satisfies internal/chat's Federator interface: it
// notifies every known peer host that user left guild, so any members the
// peer hosts locally can update their view. Local-only guilds with no
// federated members are a cheap no-op once the peer list is empty.
func (d *Dispatcher) DispatchGuildLeave(guild, user models.ID) error {
	hosts, err := d.knownHosts()
	if err != nil {
		return err
	}
	payload := struct {
		Guild models.ID `json:"guild_id"`
		User  models.ID `json:"user_id"`
	}{guild, user}
	var firstErr error
	for _, host := range hosts {
		if err := d.Enqueue(host, "guild.member.left", payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Dispatcher) knownHosts() ([]string, error) {
	seq, err := d.peers.ScanPrefix([]byte{})
	if err != nil {
		return nil, err
	}
	var hosts []string
	for _, v := range seq {
		var p Peer
		if err := json.Unmarshal(v, &p); err != nil {
			continue
		}
		hosts = append(hosts, p.Host)
	}
	return hosts, nil
}

// StartConsumer runs the durable outbound delivery consumer until ctx is
// canceled. Failed deliveries are retried with exponential backoff up to
// maxRetries, after which the event is dropped and logged.
func (d *Dispatcher) StartConsumer(ctx context.Context) error {
	sub, err := d.js.QueueSubscribe(subjectPrefix+">", consumerName, d.handleOutbound,
		nats.Durable(consumerName), nats.ManualAck(), nats.AckWait(30*time.Second), nats.MaxDeliver(maxRetries+2))
	if err != nil {
		return fmt.Errorf("federation: subscribing to outbound stream: %w", err)
	}
	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return nil
}

func (d *Dispatcher) handleOutbound(msg *nats.Msg) {
	var env outboundEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		d.logger.Error("dropping malformed outbound federation envelope", "error", err)
		msg.Ack()
		return
	}

	attempt := 0
	if md, err := msg.Metadata(); err == nil {
		attempt = int(md.NumDelivered) - 1
	}
	if attempt >= maxRetries {
		d.logger.Warn("dropping federation event after exhausting retries", "host", env.Host, "kind", env.Kind)
		msg.Ack()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	body, err := json.Marshal(env.Sent)
	if err != nil {
		d.logger.Error("dropping outbound federation event, re-marshal failed", "error", err)
		msg.Ack()
		return
	}
	url := fmt.Sprintf("https://%s/federation/v1/inbox", env.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		msg.NakWithDelay(retryDelay(attempt))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "harbor-federation/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("federation delivery failed", "host", env.Host, "attempt", attempt, "error", err)
		msg.NakWithDelay(retryDelay(attempt))
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		msg.Ack()
	case resp.StatusCode >= 500:
		msg.NakWithDelay(retryDelay(attempt))
	default:
		d.logger.Warn("federation delivery permanently rejected", "host", env.Host, "status", resp.StatusCode)
		msg.Ack()
	}
}

// retryDelay returns a capped exponential backoff for retry attempt n.
func retryDelay(attempt int) time.Duration {
	base := time.Second
	d := base << attempt
	const cap = 2 * time.Minute
	if d > cap || d <= 0 {
		return cap
	}
	return d
}

// VerifyInbound checks a signed payload from senderHost, validating both
// the Ed25519 signature and the payload's timestamp freshness.
func (d *Dispatcher) VerifyInbound(senderHost string, signed SignedPayload) ([]byte, error) {
	if reason := validateTimestamp(signed.Timestamp); reason != "" {
		return nil, fmt.Errorf("federation: %s", reason)
	}
	pem, err := d.GetKey(senderHost)
	if err != nil {
		return nil, err
	}
	ok, err := VerifySignature(pem, signed.Payload, signed.Signature)
	if err != nil {
		return nil, err
	}
	if !ok {
		d.pubkeys.Invalidate(senderHost)
		return nil, fmt.Errorf("federation: signature verification failed for %s", senderHost)
	}
	return signed.Payload, nil
}
