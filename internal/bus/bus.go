package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kypseli/hive/internal/config"
	"github.com/kypseli/hive/internal/hive"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// MessageStore persists published messages. A nil store keeps the bus
// purely in-memory.
type MessageStore interface {
	SaveMessage(m *hive.Message) error
}

// Bus is the hive communication bus: an embedded NATS server for
// out-of-band delivery plus per-domain append-only history logs. Delivery
// to subscribers is best effort; FIFO order within one domain's log is the
// only hard guarantee.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
	store  MessageStore
	client *Client

	mu      sync.Mutex
	history map[hive.Domain][]hive.Message
}

func New(cfg config.NATSConfig, store MessageStore) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	opts := &natsserver.Options{
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.DataDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bus{
		server:  ns,
		cfg:     cfg,
		store:   store,
		history: make(map[hive.Domain][]hive.Message),
	}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

func (b *Bus) Port() int {
	return b.cfg.Port
}

func (b *Bus) NumClients() int {
	return b.server.NumClients()
}

func (b *Bus) Close() {
	b.mu.Lock()
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
	b.mu.Unlock()

	b.server.Shutdown()
	b.server.WaitForShutdown()
}

// Publish appends a message to the domain's history log and mirrors it to
// the domain's NATS subject. The bus never drops a message from the log;
// NATS delivery to live subscribers is fire and forget.
func (b *Bus) Publish(domain hive.Domain, msgType string, payload map[string]any) hive.Message {
	msg := hive.Message{
		ID:        uuid.New().String(),
		Domain:    domain,
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	// Append, mirror and persist under one lock so the per-domain FIFO
	// order of the log, the NATS stream and the store's seq column all
	// match the publish call order.
	b.mu.Lock()
	b.history[domain] = append(b.history[domain], msg)
	b.mirror(msg)
	if b.store != nil {
		if err := b.store.SaveMessage(&msg); err != nil {
			slog.Warn("persist bus message failed", "domain", domain, "type", msgType, "error", err)
		}
	}
	b.mu.Unlock()

	return msg
}

// Notify sends a direct NATS message to one agent's inbox subject. Unlike
// Publish it leaves no trace in the domain history logs; it is a live
// delivery hint only.
func (b *Bus) Notify(agentID, msgType string, payload map[string]any) {
	data, err := json.Marshal(map[string]any{"type": msgType, "payload": payload})
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		client, err := NewClient(b)
		if err != nil {
			slog.Warn("bus notify client failed", "error", err)
			return
		}
		b.client = client
	}
	if err := b.client.Publish(SubjectAgent(agentID), data); err != nil {
		slog.Warn("bus notify failed", "agent", agentID, "error", err)
	}
}

// Broadcast publishes the same message type and payload to every domain
// channel.
func (b *Bus) Broadcast(msgType string, payload map[string]any) []hive.Message {
	msgs := make([]hive.Message, 0, len(hive.AllDomains()))
	for _, d := range hive.AllDomains() {
		msgs = append(msgs, b.Publish(d, msgType, payload))
	}
	return msgs
}

// History returns a copy of the domain's message log in publish order.
func (b *Bus) History(domain hive.Domain) []hive.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]hive.Message, len(b.history[domain]))
	copy(out, b.history[domain])
	return out
}

// Restore seeds a domain's history log, used when rehydrating from the
// store at startup. Messages are assumed to already be in publish order.
func (b *Bus) Restore(msgs []hive.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		b.history[m.Domain] = append(b.history[m.Domain], m)
	}
}
