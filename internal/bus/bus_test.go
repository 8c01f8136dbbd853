package bus

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kypseli/hive/internal/config"
	"github.com/kypseli/hive/internal/hive"
	"github.com/nats-io/nats.go"
)

// orderStore records the ids it was asked to persist, in call order.
type orderStore struct {
	mu  sync.Mutex
	ids []string
}

func (s *orderStore) SaveMessage(m *hive.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, m.ID)
	return nil
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b, err := New(config.NATSConfig{
		Port:    0, // Random port
		DataDir: t.TempDir(),
	}, nil)
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestBusStartStop(t *testing.T) {
	b := newTestBus(t)
	if b.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPublishAppendsHistory(t *testing.T) {
	b := newTestBus(t)

	msg := b.Publish(hive.DomainData, hive.EventTaskAssigned, map[string]any{"task_id": "t1"})
	if msg.ID == "" {
		t.Error("expected generated message id")
	}
	if msg.Domain != hive.DomainData {
		t.Errorf("expected data domain, got %q", msg.Domain)
	}

	history := b.History(hive.DomainData)
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	if history[0].ID != msg.ID {
		t.Error("history entry does not match published message")
	}

	if got := b.History(hive.DomainSecurity); len(got) != 0 {
		t.Errorf("expected empty security history, got %d messages", len(got))
	}
}

func TestHistoryFIFOOrder(t *testing.T) {
	b := newTestBus(t)

	for i := 0; i < 5; i++ {
		b.Publish(hive.DomainPlatform, "seq", map[string]any{"n": i})
	}

	history := b.History(hive.DomainPlatform)
	if len(history) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(history))
	}
	for i, m := range history {
		if n, ok := m.Payload["n"].(int); !ok || n != i {
			t.Errorf("position %d: expected payload n=%d, got %v", i, i, m.Payload["n"])
		}
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	b := newTestBus(t)

	b.Publish(hive.DomainOperations, "probe", nil)
	history := b.History(hive.DomainOperations)
	history[0].Type = "mutated"

	if got := b.History(hive.DomainOperations); got[0].Type != "probe" {
		t.Error("mutating the returned slice changed internal history")
	}
}

func TestBroadcastReachesAllDomains(t *testing.T) {
	b := newTestBus(t)

	msgs := b.Broadcast(hive.EventHiveReport, map[string]any{"agents": 3})
	if len(msgs) != len(hive.AllDomains()) {
		t.Fatalf("expected %d messages, got %d", len(hive.AllDomains()), len(msgs))
	}
	for _, d := range hive.AllDomains() {
		if len(b.History(d)) != 1 {
			t.Errorf("domain %q missing broadcast message", d)
		}
	}
}

func TestPublishMirrorsToNATS(t *testing.T) {
	b := newTestBus(t)

	client, err := NewClient(b)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan hive.Message, 1)
	_, err = client.Subscribe(SubjectDomain(hive.DomainIntelligence), func(msg *nats.Msg) {
		var m hive.Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			t.Errorf("unmarshal: %v", err)
			return
		}
		received <- m
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	client.Flush()

	sent := b.Publish(hive.DomainIntelligence, hive.EventAgentRegistered, map[string]any{"agent_id": "a1"})

	select {
	case got := <-received:
		if got.ID != sent.ID {
			t.Errorf("expected message %s, got %s", sent.ID, got.ID)
		}
		if got.Type != hive.EventAgentRegistered {
			t.Errorf("expected type %q, got %q", hive.EventAgentRegistered, got.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for mirrored message")
	}
}

func TestWildcardSubscriptionSeesEveryDomain(t *testing.T) {
	b := newTestBus(t)

	client, err := NewClient(b)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 16)
	_, err = client.Subscribe(SubjectEventsAll, func(msg *nats.Msg) {
		received <- msg.Subject
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	client.Flush()

	b.Publish(hive.DomainData, "a", nil)
	b.Publish(hive.DomainSecurity, "b", nil)

	subjects := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case s := <-received:
			subjects[s] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for wildcard delivery")
		}
	}
	if !subjects[SubjectDomain(hive.DomainData)] || !subjects[SubjectDomain(hive.DomainSecurity)] {
		t.Errorf("expected both domain subjects, got %v", subjects)
	}
}

func TestConcurrentPublishPersistsInLogOrder(t *testing.T) {
	store := &orderStore{}
	b, err := New(config.NATSConfig{Port: 0, DataDir: t.TempDir()}, store)
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(b.Close)

	const workers, perWorker = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				b.Publish(hive.DomainData, "race", nil)
			}
		}()
	}
	wg.Wait()

	history := b.History(hive.DomainData)
	if len(history) != workers*perWorker {
		t.Fatalf("expected %d messages, got %d", workers*perWorker, len(history))
	}

	// Whatever interleaving happened, the store must have seen the exact
	// sequence the log recorded, or a rehydrated history would reorder.
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.ids) != len(history) {
		t.Fatalf("store saw %d messages, log has %d", len(store.ids), len(history))
	}
	for i, m := range history {
		if store.ids[i] != m.ID {
			t.Fatalf("position %d: store has %s, log has %s", i, store.ids[i], m.ID)
		}
	}
}

func TestRestoreSeedsHistory(t *testing.T) {
	b := newTestBus(t)

	b.Restore([]hive.Message{
		{ID: "m1", Domain: hive.DomainBusiness, Type: "old", Timestamp: time.Now().UTC()},
		{ID: "m2", Domain: hive.DomainBusiness, Type: "older", Timestamp: time.Now().UTC()},
	})

	history := b.History(hive.DomainBusiness)
	if len(history) != 2 {
		t.Fatalf("expected 2 restored messages, got %d", len(history))
	}
	if history[0].ID != "m1" || history[1].ID != "m2" {
		t.Error("restored messages out of order")
	}
}

func TestNotifyAgentInbox(t *testing.T) {
	b := newTestBus(t)

	client, err := NewClient(b)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan []byte, 1)
	_, err = client.Subscribe(SubjectAgent("worker-1"), func(msg *nats.Msg) {
		received <- msg.Data
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	client.Flush()

	b.Notify("worker-1", hive.EventTaskAssigned, map[string]any{"task_id": "t1"})

	select {
	case data := <-received:
		var env struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Type != hive.EventTaskAssigned || env.Payload["task_id"] != "t1" {
			t.Errorf("unexpected notification: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}

	// Direct notifications never touch the history logs.
	for _, d := range hive.AllDomains() {
		if len(b.History(d)) != 0 {
			t.Fatalf("notify leaked into %q history", d)
		}
	}
}

func TestRequestReply(t *testing.T) {
	b := newTestBus(t)

	client, err := NewClient(b)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	_, err = client.Subscribe("test.echo", func(msg *nats.Msg) {
		msg.Respond(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	client.Flush()

	reply, err := client.Request("test.echo", []byte("ping"), 2*time.Second)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if string(reply.Data) != "ping" {
		t.Errorf("expected 'ping', got %q", reply.Data)
	}
}
