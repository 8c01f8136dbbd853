package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kypseli/hive/internal/bus"
	"github.com/kypseli/hive/internal/hive"
)

// AgentStore persists agent records. A nil store keeps the registry purely
// in-memory.
type AgentStore interface {
	SaveAgent(a *hive.Agent) error
}

// Registry is the source of truth for agent existence and health. The
// in-memory map is authoritative; the store is a write-through backing for
// restarts.
type Registry struct {
	bus   *bus.Bus
	store AgentStore

	mu     sync.RWMutex
	agents map[string]*hive.Agent
	order  []string // insertion order for stable listings
}

func New(b *bus.Bus, store AgentStore) *Registry {
	return &Registry{
		bus:    b,
		store:  store,
		agents: make(map[string]*hive.Agent),
	}
}

// Register inserts or replaces an agent record keyed by id. Re-registration
// is an idempotent upsert. Missing fields get defaults: a generated id,
// status active, health 100, priority 1. Health scores are clamped to
// [0, 100]. Registration is announced on the agent's domain channel.
func (r *Registry) Register(a hive.Agent) (string, error) {
	if !a.Domain.Valid() {
		return "", fmt.Errorf("register agent: unknown domain %q", a.Domain)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = hive.AgentActive
	}
	if !a.Status.Valid() {
		return "", fmt.Errorf("register agent: unknown status %q", a.Status)
	}
	if a.HealthScore == 0 {
		a.HealthScore = 100
	}
	a.HealthScore = hive.ClampHealth(a.HealthScore)
	if a.Priority < 1 {
		a.Priority = 1
	}
	a.LastActive = time.Now().UTC()

	r.mu.Lock()
	if _, exists := r.agents[a.ID]; !exists {
		r.order = append(r.order, a.ID)
	}
	stored := a
	r.agents[a.ID] = &stored
	r.mu.Unlock()

	r.persist(&a)

	if r.bus != nil {
		r.bus.Publish(a.Domain, hive.EventAgentRegistered, map[string]any{
			"agent_id": a.ID,
			"name":     a.Name,
			"health":   a.HealthScore,
		})
	}

	slog.Info("agent registered", "id", a.ID, "domain", a.Domain, "health", a.HealthScore)
	return a.ID, nil
}

// Get returns a snapshot of the agent, or nil if unknown.
func (r *Registry) Get(id string) *hive.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil
	}
	snapshot := *a
	return &snapshot
}

// List returns all agents in registration order.
func (r *Registry) List() []hive.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]hive.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.agents[id])
	}
	return out
}

// ListByDomain returns all agents in the given domain, in no guaranteed
// order.
func (r *Registry) ListByDomain(d hive.Domain) []hive.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []hive.Agent
	for _, id := range r.order {
		if a := r.agents[id]; a.Domain == d {
			out = append(out, *a)
		}
	}
	return out
}

// ListEligible returns agents from the given domains that may receive new
// task assignments: status active and health score above the threshold.
func (r *Registry) ListEligible(domains []hive.Domain) []hive.Agent {
	wanted := make(map[hive.Domain]bool, len(domains))
	for _, d := range domains {
		wanted[d] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []hive.Agent
	for _, id := range r.order {
		a := r.agents[id]
		if wanted[a.Domain] && a.Eligible() {
			out = append(out, *a)
		}
	}
	return out
}

// CountActive returns the number of active agents across the whole
// registry, used as the quorum denominator.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, a := range r.agents {
		if a.Status == hive.AgentActive {
			n++
		}
	}
	return n
}

// SetHealth updates an agent's health score, clamped to [0, 100].
func (r *Registry) SetHealth(id string, score int) error {
	return r.update(id, func(a *hive.Agent) {
		a.HealthScore = hive.ClampHealth(score)
		a.LastActive = time.Now().UTC()
	})
}

// SetStatus moves an agent to a new availability state.
func (r *Registry) SetStatus(id string, status hive.AgentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set status: unknown status %q", status)
	}
	return r.update(id, func(a *hive.Agent) {
		a.Status = status
		a.LastActive = time.Now().UTC()
	})
}

// Heartbeat refreshes an agent's last-active timestamp.
func (r *Registry) Heartbeat(id string) error {
	return r.update(id, func(a *hive.Agent) {
		a.LastActive = time.Now().UTC()
	})
}

// MarkOfflineBefore moves active agents whose last heartbeat is older than
// the cutoff to offline, returning the ids it touched. Used by the
// maintenance sweeper.
func (r *Registry) MarkOfflineBefore(cutoff time.Time) []string {
	r.mu.Lock()
	var stale []hive.Agent
	for _, a := range r.agents {
		if a.Status == hive.AgentActive && a.LastActive.Before(cutoff) {
			a.Status = hive.AgentOffline
			stale = append(stale, *a)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for i := range stale {
		r.persist(&stale[i])
		ids = append(ids, stale[i].ID)
	}
	return ids
}

// Restore seeds the registry from persisted records without emitting
// events, used when rehydrating at startup.
func (r *Registry) Restore(agents []hive.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range agents {
		a.HealthScore = hive.ClampHealth(a.HealthScore)
		if _, exists := r.agents[a.ID]; !exists {
			r.order = append(r.order, a.ID)
		}
		stored := a
		r.agents[a.ID] = &stored
	}
}

func (r *Registry) update(id string, fn func(a *hive.Agent)) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agent %s: %w", id, hive.ErrNotFound)
	}
	fn(a)
	snapshot := *a
	r.mu.Unlock()

	r.persist(&snapshot)
	return nil
}

func (r *Registry) persist(a *hive.Agent) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveAgent(a); err != nil {
		slog.Warn("persist agent failed", "id", a.ID, "error", err)
	}
}
