package coordinator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kypseli/hive/internal/bus"
	"github.com/kypseli/hive/internal/hive"
	"github.com/kypseli/hive/internal/registry"
)

// TaskStore persists task records. A nil store keeps the coordinator
// purely in-memory.
type TaskStore interface {
	SaveTask(t *hive.Task) error
}

// TaskSpec describes a task submission.
type TaskSpec struct {
	Type            hive.TaskType     `json:"type"`
	Priority        hive.TaskPriority `json:"priority"`
	Description     string            `json:"description"`
	RequiredDomains []hive.Domain     `json:"required_domains"`
	Deadline        *time.Time        `json:"deadline,omitempty"`
	Dependencies    []string          `json:"dependencies,omitempty"`
}

// Coordinator owns the task lifecycle and the assignment algorithm. One
// mutex serializes submit-and-assign with every later transition so
// concurrent submissions cannot interleave the eligible-select-assign
// sequence.
type Coordinator struct {
	registry *registry.Registry
	bus      *bus.Bus
	store    TaskStore

	mu    sync.RWMutex
	tasks map[string]*hive.Task
	order []string
}

func New(reg *registry.Registry, b *bus.Bus, store TaskStore) *Coordinator {
	return &Coordinator{
		registry: reg,
		bus:      b,
		store:    store,
		tasks:    make(map[string]*hive.Task),
	}
}

// Submit creates a task and runs one synchronous assignment attempt.
// Submission never fails for lack of eligible agents: uncovered domains
// are skipped and the task degrades to a partial assignment. Only a task
// with no selected agents at all stays pending. There is no retry; callers
// resubmit if they want another attempt.
func (c *Coordinator) Submit(spec TaskSpec) (*hive.Task, error) {
	if spec.Type == "" {
		spec.Type = hive.TaskCoordination
	}
	if !spec.Type.Valid() {
		return nil, fmt.Errorf("submit task: unknown type %q", spec.Type)
	}
	if spec.Priority == "" {
		spec.Priority = hive.PriorityMedium
	}
	if !spec.Priority.Valid() {
		return nil, fmt.Errorf("submit task: unknown priority %q", spec.Priority)
	}
	if len(spec.RequiredDomains) == 0 {
		return nil, fmt.Errorf("submit task: at least one required domain")
	}

	// Dedupe while preserving the caller's domain order.
	seen := make(map[hive.Domain]bool, len(spec.RequiredDomains))
	domains := make([]hive.Domain, 0, len(spec.RequiredDomains))
	for _, d := range spec.RequiredDomains {
		if !d.Valid() {
			return nil, fmt.Errorf("submit task: unknown domain %q", d)
		}
		if !seen[d] {
			seen[d] = true
			domains = append(domains, d)
		}
	}

	task := &hive.Task{
		ID:              uuid.New().String(),
		Type:            spec.Type,
		Priority:        spec.Priority,
		Description:     spec.Description,
		RequiredDomains: domains,
		Deadline:        spec.Deadline,
		Dependencies:    spec.Dependencies,
		Status:          hive.TaskPending,
		CreatedAt:       time.Now().UTC(),
	}

	c.mu.Lock()
	c.tasks[task.ID] = task
	c.order = append(c.order, task.ID)
	selected := c.assign(task)
	snapshot := *task
	c.mu.Unlock()

	c.persist(&snapshot)

	for _, a := range selected {
		if c.bus == nil {
			break
		}
		c.bus.Publish(a.Domain, hive.EventTaskAssigned, map[string]any{
			"task_id":  task.ID,
			"agent_id": a.ID,
			"type":     string(task.Type),
			"priority": string(task.Priority),
		})
		c.bus.Notify(a.ID, hive.EventTaskAssigned, map[string]any{"task_id": task.ID})
	}

	if len(selected) < len(domains) {
		slog.Warn("task under-assigned", "id", task.ID,
			"assigned", len(selected), "required", len(domains))
	} else {
		slog.Info("task assigned", "id", task.ID, "agents", len(selected))
	}

	return &snapshot, nil
}

// assign selects the healthiest eligible agent per required domain. Ties
// go to the first agent encountered; callers wanting a different tie-break
// pre-sort their registrations. Called with the coordinator lock held.
func (c *Coordinator) assign(task *hive.Task) []hive.Agent {
	eligible := c.registry.ListEligible(task.RequiredDomains)

	byDomain := make(map[hive.Domain][]hive.Agent, len(task.RequiredDomains))
	for _, a := range eligible {
		byDomain[a.Domain] = append(byDomain[a.Domain], a)
	}

	var selected []hive.Agent
	for _, d := range task.RequiredDomains {
		candidates := byDomain[d]
		if len(candidates) == 0 {
			// No eligible agent in this domain; skip it silently.
			continue
		}
		best := candidates[0]
		for _, a := range candidates[1:] {
			if a.HealthScore > best.HealthScore {
				best = a
			}
		}
		selected = append(selected, best)
	}

	if len(selected) == 0 {
		return nil
	}

	task.AssignedAgents = make([]string, 0, len(selected))
	for _, a := range selected {
		task.AssignedAgents = append(task.AssignedAgents, a.ID)
	}
	task.Status = hive.TaskAssigned
	return selected
}

// Get returns a snapshot of the task, or hive.ErrNotFound.
func (c *Coordinator) Get(id string) (*hive.Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, hive.ErrNotFound)
	}
	snapshot := *t
	return &snapshot, nil
}

// List returns all tasks in submission order.
func (c *Coordinator) List() []hive.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]hive.Task, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.tasks[id])
	}
	return out
}

// CountByStatus returns task counts keyed by lifecycle state.
func (c *Coordinator) CountByStatus() map[hive.TaskStatus]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[hive.TaskStatus]int)
	for _, t := range c.tasks {
		counts[t.Status]++
	}
	return counts
}

// Start moves an assigned task to in_progress.
func (c *Coordinator) Start(id string) error {
	return c.transition(id, hive.TaskInProgress, "", func(s hive.TaskStatus) bool {
		return s == hive.TaskAssigned
	})
}

// Complete finishes a running task with an optional result payload.
func (c *Coordinator) Complete(id, result string) error {
	return c.transition(id, hive.TaskCompleted, result, func(s hive.TaskStatus) bool {
		return s == hive.TaskInProgress
	})
}

// Fail marks a running or assigned task as failed.
func (c *Coordinator) Fail(id, result string) error {
	return c.transition(id, hive.TaskFailed, result, func(s hive.TaskStatus) bool {
		return s == hive.TaskAssigned || s == hive.TaskInProgress
	})
}

// Cancel aborts a task that has not reached a terminal state.
func (c *Coordinator) Cancel(id string) error {
	return c.transition(id, hive.TaskCancelled, "", func(s hive.TaskStatus) bool {
		return !s.Terminal()
	})
}

func (c *Coordinator) transition(id string, to hive.TaskStatus, result string, allowed func(hive.TaskStatus) bool) error {
	c.mu.Lock()
	t, ok := c.tasks[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, hive.ErrNotFound)
	}
	if !allowed(t.Status) {
		from := t.Status
		c.mu.Unlock()
		return fmt.Errorf("task %s: invalid transition %s -> %s", id, from, to)
	}
	t.Status = to
	if result != "" {
		t.Result = result
	}
	snapshot := *t
	c.mu.Unlock()

	c.persist(&snapshot)

	event := ""
	switch to {
	case hive.TaskCompleted:
		event = hive.EventTaskCompleted
	case hive.TaskFailed:
		event = hive.EventTaskFailed
	case hive.TaskCancelled:
		event = hive.EventTaskCancelled
	}
	if event != "" && c.bus != nil {
		for _, d := range snapshot.RequiredDomains {
			c.bus.Publish(d, event, map[string]any{"task_id": id})
		}
	}

	slog.Info("task transition", "id", id, "status", to)
	return nil
}

// Restore seeds the coordinator from persisted records without emitting
// events or re-running assignment.
func (c *Coordinator) Restore(tasks []hive.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tasks {
		if _, exists := c.tasks[t.ID]; !exists {
			c.order = append(c.order, t.ID)
		}
		stored := t
		c.tasks[t.ID] = &stored
	}
}

func (c *Coordinator) persist(t *hive.Task) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveTask(t); err != nil {
		slog.Warn("persist task failed", "id", t.ID, "error", err)
	}
}
