package orchestrator

import (
	"fmt"
	"time"

	"github.com/kypseli/hive/internal/bus"
	"github.com/kypseli/hive/internal/consensus"
	"github.com/kypseli/hive/internal/coordinator"
	"github.com/kypseli/hive/internal/hive"
	"github.com/kypseli/hive/internal/registry"
	"github.com/kypseli/hive/internal/store"
)

// Orchestrator ties the registry, task coordinator and consensus engine
// into one hive instance. It is an explicit context object: construct as
// many independent hives as needed, nothing is shared between them.
type Orchestrator struct {
	bus         *bus.Bus
	store       *store.Store
	registry    *registry.Registry
	coordinator *coordinator.Coordinator
	consensus   *consensus.Engine
}

// New wires a hive from its collaborators. The store may be nil for a
// purely in-memory hive (tests, embedding as a library).
func New(b *bus.Bus, s *store.Store) *Orchestrator {
	var (
		agentStore    registry.AgentStore
		taskStore     coordinator.TaskStore
		decisionStore consensus.DecisionStore
	)
	if s != nil {
		agentStore = s
		taskStore = s
		decisionStore = s
	}

	reg := registry.New(b, agentStore)
	coord := coordinator.New(reg, b, taskStore)
	eng := consensus.New(reg, coord, b, decisionStore)

	return &Orchestrator{
		bus:         b,
		store:       s,
		registry:    reg,
		coordinator: coord,
		consensus:   eng,
	}
}

func (o *Orchestrator) Registry() *registry.Registry          { return o.registry }
func (o *Orchestrator) Coordinator() *coordinator.Coordinator { return o.coordinator }
func (o *Orchestrator) Consensus() *consensus.Engine          { return o.consensus }
func (o *Orchestrator) Bus() *bus.Bus                         { return o.bus }

// RegisterAgent upserts an agent and returns its id.
func (o *Orchestrator) RegisterAgent(a hive.Agent) (string, error) {
	return o.registry.Register(a)
}

// SubmitTask creates a task and attempts assignment once.
func (o *Orchestrator) SubmitTask(spec coordinator.TaskSpec) (*hive.Task, error) {
	return o.coordinator.Submit(spec)
}

// GetTaskStatus returns a task snapshot or hive.ErrNotFound.
func (o *Orchestrator) GetTaskStatus(id string) (*hive.Task, error) {
	return o.coordinator.Get(id)
}

// ProposeDecision opens a hive-wide vote.
func (o *Orchestrator) ProposeDecision(question, proposerID, executionPlan string) (*hive.Decision, error) {
	return o.consensus.Propose(question, proposerID, executionPlan)
}

// CastVote records a vote. The returned bool reports whether the vote
// could still influence the decision; votes on unknown or resolved
// decisions are no-ops.
func (o *Orchestrator) CastVote(decisionID, agentID string, choice hive.Vote) bool {
	return o.consensus.Vote(decisionID, agentID, choice)
}

// DomainStatus aggregates one domain's agents.
type DomainStatus struct {
	Agents        int     `json:"agents"`
	Active        int     `json:"active"`
	AverageHealth float64 `json:"average_health"`
}

// Status is the hive-wide aggregate snapshot.
type Status struct {
	Domains          map[hive.Domain]DomainStatus `json:"domains"`
	TotalAgents      int                          `json:"total_agents"`
	ActiveAgents     int                          `json:"active_agents"`
	PendingTasks     int                          `json:"pending_tasks"`
	AssignedTasks    int                          `json:"assigned_tasks"`
	InProgressTasks  int                          `json:"in_progress_tasks"`
	PendingDecisions int                          `json:"pending_decisions"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

// HiveStatus returns per-domain agent counts and health plus task and
// decision counters.
func (o *Orchestrator) HiveStatus() Status {
	st := Status{
		Domains:   make(map[hive.Domain]DomainStatus, len(hive.AllDomains())),
		UpdatedAt: time.Now().UTC(),
	}
	for _, d := range hive.AllDomains() {
		st.Domains[d] = DomainStatus{}
	}

	healthSums := make(map[hive.Domain]int)
	for _, a := range o.registry.List() {
		ds := st.Domains[a.Domain]
		ds.Agents++
		if a.Status == hive.AgentActive {
			ds.Active++
			st.ActiveAgents++
		}
		healthSums[a.Domain] += a.HealthScore
		st.Domains[a.Domain] = ds
		st.TotalAgents++
	}
	for d, ds := range st.Domains {
		if ds.Agents > 0 {
			ds.AverageHealth = float64(healthSums[d]) / float64(ds.Agents)
			st.Domains[d] = ds
		}
	}

	counts := o.coordinator.CountByStatus()
	st.PendingTasks = counts[hive.TaskPending]
	st.AssignedTasks = counts[hive.TaskAssigned]
	st.InProgressTasks = counts[hive.TaskInProgress]
	st.PendingDecisions = o.consensus.CountPending()

	return st
}

// Rehydrate reloads agents, tasks, decisions and bus history from the
// store. Call once at startup, before serving traffic.
func (o *Orchestrator) Rehydrate() error {
	if o.store == nil {
		return nil
	}

	agents, err := o.store.ListAgents()
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	o.registry.Restore(agents)

	tasks, err := o.store.ListTasks()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	o.coordinator.Restore(tasks)

	decisions, err := o.store.ListDecisions()
	if err != nil {
		return fmt.Errorf("load decisions: %w", err)
	}
	o.consensus.Restore(decisions)

	if o.bus != nil {
		msgs, err := o.store.ListMessages()
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		o.bus.Restore(msgs)
	}

	return nil
}
