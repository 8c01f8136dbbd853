package hive

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a task or decision id is unknown.
var ErrNotFound = errors.New("not found")

// Domain is one of the hive's fixed functional areas. The set is closed;
// domains are never created or removed at runtime.
type Domain string

const (
	DomainIntelligence  Domain = "intelligence"
	DomainOrchestration Domain = "orchestration"
	DomainPlatform      Domain = "platform"
	DomainData          Domain = "data"
	DomainSecurity      Domain = "security"
	DomainOperations    Domain = "operations"
	DomainBusiness      Domain = "business"
	DomainInterface     Domain = "interface"
)

// AllDomains returns the full domain set in its canonical order.
func AllDomains() []Domain {
	return []Domain{
		DomainIntelligence,
		DomainOrchestration,
		DomainPlatform,
		DomainData,
		DomainSecurity,
		DomainOperations,
		DomainBusiness,
		DomainInterface,
	}
}

func (d Domain) Valid() bool {
	switch d {
	case DomainIntelligence, DomainOrchestration, DomainPlatform, DomainData,
		DomainSecurity, DomainOperations, DomainBusiness, DomainInterface:
		return true
	}
	return false
}

func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown domain: %q", s)
	}
	return d, nil
}

// AgentStatus is an agent's availability state.
type AgentStatus string

const (
	AgentActive      AgentStatus = "active"
	AgentIdle        AgentStatus = "idle"
	AgentBusy        AgentStatus = "busy"
	AgentOffline     AgentStatus = "offline"
	AgentMaintenance AgentStatus = "maintenance"
)

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentActive, AgentIdle, AgentBusy, AgentOffline, AgentMaintenance:
		return true
	}
	return false
}

// EligibleHealth is the health score an agent must exceed to receive new
// task assignments.
const EligibleHealth = 70

// Agent is a registered worker scoped to exactly one domain.
type Agent struct {
	ID           string      `json:"id"`
	Domain       Domain      `json:"domain"`
	Name         string      `json:"name"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Status       AgentStatus `json:"status"`
	Priority     int         `json:"priority"`
	HealthScore  int         `json:"health_score"`
	LastActive   time.Time   `json:"last_active"`
}

// Eligible reports whether the agent may receive new task assignments.
func (a *Agent) Eligible() bool {
	return a.Status == AgentActive && a.HealthScore > EligibleHealth
}

// ClampHealth bounds a health score to [0, 100].
func ClampHealth(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// TaskType classifies a unit of hive work.
type TaskType string

const (
	TaskCoordination TaskType = "coordination"
	TaskExecution    TaskType = "execution"
	TaskAnalysis     TaskType = "analysis"
	TaskDecision     TaskType = "decision"
	TaskMonitoring   TaskType = "monitoring"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskCoordination, TaskExecution, TaskAnalysis, TaskDecision, TaskMonitoring:
		return true
	}
	return false
}

// TaskPriority orders tasks for callers; the coordinator itself treats it
// as informational.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// TaskStatus is a task's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is a unit of cross-domain work, resolved by assigning at most one
// agent per required domain.
type Task struct {
	ID              string       `json:"id"`
	Type            TaskType     `json:"type"`
	Priority        TaskPriority `json:"priority"`
	Description     string       `json:"description"`
	RequiredDomains []Domain     `json:"required_domains"`
	Deadline        *time.Time   `json:"deadline,omitempty"`
	Dependencies    []string     `json:"dependencies,omitempty"`
	Status          TaskStatus   `json:"status"`
	AssignedAgents  []string     `json:"assigned_agents,omitempty"`
	Result          string       `json:"result,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Vote is a single agent's position on a decision.
type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
	VoteAbstain Vote = "abstain"
)

func (v Vote) Valid() bool {
	return v == VoteApprove || v == VoteReject || v == VoteAbstain
}

// Consensus is a decision's resolution state.
type Consensus string

const (
	ConsensusPending  Consensus = "pending"
	ConsensusApproved Consensus = "approved"
	ConsensusRejected Consensus = "rejected"
)

// Decision is a hive-wide proposal resolved by majority vote subject to a
// participation quorum.
type Decision struct {
	ID            string          `json:"id"`
	Question      string          `json:"question"`
	ProposerID    string          `json:"proposer_id"`
	ExecutionPlan string          `json:"execution_plan,omitempty"`
	Votes         map[string]Vote `json:"votes"`
	Consensus     Consensus       `json:"consensus"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// Message is a bus notification scoped to one domain channel.
type Message struct {
	ID        string         `json:"id"`
	Domain    Domain         `json:"domain"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Event types published on domain channels.
const (
	EventAgentRegistered  = "agent_registered"
	EventTaskAssigned     = "task_assigned"
	EventTaskCompleted    = "task_completed"
	EventTaskFailed       = "task_failed"
	EventTaskCancelled    = "task_cancelled"
	EventDecisionProposed = "decision_proposed"
	EventDecisionResolved = "decision_resolved"
	EventHiveReport       = "hive_report"
)
