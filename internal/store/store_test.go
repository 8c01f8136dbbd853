package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kypseli/hive/internal/config"
	"github.com/kypseli/hive/internal/hive"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAgentCRUD(t *testing.T) {
	s := newTestStore(t)

	a := &hive.Agent{
		ID:           "scout",
		Domain:       hive.DomainIntelligence,
		Name:         "Scout",
		Capabilities: []string{"research", "summarize"},
		Status:       hive.AgentActive,
		Priority:     2,
		HealthScore:  95,
		LastActive:   time.Now().UTC(),
	}
	if err := s.SaveAgent(a); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	got, err := s.GetAgent("scout")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got == nil {
		t.Fatal("expected agent, got nil")
	}
	if got.Name != "Scout" {
		t.Errorf("expected name 'Scout', got '%s'", got.Name)
	}
	if got.Domain != hive.DomainIntelligence {
		t.Errorf("expected intelligence domain, got '%s'", got.Domain)
	}
	if len(got.Capabilities) != 2 || got.Capabilities[0] != "research" {
		t.Errorf("capabilities not round-tripped: %v", got.Capabilities)
	}
	if got.HealthScore != 95 {
		t.Errorf("expected health 95, got %d", got.HealthScore)
	}

	// List
	agents, err := s.ListAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 1 {
		t.Errorf("expected 1 agent, got %d", len(agents))
	}

	// Upsert
	a.Status = hive.AgentBusy
	a.HealthScore = 60
	if err := s.SaveAgent(a); err != nil {
		t.Fatalf("update agent: %v", err)
	}
	got, _ = s.GetAgent("scout")
	if got.Status != hive.AgentBusy || got.HealthScore != 60 {
		t.Errorf("upsert not applied: status=%s health=%d", got.Status, got.HealthScore)
	}
	agents, _ = s.ListAgents()
	if len(agents) != 1 {
		t.Errorf("upsert created duplicate row, got %d agents", len(agents))
	}

	// Not found
	got, err = s.GetAgent("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent agent")
	}
}

func TestTaskCRUD(t *testing.T) {
	s := newTestStore(t)

	deadline := time.Now().Add(time.Hour).UTC()
	task := &hive.Task{
		ID:              "t1",
		Type:            hive.TaskCoordination,
		Priority:        hive.PriorityHigh,
		Description:     "migrate the data tier",
		RequiredDomains: []hive.Domain{hive.DomainData, hive.DomainPlatform},
		Deadline:        &deadline,
		Dependencies:    []string{"t0"},
		Status:          hive.TaskPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}

	got, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.Type != hive.TaskCoordination || got.Priority != hive.PriorityHigh {
		t.Errorf("type/priority not round-tripped: %s/%s", got.Type, got.Priority)
	}
	if len(got.RequiredDomains) != 2 || got.RequiredDomains[0] != hive.DomainData {
		t.Errorf("required domains not round-tripped: %v", got.RequiredDomains)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "t0" {
		t.Errorf("dependencies not round-tripped: %v", got.Dependencies)
	}
	if got.Deadline == nil {
		t.Error("expected deadline to survive")
	}

	// Status transition persists through the upsert path.
	task.Status = hive.TaskAssigned
	task.AssignedAgents = []string{"scout", "builder"}
	if err := s.SaveTask(task); err != nil {
		t.Fatalf("update task: %v", err)
	}
	got, _ = s.GetTask("t1")
	if got.Status != hive.TaskAssigned {
		t.Errorf("expected assigned, got %s", got.Status)
	}
	if len(got.AssignedAgents) != 2 {
		t.Errorf("assigned agents not round-tripped: %v", got.AssignedAgents)
	}

	tasks, err := s.ListTasks()
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("expected 1 task, got %d", len(tasks))
	}

	got, err = s.GetTask("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing task")
	}
}

func TestDecisionCRUD(t *testing.T) {
	s := newTestStore(t)

	d := &hive.Decision{
		ID:         "d1",
		Question:   "adopt the new protocol?",
		ProposerID: "scout",
		Votes:      map[string]hive.Vote{"scout": hive.VoteApprove},
		Consensus:  hive.ConsensusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.SaveDecision(d); err != nil {
		t.Fatalf("save decision: %v", err)
	}

	got, err := s.GetDecision("d1")
	if err != nil {
		t.Fatalf("get decision: %v", err)
	}
	if got == nil {
		t.Fatal("expected decision, got nil")
	}
	if got.Question != d.Question {
		t.Errorf("question not round-tripped: %q", got.Question)
	}
	if got.Votes["scout"] != hive.VoteApprove {
		t.Errorf("votes not round-tripped: %v", got.Votes)
	}
	if got.ResolvedAt != nil {
		t.Error("expected nil resolved_at for pending decision")
	}

	// Resolve and re-save.
	now := time.Now().UTC()
	d.Votes["builder"] = hive.VoteApprove
	d.Consensus = hive.ConsensusApproved
	d.ResolvedAt = &now
	if err := s.SaveDecision(d); err != nil {
		t.Fatalf("update decision: %v", err)
	}
	got, _ = s.GetDecision("d1")
	if got.Consensus != hive.ConsensusApproved {
		t.Errorf("expected approved, got %s", got.Consensus)
	}
	if got.ResolvedAt == nil {
		t.Error("expected resolved_at to survive")
	}
	if len(got.Votes) != 2 {
		t.Errorf("expected 2 votes, got %d", len(got.Votes))
	}

	decisions, err := s.ListDecisions()
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	if len(decisions) != 1 {
		t.Errorf("expected 1 decision, got %d", len(decisions))
	}
}

func TestMessageLog(t *testing.T) {
	s := newTestStore(t)

	for i, id := range []string{"m1", "m2", "m3"} {
		m := &hive.Message{
			ID:        id,
			Domain:    hive.DomainData,
			Type:      "seq",
			Payload:   map[string]any{"n": i},
			Timestamp: time.Now().UTC(),
		}
		if err := s.SaveMessage(m); err != nil {
			t.Fatalf("save message %s: %v", id, err)
		}
	}
	if err := s.SaveMessage(&hive.Message{
		ID:        "other",
		Domain:    hive.DomainSecurity,
		Type:      "noise",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("save message: %v", err)
	}

	msgs, err := s.ListMessages()
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}

	// Insert order survives via the seq column.
	data, err := s.ListMessagesByDomain(hive.DomainData)
	if err != nil {
		t.Fatalf("list by domain: %v", err)
	}
	if len(data) != 3 {
		t.Fatalf("expected 3 data messages, got %d", len(data))
	}
	for i, id := range []string{"m1", "m2", "m3"} {
		if data[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, data[i].ID)
		}
	}

	// Duplicate IDs are ignored, not errors.
	if err := s.SaveMessage(&hive.Message{ID: "m1", Domain: hive.DomainData, Type: "dup", Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("duplicate save: %v", err)
	}
	data, _ = s.ListMessagesByDomain(hive.DomainData)
	if len(data) != 3 {
		t.Errorf("duplicate id created a new row, got %d messages", len(data))
	}
}
