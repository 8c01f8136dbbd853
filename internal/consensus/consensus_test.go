package consensus

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kypseli/hive/internal/coordinator"
	"github.com/kypseli/hive/internal/hive"
	"github.com/kypseli/hive/internal/registry"
)

func newTestEngine(t *testing.T, activeAgents int) (*Engine, *coordinator.Coordinator, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil, nil)
	for i := 0; i < activeAgents; i++ {
		reg.Register(hive.Agent{
			ID:     fmt.Sprintf("agent-%d", i),
			Domain: hive.DomainOrchestration,
			Name:   fmt.Sprintf("agent %d", i),
		})
	}
	coord := coordinator.New(reg, nil, nil)
	return New(reg, coord, nil, nil), coord, reg
}

func TestProposeValidation(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	if _, err := e.Propose("", "agent-0", ""); err == nil {
		t.Error("expected error for empty question")
	}
}

func TestBelowQuorumStaysPending(t *testing.T) {
	e, _, _ := newTestEngine(t, 5)

	d, err := e.Propose("migrate the data tier?", "agent-0", "")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	// 2/5 = 0.4 participation: unanimous approval must not resolve.
	e.Vote(d.ID, "agent-0", hive.VoteApprove)
	e.Vote(d.ID, "agent-1", hive.VoteApprove)

	got, _ := e.Get(d.ID)
	if got.Consensus != hive.ConsensusPending {
		t.Errorf("expected pending below quorum, got %q", got.Consensus)
	}
	if got.ResolvedAt != nil {
		t.Error("expected no resolution timestamp")
	}
}

func TestUnanimousApprovalAtQuorum(t *testing.T) {
	e, coord, _ := newTestEngine(t, 5)

	d, _ := e.Propose("adopt the new protocol?", "agent-0", "roll out in stages")

	e.Vote(d.ID, "agent-0", hive.VoteApprove)
	e.Vote(d.ID, "agent-1", hive.VoteApprove)
	e.Vote(d.ID, "agent-2", hive.VoteApprove)

	got, _ := e.Get(d.ID)
	if got.Consensus != hive.ConsensusApproved {
		t.Fatalf("expected approved at 0.6 participation, got %q", got.Consensus)
	}
	if got.ResolvedAt == nil {
		t.Error("expected resolution timestamp")
	}

	// Exactly one execution task in the orchestration domain.
	tasks := coord.List()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 execution task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Type != hive.TaskExecution {
		t.Errorf("expected execution task, got %q", task.Type)
	}
	if task.Priority != hive.PriorityHigh {
		t.Errorf("expected high priority, got %q", task.Priority)
	}
	if len(task.RequiredDomains) != 1 || task.RequiredDomains[0] != hive.DomainOrchestration {
		t.Errorf("expected orchestration domain, got %v", task.RequiredDomains)
	}
}

func TestMajorityApproval(t *testing.T) {
	e, _, _ := newTestEngine(t, 5)

	d, _ := e.Propose("expand to a second region?", "agent-0", "")

	// 2 approve vs 1 reject: participation 0.6, approve share 0.66.
	e.Vote(d.ID, "agent-0", hive.VoteApprove)
	e.Vote(d.ID, "agent-1", hive.VoteApprove)
	e.Vote(d.ID, "agent-2", hive.VoteReject)

	got, _ := e.Get(d.ID)
	if got.Consensus != hive.ConsensusApproved {
		t.Errorf("expected approved at 2/3 share, got %q", got.Consensus)
	}
}

func TestSplitVoteRejects(t *testing.T) {
	// Evaluation runs after every vote, so the denominator must keep the
	// decision below quorum until the vote split is complete: with 6 active
	// agents the first three votes sit at 0.5 participation.
	e, coord, _ := newTestEngine(t, 6)

	d, _ := e.Propose("rewrite the scheduler?", "agent-0", "big plan")

	e.Vote(d.ID, "agent-0", hive.VoteApprove)
	e.Vote(d.ID, "agent-1", hive.VoteApprove)
	e.Vote(d.ID, "agent-2", hive.VoteReject)

	got, _ := e.Get(d.ID)
	if got.Consensus != hive.ConsensusPending {
		t.Fatalf("expected pending at 0.5 participation, got %q", got.Consensus)
	}

	// 4th vote reaches quorum with 2 approve vs 2 reject: approve share
	// 0.5, reject >= approve.
	e.Vote(d.ID, "agent-3", hive.VoteReject)

	got, _ = e.Get(d.ID)
	if got.Consensus != hive.ConsensusRejected {
		t.Errorf("expected rejected on split vote, got %q", got.Consensus)
	}
	if len(coord.List()) != 0 {
		t.Error("rejected decision must not create tasks")
	}
}

func TestAbstainCountsForParticipationOnly(t *testing.T) {
	e, _, _ := newTestEngine(t, 5)

	d, _ := e.Propose("pause hiring?", "agent-0", "")

	// 2 approve + 1 abstain: participation 0.6, approve share 2/3,
	// approve (2) > reject (0).
	e.Vote(d.ID, "agent-0", hive.VoteApprove)
	e.Vote(d.ID, "agent-1", hive.VoteApprove)
	e.Vote(d.ID, "agent-2", hive.VoteAbstain)

	got, _ := e.Get(d.ID)
	if got.Consensus != hive.ConsensusApproved {
		t.Errorf("expected approved with abstention, got %q", got.Consensus)
	}
}

func TestAllAbstainRejects(t *testing.T) {
	e, _, _ := newTestEngine(t, 5)

	d, _ := e.Propose("keep the status quo?", "agent-0", "")

	e.Vote(d.ID, "agent-0", hive.VoteAbstain)
	e.Vote(d.ID, "agent-1", hive.VoteAbstain)
	e.Vote(d.ID, "agent-2", hive.VoteAbstain)

	// approve == reject == 0 lands in the reject >= approve catch-all.
	got, _ := e.Get(d.ID)
	if got.Consensus != hive.ConsensusRejected {
		t.Errorf("expected rejected on all-abstain quorum, got %q", got.Consensus)
	}
}

func TestResolutionIsMonotonic(t *testing.T) {
	e, _, _ := newTestEngine(t, 5)

	d, _ := e.Propose("archive old projects?", "agent-0", "")

	for _, id := range []string{"agent-0", "agent-1", "agent-2"} {
		e.Vote(d.ID, id, hive.VoteApprove)
	}
	resolved, _ := e.Get(d.ID)
	if resolved.Consensus != hive.ConsensusApproved {
		t.Fatalf("expected approved, got %q", resolved.Consensus)
	}
	resolvedAt := *resolved.ResolvedAt

	// Late rejections are history only.
	if e.Vote(d.ID, "agent-3", hive.VoteReject) {
		t.Error("expected late vote to report not accepted")
	}
	if e.Vote(d.ID, "agent-4", hive.VoteReject) {
		t.Error("expected late vote to report not accepted")
	}

	got, _ := e.Get(d.ID)
	if got.Consensus != hive.ConsensusApproved {
		t.Errorf("late votes changed consensus to %q", got.Consensus)
	}
	if !got.ResolvedAt.Equal(resolvedAt) {
		t.Error("late votes changed resolution timestamp")
	}
	if len(got.Votes) != 5 {
		t.Errorf("expected 5 votes kept for history, got %d", len(got.Votes))
	}
}

func TestVoteUnknownDecision(t *testing.T) {
	e, _, _ := newTestEngine(t, 2)
	if e.Vote("missing", "agent-0", hive.VoteApprove) {
		t.Error("expected vote on unknown decision to be a no-op")
	}
}

func TestVoteLastWriteWins(t *testing.T) {
	e, _, _ := newTestEngine(t, 5)

	d, _ := e.Propose("switch vendors?", "agent-0", "")

	e.Vote(d.ID, "agent-0", hive.VoteReject)
	e.Vote(d.ID, "agent-0", hive.VoteApprove) // changed their mind

	got, _ := e.Get(d.ID)
	if got.Votes["agent-0"] != hive.VoteApprove {
		t.Errorf("expected last write to win, got %q", got.Votes["agent-0"])
	}
	if len(got.Votes) != 1 {
		t.Errorf("expected a single vote entry, got %d", len(got.Votes))
	}
}

func TestNoActiveAgentsStaysPending(t *testing.T) {
	e, _, reg := newTestEngine(t, 1)
	reg.SetStatus("agent-0", hive.AgentOffline)

	d, _ := e.Propose("anyone home?", "agent-0", "")
	e.Vote(d.ID, "agent-0", hive.VoteApprove)

	got, _ := e.Get(d.ID)
	if got.Consensus != hive.ConsensusPending {
		t.Errorf("expected pending with zero active agents, got %q", got.Consensus)
	}
}

func TestApprovalWithoutPlanStillCreatesTask(t *testing.T) {
	e, coord, _ := newTestEngine(t, 3)

	d, _ := e.Propose("enable weekly reports?", "agent-0", "")
	e.Vote(d.ID, "agent-0", hive.VoteApprove)
	e.Vote(d.ID, "agent-1", hive.VoteApprove)

	got, _ := e.Get(d.ID)
	if got.Consensus != hive.ConsensusApproved {
		t.Fatalf("expected approved, got %q", got.Consensus)
	}
	if len(coord.List()) != 1 {
		t.Errorf("expected exactly one execution task, got %d", len(coord.List()))
	}
}

func TestGetUnknownDecision(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	if _, err := e.Get("missing"); !errors.Is(err, hive.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCountPending(t *testing.T) {
	e, _, _ := newTestEngine(t, 5)

	a, _ := e.Propose("first?", "agent-0", "")
	e.Propose("second?", "agent-0", "")

	for _, id := range []string{"agent-0", "agent-1", "agent-2"} {
		e.Vote(a.ID, id, hive.VoteApprove)
	}

	if got := e.CountPending(); got != 1 {
		t.Errorf("expected 1 pending decision, got %d", got)
	}
}
