package consensus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kypseli/hive/internal/bus"
	"github.com/kypseli/hive/internal/coordinator"
	"github.com/kypseli/hive/internal/hive"
	"github.com/kypseli/hive/internal/registry"
)

// Participation and approval thresholds for quorum resolution.
const (
	quorumParticipation = 0.6
	approvalShare       = 0.6
)

// DecisionStore persists decision records. A nil store keeps the engine
// purely in-memory.
type DecisionStore interface {
	SaveDecision(d *hive.Decision) error
}

// Engine collects votes on hive-wide decisions and resolves them by
// majority vote once the participation quorum is met. Approved decisions
// spawn exactly one execution task through the coordinator.
type Engine struct {
	registry    *registry.Registry
	coordinator *coordinator.Coordinator
	bus         *bus.Bus
	store       DecisionStore

	mu        sync.RWMutex
	decisions map[string]*hive.Decision
	order     []string
}

func New(reg *registry.Registry, coord *coordinator.Coordinator, b *bus.Bus, store DecisionStore) *Engine {
	return &Engine{
		registry:    reg,
		coordinator: coord,
		bus:         b,
		store:       store,
		decisions:   make(map[string]*hive.Decision),
	}
}

// Propose creates a pending decision and announces it to every domain.
func (e *Engine) Propose(question, proposerID, executionPlan string) (*hive.Decision, error) {
	if question == "" {
		return nil, fmt.Errorf("propose decision: empty question")
	}

	d := &hive.Decision{
		ID:            uuid.New().String(),
		Question:      question,
		ProposerID:    proposerID,
		ExecutionPlan: executionPlan,
		Votes:         make(map[string]hive.Vote),
		Consensus:     hive.ConsensusPending,
		CreatedAt:     time.Now().UTC(),
	}

	e.mu.Lock()
	e.decisions[d.ID] = d
	e.order = append(e.order, d.ID)
	snapshot := cloneDecision(d)
	e.mu.Unlock()

	e.persist(snapshot)

	if e.bus != nil {
		e.bus.Broadcast(hive.EventDecisionProposed, map[string]any{
			"decision_id": d.ID,
			"question":    question,
			"proposer":    proposerID,
		})
	}

	slog.Info("decision proposed", "id", d.ID, "proposer", proposerID)
	return snapshot, nil
}

// Vote records an agent's vote and evaluates quorum, all under one lock so
// two concurrent votes cannot both observe pending and double-resolve.
// Votes on unknown or resolved decisions are recorded for history where
// possible but never change an outcome; the returned bool reports whether
// the vote could still influence the decision.
func (e *Engine) Vote(decisionID, agentID string, choice hive.Vote) bool {
	if !choice.Valid() {
		return false
	}

	e.mu.Lock()
	d, ok := e.decisions[decisionID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	if d.Consensus != hive.ConsensusPending {
		// Late vote: kept for history, cannot alter the resolution.
		d.Votes[agentID] = choice
		snapshot := cloneDecision(d)
		e.mu.Unlock()
		e.persist(snapshot)
		return false
	}

	// Last write wins per agent until resolution.
	d.Votes[agentID] = choice
	resolved := e.evaluate(d)
	snapshot := cloneDecision(d)
	e.mu.Unlock()

	e.persist(snapshot)
	if resolved {
		e.announce(snapshot)
	}
	return true
}

// evaluate runs the quorum check against the current votes. Called with
// the engine lock held; returns true when the decision resolved.
//
// Participation counts abstentions; the approval share does not. The
// reject >= approve catch-all means every decision that reaches quorum
// resolves one way or the other.
func (e *Engine) evaluate(d *hive.Decision) bool {
	totalActive := e.registry.CountActive()
	if totalActive == 0 {
		return false
	}

	totalVotes := len(d.Votes)
	participation := float64(totalVotes) / float64(totalActive)
	if participation < quorumParticipation {
		return false
	}

	approve, reject := 0, 0
	for _, v := range d.Votes {
		switch v {
		case hive.VoteApprove:
			approve++
		case hive.VoteReject:
			reject++
		}
	}

	switch {
	case approve > reject && float64(approve)/float64(totalVotes) >= approvalShare:
		d.Consensus = hive.ConsensusApproved
	case reject >= approve:
		d.Consensus = hive.ConsensusRejected
	default:
		return false
	}

	now := time.Now().UTC()
	d.ResolvedAt = &now
	return true
}

// announce broadcasts the resolution and, for approvals, submits the
// follow-up execution task. Called outside the engine lock.
func (e *Engine) announce(d *hive.Decision) {
	slog.Info("decision resolved", "id", d.ID, "consensus", d.Consensus, "votes", len(d.Votes))

	if e.bus != nil {
		e.bus.Broadcast(hive.EventDecisionResolved, map[string]any{
			"decision_id": d.ID,
			"consensus":   string(d.Consensus),
		})
	}

	if d.Consensus != hive.ConsensusApproved || e.coordinator == nil {
		return
	}

	desc := fmt.Sprintf("Execute approved decision: %s", d.Question)
	if d.ExecutionPlan != "" {
		desc += "\n\nPlan: " + d.ExecutionPlan
	}
	task, err := e.coordinator.Submit(coordinator.TaskSpec{
		Type:            hive.TaskExecution,
		Priority:        hive.PriorityHigh,
		Description:     desc,
		RequiredDomains: []hive.Domain{hive.DomainOrchestration},
	})
	if err != nil {
		slog.Error("execution task submit failed", "decision", d.ID, "error", err)
		return
	}
	slog.Info("execution task created", "decision", d.ID, "task", task.ID)
}

// Get returns a snapshot of the decision, or hive.ErrNotFound.
func (e *Engine) Get(id string) (*hive.Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.decisions[id]
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", id, hive.ErrNotFound)
	}
	return cloneDecision(d), nil
}

// List returns all decisions in proposal order.
func (e *Engine) List() []hive.Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]hive.Decision, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *cloneDecision(e.decisions[id]))
	}
	return out
}

// CountPending returns the number of unresolved decisions.
func (e *Engine) CountPending() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := 0
	for _, d := range e.decisions {
		if d.Consensus == hive.ConsensusPending {
			n++
		}
	}
	return n
}

// Restore seeds the engine from persisted records without broadcasting.
func (e *Engine) Restore(decisions []hive.Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range decisions {
		if d.Votes == nil {
			d.Votes = make(map[string]hive.Vote)
		}
		if _, exists := e.decisions[d.ID]; !exists {
			e.order = append(e.order, d.ID)
		}
		stored := d
		e.decisions[d.ID] = &stored
	}
}

func (e *Engine) persist(d *hive.Decision) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveDecision(d); err != nil {
		slog.Warn("persist decision failed", "id", d.ID, "error", err)
	}
}

func cloneDecision(d *hive.Decision) *hive.Decision {
	out := *d
	out.Votes = make(map[string]hive.Vote, len(d.Votes))
	for k, v := range d.Votes {
		out.Votes[k] = v
	}
	return &out
}
