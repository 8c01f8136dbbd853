package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/kypseli/hive/internal/bus"
	"github.com/kypseli/hive/internal/coordinator"
	"github.com/kypseli/hive/internal/hive"
	"github.com/nats-io/nats.go"
)

// IPC request/reply envelope served on bus.SubjectIPC for hivectl.

type IPCRequest struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type IPCResponse struct {
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	ID       string          `json:"id,omitempty"`
	Accepted *bool           `json:"accepted,omitempty"`
	Agents   []hive.Agent    `json:"agents,omitempty"`
	Task     *hive.Task      `json:"task,omitempty"`
	Decision *hive.Decision  `json:"decision,omitempty"`
	Status   *Status         `json:"status,omitempty"`
}

type voteRequest struct {
	DecisionID string    `json:"decision_id"`
	AgentID    string    `json:"agent_id"`
	Choice     hive.Vote `json:"choice"`
}

type proposeRequest struct {
	Question      string `json:"question"`
	ProposerID    string `json:"proposer_id"`
	ExecutionPlan string `json:"execution_plan,omitempty"`
}

type idRequest struct {
	ID string `json:"id"`
}

// ServeIPC subscribes the orchestrator to the IPC subject. The returned
// subscription is valid until the client closes.
func (o *Orchestrator) ServeIPC(client *bus.Client) (*nats.Subscription, error) {
	return client.Subscribe(bus.SubjectIPC, func(msg *nats.Msg) {
		var req IPCRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			respond(msg, IPCResponse{Error: "invalid request: " + err.Error()})
			return
		}
		respond(msg, o.handleIPC(req))
	})
}

func (o *Orchestrator) handleIPC(req IPCRequest) IPCResponse {
	switch req.Op {
	case "status":
		st := o.HiveStatus()
		return IPCResponse{OK: true, Status: &st}

	case "agents":
		return IPCResponse{OK: true, Agents: o.registry.List()}

	case "register":
		var a hive.Agent
		if err := json.Unmarshal(req.Payload, &a); err != nil {
			return IPCResponse{Error: "invalid agent: " + err.Error()}
		}
		id, err := o.RegisterAgent(a)
		if err != nil {
			return IPCResponse{Error: err.Error()}
		}
		return IPCResponse{OK: true, ID: id}

	case "submit":
		var spec coordinator.TaskSpec
		if err := json.Unmarshal(req.Payload, &spec); err != nil {
			return IPCResponse{Error: "invalid task spec: " + err.Error()}
		}
		task, err := o.SubmitTask(spec)
		if err != nil {
			return IPCResponse{Error: err.Error()}
		}
		return IPCResponse{OK: true, ID: task.ID, Task: task}

	case "task":
		var r idRequest
		if err := json.Unmarshal(req.Payload, &r); err != nil {
			return IPCResponse{Error: "invalid request: " + err.Error()}
		}
		task, err := o.GetTaskStatus(r.ID)
		if err != nil {
			if errors.Is(err, hive.ErrNotFound) {
				return IPCResponse{Error: "task not found"}
			}
			return IPCResponse{Error: err.Error()}
		}
		return IPCResponse{OK: true, Task: task}

	case "propose":
		var r proposeRequest
		if err := json.Unmarshal(req.Payload, &r); err != nil {
			return IPCResponse{Error: "invalid request: " + err.Error()}
		}
		d, err := o.ProposeDecision(r.Question, r.ProposerID, r.ExecutionPlan)
		if err != nil {
			return IPCResponse{Error: err.Error()}
		}
		return IPCResponse{OK: true, ID: d.ID, Decision: d}

	case "vote":
		var r voteRequest
		if err := json.Unmarshal(req.Payload, &r); err != nil {
			return IPCResponse{Error: "invalid request: " + err.Error()}
		}
		accepted := o.CastVote(r.DecisionID, r.AgentID, r.Choice)
		return IPCResponse{OK: true, Accepted: &accepted}

	case "decision":
		var r idRequest
		if err := json.Unmarshal(req.Payload, &r); err != nil {
			return IPCResponse{Error: "invalid request: " + err.Error()}
		}
		d, err := o.consensus.Get(r.ID)
		if err != nil {
			if errors.Is(err, hive.ErrNotFound) {
				return IPCResponse{Error: "decision not found"}
			}
			return IPCResponse{Error: err.Error()}
		}
		return IPCResponse{OK: true, Decision: d}

	default:
		return IPCResponse{Error: "unknown op: " + req.Op}
	}
}

func respond(msg *nats.Msg, resp IPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal ipc response failed", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("ipc respond failed", "error", err)
	}
}
