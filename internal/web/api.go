package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kypseli/hive/internal/coordinator"
	"github.com/kypseli/hive/internal/hive"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Agents
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("POST /api/agents", s.registerAgent)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)
	mux.HandleFunc("PUT /api/agents/{id}/health", s.setAgentHealth)
	mux.HandleFunc("PUT /api/agents/{id}/status", s.setAgentStatus)
	mux.HandleFunc("POST /api/agents/{id}/heartbeat", s.agentHeartbeat)

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.submitTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("POST /api/tasks/{id}/start", s.startTask)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.completeTask)
	mux.HandleFunc("POST /api/tasks/{id}/fail", s.failTask)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.cancelTask)

	// Decisions
	mux.HandleFunc("GET /api/decisions", s.listDecisions)
	mux.HandleFunc("POST /api/decisions", s.proposeDecision)
	mux.HandleFunc("GET /api/decisions/{id}", s.getDecision)
	mux.HandleFunc("POST /api/decisions/{id}/votes", s.castVote)

	// Domain channels
	mux.HandleFunc("GET /api/channels/{domain}", s.channelHistory)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
	mux.HandleFunc("GET /api/domains", s.listDomains)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("domain"); q != "" {
		d, err := hive.ParseDomain(q)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, s.orch.Registry().ListByDomain(d))
		return
	}
	writeJSON(w, s.orch.Registry().List())
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var a hive.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		jsonError(w, "invalid agent: "+err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.orch.RegisterAgent(a)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]string{"id": id})
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a := s.orch.Registry().Get(r.PathValue("id"))
	if a == nil {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, a)
}

func (s *Server) setAgentHealth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HealthScore int `json:"health_score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := s.orch.Registry().SetHealth(r.PathValue("id"), req.HealthScore); err != nil {
		respondRegistryErr(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) setAgentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status hive.AgentStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := s.orch.Registry().SetStatus(r.PathValue("id"), req.Status); err != nil {
		respondRegistryErr(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) agentHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Registry().Heartbeat(r.PathValue("id")); err != nil {
		respondRegistryErr(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.orch.Coordinator().List())
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var spec coordinator.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		jsonError(w, "invalid task spec: "+err.Error(), http.StatusBadRequest)
		return
	}
	task, err := s.orch.SubmitTask(spec)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.GetTaskStatus(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, hive.ErrNotFound) {
			jsonError(w, "task not found", http.StatusNotFound)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, task)
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	s.taskTransition(w, r, func(id string, _ string) error {
		return s.orch.Coordinator().Start(id)
	})
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	s.taskTransition(w, r, s.orch.Coordinator().Complete)
}

func (s *Server) failTask(w http.ResponseWriter, r *http.Request) {
	s.taskTransition(w, r, s.orch.Coordinator().Fail)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	s.taskTransition(w, r, func(id string, _ string) error {
		return s.orch.Coordinator().Cancel(id)
	})
}

func (s *Server) taskTransition(w http.ResponseWriter, r *http.Request, fn func(id, result string) error) {
	var req struct {
		Result string `json:"result"`
	}
	// Body is optional for transitions without a result payload.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := fn(r.PathValue("id"), req.Result); err != nil {
		if errors.Is(err, hive.ErrNotFound) {
			jsonError(w, "task not found", http.StatusNotFound)
			return
		}
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.orch.Consensus().List())
}

func (s *Server) proposeDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question      string `json:"question"`
		ProposerID    string `json:"proposer_id"`
		ExecutionPlan string `json:"execution_plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	d, err := s.orch.ProposeDecision(req.Question, req.ProposerID, req.ExecutionPlan)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, d)
}

func (s *Server) getDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.orch.Consensus().Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, hive.ErrNotFound) {
			jsonError(w, "decision not found", http.StatusNotFound)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, d)
}

// castVote mirrors the core's fire-and-forget voting contract: the
// response is 202 whether or not the vote could still influence the
// decision, with the accepted flag carrying the distinction.
func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string    `json:"agent_id"`
		Choice  hive.Vote `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	accepted := s.orch.CastVote(r.PathValue("id"), req.AgentID, req.Choice)
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]bool{"accepted": accepted})
}

func (s *Server) channelHistory(w http.ResponseWriter, r *http.Request) {
	d, err := hive.ParseDomain(r.PathValue("domain"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.orch.Bus().History(d))
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	st := s.orch.HiveStatus()
	writeJSON(w, map[string]any{
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"hive":    st,
	})
}

func (s *Server) listDomains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, hive.AllDomains())
}

func respondRegistryErr(w http.ResponseWriter, err error) {
	if errors.Is(err, hive.ErrNotFound) {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	jsonError(w, err.Error(), http.StatusBadRequest)
}
