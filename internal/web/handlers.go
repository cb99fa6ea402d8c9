package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/localhive/localhive/internal/agent"
	"github.com/localhive/localhive/internal/memory"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports runtime status and the aggregate compliance flag.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	compliant := s.guard.Compliant()
	status := "healthy"
	if !compliant {
		status = "violations_recorded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"version":   Version,
		"compliant": compliant,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListAgents returns the redacted status of every agent.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.manager.GetAllAgents()
	out := make([]agent.Status, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.GetStatus())
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out, "count": len(out)})
}

type createAgentRequest struct {
	Role   string `json:"role"`
	UserID string `json:"user_id,omitempty"`
}

// handleCreateAgent creates an agent of the requested role.
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var role agent.Role
	switch strings.ToLower(req.Role) {
	case "admin":
		role = agent.RoleAdmin
	case "manager", "pm":
		role = agent.RoleManager
	case "worker":
		role = agent.RoleWorker
	case "guardian":
		role = agent.RoleGuardian
	default:
		writeError(w, http.StatusBadRequest, "role must be admin, manager, worker, or guardian")
		return
	}

	id, err := s.manager.CreateAgent(r.Context(), role, req.UserID, nil)
	if err != nil {
		if errors.Is(err, agent.ErrMaxAgents) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleRemoveAgent removes an agent by id.
func (s *Server) handleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	if !s.manager.RemoveAgent(r.Context(), id) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": id})
}

// handleStats returns the manager's aggregate statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.GetStats())
}

type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Model  string `json:"model,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// handleChat routes the last user message to the user's admin agent and
// waits synchronously for the cycle's final response.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var text string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			text = req.Messages[i].Content
			break
		}
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "no user message provided")
		return
	}

	admin, err := s.manager.AdminFor(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no admin agent available: "+err.Error())
		return
	}

	// Register the waiter before scheduling so a fast cycle cannot win the
	// race against it.
	s.collector.Start(admin.ID)
	if _, err := s.manager.HandleUserMessage(r.Context(), text, req.UserID); err != nil {
		s.collector.Cancel(admin.ID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response, ok := s.collector.Wait(r.Context(), admin.ID, s.chatWait)
	if !ok {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"agent_id": admin.ID,
			"status":   "processing",
			"detail":   "response not ready; subscribe to /ws for completion",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":  admin.ID,
		"response":  response,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMemorySummary reports memory statistics for one agent.
func (s *Server) handleMemorySummary(w http.ResponseWriter, r *http.Request) {
	if s.memStore == nil {
		writeError(w, http.StatusNotImplemented, "memory store not configured")
		return
	}
	id := chi.URLParam(r, "agentID")
	if _, ok := s.manager.GetAgent(id); !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	stats, err := s.memStore.Summary(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type memorySearchRequest struct {
	Query string `json:"query"`
	Type  string `json:"type,omitempty"`
	K     int    `json:"k,omitempty"`
}

// handleMemorySearch runs a term search over one agent's memory.
func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	if s.memStore == nil {
		writeError(w, http.StatusNotImplemented, "memory store not configured")
		return
	}
	id := chi.URLParam(r, "agentID")
	if _, ok := s.manager.GetAgent(id); !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	var req memorySearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	hits, err := s.memStore.Search(r.Context(), id, req.Query, memory.Type(req.Type), req.K)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits, "count": len(hits)})
}

// handleProjects lists the tracked projects and their task progress.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if s.projects == nil {
		writeError(w, http.StatusNotImplemented, "project tracking not configured")
		return
	}
	projects := s.projects.All()
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects, "count": len(projects)})
}

// handleCompliance returns the guardian's aggregate metrics.
func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.ComplianceMetrics())
}

// handleViolations lists violations from the last 24 hours.
func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	violations := s.guard.RecentViolations(24 * time.Hour)
	writeJSON(w, http.StatusOK, map[string]any{"violations": violations, "count": len(violations)})
}

// handleAcknowledge marks a violation as reviewed.
func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "violationID")
	if !s.guard.Acknowledge(id) {
		writeError(w, http.StatusNotFound, "violation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"acknowledged": id})
}
