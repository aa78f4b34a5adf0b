package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"botfleet/internal/db"
	"botfleet/internal/models"
)

type createAgentRequest struct {
	Name               string   `json:"name"`
	Description        *string  `json:"description"`
	Active             *bool    `json:"active"`
	Handle             string   `json:"handle"`
	Credential         string   `json:"credential"`
	Topics             []string `json:"topics"`
	Personality        string   `json:"personality"`
	PostCadence        int      `json:"post_cadence"`
	InteractionEnabled *bool    `json:"interaction_enabled"`
	InteractionCadence int      `json:"interaction_cadence"`
	Behavior           string   `json:"behavior"`
	Peers              []int64  `json:"peers"`
}

// agent applies the create defaults: omitted active and interaction_enabled
// both mean true.
func (req createAgentRequest) agent() models.Agent {
	active, interaction := true, true
	if req.Active != nil {
		active = *req.Active
	}
	if req.InteractionEnabled != nil {
		interaction = *req.InteractionEnabled
	}
	return models.Agent{
		Name:               req.Name,
		Description:        req.Description,
		Active:             active,
		Handle:             req.Handle,
		Credential:         req.Credential,
		Topics:             req.Topics,
		Personality:        req.Personality,
		PostCadence:        req.PostCadence,
		InteractionEnabled: interaction,
		InteractionCadence: req.InteractionCadence,
		Behavior:           models.BehaviorProfile(req.Behavior),
		Peers:              req.Peers,
	}
}

// agentView adds the credential flag the stored struct hides.
type agentView struct {
	models.Agent
	HasCredential bool `json:"has_credential"`
}

func viewOf(a models.Agent) agentView {
	return agentView{Agent: a, HasCredential: a.HasCredential()}
}

func (s *server) agentsCollectionHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			activeOnly := r.URL.Query().Get("active") == "true"
			agents, err := db.ListAgents(r.Context(), s.DB, activeOnly)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to list agents")
				return
			}
			views := make([]agentView, 0, len(agents))
			for _, a := range agents {
				views = append(views, viewOf(a))
			}
			writeJSON(w, http.StatusOK, map[string]any{"agents": views, "total": len(views)})
		case http.MethodPost:
			var req createAgentRequest
			if err := decodeBody(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json payload")
				return
			}
			a := req.agent()
			if err := a.Normalize(); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if !s.peersExist(w, r, a.Peers) {
				return
			}
			created, err := db.CreateAgent(r.Context(), s.DB, a)
			if err != nil {
				s.Logger.Error("create agent", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to create agent")
				return
			}
			s.provision(r.Context(), created.ID)
			s.Notifier.Notify(models.EventAgentCreated, *created)
			writeJSON(w, http.StatusCreated, viewOf(*created))
		default:
			methodNotAllowed(w)
		}
	})
}

func (s *server) agentScopedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID, sub, _ := strings.Cut(pathTail(r.URL.Path, "/api/v1/agents/"), "/")
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid agent id")
			return
		}
		switch sub {
		case "":
			s.agentItem(w, r, id)
		case "pause":
			s.setActive(w, r, id, false)
		case "resume":
			s.setActive(w, r, id, true)
		case "stats":
			s.agentStats(w, r, id)
		case "schedule":
			s.agentSchedule(w, r, id)
		case "actions":
			s.agentActions(w, r, id)
		case "publish":
			s.publish(w, r, id)
		case "endorse", "comment", "share", "follow":
			s.interact(w, r, id, models.ActionKind(sub))
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	})
}

func (s *server) agentItem(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		agent, ok := s.loadAgent(w, r, id)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, viewOf(*agent))
	case http.MethodPatch, http.MethodPut:
		var patch models.AgentPatch
		if err := decodeBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json payload")
			return
		}
		current, ok := s.loadAgent(w, r, id)
		if !ok {
			return
		}
		wasActive := current.Active
		if err := current.Apply(patch); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !s.peersExist(w, r, current.Peers) {
			return
		}
		updated, err := db.UpdateAgent(r.Context(), s.DB, id, patch)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusNotFound, "agent not found")
				return
			}
			s.Logger.Error("update agent", zap.Int64("agent_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to update agent")
			return
		}
		// Cadence, peer or active changes take effect on the new timers.
		// Provision of an inactive agent leaves it unscheduled.
		s.provision(r.Context(), id)
		s.Notifier.Notify(models.EventAgentUpdated, *updated)
		if updated.Active != wasActive {
			event := models.EventAgentPaused
			if updated.Active {
				event = models.EventAgentResumed
			}
			s.Notifier.Notify(event, *updated)
		}
		writeJSON(w, http.StatusOK, viewOf(*updated))
	case http.MethodDelete:
		if err := db.DeleteAgent(r.Context(), s.DB, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusNotFound, "agent not found")
				return
			}
			s.Logger.Error("delete agent", zap.Int64("agent_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to delete agent")
			return
		}
		// The row goes first: a provision racing this request finds nothing
		// to schedule, and a running tick's writes are dropped by the store.
		s.deprovision(id)
		s.Notifier.Notify(models.EventAgentDeleted, map[string]any{"id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) setActive(w http.ResponseWriter, r *http.Request, id int64, active bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	agent, err := s.changeActive(r.Context(), id, active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update agent")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*agent))
}

// changeActive flips the stored flag first so a concurrent provision reads
// the new state, then adjusts the timers and announces the change.
func (s *server) changeActive(ctx context.Context, id int64, active bool) (*models.Agent, error) {
	agent, err := db.SetAgentActive(ctx, s.DB, id, active)
	if err != nil {
		return nil, err
	}
	event := models.EventAgentResumed
	if active {
		s.provision(ctx, id)
	} else {
		s.deprovision(id)
		event = models.EventAgentPaused
	}
	s.Notifier.Notify(event, *agent)
	return agent, nil
}

func (s *server) agentStats(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok := s.loadAgent(w, r, id); !ok {
		return
	}
	stats, err := s.interactionStats(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	posts, err := db.CountActionsSince(r.Context(), s.DB, id, models.ActionPost, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":     id,
		"interactions": stats,
		"posts_24h":    posts,
	})
}

func (s *server) interactionStats(ctx context.Context, id int64) (models.InteractionStats, error) {
	if s.Fleet != nil {
		return s.Fleet.InteractionStats(ctx, id)
	}
	return db.InteractionStats(ctx, s.DB, id)
}

func (s *server) agentSchedule(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	agent, ok := s.loadAgent(w, r, id)
	if !ok {
		return
	}
	timers := []models.Concern{}
	if s.Fleet != nil {
		timers = s.Fleet.Scheduler.Timers(id)
	}
	// An agent that never posted is due on its next tick.
	due := agent.CreatedAt
	if agent.LastSelfPostAt != nil {
		due = agent.LastSelfPostAt.Add(agent.Cadence(models.ConcernPosting))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":      id,
		"active":        agent.Active,
		"timers":        timers,
		"next_post_due": due.UTC().Format(time.RFC3339),
	})
}

func (s *server) agentActions(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, offset := parseLimitOffset(r)
	items, err := db.ListActions(r.Context(), s.DB, id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list actions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": items, "limit": limit, "offset": offset})
}

func (s *server) loadAgent(w http.ResponseWriter, r *http.Request, id int64) (*models.Agent, bool) {
	agent, err := db.GetAgent(r.Context(), s.DB, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "agent not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "failed to read agent")
		return nil, false
	}
	return agent, true
}

func (s *server) peersExist(w http.ResponseWriter, r *http.Request, peers []int64) bool {
	missing, err := db.MissingAgents(r.Context(), s.DB, peers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to validate peers")
		return false
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown peer agents: %v", missing))
		return false
	}
	return true
}

// provision refreshes the agent's timers. A failure leaves the stored
// change in place and is only logged; the next restart picks it up.
func (s *server) provision(ctx context.Context, id int64) {
	if s.Fleet == nil {
		return
	}
	if err := s.Fleet.Provision(ctx, id); err != nil {
		s.Logger.Warn("provision agent", zap.Int64("agent_id", id), zap.Error(err))
	}
}

func (s *server) deprovision(id int64) {
	if s.Fleet != nil {
		s.Fleet.Deprovision(id)
	}
}
