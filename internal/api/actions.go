package api

import (
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"botfleet/internal/db"
	"botfleet/internal/fleet"
	"botfleet/internal/models"
)

func (s *server) actionsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		q, err := parseActionQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		items, err := db.RecentActions(r.Context(), s.DB, q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list actions")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"actions": items, "limit": q.Limit})
	})
}

func parseActionQuery(r *http.Request) (models.ActionQuery, error) {
	limit, _ := parseLimitOffset(r)
	params := r.URL.Query()
	q := models.ActionQuery{
		Limit:        limit,
		TargetedOnly: params.Get("targeted") == "true",
	}
	if raw := strings.TrimSpace(params.Get("agent_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return q, errors.New("invalid agent_id")
		}
		q.AgentID = id
	}
	if raw := strings.TrimSpace(params.Get("kind")); raw != "" {
		kind, err := models.ParseActionKind(raw)
		if err != nil {
			return q, errors.New("invalid kind filter")
		}
		q.Kind = kind
	}
	if raw := strings.TrimSpace(params.Get("outcome")); raw != "" {
		outcome, err := models.ParseOutcome(raw)
		if err != nil {
			return q, errors.New("invalid outcome filter")
		}
		q.Outcome = outcome
	}
	return q, nil
}

type generateRequest struct {
	Topic   string `json:"topic"`
	Tone    string `json:"tone"`
	AgentID *int64 `json:"agent_id"`
}

// generateHandler produces text without publishing it. When an agent is
// named the attempt is recorded as a generate action for that agent.
func (s *server) generateHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req generateRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json payload")
			return
		}
		topic := strings.TrimSpace(req.Topic)
		if topic == "" {
			topic = models.DefaultTopic
		}
		tone := strings.TrimSpace(req.Tone)
		if req.AgentID != nil {
			agent, ok := s.loadAgent(w, r, *req.AgentID)
			if !ok {
				return
			}
			if tone == "" {
				tone = fleet.Tone(*agent)
			}
		}
		if tone == "" {
			tone = models.DefaultPersonality
		}
		if s.Content == nil {
			writeError(w, http.StatusServiceUnavailable, "content generation is not configured")
			return
		}

		text, genErr := s.Content.Generate(r.Context(), topic, tone)
		if req.AgentID != nil && s.Fleet != nil {
			s.Fleet.Executor.Record(r.Context(), *req.AgentID, fleet.Action{
				Kind:     models.ActionGenerate,
				Content:  text,
				Metadata: map[string]any{"topic": topic, "tone": tone},
			}, genErr)
		}
		if genErr != nil {
			s.Logger.Warn("manual generation", zap.Error(genErr))
			writeError(w, http.StatusBadGateway, genErr.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"content": text, "topic": topic, "tone": tone})
	})
}

type publishRequest struct {
	Text  string `json:"text"`
	Topic string `json:"topic"`
}

// publish posts on the agent's behalf outside its cadence. Without text,
// content is generated from the topic (or one of the agent's topics).
func (s *server) publish(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.Fleet == nil {
		writeError(w, http.StatusServiceUnavailable, "fleet is not running")
		return
	}
	var req publishRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	agent, ok := s.loadAgent(w, r, id)
	if !ok {
		return
	}

	meta := map[string]any{"manual": true}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		if s.Content == nil {
			writeError(w, http.StatusBadRequest, "text is required when content generation is not configured")
			return
		}
		topic := strings.TrimSpace(req.Topic)
		if topic == "" {
			topic = fleet.PickTopic(agent.Topics, rand.IntN)
		}
		tone := fleet.Tone(*agent)
		meta["topic"], meta["tone"] = topic, tone
		generated, err := s.Content.Generate(r.Context(), topic, tone)
		if err != nil {
			rec := s.Fleet.Executor.Fail(r.Context(), *agent, fleet.Action{Kind: models.ActionPost, Metadata: meta}, err)
			writeJSON(w, http.StatusBadGateway, rec)
			return
		}
		text = generated
	}

	rec := s.Fleet.Executor.Execute(r.Context(), *agent, fleet.Action{
		Kind:     models.ActionPost,
		Content:  text,
		Metadata: meta,
	})
	status := http.StatusCreated
	if rec.Outcome == models.OutcomeFailure {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, rec)
}
