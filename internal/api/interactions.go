package api

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"botfleet/internal/db"
	"botfleet/internal/fleet"
	"botfleet/internal/models"
	"botfleet/internal/platform"
)

type interactRequest struct {
	ContentRef string `json:"content_ref"`
	// Text is the comment body. When empty, a reply to Original is generated.
	Text     string `json:"text"`
	Original string `json:"original"`
	Handle   string `json:"handle"`
	UserID   string `json:"user_id"`
}

// interact performs one operator-requested endorse, comment, share or follow
// through the executor, so the attempt is recorded like a scheduled one.
func (s *server) interact(w http.ResponseWriter, r *http.Request, id int64, kind models.ActionKind) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.Fleet == nil {
		writeError(w, http.StatusServiceUnavailable, "fleet is not running")
		return
	}
	var req interactRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	act := fleet.Action{
		Kind:         kind,
		ContentRef:   strings.TrimSpace(req.ContentRef),
		Content:      strings.TrimSpace(req.Text),
		TargetHandle: strings.TrimPrefix(strings.TrimSpace(req.Handle), "@"),
		TargetUserID: strings.TrimSpace(req.UserID),
		Metadata:     map[string]any{"manual": true},
	}
	switch kind {
	case models.ActionFollow:
		if act.TargetHandle == "" && act.TargetUserID == "" {
			writeError(w, http.StatusBadRequest, "handle or user_id is required")
			return
		}
	default:
		if act.ContentRef == "" {
			writeError(w, http.StatusBadRequest, "content_ref is required")
			return
		}
	}
	if kind == models.ActionComment && act.Content == "" && strings.TrimSpace(req.Original) == "" {
		writeError(w, http.StatusBadRequest, "text or original is required")
		return
	}

	agent, ok := s.loadAgent(w, r, id)
	if !ok {
		return
	}
	// A follow of a fleet agent's handle counts as a peer interaction.
	if kind == models.ActionFollow && act.TargetHandle != "" {
		peer, err := db.GetAgentByHandle(r.Context(), s.DB, act.TargetHandle)
		if err == nil && peer.ID != agent.ID {
			act.TargetAgentID = &peer.ID
		}
	}

	if kind == models.ActionComment && act.Content == "" {
		if s.Content == nil {
			writeError(w, http.StatusBadRequest, "text is required when content generation is not configured")
			return
		}
		reply, err := s.Content.GenerateReply(r.Context(), strings.TrimSpace(req.Original), fleet.ReplyTone(*agent))
		if err != nil {
			s.Logger.Warn("manual reply generation", zap.Int64("agent_id", id), zap.Error(err))
			rec := s.Fleet.Executor.Fail(r.Context(), *agent, act, err)
			writeJSON(w, http.StatusBadGateway, rec)
			return
		}
		act.Content = reply
	}

	rec := s.Fleet.Executor.Execute(r.Context(), *agent, act)
	status := http.StatusCreated
	if rec.Outcome == models.OutcomeFailure {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, rec)
}

func (s *server) searchHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			writeError(w, http.StatusBadRequest, "q is required")
			return
		}
		count := platform.DefaultSearchCount
		if raw := strings.TrimSpace(r.URL.Query().Get("count")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > platform.MaxSearchCount {
				writeError(w, http.StatusBadRequest, "count must be between 1 and "+strconv.Itoa(platform.MaxSearchCount))
				return
			}
			count = n
		}
		if s.Platform == nil {
			writeError(w, http.StatusServiceUnavailable, "platform is not configured")
			return
		}
		posts, err := s.Platform.Search(r.Context(), query, count)
		if err != nil {
			s.Logger.Warn("platform search", zap.String("query", query), zap.Error(err))
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if posts == nil {
			posts = []models.FoundPost{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"query": query, "posts": posts, "total": len(posts)})
	})
}
