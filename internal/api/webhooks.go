package api

import (
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"botfleet/internal/db"
	"botfleet/internal/models"
)

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

var webhookEvents = []string{
	"*",
	models.EventAgentCreated,
	models.EventAgentUpdated,
	models.EventAgentDeleted,
	models.EventAgentPaused,
	models.EventAgentResumed,
	models.EventActionRecorded,
}

func (s *server) webhooksCollectionHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			items, err := db.ListWebhooks(r.Context(), s.DB, false)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to list webhooks")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"webhooks": items})
		case http.MethodPost:
			var req createWebhookRequest
			if err := decodeBody(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json payload")
				return
			}
			req.URL = strings.TrimSpace(req.URL)
			if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				writeError(w, http.StatusBadRequest, "url must be an absolute http(s) url")
				return
			}
			if len(req.Events) == 0 {
				req.Events = []string{"*"}
			}
			for _, ev := range req.Events {
				if !slices.Contains(webhookEvents, strings.TrimSpace(ev)) {
					writeError(w, http.StatusBadRequest, "unknown event "+ev)
					return
				}
			}
			wh, err := db.CreateWebhook(r.Context(), s.DB, req.URL, req.Events, req.Secret)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusCreated, wh)
		default:
			methodNotAllowed(w)
		}
	})
}

func (s *server) webhookItemHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		id := pathTail(r.URL.Path, "/api/v1/admin/webhooks/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing webhook id")
			return
		}
		if err := db.DeleteWebhook(r.Context(), s.DB, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusNotFound, "webhook not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to delete webhook")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
