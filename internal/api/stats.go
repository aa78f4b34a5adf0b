package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"botfleet/internal/contentgen"
	"botfleet/internal/db"
	"botfleet/internal/platform"
)

func (s *server) fleetStatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		stats, err := db.GetFleetStats(r.Context(), s.DB, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load stats")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"stats": stats,
		})
	})
}

func (s *server) usageHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		usage, err := db.ListAPIUsage(r.Context(), s.DB, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load api usage")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"usage": usage})
	})
}

// usageLimitHandler sets the daily call budget of one service.
func (s *server) usageLimitHandler() http.Handler {
	type limitRequest struct {
		DailyLimit int `json:"daily_limit"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		service := pathTail(r.URL.Path, "/api/v1/usage/")
		if service != db.ServicePlatform && service != db.ServiceLLM {
			writeError(w, http.StatusNotFound, "unknown service")
			return
		}
		var req limitRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json payload")
			return
		}
		if req.DailyLimit <= 0 {
			writeError(w, http.StatusBadRequest, "daily_limit must be positive")
			return
		}
		if err := db.SetDailyLimit(r.Context(), s.DB, service, req.DailyLimit); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update limit")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"service": service, "daily_limit": req.DailyLimit})
	})
}

func (s *server) testConnectionHandler() http.Handler {
	type testRequest struct {
		Service string `json:"service"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req testRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json payload")
			return
		}
		var target Pinger
		switch strings.ToLower(strings.TrimSpace(req.Service)) {
		case platform.ServiceName:
			target = s.Platform
		case contentgen.ServiceName:
			target = s.Content
		default:
			writeError(w, http.StatusBadRequest, "service must be platform or llm")
			return
		}
		if target == nil {
			writeJSON(w, http.StatusOK, map[string]any{"service": req.Service, "ok": false, "error": "not configured"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()
		if err := target.Ping(ctx); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"service": req.Service, "ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"service": req.Service, "ok": true})
	})
}
