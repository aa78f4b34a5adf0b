package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"botfleet/internal/db"
	"botfleet/internal/fleet"
	"botfleet/internal/models"
	"botfleet/internal/ratelimit"
)

// Pinger is a dependency the operator can probe from the connection test.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Generator is the content backend as the API sees it.
type Generator interface {
	fleet.ContentGenerator
	Pinger
}

// Platform is the social platform as the API sees it: a connection check
// plus search for operators looking for content to act on.
type Platform interface {
	Pinger
	Search(ctx context.Context, query string, count int) ([]models.FoundPost, error)
}

// Deps is everything the operator API serves from.
type Deps struct {
	DB       *sql.DB
	Fleet    *fleet.Service
	Content  Generator
	Platform Platform
	Notifier fleet.Notifier
	// Live streams fleet events to websocket subscribers. Optional.
	Live    http.Handler
	Logger  *zap.Logger
	Version string
	// RequestsPerMinute caps each operator's read traffic; writes get a
	// tenth of it. Zero uses the default.
	RequestsPerMinute int
}

type server struct {
	Deps
	limiter *ratelimit.Limiter
	limits  rateLimits
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	s := &server{
		Deps:    d,
		limiter: ratelimit.NewLimiter(),
		limits:  limitsFor(d.RequestsPerMinute),
	}

	mux := http.NewServeMux()
	withAuth := func(h http.Handler) http.Handler {
		return s.authMiddleware(s.rateLimitMiddleware(h))
	}

	mux.HandleFunc("/api/v1/status", s.statusHandler)
	mux.Handle("/api/v1/whoami", withAuth(s.whoAmIHandler()))
	mux.Handle("/api/v1/agents", withAuth(s.agentsCollectionHandler()))
	mux.Handle("/api/v1/agents/", withAuth(s.agentScopedHandler()))
	mux.Handle("/api/v1/actions", withAuth(s.actionsHandler()))
	mux.Handle("/api/v1/generate", withAuth(s.generateHandler()))
	mux.Handle("/api/v1/search", withAuth(s.searchHandler()))
	mux.Handle("/api/v1/stats", withAuth(s.fleetStatsHandler()))
	mux.Handle("/api/v1/usage", withAuth(s.usageHandler()))
	mux.Handle("/api/v1/usage/", withAuth(adminOnly(s.usageLimitHandler())))
	mux.Handle("/api/v1/test-connection", withAuth(s.testConnectionHandler()))
	mux.Handle("/api/v1/admin/operators", withAuth(adminOnly(s.operatorsCollectionHandler())))
	mux.Handle("/api/v1/admin/operators/", withAuth(adminOnly(s.operatorItemHandler())))
	mux.Handle("/api/v1/admin/webhooks", withAuth(adminOnly(s.webhooksCollectionHandler())))
	mux.Handle("/api/v1/admin/webhooks/", withAuth(adminOnly(s.webhookItemHandler())))
	if d.Live != nil {
		mux.Handle("/api/v1/live", s.authMiddleware(d.Live))
	}
	mux.Handle("/mcp", s.mcpHandler())
	return withCORS(mux)
}

func (s *server) statusHandler(w http.ResponseWriter, r *http.Request) {
	type statusResponse struct {
		Status    string `json:"status"`
		Version   string `json:"version"`
		Scheduled int    `json:"scheduled_agents"`
		Running   int    `json:"running_ticks"`
		Schema    int    `json:"schema_version"`
		Timestamp string `json:"timestamp"`
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	schema, err := db.SchemaVersion(r.Context(), s.DB)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	resp := statusResponse{
		Status:    "ok",
		Version:   s.Version,
		Schema:    schema,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.Fleet != nil {
		resp.Scheduled = len(s.Fleet.Scheduler.Scheduled())
		resp.Running = s.Fleet.Scheduler.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}

// withCORS lets a browser dashboard drive the fleet. Preflights are answered
// before auth, and the rate limit headers are exposed so the dashboard can
// back off on its own.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
		h.Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, any) {}

func pathTail(path, prefix string) string {
	tail := strings.TrimPrefix(path, prefix)
	tail = strings.Trim(tail, "/")
	return tail
}

// parseLimitOffset reads paging parameters, falling back to the defaults
// for missing or out-of-range values.
func parseLimitOffset(r *http.Request) (int, int) {
	limit := 50
	offset := 0
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
