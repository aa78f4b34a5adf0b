package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"botfleet/internal/auth"
	"botfleet/internal/db"
	"botfleet/internal/models"
)

type contextKey string

const operatorContextKey contextKey = "operator"

type rateLimits struct {
	ReadsPerMinute  int
	WritesPerMinute int
	GeneratePerHour int
}

const defaultReadsPerMinute = 120

func limitsFor(readsPerMinute int) rateLimits {
	if readsPerMinute <= 0 {
		readsPerMinute = defaultReadsPerMinute
	}
	writes := readsPerMinute / 10
	if writes < 1 {
		writes = 1
	}
	return rateLimits{
		ReadsPerMinute:  readsPerMinute,
		WritesPerMinute: writes,
		GeneratePerHour: 60,
	}
}

// requestToken reads the bearer header. Browsers cannot set headers on a
// websocket upgrade, so the live stream also accepts ?token=.
func requestToken(r *http.Request) string {
	if token := auth.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if r.URL.Path == "/api/v1/live" {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !auth.WellFormed(token) {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		op, err := db.GetOperatorByAPIKeyHash(r.Context(), s.DB, auth.HashAPIKey(token))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			s.Logger.Error("authenticate operator", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
			return
		}
		if err := db.TouchOperator(r.Context(), s.DB, op.Name); err != nil {
			s.Logger.Warn("touch operator", zap.String("operator", op.Name), zap.Error(err))
		}

		ctx := context.WithValue(r.Context(), operatorContextKey, op)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := currentOperator(r.Context())
		if op == nil || op.Role != db.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentOperator(ctx context.Context) *models.Operator {
	v := ctx.Value(operatorContextKey)
	op, _ := v.(*models.Operator)
	return op
}

func (s *server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := currentOperator(r.Context())
		if op == nil {
			writeError(w, http.StatusUnauthorized, "missing auth context")
			return
		}

		now := time.Now().UTC()
		for _, c := range s.classifyRateChecks(r) {
			key := op.Name + ":" + c.name
			res := s.limiter.Allow(key, c.limit, c.window, now)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			if !res.Allowed {
				retryAfter := int(time.Until(res.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded: "+c.name)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

type rateCheck struct {
	name   string
	limit  int
	window time.Duration
}

func (s *server) classifyRateChecks(r *http.Request) []rateCheck {
	checks := make([]rateCheck, 0, 2)
	if r.Method == http.MethodGet {
		checks = append(checks, rateCheck{name: "reads", limit: s.limits.ReadsPerMinute, window: time.Minute})
	} else {
		checks = append(checks, rateCheck{name: "writes", limit: s.limits.WritesPerMinute, window: time.Minute})
	}
	// Generation and manual publishing spend external quota.
	if r.Method == http.MethodPost && (r.URL.Path == "/api/v1/generate" || strings.HasSuffix(r.URL.Path, "/publish")) {
		checks = append(checks, rateCheck{name: "generate", limit: s.limits.GeneratePerHour, window: time.Hour})
	}
	return checks
}
