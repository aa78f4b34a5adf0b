package api

import (
	"net/http"

	"botfleet/internal/auth"
	"botfleet/internal/models"
)

type whoAmIResponse struct {
	models.Operator
	IsAdmin bool     `json:"is_admin"`
	Scopes  []string `json:"scopes"`
	// Fleet is omitted when the server runs without a scheduler.
	Fleet *fleetSummary `json:"fleet,omitempty"`
}

type fleetSummary struct {
	Scheduled int `json:"scheduled_agents"`
	Running   int `json:"running_ticks"`
}

// whoAmIHandler tells a CLI or dashboard who it is connected as and what
// the key may do, so admin-only commands can be hidden up front.
func (s *server) whoAmIHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		op := currentOperator(r.Context())
		if op == nil {
			writeError(w, http.StatusUnauthorized, "missing auth context")
			return
		}
		resp := whoAmIResponse{
			Operator: *op,
			IsAdmin:  op.Role == auth.RoleAdmin,
			Scopes:   auth.Scopes(op.Role),
		}
		if s.Fleet != nil {
			resp.Fleet = &fleetSummary{
				Scheduled: len(s.Fleet.Scheduler.Scheduled()),
				Running:   s.Fleet.Scheduler.Running(),
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})
}
