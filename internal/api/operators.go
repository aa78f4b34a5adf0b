package api

import (
	"database/sql"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"botfleet/internal/auth"
	"botfleet/internal/db"
)

var operatorNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

type createOperatorRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type createOperatorResponse struct {
	Name   string `json:"name"`
	Role   string `json:"role"`
	APIKey string `json:"api_key"`
}

func (s *server) operatorsCollectionHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			ops, err := db.ListOperators(r.Context(), s.DB)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to list operators")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"operators": ops, "total": len(ops)})
		case http.MethodPost:
			var req createOperatorRequest
			if err := decodeBody(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json payload")
				return
			}
			req.Name = strings.TrimSpace(req.Name)
			if !operatorNamePattern.MatchString(req.Name) {
				writeError(w, http.StatusBadRequest, "invalid operator name")
				return
			}
			role, err := auth.ParseRole(req.Role)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			req.Role = role

			apiKey, err := auth.GenerateAPIKey()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to generate api key")
				return
			}
			if err := db.CreateOperator(r.Context(), s.DB, req.Name, req.Role, auth.HashAPIKey(apiKey)); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "constraint") {
					writeError(w, http.StatusConflict, "operator already exists")
					return
				}
				s.Logger.Error("create operator", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to create operator")
				return
			}
			s.Logger.Info("operator created",
				zap.String("operator", req.Name),
				zap.String("role", req.Role),
				zap.String("key", auth.KeyHint(apiKey)),
			)
			writeJSON(w, http.StatusCreated, createOperatorResponse{Name: req.Name, Role: req.Role, APIKey: apiKey})
		default:
			methodNotAllowed(w)
		}
	})
}

func (s *server) operatorItemHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		name := pathTail(r.URL.Path, "/api/v1/admin/operators/")
		if name == "" {
			writeError(w, http.StatusBadRequest, "missing operator name")
			return
		}
		ops, err := db.ListOperators(r.Context(), s.DB)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read operator")
			return
		}
		role := ""
		for _, op := range ops {
			if op.Name == name {
				role = op.Role
			}
		}
		if role == "" {
			writeError(w, http.StatusNotFound, "operator not found")
			return
		}
		if role == db.RoleAdmin {
			admins, err := db.CountAdmins(r.Context(), s.DB)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to validate admin deletion")
				return
			}
			if admins <= 1 {
				writeError(w, http.StatusConflict, "cannot delete the last admin")
				return
			}
		}
		if err := db.DeleteOperator(r.Context(), s.DB, name); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusNotFound, "operator not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to delete operator")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
