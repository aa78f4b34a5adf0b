package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"botfleet/internal/auth"
	"botfleet/internal/db"
	"botfleet/internal/models"
)

type mcpListAgentsArgs struct {
	ActiveOnly bool `json:"active_only,omitempty"`
}

type mcpRecentActionsArgs struct {
	AgentID int64   `json:"agent_id,omitempty"`
	Kind    *string `json:"kind,omitempty"`
	Limit   *int    `json:"limit,omitempty"`
}

type mcpAgentArgs struct {
	AgentID int64 `json:"agent_id"`
}

func (s *server) mcpHandler() http.Handler {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "fleet-server",
		Version: s.Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fleet_list_agents",
		Description: "List fleet agents with their cadences and scheduled timers",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mcpListAgentsArgs) (*mcp.CallToolResult, any, error) {
		agents, err := db.ListAgents(ctx, s.DB, args.ActiveOnly)
		if err != nil {
			return nil, nil, err
		}
		type row struct {
			agentView
			Timers []models.Concern `json:"timers"`
		}
		rows := make([]row, 0, len(agents))
		for _, a := range agents {
			r := row{agentView: viewOf(a), Timers: []models.Concern{}}
			if s.Fleet != nil {
				r.Timers = s.Fleet.Scheduler.Timers(a.ID)
			}
			rows = append(rows, r)
		}
		return jsonToolResult(map[string]any{"agents": rows, "total": len(rows)})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fleet_recent_actions",
		Description: "Show the newest action records, optionally for one agent or kind",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mcpRecentActionsArgs) (*mcp.CallToolResult, any, error) {
		q := models.ActionQuery{AgentID: args.AgentID, Limit: 20}
		if args.Limit != nil && *args.Limit > 0 && *args.Limit <= 500 {
			q.Limit = *args.Limit
		}
		if args.Kind != nil && *args.Kind != "" {
			kind, err := models.ParseActionKind(*args.Kind)
			if err != nil {
				return nil, nil, err
			}
			q.Kind = kind
		}
		items, err := db.RecentActions(ctx, s.DB, q)
		if err != nil {
			return nil, nil, err
		}
		return jsonToolResult(map[string]any{"actions": items})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fleet_interaction_stats",
		Description: "Aggregate an agent's interactions with its peers",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mcpAgentArgs) (*mcp.CallToolResult, any, error) {
		if args.AgentID <= 0 {
			return nil, nil, errors.New("agent_id is required")
		}
		if _, err := db.GetAgent(ctx, s.DB, args.AgentID); err != nil {
			return nil, nil, err
		}
		stats, err := s.interactionStats(ctx, args.AgentID)
		if err != nil {
			return nil, nil, err
		}
		return jsonToolResult(stats)
	})

	for _, t := range []struct {
		name, desc string
		active     bool
	}{
		{"fleet_pause_agent", "Pause an agent and cancel its timers", false},
		{"fleet_resume_agent", "Resume an agent and restart its timers", true},
	} {
		mcp.AddTool(server, &mcp.Tool{
			Name:        t.name,
			Description: t.desc,
		}, func(ctx context.Context, req *mcp.CallToolRequest, args mcpAgentArgs) (*mcp.CallToolResult, any, error) {
			if _, err := mcpOperator(req); err != nil {
				return nil, nil, err
			}
			if args.AgentID <= 0 {
				return nil, nil, errors.New("agent_id is required")
			}
			agent, err := s.changeActive(ctx, args.AgentID, t.active)
			if err != nil {
				return nil, nil, err
			}
			return jsonToolResult(viewOf(*agent))
		})
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)

	verify := func(ctx context.Context, token string, req *http.Request) (*mcpauth.TokenInfo, error) {
		if !auth.WellFormed(token) {
			return nil, mcpauth.ErrInvalidToken
		}
		op, err := db.GetOperatorByAPIKeyHash(ctx, s.DB, auth.HashAPIKey(token))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, mcpauth.ErrInvalidToken
			}
			return nil, err
		}
		return &mcpauth.TokenInfo{
			Scopes:     auth.Scopes(op.Role),
			Expiration: time.Now().UTC().Add(10 * 365 * 24 * time.Hour),
			UserID:     op.Name,
			Extra: map[string]any{
				"operator_name": op.Name,
				"operator_role": op.Role,
			},
		}, nil
	}

	return mcpauth.RequireBearerToken(verify, nil)(handler)
}

func mcpOperator(req *mcp.CallToolRequest) (string, error) {
	if req == nil || req.Extra == nil || req.Extra.TokenInfo == nil {
		return "", errors.New("missing auth token")
	}
	name, _ := req.Extra.TokenInfo.Extra["operator_name"].(string)
	if name == "" {
		return "", errors.New("missing authenticated operator")
	}
	return name, nil
}

func jsonToolResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}, nil, nil
}
