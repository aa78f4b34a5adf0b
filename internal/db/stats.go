package db

import (
	"context"
	"database/sql"
	"time"

	"botfleet/internal/models"
)

func GetFleetStats(ctx context.Context, database *sql.DB, now time.Time) (models.FleetStats, error) {
	stats := models.FleetStats{}
	queries := []struct {
		sql string
		dst *int
	}{
		{`SELECT COUNT(1) FROM agents`, &stats.TotalAgents},
		{`SELECT COUNT(1) FROM agents WHERE active = 1`, &stats.ActiveAgents},
		{`SELECT COUNT(1) FROM actions WHERE kind = 'post' AND outcome = 'success'`, &stats.TotalPosts},
		{`SELECT COUNT(1) FROM actions`, &stats.TotalActions},
		{`SELECT COUNT(1) FROM actions WHERE outcome = 'failure'`, &stats.FailedActions},
	}
	for _, q := range queries {
		if err := database.QueryRowContext(ctx, q.sql).Scan(q.dst); err != nil {
			return models.FleetStats{}, err
		}
	}

	usage, err := ListAPIUsage(ctx, database, now)
	if err != nil {
		return models.FleetStats{}, err
	}
	for _, u := range usage {
		switch u.Service {
		case ServicePlatform:
			stats.PlatformCalls, stats.PlatformLimit = u.CallsCount, u.DailyLimit
		case ServiceLLM:
			stats.LLMCalls, stats.LLMLimit = u.CallsCount, u.DailyLimit
		}
	}
	return stats, nil
}
