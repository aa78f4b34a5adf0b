package db

import (
	"context"
	"database/sql"
	"time"

	"botfleet/internal/models"
)

// Metered services. Counters reset on the first call of each UTC day.
const (
	ServicePlatform = "platform"
	ServiceLLM      = "llm"
)

var defaultDailyLimits = map[string]int{
	ServicePlatform: 1000,
	ServiceLLM:      100,
}

// RecordAPICall bumps the daily counter for service and returns the updated row.
func RecordAPICall(ctx context.Context, database *sql.DB, service, endpoint string, at time.Time) (*models.APIUsage, error) {
	stamp := formatTime(at)
	var u models.APIUsage
	err := database.QueryRowContext(ctx, `
INSERT INTO api_usage (service, endpoint, calls_count, daily_limit, last_reset, created)
VALUES (?, ?, 1, ?, ?, ?)
ON CONFLICT(service) DO UPDATE SET
    endpoint = excluded.endpoint,
    calls_count = CASE
        WHEN substr(api_usage.last_reset, 1, 10) = substr(excluded.last_reset, 1, 10)
        THEN api_usage.calls_count + 1
        ELSE 1
    END,
    last_reset = CASE
        WHEN substr(api_usage.last_reset, 1, 10) = substr(excluded.last_reset, 1, 10)
        THEN api_usage.last_reset
        ELSE excluded.last_reset
    END
RETURNING service, COALESCE(endpoint, ''), calls_count, daily_limit, last_reset`,
		service, nullableString(endpoint), defaultDailyLimits[service], stamp, stamp,
	).Scan(&u.Service, &u.Endpoint, &u.CallsCount, &u.DailyLimit, &u.LastReset)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListAPIUsage reports today's counters. Rows last reset on an earlier day
// read as zero calls.
func ListAPIUsage(ctx context.Context, database *sql.DB, now time.Time) ([]models.APIUsage, error) {
	rows, err := database.QueryContext(ctx, `
SELECT service, COALESCE(endpoint, ''), calls_count, daily_limit, last_reset
FROM api_usage
ORDER BY service ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	today := formatTime(now)[:10]
	out := make([]models.APIUsage, 0)
	for rows.Next() {
		var u models.APIUsage
		if err := rows.Scan(&u.Service, &u.Endpoint, &u.CallsCount, &u.DailyLimit, &u.LastReset); err != nil {
			return nil, err
		}
		if len(u.LastReset) < 10 || u.LastReset[:10] != today {
			u.CallsCount = 0
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func SetDailyLimit(ctx context.Context, database *sql.DB, service string, limit int) error {
	_, err := database.ExecContext(ctx, `
INSERT INTO api_usage (service, endpoint, calls_count, daily_limit, last_reset, created)
VALUES (?, NULL, 0, ?, ?, ?)
ON CONFLICT(service) DO UPDATE SET daily_limit = excluded.daily_limit`,
		service, limit, nowString(), nowString())
	return err
}
