package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"botfleet/internal/models"
)

func CreateWebhook(ctx context.Context, database *sql.DB, url string, events []string, secret string) (*models.Webhook, error) {
	events = dedupeStrings(events)
	if len(events) == 0 {
		return nil, errors.New("at least one event is required")
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	id := "wh_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	created := nowString()
	if _, err := database.ExecContext(ctx, `
INSERT INTO webhooks (id, url, events, secret, created, active)
VALUES (?, ?, ?, ?, ?, 1)`,
		id, url, string(eventsJSON), nullableString(secret), created); err != nil {
		return nil, err
	}
	return &models.Webhook{
		ID:      id,
		URL:     url,
		Events:  events,
		Secret:  secret,
		Created: created,
		Active:  true,
	}, nil
}

func ListWebhooks(ctx context.Context, database *sql.DB, activeOnly bool) ([]models.Webhook, error) {
	query := `SELECT id, url, events, COALESCE(secret, ''), created, active FROM webhooks`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created ASC`
	rows, err := database.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Webhook, 0)
	for rows.Next() {
		var (
			w         models.Webhook
			eventsRaw string
		)
		if err := rows.Scan(&w.ID, &w.URL, &eventsRaw, &w.Secret, &w.Created, &w.Active); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(eventsRaw), &w.Events); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// WebhooksFor returns the active webhooks subscribed to event or to "*".
func WebhooksFor(ctx context.Context, database *sql.DB, event string) ([]models.Webhook, error) {
	all, err := ListWebhooks(ctx, database, true)
	if err != nil {
		return nil, err
	}
	out := make([]models.Webhook, 0, len(all))
	for _, w := range all {
		for _, e := range w.Events {
			if e == event || e == "*" {
				out = append(out, w)
				break
			}
		}
	}
	return out, nil
}

func DeleteWebhook(ctx context.Context, database *sql.DB, id string) error {
	res, err := database.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func dedupeStrings(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
