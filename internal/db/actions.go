package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"botfleet/internal/models"
)

const actionColumns = `id, agent_id, kind, content, content_ref, target_agent_id, target_user_id,
outcome, error, metadata, created`

func scanAction(row rowScanner) (*models.ActionRecord, error) {
	var (
		r           models.ActionRecord
		kind        string
		outcome     string
		metadataRaw sql.NullString
		created     string
	)
	if err := row.Scan(
		&r.ID, &r.AgentID, &kind, &r.Content, &r.ContentRef, &r.TargetAgentID, &r.TargetUserID,
		&outcome, &r.Error, &metadataRaw, &created,
	); err != nil {
		return nil, err
	}
	r.Kind = models.ActionKind(kind)
	r.Outcome = models.Outcome(outcome)
	if metadataRaw.Valid && metadataRaw.String != "" {
		if err := json.Unmarshal([]byte(metadataRaw.String), &r.Metadata); err != nil {
			return nil, fmt.Errorf("action %d metadata: %w", r.ID, err)
		}
	}
	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &r, nil
}

// AppendAction writes r to the log and returns the stored record. The insert
// is skipped when the agent no longer exists, reported as sql.ErrNoRows. The
// created timestamp never goes backwards relative to earlier records.
func AppendAction(ctx context.Context, database *sql.DB, r models.ActionRecord, at time.Time) (*models.ActionRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var metadata any
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(b)
	}

	var (
		id      int64
		created string
	)
	err := database.QueryRowContext(ctx, `
INSERT INTO actions (agent_id, kind, content, content_ref, target_agent_id, target_user_id,
    outcome, error, metadata, created)
SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, MAX(?, COALESCE((SELECT MAX(created) FROM actions), ''))
WHERE EXISTS (SELECT 1 FROM agents WHERE id = ?)
RETURNING id, created`,
		r.AgentID, string(r.Kind), r.Content, r.ContentRef, r.TargetAgentID, r.TargetUserID,
		string(r.Outcome), r.Error, metadata, formatTime(at), r.AgentID,
	).Scan(&id, &created)
	if err != nil {
		return nil, err
	}
	r.ID = id
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &r, nil
}

// RecentActions returns the newest records matching q, newest first. A zero
// AgentID matches every agent.
func RecentActions(ctx context.Context, database *sql.DB, q models.ActionQuery) ([]models.ActionRecord, error) {
	where := []string{"1 = 1"}
	args := []any{}
	if q.AgentID > 0 {
		where = append(where, "agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(q.Outcome))
	}
	if q.TargetedOnly {
		where = append(where, "target_agent_id IS NOT NULL")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	return queryActions(ctx, database, `
SELECT `+actionColumns+`
FROM actions
WHERE `+strings.Join(where, " AND ")+`
ORDER BY id DESC
LIMIT ?`, args...)
}

// ListActions is the operator activity feed across the fleet. A zero agentID
// lists every agent.
func ListActions(ctx context.Context, database *sql.DB, agentID int64, limit, offset int) ([]models.ActionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if agentID > 0 {
		return queryActions(ctx, database, `
SELECT `+actionColumns+` FROM actions WHERE agent_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
			agentID, limit, offset)
	}
	return queryActions(ctx, database, `
SELECT `+actionColumns+` FROM actions ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
}

func queryActions(ctx context.Context, database *sql.DB, query string, args ...any) ([]models.ActionRecord, error) {
	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ActionRecord, 0)
	for rows.Next() {
		r, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// InteractionStats aggregates the agent's bot-to-bot interactions.
func InteractionStats(ctx context.Context, database *sql.DB, agentID int64) (models.InteractionStats, error) {
	stats := models.InteractionStats{ByKind: map[models.ActionKind]int{}}
	rows, err := database.QueryContext(ctx, `
SELECT kind, outcome, COUNT(1)
FROM actions
WHERE agent_id = ? AND target_agent_id IS NOT NULL
GROUP BY kind, outcome`, agentID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind, outcome string
			n             int
		)
		if err := rows.Scan(&kind, &outcome, &n); err != nil {
			return stats, err
		}
		stats.Total += n
		stats.ByKind[models.ActionKind(kind)] += n
		if models.Outcome(outcome) == models.OutcomeSuccess {
			stats.Succeeded += n
		} else {
			stats.Failed += n
		}
	}
	return stats, rows.Err()
}

// CountActionsSince counts an agent's records of one kind at or after since.
func CountActionsSince(ctx context.Context, database *sql.DB, agentID int64, kind models.ActionKind, since time.Time) (int, error) {
	var n int
	err := database.QueryRowContext(ctx, `
SELECT COUNT(1) FROM actions WHERE agent_id = ? AND kind = ? AND created >= ?`,
		agentID, string(kind), formatTime(since)).Scan(&n)
	return n, err
}
