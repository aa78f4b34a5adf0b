package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"botfleet/internal/models"
)

const agentColumns = `id, name, description, active, COALESCE(handle, ''), COALESCE(credential, ''),
topics, COALESCE(personality, ''), post_cadence, last_self_post, interaction_enabled,
interaction_cadence, behavior, peers, created, updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var (
		a                   models.Agent
		topicsRaw, peersRaw string
		lastSelfPost        sql.NullString
		created, updated    string
		behavior            string
	)
	if err := row.Scan(
		&a.ID, &a.Name, &a.Description, &a.Active, &a.Handle, &a.Credential,
		&topicsRaw, &a.Personality, &a.PostCadence, &lastSelfPost, &a.InteractionEnabled,
		&a.InteractionCadence, &behavior, &peersRaw, &created, &updated,
	); err != nil {
		return nil, err
	}
	a.Behavior = models.BehaviorProfile(behavior)
	if err := json.Unmarshal([]byte(topicsRaw), &a.Topics); err != nil {
		return nil, fmt.Errorf("agent %d topics: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(peersRaw), &a.Peers); err != nil {
		return nil, fmt.Errorf("agent %d peers: %w", a.ID, err)
	}
	if a.Topics == nil {
		a.Topics = []string{}
	}
	if a.Peers == nil {
		a.Peers = []int64{}
	}
	if lastSelfPost.Valid {
		t, err := parseTime(lastSelfPost.String)
		if err != nil {
			return nil, err
		}
		a.LastSelfPostAt = &t
	}
	var err error
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}

func encodeList[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateAgent normalizes a and inserts it. ID and timestamps are assigned here.
func CreateAgent(ctx context.Context, database *sql.DB, a models.Agent) (*models.Agent, error) {
	a.ID = 0
	if err := a.Normalize(); err != nil {
		return nil, err
	}
	topics, err := encodeList(a.Topics)
	if err != nil {
		return nil, err
	}
	peers, err := encodeList(a.Peers)
	if err != nil {
		return nil, err
	}
	now := nowString()
	res, err := database.ExecContext(ctx, `
INSERT INTO agents (name, description, active, handle, credential, topics, personality,
    post_cadence, interaction_enabled, interaction_cadence, behavior, peers, created, updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.Description, a.Active, nullableString(a.Handle), nullableString(a.Credential),
		topics, nullableString(a.Personality), a.PostCadence, a.InteractionEnabled,
		a.InteractionCadence, string(a.Behavior), peers, now, now,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return GetAgent(ctx, database, id)
}

func GetAgent(ctx context.Context, database *sql.DB, id int64) (*models.Agent, error) {
	return scanAgent(database.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
}

// GetAgentByHandle matches the stored handle case-insensitively. Handles are
// stored without the leading @.
func GetAgentByHandle(ctx context.Context, database *sql.DB, handle string) (*models.Agent, error) {
	return scanAgent(database.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE handle = ? COLLATE NOCASE ORDER BY id LIMIT 1`, handle))
}

// ListAgents returns agents in creation order. activeOnly filters out paused agents.
func ListAgents(ctx context.Context, database *sql.DB, activeOnly bool) ([]models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id ASC`
	rows, err := database.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAgent applies patch to the stored agent and persists every column.
func UpdateAgent(ctx context.Context, database *sql.DB, id int64, patch models.AgentPatch) (*models.Agent, error) {
	current, err := GetAgent(ctx, database, id)
	if err != nil {
		return nil, err
	}
	if err := current.Apply(patch); err != nil {
		return nil, err
	}
	topics, err := encodeList(current.Topics)
	if err != nil {
		return nil, err
	}
	peers, err := encodeList(current.Peers)
	if err != nil {
		return nil, err
	}
	res, err := database.ExecContext(ctx, `
UPDATE agents
SET name = ?, description = ?, active = COALESCE(?, active), handle = ?, credential = ?, topics = ?, personality = ?,
    post_cadence = ?, interaction_enabled = ?, interaction_cadence = ?, behavior = ?,
    peers = ?, updated = ?
WHERE id = ?`,
		current.Name, current.Description, patch.Active, nullableString(current.Handle), nullableString(current.Credential),
		topics, nullableString(current.Personality), current.PostCadence, current.InteractionEnabled,
		current.InteractionCadence, string(current.Behavior), peers, nowString(), id,
	)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, sql.ErrNoRows
	}
	return GetAgent(ctx, database, id)
}

// SetAgentActive pauses or resumes an agent.
func SetAgentActive(ctx context.Context, database *sql.DB, id int64, active bool) (*models.Agent, error) {
	res, err := database.ExecContext(ctx, `UPDATE agents SET active = ?, updated = ? WHERE id = ?`, active, nowString(), id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, sql.ErrNoRows
	}
	return GetAgent(ctx, database, id)
}

// MarkSelfPosted records the time of the agent's latest successful self-post.
func MarkSelfPosted(ctx context.Context, database *sql.DB, id int64, at string) error {
	res, err := database.ExecContext(ctx, `UPDATE agents SET last_self_post = ? WHERE id = ?`, at, id)
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

// DeleteAgent removes the agent and strips it from every peer list. Its
// action history stays in the log.
func DeleteAgent(ctx context.Context, database *sql.DB, id int64) error {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
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

	rows, err := tx.QueryContext(ctx, `SELECT id, peers FROM agents WHERE peers <> '[]'`)
	if err != nil {
		return err
	}
	updates := map[int64]string{}
	for rows.Next() {
		var (
			otherID int64
			raw     string
			peers   []int64
		)
		if err := rows.Scan(&otherID, &raw); err != nil {
			rows.Close()
			return err
		}
		if err := json.Unmarshal([]byte(raw), &peers); err != nil {
			rows.Close()
			return fmt.Errorf("agent %d peers: %w", otherID, err)
		}
		if !slices.Contains(peers, id) {
			continue
		}
		peers = slices.DeleteFunc(peers, func(p int64) bool { return p == id })
		encoded, err := encodeList(peers)
		if err != nil {
			rows.Close()
			return err
		}
		updates[otherID] = encoded
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for otherID, encoded := range updates {
		if _, err := tx.ExecContext(ctx, `UPDATE agents SET peers = ?, updated = ? WHERE id = ?`, encoded, nowString(), otherID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MissingAgents returns the ids in ids that do not name a stored agent.
func MissingAgents(ctx context.Context, database *sql.DB, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := database.QueryContext(ctx, `SELECT id FROM agents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []int64
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
