package db

import (
	"context"
	"database/sql"
	"time"

	"botfleet/internal/models"
)

// Store binds the package-level queries to one database handle so the
// scheduler and policies can depend on small interfaces.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

func NewStore(database *sql.DB) *Store {
	return &Store{DB: database, now: time.Now}
}

func (s *Store) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	return GetAgent(ctx, s.DB, id)
}

func (s *Store) ListAgents(ctx context.Context, activeOnly bool) ([]models.Agent, error) {
	return ListAgents(ctx, s.DB, activeOnly)
}

func (s *Store) MarkSelfPosted(ctx context.Context, id int64, at time.Time) error {
	return MarkSelfPosted(ctx, s.DB, id, formatTime(at))
}

// AppendAction stamps the record with its CreatedAt, or the wall clock when unset.
func (s *Store) AppendAction(ctx context.Context, r models.ActionRecord) (*models.ActionRecord, error) {
	at := r.CreatedAt
	if at.IsZero() {
		at = s.now()
	}
	return AppendAction(ctx, s.DB, r, at)
}

func (s *Store) RecentActions(ctx context.Context, q models.ActionQuery) ([]models.ActionRecord, error) {
	return RecentActions(ctx, s.DB, q)
}

func (s *Store) InteractionStats(ctx context.Context, agentID int64) (models.InteractionStats, error) {
	return InteractionStats(ctx, s.DB, agentID)
}

func (s *Store) RecordAPICall(ctx context.Context, service, endpoint string) error {
	_, err := RecordAPICall(ctx, s.DB, service, endpoint, s.now())
	return err
}
