package fleet

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"botfleet/internal/models"
)

// Service wires the scheduler, both policies and the executor over one store.
type Service struct {
	Scheduler   *Scheduler
	Executor    *Executor
	Content     *ContentPolicy
	Interaction *InteractionPolicy

	log    ActionLog
	logger *zap.Logger
}

func New(store Store, content ContentGenerator, platform Platform, notifier Notifier, opts ...Option) (*Service, error) {
	if store == nil || content == nil || platform == nil {
		return nil, fmt.Errorf("fleet service requires a store, a content generator and a platform")
	}
	exec, err := NewExecutor(platform, store, notifier, opts...)
	if err != nil {
		return nil, fmt.Errorf("build executor: %w", err)
	}
	posting := NewContentPolicy(store, content, platform, exec, opts...)
	interaction := NewInteractionPolicy(store, store, content, exec, opts...)
	return &Service{
		Scheduler:   NewScheduler(store, posting, interaction, exec, opts...),
		Executor:    exec,
		Content:     posting,
		Interaction: interaction,
		log:         store,
		logger:      buildOptions(opts).logger,
	}, nil
}

func (s *Service) Provision(ctx context.Context, agentID int64) error {
	return s.Scheduler.Provision(ctx, agentID)
}

func (s *Service) Deprovision(agentID int64) {
	s.Scheduler.Deprovision(agentID)
}

func (s *Service) DeprovisionAll() {
	s.Scheduler.DeprovisionAll()
}

// InteractionStats aggregates the agent's bot-to-bot interaction records.
func (s *Service) InteractionStats(ctx context.Context, agentID int64) (models.InteractionStats, error) {
	stats, err := s.log.InteractionStats(ctx, agentID)
	if err != nil {
		return models.InteractionStats{}, fmt.Errorf("interaction stats for agent %d: %w", agentID, err)
	}
	if stats.ByKind == nil {
		stats.ByKind = map[models.ActionKind]int{}
	}
	return stats, nil
}

func (s *Service) Shutdown(ctx context.Context) error {
	err := s.Scheduler.Shutdown(ctx)
	if err != nil {
		s.logger.Warn("scheduler shutdown interrupted", zap.Error(err))
	}
	return err
}
