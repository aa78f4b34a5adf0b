package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"botfleet/internal/models"
)

var ErrSchedulerClosed = errors.New("scheduler is shut down")

// failureRecordTimeout bounds the write of a tick failure record, which runs
// after the tick's own context may have expired.
const failureRecordTimeout = 10 * time.Second

// Scheduler owns the per-agent timers. Each (agent, concern) pair has at most
// one timer, and ticks of the same pair never overlap.
type Scheduler struct {
	agents      AgentStore
	runners     map[models.Concern]Runner
	failures    TickFailureRecorder
	clock       clockwork.Clock
	logger      *zap.Logger
	tickTimeout time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	timers     map[int64]map[models.Concern]*timer
	agentLocks map[int64]*sync.Mutex
	closed     bool

	inflight sync.WaitGroup
	running  atomic.Int64
}

type timer struct {
	agentID int64
	concern models.Concern
	ticker  clockwork.Ticker

	mu      sync.Mutex
	stopped bool
	busy    atomic.Bool
	ticks   sync.WaitGroup
	quit    chan struct{}
	done    chan struct{}
}

func NewScheduler(agents AgentStore, posting, interaction Runner, failures TickFailureRecorder, opts ...Option) *Scheduler {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		agents: agents,
		runners: map[models.Concern]Runner{
			models.ConcernPosting:     posting,
			models.ConcernInteraction: interaction,
		},
		failures:    failures,
		clock:       o.clock,
		logger:      o.logger.Named("scheduler"),
		tickTimeout: o.tickTimeout,
		baseCtx:     ctx,
		cancel:      cancel,
		timers:      map[int64]map[models.Concern]*timer{},
		agentLocks:  map[int64]*sync.Mutex{},
	}
}

// Provision (re)starts the timers of one agent from its stored configuration.
// Missing or inactive agents end up with no timers. Each started concern
// fires once right away.
func (s *Scheduler) Provision(ctx context.Context, agentID int64) error {
	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	if s.isClosed() {
		return ErrSchedulerClosed
	}
	agent, err := s.agents.GetAgent(ctx, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		s.stopAgent(agentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load agent %d: %w", agentID, err)
	}

	s.stopAgent(agentID)
	if !agent.Active {
		s.logger.Debug("agent inactive, not scheduled", zap.Int64("agent_id", agentID))
		return nil
	}

	concerns := []models.Concern{models.ConcernPosting}
	if agent.InteractionEnabled {
		concerns = append(concerns, models.ConcernInteraction)
	}
	for _, c := range concerns {
		if err := s.start(agentID, c, agent.Cadence(c)); err != nil {
			s.stopAgent(agentID)
			return err
		}
	}
	s.logger.Info("agent scheduled",
		zap.Int64("agent_id", agentID),
		zap.Int("post_cadence_min", agent.PostCadence),
		zap.Bool("interaction", agent.InteractionEnabled),
		zap.Int("interaction_cadence_min", agent.InteractionCadence),
	)
	return nil
}

// ProvisionAll schedules every active agent. Failures are joined so one bad
// row does not keep the rest of the fleet idle.
func (s *Scheduler) ProvisionAll(ctx context.Context) error {
	agents, err := s.agents.ListAgents(ctx, true)
	if err != nil {
		return fmt.Errorf("list active agents: %w", err)
	}
	var errs []error
	for _, a := range agents {
		if err := s.Provision(ctx, a.ID); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("fleet provisioned", zap.Int("agents", len(agents)), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Deprovision cancels both timers of the agent. When it returns no new tick
// for the agent can start, and ticks already running have finished.
func (s *Scheduler) Deprovision(agentID int64) {
	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()
	s.stopAgent(agentID)
}

func (s *Scheduler) DeprovisionAll() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			s.Deprovision(id)
			return nil
		})
	}
	_ = g.Wait()
}

// Timers lists the concerns currently scheduled for the agent.
func (s *Scheduler) Timers(agentID int64) []models.Concern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Concern, 0, 2)
	for c := range s.timers[agentID] {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Scheduled returns the ids of agents with at least one running timer.
func (s *Scheduler) Scheduled() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.timers))
	for id := range s.timers {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Running reports how many ticks are executing right now.
func (s *Scheduler) Running() int {
	return int(s.running.Load())
}

// Shutdown stops every timer and waits for running ticks. If ctx expires
// first, running ticks are cancelled and Shutdown still waits for them to
// return.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.DeprovisionAll()
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scheduler) agentLock(agentID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.agentLocks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.agentLocks[agentID] = l
	}
	return l
}

func (s *Scheduler) start(agentID int64, concern models.Concern, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("agent %d: %s cadence must be positive", agentID, concern)
	}
	t := &timer{
		agentID: agentID,
		concern: concern,
		ticker:  s.clock.NewTicker(period),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.ticker.Stop()
		return ErrSchedulerClosed
	}
	if s.timers[agentID] == nil {
		s.timers[agentID] = map[models.Concern]*timer{}
	}
	s.timers[agentID][concern] = t
	s.mu.Unlock()

	go s.loop(t)
	s.fire(t)
	return nil
}

func (s *Scheduler) stopAgent(agentID int64) {
	s.mu.Lock()
	timers := s.timers[agentID]
	delete(s.timers, agentID)
	s.mu.Unlock()

	for _, t := range timers {
		t.stop()
	}
	if len(timers) > 0 {
		s.logger.Info("agent unscheduled", zap.Int64("agent_id", agentID))
	}
}

func (s *Scheduler) loop(t *timer) {
	defer close(t.done)
	for {
		select {
		case <-t.quit:
			return
		case <-t.ticker.Chan():
			s.fire(t)
		}
	}
}

func (s *Scheduler) fire(t *timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if !t.busy.CompareAndSwap(false, true) {
		s.logger.Warn("previous tick still running, skipping",
			zap.Int64("agent_id", t.agentID),
			zap.String("concern", string(t.concern)),
		)
		return
	}
	t.ticks.Add(1)
	s.inflight.Add(1)
	s.running.Add(1)
	go func() {
		defer func() {
			t.busy.Store(false)
			s.running.Add(-1)
			t.ticks.Done()
			s.inflight.Done()
		}()
		s.runTick(t)
	}()
}

func (s *Scheduler) runTick(t *timer) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.tickTimeout)
	defer cancel()

	err := s.safeRun(ctx, t)
	if err == nil {
		return
	}
	s.logger.Error("tick failed",
		zap.Int64("agent_id", t.agentID),
		zap.String("concern", string(t.concern)),
		zap.Error(err),
	)
	if s.failures == nil {
		return
	}
	recCtx, recCancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer recCancel()
	s.failures.RecordTickFailure(recCtx, t.agentID, t.concern, err)
}

func (s *Scheduler) safeRun(ctx context.Context, t *timer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()
	runner := s.runners[t.concern]
	if runner == nil {
		return fmt.Errorf("no runner for concern %q", t.concern)
	}
	return runner.Run(ctx, t.agentID)
}

func (t *timer) stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	close(t.quit)
	t.ticker.Stop()
	<-t.done
	t.ticks.Wait()
}
