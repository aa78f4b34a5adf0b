package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"botfleet/internal/models"
)

// cadenceSlack absorbs timer jitter between consecutive ticks so a tick that
// lands a hair early still counts as a full cadence.
const cadenceSlack = 5 * time.Second

// ContentPolicy decides, on a posting tick, whether the agent publishes and
// what, then engages with posts found for one of its topics.
type ContentPolicy struct {
	agents      AgentStore
	content     ContentGenerator
	platform    Platform
	exec        *Executor
	clock       clockwork.Clock
	logger      *zap.Logger
	intn        func(int) int
	engageLimit int
}

func NewContentPolicy(agents AgentStore, content ContentGenerator, platform Platform, exec *Executor, opts ...Option) *ContentPolicy {
	o := buildOptions(opts)
	return &ContentPolicy{
		agents:      agents,
		content:     content,
		platform:    platform,
		exec:        exec,
		clock:       o.clock,
		logger:      o.logger.Named("content"),
		intn:        o.intn,
		engageLimit: o.engageLimit,
	}
}

// Due reports whether at least one cadence has elapsed since the last
// successful self-post. An agent that never posted is always due.
func (p *ContentPolicy) Due(agent models.Agent, now time.Time) bool {
	if agent.LastSelfPostAt == nil {
		return true
	}
	return now.Sub(*agent.LastSelfPostAt)+cadenceSlack >= agent.Cadence(models.ConcernPosting)
}

func (p *ContentPolicy) Run(ctx context.Context, agentID int64) error {
	reason, err := p.Tick(ctx, agentID)
	if reason != SkipNone {
		p.logger.Debug("posting tick skipped", zap.Int64("agent_id", agentID), zap.String("reason", string(reason)))
	}
	return err
}

// Tick runs one posting decision. The returned error is reserved for faults
// the scheduler should record; platform and generation failures are
// recorded by the executor. Engagement only runs on ticks where a post was
// due, so it follows the posting cadence.
func (p *ContentPolicy) Tick(ctx context.Context, agentID int64) (SkipReason, error) {
	now := p.clock.Now()
	agent, err := p.agents.GetAgent(ctx, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return SkipAgentMissing, nil
	}
	if err != nil {
		return SkipNone, fmt.Errorf("load agent %d: %w", agentID, err)
	}
	if !agent.Active {
		return SkipAgentInactive, nil
	}
	if !p.Due(*agent, now) {
		return SkipNotDue, nil
	}

	err = p.post(ctx, *agent, now)
	p.engage(ctx, *agent)
	return SkipNone, err
}

func (p *ContentPolicy) post(ctx context.Context, agent models.Agent, now time.Time) error {
	topic := PickTopic(agent.Topics, p.intn)
	tone := Tone(agent)
	act := Action{
		Kind:     models.ActionPost,
		Metadata: map[string]any{"topic": topic, "tone": tone},
	}
	text, err := p.content.Generate(ctx, topic, tone)
	if err != nil {
		p.exec.Fail(ctx, agent, act, fmt.Errorf("generate content: %w", err))
		return nil
	}
	act.Content = text

	rec := p.exec.Execute(ctx, agent, act)
	if !rec.Succeeded() {
		return nil
	}
	if err := p.agents.MarkSelfPosted(context.WithoutCancel(ctx), agent.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			p.logger.Warn("agent deleted during posting tick", zap.Int64("agent_id", agent.ID))
			return nil
		}
		return fmt.Errorf("mark self posted: %w", err)
	}
	return nil
}

// PickTopic draws uniformly from topics, falling back to the default topic.
func PickTopic(topics []string, intn func(int) int) string {
	if len(topics) == 0 {
		return models.DefaultTopic
	}
	return topics[intn(len(topics))]
}

// Tone is the agent's personality, or the default personality when unset.
func Tone(agent models.Agent) string {
	if agent.Personality == "" {
		return models.DefaultPersonality
	}
	return agent.Personality
}
