package fleet

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"botfleet/internal/models"
)

// Engagement thresholds on the analyzer's 0-100 score. A post above
// endorseScore is endorsed; above commentScore it is also answered
// commentChance percent of the time.
const (
	endorseScore      = 50
	commentScore      = 70
	commentChance     = 30
	engageSearchCount = 5
)

// engage searches one of the agent's topics and reacts to the first hits
// the analyzer rates worth it. Search and analysis failures are logged, not
// recorded, since no action was attempted. Agents without a credential
// skip the step.
func (p *ContentPolicy) engage(ctx context.Context, agent models.Agent) {
	if p.engageLimit <= 0 || !agent.HasCredential() || ctx.Err() != nil {
		return
	}
	topic := PickTopic(agent.Topics, p.intn)
	hits, err := p.platform.Search(ctx, topic, engageSearchCount)
	if err != nil {
		p.logger.Warn("engagement search failed",
			zap.Int64("agent_id", agent.ID),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}
	if len(hits) > p.engageLimit {
		hits = hits[:p.engageLimit]
	}
	for _, hit := range hits {
		if ctx.Err() != nil {
			return
		}
		analysis, err := p.content.Analyze(ctx, hit.Text)
		if err != nil {
			p.logger.Warn("engagement analysis failed",
				zap.Int64("agent_id", agent.ID),
				zap.String("content_ref", hit.ID),
				zap.Error(err),
			)
			continue
		}
		p.react(ctx, agent, topic, hit, analysis.EngagementScore)
	}
}

func (p *ContentPolicy) react(ctx context.Context, agent models.Agent, topic string, hit models.FoundPost, score int) {
	if score <= endorseScore {
		return
	}
	action := func(kind models.ActionKind) Action {
		return Action{
			Kind:         kind,
			ContentRef:   hit.ID,
			TargetUserID: hit.AuthorID,
			Metadata:     map[string]any{"engagement": "search", "topic": topic, "score": score},
		}
	}
	p.exec.Execute(ctx, agent, action(models.ActionEndorse))
	if score <= commentScore || p.intn(100) >= commentChance {
		return
	}

	act := action(models.ActionComment)
	reply, err := p.content.GenerateReply(ctx, hit.Text, ReplyTone(agent))
	if err != nil {
		p.exec.Fail(ctx, agent, act, fmt.Errorf("generate reply: %w", err))
		return
	}
	act.Content = reply
	p.exec.Execute(ctx, agent, act)
}
