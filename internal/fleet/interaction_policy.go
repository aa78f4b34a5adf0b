package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"botfleet/internal/models"
)

var behaviorMenus = map[models.BehaviorProfile][]models.ActionKind{
	models.BehaviorFriendly:   {models.ActionEndorse, models.ActionComment, models.ActionShare, models.ActionFollow},
	models.BehaviorNeutral:    {models.ActionEndorse, models.ActionComment},
	models.BehaviorAggressive: {models.ActionComment},
	models.BehaviorAnalytical: {models.ActionComment, models.ActionEndorse},
}

var behaviorVoices = map[models.BehaviorProfile]string{
	models.BehaviorFriendly:   "warm and supportive",
	models.BehaviorNeutral:    "balanced and matter-of-fact",
	models.BehaviorAggressive: "blunt and challenging",
	models.BehaviorAnalytical: "data-driven and inquisitive",
}

// Menu lists the interaction kinds a behavior profile may draw from. Follow
// is only eligible when the peer's handle is known.
func Menu(behavior models.BehaviorProfile, peerHasHandle bool) []models.ActionKind {
	base := behaviorMenus[behavior]
	out := make([]models.ActionKind, 0, len(base))
	for _, k := range base {
		if k == models.ActionFollow && !peerHasHandle {
			continue
		}
		out = append(out, k)
	}
	return out
}

// ReplyTone conditions reply generation on personality and behavior.
func ReplyTone(agent models.Agent) string {
	voice, ok := behaviorVoices[agent.Behavior]
	if !ok {
		return Tone(agent)
	}
	return Tone(agent) + ", " + voice
}

// InteractionPolicy picks a peer, one of its recent posts and an interaction
// kind, then hands the action to the executor.
type InteractionPolicy struct {
	agents  AgentStore
	log     ActionLog
	content ContentGenerator
	exec    *Executor
	logger  *zap.Logger
	intn    func(int) int
	window  int
}

func NewInteractionPolicy(agents AgentStore, log ActionLog, content ContentGenerator, exec *Executor, opts ...Option) *InteractionPolicy {
	o := buildOptions(opts)
	return &InteractionPolicy{
		agents:  agents,
		log:     log,
		content: content,
		exec:    exec,
		logger:  o.logger.Named("interaction"),
		intn:    o.intn,
		window:  o.recentWindow,
	}
}

func (p *InteractionPolicy) Run(ctx context.Context, agentID int64) error {
	reason, err := p.Tick(ctx, agentID)
	if reason != SkipNone {
		p.logger.Debug("interaction tick skipped", zap.Int64("agent_id", agentID), zap.String("reason", string(reason)))
	}
	return err
}

func (p *InteractionPolicy) Tick(ctx context.Context, agentID int64) (SkipReason, error) {
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
	if !agent.InteractionEnabled {
		return SkipInteractionDisabled, nil
	}
	if len(agent.Peers) == 0 {
		return SkipNoPeers, nil
	}

	peerID := agent.Peers[p.intn(len(agent.Peers))]
	peer, err := p.agents.GetAgent(ctx, peerID)
	if errors.Is(err, sql.ErrNoRows) {
		return SkipPeerMissing, nil
	}
	if err != nil {
		return SkipNone, fmt.Errorf("load peer %d: %w", peerID, err)
	}

	recent, err := p.log.RecentActions(ctx, models.ActionQuery{
		AgentID: peer.ID,
		Kind:    models.ActionPost,
		Outcome: models.OutcomeSuccess,
		Limit:   p.window,
	})
	if err != nil {
		return SkipNone, fmt.Errorf("read recent posts of peer %d: %w", peer.ID, err)
	}
	targets := recent[:0]
	for _, r := range recent {
		if r.ContentRef != nil && *r.ContentRef != "" {
			targets = append(targets, r)
		}
	}
	if len(targets) == 0 {
		return SkipNoTargetContent, nil
	}
	target := targets[p.intn(len(targets))]

	menu := Menu(agent.Behavior, peer.Handle != "")
	if len(menu) == 0 {
		return SkipNoEligibleKind, nil
	}
	kind := menu[p.intn(len(menu))]

	act := Action{
		Kind:          kind,
		ContentRef:    *target.ContentRef,
		TargetAgentID: &peer.ID,
		Metadata: map[string]any{
			"interaction": string(kind),
			"peer_id":     peer.ID,
			"peer_name":   peer.Name,
		},
	}
	switch kind {
	case models.ActionComment:
		original := ""
		if target.Content != nil {
			original = *target.Content
		}
		reply, err := p.content.GenerateReply(ctx, original, ReplyTone(*agent))
		if err != nil {
			p.exec.Fail(ctx, *agent, act, fmt.Errorf("generate reply: %w", err))
			return SkipNone, nil
		}
		act.Content = reply
	case models.ActionFollow:
		act.TargetHandle = peer.Handle
	}

	p.exec.Execute(ctx, *agent, act)
	return SkipNone, nil
}
