package fleet

import (
	"context"
	"time"

	"botfleet/internal/models"
)

// AgentStore is the read side of agent configuration plus the one write a
// tick performs. Missing agents are reported as sql.ErrNoRows.
type AgentStore interface {
	GetAgent(ctx context.Context, id int64) (*models.Agent, error)
	ListAgents(ctx context.Context, activeOnly bool) ([]models.Agent, error)
	MarkSelfPosted(ctx context.Context, id int64, at time.Time) error
}

// ActionLog is the append-only outcome recorder. AppendAction reports
// sql.ErrNoRows when the agent no longer exists.
type ActionLog interface {
	AppendAction(ctx context.Context, r models.ActionRecord) (*models.ActionRecord, error)
	RecentActions(ctx context.Context, q models.ActionQuery) ([]models.ActionRecord, error)
	InteractionStats(ctx context.Context, agentID int64) (models.InteractionStats, error)
}

// Store is what a database-backed implementation provides.
type Store interface {
	AgentStore
	ActionLog
}

// ContentGenerator writes posts and replies, and scores found posts for
// engagement.
type ContentGenerator interface {
	Generate(ctx context.Context, topic, tone string) (string, error)
	GenerateReply(ctx context.Context, original, tone string) (string, error)
	Analyze(ctx context.Context, text string) (models.Analysis, error)
}

// Platform is the external social platform. Publish and Comment return the
// id of the content they create.
type Platform interface {
	Publish(ctx context.Context, text, credential string) (string, error)
	Endorse(ctx context.Context, contentID, credential string) error
	Comment(ctx context.Context, contentID, text, credential string) (string, error)
	Share(ctx context.Context, contentID, credential string) error
	Follow(ctx context.Context, userID, credential string) error
	ResolveHandle(ctx context.Context, handle string) (string, error)
	Search(ctx context.Context, query string, count int) ([]models.FoundPost, error)
}

// Notifier receives best-effort live updates. Implementations must not block.
type Notifier interface {
	Notify(event string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, any) {}

// Runner executes one tick of a concern for an agent.
type Runner interface {
	Run(ctx context.Context, agentID int64) error
}

type RunnerFunc func(ctx context.Context, agentID int64) error

func (f RunnerFunc) Run(ctx context.Context, agentID int64) error { return f(ctx, agentID) }

// TickFailureRecorder turns an error escaping a tick into a log entry.
type TickFailureRecorder interface {
	RecordTickFailure(ctx context.Context, agentID int64, concern models.Concern, cause error)
}

// SkipReason names an expected quiet tick. Skips are logged, never recorded.
type SkipReason string

const (
	SkipNone                SkipReason = ""
	SkipAgentMissing        SkipReason = "agent_missing"
	SkipAgentInactive       SkipReason = "agent_inactive"
	SkipInteractionDisabled SkipReason = "interaction_disabled"
	SkipNotDue              SkipReason = "not_due"
	SkipNoPeers             SkipReason = "no_peers"
	SkipPeerMissing         SkipReason = "peer_missing"
	SkipNoTargetContent     SkipReason = "no_target_content"
	SkipNoEligibleKind      SkipReason = "no_eligible_kind"
)
