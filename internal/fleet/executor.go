package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"botfleet/internal/models"
)

const errMissingCredential = "missing platform credential"

// Action is one externally visible operation requested by a policy or an operator.
type Action struct {
	Kind          models.ActionKind
	Content       string
	ContentRef    string
	TargetAgentID *int64
	TargetUserID  string
	// TargetHandle is resolved to TargetUserID by the follow handler.
	TargetHandle string
	Metadata     map[string]any
}

type handler func(ctx context.Context, agent models.Agent, act *Action) (ref string, err error)

// Executor performs actions against the platform and writes exactly one
// record per call. It never returns an error; callers inspect the record.
type Executor struct {
	platform Platform
	log      ActionLog
	notifier Notifier
	clock    clockwork.Clock
	logger   *zap.Logger
	handlers map[models.ActionKind]handler
}

func NewExecutor(platform Platform, log ActionLog, notifier Notifier, opts ...Option) (*Executor, error) {
	if platform == nil || log == nil {
		return nil, errors.New("executor requires a platform and an action log")
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	o := buildOptions(opts)
	e := &Executor{
		platform: platform,
		log:      log,
		notifier: notifier,
		clock:    o.clock,
		logger:   o.logger.Named("executor"),
	}
	e.handlers = map[models.ActionKind]handler{
		models.ActionPost:    e.publish,
		models.ActionEndorse: e.endorse,
		models.ActionComment: e.comment,
		models.ActionShare:   e.share,
		models.ActionFollow:  e.follow,
	}
	for _, k := range models.PlatformKinds {
		if _, ok := e.handlers[k]; !ok {
			return nil, fmt.Errorf("no handler for action kind %q", k)
		}
	}
	return e, nil
}

func (e *Executor) Execute(ctx context.Context, agent models.Agent, act Action) models.ActionRecord {
	h, ok := e.handlers[act.Kind]
	if !ok {
		return e.Fail(ctx, agent, act, fmt.Errorf("unsupported action kind %q", act.Kind))
	}
	if !agent.HasCredential() {
		return e.Fail(ctx, agent, act, errors.New(errMissingCredential))
	}
	ref, err := h(ctx, agent, &act)
	if err != nil {
		return e.Fail(ctx, agent, act, err)
	}
	rec := e.draft(agent.ID, act)
	rec.Outcome = models.OutcomeSuccess
	if ref != "" {
		rec.ContentRef = &ref
	}
	return e.append(ctx, rec)
}

// Fail records an attempt that failed before or during dispatch.
func (e *Executor) Fail(ctx context.Context, agent models.Agent, act Action, cause error) models.ActionRecord {
	rec := e.draft(agent.ID, act)
	rec.Outcome = models.OutcomeFailure
	msg := causeText(cause)
	rec.Error = &msg
	return e.append(ctx, rec)
}

func (e *Executor) RecordTickFailure(ctx context.Context, agentID int64, concern models.Concern, cause error) {
	e.Fail(ctx, models.Agent{ID: agentID}, Action{
		Kind:     models.ActionError,
		Metadata: map[string]any{"concern": string(concern)},
	}, cause)
}

// Record appends a record built outside the platform path, such as an
// operator-requested generation.
func (e *Executor) Record(ctx context.Context, agentID int64, act Action, cause error) models.ActionRecord {
	if cause != nil {
		return e.Fail(ctx, models.Agent{ID: agentID}, act, cause)
	}
	rec := e.draft(agentID, act)
	rec.Outcome = models.OutcomeSuccess
	return e.append(ctx, rec)
}

func (e *Executor) draft(agentID int64, act Action) models.ActionRecord {
	rec := models.ActionRecord{
		AgentID:       agentID,
		Kind:          act.Kind,
		TargetAgentID: act.TargetAgentID,
		Metadata:      act.Metadata,
		CreatedAt:     e.clock.Now(),
	}
	if act.Content != "" {
		content := act.Content
		rec.Content = &content
	}
	if act.ContentRef != "" {
		ref := act.ContentRef
		rec.ContentRef = &ref
	}
	if act.TargetUserID != "" {
		uid := act.TargetUserID
		rec.TargetUserID = &uid
	}
	return rec
}

func (e *Executor) append(ctx context.Context, rec models.ActionRecord) models.ActionRecord {
	stored, err := e.log.AppendAction(context.WithoutCancel(ctx), rec)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		e.logger.Warn("agent gone, action record skipped",
			zap.Int64("agent_id", rec.AgentID),
			zap.String("kind", string(rec.Kind)),
		)
		return rec
	case err != nil:
		e.logger.Error("append action record",
			zap.Int64("agent_id", rec.AgentID),
			zap.String("kind", string(rec.Kind)),
			zap.Error(err),
		)
		return rec
	}
	fields := []zap.Field{
		zap.Int64("agent_id", stored.AgentID),
		zap.Int64("action_id", stored.ID),
		zap.String("kind", string(stored.Kind)),
		zap.String("outcome", string(stored.Outcome)),
	}
	if stored.Error != nil {
		e.logger.Info("action failed", append(fields, zap.String("error", *stored.Error))...)
	} else {
		e.logger.Info("action recorded", fields...)
	}
	e.notifier.Notify(models.EventActionRecorded, *stored)
	return *stored
}

func (e *Executor) publish(ctx context.Context, agent models.Agent, act *Action) (string, error) {
	if strings.TrimSpace(act.Content) == "" {
		return "", errors.New("post requires content")
	}
	return e.platform.Publish(ctx, act.Content, agent.Credential)
}

func (e *Executor) endorse(ctx context.Context, agent models.Agent, act *Action) (string, error) {
	if act.ContentRef == "" {
		return "", errors.New("endorse requires target content")
	}
	return act.ContentRef, e.platform.Endorse(ctx, act.ContentRef, agent.Credential)
}

// comment keeps the target as the record's content ref and the reply id in metadata.
func (e *Executor) comment(ctx context.Context, agent models.Agent, act *Action) (string, error) {
	if act.ContentRef == "" || strings.TrimSpace(act.Content) == "" {
		return "", errors.New("comment requires target content and reply text")
	}
	replyID, err := e.platform.Comment(ctx, act.ContentRef, act.Content, agent.Credential)
	if err != nil {
		return "", err
	}
	if replyID != "" {
		act.Metadata = withMeta(act.Metadata, "reply_id", replyID)
	}
	return act.ContentRef, nil
}

func (e *Executor) share(ctx context.Context, agent models.Agent, act *Action) (string, error) {
	if act.ContentRef == "" {
		return "", errors.New("share requires target content")
	}
	return act.ContentRef, e.platform.Share(ctx, act.ContentRef, agent.Credential)
}

func (e *Executor) follow(ctx context.Context, agent models.Agent, act *Action) (string, error) {
	if act.TargetUserID == "" {
		if act.TargetHandle == "" {
			return "", errors.New("follow requires a target handle")
		}
		uid, err := e.platform.ResolveHandle(ctx, act.TargetHandle)
		if err != nil {
			return "", fmt.Errorf("resolve handle @%s: %w", act.TargetHandle, err)
		}
		act.TargetUserID = uid
	}
	if err := e.platform.Follow(ctx, act.TargetUserID, agent.Credential); err != nil {
		return "", err
	}
	return act.ContentRef, nil
}

func withMeta(m map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}

func causeText(err error) string {
	if err == nil {
		return "unknown error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out: " + err.Error()
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "unknown error"
	}
	return msg
}
