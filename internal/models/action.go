package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ActionKind is the closed set of things an agent can attempt.
type ActionKind string

const (
	ActionPost     ActionKind = "post"
	ActionEndorse  ActionKind = "endorse"
	ActionComment  ActionKind = "comment"
	ActionShare    ActionKind = "share"
	ActionFollow   ActionKind = "follow"
	ActionGenerate ActionKind = "generate"
	// ActionError tags failures raised inside a scheduler tick.
	ActionError ActionKind = "error"
)

var actionKinds = []ActionKind{
	ActionPost,
	ActionEndorse,
	ActionComment,
	ActionShare,
	ActionFollow,
	ActionGenerate,
	ActionError,
}

// PlatformKinds lists the kinds that reach the external platform.
var PlatformKinds = []ActionKind{
	ActionPost,
	ActionEndorse,
	ActionComment,
	ActionShare,
	ActionFollow,
}

// InteractionKinds lists the kinds a peer interaction can take.
var InteractionKinds = []ActionKind{
	ActionEndorse,
	ActionComment,
	ActionShare,
	ActionFollow,
}

func ParseActionKind(raw string) (ActionKind, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, k := range actionKinds {
		if string(k) == v {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown action kind %q", raw)
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

func ParseOutcome(raw string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(raw))) {
	case OutcomeSuccess:
		return OutcomeSuccess, nil
	case OutcomeFailure:
		return OutcomeFailure, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", raw)
	}
}

type ActionRecord struct {
	ID            int64          `json:"id"`
	AgentID       int64          `json:"agent_id"`
	Kind          ActionKind     `json:"kind"`
	Content       *string        `json:"content,omitempty"`
	ContentRef    *string        `json:"content_ref,omitempty"`
	TargetAgentID *int64         `json:"target_agent_id,omitempty"`
	TargetUserID  *string        `json:"target_user_id,omitempty"`
	Outcome       Outcome        `json:"outcome"`
	Error         *string        `json:"error,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (r ActionRecord) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Validate checks the record invariants: the outcome is always set and the
// error detail is present exactly when the outcome is a failure.
func (r ActionRecord) Validate() error {
	if r.AgentID <= 0 {
		return errors.New("action record requires an agent id")
	}
	if _, err := ParseActionKind(string(r.Kind)); err != nil {
		return err
	}
	switch r.Outcome {
	case OutcomeSuccess:
		if r.Error != nil {
			return errors.New("successful action record cannot carry an error")
		}
	case OutcomeFailure:
		if r.Error == nil || strings.TrimSpace(*r.Error) == "" {
			return errors.New("failed action record requires an error")
		}
	default:
		return fmt.Errorf("unknown outcome %q", r.Outcome)
	}
	return nil
}

// ActionQuery selects the most recent records for one agent.
type ActionQuery struct {
	AgentID int64
	Kind    ActionKind
	Outcome Outcome
	// TargetedOnly restricts the query to bot-to-bot interactions.
	TargetedOnly bool
	Limit        int
}

type InteractionStats struct {
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	ByKind    map[ActionKind]int `json:"by_kind"`
}
