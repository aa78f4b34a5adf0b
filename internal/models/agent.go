package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPostCadence        = 60
	DefaultInteractionCadence = 30
	DefaultPersonality        = "professional"
	DefaultTopic              = "general"
)

// BehaviorProfile controls which interaction kinds an agent draws from.
type BehaviorProfile string

const (
	BehaviorFriendly   BehaviorProfile = "friendly"
	BehaviorNeutral    BehaviorProfile = "neutral"
	BehaviorAggressive BehaviorProfile = "aggressive"
	BehaviorAnalytical BehaviorProfile = "analytical"
)

var behaviorProfiles = []BehaviorProfile{
	BehaviorFriendly,
	BehaviorNeutral,
	BehaviorAggressive,
	BehaviorAnalytical,
}

// ParseBehaviorProfile rejects anything outside the closed set. An empty
// string maps to the friendly default.
func ParseBehaviorProfile(raw string) (BehaviorProfile, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return BehaviorFriendly, nil
	}
	for _, b := range behaviorProfiles {
		if string(b) == v {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown behavior profile %q", raw)
}

// Concern is one of the two independently scheduled behaviors of an agent.
type Concern string

const (
	ConcernPosting     Concern = "posting"
	ConcernInteraction Concern = "interaction"
)

type Agent struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	Description        *string         `json:"description,omitempty"`
	Active             bool            `json:"active"`
	Handle             string          `json:"handle,omitempty"`
	Credential         string          `json:"-"`
	Topics             []string        `json:"topics"`
	Personality        string          `json:"personality"`
	PostCadence        int             `json:"post_cadence"`
	LastSelfPostAt     *time.Time      `json:"last_self_post_at,omitempty"`
	InteractionEnabled bool            `json:"interaction_enabled"`
	InteractionCadence int             `json:"interaction_cadence"`
	Behavior           BehaviorProfile `json:"behavior"`
	Peers              []int64         `json:"peers"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// HasCredential is surfaced instead of the credential itself.
func (a Agent) HasCredential() bool {
	return strings.TrimSpace(a.Credential) != ""
}

// Cadence returns the timer period for a concern.
func (a Agent) Cadence(c Concern) time.Duration {
	switch c {
	case ConcernInteraction:
		return time.Duration(a.InteractionCadence) * time.Minute
	default:
		return time.Duration(a.PostCadence) * time.Minute
	}
}

// Normalize fills defaults and enforces the agent invariants: positive
// cadences, a known behavior profile and a peer set without the agent itself
// or duplicates.
func (a *Agent) Normalize() error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if a.PostCadence == 0 {
		a.PostCadence = DefaultPostCadence
	}
	if a.InteractionCadence == 0 {
		a.InteractionCadence = DefaultInteractionCadence
	}
	if a.PostCadence < 0 {
		return fmt.Errorf("post_cadence must be a positive number of minutes")
	}
	if a.InteractionCadence < 0 {
		return fmt.Errorf("interaction_cadence must be a positive number of minutes")
	}
	b, err := ParseBehaviorProfile(string(a.Behavior))
	if err != nil {
		return err
	}
	a.Behavior = b
	a.Personality = strings.TrimSpace(a.Personality)
	a.Handle = strings.TrimPrefix(strings.TrimSpace(a.Handle), "@")

	topics := make([]string, 0, len(a.Topics))
	seenTopic := map[string]bool{}
	for _, t := range a.Topics {
		t = strings.TrimSpace(t)
		if t == "" || seenTopic[t] {
			continue
		}
		seenTopic[t] = true
		topics = append(topics, t)
	}
	a.Topics = topics

	peers := make([]int64, 0, len(a.Peers))
	seenPeer := map[int64]bool{}
	for _, p := range a.Peers {
		if p <= 0 || p == a.ID || seenPeer[p] {
			continue
		}
		seenPeer[p] = true
		peers = append(peers, p)
	}
	a.Peers = peers
	return nil
}

// AgentPatch carries an operator edit. Nil fields are left unchanged.
type AgentPatch struct {
	Name               *string   `json:"name,omitempty"`
	Description        *string   `json:"description,omitempty"`
	Active             *bool     `json:"active,omitempty"`
	Handle             *string   `json:"handle,omitempty"`
	Credential         *string   `json:"credential,omitempty"`
	Topics             *[]string `json:"topics,omitempty"`
	Personality        *string   `json:"personality,omitempty"`
	PostCadence        *int      `json:"post_cadence,omitempty"`
	InteractionEnabled *bool     `json:"interaction_enabled,omitempty"`
	InteractionCadence *int      `json:"interaction_cadence,omitempty"`
	Behavior           *string   `json:"behavior,omitempty"`
	Peers              *[]int64  `json:"peers,omitempty"`
}

// Apply copies the set fields onto a and re-normalizes it.
func (a *Agent) Apply(p AgentPatch) error {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Description != nil {
		if d := strings.TrimSpace(*p.Description); d == "" {
			a.Description = nil
		} else {
			a.Description = &d
		}
	}
	if p.Active != nil {
		a.Active = *p.Active
	}
	if p.Handle != nil {
		a.Handle = *p.Handle
	}
	if p.Credential != nil {
		a.Credential = *p.Credential
	}
	if p.Topics != nil {
		a.Topics = *p.Topics
	}
	if p.Personality != nil {
		a.Personality = *p.Personality
	}
	if p.PostCadence != nil {
		if *p.PostCadence <= 0 {
			return fmt.Errorf("post_cadence must be a positive number of minutes")
		}
		a.PostCadence = *p.PostCadence
	}
	if p.InteractionEnabled != nil {
		a.InteractionEnabled = *p.InteractionEnabled
	}
	if p.InteractionCadence != nil {
		if *p.InteractionCadence <= 0 {
			return fmt.Errorf("interaction_cadence must be a positive number of minutes")
		}
		a.InteractionCadence = *p.InteractionCadence
	}
	if p.Behavior != nil {
		a.Behavior = BehaviorProfile(*p.Behavior)
	}
	if p.Peers != nil {
		a.Peers = *p.Peers
	}
	return a.Normalize()
}
