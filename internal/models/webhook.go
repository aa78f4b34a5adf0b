package models

// Live-update event names delivered to webhooks, websocket clients and chat sinks.
const (
	EventAgentCreated   = "agent.created"
	EventAgentUpdated   = "agent.updated"
	EventAgentDeleted   = "agent.deleted"
	EventAgentPaused    = "agent.paused"
	EventAgentResumed   = "agent.resumed"
	EventActionRecorded = "action.recorded"
)

type Webhook struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Secret  string   `json:"secret,omitempty"`
	Created string   `json:"created"`
	Active  bool     `json:"active"`
}
