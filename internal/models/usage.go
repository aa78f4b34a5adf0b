package models

type APIUsage struct {
	Service    string `json:"service"`
	Endpoint   string `json:"endpoint"`
	CallsCount int    `json:"calls_count"`
	DailyLimit int    `json:"daily_limit"`
	LastReset  string `json:"last_reset"`
}

type FleetStats struct {
	ActiveAgents  int `json:"active_agents"`
	TotalAgents   int `json:"total_agents"`
	TotalPosts    int `json:"total_posts"`
	TotalActions  int `json:"total_actions"`
	FailedActions int `json:"failed_actions"`
	PlatformCalls int `json:"platform_api_calls"`
	PlatformLimit int `json:"platform_api_limit"`
	LLMCalls      int `json:"llm_api_calls"`
	LLMLimit      int `json:"llm_api_limit"`
}
