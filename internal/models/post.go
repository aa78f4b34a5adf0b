package models

// FoundPost is a platform post returned by a search.
type FoundPost struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	AuthorID string `json:"author_id,omitempty"`
}

// Analysis is the content generator's read of a post. EngagementScore runs
// from 0 to 100.
type Analysis struct {
	Sentiment       string   `json:"sentiment"`
	Topics          []string `json:"topics"`
	EngagementScore int      `json:"engagement_score"`
}
