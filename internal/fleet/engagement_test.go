package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botfleet/internal/models"
)

func engagingAgent() models.Agent {
	return models.Agent{Name: "A", Active: true, Credential: "c", PostCadence: 60, Topics: []string{"tech"}}
}

func kindSequence(recs []models.ActionRecord) []models.ActionKind {
	out := make([]models.ActionKind, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Kind)
	}
	return out
}

func TestEngagementEndorsesAndCommentsByScore(t *testing.T) {
	f := newContentFixture(t, WithRandom(func(int) int { return 0 }))
	f.platform.hits = []models.FoundPost{
		{ID: "h1", Text: "great", AuthorID: "u1"},
		{ID: "h2", Text: "okay"},
		{ID: "h3", Text: "beyond the limit"},
	}
	f.content.scores = map[string]int{"great": 90, "okay": 60, "beyond the limit": 99}
	a := f.store.addAgent(engagingAgent())

	_, err := f.policy.Tick(context.Background(), a.ID)
	require.NoError(t, err)

	recs := f.store.records(a.ID)
	assert.Equal(t, []models.ActionKind{models.ActionPost, models.ActionEndorse, models.ActionComment, models.ActionEndorse}, kindSequence(recs))
	require.Len(t, recs, 4)
	for _, r := range recs {
		assert.Equal(t, models.OutcomeSuccess, r.Outcome)
		assert.Nil(t, r.TargetAgentID, "engagement is not a peer interaction")
	}
	assert.Equal(t, "h1", *recs[1].ContentRef)
	assert.Equal(t, "u1", *recs[1].TargetUserID)
	assert.Equal(t, 90, recs[1].Metadata["score"])
	assert.Equal(t, "re: great", *recs[2].Content)
	assert.Equal(t, "h2", *recs[3].ContentRef)

	assert.Equal(t, []string{"tech"}, f.platform.queries)
	assert.Equal(t, []string{"great", "okay"}, f.content.analyzed)
	assert.Equal(t, 2, f.platform.count("endorse"))
	assert.Equal(t, 1, f.platform.count("comment"))
}

func TestEngagementCommentsOnlyWithinChance(t *testing.T) {
	f := newContentFixture(t, WithRandom(func(n int) int { return n - 1 }))
	f.platform.hits = []models.FoundPost{{ID: "h1", Text: "great"}}
	f.content.scores = map[string]int{"great": 95}
	a := f.store.addAgent(engagingAgent())

	_, err := f.policy.Tick(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.ActionKind{models.ActionPost, models.ActionEndorse}, kindSequence(f.store.records(a.ID)))
}

func TestEngagementThresholdsAreExclusive(t *testing.T) {
	f := newContentFixture(t, WithRandom(func(int) int { return 0 }))
	f.platform.hits = []models.FoundPost{{ID: "h1", Text: "fifty"}, {ID: "h2", Text: "seventy"}}
	f.content.scores = map[string]int{"fifty": 50, "seventy": 70}
	a := f.store.addAgent(engagingAgent())

	_, err := f.policy.Tick(context.Background(), a.ID)
	require.NoError(t, err)
	recs := f.store.records(a.ID)
	assert.Equal(t, []models.ActionKind{models.ActionPost, models.ActionEndorse}, kindSequence(recs))
	assert.Equal(t, "h2", *recs[1].ContentRef)
}

func TestEngagementFailuresBeforeAnActionAreNotRecorded(t *testing.T) {
	t.Run("search", func(t *testing.T) {
		f := newContentFixture(t)
		f.platform.searchErr = errPlatformDown
		a := f.store.addAgent(engagingAgent())

		_, err := f.policy.Tick(context.Background(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, []models.ActionKind{models.ActionPost}, kindSequence(f.store.records(a.ID)))
	})
	t.Run("analysis", func(t *testing.T) {
		f := newContentFixture(t)
		f.platform.hits = []models.FoundPost{{ID: "h1", Text: "great"}, {ID: "h2", Text: "fine"}}
		f.content.analyzeErr = errors.New("LLM API Error: decode analysis")
		a := f.store.addAgent(engagingAgent())

		_, err := f.policy.Tick(context.Background(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, []models.ActionKind{models.ActionPost}, kindSequence(f.store.records(a.ID)))
		assert.Len(t, f.content.analyzed, 2)
	})
}

func TestEngagementReplyFailureIsRecorded(t *testing.T) {
	f := newContentFixture(t, WithRandom(func(int) int { return 0 }))
	f.platform.hits = []models.FoundPost{{ID: "h1", Text: "great"}}
	f.content.scores = map[string]int{"great": 80}
	f.content.replyErr = errors.New("quota exceeded")
	a := f.store.addAgent(engagingAgent())

	_, err := f.policy.Tick(context.Background(), a.ID)
	require.NoError(t, err)
	recs := f.store.records(a.ID)
	require.Equal(t, []models.ActionKind{models.ActionPost, models.ActionEndorse, models.ActionComment}, kindSequence(recs))
	assert.Equal(t, models.OutcomeFailure, recs[2].Outcome)
	assert.Contains(t, *recs[2].Error, "generate reply")
	assert.Zero(t, f.platform.count("comment"))
}

func TestEngagementFollowsPostingCadence(t *testing.T) {
	f := newContentFixture(t)
	a := f.store.addAgent(engagingAgent())

	_, err := f.policy.Tick(context.Background(), a.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	reason, err := f.policy.Tick(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, SkipNotDue, reason)
	assert.Equal(t, 1, f.platform.count("search"))

	f.clock.Advance(time.Hour)
	_, err = f.policy.Tick(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.platform.count("search"))
}

func TestEngagementSkippedWhenDisabledOrUncredentialed(t *testing.T) {
	f := newContentFixture(t, WithEngagementLimit(0))
	a := f.store.addAgent(engagingAgent())
	_, err := f.policy.Tick(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Zero(t, f.platform.count("search"))

	f = newContentFixture(t)
	bare := engagingAgent()
	bare.Credential = ""
	b := f.store.addAgent(bare)
	_, err = f.policy.Tick(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Zero(t, f.platform.count("search"))
	recs := f.store.records(b.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, models.OutcomeFailure, recs[0].Outcome)
}
