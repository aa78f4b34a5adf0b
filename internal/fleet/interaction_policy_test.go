package fleet

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botfleet/internal/models"
)

type interactionFixture struct {
	store    *memStore
	content  *fakeContent
	platform *fakePlatform
	policy   *InteractionPolicy
}

func newInteractionFixture(t *testing.T, opts ...Option) *interactionFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	f := &interactionFixture{
		store:    newMemStore(clock),
		content:  &fakeContent{},
		platform: newFakePlatform(),
	}
	opts = append([]Option{WithClock(clock)}, opts...)
	exec, err := NewExecutor(f.platform, f.store, nil, opts...)
	require.NoError(t, err)
	f.policy = NewInteractionPolicy(f.store, f.store, f.content, exec, opts...)
	return f
}

// pair creates acting agent A with peer B, where B has one successful post.
func (f *interactionFixture) pair(t *testing.T, behavior models.BehaviorProfile, peerHandle string) (models.Agent, models.Agent) {
	t.Helper()
	b := activeAgent("b")
	b.Handle = peerHandle
	peer := f.store.addAgent(b)
	a := activeAgent("a")
	a.Behavior = behavior
	a.Peers = []int64{peer.ID}
	actor := f.store.addAgent(a)
	f.store.seedPost(t, peer.ID, "hello", "tw-hello")
	return actor, peer
}

func kindsOf(recs []models.ActionRecord) map[models.ActionKind]int {
	out := map[models.ActionKind]int{}
	for _, r := range recs {
		out[r.Kind]++
	}
	return out
}

func TestMenuPerBehavior(t *testing.T) {
	cases := []struct {
		behavior models.BehaviorProfile
		handle   bool
		want     []models.ActionKind
	}{
		{models.BehaviorFriendly, true, []models.ActionKind{models.ActionEndorse, models.ActionComment, models.ActionShare, models.ActionFollow}},
		{models.BehaviorFriendly, false, []models.ActionKind{models.ActionEndorse, models.ActionComment, models.ActionShare}},
		{models.BehaviorNeutral, true, []models.ActionKind{models.ActionEndorse, models.ActionComment}},
		{models.BehaviorAggressive, true, []models.ActionKind{models.ActionComment}},
		{models.BehaviorAnalytical, false, []models.ActionKind{models.ActionComment, models.ActionEndorse}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Menu(tc.behavior, tc.handle), "%s handle=%v", tc.behavior, tc.handle)
	}
}

func TestAggressiveAlwaysComments(t *testing.T) {
	f := newInteractionFixture(t)
	actor, peer := f.pair(t, models.BehaviorAggressive, "b")

	for i := 0; i < 1000; i++ {
		_, err := f.policy.Tick(context.Background(), actor.ID)
		require.NoError(t, err)
	}
	recs := f.store.records(actor.ID)
	require.Len(t, recs, 1000)
	for _, r := range recs {
		require.Equal(t, models.ActionComment, r.Kind)
		require.Equal(t, peer.ID, *r.TargetAgentID)
	}
}

func TestEmptyPeerSetIsASilentSkip(t *testing.T) {
	f := newInteractionFixture(t)
	a := f.store.addAgent(activeAgent("loner"))

	for i := 0; i < 50; i++ {
		reason, err := f.policy.Tick(context.Background(), a.ID)
		require.NoError(t, err)
		require.Equal(t, SkipNoPeers, reason)
	}
	assert.Empty(t, f.store.records(a.ID))
}

func TestFriendlyCoversEveryKindWithResolvableHandle(t *testing.T) {
	f := newInteractionFixture(t)
	actor, _ := f.pair(t, models.BehaviorFriendly, "b")

	for i := 0; i < 100; i++ {
		_, err := f.policy.Tick(context.Background(), actor.ID)
		require.NoError(t, err)
	}
	kinds := kindsOf(f.store.records(actor.ID))
	assert.Positive(t, kinds[models.ActionEndorse])
	assert.Positive(t, kinds[models.ActionComment])
	assert.Positive(t, kinds[models.ActionShare])
	assert.Positive(t, kinds[models.ActionFollow])
	assert.Equal(t, 100, kinds[models.ActionEndorse]+kinds[models.ActionComment]+kinds[models.ActionShare]+kinds[models.ActionFollow])
}

func TestFriendlyWithoutHandleNeverFollows(t *testing.T) {
	f := newInteractionFixture(t)
	actor, _ := f.pair(t, models.BehaviorFriendly, "")

	for i := 0; i < 100; i++ {
		_, err := f.policy.Tick(context.Background(), actor.ID)
		require.NoError(t, err)
	}
	kinds := kindsOf(f.store.records(actor.ID))
	assert.Zero(t, kinds[models.ActionFollow])
	assert.Positive(t, kinds[models.ActionEndorse])
	assert.Positive(t, kinds[models.ActionComment])
	assert.Positive(t, kinds[models.ActionShare])
	assert.Zero(t, f.platform.count("resolve"))
}

func TestFollowResolutionFailureIsRecorded(t *testing.T) {
	f := newInteractionFixture(t, WithRandom(func(n int) int { return n - 1 }))
	f.platform.resolveErr = errors.New("user not found")
	actor, peer := f.pair(t, models.BehaviorFriendly, "b")

	_, err := f.policy.Tick(context.Background(), actor.ID)
	require.NoError(t, err)

	recs := f.store.records(actor.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, models.ActionFollow, recs[0].Kind)
	assert.Equal(t, models.OutcomeFailure, recs[0].Outcome)
	assert.Contains(t, *recs[0].Error, "user not found")
	assert.Nil(t, recs[0].TargetUserID)
	assert.Equal(t, peer.ID, *recs[0].TargetAgentID)
	assert.Zero(t, f.platform.count("follow"))
}

func TestCommentCarriesReplyAndMetadata(t *testing.T) {
	f := newInteractionFixture(t)
	actor, peer := f.pair(t, models.BehaviorAggressive, "b")

	_, err := f.policy.Tick(context.Background(), actor.ID)
	require.NoError(t, err)

	recs := f.store.records(actor.ID)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, "re: hello", *r.Content)
	assert.Equal(t, "tw-hello", *r.ContentRef)
	assert.Equal(t, "comment", r.Metadata["interaction"])
	assert.Equal(t, peer.ID, r.Metadata["peer_id"])
	assert.Equal(t, "b", r.Metadata["peer_name"])
	assert.NotEmpty(t, r.Metadata["reply_id"])
	assert.Equal(t, []string{"professional, blunt and challenging"}, f.content.tones)
}

func TestReplyGenerationFailureIsRecorded(t *testing.T) {
	f := newInteractionFixture(t)
	f.content.replyErr = errors.New("llm timeout")
	actor, _ := f.pair(t, models.BehaviorAggressive, "b")

	_, err := f.policy.Tick(context.Background(), actor.ID)
	require.NoError(t, err)

	recs := f.store.records(actor.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, models.ActionComment, recs[0].Kind)
	assert.Equal(t, models.OutcomeFailure, recs[0].Outcome)
	assert.Zero(t, f.platform.count("comment"))
}

func TestInteractionSkips(t *testing.T) {
	f := newInteractionFixture(t)
	ctx := context.Background()

	peer := f.store.addAgent(activeAgent("silent"))
	a := activeAgent("a")
	a.Peers = []int64{peer.ID}
	actor := f.store.addAgent(a)

	reason, err := f.policy.Tick(ctx, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, SkipNoTargetContent, reason)

	// Failed posts are never targets.
	msg := "rate limited"
	_, err = f.store.AppendAction(ctx, models.ActionRecord{AgentID: peer.ID, Kind: models.ActionPost, Outcome: models.OutcomeFailure, Error: &msg})
	require.NoError(t, err)
	reason, _ = f.policy.Tick(ctx, actor.ID)
	assert.Equal(t, SkipNoTargetContent, reason)

	f.store.remove(peer.ID)
	reason, err = f.policy.Tick(ctx, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, SkipPeerMissing, reason)

	f.store.update(actor.ID, func(a *models.Agent) { a.InteractionEnabled = false })
	reason, _ = f.policy.Tick(ctx, actor.ID)
	assert.Equal(t, SkipInteractionDisabled, reason)

	assert.Empty(t, f.store.records(actor.ID))
}

func TestTargetsOnlyRecentWindow(t *testing.T) {
	f := newInteractionFixture(t, WithRecentWindow(2), WithRandom(func(n int) int { return n - 1 }))
	actor, peer := f.pair(t, models.BehaviorAggressive, "b")
	f.store.seedPost(t, peer.ID, "second", "tw-2")
	f.store.seedPost(t, peer.ID, "third", "tw-3")

	_, err := f.policy.Tick(context.Background(), actor.ID)
	require.NoError(t, err)
	recs := f.store.records(actor.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, "tw-2", *recs[0].ContentRef, "oldest post inside a window of two")
}
