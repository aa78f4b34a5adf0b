package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"testing"
	"time"

	"botfleet/internal/db"
	"botfleet/internal/models"
)

func TestAgentsEndpointsRequireAuth(t *testing.T) {
	server, _, _ := setupTestServer(t)

	noAuth := doReq(t, server.URL, "", http.MethodGet, "/api/v1/agents", nil)
	if noAuth.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", noAuth.StatusCode)
	}
	_ = noAuth.Body.Close()
}

func TestAgentsCRUD(t *testing.T) {
	env := newTestEnv(t, 0)
	opKey := createOperatorForTest(t, env.db, "ops", "operator")

	peer := createAgent(t, env, map[string]any{"name": "peer"})
	a := createAgent(t, env, map[string]any{
		"name":                "writer",
		"handle":              "@writer",
		"topics":              []string{"golang", "golang", " sqlite "},
		"behavior":            "analytical",
		"interaction_enabled": true,
		"peers":               []int64{peer.ID},
	})
	if a.Handle != "writer" || a.Behavior != models.BehaviorAnalytical || !a.HasCredential {
		t.Fatalf("unexpected created agent: %+v", a)
	}
	if !slices.Equal(a.Topics, []string{"golang", "sqlite"}) {
		t.Fatalf("topics not normalized: %v", a.Topics)
	}
	if a.PostCadence != models.DefaultPostCadence || a.InteractionCadence != models.DefaultInteractionCadence {
		t.Fatalf("cadence defaults not applied: %+v", a)
	}

	list := doReq(t, env.srv.URL, opKey, http.MethodGet, "/api/v1/agents", nil)
	var listed struct {
		Agents []agentView `json:"agents"`
		Total  int         `json:"total"`
	}
	decodeJSON(t, list, &listed)
	if listed.Total != 2 {
		t.Fatalf("listed %d agents, want 2", listed.Total)
	}

	path := "/api/v1/agents/" + strconv.FormatInt(a.ID, 10)
	patch := doReq(t, env.srv.URL, opKey, http.MethodPatch, path, map[string]any{
		"post_cadence": 15,
		"personality":  "witty",
	})
	if patch.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", patch.StatusCode)
	}
	var patched agentView
	decodeJSON(t, patch, &patched)
	if patched.PostCadence != 15 || patched.Personality != "witty" || patched.Name != "writer" {
		t.Fatalf("unexpected patched agent: %+v", patched)
	}

	del := doReq(t, env.srv.URL, opKey, http.MethodDelete, "/api/v1/agents/"+strconv.FormatInt(peer.ID, 10), nil)
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", del.StatusCode)
	}
	_ = del.Body.Close()

	get := doReq(t, env.srv.URL, opKey, http.MethodGet, path, nil)
	var after agentView
	decodeJSON(t, get, &after)
	if len(after.Peers) != 0 {
		t.Fatalf("deleted peer still referenced: %v", after.Peers)
	}

	missing := doReq(t, env.srv.URL, opKey, http.MethodGet, "/api/v1/agents/9999", nil)
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing agent status = %d", missing.StatusCode)
	}
	_ = missing.Body.Close()

	want := []string{models.EventAgentCreated, models.EventAgentCreated, models.EventAgentUpdated, models.EventAgentDeleted}
	if got := env.notes.seen(); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestAgentValidation(t *testing.T) {
	env := newTestEnv(t, 0)
	a := createAgent(t, env, map[string]any{"name": "one"})
	path := "/api/v1/agents/" + strconv.FormatInt(a.ID, 10)

	cases := []struct {
		name   string
		method string
		path   string
		body   map[string]any
	}{
		{"missing name", http.MethodPost, "/api/v1/agents", map[string]any{"name": " "}},
		{"unknown behavior", http.MethodPost, "/api/v1/agents", map[string]any{"name": "x", "behavior": "chaotic"}},
		{"negative cadence", http.MethodPost, "/api/v1/agents", map[string]any{"name": "x", "post_cadence": -5}},
		{"unknown peer", http.MethodPost, "/api/v1/agents", map[string]any{"name": "x", "peers": []int64{4242}}},
		{"unknown field", http.MethodPost, "/api/v1/agents", map[string]any{"name": "x", "karma": 3}},
		{"zero cadence patch", http.MethodPatch, path, map[string]any{"interaction_cadence": 0}},
		{"unknown peer patch", http.MethodPatch, path, map[string]any{"peers": []int64{4242}}},
		{"bad id", http.MethodGet, "/api/v1/agents/abc", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doReq(t, env.srv.URL, env.adminKey, tc.method, tc.path, tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestPauseResumeDrivesTimers(t *testing.T) {
	env := newTestEnv(t, 0)
	a := createAgent(t, env, map[string]any{"name": "cycler", "active": true, "interaction_enabled": true})
	base := "/api/v1/agents/" + strconv.FormatInt(a.ID, 10)

	if got := env.fleet.Scheduler.Timers(a.ID); len(got) != 2 {
		t.Fatalf("timers after create = %v, want both concerns", got)
	}

	pause := doReq(t, env.srv.URL, env.adminKey, http.MethodPost, base+"/pause", nil)
	var paused agentView
	decodeJSON(t, pause, &paused)
	if paused.Active {
		t.Fatalf("agent still active after pause")
	}
	if got := env.fleet.Scheduler.Timers(a.ID); len(got) != 0 {
		t.Fatalf("timers after pause = %v", got)
	}

	sched := doReq(t, env.srv.URL, env.adminKey, http.MethodGet, base+"/schedule", nil)
	var schedule struct {
		Active      bool             `json:"active"`
		Timers      []models.Concern `json:"timers"`
		NextPostDue string           `json:"next_post_due"`
	}
	decodeJSON(t, sched, &schedule)
	if schedule.Active || len(schedule.Timers) != 0 || schedule.NextPostDue == "" {
		t.Fatalf("unexpected schedule: %+v", schedule)
	}

	resume := doReq(t, env.srv.URL, env.adminKey, http.MethodPost, base+"/resume", nil)
	if resume.StatusCode != http.StatusOK {
		t.Fatalf("resume status = %d", resume.StatusCode)
	}
	_ = resume.Body.Close()
	want := []models.Concern{models.ConcernInteraction, models.ConcernPosting}
	if got := env.fleet.Scheduler.Timers(a.ID); !slices.Equal(got, want) {
		t.Fatalf("timers after resume = %v, want %v", got, want)
	}

	disable := doReq(t, env.srv.URL, env.adminKey, http.MethodPatch, base, map[string]any{"interaction_enabled": false})
	_ = disable.Body.Close()
	if got := env.fleet.Scheduler.Timers(a.ID); !slices.Equal(got, []models.Concern{models.ConcernPosting}) {
		t.Fatalf("timers after disabling interaction = %v", got)
	}

	del := doReq(t, env.srv.URL, env.adminKey, http.MethodDelete, base, nil)
	_ = del.Body.Close()
	if got := env.fleet.Scheduler.Scheduled(); len(got) != 0 {
		t.Fatalf("scheduled after delete = %v", got)
	}

	notFound := doReq(t, env.srv.URL, env.adminKey, http.MethodPost, base+"/resume", nil)
	if notFound.StatusCode != http.StatusNotFound {
		t.Fatalf("resume deleted agent status = %d", notFound.StatusCode)
	}
	_ = notFound.Body.Close()
}

func TestCreateAgentDefaultsToActiveWithInteraction(t *testing.T) {
	env := newTestEnv(t, 0)

	resp := doReq(t, env.srv.URL, env.adminKey, http.MethodPost, "/api/v1/agents", map[string]any{"name": "x"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created agentView
	decodeJSON(t, resp, &created)
	if !created.Active || !created.InteractionEnabled {
		t.Fatalf("omitted fields should default on: active=%v interaction_enabled=%v", created.Active, created.InteractionEnabled)
	}
	want := []models.Concern{models.ConcernInteraction, models.ConcernPosting}
	if got := env.fleet.Scheduler.Timers(created.ID); !slices.Equal(got, want) {
		t.Fatalf("timers = %v, want %v", got, want)
	}

	quiet := createAgent(t, env, map[string]any{"name": "y", "interaction_enabled": false})
	if quiet.InteractionEnabled {
		t.Fatalf("explicit interaction_enabled=false was not kept")
	}
}

func TestPatchActiveDrivesTimers(t *testing.T) {
	env := newTestEnv(t, 0)
	a := createAgent(t, env, map[string]any{"name": "toggled", "active": true})
	base := "/api/v1/agents/" + strconv.FormatInt(a.ID, 10)

	off := doReq(t, env.srv.URL, env.adminKey, http.MethodPatch, base, map[string]any{"active": false})
	if off.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", off.StatusCode)
	}
	var paused agentView
	decodeJSON(t, off, &paused)
	if paused.Active {
		t.Fatalf("agent still active after patch")
	}
	if got := env.fleet.Scheduler.Timers(a.ID); len(got) != 0 {
		t.Fatalf("timers after patching active=false = %v", got)
	}

	on := doReq(t, env.srv.URL, env.adminKey, http.MethodPatch, base, map[string]any{"active": true, "post_cadence": 20})
	if on.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", on.StatusCode)
	}
	var resumed agentView
	decodeJSON(t, on, &resumed)
	if !resumed.Active || resumed.PostCadence != 20 {
		t.Fatalf("unexpected agent after resume patch: %+v", resumed)
	}
	want := []models.Concern{models.ConcernInteraction, models.ConcernPosting}
	if got := env.fleet.Scheduler.Timers(a.ID); !slices.Equal(got, want) {
		t.Fatalf("timers after patching active=true = %v, want %v", got, want)
	}

	seen := env.notes.seen()
	if !slices.Contains(seen, models.EventAgentPaused) || !slices.Contains(seen, models.EventAgentResumed) {
		t.Fatalf("pause and resume events missing: %v", seen)
	}
}

func TestDeleteAgentWhileTickIsRunning(t *testing.T) {
	env := newTestEnv(t, 0)
	entered, release := env.content.hold()
	t.Cleanup(release)

	a := createAgent(t, env, map[string]any{"name": "busy", "active": true})
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("posting tick never reached generation")
	}

	path := "/api/v1/agents/" + strconv.FormatInt(a.ID, 10)
	done := make(chan int, 1)
	go func() {
		req, err := http.NewRequest(http.MethodDelete, env.srv.URL+path, nil)
		if err != nil {
			done <- 0
			return
		}
		req.Header.Set("Authorization", "Bearer "+env.adminKey)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- 0
			return
		}
		_ = resp.Body.Close()
		done <- resp.StatusCode
	}()

	// The row is removed while the tick is still held in generation.
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := db.GetAgent(context.Background(), env.db, a.ID)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("agent row still present during delete: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case code := <-done:
		t.Fatalf("delete returned %d before the running tick finished", code)
	default:
	}

	release()
	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("delete status = %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delete did not return after the tick finished")
	}

	if got := env.fleet.Scheduler.Scheduled(); len(got) != 0 {
		t.Fatalf("scheduled after delete = %v", got)
	}
	recs, err := db.RecentActions(context.Background(), env.db, models.ActionQuery{AgentID: a.ID, Limit: 10})
	if err != nil {
		t.Fatalf("recent actions: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("tick wrote %d records for a deleted agent", len(recs))
	}

	resume := doReq(t, env.srv.URL, env.adminKey, http.MethodPost, path+"/resume", nil)
	_ = resume.Body.Close()
	if resume.StatusCode != http.StatusNotFound {
		t.Fatalf("resume after delete status = %d", resume.StatusCode)
	}
	if got := env.fleet.Scheduler.Scheduled(); len(got) != 0 {
		t.Fatalf("resume re-scheduled a deleted agent: %v", got)
	}
}
