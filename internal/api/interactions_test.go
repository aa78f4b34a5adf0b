package api

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"testing"

	"botfleet/internal/db"
	"botfleet/internal/models"
)

func TestManualInteractionsGoThroughExecutor(t *testing.T) {
	env := newTestEnv(t, 0)
	peer := createAgent(t, env, map[string]any{"name": "peer", "handle": "@Peer"})
	a := createAgent(t, env, map[string]any{"name": "actor", "personality": "dry"})
	base := "/api/v1/agents/" + strconv.FormatInt(a.ID, 10)

	steps := []struct {
		sub  string
		body map[string]any
		kind models.ActionKind
	}{
		{"endorse", map[string]any{"content_ref": "tw-9"}, models.ActionEndorse},
		{"share", map[string]any{"content_ref": "tw-9"}, models.ActionShare},
		{"comment", map[string]any{"content_ref": "tw-9", "text": "nice"}, models.ActionComment},
		{"comment", map[string]any{"content_ref": "tw-9", "original": "hello"}, models.ActionComment},
		{"follow", map[string]any{"handle": "@peer"}, models.ActionFollow},
	}
	var recs []models.ActionRecord
	for _, step := range steps {
		resp := doReq(t, env.srv.URL, env.adminKey, http.MethodPost, base+"/"+step.sub, step.body)
		if resp.StatusCode != http.StatusCreated {
			resp.Body.Close()
			t.Fatalf("%s status = %d", step.sub, resp.StatusCode)
		}
		var rec models.ActionRecord
		decodeJSON(t, resp, &rec)
		if rec.Kind != step.kind || rec.Outcome != models.OutcomeSuccess || rec.Metadata["manual"] != true {
			t.Fatalf("%s record = %+v", step.sub, rec)
		}
		recs = append(recs, rec)
	}

	if got := env.platform.seen("endorse"); !slices.Equal(got, []string{"tw-9 cookie"}) {
		t.Fatalf("endorse calls = %v", got)
	}
	if got := env.platform.seen("share"); !slices.Equal(got, []string{"tw-9"}) {
		t.Fatalf("share calls = %v", got)
	}
	if got := env.platform.seen("comment"); !slices.Equal(got, []string{"tw-9 nice", "tw-9 re: hello"}) {
		t.Fatalf("comment calls = %v", got)
	}
	if got := env.platform.seen("follow"); !slices.Equal(got, []string{"uid-peer"}) {
		t.Fatalf("follow calls = %v", got)
	}
	follow := recs[len(recs)-1]
	if follow.TargetAgentID == nil || *follow.TargetAgentID != peer.ID {
		t.Fatalf("follow of a fleet handle should target the peer: %+v", follow)
	}

	stored, err := db.RecentActions(context.Background(), env.db, models.ActionQuery{AgentID: a.ID, Limit: 10})
	if err != nil {
		t.Fatalf("recent actions: %v", err)
	}
	if len(stored) != len(steps) {
		t.Fatalf("stored %d records, want one per request (%d)", len(stored), len(steps))
	}
}

func TestManualInteractionValidation(t *testing.T) {
	env := newTestEnv(t, 0)
	a := createAgent(t, env, map[string]any{"name": "actor"})
	bare := createAgent(t, env, map[string]any{"name": "bare", "credential": ""})
	base := "/api/v1/agents/" + strconv.FormatInt(a.ID, 10)

	cases := []struct {
		name   string
		method string
		path   string
		body   map[string]any
		want   int
	}{
		{"endorse without target", http.MethodPost, base + "/endorse", map[string]any{}, http.StatusBadRequest},
		{"share without target", http.MethodPost, base + "/share", map[string]any{"text": "x"}, http.StatusBadRequest},
		{"comment without text", http.MethodPost, base + "/comment", map[string]any{"content_ref": "tw-1"}, http.StatusBadRequest},
		{"follow without target", http.MethodPost, base + "/follow", map[string]any{}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, base + "/endorse", map[string]any{"content_ref": "tw-1", "weight": 2}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, base + "/endorse", nil, http.StatusMethodNotAllowed},
		{"unknown agent", http.MethodPost, "/api/v1/agents/9999/endorse", map[string]any{"content_ref": "tw-1"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doReq(t, env.srv.URL, env.adminKey, tc.method, tc.path, tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}

	resp := doReq(t, env.srv.URL, env.adminKey, http.MethodPost,
		"/api/v1/agents/"+strconv.FormatInt(bare.ID, 10)+"/endorse", map[string]any{"content_ref": "tw-1"})
	if resp.StatusCode != http.StatusBadGateway {
		resp.Body.Close()
		t.Fatalf("endorse without credential status = %d", resp.StatusCode)
	}
	var rec models.ActionRecord
	decodeJSON(t, resp, &rec)
	if rec.Outcome != models.OutcomeFailure || rec.Error == nil || *rec.Error != "missing platform credential" {
		t.Fatalf("unexpected failure record: %+v", rec)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)
	env.platform.mu.Lock()
	env.platform.hits = []models.FoundPost{{ID: "1", Text: "go"}, {ID: "2", Text: "sqlite"}, {ID: "3", Text: "zap"}}
	env.platform.mu.Unlock()

	resp := doReq(t, env.srv.URL, env.adminKey, http.MethodGet, "/api/v1/search?q=golang&count=2", nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("search status = %d", resp.StatusCode)
	}
	var payload struct {
		Query string             `json:"query"`
		Posts []models.FoundPost `json:"posts"`
		Total int                `json:"total"`
	}
	decodeJSON(t, resp, &payload)
	if payload.Query != "golang" || payload.Total != 2 || payload.Posts[1].Text != "sqlite" {
		t.Fatalf("unexpected search payload: %+v", payload)
	}
	if got := env.platform.seen("search"); !slices.Equal(got, []string{"golang 2"}) {
		t.Fatalf("search calls = %v", got)
	}

	for _, path := range []string{"/api/v1/search", "/api/v1/search?q=go&count=0", "/api/v1/search?q=go&count=500"} {
		bad := doReq(t, env.srv.URL, env.adminKey, http.MethodGet, path, nil)
		_ = bad.Body.Close()
		if bad.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s status = %d, want 400", path, bad.StatusCode)
		}
	}
}
