package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"botfleet/internal/auth"
	"botfleet/internal/db"
	"botfleet/internal/fleet"
	"botfleet/internal/models"
)

type fakeContent struct {
	mu    sync.Mutex
	calls int
	err   error
	// When gate is set, Generate signals entered and waits for gate to close.
	gate    chan struct{}
	entered chan struct{}
}

// hold makes the next Generate calls block until the returned func runs.
func (f *fakeContent) hold() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 1)
	gate := f.gate
	var once sync.Once
	return f.entered, func() { once.Do(func() { close(gate) }) }
}

func (f *fakeContent) Generate(ctx context.Context, topic, tone string) (string, error) {
	f.mu.Lock()
	f.calls++
	err, gate, entered := f.err, f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "post about " + topic + " in a " + tone + " voice", nil
}

func (f *fakeContent) GenerateReply(_ context.Context, original, tone string) (string, error) {
	return "re: " + original, nil
}

func (f *fakeContent) Analyze(context.Context, string) (models.Analysis, error) {
	return models.Analysis{Sentiment: "neutral"}, nil
}

func (f *fakeContent) Ping(context.Context) error { return f.err }

type fakePlatform struct {
	mu        sync.Mutex
	published []string
	calls     map[string][]string
	hits      []models.FoundPost
}

// record notes a call's arguments by method name.
func (p *fakePlatform) record(method string, args ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string][]string{}
	}
	p.calls[method] = append(p.calls[method], strings.Join(args, " "))
}

func (p *fakePlatform) seen(method string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls[method]...)
}

func (p *fakePlatform) Search(_ context.Context, query string, count int) ([]models.FoundPost, error) {
	p.record("search", query, strconv.Itoa(count))
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.hits) > count {
		return p.hits[:count], nil
	}
	return p.hits, nil
}

func (p *fakePlatform) Publish(_ context.Context, text, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, text)
	return "tw-1", nil
}

func (p *fakePlatform) Endorse(_ context.Context, contentID, credential string) error {
	p.record("endorse", contentID, credential)
	return nil
}

func (p *fakePlatform) Comment(_ context.Context, contentID, text, _ string) (string, error) {
	p.record("comment", contentID, text)
	return "tw-2", nil
}

func (p *fakePlatform) Share(_ context.Context, contentID, _ string) error {
	p.record("share", contentID)
	return nil
}

func (p *fakePlatform) Follow(_ context.Context, userID, _ string) error {
	p.record("follow", userID)
	return nil
}

func (p *fakePlatform) ResolveHandle(_ context.Context, handle string) (string, error) {
	return "uid-" + handle, nil
}

func (p *fakePlatform) Ping(context.Context) error {
	return errors.New("Twitter API Error: invalid api key")
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type testEnv struct {
	srv      *httptest.Server
	db       *sql.DB
	adminKey string
	fleet    *fleet.Service
	content  *fakeContent
	platform *fakePlatform
	notes    *recordingNotifier
}

// newTestEnv runs the router over a migrated database and a live fleet
// service on a fake clock, so only the immediate tick of a provision runs.
func newTestEnv(t *testing.T, requestsPerMinute int) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "fleet-test.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	env := &testEnv{
		db:       database,
		content:  &fakeContent{},
		platform: &fakePlatform{},
		notes:    &recordingNotifier{},
	}
	env.fleet, err = fleet.New(db.NewStore(database), env.content, env.platform, env.notes,
		fleet.WithClock(clockwork.NewFakeClockAt(time.Now())))
	if err != nil {
		t.Fatalf("build fleet: %v", err)
	}
	env.adminKey = createOperatorForTest(t, database, "admin", db.RoleAdmin)
	env.srv = httptest.NewServer(NewRouter(Deps{
		DB:                database,
		Fleet:             env.fleet,
		Content:           env.content,
		Platform:          env.platform,
		Notifier:          env.notes,
		Version:           "test",
		RequestsPerMinute: requestsPerMinute,
	}))
	t.Cleanup(env.srv.Close)
	t.Cleanup(func() { _ = env.fleet.Shutdown(context.Background()) })
	return env
}

func setupTestServer(t *testing.T) (*httptest.Server, *sql.DB, string) {
	t.Helper()
	env := newTestEnv(t, 0)
	return env.srv, env.db, env.adminKey
}

func createOperatorForTest(t *testing.T, database *sql.DB, name, role string) string {
	t.Helper()
	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}
	if err := db.CreateOperator(context.Background(), database, name, role, auth.HashAPIKey(apiKey)); err != nil {
		t.Fatalf("create operator: %v", err)
	}
	return apiKey
}

func doReq(t *testing.T, baseURL, apiKey, method, path string, body any) *http.Response {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal req: %v", err)
		}
	}
	req, err := http.NewRequest(method, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

// createAgent posts a paused agent unless fields override it.
func createAgent(t *testing.T, env *testEnv, fields map[string]any) agentView {
	t.Helper()
	body := map[string]any{"name": "agent", "active": false, "credential": "cookie"}
	for k, v := range fields {
		body[k] = v
	}
	resp := doReq(t, env.srv.URL, env.adminKey, http.MethodPost, "/api/v1/agents", body)
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		t.Fatalf("create agent status = %d", resp.StatusCode)
	}
	var out agentView
	decodeJSON(t, resp, &out)
	return out
}
