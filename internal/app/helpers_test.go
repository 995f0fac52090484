package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"milestonetracker/api/internal/authpw"
	"milestonetracker/api/internal/config"
	"milestonetracker/api/internal/search"
	"milestonetracker/api/internal/store"
	"milestonetracker/api/internal/tracking"
)

type testEnv struct {
	t       *testing.T
	store   *store.SQLStore
	service *Service
	handler http.Handler
}

type envOption func(*Deps, *rate.Limit, *int)

func withCache(p Pinger) envOption {
	return func(d *Deps, _ *rate.Limit, _ *int) { d.Cache = p }
}

func withAuthRate(limit rate.Limit, burst int) envOption {
	return func(_ *Deps, l *rate.Limit, b *int) {
		*l = limit
		*b = burst
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.SQLite, filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(ctx, db, store.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := store.NewSQLStore(db, store.SQLite)

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.AccessTTL = time.Hour
	cfg.RefreshTTL = 24 * time.Hour

	logger := zaptest.NewLogger(t)
	deps := Deps{
		Store:  s,
		Engine: tracking.NewEngine(tracking.NewSQLRepository(s), tracking.NewEmitter(logger), logger),
		Auth:   authpw.NewService(s, cfg.Defaults.DailyLimit),
		Search: search.NewService(nil, s, logger),
		Logger: logger,
	}
	limit, burst := rate.Inf, 1
	for _, opt := range opts {
		opt(&deps, &limit, &burst)
	}

	svc := New(cfg, deps)
	server := NewHTTPServer(svc, "*", limit, burst)
	return &testEnv{t: t, store: s, service: svc, handler: server.Handler()}
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = &bytes.Buffer{}
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// register signs up a user and returns the access token and user id.
func (e *testEnv) register(username, role string) (string, string) {
	e.t.Helper()
	body := `{"username":"` + username + `","email":"` + username + `@example.com","password":"password123","role":"` + role + `"}`
	rr := e.do(http.MethodPost, "/api/auth/register", "", body)
	if rr.Code != http.StatusCreated {
		e.t.Fatalf("register %s: status %d body=%s", username, rr.Code, rr.Body.String())
	}
	payload := decodeObject(e.t, rr)
	token, _ := payload["accessToken"].(string)
	userID, _ := payload["userId"].(string)
	if token == "" || userID == "" {
		e.t.Fatalf("register %s: missing token or id in %v", username, payload)
	}
	return token, userID
}

func (e *testEnv) createMilestone(token, name string) string {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/api/milestones", token, `{"name":"`+name+`","description":"About `+name+`"}`)
	if rr.Code != http.StatusCreated {
		e.t.Fatalf("create milestone: status %d body=%s", rr.Code, rr.Body.String())
	}
	id, _ := decodeObject(e.t, rr)["id"].(string)
	return id
}

func decodeObject(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var payload []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	payload := decodeObject(t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
	return payload
}
