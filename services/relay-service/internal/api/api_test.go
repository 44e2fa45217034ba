package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stoik/cex/internal/memstore"
	"github.com/stoik/cex/internal/relay"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAdminKey = "test-admin-key"

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	rc := relay.DefaultConfig()
	rc.PollInterval = 10 * time.Millisecond
	rc.KeyHashCost = bcrypt.MinCost
	store := memstore.New()
	t.Cleanup(store.Close)
	svc := relay.NewService(store, nil, rc)
	return &testServer{t: t, router: NewRouter(svc, cfg)}
}

func (s *testServer) do(method, path, key string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) admin(method, path, key string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type account struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

func (s *testServer) register(name string) account {
	s.t.Helper()
	w := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email":      name + "@example.com",
		"name":       name,
		"agent_name": name + "-agent",
	})
	if w.Code != http.StatusCreated {
		s.t.Fatalf("register %s: %d %s", name, w.Code, w.Body.String())
	}
	var acc account
	decode(s.t, w, &acc)
	return acc
}

// connect makes a invite b; returns the connection id.
func (s *testServer) connect(a, b account) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/connections/invite", a.APIKey, nil)
	if w.Code != http.StatusOK {
		s.t.Fatalf("invite: %d %s", w.Code, w.Body.String())
	}
	var inv struct {
		InviteCode string `json:"invite_code"`
	}
	decode(s.t, w, &inv)

	w = s.do(http.MethodPost, "/connections/accept", b.APIKey, map[string]string{"invite_code": inv.InviteCode})
	if w.Code != http.StatusOK {
		s.t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}
	var rec struct {
		ID string `json:"id"`
	}
	decode(s.t, w, &rec)
	return rec.ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestHealthAndContracts(t *testing.T) {
	s := newTestServer(t, Config{})

	w := s.do(http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/contracts", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("contracts: %d", w.Code)
	}
	var body struct {
		Contracts []relay.Contract `json:"contracts"`
	}
	decode(t, w, &body)
	if len(body.Contracts) != 3 {
		t.Errorf("expected 3 contracts, got %d", len(body.Contracts))
	}

	w = s.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("metrics: %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, Config{})

	w := s.do(http.MethodGet, "/messages/inbox", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no key: expected 401, got %d", w.Code)
	}
	w = s.do(http.MethodGet, "/messages/inbox", relay.KeyPrefix+strings.Repeat("0", 64), nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown key: expected 401, got %d", w.Code)
	}

	acc := s.register("ada")
	w = s.do(http.MethodGet, "/auth/me", acc.APIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: %d %s", w.Code, w.Body.String())
	}
	var me agentProfile
	decode(t, w, &me)
	if me.ID.String() != acc.AgentID || !me.IsPrimary {
		t.Errorf("unexpected profile %+v", me)
	}
}

func TestMessageLifecycle(t *testing.T) {
	s := newTestServer(t, Config{})
	a := s.register("ada")
	b := s.register("bob")
	s.connect(a, b)

	w := s.do(http.MethodPost, "/messages", a.APIKey, map[string]string{
		"to_agent_id": b.AgentID,
		"content":     "free Tuesday?",
		"category":    "schedule",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	var msg struct {
		ID       string `json:"id"`
		ThreadID string `json:"thread_id"`
		Status   string `json:"status"`
	}
	decode(t, w, &msg)
	if msg.Status != "sent" {
		t.Errorf("status %q", msg.Status)
	}

	w = s.do(http.MethodGet, "/messages/inbox", b.APIKey, nil)
	var env relay.Envelope
	decode(t, w, &env)
	if env.Count != 1 || env.Messages[0].Status != "delivered" {
		t.Fatalf("unexpected inbox %+v", env)
	}

	w = s.do(http.MethodPost, "/messages/"+msg.ID+"/ack", a.APIKey, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("sender ack: expected 403, got %d", w.Code)
	}
	w = s.do(http.MethodPost, "/messages/"+msg.ID+"/ack", b.APIKey, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "acknowledged") {
		t.Fatalf("ack: %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/messages/thread/"+msg.ThreadID, a.APIKey, nil)
	var detail relay.ThreadDetail
	decode(t, w, &detail)
	if len(detail.Messages) != 1 || detail.Messages[0].Status != "read" {
		t.Errorf("thread shows %+v", detail.Messages)
	}

	w = s.do(http.MethodGet, "/messages/threads", b.APIKey, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), msg.ThreadID) {
		t.Errorf("threads: %d %s", w.Code, w.Body.String())
	}
}

func TestPermissionErrors(t *testing.T) {
	s := newTestServer(t, Config{})
	a := s.register("ada")
	b := s.register("bob")
	connID := s.connect(a, b)

	w := s.do(http.MethodPut, "/connections/"+connID+"/permissions", a.APIKey, map[string]string{"category": "personal", "level": "never"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodPost, "/messages", a.APIKey, map[string]string{"to_agent_id": b.AgentID, "content": "x", "category": "personal"})
	var e errorBody
	decode(t, w, &e)
	if w.Code != http.StatusForbidden || !strings.Contains(e.Error, "personal") {
		t.Errorf("outbound block: %d %+v", w.Code, e)
	}

	w = s.do(http.MethodPut, "/connections/"+connID+"/permissions", b.APIKey, map[string]string{"category": "knowledge", "inbound_level": "never"})
	if w.Code != http.StatusOK {
		t.Fatalf("update inbound: %d %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodPost, "/messages", a.APIKey, map[string]string{"to_agent_id": b.AgentID, "content": "x", "category": "knowledge"})
	e = errorBody{}
	decode(t, w, &e)
	if w.Code != http.StatusForbidden || strings.Contains(e.Error, "knowledge") || !strings.Contains(e.Error, "could not be delivered") {
		t.Errorf("inbound block: %d %+v", w.Code, e)
	}

	w = s.do(http.MethodPut, "/connections/"+connID+"/permissions", a.APIKey, map[string]string{"category": "personal"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing level: expected 400, got %d", w.Code)
	}
	w = s.do(http.MethodGet, "/connections/"+connID+"/permissions", a.APIKey, nil)
	var set relay.PermissionSet
	decode(t, w, &set)
	if len(set.Permissions) != 6 {
		t.Errorf("expected 6 rows, got %d", len(set.Permissions))
	}
}

func TestSendErrorStatuses(t *testing.T) {
	s := newTestServer(t, Config{})
	a := s.register("ada")
	b := s.register("bob")

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"self", map[string]string{"to_agent_id": a.AgentID, "content": "x"}, http.StatusBadRequest},
		{"unknown", map[string]string{"to_agent_id": uuid.NewString(), "content": "x"}, http.StatusNotFound},
		{"malformed recipient", map[string]string{"to_agent_id": "ghost", "content": "x"}, http.StatusBadRequest},
		{"not connected", map[string]string{"to_agent_id": b.AgentID, "content": "x"}, http.StatusForbidden},
		{"missing recipient", map[string]string{"content": "x"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/messages", a.APIKey, tc.body)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestInviteReuseAndJoinURL(t *testing.T) {
	s := newTestServer(t, Config{PublicURL: "https://relay.example.com/"})
	a := s.register("ada")
	b := s.register("bob")
	c := s.register("cyd")

	w := s.do(http.MethodPost, "/connections/invite", a.APIKey, nil)
	var inv inviteResponse
	decode(t, w, &inv)
	if inv.JoinURL != "https://relay.example.com/join/"+inv.InviteCode {
		t.Errorf("join url %q", inv.JoinURL)
	}

	w = s.do(http.MethodPost, "/connections/accept", b.APIKey, map[string]string{"invite_code": inv.InviteCode})
	if w.Code != http.StatusOK {
		t.Fatalf("accept: %d", w.Code)
	}
	w = s.do(http.MethodPost, "/connections/accept", c.APIKey, map[string]string{"invite_code": inv.InviteCode})
	var e errorBody
	decode(t, w, &e)
	if w.Code != http.StatusConflict || !strings.Contains(e.Error, "already been used") {
		t.Errorf("reuse: %d %+v", w.Code, e)
	}

	w = s.do(http.MethodGet, "/connections", a.APIKey, nil)
	var conns []relay.ConnectionRecord
	decode(t, w, &conns)
	if len(conns) != 1 || conns[0].ConnectedHuman.Name != "bob" {
		t.Fatalf("connections: %+v", conns)
	}
	w = s.do(http.MethodDelete, "/connections/"+conns[0].ID, a.APIKey, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete: %d", w.Code)
	}
}

func TestStreamEndpoint(t *testing.T) {
	s := newTestServer(t, Config{})
	a := s.register("ada")
	b := s.register("bob")
	s.connect(a, b)
	s.do(http.MethodPost, "/messages", a.APIKey, map[string]string{"to_agent_id": b.AgentID, "content": "hi"})

	w := s.do(http.MethodGet, "/messages/stream?timeout=5", b.APIKey, nil)
	var env relay.Envelope
	decode(t, w, &env)
	if w.Code != http.StatusOK || env.Count != 1 {
		t.Errorf("stream: %d %+v", w.Code, env)
	}

	for _, q := range []string{"timeout=0", "timeout=61", "timeout=abc"} {
		w = s.do(http.MethodGet, "/messages/stream?"+q, b.APIKey, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
	w = s.do(http.MethodGet, "/messages/inbox?limit=500", b.APIKey, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("limit=500: expected 400, got %d", w.Code)
	}
}

func TestAdminAnnouncements(t *testing.T) {
	s := newTestServer(t, Config{AdminKey: testAdminKey})
	b := s.register("bob")

	w := s.admin(http.MethodPost, "/admin/announcements", "wrong", map[string]string{"title": "t", "content": "c"})
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong key: expected 403, got %d", w.Code)
	}
	w = s.admin(http.MethodPost, "/admin/announcements", "", map[string]string{"title": "t", "content": "c"})
	if w.Code != http.StatusForbidden {
		t.Errorf("missing key: expected 403, got %d", w.Code)
	}

	w = s.admin(http.MethodPost, "/admin/announcements", testAdminKey, map[string]string{"title": "New rules", "content": "read this", "version": "5"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var ann struct {
		ID     string `json:"id"`
		Source string `json:"source"`
	}
	decode(t, w, &ann)
	if ann.Source != "context-exchange-platform" {
		t.Errorf("source %q", ann.Source)
	}

	w = s.do(http.MethodGet, "/messages/inbox", b.APIKey, nil)
	var env relay.Envelope
	decode(t, w, &env)
	if len(env.Announcements) != 1 || env.Announcements[0].ID != ann.ID {
		t.Errorf("inbox announcements %+v", env.Announcements)
	}

	w = s.admin(http.MethodPost, "/admin/announcements/"+ann.ID+"/deactivate", testAdminKey, nil)
	if w.Code != http.StatusOK {
		t.Errorf("deactivate: %d", w.Code)
	}
	w = s.admin(http.MethodGet, "/admin/announcements", testAdminKey, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"active":false`) {
		t.Errorf("list: %d %s", w.Code, w.Body.String())
	}
}

func TestAdminClosedWithoutKey(t *testing.T) {
	s := newTestServer(t, Config{})
	w := s.admin(http.MethodGet, "/admin/announcements", "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Config{RatePerMinute: 3})
	a := s.register("ada")

	for i := 0; i < 3; i++ {
		if w := s.do(http.MethodGet, "/auth/me", a.APIKey, nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, w.Code)
		}
	}
	w := s.do(http.MethodGet, "/auth/me", a.APIKey, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

func TestAgentsEndpoints(t *testing.T) {
	s := newTestServer(t, Config{})
	a := s.register("ada")

	w := s.do(http.MethodPost, "/auth/agents", a.APIKey, map[string]string{"agent_name": "ada-phone"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add agent: %d %s", w.Code, w.Body.String())
	}
	var added struct {
		APIKey string `json:"api_key"`
	}
	decode(t, w, &added)

	w = s.do(http.MethodGet, "/auth/agents", added.APIKey, nil)
	var agents []agentProfile
	decode(t, w, &agents)
	if len(agents) != 2 {
		t.Errorf("expected 2 agents, got %d", len(agents))
	}

	w = s.do(http.MethodPut, "/auth/me", a.APIKey, map[string]string{"webhook_url": "http://example.com/hook"})
	if w.Code != http.StatusOK {
		// The nil notifier accepts every URL.
		t.Errorf("update webhook: %d %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodPut, "/auth/me", a.APIKey, map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing webhook_url: expected 400, got %d", w.Code)
	}
}
