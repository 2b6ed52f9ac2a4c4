package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/go-refine/internal/bus"
	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/gateway"
	"github.com/basket/go-refine/internal/verify"
)

const testToken = "test-gateway-token"

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcErrorBody   `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*engine.Session
}

func (m *memSessions) SaveSession(_ context.Context, s *engine.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
	return nil
}

func (m *memSessions) LoadSession(_ context.Context, id string) (*engine.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, engine.ErrSessionNotFound
	}
	return s, nil
}

type harness struct {
	b     *bus.Bus
	queue *verify.ApprovalQueue
	store *memSessions
	srv   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := bus.New()
	h := &harness{
		b:     b,
		queue: verify.NewApprovalQueue(b, 0, nil),
		store: &memSessions{sessions: map[string]*engine.Session{}},
	}
	gw := gateway.New(gateway.Config{
		Queue:     h.queue,
		Sessions:  h.store,
		Bus:       b,
		AuthToken: testToken,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go gw.Run(ctx)
	h.srv = httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		cancel()
		h.srv.Close()
	})
	// Run subscribes asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + testToken}},
	})
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func call(t *testing.T, conn *websocket.Conn, id int, method string, params any) rpcMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}); err != nil {
		t.Fatalf("write %s: %v", method, err)
	}
	for {
		var msg rpcMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read %s: %v", method, err)
		}
		if msg.Method != "" {
			continue
		}
		return msg
	}
}

func readNotification(t *testing.T, conn *websocket.Conn, method string) rpcMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var msg rpcMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("waiting for %s: %v", method, err)
		}
		if msg.Method == method {
			return msg
		}
	}
}

func TestGateway_HealthzIsPublic(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["healthy"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestGateway_RejectsBadToken(t *testing.T) {
	h := newHarness(t)
	for _, header := range []string{"", "Bearer wrong", "Basic " + testToken} {
		req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/ws", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, resp.StatusCode)
		}
	}
}

func TestGateway_NoTokenConfiguredRejectsAll(t *testing.T) {
	gw := gateway.New(gateway.Config{})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/ws", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	if got := gateway.ExtractToken(req); got != "from-query" {
		t.Fatalf("query token = %q", got)
	}
	req.Header.Set("Authorization", "Bearer  from-header ")
	if got := gateway.ExtractToken(req); got != "from-header" {
		t.Fatalf("header token = %q", got)
	}
}

func TestGateway_RespondRequiresHello(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	resp := call(t, conn, 1, "approval.respond", map[string]any{"approval_id": "x", "decision": "approve"})
	if resp.Error == nil || resp.Error.Code != gateway.ErrCodeInvalidRequest {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestGateway_ApprovalRoundTrip(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	if resp := call(t, conn, 0, "system.hello", map[string]any{"version": "1.0"}); resp.Error != nil {
		t.Fatalf("hello: %+v", resp.Error)
	}

	decided := make(chan verify.Decision, 1)
	go func() {
		d, _ := h.queue.Review(context.Background(), "def add(a, b): return a + b")
		decided <- d
	}()

	note := readNotification(t, conn, bus.TopicApprovalRequired)
	var ev bus.ApprovalEvent
	if err := json.Unmarshal(note.Params, &ev); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if ev.ApprovalID == "" || !strings.Contains(ev.Artifact, "def add") {
		t.Fatalf("event = %+v", ev)
	}

	list := call(t, conn, 2, "approval.list", nil)
	var listed struct {
		Items []verify.Ticket `json:"items"`
	}
	if err := json.Unmarshal(list.Result, &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Items) != 1 || listed.Items[0].ID != ev.ApprovalID {
		t.Fatalf("items = %+v", listed.Items)
	}

	resp := call(t, conn, 3, "approval.respond", map[string]any{
		"approval_id": ev.ApprovalID,
		"decision":    "reject",
		"feedback":    "handle negative numbers",
	})
	if resp.Error != nil {
		t.Fatalf("respond: %+v", resp.Error)
	}
	select {
	case d := <-decided:
		if d.Approved || d.Feedback != "handle negative numbers" {
			t.Fatalf("decision = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("review did not return")
	}

	again := call(t, conn, 4, "approval.respond", map[string]any{"approval_id": ev.ApprovalID, "decision": "approve"})
	if again.Error == nil || again.Error.Code != gateway.ErrCodeNotFound {
		t.Fatalf("second respond = %+v", again)
	}
}

func TestGateway_RespondValidatesParams(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	call(t, conn, 0, "system.hello", nil)
	tests := []any{
		map[string]any{"decision": "approve"},
		map[string]any{"approval_id": "abc", "decision": "perhaps"},
	}
	for i, params := range tests {
		resp := call(t, conn, i+1, "approval.respond", params)
		if resp.Error == nil || resp.Error.Code != gateway.ErrCodeInvalid {
			t.Errorf("params %v: resp = %+v", params, resp)
		}
	}
}

func TestGateway_SessionGet(t *testing.T) {
	h := newHarness(t)
	sess, err := engine.NewSession("sess-42", "write hello world", 3)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := sess.Append("print(", engine.Failed("SyntaxError")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = h.store.SaveSession(context.Background(), sess)

	conn := h.dial(t)
	resp := call(t, conn, 1, "session.get", map[string]any{"session_id": "sess-42"})
	if resp.Error != nil {
		t.Fatalf("session.get: %+v", resp.Error)
	}
	var loaded engine.Session
	if err := json.Unmarshal(resp.Result, &loaded); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if loaded.ID() != "sess-42" || loaded.IterationCount() != 1 {
		t.Fatalf("loaded id=%s count=%d", loaded.ID(), loaded.IterationCount())
	}

	missing := call(t, conn, 2, "session.get", map[string]any{"session_id": "nope"})
	if missing.Error == nil || missing.Error.Code != gateway.ErrCodeNotFound {
		t.Fatalf("missing = %+v", missing)
	}
}

func TestGateway_UnknownMethod(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	resp := call(t, conn, 1, "agent.chat", nil)
	if resp.Error == nil || resp.Error.Code != gateway.ErrCodeMethodNotFound {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestGateway_ForwardsSessionEvents(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	call(t, conn, 0, "system.hello", nil)
	h.b.Publish(bus.TopicSessionFinished, bus.SessionEvent{SessionID: "s1", Terminal: "SUCCEEDED"})
	note := readNotification(t, conn, bus.TopicSessionFinished)
	var ev bus.SessionEvent
	if err := json.Unmarshal(note.Params, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.SessionID != "s1" || ev.Terminal != "SUCCEEDED" {
		t.Fatalf("event = %+v", ev)
	}
}
