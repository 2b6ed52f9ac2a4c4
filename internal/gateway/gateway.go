// Package gateway exposes pending approvals and session events over a
// JSON-RPC 2.0 WebSocket so a remote reviewer can approve or reject
// artifacts while a session waits.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/go-refine/internal/bus"
	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/verify"
)

const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInternal       = -32603

	// Application errors.
	ErrCodeInvalid  = 1000
	ErrCodeNotFound = 1404
)

type Config struct {
	Queue    *verify.ApprovalQueue
	Sessions engine.SessionStore // optional; enables session.get
	Bus      *bus.Bus

	AuthToken string

	// AllowOrigins lists accepted Origin patterns for browser clients.
	// Empty means same-origin only.
	AllowOrigins []string

	Logger *slog.Logger
}

type Server struct {
	cfg    Config
	logger *slog.Logger

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
}

type client struct {
	conn       *websocket.Conn
	mu         sync.Mutex
	handshaken bool
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	Method  string    `json:"method,omitempty"`
	Params  any       `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "gateway"),
		clients: map[*client]struct{}{},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Run forwards bus events to connected clients until ctx ends.
func (s *Server) Run(ctx context.Context) {
	if s.cfg.Bus == nil {
		return
	}
	approvals := s.cfg.Bus.Subscribe("approval.")
	sessions := s.cfg.Bus.Subscribe("session.")
	defer s.cfg.Bus.Unsubscribe(approvals)
	defer s.cfg.Bus.Unsubscribe(sessions)
	for {
		var ev bus.Event
		select {
		case <-ctx.Done():
			return
		case ev = <-approvals.Ch():
		case ev = <-sessions.Ch():
		}
		s.broadcast(ev.Topic, ev.Payload)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	pending := 0
	if s.cfg.Queue != nil {
		pending = len(s.cfg.Queue.Pending())
	}
	s.clientsMu.RLock()
	clients := len(s.clients)
	s.clientsMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"healthy":           true,
		"pending_approvals": pending,
		"clients":           clients,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.addClient(c)
	s.logger.Info("ws: client connected")
	defer func() {
		s.removeClient(c)
		s.logger.Info("ws: client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		var req rpcRequest
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.logger.Debug("ws: read error, closing", "error", err)
			}
			return
		}
		resp := s.handleRPC(r.Context(), c, req)
		if resp == nil {
			continue
		}
		if err := c.write(r.Context(), resp); err != nil {
			s.logger.Error("ws: write response error", "method", req.Method, "error", err)
		}
	}
}

func isMutatingMethod(method string) bool {
	return method == "approval.respond"
}

func (s *Server) handleRPC(ctx context.Context, c *client, req rpcRequest) *rpcResponse {
	id, hasID := decodeID(req.ID)
	if req.JSONRPC != "2.0" || req.Method == "" {
		if !hasID {
			return nil
		}
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &rpcError{Code: ErrCodeInvalidRequest, Message: "invalid JSON-RPC request"},
		}
	}
	if isMutatingMethod(req.Method) && !c.isHandshaken() {
		if !hasID {
			return nil
		}
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &rpcError{Code: ErrCodeInvalidRequest, Message: "system.hello required before mutating calls"},
		}
	}

	var result any
	var rpcErr *rpcError

	switch req.Method {
	case "system.hello":
		c.markHandshaken()
		result = map[string]any{
			"protocol": "refine",
			"version":  "1.0",
		}
	case "approval.list":
		items := []verify.Ticket{}
		if s.cfg.Queue != nil {
			items = s.cfg.Queue.Pending()
		}
		result = map[string]any{"items": items}
	case "approval.respond":
		var p struct {
			ApprovalID string `json:"approval_id"`
			Decision   string `json:"decision"`
			Feedback   string `json:"feedback"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || p.ApprovalID == "" {
			rpcErr = &rpcError{Code: ErrCodeInvalid, Message: "invalid params"}
			break
		}
		approved, ok := verify.ParseVerdict(p.Decision)
		if !ok {
			rpcErr = &rpcError{Code: ErrCodeInvalid, Message: "decision must be approve or reject"}
			break
		}
		if s.cfg.Queue == nil {
			rpcErr = &rpcError{Code: ErrCodeNotFound, Message: "approvals are not enabled"}
			break
		}
		err := s.cfg.Queue.Respond(p.ApprovalID, verify.Decision{Approved: approved, Feedback: strings.TrimSpace(p.Feedback)})
		switch {
		case errors.Is(err, verify.ErrTicketNotFound), errors.Is(err, verify.ErrTicketResolved):
			rpcErr = &rpcError{Code: ErrCodeNotFound, Message: err.Error()}
		case err != nil:
			rpcErr = &rpcError{Code: ErrCodeInternal, Message: err.Error()}
		default:
			result = map[string]any{"ok": true}
		}
	case "session.get":
		var p struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" {
			rpcErr = &rpcError{Code: ErrCodeInvalid, Message: "invalid params"}
			break
		}
		if s.cfg.Sessions == nil {
			rpcErr = &rpcError{Code: ErrCodeNotFound, Message: "session store not configured"}
			break
		}
		sess, err := s.cfg.Sessions.LoadSession(ctx, p.SessionID)
		switch {
		case errors.Is(err, engine.ErrSessionNotFound):
			rpcErr = &rpcError{Code: ErrCodeNotFound, Message: err.Error()}
		case err != nil:
			rpcErr = &rpcError{Code: ErrCodeInternal, Message: err.Error()}
		default:
			result = sess
		}
	default:
		rpcErr = &rpcError{Code: ErrCodeMethodNotFound, Message: "method not found"}
	}

	if !hasID {
		return nil
	}
	if rpcErr != nil {
		return &rpcResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	}
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func decodeID(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false
	}
	return generic, true
}

func (s *Server) broadcast(method string, params any) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		if err := c.write(context.Background(), rpcResponse{
			JSONRPC: "2.0",
			Method:  method,
			Params:  params,
		}); err != nil {
			s.logger.Error("ws: broadcast write error", "method", method, "error", err)
		}
	}
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

func (c *client) write(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}

func (c *client) markHandshaken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handshaken = true
}

func (c *client) isHandshaken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshaken
}
