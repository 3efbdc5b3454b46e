// Package mcp exposes the agent's operations as a JSON-RPC 2.0 tool
// server over HTTP (initialize / list_tools / call_tool), with
// optional HMAC request authentication and a nonce replay guard.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/VilchisJuan/minecraft-mcp/internal/agent"
	"github.com/VilchisJuan/minecraft-mcp/internal/agent/mining"
	"github.com/VilchisJuan/minecraft-mcp/internal/worldlink"
)

// Agent is the operation surface the server publishes as tools.
type Agent interface {
	MoveTo(ctx context.Context, p worldlink.Vec3i, timeout time.Duration) error
	FollowPlayer(name string, distance float64) error
	MineArea(ctx context.Context, cornerA, cornerB worldlink.Vec3i) (mining.Result, error)
	StopMovement() error
	SendChat(text string) error
	Status() agent.Status
}

// ToolExecutionError wraps any failure surfaced through call_tool.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

type Config struct {
	Agent      Agent
	HMACSecret string
}

type Server struct {
	agent      Agent
	hmacSecret []byte
	guard      *replayGuard
	now        func() time.Time
	schemas    map[string]*jsonschema.Schema
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("nil agent")
	}
	s := &Server{
		agent: cfg.Agent,
		guard: newReplayGuard(10 * time.Minute),
		now:   time.Now,
	}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		s.hmacSecret = []byte(cfg.HMACSecret)
	}

	s.schemas = map[string]*jsonschema.Schema{}
	for _, t := range toolDefs {
		sc, err := jsonschema.CompileString(t.Name+".json", t.Schema)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", t.Name, err)
		}
		s.schemas[t.Name] = sc
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/mcp", s.handleMCP)
	return mux
}

func (s *Server) handleMCP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		_, _ = rw.Write([]byte("bad body"))
		return
	}
	_ = r.Body.Close()

	// Optional HMAC auth; unauthenticated deployments require loopback.
	sessionKey := strings.TrimSpace(r.Header.Get(headerClientID))
	if len(s.hmacSecret) > 0 {
		creds, err := verifyHMAC(r, body, s.hmacSecret, s.now())
		if err != nil {
			rw.WriteHeader(http.StatusUnauthorized)
			_, _ = rw.Write([]byte(err.Error()))
			return
		}
		if !s.guard.admit(creds.ClientID, creds.Signature, s.now()) {
			rw.WriteHeader(http.StatusUnauthorized)
			_, _ = rw.Write([]byte("replayed request"))
			return
		}
		sessionKey = creds.ClientID
	} else if err := requireLoopback(r); err != nil {
		rw.WriteHeader(http.StatusForbidden)
		_, _ = rw.Write([]byte(err.Error()))
		return
	}
	if sessionKey == "" {
		sessionKey = "default"
	}

	req, err := decodeRequest(body)
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		_, _ = rw.Write([]byte("bad jsonrpc request"))
		return
	}

	resp := s.dispatch(r.Context(), req)
	rw.Header().Set("content-type", "application/json")
	enc := json.NewEncoder(rw)
	_ = enc.Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return req.ok(map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
		})

	case "list_tools":
		return req.ok(map[string]any{"tools": s.toolsList()})

	case "call_tool":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) == 0 {
			return req.fail(-32602, "missing params", nil)
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return req.fail(-32602, "bad params", err.Error())
		}
		if p.Name == "" {
			return req.fail(-32602, "missing tool name", nil)
		}
		sc, known := s.schemas[p.Name]
		if !known {
			return req.fail(-32601, "tool not found", map[string]any{"name": p.Name})
		}
		if err := validateArgs(sc, p.Arguments); err != nil {
			return req.fail(-32602, "invalid arguments", err.Error())
		}
		out, err := s.callTool(ctx, p.Name, p.Arguments)
		if err != nil {
			terr := &ToolExecutionError{Tool: p.Name, Err: err}
			return req.fail(-32000, terr.Error(), nil)
		}
		return req.ok(out)

	default:
		return req.fail(-32601, "method not found", nil)
	}
}

func validateArgs(sc *jsonschema.Schema, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return sc.Validate(v)
}

type toolDef struct {
	Name        string
	Description string
	Schema      string
}

var toolDefs = []toolDef{
	{
		Name:        "move_to",
		Description: "Walk the agent to a block position. Blocks until reached, timed out, or unreachable.",
		Schema: `{
			"type": "object",
			"properties": {
				"x": {"type": "integer"},
				"y": {"type": "integer"},
				"z": {"type": "integer"},
				"timeout_ms": {"type": "integer", "minimum": 0}
			},
			"required": ["x", "y", "z"],
			"additionalProperties": false
		}`,
	},
	{
		Name:        "follow_player",
		Description: "Follow a visible player at a given distance until stopped.",
		Schema: `{
			"type": "object",
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"distance": {"type": "number", "minimum": 0}
			},
			"required": ["name"],
			"additionalProperties": false
		}`,
	},
	{
		Name:        "mine_area",
		Description: "Clear every removable block in the cuboid between two corners. Returns mined/skipped counts.",
		Schema: `{
			"type": "object",
			"properties": {
				"x1": {"type": "integer"}, "y1": {"type": "integer"}, "z1": {"type": "integer"},
				"x2": {"type": "integer"}, "y2": {"type": "integer"}, "z2": {"type": "integer"}
			},
			"required": ["x1", "y1", "z1", "x2", "y2", "z2"],
			"additionalProperties": false
		}`,
	},
	{
		Name:        "stop_movement",
		Description: "Stop pursuit and cancel in-flight multi-step sequences at their next checkpoint.",
		Schema:      `{"type": "object", "properties": {}, "additionalProperties": false}`,
	},
	{
		Name:        "send_chat",
		Description: "Say one line in world chat.",
		Schema: `{
			"type": "object",
			"properties": {"text": {"type": "string", "minLength": 1}},
			"required": ["text"],
			"additionalProperties": false
		}`,
	},
	{
		Name:        "get_status",
		Description: "Get the agent status: connection, spawn, health, position, auth and movement state.",
		Schema:      `{"type": "object", "properties": {}, "additionalProperties": false}`,
	},
}

func (s *Server) toolsList() []map[string]any {
	out := make([]map[string]any, 0, len(toolDefs))
	for _, t := range toolDefs {
		var schema any
		_ = json.Unmarshal([]byte(t.Schema), &schema)
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": schema,
		})
	}
	return out
}

func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "move_to":
		var a struct {
			X, Y, Z   int
			TimeoutMs int `json:"timeout_ms"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("bad arguments: %w", err)
		}
		err := s.agent.MoveTo(ctx, worldlink.Vec3i{X: a.X, Y: a.Y, Z: a.Z},
			time.Duration(a.TimeoutMs)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return map[string]any{"reached": true}, nil

	case "follow_player":
		var a struct {
			Name     string  `json:"name"`
			Distance float64 `json:"distance"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("bad arguments: %w", err)
		}
		if a.Distance <= 0 {
			a.Distance = 2
		}
		if err := s.agent.FollowPlayer(a.Name, a.Distance); err != nil {
			return nil, err
		}
		return map[string]any{"following": a.Name}, nil

	case "mine_area":
		var a struct {
			X1, Y1, Z1 int
			X2, Y2, Z2 int
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("bad arguments: %w", err)
		}
		res, err := s.agent.MineArea(ctx,
			worldlink.Vec3i{X: a.X1, Y: a.Y1, Z: a.Z1},
			worldlink.Vec3i{X: a.X2, Y: a.Y2, Z: a.Z2})
		if err != nil {
			return nil, err
		}
		return res, nil

	case "stop_movement":
		if err := s.agent.StopMovement(); err != nil {
			return nil, err
		}
		return map[string]any{"stopped": true}, nil

	case "send_chat":
		var a struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("bad arguments: %w", err)
		}
		if err := s.agent.SendChat(a.Text); err != nil {
			return nil, err
		}
		return map[string]any{"sent": true}, nil

	case "get_status":
		return s.agent.Status(), nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}
