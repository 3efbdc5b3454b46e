package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VilchisJuan/minecraft-mcp/internal/agent"
	"github.com/VilchisJuan/minecraft-mcp/internal/agent/mining"
	"github.com/VilchisJuan/minecraft-mcp/internal/worldlink"
)

type stubAgent struct {
	moveErr error
	chat    []string
	stopped int
}

func (a *stubAgent) MoveTo(ctx context.Context, p worldlink.Vec3i, timeout time.Duration) error {
	_ = ctx
	_ = p
	_ = timeout
	return a.moveErr
}
func (a *stubAgent) FollowPlayer(name string, distance float64) error {
	_ = name
	_ = distance
	return nil
}
func (a *stubAgent) MineArea(ctx context.Context, cornerA, cornerB worldlink.Vec3i) (mining.Result, error) {
	_ = ctx
	_ = cornerA
	_ = cornerB
	return mining.Result{Mined: 7, Skipped: 2}, nil
}
func (a *stubAgent) StopMovement() error {
	a.stopped++
	return nil
}
func (a *stubAgent) SendChat(text string) error {
	a.chat = append(a.chat, text)
	return nil
}
func (a *stubAgent) Status() agent.Status {
	return agent.Status{State: agent.StateReady, Connected: true, Spawned: true, Health: 20}
}

func rpcPost(t *testing.T, base string, payload any, headers map[string]string) rpcResponse {
	t.Helper()
	b, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", base+"/mcp", bytes.NewReader(b))
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	var out rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func callTool(t *testing.T, base, name string, args map[string]any) rpcResponse {
	t.Helper()
	return rpcPost(t, base, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "call_tool",
		"params":  map[string]any{"name": name, "arguments": args},
	}, nil)
}

func newTestServer(t *testing.T, a Agent) *httptest.Server {
	t.Helper()
	s, err := NewServer(Config{Agent: a})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestMCP_Initialize_And_ListTools(t *testing.T) {
	ts := newTestServer(t, &stubAgent{})

	initResp := rpcPost(t, ts.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
	}, nil)
	if initResp.Error != nil {
		t.Fatalf("initialize error: %+v", initResp.Error)
	}
	rm, _ := initResp.Result.(map[string]any)
	if rm["protocolVersion"] == "" {
		t.Fatalf("missing protocolVersion in result")
	}

	lt := rpcPost(t, ts.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "list_tools",
	}, nil)
	if lt.Error != nil {
		t.Fatalf("list_tools error: %+v", lt.Error)
	}
	rm2, ok := lt.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected list_tools result type: %T", lt.Result)
	}
	tools, ok := rm2["tools"].([]any)
	if !ok {
		t.Fatalf("missing tools array")
	}
	if len(tools) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(tools))
	}
}

func TestMCP_CallTool_Unknown(t *testing.T) {
	ts := newTestServer(t, &stubAgent{})

	resp := callTool(t, ts.URL, "nope", map[string]any{})
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected tool not found (-32601), got %+v", resp.Error)
	}
}

func TestMCP_CallTool_SchemaRejectsBadArguments(t *testing.T) {
	ts := newTestServer(t, &stubAgent{})

	// move_to without required coordinates.
	resp := callTool(t, ts.URL, "move_to", map[string]any{"x": 1})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("expected invalid arguments (-32602), got %+v", resp.Error)
	}

	// send_chat with an unexpected field.
	resp = callTool(t, ts.URL, "send_chat", map[string]any{"text": "hi", "color": "red"})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("expected invalid arguments (-32602), got %+v", resp.Error)
	}
}

func TestMCP_MoveTo_SuccessAndFailure(t *testing.T) {
	a := &stubAgent{}
	ts := newTestServer(t, a)

	resp := callTool(t, ts.URL, "move_to", map[string]any{"x": 10, "y": 64, "z": -3, "timeout_ms": 5000})
	if resp.Error != nil {
		t.Fatalf("move_to error: %+v", resp.Error)
	}

	a.moveErr = errors.New("movement timeout: go to (10,64,-3) after 5s")
	resp = callTool(t, ts.URL, "move_to", map[string]any{"x": 10, "y": 64, "z": -3})
	if resp.Error == nil || resp.Error.Code != -32000 {
		t.Fatalf("expected tool execution error, got %+v", resp.Error)
	}
	if want := "tool move_to: movement timeout"; len(resp.Error.Message) < len(want) || resp.Error.Message[:len(want)] != want {
		t.Fatalf("error not wrapped with tool name: %q", resp.Error.Message)
	}
}

func TestMCP_MineArea_ReturnsCounts(t *testing.T) {
	ts := newTestServer(t, &stubAgent{})

	resp := callTool(t, ts.URL, "mine_area", map[string]any{
		"x1": 0, "y1": 60, "z1": 0, "x2": 4, "y2": 64, "z2": 4,
	})
	if resp.Error != nil {
		t.Fatalf("mine_area error: %+v", resp.Error)
	}
	rm, _ := resp.Result.(map[string]any)
	if rm["mined_count"] != float64(7) || rm["skipped_count"] != float64(2) {
		t.Fatalf("unexpected counts: %+v", rm)
	}
}

func TestMCP_SendChatAndStop(t *testing.T) {
	a := &stubAgent{}
	ts := newTestServer(t, a)

	if resp := callTool(t, ts.URL, "send_chat", map[string]any{"text": "hello"}); resp.Error != nil {
		t.Fatalf("send_chat error: %+v", resp.Error)
	}
	if len(a.chat) != 1 || a.chat[0] != "hello" {
		t.Fatalf("chat not delivered: %+v", a.chat)
	}

	if resp := callTool(t, ts.URL, "stop_movement", map[string]any{}); resp.Error != nil {
		t.Fatalf("stop_movement error: %+v", resp.Error)
	}
	if a.stopped != 1 {
		t.Fatalf("stop not delivered")
	}
}

func TestMCP_GetStatus(t *testing.T) {
	ts := newTestServer(t, &stubAgent{})

	resp := callTool(t, ts.URL, "get_status", map[string]any{})
	if resp.Error != nil {
		t.Fatalf("get_status error: %+v", resp.Error)
	}
	rm, _ := resp.Result.(map[string]any)
	if rm["connected"] != true || rm["state"] != "ready" {
		t.Fatalf("unexpected status: %+v", rm)
	}
}
