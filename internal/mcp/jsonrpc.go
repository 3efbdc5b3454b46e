package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
)

// JSON-RPC 2.0 envelopes. Only the subset the tool clients speak is
// implemented: single requests, no batches, no notifications.

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func decodeRequest(body []byte) (rpcRequest, error) {
	var req rpcRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		return rpcRequest{}, err
	}
	switch req.JSONRPC {
	case "", "2.0":
	default:
		return rpcRequest{}, errors.New("unsupported jsonrpc version")
	}
	if req.Method == "" {
		return rpcRequest{}, errors.New("missing method")
	}
	return req, nil
}

// ok and fail build the response carrying this request's id.
func (r rpcRequest) ok(result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: r.ID, Result: result}
}

func (r rpcRequest) fail(code int, msg string, data any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: r.ID, Error: &rpcError{Code: code, Message: msg, Data: data}}
}
