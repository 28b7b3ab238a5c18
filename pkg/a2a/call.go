package a2a

import (
	"bytes"
	"encoding/json"
)

// Call is a parsed request envelope. The concrete type is selected by the
// method name: *MessageSendCall, *ExecuteCall or *SummaryCall.
type Call interface {
	RequestID() RequestID
	Method() string
	sealed()
}

// MessageSendCall is a message/send request.
type MessageSendCall struct {
	ID     RequestID
	Params MessageSendParams
}

func (c *MessageSendCall) RequestID() RequestID { return c.ID }
func (c *MessageSendCall) Method() string       { return MethodMessageSend }
func (c *MessageSendCall) sealed()              {}

// ExecuteCall is an execute request.
type ExecuteCall struct {
	ID     RequestID
	Params ExecuteParams
}

func (c *ExecuteCall) RequestID() RequestID { return c.ID }
func (c *ExecuteCall) Method() string       { return MethodExecute }
func (c *ExecuteCall) sealed()              {}

// SummaryCall is a market/summary request.
type SummaryCall struct {
	ID     RequestID
	Params SummaryParams
}

func (c *SummaryCall) RequestID() RequestID { return c.ID }
func (c *SummaryCall) Method() string       { return MethodMarketSummary }
func (c *SummaryCall) sealed()              {}

// ParseFailure is a rejected envelope. ID holds the request id when it could
// be recovered, otherwise the sentinel.
type ParseFailure struct {
	ID    RequestID
	Error *RPCError
}

// Parse validates a raw envelope and decodes its params into the variant
// matching the method.
func Parse(body []byte) (Call, *ParseFailure) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, &ParseFailure{Error: ParseError("request body is not valid JSON")}
	}
	if trimmed[0] != '{' {
		return nil, &ParseFailure{Error: InvalidRequest("request must be a JSON object")}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, &ParseFailure{Error: InvalidRequest("request must be a JSON object")}
	}

	var id RequestID
	rawID, ok := raw["id"]
	if !ok {
		return nil, &ParseFailure{Error: InvalidRequest("missing id")}
	}
	if err := json.Unmarshal(rawID, &id); err != nil || id.IsNull() {
		return nil, &ParseFailure{Error: InvalidRequest("id must be a string or number")}
	}

	var version string
	if err := json.Unmarshal(raw["jsonrpc"], &version); err != nil || version != Version {
		return nil, &ParseFailure{ID: id, Error: InvalidRequest(`jsonrpc must be "2.0"`)}
	}

	var method string
	if err := json.Unmarshal(raw["method"], &method); err != nil || method == "" {
		return nil, &ParseFailure{ID: id, Error: InvalidRequest("missing method")}
	}

	params, ok := raw["params"]
	if !ok || bytes.Equal(bytes.TrimSpace(params), nullID) {
		return nil, &ParseFailure{ID: id, Error: InvalidRequest("missing params")}
	}
	if p := bytes.TrimSpace(params); len(p) == 0 || p[0] != '{' {
		return nil, &ParseFailure{ID: id, Error: InvalidRequest("params must be an object")}
	}

	var call Call
	var target any
	switch method {
	case MethodMessageSend:
		c := &MessageSendCall{ID: id}
		call, target = c, &c.Params
	case MethodExecute:
		c := &ExecuteCall{ID: id}
		call, target = c, &c.Params
	case MethodMarketSummary:
		c := &SummaryCall{ID: id}
		call, target = c, &c.Params
	default:
		return nil, &ParseFailure{ID: id, Error: MethodNotFound(method)}
	}

	if err := json.Unmarshal(params, target); err != nil {
		return nil, &ParseFailure{ID: id, Error: InvalidParams(err.Error())}
	}
	if rpcErr := validateParams(target); rpcErr != nil {
		return nil, &ParseFailure{ID: id, Error: rpcErr}
	}
	return call, nil
}
