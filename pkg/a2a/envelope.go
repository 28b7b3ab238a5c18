// Package a2a defines the JSON-RPC 2.0 envelope and the A2A message model
// exchanged with the market agent.
package a2a

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only accepted value of the envelope "jsonrpc" member.
const Version = "2.0"

// Supported methods.
const (
	MethodMessageSend   = "message/send"
	MethodExecute       = "execute"
	MethodMarketSummary = "market/summary"
)

var nullID = []byte("null")

// RequestID is the caller-assigned correlation token. It keeps the raw JSON
// form (string or number) so the response echoes it byte-for-byte. The zero
// value is the sentinel id and encodes as null.
type RequestID struct {
	raw json.RawMessage
}

// StringID builds a RequestID from a string.
func StringID(s string) RequestID {
	b, _ := json.Marshal(s)
	return RequestID{raw: b}
}

// IsNull reports whether the id is the sentinel.
func (r RequestID) IsNull() bool {
	return len(r.raw) == 0 || bytes.Equal(r.raw, nullID)
}

// String returns a printable form of the id for logs.
func (r RequestID) String() string {
	if r.IsNull() {
		return "null"
	}
	var s string
	if err := json.Unmarshal(r.raw, &s); err == nil {
		return s
	}
	return string(r.raw)
}

// Equal reports whether two ids have the same JSON encoding.
func (r RequestID) Equal(o RequestID) bool {
	if r.IsNull() || o.IsNull() {
		return r.IsNull() == o.IsNull()
	}
	return bytes.Equal(r.raw, o.raw)
}

func (r RequestID) MarshalJSON() ([]byte, error) {
	if r.IsNull() {
		return nullID, nil
	}
	return r.raw, nil
}

func (r *RequestID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, nullID) {
		r.raw = nil
		return nil
	}
	if !validIDToken(b) {
		return fmt.Errorf("a2a:envelope - id must be a string or number")
	}
	r.raw = append(r.raw[:0], b...)
	return nil
}

func validIDToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	switch c := b[0]; {
	case c == '"':
		var s string
		return json.Unmarshal(b, &s) == nil
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		return json.Unmarshal(b, &n) == nil
	}
	return false
}

// Response is the protocol reply. Exactly one of Result or Error is
// serialized; a nil Result with a nil Error encodes as "result": null, which
// is the acknowledgment returned to non-blocking callers.
type Response struct {
	ID     RequestID
	Result any
	Error  *RPCError
}

// NewResult builds a success response.
func NewResult(id RequestID, result any) *Response {
	return &Response{ID: id, Result: result}
}

// NewAck builds the immediate acknowledgment for a non-blocking request.
func NewAck(id RequestID) *Response {
	return &Response{ID: id}
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id RequestID, err *RPCError) *Response {
	return &Response{ID: id, Error: err}
}

// IsError reports whether the response carries an error.
func (r *Response) IsError() bool {
	return r.Error != nil
}

type wireResult struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      RequestID `json:"id"`
	Result  any       `json:"result"`
}

type wireError struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      RequestID `json:"id"`
	Error   *RPCError `json:"error"`
}

func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(wireError{JSONRPC: Version, ID: r.ID, Error: r.Error})
	}
	return json.Marshal(wireResult{JSONRPC: Version, ID: r.ID, Result: r.Result})
}

// UnmarshalJSON decodes a response envelope. A successful result is kept as
// json.RawMessage, or nil when the result is null.
func (r *Response) UnmarshalJSON(b []byte) error {
	var w struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      RequestID       `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Error != nil && len(w.Result) > 0 && !bytes.Equal(w.Result, nullID) {
		return fmt.Errorf("a2a:envelope - response carries both result and error")
	}
	r.ID = w.ID
	r.Error = w.Error
	r.Result = nil
	if w.Error == nil && len(w.Result) > 0 && !bytes.Equal(w.Result, nullID) {
		r.Result = w.Result
	}
	return nil
}
