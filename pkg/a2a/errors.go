package a2a

import (
	"fmt"
	"net/http"
)

// JSON-RPC error codes. Timeout sits in the implementation-defined server
// error range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeTimeout        = -32001
)

// RPCError is the error member of a response envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRPCError builds an RPCError.
func NewRPCError(code int, message string, data any) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data}
}

func ParseError(data any) *RPCError {
	return NewRPCError(CodeParseError, "Parse error", data)
}

func InvalidRequest(data any) *RPCError {
	return NewRPCError(CodeInvalidRequest, "Invalid Request", data)
}

func MethodNotFound(method string) *RPCError {
	return NewRPCError(CodeMethodNotFound, "Method not found", map[string]string{"method": method})
}

func InvalidParams(data any) *RPCError {
	return NewRPCError(CodeInvalidParams, "Invalid params", data)
}

func InternalError(data any) *RPCError {
	return NewRPCError(CodeInternalError, "Internal error", data)
}

func Timeout(data any) *RPCError {
	return NewRPCError(CodeTimeout, "Timeout", data)
}

// HTTPStatus maps an error code to the HTTP status used on the synchronous
// transport.
func HTTPStatus(code int) int {
	switch code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		return http.StatusBadRequest
	case CodeMethodNotFound:
		return http.StatusNotFound
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
