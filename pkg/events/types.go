// Package events defines task lifecycle events and their publishers.
package events

// TaskEvent is emitted on every task state transition.
type TaskEvent struct {
	TaskID    string `json:"taskId"`
	ContextID string `json:"contextId"`
	RequestID string `json:"requestId,omitempty"`
	Method    string `json:"method,omitempty"`
	State     string `json:"state"`
	ErrorCode int    `json:"errorCode,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}
