package a2a

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// Part kinds.
const (
	PartText = "text"
	PartData = "data"
	PartFile = "file"
)

// Task status states reported inside a TaskResult.
const (
	StateWorking       = "working"
	StateCompleted     = "completed"
	StateInputRequired = "input-required"
	StateFailed        = "failed"
)

// Part is one piece of message content.
type Part struct {
	Kind    string `json:"kind" validate:"required,oneof=text data file"`
	Text    string `json:"text,omitempty"`
	Data    any    `json:"data,omitempty"`
	FileURL string `json:"fileUrl,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// DataPart builds a structured data part.
func DataPart(data any) Part {
	return Part{Kind: PartData, Data: data}
}

// Message is a single conversational turn.
type Message struct {
	Kind      string         `json:"kind"`
	Role      string         `json:"role" validate:"required,oneof=user agent system"`
	Parts     []Part         `json:"parts" validate:"dive"`
	Text      string         `json:"text,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewAgentMessage builds an agent message with a fresh id.
func NewAgentMessage(taskID string, parts ...Part) Message {
	return Message{
		Kind:      "message",
		Role:      RoleAgent,
		Parts:     parts,
		MessageID: uuid.NewString(),
		TaskID:    taskID,
	}
}

// NewUserMessage builds a user message holding a single text part.
func NewUserMessage(text string) Message {
	return Message{
		Kind:      "message",
		Role:      RoleUser,
		Parts:     []Part{TextPart(text)},
		MessageID: uuid.NewString(),
	}
}

// Artifact is a named bundle of structured output.
type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name"`
	Parts      []Part `json:"parts"`
}

// NewArtifact builds an artifact with a fresh id.
func NewArtifact(name string, parts ...Part) Artifact {
	return Artifact{ArtifactID: uuid.NewString(), Name: name, Parts: parts}
}

// TaskStatus is the state of a task plus an optional human-readable message.
type TaskStatus struct {
	State     string   `json:"state"`
	Timestamp string   `json:"timestamp"`
	Message   *Message `json:"message,omitempty"`
}

// NewTaskStatus stamps a status with the current UTC time.
func NewTaskStatus(state string, msg *Message) TaskStatus {
	return TaskStatus{State: state, Timestamp: time.Now().UTC().Format(time.RFC3339), Message: msg}
}

// TaskResult is the payload produced by the analysis collaborator.
type TaskResult struct {
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts"`
	History   []Message  `json:"history"`
	Kind      string     `json:"kind"`
}

// NewTaskResult builds a TaskResult. The artifact and history slices are
// copied so later changes by the caller do not leak into the result.
func NewTaskResult(taskID, contextID string, status TaskStatus, artifacts []Artifact, history []Message) *TaskResult {
	return &TaskResult{
		ID:        taskID,
		ContextID: contextID,
		Status:    status,
		Artifacts: append([]Artifact{}, artifacts...),
		History:   append([]Message{}, history...),
		Kind:      "task",
	}
}
