package a2a

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DefaultAuthScheme is used when a callback carries a token but no scheme.
const DefaultAuthScheme = "Bearer"

var validate = validator.New()

// PushAuthentication mirrors the A2A authentication block of a push config.
type PushAuthentication struct {
	Schemes     []string `json:"schemes,omitempty"`
	Credentials string   `json:"credentials,omitempty"`
}

// PushNotificationConfig is the caller's callback target.
type PushNotificationConfig struct {
	URL                  string              `json:"url" validate:"required,url"`
	Token                string              `json:"token,omitempty"`
	AuthenticationScheme string              `json:"authenticationScheme,omitempty"`
	Authentication       *PushAuthentication `json:"authentication,omitempty"`
}

// Credentials returns the scheme and token to send in the Authorization
// header. The token is empty when none was configured.
func (p *PushNotificationConfig) Credentials() (scheme, token string) {
	token = p.Token
	scheme = p.AuthenticationScheme
	if p.Authentication != nil {
		if token == "" {
			token = p.Authentication.Credentials
		}
		if scheme == "" && len(p.Authentication.Schemes) > 0 {
			scheme = p.Authentication.Schemes[0]
		}
	}
	if scheme == "" {
		scheme = DefaultAuthScheme
	}
	return scheme, token
}

// Configuration is the per-request behaviour switch.
type Configuration struct {
	Blocking               *bool                   `json:"blocking,omitempty"`
	AcceptedOutputModes    []string                `json:"acceptedOutputModes,omitempty"`
	PushNotificationConfig *PushNotificationConfig `json:"pushNotificationConfig,omitempty"`
	Callback               *PushNotificationConfig `json:"callback,omitempty"`
}

// IsBlocking defaults to true when the flag is absent.
func (c *Configuration) IsBlocking() bool {
	if c == nil || c.Blocking == nil {
		return true
	}
	return *c.Blocking
}

// Target returns the callback target, preferring pushNotificationConfig.
func (c *Configuration) Target() *PushNotificationConfig {
	if c == nil {
		return nil
	}
	if c.PushNotificationConfig != nil {
		return c.PushNotificationConfig
	}
	return c.Callback
}

// MessageSendParams are the params of message/send. A single message and a
// message list are both accepted.
type MessageSendParams struct {
	Message       *Message       `json:"message,omitempty" validate:"required_without=Messages"`
	Messages      []Message      `json:"messages,omitempty" validate:"required_without=Message,dive"`
	ContextID     string         `json:"contextId,omitempty"`
	TaskID        string         `json:"taskId,omitempty"`
	Configuration *Configuration `json:"configuration,omitempty"`
}

// AllMessages returns the messages in order, the single message last.
func (p *MessageSendParams) AllMessages() []Message {
	out := append([]Message{}, p.Messages...)
	if p.Message != nil {
		out = append(out, *p.Message)
	}
	return out
}

// ExecuteParams are the params of execute.
type ExecuteParams struct {
	ContextID     string         `json:"contextId,omitempty"`
	TaskID        string         `json:"taskId,omitempty"`
	Messages      []Message      `json:"messages" validate:"required,min=1,dive"`
	Configuration *Configuration `json:"configuration,omitempty"`
}

// SummaryParams are the params of market/summary.
type SummaryParams struct {
	ContextID     string         `json:"contextId,omitempty"`
	TaskID        string         `json:"taskId,omitempty"`
	Configuration *Configuration `json:"configuration,omitempty"`
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func validateParams(v any) *RPCError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return InvalidParams(err.Error())
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Namespace(), Rule: fe.Tag()})
	}
	return InvalidParams(map[string]any{
		"detail": fmt.Sprintf("%d field(s) failed validation", len(fields)),
		"fields": fields,
	})
}
