package server

import (
	"github.com/morezero/market-agent/pkg/a2a"
)

// openAPI3 types for describing the A2A endpoint.
type openAPI3Spec struct {
	OpenAPI string                      `json:"openapi"`
	Info    openAPI3Info                `json:"info"`
	Paths   map[string]openAPI3PathItem `json:"paths"`
}

type openAPI3Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

type openAPI3PathItem struct {
	Post *openAPI3Operation `json:"post,omitempty"`
}

type openAPI3Operation struct {
	Summary     string                      `json:"summary"`
	Description string                      `json:"description,omitempty"`
	OperationID string                      `json:"operationId"`
	RequestBody *openAPI3RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]openAPI3Response `json:"responses"`
}

type openAPI3RequestBody struct {
	Content map[string]openAPI3MediaType `json:"content"`
}

type openAPI3Response struct {
	Description string                       `json:"description"`
	Content     map[string]openAPI3MediaType `json:"content,omitempty"`
}

type openAPI3MediaType struct {
	Schema   map[string]any             `json:"schema,omitempty"`
	Examples map[string]openAPI3Example `json:"examples,omitempty"`
}

type openAPI3Example struct {
	Summary string `json:"summary,omitempty"`
	Value   any    `json:"value"`
}

// methodDoc documents one JSON-RPC method carried by the A2A endpoint.
type methodDoc struct {
	Name    string
	Summary string
	Params  map[string]any
}

var pushConfigSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"url":   map[string]any{"type": "string", "format": "uri"},
		"token": map[string]any{"type": "string"},
		"authentication": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"schemes":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"credentials": map[string]any{"type": "string"},
			},
		},
	},
}

var configurationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"blocking":               map[string]any{"type": "boolean", "default": true},
		"acceptedOutputModes":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"pushNotificationConfig": pushConfigSchema,
	},
}

var messageSchema = map[string]any{
	"type":     "object",
	"required": []string{"role", "parts"},
	"properties": map[string]any{
		"kind":      map[string]any{"type": "string"},
		"role":      map[string]any{"type": "string", "enum": []string{a2a.RoleUser, a2a.RoleAgent, a2a.RoleSystem}},
		"messageId": map[string]any{"type": "string"},
		"parts":     map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
		"text":      map[string]any{"type": "string"},
	},
}

var methodDocs = []methodDoc{
	{
		Name:    a2a.MethodMessageSend,
		Summary: "Analyze a crypto asset or forex pair named in the message. Non-blocking requests are acknowledged and delivered to pushNotificationConfig.url.",
		Params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message":       messageSchema,
				"messages":      map[string]any{"type": "array", "items": messageSchema},
				"contextId":     map[string]any{"type": "string"},
				"taskId":        map[string]any{"type": "string"},
				"configuration": configurationSchema,
			},
		},
	},
	{
		Name:    a2a.MethodExecute,
		Summary: "Analyze a message history. Always answered synchronously.",
		Params: map[string]any{
			"type":     "object",
			"required": []string{"messages"},
			"properties": map[string]any{
				"contextId": map[string]any{"type": "string"},
				"taskId":    map[string]any{"type": "string"},
				"messages":  map[string]any{"type": "array", "minItems": 1, "items": messageSchema},
			},
		},
	},
	{
		Name:    a2a.MethodMarketSummary,
		Summary: "Market-wide summary: top and worst performers, trending coins and major forex pairs.",
		Params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"contextId":     map[string]any{"type": "string"},
				"configuration": configurationSchema,
			},
		},
	},
}

func methodNames() []string {
	names := make([]string, len(methodDocs))
	for i, m := range methodDocs {
		names[i] = m.Name
	}
	return names
}

// buildOpenAPISpec describes the A2A endpoint as one POST operation whose
// request body is a JSON-RPC envelope; each method contributes an example.
func buildOpenAPISpec(path, version string) *openAPI3Spec {
	paramVariants := make([]any, 0, len(methodDocs))
	examples := make(map[string]openAPI3Example, len(methodDocs))
	description := "JSON-RPC 2.0 methods:\n"
	for _, m := range methodDocs {
		paramVariants = append(paramVariants, m.Params)
		description += "- " + m.Name + ": " + m.Summary + "\n"
		examples[m.Name] = openAPI3Example{
			Summary: m.Name,
			Value: map[string]any{
				"jsonrpc": a2a.Version,
				"id":      "1",
				"method":  m.Name,
				"params":  exampleParams(m.Name),
			},
		}
	}

	envelope := map[string]any{
		"type":     "object",
		"required": []string{"jsonrpc", "id", "method"},
		"properties": map[string]any{
			"jsonrpc": map[string]any{"type": "string", "enum": []string{a2a.Version}},
			"id":      map[string]any{"oneOf": []any{map[string]any{"type": "string"}, map[string]any{"type": "number"}}},
			"method":  map[string]any{"type": "string", "enum": methodNames()},
			"params":  map[string]any{"oneOf": paramVariants},
		},
	}
	response := map[string]any{
		"type":     "object",
		"required": []string{"jsonrpc", "id"},
		"properties": map[string]any{
			"jsonrpc": map[string]any{"type": "string"},
			"id":      map[string]any{},
			"result":  map[string]any{"type": "object", "nullable": true},
			"error": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code":    map[string]any{"type": "integer"},
					"message": map[string]any{"type": "string"},
					"data":    map[string]any{},
				},
			},
		},
	}
	jsonResponse := func(desc string) openAPI3Response {
		return openAPI3Response{
			Description: desc,
			Content:     map[string]openAPI3MediaType{"application/json": {Schema: response}},
		}
	}

	return &openAPI3Spec{
		OpenAPI: "3.0.0",
		Info: openAPI3Info{
			Title:       "Market Intelligence Agent",
			Description: agentDescription,
			Version:     version,
		},
		Paths: map[string]openAPI3PathItem{
			path: {
				Post: &openAPI3Operation{
					Summary:     "A2A JSON-RPC endpoint",
					Description: description,
					OperationID: "a2a",
					RequestBody: &openAPI3RequestBody{
						Content: map[string]openAPI3MediaType{
							"application/json": {Schema: envelope, Examples: examples},
						},
					},
					Responses: map[string]openAPI3Response{
						"200": jsonResponse("Result, or null result acknowledging a non-blocking request"),
						"400": jsonResponse("Parse error, invalid request or invalid params"),
						"404": jsonResponse("Method not found"),
						"500": jsonResponse("Internal error"),
						"504": jsonResponse("Analysis timed out"),
					},
				},
			},
		},
	}
}

func exampleParams(method string) map[string]any {
	userMessage := map[string]any{
		"kind":      "message",
		"role":      "user",
		"messageId": "msg-1",
		"parts":     []any{map[string]any{"kind": "text", "text": "What is the outlook for BTC?"}},
	}
	switch method {
	case a2a.MethodExecute:
		return map[string]any{"contextId": "ctx-1", "taskId": "task-1", "messages": []any{userMessage}}
	case a2a.MethodMarketSummary:
		return map[string]any{"contextId": "ctx-1"}
	default:
		return map[string]any{
			"message": userMessage,
			"configuration": map[string]any{
				"blocking":               false,
				"pushNotificationConfig": map[string]any{"url": "https://example.com/a2a/callback", "token": "secret"},
			},
		}
	}
}
