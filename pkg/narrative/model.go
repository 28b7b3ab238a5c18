// Package narrative turns market data into an analyst-style outlook using a
// generative model, with a rule-based fallback.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/genai"
)

const logPrefix = "narrative:model"

const claudeMaxTokens = 1024

// ErrEmptyResponse is returned when a model answers without text.
var ErrEmptyResponse = errors.New("model returned no text")

// Model generates text from a single prompt.
type Model interface {
	Generate(ctx context.Context, prompt string, temperature float32) (string, error)
	Name() string
}

// GeminiModel calls the Gemini API.
type GeminiModel struct {
	client *genai.Client
	model  string
}

// NewGeminiModel creates a Gemini-backed model.
func NewGeminiModel(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - init genai client: %w", logPrefix, err)
	}
	return &GeminiModel{client: client, model: model}, nil
}

func (m *GeminiModel) Name() string { return m.model }

func (m *GeminiModel) Generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(temperature)}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("%s - gemini generate: %w", logPrefix, err)
	}

	var b strings.Builder
	if resp != nil {
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				b.WriteString(part.Text)
			}
			if b.Len() > 0 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

// ClaudeModel calls the Anthropic Messages API.
type ClaudeModel struct {
	client anthropic.Client
	model  string
}

// NewClaudeModel creates a Claude-backed model.
func NewClaudeModel(apiKey, model string, opts ...option.RequestOption) *ClaudeModel {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeModel{client: anthropic.NewClient(opts...), model: model}
}

func (m *ClaudeModel) Name() string { return m.model }

func (m *ClaudeModel) Generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(m.model),
		MaxTokens:   claudeMaxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(float64(temperature)),
	}
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s - claude generate: %w", logPrefix, err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

// ModelConfig selects and configures a Model.
type ModelConfig struct {
	Model           string
	GeminiAPIKey    string
	AnthropicAPIKey string
}

// NewModel picks a provider from the model name and available keys. Claude
// models need an Anthropic key, anything else a Gemini key. It returns nil
// when no provider is usable.
func NewModel(ctx context.Context, cfg ModelConfig) (Model, error) {
	if strings.HasPrefix(cfg.Model, "claude") {
		if cfg.AnthropicAPIKey == "" {
			return nil, nil
		}
		return NewClaudeModel(cfg.AnthropicAPIKey, cfg.Model), nil
	}
	if cfg.GeminiAPIKey == "" {
		return nil, nil
	}
	m, err := NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.Model)
	if err != nil {
		return nil, err
	}
	return m, nil
}
