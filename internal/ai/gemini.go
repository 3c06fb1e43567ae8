package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// CompletionRequest is one system+user prompt completion.
type CompletionRequest struct {
	SystemPrompt string
	UserText     string
	Model        string
	Temperature  float64
	MaxTokens    int
	JSON         bool
}

// Completer is the AI completion capability.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

var ErrEmptyCompletion = errors.New("ai: empty completion")

// Gemini implements Completer on the Gemini API.
type Gemini struct {
	client       *genai.Client
	defaultModel string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, defaultModel: model}, nil
}

func (g *Gemini) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	// Bots configured for other vendors' models still run on Gemini.
	if model == "" || !strings.HasPrefix(model, "gemini") {
		model = g.defaultModel
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	result, err := g.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromText(req.UserText, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
