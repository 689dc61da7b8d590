package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/stargazer/internal/config"
	"google.golang.org/genai"
)

// GeminiClient generates text with Gemini through the Gemini API or Vertex AI.
type GeminiClient struct {
	client    *genai.Client
	modelName string
	cfg       *genai.GenerateContentConfig
}

// NewGeminiClient creates a Gemini client. The vertex provider authenticates
// with application default credentials, the gemini provider with an API key.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	switch cfg.Provider {
	case config.ProviderVertex:
		if cfg.Project == "" || cfg.Location == "" {
			return nil, fmt.Errorf("vertex project and location must be set")
		}
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	default:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini api key must be set")
		}
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	temp := float32(0.8)
	return &GeminiClient{
		client:    client,
		modelName: cfg.Model,
		cfg: &genai.GenerateContentConfig{
			Temperature:     &temp,
			MaxOutputTokens: 1024,
		},
	}, nil
}

// Generate implements Generator.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	res, err := g.client.Models.GenerateContent(ctx, g.modelName, genai.Text(prompt), g.cfg)
	if err != nil {
		return "", geminiError(err)
	}

	text := res.Text()
	if text == "" {
		return "", &ProviderError{Provider: "gemini", Message: "empty response", Err: ErrGenerationUnavailable}
	}
	return text, nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &ProviderError{Provider: "gemini", StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message, Err: err}
	}
	return fmt.Errorf("gemini generate content: %w", err)
}
