package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator calls an OpenAI-compatible /chat/completions endpoint
// (vLLM, LiteLLM, LocalAI, OpenRouter and similar).
type OpenAICompatGenerator struct {
	baseURL   string
	model     string
	transport jsonTransport
}

// NewOpenAICompatGenerator builds a generator. baseURL includes the version
// prefix, e.g. "http://localhost:8000/v1"; apiKey may be empty.
func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	headers := map[string]string{}
	if key := strings.TrimSpace(apiKey); key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	return &OpenAICompatGenerator{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:   strings.TrimSpace(model),
		transport: jsonTransport{
			provider:   "openai-compat",
			httpClient: &http.Client{Timeout: 5 * time.Minute},
			headers:    headers,
			errMessage: providerErrorMessage,
		},
	}
}

func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.complete(ctx, systemPrompt, userPrompt, nil)
}

// GenerateJSON requests response_format json_object. Servers that ignore it
// still answer with text, which the script parser handles.
func (g *OpenAICompatGenerator) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.complete(ctx, systemPrompt, userPrompt, &oaiResponseFormat{Type: "json_object"})
}

func (g *OpenAICompatGenerator) complete(ctx context.Context, systemPrompt, userPrompt string, format *oaiResponseFormat) (string, error) {
	if g.model == "" {
		return "", errors.New("openai-compat generation model required")
	}
	req := oaiChatRequest{
		Model:          g.model,
		Messages:       chatMessages(systemPrompt, userPrompt),
		ResponseFormat: format,
	}
	var resp oaiChatResponse
	if err := g.transport.post(ctx, g.baseURL+"/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("empty response from openai-compat api")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type oaiResponseFormat struct {
	Type string `json:"type"`
}

type oaiChatRequest struct {
	Model          string             `json:"model"`
	Messages       []chatMessage      `json:"messages"`
	ResponseFormat *oaiResponseFormat `json:"response_format,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
