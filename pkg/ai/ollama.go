package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	baseURL   string
	transport jsonTransport
}

// NewOllamaClient constructs a client; a blank baseURL means the local default.
func NewOllamaClient(baseURL string) *OllamaClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaClient{
		baseURL: baseURL,
		transport: jsonTransport{
			provider: "ollama",
			// local models can take minutes to script a long document
			httpClient: &http.Client{Timeout: 5 * time.Minute},
			errMessage: func(body []byte) string {
				var resp struct {
					Error string `json:"error"`
				}
				if json.Unmarshal(body, &resp) != nil {
					return ""
				}
				return resp.Error
			},
		},
	}
}

// OllamaGenerator generates scripts through /api/chat with a fixed model.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: strings.TrimSpace(model)}
}

func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.chat(ctx, systemPrompt, userPrompt, "")
}

// GenerateJSON uses Ollama's format=json mode.
func (g *OllamaGenerator) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.chat(ctx, systemPrompt, userPrompt, "json")
}

func (g *OllamaGenerator) chat(ctx context.Context, systemPrompt, userPrompt, format string) (string, error) {
	if g.model == "" {
		return "", errors.New("ollama generation model required")
	}
	req := ollamaChatRequest{
		Model:    g.model,
		Messages: chatMessages(systemPrompt, userPrompt),
		Format:   format,
	}
	var resp ollamaChatResponse
	if err := g.client.transport.post(ctx, g.client.baseURL+"/api/chat", req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", errors.New("empty response from ollama")
	}
	return resp.Message.Content, nil
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message chatMessage `json:"message"`
}
