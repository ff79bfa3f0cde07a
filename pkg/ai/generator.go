package ai

import (
	"context"
	"strings"
)

// TextGenerator produces a podcast script from a system and user prompt.
// Gemini, Ollama and OpenAI-compatible providers implement it.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// JSONGenerator is implemented by providers that can constrain output to a
// single JSON document.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SpeechSynthesizer renders text to raw 16-bit mono PCM with a named voice.
type SpeechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error)
}

// chatMessage is the role/content pair used by chat-completion style APIs.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func chatMessages(systemPrompt, userPrompt string) []chatMessage {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	return append(messages, chatMessage{Role: "user", Content: userPrompt})
}
