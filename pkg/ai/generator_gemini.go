package ai

import "context"

// GeminiGenerator wraps GeminiClient with a fixed model for text generation.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator builds a Gemini-based TextGenerator.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

// GenerateText implements TextGenerator using Gemini.
func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.GenerateText(ctx, g.model, systemPrompt, userPrompt)
}

// GenerateJSON implements JSONGenerator using Gemini's response mime type.
func (g *GeminiGenerator) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.GenerateJSON(ctx, g.model, systemPrompt, userPrompt)
}

// GeminiSpeech wraps GeminiClient with a fixed text-to-speech model.
type GeminiSpeech struct {
	client *GeminiClient
	model  string
}

// NewGeminiSpeech builds a Gemini-based SpeechSynthesizer.
func NewGeminiSpeech(client *GeminiClient, model string) *GeminiSpeech {
	return &GeminiSpeech{client: client, model: model}
}

// SynthesizeSpeech implements SpeechSynthesizer using Gemini audio output.
func (s *GeminiSpeech) SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error) {
	return s.client.SynthesizeSpeech(ctx, s.model, text, voice)
}
