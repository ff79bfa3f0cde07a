package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewGeminiClient("test-key", WithGeminiBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("new gemini client: %v", err)
	}
	return client
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	if _, err := NewGeminiClient("  "); err == nil {
		t.Fatalf("expected error for blank api key")
	}
}

func TestGeminiGenerateJSONSetsResponseMimeType(t *testing.T) {
	var got generateRequest
	client := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.5-flash:generateContent" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" || r.URL.RawQuery != "" {
			t.Errorf("api key not forwarded in header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"title\":\"t\"}"}]}}]}`))
	})

	gen := NewGeminiGenerator(client, "models/gemini-2.5-flash")
	out, err := gen.GenerateJSON(context.Background(), "", "make a script")
	if err != nil {
		t.Fatalf("GenerateJSON() error = %v", err)
	}
	if out != `{"title":"t"}` {
		t.Fatalf("GenerateJSON() = %q", out)
	}
	if got.GenerationConfig == nil || got.GenerationConfig.ResponseMimeType != "application/json" {
		t.Fatalf("responseMimeType not set: %+v", got.GenerationConfig)
	}
	if got.SystemInstruction != nil {
		t.Fatalf("blank system prompt should be omitted")
	}
}

func TestGeminiSynthesizeSpeechDecodesInlineAudio(t *testing.T) {
	pcm := []byte{0, 1, 2, 3, 4, 5}
	var raw map[string]any
	client := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		body := new(bytes.Buffer)
		_, _ = body.ReadFrom(r.Body)
		_ = json.Unmarshal(body.Bytes(), &raw)
		resp := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{
						"inlineData": map[string]any{
							"mimeType": "audio/L16;codec=pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(pcm),
						},
					}},
				},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	speech := NewGeminiSpeech(client, "gemini-2.5-flash-preview-tts")
	out, err := speech.SynthesizeSpeech(context.Background(), "Say happily: Hello world", "Puck")
	if err != nil {
		t.Fatalf("SynthesizeSpeech() error = %v", err)
	}
	if !bytes.Equal(out, pcm) {
		t.Fatalf("SynthesizeSpeech() = %v, want %v", out, pcm)
	}
	cfg, _ := raw["generationConfig"].(map[string]any)
	if cfg == nil {
		t.Fatalf("generationConfig missing from request: %v", raw)
	}
	modalities, _ := cfg["responseModalities"].([]any)
	if len(modalities) != 1 || modalities[0] != "AUDIO" {
		t.Fatalf("responseModalities = %v, want [AUDIO]", modalities)
	}
	voice := cfg["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)["voiceName"]
	if voice != "Puck" {
		t.Fatalf("voiceName = %v, want Puck", voice)
	}
}

func TestGeminiSynthesizeSpeechMissingAudio(t *testing.T) {
	client := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`))
	})
	_, err := client.SynthesizeSpeech(context.Background(), "tts", "hello", "Kore")
	if !errors.Is(err, ErrNoAudio) {
		t.Fatalf("SynthesizeSpeech() err = %v, want ErrNoAudio", err)
	}
}

func TestGeminiAPIErrorMessage(t *testing.T) {
	client := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})
	_, err := client.GenerateText(context.Background(), "m", "", "hi")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("GenerateText() err = %v, want quota exceeded", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Provider != "gemini" {
		t.Fatalf("GenerateText() err = %#v, want gemini APIError 400", err)
	}
}

func TestOpenAICompatGenerateJSONSetsResponseFormat(t *testing.T) {
	var got oaiChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`))
	}))
	defer srv.Close()

	gen := NewOpenAICompatGenerator(srv.URL+"/v1/", "secret", "local-model")
	out, err := gen.GenerateJSON(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("GenerateJSON() error = %v", err)
	}
	if out != "{}" {
		t.Fatalf("GenerateJSON() = %q", out)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("response_format = %+v, want json_object", got.ResponseFormat)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestOllamaGenerateJSONSetsFormat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"title\":\"x\"}"}}`))
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(NewOllamaClient(srv.URL), "llama3")
	if _, err := gen.GenerateJSON(context.Background(), "", "user"); err != nil {
		t.Fatalf("GenerateJSON() error = %v", err)
	}
	if got.Format != "json" || got.Stream {
		t.Fatalf("request = %+v, want format=json stream=false", got)
	}
}
