package podcast

import (
	"encoding/json"
	"fmt"
	"strings"

	"podpdf/pkg/domain"
)

// DefaultMaxInputChars bounds the document text sent for script generation.
const DefaultMaxInputChars = 200000

const scriptSystemPrompt = "You are an experienced podcast producer who turns written documents into spoken episodes."

const scriptUserPrompt = `Turn the document text below (extracted from a PDF) into a podcast script.

Start with an overall summary of the whole document in 3-5 sentences covering its main topics and takeaways.

Then split the material into logical lessons, one chapter per lesson. For every chapter give:
- "title": a short, catchy title
- "summary": one or two sentences describing the chapter
- "content": the monologue a host would read aloud. Keep it conversational and educational. Only spoken words, no speaker labels such as "Host:".
- "durationEstimate": a rough listening time such as "3 mins"

Reply with one JSON object and nothing else:
{
  "title": "Podcast title",
  "summary": "Overall summary",
  "chapters": [
    {"title": "...", "summary": "...", "content": "...", "durationEstimate": "..."}
  ]
}

Document text:
%s`

func buildScriptPrompt(text string) (string, string) {
	return scriptSystemPrompt, fmt.Sprintf(scriptUserPrompt, text)
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// stripCodeFence removes a markdown fence wrapped around a model reply.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
			s = s[4:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseScript decodes a generation reply into a script. The reply may be
// wrapped in a markdown code fence; anything else that is not a valid script
// is rejected with ErrScriptGeneration.
func ParseScript(raw string) (domain.PodcastScript, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return domain.PodcastScript{}, fmt.Errorf("%w: empty response", ErrScriptGeneration)
	}
	var script domain.PodcastScript
	if err := json.Unmarshal([]byte(body), &script); err != nil {
		return domain.PodcastScript{}, fmt.Errorf("%w: %w", ErrScriptGeneration, err)
	}
	if len(script.Chapters) == 0 {
		return domain.PodcastScript{}, fmt.Errorf("%w: no chapters", ErrScriptGeneration)
	}
	for i, ch := range script.Chapters {
		if strings.TrimSpace(ch.Content) == "" {
			return domain.PodcastScript{}, fmt.Errorf("%w: chapter %d has no content", ErrScriptGeneration, i)
		}
	}
	return script, nil
}

// SpeechText applies the emotion directive to chapter content. Neutral
// delivery sends the content verbatim.
func SpeechText(content string, emotion domain.Emotion) string {
	if emotion == "" || emotion == domain.EmotionNeutral {
		return content
	}
	return "Say " + adverb(string(emotion)) + ": " + content
}

// adverb forms the -ly adverb of an emotion adjective ("Happy" -> "happily").
func adverb(adjective string) string {
	word := strings.ToLower(strings.TrimSpace(adjective))
	n := len(word)
	if n > 1 && word[n-1] == 'y' && !strings.ContainsRune("aeiou", rune(word[n-2])) {
		return word[:n-1] + "ily"
	}
	return word + "ly"
}
