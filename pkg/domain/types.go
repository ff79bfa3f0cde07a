package domain

import (
	"strings"
	"time"
)

// Voice names a prebuilt speech synthesis voice.
type Voice string

const (
	VoicePuck   Voice = "Puck"
	VoiceCharon Voice = "Charon"
	VoiceKore   Voice = "Kore"
	VoiceFenrir Voice = "Fenrir"
	VoiceZephyr Voice = "Zephyr"
)

// Voices lists the supported voices in display order.
var Voices = []Voice{VoicePuck, VoiceCharon, VoiceKore, VoiceFenrir, VoiceZephyr}

// Emotion names a delivery style applied to synthesized speech.
type Emotion string

const (
	EmotionNeutral  Emotion = "Neutral"
	EmotionHappy    Emotion = "Happy"
	EmotionCurious  Emotion = "Curious"
	EmotionSerious  Emotion = "Serious"
	EmotionExcited  Emotion = "Excited"
	EmotionSoothing Emotion = "Soothing"
)

// Emotions lists the supported emotions in display order.
var Emotions = []Emotion{EmotionNeutral, EmotionHappy, EmotionCurious, EmotionSerious, EmotionExcited, EmotionSoothing}

const (
	DefaultVoice   = VoicePuck
	DefaultEmotion = EmotionNeutral
)

// ParseVoice matches a voice name case-insensitively.
func ParseVoice(raw string) (Voice, bool) {
	raw = strings.TrimSpace(raw)
	for _, v := range Voices {
		if strings.EqualFold(raw, string(v)) {
			return v, true
		}
	}
	return "", false
}

// ParseEmotion matches an emotion name case-insensitively.
func ParseEmotion(raw string) (Emotion, bool) {
	raw = strings.TrimSpace(raw)
	for _, e := range Emotions {
		if strings.EqualFold(raw, string(e)) {
			return e, true
		}
	}
	return "", false
}

type Chapter struct {
	Title            string `json:"title"`
	Summary          string `json:"summary"`
	Content          string `json:"content"`
	DurationEstimate string `json:"durationEstimate"`
}

type PodcastScript struct {
	Title    string    `json:"title"`
	Summary  string    `json:"summary"`
	Chapters []Chapter `json:"chapters"`
}

type Bookmark struct {
	ID           string    `json:"id"`
	ChapterIndex int       `json:"chapterIndex"`
	Timestamp    float64   `json:"timestamp"`
	Note         string    `json:"note"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PlaybackRates is the cycle order used by the rate toggle.
var PlaybackRates = []float64{0.75, 1, 1.25, 1.5, 2}

// NextPlaybackRate returns the rate following current in PlaybackRates.
// Unknown rates restart the cycle at the first entry.
func NextPlaybackRate(current float64) float64 {
	for i, r := range PlaybackRates {
		if r == current {
			return PlaybackRates[(i+1)%len(PlaybackRates)]
		}
	}
	return PlaybackRates[0]
}

// Session is a snapshot of one listener's player state.
type Session struct {
	ID             string         `json:"id"`
	DocumentID     string         `json:"documentId,omitempty"`
	Script         *PodcastScript `json:"script,omitempty"`
	CurrentChapter int            `json:"currentChapter"`
	Voice          Voice          `json:"voice"`
	Emotion        Emotion        `json:"emotion"`
	LoadingAudio   bool           `json:"loadingAudio"`
	Playing        bool           `json:"playing"`
	AudioLoaded    bool           `json:"audioLoaded"`
	PlaybackRate   float64        `json:"playbackRate"`
	Bookmarks      []Bookmark     `json:"bookmarks"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}
