package podcast

import (
	"errors"
	"fmt"
)

var (
	// ErrExtraction indicates no text could be recovered from an uploaded document.
	ErrExtraction = errors.New("no extractable text in document")
	// ErrScriptGeneration covers remote failures and unparseable script responses.
	ErrScriptGeneration = errors.New("failed to generate script structure")
	// ErrAudioGeneration covers remote failures and responses without audio.
	ErrAudioGeneration = errors.New("failed to generate audio")
	// ErrPlayback is reported by clients whose audio element failed to decode or load.
	ErrPlayback = errors.New("audio playback failed")

	ErrEmptyText = fmt.Errorf("%w: text is empty", ErrAudioGeneration)
)
