package app

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrNoScript          = errors.New("no podcast script loaded")
	ErrChapterOutOfRange = errors.New("chapter index out of range")
	ErrAudioNotLoaded    = errors.New("no audio loaded for the current chapter")
	ErrBookmarkNotFound  = errors.New("bookmark not found")
	ErrInvalidVoice      = errors.New("unknown voice")
	ErrInvalidEmotion    = errors.New("unknown emotion")
	ErrInvalidEvent      = errors.New("unknown playback event")
	ErrInvalidTimestamp  = errors.New("timestamp must be a non-negative number of seconds")
	ErrArchiveDisabled   = errors.New("object storage is not configured")
	// ErrLoadSuperseded is returned to an audio load that a later navigation replaced.
	ErrLoadSuperseded = errors.New("audio load superseded by a newer request")
)
