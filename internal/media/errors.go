package media

import "errors"

var (
	// ErrPayloadTooLarge is returned when an input is still over budget
	// after best-effort reduction.
	ErrPayloadTooLarge = errors.New("media: payload too large")
	// ErrNoSpeech is returned when transcription yields no text.
	ErrNoSpeech = errors.New("media: no speech detected")
	// ErrUnsupportedMedia is returned for inputs that cannot be turned into
	// text or an image.
	ErrUnsupportedMedia = errors.New("media: unsupported media type")
)
