package media

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind is the inbound modality of a message.
type Kind string

const (
	KindText     Kind = "text"
	KindVoice    Kind = "voice"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
)

const (
	DefaultMaxAudioBytes = 25 << 20
	pdfMIME              = "application/pdf"
)

// Payload is a normalized input: either Text or an Image with its MIME type.
type Payload struct {
	Text  string
	Image []byte
	MIME  string
}

func (p Payload) IsImage() bool { return len(p.Image) > 0 }

// Transcriber turns audio bytes into text. filename carries the extension
// hint for the container format.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

type frameGrabber interface {
	ToWAV(ctx context.Context, data []byte, ext string) ([]byte, error)
	ExtractFrame(ctx context.Context, video []byte, ext string, offset time.Duration) ([]byte, error)
}

// Config bounds the work the normalizer is willing to do.
type Config struct {
	Image                ImageLimits
	MaxAudioBytes        int
	TranscriptionTimeout time.Duration
	FrameOffset          time.Duration
}

// Normalizer reduces voice, audio, video, photos and documents to text or a
// single image payload.
type Normalizer struct {
	transcriber Transcriber
	ffmpeg      frameGrabber
	cfg         Config
	renderPDF   func([]byte) ([]byte, error)
}

func NewNormalizer(t Transcriber, ffmpeg *FFmpeg, cfg Config) (*Normalizer, error) {
	if t == nil {
		return nil, fmt.Errorf("media: transcriber must not be nil")
	}
	if ffmpeg == nil {
		return nil, fmt.Errorf("media: ffmpeg must not be nil")
	}
	return newNormalizer(t, ffmpeg, cfg), nil
}

func newNormalizer(t Transcriber, ffmpeg frameGrabber, cfg Config) *Normalizer {
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if cfg.TranscriptionTimeout <= 0 {
		cfg.TranscriptionTimeout = 60 * time.Second
	}
	if cfg.FrameOffset <= 0 {
		cfg.FrameOffset = DefaultFrameOffset
	}
	cfg.Image = cfg.Image.withDefaults()
	return &Normalizer{transcriber: t, ffmpeg: ffmpeg, cfg: cfg, renderPDF: RenderFirstPage}
}

// Normalize converts data of the given kind into a Payload. Voice, audio
// and video yield Text or ErrNoSpeech; photos and documents yield an Image.
func (n *Normalizer) Normalize(ctx context.Context, kind Kind, data []byte, mime string) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, fmt.Errorf("%w: empty %s payload", ErrUnsupportedMedia, kind)
	}

	switch kind {
	case KindVoice, KindAudio:
		if len(data) > n.cfg.MaxAudioBytes {
			return Payload{}, fmt.Errorf("%w: audio is %d bytes", ErrPayloadTooLarge, len(data))
		}
		return n.transcribe(ctx, data, "audio."+AudioExtension(mime))
	case KindVideo:
		wav, err := n.ffmpeg.ToWAV(ctx, data, VideoExtension(mime))
		if err != nil {
			// Videos without an audio track fail here; the caller falls
			// back to a still frame.
			return Payload{}, fmt.Errorf("%w: %v", ErrNoSpeech, err)
		}
		if len(wav) > n.cfg.MaxAudioBytes {
			return Payload{}, fmt.Errorf("%w: audio track is %d bytes", ErrPayloadTooLarge, len(wav))
		}
		return n.transcribe(ctx, wav, "audio.wav")
	case KindPhoto:
		return n.image(data)
	case KindDocument:
		mime = strings.ToLower(strings.TrimSpace(mime))
		switch {
		case mime == pdfMIME:
			page, err := n.renderPDF(data)
			if err != nil {
				return Payload{}, err
			}
			return n.image(page)
		case strings.HasPrefix(mime, "image/"):
			return n.image(data)
		default:
			return Payload{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mime)
		}
	default:
		return Payload{}, fmt.Errorf("%w: kind %q", ErrUnsupportedMedia, kind)
	}
}

// VideoFrame extracts one representative still from a video and prepares
// it for image extraction.
func (n *Normalizer) VideoFrame(ctx context.Context, video []byte, mime string) (Payload, error) {
	frame, err := n.ffmpeg.ExtractFrame(ctx, video, VideoExtension(mime), n.cfg.FrameOffset)
	if err != nil {
		return Payload{}, err
	}
	return n.image(frame)
}

func (n *Normalizer) transcribe(ctx context.Context, audio []byte, filename string) (Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.TranscriptionTimeout)
	defer cancel()

	text, err := n.transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		return Payload{}, fmt.Errorf("media: transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Payload{}, ErrNoSpeech
	}
	return Payload{Text: text}, nil
}

func (n *Normalizer) image(data []byte) (Payload, error) {
	img, mime, err := OptimizeImage(data, n.cfg.Image)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Image: img, MIME: mime}, nil
}

var audioExtensions = map[string]string{
	"audio/ogg":   "ogg",
	"audio/opus":  "ogg",
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/mp4":   "m4a",
	"audio/m4a":   "m4a",
	"audio/x-m4a": "m4a",
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
	"audio/webm":  "webm",
	"audio/flac":  "flac",
}

// AudioExtension maps an audio MIME type to a file extension, defaulting
// to ogg (voice notes).
func AudioExtension(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	if ext, ok := audioExtensions[mime]; ok {
		return ext
	}
	return "ogg"
}

var videoExtensions = map[string]string{
	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/webm":       "webm",
	"video/x-matroska": "mkv",
	"video/3gpp":       "3gp",
}

// VideoExtension maps a video MIME type to a file extension, defaulting to mp4.
func VideoExtension(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	if ext, ok := videoExtensions[mime]; ok {
		return ext
	}
	return "mp4"
}
