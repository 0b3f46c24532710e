package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultFrameOffset is where the representative still is taken from a video.
const DefaultFrameOffset = time.Second

// FFmpeg shells out to the ffmpeg binary for audio extraction, format
// conversion and frame grabs.
type FFmpeg struct {
	bin string
}

func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin}
}

// ToWAV converts any audio or video container to 16 kHz mono PCM WAV.
func (f *FFmpeg) ToWAV(ctx context.Context, data []byte, ext string) ([]byte, error) {
	return f.transform(ctx, data, ext, "out.wav", wavArgs)
}

// ExtractFrame grabs a single JPEG frame at offset.
func (f *FFmpeg) ExtractFrame(ctx context.Context, video []byte, ext string, offset time.Duration) ([]byte, error) {
	return f.transform(ctx, video, ext, "frame.jpg", func(in, out string) []string {
		return frameArgs(in, out, offset)
	})
}

func (f *FFmpeg) transform(ctx context.Context, data []byte, ext, outName string, args func(in, out string) []string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "media-*")
	if err != nil {
		return nil, fmt.Errorf("media: create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	in := filepath.Join(dir, "input."+ext)
	out := filepath.Join(dir, outName)
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("media: write input: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin, args(in, out)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("media: ffmpeg: %w: %s", err, tail(stderr.Bytes(), 512))
	}

	result, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("media: read ffmpeg output: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("media: ffmpeg produced empty %s", outName)
	}
	return result, nil
}

func wavArgs(in, out string) []string {
	return []string{
		"-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "pcm_s16le",
		out,
	}
}

func frameArgs(in, out string, offset time.Duration) []string {
	return []string{
		"-y",
		"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 1, 64),
		"-i", in,
		"-frames:v", "1",
		"-q:v", "2",
		out,
	}
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(bytes.TrimSpace(b))
}
