package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// WhisperCLI transcribes audio locally: ffmpeg converts the input to WAV
// and whisper-cli prints the transcript on stdout.
type WhisperCLI struct {
	ffmpeg    *FFmpeg
	bin       string
	modelPath string
	language  string
}

func NewWhisperCLI(ffmpeg *FFmpeg, bin, modelPath, language string) *WhisperCLI {
	if bin == "" {
		bin = "whisper-cli"
	}
	if language == "" {
		language = "auto"
	}
	return &WhisperCLI{ffmpeg: ffmpeg, bin: bin, modelPath: modelPath, language: language}
}

// Transcribe returns the trimmed transcript of audio. filename is only used
// for its extension.
func (w *WhisperCLI) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	wav, err := w.ffmpeg.ToWAV(ctx, audio, extensionOf(filename))
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return "", fmt.Errorf("media: create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	in := filepath.Join(dir, "audio.wav")
	if err := os.WriteFile(in, wav, 0o600); err != nil {
		return "", fmt.Errorf("media: write wav: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, w.bin, w.args(in)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("media: whisper-cli: %w: %s", err, tail(stderr.Bytes(), 512))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (w *WhisperCLI) args(in string) []string {
	args := []string{"-f", in, "-l", w.language, "-nt", "-np"}
	if w.modelPath != "" {
		args = append([]string{"-m", w.modelPath}, args...)
	}
	return args
}

func extensionOf(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return "ogg"
	}
	return strings.ToLower(ext)
}
