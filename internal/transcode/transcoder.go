// Package transcode turns source videos into MP3 audio and implements the
// transcode-queue job handler.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FFmpegCommand is the default transcoder binary
const FFmpegCommand = "ffmpeg"

var commandContext = exec.CommandContext

// ErrUnsupportedFormat is returned for input that can never be transcoded,
// such as a corrupt container or a file without an audio track
var ErrUnsupportedFormat = errors.New("unsupported media format")

// ffmpeg diagnostics that mean the input itself is unusable
var unsupportedMarkers = []string{
	"invalid data found when processing input",
	"does not contain any stream",
	"matches no streams",
	"moov atom not found",
	"could not find codec parameters",
}

// Transcoder converts source media bytes into MP3 bytes
type Transcoder interface {
	Transcode(ctx context.Context, src []byte) ([]byte, error)
}

// FFmpeg shells out to the ffmpeg binary
type FFmpeg struct {
	binary  string
	tempDir string
	bitrate string
}

// Option configures the FFmpeg transcoder
type Option func(*FFmpeg)

// WithBinary overrides the ffmpeg binary path
func WithBinary(binary string) Option {
	return func(f *FFmpeg) {
		if binary != "" {
			f.binary = binary
		}
	}
}

// WithTempDir sets where scratch files are written
func WithTempDir(dir string) Option {
	return func(f *FFmpeg) {
		f.tempDir = dir
	}
}

// WithBitrate sets the MP3 audio bitrate, e.g. "192k"
func WithBitrate(bitrate string) Option {
	return func(f *FFmpeg) {
		if bitrate != "" {
			f.bitrate = bitrate
		}
	}
}

// NewFFmpeg creates an ffmpeg-backed transcoder
func NewFFmpeg(opts ...Option) *FFmpeg {
	f := &FFmpeg{
		binary:  FFmpegCommand,
		bitrate: "192k",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Transcode writes src to a scratch directory, extracts its audio track as
// MP3 and returns the encoded bytes. Identical input and settings yield
// identical output.
func (f *FFmpeg) Transcode(ctx context.Context, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("empty input: %w", ErrUnsupportedFormat)
	}

	dir, err := os.MkdirTemp(f.tempDir, "transcode-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input")
	output := filepath.Join(dir, "output.mp3")

	if err := os.WriteFile(input, src, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write input: %w", err)
	}

	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", f.bitrate,
		"-map_metadata", "-1",
		"-fflags", "+bitexact",
		"-f", "mp3",
		output,
	}
	cmd := commandContext(ctx, f.binary, args...) //nolint:gosec
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		return nil, classify(err, string(out))
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no audio: %w", ErrUnsupportedFormat)
	}

	return data, nil
}

func classify(err error, output string) error {
	msg := strings.TrimSpace(output)
	lower := strings.ToLower(msg)
	for _, marker := range unsupportedMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("ffmpeg: %s: %w", msg, ErrUnsupportedFormat)
		}
	}
	return fmt.Errorf("ffmpeg: %w: %s", err, msg)
}
