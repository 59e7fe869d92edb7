package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeFFmpeg(t *testing.T, mode string, captured *[]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append([]string(nil), args...)
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"FFMPEG_HELPER_MODE="+mode,
			"FFMPEG_HELPER_OUTPUT="+args[len(args)-1],
		)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func isUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat)
}

func TestFFmpeg_Transcode(t *testing.T) {
	var args []string
	fakeFFmpeg(t, "success", &args)

	out, err := NewFFmpeg(WithTempDir(t.TempDir()), WithBitrate("128k")).Transcode(context.Background(), []byte("video"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-mp3"), out)

	assert.Contains(t, args, "-vn")
	assert.Contains(t, args, "libmp3lame")
	assert.Contains(t, args, "128k")
}

func TestFFmpeg_TranscodeFailures(t *testing.T) {
	tests := []struct {
		name        string
		mode        string
		input       []byte
		unsupported bool
	}{
		{name: "empty input", mode: "success", input: nil, unsupported: true},
		{name: "corrupt container", mode: "invalid", input: []byte("junk"), unsupported: true},
		{name: "no audio stream", mode: "noaudio", input: []byte("video"), unsupported: true},
		{name: "empty output", mode: "empty", input: []byte("video"), unsupported: true},
		{name: "crash", mode: "crash", input: []byte("video"), unsupported: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakeFFmpeg(t, tt.mode, nil)

			_, err := NewFFmpeg(WithTempDir(t.TempDir())).Transcode(context.Background(), tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.unsupported, isUnsupported(err))
		})
	}
}

func TestFFmpeg_CanceledContextIsNotUnsupported(t *testing.T) {
	fakeFFmpeg(t, "invalid", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFFmpeg(WithTempDir(t.TempDir())).Transcode(ctx, []byte("video"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, isUnsupported(err))
}

func TestNewFFmpeg_Defaults(t *testing.T) {
	f := NewFFmpeg(WithBinary(""), WithBitrate(""))
	assert.Equal(t, FFmpegCommand, f.binary)
	assert.Equal(t, "192k", f.bitrate)

	assert.Equal(t, "/opt/ffmpeg", NewFFmpeg(WithBinary("/opt/ffmpeg")).binary)
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "success":
		if err := os.WriteFile(os.Getenv("FFMPEG_HELPER_OUTPUT"), []byte("ID3-mp3"), 0o600); err != nil {
			os.Exit(3)
		}
		os.Exit(0)
	case "empty":
		if err := os.WriteFile(os.Getenv("FFMPEG_HELPER_OUTPUT"), nil, 0o600); err != nil {
			os.Exit(3)
		}
		os.Exit(0)
	case "invalid":
		fmt.Fprintln(os.Stderr, "/tmp/input: Invalid data found when processing input")
		os.Exit(1)
	case "noaudio":
		fmt.Fprintln(os.Stderr, "Output file #0 does not contain any stream")
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "Segmentation fault")
		os.Exit(139)
	}
}
