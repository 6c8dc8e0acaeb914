package streaming

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySegment_Rejects(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing_file", func(t *testing.T) {
		err := VerifySegment(context.Background(), filepath.Join(dir, "nope.ts"))
		assert.Error(t, err)
	})

	t.Run("not_mpegts", func(t *testing.T) {
		path := filepath.Join(dir, "junk.ts")
		require.NoError(t, os.WriteFile(path, []byte("definitely not a transport stream"), 0o600))
		assert.Error(t, VerifySegment(context.Background(), path))
	})

	t.Run("empty_file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.ts")
		require.NoError(t, os.WriteFile(path, nil, 0o600))
		assert.Error(t, VerifySegment(context.Background(), path))
	})
}

func TestVerifySegment_Integration(t *testing.T) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not available")
	}

	dir := t.TempDir()
	ctx := context.Background()

	t.Run("video_segment_passes", func(t *testing.T) {
		path := filepath.Join(dir, "video.ts")
		cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-loglevel", "error",
			"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=25",
			"-c:v", "libx264", "-g", "25", "-f", "mpegts", path)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("libx264 encode unavailable: %v: %s", err, out)
		}
		assert.NoError(t, VerifySegment(ctx, path))
	})

	t.Run("audio_only_segment_fails", func(t *testing.T) {
		path := filepath.Join(dir, "audio.ts")
		cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-loglevel", "error",
			"-f", "lavfi", "-i", "sine=duration=1", "-c:a", "aac", "-f", "mpegts", path)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("aac encode unavailable: %v: %s", err, out)
		}
		assert.ErrorIs(t, VerifySegment(ctx, path), errNoVideoStream)
	})
}
