package ffmpeg

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

// skipIfNoFFprobe skips the test if ffprobe is not installed.
func skipIfNoFFprobe(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	return path
}

// containsSeq reports whether want appears contiguously in args.
func containsSeq(args []string, want ...string) bool {
	for i := 0; i+len(want) <= len(args); i++ {
		if slices.Equal(args[i:i+len(want)], want) {
			return true
		}
	}
	return false
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		wantFull  string
		wantMajor int
		wantMinor int
		wantErr   bool
	}{
		{"release", "ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc", "6.1.1", 6, 1, false},
		{"git_tag", "ffmpeg version n7.0-12-gabcdef Copyright", "n7.0-12-gabcdef", 7, 0, false},
		{"snapshot", "ffmpeg version N-112345-gdeadbeef Copyright", "N-112345-gdeadbeef", 0, 0, false},
		{"garbage", "not ffmpeg at all", "", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full, major, minor, err := parseVersion(tt.output)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFull, full)
			assert.Equal(t, tt.wantMajor, major)
			assert.Equal(t, tt.wantMinor, minor)
		})
	}
}

func TestParseEncoders(t *testing.T) {
	output := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`
	assert.Equal(t, []string{"libx264", "h264_nvenc", "aac"}, parseEncoders(output))
	assert.Empty(t, parseEncoders("no separator here"))
}

func TestBinaryInfo_HasEncoder(t *testing.T) {
	info := &BinaryInfo{Encoders: []string{"libx264", "aac"}}
	assert.True(t, info.HasEncoder("libx264"))
	assert.False(t, info.HasEncoder("h264_nvenc"))
}

func TestBinaryInfo_AvailableHWAccels(t *testing.T) {
	info := &BinaryInfo{HWAccels: []HWAccelInfo{
		{Type: HWAccelCUDA, Available: true},
		{Type: HWAccelQSV, Available: false},
	}}
	available := info.AvailableHWAccels()
	require.Len(t, available, 1)
	assert.Equal(t, HWAccelCUDA, available[0].Type)
}

func TestBinaryInfo_JSON(t *testing.T) {
	info := &BinaryInfo{FFmpegPath: "/usr/bin/ffmpeg", Version: "6.1"}
	out := info.JSON()
	assert.Contains(t, out, `"ffmpeg_path": "/usr/bin/ffmpeg"`)
	assert.Contains(t, out, `"version": "6.1"`)
}

func TestBinaryDetector_Detect(t *testing.T) {
	skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	detector := NewBinaryDetector("", "").WithoutHWAccel()
	info, err := detector.Detect(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, info.FFmpegPath)
	assert.NotEmpty(t, info.FFprobePath)
	assert.NotEmpty(t, info.Version)

	again, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.Same(t, info, again)
}

func TestBinaryDetector_MissingBinary(t *testing.T) {
	detector := NewBinaryDetector(filepath.Join(t.TempDir(), "nope"), "")
	_, err := detector.Detect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg not found")
}

func TestParseHWAccels(t *testing.T) {
	output := "Hardware acceleration methods:\nvdpau\ncuda\nvaapi\n\n"
	assert.Equal(t, []string{"vdpau", "cuda", "vaapi"}, parseHWAccels(output))
}

func TestHWAccelDetector_Detect(t *testing.T) {
	var calls [][]string
	d := &HWAccelDetector{
		ffmpegPath: "ffmpeg",
		goos:       "linux",
		run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			calls = append(calls, append([]string{name}, args...))
			joined := strings.Join(args, " ")
			switch {
			case name == "nvidia-smi":
				return []byte("NVIDIA GeForce RTX 3060\n"), nil
			case strings.Contains(joined, "-hwaccels"):
				return []byte("Hardware acceleration methods:\nvdpau\ncuda\nvaapi\nqsv\n"), nil
			case strings.Contains(joined, "h264_qsv"):
				return nil, errors.New("no qsv device")
			case strings.Contains(joined, "/dev/dri/renderD128"):
				return nil, errors.New("no such device")
			default:
				return nil, nil
			}
		},
	}

	accels, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, accels, 3)

	assert.Equal(t, HWAccelInfo{Type: HWAccelCUDA, Available: true, DeviceName: "NVIDIA GeForce RTX 3060", Encoder: "h264_nvenc"}, accels[0])
	assert.Equal(t, HWAccelInfo{Type: HWAccelVAAPI, Available: true, DeviceName: "/dev/dri/renderD129", Encoder: "h264_vaapi"}, accels[1])
	assert.Equal(t, HWAccelInfo{Type: HWAccelQSV, Available: false, Encoder: "h264_qsv"}, accels[2])

	t.Run("vaapi_test_uploads_frames", func(t *testing.T) {
		found := false
		for _, c := range calls {
			if containsSeq(c, "-vaapi_device", "/dev/dri/renderD129") {
				found = true
				assert.True(t, containsSeq(c, "-vf", "format=nv12,hwupload"))
			}
		}
		assert.True(t, found)
	})
}

func TestHWAccelDetector_PlatformGated(t *testing.T) {
	d := &HWAccelDetector{
		ffmpegPath: "ffmpeg",
		goos:       "windows",
		run: func(_ context.Context, _ string, args ...string) ([]byte, error) {
			if slices.Contains(args, "-hwaccels") {
				return []byte("Hardware acceleration methods:\nvaapi\nvideotoolbox\n"), nil
			}
			return nil, nil
		},
	}

	accels, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, accels, 2)
	assert.False(t, accels[0].Available)
	assert.False(t, accels[1].Available)
}

func TestAccelFromName(t *testing.T) {
	tests := []struct {
		name   string
		want   HWAccelType
		wantOK bool
	}{
		{"nvenc", HWAccelCUDA, true},
		{"NVENC", HWAccelCUDA, true},
		{"qsv", HWAccelQSV, true},
		{" vaapi ", HWAccelVAAPI, true},
		{"videotoolbox", HWAccelVideoToolbox, true},
		{"amf", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AccelFromName(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectPreferred(t *testing.T) {
	accels := []HWAccelInfo{
		{Type: HWAccelCUDA, Available: false},
		{Type: HWAccelVAAPI, Available: true},
		{Type: HWAccelQSV, Available: true},
	}

	t.Run("first_available_in_priority", func(t *testing.T) {
		got := SelectPreferred(accels, []string{"nvenc", "qsv", "vaapi"})
		require.NotNil(t, got)
		assert.Equal(t, HWAccelQSV, got.Type)
	})

	t.Run("unknown_names_skipped", func(t *testing.T) {
		got := SelectPreferred(accels, []string{"amf", "vaapi"})
		require.NotNil(t, got)
		assert.Equal(t, HWAccelVAAPI, got.Type)
	})

	t.Run("none_available", func(t *testing.T) {
		assert.Nil(t, SelectPreferred(accels, []string{"nvenc", "videotoolbox"}))
	})
}

func TestUploadFilter(t *testing.T) {
	assert.Equal(t, "scale=-2:720", uploadFilter(HWAccelNone, 720))
	assert.Equal(t, "", uploadFilter(HWAccelCUDA, 0))
	assert.Equal(t, "format=nv12,hwupload", uploadFilter(HWAccelVAAPI, 0))
	assert.Equal(t, "scale=-2:480,hwupload=extra_hw_frames=64,format=qsv", uploadFilter(HWAccelQSV, 480))
}

func TestCommandBuilder_Build(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Overwrite().
		Seek(90 * time.Second).
		Input("/media/in.mkv").
		VideoCodec("libx264").
		VideoFilter("scale=-2:720").
		AudioCodec("aac").
		Output("/tmp/out.ts").
		Build()

	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner", "-nostdin",
		"-y",
		"-ss", "90.000",
		"-i", "/media/in.mkv",
		"-vf", "scale=-2:720",
		"-c:v", "libx264",
		"-c:a", "aac",
		"/tmp/out.ts",
	}, cmd.Args)
	assert.True(t, strings.HasPrefix(cmd.String(), "/usr/bin/ffmpeg -loglevel error"))
}

func TestCommandBuilder_ZeroValuesOmitted(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Seek(0).
		Input("in").
		VideoBitrate(0).
		AudioBitrate(0).
		VideoFilter("").
		Output("out").
		Build()

	assert.Equal(t, []string{"-loglevel", "error", "-i", "in", "out"}, cmd.Args)
}

func TestBuildSegmentCommand(t *testing.T) {
	base := EncodeRequest{
		Input:           "/media/film.mkv",
		WorkDir:         "/tmp/work",
		StartOffset:     125 * time.Second,
		SegmentDuration: 4 * time.Second,
	}

	t.Run("software_transcode", func(t *testing.T) {
		req := base
		req.Height = 720
		req.VideoBitrate = 3000
		req.AudioBitrate = 128
		req.VideoEncoder = "libx264"
		req.AudioEncoder = "aac"
		req.HWAccel = HWAccelNone

		args := BuildSegmentCommand("ffmpeg", req).Args
		assert.True(t, containsSeq(args, "-ss", "125.000", "-i", "/media/film.mkv"))
		assert.True(t, containsSeq(args, "-map", "0:v:0", "-map", "0:a:0?"))
		assert.True(t, containsSeq(args, "-vf", "scale=-2:720"))
		assert.True(t, containsSeq(args, "-c:v", "libx264"))
		assert.True(t, containsSeq(args, "-b:v", "3000k"))
		assert.True(t, containsSeq(args, "-force_key_frames", "expr:gte(t,n_forced*4)"))
		assert.True(t, containsSeq(args, "-c:a", "aac", "-b:a", "128k", "-ac", "2"))
		assert.True(t, containsSeq(args, "-f", "segment", "-segment_time", "4"))
		assert.True(t, containsSeq(args, "-segment_list", "pipe:1", "-segment_list_type", "csv"))
		assert.Equal(t, filepath.Join("/tmp/work", SegmentFilePattern), args[len(args)-1])
		assert.NotContains(t, args, "-bsf:v")
	})

	t.Run("remux_with_audio_passthrough", func(t *testing.T) {
		req := base
		req.VideoEncoder = CodecCopy
		req.AudioEncoder = CodecCopy
		req.HWAccel = HWAccelVAAPI

		args := BuildSegmentCommand("ffmpeg", req).Args
		assert.True(t, containsSeq(args, "-c:v", "copy", "-bsf:v", "h264_mp4toannexb"))
		assert.True(t, containsSeq(args, "-c:a", "copy"))
		assert.NotContains(t, args, "-vf")
		assert.NotContains(t, args, "-vaapi_device")
		assert.NotContains(t, args, "-force_key_frames")
	})

	t.Run("vaapi_transcode", func(t *testing.T) {
		req := base
		req.Height = 1080
		req.VideoEncoder = "h264_vaapi"
		req.AudioEncoder = "aac"
		req.HWAccel = HWAccelVAAPI
		req.Device = "/dev/dri/renderD129"

		args := BuildSegmentCommand("ffmpeg", req).Args
		assert.True(t, containsSeq(args, "-vaapi_device", "/dev/dri/renderD129"))
		assert.True(t, containsSeq(args, "-vf", "scale=-2:1080,format=nv12,hwupload"))
		assert.NotContains(t, args, "-preset")
	})
}

func TestParseSegmentLine(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		seg, ok := parseSegmentLine("segment_00003.ts,12.012000,16.016000\n", "/work")
		require.True(t, ok)
		assert.Equal(t, filepath.Join("/work", "segment_00003.ts"), seg.Path)
		assert.Equal(t, 12012*time.Millisecond, seg.Start)
		assert.Equal(t, 4004*time.Millisecond, seg.Duration)
	})

	invalid := []string{
		"",
		"segment_00000.ts,0.0",
		"segment_00000.ts,abc,4.0",
		"segment_00000.ts,4.0,2.0",
		",0.0,4.0",
	}
	for _, line := range invalid {
		t.Run("invalid_"+line, func(t *testing.T) {
			_, ok := parseSegmentLine(line, "/work")
			assert.False(t, ok)
		})
	}
}

func TestParseKeyframeCSV(t *testing.T) {
	t.Run("mixed_fields", func(t *testing.T) {
		out := []byte("0.000000,0.000000\nN/A,2.002000\n4.004000,N/A\n\nN/A,N/A\n6.006000\n")
		got, err := parseKeyframeCSV(out)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 2.002, 4.004, 6.006}, got)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := parseKeyframeCSV(nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseKeyframeCSV([]byte("frame,abc\n"))
		assert.Error(t, err)
	})
}

func TestProbeResult_MediaInfo(t *testing.T) {
	result := &ProbeResult{
		Format: ProbeFormat{FormatName: "matroska,webm", Duration: "125.300000"},
		Streams: []ProbeStream{
			{Index: 0, CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080},
			{Index: 1, CodecType: "audio", CodecName: "eac3", Channels: 6},
			{Index: 2, CodecType: "audio", CodecName: "aac", Channels: 2},
		},
	}

	info := result.MediaInfo()
	assert.Equal(t, "matroska", info.Container)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "eac3", info.AudioCodec)
	assert.Equal(t, int64(125300), info.DurationMs)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)

	t.Run("missing_duration", func(t *testing.T) {
		assert.Equal(t, int64(0), (&ProbeResult{}).DurationMs())
	})
}

func TestCommand_StartWaitCapturesStderr(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	cmd := &Command{Binary: sh, Args: []string{"-c", "echo out; echo boom >&2; exit 3"}}
	stdout, err := cmd.Start(context.Background())
	require.NoError(t, err)
	assert.Positive(t, cmd.PID())

	data, err := io.ReadAll(stdout)
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(data))

	err = cmd.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"boom"}, cmd.StderrLines())

	_, err = cmd.Start(context.Background())
	assert.Error(t, err, "a command starts once")
}

func TestCommand_KillIsIdempotent(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	cmd := &Command{Binary: sh, Args: []string{"-c", "exec sleep 30"}}
	assert.NoError(t, cmd.Kill(), "kill before start is a no-op")

	stdout, err := cmd.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, cmd.Kill())

	_, _ = io.ReadAll(stdout)
	assert.Error(t, cmd.Wait())
	assert.NoError(t, cmd.Kill())
}

func TestCommand_StderrTailRing(t *testing.T) {
	cmd := &Command{}
	for i := range stderrTailLines + 20 {
		cmd.appendStderr(strings.Repeat("x", i%3))
	}
	assert.Len(t, cmd.StderrLines(), stderrTailLines)
	assert.Equal(t, "xx; x; xx", cmd.StderrTail(3))
}

func TestProcessMonitor_Sample(t *testing.T) {
	t.Run("current_process", func(t *testing.T) {
		stats := NewProcessMonitor(os.Getpid()).Sample(context.Background())
		assert.True(t, stats.Running)
		assert.Equal(t, os.Getpid(), stats.PID)
		assert.Positive(t, stats.MemoryRSS)
	})

	t.Run("no_pid", func(t *testing.T) {
		stats := NewProcessMonitor(0).Sample(context.Background())
		assert.False(t, stats.Running)
	})
}

// makeTestVideo generates a short H.264/AAC file with a keyframe every second.
func makeTestVideo(t *testing.T, ffmpegPath string, seconds int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	dur := strconv.Itoa(seconds)
	cmd := exec.Command(ffmpegPath,
		"-y", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration="+dur+":size=320x240:rate=25",
		"-f", "lavfi", "-i", "sine=duration="+dur+":frequency=440:sample_rate=48000",
		"-c:v", "libx264", "-preset", "ultrafast", "-g", "25", "-keyint_min", "25", "-sc_threshold", "0",
		"-c:a", "aac",
		path)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not create test video: %v: %s", err, out)
	}
	return path
}

func TestIntegration_Prober(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	ffprobePath := skipIfNoFFprobe(t)
	input := makeTestVideo(t, ffmpegPath, 3)

	prober := NewProber(ffprobePath).WithTimeout(30 * time.Second)

	info, err := prober.ProbeMedia(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.Equal(t, "mov", info.Container)

	keyframes, err := prober.ProbeKeyframes(context.Background(), input)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(keyframes), 3)
	assert.InDelta(t, 0.0, keyframes[0], 0.1)
	assert.True(t, slices.IsSorted(keyframes))
}

func TestIntegration_SegmentEncoder(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	input := makeTestVideo(t, ffmpegPath, 4)
	workDir := filepath.Join(t.TempDir(), "session")

	enc := NewSegmentEncoder(ffmpegPath, nil)
	proc, err := enc.Start(context.Background(), EncodeRequest{
		Input:           input,
		WorkDir:         workDir,
		SegmentDuration: time.Second,
		Height:          120,
		VideoEncoder:    "libx264",
		AudioEncoder:    "aac",
		AudioBitrate:    64,
	})
	require.NoError(t, err)

	var segments []SegmentOutput
	for seg := range proc.Segments() {
		segments = append(segments, seg)
	}
	require.NoError(t, proc.Wait())

	require.NotEmpty(t, segments)
	for i, seg := range segments {
		assert.Equal(t, i, seg.Sequence)
		assert.Positive(t, seg.Size)
		assert.FileExists(t, seg.Path)
	}
}
