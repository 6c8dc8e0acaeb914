package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// SegmentFilePattern names segment files inside a work directory.
	SegmentFilePattern = "segment_%05d.ts"

	// CodecCopy selects stream copy instead of an encoder.
	CodecCopy = "copy"

	segmentBuffer = 16
)

// EncodeRequest describes one segmenting encode anchored at StartOffset.
type EncodeRequest struct {
	Input           string
	WorkDir         string
	StartOffset     time.Duration
	SegmentDuration time.Duration
	// Height of the output; 0 keeps the source resolution.
	Height       int
	VideoBitrate int // kbps
	AudioBitrate int // kbps
	VideoEncoder string
	AudioEncoder string
	HWAccel      HWAccelType
	Device       string
}

// SegmentOutput is a segment the muxer has finished writing.
type SegmentOutput struct {
	Sequence int
	Path     string
	Start    time.Duration
	Duration time.Duration
	Size     int64
}

// EncodeProcess is a running encode that emits completed segments.
type EncodeProcess interface {
	// Segments is closed when the process stops producing output.
	Segments() <-chan SegmentOutput
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
	// Kill terminates the process. It is safe to call more than once.
	Kill() error
	PID() int
}

// SegmentEncoder runs ffmpeg's segment muxer, writing MPEG-TS segments to a
// work directory and reporting each one as it completes.
type SegmentEncoder struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewSegmentEncoder creates an encoder using the given ffmpeg binary.
func NewSegmentEncoder(ffmpegPath string, logger *slog.Logger) *SegmentEncoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentEncoder{ffmpegPath: ffmpegPath, logger: logger}
}

// Start launches ffmpeg for req. The process lives until it exits, ctx is
// cancelled or Kill is called.
func (e *SegmentEncoder) Start(ctx context.Context, req EncodeRequest) (EncodeProcess, error) {
	if req.Input == "" || req.WorkDir == "" {
		return nil, errors.New("encode request requires input and work dir")
	}
	if req.SegmentDuration <= 0 {
		return nil, errors.New("encode request requires a positive segment duration")
	}
	if err := os.MkdirAll(req.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}

	cmd := BuildSegmentCommand(e.ffmpegPath, req)
	e.logger.DebugContext(ctx, "starting segment encode",
		slog.String("command", cmd.String()),
	)

	stdout, err := cmd.Start(ctx)
	if err != nil {
		return nil, err
	}

	proc := &SegmentProcess{
		cmd:      cmd,
		workDir:  req.WorkDir,
		segments: make(chan SegmentOutput, segmentBuffer),
		killed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go proc.readSegments(stdout)
	return proc, nil
}

// BuildSegmentCommand builds the ffmpeg invocation for req.
func BuildSegmentCommand(ffmpegPath string, req EncodeRequest) *Command {
	b := NewCommandBuilder(ffmpegPath).HideBanner().Overwrite()
	copyVideo := req.VideoEncoder == "" || req.VideoEncoder == CodecCopy

	if !copyVideo && req.HWAccel != "" && req.HWAccel != HWAccelNone {
		b.HWAccel(req.HWAccel, req.Device)
	}

	b.Seek(req.StartOffset).Input(req.Input)
	b.OutputArgs("-map", "0:v:0", "-map", "0:a:0?")

	segmentSeconds := strconv.FormatFloat(req.SegmentDuration.Seconds(), 'f', -1, 64)
	if copyVideo {
		b.VideoCodec(CodecCopy).OutputArgs("-bsf:v", "h264_mp4toannexb")
	} else {
		b.VideoCodec(req.VideoEncoder).
			VideoFilter(uploadFilter(req.HWAccel, req.Height)).
			VideoBitrate(req.VideoBitrate).
			OutputArgs("-force_key_frames", "expr:gte(t,n_forced*"+segmentSeconds+")")
		if req.VideoEncoder == "libx264" {
			b.OutputArgs("-preset", "veryfast", "-sc_threshold", "0", "-pix_fmt", "yuv420p")
		}
	}

	switch req.AudioEncoder {
	case "", CodecCopy:
		b.AudioCodec(CodecCopy)
	default:
		b.AudioCodec(req.AudioEncoder).AudioBitrate(req.AudioBitrate).OutputArgs("-ac", "2")
	}

	b.OutputArgs(
		"-f", "segment",
		"-segment_time", segmentSeconds,
		"-segment_format", "mpegts",
		"-segment_list", "pipe:1",
		"-segment_list_type", "csv",
		"-segment_start_number", "0",
		"-reset_timestamps", "0",
	)
	return b.Output(filepath.Join(req.WorkDir, SegmentFilePattern)).Build()
}

// SegmentProcess is a running segment encode.
type SegmentProcess struct {
	cmd     *Command
	workDir string

	segments chan SegmentOutput
	killed   chan struct{}
	killOnce sync.Once

	done    chan struct{}
	waitErr error
}

// Segments returns completed segments in order.
func (p *SegmentProcess) Segments() <-chan SegmentOutput {
	return p.segments
}

// Wait blocks until the process exits.
func (p *SegmentProcess) Wait() error {
	<-p.done
	return p.waitErr
}

// Kill terminates the process.
func (p *SegmentProcess) Kill() error {
	p.killOnce.Do(func() { close(p.killed) })
	return p.cmd.Kill()
}

// PID returns the ffmpeg process id.
func (p *SegmentProcess) PID() int {
	return p.cmd.PID()
}

// StderrTail returns the last lines ffmpeg wrote to stderr.
func (p *SegmentProcess) StderrTail() string {
	return p.cmd.StderrTail(5)
}

func (p *SegmentProcess) readSegments(stdout io.Reader) {
	defer close(p.done)

	scanner := bufio.NewScanner(stdout)
	seq := 0
	for scanner.Scan() {
		seg, ok := parseSegmentLine(scanner.Text(), p.workDir)
		if !ok {
			continue
		}
		seg.Sequence = seq
		seq++
		if info, err := os.Stat(seg.Path); err == nil {
			seg.Size = info.Size()
		}
		select {
		case p.segments <- seg:
		case <-p.killed:
		}
	}
	close(p.segments)
	p.waitErr = p.cmd.Wait()
}

// parseSegmentLine parses one csv segment list entry "file,start,end" with
// times in seconds.
func parseSegmentLine(line, workDir string) (SegmentOutput, bool) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 3 || fields[0] == "" {
		return SegmentOutput{}, false
	}
	start, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return SegmentOutput{}, false
	}
	end, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || end < start {
		return SegmentOutput{}, false
	}
	return SegmentOutput{
		Path:     filepath.Join(workDir, filepath.Base(fields[0])),
		Start:    secondsToDuration(start),
		Duration: secondsToDuration(end - start),
	}, true
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
