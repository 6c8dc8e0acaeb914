package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const defaultProbeTimeout = 2 * time.Minute

// ProbeResult contains the parts of ffprobe's JSON output vodarr reads.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"` // video, audio, subtitle, data
	Profile   string `json:"profile,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Channels  int    `json:"channels,omitempty"`
}

// MediaInfo is the simplified view of a probed file stored in the catalog.
type MediaInfo struct {
	VideoCodec string `json:"video_codec,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty"`
	Container  string `json:"container,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     defaultProbeTimeout,
	}
}

// WithTimeout sets the probe timeout. Non-positive values are ignored.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

// Probe returns the format and stream information of a file.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	output, err := p.run(ctx,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// ProbeMedia probes a file and returns its simplified media information.
func (p *Prober) ProbeMedia(ctx context.Context, path string) (*MediaInfo, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(result.Streams) == 0 {
		return nil, errors.New("no streams found")
	}
	return result.MediaInfo(), nil
}

// ProbeKeyframes returns the presentation timestamps, in seconds, of every
// keyframe in the first video stream. Only keyframes are decoded.
func (p *Prober) ProbeKeyframes(ctx context.Context, path string) ([]float64, error) {
	output, err := p.run(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-skip_frame", "nokey",
		"-show_entries", "frame=pts_time,best_effort_timestamp_time",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return nil, err
	}
	return parseKeyframeCSV(output)
}

func (p *Prober) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffprobe failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return output, nil
}

// parseKeyframeCSV parses one keyframe per line. Each line holds pts_time
// then best_effort_timestamp_time; the first numeric field wins and lines
// where both are N/A are skipped.
func parseKeyframeCSV(output []byte) ([]float64, error) {
	var timestamps []float64
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for field := range strings.SplitSeq(line, ",") {
			field = strings.TrimSpace(field)
			if field == "" || field == "N/A" {
				continue
			}
			ts, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing keyframe timestamp %q: %w", field, err)
			}
			timestamps = append(timestamps, ts)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading keyframe output: %w", err)
	}
	return timestamps, nil
}

// VideoStream returns the first video stream from probe result.
func (r *ProbeResult) VideoStream() *ProbeStream {
	return r.firstOfType("video")
}

// AudioStream returns the first audio stream from probe result.
func (r *ProbeResult) AudioStream() *ProbeStream {
	return r.firstOfType("audio")
}

func (r *ProbeResult) firstOfType(codecType string) *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == codecType {
			return &r.Streams[i]
		}
	}
	return nil
}

// DurationMs returns the container duration in milliseconds.
func (r *ProbeResult) DurationMs() int64 {
	if dur, err := strconv.ParseFloat(r.Format.Duration, 64); err == nil && dur > 0 {
		return int64(dur * 1000)
	}
	return 0
}

// MediaInfo simplifies the probe result. The container is the first name
// ffprobe reports ("matroska,webm" becomes "matroska").
func (r *ProbeResult) MediaInfo() *MediaInfo {
	info := &MediaInfo{DurationMs: r.DurationMs()}
	info.Container, _, _ = strings.Cut(r.Format.FormatName, ",")
	if v := r.VideoStream(); v != nil {
		info.VideoCodec = v.CodecName
		info.Width = v.Width
		info.Height = v.Height
	}
	if a := r.AudioStream(); a != nil {
		info.AudioCodec = a.CodecName
	}
	return info
}
