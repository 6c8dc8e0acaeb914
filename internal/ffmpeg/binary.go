// Package ffmpeg locates the FFmpeg toolchain, detects its capabilities and
// runs the probe and segmenting processes vodarr depends on.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/jmylchreest/vodarr/internal/util"
)

// Environment variables consulted when no binary path is configured.
const (
	EnvFFmpegBinary  = "VODARR_FFMPEG_BINARY"
	EnvFFprobeBinary = "VODARR_FFPROBE_BINARY"
)

// BinaryInfo describes the detected FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath   string        `json:"ffmpeg_path"`
	FFprobePath  string        `json:"ffprobe_path"`
	Version      string        `json:"version"`
	MajorVersion int           `json:"major_version"`
	MinorVersion int           `json:"minor_version"`
	Encoders     []string      `json:"encoders,omitempty"`
	HWAccels     []HWAccelInfo `json:"hw_accels,omitempty"`
}

// BinaryDetector locates ffmpeg and ffprobe and inspects their capabilities.
// The first successful detection is cached for the life of the detector.
type BinaryDetector struct {
	mu         sync.RWMutex
	info       *BinaryInfo
	locate     func(name, configured, envVar string) (string, error)
	ffmpegPath string
	probePath  string
	skipAccel  bool
}

// NewBinaryDetector creates a detector. Empty paths are resolved through
// the environment, the working directory and PATH.
func NewBinaryDetector(ffmpegPath, probePath string) *BinaryDetector {
	return &BinaryDetector{
		locate:     util.FindBinary,
		ffmpegPath: ffmpegPath,
		probePath:  probePath,
	}
}

// WithoutHWAccel disables hardware acceleration probing.
func (d *BinaryDetector) WithoutHWAccel() *BinaryDetector {
	d.skipAccel = true
	return d
}

// Detect returns the binary information, detecting it on first use.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	info := d.info
	d.mu.RUnlock()
	if info != nil {
		return info, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info != nil {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	return info, nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	ffmpegPath, err := d.locate("ffmpeg", d.ffmpegPath, EnvFFmpegBinary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	// ffprobe is required too: keyframe indexing and codec probing depend on it.
	ffprobePath, err := d.locate("ffprobe", d.probePath, EnvFFprobeBinary)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	info := &BinaryInfo{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}

	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version, info.MajorVersion, info.MinorVersion, err = parseVersion(string(out))
	if err != nil {
		return nil, err
	}

	if out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").Output(); err == nil {
		info.Encoders = parseEncoders(string(out))
	}

	if !d.skipAccel {
		accels, err := NewHWAccelDetector(ffmpegPath).Detect(ctx)
		if err == nil {
			info.HWAccels = accels
		}
	}

	return info, nil
}

var versionPattern = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion extracts the version from `ffmpeg -version` output, which
// starts with a line such as "ffmpeg version 6.1.1 Copyright ..." or
// "ffmpeg version n7.0-12-gabcdef".
func parseVersion(output string) (full string, major, minor int, err error) {
	for line := range strings.Lines(output) {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			break
		}
		full = fields[2]
		if m := versionPattern.FindStringSubmatch(full); len(m) == 3 {
			major, _ = strconv.Atoi(m[1])
			minor, _ = strconv.Atoi(m[2])
		}
		return full, major, minor, nil
	}
	return "", 0, 0, fmt.Errorf("failed to parse ffmpeg version")
}

// parseEncoders extracts encoder names from `ffmpeg -encoders` output. Rows
// after the "------" separator look like " V....D libx264  libx264 H.264 ...".
func parseEncoders(output string) []string {
	var encoders []string
	inList := false
	for line := range strings.Lines(output) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList || len(line) < 8 {
			continue
		}
		switch line[0] {
		case 'V', 'A', 'S':
		default:
			continue
		}
		if fields := strings.Fields(line[6:]); len(fields) > 0 {
			encoders = append(encoders, fields[0])
		}
	}
	return encoders
}

// HasEncoder reports whether the named encoder is compiled in.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// AvailableHWAccels returns accelerators that passed a test encode.
func (info *BinaryInfo) AvailableHWAccels() []HWAccelInfo {
	var available []HWAccelInfo
	for _, a := range info.HWAccels {
		if a.Available {
			available = append(available, a)
		}
	}
	return available
}

// JSON returns the binary info as indented JSON.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}
