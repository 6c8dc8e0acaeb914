package streaming

import (
	"context"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/jmylchreest/vodarr/internal/ffmpeg"
)

// EncoderKind distinguishes hardware from software encoding.
type EncoderKind string

const (
	EncoderHardware EncoderKind = "hardware"
	EncoderSoftware EncoderKind = "software"
)

const (
	softwareVideoEncoder = "libx264"
	defaultAudioEncoder  = "aac"
)

// hardwareSessionLimits are default concurrent encode limits per accelerator.
// Consumer NVIDIA cards cap NVENC sessions in the driver.
var hardwareSessionLimits = map[ffmpeg.HWAccelType]int{
	ffmpeg.HWAccelCUDA:         5,
	ffmpeg.HWAccelQSV:          4,
	ffmpeg.HWAccelVAAPI:        4,
	ffmpeg.HWAccelVideoToolbox: 4,
}

// passthroughAudioCodecs can be copied into HLS segments as-is.
var passthroughAudioCodecs = []string{"aac", "mp3", "opus", "flac", "alac"}

// EncoderProfile is the encode capability chosen at startup. It is never
// mutated after selection.
type EncoderProfile struct {
	Kind            EncoderKind        `json:"kind"`
	Accel           ffmpeg.HWAccelType `json:"accel"`
	VideoEncoder    string             `json:"video_encoder"`
	AudioEncoder    string             `json:"audio_encoder"`
	Codecs          []string           `json:"codecs"`
	ConcurrencyHint int                `json:"concurrency_hint"`
	Device          string             `json:"device,omitempty"`
}

// IsHardware reports whether the profile uses a hardware encoder.
func (p EncoderProfile) IsHardware() bool {
	return p.Kind == EncoderHardware
}

// AccelDetector lists hardware accelerators and whether each one works.
type AccelDetector interface {
	Detect(ctx context.Context) ([]ffmpeg.HWAccelInfo, error)
}

// ProfileConfig controls encoder selection.
type ProfileConfig struct {
	// HWAccel is "auto" or "none".
	HWAccel  string
	Priority []string
	// MaxConcurrentEncodes overrides the concurrency hint when positive.
	MaxConcurrentEncodes int
}

// EncoderProfileSelector detects encode capability once and freezes it.
type EncoderProfileSelector struct {
	detector AccelDetector
	cfg      ProfileConfig
	cpuCount func(ctx context.Context) int
	logger   *slog.Logger

	once    sync.Once
	profile EncoderProfile
}

// NewEncoderProfileSelector creates a selector. detector may be nil, which
// always yields the software profile.
func NewEncoderProfileSelector(detector AccelDetector, cfg ProfileConfig, logger *slog.Logger) *EncoderProfileSelector {
	if logger == nil {
		logger = slog.Default()
	}
	return &EncoderProfileSelector{
		detector: detector,
		cfg:      cfg,
		cpuCount: logicalCPUs,
		logger:   logger,
	}
}

// NewFixedProfileSelector returns a selector frozen to profile.
func NewFixedProfileSelector(profile EncoderProfile) *EncoderProfileSelector {
	s := &EncoderProfileSelector{logger: slog.Default(), profile: profile}
	s.once.Do(func() {})
	return s
}

// Select runs detection on first call and returns the frozen profile on
// every call. Detection failures fall back to software encoding.
func (s *EncoderProfileSelector) Select(ctx context.Context) EncoderProfile {
	s.once.Do(func() {
		s.profile = s.detect(ctx)
		s.logger.InfoContext(ctx, "encoder profile selected",
			slog.String("kind", string(s.profile.Kind)),
			slog.String("video_encoder", s.profile.VideoEncoder),
			slog.Int("concurrency_hint", s.profile.ConcurrencyHint),
		)
	})
	return s.profile
}

// Profile returns the frozen profile, selecting it first if needed.
func (s *EncoderProfileSelector) Profile() EncoderProfile {
	return s.Select(context.Background())
}

func (s *EncoderProfileSelector) detect(ctx context.Context) EncoderProfile {
	if s.detector != nil && !strings.EqualFold(s.cfg.HWAccel, "none") {
		accels, err := s.detector.Detect(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "hardware acceleration detection failed, using software encoding",
				slog.String("error", err.Error()),
			)
		} else if chosen := ffmpeg.SelectPreferred(accels, s.cfg.Priority); chosen != nil {
			return EncoderProfile{
				Kind:            EncoderHardware,
				Accel:           chosen.Type,
				VideoEncoder:    chosen.Encoder,
				AudioEncoder:    defaultAudioEncoder,
				Codecs:          []string{"h264", "aac"},
				ConcurrencyHint: s.hint(hardwareSessionLimits[chosen.Type]),
				Device:          chosen.DeviceName,
			}
		}
	}

	return EncoderProfile{
		Kind:            EncoderSoftware,
		Accel:           ffmpeg.HWAccelNone,
		VideoEncoder:    softwareVideoEncoder,
		AudioEncoder:    defaultAudioEncoder,
		Codecs:          []string{"h264", "aac"},
		ConcurrencyHint: s.hint(max(1, s.cpuCount(ctx)/4)),
	}
}

func (s *EncoderProfileSelector) hint(detected int) int {
	if s.cfg.MaxConcurrentEncodes > 0 {
		return s.cfg.MaxConcurrentEncodes
	}
	return max(1, detected)
}

func logicalCPUs(ctx context.Context) int {
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// CanPassthroughAudio reports whether an audio codec can be copied without
// re-encoding. The match is exact and case-insensitive.
func CanPassthroughAudio(codec string) bool {
	return slices.Contains(passthroughAudioCodecs, strings.ToLower(codec))
}

// CanPassthroughAudio reports whether an audio codec can be copied without
// re-encoding.
func (s *EncoderProfileSelector) CanPassthroughAudio(codec string) bool {
	return CanPassthroughAudio(codec)
}

// CanRemuxVideo reports whether the source video can be copied into MPEG-TS
// segments: only H.264 at the source resolution qualifies.
func (s *EncoderProfileSelector) CanRemuxVideo(codec string, variant Variant) bool {
	return strings.EqualFold(codec, "h264") && variant.IsOriginal()
}
