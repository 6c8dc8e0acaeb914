package ffmpeg

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// HWAccelType is an ffmpeg hardware acceleration method.
type HWAccelType string

const (
	HWAccelNone         HWAccelType = "none"
	HWAccelCUDA         HWAccelType = "cuda" // NVIDIA NVENC
	HWAccelQSV          HWAccelType = "qsv"  // Intel Quick Sync
	HWAccelVAAPI        HWAccelType = "vaapi"
	HWAccelVideoToolbox HWAccelType = "videotoolbox"
)

// h264Encoders maps each supported accelerator to its H.264 encoder.
var h264Encoders = map[HWAccelType]string{
	HWAccelCUDA:         "h264_nvenc",
	HWAccelQSV:          "h264_qsv",
	HWAccelVAAPI:        "h264_vaapi",
	HWAccelVideoToolbox: "h264_videotoolbox",
}

// configNames maps the names used in ffmpeg.hwaccel_priority to accelerators.
var configNames = map[string]HWAccelType{
	"nvenc":        HWAccelCUDA,
	"cuda":         HWAccelCUDA,
	"qsv":          HWAccelQSV,
	"vaapi":        HWAccelVAAPI,
	"videotoolbox": HWAccelVideoToolbox,
}

// vaapiDevices are the render nodes tried in order for VA-API.
var vaapiDevices = []string{"/dev/dri/renderD128", "/dev/dri/renderD129"}

// HWAccelInfo describes one hardware accelerator and whether it passed a test encode.
type HWAccelInfo struct {
	Type       HWAccelType `json:"type"`
	Available  bool        `json:"available"`
	DeviceName string      `json:"device_name,omitempty"`
	Encoder    string      `json:"encoder,omitempty"`
}

// AccelFromName resolves a configured accelerator name such as "nvenc".
func AccelFromName(name string) (HWAccelType, bool) {
	t, ok := configNames[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// H264Encoder returns the H.264 encoder for the accelerator, or "".
func (t HWAccelType) H264Encoder() string {
	return h264Encoders[t]
}

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// HWAccelDetector detects hardware acceleration usable for H.264 encoding.
type HWAccelDetector struct {
	ffmpegPath string
	goos       string
	run        runFunc
}

// NewHWAccelDetector creates a new hardware acceleration detector.
func NewHWAccelDetector(ffmpegPath string) *HWAccelDetector {
	return &HWAccelDetector{
		ffmpegPath: ffmpegPath,
		goos:       runtime.GOOS,
		run:        execRun,
	}
}

// Detect lists the accelerators ffmpeg was built with and test-encodes a
// short null source on each one vodarr knows how to drive.
func (d *HWAccelDetector) Detect(ctx context.Context) ([]HWAccelInfo, error) {
	output, err := d.run(ctx, d.ffmpegPath, "-hide_banner", "-hwaccels")
	if err != nil {
		return nil, err
	}

	var results []HWAccelInfo
	for _, name := range parseHWAccels(string(output)) {
		accel := HWAccelType(name)
		encoder := accel.H264Encoder()
		if encoder == "" {
			continue
		}
		info := HWAccelInfo{Type: accel, Encoder: encoder}
		info.Available, info.DeviceName = d.testAccel(ctx, accel)
		results = append(results, info)
	}
	return results, nil
}

// parseHWAccels parses the output of ffmpeg -hwaccels.
func parseHWAccels(output string) []string {
	var accels []string
	inList := false
	for line := range strings.Lines(output) {
		line = strings.TrimSpace(line)
		if line == "Hardware acceleration methods:" {
			inList = true
			continue
		}
		if inList && line != "" {
			accels = append(accels, line)
		}
	}
	return accels
}

func (d *HWAccelDetector) testAccel(ctx context.Context, accel HWAccelType) (bool, string) {
	switch accel {
	case HWAccelCUDA:
		return d.testNVIDIA(ctx)
	case HWAccelQSV:
		return d.testEncode(ctx, accel, "Intel Quick Sync", accelArgs(accel, ""))
	case HWAccelVAAPI:
		if d.goos != "linux" {
			return false, ""
		}
		for _, device := range vaapiDevices {
			if ok, _ := d.testEncode(ctx, accel, device, accelArgs(accel, device)); ok {
				return true, device
			}
		}
		return false, ""
	case HWAccelVideoToolbox:
		if d.goos != "darwin" {
			return false, ""
		}
		return d.testEncode(ctx, accel, "Apple VideoToolbox", nil)
	default:
		return false, ""
	}
}

func (d *HWAccelDetector) testNVIDIA(ctx context.Context) (bool, string) {
	output, err := d.run(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	if err != nil {
		return false, ""
	}
	deviceName, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	if deviceName == "" {
		return false, ""
	}
	ok, _ := d.testEncode(ctx, HWAccelCUDA, deviceName, []string{"-hwaccel", "cuda"})
	return ok, deviceName
}

// testEncode runs a 10ms encode of a lavfi null source through the accelerator.
func (d *HWAccelDetector) testEncode(ctx context.Context, accel HWAccelType, device string, pre []string) (bool, string) {
	args := append([]string{"-hide_banner"}, pre...)
	args = append(args, "-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1")
	if filter := uploadFilter(accel, 0); filter != "" {
		args = append(args, "-vf", filter)
	}
	args = append(args, "-c:v", accel.H264Encoder(), "-t", "0.01", "-f", "null", "-")
	if _, err := d.run(ctx, d.ffmpegPath, args...); err != nil {
		return false, ""
	}
	return true, device
}

// accelArgs returns the global arguments that initialise an accelerator's device.
func accelArgs(accel HWAccelType, device string) []string {
	switch accel {
	case HWAccelVAAPI:
		if device == "" {
			device = vaapiDevices[0]
		}
		return []string{"-vaapi_device", device}
	case HWAccelQSV:
		return []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"}
	default:
		return nil
	}
}

// uploadFilter returns the filter chain that scales to height (0 keeps the
// source size) and moves frames onto the accelerator where required.
func uploadFilter(accel HWAccelType, height int) string {
	var parts []string
	if height > 0 {
		parts = append(parts, "scale=-2:"+strconv.Itoa(height))
	}
	switch accel {
	case HWAccelVAAPI:
		parts = append(parts, "format=nv12", "hwupload")
	case HWAccelQSV:
		parts = append(parts, "hwupload=extra_hw_frames=64", "format=qsv")
	}
	return strings.Join(parts, ",")
}

// SelectPreferred returns the first available accelerator in priority order.
// Unknown priority names are skipped.
func SelectPreferred(accels []HWAccelInfo, priority []string) *HWAccelInfo {
	for _, name := range priority {
		want, ok := AccelFromName(name)
		if !ok {
			continue
		}
		for i := range accels {
			if accels[i].Type == want && accels[i].Available {
				return &accels[i]
			}
		}
	}
	return nil
}
