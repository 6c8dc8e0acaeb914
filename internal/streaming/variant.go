package streaming

import (
	"fmt"
	"strings"
)

// VariantOriginal keeps the source resolution.
const VariantOriginal = "original"

// Variant is one rung of the output ladder. Bitrates are in kbps; a zero
// Height keeps the source resolution.
type Variant struct {
	Name         string `json:"name"`
	Height       int    `json:"height"`
	VideoBitrate int    `json:"video_bitrate_kbps"`
	AudioBitrate int    `json:"audio_bitrate_kbps"`
}

var ladder = []Variant{
	{Name: "360p", Height: 360, VideoBitrate: 800, AudioBitrate: 96},
	{Name: "480p", Height: 480, VideoBitrate: 1400, AudioBitrate: 128},
	{Name: "720p", Height: 720, VideoBitrate: 2800, AudioBitrate: 128},
	{Name: "1080p", Height: 1080, VideoBitrate: 5000, AudioBitrate: 192},
	{Name: VariantOriginal, Height: 0, VideoBitrate: 8000, AudioBitrate: 192},
}

// Variants returns the built-in ladder, lowest first.
func Variants() []Variant {
	out := make([]Variant, len(ladder))
	copy(out, ladder)
	return out
}

// LookupVariant returns the ladder entry with the given name, ignoring case.
func LookupVariant(name string) (Variant, error) {
	for _, v := range ladder {
		if strings.EqualFold(v.Name, strings.TrimSpace(name)) {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("%w: variant %q", ErrNotFound, name)
}

// IsOriginal reports whether the variant keeps the source resolution.
func (v Variant) IsOriginal() bool {
	return v.Height == 0
}
