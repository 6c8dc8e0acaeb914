package handlers

import (
	"context"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/streaming"
)

// EncoderHandler exposes the encoder profile chosen at startup.
type EncoderHandler struct {
	svc StreamingService
}

// NewEncoderHandler creates a new encoder handler.
func NewEncoderHandler(svc StreamingService) *EncoderHandler {
	return &EncoderHandler{svc: svc}
}

// Register registers the encoder routes with the API.
func (h *EncoderHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getEncoderProfile",
		Method:      "GET",
		Path:        "/api/v1/encoder",
		Summary:     "Get encoder profile",
		Description: "Returns the frozen encoder profile, admission counters and the output ladder",
		Tags:        []string{"Encoder"},
	}, h.GetProfile)

	huma.Register(api, huma.Operation{
		OperationID: "getAudioPassthrough",
		Method:      "GET",
		Path:        "/api/v1/encoder/passthrough/audio/{codec}",
		Summary:     "Check audio passthrough",
		Description: "Reports whether an audio codec is copied into segments without re-encoding",
		Tags:        []string{"Encoder"},
	}, h.GetAudioPassthrough)
}

// EncoderProfileInput is the input for the encoder profile endpoint.
type EncoderProfileInput struct{}

// EncoderProfileOutput is the output for the encoder profile endpoint.
type EncoderProfileOutput struct {
	Body struct {
		Profile   streaming.EncoderProfile `json:"profile"`
		Admission streaming.AdmissionStats `json:"admission"`
		Variants  []streaming.Variant      `json:"variants"`
	}
}

// GetProfile returns the encoder profile.
func (h *EncoderHandler) GetProfile(_ context.Context, _ *EncoderProfileInput) (*EncoderProfileOutput, error) {
	out := &EncoderProfileOutput{}
	out.Body.Profile = h.svc.Profile()
	out.Body.Admission = h.svc.AdmissionStats()
	out.Body.Variants = streaming.Variants()
	return out, nil
}

// AudioPassthroughInput names the codec to check.
type AudioPassthroughInput struct {
	Codec string `path:"codec" doc:"Audio codec name as reported by ffprobe (aac, ac3, ...)"`
}

// AudioPassthroughOutput is the output for the passthrough check.
type AudioPassthroughOutput struct {
	Body struct {
		Codec       string `json:"codec"`
		Passthrough bool   `json:"passthrough"`
	}
}

// GetAudioPassthrough reports whether a codec is passed through.
func (h *EncoderHandler) GetAudioPassthrough(_ context.Context, input *AudioPassthroughInput) (*AudioPassthroughOutput, error) {
	out := &AudioPassthroughOutput{}
	out.Body.Codec = strings.ToLower(input.Codec)
	out.Body.Passthrough = h.svc.CanPassthroughAudio(input.Codec)
	return out, nil
}
