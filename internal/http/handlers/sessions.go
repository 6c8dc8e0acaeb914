package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/streaming"
)

// StreamingService is the part of the streaming service the HTTP layer uses.
type StreamingService interface {
	StartOrResumeSession(ctx context.Context, mediaID, variant string, start time.Duration) (streaming.SessionInfo, error)
	Session(ctx context.Context, id string) (streaming.SessionInfo, error)
	ListSessions(ctx context.Context) []streaming.SessionInfo
	StopSession(ctx context.Context, id string) error
	GetManifest(ctx context.Context, id string, gen int) ([]byte, error)
	GetSegment(ctx context.Context, id string, gen, seq int) (*streaming.SegmentFile, error)
	RebuildKeyframes(ctx context.Context, mediaID string) ([]int64, error)
	CanPassthroughAudio(codec string) bool
	Profile() streaming.EncoderProfile
	AdmissionStats() streaming.AdmissionStats
	SessionCount() int
}

// SessionHandler handles playback session endpoints.
type SessionHandler struct {
	svc StreamingService
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc StreamingService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startSession",
		Method:      "POST",
		Path:        "/api/v1/sessions",
		Summary:     "Start or resume a session",
		Description: "Returns the live session for the media item and variant, seeking it when the start position moved, or creates one.",
		Tags:        []string{"Sessions"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List sessions",
		Tags:        []string{"Sessions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get session",
		Tags:        []string{"Sessions"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "stopSession",
		Method:        "DELETE",
		Path:          "/api/v1/sessions/{id}",
		Summary:       "Stop session",
		Description:   "Kills the encode, releases its admission slot and removes the session's segments.",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, h.Stop)
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID                    string    `json:"id" doc:"Session ID (UUID)"`
	MediaID               string    `json:"media_id"`
	Variant               string    `json:"variant"`
	Generation            int       `json:"generation" doc:"Encode generation; a seek starts the next one"`
	State                 string    `json:"state" doc:"Worker state: created, starting, running, stopping, terminated, rejected, failed"`
	RequestedStartSeconds float64   `json:"requested_start_seconds"`
	OffsetSeconds         float64   `json:"offset_seconds" doc:"Keyframe the encode actually started from"`
	Segments              int       `json:"segments" doc:"Completed segments"`
	Complete              bool      `json:"complete"`
	Error                 string    `json:"error,omitempty"`
	Encoder               string    `json:"encoder"`
	PID                   int       `json:"pid,omitempty"`
	CPUPercent            float64   `json:"cpu_percent,omitempty"`
	MemoryRSSBytes        uint64    `json:"memory_rss_bytes,omitempty"`
	ManifestURL           string    `json:"manifest_url"`
	CreatedAt             time.Time `json:"created_at"`
	LastAccessedAt        time.Time `json:"last_accessed_at"`
}

// SessionFromInfo converts a session snapshot into a response.
func SessionFromInfo(info streaming.SessionInfo) SessionResponse {
	return SessionResponse{
		ID:                    info.ID,
		MediaID:               info.MediaID,
		Variant:               info.Variant,
		Generation:            info.Generation,
		State:                 string(info.State),
		RequestedStartSeconds: info.RequestedStart.Seconds(),
		OffsetSeconds:         info.Offset.Seconds(),
		Segments:              info.Segments,
		Complete:              info.Complete,
		Error:                 info.Error,
		Encoder:               info.Profile,
		PID:                   info.PID,
		CPUPercent:            info.CPUPercent,
		MemoryRSSBytes:        info.MemoryRSS,
		ManifestURL:           ManifestPath(info.ID, info.Generation),
		CreatedAt:             info.CreatedAt,
		LastAccessedAt:        info.LastAccessedAt,
	}
}

// StartSessionInput is the input for starting or resuming a session.
type StartSessionInput struct {
	Body struct {
		MediaID      string  `json:"media_id" minLength:"1" doc:"Catalog media ID"`
		Variant      string  `json:"variant,omitempty" default:"original" doc:"Ladder rung: 360p, 480p, 720p, 1080p or original"`
		StartSeconds float64 `json:"start_seconds,omitempty" doc:"Requested playback position; negative values start at 0"`
	}
}

// SessionOutput is the output for a single session.
type SessionOutput struct {
	Body SessionResponse
}

// Start starts or resumes a session.
func (h *SessionHandler) Start(ctx context.Context, input *StartSessionInput) (*SessionOutput, error) {
	variant := input.Body.Variant
	if variant == "" {
		variant = streaming.VariantOriginal
	}
	start := time.Duration(input.Body.StartSeconds * float64(time.Second))

	info, err := h.svc.StartOrResumeSession(ctx, input.Body.MediaID, variant, start)
	if err != nil {
		observability.LoggerFromContext(ctx).WarnContext(ctx, "session start failed",
			"media_id", input.Body.MediaID,
			"variant", variant,
			"session_id", info.ID,
			"error", err.Error(),
		)
		return nil, apiError("starting session", err)
	}
	return &SessionOutput{Body: SessionFromInfo(info)}, nil
}

// ListSessionsInput is the input for listing sessions.
type ListSessionsInput struct{}

// ListSessionsOutput is the output for listing sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []SessionResponse `json:"sessions"`
		Count    int               `json:"count"`
	}
}

// List returns every registered session.
func (h *SessionHandler) List(ctx context.Context, _ *ListSessionsInput) (*ListSessionsOutput, error) {
	infos := h.svc.ListSessions(ctx)
	out := &ListSessionsOutput{}
	out.Body.Sessions = make([]SessionResponse, 0, len(infos))
	for _, info := range infos {
		out.Body.Sessions = append(out.Body.Sessions, SessionFromInfo(info))
	}
	out.Body.Count = len(out.Body.Sessions)
	return out, nil
}

// SessionIDInput identifies one session.
type SessionIDInput struct {
	ID string `path:"id" doc:"Session ID (UUID)"`
}

// Get returns one session.
func (h *SessionHandler) Get(ctx context.Context, input *SessionIDInput) (*SessionOutput, error) {
	info, err := h.svc.Session(ctx, input.ID)
	if err != nil {
		return nil, apiError("session not found", err)
	}
	return &SessionOutput{Body: SessionFromInfo(info)}, nil
}

// StopSessionOutput is the empty output for stopping a session.
type StopSessionOutput struct{}

// Stop tears a session down.
func (h *SessionHandler) Stop(ctx context.Context, input *SessionIDInput) (*StopSessionOutput, error) {
	if err := h.svc.StopSession(ctx, input.ID); err != nil {
		return nil, apiError("stopping session", err)
	}
	return &StopSessionOutput{}, nil
}
