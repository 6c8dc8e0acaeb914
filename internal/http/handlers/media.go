package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/streaming"
)

// KeyframeRebuilder forces a keyframe index rebuild.
type KeyframeRebuilder interface {
	RebuildKeyframes(ctx context.Context, mediaID string) ([]int64, error)
}

// MediaHandler manages the media catalog.
type MediaHandler struct {
	items     repository.MediaItemRepository
	keyframes repository.KeyframeRepository
	rebuilder KeyframeRebuilder
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(items repository.MediaItemRepository, keyframes repository.KeyframeRepository, rebuilder KeyframeRebuilder) *MediaHandler {
	return &MediaHandler{items: items, keyframes: keyframes, rebuilder: rebuilder}
}

// Register registers the media routes with the API.
func (h *MediaHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createMedia",
		Method:        "POST",
		Path:          "/api/v1/media",
		Summary:       "Add media item",
		Description:   "Adds a file to the catalog. Codecs are probed on first playback.",
		Tags:          []string{"Media"},
		DefaultStatus: http.StatusCreated,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listMedia",
		Method:      "GET",
		Path:        "/api/v1/media",
		Summary:     "List media items",
		Tags:        []string{"Media"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getMedia",
		Method:      "GET",
		Path:        "/api/v1/media/{id}",
		Summary:     "Get media item",
		Tags:        []string{"Media"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteMedia",
		Method:        "DELETE",
		Path:          "/api/v1/media/{id}",
		Summary:       "Delete media item",
		Description:   "Removes the item and its keyframe index. Live sessions keep playing until they stop.",
		Tags:          []string{"Media"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "rebuildKeyframes",
		Method:      "POST",
		Path:        "/api/v1/media/{id}/keyframes",
		Summary:     "Rebuild keyframe index",
		Description: "Probes the file for keyframes and replaces the stored index",
		Tags:        []string{"Media"},
	}, h.RebuildKeyframes)
}

// MediaResponse represents a media item in API responses.
type MediaResponse struct {
	ID               models.ULID `json:"id" doc:"Row ID (ULID)"`
	MediaID          string      `json:"media_id"`
	Path             string      `json:"path"`
	VideoCodec       string      `json:"video_codec,omitempty"`
	AudioCodec       string      `json:"audio_codec,omitempty"`
	Container        string      `json:"container,omitempty"`
	DurationSeconds  float64     `json:"duration_seconds,omitempty"`
	ProbedAt         *time.Time  `json:"probed_at,omitempty"`
	KeyframesIndexed bool        `json:"keyframes_indexed"`
	CreatedAt        time.Time   `json:"created_at"`
}

// MediaFromModel converts a model to a response.
func MediaFromModel(item *models.MediaItem, indexed bool) MediaResponse {
	return MediaResponse{
		ID:               item.ID,
		MediaID:          item.MediaID,
		Path:             item.Path,
		VideoCodec:       item.VideoCodec,
		AudioCodec:       item.AudioCodec,
		Container:        item.Container,
		DurationSeconds:  float64(item.DurationMs) / 1000,
		ProbedAt:         item.ProbedAt,
		KeyframesIndexed: indexed,
		CreatedAt:        item.CreatedAt,
	}
}

// CreateMediaInput is the input for adding a media item.
type CreateMediaInput struct {
	Body struct {
		MediaID string `json:"media_id" minLength:"1" maxLength:"255" doc:"External ID clients request playback with"`
		Path    string `json:"path" minLength:"1" doc:"Absolute path of the file"`
	}
}

// MediaOutput is the output for a single media item.
type MediaOutput struct {
	Body MediaResponse
}

// Create adds a media item.
func (h *MediaHandler) Create(ctx context.Context, input *CreateMediaInput) (*MediaOutput, error) {
	existing, err := h.items.GetByMediaID(ctx, input.Body.MediaID)
	if err != nil {
		return nil, huma.Error500InternalServerError("looking up media item", err)
	}
	if existing != nil {
		return nil, huma.Error409Conflict(fmt.Sprintf("media %q already exists", input.Body.MediaID))
	}

	item := &models.MediaItem{MediaID: input.Body.MediaID, Path: input.Body.Path}
	if err := h.items.Create(ctx, item); err != nil {
		return nil, apiError("creating media item", err)
	}
	return &MediaOutput{Body: MediaFromModel(item, false)}, nil
}

// ListMediaInput is the input for listing media items.
type ListMediaInput struct{}

// ListMediaOutput is the output for listing media items.
type ListMediaOutput struct {
	Body struct {
		Items []MediaResponse `json:"items"`
		Count int             `json:"count"`
	}
}

// List returns every media item.
func (h *MediaHandler) List(ctx context.Context, _ *ListMediaInput) (*ListMediaOutput, error) {
	items, err := h.items.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing media items", err)
	}

	out := &ListMediaOutput{}
	out.Body.Items = make([]MediaResponse, 0, len(items))
	for _, item := range items {
		indexed, err := h.keyframes.Exists(ctx, item.MediaID)
		if err != nil {
			return nil, huma.Error500InternalServerError("checking keyframe index", err)
		}
		out.Body.Items = append(out.Body.Items, MediaFromModel(item, indexed))
	}
	out.Body.Count = len(out.Body.Items)
	return out, nil
}

// MediaIDInput identifies one media item.
type MediaIDInput struct {
	ID string `path:"id" doc:"Media ID"`
}

// Get returns one media item.
func (h *MediaHandler) Get(ctx context.Context, input *MediaIDInput) (*MediaOutput, error) {
	item, err := h.items.GetByMediaID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("looking up media item", err)
	}
	if item == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("media %q not found", input.ID))
	}
	indexed, err := h.keyframes.Exists(ctx, item.MediaID)
	if err != nil {
		return nil, huma.Error500InternalServerError("checking keyframe index", err)
	}
	return &MediaOutput{Body: MediaFromModel(item, indexed)}, nil
}

// DeleteMediaOutput is the empty output for deleting a media item.
type DeleteMediaOutput struct{}

// Delete removes a media item and its keyframe index.
func (h *MediaHandler) Delete(ctx context.Context, input *MediaIDInput) (*DeleteMediaOutput, error) {
	deleted, err := h.items.DeleteByMediaID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("deleting media item", err)
	}
	if !deleted {
		return nil, huma.Error404NotFound(fmt.Sprintf("media %q not found", input.ID))
	}
	if err := h.keyframes.Delete(ctx, input.ID); err != nil {
		return nil, huma.Error500InternalServerError("deleting keyframe index", err)
	}
	return &DeleteMediaOutput{}, nil
}

// RebuildKeyframesOutput reports the rebuilt index.
type RebuildKeyframesOutput struct {
	Body struct {
		MediaID   string  `json:"media_id"`
		Keyframes int     `json:"keyframes"`
		First     float64 `json:"first_seconds"`
		Last      float64 `json:"last_seconds"`
	}
}

// RebuildKeyframes forces a keyframe index rebuild.
func (h *MediaHandler) RebuildKeyframes(ctx context.Context, input *MediaIDInput) (*RebuildKeyframesOutput, error) {
	timestamps, err := h.rebuilder.RebuildKeyframes(ctx, input.ID)
	if err != nil {
		return nil, apiError("rebuilding keyframe index", err)
	}

	out := &RebuildKeyframesOutput{}
	out.Body.MediaID = input.ID
	out.Body.Keyframes = len(timestamps)
	if n := len(timestamps); n > 0 {
		out.Body.First = float64(timestamps[0]) / 1000
		out.Body.Last = float64(timestamps[n-1]) / 1000
	}
	return out, nil
}

var _ KeyframeRebuilder = (*streaming.Service)(nil)
