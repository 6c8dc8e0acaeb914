package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/streaming"
)

const (
	contentTypeManifest = "application/vnd.apple.mpegurl"
	contentTypeSegment  = "video/mp2t"
)

// ManifestPath returns the playlist URL path of one generation of a session.
// A seek starts a new generation, so segment URLs never change content.
func ManifestPath(sessionID string, generation int) string {
	return "/stream/" + sessionID + "/" + strconv.Itoa(generation) + "/index.m3u8"
}

// StreamHandler serves HLS playlists and segments.
type StreamHandler struct {
	svc StreamingService
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc StreamingService) *StreamHandler {
	return &StreamHandler{svc: svc}
}

// RegisterChiRoutes registers the streaming routes as raw Chi handlers.
// Segments are files served with http.ServeContent so Range requests work.
func (h *StreamHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/stream/{sessionId}/index.m3u8", h.handleCurrentManifest)
	router.Get("/stream/{sessionId}/{gen:[0-9]+}/index.m3u8", h.handleManifest)
	router.Get("/stream/{sessionId}/{gen:[0-9]+}/{seq:[0-9]+}.ts", h.handleSegment)
}

// handleCurrentManifest redirects to the playlist of the session's current generation.
func (h *StreamHandler) handleCurrentManifest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")

	info, err := h.svc.Session(r.Context(), id)
	if err == nil && info.Generation == 0 {
		err = streaming.ErrNotFound
	}
	if err != nil {
		h.logFailure(r, "resolving manifest failed", id, err)
		writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.Redirect(w, r, ManifestPath(id, info.Generation), http.StatusFound)
}

func (h *StreamHandler) handleManifest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	gen, err := strconv.Atoi(chi.URLParam(r, "gen"))
	if err != nil {
		writeError(w, streaming.ErrNotFound)
		return
	}

	body, err := h.svc.GetManifest(r.Context(), id, gen)
	if err != nil {
		h.logFailure(r, "serving manifest failed", id, err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeManifest)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *StreamHandler) handleSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	gen, genErr := strconv.Atoi(chi.URLParam(r, "gen"))
	seq, seqErr := strconv.Atoi(chi.URLParam(r, "seq"))
	if genErr != nil || seqErr != nil {
		writeError(w, streaming.ErrNotFound)
		return
	}

	seg, err := h.svc.GetSegment(r.Context(), id, gen, seq)
	if err != nil {
		h.logFailure(r, "serving segment failed", id, err)
		writeError(w, err)
		return
	}

	f, err := os.Open(seg.Path)
	if err != nil {
		// The session was torn down between lookup and open.
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, streaming.ErrNotFound)
			return
		}
		h.logFailure(r, "opening segment failed", id, err)
		writeError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeSegment)
	w.Header().Set("Cache-Control", "max-age=3600")
	http.ServeContent(w, r, "", time.Time{}, f)
}

func (h *StreamHandler) logFailure(r *http.Request, msg, sessionID string, err error) {
	if errors.Is(err, streaming.ErrNotFound) || errors.Is(err, context.Canceled) {
		return
	}
	observability.LoggerFromContext(r.Context()).WarnContext(r.Context(), msg,
		"session_id", sessionID,
		"error", err.Error(),
	)
}
