package handlers

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hlsvault/hlsvault/internal/hls"
	"github.com/hlsvault/hlsvault/internal/models"
	"github.com/hlsvault/hlsvault/internal/stream"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/MP2T"
	subtitleContentType = "text/vtt"
)

// HLSHandler serves playlists, segments, and subtitles.
type HLSHandler struct {
	source  *stream.Source
	baseURL string
	logger  *slog.Logger
}

// NewHLSHandler creates a new HLS delivery handler. baseURL selects
// absolute playlist URIs; pass "" for relative ones.
func NewHLSHandler(source *stream.Source, baseURL string, logger *slog.Logger) *HLSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HLSHandler{source: source, baseURL: baseURL, logger: logger}
}

// Register registers the HLS routes with the router. These are raw chi
// routes; playlist and segment delivery bypass the JSON API layer.
func (h *HLSHandler) Register(router chi.Router) {
	router.Get("/hls/{videoID}/master.m3u8", h.MasterPlaylist)
	router.Get("/hls/{videoID}/subtitles/{language}", h.Subtitle)
	router.Get("/hls/{videoID}/{track}/playlist.m3u8", h.MediaPlaylist)
	router.Get("/hls/{videoID}/{track}/{segment}", h.Segment)
}

// knownTrack rejects track names other than the single published rendition.
func knownTrack(r *http.Request) error {
	if track := chi.URLParam(r, "track"); track != hls.TrackName {
		return models.E(models.KindNotFound, "unknown track %q", track)
	}
	return nil
}

// videoBase returns the absolute URI prefix for one video, or "" in
// relative mode.
func (h *HLSHandler) videoBase(videoID string) string {
	if h.baseURL == "" {
		return ""
	}
	return h.baseURL + "/hls/" + videoID
}

// MasterPlaylist serves the master playlist.
func (h *HLSHandler) MasterPlaylist(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	playlist, err := h.source.MasterPlaylist(r.Context(), videoID, h.videoBase(videoID))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.Write([]byte(playlist))
}

// MediaPlaylist serves the variant's segment playlist.
func (h *HLSHandler) MediaPlaylist(w http.ResponseWriter, r *http.Request) {
	if err := knownTrack(r); err != nil {
		writeError(w, err)
		return
	}
	videoID := chi.URLParam(r, "videoID")
	base := h.videoBase(videoID)
	if base != "" {
		base += "/" + hls.TrackName
	}
	playlist, err := h.source.MediaPlaylist(r.Context(), videoID, base)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.Write([]byte(playlist))
}

// Segment serves one segment's bytes. The whole segment is in memory once
// the cache or the platform yields it, so Range requests come along free
// via ServeContent.
func (h *HLSHandler) Segment(w http.ResponseWriter, r *http.Request) {
	if err := knownTrack(r); err != nil {
		writeError(w, err)
		return
	}
	videoID := chi.URLParam(r, "videoID")
	name := chi.URLParam(r, "segment")

	ordinal, err := parseSegmentName(name)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := h.source.SegmentData(r.Context(), videoID, ordinal)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

// Subtitle serves a subtitle track as WebVTT.
func (h *HLSHandler) Subtitle(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	language := chi.URLParam(r, "language")

	_, data, err := h.source.SubtitleTrack(r.Context(), videoID, language)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", subtitleContentType)
	w.Write(data)
}

// parseSegmentName extracts the ordinal from a segment filename.
func parseSegmentName(name string) (int, error) {
	var ordinal int
	if _, err := fmt.Sscanf(name, "segment_%05d.ts", &ordinal); err != nil || models.SegmentFilename(ordinal) != name {
		return 0, models.E(models.KindNotFound, "unknown segment %q", name)
	}
	return ordinal, nil
}
