package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hlsvault/hlsvault/internal/models"
	"github.com/hlsvault/hlsvault/internal/repository"
)

// VideoAdmin is the coordinator surface the video handler needs.
type VideoAdmin interface {
	Delete(ctx context.Context, videoID string) error
}

// VideoHandler handles the video catalog endpoints.
type VideoHandler struct {
	videos    repository.VideoRepository
	subtitles repository.SubtitleRepository
	admin     VideoAdmin
	logger    *slog.Logger
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(videos repository.VideoRepository, subtitles repository.SubtitleRepository, admin VideoAdmin, logger *slog.Logger) *VideoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoHandler{videos: videos, subtitles: subtitles, admin: admin, logger: logger}
}

// Register registers the video routes with the API.
func (h *VideoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listVideos",
		Method:      "GET",
		Path:        "/api/videos",
		Summary:     "List videos",
		Description: "Returns a paginated list of stored videos, newest first",
		Tags:        []string{"Videos"},
	}, h.ListVideos)

	huma.Register(api, huma.Operation{
		OperationID: "getVideo",
		Method:      "GET",
		Path:        "/api/videos/{id}",
		Summary:     "Get video by ID",
		Tags:        []string{"Videos"},
	}, h.GetVideo)

	huma.Register(api, huma.Operation{
		OperationID: "deleteVideo",
		Method:      "DELETE",
		Path:        "/api/videos/{id}",
		Summary:     "Delete a video",
		Description: "Removes the video's metadata immediately; platform blobs are deleted best-effort in the background",
		Tags:        []string{"Videos"},
	}, h.DeleteVideo)
}

// ListVideosInput is the input for listing videos.
type ListVideosInput struct {
	Page  int `query:"page" default:"1" minimum:"1"`
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
}

// ListVideosOutput is the output for listing videos.
type ListVideosOutput struct {
	Body struct {
		Items      []*models.Video `json:"items"`
		Total      int64           `json:"total"`
		Page       int             `json:"page"`
		PerPage    int             `json:"per_page"`
		TotalPages int             `json:"total_pages"`
	}
}

// ListVideos returns a paginated list of videos.
func (h *VideoHandler) ListVideos(ctx context.Context, input *ListVideosInput) (*ListVideosOutput, error) {
	offset := (input.Page - 1) * input.Limit
	videos, total, err := h.videos.List(ctx, offset, input.Limit)
	if err != nil {
		return nil, apiError(err)
	}

	resp := &ListVideosOutput{}
	resp.Body.Items = videos
	resp.Body.Total = total
	resp.Body.Page = input.Page
	resp.Body.PerPage = input.Limit
	resp.Body.TotalPages = int((total + int64(input.Limit) - 1) / int64(input.Limit))
	return resp, nil
}

// GetVideoInput is the input for fetching one video.
type GetVideoInput struct {
	ID string `path:"id" maxLength:"255"`
}

// GetVideoOutput is the output for fetching one video.
type GetVideoOutput struct {
	Body struct {
		Video     *models.Video           `json:"video"`
		Subtitles []*models.SubtitleTrack `json:"subtitles,omitempty"`
	}
}

// GetVideo returns one video with its subtitle tracks.
func (h *VideoHandler) GetVideo(ctx context.Context, input *GetVideoInput) (*GetVideoOutput, error) {
	video, err := h.videos.GetByID(ctx, input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	if video == nil {
		return nil, huma.Error404NotFound("video " + input.ID + " not found")
	}
	tracks, err := h.subtitles.ListByVideo(ctx, input.ID)
	if err != nil {
		return nil, apiError(err)
	}

	resp := &GetVideoOutput{}
	resp.Body.Video = video
	resp.Body.Subtitles = tracks
	return resp, nil
}

// DeleteVideoInput is the input for deleting a video.
type DeleteVideoInput struct {
	ID string `path:"id" maxLength:"255"`
}

// DeleteVideoOutput is the output for deleting a video.
type DeleteVideoOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// DeleteVideo removes a video. An unknown id is a 404, so a double
// delete reports the second call found nothing to remove.
func (h *VideoHandler) DeleteVideo(ctx context.Context, input *DeleteVideoInput) (*DeleteVideoOutput, error) {
	if err := h.admin.Delete(ctx, input.ID); err != nil {
		return nil, apiError(err)
	}
	resp := &DeleteVideoOutput{}
	resp.Body.Deleted = true
	return resp, nil
}
