package handlers

import (
	"net/http"

	"github.com/ismistube/backend/internal/logging"
	"github.com/ismistube/backend/internal/models"
)

// VideoHandler lists uploaded videos. The feed is public.
type VideoHandler struct {
	Uploads UploadRegistry
}

// List handles GET /videos.
func (h VideoHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.Uploads == nil {
		logging.FromContext(ctx).Error("upload registry unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, errorBody("Failed to load videos"))
		return
	}

	videos, err := h.Uploads.List(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("list videos", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, errorBody("Failed to load videos"))
		return
	}
	if videos == nil {
		videos = []models.Video{}
	}

	respondJSON(ctx, w, http.StatusOK, videos)
}
