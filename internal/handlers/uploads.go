package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/ismistube/backend/internal/auth"
	"github.com/ismistube/backend/internal/logging"
	"github.com/ismistube/backend/internal/uploads"
)

// DefaultMaxUploadBytes caps a single upload request at 1 GiB.
const DefaultMaxUploadBytes int64 = 1 << 30

const uploadField = "video"

// UploadHandler accepts multipart video uploads from logged-in users.
type UploadHandler struct {
	Uploads  UploadRegistry
	MaxBytes int64
}

// Upload handles POST /upload. The file part is streamed straight to storage.
func (h UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	identity := auth.IdentityFromContext(ctx)
	if identity == "" {
		respondText(ctx, w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if h.Uploads == nil {
		logger.Error("upload registry unavailable")
		respondText(ctx, w, http.StatusInternalServerError, "Upload failed")
		return
	}

	limit := h.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	if r.ContentLength > limit {
		respondText(ctx, w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	reader, err := r.MultipartReader()
	if err != nil {
		respondText(ctx, w, http.StatusBadRequest, "Expected multipart form data")
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			respondText(ctx, w, http.StatusBadRequest, "No video file provided")
			return
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}

		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		video, err := h.Uploads.Store(ctx, identity, part.FileName(), part)
		_ = part.Close()
		if err != nil {
			h.fail(w, r, err)
			return
		}

		logger.Info("video uploaded", "id", video.ID, "filename", video.Filename)
		respondText(ctx, w, http.StatusOK, "Video uploaded successfully")
		return
	}
}

func (h UploadHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		respondText(ctx, w, http.StatusRequestEntityTooLarge, "File too large")
	case errors.Is(err, uploads.ErrUnauthenticated):
		respondText(ctx, w, http.StatusUnauthorized, "Unauthorized")
	case ctx.Err() != nil:
		logging.FromContext(ctx).Warn("upload aborted by client", "error", err)
	default:
		logging.FromContext(ctx).Error("store upload", "error", err)
		respondText(ctx, w, http.StatusInternalServerError, "Upload failed")
	}
}
