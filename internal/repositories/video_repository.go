package repositories

import (
	"context"

	"github.com/ismistube/backend/internal/models"
)

// VideoRepository exposes data access for uploaded videos. Append assigns the
// record's ID as the current collection size plus one and returns the stored
// record; List returns records in insertion order.
type VideoRepository interface {
	Append(ctx context.Context, video models.Video) (models.Video, error)
	List(ctx context.Context) ([]models.Video, error)
}
