package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ismistube/backend/internal/logging"
	"github.com/ismistube/backend/internal/models"
	"github.com/ismistube/backend/internal/snapshot"
)

// SnapshotUserRepository keeps users in memory and mirrors the full collection
// to a pretty-printed JSON file after every insert.
type SnapshotUserRepository struct {
	mu      sync.RWMutex
	users   []models.User
	writer  *snapshot.Writer[models.User]
	timeout time.Duration
}

// NewSnapshotUserRepository loads the snapshot at path once and returns a
// repository owning the resulting collection.
func NewSnapshotUserRepository(path string, timeout time.Duration, logger *slog.Logger) (*SnapshotUserRepository, error) {
	file := snapshot.NewFile[models.User](path, snapshot.Pretty)
	users, err := file.Load()
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return &SnapshotUserRepository{
		users:   users,
		writer:  snapshot.NewWriter[models.User](file, 0, logger),
		timeout: timeout,
	}, nil
}

// Create appends a user. ErrConflict is returned for duplicate usernames.
// Once the snapshot write is queued the user is kept, even if the write
// outlives the timeout.
func (r *SnapshotUserRepository) Create(ctx context.Context, user models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Username == user.Username {
			return ErrConflict
		}
	}

	next := make([]models.User, len(r.users), len(r.users)+1)
	copy(next, r.users)
	next = append(next, user)

	if err := flush(ctx, r.writer, next, r.timeout, "users"); err != nil && !errors.Is(err, snapshot.ErrWritePending) {
		return err
	}
	r.users = next
	return nil
}

// FindByUsername scans the collection for username.
func (r *SnapshotUserRepository) FindByUsername(_ context.Context, username string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}

// List returns a copy of all users in registration order.
func (r *SnapshotUserRepository) List(_ context.Context) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.User, len(r.users))
	copy(out, r.users)
	return out, nil
}

// Close writes a final snapshot and stops the background writer.
func (r *SnapshotUserRepository) Close(ctx context.Context) error {
	r.mu.RLock()
	final := r.users
	r.mu.RUnlock()

	if err := r.writer.Write(ctx, final); err != nil {
		_ = r.writer.Shutdown(ctx)
		return fmt.Errorf("final users flush: %w", err)
	}
	return r.writer.Shutdown(ctx)
}

// SnapshotVideoRepository keeps video records in memory and mirrors the full
// collection to a compact JSON file after every append.
type SnapshotVideoRepository struct {
	mu      sync.RWMutex
	videos  []models.Video
	writer  *snapshot.Writer[models.Video]
	timeout time.Duration
}

// NewSnapshotVideoRepository loads the snapshot at path once and returns a
// repository owning the resulting collection.
func NewSnapshotVideoRepository(path string, timeout time.Duration, logger *slog.Logger) (*SnapshotVideoRepository, error) {
	file := snapshot.NewFile[models.Video](path, snapshot.Compact)
	videos, err := file.Load()
	if err != nil {
		return nil, fmt.Errorf("load videos: %w", err)
	}
	return &SnapshotVideoRepository{
		videos:  videos,
		writer:  snapshot.NewWriter[models.Video](file, 0, logger),
		timeout: timeout,
	}, nil
}

// Append assigns the next sequential ID and stores the record.
func (r *SnapshotVideoRepository) Append(ctx context.Context, video models.Video) (models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	video.ID = len(r.videos) + 1

	next := make([]models.Video, len(r.videos), len(r.videos)+1)
	copy(next, r.videos)
	next = append(next, video)

	if err := flush(ctx, r.writer, next, r.timeout, "videos"); err != nil && !errors.Is(err, snapshot.ErrWritePending) {
		return models.Video{}, err
	}
	r.videos = next
	return video, nil
}

// List returns a copy of all videos in insertion order.
func (r *SnapshotVideoRepository) List(_ context.Context) ([]models.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Video, len(r.videos))
	copy(out, r.videos)
	return out, nil
}

// Close writes a final snapshot and stops the background writer.
func (r *SnapshotVideoRepository) Close(ctx context.Context) error {
	r.mu.RLock()
	final := r.videos
	r.mu.RUnlock()

	if err := r.writer.Write(ctx, final); err != nil {
		_ = r.writer.Shutdown(ctx)
		return fmt.Errorf("final videos flush: %w", err)
	}
	return r.writer.Shutdown(ctx)
}

func flush[T any](ctx context.Context, writer *snapshot.Writer[T], items []T, timeout time.Duration, name string) error {
	ctx, span := logging.StartSpan(ctx, "snapshot."+name)
	defer span.End()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := writer.Write(ctx, items)
	if err == nil {
		return nil
	}
	if errors.Is(err, snapshot.ErrWritePending) {
		logging.FromContext(ctx).Warn("snapshot write outlived timeout", "collection", name, "items", len(items))
	}
	return fmt.Errorf("write %s snapshot: %w", name, err)
}

var _ UserRepository = (*SnapshotUserRepository)(nil)
var _ VideoRepository = (*SnapshotVideoRepository)(nil)
