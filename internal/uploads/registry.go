// Package uploads records uploaded videos and the files behind them.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ismistube/backend/internal/logging"
	"github.com/ismistube/backend/internal/models"
	"github.com/ismistube/backend/internal/repositories"
	"github.com/ismistube/backend/internal/storage"
)

const (
	maxExtLen = 16
	// maxNameAttempts bounds how many stamps Store tries when the storage
	// already holds a file with the generated name.
	maxNameAttempts = 8
)

var (
	// ErrUnauthenticated indicates an append without a session identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidFile indicates a missing or empty file descriptor.
	ErrInvalidFile = errors.New("invalid file")
)

// FileDescriptor names a file already written by the storage layer.
type FileDescriptor struct {
	Filename string
}

// Registry appends video records on behalf of authenticated users.
type Registry struct {
	videos repositories.VideoRepository
	assets storage.AssetStorage
	now    func() time.Time

	stampMu   sync.Mutex
	lastStamp int64
}

// NewRegistry wires the registry to its record and file stores.
func NewRegistry(videos repositories.VideoRepository, assets storage.AssetStorage) *Registry {
	if videos == nil {
		panic("uploads: video repository must not be nil")
	}
	return &Registry{videos: videos, assets: assets, now: time.Now}
}

// WithNowFunc overrides the clock used for generated file names.
func (r *Registry) WithNowFunc(now func() time.Time) {
	r.now = now
}

// Append records file as owned by identity.
func (r *Registry) Append(ctx context.Context, identity string, file FileDescriptor) (models.Video, error) {
	if identity == "" {
		return models.Video{}, ErrUnauthenticated
	}
	if file.Filename == "" {
		return models.Video{}, ErrInvalidFile
	}

	ctx, span := logging.StartSpan(ctx, "uploads.append")
	defer span.End()

	video, err := r.videos.Append(ctx, models.Video{Filename: file.Filename, Owner: identity})
	if err != nil {
		return models.Video{}, fmt.Errorf("append video: %w", err)
	}
	logging.FromContext(ctx).Info("video recorded", "id", video.ID, "filename", video.Filename, "owner", video.Owner)
	return video, nil
}

// List returns every record in insertion order.
func (r *Registry) List(ctx context.Context) ([]models.Video, error) {
	videos, err := r.videos.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return videos, nil
}

// Store writes content under a generated name and appends the record. The
// identity is checked before any byte is written.
func (r *Registry) Store(ctx context.Context, identity, originalName string, content io.Reader) (models.Video, error) {
	if identity == "" {
		return models.Video{}, ErrUnauthenticated
	}
	if r.assets == nil {
		return models.Video{}, errors.New("uploads: asset storage not configured")
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := stampName(r.nextStamp(), originalName)
		_, err := r.assets.Save(ctx, name, content)
		if errors.Is(err, storage.ErrExists) {
			logging.FromContext(ctx).Warn("generated filename taken, retrying", "filename", name)
			continue
		}
		if err != nil {
			return models.Video{}, fmt.Errorf("save file: %w", err)
		}
		return r.Append(ctx, identity, FileDescriptor{Filename: name})
	}
	return models.Video{}, fmt.Errorf("save file: no free name after %d attempts: %w", maxNameAttempts, storage.ErrExists)
}

// nextStamp returns the current unix millis, bumped past the last stamp
// handed out so two uploads in the same millisecond get different names.
func (r *Registry) nextStamp() int64 {
	r.stampMu.Lock()
	defer r.stampMu.Unlock()

	stamp := r.now().UnixMilli()
	if stamp <= r.lastStamp {
		stamp = r.lastStamp + 1
	}
	r.lastStamp = stamp
	return stamp
}

// Filename builds "<unix millis><ext>" from the client-supplied name. The
// extension is lowercased and dropped unless it is short and alphanumeric.
func Filename(now time.Time, original string) string {
	return stampName(now.UnixMilli(), original)
}

func stampName(stamp int64, original string) string {
	name := strconv.FormatInt(stamp, 10)
	ext := strings.ToLower(filepath.Ext(filepath.Base(strings.ReplaceAll(original, `\`, "/"))))
	if !validExt(ext) {
		return name
	}
	return name + ext
}

func validExt(ext string) bool {
	if len(ext) < 2 || len(ext) > maxExtLen {
		return false
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
