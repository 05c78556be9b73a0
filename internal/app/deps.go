package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ismistube/backend/internal/auth"
	"github.com/ismistube/backend/internal/chat"
	"github.com/ismistube/backend/internal/config"
	"github.com/ismistube/backend/internal/credentials"
	"github.com/ismistube/backend/internal/db"
	"github.com/ismistube/backend/internal/handlers"
	"github.com/ismistube/backend/internal/middleware"
	"github.com/ismistube/backend/internal/repositories"
	"github.com/ismistube/backend/internal/storage"
	"github.com/ismistube/backend/internal/uploads"
)

const sessionSweepInterval = time.Minute

// stores bundles the user and video repositories for the configured backend
// along with whatever is needed to release them.
type stores struct {
	users  repositories.UserRepository
	videos repositories.VideoRepository
	health handlers.Pinger
	closer func(context.Context) error
}

func (s stores) Close(ctx context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer(ctx)
}

// openStores connects the repositories selected by cfg.Store.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	switch cfg.Store {
	case config.StoreFile, "":
		users, err := repositories.NewSnapshotUserRepository(cfg.UsersFile, cfg.SnapshotWait, logger)
		if err != nil {
			return stores{}, fmt.Errorf("open users snapshot: %w", err)
		}
		videos, err := repositories.NewSnapshotVideoRepository(cfg.VideosFile, cfg.SnapshotWait, logger)
		if err != nil {
			_ = users.Close(ctx)
			return stores{}, fmt.Errorf("open videos snapshot: %w", err)
		}
		return stores{
			users:  users,
			videos: videos,
			closer: func(ctx context.Context) error {
				return errors.Join(users.Close(ctx), videos.Close(ctx))
			},
		}, nil

	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return stores{}, err
		}
		return postgresStores(pool), nil

	case config.StoreSQLite:
		store, err := repositories.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return stores{}, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return stores{}, err
		}
		return stores{
			users:  store.Users(),
			videos: store.Videos(),
			closer: func(context.Context) error { return store.Close() },
		}, nil

	default:
		return stores{}, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func postgresStores(pool db.Pool) stores {
	return stores{
		users:  repositories.NewPostgresUserRepository(pool),
		videos: repositories.NewPostgresVideoRepository(pool),
		health: pool,
		closer: func(context.Context) error {
			pool.Close()
			return nil
		},
	}
}

func openAssets(ctx context.Context, cfg config.Config) (storage.AssetStorage, error) {
	switch cfg.Assets {
	case config.AssetsLocal, "":
		return storage.NewLocalStorage(cfg.UploadDir)
	case config.AssetsS3:
		return storage.NewS3Storage(ctx, cfg.ObjectStore)
	default:
		return nil, fmt.Errorf("unknown asset backend %q", cfg.Assets)
	}
}

// services holds everything serve needs beyond the router: background loops
// to start and resources to release on shutdown.
type services struct {
	deps     handlers.Dependencies
	sessions *auth.Manager
	hub      *chat.Hub
	stores   stores
	logger   *slog.Logger
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (*services, error) {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	assets, err := openAssets(ctx, cfg)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}

	sessions := auth.NewManager(cfg.SessionTTL, auth.NewInMemorySessionStore())
	hub := chat.NewHub(logger, cfg.CORSOrigins)

	deps := handlers.Dependencies{
		Logger:      logger,
		Credentials: credentials.NewStore(st.users, cfg.BcryptCost),
		Sessions:    sessions,
		Uploads:     uploads.NewRegistry(st.videos, assets),
		Assets:      assets.Handler(),
		Chat:        http.HandlerFunc(hub.ServeWS),
		Health:      st.health,

		Cookie:         middleware.SessionCookie{Name: cfg.CookieName, Secure: cfg.CookieSecure},
		AuthLimiter:    middleware.NewIPRateLimiter(cfg.AuthRateRequests, cfg.AuthRateWindow, cfg.AuthRateBurst, 0),
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
	}

	return &services{
		deps:     deps,
		sessions: sessions,
		hub:      hub,
		stores:   st,
		logger:   logger,
	}, nil
}

// start launches the chat hub and the session sweeper. Both stop when ctx is
// cancelled.
func (s *services) start(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.sessions.RunSweeper(ctx, sessionSweepInterval, func(removed int, err error) {
		if err != nil {
			s.logger.Error("sweep sessions", "error", err)
			return
		}
		if removed > 0 {
			s.logger.Debug("expired sessions removed", "count", removed)
		}
	})
}

// close stops the hub and flushes the stores.
func (s *services) close(ctx context.Context) error {
	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	hubErr := s.hub.Shutdown(timeout)
	if hubErr != nil {
		hubErr = fmt.Errorf("shutdown chat: %w", hubErr)
	}
	return errors.Join(hubErr, s.stores.Close(ctx))
}
