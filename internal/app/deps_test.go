package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ismistube/backend/internal/config"
	"github.com/ismistube/backend/internal/handlers"
)

type fakePool struct {
	pingErr error
	closed  bool
}

func (*fakePool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePool) Ping(context.Context) error { return p.pingErr }

func (p *fakePool) Close() { p.closed = true }

func testConfig(t *testing.T, store string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Store:          store,
		UsersFile:      filepath.Join(dir, "users.json"),
		VideosFile:     filepath.Join(dir, "videos.json"),
		SnapshotWait:   time.Second,
		SQLitePath:     filepath.Join(dir, "ismistube.db"),
		Assets:         config.AssetsLocal,
		UploadDir:      filepath.Join(dir, "uploads"),
		MaxUploadBytes: 1 << 20,
		SessionTTL:     time.Hour,
		CookieName:     "ismistube.sid",
		BcryptCost:     4,

		AuthRateRequests: 10,
		AuthRateWindow:   time.Minute,
		AuthRateBurst:    5,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildDependencies(t *testing.T) {
	for _, store := range []string{config.StoreFile, config.StoreSQLite} {
		t.Run(store, func(t *testing.T) {
			ctx := context.Background()
			svc, err := buildDependencies(ctx, testConfig(t, store), discardLogger())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			svc.start(runCtx)

			deps := svc.deps
			if deps.Credentials == nil {
				t.Fatal("expected credential store to be configured")
			}
			if deps.Sessions == nil {
				t.Fatal("expected session manager to be configured")
			}
			if deps.Uploads == nil {
				t.Fatal("expected upload registry to be configured")
			}
			if deps.Assets == nil || deps.Chat == nil {
				t.Fatal("expected asset and chat handlers to be configured")
			}
			if deps.AuthLimiter == nil {
				t.Fatal("expected auth rate limiter to be configured")
			}

			rec := httptest.NewRecorder()
			handlers.NewRouter(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/videos", nil))
			if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
				t.Fatalf("unexpected /videos response %d %q", rec.Code, rec.Body.String())
			}

			closeCtx, closeCancel := context.WithTimeout(ctx, time.Second)
			defer closeCancel()
			if err := svc.close(closeCtx); err != nil {
				t.Fatalf("close: %v", err)
			}
		})
	}
}

func TestBuildDependenciesRejectsUnknownBackends(t *testing.T) {
	cfg := testConfig(t, "cassandra")
	if _, err := buildDependencies(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected error for unknown store")
	}

	cfg = testConfig(t, config.StoreFile)
	cfg.Assets = "ftp"
	if _, err := buildDependencies(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected error for unknown asset backend")
	}
}

func TestPostgresStoresUsesPoolForHealth(t *testing.T) {
	pool := &fakePool{pingErr: errors.New("down")}
	st := postgresStores(pool)

	if st.users == nil || st.videos == nil {
		t.Fatal("expected repositories to be configured")
	}
	if err := st.health.Ping(context.Background()); err == nil {
		t.Fatal("expected health check to use the pool")
	}
	if err := st.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !pool.closed {
		t.Fatal("expected pool to be closed")
	}
}
