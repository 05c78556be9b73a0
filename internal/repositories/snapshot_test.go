package repositories

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/ismistube/backend/internal/models"
)

func TestSnapshotUserRepositoryPersistsPretty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	ctx := context.Background()

	repo, err := NewSnapshotUserRepository(path, time.Second, nil)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}

	if err := repo.Create(ctx, models.User{Username: "alice", Password: "$2a$10$hash"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, models.User{Username: "alice", Password: "other"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict got %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if !strings.Contains(string(data), "\n  {\n    \"username\": \"alice\"") {
		t.Fatalf("expected pretty printed snapshot got %s", data)
	}

	if err := repo.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewSnapshotUserRepository(path, time.Second, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer func() { _ = reloaded.Close(ctx) }()

	user, err := reloaded.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("find after reload: %v", err)
	}
	if user.Password != "$2a$10$hash" {
		t.Fatalf("unexpected user %+v", user)
	}
	if _, err := reloaded.FindByUsername(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
}

func TestSnapshotVideoRepositoryAppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videos.json")
	ctx := context.Background()

	repo, err := NewSnapshotVideoRepository(path, time.Second, nil)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}

	for i, name := range []string{"1700000000000.mp4", "1700000000001.mov"} {
		video, err := repo.Append(ctx, models.Video{Filename: name, Owner: "alice"})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if video.ID != i+1 {
			t.Fatalf("expected id %d got %d", i+1, video.ID)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	want := `[{"id":1,"filename":"1700000000000.mp4","user":"alice"},{"id":2,"filename":"1700000000001.mov","user":"alice"}]`
	if string(data) != want {
		t.Fatalf("unexpected compact snapshot\n got: %s\nwant: %s", data, want)
	}

	if err := repo.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewSnapshotVideoRepository(path, time.Second, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer func() { _ = reloaded.Close(ctx) }()

	video, err := reloaded.Append(ctx, models.Video{Filename: "third.mp4", Owner: "bob"})
	if err != nil {
		t.Fatalf("append after reload: %v", err)
	}
	if video.ID != 3 {
		t.Fatalf("expected id 3 after reload got %d", video.ID)
	}
}

func TestSnapshotRepositoryRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videos.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := NewSnapshotVideoRepository(path, time.Second, nil); err == nil {
		t.Fatal("expected error for malformed snapshot")
	}
}

func TestSnapshotVideoListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo, err := NewSnapshotVideoRepository(filepath.Join(t.TempDir(), "videos.json"), time.Second, nil)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	defer func() { _ = repo.Close(ctx) }()

	if _, err := repo.Append(ctx, models.Video{Filename: "a.mp4", Owner: "alice"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	list[0].Owner = "mallory"

	again, _ := repo.List(ctx)
	if again[0].Owner != "alice" {
		t.Fatalf("list exposed internal state: %+v", again)
	}
}

func holdSnapshotLock(t *testing.T, path string) *flock.Flock {
	t.Helper()
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	t.Cleanup(func() { _ = lock.Unlock() })
	return lock
}

func TestSnapshotUserRepositoryKeepsUserWhenWriteOutlivesTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	ctx := context.Background()

	repo, err := NewSnapshotUserRepository(path, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}

	lock := holdSnapshotLock(t, path)
	if err := repo.Create(ctx, models.User{Username: "alice", Password: "hash"}); err != nil {
		t.Fatalf("create with stalled disk: %v", err)
	}
	if _, err := repo.FindByUsername(ctx, "alice"); err != nil {
		t.Fatalf("expected alice in memory: %v", err)
	}
	if err := repo.Create(ctx, models.User{Username: "alice", Password: "again"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict got %v", err)
	}

	if err := lock.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := repo.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewSnapshotUserRepository(path, time.Second, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer func() { _ = reloaded.Close(ctx) }()

	users, _ := reloaded.List(ctx)
	if len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("memory and disk disagree after reload: %+v", users)
	}
}

func TestSnapshotVideoRepositoryDoesNotReuseIDAfterSlowWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videos.json")
	ctx := context.Background()

	repo, err := NewSnapshotVideoRepository(path, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}

	lock := holdSnapshotLock(t, path)
	first, err := repo.Append(ctx, models.Video{Filename: "1.mp4", Owner: "alice"})
	if err != nil {
		t.Fatalf("append with stalled disk: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	second, err := repo.Append(ctx, models.Video{Filename: "2.mp4", Owner: "alice"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected ids 1 and 2 got %d and %d", first.ID, second.ID)
	}
	if err := repo.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	want := `[{"id":1,"filename":"1.mp4","user":"alice"},{"id":2,"filename":"2.mp4","user":"alice"}]`
	if string(data) != want {
		t.Fatalf("unexpected snapshot\n got: %s\nwant: %s", data, want)
	}
}
