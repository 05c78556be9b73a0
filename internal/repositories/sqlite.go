package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ismistube/backend/internal/models"
)

const sqliteBusyTimeoutMS = 5000

// SQLiteStore owns a single-file SQLite database holding users and videos.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "ismistube.db"
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d", path, separator, sqliteBusyTimeoutMS)
}

// Migrate creates the schema when missing.
func (s *SQLiteStore) Migrate(ctx context.Context) (err error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS videos (
			id INTEGER PRIMARY KEY,
			filename TEXT NOT NULL UNIQUE,
			owner TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return tx.Commit()
}

// Close releases the underlying DB handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Users returns a UserRepository view of the store.
func (s *SQLiteStore) Users() *SQLiteUserRepository {
	return &SQLiteUserRepository{db: s.db}
}

// Videos returns a VideoRepository view of the store.
func (s *SQLiteStore) Videos() *SQLiteVideoRepository {
	return &SQLiteVideoRepository{db: s.db}
}

// SQLiteUserRepository implements UserRepository on SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// Create inserts a new user. ErrConflict is returned on duplicate usernames.
func (r *SQLiteUserRepository) Create(ctx context.Context, user models.User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users(username, password_hash) VALUES(?, ?)`, user.Username, user.Password)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByUsername fetches a user by username.
func (r *SQLiteUserRepository) FindByUsername(ctx context.Context, username string) (models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT username, password_hash FROM users WHERE username = ?`, username)
	var user models.User
	if err := row.Scan(&user.Username, &user.Password); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

// List returns users in registration order.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT username, password_hash FROM users ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.Username, &user.Password); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// SQLiteVideoRepository implements VideoRepository on SQLite.
type SQLiteVideoRepository struct {
	db *sql.DB
}

// Append stores the record with ID = row count + 1.
func (r *SQLiteVideoRepository) Append(ctx context.Context, video models.Video) (models.Video, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO videos(id, filename, owner)
		SELECT COUNT(*) + 1, ?, ? FROM videos
		RETURNING id`, video.Filename, video.Owner)
	if err := row.Scan(&video.ID); err != nil {
		if isUniqueViolation(err) {
			return models.Video{}, ErrConflict
		}
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

// List returns videos ordered by ID.
func (r *SQLiteVideoRepository) List(ctx context.Context) ([]models.Video, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, filename, owner FROM videos ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()

	videos := []models.Video{}
	for rows.Next() {
		var video models.Video
		if err := rows.Scan(&video.ID, &video.Filename, &video.Owner); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

var _ UserRepository = (*SQLiteUserRepository)(nil)
var _ VideoRepository = (*SQLiteVideoRepository)(nil)
