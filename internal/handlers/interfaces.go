package handlers

import (
	"context"
	"io"

	"github.com/ismistube/backend/internal/models"
)

// CredentialStore registers and authenticates users.
type CredentialStore interface {
	Register(ctx context.Context, username, password string) (models.User, error)
	Authenticate(ctx context.Context, username, password string) (models.User, error)
}

// SessionManager binds authenticated users to session tokens.
type SessionManager interface {
	Login(ctx context.Context, username string) (models.Session, error)
	Lookup(ctx context.Context, token string) (models.Session, error)
	Logout(ctx context.Context, token string) error
}

// UploadRegistry stores uploaded files and lists the resulting records.
type UploadRegistry interface {
	Store(ctx context.Context, identity, originalName string, content io.Reader) (models.Video, error)
	List(ctx context.Context) ([]models.Video, error)
}

// Pinger reports whether a backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
