// Package storage persists uploaded video files and serves them back under /uploads/.
package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrInvalidName indicates a file name that is empty or escapes the storage root.
	ErrInvalidName = errors.New("invalid asset name")
	// ErrExists indicates an asset with the same name is already stored.
	ErrExists = errors.New("asset already exists")
)

// AssetStorage stores uploaded files under server-generated names.
type AssetStorage interface {
	// Save writes r under name and returns the public location of the asset.
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	// Handler serves stored assets by name. It is mounted with the route
	// prefix already stripped.
	Handler() http.Handler
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return ErrInvalidName
	}
	return nil
}
