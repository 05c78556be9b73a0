// Package credentials owns the username to password-hash table.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/ismistube/backend/internal/logging"
	"github.com/ismistube/backend/internal/models"
	"github.com/ismistube/backend/internal/repositories"
)

// DefaultCost is the bcrypt work factor used for new accounts.
const DefaultCost = 10

var (
	// ErrInvalidInput indicates a missing username or password.
	ErrInvalidInput = errors.New("username and password are required")
	// ErrDuplicateUsername indicates the username is already registered.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrInvalidCredentials is returned for unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Store registers and authenticates users against a UserRepository.
type Store struct {
	users repositories.UserRepository
	cost  int

	dummyOnce sync.Once
	dummy     []byte
}

// NewStore constructs a Store hashing at cost. Out of range costs fall back to DefaultCost.
func NewStore(users repositories.UserRepository, cost int) *Store {
	if users == nil {
		panic("credentials: user repository must not be nil")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Store{users: users, cost: cost}
}

// Register hashes rawPassword and stores a new user.
func (s *Store) Register(ctx context.Context, username, rawPassword string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || rawPassword == "" {
		return models.User{}, ErrInvalidInput
	}

	ctx, span := logging.StartSpan(ctx, "credentials.register")
	defer span.End()

	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return models.User{}, ErrDuplicateUsername
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(rawPassword), s.cost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{Username: username, Password: string(hashed)}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return models.User{}, ErrDuplicateUsername
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate verifies rawPassword against the stored hash.
func (s *Store) Authenticate(ctx context.Context, username, rawPassword string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || rawPassword == "" {
		return models.User{}, ErrInvalidInput
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, fmt.Errorf("lookup user: %w", err)
		}
		// keep unknown users as slow as wrong passwords
		_ = bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(rawPassword))
		return models.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(rawPassword)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, fmt.Errorf("compare password: %w", err)
	}
	return user, nil
}

func (s *Store) dummyHash() []byte {
	s.dummyOnce.Do(func() {
		hashed, err := bcrypt.GenerateFromPassword([]byte("ismistube-dummy-password"), s.cost)
		if err == nil {
			s.dummy = hashed
		}
	})
	return s.dummy
}
