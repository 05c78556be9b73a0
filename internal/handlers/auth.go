package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ismistube/backend/internal/auth"
	"github.com/ismistube/backend/internal/credentials"
	"github.com/ismistube/backend/internal/logging"
	"github.com/ismistube/backend/internal/middleware"
)

const maxAuthBodyBytes = 1 << 20

// AuthHandler implements registration, login and logout.
type AuthHandler struct {
	Credentials CredentialStore
	Sessions    SessionManager
	Cookie      middleware.SessionCookie
	NowFunc     func() time.Time
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// Register handles POST /register. It does not log the user in.
func (h AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Credentials == nil {
		logger.Error("credential store unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, errorBody("Registration failed"))
		return
	}

	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.Credentials.Register(ctx, req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, credentials.ErrInvalidInput):
		respondJSON(ctx, w, http.StatusBadRequest, errorBody("Username and password are required"))
		return
	case errors.Is(err, credentials.ErrDuplicateUsername):
		respondJSON(ctx, w, http.StatusConflict, errorBody("Username already exists"))
		return
	default:
		logger.Error("register user", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, errorBody("Registration failed"))
		return
	}

	logger.Info("user registered", "username", user.Username)
	respondJSON(ctx, w, http.StatusOK, authResponse{Message: "User registered successfully", Username: user.Username})
}

// Login handles POST /login. A caller that is already logged in has the
// previous session revoked before the new one is issued.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Credentials == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasCredentials", h.Credentials != nil, "hasSessions", h.Sessions != nil)
		respondJSON(ctx, w, http.StatusInternalServerError, errorBody("Login failed"))
		return
	}

	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.Credentials.Authenticate(ctx, req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, credentials.ErrInvalidInput):
		respondJSON(ctx, w, http.StatusBadRequest, errorBody("Username and password are required"))
		return
	case errors.Is(err, credentials.ErrInvalidCredentials):
		respondJSON(ctx, w, http.StatusUnauthorized, errorBody("Invalid username or password"))
		return
	default:
		logger.Error("authenticate user", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, errorBody("Login failed"))
		return
	}

	if previous := auth.TokenFromContext(ctx); previous != "" {
		if err := h.Sessions.Logout(ctx, previous); err != nil {
			logger.Warn("revoke previous session", "error", err)
		}
	}

	session, err := h.Sessions.Login(ctx, user.Username)
	if err != nil {
		logger.Error("create session", "error", err, "username", user.Username)
		respondJSON(ctx, w, http.StatusInternalServerError, errorBody("Login failed"))
		return
	}

	h.Cookie.Set(w, session, h.now())
	logger.Info("user logged in", "username", user.Username)
	respondJSON(ctx, w, http.StatusOK, authResponse{Message: "Login successful", Username: user.Username})
}

// Logout handles GET /logout. It always clears the cookie.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := auth.TokenFromContext(ctx)
	if token == "" {
		token = h.Cookie.Token(r)
	}

	if token != "" && h.Sessions != nil {
		if err := h.Sessions.Logout(ctx, token); err != nil {
			logging.FromContext(ctx).Error("destroy session", "error", err)
			respondText(ctx, w, http.StatusInternalServerError, "Logout failed")
			return
		}
	}

	h.Cookie.Clear(w)
	respondText(ctx, w, http.StatusOK, "Logged out")
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	body := http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		logging.FromContext(r.Context()).Warn("invalid credentials payload", "error", err)
		respondJSON(r.Context(), w, http.StatusBadRequest, errorBody("Invalid request body"))
		return credentialsRequest{}, false
	}
	return req, true
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now()
}
