package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ismistube/backend/internal/auth"
	"github.com/ismistube/backend/internal/credentials"
	"github.com/ismistube/backend/internal/middleware"
	"github.com/ismistube/backend/internal/models"
)

type credentialStub struct {
	registerErr error
	authErr     error
	registered  []string
}

func (s *credentialStub) Register(_ context.Context, username, _ string) (models.User, error) {
	if s.registerErr != nil {
		return models.User{}, s.registerErr
	}
	s.registered = append(s.registered, username)
	return models.User{Username: username, Password: "hash"}, nil
}

func (s *credentialStub) Authenticate(_ context.Context, username, _ string) (models.User, error) {
	if s.authErr != nil {
		return models.User{}, s.authErr
	}
	return models.User{Username: username, Password: "hash"}, nil
}

type sessionStub struct {
	loginErr  error
	logoutErr error
	issued    []string
	revoked   []string
}

func (s *sessionStub) Login(_ context.Context, username string) (models.Session, error) {
	if s.loginErr != nil {
		return models.Session{}, s.loginErr
	}
	token := "tok-" + username
	s.issued = append(s.issued, token)
	return models.Session{Token: token, Username: username, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *sessionStub) Lookup(context.Context, string) (models.Session, error) {
	return models.Session{}, auth.ErrSessionNotFound
}

func (s *sessionStub) Logout(_ context.Context, token string) error {
	if s.logoutErr != nil {
		return s.logoutErr
	}
	s.revoked = append(s.revoked, token)
	return nil
}

type uploadStub struct {
	stored   string
	owner    string
	content  string
	storeErr error
	videos   []models.Video
	listErr  error
}

func (s *uploadStub) Store(_ context.Context, identity, originalName string, content io.Reader) (models.Video, error) {
	if s.storeErr != nil {
		return models.Video{}, s.storeErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return models.Video{}, err
	}
	s.stored, s.owner, s.content = originalName, identity, string(data)
	return models.Video{ID: 1, Filename: "1.mp4", Owner: identity}, nil
}

func (s *uploadStub) List(context.Context) ([]models.Video, error) {
	return s.videos, s.listErr
}

func jsonRequest(t *testing.T, method, path string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestAuthHandlerRegister(t *testing.T) {
	store := &credentialStub{}
	handler := AuthHandler{Credentials: store, Sessions: &sessionStub{}, Cookie: middleware.SessionCookie{Name: "sid"}}

	rec := httptest.NewRecorder()
	handler.Register(rec, jsonRequest(t, http.MethodPost, "/register", credentialsRequest{Username: "alice", Password: "pw1"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var resp authResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Username != "alice" || resp.Message == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("registration must not log the user in")
	}
}

func TestAuthHandlerRegisterErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid input", credentials.ErrInvalidInput, http.StatusBadRequest},
		{"duplicate", credentials.ErrDuplicateUsername, http.StatusConflict},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := AuthHandler{Credentials: &credentialStub{registerErr: tc.err}}
			rec := httptest.NewRecorder()
			handler.Register(rec, jsonRequest(t, http.MethodPost, "/register", credentialsRequest{Username: "bob", Password: "x"}))

			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			if msg := decodeError(t, rec); strings.Contains(msg, "disk") {
				t.Fatalf("internal error leaked to client: %q", msg)
			}
		})
	}
}

func TestAuthHandlerRejectsMalformedBody(t *testing.T) {
	handler := AuthHandler{Credentials: &credentialStub{}, Sessions: &sessionStub{}}

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestAuthHandlerLoginSetsCookie(t *testing.T) {
	sessions := &sessionStub{}
	handler := AuthHandler{Credentials: &credentialStub{}, Sessions: sessions, Cookie: middleware.SessionCookie{Name: "sid"}}

	rec := httptest.NewRecorder()
	handler.Login(rec, jsonRequest(t, http.MethodPost, "/login", credentialsRequest{Username: "alice", Password: "pw1"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sid" || cookies[0].Value != "tok-alice" || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
}

func TestAuthHandlerLoginRevokesPreviousSession(t *testing.T) {
	sessions := &sessionStub{}
	handler := AuthHandler{Credentials: &credentialStub{}, Sessions: sessions, Cookie: middleware.SessionCookie{Name: "sid"}}

	req := jsonRequest(t, http.MethodPost, "/login", credentialsRequest{Username: "bob", Password: "pw"})
	req = req.WithContext(auth.WithIdentity(req.Context(), "alice", "old-token"))

	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if len(sessions.revoked) != 1 || sessions.revoked[0] != "old-token" {
		t.Fatalf("expected old session to be revoked got %v", sessions.revoked)
	}
}

func TestAuthHandlerLoginErrors(t *testing.T) {
	cases := []struct {
		name     string
		authErr  error
		loginErr error
		status   int
	}{
		{"invalid credentials", credentials.ErrInvalidCredentials, nil, http.StatusUnauthorized},
		{"missing fields", credentials.ErrInvalidInput, nil, http.StatusBadRequest},
		{"lookup failure", errors.New("db down"), nil, http.StatusInternalServerError},
		{"session failure", nil, errors.New("entropy exhausted"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := AuthHandler{
				Credentials: &credentialStub{authErr: tc.authErr},
				Sessions:    &sessionStub{loginErr: tc.loginErr},
				Cookie:      middleware.SessionCookie{Name: "sid"},
			}
			rec := httptest.NewRecorder()
			handler.Login(rec, jsonRequest(t, http.MethodPost, "/login", credentialsRequest{Username: "carol", Password: "x"}))

			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			if len(rec.Result().Cookies()) != 0 {
				t.Fatal("failed login must not set a cookie")
			}
		})
	}
}

func TestAuthHandlerLogout(t *testing.T) {
	sessions := &sessionStub{}
	handler := AuthHandler{Sessions: sessions, Cookie: middleware.SessionCookie{Name: "sid"}}

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "tok-alice"})
	rec := httptest.NewRecorder()
	handler.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("expected plain text got %q", rec.Header().Get("Content-Type"))
	}
	if len(sessions.revoked) != 1 || sessions.revoked[0] != "tok-alice" {
		t.Fatalf("expected session destroyed got %v", sessions.revoked)
	}

	rec = httptest.NewRecorder()
	handler.Logout(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous logout should succeed, got %d", rec.Code)
	}
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("title", "ignored"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func authenticated(req *http.Request, username string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), username, "tok-"+username))
}

func TestUploadHandlerRequiresSession(t *testing.T) {
	store := &uploadStub{}
	handler := UploadHandler{Uploads: store}

	body, contentType := multipartBody(t, "video", "clip.mp4", "frames")
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if store.stored != "" {
		t.Fatal("nothing should be stored without a session")
	}
}

func TestUploadHandlerStoresVideoPart(t *testing.T) {
	store := &uploadStub{}
	handler := UploadHandler{Uploads: store}

	body, contentType := multipartBody(t, "video", "clip.mp4", "frames")
	req := authenticated(httptest.NewRequest(http.MethodPost, "/upload", body), "alice")
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if store.stored != "clip.mp4" || store.owner != "alice" || store.content != "frames" {
		t.Fatalf("unexpected stored upload %+v", store)
	}
}

func TestUploadHandlerRejectsBadRequests(t *testing.T) {
	handler := UploadHandler{Uploads: &uploadStub{}}

	req := authenticated(httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("{}")), "alice")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-multipart got %d", rec.Code)
	}

	body, contentType := multipartBody(t, "attachment", "clip.mp4", "frames")
	req = authenticated(httptest.NewRequest(http.MethodPost, "/upload", body), "alice")
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	handler.Upload(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a video part got %d", rec.Code)
	}
}

func TestUploadHandlerEnforcesSizeLimit(t *testing.T) {
	handler := UploadHandler{Uploads: &uploadStub{}, MaxBytes: 64}

	body, contentType := multipartBody(t, "video", "clip.mp4", strings.Repeat("x", 512))
	req := authenticated(httptest.NewRequest(http.MethodPost, "/upload", body), "alice")
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", rec.Code)
	}
}

func TestUploadHandlerHidesStorageErrors(t *testing.T) {
	handler := UploadHandler{Uploads: &uploadStub{storeErr: errors.New("bucket missing")}}

	body, contentType := multipartBody(t, "video", "clip.mp4", "frames")
	req := authenticated(httptest.NewRequest(http.MethodPost, "/upload", body), "alice")
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "bucket") {
		t.Fatalf("internal error leaked: %q", rec.Body.String())
	}
}

func TestVideoHandlerList(t *testing.T) {
	handler := VideoHandler{Uploads: &uploadStub{videos: []models.Video{{ID: 1, Filename: "1.mp4", Owner: "alice"}}}}

	rec := httptest.NewRecorder()
	handler.List(rec, httptest.NewRequest(http.MethodGet, "/videos", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `[{"id":1,"filename":"1.mp4","user":"alice"}]` {
		t.Fatalf("unexpected body %s", got)
	}

	handler = VideoHandler{Uploads: &uploadStub{}}
	rec = httptest.NewRecorder()
	handler.List(rec, httptest.NewRequest(http.MethodGet, "/videos", nil))
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("expected empty array got %s", got)
	}

	handler = VideoHandler{Uploads: &uploadStub{listErr: errors.New("boom")}}
	rec = httptest.NewRecorder()
	handler.List(rec, httptest.NewRequest(http.MethodGet, "/videos", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
}
