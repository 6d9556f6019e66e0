package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"formauth-service/internal/config"
	"formauth-service/internal/friendlyform"
	"formauth-service/internal/handler"
	"formauth-service/internal/hashing"
	"formauth-service/internal/models"
	"formauth-service/internal/pipeline"
	redisrepo "formauth-service/internal/repository/redis"
	"formauth-service/internal/repository/scylla"
	"formauth-service/internal/service"
	"formauth-service/internal/ticket"
)

// In-memory stores standing in for Scylla and Redis.

type memUserStore struct {
	users map[string]*models.User
}

func (m *memUserStore) CreateUser(_ context.Context, user *models.User) error {
	m.users[user.Login] = user
	return nil
}

func (m *memUserStore) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	user, ok := m.users[login]
	if !ok {
		return nil, scylla.ErrUserNotFound
	}
	return user, nil
}

func (m *memUserStore) UpdateLastLogin(_ context.Context, login string, at time.Time) error {
	if user, ok := m.users[login]; ok {
		user.LastLogin = &at
	}
	return nil
}

func (m *memUserStore) SetBlocked(_ context.Context, login string, blocked bool) error {
	if user, ok := m.users[login]; ok {
		user.IsBlocked = blocked
	}
	return nil
}

type memSessionStore struct {
	sessions map[uuid.UUID]*models.Session
}

func (m *memSessionStore) Store(_ context.Context, s *models.Session) error {
	m.sessions[s.SessionID] = s
	return nil
}

func (m *memSessionStore) Get(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, redisrepo.ErrSessionNotFound
	}
	return s, nil
}

func (m *memSessionStore) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.sessions, id)
	return nil
}

type memLockoutStore struct {
	failures map[string]int
	locked   map[string]bool
}

func (m *memLockoutStore) IncrementFailures(_ context.Context, login string, _ time.Duration) (int, error) {
	m.failures[login]++
	return m.failures[login], nil
}

func (m *memLockoutStore) ResetFailures(_ context.Context, login string) error {
	delete(m.failures, login)
	return nil
}

func (m *memLockoutStore) Lock(_ context.Context, login string, _ time.Duration) error {
	m.locked[login] = true
	return nil
}

func (m *memLockoutStore) IsLocked(_ context.Context, login string) (bool, error) {
	return m.locked[login], nil
}

type memAuditor struct {
	events []models.SecurityEvent
}

func (m *memAuditor) SearchByLogin(_ context.Context, login string, _ int) ([]models.SecurityEvent, error) {
	var out []models.SecurityEvent
	for _, e := range m.events {
		if e.Login == login {
			out = append(out, e)
		}
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		FriendlyForm: config.FriendlyFormConfig{
			LoginFormPath:     "/login",
			LoginHandlerPath:  "/login_handler",
			LogoutHandlerPath: "/logout_handler",
			PostLogoutPath:    "/see_you_later",
		},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           []string{"test-pepper"},
		},
		Lockout: config.LockoutConfig{
			MaxFailures:   5,
			FailureWindow: 15 * time.Minute,
			LockDuration:  30 * time.Minute,
		},
		Session: config.SessionConfig{TTL: time.Hour},
	}
}

type app struct {
	handler http.Handler
	svc     *service.AuthService
	auditor *memAuditor
}

func newApp(t *testing.T) *app {
	t.Helper()
	cfg := testConfig()

	users := &memUserStore{users: map[string]*models.User{}}
	sessions := &memSessionStore{sessions: map[uuid.UUID]*models.Session{}}
	lockouts := &memLockoutStore{failures: map[string]int{}, locked: map[string]bool{}}
	auditor := &memAuditor{}

	svc := service.NewAuthService(
		users, sessions, lockouts,
		hashing.NewHasher(cfg),
		nil, nil, nil, cfg,
	)

	form := friendlyform.New(friendlyform.Options{
		LoginFormPath:     cfg.FriendlyForm.LoginFormPath,
		LoginHandlerPath:  cfg.FriendlyForm.LoginHandlerPath,
		LogoutHandlerPath: cfg.FriendlyForm.LogoutHandlerPath,
		PostLogoutPath:    cfg.FriendlyForm.PostLogoutPath,
	})
	tickets := ticket.New("tkt", []byte("test-secret"), time.Hour, false)

	logger := zap.NewNop()
	authHandler := handler.NewAuthHandler(svc, auditor, form, cfg, logger)
	router := handler.NewRouter(authHandler, false, logger)
	pl := pipeline.New(form, tickets, svc, logger)

	return &app{
		handler: pl.Middleware(router),
		svc:     svc,
		auditor: auditor,
	}
}

func (a *app) register(t *testing.T, login, password string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"login": login, "password": password})
	req := httptest.NewRequest("POST", "http://example.org/api/v1/users", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// login performs the form POST and returns the ticket cookie, if any.
func (a *app) login(t *testing.T, login, password string) *http.Cookie {
	t.Helper()
	form := url.Values{"login": {login}, "password": {password}}
	req := httptest.NewRequest("POST", "http://example.org/login_handler",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)

	for _, c := range rec.Result().Cookies() {
		if c.Name == "tkt" && c.Value != "" {
			return c
		}
	}
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	a := newApp(t)

	req := httptest.NewRequest("GET", "http://example.org/health", nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestLoginFormRenders(t *testing.T) {
	a := newApp(t)

	req := httptest.NewRequest("GET", "http://example.org/login", nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/login_handler"`)
	assert.NotContains(t, rec.Body.String(), "Login failed")
}

func TestLoginFormShowsFailureCount(t *testing.T) {
	a := newApp(t)

	req := httptest.NewRequest("GET", "http://example.org/login?__logins=2", nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Attempts so far: 2")
}

func TestProtectedPageChallengesAnonymous(t *testing.T) {
	a := newApp(t)

	req := httptest.NewRequest("GET", "http://example.org/account", nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "http://example.org/account", loc.Query().Get("came_from"))
}

func TestFullLoginFlow(t *testing.T) {
	a := newApp(t)
	a.register(t, "rms", "s3cret")

	cookie := a.login(t, "rms", "s3cret")
	require.NotNil(t, cookie, "login must set the ticket cookie")

	req := httptest.NewRequest("GET", "http://example.org/account", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Signed in as rms")
}

func TestFailedLoginDoesNotAuthenticate(t *testing.T) {
	a := newApp(t)
	a.register(t, "rms", "s3cret")

	cookie := a.login(t, "rms", "wrong")
	assert.Nil(t, cookie, "failed login must not leave a usable ticket")
}

func TestSessionEndpoint(t *testing.T) {
	a := newApp(t)
	a.register(t, "rms", "s3cret")
	cookie := a.login(t, "rms", "s3cret")
	require.NotNil(t, cookie)

	req := httptest.NewRequest("GET", "http://example.org/api/v1/session", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool           `json:"success"`
		Data    models.Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "rms", resp.Data.Login)
}

func TestAuditEndpoint(t *testing.T) {
	a := newApp(t)
	a.register(t, "rms", "s3cret")
	cookie := a.login(t, "rms", "s3cret")
	require.NotNil(t, cookie)

	a.auditor.events = []models.SecurityEvent{
		{EventID: uuid.New().String(), EventType: models.EventLoginFailed, Login: "rms"},
		{EventID: uuid.New().String(), EventType: models.EventLoginSucceeded, Login: "rms"},
		{EventID: uuid.New().String(), EventType: models.EventLoginFailed, Login: "other"},
	}

	req := httptest.NewRequest("GET", "http://example.org/api/v1/audit/logins?login=rms", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []models.SecurityEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestLogoutFlow(t *testing.T) {
	a := newApp(t)
	a.register(t, "rms", "s3cret")
	cookie := a.login(t, "rms", "s3cret")
	require.NotNil(t, cookie)

	req := httptest.NewRequest("POST", "http://example.org/logout_handler", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/see_you_later", rec.Header().Get("Location"))

	// The old ticket no longer resolves to a session.
	req = httptest.NewRequest("GET", "http://example.org/account", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	a := newApp(t)
	a.register(t, "rms", "s3cret")

	body, _ := json.Marshal(map[string]string{"login": "rms", "password": "other"})
	req := httptest.NewRequest("POST", "http://example.org/api/v1/users", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}
