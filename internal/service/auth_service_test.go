package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formauth-service/internal/config"
	"formauth-service/internal/friendlyform"
	"formauth-service/internal/hashing"
	"formauth-service/internal/models"
	"formauth-service/internal/pipeline"
	redisrepo "formauth-service/internal/repository/redis"
	"formauth-service/internal/repository/scylla"
	"formauth-service/internal/ticket"
)

// ---------------------------------------------------------------- fakes

type fakeUserStore struct {
	users map[string]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]*models.User{}}
}

func (f *fakeUserStore) CreateUser(_ context.Context, user *models.User) error {
	f.users[user.Login] = user
	return nil
}

func (f *fakeUserStore) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	user, ok := f.users[login]
	if !ok {
		return nil, scylla.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeUserStore) UpdateLastLogin(_ context.Context, login string, at time.Time) error {
	if user, ok := f.users[login]; ok {
		user.LastLogin = &at
	}
	return nil
}

func (f *fakeUserStore) SetBlocked(_ context.Context, login string, blocked bool) error {
	if user, ok := f.users[login]; ok {
		user.IsBlocked = blocked
	}
	return nil
}

type fakeSessionStore struct {
	sessions map[uuid.UUID]*models.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[uuid.UUID]*models.Session{}}
}

func (f *fakeSessionStore) Store(_ context.Context, session *models.Session) error {
	f.sessions[session.SessionID] = session
	return nil
}

func (f *fakeSessionStore) Get(_ context.Context, id uuid.UUID) (*models.Session, error) {
	session, ok := f.sessions[id]
	if !ok {
		return nil, redisrepo.ErrSessionNotFound
	}
	return session, nil
}

func (f *fakeSessionStore) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.sessions, id)
	return nil
}

type fakeLockoutStore struct {
	failures map[string]int
	locked   map[string]bool
}

func newFakeLockoutStore() *fakeLockoutStore {
	return &fakeLockoutStore{
		failures: map[string]int{},
		locked:   map[string]bool{},
	}
}

func (f *fakeLockoutStore) IncrementFailures(_ context.Context, login string, _ time.Duration) (int, error) {
	f.failures[login]++
	return f.failures[login], nil
}

func (f *fakeLockoutStore) ResetFailures(_ context.Context, login string) error {
	delete(f.failures, login)
	return nil
}

func (f *fakeLockoutStore) Lock(_ context.Context, login string, _ time.Duration) error {
	f.locked[login] = true
	return nil
}

func (f *fakeLockoutStore) IsLocked(_ context.Context, login string) (bool, error) {
	return f.locked[login], nil
}

type fakeEmitter struct {
	events []*models.SecurityEvent
}

func (f *fakeEmitter) Emit(_ context.Context, event *models.SecurityEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) eventTypes() []string {
	types := make([]string, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.EventType)
	}
	return types
}

type fakeRecorder struct {
	attempts []*models.LoginAttempt
}

func (f *fakeRecorder) Record(attempt *models.LoginAttempt) {
	f.attempts = append(f.attempts, attempt)
}

type fakeAuditor struct {
	indexed []*models.SecurityEvent
}

func (f *fakeAuditor) Index(_ context.Context, event *models.SecurityEvent) error {
	f.indexed = append(f.indexed, event)
	return nil
}

// ------------------------------------------------------------- fixture

type fixture struct {
	svc      *AuthService
	users    *fakeUserStore
	sessions *fakeSessionStore
	lockouts *fakeLockoutStore
	emitter  *fakeEmitter
	recorder *fakeRecorder
	auditor  *fakeAuditor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           []string{"test-pepper"},
		},
		Lockout: config.LockoutConfig{
			MaxFailures:   3,
			FailureWindow: 15 * time.Minute,
			LockDuration:  30 * time.Minute,
		},
		Session: config.SessionConfig{
			TTL: time.Hour,
		},
	}

	f := &fixture{
		users:    newFakeUserStore(),
		sessions: newFakeSessionStore(),
		lockouts: newFakeLockoutStore(),
		emitter:  &fakeEmitter{},
		recorder: &fakeRecorder{},
		auditor:  &fakeAuditor{},
	}
	f.svc = NewAuthService(
		f.users, f.sessions, f.lockouts,
		hashing.NewHasher(cfg),
		f.emitter, f.recorder, f.auditor, cfg,
	)
	return f
}

func (f *fixture) registerUser(t *testing.T, login, password string) *models.User {
	t.Helper()
	user, err := f.svc.RegisterUser(context.Background(), login, password)
	require.NoError(t, err)
	return user
}

var meta = pipeline.RequestMeta{
	IPAddress: "192.0.2.1",
	UserAgent: "test-agent",
}

// --------------------------------------------------------------- tests

func TestAuthenticateSuccess(t *testing.T) {
	f := newFixture(t)
	user := f.registerUser(t, "rms", "s3cret")

	identity, err := f.svc.Authenticate(context.Background(), &friendlyform.Credentials{
		Login:    "rms",
		Password: "s3cret",
	}, meta)

	require.NoError(t, err)
	assert.Equal(t, user.UserID, identity.UserID)
	assert.Equal(t, "rms", identity.Login)

	// Session exists and matches the identity.
	session, err := f.sessions.Get(context.Background(), identity.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "rms", session.Login)
	assert.Equal(t, "192.0.2.1", session.IPAddress)

	assert.Contains(t, f.emitter.eventTypes(), models.EventLoginSucceeded)
	require.Len(t, f.recorder.attempts, 1)
	assert.True(t, f.recorder.attempts[0].Succeeded)
	assert.NotNil(t, f.users.users["rms"].LastLogin)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.registerUser(t, "rms", "s3cret")

	_, err := f.svc.Authenticate(context.Background(), &friendlyform.Credentials{
		Login:    "rms",
		Password: "wrong",
	}, meta)

	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, f.lockouts.failures["rms"])
	assert.Contains(t, f.emitter.eventTypes(), models.EventLoginFailed)
	require.Len(t, f.recorder.attempts, 1)
	assert.False(t, f.recorder.attempts[0].Succeeded)
	assert.Equal(t, "wrong_password", f.recorder.attempts[0].FailureReason)
}

func TestAuthenticateUnknownLogin(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Authenticate(context.Background(), &friendlyform.Credentials{
		Login:    "nobody",
		Password: "s3cret",
	}, meta)

	// Indistinguishable from a wrong password, but still counted.
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, f.lockouts.failures["nobody"])
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	f.registerUser(t, "rms", "s3cret")

	for i := 0; i < 3; i++ {
		_, err := f.svc.Authenticate(context.Background(), &friendlyform.Credentials{
			Login:    "rms",
			Password: "wrong",
		}, meta)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	assert.True(t, f.lockouts.locked["rms"])
	assert.Contains(t, f.emitter.eventTypes(), models.EventLockout)

	// Even the correct password is refused while locked.
	_, err := f.svc.Authenticate(context.Background(), &friendlyform.Credentials{
		Login:    "rms",
		Password: "s3cret",
	}, meta)
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	f := newFixture(t)
	f.registerUser(t, "rms", "s3cret")

	_, err := f.svc.Authenticate(context.Background(), &friendlyform.Credentials{
		Login:    "rms",
		Password: "wrong",
	}, meta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, f.lockouts.failures["rms"])

	_, err = f.svc.Authenticate(context.Background(), &friendlyform.Credentials{
		Login:    "rms",
		Password: "s3cret",
	}, meta)
	require.NoError(t, err)
	assert.Zero(t, f.lockouts.failures["rms"])
}

func TestAuthenticateBlockedUser(t *testing.T) {
	f := newFixture(t)
	f.registerUser(t, "rms", "s3cret")
	require.NoError(t, f.users.SetBlocked(context.Background(), "rms", true))

	_, err := f.svc.Authenticate(context.Background(), &friendlyform.Credentials{
		Login:    "rms",
		Password: "s3cret",
	}, meta)
	assert.ErrorIs(t, err, ErrAccountBlocked)
}

func TestIdentityFromTicket(t *testing.T) {
	f := newFixture(t)
	f.registerUser(t, "rms", "s3cret")

	identity, err := f.svc.Authenticate(context.Background(), &friendlyform.Credentials{
		Login:    "rms",
		Password: "s3cret",
	}, meta)
	require.NoError(t, err)

	resolved, err := f.svc.IdentityFromTicket(context.Background(), &ticket.Ticket{
		SessionID: identity.SessionID,
		Login:     "rms",
	})
	require.NoError(t, err)
	assert.Equal(t, identity.UserID, resolved.UserID)
}

func TestIdentityFromTicketDestroyedSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.IdentityFromTicket(context.Background(), &ticket.Ticket{
		SessionID: uuid.New(),
		Login:     "rms",
	})
	assert.ErrorIs(t, err, pipeline.ErrNoSession)
}

func TestIdentityFromTicketLoginMismatch(t *testing.T) {
	f := newFixture(t)
	f.registerUser(t, "rms", "s3cret")

	identity, err := f.svc.Authenticate(context.Background(), &friendlyform.Credentials{
		Login:    "rms",
		Password: "s3cret",
	}, meta)
	require.NoError(t, err)

	_, err = f.svc.IdentityFromTicket(context.Background(), &ticket.Ticket{
		SessionID: identity.SessionID,
		Login:     "someone-else",
	})
	assert.ErrorIs(t, err, pipeline.ErrNoSession)
}

func TestLogoutDestroysSession(t *testing.T) {
	f := newFixture(t)
	f.registerUser(t, "rms", "s3cret")

	identity, err := f.svc.Authenticate(context.Background(), &friendlyform.Credentials{
		Login:    "rms",
		Password: "s3cret",
	}, meta)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), identity, meta))

	_, err = f.svc.IdentityFromTicket(context.Background(), &ticket.Ticket{
		SessionID: identity.SessionID,
		Login:     "rms",
	})
	assert.ErrorIs(t, err, pipeline.ErrNoSession)
	assert.Contains(t, f.emitter.eventTypes(), models.EventLogout)
}

func TestRegisterDuplicateUser(t *testing.T) {
	f := newFixture(t)
	f.registerUser(t, "rms", "s3cret")

	_, err := f.svc.RegisterUser(context.Background(), "rms", "other")
	assert.ErrorIs(t, err, ErrUserExists)
}
