package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"formauth-service/internal/config"
	"formauth-service/internal/friendlyform"
	"formauth-service/internal/hashing"
	"formauth-service/internal/models"
	"formauth-service/internal/pipeline"
	redisrepo "formauth-service/internal/repository/redis"
	"formauth-service/internal/repository/scylla"
	"formauth-service/internal/ticket"
	"formauth-service/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountBlocked     = errors.New("account blocked")
	ErrUserExists         = errors.New("user already exists")
)

// SessionStore and LockoutStore mirror the redis repositories so tests
// can swap in fakes.
type SessionStore interface {
	Store(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

type LockoutStore interface {
	IncrementFailures(ctx context.Context, login string, window time.Duration) (int, error)
	ResetFailures(ctx context.Context, login string) error
	Lock(ctx context.Context, login string, duration time.Duration) error
	IsLocked(ctx context.Context, login string) (bool, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, event *models.SecurityEvent) error
}

type AttemptRecorder interface {
	Record(attempt *models.LoginAttempt)
}

type AuditIndexer interface {
	Index(ctx context.Context, event *models.SecurityEvent) error
}

// AuthService verifies credentials against the user store, enforces the
// lockout policy, and manages sessions. It backs the form pipeline.
type AuthService struct {
	users    scylla.UserStore
	sessions SessionStore
	lockouts LockoutStore
	hasher   *hashing.Hasher
	emitter  EventEmitter
	attempts AttemptRecorder
	auditor  AuditIndexer
	config   *config.Config
}

func NewAuthService(
	users scylla.UserStore,
	sessions SessionStore,
	lockouts LockoutStore,
	hasher *hashing.Hasher,
	emitter EventEmitter,
	attempts AttemptRecorder,
	auditor AuditIndexer,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		lockouts: lockouts,
		hasher:   hasher,
		emitter:  emitter,
		attempts: attempts,
		auditor:  auditor,
		config:   cfg,
	}
}

var _ pipeline.Authenticator = (*AuthService)(nil)

// Authenticate checks the submitted credentials and, when valid, creates
// a session. Failures inside the lockout window count toward a
// temporary lock.
func (s *AuthService) Authenticate(ctx context.Context, creds *friendlyform.Credentials, meta pipeline.RequestMeta) (*models.Identity, error) {
	locked, err := s.lockouts.IsLocked(ctx, creds.Login)
	if err != nil {
		return nil, fmt.Errorf("lockout check failed: %w", err)
	}
	if locked {
		s.recordFailure(ctx, creds.Login, meta, "locked", 0)
		return nil, ErrAccountLocked
	}

	user, err := s.users.GetUserByLogin(ctx, creds.Login)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			// Burn a failure anyway so unknown logins are as slow to
			// enumerate as wrong passwords.
			return nil, s.failLogin(ctx, creds.Login, meta, "unknown_login")
		}
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	if user.IsBlocked {
		s.recordFailure(ctx, creds.Login, meta, "blocked", 0)
		return nil, ErrAccountBlocked
	}

	ok, err := s.hasher.VerifyPassword(creds.Password, &hashing.HashResult{
		Hash:          user.PasswordHash,
		Salt:          user.PasswordSalt,
		PepperVersion: user.PepperVersion,
		Algorithm:     user.HashAlgorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("password verification failed: %w", err)
	}
	if !ok {
		return nil, s.failLogin(ctx, creds.Login, meta, "wrong_password")
	}

	if err := s.lockouts.ResetFailures(ctx, creds.Login); err != nil {
		util.Warn("Failed to reset failure counter",
			zap.String("login", creds.Login),
			zap.Error(err))
	}

	session, err := s.createSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.Login, time.Now().UTC()); err != nil {
		util.Warn("Failed to update last login",
			zap.String("login", user.Login),
			zap.Error(err))
	}

	s.recordSuccess(ctx, user, session, meta)

	return &models.Identity{
		UserID:    user.UserID,
		Login:     user.Login,
		SessionID: session.SessionID,
	}, nil
}

// IdentityFromTicket resolves a verified ticket to an identity by
// looking up its session. Expired or destroyed sessions yield
// pipeline.ErrNoSession so the request proceeds anonymously.
func (s *AuthService) IdentityFromTicket(ctx context.Context, tkt *ticket.Ticket) (*models.Identity, error) {
	session, err := s.sessions.Get(ctx, tkt.SessionID)
	if err != nil {
		if errors.Is(err, redisrepo.ErrSessionNotFound) {
			return nil, pipeline.ErrNoSession
		}
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}

	if session.Login != tkt.Login {
		// Ticket signed for a different login than the session holds.
		return nil, pipeline.ErrNoSession
	}

	return &models.Identity{
		UserID:    session.UserID,
		Login:     session.Login,
		SessionID: session.SessionID,
	}, nil
}

// Logout destroys the session behind the identity.
func (s *AuthService) Logout(ctx context.Context, identity *models.Identity, meta pipeline.RequestMeta) error {
	if err := s.sessions.Delete(ctx, identity.SessionID); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}

	s.emitEvent(ctx, &models.SecurityEvent{
		EventType: models.EventLogout,
		Login:     identity.Login,
		UserID:    identity.UserID.String(),
		SessionID: identity.SessionID.String(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	util.Info("User logged out",
		zap.String("login", identity.Login),
		zap.String("session_id", identity.SessionID.String()))
	return nil
}

// RegisterUser hashes the password and creates the user row.
func (s *AuthService) RegisterUser(ctx context.Context, login, password string) (*models.User, error) {
	if _, err := s.users.GetUserByLogin(ctx, login); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, scylla.ErrUserNotFound) {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	result, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		UserID:        uuid.New(),
		Login:         login,
		PasswordHash:  result.Hash,
		PasswordSalt:  result.Salt,
		PepperVersion: result.PepperVersion,
		HashAlgorithm: result.Algorithm,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SessionInfo returns the live session for an identity.
func (s *AuthService) SessionInfo(ctx context.Context, identity *models.Identity) (*models.Session, error) {
	session, err := s.sessions.Get(ctx, identity.SessionID)
	if err != nil {
		if errors.Is(err, redisrepo.ErrSessionNotFound) {
			return nil, pipeline.ErrNoSession
		}
		return nil, err
	}
	return session, nil
}

func (s *AuthService) createSession(ctx context.Context, user *models.User, meta pipeline.RequestMeta) (*models.Session, error) {
	now := time.Now().UTC()
	session := &models.Session{
		SessionID: uuid.New(),
		UserID:    user.UserID,
		Login:     user.Login,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.Session.TTL),
	}

	if err := s.sessions.Store(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return session, nil
}

// failLogin increments the failure counter, locks the account when the
// threshold is hit, and records the attempt. Always returns
// ErrInvalidCredentials so callers cannot distinguish unknown logins
// from wrong passwords.
func (s *AuthService) failLogin(ctx context.Context, login string, meta pipeline.RequestMeta, reason string) error {
	lockout := s.config.Lockout

	count, err := s.lockouts.IncrementFailures(ctx, login, lockout.FailureWindow)
	if err != nil {
		util.Error("Failed to count login failure",
			zap.String("login", login),
			zap.Error(err))
		count = 0
	}

	if count >= lockout.MaxFailures {
		if err := s.lockouts.Lock(ctx, login, lockout.LockDuration); err != nil {
			util.Error("Failed to lock account",
				zap.String("login", login),
				zap.Error(err))
		}
		s.emitEvent(ctx, &models.SecurityEvent{
			EventType: models.EventLockout,
			Login:     login,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Details:   fmt.Sprintf("locked after %d failures", count),
		})
	}

	s.recordFailure(ctx, login, meta, reason, count)
	return ErrInvalidCredentials
}

func (s *AuthService) recordFailure(ctx context.Context, login string, meta pipeline.RequestMeta, reason string, count int) {
	if s.attempts != nil {
		s.attempts.Record(&models.LoginAttempt{
			Login:         login,
			IPAddress:     meta.IPAddress,
			UserAgent:     meta.UserAgent,
			Succeeded:     false,
			FailureReason: reason,
			FailureCount:  count,
		})
	}
	s.emitEvent(ctx, &models.SecurityEvent{
		EventType: models.EventLoginFailed,
		Login:     login,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   reason,
	})
}

func (s *AuthService) recordSuccess(ctx context.Context, user *models.User, session *models.Session, meta pipeline.RequestMeta) {
	if s.attempts != nil {
		s.attempts.Record(&models.LoginAttempt{
			Login:     user.Login,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Succeeded: true,
		})
	}
	s.emitEvent(ctx, &models.SecurityEvent{
		EventType: models.EventLoginSucceeded,
		Login:     user.Login,
		UserID:    user.UserID.String(),
		SessionID: session.SessionID.String(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

// emitEvent publishes to Kafka and mirrors into the audit index. Both
// are best effort; authentication never fails on telemetry.
func (s *AuthService) emitEvent(ctx context.Context, event *models.SecurityEvent) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	if s.emitter != nil {
		if err := s.emitter.Emit(ctx, event); err != nil {
			util.Warn("Failed to emit security event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}
	if s.auditor != nil {
		if err := s.auditor.Index(ctx, event); err != nil {
			util.Warn("Failed to index audit event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}
}
