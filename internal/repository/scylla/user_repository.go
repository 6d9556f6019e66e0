package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"formauth-service/internal/bucketing"
	"formauth-service/internal/models"
	"formauth-service/internal/util"
)

// ErrUserNotFound is returned when no row exists for the login.
var ErrUserNotFound = errors.New("user not found")

type UserRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewUserRepository(client *ScyllaClient, bm *bucketing.BucketingManager) *UserRepository {
	return &UserRepository{
		client:    client,
		bucketing: bm,
	}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.UserID == uuid.Nil {
		user.UserID = uuid.New()
	}
	user.LoginBucket = r.bucketing.GetLoginBucket(user.Login)

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = &now

	query := r.client.Prepared.CreateUser.Bind(
		user.LoginBucket, user.Login, user.UserID, user.PasswordHash,
		user.PasswordSalt, user.PepperVersion, user.HashAlgorithm,
		user.IsBlocked, user.CreatedAt, user.LastLogin, user.UpdatedAt,
	).WithContext(ctx)

	if err := query.Exec(); err != nil {
		util.Error("Failed to create user",
			zap.String("login", user.Login),
			zap.String("user_id", user.UserID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		zap.String("login", user.Login),
		zap.String("user_id", user.UserID.String()),
		zap.Int("login_bucket", user.LoginBucket))

	return nil
}

func (r *UserRepository) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	bucket := r.bucketing.GetLoginBucket(login)
	user := &models.User{}

	query := r.client.Prepared.GetUserByLogin.Bind(bucket, login).WithContext(ctx)

	err := query.Scan(
		&user.LoginBucket, &user.Login, &user.UserID, &user.PasswordHash,
		&user.PasswordSalt, &user.PepperVersion, &user.HashAlgorithm,
		&user.IsBlocked, &user.CreatedAt, &user.LastLogin, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		util.Error("Failed to get user by login",
			zap.String("login", login),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user by login: %w", err)
	}

	return user, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, login string, at time.Time) error {
	bucket := r.bucketing.GetLoginBucket(login)

	query := r.client.Prepared.UpdateLastLogin.Bind(at, bucket, login).WithContext(ctx)
	if err := query.Exec(); err != nil {
		util.Error("Failed to update last login",
			zap.String("login", login),
			zap.Error(err))
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *UserRepository) SetBlocked(ctx context.Context, login string, blocked bool) error {
	bucket := r.bucketing.GetLoginBucket(login)
	now := time.Now().UTC()

	query := r.client.Prepared.SetBlocked.Bind(blocked, now, bucket, login).WithContext(ctx)
	if err := query.Exec(); err != nil {
		util.Error("Failed to update blocked flag",
			zap.String("login", login),
			zap.Bool("blocked", blocked),
			zap.Error(err))
		return fmt.Errorf("failed to update blocked flag: %w", err)
	}

	util.Info("User blocked flag updated",
		zap.String("login", login),
		zap.Bool("blocked", blocked))
	return nil
}
