package scylla

import (
	"context"
	"time"

	"formauth-service/internal/models"
)

// UserStore is the interface the auth service depends on; satisfied by
// UserRepository and by in-memory fakes in tests.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, login string, at time.Time) error
	SetBlocked(ctx context.Context, login string, blocked bool) error
}

var _ UserStore = (*UserRepository)(nil)
