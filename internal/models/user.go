package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the canonical user row in ScyllaDB. The partition key is
// (login_bucket, login) so lookups by submitted login hit one
// partition.
type User struct {
	LoginBucket   int        `db:"login_bucket"`
	Login         string     `db:"login"`
	UserID        uuid.UUID  `db:"user_id"`
	PasswordHash  string     `db:"password_hash"`
	PasswordSalt  string     `db:"password_salt"`
	PepperVersion int        `db:"pepper_version"`
	HashAlgorithm string     `db:"hash_algorithm"`
	IsBlocked     bool       `db:"is_blocked"`
	CreatedAt     time.Time  `db:"created_at"`
	LastLogin     *time.Time `db:"last_login"`
	UpdatedAt     *time.Time `db:"updated_at"`
}
