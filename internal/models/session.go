package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the server-side state behind a remember ticket.
type Session struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	Login     string    `json:"login"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID    uuid.UUID `json:"user_id"`
	Login     string    `json:"login"`
	SessionID uuid.UUID `json:"session_id"`
}
