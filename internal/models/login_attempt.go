package models

import "time"

// LoginAttempt is one row in the ClickHouse login_attempts table.
type LoginAttempt struct {
	EventBucket   int       `ch:"event_bucket"`
	EventDate     string    `ch:"event_date"`
	OccurredAt    time.Time `ch:"occurred_at"`
	Login         string    `ch:"login"`
	IPAddress     string    `ch:"ip_address"`
	UserAgent     string    `ch:"user_agent"`
	Succeeded     bool      `ch:"succeeded"`
	FailureReason string    `ch:"failure_reason"`
	FailureCount  int       `ch:"failure_count"`
}
