package domain

import "time"

// Token represents issued bearer token metadata.
type Token struct {
	Value     string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
