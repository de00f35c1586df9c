package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// User is the credential record for an account holder.
type User struct {
	ID              string
	Name            string
	Email           string
	PasswordHash    string
	ProfileImageURL string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NormalizeEmail trims and case-folds an email so lookups and writes agree.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}
