package dto

import (
	"time"

	"github.com/spec-kit/interview-prep-service/internal/domain"
)

// RegisterRequest payload for new users.
type RegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ProfileImageURL string `json:"profileImageUrl"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	ID              string `json:"_id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	ProfileImageURL string `json:"profileImageUrl"`
	Token           string `json:"token"`
}

// ProfileResponse is the public view of a user. It never carries the password hash.
type ProfileResponse struct {
	ID              string    `json:"_id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	ProfileImageURL string    `json:"profileImageUrl"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// UploadImageResponse returns the public URL of a stored image.
type UploadImageResponse struct {
	ImageURL string `json:"imageUrl"`
}

// NewAuthResponse maps a user and token to the wire shape.
func NewAuthResponse(user *domain.User, token string) AuthResponse {
	return AuthResponse{
		ID:              user.ID,
		Name:            user.Name,
		Email:           user.Email,
		ProfileImageURL: user.ProfileImageURL,
		Token:           token,
	}
}

// NewProfileResponse maps a user to its public view.
func NewProfileResponse(user *domain.User) ProfileResponse {
	return ProfileResponse{
		ID:              user.ID,
		Name:            user.Name,
		Email:           user.Email,
		ProfileImageURL: user.ProfileImageURL,
		CreatedAt:       user.CreatedAt,
		UpdatedAt:       user.UpdatedAt,
	}
}
