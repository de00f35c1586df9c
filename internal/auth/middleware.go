package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/interview-prep-service/pkg/util/errorutil"
)

const userIDKey = "auth_user_id"

type contextKey struct{}

// AuthMiddleware validates bearer tokens before protected handlers run.
type AuthMiddleware struct {
	tokens TokenVerifier
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	userID, err := m.authenticate(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return err
	}

	c.Locals(userIDKey, userID)
	c.SetUserContext(ContextWithUserID(c.UserContext(), userID))
	return c.Next()
}

// authenticate never lets a verifier fault through as success.
func (m *AuthMiddleware) authenticate(header string) (userID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			userID = ""
			err = apperrors.NewUnauthorized("Not authorized, token failed")
		}
	}()

	if header == "" {
		return "", apperrors.NewUnauthorized("Not authorized, no token")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperrors.NewUnauthorized("Not authorized, no token")
	}

	if m.tokens == nil {
		return "", apperrors.NewUnauthorized("Not authorized, token failed")
	}
	userID, err = m.tokens.Verify(strings.TrimSpace(parts[1]))
	if err != nil || userID == "" {
		return "", apperrors.NewUnauthorized("Not authorized, token failed")
	}
	return userID, nil
}

// UserIDFromContext retrieves the authenticated user id.
func UserIDFromContext(c *fiber.Ctx) (string, bool) {
	userID, ok := c.Locals(userIDKey).(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

// ContextWithUserID attaches the authenticated user id to ctx.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserIDFrom extracts the authenticated user id from ctx.
func UserIDFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}
