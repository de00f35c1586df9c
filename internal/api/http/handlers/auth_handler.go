package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/interview-prep-service/internal/api/dto"
	"github.com/spec-kit/interview-prep-service/internal/auth"
	"github.com/spec-kit/interview-prep-service/internal/service"
	apperrors "github.com/spec-kit/interview-prep-service/pkg/util/errorutil"
)

const imageFormField = "image"

// AuthHandler exposes account endpoints.
type AuthHandler struct {
	auth  *service.AuthService
	media *service.MediaService
}

// NewAuthHandler constructs handler. media may be nil when uploads are disabled.
func NewAuthHandler(authService *service.AuthService, media *service.MediaService) *AuthHandler {
	return &AuthHandler{auth: authService, media: media}
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return apperrors.NewValidationError("name, email, password required", nil)
	}

	res, err := h.auth.Register(c.UserContext(), service.RegisterInput{
		Name:            strings.TrimSpace(req.Name),
		Email:           req.Email,
		Password:        req.Password,
		ProfileImageURL: req.ProfileImageURL,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(dto.NewAuthResponse(res.User, res.Token.Value))
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	res, err := h.auth.Login(c.UserContext(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		ClientIP: c.IP(),
	})
	if err != nil {
		return err
	}

	return c.JSON(dto.NewAuthResponse(res.User, res.Token.Value))
}

// Profile handles GET /api/auth/profile.
func (h *AuthHandler) Profile(c *fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("Not authorized, no token")
	}

	user, err := h.auth.Profile(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewProfileResponse(user))
}

// UploadImage handles POST /api/auth/upload-image.
func (h *AuthHandler) UploadImage(c *fiber.Ctx) error {
	if h.media == nil {
		return fiber.NewError(http.StatusNotFound, "uploads disabled")
	}

	header, err := c.FormFile(imageFormField)
	if err != nil {
		return apperrors.NewValidationError("No file uploaded", nil)
	}

	file, err := header.Open()
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	defer file.Close()

	url, err := h.media.UploadProfileImage(c.UserContext(), service.UploadInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get(fiber.HeaderContentType),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.UploadImageResponse{ImageURL: url})
}
