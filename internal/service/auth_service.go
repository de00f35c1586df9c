package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/interview-prep-service/internal/auth"
	"github.com/spec-kit/interview-prep-service/internal/config"
	"github.com/spec-kit/interview-prep-service/internal/domain"
	"github.com/spec-kit/interview-prep-service/internal/events"
	"github.com/spec-kit/interview-prep-service/internal/repository"
	apperrors "github.com/spec-kit/interview-prep-service/pkg/util/errorutil"
)

var (
	// ErrDuplicateIdentity is returned when the email is already registered.
	ErrDuplicateIdentity = apperrors.NewDuplicateIdentity("User already Exists")
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = apperrors.NewInvalidCredentials("Invalid email or password")
	// ErrUserNotFound is returned when an authenticated user no longer exists.
	ErrUserNotFound = apperrors.NewNotFound("User", nil)
	// ErrTooManyAttempts is returned while an email is throttled.
	ErrTooManyAttempts = apperrors.NewTooManyAttempts("Too many login attempts, try again later")
)

var tracer = otel.Tracer("github.com/spec-kit/interview-prep-service/internal/service")

// RegisterInput carries registration fields.
type RegisterInput struct {
	Name            string
	Email           string
	Password        string
	ProfileImageURL string
}

// LoginInput carries login credentials. ClientIP is only used for auditing.
type LoginInput struct {
	Email    string
	Password string
	ClientIP string
}

// AuthResult is returned by successful registration and login.
type AuthResult struct {
	User  *domain.User
	Token domain.Token
}

// AuthService coordinates registration, login and profile flows.
type AuthService struct {
	users       repository.UserRepository
	attempts    repository.LoginAttemptRepository
	hasher      auth.PasswordHasher
	tokens      auth.TokenIssuer
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	maxAttempts int
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// AuthDependencies encapsulates collaborators for the auth service.
// LoginAttemptRepo and Dispatcher are optional.
type AuthDependencies struct {
	UserRepo         repository.UserRepository
	LoginAttemptRepo repository.LoginAttemptRepository
	Hasher           auth.PasswordHasher
	Tokens           auth.TokenIssuer
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
}

// NewAuthService builds the service. Missing hasher or issuer are built from cfg.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	s := &AuthService{
		users:       deps.UserRepo,
		attempts:    deps.LoginAttemptRepo,
		hasher:      deps.Hasher,
		tokens:      deps.Tokens,
		dispatcher:  deps.Dispatcher,
		logger:      deps.Logger,
		maxAttempts: cfg.LoginMaxAttempts,
		now:         time.Now,
	}
	if s.hasher == nil {
		s.hasher = auth.NewBcryptHasher(cfg.BcryptCost)
	}
	if s.tokens == nil {
		s.tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Register creates a new account and returns it with a fresh token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (res *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.Register")
	defer func() { endSpan(span, err) }()

	if len(in.Password) > auth.MaxPasswordBytes {
		return nil, apperrors.NewValidationError("password must be at most 72 bytes", nil)
	}

	email := domain.NormalizeEmail(in.Email)
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateIdentity
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewInternalError(fmt.Errorf("lookup user: %w", err))
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("hash password: %w", err))
	}

	user := &domain.User{
		Name:            in.Name,
		Email:           email,
		PasswordHash:    hash,
		ProfileImageURL: in.ProfileImageURL,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrDuplicateIdentity
		}
		return nil, apperrors.NewInternalError(fmt.Errorf("create user: %w", err))
	}
	span.SetAttributes(attribute.String("user.id", user.ID))

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("issue token: %w", err))
	}

	s.publish(ctx, events.NewEvent(events.EventUserRegistered, user.ID, s.now(), events.UserRegisteredPayload{
		Email: user.Email,
	}))
	return &AuthResult{User: user, Token: token}, nil
}

// Login verifies credentials and issues a token.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (res *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.Login")
	defer func() { endSpan(span, err) }()

	email := domain.NormalizeEmail(in.Email)
	if s.throttled(ctx, email) {
		s.loginFailed(ctx, email, in.ClientIP, "throttled", 0)
		return nil, ErrTooManyAttempts
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewInternalError(fmt.Errorf("lookup user: %w", err))
		}
		// keep unknown-email latency in line with a real comparison
		s.hasher.Verify(in.Password, s.dummyPasswordHash())
		s.recordFailure(ctx, email, in.ClientIP, "unknown_email")
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		s.recordFailure(ctx, email, in.ClientIP, "password_mismatch")
		return nil, ErrInvalidCredentials
	}
	s.resetFailures(ctx, email)
	span.SetAttributes(attribute.String("user.id", user.ID))

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("issue token: %w", err))
	}

	s.publish(ctx, events.NewEvent(events.EventUserLoggedIn, user.ID, s.now(), events.UserLoggedInPayload{
		Email:     user.Email,
		ClientIP:  in.ClientIP,
		ExpiresAt: token.ExpiresAt.Unix(),
	}))
	return &AuthResult{User: user, Token: token}, nil
}

// Profile loads the authenticated user without the password hash.
func (s *AuthService) Profile(ctx context.Context, userID string) (user *domain.User, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.Profile", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	user, err = s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, apperrors.NewInternalError(fmt.Errorf("load user: %w", err))
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *AuthService) throttled(ctx context.Context, email string) bool {
	if s.attempts == nil || s.maxAttempts <= 0 {
		return false
	}
	failures, err := s.attempts.Failures(ctx, email)
	if err != nil {
		s.logger.Warn("login throttle unavailable", zap.Error(err))
		return false
	}
	return failures >= s.maxAttempts
}

func (s *AuthService) recordFailure(ctx context.Context, email, clientIP, reason string) {
	failures := 0
	if s.attempts != nil && s.maxAttempts > 0 {
		n, err := s.attempts.RecordFailure(ctx, email)
		if err != nil {
			s.logger.Warn("record login failure", zap.Error(err))
		}
		failures = n
	}
	s.loginFailed(ctx, email, clientIP, reason, failures)
}

func (s *AuthService) resetFailures(ctx context.Context, email string) {
	if s.attempts == nil || s.maxAttempts <= 0 {
		return
	}
	if err := s.attempts.Reset(ctx, email); err != nil {
		s.logger.Warn("reset login failures", zap.Error(err))
	}
}

func (s *AuthService) loginFailed(ctx context.Context, email, clientIP, reason string, failures int) {
	s.publish(ctx, events.NewEvent(events.EventUserLoginFailed, "", s.now(), events.UserLoginFailedPayload{
		Email:    email,
		ClientIP: clientIP,
		Reason:   reason,
		Failures: failures,
	}))
}

func (s *AuthService) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("interview-prep-dummy-password")
		if err != nil {
			s.logger.Warn("dummy hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		if de := apperrors.ToDomainError(err); de.HTTPStatus >= 500 {
			span.RecordError(err)
			span.SetStatus(codes.Error, de.Code)
		} else {
			span.SetAttributes(attribute.String("auth.outcome", de.Code))
		}
	}
	span.End()
}
