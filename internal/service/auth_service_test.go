package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/interview-prep-service/internal/auth"
	"github.com/spec-kit/interview-prep-service/internal/config"
	"github.com/spec-kit/interview-prep-service/internal/domain"
	"github.com/spec-kit/interview-prep-service/internal/events"
	"github.com/spec-kit/interview-prep-service/internal/repository"
	apperrors "github.com/spec-kit/interview-prep-service/pkg/util/errorutil"
)

const testSecret = "test-secret"

type memUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]string
	failOn  error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]*domain.User{}, byEmail: map[string]string{}}
}

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil {
		return r.failOn
	}
	if _, ok := r.byEmail[user.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	r.byID[user.ID] = &cp
	r.byEmail[user.Email] = user.ID
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil {
		return nil, r.failOn
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil {
		return nil, r.failOn
	}
	id, ok := r.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *memUserRepo) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		delete(r.byEmail, u.Email)
		delete(r.byID, id)
	}
}

func (r *memUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

type memAttempts struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (m *memAttempts) Failures(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key], m.err
}

func (m *memAttempts) RecordFailure(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memAttempts) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	return m.err
}

type countingHasher struct {
	auth.PasswordHasher
	hashes atomic.Int64
}

func (h *countingHasher) Hash(p string) (string, error) {
	h.hashes.Add(1)
	return h.PasswordHasher.Hash(p)
}

type issuerFunc func(string) (domain.Token, error)

func (f issuerFunc) Issue(userID string) (domain.Token, error) { return f(userID) }

type fixture struct {
	svc      *AuthService
	users    *memUserRepo
	attempts *memAttempts
	hasher   *countingHasher
	tokens   *auth.TokenManager

	mu     sync.Mutex
	events []events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:    newMemUserRepo(),
		attempts: &memAttempts{counts: map[string]int{}},
		hasher:   &countingHasher{PasswordHasher: auth.NewBcryptHasher(bcrypt.MinCost)},
		tokens:   auth.NewTokenManager(testSecret, auth.DefaultTokenTTL),
	}
	dispatcher := events.NewInMemoryDispatcher()
	for _, et := range []events.EventType{events.EventUserRegistered, events.EventUserLoggedIn, events.EventUserLoginFailed} {
		dispatcher.Subscribe(et, func(_ context.Context, e events.Event) error {
			f.mu.Lock()
			f.events = append(f.events, e)
			f.mu.Unlock()
			return nil
		})
	}
	f.svc = NewAuthService(config.AuthConfig{LoginMaxAttempts: 3}, AuthDependencies{
		UserRepo:         f.users,
		LoginAttemptRepo: f.attempts,
		Hasher:           f.hasher,
		Tokens:           f.tokens,
		Dispatcher:       dispatcher,
	})
	return f
}

func (f *fixture) register(t *testing.T, name, email, password string) *AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{Name: name, Email: email, Password: password})
	require.NoError(t, err)
	return res
}

func codeOf(err error) string {
	return apperrors.ToDomainError(err).Code
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	res := f.register(t, "Ann", "ann@x.com", "pw1")

	require.NotEmpty(t, res.User.ID)
	assert.Equal(t, "Ann", res.User.Name)
	assert.Equal(t, "ann@x.com", res.User.Email)
	assert.NotEqual(t, "pw1", res.User.PasswordHash)
	assert.NotContains(t, res.User.PasswordHash, "pw1")
	assert.True(t, f.hasher.Verify("pw1", res.User.PasswordHash))

	id, err := f.tokens.Verify(res.Token.Value)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, id)

	require.Len(t, f.events, 1)
	assert.Equal(t, events.EventUserRegistered, f.events[0].Type)
}

func TestRegisterKeepsProfileImage(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "Ann", Email: "ann@x.com", Password: "pw1", ProfileImageURL: "http://img/1.png",
	})

	require.NoError(t, err)
	assert.Equal(t, "http://img/1.png", res.User.ProfileImageURL)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Ann", "ann@x.com", "pw1")
	hashes := f.hasher.hashes.Load()

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "Other", Email: "ann@x.com", Password: "zzz"})

	assert.ErrorIs(t, err, ErrDuplicateIdentity)
	assert.Equal(t, apperrors.CodeDuplicateIdentity, codeOf(err))
	assert.Equal(t, hashes, f.hasher.hashes.Load(), "duplicate check must run before hashing")
	assert.Equal(t, 1, f.users.count())

	_, err = f.svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: "pw1"})
	assert.NoError(t, err, "original credentials still work")
}

func TestRegisterDuplicateEmailIgnoresCase(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Ann", "Ann@X.com", "pw1")

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "Ann", Email: " ann@x.COM ", Password: "pw1"})

	assert.ErrorIs(t, err, ErrDuplicateIdentity)
}

func TestRegisterConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Register(context.Background(), RegisterInput{Name: "A", Email: "race@x.com", Password: "pw"})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateIdentity)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.users.count())
}

func TestRegisterStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.users.failOn = errors.New("connection refused")

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "A", Email: "a@x.com", Password: "pw"})

	assert.Equal(t, apperrors.CodeInternal, codeOf(err))
	assert.Equal(t, "Server error", apperrors.ToDomainError(err).Message)
}

func TestRegisterIssueFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.svc.tokens = issuerFunc(func(string) (domain.Token, error) { return domain.Token{}, errors.New("sign failed") })

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "A", Email: "a@x.com", Password: "pw"})

	assert.Equal(t, apperrors.CodeInternal, codeOf(err))
}

func TestRegisterRejectsOverlongPassword(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "A", Email: "a@x.com", Password: strings.Repeat("p", 73)})

	assert.Equal(t, apperrors.CodeValidation, codeOf(err))
	assert.Zero(t, f.users.count())
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "Ann", "ann@x.com", "pw1")

	res, err := f.svc.Login(context.Background(), LoginInput{Email: "ANN@x.com", Password: "pw1", ClientIP: "10.0.0.1"})

	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	assert.Equal(t, "Ann", res.User.Name)
	id, err := f.tokens.Verify(res.Token.Value)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, id)
	assert.Equal(t, events.EventUserLoggedIn, f.events[len(f.events)-1].Type)
}

func TestLoginRejectsPasswordExtendedPastLimit(t *testing.T) {
	f := newFixture(t)
	password := strings.Repeat("a", auth.MaxPasswordBytes)
	f.register(t, "Ann", "ann@x.com", password)

	_, err := f.svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: password + "DIFFERENT-SUFFIX"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: password})
	assert.NoError(t, err)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Ann", "ann@x.com", "pw1")

	_, wrongPassword := f.svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: "nope"})
	_, unknownEmail := f.svc.Login(context.Background(), LoginInput{Email: "ghost@x.com", Password: "pw1"})

	require.Error(t, wrongPassword)
	require.Error(t, unknownEmail)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
	assert.Equal(t, apperrors.CodeInvalidCredentials, codeOf(wrongPassword))
	assert.Equal(t, apperrors.ToDomainError(wrongPassword).HTTPStatus, apperrors.ToDomainError(unknownEmail).HTTPStatus)
}

func TestLoginThrottle(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Ann", "ann@x.com", "pw1")

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: "bad"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := f.svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: "pw1"})
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	f.attempts.counts = map[string]int{}
	_, err = f.svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: "pw1"})
	assert.NoError(t, err)
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Ann", "ann@x.com", "pw1")

	_, _ = f.svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: "bad"})
	_, err := f.svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: "pw1"})

	require.NoError(t, err)
	assert.Zero(t, f.attempts.counts["ann@x.com"])
}

func TestLoginThrottleUnavailableFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Ann", "ann@x.com", "pw1")
	f.attempts.err = errors.New("redis down")

	_, err := f.svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: "pw1"})

	assert.NoError(t, err)
}

func TestLoginWithoutThrottle(t *testing.T) {
	users := newMemUserRepo()
	svc := NewAuthService(config.AuthConfig{JWTSecret: testSecret, BcryptCost: bcrypt.MinCost}, AuthDependencies{UserRepo: users})
	_, err := svc.Register(context.Background(), RegisterInput{Name: "A", Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err = svc.Login(context.Background(), LoginInput{Email: "a@x.com", Password: "bad"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err = svc.Login(context.Background(), LoginInput{Email: "a@x.com", Password: "pw"})
	assert.NoError(t, err)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "Ann", "ann@x.com", "pw1")

	user, err := f.svc.Profile(context.Background(), reg.User.ID)

	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, user.ID)
	assert.Equal(t, "Ann", user.Name)
	assert.Equal(t, "ann@x.com", user.Email)
	assert.Empty(t, user.PasswordHash)
	assert.False(t, user.CreatedAt.IsZero())
}

func TestProfileDeletedUser(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "Ann", "ann@x.com", "pw1")
	f.users.delete(reg.User.ID)

	_, err := f.svc.Profile(context.Background(), reg.User.ID)

	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, apperrors.CodeNotFound, codeOf(err))
	assert.Equal(t, "User not Found", apperrors.ToDomainError(err).Message)
}

func TestProfileStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.users.failOn = errors.New("timeout")

	_, err := f.svc.Profile(context.Background(), "any")

	assert.Equal(t, apperrors.CodeInternal, codeOf(err))
}

func TestNewAuthServiceDefaults(t *testing.T) {
	svc := NewAuthService(config.AuthConfig{JWTSecret: testSecret}, AuthDependencies{UserRepo: newMemUserRepo()})

	assert.NotNil(t, svc.hasher)
	assert.NotNil(t, svc.tokens)
	assert.NotNil(t, svc.logger)
}
