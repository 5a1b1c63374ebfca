package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/security"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/service"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) TouchLastSeen(ctx context.Context, id int64, at time.Time) error {
	return nil
}

func TestRegister(t *testing.T) {
	mockRepo := new(MockUserRepo)
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4)

	svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

	t.Run("Success", func(t *testing.T) {
		input := service.RegisterInput{
			Username:    "newuser",
			DisplayName: "New User",
			Password:    "Password1!",
		}

		mockRepo.On("GetByUsername", mock.Anything, "newuser").Return(nil, domain.ErrNotFound)
		mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Username == "newuser" && u.IsActive && u.HashedPassword != "Password1!"
		})).Return(nil)

		user, err := svc.Register(context.Background(), input)
		assert.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "New User", user.Name())
	})

	t.Run("UsernameTaken", func(t *testing.T) {
		input := service.RegisterInput{
			Username: "existing",
			Password: "Password1!",
		}

		existing := &domain.User{Username: "existing"}
		mockRepo.On("GetByUsername", mock.Anything, "existing").Return(existing, nil)

		user, err := svc.Register(context.Background(), input)
		assert.Error(t, err)
		assert.Nil(t, user)
		assert.Equal(t, domain.ErrConflict, err)
	})

	t.Run("ShortPassword", func(t *testing.T) {
		_, err := svc.Register(context.Background(), service.RegisterInput{Username: "x", Password: "short"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Contains(t, err.Error(), "at least 8 characters")
	})
}

func TestLoginAndAuthenticate(t *testing.T) {
	mockRepo := new(MockUserRepo)
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4)
	svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

	hashed, err := hasher.Hash("Password1!")
	require.NoError(t, err)
	sara := &domain.User{ID: 7, Username: "sara", HashedPassword: hashed, IsActive: true}
	mockRepo.On("GetByUsername", mock.Anything, "sara").Return(sara, nil)
	mockRepo.On("GetByUsername", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)

	_, err = svc.Login(context.Background(), service.LoginInput{Username: "sara", Password: "wrong"})
	assert.ErrorIs(t, err, service.ErrBadCredentials)
	_, err = svc.Login(context.Background(), service.LoginInput{Username: "ghost", Password: "Password1!"})
	assert.ErrorIs(t, err, service.ErrBadCredentials)

	resp, err := svc.Login(context.Background(), service.LoginInput{Username: "sara", Password: "Password1!"})
	require.NoError(t, err)
	assert.Equal(t, "bearer", resp.TokenType)

	user, err := svc.Authenticate(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)

	_, err = svc.Authenticate(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
