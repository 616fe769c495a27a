package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/service"
	"github.com/utafrali/identity/internal/social"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/health"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) CreateUser(ctx context.Context, in service.CreateUserInput, role domain.Role) (*domain.ExternalUser, error) {
	args := m.Called(ctx, in, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExternalUser), args.Error(1)
}

func (m *mockService) CreateAnonymousUser(ctx context.Context, role domain.Role) (*domain.ExternalUser, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExternalUser), args.Error(1)
}

func (m *mockService) Login(ctx context.Context, in service.LoginInput) (*domain.ExternalUser, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExternalUser), args.Error(1)
}

func (m *mockService) SocialLogin(ctx context.Context, conn social.Connection) (*domain.ExternalUser, error) {
	args := m.Called(ctx, conn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExternalUser), args.Error(1)
}

func (m *mockService) GetUser(ctx context.Context, requester *domain.ExternalUser, id string) (*domain.ExternalUser, error) {
	args := m.Called(ctx, requester, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExternalUser), args.Error(1)
}

func (m *mockService) UpdateUser(ctx context.Context, requester *domain.ExternalUser, id string, in service.UpdateUserInput) (*domain.ExternalUser, error) {
	args := m.Called(ctx, requester, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExternalUser), args.Error(1)
}

func (m *mockService) DeleteUser(ctx context.Context, requester *domain.ExternalUser, id string) error {
	args := m.Called(ctx, requester, id)
	return args.Error(0)
}

func (m *mockService) SweepExpiredSessions(ctx context.Context, staleness time.Duration) (int, error) {
	args := m.Called(ctx, staleness)
	return args.Int(0), args.Error(1)
}

func (m *mockService) ResolveSession(ctx context.Context, token string) (*domain.ExternalUser, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExternalUser), args.Error(1)
}

func (m *mockService) LinkConnection(ctx context.Context, requester *domain.ExternalUser, userID, provider, providerUserID string) error {
	args := m.Called(ctx, requester, userID, provider, providerUserID)
	return args.Error(0)
}

func newTestRouter(svc *mockService) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(svc, nil, map[string]*social.ProfileClient{}, 30*time.Minute, logger)
	return NewRouter(h, health.NewHandler(), logger)
}

func doRequest(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateUserEndpoint(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	ext := &domain.ExternalUser{ID: "user-1", Email: "jo@example.com", Role: "authenticated", ActiveSession: "tok-1"}
	svc.On("CreateUser", mock.Anything, service.CreateUserInput{
		Email:    "jo@example.com",
		Password: "s3cret-password",
	}, domain.RoleAuthenticated).Return(ext, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/users", "", map[string]string{
		"email":    "jo@example.com",
		"password": "s3cret-password",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)

	var got struct {
		Data domain.ExternalUser `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "user-1", got.Data.ID)
	assert.Equal(t, "tok-1", got.Data.ActiveSession)
}

func TestCreateUserEndpoint_Conflict(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	svc.On("CreateUser", mock.Anything, mock.Anything, domain.RoleAuthenticated).
		Return(nil, apperrors.AlreadyExists("user", "email", "jo@example.com"))

	rec := doRequest(t, router, http.MethodPost, "/api/v1/users", "", map[string]string{
		"email":    "jo@example.com",
		"password": "s3cret-password",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ALREADY_EXISTS", resp.Error.Code)
}

func TestLoginEndpoint_Unauthorized(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	svc.On("Login", mock.Anything, mock.Anything).
		Return(nil, apperrors.Unauthorized("invalid email or password"))

	rec := doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "jo@example.com",
		"password": "wrong",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAnonymousEndpoint(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	ext := &domain.ExternalUser{ID: "anon-1", Role: "anonymous", ActiveSession: "tok-1"}
	svc.On("CreateAnonymousUser", mock.Anything, domain.RoleAnonymous).Return(ext, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/auth/anonymous", "", nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSocialLoginEndpoint_UnsupportedProvider(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/auth/social/myspace", "", map[string]string{
		"provider_user_id": "x",
		"access_token":     "y",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "SocialLogin", mock.Anything, mock.Anything)
}

func TestGetUserEndpoint_RequiresSession(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/users/user-1", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "GetUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetUserEndpoint(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	requester := &domain.ExternalUser{ID: "user-1", Role: "authenticated", ActiveSession: "tok-1"}
	svc.On("ResolveSession", mock.Anything, "tok-1").Return(requester, nil)
	svc.On("GetUser", mock.Anything, requester, "user-1").
		Return(&domain.ExternalUser{ID: "user-1", Role: "authenticated"}, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/users/user-1", "tok-1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Data domain.ExternalUser `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got.Data.ActiveSession)
}

func TestDeleteUserEndpoint(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	admin := &domain.ExternalUser{ID: "admin-1", Role: "administrator", ActiveSession: "tok-a"}
	svc.On("ResolveSession", mock.Anything, "tok-a").Return(admin, nil)
	svc.On("DeleteUser", mock.Anything, admin, "user-1").Return(nil)

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/users/user-1", "tok-a", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSweepEndpoint_RequiresAdmin(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	requester := &domain.ExternalUser{ID: "user-1", Role: "authenticated", ActiveSession: "tok-1"}
	svc.On("ResolveSession", mock.Anything, "tok-1").Return(requester, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/admin/sessions/sweep", "tok-1", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	svc.AssertNotCalled(t, "SweepExpiredSessions", mock.Anything, mock.Anything)
}

func TestSweepEndpoint(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	admin := &domain.ExternalUser{ID: "admin-1", Role: "administrator", ActiveSession: "tok-a"}
	svc.On("ResolveSession", mock.Anything, "tok-a").Return(admin, nil)
	svc.On("SweepExpiredSessions", mock.Anything, 30*time.Minute).Return(3, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/admin/sessions/sweep", "tok-a", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data sweepResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.UsersAffected)
}

func TestSweepEndpoint_StalenessOverride(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	admin := &domain.ExternalUser{ID: "admin-1", Role: "administrator", ActiveSession: "tok-a"}
	svc.On("ResolveSession", mock.Anything, "tok-a").Return(admin, nil)
	svc.On("SweepExpiredSessions", mock.Anything, 90*time.Minute).Return(0, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/admin/sessions/sweep?staleness_minutes=90", "tok-a", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestSweepEndpoint_BadStaleness(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	admin := &domain.ExternalUser{ID: "admin-1", Role: "administrator", ActiveSession: "tok-a"}
	svc.On("ResolveSession", mock.Anything, "tok-a").Return(admin, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/admin/sessions/sweep?staleness_minutes=-5", "tok-a", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "SweepExpiredSessions", mock.Anything, mock.Anything)
}

func TestLinkConnectionEndpoint(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	requester := &domain.ExternalUser{ID: "user-1", Role: "authenticated", ActiveSession: "tok-1"}
	svc.On("ResolveSession", mock.Anything, "tok-1").Return(requester, nil)
	svc.On("LinkConnection", mock.Anything, requester, "user-1", "facebook", "fb-123").Return(nil)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/users/user-1/connections", "tok-1", map[string]string{
		"provider":         "facebook",
		"provider_user_id": "fb-123",
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestValidationErrorBody(t *testing.T) {
	svc := new(mockService)
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/users", "", "not-json-object")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
