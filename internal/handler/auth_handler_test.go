package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/course-reg-api/internal/middleware"
	"github.com/opencampus/course-reg-api/internal/models"
	appErrors "github.com/opencampus/course-reg-api/pkg/errors"
)

type authServiceMock struct {
	loginResp   *models.LoginResponse
	loginErr    error
	userResp    *models.UserInfo
	userErr     error
	loginCalled bool
	lastLogin   models.LoginRequest
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.loginCalled = true
	m.lastLogin = req
	return m.loginResp, m.loginErr
}

func (m *authServiceMock) CurrentUser(ctx context.Context, claims *models.JWTClaims) (*models.UserInfo, error) {
	return m.userResp, m.userErr
}

func TestAuthHandlerLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{
		loginResp: &models.LoginResponse{
			AccessToken: "token",
			User:        models.UserInfo{ID: "user-1", Role: models.RoleStudent},
		},
	}
	h := NewAuthHandler(mockSvc)

	payload, _ := json.Marshal(models.LoginRequest{Email: "s1@example.edu", Password: "secret"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.loginCalled)
	assert.Equal(t, "s1@example.edu", mockSvc.lastLogin.Email)
}

func TestAuthHandlerLoginInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{}
	h := NewAuthHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Login(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.loginCalled)
}

func TestAuthHandlerLoginBadCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{loginErr: appErrors.ErrInvalidCredentials}
	h := NewAuthHandler(mockSvc)

	payload, _ := json.Marshal(models.LoginRequest{Email: "s1@example.edu", Password: "wrong"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Login(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{
		userResp: &models.UserInfo{ID: "user-1", Email: "s1@example.edu", Role: models.RoleStudent},
	}
	h := NewAuthHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/auth/me", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})

	h.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthHandlerMeWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandler(&authServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/auth/me", nil)
	c.Request = req

	h.Me(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
