package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/database"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/messhub/booking-engine/pkg/jwt"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestJWTService() *jwt.Service {
	return jwt.NewService("test-access-secret-key-123456789", time.Hour)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestAuthMiddleware_Success(t *testing.T) {
	jwtService := setupTestJWTService()
	router := setupTestRouter()

	userID := uuid.New()
	token, err := jwtService.GenerateAccessToken(userID, "renter@example.com", []string{models.RoleUser})
	require.NoError(t, err)

	router.GET("/protected", AuthMiddleware(jwtService, testLogger()), func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		require.True(t, exists)
		c.JSON(http.StatusOK, gin.H{
			"user_id": userCtx.UserID,
			"email":   userCtx.Email,
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
	assert.Contains(t, w.Body.String(), "renter@example.com")
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	jwtService := setupTestJWTService()
	expired, err := jwt.NewService("test-access-secret-key-123456789", -time.Hour).
		GenerateAccessToken(uuid.New(), "a@example.com", []string{models.RoleUser})
	require.NoError(t, err)
	foreign, err := jwt.NewService("some-other-secret", time.Hour).
		GenerateAccessToken(uuid.New(), "a@example.com", []string{models.RoleUser})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "MISSING_AUTH_HEADER"},
		{"basic scheme", "Basic abc", "INVALID_AUTH_FORMAT"},
		{"no token", "Bearer ", "INVALID_AUTH_FORMAT"},
		{"garbage token", "Bearer not.a.token", "INVALID_TOKEN"},
		{"expired token", "Bearer " + expired, "TOKEN_EXPIRED"},
		{"wrong secret", "Bearer " + foreign, "INVALID_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter()
			router.GET("/protected", AuthMiddleware(jwtService, testLogger()), func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
			})

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
			assert.NotContains(t, w.Body.String(), "should not reach here")
		})
	}
}

func TestGetUserContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, exists := GetUserContext(c)
	assert.False(t, exists)

	c.Set(UserContextKey, "not a user context")
	_, exists = GetUserContext(c)
	assert.False(t, exists)

	want := UserContext{UserID: uuid.New(), Email: "o@example.com", Roles: []string{models.RoleOwner}}
	c.Set(UserContextKey, want)
	got, exists := GetUserContext(c)
	assert.True(t, exists)
	assert.Equal(t, want, got)

	actor := got.Actor()
	assert.Equal(t, want.UserID, actor.UserID)
	assert.True(t, actor.HasRole(models.RoleOwner))
	assert.False(t, actor.IsAdmin())
}

func TestRequireRole(t *testing.T) {
	jwtService := setupTestJWTService()

	tests := []struct {
		name     string
		roles    []string
		required []string
		want     int
	}{
		{"has role", []string{models.RoleAdmin}, []string{models.RoleAdmin}, http.StatusOK},
		{"one of several", []string{models.RoleOwner}, []string{models.RoleAdmin, models.RoleOwner}, http.StatusOK},
		{"missing role", []string{models.RoleUser}, []string{models.RoleAdmin}, http.StatusForbidden},
		{"no roles", []string{}, []string{models.RoleUser}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwtService.GenerateAccessToken(uuid.New(), "a@example.com", tt.roles)
			require.NoError(t, err)

			router := setupTestRouter()
			router.GET("/admin", AuthMiddleware(jwtService, testLogger()), RequireRole(tt.required...), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequireRole_WithoutAuth(t *testing.T) {
	router := setupTestRouter()
	router.GET("/admin", RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "MISSING_USER_CONTEXT")
}

func TestRequireActiveAccount(t *testing.T) {
	jwtService := setupTestJWTService()
	store := database.NewMemoryStore()

	active := uuid.New()
	suspended := uuid.New()
	store.AddUser(models.User{ID: active, Email: "a@example.com", Role: models.RoleUser, IsActive: true})
	store.AddUser(models.User{ID: suspended, Email: "s@example.com", Role: models.RoleUser, IsActive: false})

	tests := []struct {
		name   string
		userID uuid.UUID
		want   int
		code   string
	}{
		{"active", active, http.StatusOK, ""},
		{"suspended", suspended, http.StatusForbidden, "ACCOUNT_SUSPENDED"},
		{"unknown", uuid.New(), http.StatusForbidden, "ACCOUNT_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwtService.GenerateAccessToken(tt.userID, "a@example.com", []string{models.RoleUser})
			require.NoError(t, err)

			router := setupTestRouter()
			router.POST("/bookings",
				AuthMiddleware(jwtService, testLogger()),
				RequireActiveAccount(store.Repositories().Users(), testLogger()),
				func(c *gin.Context) { c.Status(http.StatusOK) },
			)

			req := httptest.NewRequest(http.MethodPost, "/bookings", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.code != "" {
				assert.Contains(t, w.Body.String(), tt.code)
			}
		})
	}
}
