package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-access-secret-key-for-testing-purposes"

func TestNewService(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	assert.NotNil(t, service)
	assert.Equal(t, testSecret, service.secret)
	assert.Equal(t, time.Hour, service.expiry)
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	service := NewService(testSecret, time.Hour)
	userID := uuid.New()
	roles := []string{"user", "owner"}

	token, err := service.GenerateAccessToken(userID, "renter@example.com", roles)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "renter@example.com", claims.Email)
	assert.Equal(t, roles, claims.Roles)
	assert.Equal(t, issuer, claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	service := NewService(testSecret, time.Hour)
	token, err := service.GenerateAccessToken(uuid.New(), "a@example.com", []string{"user"})
	require.NoError(t, err)

	_, err = NewService("another-secret", time.Hour).ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestValidateAccessToken_Malformed(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	_, err := service.ValidateAccessToken("invalid.token.here")
	assert.Error(t, err)

	_, err = service.ValidateAccessToken("")
	assert.Error(t, err)
}

func TestValidateAccessToken_NilUser(t *testing.T) {
	service := NewService(testSecret, time.Hour)
	token, err := service.GenerateAccessToken(uuid.Nil, "a@example.com", []string{"user"})
	require.NoError(t, err)

	_, err = service.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	service := NewService(testSecret, -time.Hour)
	token, err := service.GenerateAccessToken(uuid.New(), "a@example.com", []string{"user"})
	require.NoError(t, err)

	_, err = service.ValidateAccessToken(token)
	assert.Error(t, err)
	assert.True(t, service.IsTokenExpired(token))
}

func TestIsTokenExpired(t *testing.T) {
	service := NewService(testSecret, time.Hour)
	token, err := service.GenerateAccessToken(uuid.New(), "a@example.com", []string{"user"})
	require.NoError(t, err)

	assert.False(t, service.IsTokenExpired(token))
	assert.True(t, service.IsTokenExpired("invalid.token.here"))
}

func TestRejectsNonHMACToken(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	claims := Claims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = service.ValidateAccessToken(unsigned)
	assert.Error(t, err)
}

func TestConcurrentTokenGeneration(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	done := make(chan bool)
	errs := make(chan error, 50)

	for i := 0; i < 50; i++ {
		go func() {
			defer func() { done <- true }()

			token, err := service.GenerateAccessToken(uuid.New(), "a@example.com", []string{"user"})
			if err != nil {
				errs <- err
				return
			}
			if _, err := service.ValidateAccessToken(token); err != nil {
				errs <- err
			}
		}()
	}

	for i := 0; i < 50; i++ {
		<-done
	}

	close(errs)
	assert.Empty(t, errs)
}
