package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestGenerateAndValidate(t *testing.T) {
	s := NewJWTService(testSecret, 1)
	id := uuid.New()

	token, err := s.Generate(id, "a@example.com", "staff")
	require.NoError(t, err)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "staff", claims.Role)
	assert.Equal(t, id.String(), claims.Subject)
}

func TestValidateRejects(t *testing.T) {
	s := NewJWTService(testSecret, 1)
	token, err := s.Generate(uuid.New(), "a@example.com", "user")
	require.NoError(t, err)

	other := NewJWTService("ffffffffffffffffffffffffffffffff", 1)
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTService(testSecret, 1)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: uuid.New()}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Validate(none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
