package cardlink

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestTokenIdentity(t *testing.T) {
	t.Run("extracts subject", func(t *testing.T) {
		token := signedToken(t, jwt.MapClaims{"sub": "user-123"})
		id, err := TokenIdentity(token)
		require.NoError(t, err)
		assert.Equal(t, "user-123", id)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := TokenIdentity("")
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := TokenIdentity("not-a-jwt")
		assert.Error(t, err)
	})

	t.Run("missing subject claim", func(t *testing.T) {
		token := signedToken(t, jwt.MapClaims{"scope": "chat"})
		_, err := TokenIdentity(token)
		assert.Error(t, err)
	})
}
