package cardlink

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Identity
// ============================================================================

// TokenIdentity extracts the current-user id from a bearer token issued by
// the auth service. The token is treated as opaque apart from its subject
// claim; no signature verification happens here — the backend is the only
// party that validates credentials.
func TokenIdentity(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("decode bearer token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("bearer token has no subject claim")
	}
	return sub, nil
}
