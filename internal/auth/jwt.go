package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtExpiry recovers the expiry from a JWT access token's exp claim when
// the credential carries no explicit expiry. The token is parsed without
// signature verification; we only need the timestamp, not trust in it.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
