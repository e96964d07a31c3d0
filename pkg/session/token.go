package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is the cause reported when a stored token is past its expiry.
var ErrTokenExpired = errors.New("session: token expired")

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// The client cannot verify tokens; it only avoids sending one the backend
// will certainly reject. Opaque tokens report ok=false.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	date, err := claims.GetExpirationTime()
	if err != nil || date == nil {
		return time.Time{}, false
	}
	return date.Time, true
}

// TokenSubject reads the sub claim of a JWT without verifying it.
func TokenSubject(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// IsExpired reports whether token carries an exp claim earlier than now+leeway.
func IsExpired(token string, now time.Time, leeway time.Duration) bool {
	exp, ok := TokenExpiry(token)
	if !ok {
		return false
	}
	return !now.Add(leeway).Before(exp)
}
