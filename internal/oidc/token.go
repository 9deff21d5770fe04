package oidc

import (
	"encoding/json"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	// DefaultTokenLifetime is assumed when an exchanged token carries no
	// usable exp claim.
	DefaultTokenLifetime = 12 * time.Hour
)

// Token is the result of a successful exchange.
type Token struct {
	AccessToken string
	// ExpiresAt is epoch milliseconds.
	ExpiresAt int64
	Project
}

// ExpiryFromToken returns the expiry of a JWT-shaped token in epoch
// milliseconds. The signature is not verified; only the payload segment is
// decoded. Tokens without a numeric exp claim get now+DefaultTokenLifetime.
func ExpiryFromToken(token string, now time.Time) int64 {
	if exp, ok := expClaim(token); ok {
		return exp * 1000
	}
	return now.Add(DefaultTokenLifetime).UnixMilli()
}

// maxExp is the largest exp, in seconds, whose millisecond value fits in
// an int64.
const maxExp = math.MaxInt64 / 1000

func expClaim(token string) (int64, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}

	switch exp := claims["exp"].(type) {
	case float64:
		if math.IsNaN(exp) || math.IsInf(exp, 0) || exp <= 0 || exp >= maxExp {
			return 0, false
		}
		return int64(exp), true
	case json.Number:
		v, err := exp.Int64()
		if err != nil || v <= 0 || v > maxExp {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}
