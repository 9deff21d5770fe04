package oidc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenInfo describes a bearer token for debugging.
type TokenInfo struct {
	Length    int
	JWT       bool
	Algorithm string
	Subject   string
	Issuer    string
	// ExpiresAt is zero when the token has no usable exp claim.
	ExpiresAt time.Time
	// Claims lists the claim names, sorted.
	Claims   []string
	Warnings []string
}

// Expired reports whether the token expired before now.
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// InspectToken decodes token without verifying its signature.
func InspectToken(token string) (TokenInfo, error) {
	if token == "" {
		return TokenInfo{}, errors.New("token is empty")
	}
	info := TokenInfo{Length: len(token)}

	if strings.HasPrefix(token, "Bearer ") {
		info.Warnings = append(info.Warnings, "token starts with a 'Bearer ' prefix, which is added by the client")
		token = strings.TrimPrefix(token, "Bearer ")
	}

	claims := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		info.Warnings = append(info.Warnings, "token is not a JWT; expiry falls back to the default lifetime")
		return info, nil
	}

	info.JWT = true
	info.Algorithm = fmt.Sprint(parsed.Header["alg"])
	info.Subject, _ = claims["sub"].(string)
	info.Issuer, _ = claims["iss"].(string)
	if exp, ok := expClaim(token); ok {
		info.ExpiresAt = time.Unix(exp, 0)
	} else {
		info.Warnings = append(info.Warnings, "token has no exp claim")
	}
	for name := range claims {
		info.Claims = append(info.Claims, name)
	}
	sort.Strings(info.Claims)
	return info, nil
}
