package auth

import (
	"crypto/subtle"
	"strings"
)

// VerifyAppAPIKey checks if apiKey may access the gateway's own admin API.
// validKeys usually comes from the comma separated VALID_API_KEYS setting.
// When disabled is true every key is accepted.
//
// This guards requests to this application, not to the upstream provider.
func VerifyAppAPIKey(apiKey string, validKeys []string, disabled bool) bool {
	if disabled {
		return true
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return false
	}
	for _, key := range validKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// MaskToken masks a credential for display, keeping the first and last
// four characters.
func MaskToken(token string) string {
	if len(token) <= 10 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// Masked returns a copy of s safe to show in listings.
func (s Session) Masked() Session {
	out := s.clone()
	out.AccessToken = MaskToken(s.AccessToken)
	return out
}
