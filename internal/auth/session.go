package auth

import (
	"context"
	"errors"

	"ai-gateway/internal/oidc"
)

// Method tags how a session's credential was obtained.
type Method string

const (
	// MethodAPIKey sessions hold a key entered by the user. They never expire.
	MethodAPIKey Method = "api-key"
	// MethodOIDC sessions hold a project token minted from the CLI identity
	// and are refreshed before they expire.
	MethodOIDC Method = "oidc"
)

var (
	// ErrSessionNotFound is returned by Token for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrEmptyAPIKey is returned by CreateSession when no key was entered.
	ErrEmptyAPIKey = errors.New("API key must not be empty")
	// ErrUnknownMethod is returned for a method other than api-key or oidc.
	ErrUnknownMethod = errors.New("unknown authentication method")
)

// Account is the display identity of a session.
type Account struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// OIDCData is carried only by oidc sessions.
type OIDCData struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName,omitempty"`
	TeamID      string `json:"teamId,omitempty"`
	TeamName    string `json:"teamName,omitempty"`
	// ExpiresAt is epoch milliseconds.
	ExpiresAt int64 `json:"expiresAt"`
}

// Session is a persisted credential record.
type Session struct {
	ID          string    `json:"id"`
	AccessToken string    `json:"accessToken"`
	Account     Account   `json:"account"`
	Scopes      []string  `json:"scopes"`
	Method      Method    `json:"method"`
	OIDCData    *OIDCData `json:"oidcData,omitempty"`
}

// clone returns a deep copy so refreshed values never alias stored ones.
func (s Session) clone() Session {
	out := s
	out.Scopes = append([]string{}, s.Scopes...)
	if s.OIDCData != nil {
		data := *s.OIDCData
		out.OIDCData = &data
	}
	return out
}

// valid reports whether s satisfies the method/oidcData invariants.
func (s Session) valid() bool {
	if s.ID == "" {
		return false
	}
	switch s.Method {
	case MethodAPIKey:
		return s.OIDCData == nil
	case MethodOIDC:
		return s.OIDCData != nil
	default:
		return false
	}
}

// SessionsChangeEvent describes a mutation of the stored session list.
// An event with all sets empty means the list changed outside this
// process and should be re-read.
type SessionsChangeEvent struct {
	Added   []Session `json:"added"`
	Removed []Session `json:"removed"`
	Changed []Session `json:"changed"`
}

// Delegate mints tokens from the locally installed CLI's identity.
type Delegate interface {
	Login(ctx context.Context) (oidc.Token, error)
	Refresh(ctx context.Context, project oidc.Project) (oidc.Token, error)
}

// Prompter collects the interactive input of CreateSession.
type Prompter interface {
	ChooseMethod(ctx context.Context) (Method, error)
	Label(ctx context.Context) (string, error)
	APIKey(ctx context.Context) (string, error)
}
