package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBaseURL is the Vercel API host that mints project OIDC tokens.
	DefaultBaseURL = "https://api.vercel.com"

	refreshSource = "vercel-oidc-refresh"
)

var tracer = otel.Tracer("ai-gateway/internal/oidc")

// ExchangeError reports a non-2xx response from the token endpoint.
type ExchangeError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: %s - %s", e.Status, e.Body)
}

// Client exchanges the CLI identity for project OIDC tokens.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Files      FileReader
	// AuthPath is the CLI auth cache; see CLIAuthPath.
	AuthPath string
	// WorkDir is searched for .vercel/project.json on Login.
	WorkDir string
	// Project overrides the linked project on Login.
	Project Project
	Now     func() time.Time
	Log     logrus.FieldLogger
}

// NewClient returns a client with defaults for every unset dependency.
func NewClient(authPath string, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Files:      OSFiles,
		AuthPath:   authPath,
		Now:        time.Now,
		Log:        log,
	}
}

// Available reports whether the CLI is logged in.
func (c *Client) Available() bool {
	return CheckCLIAvailable(c.files(), c.AuthPath)
}

// Login resolves the linked project and mints its first token.
func (c *Client) Login(ctx context.Context) (Token, error) {
	project, err := LinkedProject(c.files(), c.WorkDir, c.Project)
	if err != nil {
		return Token{}, err
	}
	return c.Refresh(ctx, project)
}

// Refresh mints a new token for project. It fails with ErrNotLoggedIn,
// without any network call, when the CLI has no cached identity.
func (c *Client) Refresh(ctx context.Context, project Project) (Token, error) {
	ctx, span := tracer.Start(ctx, "oidc.Refresh", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("vercel.project_id", project.ProjectID))

	tok, err := c.refresh(ctx, project)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Token{}, err
	}
	return tok, nil
}

func (c *Client) refresh(ctx context.Context, project Project) (Token, error) {
	if project.ProjectID == "" {
		return Token{}, ErrProjectNotLinked
	}
	cliToken, err := ReadCLIToken(c.files(), c.AuthPath)
	if err != nil {
		return Token{}, err
	}

	endpoint, err := c.exchangeURL(project)
	if err != nil {
		return Token{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Authorization", "Bearer "+cliToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ai-gateway")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Token{}, &ExchangeError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Token{}, fmt.Errorf("decode token exchange response: %w", err)
	}
	if payload.Token == "" {
		return Token{}, errors.New("token exchange response carried no token")
	}

	expiresAt := ExpiryFromToken(payload.Token, c.now())
	c.log().WithFields(logrus.Fields{
		"project_id": project.ProjectID,
		"expires_at": time.UnixMilli(expiresAt).UTC().Format(time.RFC3339),
	}).Debug("exchanged CLI identity for project token")

	return Token{AccessToken: payload.Token, ExpiresAt: expiresAt, Project: project}, nil
}

func (c *Client) exchangeURL(project Project) (string, error) {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid token endpoint: %w", err)
	}
	u = u.JoinPath("v1", "projects", project.ProjectID, "token")
	q := url.Values{}
	q.Set("source", refreshSource)
	if project.TeamID != "" {
		q.Set("teamId", project.TeamID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) files() FileReader {
	if c.Files == nil {
		return OSFiles
	}
	return c.Files
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func (c *Client) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Client) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}
