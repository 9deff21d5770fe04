// Package auth owns the lifecycle of gateway sessions: creation through an
// API key or the CLI identity, lazy refresh of expiring oidc tokens, and
// removal. The serialized list in the secret store is the only source of
// truth; every read re-derives from it.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ai-gateway/internal/oidc"
	"ai-gateway/internal/secrets"
)

const (
	// SessionsKey is the secret store key holding the JSON session list.
	SessionsKey = "ai-gateway.sessions"

	// DefaultRefreshWindow is how long before expiry an oidc session is
	// renewed.
	DefaultRefreshWindow = 5 * time.Minute
)

var tracer = otel.Tracer("ai-gateway/internal/auth")

// Options configures a Store. Secrets is required; Delegate and Prompter
// are only needed for oidc refresh and CreateSession respectively.
type Options struct {
	Secrets       secrets.Store
	Delegate      Delegate
	Prompter      Prompter
	RefreshWindow time.Duration
	Now           func() time.Time
	NewID         func() string
	Logger        logrus.FieldLogger
	Registerer    prometheus.Registerer
}

// Store is the single authority for reading, refreshing, creating and
// removing sessions.
//
// Writes are whole-list replacements without a version check. Within one
// Store they are serialised; two processes writing the same secret store
// race and the later write wins.
type Store struct {
	secrets  secrets.Store
	delegate Delegate
	prompter Prompter
	window   time.Duration
	now      func() time.Time
	newID    func() string
	log      logrus.FieldLogger
	metrics  *metrics

	mu sync.Mutex

	listenersMu  sync.Mutex
	nextListener int
	listeners    map[int]func(SessionsChangeEvent)

	// written is the last payload this store wrote. A notification whose
	// stored value still equals it carries no outside change.
	writtenMu   sync.Mutex
	written     string
	stopForward func()
}

// NewStore creates a Store and starts forwarding secret store changes of
// SessionsKey to subscribers.
func NewStore(opts Options) *Store {
	s := &Store{
		secrets:   opts.Secrets,
		delegate:  opts.Delegate,
		prompter:  opts.Prompter,
		window:    opts.RefreshWindow,
		now:       opts.Now,
		newID:     opts.NewID,
		log:       opts.Logger,
		metrics:   newMetrics(opts.Registerer),
		listeners: make(map[int]func(SessionsChangeEvent)),
	}
	if s.window <= 0 {
		s.window = DefaultRefreshWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}

	s.stopForward = s.secrets.OnDidChange(func(key string) {
		if key != SessionsKey || s.ownPayload() {
			return
		}
		s.log.Debug("session list changed outside this store")
		s.fire(SessionsChangeEvent{})
	})
	return s
}

// ownPayload reports whether the stored list is the one this store last
// wrote.
func (s *Store) ownPayload() bool {
	raw, ok, err := s.secrets.Get(context.Background(), SessionsKey)
	if err != nil {
		return false
	}
	s.writtenMu.Lock()
	defer s.writtenMu.Unlock()
	return ok && s.written != "" && raw == s.written
}

func (s *Store) setWritten(payload string) (previous string) {
	s.writtenMu.Lock()
	defer s.writtenMu.Unlock()
	previous, s.written = s.written, payload
	return previous
}

// Close stops forwarding secret store notifications.
func (s *Store) Close() {
	if s.stopForward != nil {
		s.stopForward()
	}
}

// Subscribe registers fn for change events and returns its unsubscribe
// function.
func (s *Store) Subscribe(fn func(SessionsChangeEvent)) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// fire delivers ev to every listener. Callers must not hold s.mu, so
// listeners may call back into the store.
func (s *Store) fire(ev SessionsChangeEvent) {
	s.listenersMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(SessionsChangeEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// GetSessions returns the stored sessions, refreshing every oidc session
// that expires within the refresh window first.
//
// A missing or corrupt list yields no sessions. A failed refresh keeps the
// stale session. Only a failing secret store read is returned as an error.
func (s *Store) GetSessions(ctx context.Context) ([]Session, error) {
	ctx, span := tracer.Start(ctx, "auth.GetSessions")
	defer span.End()

	sessions, changed, err := s.refreshExpiring(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("sessions.count", len(sessions)),
		attribute.Int("sessions.refreshed", len(changed)),
	)
	if len(changed) > 0 {
		s.fire(SessionsChangeEvent{Changed: changed})
	}
	return sessions, nil
}

// refreshExpiring reads the list under s.mu, refreshes expiring sessions
// and persists them. changed is only non-empty when the write succeeded.
func (s *Store) refreshExpiring(ctx context.Context) (sessions, changed []Session, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err = s.read(ctx)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	for i, session := range sessions {
		if !s.needsRefresh(session, now) {
			continue
		}
		refreshed, err := s.refresh(ctx, session)
		if err != nil {
			s.metrics.refreshes.WithLabelValues("failure").Inc()
			s.log.WithFields(logrus.Fields{
				"session_id": session.ID,
				"expires_at": time.UnixMilli(session.OIDCData.ExpiresAt).UTC().Format(time.RFC3339),
			}).WithError(err).Warn("session refresh failed, serving stale token")
			continue
		}
		s.metrics.refreshes.WithLabelValues("success").Inc()
		sessions[i] = refreshed
		changed = append(changed, refreshed)
	}

	if len(changed) > 0 {
		if err := s.write(ctx, sessions); err != nil {
			s.log.WithError(err).Error("failed to persist refreshed sessions")
			changed = nil
		}
	}
	return cloneAll(sessions), cloneAll(changed), nil
}

func (s *Store) needsRefresh(session Session, now time.Time) bool {
	if session.Method != MethodOIDC || session.OIDCData == nil {
		return false
	}
	return session.OIDCData.ExpiresAt-now.UnixMilli() < s.window.Milliseconds()
}

// refresh returns an updated copy of session; session itself is untouched
// so a failure leaves no partial state behind.
func (s *Store) refresh(ctx context.Context, session Session) (Session, error) {
	if s.delegate == nil {
		return Session{}, fmt.Errorf("no identity delegate configured")
	}
	data := session.OIDCData
	tok, err := s.delegate.Refresh(ctx, oidc.Project{
		ProjectID:   data.ProjectID,
		ProjectName: data.ProjectName,
		TeamID:      data.TeamID,
		TeamName:    data.TeamName,
	})
	if err != nil {
		return Session{}, err
	}

	out := session.clone()
	out.AccessToken = tok.AccessToken
	out.OIDCData.ExpiresAt = tok.ExpiresAt
	if tok.ProjectID != "" {
		out.OIDCData.ProjectID = tok.ProjectID
	}
	if tok.ProjectName != "" {
		out.OIDCData.ProjectName = tok.ProjectName
	}
	if tok.TeamID != "" {
		out.OIDCData.TeamID = tok.TeamID
	}
	if tok.TeamName != "" {
		out.OIDCData.TeamName = tok.TeamName
	}
	s.log.WithField("session_id", out.ID).Info("refreshed oidc session")
	return out, nil
}

// CreateSession interactively creates a session and appends it to the
// stored list. Prompt and delegate errors are returned as is.
func (s *Store) CreateSession(ctx context.Context, scopes []string) (Session, error) {
	if s.prompter == nil {
		return Session{}, fmt.Errorf("create session: no prompter configured")
	}
	method, err := s.prompter.ChooseMethod(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("choose authentication method: %w", err)
	}

	var session Session
	switch method {
	case MethodAPIKey:
		session, err = s.apiKeySession(ctx)
	case MethodOIDC:
		session, err = s.oidcSession(ctx)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if err != nil {
		return Session{}, err
	}
	session.ID = s.newID()
	session.Scopes = append([]string{}, scopes...)

	if err := s.appendSession(ctx, session); err != nil {
		return Session{}, err
	}

	s.metrics.sessionsCreated.WithLabelValues(string(session.Method)).Inc()
	s.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"method":     session.Method,
	}).Info("created session")
	s.fire(SessionsChangeEvent{Added: []Session{session.clone()}})
	return session.clone(), nil
}

func (s *Store) appendSession(ctx context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.read(ctx)
	if err != nil {
		return err
	}
	sessions = append(sessions, session)
	if err := s.write(ctx, sessions); err != nil {
		return fmt.Errorf("persist new session: %w", err)
	}
	return nil
}

func (s *Store) apiKeySession(ctx context.Context) (Session, error) {
	label, err := s.prompter.Label(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("read session label: %w", err)
	}
	key, err := s.prompter.APIKey(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("read API key: %w", err)
	}
	if strings.TrimSpace(key) == "" {
		return Session{}, ErrEmptyAPIKey
	}
	if strings.TrimSpace(label) == "" {
		label = "API key"
	}
	return Session{
		AccessToken: key,
		Account:     Account{ID: label, Label: label},
		Method:      MethodAPIKey,
	}, nil
}

func (s *Store) oidcSession(ctx context.Context) (Session, error) {
	if s.delegate == nil {
		return Session{}, fmt.Errorf("no identity delegate configured")
	}
	tok, err := s.delegate.Login(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("oidc login: %w", err)
	}

	account := Account{ID: tok.TeamID, Label: tok.TeamName}
	if account.ID == "" {
		account.ID = tok.ProjectID
	}
	if account.Label == "" {
		account.Label = tok.ProjectName
	}
	if account.Label == "" {
		account.Label = account.ID
	}
	return Session{
		AccessToken: tok.AccessToken,
		Account:     account,
		Method:      MethodOIDC,
		OIDCData: &OIDCData{
			ProjectID:   tok.ProjectID,
			ProjectName: tok.ProjectName,
			TeamID:      tok.TeamID,
			TeamName:    tok.TeamName,
			ExpiresAt:   tok.ExpiresAt,
		},
	}, nil
}

// RemoveSession deletes the session with id. Unknown ids are a no-op.
func (s *Store) RemoveSession(ctx context.Context, id string) error {
	removed, err := s.removeByID(ctx, id)
	if err != nil || len(removed) == 0 {
		return err
	}
	s.log.WithField("session_id", id).Info("removed session")
	s.fire(SessionsChangeEvent{Removed: removed})
	return nil
}

func (s *Store) removeByID(ctx context.Context, id string) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	kept := make([]Session, 0, len(sessions))
	var removed []Session
	for _, session := range sessions {
		if session.ID == id {
			removed = append(removed, session)
			continue
		}
		kept = append(kept, session)
	}
	if len(removed) == 0 {
		return nil, nil
	}

	if err := s.write(ctx, kept); err != nil {
		return nil, fmt.Errorf("persist session removal: %w", err)
	}
	return cloneAll(removed), nil
}

// Token returns the access token of session id, refreshing it first when
// it is about to expire.
func (s *Store) Token(ctx context.Context, id string) (string, error) {
	sessions, err := s.GetSessions(ctx)
	if err != nil {
		return "", err
	}
	for _, session := range sessions {
		if session.ID == id {
			return session.AccessToken, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// read loads the stored list. A corrupt payload is logged and treated as
// empty.
func (s *Store) read(ctx context.Context) ([]Session, error) {
	raw, ok, err := s.secrets.Get(ctx, SessionsKey)
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	if !ok || raw == "" {
		return []Session{}, nil
	}

	var stored []Session
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.metrics.corruptReads.Inc()
		s.log.WithError(err).Warn("stored session list is corrupt, treating as empty")
		return []Session{}, nil
	}

	sessions := make([]Session, 0, len(stored))
	seen := make(map[string]struct{}, len(stored))
	for _, session := range stored {
		if !session.valid() {
			s.log.WithField("session_id", session.ID).Warn("dropping malformed stored session")
			continue
		}
		if _, dup := seen[session.ID]; dup {
			s.log.WithField("session_id", session.ID).Warn("dropping duplicate stored session")
			continue
		}
		seen[session.ID] = struct{}{}
		if session.Scopes == nil {
			session.Scopes = []string{}
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *Store) write(ctx context.Context, sessions []Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	previous := s.setWritten(string(data))
	if err := s.secrets.Set(ctx, SessionsKey, string(data)); err != nil {
		s.setWritten(previous)
		return err
	}
	return nil
}

func cloneAll(sessions []Session) []Session {
	out := make([]Session, len(sessions))
	for i, session := range sessions {
		out[i] = session.clone()
	}
	return out
}
