package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-gateway/internal/oidc"
	"ai-gateway/internal/secrets"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeDelegate struct {
	refreshCalls int
	loginCalls   int
	token        oidc.Token
	err          error
}

func (d *fakeDelegate) Refresh(_ context.Context, project oidc.Project) (oidc.Token, error) {
	d.refreshCalls++
	if d.err != nil {
		return oidc.Token{}, d.err
	}
	tok := d.token
	if tok.ProjectID == "" {
		tok.Project = project
	}
	return tok, nil
}

func (d *fakeDelegate) Login(_ context.Context) (oidc.Token, error) {
	d.loginCalls++
	if d.err != nil {
		return oidc.Token{}, d.err
	}
	return d.token, nil
}

type fakePrompter struct {
	method Method
	label  string
	key    string
	err    error
}

func (p fakePrompter) ChooseMethod(context.Context) (Method, error) { return p.method, p.err }
func (p fakePrompter) Label(context.Context) (string, error)        { return p.label, nil }
func (p fakePrompter) APIKey(context.Context) (string, error)       { return p.key, nil }

type harness struct {
	store    *Store
	secrets  *secrets.MemoryStore
	delegate *fakeDelegate
	events   []SessionsChangeEvent
	reg      *prometheus.Registry
}

func newHarness(t *testing.T, prompter Prompter) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	h := &harness{
		secrets:  secrets.NewMemoryStore(),
		delegate: &fakeDelegate{},
		reg:      prometheus.NewRegistry(),
	}
	ids := 0
	h.store = NewStore(Options{
		Secrets:  h.secrets,
		Delegate: h.delegate,
		Prompter: prompter,
		Now:      func() time.Time { return testNow },
		NewID: func() string {
			ids++
			return "generated-" + strconv.Itoa(ids)
		},
		Logger:     log,
		Registerer: h.reg,
	})
	t.Cleanup(h.store.Close)
	h.store.Subscribe(func(ev SessionsChangeEvent) { h.events = append(h.events, ev) })
	return h
}

func (h *harness) seed(t *testing.T, sessions ...Session) {
	t.Helper()
	data, err := json.Marshal(sessions)
	require.NoError(t, err)
	h.store.setWritten(string(data))
	require.NoError(t, h.secrets.Set(context.Background(), SessionsKey, string(data)))
}

func (h *harness) persisted(t *testing.T) []Session {
	t.Helper()
	raw, ok, err := h.secrets.Get(context.Background(), SessionsKey)
	require.NoError(t, err)
	require.True(t, ok)
	var out []Session
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func oidcSession(id, token string, expiresAt time.Time) Session {
	return Session{
		ID:          id,
		AccessToken: token,
		Account:     Account{ID: "team_1", Label: "Team"},
		Scopes:      []string{},
		Method:      MethodOIDC,
		OIDCData: &OIDCData{
			ProjectID: "prj_1",
			TeamID:    "team_1",
			ExpiresAt: expiresAt.UnixMilli(),
		},
	}
}

func apiKeySession(id, key string) Session {
	return Session{
		ID:          id,
		AccessToken: key,
		Account:     Account{ID: "work", Label: "work"},
		Scopes:      []string{},
		Method:      MethodAPIKey,
	}
}

func TestGetSessionsEmpty(t *testing.T) {
	h := newHarness(t, nil)

	got, err := h.store.GetSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestGetSessionsCorruptPayload(t *testing.T) {
	payloads := []string{
		"not json",
		"{",
		`{"id":"x"}`,
		`"string"`,
		`[1,2,3]`,
		`[{"id":1}]`,
		"\x00\x01",
		"null",
	}
	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			h := newHarness(t, nil)
			require.NoError(t, h.secrets.Set(context.Background(), SessionsKey, payload))

			got, err := h.store.GetSessions(context.Background())
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestGetSessionsDropsInvalidEntries(t *testing.T) {
	h := newHarness(t, nil)
	bad := apiKeySession("bad", "k")
	bad.OIDCData = &OIDCData{ProjectID: "p"}
	noData := oidcSession("no-data", "t", testNow)
	noData.OIDCData = nil
	h.seed(t, apiKeySession("a", "k1"), bad, noData, apiKeySession("a", "dup"))

	got, err := h.store.GetSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "k1", got[0].AccessToken)
}

func TestGetSessionsFreshOIDCNotRefreshed(t *testing.T) {
	h := newHarness(t, nil)
	fresh := oidcSession("s1", "tok", testNow.Add(24*time.Hour))
	h.seed(t, fresh)

	got, err := h.store.GetSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Session{fresh}, got)
	assert.Zero(t, h.delegate.refreshCalls)
	assert.Empty(t, h.events)
}

func TestGetSessionsRefreshesExpiring(t *testing.T) {
	h := newHarness(t, nil)
	newExpiry := testNow.Add(time.Hour).UnixMilli()
	h.delegate.token = oidc.Token{AccessToken: "new-token", ExpiresAt: newExpiry}
	h.seed(t, apiKeySession("k", "key"), oidcSession("s1", "old-token", testNow.Add(2*time.Minute)))

	got, err := h.store.GetSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "key", got[0].AccessToken)
	assert.Equal(t, "new-token", got[1].AccessToken)
	assert.Equal(t, newExpiry, got[1].OIDCData.ExpiresAt)
	assert.Equal(t, 1, h.delegate.refreshCalls)

	persisted := h.persisted(t)
	require.Len(t, persisted, 2)
	assert.Equal(t, "new-token", persisted[1].AccessToken)
	assert.Equal(t, newExpiry, persisted[1].OIDCData.ExpiresAt)

	require.Len(t, h.events, 1)
	require.Len(t, h.events[0].Changed, 1)
	assert.Equal(t, "s1", h.events[0].Changed[0].ID)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.store.metrics.refreshes.WithLabelValues("success")))

	// The rewritten expiry is past the window: no second refresh.
	_, err = h.store.GetSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.delegate.refreshCalls)
	assert.Len(t, h.events, 1)
}

func TestGetSessionsRefreshesAlreadyExpired(t *testing.T) {
	h := newHarness(t, nil)
	h.delegate.token = oidc.Token{AccessToken: "new-token", ExpiresAt: testNow.Add(time.Hour).UnixMilli()}
	h.seed(t, oidcSession("s1", "old-token", testNow.Add(-time.Hour)))

	got, err := h.store.GetSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-token", got[0].AccessToken)
}

func TestGetSessionsRefreshFailureKeepsStale(t *testing.T) {
	h := newHarness(t, nil)
	h.delegate.err = oidc.ErrNotLoggedIn
	stale := oidcSession("s1", "old-token", testNow.Add(time.Minute))
	h.seed(t, stale)

	got, err := h.store.GetSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale, got[0])
	assert.Empty(t, h.events)
	assert.Equal(t, "old-token", h.persisted(t)[0].AccessToken)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.store.metrics.refreshes.WithLabelValues("failure")))
}

func TestGetSessionsPartialRefresh(t *testing.T) {
	h := newHarness(t, nil)
	calls := 0
	h.store.delegate = delegateFunc(func(project oidc.Project) (oidc.Token, error) {
		calls++
		if calls == 1 {
			return oidc.Token{}, errors.New("boom")
		}
		return oidc.Token{AccessToken: "fresh", ExpiresAt: testNow.Add(time.Hour).UnixMilli()}, nil
	})
	h.seed(t,
		oidcSession("s1", "stale-1", testNow.Add(time.Minute)),
		oidcSession("s2", "stale-2", testNow.Add(time.Minute)),
	)

	got, err := h.store.GetSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stale-1", got[0].AccessToken)
	assert.Equal(t, "fresh", got[1].AccessToken)

	persisted := h.persisted(t)
	assert.Equal(t, "stale-1", persisted[0].AccessToken)
	assert.Equal(t, "fresh", persisted[1].AccessToken)
	require.Len(t, h.events, 1)
	assert.Len(t, h.events[0].Changed, 1)
}

type delegateFunc func(oidc.Project) (oidc.Token, error)

func (f delegateFunc) Refresh(_ context.Context, p oidc.Project) (oidc.Token, error) { return f(p) }
func (f delegateFunc) Login(context.Context) (oidc.Token, error)                     { return f(oidc.Project{}) }

func TestRemoveSession(t *testing.T) {
	h := newHarness(t, nil)
	keep, drop := apiKeySession("keep", "k1"), apiKeySession("drop", "k2")
	h.seed(t, keep, drop)

	require.NoError(t, h.store.RemoveSession(context.Background(), "drop"))

	assert.Equal(t, []Session{keep}, h.persisted(t))
	require.Len(t, h.events, 1)
	assert.Equal(t, []Session{drop}, h.events[0].Removed)
	assert.Empty(t, h.events[0].Added)
}

func TestRemoveSessionUnknownIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, apiKeySession("a", "k"))

	require.NoError(t, h.store.RemoveSession(context.Background(), "missing"))
	assert.Len(t, h.persisted(t), 1)
	assert.Empty(t, h.events)
}

func TestCreateSessionAPIKey(t *testing.T) {
	h := newHarness(t, fakePrompter{method: MethodAPIKey, label: "work", key: "vck_secret"})
	h.seed(t, apiKeySession("existing", "k"))

	got, err := h.store.CreateSession(context.Background(), []string{"chat"})
	require.NoError(t, err)

	assert.Equal(t, "generated-1", got.ID)
	assert.Equal(t, "vck_secret", got.AccessToken)
	assert.Equal(t, Account{ID: "work", Label: "work"}, got.Account)
	assert.Equal(t, []string{"chat"}, got.Scopes)
	assert.Nil(t, got.OIDCData)

	persisted := h.persisted(t)
	require.Len(t, persisted, 2)
	assert.Equal(t, got, persisted[1])

	require.Len(t, h.events, 1)
	assert.Equal(t, []Session{got}, h.events[0].Added)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.store.metrics.sessionsCreated.WithLabelValues("api-key")))
}

func TestCreateSessionStoresKeyVerbatim(t *testing.T) {
	h := newHarness(t, fakePrompter{method: MethodAPIKey, label: "work", key: " vck_secret\t"})

	got, err := h.store.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, " vck_secret\t", got.AccessToken)
	assert.Equal(t, " vck_secret\t", h.persisted(t)[0].AccessToken)
}

func TestCreateSessionEmptyKey(t *testing.T) {
	h := newHarness(t, fakePrompter{method: MethodAPIKey, label: "work", key: "  "})

	_, err := h.store.CreateSession(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyAPIKey)
	_, ok, _ := h.secrets.Get(context.Background(), SessionsKey)
	assert.False(t, ok, "nothing must be persisted")
}

func TestCreateSessionOIDC(t *testing.T) {
	h := newHarness(t, fakePrompter{method: MethodOIDC})
	expiry := testNow.Add(time.Hour).UnixMilli()
	h.delegate.token = oidc.Token{
		AccessToken: "oidc-token",
		ExpiresAt:   expiry,
		Project:     oidc.Project{ProjectID: "prj_1", ProjectName: "web", TeamID: "team_1", TeamName: "Acme"},
	}

	got, err := h.store.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, MethodOIDC, got.Method)
	assert.Equal(t, Account{ID: "team_1", Label: "Acme"}, got.Account)
	require.NotNil(t, got.OIDCData)
	assert.Equal(t, expiry, got.OIDCData.ExpiresAt)
	assert.Equal(t, []string{}, got.Scopes)
	assert.Equal(t, 1, h.delegate.loginCalls)
}

func TestCreateSessionOIDCNotLoggedIn(t *testing.T) {
	h := newHarness(t, fakePrompter{method: MethodOIDC})
	h.delegate.err = oidc.ErrNotLoggedIn

	_, err := h.store.CreateSession(context.Background(), nil)
	assert.ErrorIs(t, err, oidc.ErrNotLoggedIn)
	assert.Empty(t, h.events)
}

func TestCreateSessionPromptError(t *testing.T) {
	cancelled := errors.New("user cancelled")
	h := newHarness(t, fakePrompter{err: cancelled})

	_, err := h.store.CreateSession(context.Background(), nil)
	assert.ErrorIs(t, err, cancelled)
}

func TestCreateSessionUnknownMethod(t *testing.T) {
	h := newHarness(t, fakePrompter{method: "password"})

	_, err := h.store.CreateSession(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestToken(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, apiKeySession("a", "k1"))

	tok, err := h.store.Token(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "k1", tok)

	_, err = h.store.Token(context.Background(), "b")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExternalChangeIsForwarded(t *testing.T) {
	h := newHarness(t, nil)

	// A write that did not go through the store, e.g. another process.
	require.NoError(t, h.secrets.Set(context.Background(), SessionsKey, "[]"))
	require.NoError(t, h.secrets.Set(context.Background(), "unrelated", "x"))

	require.Len(t, h.events, 1)
	assert.Equal(t, SessionsChangeEvent{}, h.events[0])
}

func TestChangeFromAnotherStoreIsForwarded(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, apiKeySession("a", "k1"), apiKeySession("b", "k2"))

	log, _ := test.NewNullLogger()
	other := NewStore(Options{Secrets: h.secrets, Logger: log})
	t.Cleanup(other.Close)

	require.NoError(t, other.RemoveSession(context.Background(), "b"))

	require.Len(t, h.events, 1)
	assert.Equal(t, SessionsChangeEvent{}, h.events[0])

	// The store's own write afterwards is not reported as an outside change.
	require.NoError(t, h.store.RemoveSession(context.Background(), "a"))
	require.Len(t, h.events, 2)
	assert.Len(t, h.events[1].Removed, 1)
}

func TestListenerMayCallBackIntoStore(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, apiKeySession("a", "k1"), apiKeySession("b", "k2"))

	ctx := context.Background()
	var reread []Session
	calls := 0
	h.store.Subscribe(func(SessionsChangeEvent) {
		calls++
		if calls > 1 {
			return
		}
		sessions, err := h.store.GetSessions(ctx)
		assert.NoError(t, err)
		reread = sessions
		assert.NoError(t, h.store.RemoveSession(ctx, "b"))
	})

	done := make(chan error, 1)
	go func() { done <- h.store.RemoveSession(ctx, "a") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RemoveSession did not return while a listener re-read the store")
	}
	assert.Equal(t, []Session{apiKeySession("b", "k2")}, reread)
	assert.Empty(t, h.persisted(t))
	assert.Equal(t, 2, calls)
}

func TestReturnedSessionsDoNotAliasStore(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, oidcSession("s1", "tok", testNow.Add(time.Hour)))

	got, err := h.store.GetSessions(context.Background())
	require.NoError(t, err)
	got[0].OIDCData.ExpiresAt = 0

	again, err := h.store.GetSessions(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, again[0].OIDCData.ExpiresAt)
}
