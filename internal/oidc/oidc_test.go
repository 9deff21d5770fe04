package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFiles is an in-memory FileReader.
type memFiles map[string]string

func (m memFiles) ReadFile(name string) ([]byte, error) {
	data, ok := m[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(data), nil
}

const authPath = "/home/u/.local/share/com.vercel.cli/auth.json"

// signedToken mints an HS256 token with the given claims.
func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestCheckCLIAvailable(t *testing.T) {
	tests := []struct {
		name  string
		files memFiles
		want  bool
	}{
		{name: "missing file", files: memFiles{}, want: false},
		{name: "unparsable", files: memFiles{authPath: "{token"}, want: false},
		{name: "not an object", files: memFiles{authPath: `["token"]`}, want: false},
		{name: "null", files: memFiles{authPath: `null`}, want: false},
		{name: "no token field", files: memFiles{authPath: `{"other":"x"}`}, want: false},
		{name: "token field", files: memFiles{authPath: `{"token":"abc"}`}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckCLIAvailable(tt.files, authPath))
		})
	}
}

func TestReadCLIToken(t *testing.T) {
	tok, err := ReadCLIToken(memFiles{authPath: `{"token":" abc "}`}, authPath)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for name, content := range map[string]string{
		"empty token":   `{"token":""}`,
		"numeric token": `{"token":42}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCLIToken(memFiles{authPath: content}, authPath)
			assert.ErrorIs(t, err, ErrNotLoggedIn)
		})
	}
}

func TestCLIAuthPath(t *testing.T) {
	env := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}
	tests := []struct {
		name    string
		goos    string
		vars    map[string]string
		want    string
		wantErr bool
	}{
		{name: "linux default", goos: "linux", want: filepath.Join("/home/u", ".local", "share", "com.vercel.cli", "auth.json")},
		{name: "linux xdg", goos: "linux", vars: map[string]string{"XDG_DATA_HOME": "/data"}, want: filepath.Join("/data", "com.vercel.cli", "auth.json")},
		{name: "darwin", goos: "darwin", want: filepath.Join("/home/u", "Library", "Application Support", "com.vercel.cli", "auth.json")},
		{name: "windows", goos: "windows", vars: map[string]string{"APPDATA": `C:\AppData`}, want: filepath.Join(`C:\AppData`, "com.vercel.cli", "Data", "auth.json")},
		{name: "windows without appdata", goos: "windows", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cliAuthPath(tt.goos, env(tt.vars), "/home/u")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpiryFromToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour).Unix()

	assert.Equal(t, exp*1000, ExpiryFromToken(signedToken(t, jwt.MapClaims{"exp": exp}), now))

	fallback := now.Add(DefaultTokenLifetime).UnixMilli()
	assert.Equal(t, fallback, ExpiryFromToken(signedToken(t, jwt.MapClaims{"sub": "x"}), now), "missing exp")
	assert.Equal(t, fallback, ExpiryFromToken(signedToken(t, jwt.MapClaims{"exp": "soon"}), now), "non-numeric exp")
	assert.Equal(t, fallback, ExpiryFromToken("not-a-jwt", now), "opaque token")

	for _, huge := range []float64{9.3e15, 1e19, 1e300} {
		got := ExpiryFromToken(signedToken(t, jwt.MapClaims{"exp": huge}), now)
		assert.Equal(t, fallback, got, "exp %g does not fit in milliseconds", huge)
	}
}

func TestLinkedProject(t *testing.T) {
	files := memFiles{
		filepath.Join("/work", ".vercel", "project.json"): `{"projectId":"prj_1","orgId":"team_1"}`,
	}

	p, err := LinkedProject(files, "/work", Project{})
	require.NoError(t, err)
	assert.Equal(t, Project{ProjectID: "prj_1", TeamID: "team_1"}, p)

	p, err = LinkedProject(files, "/work", Project{ProjectID: "prj_env"})
	require.NoError(t, err)
	assert.Equal(t, "prj_env", p.ProjectID)

	_, err = LinkedProject(files, "/elsewhere", Project{})
	assert.ErrorIs(t, err, ErrProjectNotLinked)
}

func newTestClient(t *testing.T, srv *httptest.Server, files memFiles, now time.Time) *Client {
	t.Helper()
	log, _ := test.NewNullLogger()
	c := NewClient(authPath, log)
	c.BaseURL = srv.URL
	c.HTTPClient = srv.Client()
	c.Files = files
	c.Now = func() time.Time { return now }
	return c
}

func TestClientRefresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour).Unix()
	minted := signedToken(t, jwt.MapClaims{"exp": exp})

	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotAuth = r.URL.Path, r.URL.RawQuery, r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"token": minted})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, memFiles{authPath: `{"token":"cli-token"}`}, now)
	tok, err := c.Refresh(context.Background(), Project{ProjectID: "prj_1", TeamID: "team_1"})
	require.NoError(t, err)

	assert.Equal(t, "/v1/projects/prj_1/token", gotPath)
	assert.Equal(t, "source=vercel-oidc-refresh&teamId=team_1", gotQuery)
	assert.Equal(t, "Bearer cli-token", gotAuth)
	assert.Equal(t, minted, tok.AccessToken)
	assert.Equal(t, exp*1000, tok.ExpiresAt)
	assert.Equal(t, "team_1", tok.TeamID)
}

func TestClientRefreshWithoutExpClaim(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"opaque"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, memFiles{authPath: `{"token":"cli-token"}`}, now)
	tok, err := c.Refresh(context.Background(), Project{ProjectID: "prj_1"})
	require.NoError(t, err)
	assert.Greater(t, tok.ExpiresAt, now.UnixMilli(), "expiry must be in the future")
}

func TestClientRefreshNotLoggedInSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, memFiles{}, time.Now())
	_, err := c.Refresh(context.Background(), Project{ProjectID: "prj_1"})
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Zero(t, calls.Load())
}

func TestClientRefreshNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, memFiles{authPath: `{"token":"cli-token"}`}, time.Now())
	_, err := c.Refresh(context.Background(), Project{ProjectID: "prj_1"})

	var exErr *ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, http.StatusForbidden, exErr.StatusCode)
	assert.Equal(t, "forbidden", exErr.Body)
}

func TestClientLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"opaque"}`))
	}))
	defer srv.Close()

	files := memFiles{
		authPath: `{"token":"cli-token"}`,
		filepath.Join("/work", ".vercel", "project.json"): `{"projectId":"prj_1","orgId":"team_1"}`,
	}
	c := newTestClient(t, srv, files, time.Now())
	c.WorkDir = "/work"

	tok, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque", tok.AccessToken)
	assert.Equal(t, "prj_1", tok.ProjectID)
	assert.True(t, c.Available())
}
