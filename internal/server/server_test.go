package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raakeshmj/licensegate/internal/auth"
	"github.com/raakeshmj/licensegate/internal/config"
	"github.com/raakeshmj/licensegate/internal/db"
	"github.com/raakeshmj/licensegate/internal/policy"
	"github.com/raakeshmj/licensegate/internal/repository"
	"github.com/raakeshmj/licensegate/internal/repository/memory"
)

const (
	accountsDoc = `{
  "vip":  {"alice": {"password": "pw1", "hwid": "", "loginMessage": "hi alice"}, "bob": {"password": "pw2", "hwid": "free"}},
  "free": {"carl":  {"password": "pw3", "hwid": ""}}
}`
	tokensDoc = `{
  "tok-vip":   {"read": ["vip"], "write": []},
  "tok-admin": {"read": ["vip", "free"], "write": ["vip", "free"]}
}`
	signingKey = "sign-key"
)

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	blobs    *memory.MemoryRepository
	accounts *repository.DocumentStore
	signer   *auth.RequestAuthenticator
}

func newTestEnv(t *testing.T, policies ...policy.Policy) *testEnv {
	t.Helper()
	blobs := memory.New()
	blobs.Set("accounts.json", []byte(accountsDoc))
	blobs.Set("tokens.json", []byte(tokensDoc))
	accounts := repository.NewDocumentStore(blobs, "accounts.json")

	cfg := config.Defaults()
	cfg.Auth.JWTSecret = "jwt-secret"
	cfg.Auth.SigningKey = signingKey
	cfg.Policies = policies

	signer := auth.NewRequestAuthenticator(signingKey, 0)
	srv := NewWithDeps(cfg, Deps{
		Accounts: accounts,
		Scopes:   repository.NewBlobScopeSource(blobs, "tokens.json"),
		Signer:   signer,
		Sessions: auth.NewSessionManager("jwt-secret", 0),
	}, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, ts: ts, blobs: blobs, accounts: accounts, signer: signer}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, header map[string]string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func loginPath(categories, username, password, hwid string) string {
	q := url.Values{}
	q.Set("categories", categories)
	q.Set("username", username)
	q.Set("password", password)
	q.Set("hwid", hwid)
	return "/v1/login?" + q.Encode()
}

func (e *testEnv) hwid(t *testing.T, category, username string) string {
	t.Helper()
	doc, _, err := e.accounts.Read(context.Background())
	require.NoError(t, err)
	acct := doc.Lookup(category, username)
	require.NotNil(t, acct)
	return acct.HWID
}

func TestLogin_BindThenMismatch(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, loginPath("vip", "alice", "pw1", "F1"), "tok-vip", nil, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "vip", body["category"])
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "bound", body["binding"])
	assert.Equal(t, "hi alice", body["loginMessage"])
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "token", "sessions are off by default")
	assert.Equal(t, "F1", env.hwid(t, "vip", "alice"))

	status, body = env.do(t, http.MethodGet, loginPath("vip", "alice", "pw1", "F2"), "tok-vip", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "HWID_MISMATCH", errorCode(body))
}

func TestLogin_FingerprintHandling(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, loginPath("vip", "alice", "pw1", "Free"), "tok-vip", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_PARAMS", errorCode(body))
	assert.Equal(t, "", env.hwid(t, "vip", "alice"))

	status, body = env.do(t, http.MethodGet, loginPath("vip", "alice", "pw1", "   "), "tok-vip", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "MISSING_PARAMS", errorCode(body))

	status, body = env.do(t, http.MethodGet, loginPath("vip", "alice", "pw1", "F1 "), "tok-vip", nil, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "F1", env.hwid(t, "vip", "alice"))

	status, _ = env.do(t, http.MethodGet, loginPath("vip", "alice", "pw1", "F1 "), "tok-vip", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodGet, loginPath("vip", "bob", "pw2", ""), "tok-vip", nil, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["free"])
}

func TestLogin_GateErrors(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, loginPath("free", "carl", "pw3", "F1"), "tok-vip", nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NO_PERMISSION", errorCode(body))

	status, body = env.do(t, http.MethodGet, loginPath("vip", "alice", "pw1", "F1"), "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "MISSING_TOKEN", errorCode(body))

	status, body = env.do(t, http.MethodGet, loginPath("vip", "alice", "pw1", "F1"), "bogus", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_TOKEN", errorCode(body))

	status, body = env.do(t, http.MethodGet, "/v1/login?username=alice", "tok-vip", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "MISSING_PARAMS", errorCode(body))

	status, body = env.do(t, http.MethodGet, loginPath("vip", "alice", "wrong", "F1"), "tok-vip", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(body))
}

func TestLogin_SignedPost(t *testing.T) {
	env := newTestEnv(t, policy.Policy{
		ID:      "signed",
		Matcher: policy.Matcher{Path: "/v1/login"},
		Rules:   policy.Rules{RequireSignature: true, IssueSession: true},
	})

	signed := func(ts time.Time) string {
		p := loginParams{Categories: "vip", Username: "alice", Password: "pw1", HWID: "F1", Timestamp: strconv.FormatInt(ts.UnixMilli(), 10)}
		p.Signature = env.signer.Sign(auth.SignedRequest{
			Categories: p.Categories, Username: p.Username, Password: p.Password, HWID: p.HWID, Timestamp: p.Timestamp,
		})
		b, _ := json.Marshal(p)
		return string(b)
	}
	jsonHeader := map[string]string{"Content-Type": "application/json"}

	status, body := env.do(t, http.MethodPost, "/v1/login", "tok-vip", strings.NewReader(signed(time.Now().Add(-10*time.Minute))), jsonHeader)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "EXPIRED_REQUEST", errorCode(body))
	assert.Equal(t, "", env.hwid(t, "vip", "alice"))

	tampered := strings.Replace(signed(time.Now()), `"pw1"`, `"pw9"`, 1)
	status, body = env.do(t, http.MethodPost, "/v1/login", "tok-vip", strings.NewReader(tampered), jsonHeader)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "INVALID_SIGNATURE", errorCode(body))

	status, body = env.do(t, http.MethodPost, "/v1/login", "tok-vip", strings.NewReader(signed(time.Now())), jsonHeader)
	require.Equal(t, http.StatusOK, status, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	status, body = env.do(t, http.MethodGet, "/v1/session", token, nil, map[string]string{"X-HWID": "F1"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "hi alice", body["loginMessage"])
	assert.Equal(t, false, body["free"])

	status, body = env.do(t, http.MethodGet, "/v1/session", token, nil, map[string]string{"X-HWID": "F2"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "HWID_MISMATCH", errorCode(body))

	status, body = env.do(t, http.MethodGet, "/v1/session", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "MISSING_HWID", errorCode(body))

	status, body = env.do(t, http.MethodGet, "/v1/session", token+"x", nil, map[string]string{"X-HWID": "F1"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_SESSION", errorCode(body))
}

func TestLogin_FormPost(t *testing.T) {
	env := newTestEnv(t)
	form := url.Values{"categories": {"vip"}, "username": {"bob"}, "password": {"pw2"}, "hwid": {"any"}}

	status, body := env.do(t, http.MethodPost, "/v1/login", "tok-vip", strings.NewReader(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "free", body["binding"])
	assert.Equal(t, true, body["free"])
}

func TestCategoryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/v1/categories/vip/users?token=tok-vip", "", nil, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(2), body["count"])
	users := body["users"].([]any)
	assert.Equal(t, "alice", users[0].(map[string]any)["username"])
	assert.NotContains(t, users[0], "password")

	status, body = env.do(t, http.MethodGet, "/v1/categories/free/users", "tok-vip", nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NO_PERMISSION", errorCode(body))

	status, body = env.do(t, http.MethodGet, "/v1/categories/vip/users/bob", "tok-vip", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "free", body["hwid"])

	status, body = env.do(t, http.MethodGet, "/v1/categories/vip/users/nobody", "tok-vip", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestUpdateUser(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPatch, "/v1/categories/vip/users/alice", "tok-admin",
		strings.NewReader(`{"loginMessage":"updated","hwid":"RESET-BY-ADMIN"}`), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "updated", body["loginMessage"])
	assert.Equal(t, "RESET-BY-ADMIN", env.hwid(t, "vip", "alice"))

	status, body = env.do(t, http.MethodPatch, "/v1/categories/vip/users/alice", "tok-admin",
		strings.NewReader(`{"banned":false}`), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_PARAMS", errorCode(body))

	status, body = env.do(t, http.MethodPatch, "/v1/categories/vip/users/alice", "tok-vip",
		strings.NewReader(`{"loginMessage":"x"}`), nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NO_PERMISSION", errorCode(body))

	status, _ = env.do(t, http.MethodPatch, "/v1/categories/vip/users/alice?token=tok-admin", "",
		strings.NewReader(`{"loginMessage":"x"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, status, "query tokens are only honoured for reads")
}

type failingAccounts struct{}

func (failingAccounts) Read(ctx context.Context) (db.Document, repository.Version, error) {
	return nil, "", errors.New("GET https://api.github.com/repos/acme/secret: 502")
}

func (failingAccounts) WriteIfVersion(ctx context.Context, doc db.Document, v repository.Version) error {
	return errors.New("unreachable")
}

func TestStoreFailureIsOpaque(t *testing.T) {
	blobs := memory.New()
	blobs.Set("tokens.json", []byte(tokensDoc))
	srv := NewWithDeps(config.Defaults(), Deps{
		Accounts: failingAccounts{},
		Scopes:   repository.NewBlobScopeSource(blobs, "tokens.json"),
	}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, loginPath("vip", "alice", "pw1", "F1"), nil)
	req.Header.Set("Authorization", "Bearer tok-vip")
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVER_ERROR")
	assert.NotContains(t, rec.Body.String(), "github")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, _ = env.do(t, http.MethodGet, "/ready", "", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	env.do(t, http.MethodGet, loginPath("vip", "bob", "pw2", "x"), "tok-vip", nil, nil)

	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `licensegate_logins_total{outcome="free"} 1`)

	status, body = env.do(t, http.MethodGet, "/nope", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestBuildDeps_MemoryWithBreaker(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	accountsFile := filepath.Join(dir, "accounts.json")
	tokensFile := filepath.Join(dir, "tokens.json")
	require.NoError(t, os.WriteFile(accountsFile, []byte(accountsDoc), 0o600))
	require.NoError(t, os.WriteFile(tokensFile, []byte(tokensDoc), 0o600))

	cfg := config.Defaults()
	cfg.RedisAddr = mr.Addr()
	cfg.Breaker.Enabled = true
	cfg.Log.Audit = "none"
	cfg.Store.SeedAccounts = accountsFile
	cfg.Store.SeedScopes = tokensFile

	srv, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, loginPath("vip", "alice", "pw1", "F1"), nil)
	req.Header.Set("Authorization", "Bearer tok-vip")
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, loginPath("vip", "alice", "pw1", "F2"), nil)
	req.Header.Set("Authorization", "Bearer tok-vip")
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, mr.Exists("cb:store:memory:open"), "domain failures must not trip the breaker")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, mr.Set("cb:store:memory:open", "1"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildDeps_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.RedisAddr = mr.Addr()
	cfg.Store.Backend = config.BackendRedis
	cfg.Log.Audit = "none"

	deps, err := BuildDeps(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { closeAll(deps.Closers) })

	doc, v, err := deps.Accounts.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc)
	assert.Equal(t, repository.Version(""), v)

	doc["vip"] = db.Category{"neo": &db.Account{Password: "p"}}
	require.NoError(t, deps.Accounts.WriteIfVersion(context.Background(), doc, v))
	assert.ErrorIs(t, deps.Accounts.WriteIfVersion(context.Background(), doc, v), repository.ErrVersionConflict)
}
