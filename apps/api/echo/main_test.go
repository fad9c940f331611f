package echoapi

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/auth"
	"github.com/trezcool/chuo/core/coursework"
	"github.com/trezcool/chuo/core/files"
	"github.com/trezcool/chuo/core/guard"
	"github.com/trezcool/chuo/core/kv"
	"github.com/trezcool/chuo/core/session"
	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/storage/database/inmem"
	"github.com/trezcool/chuo/tests"
)

const strongPwd = "Tr0ub4dor&7Qz"

type fixture struct {
	app      Server
	conf     *core.Config
	usrRepo  user.Repository
	cwRepo   coursework.Repository
	tokens   *auth.TokenManager
	sessions *session.Store
	mailer   *testutil.Mailer
	logger   *testutil.Logger
}

// setup builds a server on fresh in-memory stores. tweak may adjust the configuration first.
func setup(t *testing.T, tweak ...func(*core.Config)) *fixture {
	conf, err := core.DefaultConfig(core.EnvTest)
	require.NoError(t, err)
	dir := t.TempDir()
	conf.Upload.MaterialsDir = filepath.Join(dir, "materials")
	conf.Upload.AssignmentsDir = filepath.Join(dir, "assignments")
	for _, fn := range tweak {
		fn(conf)
	}

	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	logger := testutil.NewLogger()
	mailer := testutil.NewMailer()
	validate, translator := testutil.NewValidator()

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	cwRepo := inmemdb.NewCourseworkRepository(db)
	usrSvc := user.NewService(usrRepo, mailer)
	cwSvc := coursework.NewService(cwRepo, files.NewGateway(conf.Upload, logger), conf.Upload)

	tokens := auth.NewTokenManager(conf.SecretKey, conf.AppName, conf.Server.JWTExpirationDelta, store)
	sessions := session.NewStore(session.NewMemoryBackend(), conf.Session.MaxAge)
	cookie := auth.NewSessionCookie(conf.Session, conf.SessionSecret)
	lockout := guard.NewLockoutTracker(store, conf.Lockout, logger)

	app := NewServer(&Options{
		Conf:           conf,
		Logger:         logger,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
		Limiter:        guard.NewRateLimiter(store, conf.RateLimit, logger),
		Verifier:       auth.NewVerifier(tokens, sessions, cookie, logger),
		Authorizer:     auth.NewAuthorizer(logger),
		Authenticator:  auth.NewAuthenticator(usrSvc, lockout, tokens, mailer, logger),
		Sessions:       sessions,
		Cookie:         cookie,
		UserSvc:        usrSvc,
		CourseworkSvc:  cwSvc,
	})

	return &fixture{
		app:      app,
		conf:     conf,
		usrRepo:  usrRepo,
		cwRepo:   cwRepo,
		tokens:   tokens,
		sessions: sessions,
		mailer:   mailer,
		logger:   logger,
	}
}

func (f *fixture) createUser(t *testing.T, name, email string, role user.Role, isActive bool) user.User {
	return testutil.CreateUser(t, f.usrRepo, name, email, strongPwd, role, isActive)
}

func (f *fixture) getToken(t *testing.T, usr user.User) string {
	token, _, err := f.tokens.Issue(auth.PrincipalOf(usr))
	require.NoError(t, err)
	return token
}

// login signs usr in through the API and returns the bearer token and session cookie.
func (f *fixture) login(t *testing.T, email, pwd string) (string, *http.Cookie) {
	req, rec := newRequest(http.MethodPost, "/api/auth/login", marchallObj(t, LoginRequest{Email: email, Password: pwd}))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token, sessionCookie(t, f, rec)
}

func sessionCookie(t *testing.T, f *fixture, rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == f.conf.Session.CookieName {
			return c
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	cookie   *http.Cookie
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func (tt httpTest) request() (*http.Request, *httptest.ResponseRecorder) {
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	if tt.cookie != nil {
		req.AddCookie(tt.cookie)
	}
	return req, rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func errResp(t *testing.T, msg string, flds ...core.FieldError) []byte {
	return marchallObj(t, response{Message: msg, Errors: flds})
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app Server, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := tt.request()
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func TestHome(t *testing.T) {
	f := setup(t)
	req, rec := newRequest(http.MethodGet, "/")
	f.app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Chuo API!", rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	f := setup(t)
	runHTTPTests(t, f.app, []httpTest{
		{name: "not found", method: http.MethodGet, path: "/api/nowhere", wantCode: http.StatusNotFound, wantData: errResp(t, "Not Found")},
	})
}

func TestIPExtractor(t *testing.T) {
	_, proxies, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)

	tests := []struct {
		name    string
		proxies []*net.IPNet
		remote  string
		xff     string
		want    string
	}{
		{name: "xff ignored without trusted proxies", remote: "10.0.0.5:4000", xff: "203.0.113.9", want: "10.0.0.5"},
		{name: "xff from trusted proxy", proxies: []*net.IPNet{proxies}, remote: "10.0.0.5:4000", xff: "203.0.113.9", want: "203.0.113.9"},
		{name: "xff from untrusted peer", proxies: []*net.IPNet{proxies}, remote: "198.51.100.7:4000", xff: "203.0.113.9", want: "198.51.100.7"},
		{name: "spoofed hop before client", proxies: []*net.IPNet{proxies}, remote: "10.0.0.5:4000", xff: "1.2.3.4, 203.0.113.9", want: "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Forwarded-For", tt.xff)
			extract := ipExtractor(core.ServerConfig{TrustedProxies: tt.proxies})
			assert.Equal(t, tt.want, extract(req))
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{in: 0, want: 1},
		{in: 300 * time.Millisecond, want: 1},
		{in: time.Second, want: 1},
		{in: 1500 * time.Millisecond, want: 2},
		{in: 15 * time.Minute, want: 900},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryAfterSeconds(&core.Error{RetryAfter: tt.in}), tt.in.String())
	}
}
