package server_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jrsteele09/go-device-sessions/accounts"
	fakeaccountrepo "github.com/jrsteele09/go-device-sessions/accounts/repofake"
	"github.com/jrsteele09/go-device-sessions/auth"
	"github.com/jrsteele09/go-device-sessions/internal/config"
	"github.com/jrsteele09/go-device-sessions/internal/metrics"
	"github.com/jrsteele09/go-device-sessions/server"
	"github.com/jrsteele09/go-device-sessions/sessions"
	"github.com/jrsteele09/go-device-sessions/token"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "Passw0rdOne"
	testAdmin    = "admin@example.com"
	testOrigin   = "https://app.example.com"

	laptopAgent = "Mozilla/5.0 (Macintosh)"
	phoneAgent  = "Mozilla/5.0 (iPhone)"
)

type testFixture struct {
	repo    *fakeaccountrepo.FakeAccountRepo
	service *auth.SessionService
	server  *server.Server
}

func setupTestFixture(t *testing.T, overrides ...func(*config.Settings)) *testFixture {
	t.Helper()

	settings := config.Settings{
		App:     config.AppSettings{Name: "test", Env: "test"},
		Session: config.SessionSettings{TokenSecret: testSecret, TokenTTL: time.Hour},
		Storage: config.StorageSettings{Driver: config.DriverMemory, Timeout: time.Second},
		Lock:    config.LockSettings{Driver: config.DriverMemory},
		Cors:    config.CorsSettings{AllowedOrigins: []string{testOrigin}},
	}
	for _, override := range overrides {
		override(&settings)
	}
	cfg, err := config.FromSettings(settings)
	require.NoError(t, err)

	repo := fakeaccountrepo.NewFakeAccountRepo()
	signer, err := token.NewHMACSigner(cfg.GetTokenSecret())
	require.NoError(t, err)
	m := metrics.New()

	service, err := auth.NewSessionService(
		auth.Repos{Accounts: repo},
		sessions.NewStore(repo, sessions.WithStorageTimeout(cfg.GetStorageTimeout())),
		token.NewIssuer(signer, token.WithTTL(cfg.GetTokenTTL())),
		auth.WithPasswordHasher(accounts.BcryptHasher{Cost: bcrypt.MinCost}),
		auth.WithAdminIdentities(testAdmin),
		auth.WithMetrics(m),
	)
	require.NoError(t, err)

	srv, err := server.New(cfg, service, m, zerolog.Nop())
	require.NoError(t, err)

	return &testFixture{repo: repo, service: service, server: srv}
}

type request struct {
	method string
	path   string
	body   any
	token  string
	agent  string
	header map[string]string
}

func (f *testFixture) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if req.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(req.body))
	}
	r := httptest.NewRequest(req.method, req.path, &body)
	r.Header.Set("Content-Type", "application/json")
	if req.agent != "" {
		r.Header.Set("User-Agent", req.agent)
	}
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	for k, v := range req.header {
		r.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func (f *testFixture) register(t *testing.T, identity, agent string) auth.LoginResult {
	t.Helper()
	w := f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthRegister,
		body:   map[string]string{"identity": identity, "password": testPassword},
		agent:  agent,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[auth.LoginResult](t, w)
}

func (f *testFixture) login(t *testing.T, identity, agent string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthLogin,
		body:   map[string]string{"identity": identity, "password": testPassword},
		agent:  agent,
	})
}

func TestRegisterAndMe(t *testing.T) {
	f := setupTestFixture(t)

	result := f.register(t, "Jane@Example.com", laptopAgent)
	require.NotEmpty(t, result.Token)
	require.Equal(t, "jane@example.com", result.Account.Identity)
	require.Equal(t, accounts.TierBase, result.Account.Tier)

	w := f.do(t, request{method: http.MethodGet, path: server.RouteAuthMe, token: result.Token, agent: laptopAgent})
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]any](t, w)
	require.NotEmpty(t, me["fingerprint"])

	w = f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthRegister,
		body:   map[string]string{"identity": "jane@example.com", "password": testPassword},
	})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestRegister_InvalidInput(t *testing.T) {
	f := setupTestFixture(t)

	w := f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthRegister,
		body:   map[string]string{"identity": "jane@example.com", "password": "short"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthRegister,
		body:   map[string]string{"unexpected": "field"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := setupTestFixture(t)
	f.register(t, "jane@example.com", laptopAgent)

	w := f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthLogin,
		body:   map[string]string{"identity": "jane@example.com", "password": "WrongPassw0rd"},
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	wrongPassword := decode[map[string]string](t, w)

	w = f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthLogin,
		body:   map[string]string{"identity": "nobody@example.com", "password": testPassword},
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, wrongPassword, decode[map[string]string](t, w))
}

func TestLogin_DeviceLimit(t *testing.T) {
	f := setupTestFixture(t)
	f.register(t, "jane@example.com", laptopAgent)

	w := f.login(t, "jane@example.com", phoneAgent)
	require.Equal(t, http.StatusForbidden, w.Code)
	body := decode[map[string]any](t, w)
	require.Equal(t, "device_limit_exceeded", body["error"])
	require.EqualValues(t, 1, body["ceiling"])
	require.Equal(t, true, body["upgrade_required"])

	w = f.login(t, "jane@example.com", laptopAgent)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decode[auth.LoginResult](t, w).Refreshed)
}

func TestAuthenticate_StaleAfterLogoutAll(t *testing.T) {
	f := setupTestFixture(t)
	result := f.register(t, "jane@example.com", laptopAgent)

	w := f.do(t, request{method: http.MethodPost, path: server.RouteAuthLogoutAll, token: result.Token, agent: laptopAgent})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]int{"removed": 1}, decode[map[string]int](t, w))

	w = f.do(t, request{method: http.MethodGet, path: server.RouteAuthMe, token: result.Token, agent: laptopAgent})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "stale_session", decode[map[string]string](t, w)["error"])
	require.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
}

func TestRequireAuth_RejectsBadHeaders(t *testing.T) {
	f := setupTestFixture(t)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "empty token", header: "Bearer "},
		{name: "malformed token", header: "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request{method: http.MethodGet, path: server.RouteAuthDevices}
			if tt.header != "" {
				req.header = map[string]string{"Authorization": tt.header}
			}
			w := f.do(t, req)
			require.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestLogoutAndDevices(t *testing.T) {
	f := setupTestFixture(t)
	result := f.register(t, "jane@example.com", laptopAgent)

	w := f.do(t, request{method: http.MethodGet, path: server.RouteAuthDevices, token: result.Token, agent: laptopAgent})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[auth.DeviceList](t, w)
	require.Equal(t, 1, list.Ceiling)
	require.Len(t, list.Devices, 1)
	require.True(t, list.Devices[0].Current)
	require.Equal(t, laptopAgent, list.Devices[0].ClientDescriptor)

	w = f.do(t, request{method: http.MethodPost, path: server.RouteAuthLogout, token: result.Token, agent: laptopAgent})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.login(t, "jane@example.com", phoneAgent)
	require.Equal(t, http.StatusOK, w.Code, "the slot freed by logout admits a new device")
}

func TestRemoveDevice(t *testing.T) {
	f := setupTestFixture(t)
	result := f.register(t, "jane@example.com", laptopAgent)

	w := f.do(t, request{method: http.MethodGet, path: server.RouteAuthDevices, token: result.Token, agent: laptopAgent})
	require.Equal(t, http.StatusOK, w.Code)
	fingerprint := decode[auth.DeviceList](t, w).Devices[0].Fingerprint

	w = f.do(t, request{method: http.MethodDelete, path: "/api/auth/devices/unknown", token: result.Token, agent: laptopAgent})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]bool{"removed": false}, decode[map[string]bool](t, w))

	w = f.do(t, request{method: http.MethodDelete, path: "/api/auth/devices/" + fingerprint, token: result.Token, agent: laptopAgent})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]bool{"removed": true}, decode[map[string]bool](t, w))

	w = f.do(t, request{method: http.MethodGet, path: server.RouteAuthDevices, token: result.Token, agent: laptopAgent})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminEntitlementAndPremium(t *testing.T) {
	f := setupTestFixture(t)
	admin := f.register(t, testAdmin, laptopAgent)
	user := f.register(t, "jane@example.com", phoneAgent)

	w := f.do(t, request{method: http.MethodGet, path: server.RoutePremiumPing, token: user.Token, agent: phoneAgent})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "upgrade_required", decode[map[string]string](t, w)["error"])

	upgradePath := "/api/admin/accounts/" + user.Account.ID + "/upgrade"
	w = f.do(t, request{method: http.MethodPatch, path: upgradePath, token: user.Token, agent: phoneAgent})
	require.Equal(t, http.StatusForbidden, w.Code, "non-admins cannot change entitlements")
	require.Equal(t, "forbidden", decode[map[string]string](t, w)["error"])

	w = f.do(t, request{method: http.MethodPatch, path: upgradePath, token: admin.Token, agent: laptopAgent})
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[accounts.Summary](t, w)
	require.Equal(t, accounts.TierUpgraded, summary.Tier)
	require.Equal(t, 2, summary.Ceiling)

	w = f.do(t, request{method: http.MethodGet, path: server.RoutePremiumPing, token: user.Token, agent: phoneAgent})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, request{method: http.MethodPatch, path: "/api/admin/accounts/missing/downgrade", token: admin.Token, agent: laptopAgent})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminDeleteAccount(t *testing.T) {
	f := setupTestFixture(t)
	admin := f.register(t, testAdmin, laptopAgent)
	user := f.register(t, "jane@example.com", phoneAgent)

	w := f.do(t, request{method: http.MethodDelete, path: "/api/admin/accounts/" + user.Account.ID, token: admin.Token, agent: laptopAgent})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, request{method: http.MethodGet, path: server.RouteAuthMe, token: user.Token, agent: phoneAgent})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAccountLookup(t *testing.T) {
	f := setupTestFixture(t)
	admin := f.register(t, testAdmin, laptopAgent)
	user := f.register(t, "jane@example.com", phoneAgent)
	accountPath := "/api/admin/accounts/" + user.Account.ID

	w := f.do(t, request{method: http.MethodGet, path: accountPath, token: user.Token, agent: phoneAgent})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, request{method: http.MethodGet, path: accountPath, token: admin.Token, agent: laptopAgent})
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[auth.AccountDetail](t, w)
	require.Equal(t, "jane@example.com", detail.Account.Identity)
	require.Len(t, detail.Devices, 1)
	require.Equal(t, phoneAgent, detail.Devices[0].ClientDescriptor)

	w = f.do(t, request{method: http.MethodGet, path: "/api/admin/accounts/missing", token: admin.Token, agent: laptopAgent})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, request{method: http.MethodGet, path: server.RouteAdminAccounts, token: admin.Token, agent: laptopAgent})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[map[string][]accounts.Summary](t, w)["accounts"]
	require.Len(t, list, 2)
	require.Equal(t, testAdmin, list[0].Identity)
	require.Equal(t, "jane@example.com", list[1].Identity)
}

func TestStorageUnavailable(t *testing.T) {
	f := setupTestFixture(t)
	result := f.register(t, "jane@example.com", laptopAgent)

	f.repo.FailWith(errors.New("connection refused"))
	w := f.do(t, request{method: http.MethodGet, path: server.RouteAuthMe, token: result.Token, agent: laptopAgent})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "1", w.Header().Get("Retry-After"))
}

// httptest requests arrive from 192.0.2.1.
func trustProxies(proxies ...string) func(*config.Settings) {
	return func(s *config.Settings) {
		s.HTTP.TrustedProxies = proxies
	}
}

func TestForwardedForSelectsDevice(t *testing.T) {
	f := setupTestFixture(t, trustProxies("192.0.2.1", "10.0.0.0/8"))
	f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthRegister,
		body:   map[string]string{"identity": "jane@example.com", "password": testPassword},
		agent:  laptopAgent,
		header: map[string]string{"X-Forwarded-For": "203.0.113.10, 10.0.0.1"},
	})

	w := f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthLogin,
		body:   map[string]string{"identity": "jane@example.com", "password": testPassword},
		agent:  laptopAgent,
		header: map[string]string{"X-Forwarded-For": "198.51.100.7"},
	})
	require.Equal(t, http.StatusForbidden, w.Code, "a different client address is a different device")

	w = f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthLogin,
		body:   map[string]string{"identity": "jane@example.com", "password": testPassword},
		agent:  laptopAgent,
		header: map[string]string{"X-Forwarded-For": "203.0.113.10"},
	})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestForwardedForIgnoredFromUntrustedPeer(t *testing.T) {
	f := setupTestFixture(t, trustProxies("10.0.0.0/8"))
	f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthRegister,
		body:   map[string]string{"identity": "jane@example.com", "password": testPassword},
		agent:  laptopAgent,
		header: map[string]string{"X-Forwarded-For": "203.0.113.10"},
	})

	w := f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthLogin,
		body:   map[string]string{"identity": "jane@example.com", "password": testPassword},
		agent:  laptopAgent,
		header: map[string]string{"X-Forwarded-For": "198.51.100.7"},
	})
	require.Equal(t, http.StatusOK, w.Code, "a spoofed header does not create a new device")
	require.True(t, decode[auth.LoginResult](t, w).Refreshed)
}

func TestForwardedForSkipsTrustedHops(t *testing.T) {
	f := setupTestFixture(t, trustProxies("192.0.2.1", "10.0.0.0/8"))
	result := f.do(t, request{
		method: http.MethodPost,
		path:   server.RouteAuthRegister,
		body:   map[string]string{"identity": "jane@example.com", "password": testPassword},
		agent:  laptopAgent,
		header: map[string]string{"X-Forwarded-For": "198.51.100.99, 203.0.113.10, 10.0.0.1"},
	})
	require.Equal(t, http.StatusCreated, result.Code)
	token := decode[auth.LoginResult](t, result).Token

	w := f.do(t, request{method: http.MethodGet, path: server.RouteAuthDevices, token: token, agent: laptopAgent})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "203.0.113.10", decode[auth.DeviceList](t, w).Devices[0].NetworkAddress)
}

func TestCorsAndOperationalRoutes(t *testing.T) {
	f := setupTestFixture(t)

	w := f.do(t, request{method: http.MethodOptions, path: server.RouteAuthLogin, header: map[string]string{"Origin": testOrigin}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, testOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	require.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))

	w = f.do(t, request{method: http.MethodOptions, path: server.RouteAuthLogin, header: map[string]string{"Origin": "https://evil.example"}})
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = f.do(t, request{method: http.MethodGet, path: server.RouteHealth})
	require.Equal(t, http.StatusOK, w.Code)

	f.login(t, "nobody@example.com", laptopAgent)
	w = f.do(t, request{method: http.MethodGet, path: server.RouteMetrics})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "logins_total")
}
