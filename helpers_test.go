package govauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/permission"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/remote"
	"github.com/alicebob/miniredis/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	testUsername = "alice"
	testPassword = "correct-password-123"
	testCode     = "123456"
	testUserID   = "u-alice"
)

// fakePortal is an in-process stand-in for the portal API.
type fakePortal struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.Mutex
	twoFactor    bool
	access       string
	refresh      string
	issued       int
	user         User
	roles        map[string]Role
	assignments  map[string][]Assignment
	calls        map[string]int
	served       []string
	refreshHold  chan struct{}
	refreshFail  int
	meStatus     int
	logoutStatus int
	jwtTTL       time.Duration
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	f := &fakePortal{
		t:           t,
		roles:       make(map[string]Role),
		assignments: make(map[string][]Assignment),
		calls:       make(map[string]int),
		user: User{
			ID:       testUserID,
			Username: testUsername,
			Email:    "alice@example.test",
			Status:   "Active",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", f.handleLogin)
	mux.HandleFunc("POST /auth/refresh", f.handleRefresh)
	mux.HandleFunc("POST /auth/logout", f.handleLogout)
	mux.HandleFunc("GET /auth/me", f.handleMe)
	mux.HandleFunc("GET /resource/{id}", f.handleResource)
	mux.HandleFunc("POST /resource/{id}", f.handleResource)
	mux.HandleFunc("GET /roles", f.handleListRoles)
	mux.HandleFunc("POST /roles", f.handleCreateRole)
	mux.HandleFunc("DELETE /roles/{id}", f.handleDeleteRole)
	mux.HandleFunc("POST /roles/{id}/permissions", f.handleNoContent)
	mux.HandleFunc("GET /user-permissions/permissions", f.handleCatalog)
	mux.HandleFunc("GET /user-permissions/users/{id}/roles", f.handleUserRoles)
	mux.HandleFunc("POST /user-permissions/users/{id}/roles", f.handleAssign)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePortal) URL() string { return f.server.URL }

// with mutates the portal's behavior under its lock.
func (f *fakePortal) with(fn func(*fakePortal)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakePortal) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// setUserRoles assigns roles to alice for the next login or /auth/me.
func (f *fakePortal) setUserRoles(roleIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user.Roles = assign(testUserID, roleIDs...)
	f.assignments[testUserID] = assign(testUserID, roleIDs...)
}

// rotateAccess invalidates the access token the client holds.
func (f *fakePortal) rotateAccess() {
	f.mu.Lock()
	f.access = "revoked-" + f.access
	f.mu.Unlock()
}

func (f *fakePortal) servedOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.served...)
}

func (f *fakePortal) issueLocked() remote.Tokens {
	f.issued++
	f.access = fmt.Sprintf("access-%d", f.issued)
	if f.jwtTTL > 0 {
		signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
			Subject:   testUserID,
			ID:        f.access,
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(f.jwtTTL)),
		}).SignedString([]byte("portal-test-secret"))
		if err != nil {
			f.t.Errorf("sign access token: %v", err)
		}
		f.access = signed
	}
	f.refresh = fmt.Sprintf("refresh-%d", f.issued)
	return remote.Tokens{AccessToken: f.access, RefreshToken: f.refresh}
}

func (f *fakePortal) bearerOK(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access != "" && r.Header.Get("Authorization") == "Bearer "+f.access
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "message": msg})
}

func (f *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req remote.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["login"]++

	if req.Username != testUsername || req.Password != testPassword {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}
	if f.twoFactor {
		switch req.TwoFactorCode {
		case "":
			writeJSON(w, http.StatusOK, remote.LoginResponse{RequiresTwoFactor: true, TempToken: "temp-1"})
			return
		case "expired":
			writeError(w, http.StatusUnauthorized, "two_factor_expired", "challenge expired")
			return
		case testCode:
		default:
			writeError(w, http.StatusUnauthorized, "invalid_two_factor", "invalid code")
			return
		}
	}
	tokens := f.issueLocked()
	user := f.user.Clone()
	writeJSON(w, http.StatusOK, remote.LoginResponse{User: &user, Tokens: &tokens})
}

func (f *fakePortal) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls["refresh"]++
	hold := f.refreshHold
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-time.After(5 * time.Second):
			f.t.Errorf("refresh held too long")
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshFail != 0 {
		writeError(w, f.refreshFail, "refresh_rejected", "refresh token revoked")
		return
	}
	if body["refreshToken"] != f.refresh {
		writeError(w, http.StatusUnauthorized, "invalid_refresh", "unknown refresh token")
		return
	}
	tokens := f.issueLocked()
	writeJSON(w, http.StatusOK, remote.RefreshResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken})
}

func (f *fakePortal) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls["logout"]++
	status := f.logoutStatus
	f.mu.Unlock()
	if status != 0 {
		writeError(w, status, "logout_failed", "unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakePortal) handleMe(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls["me"]++
	status := f.meStatus
	user := f.user.Clone()
	f.mu.Unlock()
	if status != 0 {
		writeError(w, status, "me_failed", "me failed")
		return
	}
	if !f.bearerOK(r) {
		writeError(w, http.StatusUnauthorized, "token_expired", "access token expired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (f *fakePortal) handleResource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, _ := io.ReadAll(r.Body)
	if !f.bearerOK(r) {
		f.mu.Lock()
		f.calls["resource_401"]++
		f.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "token_expired", "access token expired")
		return
	}
	f.mu.Lock()
	f.calls["resource"]++
	f.served = append(f.served, id)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "body": string(body)})
}

func (f *fakePortal) handleListRoles(w http.ResponseWriter, r *http.Request) {
	if !f.bearerOK(r) {
		writeError(w, http.StatusUnauthorized, "token_expired", "expired")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list_roles"]++
	out := make([]Role, 0, len(f.roles))
	for _, role := range f.roles {
		out = append(out, role)
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (f *fakePortal) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	if !f.bearerOK(r) {
		writeError(w, http.StatusUnauthorized, "token_expired", "expired")
		return
	}
	var role Role
	if err := json.NewDecoder(r.Body).Decode(&role); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create_role"]++
	for _, existing := range f.roles {
		if existing.Name == role.Name {
			writeError(w, http.StatusConflict, "name", "role name taken")
			return
		}
	}
	role.ID = "srv-" + role.Name
	f.roles[role.ID] = role
	writeJSON(w, http.StatusCreated, map[string]any{"role": role})
}

func (f *fakePortal) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if !f.bearerOK(r) {
		writeError(w, http.StatusUnauthorized, "token_expired", "expired")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete_role"]++
	delete(f.roles, r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakePortal) handleNoContent(w http.ResponseWriter, r *http.Request) {
	if !f.bearerOK(r) {
		writeError(w, http.StatusUnauthorized, "token_expired", "expired")
		return
	}
	f.mu.Lock()
	f.calls[r.Method+" "+r.URL.Path]++
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakePortal) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if !f.bearerOK(r) {
		writeError(w, http.StatusUnauthorized, "token_expired", "expired")
		return
	}
	groups := make(map[string][]permission.Permission)
	for i, p := range permission.DefaultPermissions {
		p.ID = fmt.Sprintf("p-%d", i)
		groups[p.Resource] = append(groups[p.Resource], p)
	}
	groups["vendor"] = append(groups["vendor"], permission.Permission{ID: "p-vendor", Name: "vendor.read", Resource: "vendor"})
	writeJSON(w, http.StatusOK, map[string]any{"permissions": groups})
}

func (f *fakePortal) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	if !f.bearerOK(r) {
		writeError(w, http.StatusUnauthorized, "token_expired", "expired")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["user_roles"]++
	writeJSON(w, http.StatusOK, map[string]any{"roles": f.assignments[r.PathValue("id")]})
}

func (f *fakePortal) handleAssign(w http.ResponseWriter, r *http.Request) {
	if !f.bearerOK(r) {
		writeError(w, http.StatusUnauthorized, "token_expired", "expired")
		return
	}
	var body struct {
		RoleIDs []string `json:"roleIds"`
		Reason  string   `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	userID := r.PathValue("id")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["assign"]++
	for _, id := range body.RoleIDs {
		f.assignments[userID] = append(f.assignments[userID], Assignment{
			UserID: userID, RoleID: id, AssignedAt: time.Now(), Reason: body.Reason,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
CLIENT FIXTURES
====================================
*/

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.API.Timeout = 5 * time.Second
	cfg.Session.RefreshTimeout = 5 * time.Second
	return cfg
}

// adminRoles grants alice every role administration permission.
func adminRoles() []Role {
	return []Role{
		{
			ID:             "r-admin",
			Name:           "governance_admin",
			DisplayName:    "Governance admin",
			Type:           permission.RoleSystem,
			IsSystemRole:   true,
			HierarchyLevel: 90,
			Permissions: []string{
				permission.RoleRead, permission.RoleCreate, permission.RoleEdit, permission.RoleDelete,
				permission.RolePermissionsManage, permission.PermissionRead,
				permission.UserRead, permission.UserRolesAssign,
			},
		},
		{
			ID:             "r-viewer",
			Name:           "viewer",
			DisplayName:    "Viewer",
			Type:           permission.RoleCustom,
			HierarchyLevel: 10,
			Permissions:    []string{permission.DashboardView, permission.ReportRead},
		},
	}
}

func assign(userID string, roleIDs ...string) []Assignment {
	out := make([]Assignment, 0, len(roleIDs))
	for _, id := range roleIDs {
		out = append(out, Assignment{UserID: userID, RoleID: id, AssignedAt: time.Now().Add(-time.Hour)})
	}
	return out
}

type testEnv struct {
	portal *fakePortal
	redis  *miniredis.Miniredis
	rdb    *redis.Client
	client *Client
}

type envOption func(*Builder)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	portal := newFakePortal(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{portal: portal, redis: mr, rdb: rdb}
	env.client = env.build(t, opts...)
	return env
}

// build returns another client sharing the env's portal and Redis.
func (e *testEnv) build(t *testing.T, opts ...envOption) *Client {
	t.Helper()
	b := New().
		WithConfig(testConfig(e.portal.URL())).
		WithRedis(e.rdb).
		WithLogger(quietLogger()).
		WithRoles(adminRoles())
	for _, opt := range opts {
		opt(b)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	res, err := e.client.Login(context.Background(), Credentials{Username: testUsername, Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.TwoFactorPending() {
		t.Fatalf("unexpected two-factor challenge")
	}
}

func (e *testEnv) get(t *testing.T, c *Client, path string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, e.portal.URL()+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return c.Do(req)
}

func sessionKey() string {
	return "govauth:session:default"
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func postBody(s string) io.Reader { return strings.NewReader(s) }
