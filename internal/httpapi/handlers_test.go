package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orgmesh.io/internal/auth"
	"orgmesh.io/internal/directory"
	"orgmesh.io/internal/events"
	"orgmesh.io/internal/token"
)

// memStore backs the handler tests with an in-memory directory store.
type memStore struct {
	mu       sync.Mutex
	orgs     map[string]directory.Organization
	users    map[string]directory.User
	requests map[string]directory.ConnectionRequest
	conns    map[string]directory.Connection
}

func newMemStore() *memStore {
	return &memStore{
		orgs:     make(map[string]directory.Organization),
		users:    make(map[string]directory.User),
		requests: make(map[string]directory.ConnectionRequest),
		conns:    make(map[string]directory.Connection),
	}
}

func (m *memStore) CreateOrganizationWithAdmin(_ context.Context, org *directory.Organization, admin *directory.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == admin.Email {
			return directory.ErrConflict
		}
	}
	m.orgs[org.ID] = *org
	m.users[admin.ID] = *admin
	return nil
}

func (m *memStore) GetOrganization(_ context.Context, id string) (directory.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return directory.Organization{}, directory.ErrNotFound
	}
	return org, nil
}

func (m *memStore) SearchOrganizations(_ context.Context, query string, limit int) ([]directory.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []directory.Organization
	for _, org := range m.orgs {
		if org.Status != directory.OrgStatusActive {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(org.Name), strings.ToLower(query)) {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, org)
	}
	return out, nil
}

func (m *memStore) CreateUser(_ context.Context, u *directory.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return directory.ErrConflict
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *memStore) GetUser(_ context.Context, id string) (directory.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return directory.User{}, directory.ErrNotFound
	}
	return u, nil
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (directory.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return directory.User{}, directory.ErrNotFound
}

func (m *memStore) ListUsersByOrg(_ context.Context, orgID string) ([]directory.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []directory.User
	for _, u := range m.users {
		if u.OrganizationID == orgID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	return m.mutateUser(userID, func(u *directory.User) { u.PasswordHash = hash })
}

func (m *memStore) UpdateUserStatus(_ context.Context, userID, status string) error {
	return m.mutateUser(userID, func(u *directory.User) { u.Status = status })
}

func (m *memStore) UpdateUserRole(_ context.Context, userID, role string) error {
	return m.mutateUser(userID, func(u *directory.User) { u.Role = role })
}

func (m *memStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	return m.mutateUser(userID, func(u *directory.User) { u.LastLoginAt = &at })
}

func (m *memStore) mutateUser(userID string, fn func(*directory.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return directory.ErrNotFound
	}
	fn(&u)
	m.users[userID] = u
	return nil
}

// UserPolicies derives grants from the user's role: admins hold read and
// write on every resource, members read only.
func (m *memStore) UserPolicies(_ context.Context, userID string) ([]auth.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	resources := []string{"organizations", "users", "connections"}
	var out []auth.Policy
	for _, res := range resources {
		out = append(out, auth.Policy{Resource: res, Action: "read"})
		if u.Role == directory.RoleAdmin {
			out = append(out, auth.Policy{Resource: res, Action: "write"})
		}
	}
	return out, nil
}

func (m *memStore) CreateConnectionRequest(_ context.Context, req *directory.ConnectionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = *req
	return nil
}

func (m *memStore) GetConnectionRequest(_ context.Context, id string) (directory.ConnectionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return directory.ConnectionRequest{}, directory.ErrNotFound
	}
	return req, nil
}

func (m *memStore) ListConnectionRequestsForOrg(_ context.Context, orgID string) ([]directory.ConnectionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []directory.ConnectionRequest
	for _, req := range m.requests {
		if req.RequestingOrgID == orgID || req.RequestedOrgID == orgID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *memStore) MarkConnectionRequestRejected(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return directory.ErrNotFound
	}
	req.Status = directory.RequestStatusRejected
	req.UpdatedAt = at
	m.requests[id] = req
	return nil
}

func (m *memStore) PairLinked(_ context.Context, orgA, orgB string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, b := directory.OrderPair(orgA, orgB)
	for _, req := range m.requests {
		if req.Status != directory.RequestStatusPending {
			continue
		}
		ra, rb := directory.OrderPair(req.RequestingOrgID, req.RequestedOrgID)
		if ra == a && rb == b {
			return true, nil
		}
	}
	for _, c := range m.conns {
		if c.OrgOneID == a && c.OrgTwoID == b {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) PromoteConnectionRequest(_ context.Context, req directory.ConnectionRequest) (directory.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; !ok {
		return directory.Connection{}, directory.ErrNotFound
	}
	a, b := directory.OrderPair(req.RequestingOrgID, req.RequestedOrgID)
	conn := directory.Connection{
		ID:          "conn-" + req.ID,
		OrgOneID:    a,
		OrgTwoID:    b,
		RequestedAt: req.CreatedAt,
		CreatedAt:   time.Now().UTC(),
	}
	m.conns[conn.ID] = conn
	delete(m.requests, req.ID)
	return conn, nil
}

func (m *memStore) ListConnectionsForOrg(_ context.Context, orgID string) ([]directory.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []directory.Connection
	for _, c := range m.conns {
		if c.OrgOneID == orgID || c.OrgTwoID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

// memTokenStore is the in-memory token.Store for handler tests.
type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]token.Token
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: make(map[string]token.Token)}
}

func tkey(kind token.Kind, value string) string { return string(kind) + "|" + value }

func (m *memTokenStore) Insert(_ context.Context, tok token.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tkey(tok.Kind, tok.Value)]; ok {
		return token.ErrConflict
	}
	m.tokens[tkey(tok.Kind, tok.Value)] = tok
	return nil
}

func (m *memTokenStore) FindByValue(_ context.Context, kind token.Kind, value string) (token.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tkey(kind, value)]
	if !ok {
		return token.Token{}, token.ErrNotFound
	}
	return tok, nil
}

func (m *memTokenStore) MarkUsed(_ context.Context, kind token.Kind, value string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tkey(kind, value)]
	if !ok {
		return token.ErrNotFound
	}
	if tok.UsedAt != nil {
		return token.ErrAlreadyUsed
	}
	tok.UsedAt = &usedAt
	tok.Status = token.StatusUsed
	m.tokens[tkey(kind, value)] = tok
	return nil
}

func (m *memTokenStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, tok := range m.tokens {
		if tok.UsedAt == nil && now.After(tok.ExpiresAt) {
			delete(m.tokens, key)
			n++
		}
	}
	return n, nil
}

func (m *memTokenStore) lastValue(t *testing.T, kind token.Kind, userID string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest token.Token
	for _, tok := range m.tokens {
		if tok.Kind == kind && tok.UserID == userID && !tok.CreatedAt.Before(latest.CreatedAt) {
			latest = tok
		}
	}
	require.NotEmpty(t, latest.Value, "no %s token for %s", kind, userID)
	return latest.Value
}

type testAPI struct {
	api    *API
	h      http.Handler
	store  *memStore
	tokens *memTokenStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := newMemStore()
	tokStore := newMemTokenStore()
	log := zap.NewNop().Sugar()

	svc, err := directory.NewService(store, token.NewService(tokStore), nil, events.New(), log)
	require.NoError(t, err)

	issuer, err := auth.NewTokenIssuer("handler-test-secret")
	require.NoError(t, err)
	cache := auth.NewPolicyCache(svc.PolicyLoader())
	gate := auth.NewGate(cache)

	api := New(svc, issuer, gate, cache, log, "test")
	return &testAPI{api: api, h: api.Handler(), store: store, tokens: tokStore}
}

func (ta *testAPI) do(t *testing.T, method, path, bearerToken string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:12345"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	rec := httptest.NewRecorder()
	ta.h.ServeHTTP(rec, req)
	return rec
}

// signupVerified registers an organization, verifies its admin's email and
// returns the org id plus a live session token.
func (ta *testAPI) signupVerified(t *testing.T, orgName, email string) (orgID, sessionToken string) {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"organization_name": orgName,
		"email":             email,
		"password":          "s3cret-password",
		"confirm_password":  "s3cret-password",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Organization directory.Organization `json:"organization"`
		User         directory.User         `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	verify := ta.tokens.lastValue(t, token.KindEmailVerification, created.User.ID)
	rec = ta.do(t, http.MethodPost, "/v1/auth/verify-email", "", map[string]string{"token": verify})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ta.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": "s3cret-password",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	return created.Organization.ID, session.AccessToken
}

func TestSignupReturnsCredentialsOnce(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"organization_name": "Acme Corp",
		"email":             "admin@acme.example",
		"password":          "s3cret-password",
		"confirm_password":  "s3cret-password",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["client_id"], 32)
	assert.Len(t, body["client_secret"], 64)
}

func TestSignupDuplicateEmail(t *testing.T) {
	ta := newTestAPI(t)
	ta.signupVerified(t, "Acme Corp", "admin@acme.example")

	rec := ta.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"organization_name": "Shadow Acme",
		"email":             "admin@acme.example",
		"password":          "s3cret-password",
		"confirm_password":  "s3cret-password",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginBeforeVerificationRejected(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"organization_name": "Acme Corp",
		"email":             "admin@acme.example",
		"password":          "s3cret-password",
		"confirm_password":  "s3cret-password",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ta.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "admin@acme.example",
		"password": "s3cret-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSpentVerificationTokenIsGone(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"organization_name": "Acme Corp",
		"email":             "admin@acme.example",
		"password":          "s3cret-password",
		"confirm_password":  "s3cret-password",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		User directory.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	verify := ta.tokens.lastValue(t, token.KindEmailVerification, created.User.ID)

	rec = ta.do(t, http.MethodPost, "/v1/auth/verify-email", "", map[string]string{"token": verify})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(t, http.MethodPost, "/v1/auth/verify-email", "", map[string]string{"token": verify})
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = ta.do(t, http.MethodPost, "/v1/auth/verify-email", "", map[string]string{"token": "unknown-token"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMissingIdentityIs401NotForbidden(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ta.do(t, http.MethodGet, "/v1/me", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMemberLacksWriteGrant(t *testing.T) {
	ta := newTestAPI(t)
	orgID, adminToken := ta.signupVerified(t, "Acme Corp", "admin@acme.example")

	// Admin provisions a member, member finishes setup and logs in.
	rec := ta.do(t, http.MethodPost, "/v1/organizations/"+orgID+"/users", adminToken, map[string]string{
		"email": "member@acme.example",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var member directory.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &member))

	setup := ta.tokens.lastValue(t, token.KindPasswordSetup, member.ID)
	rec = ta.do(t, http.MethodPost, "/v1/auth/setup-password", "", map[string]string{
		"token":            setup,
		"password":         "member-password",
		"confirm_password": "member-password",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ta.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "member@acme.example",
		"password": "member-password",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var session sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	// The member can read but not mutate: authenticated, so 403 not 401.
	rec = ta.do(t, http.MethodGet, "/v1/organizations/"+orgID+"/users", session.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(t, http.MethodPut, "/v1/users/"+member.ID+"/role", session.AccessToken, map[string]string{"role": "admin"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoleChangeTakesEffectViaCacheInvalidation(t *testing.T) {
	ta := newTestAPI(t)
	orgID, adminToken := ta.signupVerified(t, "Acme Corp", "admin@acme.example")

	rec := ta.do(t, http.MethodPost, "/v1/organizations/"+orgID+"/users", adminToken, map[string]string{
		"email": "member@acme.example",
		"role":  "member",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var member directory.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &member))

	setup := ta.tokens.lastValue(t, token.KindPasswordSetup, member.ID)
	rec = ta.do(t, http.MethodPost, "/v1/auth/setup-password", "", map[string]string{
		"token":            setup,
		"password":         "member-password",
		"confirm_password": "member-password",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "member@acme.example",
		"password": "member-password",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var session sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	// Warm the member's cache entry with read-only grants.
	rec = ta.do(t, http.MethodGet, "/v1/me", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Promote the member; the admin's write invalidates the cache entry, so
	// the very next member request sees write grants.
	rec = ta.do(t, http.MethodPut, "/v1/users/"+member.ID+"/role", adminToken, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ta.do(t, http.MethodPost, "/v1/organizations/"+orgID+"/users", session.AccessToken, map[string]string{
		"email": "second@acme.example",
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestConnectionLifecycleOverHTTP(t *testing.T) {
	ta := newTestAPI(t)
	_, tokenA := ta.signupVerified(t, "Acme Corp", "admin@acme.example")
	orgB, tokenB := ta.signupVerified(t, "Globex", "admin@globex.example")

	rec := ta.do(t, http.MethodPost, "/v1/connection-requests", tokenA, map[string]string{
		"organization_id": orgB,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var req directory.ConnectionRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))
	assert.Equal(t, "/v1/connection-requests/"+req.ID, rec.Header().Get("Location"))

	// The requester must not be able to accept its own request.
	rec = ta.do(t, http.MethodPost, "/v1/connection-requests/"+req.ID+"/accept", tokenA, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ta.do(t, http.MethodPost, "/v1/connection-requests/"+req.ID+"/accept", tokenB, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Both sides now list exactly one connection.
	for _, tok := range []string{tokenA, tokenB} {
		rec = ta.do(t, http.MethodGet, "/v1/connections", tok, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Connections []directory.Connection `json:"connections"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Connections, 1)
	}

	// A duplicate request against the connected pair conflicts.
	rec = ta.do(t, http.MethodPost, "/v1/connection-requests", tokenB, map[string]string{
		"organization_id": req.RequestingOrgID,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSelfConnectionRejected(t *testing.T) {
	ta := newTestAPI(t)
	orgID, tok := ta.signupVerified(t, "Acme Corp", "admin@acme.example")

	rec := ta.do(t, http.MethodPost, "/v1/connection-requests", tok, map[string]string{
		"organization_id": orgID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrganizationSearchHidesSecrets(t *testing.T) {
	ta := newTestAPI(t)
	_, tok := ta.signupVerified(t, "Acme Corp", "admin@acme.example")
	ta.signupVerified(t, "Globex", "admin@globex.example")

	rec := ta.do(t, http.MethodGet, "/v1/organizations?q=globex", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "client_secret")
	assert.NotContains(t, rec.Body.String(), "network_key")

	var body struct {
		Organizations []publicOrganization `json:"organizations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Organizations, 1)
	assert.Equal(t, "Globex", body.Organizations[0].Name)
}

func TestDisabledUserLosesAccessImmediately(t *testing.T) {
	ta := newTestAPI(t)
	orgID, adminToken := ta.signupVerified(t, "Acme Corp", "admin@acme.example")

	rec := ta.do(t, http.MethodGet, "/v1/organizations/"+orgID+"/users", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Users []directory.User `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Users, 1)
	adminID := body.Users[0].ID

	// Disabling the account revokes the still-valid session token.
	require.NoError(t, ta.store.UpdateUserStatus(context.Background(), adminID, directory.UserStatusDisabled))
	rec = ta.do(t, http.MethodGet, "/v1/me", adminToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestForgotPasswordIsSilentForUnknownEmail(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/v1/auth/forgot-password", "", map[string]string{
		"email": "ghost@nowhere.example",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHealthAndInfoArePublic(t *testing.T) {
	ta := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rec := ta.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
