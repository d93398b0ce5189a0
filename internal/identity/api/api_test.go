package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/internal/identity/service"
	"github.com/fluxgate/tenancy/internal/identity/store"
	"github.com/fluxgate/tenancy/internal/identity/store/drivers/sqlite"
	"github.com/fluxgate/tenancy/pkg/cryptox"
	"github.com/fluxgate/tenancy/pkg/idx"
	"github.com/fluxgate/tenancy/pkg/jwtx"
)

type testEnv struct {
	store    store.Store
	handlers *Handlers
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	signer, err := jwtx.NewEdDSAKeypair("test-issuer")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := &service.SessionService{Store: st, Signer: signer, Issuer: "test-issuer"}

	h := &Handlers{
		Auth:     &service.AuthService{Store: st},
		MFA:      &service.MFAService{Store: st, Notifier: service.LogNotifier{}},
		Sessions: sessions,
		Licenses: &service.LicenseService{Store: st},
		Store:    st,
		Verifier: signer,
		Logger:   logger,
	}

	server := httptest.NewServer(h.Router())
	t.Cleanup(server.Close)

	return &testEnv{store: st, handlers: h, server: server}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) seedAdmin(t *testing.T, email, password string) domain.Actor {
	t.Helper()
	hash, err := cryptox.HashPassword(password)
	require.NoError(t, err)
	actor := domain.Actor{
		ID:           idx.New().String(),
		Kind:         domain.KindSuperAdmin,
		Email:        strings.ToLower(email),
		PasswordHash: hash,
	}
	require.NoError(t, e.store.Actors().Create(context.Background(), actor))
	return actor
}

// loginAdmin runs the password flow and returns the issued tokens.
func (e *testEnv) loginAdmin(t *testing.T, email, password string) tokenResponse {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[tokenResponse](t, resp)
}

func TestLoginIssuesTokens(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t, "admin@example.com", "correct horse")

	pair := env.loginAdmin(t, "admin@example.com", "correct horse")
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)
	require.NotEmpty(t, pair.SessionID)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t, "admin@example.com", "correct horse")

	resp := env.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email: "admin@example.com", Password: "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginTriggersMFAChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tenant := domain.Tenant{ID: idx.New().String(), Name: "acme", MFAEnabled: true}
	require.NoError(t, env.store.Directory().CreateTenant(ctx, tenant))

	hash, err := cryptox.HashPassword("pw")
	require.NoError(t, err)
	user := domain.Actor{
		ID: idx.New().String(), Kind: domain.KindTenantUser,
		Email: "user@acme.example", PasswordHash: hash, TenantID: tenant.ID,
	}
	require.NoError(t, env.store.Actors().Create(ctx, user))
	require.NoError(t, env.store.Directory().SetMFAOverride(ctx, domain.MFAOverride{
		UserID: user.ID, Required: true,
	}))

	resp := env.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email: "user@acme.example", Password: "pw",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[challengeResponse](t, resp)
	require.True(t, body.MFARequired)
	require.NotEmpty(t, body.Challenge.ChallengeID)

	// A wrong code does not complete the login.
	verify := env.do(t, http.MethodPost, "/v1/auth/mfa/verify", "", verifyMFARequest{
		ChallengeID: body.Challenge.ChallengeID, Code: "000000",
	})
	require.Equal(t, http.StatusUnauthorized, verify.StatusCode)
}

func TestRefreshAndLogout(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t, "admin@example.com", "pw")
	pair := env.loginAdmin(t, "admin@example.com", "pw")

	resp := env.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := decodeBody[tokenResponse](t, resp)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The rotated-out secret is dead.
	replay := env.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, replay.StatusCode)

	logout := env.do(t, http.MethodPost, "/v1/auth/logout", "", refreshRequest{RefreshToken: rotated.RefreshToken})
	require.Equal(t, http.StatusNoContent, logout.StatusCode)

	// Logged-out access tokens stop working because their session is gone.
	list := env.do(t, http.MethodGet, "/v1/sessions", rotated.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, list.StatusCode)
}

func TestSessionsEndpointRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/sessions", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/sessions", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListAndRevokeSessions(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t, "admin@example.com", "pw")
	pair := env.loginAdmin(t, "admin@example.com", "pw")

	resp := env.do(t, http.MethodGet, "/v1/sessions", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[sessionListResponse](t, resp)
	require.Equal(t, 1, list.Total)
	require.Equal(t, pair.SessionID, list.Sessions[0].ID)

	revoke := env.do(t, http.MethodDelete, "/v1/sessions/"+pair.SessionID, pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, revoke.StatusCode)

	// The caller just cut its own session; the token is now rejected.
	after := env.do(t, http.MethodGet, "/v1/sessions", pair.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, after.StatusCode)
}

func TestLicenseRequestLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAdmin(t, "admin@example.com", "pw")
	pair := env.loginAdmin(t, "admin@example.com", "pw")

	tenant := domain.Tenant{ID: idx.New().String(), Name: "acme"}
	require.NoError(t, env.store.Directory().CreateTenant(ctx, tenant))
	require.NoError(t, env.store.Allocations().Create(ctx, domain.Allocation{
		ID: idx.New().String(), TenantID: tenant.ID, LicenseType: "standard", Allocated: 10,
	}))

	created := env.do(t, http.MethodPost, "/v1/license/requests", pair.AccessToken, createRequestBody{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: "increase", ChangeAmount: 5, Reason: "growth",
	})
	require.Equal(t, http.StatusCreated, created.StatusCode)
	request := decodeBody[requestView](t, created)
	require.Equal(t, "pending", request.Status)
	require.Equal(t, 15, request.NewTotal)

	detail := env.do(t, http.MethodGet, "/v1/license/requests/"+request.ID, pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, detail.StatusCode)
	got := decodeBody[requestDetailResponse](t, detail)
	require.Len(t, got.Approvals, 1)
	require.Equal(t, "ceo", got.Approvals[0].Stage)

	decided := env.do(t, http.MethodPost, "/v1/license/requests/"+request.ID+"/decide", pair.AccessToken, decideBody{
		Approve: true, Comments: "fine",
	})
	require.Equal(t, http.StatusOK, decided.StatusCode)
	outcome := decodeBody[domain.DecideOutcome](t, decided)
	require.Equal(t, domain.RequestApproved, outcome.Status)

	allocation, err := env.store.Allocations().GetByTenantAndType(ctx, tenant.ID, "standard")
	require.NoError(t, err)
	require.Equal(t, 15, allocation.Allocated)

	// Deciding again conflicts.
	again := env.do(t, http.MethodPost, "/v1/license/requests/"+request.ID+"/decide", pair.AccessToken, decideBody{
		Approve: true,
	})
	require.Equal(t, http.StatusConflict, again.StatusCode)
}

func TestRejectRequiresComments(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t, "admin@example.com", "pw")
	pair := env.loginAdmin(t, "admin@example.com", "pw")

	resp := env.do(t, http.MethodPost, "/v1/license/requests/whatever/decide", pair.AccessToken, decideBody{
		Approve: false,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	live := env.do(t, http.MethodGet, "/livez", "", nil)
	require.Equal(t, http.StatusOK, live.StatusCode)

	ready := env.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, ready.StatusCode)
}
