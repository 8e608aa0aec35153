package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/authz"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/session"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/token"
)

type staticRules []authz.RawRule

func (s staticRules) ListAuthorizationRules(ctx context.Context) ([]authz.RawRule, error) {
	return s, nil
}

type fixture struct {
	issuer     *token.Issuer
	sessions   *session.Store
	gatekeeper *authz.Gatekeeper
	handler    http.Handler
}

// setupFixture wires the full request pipeline: authenticate, authorize,
// and a probe handler that reports the identity it saw.
func setupFixture(t *testing.T, rules ...authz.RawRule) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		issuer:     token.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), "auth-gateway", time.Hour),
		sessions:   session.NewStore(client),
		gatekeeper: authz.New(client, staticRules(rules), zerolog.Nop()),
	}
	require.NoError(t, f.gatekeeper.Start(context.Background()))

	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := FromContext(r.Context())
		w.Header().Set("X-Username", identity.Username)
		w.WriteHeader(http.StatusOK)
	})
	f.handler = Authenticate(f.issuer, f.sessions, zerolog.Nop())(
		Authorize(f.gatekeeper, zerolog.Nop())(probe))
	return f
}

// login simulates the session half of a login: write the record, sign a
// token carrying its fingerprint.
func (f *fixture) login(t *testing.T, userID uuid.UUID, username string, perms ...string) string {
	t.Helper()
	fingerprint := uuid.NewString()
	require.NoError(t, f.sessions.Put(context.Background(), session.Record{
		UserID:      userID,
		Username:    username,
		Fingerprint: fingerprint,
		Permissions: perms,
		Status:      1,
		IssuedAt:    time.Now().UTC(),
	}, time.Hour))

	raw, err := f.issuer.Sign(userID, username, fingerprint)
	require.NoError(t, err)
	return raw
}

func (f *fixture) do(method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestPipelineAllowsPermittedCaller(t *testing.T) {
	f := setupFixture(t, authz.RawRule{Method: "GET", Path: "/system/user", Permission: "system:user:list"})
	raw := f.login(t, uuid.New(), "alice", "system:user:list")

	rec := f.do("GET", "/system/user", raw)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Header().Get("X-Username"))
}

func TestPipelineDeniesMissingPermission(t *testing.T) {
	f := setupFixture(t, authz.RawRule{Method: "GET", Path: "/system/user", Permission: "system:user:list"})
	raw := f.login(t, uuid.New(), "alice", "some:other:perm")

	rec := f.do("GET", "/system/user", raw)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient permission")
}

func TestPipelineUnmappedRouteDefaultPolicy(t *testing.T) {
	f := setupFixture(t, authz.RawRule{Method: "GET", Path: "/system/user", Permission: "system:user:list"})

	// Authenticated caller passes on an unmapped route.
	raw := f.login(t, uuid.New(), "alice")
	rec := f.do("GET", "/uncharted", raw)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Anonymous caller does not.
	rec = f.do("GET", "/uncharted", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication required")
}

func TestPipelineRejectsGarbageToken(t *testing.T) {
	f := setupFixture(t)

	rec := f.do("GET", "/anything", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid or expired credential")
}

func TestPipelineSecondLoginKicksFirstDevice(t *testing.T) {
	f := setupFixture(t)
	userID := uuid.New()

	deviceOne := f.login(t, userID, "alice")
	rec := f.do("GET", "/anything", deviceOne)
	require.Equal(t, http.StatusOK, rec.Code)

	// A second login rotates the fingerprint in the shared record.
	deviceTwo := f.login(t, userID, "alice")

	rec = f.do("GET", "/anything", deviceOne)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "signed in from another device")

	rec = f.do("GET", "/anything", deviceTwo)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPipelineRevokedSessionTreatedAsAnonymous(t *testing.T) {
	f := setupFixture(t)
	userID := uuid.New()
	raw := f.login(t, userID, "alice")

	require.NoError(t, f.sessions.Delete(context.Background(), userID))

	// A valid signature with no backing record carries no identity; the
	// response does not distinguish it from an absent credential.
	rec := f.do("GET", "/anything", raw)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication required")
}

func TestPipelineNonBearerHeaderIsAnonymous(t *testing.T) {
	f := setupFixture(t)

	req := httptest.NewRequest("GET", "/anything", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication required")
}

func TestFromContextDefaultsToAnonymous(t *testing.T) {
	identity := FromContext(context.Background())
	assert.Equal(t, OutcomeAnonymous, identity.Outcome)
	assert.False(t, identity.Authenticated())
}
