package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"workgraph/internal/config"
	"workgraph/internal/repository"
	"workgraph/pkg/models"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

// MockDirectory satisfies TenantDirectory
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) ByDomain(ctx context.Context, domain string) (models.Tenant, error) {
	args := m.Called(ctx, domain)
	return args.Get(0).(models.Tenant), args.Error(1)
}

func (m *MockDirectory) Register(ctx context.Context, t models.Tenant) (models.Tenant, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(models.Tenant), args.Error(1)
}

const testIssuer = "https://test-issuer.com"

// fakeToken builds an unsigned JWT for email that MockKeySet accepts.
func fakeToken(t *testing.T, email string) string {
	t.Helper()
	claims := map[string]interface{}{
		"iss":   testIssuer,
		"aud":   "test-client",
		"sub":   "test-user",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-1 * time.Minute).Unix(),
		"email": email,
	}
	header, err := json.Marshal(map[string]interface{}{"alg": "RS256", "typ": "JWT", "kid": "test-key"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func testVerifier() *oidc.IDTokenVerifier {
	return oidc.NewVerifier(testIssuer, &MockKeySet{}, &oidc.Config{
		ClientID:          "test-client",
		SkipClientIDCheck: true,
	})
}

// expectTenant returns a handler asserting the resolved tenant id.
func expectTenant(t *testing.T, want string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := TenantFromContext(r.Context())
		assert.True(t, ok, "tenant should be in context")
		assert.Equal(t, want, tenantID)
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth_BearerToken_ExtractsTenant(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("ByDomain", mock.Anything, "acme.com").
		Return(models.Tenant{ID: "tenant-123", Name: "Acme", Domain: "acme.com"}, nil)

	a := &Auth{apiVerifier: testVerifier(), tenants: dir}

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken(t, "user@acme.com"))
	rec := httptest.NewRecorder()

	a.RequireAuth(expectTenant(t, "tenant-123")).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Logf("Response Body: %s", rec.Body.String())
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	dir.AssertExpectations(t)
}

func TestRequireAuth_BypassMode(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("ByDomain", mock.Anything, "localhost").
		Return(models.Tenant{}, fmt.Errorf("domain %q: %w", "localhost", models.ErrTenantUnknown))
	dir.On("Register", mock.Anything, mock.MatchedBy(func(tenant models.Tenant) bool {
		return tenant.Domain == "localhost"
	})).Return(models.Tenant{ID: "dev-tenant-id", Domain: "localhost"}, nil)

	cfg := &config.Config{
		Environment:   "DEV",
		DevModeBypass: true,
	}
	a, err := New(context.Background(), cfg, dir, &NoOpLogger{})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	rec := httptest.NewRecorder()

	a.RequireAuth(expectTenant(t, "dev-tenant-id")).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	dir.AssertExpectations(t)
}

func TestRequireAuth_AutoProvisionTenant(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("ByDomain", mock.Anything, "startup.io").
		Return(models.Tenant{}, models.ErrTenantUnknown)
	dir.On("Register", mock.Anything, mock.MatchedBy(func(tenant models.Tenant) bool {
		return tenant.Domain == "startup.io" && tenant.Name == "startup.io"
	})).Return(models.Tenant{ID: "new-tenant-id", Domain: "startup.io"}, nil)

	a := &Auth{apiVerifier: testVerifier(), tenants: dir, autoProvision: true, logger: &NoOpLogger{}}

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken(t, "founder@startup.io"))
	rec := httptest.NewRecorder()

	a.RequireAuth(expectTenant(t, "new-tenant-id")).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Logf("Response Body: %s", rec.Body.String())
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	dir.AssertExpectations(t)
}

func TestRequireAuth_ConcurrentProvisionFallsBackToLookup(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("ByDomain", mock.Anything, "race.io").
		Return(models.Tenant{}, models.ErrTenantUnknown).Once()
	dir.On("Register", mock.Anything, mock.Anything).
		Return(models.Tenant{}, repository.ErrConflict).Once()
	dir.On("ByDomain", mock.Anything, "race.io").
		Return(models.Tenant{ID: "winner", Domain: "race.io"}, nil).Once()

	a := &Auth{apiVerifier: testVerifier(), tenants: dir, autoProvision: true}

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken(t, "dev@race.io"))
	rec := httptest.NewRecorder()

	a.RequireAuth(expectTenant(t, "winner")).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	dir.AssertExpectations(t)
}

func TestRequireAuth_UnknownTenantForbiddenWithoutProvisioning(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("ByDomain", mock.Anything, "stranger.org").
		Return(models.Tenant{}, models.ErrTenantUnknown)

	a := &Auth{apiVerifier: testVerifier(), tenants: dir}

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken(t, "someone@stranger.org"))
	rec := httptest.NewRecorder()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for an unregistered tenant")
	})
	a.RequireAuth(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	dir.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestRequireAuth_RejectsBadCredentials(t *testing.T) {
	a := &Auth{apiVerifier: testVerifier(), tenants: new(MockDirectory)}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	t.Run("malformed bearer", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		a.RequireAuth(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("email without domain", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
		req.Header.Set("Authorization", "Bearer "+fakeToken(t, "nobody"))
		rec := httptest.NewRecorder()
		a.RequireAuth(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("no credentials redirects to login", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
		rec := httptest.NewRecorder()
		a.RequireAuth(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
	})
}

func TestTenantContext(t *testing.T) {
	_, ok := TenantFromContext(context.Background())
	assert.False(t, ok)

	_, ok = TenantFromContext(WithTenant(context.Background(), ""))
	assert.False(t, ok)

	id, ok := TenantFromContext(WithTenant(context.Background(), "acme"))
	assert.True(t, ok)
	assert.Equal(t, "acme", id)
}

func TestNewRequiresCompleteConfig(t *testing.T) {
	cfg := &config.Config{Environment: "PROD"}
	_, err := New(context.Background(), cfg, new(MockDirectory), &NoOpLogger{})
	assert.Error(t, err)
}
