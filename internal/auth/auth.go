package auth

import (
	"context"
	"fmt"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"

	"workgraph/internal/config"
	"workgraph/internal/repository"
	"workgraph/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// TenantDirectory resolves and registers tenants by email domain.
type TenantDirectory interface {
	ByDomain(ctx context.Context, domain string) (models.Tenant, error)
	Register(ctx context.Context, t models.Tenant) (models.Tenant, error)
}

type tenantKey struct{}

// WithTenant returns a context carrying the caller's tenant id.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext returns the tenant id RequireAuth resolved.
func TenantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantKey{}).(string)
	return id, ok && id != ""
}

// Auth contains configuration and helpers for performing OpenID Connect
// authentication with an Okta tenant.
type Auth struct {
	oauth2Config  *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	apiVerifier   *oidc.IDTokenVerifier
	tenants       TenantDirectory
	logger        Logger
	authBypass    bool
	autoProvision bool
	secureCookies bool
}

// New creates a new Auth object using values from the application
// configuration. It establishes a connection to the provider and prepares an
// ID token verifier.
func New(ctx context.Context, cfg *config.Config, tenants TenantDirectory, logger Logger) (*Auth, error) {
	isDev := cfg.IsDev()
	shouldBypass := isDev && cfg.DevModeBypass

	var oauth2Config *oauth2.Config
	var verifier *oidc.IDTokenVerifier
	var apiVerifier *oidc.IDTokenVerifier

	if !shouldBypass {
		if cfg.Auth.OktaDomain == "" || cfg.Auth.ClientID == "" ||
			cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
			return nil, errors.New("auth configuration is incomplete")
		}

		provider, err := oidc.NewProvider(ctx, cfg.Auth.OktaDomain)
		if err != nil {
			return nil, err
		}

		oauth2Config = &oauth2.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.Auth.RedirectURL,
			Scopes:       []string{ScopeOpenID, ScopeProfile, ScopeEmail},
		}

		verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})

		// Create a separate verifier for Access Tokens (Bearer).
		// We skip ClientID check because Access Tokens often have a different audience (e.g. "api://default")
		apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	}

	return &Auth{
		oauth2Config:  oauth2Config,
		verifier:      verifier,
		apiVerifier:   apiVerifier,
		tenants:       tenants,
		logger:        logger,
		authBypass:    shouldBypass,
		autoProvision: cfg.Auth.AutoProvision || shouldBypass,
		secureCookies: cfg.TLS.Enable,
	}, nil
}

const (
	stateCookie   = "oauthstate"
	sessionCookie = "id_token"
)

func (a *Auth) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// LoginHandler starts the authorization code flow. The state value is kept in
// a cookie and checked again on callback.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}
	a.setCookie(w, stateCookie, state, 0)
	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler exchanges the authorization code, verifies the ID token and
// stores it as the session cookie. Sign-in fails early when the caller's
// domain has no tenant.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	q := r.URL.Query()
	if c, err := r.Cookie(stateCookie); err != nil || q.Get("state") != c.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	a.setCookie(w, stateCookie, "", -1)

	token, err := a.oauth2Config.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}
	idToken, err := a.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}
	domain, err := tokenDomain(idToken)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	tenant, status, err := a.tenantFor(r.Context(), domain)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	if a.logger != nil {
		a.logger.Info("user signed in", "tenant_id", tenant.ID, "domain", domain)
	}

	a.setCookie(w, sessionCookie, rawIDToken, 0)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequireAuth authenticates the request with a bearer token or the session
// cookie and attaches the caller's tenant to the request context. Browser
// requests without credentials are sent to /login.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		domain := "localhost" // dev bypass signs everyone in as dev@localhost
		if !a.authBypass {
			token, err := a.verifyRequest(r)
			if errors.Is(err, http.ErrNoCookie) {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			if err != nil {
				http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
				return
			}
			if domain, err = tokenDomain(token); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
		}

		tenant, status, err := a.tenantFor(r.Context(), domain)
		if err != nil {
			http.Error(w, err.Error(), status)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenant.ID)))
	})
}

// verifyRequest checks the Authorization header first (API and Swagger
// clients) and falls back to the session cookie.
func (a *Auth) verifyRequest(r *http.Request) (*oidc.IDToken, error) {
	if raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return a.apiVerifier.Verify(r.Context(), raw)
	}
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, err
	}
	return a.verifier.Verify(r.Context(), c.Value)
}

func tokenDomain(token *oidc.IDToken) (string, error) {
	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil {
		return "", errors.New("failed to parse token claims")
	}
	return emailDomain(claims.Email)
}

func emailDomain(email string) (string, error) {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "", fmt.Errorf("invalid email %q in token", email)
	}
	return strings.ToLower(domain), nil
}

// tenantFor resolves the tenant and maps failures to an HTTP status.
func (a *Auth) tenantFor(ctx context.Context, domain string) (models.Tenant, int, error) {
	tenant, err := a.resolveTenant(ctx, domain)
	switch {
	case errors.Is(err, models.ErrTenantUnknown):
		return tenant, http.StatusForbidden, fmt.Errorf("no tenant is registered for %s", domain)
	case err != nil:
		if a.logger != nil {
			a.logger.Error("failed to resolve tenant", "domain", domain, "error", err)
		}
		return tenant, http.StatusInternalServerError, errors.New("failed to resolve tenant")
	}
	return tenant, http.StatusOK, nil
}

// resolveTenant finds the tenant owning an email domain, registering it first
// when auto-provisioning is on.
func (a *Auth) resolveTenant(ctx context.Context, domain string) (models.Tenant, error) {
	tenant, err := a.tenants.ByDomain(ctx, domain)
	if err == nil || !errors.Is(err, models.ErrTenantUnknown) || !a.autoProvision {
		return tenant, err
	}
	tenant, err = a.tenants.Register(ctx, models.Tenant{Name: domain, Domain: domain})
	if errors.Is(err, repository.ErrConflict) {
		// A concurrent request provisioned it first.
		return a.tenants.ByDomain(ctx, domain)
	}
	if err != nil {
		return models.Tenant{}, err
	}
	if a.logger != nil {
		a.logger.Info("provisioned tenant", "tenant_id", tenant.ID, "domain", domain)
	}
	return tenant, nil
}

// LogoutHandler clears the session cookie.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	a.setCookie(w, sessionCookie, "", -1)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
